package alert

import (
	"fmt"
	"strings"

	"github.com/technosupport/sentry-bridge/internal/event"
)

var severityWord = map[event.RiskLevel]string{
	event.RiskLow:      "low priority.",
	event.RiskMedium:   "medium priority. Please review.",
	event.RiskHigh:     "high priority. Attention required.",
	event.RiskCritical: "critical. Immediate attention required.",
}

// Speech builds the short spoken briefing: camera, severity, subject and
// zone, the first sentence of the behavior, the reason and, for medium and
// above, the actions taken. Each piece is its own short sentence; the
// result is not limited to two sentences.
func Speech(camera string, d event.Decision, ctx event.Context) string {
	subject := d.SubjectDescription
	if subject == "" {
		subject = strings.ReplaceAll(string(d.EventType), "_", " ")
	}
	zone := strings.ReplaceAll(ctx.CameraZone, "-", " ")

	parts := []string{
		fmt.Sprintf("Security alert from %s.", camera),
		fmt.Sprintf("Severity: %s", severityWord[d.RiskLevel]),
		fmt.Sprintf("%s detected in %s area.", subject, zone),
	}

	if d.Behavior != "" {
		first := strings.TrimSpace(strings.SplitN(d.Behavior, ".", 2)[0])
		if first != "" && len(first) < 120 {
			parts = append(parts, first+".")
		}
	}
	if d.Reason != "" && len(d.Reason) < 100 {
		parts = append(parts, fmt.Sprintf("Risk assessment: %s.", d.Reason))
	}

	if event.Rank(d.RiskLevel) >= event.Rank(event.RiskMedium) {
		action := string(d.Action)
		if strings.Contains(action, "clip") {
			parts = append(parts, "Clip has been saved.")
		}
		if strings.Contains(action, "light") {
			parts = append(parts, "Lights have been turned on.")
		}
		if strings.Contains(action, "alarm") {
			parts = append(parts, "Alarm has been activated.")
		}
	}

	return strings.Join(parts, " ")
}
