package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/technosupport/sentry-bridge/internal/event"
)

// Structured chat alert. The eight sections are fixed and always present;
// empty content renders a placeholder so the layout never collapses.

const placeholder = "n/a"

var severityGlyph = map[event.RiskLevel]string{
	event.RiskLow:      "\U0001F7E2", // green circle
	event.RiskMedium:   "\U0001F7E1", // yellow circle
	event.RiskHigh:     "\U0001F7E0", // orange circle
	event.RiskCritical: "\U0001F534", // red circle
}

var actionLines = map[event.Action]string{
	event.ActionNotifyOnly: "\U0001F514 Owner notified",
	event.ActionSaveClip:   "\U0001F514 Owner notified\n\U0001F4BE Clip saved",
	event.ActionLight:      "\U0001F514 Owner notified\n\U0001F4BE Clip saved\n\U0001F4A1 Lights activated",
	event.ActionSpeaker:    "\U0001F514 Owner notified\n\U0001F4BE Clip saved\n\U0001F50A Speaker announcement",
	event.ActionAlarm:      "\U0001F6A8 ALARM ACTIVATED\n\U0001F4A1 All lights ON\n\U0001F50A Speakers active\n\U0001F4BE Clip saved",
}

// Input bundles everything the formatter needs for one alert.
type Input struct {
	Event         *event.DetectionEvent
	Decision      event.Decision
	Context       event.Context
	Media         event.MediaPlan
	ClipAvailable bool
	Note          string // confirmation note, may be empty
}

// Format builds the full structured chat body.
func Format(in Input) string {
	d := in.Decision
	riskUpper := strings.ToUpper(string(d.RiskLevel))
	glyph := severityGlyph[d.RiskLevel]
	if glyph == "" {
		glyph = "❓"
	}

	now := in.Context.LocalTime
	if now.IsZero() {
		now = time.Now()
	}

	identity := titleCase(orPlaceholder(d.SubjectIdentity))
	subjectDesc := d.SubjectDescription
	if subjectDesc == "" {
		subjectDesc = titleCase(strings.ReplaceAll(string(d.EventType), "_", " "))
	}

	behavior := strings.TrimSpace(d.Behavior)
	if behavior == "" {
		behavior = "Person detected in view"
	}
	if len(behavior) > 500 {
		behavior = behavior[:497] + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F6A8 *AI SECURITY ALERT*\n")
	fmt.Fprintf(&b, "Severity: %s *%s*\n\n", glyph, riskUpper)

	fmt.Fprintf(&b, "\U0001F4CD *EVENT*\n")
	fmt.Fprintf(&b, "Location: %s\n", orPlaceholder(in.Event.Camera))
	fmt.Fprintf(&b, "Zone: %s\n", titleCase(orPlaceholder(in.Context.CameraZone)))
	fmt.Fprintf(&b, "Time: %s • %s\n", now.Format("15:04:05"), now.Format("02 Jan 2006"))
	fmt.Fprintf(&b, "Event: `%s`\n\n", truncate(in.Event.ID, 35))

	fmt.Fprintf(&b, "\U0001F464 *SUBJECT*\n")
	fmt.Fprintf(&b, "Identity: %s\n", identity)
	fmt.Fprintf(&b, "%s\n\n", orPlaceholder(subjectDesc))

	fmt.Fprintf(&b, "\U0001F3AF *BEHAVIOR OBSERVED*\n")
	fmt.Fprintf(&b, "%s\n\n", behavior)

	fmt.Fprintf(&b, "\U0001F9E0 *RISK ASSESSMENT*\n")
	fmt.Fprintf(&b, "Threat: %s\n", riskUpper)
	fmt.Fprintf(&b, "Confidence: %.2f\n", d.Confidence)
	fmt.Fprintf(&b, "Reason: _%s_\n\n", orPlaceholder(d.Reason))

	fmt.Fprintf(&b, "\U0001F4CD *CONTEXT*\n")
	fmt.Fprintf(&b, "Building: %s\n", buildingStatus(in.Context.HomeMode))
	fmt.Fprintf(&b, "Expected: %s\n", expectedActivity(in.Context.HomeMode))
	fmt.Fprintf(&b, "Known faces: %s", yesNo(in.Context.KnownFacesPresent))
	if in.Context.RecentEvents > 0 {
		fmt.Fprintf(&b, "\nRecent: %d events in window", in.Context.RecentEvents)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "⚡ *SYSTEM ACTION*\n")
	if line, ok := actionLines[d.Action]; ok {
		b.WriteString(line)
	} else {
		b.WriteString(titleCase(strings.ReplaceAll(string(d.Action), "_", " ")))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "\U0001F4CE *MEDIA*\n")
	b.WriteString("✅ Snapshot attached\n")
	switch {
	case in.Media.Clip && in.ClipAvailable:
		fmt.Fprintf(&b, "✅ %ds clip attached", in.Media.ClipLength)
	case in.Media.Clip:
		fmt.Fprintf(&b, "\U0001F4BE %ds clip saving...", in.Media.ClipLength)
	default:
		b.WriteString("❌ No clip needed")
	}
	if in.Media.Monitoring {
		b.WriteString("\n\U0001F4F9 Continued monitoring active")
	}

	b.WriteString(escalation(d.RiskLevel))

	if in.Note != "" {
		fmt.Fprintf(&b, "\n\n%s", in.Note)
	}

	return b.String()
}

// escalation renders the ESCALATION section for each band.
func escalation(level event.RiskLevel) string {
	switch level {
	case event.RiskMedium:
		return "\n\n⚠️ *ESCALATION CONDITIONS*\n" +
			"Will upgrade to HIGH if:\n" +
			"• Subject remains > 60 sec\n" +
			"• Forced entry attempt detected\n" +
			"• Additional persons appear"
	case event.RiskHigh:
		return "\n\n⚠️ *ESCALATION CONDITIONS*\n" +
			"Will upgrade to CRITICAL if:\n" +
			"• Break-in attempt detected\n" +
			"• Weapon or tool observed\n" +
			"• Multiple intruders confirmed"
	case event.RiskCritical:
		return "\n\n\U0001F6A8 *IMMEDIATE RESPONSE*\n" +
			"• Alarm siren active\n" +
			"• All lights ON\n" +
			"• Evidence being recorded\n" +
			"• Consider calling authorities"
	default:
		return "\n\nℹ️ *ESCALATION CONDITIONS*\n" +
			"• None; routine activity"
	}
}

func buildingStatus(homeMode string) string {
	switch strings.ToLower(homeMode) {
	case "away":
		return "Unoccupied"
	case "sleep":
		return "Occupied (sleeping)"
	case "guest":
		return "Occupied (guests)"
	default:
		return "Occupied"
	}
}

func expectedActivity(homeMode string) string {
	switch strings.ToLower(homeMode) {
	case "away", "sleep":
		return "None"
	case "guest":
		return "Possible visitor movement"
	default:
		return "Normal household activity"
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// titleCase uppercases the first letter of each word. strings.Title is
// deprecated and the chat surface only needs ASCII labels.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 && w[0] >= 'a' && w[0] <= 'z' {
			words[i] = string(w[0]-32) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
