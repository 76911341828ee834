package vision

import (
	"strings"

	"github.com/technosupport/sentry-bridge/internal/event"
)

var (
	deliveryWords = []string{"delivery", "package", "courier", "parcel"}
	suspectWords  = []string{"loiter", "linger", "concealment", "mask", "hood up"}
)

// FallbackDecision derives a decision from the prose when none of the JSON
// strategies produced one. A parse failure must never reach downstream
// components, so this always returns something valid.
func FallbackDecision(analysis string) event.Decision {
	low := strings.ToLower(analysis)

	d := event.Decision{
		RiskLevel:       event.RiskLow,
		EventType:       event.TypeUnknownPerson,
		Action:          event.ActionNotifyOnly,
		Confidence:      0.4,
		SubjectIdentity: "unknown",
		Reason:          "extracted from AI text (no structured JSON)",
	}
	if strings.TrimSpace(analysis) == "" {
		d.Reason = "AI decision unavailable"
		return d
	}

	switch {
	case containsAny(low, deliveryWords):
		d.EventType = event.TypeDelivery
		d.RiskLevel = event.RiskMedium
		d.Confidence = 0.6
		d.Action = event.ActionSaveClip
	case containsAny(low, suspectWords):
		d.EventType = event.TypeUnknownPerson
		d.RiskLevel = event.RiskHigh
		d.Confidence = 0.6
		d.Action = event.ActionLight
	}
	return d
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
