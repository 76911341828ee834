package scoring

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/event"
)

// Deterministic severity rescoring. The AI's proposed band seeds the
// baseline so the rules adjust its judgment rather than replace it; the
// adjustments themselves are fixed and auditable.

// Behavior keyword tiers. A hard match is worth +3, a soft match +2; the
// bucket contributes at most +3 in total.
var (
	hardBehavior = []string{"forcing", "climbing", "tool", "breaking", "conceal"}
	softBehavior = []string{"loiter", "linger", "hood up", "looking around", "crouching", "hiding", "reaching", "suspicious"}
	calmBehavior = []string{"walking", "standing", "passing"}
)

var sensitiveZones = []string{"entry", "garage", "terrace", "door"}

type Scorer struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Scorer {
	return &Scorer{log: log}
}

// Score applies the rule table to a sanitized decision and returns the
// decision with risk_score, risk_level and action settled. Running it
// twice on the same inputs yields the same result.
func (s *Scorer) Score(d event.Decision, ctx event.Context) event.Decision {
	score := event.Baseline(d.RiskLevel)

	if d.EventType == event.TypeUnknownPerson {
		score += 2
	}

	switch ctx.TimeOfDay {
	case "evening":
		score += 1
	case "night":
		score += 2
	}

	zone := strings.ToLower(ctx.CameraZone)
	for _, z := range sensitiveZones {
		if strings.Contains(zone, z) {
			score += 1
			break
		}
	}

	switch ctx.HomeMode {
	case "away":
		score += 3
	case "sleep":
		score += 2
	}

	behavior := strings.ToLower(d.Behavior)
	suspicious := behaviorBonus(behavior)
	score += suspicious

	if ctx.KnownFacesPresent {
		score -= 4
	}
	if d.EventType == event.TypeDelivery {
		score -= 2
	}
	if suspicious == 0 && containsAny(behavior, calmBehavior) {
		score -= 1
	}

	if score < 0 {
		score = 0
	}

	d.RiskScore = score
	d.RiskLevel = event.Band(score)
	d.Action = deriveAction(d)
	return d
}

// behaviorBonus scores the suspicious-keyword bucket: +3 for a hard match,
// +2 for a soft match, capped at +3.
func behaviorBonus(behavior string) int {
	if behavior == "" {
		return 0
	}
	if containsAny(behavior, hardBehavior) {
		return 3
	}
	if containsAny(behavior, softBehavior) {
		return 2
	}
	return 0
}

// deriveAction maps the settled band to its default action, keeping a
// stronger model-requested action only when the band is medium or above.
func deriveAction(d event.Decision) event.Action {
	derived := event.ActionForLevel(d.RiskLevel)
	if event.Rank(d.RiskLevel) >= event.Rank(event.RiskMedium) &&
		event.ActionRank(d.Action) > event.ActionRank(derived) {
		return d.Action
	}
	return derived
}

// EnforceBand restores the level/score invariant after any late mutation.
// The score is authoritative.
func (s *Scorer) EnforceBand(d event.Decision) event.Decision {
	want := event.Band(d.RiskScore)
	if d.RiskLevel != want {
		s.log.Warn().
			Str("level", string(d.RiskLevel)).
			Int("score", d.RiskScore).
			Msg("risk level inconsistent with score, coercing to band")
		d.RiskLevel = want
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
