package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/technosupport/sentry-bridge/internal/event"
)

func newScorer() *Scorer {
	return New(zerolog.Nop())
}

// S1: known delivery at 11:30, home, entry zone, AI says low/delivery.
// baseline 1 + zone 1 - delivery 2 = 0 -> low, notify_only.
func TestScore_DaytimeDelivery(t *testing.T) {
	s := newScorer()
	d := event.Decision{
		RiskLevel:  event.RiskLow,
		EventType:  event.TypeDelivery,
		Confidence: 0.8,
	}
	ctx := event.Context{
		TimeOfDay:  "day",
		HomeMode:   "home",
		CameraZone: "entry",
	}

	out := s.Score(d, ctx)

	assert.Equal(t, event.RiskLow, out.RiskLevel)
	assert.LessOrEqual(t, out.RiskScore, 2)
	assert.Equal(t, 0, out.RiskScore)
	assert.Equal(t, event.ActionNotifyOnly, out.Action)
}

// S2: unknown person at night, away, terrace, hood up.
// baseline 3 + unknown 2 + night 2 + zone 1 + away 3 + keywords 2 = 13 -> critical.
func TestScore_NightProwler(t *testing.T) {
	s := newScorer()
	d := event.Decision{
		RiskLevel: event.RiskMedium,
		EventType: event.TypeUnknownPerson,
		Behavior:  "approaching door, hood up, looking around",
	}
	ctx := event.Context{
		TimeOfDay:  "night",
		HomeMode:   "away",
		CameraZone: "terrace",
	}

	out := s.Score(d, ctx)

	assert.Equal(t, 13, out.RiskScore)
	assert.Equal(t, event.RiskCritical, out.RiskLevel)
	assert.Equal(t, event.ActionAlarm, out.Action)
}

func TestScore_KnownFacesReduceByFour(t *testing.T) {
	s := newScorer()
	d := event.Decision{RiskLevel: event.RiskHigh, EventType: event.TypeUnknownPerson}
	ctx := event.Context{TimeOfDay: "night", HomeMode: "home", CameraZone: "driveway"}

	without := s.Score(d, ctx)

	ctx.KnownFacesPresent = true
	with := s.Score(d, ctx)

	assert.Equal(t, without.RiskScore-4, with.RiskScore)
}

func TestScore_Idempotent(t *testing.T) {
	s := newScorer()
	d := event.Decision{
		RiskLevel: event.RiskMedium,
		EventType: event.TypeUnknownPerson,
		Behavior:  "loitering near the gate",
	}
	ctx := event.Context{TimeOfDay: "evening", HomeMode: "sleep", CameraZone: "garage"}

	first := s.Score(d, ctx)
	second := s.Score(d, ctx)

	assert.Equal(t, first, second)
}

func TestScore_BandBoundaries(t *testing.T) {
	assert.Equal(t, event.RiskLow, event.Band(2))
	assert.Equal(t, event.RiskMedium, event.Band(3))
	assert.Equal(t, event.RiskMedium, event.Band(4))
	assert.Equal(t, event.RiskHigh, event.Band(5))
	assert.Equal(t, event.RiskHigh, event.Band(6))
	assert.Equal(t, event.RiskCritical, event.Band(7))
	assert.Equal(t, event.RiskCritical, event.Band(12))
	assert.Equal(t, event.RiskLow, event.Band(0))
}

func TestScore_NeverNegative(t *testing.T) {
	s := newScorer()
	d := event.Decision{RiskLevel: event.RiskLow, EventType: event.TypeDelivery, Behavior: "walking away"}
	ctx := event.Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "driveway", KnownFacesPresent: true}

	out := s.Score(d, ctx)

	assert.Equal(t, 0, out.RiskScore)
	assert.Equal(t, event.RiskLow, out.RiskLevel)
}

func TestScore_CalmBehaviorOnlyReduces(t *testing.T) {
	s := newScorer()
	ctx := event.Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "driveway"}

	calm := s.Score(event.Decision{RiskLevel: event.RiskMedium, EventType: event.TypeOther, Behavior: "walking past"}, ctx)
	neutral := s.Score(event.Decision{RiskLevel: event.RiskMedium, EventType: event.TypeOther}, ctx)

	assert.Equal(t, neutral.RiskScore-1, calm.RiskScore)

	// Calm words next to a suspicious match must not reduce.
	mixed := s.Score(event.Decision{RiskLevel: event.RiskMedium, EventType: event.TypeOther, Behavior: "walking then loitering"}, ctx)
	assert.Equal(t, neutral.RiskScore+2, mixed.RiskScore)
}

func TestScore_BehaviorBucketCapped(t *testing.T) {
	s := newScorer()
	ctx := event.Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "driveway"}

	// Multiple hard matches still contribute at most +3.
	d := event.Decision{
		RiskLevel: event.RiskLow,
		EventType: event.TypeOther,
		Behavior:  "forcing the lock, climbing the fence, carrying tools",
	}
	out := s.Score(d, ctx)
	assert.Equal(t, event.Baseline(event.RiskLow)+3, out.RiskScore)
}

func TestScore_StrongerModelActionKeptAtMediumPlus(t *testing.T) {
	s := newScorer()
	// baseline 3 + evening 1 + entry zone 1 = 5 -> high.
	ctx := event.Context{TimeOfDay: "evening", HomeMode: "home", CameraZone: "entry"}

	d := event.Decision{
		RiskLevel: event.RiskMedium,
		EventType: event.TypeOther,
		Action:    event.ActionSpeaker, // stronger than the high default (light)
	}
	out := s.Score(d, ctx)

	assert.Equal(t, event.RiskHigh, out.RiskLevel)
	assert.Equal(t, event.ActionSpeaker, out.Action)
}

func TestScore_ModelActionIgnoredAtLow(t *testing.T) {
	s := newScorer()
	ctx := event.Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "driveway", KnownFacesPresent: true}

	d := event.Decision{
		RiskLevel: event.RiskLow,
		EventType: event.TypeKnownPerson,
		Action:    event.ActionAlarm,
	}
	out := s.Score(d, ctx)

	assert.Equal(t, event.RiskLow, out.RiskLevel)
	assert.Equal(t, event.ActionNotifyOnly, out.Action)
}

func TestEnforceBand_Coerces(t *testing.T) {
	s := newScorer()
	d := event.Decision{RiskLevel: event.RiskCritical, RiskScore: 1}

	out := s.EnforceBand(d)

	assert.Equal(t, event.RiskLow, out.RiskLevel)
	assert.Equal(t, 1, out.RiskScore)
}
