package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/vision"
)

// Snapshotter is the slice of the NVR client the controller needs.
type Snapshotter interface {
	FetchSnapshot(ctx context.Context, cfg *config.Config, eventID, name string) (string, error)
	Stage(cfg *config.Config, src, name string) (string, error)
}

// Analyzer is the slice of the vision client the controller needs.
type Analyzer interface {
	Analyze(ctx context.Context, cfg *config.Config, req vision.Request) (event.Decision, string, error)
}

// Rescorer re-runs the deterministic rules on the second decision.
type Rescorer interface {
	Score(d event.Decision, ctx event.Context) event.Decision
}

// Controller runs the second-pass confirmation for high/critical events:
// wait, fetch a fresh snapshot, re-analyze, and compare bands. Anything
// that goes wrong keeps the original decision.
type Controller struct {
	nvr    Snapshotter
	vision Analyzer
	scorer Rescorer
	log    zerolog.Logger
}

func New(nvr Snapshotter, v Analyzer, scorer Rescorer, log zerolog.Logger) *Controller {
	return &Controller{nvr: nvr, vision: v, scorer: scorer, log: log}
}

// Applies reports whether the confirmation pass should run for a decision.
func Applies(cfg *config.Config, d event.Decision) bool {
	return cfg.Confirm.Enabled && cfg.ConfirmsRisk(string(d.RiskLevel))
}

// Run executes the confirmation protocol and returns the settled decision
// plus a human-readable note for the alert body.
func (c *Controller) Run(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, first event.Decision, pctx event.Context) (event.Decision, string) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Confirm.TimeoutSeconds)*time.Second)
	defer cancel()

	log := c.log.With().Str("camera", ev.Camera).Str("event_id", ev.ID).Logger()
	log.Info().Str("risk", string(first.RiskLevel)).Msg("confirmation pass started")

	select {
	case <-runCtx.Done():
		log.Warn().Msg("confirmation timed out before second snapshot; keeping initial decision")
		return first, "Confirmation unavailable (timeout); keeping initial decision."
	case <-time.After(time.Duration(cfg.Confirm.DelaySeconds) * time.Second):
	}

	confirmName := ev.ID + "-confirm"
	snap, err := c.nvr.FetchSnapshot(runCtx, cfg, ev.ID, confirmName)
	if err != nil {
		log.Warn().Err(err).Msg("confirmation skipped: no second snapshot")
		return first, "Confirmation unavailable (no second snapshot); keeping initial decision."
	}
	rel, err := c.nvr.Stage(cfg, snap, confirmName)
	if err != nil {
		log.Warn().Err(err).Msg("confirmation skipped: staging failed")
		return first, "Confirmation unavailable (staging failed); keeping initial decision."
	}

	second, _, err := c.vision.Analyze(runCtx, cfg, vision.Request{
		Camera:    ev.Camera,
		EventID:   ev.ID,
		ImagePath: snap,
		MediaRel:  rel,
		Context:   pctx,
		Confirm:   true,
		Initial:   &first,
	})
	if err != nil {
		log.Warn().Err(err).Msg("confirmation analysis failed; keeping initial decision")
		return first, "Confirmation unavailable (analysis failed); keeping initial decision."
	}
	second = c.scorer.Score(second, pctx)

	return c.settle(log, first, second)
}

// settle compares bands between the two passes.
//
//	second >= first          keep the original
//	drop of one band         adopt the second decision
//	drop of two+ bands, or   downgrade to medium and mark the reason
//	second says known_person
func (c *Controller) settle(log zerolog.Logger, first, second event.Decision) (event.Decision, string) {
	drop := event.Rank(first.RiskLevel) - event.Rank(second.RiskLevel)

	if second.EventType == event.TypeKnownPerson || drop >= 2 {
		out := first
		out.RiskLevel = event.RiskMedium
		out.RiskScore = event.Baseline(event.RiskMedium)
		out.Action = event.ActionForLevel(event.RiskMedium)
		out.Reason = "confirmation downgrade"
		log.Info().
			Str("first", string(first.RiskLevel)).
			Str("second", string(second.RiskLevel)).
			Msg("confirmation rejected escalation; downgraded to medium")
		return out, fmt.Sprintf("Second-pass confirmation: NOT confirmed (second pass saw %s). Downgraded to medium.", second.EventType)
	}

	if drop == 1 {
		log.Info().
			Str("first", string(first.RiskLevel)).
			Str("second", string(second.RiskLevel)).
			Msg("confirmation lowered risk by one band")
		return second, fmt.Sprintf("Second-pass confirmation: risk lowered to %s.", second.RiskLevel)
	}

	log.Info().Str("risk", string(first.RiskLevel)).Msg("confirmation upheld initial decision")
	return first, "Second-pass confirmation: confirmed."
}
