package actions

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/metrics"
	"github.com/technosupport/sentry-bridge/internal/policy"
)

// ServiceCaller is the hub call surface, extracted for tests.
type ServiceCaller interface {
	Call(ctx context.Context, cfg *config.Config, domain, service string, data map[string]interface{}) error
}

// ClipSaver is the NVR retention surface.
type ClipSaver interface {
	Retain(ctx context.Context, cfg *config.Config, eventID string) error
	FetchClip(ctx context.Context, cfg *config.Config, eventID string) (string, error)
}

// Executor translates a decision into allowlisted smart-home calls.
// Safety rules:
//   - low risk is always forced to notify_only
//   - actions outside the allowlist downgrade silently to notify_only
//   - quiet hours suppress speaker and alarm audio unless critical
//   - any failed call is logged and the pipeline continues
type Executor struct {
	hub ServiceCaller
	nvr ClipSaver
	log zerolog.Logger
	now func() time.Time
}

func NewExecutor(hub ServiceCaller, nvr ClipSaver, log zerolog.Logger) *Executor {
	return &Executor{hub: hub, nvr: nvr, log: log, now: time.Now}
}

// Execute runs the side effects for one final decision.
func (e *Executor) Execute(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, d event.Decision, media event.MediaPlan, tts string) {
	action := d.Action
	if d.RiskLevel == event.RiskLow {
		action = event.ActionNotifyOnly
	}
	if !event.AllowedActions[action] {
		e.log.Warn().Str("action", string(action)).Msg("action not in allowlist, forcing notify_only")
		action = event.ActionNotifyOnly
	}

	log := e.log.With().Str("camera", ev.Camera).Str("event_id", ev.ID).Str("action", string(action)).Logger()
	log.Info().Str("risk", string(d.RiskLevel)).Msg("executing action")

	// The media plan drives clip retention independently of the action
	// strength: a medium decision with notify_and_save_clip and a high one
	// with notify_and_light both retain the clip.
	if media.Clip {
		e.saveClip(ctx, cfg, ev, log)
	}

	switch action {
	case event.ActionNotifyOnly, event.ActionSaveClip:
		// Notification went out on the bus already; clip handled above.
		metrics.RecordAction(string(action), "ok")

	case event.ActionLight:
		e.lights(ctx, cfg, ev.Camera, log)

	case event.ActionSpeaker:
		e.speaker(ctx, cfg, d, tts, log)

	case event.ActionAlarm:
		e.lights(ctx, cfg, ev.Camera, log)
		if policy.InQuietHours(e.now(), cfg) && d.RiskLevel != event.RiskCritical {
			metrics.RecordAction(string(action), "skipped")
			log.Info().Str("risk", string(d.RiskLevel)).Msg("suppressing siren during quiet hours")
		} else if err := e.hub.Call(ctx, cfg, "switch", "turn_on", map[string]interface{}{
			"entity_id": cfg.AlarmEntity,
		}); err != nil {
			metrics.RecordAction(string(action), "fail")
			log.Error().Err(err).Msg("failed to activate alarm")
		} else {
			metrics.RecordAction(string(action), "ok")
		}
		e.speaker(ctx, cfg, d, tts, log)
	}
}

func (e *Executor) saveClip(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, log zerolog.Logger) {
	if err := e.nvr.Retain(ctx, cfg, ev.ID); err != nil {
		log.Warn().Err(err).Msg("clip retention failed")
	}
	if _, err := e.nvr.FetchClip(ctx, cfg, ev.ID); err != nil {
		metrics.RecordAction("save_clip", "fail")
		log.Warn().Err(err).Msg("clip download failed")
		return
	}
	metrics.RecordAction("save_clip", "ok")
}

func (e *Executor) lights(ctx context.Context, cfg *config.Config, camera string, log zerolog.Logger) {
	ok := true
	for _, entity := range cfg.LightsFor(camera) {
		if err := e.hub.Call(ctx, cfg, "light", "turn_on", map[string]interface{}{
			"entity_id":      entity,
			"brightness_pct": 100,
		}); err != nil {
			ok = false
			log.Error().Err(err).Str("entity", entity).Msg("failed to turn on zone light")
		}
	}
	if ok {
		metrics.RecordAction("light", "ok")
	} else {
		metrics.RecordAction("light", "fail")
	}
}

func (e *Executor) speaker(ctx context.Context, cfg *config.Config, d event.Decision, tts string, log zerolog.Logger) {
	if policy.InQuietHours(e.now(), cfg) && d.RiskLevel != event.RiskCritical {
		metrics.RecordAction("speaker", "skipped")
		log.Info().Str("risk", string(d.RiskLevel)).Msg("suppressing speaker during quiet hours")
		return
	}
	if len(cfg.SpeakerEntities) == 0 {
		return
	}
	if err := e.hub.Call(ctx, cfg, "media_player", "play_media", map[string]interface{}{
		"entity_id":          cfg.SpeakerEntities,
		"media_content_type": "tts",
		"media_content_id":   tts,
	}); err != nil {
		metrics.RecordAction("speaker", "fail")
		log.Error().Err(err).Msg("failed to announce on speakers")
		return
	}
	metrics.RecordAction("speaker", "ok")
}
