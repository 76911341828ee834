package policy

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/event"
)

// Recent exposes the event-memory queries the policy engine needs.
type Recent interface {
	CountSince(camera string, window time.Duration) int
	Summary(camera string, window time.Duration) (summary, lastTS string)
}

// Engine gathers the per-event policy context: time-of-day band, hub
// states, camera zone and notes, and recent-event density.
type Engine struct {
	hub    *HubClient
	recent Recent
	log    zerolog.Logger
	now    func() time.Time
}

func NewEngine(hub *HubClient, recent Recent, log zerolog.Logger) *Engine {
	return &Engine{hub: hub, recent: recent, log: log, now: time.Now}
}

// Gather builds the Context for one event. Every lookup has a safe
// default: an unreachable hub yields home/false rather than an error.
func (e *Engine) Gather(ctx context.Context, cfg *config.Config, camera string) event.Context {
	now := e.now()

	homeMode := "home"
	if v, ok := e.hub.State(ctx, cfg, cfg.Hub.HomeModeEntity); ok && v != "" {
		homeMode = strings.ToLower(v)
	}

	knownFaces := false
	if v, ok := e.hub.State(ctx, cfg, cfg.Hub.KnownFacesEntity); ok {
		switch strings.ToLower(v) {
		case "on", "true", "home", "detected":
			knownFaces = true
		}
	}

	window := time.Duration(cfg.RecentWindowSeconds) * time.Second
	count := 0
	lastTS := "none"
	summary := ""
	if e.recent != nil && cfg.Toggles.Memory {
		count = e.recent.CountSince(camera, window)
		summary, lastTS = e.recent.Summary(camera, time.Duration(cfg.History.WindowSeconds)*time.Second)
	}

	return event.Context{
		TimeOfDay:         TimeOfDay(now, cfg),
		HomeMode:          homeMode,
		KnownFacesPresent: knownFaces,
		CameraZone:        cfg.ZoneFor(camera),
		CameraNotes:       cfg.NotesFor(camera),
		RecentEvents:      count,
		RecentLastTS:      lastTS,
		RecentSummary:     summary,
		LocalTime:         now,
	}
}

// TimeOfDay buckets a local instant against the configured hour bands.
func TimeOfDay(t time.Time, cfg *config.Config) string {
	h := t.Hour()
	if h >= cfg.DayStartHour && h < cfg.EveningStartHour {
		return "day"
	}
	if h >= cfg.EveningStartHour && h < cfg.NightStartHour {
		return "evening"
	}
	return "night"
}

// InQuietHours reports whether audible actions are suppressed at t.
// The window may wrap midnight (e.g. 23 -> 6).
func InQuietHours(t time.Time, cfg *config.Config) bool {
	h := t.Hour()
	start, end := cfg.QuietHoursStart, cfg.QuietHoursEnd
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}
