package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the process-wide zerolog defaults: JSON records on
// stdout with RFC-3339 timestamps.
func Setup(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// ForComponent returns a child logger tagged with the component name.
func ForComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// WithCamera tags a logger with camera context.
func WithCamera(base zerolog.Logger, camera string) zerolog.Logger {
	return base.With().Str("camera", camera).Logger()
}

// WithEvent tags a logger with the detection event id.
func WithEvent(base zerolog.Logger, eventID string) zerolog.Logger {
	return base.With().Str("event_id", eventID).Logger()
}
