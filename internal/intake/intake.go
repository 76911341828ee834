package intake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/metrics"
)

// busEvent mirrors the NVR's detection envelope. Only the fields the bridge
// consumes are decoded.
type busEvent struct {
	Type  string `json:"type"`
	After struct {
		ID        string  `json:"id"`
		Camera    string  `json:"camera"`
		Label     string  `json:"label"`
		Score     float64 `json:"score"`
		StartTime float64 `json:"start_time"` // epoch seconds
	} `json:"after"`
}

// Intake decodes bus messages, filters them and enforces the per-camera
// cooldown before queueing work for a pipeline worker.
type Intake struct {
	states *StateMap
	queue  *Queue
	log    zerolog.Logger

	cooldown func() time.Duration
	now      func() time.Time
}

// New builds an intake stage. cooldown is read per message so a config
// reload takes effect without restart.
func New(states *StateMap, queue *Queue, cooldown func() time.Duration, log zerolog.Logger) *Intake {
	return &Intake{
		states:   states,
		queue:    queue,
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
	}
}

// HandleMessage is the bus subscription callback. Malformed messages are
// logged and skipped; they never block the pipeline.
func (in *Intake) HandleMessage(payload []byte) {
	ev, err := decode(payload)
	if err != nil {
		metrics.RecordEvent("malformed")
		in.log.Debug().Err(err).Msg("dropping malformed bus message")
		return
	}
	if ev == nil {
		metrics.RecordEvent("filtered")
		return
	}

	if !in.states.TryAccept(ev.Camera, in.now(), in.cooldown()) {
		metrics.RecordEvent("cooldown")
		in.log.Info().Str("camera", ev.Camera).Str("event_id", ev.ID).Msg("skipping event, cooldown active")
		return
	}

	metrics.RecordEvent("accepted")
	in.queue.Push(ev)
}

// decode returns nil (no error) for messages the bridge ignores: non-"new"
// updates and labels other than person.
func decode(payload []byte) (*event.DetectionEvent, error) {
	var raw busEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode detection: %w", err)
	}
	if raw.Type != "new" {
		return nil, nil
	}
	if raw.After.Label != "person" {
		return nil, nil
	}
	if raw.After.ID == "" {
		return nil, fmt.Errorf("detection without event id")
	}

	camera := raw.After.Camera
	if camera == "" {
		camera = "unknown"
	}

	start := time.Time{}
	if raw.After.StartTime > 0 {
		sec := int64(raw.After.StartTime)
		nsec := int64((raw.After.StartTime - float64(sec)) * 1e9)
		start = time.Unix(sec, nsec).UTC()
	}

	return &event.DetectionEvent{
		ID:        raw.After.ID,
		Camera:    camera,
		Label:     raw.After.Label,
		Score:     raw.After.Score,
		StartTime: start,
	}, nil
}
