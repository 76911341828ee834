package intake

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/metrics"
)

// Queue is the bounded hand-off between the bus I/O goroutine and the
// pipeline workers. When full it drops the OLDEST waiting event so a
// detection storm degrades to "most recent events win".
type Queue struct {
	mu     sync.Mutex
	items  []*event.DetectionEvent
	max    int
	notify chan struct{}
	log    zerolog.Logger
}

func NewQueue(max int, log zerolog.Logger) *Queue {
	if max <= 0 {
		max = 64
	}
	return &Queue{
		max:    max,
		notify: make(chan struct{}, max),
		log:    log,
	}
}

// Push enqueues an accepted detection, evicting the oldest entry on
// overflow.
func (q *Queue) Push(ev *event.DetectionEvent) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		dropped := q.items[0]
		q.items = q.items[1:]
		metrics.RecordEvent("overflow")
		q.log.Warn().
			Str("camera", dropped.Camera).
			Str("event_id", dropped.ID).
			Int("queue_max", q.max).
			Msg("intake queue overflow, dropped oldest event")
	}
	q.items = append(q.items, ev)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an event is available or the context ends.
func (q *Queue) Pop(ctx context.Context) (*event.DetectionEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			metrics.QueueDepth.Set(float64(depth))
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Depth reports the current backlog for the operational API.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
