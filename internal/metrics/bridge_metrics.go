package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge pipeline metrics.
// All metrics are low-cardinality (no event_id labels; camera only where bounded).

var (
	// EventsSeenTotal counts raw bus messages by disposition
	EventsSeenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_seen_total",
			Help: "Inbound bus messages by disposition",
		},
		[]string{"disposition"}, // accepted / filtered / cooldown / malformed / overflow
	)

	// VisionLatency tracks vision call latency
	VisionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_vision_latency_ms",
			Help:    "Vision analysis latency in milliseconds",
			Buckets: []float64{250, 500, 1000, 2000, 5000, 15000, 30000, 60000},
		},
		[]string{"endpoint"}, // primary / fallback
	)

	// VisionParseTotal counts which extraction strategy produced the decision
	VisionParseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_vision_parse_total",
			Help: "Decision JSON extraction outcomes by strategy",
		},
		[]string{"strategy"}, // prefix / fence / balanced / embedded / fallback
	)

	// DecisionsTotal counts final decisions per risk band
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_decisions_total",
			Help: "Final decisions by risk band",
		},
		[]string{"risk"},
	)

	// ActionsTotal counts executed smart-home calls
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_actions_total",
			Help: "Smart-home service calls by action and result",
		},
		[]string{"action", "result"}, // ok / fail / skipped
	)

	// DeliveriesTotal counts chat deliveries
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_deliveries_total",
			Help: "Chat alert deliveries by result",
		},
		[]string{"result"},
	)

	// PublishesTotal counts bus publications
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_publishes_total",
			Help: "Bus publications by kind",
		},
		[]string{"kind"}, // pending / final
	)

	// QueueDepth is the current intake queue depth
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Detections waiting for a pipeline worker",
		},
	)

	// ConfigReloadsTotal counts config reload attempts
	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_config_reloads_total",
			Help: "Runtime config reloads by result",
		},
		[]string{"result"}, // ok / invalid
	)
)

// Helper functions for metrics recording

func RecordEvent(disposition string) {
	EventsSeenTotal.WithLabelValues(disposition).Inc()
}

func RecordVisionLatency(endpoint string, ms float64) {
	VisionLatency.WithLabelValues(endpoint).Observe(ms)
}

func RecordParse(strategy string) {
	VisionParseTotal.WithLabelValues(strategy).Inc()
}

func RecordDecision(risk string) {
	DecisionsTotal.WithLabelValues(risk).Inc()
}

func RecordAction(action, result string) {
	ActionsTotal.WithLabelValues(action, result).Inc()
}

func RecordDelivery(result string) {
	DeliveriesTotal.WithLabelValues(result).Inc()
}

func RecordPublish(kind string) {
	PublishesTotal.WithLabelValues(kind).Inc()
}
