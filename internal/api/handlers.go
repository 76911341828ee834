package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/intake"
)

// Read-only operational surface: liveness, status and metrics. The
// interactive control panel lives elsewhere; nothing here mutates state.

type BusProbe interface {
	Connected() bool
}

type VisionProbe interface {
	Alive(ctx context.Context, cfg *config.Config) error
}

type Server struct {
	store  *config.Store
	states *intake.StateMap
	queue  *intake.Queue
	bus    BusProbe
	vision VisionProbe
	log    zerolog.Logger
	start  time.Time
}

func NewServer(store *config.Store, states *intake.StateMap, queue *intake.Queue, bus BusProbe, vision VisionProbe, log zerolog.Logger) *Server {
	return &Server{
		store:  store,
		states: states,
		queue:  queue,
		bus:    bus,
		vision: vision,
		log:    log,
		start:  time.Now(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Bus    string `json:"bus"`
	Vision string `json:"vision"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Bus: "up", Vision: "up"}
	code := http.StatusOK

	if !s.bus.Connected() {
		resp.Bus = "down"
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := s.vision.Alive(r.Context(), s.store.Snapshot()); err != nil {
		resp.Vision = "down"
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, code, resp)
}

type cameraStatus struct {
	Name        string `json:"name"`
	LastAlertAt string `json:"last_alert_at"`
}

type statusResponse struct {
	UptimeSeconds    int64          `json:"uptime_seconds"`
	QueueDepth       int            `json:"queue_depth"`
	ConfigGeneration int            `json:"config_generation"`
	Cameras          []cameraStatus `json:"cameras"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		UptimeSeconds:    int64(time.Since(s.start).Seconds()),
		QueueDepth:       s.queue.Depth(),
		ConfigGeneration: s.store.Generation(),
		Cameras:          []cameraStatus{},
	}
	for _, name := range s.states.Cameras() {
		if at, ok := s.states.LastAlert(name); ok {
			resp.Cameras = append(resp.Cameras, cameraStatus{
				Name:        name,
				LastAlertAt: at.UTC().Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
