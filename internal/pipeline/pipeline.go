package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/alert"
	"github.com/technosupport/sentry-bridge/internal/bus"
	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/confirm"
	"github.com/technosupport/sentry-bridge/internal/deliver"
	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/frigate"
	"github.com/technosupport/sentry-bridge/internal/history"
	"github.com/technosupport/sentry-bridge/internal/intake"
	"github.com/technosupport/sentry-bridge/internal/metrics"
	"github.com/technosupport/sentry-bridge/internal/vision"
)

// Publisher is the outbound bus surface.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Analyzer is the vision surface the pipeline needs.
type Analyzer interface {
	Analyze(ctx context.Context, cfg *config.Config, req vision.Request) (event.Decision, string, error)
}

// Fetcher is the NVR media surface.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, cfg *config.Config, eventID, name string) (string, error)
	Stage(cfg *config.Config, src, name string) (string, error)
}

// ContextGatherer builds the policy context for one event.
type ContextGatherer interface {
	Gather(ctx context.Context, cfg *config.Config, camera string) event.Context
}

// Scorer settles the decision against the context.
type Scorer interface {
	Score(d event.Decision, ctx event.Context) event.Decision
	EnforceBand(d event.Decision) event.Decision
}

// Confirmer runs the optional second pass.
type Confirmer interface {
	Run(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, first event.Decision, pctx event.Context) (event.Decision, string)
}

// ActionRunner executes the decided side effects.
type ActionRunner interface {
	Execute(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, d event.Decision, media event.MediaPlan, tts string)
}

// Deliverer sends the chat alert.
type Deliverer interface {
	Send(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, body, snapshotRel, clipRel string)
}

// Recorder appends to the event memory.
type Recorder interface {
	Append(rec history.Record) error
}

// Auditor appends to the audit trail.
type Auditor interface {
	Append(actor, action string, detail map[string]interface{}) error
}

// Pipeline runs one goroutine per in-flight detection through the staged
// state machine. Snapshot, vision and scoring failures are terminal for
// the event (the pending publication stands); action, delivery and memory
// failures are logged and skipped.
type Pipeline struct {
	store   *config.Store
	queue   *intake.Queue
	pub     Publisher
	nvr     Fetcher
	vision  Analyzer
	policy  ContextGatherer
	scorer  Scorer
	confirm Confirmer
	actions ActionRunner
	deliver Deliverer
	memory  Recorder
	audit   Auditor

	log zerolog.Logger
	wg  sync.WaitGroup
}

type Deps struct {
	Store   *config.Store
	Queue   *intake.Queue
	Pub     Publisher
	NVR     Fetcher
	Vision  Analyzer
	Policy  ContextGatherer
	Scorer  Scorer
	Confirm Confirmer
	Actions ActionRunner
	Deliver Deliverer
	Memory  Recorder
	Audit   Auditor
}

func New(d Deps, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:   d.Store,
		queue:   d.Queue,
		pub:     d.Pub,
		nvr:     d.NVR,
		vision:  d.Vision,
		policy:  d.Policy,
		scorer:  d.Scorer,
		confirm: d.Confirm,
		actions: d.Actions,
		deliver: d.Deliver,
		memory:  d.Memory,
		audit:   d.Audit,
		log:     log,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				ev, err := p.queue.Pop(ctx)
				if err != nil {
					return
				}
				p.Process(ctx, ev)
			}
		}()
	}
}

// Wait blocks until all workers have drained after context cancellation.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Process runs one detection through the full state machine.
func (p *Pipeline) Process(ctx context.Context, ev *event.DetectionEvent) {
	cfg := p.store.Snapshot() // one immutable snapshot for the whole event
	log := p.log.With().Str("camera", ev.Camera).Str("event_id", ev.ID).Logger()
	log.Info().Msg("person detected, pipeline started")

	pctx := p.gatherContext(ctx, cfg, ev.Camera)

	// Pending publication goes out before any slow work so consumers see
	// the detection immediately. It is never retracted.
	p.publishPending(cfg, ev, pctx, log)

	// SNAPSHOT: give the NVR a moment to finalize the event media.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(cfg.SnapshotDelaySeconds) * time.Second):
	}

	snap, err := p.nvr.FetchSnapshot(ctx, cfg, ev.ID, ev.ID)
	if err != nil {
		log.Error().Err(err).Msg("snapshot stage failed, abandoning event")
		return
	}
	snapshotRel, err := p.nvr.Stage(cfg, snap, ev.ID)
	if err != nil {
		log.Error().Err(err).Msg("staging stage failed, abandoning event")
		return
	}

	// VISION
	decision, prose, err := p.vision.Analyze(ctx, cfg, vision.Request{
		Camera:    ev.Camera,
		EventID:   ev.ID,
		ImagePath: snap,
		MediaRel:  snapshotRel,
		Context:   pctx,
	})
	if err != nil {
		log.Error().Err(err).Msg("vision stage failed, abandoning event")
		return
	}

	// SCORE
	decision = p.scorer.Score(decision, pctx)

	// CONFIRM (high/critical only, when enabled)
	note := ""
	if confirm.Applies(cfg, decision) {
		decision, note = p.confirm.Run(ctx, cfg, ev, decision, pctx)
	}
	decision = p.scorer.EnforceBand(decision)
	metrics.RecordDecision(string(decision.RiskLevel))

	if decision.Behavior == "" {
		decision.Behavior = proseBehavior(prose)
	}

	media := event.MediaFor(decision.RiskLevel)
	tts := alert.Speech(ev.Camera, decision, pctx)

	// ACTION: side effects never block messaging.
	p.actions.Execute(ctx, cfg, ev, decision, media, tts)

	body := alert.Format(alert.Input{
		Event:         ev,
		Decision:      decision,
		Context:       pctx,
		Media:         media,
		ClipAvailable: frigate.HasClip(cfg, ev.ID),
		Note:          note,
	})

	// FINAL_PUBLISHED
	p.publishFinal(cfg, ev, decision, pctx, media, body, tts, snap, log)

	// DELIVER: chat only for medium and above.
	if deliver.ShouldDeliver(cfg, decision.RiskLevel) {
		clipRel := ""
		if media.Clip && frigate.HasClip(cfg, ev.ID) {
			clipRel = frigate.StagedClipRel(ev.ID)
		}
		p.deliver.Send(ctx, cfg, ev, body, snapshotRel, clipRel)
	} else {
		log.Info().Str("risk", string(decision.RiskLevel)).Msg("skipping chat delivery below medium risk")
	}

	// MEMORY_APPEND
	if cfg.Toggles.Memory {
		if err := p.memory.Append(history.Record{
			Timestamp:  time.Now().UTC(),
			Camera:     ev.Camera,
			EventID:    ev.ID,
			Risk:       string(decision.RiskLevel),
			EventType:  string(decision.EventType),
			Confidence: decision.Confidence,
			Action:     string(decision.Action),
		}); err != nil {
			log.Warn().Err(err).Msg("failed writing event history")
		}
	}

	if cfg.Toggles.Audit && p.audit != nil {
		if err := p.audit.Append("bridge", "event_processed", map[string]interface{}{
			"camera":   ev.Camera,
			"event_id": ev.ID,
			"risk":     string(decision.RiskLevel),
			"action":   string(decision.Action),
		}); err != nil {
			log.Warn().Err(err).Msg("failed writing audit record")
		}
	}

	log.Info().
		Str("risk", string(decision.RiskLevel)).
		Int("score", decision.RiskScore).
		Str("action", string(decision.Action)).
		Msg("pipeline done")
}

func (p *Pipeline) gatherContext(ctx context.Context, cfg *config.Config, camera string) event.Context {
	if cfg.Toggles.Policy {
		return p.policy.Gather(ctx, cfg, camera)
	}
	// Policy disabled: neutral context, no scoring adjustments from it.
	return event.Context{
		TimeOfDay:    "unknown",
		HomeMode:     "unknown",
		CameraZone:   cfg.ZoneFor(camera),
		CameraNotes:  cfg.NotesFor(camera),
		RecentLastTS: "none",
		LocalTime:    time.Now(),
	}
}

func (p *Pipeline) publishPending(cfg *config.Config, ev *event.DetectionEvent, pctx event.Context, log zerolog.Logger) {
	payload := bus.AnalysisPayload{
		Camera:          ev.Camera,
		Label:           ev.Label,
		Risk:            string(event.RiskLow),
		Analysis:        "Person detected on " + ev.Camera + " — vision analysis pending.",
		EventType:       string(event.TypeOther),
		Action:          string(event.ActionNotifyOnly),
		SubjectIdentity: "unknown",
		CameraZone:      pctx.CameraZone,
		HomeMode:        pctx.HomeMode,
		TimeOfDay:       pctx.TimeOfDay,
		Timestamp:       time.Now().UTC(),
		EventID:         ev.ID,
	}
	p.publish(cfg, payload, "pending", log)
}

func (p *Pipeline) publishFinal(cfg *config.Config, ev *event.DetectionEvent, d event.Decision, pctx event.Context, media event.MediaPlan, body, tts, snapshotPath string, log zerolog.Logger) {
	var clipURL *string
	if media.Clip {
		u := cfg.NVR.API + "/api/events/" + ev.ID + "/clip.mp4"
		clipURL = &u
	}
	payload := bus.AnalysisPayload{
		Camera:             ev.Camera,
		Label:              ev.Label,
		Risk:               string(d.RiskLevel),
		RiskScore:          d.RiskScore,
		RiskConfidence:     d.Confidence,
		EventType:          string(d.EventType),
		Action:             string(d.Action),
		Reason:             d.Reason,
		Analysis:           body,
		TTS:                tts,
		Behavior:           d.Behavior,
		SubjectIdentity:    d.SubjectIdentity,
		SubjectDescription: d.SubjectDescription,
		CameraZone:         pctx.CameraZone,
		HomeMode:           pctx.HomeMode,
		TimeOfDay:          pctx.TimeOfDay,
		MediaSnapshot:      media.Snapshot,
		MediaClip:          media.Clip,
		ClipURL:            clipURL,
		SnapshotPath:       snapshotPath,
		Timestamp:          time.Now().UTC(),
		EventID:            ev.ID,
	}
	p.publish(cfg, payload, "final", log)
}

func (p *Pipeline) publish(cfg *config.Config, payload bus.AnalysisPayload, kind string, log zerolog.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("marshal analysis payload")
		return
	}
	if err := p.pub.Publish(cfg.Bus.PublishTopic, data); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("bus publish failed")
		return
	}
	metrics.RecordPublish(kind)
}

// proseBehavior distills the model's prose into a behavior summary when
// the structured block omitted one.
func proseBehavior(prose string) string {
	var lines []string
	for _, line := range strings.Split(prose, "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(strings.ToLower(s), "security assessment") {
			continue
		}
		lines = append(lines, s)
		if len(lines) == 5 {
			break
		}
	}
	out := strings.Join(lines, "\n")
	if len(out) > 500 {
		out = out[:497] + "..."
	}
	if out == "" {
		out = "Person detected in view"
	}
	return out
}
