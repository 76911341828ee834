package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/sentry-bridge/internal/bus"
	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/history"
	"github.com/technosupport/sentry-bridge/internal/intake"
	"github.com/technosupport/sentry-bridge/internal/scoring"
	"github.com/technosupport/sentry-bridge/internal/vision"
)

type memPublisher struct {
	mu       sync.Mutex
	payloads []bus.AnalysisPayload
}

func (m *memPublisher) Publish(topic string, payload []byte) error {
	var p bus.AnalysisPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	m.mu.Lock()
	m.payloads = append(m.payloads, p)
	m.mu.Unlock()
	return nil
}

type fakeFetcher struct {
	dir string
	err error
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, cfg *config.Config, eventID, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.dir, name+".jpg")
	if err := os.WriteFile(path, []byte("jpegdata"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeFetcher) Stage(cfg *config.Config, src, name string) (string, error) {
	return "./ai-snapshots/" + name + ".jpg", nil
}

type fakePolicy struct{ ctx event.Context }

func (f *fakePolicy) Gather(ctx context.Context, cfg *config.Config, camera string) event.Context {
	return f.ctx
}

type fakeConfirm struct{ called bool }

func (f *fakeConfirm) Run(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, first event.Decision, pctx event.Context) (event.Decision, string) {
	f.called = true
	return first, "Second-pass confirmation: confirmed."
}

type fakeActions struct{ executed []event.Action }

func (f *fakeActions) Execute(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, d event.Decision, media event.MediaPlan, tts string) {
	f.executed = append(f.executed, d.Action)
}

type fakeDeliver struct{ sent int }

func (f *fakeDeliver) Send(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, body, snapshotRel, clipRel string) {
	f.sent++
}

// visionServer fakes the Ollama generate API with a canned reply.
func visionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"response": reply})
	}))
}

type testRig struct {
	pipe    *Pipeline
	pub     *memPublisher
	deliver *fakeDeliver
	actions *fakeActions
	confirm *fakeConfirm
}

func newRig(t *testing.T, visionURL string, pctx event.Context, confirmEnabled bool) *testRig {
	t.Helper()
	dir := t.TempDir()

	doc := fmt.Sprintf(`{
  "bus": {"host": "127.0.0.1", "subscribe_topic": "frigate/events", "publish_topic": "sentry/frigate/analysis"},
  "nvr": {"api": "http://nvr.local:5000", "storage_dir": %q, "workspace_dir": %q},
  "vision": {"endpoint": %q, "model": "test-model"},
  "gateway": {"webhook": "http://gateway.local/hooks/agent", "recipients": ["+1234567890"]},
  "history": {"file": %q},
  "snapshot_delay_seconds": 0,
  "confirm": {"enabled": %t, "delay_seconds": 0, "timeout_seconds": 5}
}`, dir, dir, visionURL, filepath.Join(dir, "history.jsonl"), confirmEnabled)

	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	store, err := config.NewStore(cfgPath, zerolog.Nop())
	require.NoError(t, err)

	pub := &memPublisher{}
	del := &fakeDeliver{}
	act := &fakeActions{}
	conf := &fakeConfirm{}

	memory := history.NewStore(
		func() string { return store.Snapshot().History.File },
		func() int { return store.Snapshot().History.MaxLines },
		zerolog.Nop(),
	)

	pipe := New(Deps{
		Store:   store,
		Queue:   intake.NewQueue(8, zerolog.Nop()),
		Pub:     pub,
		NVR:     &fakeFetcher{dir: dir},
		Vision:  vision.New(zerolog.Nop()),
		Policy:  &fakePolicy{ctx: pctx},
		Scorer:  scoring.New(zerolog.Nop()),
		Confirm: conf,
		Actions: act,
		Deliver: del,
		Memory:  memory,
	}, zerolog.Nop())

	return &testRig{pipe: pipe, pub: pub, deliver: del, actions: act, confirm: conf}
}

func dayContext() event.Context {
	return event.Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "driveway", RecentLastTS: "none"}
}

const lowReply = "A resident walks across the driveway.\n" +
	`JSON: {"risk":"low","type":"known_person","confidence":0.9,"action":"notify_only","reason":"familiar person"}`

// Invariant 1: exactly one pending precedes exactly one final, same event id.
func TestProcess_PendingPrecedesFinal(t *testing.T) {
	srv := visionServer(t, lowReply)
	defer srv.Close()
	rig := newRig(t, srv.URL, dayContext(), false)

	ev := &event.DetectionEvent{ID: "ev-1", Camera: "Cam", Label: "person"}
	rig.pipe.Process(context.Background(), ev)

	require.Len(t, rig.pub.payloads, 2)
	pending, final := rig.pub.payloads[0], rig.pub.payloads[1]

	assert.Contains(t, pending.Analysis, "vision analysis pending")
	assert.Equal(t, "low", pending.Risk)
	assert.Equal(t, "ev-1", pending.EventID)
	assert.Equal(t, "ev-1", final.EventID)
	assert.NotContains(t, final.Analysis, "pending")
}

// Invariant 3: low risk skips chat but still publishes and records.
func TestProcess_LowRiskSkipsChat(t *testing.T) {
	srv := visionServer(t, lowReply)
	defer srv.Close()
	rig := newRig(t, srv.URL, dayContext(), false)

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-2", Camera: "Cam", Label: "person"})

	require.Len(t, rig.pub.payloads, 2)
	assert.Equal(t, "low", rig.pub.payloads[1].Risk)
	assert.Equal(t, 0, rig.deliver.sent)
	assert.Len(t, rig.actions.executed, 1) // policy actions still run
}

func TestProcess_HighRiskDelivers(t *testing.T) {
	reply := "An unknown person is testing the door handle.\n" +
		`JSON: {"risk":"high","type":"unknown_person","confidence":0.8,"action":"notify_and_light","reason":"possible intrusion","behavior":"forcing the door"}`
	srv := visionServer(t, reply)
	defer srv.Close()

	pctx := event.Context{TimeOfDay: "night", HomeMode: "away", CameraZone: "entry", RecentLastTS: "none"}
	rig := newRig(t, srv.URL, pctx, false)

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-3", Camera: "Cam", Label: "person"})

	require.Len(t, rig.pub.payloads, 2)
	final := rig.pub.payloads[1]
	assert.Equal(t, "critical", final.Risk) // rescoring pushes it past high
	assert.Equal(t, 1, rig.deliver.sent)
	assert.True(t, final.MediaClip)
	assert.NotNil(t, final.ClipURL)
	assert.Contains(t, *final.ClipURL, "ev-3/clip.mp4")
}

// S4: prose with no JSON at all still completes via the keyword fallback.
func TestProcess_FallbackDecision(t *testing.T) {
	srv := visionServer(t, "A person is standing near the garage. Nothing else to report.")
	defer srv.Close()
	rig := newRig(t, srv.URL, dayContext(), false)

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-4", Camera: "Cam", Label: "person"})

	require.Len(t, rig.pub.payloads, 2)
	final := rig.pub.payloads[1]
	assert.Equal(t, "unknown_person", final.EventType)
	assert.Contains(t, final.Reason, "no structured JSON")
}

func TestProcess_ConfirmRunsForHighOnly(t *testing.T) {
	reply := "Someone is climbing the fence.\n" +
		`JSON: {"risk":"high","type":"unknown_person","confidence":0.8,"action":"notify_and_light","reason":"climbing","behavior":"climbing the fence"}`
	srv := visionServer(t, reply)
	defer srv.Close()

	pctx := event.Context{TimeOfDay: "night", HomeMode: "away", CameraZone: "entry", RecentLastTS: "none"}
	rig := newRig(t, srv.URL, pctx, true)

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-5", Camera: "Cam", Label: "person"})
	assert.True(t, rig.confirm.called)

	// Low-risk events never reach the confirmation controller.
	srvLow := visionServer(t, lowReply)
	defer srvLow.Close()
	rigLow := newRig(t, srvLow.URL, dayContext(), true)
	rigLow.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-6", Camera: "Cam", Label: "person"})
	assert.False(t, rigLow.confirm.called)
}

func TestProcess_SnapshotFailureIsTerminal(t *testing.T) {
	srv := visionServer(t, lowReply)
	defer srv.Close()
	rig := newRig(t, srv.URL, dayContext(), false)
	rig.pipe.nvr = &fakeFetcher{err: fmt.Errorf("nvr unreachable")}

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-7", Camera: "Cam", Label: "person"})

	// The pending publication stands; no final follows.
	require.Len(t, rig.pub.payloads, 1)
	assert.Contains(t, rig.pub.payloads[0].Analysis, "pending")
	assert.Equal(t, 0, rig.deliver.sent)
}

// Round-trip: a serialized final payload reparses to identical values.
func TestFinalPayloadRoundTrip(t *testing.T) {
	srv := visionServer(t, lowReply)
	defer srv.Close()
	rig := newRig(t, srv.URL, dayContext(), false)

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-8", Camera: "Cam", Label: "person"})
	require.Len(t, rig.pub.payloads, 2)
	final := rig.pub.payloads[1]

	data, err := json.Marshal(final)
	require.NoError(t, err)
	var reparsed bus.AnalysisPayload
	require.NoError(t, json.Unmarshal(data, &reparsed))
	assert.Equal(t, final, reparsed)
}

func TestProcess_WritesHistory(t *testing.T) {
	srv := visionServer(t, lowReply)
	defer srv.Close()
	rig := newRig(t, srv.URL, dayContext(), false)

	rig.pipe.Process(context.Background(), &event.DetectionEvent{ID: "ev-9", Camera: "HistCam", Label: "person"})

	cfg := rig.pipe.store.Snapshot()
	data, err := os.ReadFile(cfg.History.File)
	require.NoError(t, err)
	var rec history.Record
	require.NoError(t, json.Unmarshal([]byte(firstLine(string(data))), &rec))
	assert.Equal(t, "HistCam", rec.Camera)
	assert.Equal(t, "ev-9", rec.EventID)
	assert.Equal(t, "low", rec.Risk)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
