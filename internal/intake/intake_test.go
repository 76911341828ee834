package intake

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIntake(t *testing.T, cooldown time.Duration) (*Intake, *Queue) {
	t.Helper()
	queue := NewQueue(8, zerolog.Nop())
	in := New(NewStateMap(), queue, func() time.Duration { return cooldown }, zerolog.Nop())
	return in, queue
}

func popNow(t *testing.T, q *Queue) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Pop(ctx)
	require.NoError(t, err)
	return ev.ID
}

func TestHandleMessage_AcceptsNewPerson(t *testing.T) {
	in, q := testIntake(t, 30*time.Second)

	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-1","camera":"GarageCam","label":"person","score":0.91,"start_time":1714760000.25}}`))

	assert.Equal(t, 1, q.Depth())
	assert.Equal(t, "ev-1", popNow(t, q))
}

func TestHandleMessage_FiltersUpdatesAndLabels(t *testing.T) {
	in, q := testIntake(t, 30*time.Second)

	in.HandleMessage([]byte(`{"type":"update","after":{"id":"ev-2","camera":"GarageCam","label":"person"}}`))
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-3","camera":"GarageCam","label":"car"}}`))
	in.HandleMessage([]byte(`not json at all`))

	assert.Equal(t, 0, q.Depth())
}

// S3: two detections 5s apart on the same camera with a 30s cooldown. The
// second is dropped before any pipeline work.
func TestHandleMessage_Cooldown(t *testing.T) {
	in, q := testIntake(t, 30*time.Second)
	base := time.Now()
	in.now = func() time.Time { return base }

	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-a","camera":"TerraceCam","label":"person"}}`))

	in.now = func() time.Time { return base.Add(5 * time.Second) }
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-b","camera":"TerraceCam","label":"person"}}`))

	require.Equal(t, 1, q.Depth())
	assert.Equal(t, "ev-a", popNow(t, q))
}

// A duplicate bus message with the same event id inside the cooldown is a
// no-op.
func TestHandleMessage_DuplicateWithinCooldown(t *testing.T) {
	in, q := testIntake(t, 30*time.Second)
	base := time.Now()
	in.now = func() time.Time { return base }

	msg := []byte(`{"type":"new","after":{"id":"ev-dup","camera":"TopStairCam","label":"person"}}`)
	in.HandleMessage(msg)
	in.now = func() time.Time { return base.Add(time.Second) }
	in.HandleMessage(msg)

	assert.Equal(t, 1, q.Depth())
}

func TestHandleMessage_CooldownExpires(t *testing.T) {
	in, q := testIntake(t, 30*time.Second)
	base := time.Now()
	in.now = func() time.Time { return base }

	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-1","camera":"Cam","label":"person"}}`))
	in.now = func() time.Time { return base.Add(31 * time.Second) }
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-2","camera":"Cam","label":"person"}}`))

	assert.Equal(t, 2, q.Depth())
}

func TestHandleMessage_CamerasIndependent(t *testing.T) {
	in, q := testIntake(t, 30*time.Second)

	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-x","camera":"CamA","label":"person"}}`))
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"ev-y","camera":"CamB","label":"person"}}`))

	assert.Equal(t, 2, q.Depth())
}

func TestRejectedEventDoesNotAdvanceCooldown(t *testing.T) {
	states := NewStateMap()
	base := time.Now()

	require.True(t, states.TryAccept("Cam", base, 30*time.Second))
	require.False(t, states.TryAccept("Cam", base.Add(10*time.Second), 30*time.Second))
	// If the rejection had advanced the clock, this would still be blocked.
	assert.True(t, states.TryAccept("Cam", base.Add(31*time.Second), 30*time.Second))
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	q := NewQueue(2, zerolog.Nop())

	in := New(NewStateMap(), q, func() time.Duration { return 0 }, zerolog.Nop())
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"old","camera":"A","label":"person"}}`))
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"mid","camera":"B","label":"person"}}`))
	in.HandleMessage([]byte(`{"type":"new","after":{"id":"new","camera":"C","label":"person"}}`))

	require.Equal(t, 2, q.Depth())
	assert.Equal(t, "mid", popNow(t, q))
	assert.Equal(t, "new", popNow(t, q))
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := NewQueue(2, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.Error(t, err)
}
