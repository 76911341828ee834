package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrail(t *testing.T) (*Trail, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	tr := NewTrail(func() string { return path }, func() string { return "test-key" }, zerolog.Nop())
	return tr, path
}

func TestAppendAndVerify(t *testing.T) {
	tr, _ := testTrail(t)

	require.NoError(t, tr.Append("bridge", "startup", nil))
	require.NoError(t, tr.Append("bridge", "event_processed", map[string]interface{}{"camera": "CamA", "risk": "high"}))
	require.NoError(t, tr.Append("bridge", "config_reload", nil))

	checked, unsigned, err := tr.Verify()
	require.NoError(t, err)
	assert.Equal(t, 3, checked)
	assert.Equal(t, 0, unsigned)
}

func TestVerify_DetectsTampering(t *testing.T) {
	tr, path := testTrail(t)
	require.NoError(t, tr.Append("bridge", "startup", nil))
	require.NoError(t, tr.Append("bridge", "event_processed", map[string]interface{}{"risk": "low"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"risk":"low"`, `"risk":"critical"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, _, err = tr.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVerify_DetectsDeletedRecord(t *testing.T) {
	tr, path := testTrail(t)
	require.NoError(t, tr.Append("bridge", "one", nil))
	require.NoError(t, tr.Append("bridge", "two", nil))
	require.NoError(t, tr.Append("bridge", "three", nil))

	data, _ := os.ReadFile(path)
	lines := strings.SplitN(string(data), "\n", 3)
	// Drop the middle record.
	require.NoError(t, os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]), 0o644))

	_, _, err := tr.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain break")
}

func TestChainResumesAcrossRestart(t *testing.T) {
	tr, path := testTrail(t)
	require.NoError(t, tr.Append("bridge", "one", nil))

	// New Trail instance over the same file picks up the chain tip.
	tr2 := NewTrail(func() string { return path }, func() string { return "test-key" }, zerolog.Nop())
	require.NoError(t, tr2.Append("bridge", "two", nil))

	checked, _, err := tr2.Verify()
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
}

func TestVerify_MissingFileIsClean(t *testing.T) {
	tr, _ := testTrail(t)
	checked, unsigned, err := tr.Verify()
	require.NoError(t, err)
	assert.Zero(t, checked)
	assert.Zero(t, unsigned)
}
