package frigate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
)

// minMediaBytes is the validity floor: the NVR answers tiny placeholder
// bodies while an event is still finalizing, so anything at or below 1 KiB
// counts as missing.
const minMediaBytes = 1024

const (
	snapshotSubdir = "ai-snapshots"
	clipSubdir     = "ai-clips"
)

// Client is the read-only NVR HTTP client plus the two local stores: the
// detection store under the NVR storage root and the staging store under
// the agent workspace.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// SnapshotPath is the detection-store location for an event snapshot.
func SnapshotPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.NVR.StorageDir, snapshotSubdir, name+".jpg")
}

// ClipPath is the detection-store location for an event clip.
func ClipPath(cfg *config.Config, eventID string) string {
	return filepath.Join(cfg.NVR.StorageDir, clipSubdir, eventID+".mp4")
}

// StagedSnapshotRel is the workspace-relative media reference the agent
// accepts. Absolute paths are rejected downstream, so this must stay
// relative.
func StagedSnapshotRel(name string) string {
	return "./" + snapshotSubdir + "/" + name + ".jpg"
}

// StagedClipRel is the workspace-relative clip reference.
func StagedClipRel(eventID string) string {
	return "./" + clipSubdir + "/" + eventID + ".mp4"
}

// FetchSnapshot downloads the event still, falling back to the thumbnail
// when the full snapshot is missing or undersized. The bytes land in the
// detection store under name.jpg. No retry beyond the built-in fallback.
func (c *Client) FetchSnapshot(ctx context.Context, cfg *config.Config, eventID, name string) (string, error) {
	dest := SnapshotPath(cfg, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	var lastErr error
	for _, endpoint := range []string{"snapshot.jpg", "thumbnail.jpg"} {
		url := fmt.Sprintf("%s/api/events/%s/%s", cfg.NVR.API, eventID, endpoint)
		body, err := c.fetchMedia(ctx, url)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("url", url).Msg("snapshot fetch failed")
			continue
		}
		if err := os.WriteFile(dest, body, 0o644); err != nil {
			return "", fmt.Errorf("write snapshot: %w", err)
		}
		c.log.Info().Str("path", dest).Int("bytes", len(body)).Str("endpoint", endpoint).Msg("saved snapshot")
		return dest, nil
	}
	return "", fmt.Errorf("no usable snapshot for event %s: %w", eventID, lastErr)
}

// Stage duplicates a snapshot into the staging store so the agent can
// reference it by relative path.
func (c *Client) Stage(cfg *config.Config, src, name string) (string, error) {
	destDir := filepath.Join(cfg.NVR.WorkspaceDir, snapshotSubdir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	dest := filepath.Join(destDir, name+".jpg")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("stage snapshot: %w", err)
	}
	return StagedSnapshotRel(name), nil
}

// Retain marks the NVR event clip for retention.
func (c *Client) Retain(ctx context.Context, cfg *config.Config, eventID string) error {
	url := fmt.Sprintf("%s/api/events/%s/retain", cfg.NVR.API, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("retain %s: %w", eventID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("retain %s returned %d", eventID, resp.StatusCode)
	}
	return nil
}

// FetchClip downloads the finished clip into the detection store and
// duplicates it into staging. Undersized bodies are treated as not ready.
func (c *Client) FetchClip(ctx context.Context, cfg *config.Config, eventID string) (string, error) {
	url := fmt.Sprintf("%s/api/events/%s/clip.mp4", cfg.NVR.API, eventID)
	body, err := c.fetchMedia(ctx, url)
	if err != nil {
		return "", fmt.Errorf("clip for %s: %w", eventID, err)
	}

	dest := ClipPath(cfg, eventID)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create clip dir: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("write clip: %w", err)
	}

	stagedDir := filepath.Join(cfg.NVR.WorkspaceDir, clipSubdir)
	if err := os.MkdirAll(stagedDir, 0o755); err == nil {
		if err := os.WriteFile(filepath.Join(stagedDir, eventID+".mp4"), body, 0o644); err != nil {
			c.log.Warn().Err(err).Msg("failed staging clip")
		}
	}

	c.log.Info().Str("path", dest).Int("bytes", len(body)).Msg("saved clip")
	return dest, nil
}

func (c *Client) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) <= minMediaBytes {
		return nil, fmt.Errorf("GET %s returned %d bytes (below validity floor)", url, len(body))
	}
	return body, nil
}

// HasClip reports whether a usable clip file exists in the detection store.
func HasClip(cfg *config.Config, eventID string) bool {
	st, err := os.Stat(ClipPath(cfg, eventID))
	return err == nil && st.Size() > minMediaBytes
}
