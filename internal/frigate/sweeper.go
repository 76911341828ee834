package frigate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper removes staging-store files older than the configured TTL. The
// detection store has its own retention owned by the NVR; only the staged
// duplicates are ours to clean.
type Sweeper struct {
	dir func() string
	ttl func() time.Duration
	log zerolog.Logger
}

func NewSweeper(dir func() string, ttl func() time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{dir: dir, ttl: ttl, log: log}
}

// Run sweeps every five minutes until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	root := s.dir()
	ttl := s.ttl()
	cutoff := time.Now().Add(-ttl)
	removed := 0

	for _, sub := range []string{snapshotSubdir, clipSubdir} {
		entries, err := os.ReadDir(filepath.Join(root, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(root, sub, e.Name())); err == nil {
					removed++
				}
			}
		}
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("swept expired staging media")
	}
}
