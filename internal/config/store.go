package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/metrics"
)

// Store owns the single authoritative config copy. Readers take an
// immutable snapshot pointer; reloads swap the pointer atomically under
// the write lock, so a snapshot captured at event intake stays stable for
// the event's whole lifetime.
type Store struct {
	mu   sync.RWMutex
	cur  *Config
	path string
	gen  int

	log zerolog.Logger
}

// NewStore loads the config at path. Startup fails hard on an invalid
// document; reloads later never do.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Store{cur: cfg, path: path, gen: 1, log: log}, nil
}

// Snapshot returns the current immutable config.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Generation increments on every successful reload.
func (s *Store) Generation() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Reload re-reads the file. On any error the previous snapshot stays
// active. Masked secret placeholders in the new document keep the old
// secret values.
func (s *Store) Reload() error {
	cfg, err := load(s.path)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("invalid").Inc()
		s.log.Warn().Err(err).Msg("config reload rejected; keeping previous snapshot")
		return err
	}

	s.mu.Lock()
	prev := s.cur
	if maskedSecret(cfg.Bus.Password) {
		cfg.Bus.Password = prev.Bus.Password
	}
	if maskedSecret(cfg.Gateway.Token) {
		cfg.Gateway.Token = prev.Gateway.Token
	}
	if maskedSecret(cfg.Hub.Token) {
		cfg.Hub.Token = prev.Hub.Token
	}
	if maskedSecret(cfg.Audit.SigningKey) {
		cfg.Audit.SigningKey = prev.Audit.SigningKey
	}
	s.cur = cfg
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	metrics.ConfigReloadsTotal.WithLabelValues("ok").Inc()
	s.log.Info().Int("generation", gen).Msg("config reloaded")
	return nil
}

// Watch monitors the config file and reloads on change. Uses fsnotify with
// a slow polling loop as fallback when the watcher cannot be established.
func (s *Store) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		s.log.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
		usePolling = true
	} else if err := watcher.Add(s.path); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("cannot watch config file, falling back to polling")
		watcher.Close()
		usePolling = true
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Editors often write in bursts; settle first.
						time.Sleep(100 * time.Millisecond)
						_ = s.Reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					s.log.Warn().Err(err).Msg("config watcher error")
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		var lastMod time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if mod, ok := fileMtime(s.path); ok && mod.After(lastMod) {
					lastMod = mod
					_ = s.Reload()
				}
			}
		}
	}()
}
