package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Record is one line of the append-only event memory.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Camera     string    `json:"camera"`
	EventID    string    `json:"event_id"`
	Risk       string    `json:"risk"`
	EventType  string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Action     string    `json:"action"`
}

// Store is the line-delimited JSON event memory. Writes hold an exclusive
// flock, reads a shared one, so the summary/reporting jobs can read the
// same file safely from other processes.
type Store struct {
	mu       sync.Mutex
	path     func() string
	maxLines func() int
	log      zerolog.Logger
	now      func() time.Time
}

func NewStore(path func() string, maxLines func() int, log zerolog.Logger) *Store {
	return &Store{path: path, maxLines: maxLines, log: log, now: time.Now}
}

// Append writes one record and trims the file when it grows past the
// configured line cap.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}

	return s.trimLocked(path)
}

// trimLocked keeps the file bounded by rewriting the newest maxLines.
// Caller already holds s.mu and the exclusive flock taken by Append; the
// rewrite takes no lock of its own and swaps the trimmed copy in by rename.
func (s *Store) trimLocked(path string) error {
	max := s.maxLines()
	if max <= 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) <= max {
		return nil
	}
	trimmed := strings.Join(lines[len(lines)-max:], "\n") + "\n"

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(trimmed), 0o644); err != nil {
		return fmt.Errorf("write trimmed history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("swap trimmed history: %w", err)
	}
	s.log.Info().Int("kept", max).Msg("trimmed event history")
	return nil
}

// readWindow returns parseable records for one camera inside the window.
// Torn or foreign lines (crash leftovers) are skipped, not errors.
func (s *Store) readWindow(camera string, window time.Duration) []Record {
	f, err := os.Open(s.path())
	if err != nil {
		return nil
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err == nil {
		defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}

	cutoff := s.now().Add(-window)
	var out []Record

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Camera != camera {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// CountSince counts this camera's records inside the rolling window.
func (s *Store) CountSince(camera string, window time.Duration) int {
	return len(s.readWindow(camera, window))
}

// Summary builds the RECENT_EVENTS prompt block and the last timestamp.
func (s *Store) Summary(camera string, window time.Duration) (string, string) {
	rows := s.readWindow(camera, window)
	if len(rows) == 0 {
		return fmt.Sprintf("- none in last %d minutes", int(window.Minutes())), "none"
	}

	last := rows[len(rows)-1]
	highOrCritical := 0
	for _, r := range rows {
		switch strings.ToLower(r.Risk) {
		case "high", "critical":
			highOrCritical++
		}
	}
	lastTS := last.Timestamp.UTC().Format(time.RFC3339)
	summary := fmt.Sprintf(
		"- %d events in last %d minutes (%s)\n- last event: %s\n- high/critical count: %d\n- latest type trend: %s",
		len(rows), int(window.Minutes()), camera, lastTS, highOrCritical, last.EventType,
	)
	return summary, lastTS
}
