package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Append-only, sha256 hash-chained audit trail. Each record's hash covers
// the previous record's hash, the signing key and the record body, so any
// edit or deletion in the middle of the file breaks the chain.
// No update or delete methods exposed.

type entry struct {
	EventID   uuid.UUID              `json:"event_id"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Prev      string                 `json:"prev"`
	Hash      string                 `json:"hash"`
}

type Trail struct {
	mu   sync.Mutex
	path func() string
	key  func() string
	last string
	log  zerolog.Logger
}

func NewTrail(path func() string, key func() string, log zerolog.Logger) *Trail {
	t := &Trail{path: path, key: key, log: log}
	t.last = t.tailHash()
	return t
}

// Append writes one chained record.
func (t *Trail) Append(actor, action string, detail map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := entry{
		EventID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		Prev:      t.last,
	}
	blob, err := bodyBlob(e)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	e.Hash = chainHash(t.last, t.key(), blob)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit line: %w", err)
	}

	path := t.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}

	t.last = e.Hash
	return nil
}

// Verify walks the chain from the top of the file. Unsigned legacy lines
// (no hash field) are tolerated but counted separately.
func (t *Trail) Verify() (checked, unsigned int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close()

	prev := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return checked, unsigned, fmt.Errorf("invalid json at line %d", line)
		}
		checked++
		if e.Hash == "" {
			unsigned++
			continue
		}
		if e.Prev != prev {
			return checked, unsigned, fmt.Errorf("chain break at line %d", line)
		}
		blob, err := bodyBlob(e)
		if err != nil {
			return checked, unsigned, err
		}
		if chainHash(e.Prev, t.key(), blob) != e.Hash {
			return checked, unsigned, fmt.Errorf("hash mismatch at line %d", line)
		}
		prev = e.Hash
	}
	return checked, unsigned, scanner.Err()
}

// bodyBlob is the canonical signed portion: everything but prev and hash.
func bodyBlob(e entry) (string, error) {
	body := struct {
		EventID   uuid.UUID              `json:"event_id"`
		Timestamp time.Time              `json:"timestamp"`
		Actor     string                 `json:"actor"`
		Action    string                 `json:"action"`
		Detail    map[string]interface{} `json:"detail,omitempty"`
	}{e.EventID, e.Timestamp, e.Actor, e.Action, e.Detail}
	b, err := json.Marshal(body)
	return string(b), err
}

func chainHash(prev, key, blob string) string {
	sum := sha256.Sum256([]byte(prev + "|" + key + "|" + blob))
	return hex.EncodeToString(sum[:])
}

// tailHash recovers the chain tip from the last signed line on disk.
func (t *Trail) tailHash() string {
	f, err := os.Open(t.path())
	if err != nil {
		return ""
	}
	defer f.Close()

	last := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue // torn last line after a crash
		}
		if e.Hash != "" {
			last = e.Hash
		}
	}
	return last
}
