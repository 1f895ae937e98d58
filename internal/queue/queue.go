// Package queue provides the durable offline queue for state mutations
// that could not reach the remote gateway.
//
// The queue is an append-only log, one JSON object per line. Replay runs
// at the start of any online operation in queued order: success removes
// the entry, failure increments its attempt count, and entries that
// exhaust their attempts move to a dead-letter list surfaced to the
// user. A mutation is always exactly-once-eventually-applied, explicitly
// failed, or visibly pending; it is never lost without trace.
package queue

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/state"
)

const (
	pendingFile = "pending-updates.json"
	deadFile    = "dead-letters.json"
	lockSuffix  = ".lock"
)

// DefaultMaxAttempts is the bound after which an entry dead-letters.
const DefaultMaxAttempts = 5

// Entry is one queued state mutation.
type Entry struct {
	IdempotencyKey string        `json:"idempotency_key"`
	EntityType     entity.Kind   `json:"entity_type"`
	EntityID       string        `json:"entity_id"`
	TargetStatus   entity.Status `json:"target_status"`
	Reason         string        `json:"reason,omitempty"`
	QueuedAt       time.Time     `json:"queued_at"`
	AttemptCount   int           `json:"attempt_count"`
}

// NewEntry builds an entry with a fresh idempotency key.
func NewEntry(kind entity.Kind, id string, target entity.Status, reason string) Entry {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return Entry{
		IdempotencyKey: hex.EncodeToString(buf[:]),
		EntityType:     kind,
		EntityID:       id,
		TargetStatus:   target,
		Reason:         reason,
		QueuedAt:       time.Now().UTC(),
	}
}

// Queue is the durable pending-mutation log for one repository.
type Queue struct {
	dir    string
	logger *log.Logger
}

// Open returns the queue rooted at dir (the .tether directory).
// If logger is nil, a default logger writing to stderr is used.
func Open(dir string, logger *log.Logger) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{dir: dir, logger: logger}, nil
}

func (q *Queue) pendingPath() string { return filepath.Join(q.dir, pendingFile) }
func (q *Queue) deadPath() string    { return filepath.Join(q.dir, deadFile) }

// Append durably adds an entry to the pending log.
func (q *Queue) Append(e Entry) error {
	release, err := state.AcquireLock(q.pendingPath() + lockSuffix)
	if err != nil {
		return err
	}
	defer release()

	return appendLine(q.pendingPath(), e)
}

// Entries returns pending entries ordered by queue time.
func (q *Queue) Entries() ([]Entry, error) {
	entries, err := readLines(q.pendingPath())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})
	return entries, nil
}

// DeadLetters returns entries that exhausted their attempts.
func (q *Queue) DeadLetters() ([]Entry, error) {
	return readLines(q.deadPath())
}

// Len returns the number of pending entries.
func (q *Queue) Len() (int, error) {
	entries, err := q.Entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ApplyFunc applies one queued mutation against the remote.
type ApplyFunc func(ctx context.Context, e Entry) error

// ReplayOptions tune a replay pass.
type ReplayOptions struct {
	// MaxAttempts bounds retries before dead-lettering.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int
	// IsConflict classifies errors that mean the mutation can never
	// apply (e.g. the remote entity no longer exists). Such entries are
	// dropped with an explicit warning, never retried.
	IsConflict func(error) bool
}

// ReplayReport summarizes a replay pass.
type ReplayReport struct {
	Applied      int
	Retained     int
	Dropped      int
	DeadLettered int
}

// Replay applies pending entries in queued order. Entries that fail
// transiently are retained with an incremented attempt count; entries
// that hit the attempt bound move to the dead-letter list; replay
// conflicts are dropped with a warning. The pending file is rewritten
// atomically afterwards.
func (q *Queue) Replay(ctx context.Context, apply ApplyFunc, opts ReplayOptions) (*ReplayReport, error) {
	release, err := state.AcquireLock(q.pendingPath() + lockSuffix)
	if err != nil {
		return nil, err
	}
	defer release()

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	entries, err := q.Entries()
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{}
	var retained []Entry
	seen := make(map[string]bool)

	for i, e := range entries {
		if ctx.Err() != nil {
			// Interrupted: keep everything not yet processed.
			retained = append(retained, entries[i:]...)
			report.Retained += len(entries[i:])
			break
		}
		if seen[e.IdempotencyKey] {
			q.logger.Printf("Dropping duplicate queue entry for %s (key %s)", e.EntityID, e.IdempotencyKey)
			report.Dropped++
			continue
		}
		seen[e.IdempotencyKey] = true

		err := apply(ctx, e)
		switch {
		case err == nil:
			report.Applied++
		case opts.IsConflict != nil && opts.IsConflict(err):
			q.logger.Printf("WARNING: dropping queued %s -> %s for %s: %v",
				e.EntityID, e.TargetStatus, e.EntityType, err)
			report.Dropped++
		default:
			e.AttemptCount++
			if e.AttemptCount >= maxAttempts {
				q.logger.Printf("WARNING: dead-lettering %s -> %s after %d attempts: %v",
					e.EntityID, e.TargetStatus, e.AttemptCount, err)
				if derr := appendLine(q.deadPath(), e); derr != nil {
					return nil, fmt.Errorf("failed to dead-letter entry: %w", derr)
				}
				report.DeadLettered++
			} else {
				retained = append(retained, e)
				report.Retained++
			}
		}
	}

	if err := q.rewrite(q.pendingPath(), retained); err != nil {
		return nil, err
	}
	return report, nil
}

// PruneDeadLetters removes dead letters queued before the cutoff and
// returns how many were removed.
func (q *Queue) PruneDeadLetters(before time.Time) (int, error) {
	release, err := state.AcquireLock(q.pendingPath() + lockSuffix)
	if err != nil {
		return 0, err
	}
	defer release()

	entries, err := readLines(q.deadPath())
	if err != nil {
		return 0, err
	}
	var kept []Entry
	for _, e := range entries {
		if e.QueuedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	if err := q.rewrite(q.deadPath(), kept); err != nil {
		return 0, err
	}
	return len(entries) - len(kept), nil
}

func (q *Queue) rewrite(path string, entries []Entry) error {
	var buf []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal queue entry: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return state.WriteFileAtomic(path, buf)
}

func appendLine(path string, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open queue file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append queue entry: %w", err)
	}
	return f.Sync()
}

func readLines(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open queue file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse queue entry at line %d: %w", lineNum, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}
	return entries, nil
}
