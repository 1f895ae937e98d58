package engine

import (
	"fmt"
	"strings"

	"github.com/tetherdev/tether/internal/parse"
)

// Exit codes for the CLI: conflicts needing attention are
// distinguished from plain failures.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConflict = 2
)

// Report is the batch summary for one push or pull run. Entity-level
// problems accumulate here; they never abort the rest of the batch.
type Report struct {
	Pushed   int // content upserts that landed (incl. resolved keep-local)
	Pulled   int // local files updated from remote content
	Skipped  int // unchanged since checkpoint
	Deferred int // content pushes postponed because the remote is unreachable

	Conflicted  int // unresolved conflicts (manual markers or skipped)
	ConflictIDs []string

	Replayed     int // queued mutations applied this run
	Dropped      int // queue entries dropped as replay conflicts
	DeadLettered int // queue entries moved to the dead-letter list

	Warnings []parse.Warning
	Orphans  []string // ids whose parent is missing remotely
	Errors   []error  // entity-level failures
}

// Merge folds counts from another report into r (used when a command
// chains replay, push, and pull).
func (r *Report) Merge(o *Report) {
	r.Pushed += o.Pushed
	r.Pulled += o.Pulled
	r.Skipped += o.Skipped
	r.Deferred += o.Deferred
	r.Conflicted += o.Conflicted
	r.ConflictIDs = append(r.ConflictIDs, o.ConflictIDs...)
	r.Replayed += o.Replayed
	r.Dropped += o.Dropped
	r.DeadLettered += o.DeadLettered
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Orphans = append(r.Orphans, o.Orphans...)
	r.Errors = append(r.Errors, o.Errors...)
}

// ExitCode maps the report to the CLI contract: 2 when conflicts need
// manual attention, 1 on entity failures, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Conflicted > 0 {
		return ExitConflict
	}
	if len(r.Errors) > 0 {
		return ExitFailure
	}
	return ExitOK
}

// Summary renders the one-line batch summary every command prints.
func (r *Report) Summary() string {
	parts := []string{
		fmt.Sprintf("pushed %d", r.Pushed),
		fmt.Sprintf("pulled %d", r.Pulled),
		fmt.Sprintf("skipped %d", r.Skipped),
		fmt.Sprintf("conflicted %d", r.Conflicted),
	}
	if r.Deferred > 0 {
		parts = append(parts, fmt.Sprintf("deferred %d", r.Deferred))
	}
	if r.Replayed > 0 || r.Dropped > 0 || r.DeadLettered > 0 {
		parts = append(parts, fmt.Sprintf("replayed %d", r.Replayed))
	}
	if r.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("dropped %d", r.Dropped))
	}
	if r.DeadLettered > 0 {
		parts = append(parts, fmt.Sprintf("dead-lettered %d", r.DeadLettered))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("failed %d", len(r.Errors)))
	}
	return strings.Join(parts, ", ")
}
