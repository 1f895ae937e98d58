// Package resolve implements 3-way conflict resolution over entity
// content fields.
//
// The resolver is invoked only on true divergence: the checkpoint is the
// merge base, the parsed markdown is local, and the current graph record
// is remote, with both sides changed independently. Resolution is
// attempted in order: field-disjoint merge, then line-level merge inside
// each contested free-text field, then explicit conflict. The resolver
// never silently overwrites either side.
package resolve

import (
	"fmt"
	"strings"

	"github.com/tetherdev/tether/internal/entity"
)

// Strategy selects how an unresolvable conflict is settled.
type Strategy string

const (
	// StrategyKeepLocal overwrites the remote with local content.
	StrategyKeepLocal Strategy = "keep-local"
	// StrategyKeepRemote discards local edits and triggers a re-pull.
	StrategyKeepRemote Strategy = "keep-remote"
	// StrategyManual writes conflict markers into the local file;
	// pushes to the entity are blocked until the markers are removed.
	StrategyManual Strategy = "manual"
	// StrategySkip leaves both sides untouched and reports the entity.
	// This is the non-interactive/CI default.
	StrategySkip Strategy = "skip"
)

// FieldConflict is one content field whose edits overlap at line level.
type FieldConflict struct {
	// Field is the canonical field name.
	Field string
	// Marked is the diff3 output with conflict markers.
	Marked string
}

// Result is the outcome of a merge attempt.
type Result struct {
	// Content is the merged content. For conflicted fields it carries
	// the marker text, so StrategyManual can materialize it directly.
	Content entity.Content
	// Conflicts lists fields that could not be auto-merged.
	Conflicts []FieldConflict
}

// Clean reports whether every field auto-merged.
func (r Result) Clean() bool { return len(r.Conflicts) == 0 }

// ConflictError reports unresolved divergence for one entity. The sync
// engine maps it to exit code 2.
type ConflictError struct {
	ID     string
	Fields []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: fields %s diverged", e.ID, strings.Join(e.Fields, ", "))
}

// Merge performs the 3-way content merge.
//
// Fields changed on only one side take that side (field-disjoint merge).
// Fields changed on both sides go through line-level diff3; clean line
// merges are accepted, overlapping edits become FieldConflicts.
func Merge(base, local, remote entity.Content) Result {
	names := entity.FieldNames()
	baseF := base.Fields()
	localF := local.Fields()
	remoteF := remote.Fields()

	var res Result
	merged := make([]string, len(names))

	for i := range names {
		switch {
		case localF[i] == remoteF[i]:
			merged[i] = localF[i]
		case baseF[i] == localF[i]:
			// Only remote changed this field.
			merged[i] = remoteF[i]
		case baseF[i] == remoteF[i]:
			// Only local changed this field.
			merged[i] = localF[i]
		default:
			text, clean := diff3(baseF[i], localF[i], remoteF[i])
			merged[i] = text
			if !clean {
				res.Conflicts = append(res.Conflicts, FieldConflict{Field: names[i], Marked: text})
			}
		}
	}

	res.Content = entity.Content{
		Problem:            merged[0],
		Solution:           merged[1],
		Approach:           merged[2],
		Files:              merged[3],
		AcceptanceCriteria: merged[4],
	}
	return res
}

// ContentHasMarkers reports whether any content field still carries
// conflict markers.
func ContentHasMarkers(c entity.Content) bool {
	for _, f := range c.Fields() {
		if HasMarkers(f) {
			return true
		}
	}
	return false
}

// ConflictFieldNames extracts the field names from a result's conflicts.
func (r Result) ConflictFieldNames() []string {
	names := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		names = append(names, c.Field)
	}
	return names
}
