package engine

import (
	"context"
	"sort"
	"time"

	"github.com/tetherdev/tether/internal/cache"
	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/parse"
	"github.com/tetherdev/tether/internal/resolve"
)

// StatusReport is the offline-capable overview `tether status` prints.
// Everything here comes from local files; no gateway calls.
type StatusReport struct {
	Entities   int
	ByKind     map[entity.Kind]int
	Changed    []string // local content differs from the checkpoint
	Marked     []string // files still carrying conflict markers
	Warnings   []parse.Warning
	Pending    int // queued state mutations
	Dead       int // dead-lettered mutations
	Mirrored   int // records in the cache
	LastPush   time.Time
	LastPull   time.Time
	HeadAtPush string
}

// Status assembles the local overview: parsed plans against the
// checkpoints, queue depth, and mirror size.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	ps, warns, err := e.loadPlans()
	if err != nil {
		return nil, err
	}
	st, err := e.store.LoadSyncState()
	if err != nil {
		return nil, err
	}

	rep := &StatusReport{
		Entities:   len(ps.records),
		ByKind:     map[entity.Kind]int{},
		Warnings:   warns,
		LastPush:   st.LastPushTimestamp,
		LastPull:   st.LastPullTimestamp,
		HeadAtPush: st.LastPushCommit,
	}
	for _, rec := range ps.records {
		rep.ByKind[rec.Kind]++
		if resolve.ContentHasMarkers(rec.Content) {
			rep.Marked = append(rep.Marked, rec.ID)
			continue
		}
		if rec.Content.Hash() != st.Checkpoint(rec.ID).LastPushedContentHash {
			rep.Changed = append(rep.Changed, rec.ID)
		}
	}
	sort.Strings(rep.Changed)
	sort.Strings(rep.Marked)

	if rep.Pending, err = e.queue.Len(); err != nil {
		return nil, err
	}
	dead, err := e.queue.DeadLetters()
	if err != nil {
		return nil, err
	}
	rep.Dead = len(dead)

	if e.cache != nil {
		if rep.Mirrored, err = e.cache.Count(ctx); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// FieldDiff is one content field that differs between the local plan
// and the mirrored remote.
type FieldDiff struct {
	Field  string
	Local  string
	Remote string
}

// EntityDiff is the per-entity diff `tether diff` prints.
type EntityDiff struct {
	ID         string
	LocalOnly  bool // parsed locally, never mirrored
	RemoteOnly bool // mirrored, absent from the plan files
	Fields     []FieldDiff
	State      entity.State // mirrored state, for display
}

// Diff compares parsed plan content against the cache mirror. It is a
// local operation; run pull first for a fresh mirror.
func (e *Engine) Diff(ctx context.Context) ([]EntityDiff, error) {
	ps, _, err := e.loadPlans()
	if err != nil {
		return nil, err
	}

	var diffs []EntityDiff
	seen := map[string]bool{}
	names := entity.FieldNames()

	for _, rec := range ps.records {
		seen[rec.ID] = true
		d := EntityDiff{ID: rec.ID}

		var mirrored bool
		if e.cache != nil {
			cached, err := e.cache.Get(ctx, rec.ID)
			if err != nil {
				return nil, err
			}
			if cached != nil {
				mirrored = true
				d.State = cached.State
				localF := rec.Content.Fields()
				remoteF := cached.Content.Fields()
				for i := range names {
					if localF[i] != remoteF[i] {
						d.Fields = append(d.Fields, FieldDiff{Field: names[i], Local: localF[i], Remote: remoteF[i]})
					}
				}
			}
		}
		if !mirrored {
			d.LocalOnly = true
		}
		if d.LocalOnly || len(d.Fields) > 0 {
			diffs = append(diffs, d)
		}
	}

	if e.cache != nil {
		mirrored, err := e.cache.List(ctx, cache.ListOptions{})
		if err != nil {
			return nil, err
		}
		for _, rec := range mirrored {
			if !seen[rec.ID] && rec.State.Status != entity.StatusTombstone {
				diffs = append(diffs, EntityDiff{ID: rec.ID, RemoteOnly: true, State: rec.State})
			}
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].ID < diffs[j].ID })
	return diffs, nil
}
