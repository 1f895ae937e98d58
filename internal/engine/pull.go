package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/graph"
	"github.com/tetherdev/tether/internal/parse"
	"github.com/tetherdev/tether/internal/resolve"
	"github.com/tetherdev/tether/internal/state"
)

// RootID is the synthetic parent whose children are the epics.
const RootID = "root"

// Pull refreshes local files and the cache mirror from the remote.
//
// State fields are remote-authoritative: they overwrite the mirror
// unconditionally and the remote status is serialized back into the
// heading checkbox of tracked entities. Content goes through the same
// 3-way divergence
// check as push: remote-only changes land in the plan files, divergent
// edits route to the resolver. Hierarchy is validated; orphans are
// reported, never dropped.
func (e *Engine) Pull(ctx context.Context) (*Report, error) {
	rep := &Report{}

	if err := e.replayQueue(ctx, rep); err != nil {
		return rep, fmt.Errorf("queue replay: %w", err)
	}

	records, orphans, err := e.fetchAll(ctx)
	if err != nil {
		// Pull is a read: no connectivity means no pull.
		return rep, err
	}
	rep.Orphans = orphans

	ps, warns, err := e.loadPlans()
	if err != nil {
		return rep, err
	}
	rep.Warnings = warns

	st, err := e.store.LoadSyncState()
	if err != nil {
		return rep, err
	}

	byID := make(map[string]parse.Record, len(ps.records))
	for _, rec := range ps.records {
		byID[rec.ID] = rec
	}

	updates := map[string]state.Checkpoint{}
	for _, remote := range records {
		cp := st.Checkpoint(remote.ID)
		// The merge base must come from the pre-pull mirror; compute
		// it before Upsert replaces the cached record.
		base := e.baseContent(ctx, remote.ID, cp)

		if e.cache != nil {
			if err := e.cache.Upsert(ctx, remote); err != nil {
				rep.Errors = append(rep.Errors, fmt.Errorf("mirror %s: %w", remote.ID, err))
				continue
			}
		}

		local, tracked := byID[remote.ID]
		if !tracked || remote.State.Status == entity.StatusTombstone {
			// Mirror-only: nothing on disk to reconcile.
			cp.LastPullTS = e.now().UTC()
			updates[remote.ID] = cp
			continue
		}

		res := e.pullContent(ps, local, remote, base, cp)
		switch res.outcome {
		case outcomePulled:
			rep.Pulled++
			cp.LastPushedContentHash = remote.Content.Hash()
			cp.LastKnownGraphHash = remote.GraphHash
		case outcomeSkipped:
			rep.Skipped++
		case outcomeConflicted:
			rep.Conflicted++
			rep.ConflictIDs = append(rep.ConflictIDs, remote.ID)
		case outcomeError:
			rep.Errors = append(rep.Errors, res.err)
			continue
		}

		// The heading checkbox follows the remote status. This is the
		// serialize half of the marker boundary and is independent of
		// content reconciliation, conflicts included.
		if _, err := ps.rewriteMarker(remote.ID, entity.SymbolFor(remote.State.Status)); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("status marker for %s: %w", remote.ID, err))
		}

		cp.LastPullTS = e.now().UTC()
		updates[remote.ID] = cp
	}

	now := e.now().UTC()
	err = e.store.Update(func(s *state.SyncState) {
		s.LastPullTimestamp = now
		for id, cp := range updates {
			s.Entities[id] = cp
		}
	})
	if err != nil {
		return rep, err
	}
	return rep, nil
}

// pullContent reconciles one tracked entity's content with the remote.
func (e *Engine) pullContent(ps *planSet, local parse.Record, remote *graph.Record, base entity.Content, cp state.Checkpoint) pushResult {
	id := remote.ID

	localChanged := local.Content.Hash() != cp.LastPushedContentHash
	remoteChanged := remote.GraphHash != cp.LastKnownGraphHash

	switch {
	case !remoteChanged:
		return pushResult{outcome: outcomeSkipped, id: id}

	case !localChanged:
		// Remote-only change: the file follows the remote.
		if local.Content != remote.Content {
			if err := ps.rewrite(id, remote.Content); err != nil {
				return pushResult{outcome: outcomeError, id: id, err: err}
			}
		}
		return pushResult{outcome: outcomePulled, id: id}
	}

	if resolve.ContentHasMarkers(local.Content) {
		e.logger.Printf("WARNING: %s still has conflict markers, not pulling over them", id)
		return pushResult{outcome: outcomeConflicted, id: id}
	}

	mres := resolve.Merge(base, local.Content, remote.Content)
	if mres.Clean() {
		// The file keeps the merged text; the checkpoint advances to
		// the remote version so the next push sees exactly the local
		// delta.
		if mres.Content != local.Content {
			if err := ps.rewrite(id, mres.Content); err != nil {
				return pushResult{outcome: outcomeError, id: id, err: err}
			}
		}
		return pushResult{outcome: outcomePulled, id: id}
	}

	fields := mres.ConflictFieldNames()
	strategy := e.strategy
	if e.prompt != nil {
		s, err := e.prompt(id, fields)
		if err != nil {
			return pushResult{outcome: outcomeError, id: id, err: fmt.Errorf("conflict prompt for %s: %w", id, err)}
		}
		strategy = s
	}

	switch strategy {
	case resolve.StrategyKeepRemote:
		if err := ps.rewrite(id, remote.Content); err != nil {
			return pushResult{outcome: outcomeError, id: id, err: err}
		}
		return pushResult{outcome: outcomePulled, id: id}

	case resolve.StrategyManual:
		if err := ps.rewrite(id, mres.Content); err != nil {
			return pushResult{outcome: outcomeError, id: id, err: err}
		}
		e.logger.Printf("wrote conflict markers for %s (fields %v)", id, fields)
		return pushResult{outcome: outcomeConflicted, id: id}

	default:
		// keep-local and skip both leave the file alone here; push
		// owns writing local content to the remote.
		e.logger.Printf("WARNING: leaving %s as-is: %v", id, &resolve.ConflictError{ID: id, Fields: fields})
		return pushResult{outcome: outcomeConflicted, id: id}
	}
}

// fetchAll walks the remote hierarchy breadth-first from the root and
// returns every reachable record plus ids whose parent or record is
// missing.
func (e *Engine) fetchAll(ctx context.Context) ([]*graph.Record, []string, error) {
	roots, err := e.gw.Children(ctx, RootID)
	if e.noteResult(err) {
		return nil, nil, fmt.Errorf("cannot pull while offline: %w", err)
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		mu      sync.Mutex
		records []*graph.Record
		orphans []string
	)

	level := roots
	for len(level) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		next := make([][]graph.Summary, len(level))

		for i, sum := range level {
			i, sum := i, sum
			g.Go(func() error {
				rec, err := e.gw.Get(gctx, sum.ID)
				if e.noteResult(err) {
					return err
				}
				if errors.Is(err, graph.ErrNotFound) {
					// Listed by its parent but gone on fetch.
					mu.Lock()
					orphans = append(orphans, sum.ID)
					mu.Unlock()
					return nil
				}
				if err != nil {
					return err
				}
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()

				if rec.Kind == entity.KindTask {
					return nil
				}
				kids, err := e.gw.Children(gctx, sum.ID)
				if e.noteResult(err) {
					return err
				}
				if err != nil && !errors.Is(err, graph.ErrNotFound) {
					return err
				}
				next[i] = kids
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		level = level[:0:0]
		for _, kids := range next {
			level = append(level, kids...)
		}
	}

	// Hierarchy integrity: every fetched child must resolve to a
	// fetched parent.
	have := make(map[string]bool, len(records))
	for _, rec := range records {
		have[rec.ID] = true
	}
	for _, rec := range records {
		if parent := entity.ParentID(rec.ID); parent != "" && !have[parent] {
			orphans = append(orphans, rec.ID)
		}
	}
	sort.Strings(orphans)

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, orphans, nil
}
