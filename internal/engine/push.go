package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/graph"
	"github.com/tetherdev/tether/internal/parse"
	"github.com/tetherdev/tether/internal/resolve"
	"github.com/tetherdev/tether/internal/state"
)

// PushOptions tune one push run.
type PushOptions struct {
	// DryRun reports what would happen without touching the remote,
	// the checkpoints, or the plan files.
	DryRun bool

	// Strategy overrides the engine's conflict strategy for this run.
	Strategy resolve.Strategy
}

// pushOutcome classifies what happened to one entity.
type pushOutcome int

const (
	outcomeNone   pushOutcome = iota // worker never ran (run aborted)
	outcomePushed
	outcomePulled // resolved keep-remote: local file updated
	outcomeSkipped
	outcomeDeferred
	outcomeConflicted
	outcomeError
)

type pushResult struct {
	outcome pushOutcome
	id      string
	err     error // entity-level, collected
	fatal   error // process-level, aborts the run
}

// Push walks the plan files and upserts changed content to the remote.
//
// Queued state mutations replay first. Unchanged entities (content
// hash equals the checkpoint) are skipped without a network call.
// Divergent entities go through the resolver; an unresolved conflict
// counts toward exit code 2 and never overwrites the remote.
func (e *Engine) Push(ctx context.Context, opts PushOptions) (*Report, error) {
	rep := &Report{}

	if !opts.DryRun {
		if err := e.replayQueue(ctx, rep); err != nil {
			return rep, fmt.Errorf("queue replay: %w", err)
		}
	}

	ps, warns, err := e.loadPlans()
	if err != nil {
		return rep, err
	}
	rep.Warnings = warns

	st, err := e.store.LoadSyncState()
	if err != nil {
		return rep, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	results := make([]pushResult, len(ps.records))
	for i, rec := range ps.records {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = e.pushOne(gctx, ps, rec, st.Checkpoint(rec.ID), opts)
			return results[i].fatal
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	for _, res := range results {
		switch res.outcome {
		case outcomePushed:
			rep.Pushed++
		case outcomePulled:
			rep.Pulled++
		case outcomeSkipped:
			rep.Skipped++
		case outcomeDeferred:
			rep.Deferred++
		case outcomeConflicted:
			rep.Conflicted++
			rep.ConflictIDs = append(rep.ConflictIDs, res.id)
		case outcomeError:
			rep.Errors = append(rep.Errors, res.err)
		}
	}

	if !opts.DryRun && rep.Pushed+rep.Pulled > 0 {
		now := e.now().UTC()
		var head string
		if e.head != nil {
			if h, err := e.head(ctx); err == nil {
				head = h
			}
		}
		err := e.store.Update(func(s *state.SyncState) {
			s.LastPushTimestamp = now
			if head != "" {
				s.LastPushCommit = head
			}
		})
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (e *Engine) pushOne(ctx context.Context, ps *planSet, rec parse.Record, cp state.Checkpoint, opts PushOptions) pushResult {
	id := rec.ID
	local := rec.Content

	if resolve.ContentHasMarkers(local) {
		e.logger.Printf("WARNING: %s still has conflict markers, not pushing", id)
		return pushResult{outcome: outcomeConflicted, id: id}
	}

	localHash := local.Hash()
	if localHash == cp.LastPushedContentHash {
		return pushResult{outcome: outcomeSkipped, id: id}
	}
	if e.Connectivity() == Offline {
		e.logger.Printf("offline: deferring content push for %s to the next run", id)
		return pushResult{outcome: outcomeDeferred, id: id}
	}

	remote, err := e.gw.Get(ctx, id)
	switch {
	case e.noteResult(err):
		return pushResult{outcome: outcomeDeferred, id: id}
	case errors.Is(err, graph.ErrNotFound):
		return e.create(ctx, rec, localHash, opts)
	case errors.Is(err, graph.ErrAuth):
		return pushResult{outcome: outcomeError, id: id, fatal: err}
	case err != nil:
		return pushResult{outcome: outcomeError, id: id, err: err}
	}

	if remote.GraphHash == cp.LastKnownGraphHash {
		// Remote unchanged since the checkpoint: plain fast-forward.
		if opts.DryRun {
			return pushResult{outcome: outcomePushed, id: id}
		}
		return e.putContent(ctx, rec, local, localHash, cp)
	}

	// Remote moved since the checkpoint: 3-way merge against the base.
	base := e.baseContent(ctx, id, cp)
	mres := resolve.Merge(base, local, remote.Content)
	if mres.Clean() {
		if opts.DryRun {
			return pushResult{outcome: outcomePushed, id: id}
		}
		if mres.Content != local {
			if err := ps.rewrite(id, mres.Content); err != nil {
				return pushResult{outcome: outcomeError, id: id, err: err}
			}
		}
		return e.putContent(ctx, rec, mres.Content, mres.Content.Hash(), cp)
	}

	return e.resolveConflict(ctx, ps, rec, remote, mres, cp, opts)
}

// create seeds a brand-new remote record with content plus the initial
// state derived from the plan symbol. This is the only push path that
// writes state: there is no remote authority yet.
func (e *Engine) create(ctx context.Context, rec parse.Record, localHash string, opts PushOptions) pushResult {
	id := rec.ID
	if opts.DryRun {
		return pushResult{outcome: outcomePushed, id: id}
	}

	st := rec.State
	if st.Status == "" {
		st.Status = entity.InitialStatus(rec.Kind)
	}
	content := rec.Content
	res, err := e.gw.Put(ctx, id, graph.Upsert{
		Title:   rec.Title,
		Kind:    rec.Kind,
		Content: &content,
		State:   &st,
	})
	if pr, failed := e.classifyPut(id, err); failed {
		return pr
	}
	if err := e.checkpoint(id, localHash, res.GraphHash); err != nil {
		return pushResult{outcome: outcomeError, id: id, err: err}
	}
	if e.cache != nil {
		mirror := &graph.Record{
			ID: id, Kind: rec.Kind, Title: rec.Title,
			Content: content, State: st,
			ContentHash: localHash, GraphHash: res.GraphHash, UpdatedAt: res.UpdatedAt,
		}
		if err := e.cache.Upsert(ctx, mirror); err != nil {
			e.logger.Printf("Warning: failed to mirror %s: %v", id, err)
		}
	}
	return pushResult{outcome: outcomePushed, id: id}
}

// putContent upserts content only, never state, and advances the
// checkpoint with the hash pair the remote confirmed.
func (e *Engine) putContent(ctx context.Context, rec parse.Record, content entity.Content, contentHash string, cp state.Checkpoint) pushResult {
	id := rec.ID
	res, err := e.gw.Put(ctx, id, graph.Upsert{
		Title:   rec.Title,
		Content: &content,
	})
	if pr, failed := e.classifyPut(id, err); failed {
		return pr
	}
	if err := e.checkpoint(id, contentHash, res.GraphHash); err != nil {
		return pushResult{outcome: outcomeError, id: id, err: err}
	}
	return pushResult{outcome: outcomePushed, id: id}
}

func (e *Engine) classifyPut(id string, err error) (pushResult, bool) {
	switch {
	case err == nil:
		e.setOnline()
		return pushResult{}, false
	case e.noteResult(err):
		return pushResult{outcome: outcomeDeferred, id: id}, true
	case errors.Is(err, graph.ErrAuth):
		return pushResult{outcome: outcomeError, id: id, fatal: err}, true
	default:
		// Includes DuplicateError: a data-integrity problem the user
		// must see, reported with the batch.
		return pushResult{outcome: outcomeError, id: id, err: err}, true
	}
}

func (e *Engine) checkpoint(id, contentHash, graphHash string) error {
	now := e.now().UTC()
	return e.store.Update(func(s *state.SyncState) {
		cp := s.Entities[id]
		cp.LastPushedContentHash = contentHash
		cp.LastKnownGraphHash = graphHash
		cp.LastPushTS = now
		s.Entities[id] = cp
	})
}

// baseContent recovers the merge base: the cached remote record from
// the last agreed checkpoint. When the cache cannot vouch for that
// exact version the base degrades to empty, which still never
// overwrites silently (both-sides-changed fields conflict).
func (e *Engine) baseContent(ctx context.Context, id string, cp state.Checkpoint) entity.Content {
	if e.cache == nil || cp.LastKnownGraphHash == "" {
		return entity.Content{}
	}
	cached, err := e.cache.Get(ctx, id)
	if err != nil || cached == nil || cached.GraphHash != cp.LastKnownGraphHash {
		return entity.Content{}
	}
	return cached.Content
}

func (e *Engine) resolveConflict(ctx context.Context, ps *planSet, rec parse.Record, remote *graph.Record, mres resolve.Result, cp state.Checkpoint, opts PushOptions) pushResult {
	id := rec.ID
	fields := mres.ConflictFieldNames()

	strategy := e.strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	} else if e.prompt != nil && !opts.DryRun {
		s, err := e.prompt(id, fields)
		if err != nil {
			return pushResult{outcome: outcomeError, id: id, err: fmt.Errorf("conflict prompt for %s: %w", id, err)}
		}
		strategy = s
	}

	if opts.DryRun {
		e.logger.Printf("dry-run: %s conflicts on %v (strategy %s)", id, fields, strategy)
		return pushResult{outcome: outcomeConflicted, id: id}
	}

	switch strategy {
	case resolve.StrategyKeepLocal:
		return e.putContent(ctx, rec, rec.Content, rec.Content.Hash(), cp)

	case resolve.StrategyKeepRemote:
		if err := ps.rewrite(id, remote.Content); err != nil {
			return pushResult{outcome: outcomeError, id: id, err: err}
		}
		if err := e.checkpoint(id, remote.Content.Hash(), remote.GraphHash); err != nil {
			return pushResult{outcome: outcomeError, id: id, err: err}
		}
		if e.cache != nil {
			if err := e.cache.Upsert(ctx, remote); err != nil {
				e.logger.Printf("Warning: failed to mirror %s: %v", id, err)
			}
		}
		return pushResult{outcome: outcomePulled, id: id}

	case resolve.StrategyManual:
		// Materialize markers; the entity stays blocked from pushing
		// until the user removes them.
		if err := ps.rewrite(id, mres.Content); err != nil {
			return pushResult{outcome: outcomeError, id: id, err: err}
		}
		e.logger.Printf("wrote conflict markers for %s (fields %v); edit the file and push again", id, fields)
		return pushResult{outcome: outcomeConflicted, id: id}

	default: // StrategySkip
		e.logger.Printf("WARNING: skipping %s: %v", id, &resolve.ConflictError{ID: id, Fields: fields})
		return pushResult{outcome: outcomeConflicted, id: id}
	}
}
