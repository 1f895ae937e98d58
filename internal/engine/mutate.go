package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetherdev/tether/internal/cache"
	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/graph"
	"github.com/tetherdev/tether/internal/machine"
	"github.com/tetherdev/tether/internal/queue"
	"github.com/tetherdev/tether/internal/state"
)

// MutateOptions tune one state mutation.
type MutateOptions struct {
	// Reason is required when the target status is blocked.
	Reason string

	// Cascade completes ancestors whose children are all terminal.
	Cascade bool

	// ConfirmCascade decides each cascade proposal before it is
	// applied. Nil auto-applies every proposal. A declined proposal
	// stops the cascade and is reported as Proposed.
	ConfirmCascade func(id string, kind entity.Kind, to entity.Status) (bool, error)
}

// Mutation records one applied or queued status change.
type Mutation struct {
	ID     string
	Kind   entity.Kind
	From   entity.Status
	To     entity.Status
	Queued bool
}

// MutateReport summarizes a mutation command.
type MutateReport struct {
	Mutations []Mutation

	// Proposed holds cascade completions that were suggested but not
	// applied.
	Proposed []Mutation

	// Queue replay counts, mirroring Report.
	Replayed     int
	Dropped      int
	DeadLettered int
}

// Queued reports whether any mutation went to the offline queue.
func (r *MutateReport) Queued() bool {
	for _, m := range r.Mutations {
		if m.Queued {
			return true
		}
	}
	return false
}

// Mutate applies one state-machine verb to an entity. The transition
// is validated against the best local knowledge before any network
// call; invalid transitions fail immediately. Online, the new state is
// upserted state-only; a network failure queues the mutation durably
// instead.
func (e *Engine) Mutate(ctx context.Context, id, verb string, opts MutateOptions) (*MutateReport, error) {
	if err := entity.ValidateID(id); err != nil {
		return nil, err
	}
	kind, err := entity.KindOf(id)
	if err != nil {
		return nil, err
	}
	target, err := machine.CommandFor(kind, verb)
	if err != nil {
		return nil, err
	}

	// Queued offline mutations replay first so same-entity changes
	// keep their original order; going offline here just retains the
	// queue and the new mutation lines up behind it.
	var replay Report
	if err := e.replayQueue(ctx, &replay); err != nil {
		return nil, fmt.Errorf("queue replay: %w", err)
	}
	rep := &MutateReport{
		Replayed:     replay.Replayed,
		Dropped:      replay.Dropped,
		DeadLettered: replay.DeadLettered,
	}

	cur, known, err := e.currentState(ctx, id, kind)
	if err != nil {
		return rep, err
	}
	if known {
		if err := machine.Validate(kind, cur.Status, target, opts.Reason); err != nil {
			return rep, err
		}
	} else if target == entity.StatusBlocked && opts.Reason == "" {
		return rep, fmt.Errorf("blocking %s requires a reason", id)
	}

	m, err := e.applyMutation(ctx, id, kind, cur, target, opts.Reason)
	if err != nil {
		return rep, err
	}
	rep.Mutations = append(rep.Mutations, m)

	if opts.Cascade && target == entity.StatusComplete && !m.Queued {
		if err := e.cascade(ctx, id, rep, opts.ConfirmCascade); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// currentState finds the freshest known state for id. The cache mirror
// answers first so validation happens before any network call; an
// unmirrored entity falls back to the remote.
func (e *Engine) currentState(ctx context.Context, id string, kind entity.Kind) (entity.State, bool, error) {
	if e.cache != nil {
		cached, err := e.cache.Get(ctx, id)
		if err == nil && cached != nil {
			return cached.State, true, nil
		}
	}

	rec, err := e.gw.Get(ctx, id)
	switch {
	case e.noteResult(err):
		// Offline with no mirror: queue on faith, replay validates.
		return entity.State{Status: entity.InitialStatus(kind)}, false, nil
	case errors.Is(err, graph.ErrNotFound):
		return entity.State{}, false, fmt.Errorf("%s does not exist remotely; push it first", id)
	case err != nil:
		return entity.State{}, false, err
	}
	return rec.State, true, nil
}

// applyMutation puts the new state remotely or queues it when the
// remote is unreachable.
func (e *Engine) applyMutation(ctx context.Context, id string, kind entity.Kind, cur entity.State, target entity.Status, reason string) (Mutation, error) {
	m := Mutation{ID: id, Kind: kind, From: cur.Status, To: target}

	if e.Connectivity() == Offline {
		return m, e.enqueue(&m, kind, id, target, reason)
	}

	next, err := machine.Apply(kind, cur, target, reason)
	if err != nil {
		return m, err
	}
	res, err := e.gw.Put(ctx, id, graph.Upsert{State: &next})
	switch {
	case e.noteResult(err):
		return m, e.enqueue(&m, kind, id, target, reason)
	case err != nil:
		return m, err
	}

	e.mirrorState(ctx, id, next, res.GraphHash)
	// A state-only upsert moves the remote hash without touching
	// content; advancing the checkpoint keeps the next push on the
	// fast path.
	err = e.store.Update(func(s *state.SyncState) {
		cp := s.Entities[id]
		cp.LastKnownGraphHash = res.GraphHash
		s.Entities[id] = cp
	})
	if err != nil {
		return m, err
	}
	return m, nil
}

func (e *Engine) enqueue(m *Mutation, kind entity.Kind, id string, target entity.Status, reason string) error {
	entry := queue.NewEntry(kind, id, target, reason)
	if err := e.queue.Append(entry); err != nil {
		return fmt.Errorf("failed to queue %s -> %s: %w", id, target, err)
	}
	e.logger.Printf("offline: queued %s -> %s (key %s)", id, target, entry.IdempotencyKey)
	m.Queued = true
	return nil
}

// cascade completes ancestors of id whose children have all reached a
// terminal status. Each proposal passes through confirm before it is
// applied; a declined parent stays open, which also stops anything
// above it.
func (e *Engine) cascade(ctx context.Context, id string, rep *MutateReport, confirm func(string, entity.Kind, entity.Status) (bool, error)) error {
	proposals, err := machine.Cascade(ctx, e.childLister(), id)
	if err != nil {
		return fmt.Errorf("cascade from %s: %w", id, err)
	}
	for _, p := range proposals {
		if confirm != nil {
			ok, err := confirm(p.ID, p.Kind, p.To)
			if err != nil {
				return fmt.Errorf("cascade confirmation for %s: %w", p.ID, err)
			}
			if !ok {
				rep.Proposed = append(rep.Proposed, Mutation{ID: p.ID, Kind: p.Kind, To: p.To})
				return nil
			}
		}
		cur, _, err := e.currentState(ctx, p.ID, p.Kind)
		if err != nil {
			return err
		}
		m, err := e.applyMutation(ctx, p.ID, p.Kind, cur, p.To, "")
		if err != nil {
			return fmt.Errorf("cascade to %s: %w", p.ID, err)
		}
		rep.Mutations = append(rep.Mutations, m)
	}
	return nil
}

// childLister prefers the live gateway; offline it answers from the
// mirror, and queued replays re-validate against real remote state.
func (e *Engine) childLister() machine.ChildLister {
	if e.Connectivity() == Offline && e.cache != nil {
		return cacheLister{e.cache}
	}
	return gatewayLister{e}
}

type gatewayLister struct{ e *Engine }

func (l gatewayLister) CascadeChildren(ctx context.Context, parentID string) ([]machine.ChildSummary, error) {
	kids, err := l.e.gw.Children(ctx, parentID)
	if l.e.noteResult(err) {
		if l.e.cache != nil {
			return cacheLister{l.e.cache}.CascadeChildren(ctx, parentID)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	out := make([]machine.ChildSummary, len(kids))
	for i, k := range kids {
		out[i] = machine.ChildSummary{ID: k.ID, Status: k.Status}
	}
	return out, nil
}

type cacheLister struct{ db *cache.DB }

func (l cacheLister) CascadeChildren(ctx context.Context, parentID string) ([]machine.ChildSummary, error) {
	recs, err := l.db.List(ctx, cache.ListOptions{Parent: parentID})
	if err != nil {
		return nil, err
	}
	out := make([]machine.ChildSummary, len(recs))
	for i, r := range recs {
		out[i] = machine.ChildSummary{ID: r.ID, Status: r.State.Status}
	}
	return out, nil
}
