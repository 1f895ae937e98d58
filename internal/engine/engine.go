// Package engine orchestrates push and pull between the markdown plans
// and the remote graph store.
//
// Content fields are git-authoritative and state fields are
// graph-authoritative, and the engine enforces that split in both
// directions: push never writes state onto an existing record, pull
// never rewrites content the resolver did not approve. Divergence is
// detected per entity through the checkpoint pair (content hash, graph
// hash) and routed to the resolver, never overwritten silently.
//
// All remote I/O goes through a graph.Gateway; tests substitute an
// in-memory fake.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tetherdev/tether/internal/cache"
	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/graph"
	"github.com/tetherdev/tether/internal/machine"
	"github.com/tetherdev/tether/internal/parse"
	"github.com/tetherdev/tether/internal/queue"
	"github.com/tetherdev/tether/internal/resolve"
	"github.com/tetherdev/tether/internal/state"
)

// DefaultWorkers bounds the gateway worker pool for independent
// entities.
const DefaultWorkers = 6

// Connectivity is the engine's view of the remote, decided by the
// first gateway call that fails with a network error and sticky for
// the rest of the run.
type Connectivity int

const (
	// Unknown means no gateway call has settled the question yet.
	Unknown Connectivity = iota
	// Online means gateway calls are going through.
	Online
	// Offline means a network failure was observed: state mutations
	// queue, content pushes defer to the next run, reads fail.
	Offline
)

// PromptFunc asks the user how to resolve an unmergeable conflict.
// fields names the conflicting content fields.
type PromptFunc func(id string, fields []string) (resolve.Strategy, error)

// Options configures an Engine.
type Options struct {
	Gateway  graph.Gateway
	Store    *state.Store
	Queue    *queue.Queue
	Cache    *cache.DB // optional; nil disables the mirror
	PlansDir string

	// Workers bounds the gateway pool. Zero means DefaultWorkers.
	Workers int

	// Strategy applies to conflicts when no Prompt is set.
	// Empty means resolve.StrategySkip: never silently overwrite.
	Strategy resolve.Strategy

	// Prompt, when set, is consulted per conflicting entity instead
	// of Strategy.
	Prompt PromptFunc

	// Head reports the current git commit, or an error outside a
	// repository. Nil (or a failing Head) just leaves lastPushCommit
	// unset.
	Head func(ctx context.Context) (string, error)

	Logger *log.Logger
	Now    func() time.Time
}

// Engine is the sync client. One Engine serves one repository.
type Engine struct {
	gw       graph.Gateway
	store    *state.Store
	queue    *queue.Queue
	cache    *cache.DB
	plansDir string
	workers  int
	strategy resolve.Strategy
	prompt   PromptFunc
	head     func(ctx context.Context) (string, error)
	logger   *log.Logger
	now      func() time.Time

	mu   sync.Mutex
	conn Connectivity
}

// New validates opts and returns a ready Engine.
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("engine: gateway is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: state store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("engine: offline queue is required")
	}
	if opts.PlansDir == "" {
		return nil, fmt.Errorf("engine: plans directory is required")
	}
	e := &Engine{
		gw:       opts.Gateway,
		store:    opts.Store,
		queue:    opts.Queue,
		cache:    opts.Cache,
		plansDir: opts.PlansDir,
		workers:  opts.Workers,
		strategy: opts.Strategy,
		prompt:   opts.Prompt,
		head:     opts.Head,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	if e.strategy == "" {
		e.strategy = resolve.StrategySkip
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[tether] ", log.LstdFlags)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Connectivity reports the engine's current view of the remote.
func (e *Engine) Connectivity() Connectivity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

func (e *Engine) setOffline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn = Offline
}

func (e *Engine) setOnline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == Unknown {
		e.conn = Online
	}
}

// noteResult records connectivity evidence from a gateway call and
// reports whether the error was a network failure.
func (e *Engine) noteResult(err error) bool {
	if errors.Is(err, graph.ErrNetwork) {
		e.setOffline()
		return true
	}
	if err == nil || errors.Is(err, graph.ErrNotFound) {
		e.setOnline()
	}
	return false
}

// planSet holds the parsed plan files for one run and serializes
// writes back into them.
type planSet struct {
	mu      sync.Mutex
	sources map[string]string // path -> current file text
	byID    map[string]string // entity id -> path
	records []parse.Record
}

// loadPlans parses every .md file under the plans directory. Parse
// warnings are collected, not fatal; a duplicate id across files keeps
// the first occurrence like the in-file rule.
func (e *Engine) loadPlans() (*planSet, []parse.Warning, error) {
	ps := &planSet{
		sources: map[string]string{},
		byID:    map[string]string{},
	}
	var warnings []parse.Warning

	var paths []string
	err := filepath.WalkDir(e.plansDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan plans directory: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read plan file: %w", err)
		}
		recs, warns := parse.Parse(path, string(src))
		warnings = append(warnings, warns...)
		ps.sources[path] = string(src)
		for _, rec := range recs {
			if prev, ok := ps.byID[rec.ID]; ok {
				warnings = append(warnings, parse.Warning{
					File: path,
					Line: rec.Line,
					Msg:  fmt.Sprintf("duplicate id %s (first defined in %s), skipping", rec.ID, prev),
				})
				continue
			}
			ps.byID[rec.ID] = path
			ps.records = append(ps.records, rec)
		}
	}
	return ps, warnings, nil
}

// rewrite replaces the content block for id in its plan file, on disk
// and in the in-memory source so later rewrites to the same file
// compose.
func (ps *planSet) rewrite(id string, content entity.Content) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	path, ok := ps.byID[id]
	if !ok {
		return fmt.Errorf("no plan file holds %s", id)
	}
	updated, changed := parse.ReplaceContent(ps.sources[path], id, content)
	if !changed {
		return nil
	}
	if err := state.WriteFileAtomic(path, []byte(updated)); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	ps.sources[path] = updated
	return nil
}

// rewriteMarker updates the status checkbox in the entity's heading.
// Content sections are untouched; the marker is display, not content.
func (ps *planSet) rewriteMarker(id string, sym entity.Symbol) (bool, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	path, ok := ps.byID[id]
	if !ok {
		return false, fmt.Errorf("no plan file holds %s", id)
	}
	updated, changed := parse.ReplaceMarker(ps.sources[path], id, sym)
	if !changed {
		return false, nil
	}
	if err := state.WriteFileAtomic(path, []byte(updated)); err != nil {
		return false, fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	ps.sources[path] = updated
	return true, nil
}

// replayQueue drains pending state mutations before an online
// operation. A network failure flips the engine offline and retains
// the unprocessed remainder.
func (e *Engine) replayQueue(ctx context.Context, rep *Report) error {
	// A known-dead network would only burn retry attempts; the queue
	// waits for the next run.
	if e.Connectivity() == Offline {
		return nil
	}
	n, err := e.queue.Len()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	replayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	qr, err := e.queue.Replay(replayCtx, func(ctx context.Context, qe queue.Entry) error {
		rec, err := e.gw.Get(ctx, qe.EntityID)
		if e.noteResult(err) {
			cancel() // retain the rest untouched
			return err
		}
		if err != nil {
			return err
		}
		st, err := machine.Apply(rec.Kind, rec.State, qe.TargetStatus, qe.Reason)
		if err != nil {
			return err
		}
		res, err := e.gw.Put(ctx, qe.EntityID, graph.Upsert{State: &st})
		if e.noteResult(err) {
			cancel()
			return err
		}
		if err != nil {
			return err
		}
		e.mirrorState(ctx, qe.EntityID, st, res.GraphHash)
		return nil
	}, queue.ReplayOptions{IsConflict: isReplayConflict})
	if err != nil {
		return err
	}

	rep.Replayed = qr.Applied
	rep.Dropped += qr.Dropped
	rep.DeadLettered += qr.DeadLettered
	return nil
}

// Replay drains the pending queue without touching plan files. Push
// and Pull replay implicitly; this is the explicit `queue replay`
// entry point.
func (e *Engine) Replay(ctx context.Context) (*Report, error) {
	rep := &Report{}
	if err := e.replayQueue(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// isReplayConflict classifies errors that mean a queued mutation can
// never apply.
func isReplayConflict(err error) bool {
	return errors.Is(err, graph.ErrNotFound) ||
		errors.Is(err, machine.ErrInvalidTransition) ||
		errors.Is(err, graph.ErrDuplicate)
}

// mirrorState pushes a confirmed state change into the local cache.
// Mirror failures are logged, never fatal: the cache is rebuildable.
func (e *Engine) mirrorState(ctx context.Context, id string, st entity.State, graphHash string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetState(ctx, id, st, graphHash); err != nil {
		e.logger.Printf("Warning: failed to mirror state for %s: %v", id, err)
	}
}
