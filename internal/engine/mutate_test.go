package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/machine"
)

func pushAndPull(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.engine(t).Push(ctx, PushOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine(t).Pull(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestMutateStartTask(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	rep, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}
	if len(rep.Mutations) != 1 || rep.Queued() {
		t.Fatalf("mutations = %+v", rep.Mutations)
	}
	m := rep.Mutations[0]
	if m.From != entity.StatusNotStarted || m.To != entity.StatusInProgress {
		t.Errorf("mutation = %+v", m)
	}

	if got := env.gw.get("e1_s1_t1").State.Status; got != entity.StatusInProgress {
		t.Errorf("remote status = %q", got)
	}
	cached, _ := env.cache.Get(ctx, "e1_s1_t1")
	if cached.State.Status != entity.StatusInProgress {
		t.Errorf("mirrored status = %q", cached.State.Status)
	}

	// The state-only upsert moved the remote hash; the checkpoint
	// followed, so the next push stays on the fast path.
	rep2, err := env.engine(t).Push(ctx, PushOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rep2.Conflicted != 0 || rep2.Pushed != 0 {
		t.Errorf("push after mutate: %s", rep2.Summary())
	}
}

func TestMutateInvalidTransitionBeforeNetwork(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "block", MutateOptions{Reason: "waiting on api keys"}); err != nil {
		t.Fatal(err)
	}
	putsBefore := env.gw.puts["e1_s1_t1"]

	_, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "complete", MutateOptions{})
	if !errors.Is(err, machine.ErrInvalidTransition) {
		t.Fatalf("Mutate() error = %v, want invalid transition", err)
	}
	if env.gw.puts["e1_s1_t1"] != putsBefore {
		t.Error("invalid transition still reached the remote")
	}
}

func TestMutateBlockRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "block", MutateOptions{}); err == nil {
		t.Fatal("block without reason succeeded")
	}
}

func TestMutateCascadeCompletesAncestors(t *testing.T) {
	// Completing the last open task rolls the sprint up, and the last
	// sprint rolls the epic up.
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "complete", MutateOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := env.gw.get("e1_s1").State.Status; got != entity.StatusActive {
		t.Fatalf("sprint completed early: %q", got)
	}

	rep, err := env.engine(t).Mutate(ctx, "e1_s1_t2", "complete", MutateOptions{Cascade: true})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}

	var ids []string
	for _, m := range rep.Mutations {
		ids = append(ids, m.ID)
	}
	want := []string{"e1_s1_t2", "e1_s1", "e1"}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Fatalf("mutations = %v, want %v", ids, want)
	}
	for _, id := range want {
		if got := env.gw.get(id).State.Status; got != entity.StatusComplete {
			t.Errorf("%s status = %q, want complete", id, got)
		}
	}
}

func TestMutateCascadeStopsAtOpenSibling(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	// t2 still open: completing t1 with cascade must not touch the
	// sprint.
	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{}); err != nil {
		t.Fatal(err)
	}
	rep, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "complete", MutateOptions{Cascade: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Mutations) != 1 {
		t.Fatalf("mutations = %+v, cascade crossed an open sibling", rep.Mutations)
	}
	if got := env.gw.get("e1_s1").State.Status; got != entity.StatusActive {
		t.Errorf("sprint status = %q", got)
	}
}

func TestMutateWithoutCascadeLeavesAncestors(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	for _, id := range []string{"e1_s1_t1", "e1_s1_t2"} {
		if _, err := env.engine(t).Mutate(ctx, id, "start", MutateOptions{}); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine(t).Mutate(ctx, id, "complete", MutateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if got := env.gw.get("e1_s1").State.Status; got != entity.StatusActive {
		t.Errorf("sprint status = %q, cascade ran without opt-in", got)
	}
}

func TestMutateOfflineQueuesAndReplays(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	env.gw.setOffline(true)
	rep, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{})
	if err != nil {
		t.Fatalf("offline Mutate() failed: %v", err)
	}
	if !rep.Queued() {
		t.Fatalf("mutations = %+v, want queued", rep.Mutations)
	}
	if n, _ := env.queue.Len(); n != 1 {
		t.Fatalf("queue length = %d", n)
	}
	if got := env.gw.get("e1_s1_t1").State.Status; got != entity.StatusNotStarted {
		t.Fatalf("remote status = %q while offline", got)
	}

	// Replay rides the front of the next online operation.
	env.gw.setOffline(false)
	prep, err := env.engine(t).Push(ctx, PushOptions{})
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if prep.Replayed != 1 {
		t.Fatalf("push after offline mutate: %s", prep.Summary())
	}
	if got := env.gw.get("e1_s1_t1").State.Status; got != entity.StatusInProgress {
		t.Errorf("replayed status = %q", got)
	}
	if n, _ := env.queue.Len(); n != 0 {
		t.Errorf("queue length = %d after replay", n)
	}

	// Exactly once: another run replays nothing.
	prep2, err := env.engine(t).Push(ctx, PushOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if prep2.Replayed != 0 {
		t.Errorf("second replay applied %d", prep2.Replayed)
	}
}

func TestMutateReplayConflictDropped(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	env.gw.setOffline(true)
	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{}); err != nil {
		t.Fatal(err)
	}

	// The entity disappears remotely before the queue replays.
	env.gw.setOffline(false)
	env.gw.mu.Lock()
	delete(env.gw.records, "e1_s1_t1")
	env.gw.mu.Unlock()

	rep, err := env.engine(t).Push(ctx, PushOptions{})
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if rep.Dropped != 1 {
		t.Errorf("push: %s, want the stale entry dropped with a warning", rep.Summary())
	}
	if n, _ := env.queue.Len(); n != 0 {
		t.Errorf("queue length = %d", n)
	}
}

func TestMutateDeleteTombstones(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t2", "delete", MutateOptions{}); err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}
	if got := env.gw.get("e1_s1_t2").State.Status; got != entity.StatusTombstone {
		t.Errorf("remote status = %q, want tombstone", got)
	}
}

func TestMutateReplaysQueueBeforeOnlineMutation(t *testing.T) {
	// An offline start followed by an online complete must land in that
	// order: the queued entry replays first, then the new mutation
	// validates against the replayed state.
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	env.gw.setOffline(true)
	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "start", MutateOptions{}); err != nil {
		t.Fatal(err)
	}
	if n, _ := env.queue.Len(); n != 1 {
		t.Fatalf("queue length = %d", n)
	}

	env.gw.setOffline(false)
	rep, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "complete", MutateOptions{})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}
	if rep.Replayed != 1 || rep.Dropped != 0 {
		t.Fatalf("replayed = %d, dropped = %d", rep.Replayed, rep.Dropped)
	}
	if n, _ := env.queue.Len(); n != 0 {
		t.Errorf("queue length = %d after online mutate", n)
	}
	if len(rep.Mutations) != 1 {
		t.Fatalf("mutations = %+v", rep.Mutations)
	}
	if m := rep.Mutations[0]; m.From != entity.StatusInProgress || m.To != entity.StatusComplete {
		t.Errorf("mutation = %+v, want in_progress -> complete", m)
	}
	if got := env.gw.get("e1_s1_t1").State.Status; got != entity.StatusComplete {
		t.Errorf("remote status = %q", got)
	}

	// Nothing stale left behind for the next push to drop.
	prep, err := env.engine(t).Push(ctx, PushOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if prep.Replayed != 0 || prep.Dropped != 0 {
		t.Errorf("push after mutate: %s", prep.Summary())
	}
}

func TestMutateCascadeDeclinedProposal(t *testing.T) {
	// A declined proposal leaves the parent open and stops the roll-up
	// above it; the report carries it as a proposal only.
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)
	ctx := context.Background()

	if _, err := env.engine(t).Mutate(ctx, "e1_s1_t1", "complete", MutateOptions{}); err != nil {
		t.Fatal(err)
	}

	var asked []string
	rep, err := env.engine(t).Mutate(ctx, "e1_s1_t2", "complete", MutateOptions{
		Cascade: true,
		ConfirmCascade: func(id string, kind entity.Kind, to entity.Status) (bool, error) {
			asked = append(asked, id)
			return false, nil
		},
	})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}

	if len(asked) != 1 || asked[0] != "e1_s1" {
		t.Fatalf("confirmations asked for %v, want [e1_s1]", asked)
	}
	if len(rep.Mutations) != 1 || rep.Mutations[0].ID != "e1_s1_t2" {
		t.Fatalf("mutations = %+v, want the task only", rep.Mutations)
	}
	if len(rep.Proposed) != 1 || rep.Proposed[0].ID != "e1_s1" || rep.Proposed[0].To != entity.StatusComplete {
		t.Fatalf("proposed = %+v", rep.Proposed)
	}
	if got := env.gw.get("e1_s1").State.Status; got != entity.StatusActive {
		t.Errorf("sprint status = %q, declined proposal still applied", got)
	}
	if got := env.gw.get("e1").State.Status; got != entity.StatusActive {
		t.Errorf("epic status = %q, cascade crossed a declined parent", got)
	}
}

func TestMutateUnknownEntity(t *testing.T) {
	env := newTestEnv(t)
	env.writePlan(t, "payments.md", samplePlan)
	pushAndPull(t, env)

	_, err := env.engine(t).Mutate(context.Background(), "e9_s1_t1", "start", MutateOptions{})
	if err == nil {
		t.Fatal("mutating an unknown entity succeeded")
	}
}
