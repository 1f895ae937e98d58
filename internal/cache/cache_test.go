package cache

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/graph"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func taskRecord(id, title string, status entity.Status) *graph.Record {
	return &graph.Record{
		ID:    id,
		Kind:  entity.KindTask,
		Title: title,
		Content: entity.Content{
			Problem:  "problem text for " + id,
			Approach: "approach text",
		},
		State:     entity.State{Status: status, Assignee: "mira"},
		GraphHash: "gh-" + id,
		UpdatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='entities'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("entities table does not exist")
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	want := taskRecord("e1_s1_t1", "Fix parser", entity.StatusInProgress)
	if err := db.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	got, err := db.Get(ctx, "e1_s1_t1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for cached id")
	}
	if !reflect.DeepEqual(got.Content, want.Content) {
		t.Errorf("Content = %+v, want %+v", got.Content, want.Content)
	}
	if got.State != want.State {
		t.Errorf("State = %+v, want %+v", got.State, want.State)
	}
	if got.GraphHash != want.GraphHash || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := taskRecord("e1_s1_t1", "Fix parser", entity.StatusNotStarted)
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.State.Status = entity.StatusComplete
	rec.GraphHash = "gh-2"
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	got, _ := db.Get(ctx, "e1_s1_t1")
	if got.State.Status != entity.StatusComplete || got.GraphHash != "gh-2" {
		t.Errorf("got %+v after second upsert", got)
	}
}

func TestGetMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.Get(context.Background(), "e9")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil for uncached id", got)
	}
}

func TestSetStateLeavesContent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := taskRecord("e1_s1_t1", "Fix parser", entity.StatusInProgress)
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	st := entity.State{Status: entity.StatusBlocked, Assignee: "mira", BlockedReason: "waiting on api keys"}
	if err := db.SetState(ctx, "e1_s1_t1", st, "gh-3"); err != nil {
		t.Fatalf("SetState() failed: %v", err)
	}

	got, _ := db.Get(ctx, "e1_s1_t1")
	if got.State != st {
		t.Errorf("State = %+v, want %+v", got.State, st)
	}
	if got.GraphHash != "gh-3" {
		t.Errorf("GraphHash = %q, want gh-3", got.GraphHash)
	}
	if !reflect.DeepEqual(got.Content, rec.Content) {
		t.Errorf("Content changed across SetState: %+v", got.Content)
	}
}

func TestListFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	records := []*graph.Record{
		{ID: "e1", Kind: entity.KindEpic, Title: "Ship v2", State: entity.State{Status: entity.StatusActive}},
		{ID: "e1_s1", Kind: entity.KindSprint, Title: "Sprint 1", State: entity.State{Status: entity.StatusActive}},
		taskRecord("e1_s1_t1", "Fix parser", entity.StatusComplete),
		taskRecord("e1_s1_t2", "Write tests", entity.StatusInProgress),
	}
	for _, rec := range records {
		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"all", ListOptions{}, []string{"e1", "e1_s1", "e1_s1_t1", "e1_s1_t2"}},
		{"by kind", ListOptions{Kind: entity.KindTask}, []string{"e1_s1_t1", "e1_s1_t2"}},
		{"by status", ListOptions{Status: entity.StatusComplete}, []string{"e1_s1_t1"}},
		{"by parent", ListOptions{Parent: "e1_s1"}, []string{"e1_s1_t1", "e1_s1_t2"}},
		{"by assignee", ListOptions{Assignee: "mira"}, []string{"e1_s1_t1", "e1_s1_t2"}},
		{"no match", ListOptions{Status: entity.StatusTombstone}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := db.List(ctx, tt.opts)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			var got []string
			for _, r := range recs {
				got = append(got, r.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("List(%+v) = %v, want %v", tt.opts, got, tt.want)
			}
		})
	}
}

func TestOrphans(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, rec := range []*graph.Record{
		{ID: "e1", Kind: entity.KindEpic, Title: "Ship v2", State: entity.State{Status: entity.StatusActive}},
		{ID: "e1_s1", Kind: entity.KindSprint, Title: "Sprint 1", State: entity.State{Status: entity.StatusActive}},
		taskRecord("e1_s1_t1", "ok", entity.StatusNotStarted),
		taskRecord("e1_s2_t1", "sprint missing", entity.StatusNotStarted),
		{ID: "e2_s1", Kind: entity.KindSprint, Title: "epic missing", State: entity.State{Status: entity.StatusPlanned}},
	} {
		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.Orphans(ctx)
	if err != nil {
		t.Fatalf("Orphans() failed: %v", err)
	}
	want := []string{"e1_s2_t1", "e2_s1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Orphans() = %v, want %v", got, want)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, taskRecord("e1_s1_t1", "x", entity.StatusNotStarted)); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, "e1_s1_t1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(ctx, "e1_s1_t1"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
	if n, _ := db.Count(ctx); n != 0 {
		t.Errorf("Count() = %d after delete, want 0", n)
	}
}
