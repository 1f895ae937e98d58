package state

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestLoadSyncStateMissingFile(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	st, err := s.LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState() error = %v", err)
	}
	if len(st.Entities) != 0 {
		t.Errorf("fresh state should be empty, got %d entries", len(st.Entities))
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	want := &SyncState{
		LastPushCommit:    "abc123",
		LastPushTimestamp: now,
		Entities: map[string]Checkpoint{
			"e1_s1_t1": {
				LastPushedContentHash: "h-content",
				LastKnownGraphHash:    "h-graph",
				LastPushTS:            now,
			},
		},
	}
	if err := s.SaveSyncState(want); err != nil {
		t.Fatalf("SaveSyncState() error = %v", err)
	}

	got, err := s.LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestUpdateCheckpoint(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	cp := Checkpoint{LastPushedContentHash: "c1", LastKnownGraphHash: "g1"}
	if err := s.UpdateCheckpoint("e1", cp); err != nil {
		t.Fatalf("UpdateCheckpoint() error = %v", err)
	}
	if err := s.UpdateCheckpoint("e2", Checkpoint{LastKnownGraphHash: "g2"}); err != nil {
		t.Fatal(err)
	}

	st, err := s.LoadSyncState()
	if err != nil {
		t.Fatal(err)
	}
	if got := st.Checkpoint("e1"); got != cp {
		t.Errorf("checkpoint e1 = %+v, want %+v", got, cp)
	}
	if st.Checkpoint("e2").LastKnownGraphHash != "g2" {
		t.Error("second checkpoint lost")
	}
	if got := st.Checkpoint("missing"); got != (Checkpoint{}) {
		t.Errorf("missing id should yield zero checkpoint, got %+v", got)
	}
}

func TestUpdateCheckpointConcurrent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if err := s.UpdateCheckpoint(id, Checkpoint{LastKnownGraphHash: id}); err != nil {
				t.Errorf("UpdateCheckpoint(%s): %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	st, err := s.LoadSyncState()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Entities) != n {
		t.Errorf("got %d checkpoints, want %d (lost updates under contention)", len(st.Entities), n)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	want := &Identity{GraphID: "g-42", Actor: "alice", TokenFile: "~/.config/tether/token"}
	if err := s.SaveIdentity(want); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("identity mismatch: got %+v, want %+v", got, want)
	}
}

func TestWriteFileAtomicNoTornReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.json")

	if err := writeFileAtomic(path, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("second")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("stray files left in dir: %v", entries)
	}
}
