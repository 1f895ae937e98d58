// Package state persists the per-repository sync checkpoints and
// project identity under the .tether directory.
//
// The store is an explicit capability handed to the sync engine rather
// than ambient global state, so the engine can be tested against an
// in-memory implementation. All mutations go through an advisory file
// lock; concurrent CLI invocations against the same repository never
// corrupt the state files.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	syncStateFile = "sync-state.json"
	identityFile  = "local.json"
	lockFile      = ".lock"
)

// Checkpoint is the last agreed (content_hash, graph_hash) pair for one
// entity. It is the 3-way merge base for conflict detection.
type Checkpoint struct {
	LastPushedContentHash string    `json:"lastPushedContentHash"`
	LastKnownGraphHash    string    `json:"lastKnownGraphHash"`
	LastPushTS            time.Time `json:"lastPushTs,omitzero"`
	LastPullTS            time.Time `json:"lastPullTs,omitzero"`
}

// SyncState is the on-disk checkpoint map, one per local repository.
type SyncState struct {
	LastPushCommit    string    `json:"lastPushCommit,omitempty"`
	LastPushTimestamp time.Time `json:"lastPushTimestamp,omitzero"`
	LastPullTimestamp time.Time `json:"lastPullTimestamp,omitzero"`

	// Entities maps entity id to its checkpoint.
	Entities map[string]Checkpoint `json:"entities"`
}

// Checkpoint returns the checkpoint for id, zero if never synced.
func (s *SyncState) Checkpoint(id string) Checkpoint {
	if s.Entities == nil {
		return Checkpoint{}
	}
	return s.Entities[id]
}

// Identity is the project-local identity and remote binding, distinct
// from the user's global credential file.
type Identity struct {
	GraphID   string `json:"graphId"`
	Actor     string `json:"actor"`
	TokenFile string `json:"tokenFile,omitempty"`
}

// Store reads and writes the state files for one repository.
type Store struct {
	dir string
}

// Open returns a store rooted at dir (the .tether directory). The
// directory is created if missing.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Lock takes the advisory lock guarding all state file mutation. The
// returned release function must be called exactly once.
func (s *Store) Lock() (func(), error) {
	return AcquireLock(filepath.Join(s.dir, lockFile))
}

// AcquireLock takes an exclusive advisory lock on path. Exposed so the
// offline queue can share the same locking scheme for its own files.
func AcquireLock(path string) (func(), error) {
	return acquireLock(path)
}

// WriteFileAtomic writes data to path via temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}

// LoadSyncState reads sync-state.json. A missing file yields an empty
// state, not an error.
func (s *Store) LoadSyncState() (*SyncState, error) {
	var st SyncState
	if err := s.readJSON(syncStateFile, &st); err != nil {
		if os.IsNotExist(err) {
			return &SyncState{Entities: map[string]Checkpoint{}}, nil
		}
		return nil, err
	}
	if st.Entities == nil {
		st.Entities = map[string]Checkpoint{}
	}
	return &st, nil
}

// SaveSyncState atomically replaces sync-state.json.
func (s *Store) SaveSyncState(st *SyncState) error {
	return s.writeJSON(syncStateFile, st)
}

// UpdateCheckpoint atomically updates one entity's checkpoint on disk.
// An interrupted run never leaves a half-updated checkpoint: the whole
// file is rewritten via rename.
func (s *Store) UpdateCheckpoint(id string, cp Checkpoint) error {
	return s.Update(func(st *SyncState) {
		st.Entities[id] = cp
	})
}

// Update locks the state files, applies fn to the loaded sync state,
// and writes the result back atomically. fn must not call back into
// the store; the lock is not reentrant.
func (s *Store) Update(fn func(*SyncState)) error {
	release, err := s.Lock()
	if err != nil {
		return err
	}
	defer release()

	st, err := s.LoadSyncState()
	if err != nil {
		return err
	}
	fn(st)
	return s.SaveSyncState(st)
}

// LoadIdentity reads local.json.
func (s *Store) LoadIdentity() (*Identity, error) {
	var id Identity
	if err := s.readJSON(identityFile, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// SaveIdentity writes local.json.
func (s *Store) SaveIdentity(id *Identity) error {
	return s.writeJSON(identityFile, id)
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return writeFileAtomic(filepath.Join(s.dir, name), append(data, '\n'))
}

// writeFileAtomic writes via a temp file and rename so readers never
// observe a torn file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
