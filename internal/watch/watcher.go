// Package watch provides file system watching for the tether watch
// daemon. It monitors the plans directory for markdown edits and drives
// a debounced sync loop.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new plan file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing plan file was modified.
	OpModify
	// OpDelete indicates a plan file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PlanEvent represents a file system event for a plan markdown file.
type PlanEvent struct {
	// Path is the path to the file that changed.
	Path string
	// Op is the operation that occurred (create, modify, delete).
	Op EventOp
}

// PlanWatcher watches the plans directory tree for markdown changes.
// It uses fsnotify for cross-platform file system event monitoring.
type PlanWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan PlanEvent
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	plansDir string
}

// NewPlanWatcher creates a new PlanWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewPlanWatcher() (*PlanWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &PlanWatcher{
		watcher: watcher,
		events:  make(chan PlanEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the plans directory tree for changes. Every
// existing subdirectory is registered; directories created later are
// picked up from their create events.
func (pw *PlanWatcher) Start(plansDir string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.running {
		return fmt.Errorf("watcher already running")
	}

	pw.plansDir = plansDir

	var added []string
	err := filepath.WalkDir(plansDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := pw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		added = append(added, path)
		return nil
	})
	if err != nil {
		for _, dir := range added {
			pw.watcher.Remove(dir)
		}
		return err
	}

	pw.running = true
	pw.wg.Add(1)
	go pw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (pw *PlanWatcher) Stop() error {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = false
	pw.mu.Unlock()

	// Signal shutdown
	close(pw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := pw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Wait for event processing to finish
	pw.wg.Wait()

	// Close channels
	close(pw.events)
	close(pw.errors)

	return nil
}

// Events returns the channel that emits PlanEvent notifications.
// This channel is closed when the watcher is stopped.
func (pw *PlanWatcher) Events() <-chan PlanEvent {
	return pw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (pw *PlanWatcher) Errors() <-chan error {
	return pw.errors
}

// processEvents is the main event loop that processes fsnotify events
// and converts them to PlanEvent notifications.
func (pw *PlanWatcher) processEvents() {
	defer pw.wg.Done()

	for {
		select {
		case <-pw.done:
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}

			if planEvent, ok := pw.convertEvent(event); ok {
				select {
				case pw.events <- planEvent:
				case <-pw.done:
					return
				}
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case pw.errors <- err:
			case <-pw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a PlanEvent.
// Returns (PlanEvent, true) if the event should be processed,
// or (PlanEvent{}, false) if the event should be ignored.
func (pw *PlanWatcher) convertEvent(event fsnotify.Event) (PlanEvent, bool) {
	// New subdirectories need their own watch before files inside them
	// produce events.
	if event.Has(fsnotify.Create) && isDir(event.Name) {
		if err := pw.watcher.Add(event.Name); err != nil {
			select {
			case pw.errors <- err:
			default:
			}
		}
		return PlanEvent{}, false
	}

	// Only process .md files
	if !strings.HasSuffix(event.Name, ".md") {
		return PlanEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return PlanEvent{}, false
	}

	return PlanEvent{
		Path: event.Name,
		Op:   op,
	}, true
}

// IsRunning returns true if the watcher is currently running.
func (pw *PlanWatcher) IsRunning() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.running
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
