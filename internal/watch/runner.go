package watch

import (
	"context"
	"fmt"
	"log"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultDebounce is how long the runner waits after the last plan
// event before triggering a sync. Editors tend to emit bursts of
// writes; syncing per event would hammer the remote.
const DefaultDebounce = 2 * time.Second

// SyncFunc performs one sync pass. The runner calls it after the
// debounce window closes with no further events.
type SyncFunc func(ctx context.Context) error

// Runner drives the watch loop: it consumes plan events from a
// PlanWatcher, debounces them, and invokes the sync function.
type Runner struct {
	Watcher  *PlanWatcher
	Sync     SyncFunc
	Debounce time.Duration
	Logger   *log.Logger
}

// NewLogWriter returns a size-rotated log writer for the watch daemon.
// Watch runs unattended for days; without rotation the log grows
// unbounded.
func NewLogWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// Run blocks processing events until ctx is cancelled or the watcher
// channels close. A sync failure is logged, not fatal: the next edit
// retries.
func (r *Runner) Run(ctx context.Context) error {
	if r.Watcher == nil || r.Sync == nil {
		return fmt.Errorf("watch runner needs a watcher and a sync function")
	}
	debounce := r.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}

	// The timer stays stopped until the first event arrives.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-r.Watcher.Events():
			if !ok {
				return nil
			}
			logger.Printf("plan %s: %s", ev.Op, ev.Path)
			pending++
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case err, ok := <-r.Watcher.Errors():
			if !ok {
				return nil
			}
			logger.Printf("watch error: %v", err)

		case <-timer.C:
			logger.Printf("syncing after %d change(s)", pending)
			pending = 0
			if err := r.Sync(ctx); err != nil {
				logger.Printf("sync failed: %v", err)
			}
		}
	}
}
