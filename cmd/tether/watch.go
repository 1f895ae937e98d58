package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/engine"
	"github.com/tetherdev/tether/internal/ui"
	"github.com/tetherdev/tether/internal/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch plan files and push changes automatically",
	Long: `Watch monitors the plans directory for markdown edits and pushes after
a quiet period. Editor save bursts collapse into one sync.

Conflicts are never resolved automatically here: anything a clean
merge cannot settle is skipped and logged, to be handled by an
explicit push. Activity is logged to .tether/logs/watch.log with
rotation.

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		stateDir := findStateDir()
		if stateDir == "" {
			exitf("%s directory not found; run `tether init` first", stateDirName)
		}

		// Resolve the plans dir once up front so a broken config fails
		// fast instead of on the first sync.
		rt, err := openRuntime(engineOptions{assumeYes: true})
		if err != nil {
			exitf("%v", err)
		}
		plansDir := filepath.Join(rt.repoRoot, rt.cfg.Sync.Plans)
		rt.close()

		logPath := filepath.Join(stateDir, "logs", "watch.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			exitf("%v", err)
		}
		lw := watch.NewLogWriter(logPath)
		defer lw.Close()
		logger := log.New(io.MultiWriter(os.Stdout, lw), "", log.LstdFlags)

		pw, err := watch.NewPlanWatcher()
		if err != nil {
			exitf("%v", err)
		}
		if err := pw.Start(plansDir); err != nil {
			exitf("%v", err)
		}
		defer pw.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s watching %s (log: %s)\n", ui.RenderAccent("👁"), plansDir, logPath)
		fmt.Println(ui.RenderMuted("press Ctrl+C to stop"))

		runner := &watch.Runner{
			Watcher:  pw,
			Debounce: watchDebounce,
			Logger:   logger,
			Sync:     func(ctx context.Context) error { return watchSync(ctx, logger) },
		}
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			exitf("watch stopped: %v", err)
		}
		fmt.Printf("\n%s stopped\n", ui.RenderPassIcon())
	},
}

// watchSync runs one push pass with a fresh engine. Connectivity is
// sticky per engine, so a new one per pass lets the daemon recover
// when the network comes back.
func watchSync(ctx context.Context, logger *log.Logger) error {
	rt, err := openRuntime(engineOptions{assumeYes: true})
	if err != nil {
		return err
	}
	defer rt.close()

	rep, err := rt.eng.Push(ctx, engine.PushOptions{})
	if err != nil {
		return err
	}
	logger.Printf("push: %s", rep.Summary())
	for _, id := range rep.ConflictIDs {
		logger.Printf("conflict on %s: run `tether push` to resolve", id)
	}
	return nil
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period before syncing")
	rootCmd.AddCommand(watchCmd)
}
