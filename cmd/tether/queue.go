package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/queue"
	"github.com/tetherdev/tether/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "state",
	Short:   "Inspect and manage the offline mutation queue",
	Long: `State mutations made while the graph store is unreachable are queued
durably under .tether/ and replayed at the start of the next online
command. The queue subcommands inspect that backlog, force a replay,
and prune the dead-letter list.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and dead-lettered mutations",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(engineOptions{assumeYes: true})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		pending, err := rt.queue.Entries()
		if err != nil {
			exitf("reading queue: %v", err)
		}
		dead, err := rt.queue.DeadLetters()
		if err != nil {
			exitf("reading dead letters: %v", err)
		}

		if len(pending) == 0 && len(dead) == 0 {
			fmt.Printf("%s queue is empty\n", ui.RenderPassIcon())
			return
		}

		if len(pending) > 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader("pending"))
			for _, e := range pending {
				printEntry(e, ui.RenderWarn(ui.IconQueued))
			}
		}
		if len(dead) > 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader("dead letters"))
			for _, e := range dead {
				printEntry(e, ui.RenderFailIcon())
			}
			fmt.Println(ui.RenderMuted("\ndead letters are kept for audit; prune with `tether queue prune --before <when>`"))
		}
		fmt.Println()
	},
}

var queueReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay queued mutations now",
	Long: `Replay applies every pending mutation against the graph store in
queued order. Push and pull replay implicitly; this command exists to
drain the queue without touching plan files.`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(engineOptions{assumeYes: true})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		rep, err := rt.eng.Replay(context.Background())
		if err != nil {
			exitf("replay failed: %v", err)
		}

		switch {
		case rep.Replayed == 0 && rep.Dropped == 0 && rep.DeadLettered == 0:
			fmt.Printf("%s nothing to replay\n", ui.RenderPassIcon())
		default:
			fmt.Printf("%s replayed %d, dropped %d, dead-lettered %d\n",
				ui.RenderPassIcon(), rep.Replayed, rep.Dropped, rep.DeadLettered)
		}
		os.Exit(rep.ExitCode())
	},
}

var queuePruneBefore string

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old dead-lettered mutations",
	Long: `Prune deletes dead-letter entries queued before the given moment.
--before accepts natural language: "yesterday", "2 weeks ago",
"last monday", or an absolute date.`,
	Run: func(cmd *cobra.Command, args []string) {
		if queuePruneBefore == "" {
			exitf("--before is required")
		}
		cutoff, err := parseWhen(queuePruneBefore)
		if err != nil {
			exitf("%v", err)
		}

		rt, err := openRuntime(engineOptions{assumeYes: true})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		n, err := rt.queue.PruneDeadLetters(cutoff)
		if err != nil {
			exitf("prune failed: %v", err)
		}
		fmt.Printf("%s pruned %d dead letter%s before %s\n",
			ui.RenderPassIcon(), n, plural(n, "", "s"), cutoff.Local().Format("2006-01-02 15:04"))
	},
}

// parseWhen resolves a natural-language moment relative to now.
func parseWhen(s string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as a point in time", s)
	}
	return r.Time, nil
}

func printEntry(e queue.Entry, icon string) {
	line := fmt.Sprintf("%s %s -> %s", icon, e.EntityID, ui.RenderStatus(e.TargetStatus))
	if e.Reason != "" {
		line += ui.RenderMuted(" (" + e.Reason + ")")
	}
	line += ui.RenderMuted(fmt.Sprintf("  queued %s, %d attempt%s",
		e.QueuedAt.Local().Format("2006-01-02 15:04"), e.AttemptCount, plural(e.AttemptCount, "", "s")))
	fmt.Println(line)
}

func init() {
	queuePruneCmd.Flags().StringVar(&queuePruneBefore, "before", "", "prune entries queued before this moment (natural language ok)")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueReplayCmd)
	queueCmd.AddCommand(queuePruneCmd)
	rootCmd.AddCommand(queueCmd)
}
