package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/engine"
	"github.com/tetherdev/tether/internal/ui"
)

var (
	pushDryRun   bool
	pushStrategy string
	pushYes      bool
)

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Upload local plan content to the graph store",
	Long: `Push parses every plan file and uploads changed content fields to the
graph store.

Push never writes state fields on existing records: status, assignee
and blocked reason belong to the graph. When both sides changed the
same entity since the last sync, tether attempts a field-level
three-way merge; conflicts that survive the merge are settled by
--strategy, an interactive prompt, or reported with exit code 2.

Queued offline mutations are replayed first. When the remote is
unreachable, content pushes are deferred without error and retried on
the next online run.`,
	Run: func(cmd *cobra.Command, args []string) {
		strategy, err := parseStrategy(pushStrategy)
		if err != nil {
			exitf("%v", err)
		}

		rt, err := openRuntime(engineOptions{strategy: strategy, assumeYes: pushYes})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		rep, err := rt.eng.Push(context.Background(), engine.PushOptions{
			DryRun:   pushDryRun,
			Strategy: strategy,
		})
		if err != nil {
			exitf("push failed: %v", err)
		}

		printReport(rep, pushDryRun)
		os.Exit(rep.ExitCode())
	},
}

func init() {
	pushCmd.Flags().BoolVarP(&pushDryRun, "dry-run", "n", false, "report what would change without writing anything")
	pushCmd.Flags().StringVar(&pushStrategy, "strategy", "", "conflict strategy: keep-local, keep-remote, manual or skip")
	pushCmd.Flags().BoolVarP(&pushYes, "yes", "y", false, "never prompt; unresolved conflicts are skipped and reported")
	rootCmd.AddCommand(pushCmd)
}

// printReport renders the batch summary shared by push and pull.
func printReport(rep *engine.Report, dryRun bool) {
	for _, w := range rep.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarnIcon(), w)
	}
	for _, id := range rep.Orphans {
		fmt.Fprintf(os.Stderr, "%s orphan: %s\n", ui.RenderWarnIcon(), id)
	}
	for _, err := range rep.Errors {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFailIcon(), err)
	}

	icon := ui.RenderPass(ui.IconPass)
	switch {
	case rep.Conflicted > 0:
		icon = ui.RenderFail(ui.IconConflict)
	case len(rep.Errors) > 0:
		icon = ui.RenderFail(ui.IconFail)
	case rep.Deferred > 0:
		icon = ui.RenderWarn(ui.IconWarn)
	}
	prefix := ""
	if dryRun {
		prefix = ui.RenderMuted("[dry-run] ")
	}
	fmt.Printf("%s %s%s\n", icon, prefix, rep.Summary())

	if rep.Conflicted > 0 {
		for _, id := range rep.ConflictIDs {
			fmt.Printf("  %s %s\n", ui.RenderFail(ui.IconConflict), id)
		}
		fmt.Println(ui.RenderMuted("resolve conflicts and push again, or rerun with --strategy"))
	}
	if rep.Deferred > 0 {
		fmt.Println(ui.RenderMuted("remote unreachable; deferred changes will push on the next online run"))
	}
}
