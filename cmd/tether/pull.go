package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var (
	pullStrategy string
	pullYes      bool
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Mirror remote state and content into local plan files",
	Long: `Pull fetches the full entity tree from the graph store and updates the
local side.

State fields (status, assignee, blocked reason) are mirrored
unconditionally: the graph owns them. Content is merged three ways
against the last synced version; remote-only edits rewrite the plan
file, divergent edits are settled by --strategy or reported with exit
code 2. Local files are never deleted, not even for tombstoned
entities.

Pull is a read-modify-local operation and requires the remote: it
fails when offline rather than pretending the mirror is fresh.`,
	Run: func(cmd *cobra.Command, args []string) {
		strategy, err := parseStrategy(pullStrategy)
		if err != nil {
			exitf("%v", err)
		}

		rt, err := openRuntime(engineOptions{strategy: strategy, assumeYes: pullYes})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		rep, err := rt.eng.Pull(context.Background())
		if err != nil {
			exitf("pull failed: %v", err)
		}

		printReport(rep, false)
		os.Exit(rep.ExitCode())
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullStrategy, "strategy", "", "conflict strategy: keep-local, keep-remote, manual or skip")
	pullCmd.Flags().BoolVarP(&pullYes, "yes", "y", false, "never prompt; conflicting files are left untouched and reported")
	rootCmd.AddCommand(pullCmd)
}
