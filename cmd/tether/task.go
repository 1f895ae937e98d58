package main

import (
	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/entity"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "state",
	Short:   "Change task state in the graph store",
	Long: `Task subcommands mutate a task's lifecycle state directly in the graph
store: start, pause, block, unblock, complete, delete.

State changes bypass the markdown entirely; the next pull mirrors the
new status back into the checkbox marker. When the remote is
unreachable the mutation is queued durably and replayed on the next
online command.`,
}

func init() {
	taskCmd.AddCommand(
		newMutateCmd(entity.KindTask, "start",
			"Mark a task in progress",
			"Start moves a task from not_started to in_progress."),
		newMutateCmd(entity.KindTask, "pause",
			"Put an in-progress task back to not started",
			"Pause returns an in_progress task to not_started."),
		newMutateCmd(entity.KindTask, "block",
			"Block a task with a reason",
			`Block marks an in_progress task as blocked. A reason is required;
it is stored in the graph and shown by status listings.`),
		newMutateCmd(entity.KindTask, "unblock",
			"Resume a blocked task",
			"Unblock moves a blocked task back to in_progress and clears the reason."),
		newMutateCmd(entity.KindTask, "complete",
			"Mark a task complete",
			`Complete is terminal; there is no reopen transition.

With --cascade, completing the last open task also completes its
sprint, and completing the last open sprint completes the epic.`),
		newMutateCmd(entity.KindTask, "delete",
			"Tombstone a task",
			`Delete pushes a tombstone to the graph store. Nothing is ever
removed remotely, and the local plan file is left for you to edit.`),
	)
	rootCmd.AddCommand(taskCmd)
}
