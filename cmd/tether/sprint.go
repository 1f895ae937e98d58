package main

import (
	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/entity"
)

var sprintCmd = &cobra.Command{
	Use:     "sprint",
	GroupID: "state",
	Short:   "Change sprint state in the graph store",
	Long: `Sprint subcommands mutate a sprint's lifecycle state: start, pause,
resume, complete, delete. Sprints use the container vocabulary
(planned, active, paused, complete).`,
}

var epicCmd = &cobra.Command{
	Use:     "epic",
	GroupID: "state",
	Short:   "Change epic state in the graph store",
	Long: `Epic subcommands mutate an epic's lifecycle state: start, pause,
resume, complete, delete. Epics use the container vocabulary
(planned, active, paused, complete).`,
}

func containerCmds(kind entity.Kind, noun string) []*cobra.Command {
	return []*cobra.Command{
		newMutateCmd(kind, "start",
			"Activate a "+noun,
			"Start moves a planned "+noun+" to active."),
		newMutateCmd(kind, "pause",
			"Pause an active "+noun,
			"Pause suspends an active "+noun+"."),
		newMutateCmd(kind, "resume",
			"Resume a paused "+noun,
			"Resume returns a paused "+noun+" to active."),
		newMutateCmd(kind, "complete",
			"Mark a "+noun+" complete",
			"Complete is terminal; there is no reopen transition."),
		newMutateCmd(kind, "delete",
			"Tombstone a "+noun,
			`Delete pushes a tombstone to the graph store. Nothing is ever
removed remotely, and the local plan file is left for you to edit.`),
	}
}

func init() {
	sprintCmd.AddCommand(containerCmds(entity.KindSprint, "sprint")...)
	epicCmd.AddCommand(containerCmds(entity.KindEpic, "epic")...)
	rootCmd.AddCommand(sprintCmd)
	rootCmd.AddCommand(epicCmd)
}
