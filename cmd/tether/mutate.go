package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tetherdev/tether/internal/engine"
	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/machine"
	"github.com/tetherdev/tether/internal/ui"
)

// mutateFlags are shared by every state mutation subcommand.
type mutateFlags struct {
	reason  string
	cascade bool
	yes     bool
}

// newMutateCmd builds one verb subcommand for a kind. All state
// changes funnel through the engine so online and offline behavior
// stay identical across verbs.
func newMutateCmd(kind entity.Kind, verb, short, long string) *cobra.Command {
	var flags mutateFlags

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := args[0]
			if k, err := entity.KindOf(id); err != nil {
				exitf("%v", err)
			} else if k != kind {
				exitf("%s is a %s id; use `tether %s %s`", id, k, k, verb)
			}

			if verb == "delete" && !flags.yes {
				if !confirmDelete(id) {
					fmt.Println(ui.RenderMuted("aborted"))
					return
				}
			}

			rt, err := openRuntime(engineOptions{assumeYes: true})
			if err != nil {
				exitf("%v", err)
			}
			defer rt.close()

			cascade := flags.cascade || rt.cfg.Sync.Cascade
			rep, err := rt.eng.Mutate(context.Background(), id, verb, engine.MutateOptions{
				Reason:         flags.reason,
				Cascade:        cascade,
				ConfirmCascade: cascadeConfirmer(flags.yes),
			})
			if err != nil {
				if errors.Is(err, machine.ErrInvalidTransition) {
					fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFailIcon(), err)
					os.Exit(1)
				}
				exitf("%v", err)
			}

			printMutations(rep)
		},
	}

	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "skip confirmation prompts")
	if verb == "block" {
		cmd.Flags().StringVar(&flags.reason, "reason", "", "why the task is blocked (required)")
	}
	if verb == "complete" {
		cmd.Flags().BoolVar(&flags.cascade, "cascade", false, "propose completing ancestors whose children are all done; with --yes they apply without asking")
	}
	return cmd
}

// cascadeConfirmer decides cascade proposals. --yes auto-applies; a
// terminal asks per proposal; anything else (CI, pipes) only reports
// the proposal.
func cascadeConfirmer(yes bool) func(id string, kind entity.Kind, to entity.Status) (bool, error) {
	if yes {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return func(string, entity.Kind, entity.Status) (bool, error) { return false, nil }
	}
	return func(id string, kind entity.Kind, to entity.Status) (bool, error) {
		ok := true
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("All children of %s are done. Mark the %s %s?", id, kind, to)).
				Value(&ok),
		))
		if err := form.Run(); err != nil {
			return false, err
		}
		return ok, nil
	}
}

func confirmDelete(id string) bool {
	fmt.Printf("Delete %s? The record is tombstoned remotely; the plan file is untouched. [y/N] ", id)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}

func printMutations(rep *engine.MutateReport) {
	if rep.Replayed > 0 || rep.Dropped > 0 || rep.DeadLettered > 0 {
		fmt.Printf("%s replayed %d queued mutation%s (dropped %d, dead-lettered %d)\n",
			ui.RenderMuted(ui.IconQueued), rep.Replayed, plural(rep.Replayed, "", "s"),
			rep.Dropped, rep.DeadLettered)
	}
	for _, m := range rep.Mutations {
		icon := ui.RenderPassIcon()
		note := ""
		if m.Queued {
			icon = ui.RenderWarn(ui.IconQueued)
			note = ui.RenderMuted(" (queued; replays when online)")
		}
		fmt.Printf("%s %s: %s -> %s%s\n", icon, m.ID,
			ui.RenderStatus(m.From), ui.RenderStatus(m.To), note)
	}
	for _, m := range rep.Proposed {
		fmt.Printf("%s %s could be marked %s; apply with --yes\n",
			ui.RenderAccent("?"), m.ID, ui.RenderStatus(m.To))
	}
}
