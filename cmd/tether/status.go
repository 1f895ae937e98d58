package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "info",
	Short:   "Show local sync status",
	Long: `Status summarizes the local side without touching the network: how many
entities the plan files hold, which ones changed since the last push,
files still carrying conflict markers, and the depth of the offline
queue.`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(engineOptions{assumeYes: true})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		st, err := rt.eng.Status(context.Background())
		if err != nil {
			exitf("status failed: %v", err)
		}

		fmt.Printf("\n%s\n\n", ui.RenderHeader("tether status"))
		fmt.Printf("Entities: %d", st.Entities)
		if st.Entities > 0 {
			fmt.Printf("  (%d epics, %d sprints, %d tasks)",
				st.ByKind[entity.KindEpic], st.ByKind[entity.KindSprint], st.ByKind[entity.KindTask])
		}
		fmt.Println()
		fmt.Printf("Mirrored: %d\n", st.Mirrored)
		fmt.Printf("Last push: %s\n", formatTime(st.LastPush))
		if st.HeadAtPush != "" {
			fmt.Printf("  at commit %s\n", ui.RenderMuted(shortHash(st.HeadAtPush)))
		}
		fmt.Printf("Last pull: %s\n", formatTime(st.LastPull))
		fmt.Println()

		if len(st.Changed) > 0 {
			fmt.Printf("%s %d entit%s changed since last push:\n",
				ui.RenderAccent("●"), len(st.Changed), plural(len(st.Changed), "y", "ies"))
			for _, id := range st.Changed {
				fmt.Printf("  %s\n", id)
			}
		} else {
			fmt.Printf("%s everything pushed\n", ui.RenderPassIcon())
		}

		for _, path := range st.Marked {
			fmt.Printf("%s conflict markers in %s\n", ui.RenderFail(ui.IconConflict), path)
		}
		for _, w := range st.Warnings {
			fmt.Printf("%s %s\n", ui.RenderWarnIcon(), w)
		}
		if st.Pending > 0 {
			fmt.Printf("%s %d queued mutation%s pending replay\n",
				ui.RenderWarn(ui.IconQueued), st.Pending, plural(st.Pending, "", "s"))
		}
		if st.Dead > 0 {
			fmt.Printf("%s %d dead-lettered mutation%s (see `tether queue list`)\n",
				ui.RenderFailIcon(), st.Dead, plural(st.Dead, "", "s"))
		}
		fmt.Println()
	},
}

var diffCmd = &cobra.Command{
	Use:     "diff",
	GroupID: "info",
	Short:   "Show field-level differences between plans and the mirror",
	Long: `Diff compares parsed plan content against the last pulled mirror,
field by field. It is purely local; run pull first if the mirror may
be stale.`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(engineOptions{assumeYes: true})
		if err != nil {
			exitf("%v", err)
		}
		defer rt.close()

		diffs, err := rt.eng.Diff(context.Background())
		if err != nil {
			exitf("diff failed: %v", err)
		}
		if len(diffs) == 0 {
			fmt.Printf("%s no differences\n", ui.RenderPassIcon())
			return
		}

		for _, d := range diffs {
			switch {
			case d.LocalOnly:
				fmt.Printf("%s %s %s\n", ui.RenderAccent("+"), d.ID, ui.RenderMuted("(local only, not pushed)"))
			case d.RemoteOnly:
				fmt.Printf("%s %s %s %s\n", ui.RenderWarn("-"), d.ID,
					ui.RenderMuted("(remote only)"), ui.RenderStatus(d.State.Status))
			default:
				fmt.Printf("%s %s %s\n", ui.RenderAccent("~"), d.ID, ui.RenderStatus(d.State.Status))
				for _, f := range d.Fields {
					fmt.Printf("  %s%s\n", ui.TreeLast, ui.RenderAccent(f.Field))
					printFieldSide(f.Remote, "-", ui.RenderFail)
					printFieldSide(f.Local, "+", ui.RenderPass)
				}
			}
		}
	},
}

func printFieldSide(text, sign string, render func(string) string) {
	if text == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Printf("    %s\n", render(sign+" "+line))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ui.RenderMuted("never")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
}
