// Command tether syncs git-tracked markdown plans with a remote graph
// store. Content flows from markdown to the graph; status flows back.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tetherdev/tether/internal/cache"
	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/engine"
	"github.com/tetherdev/tether/internal/gitx"
	"github.com/tetherdev/tether/internal/graph"
	"github.com/tetherdev/tether/internal/queue"
	"github.com/tetherdev/tether/internal/resolve"
	"github.com/tetherdev/tether/internal/state"
	"github.com/tetherdev/tether/internal/ui"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const stateDirName = ".tether"

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Sync markdown plans with the remote graph store",
	Long: `tether keeps git-tracked planning markdown and the remote graph store
in agreement.

Plan files under plans/ hold Epics, Sprints and Tasks. Content fields
(problem, solution, approach, files, acceptance criteria) are owned by
the markdown; lifecycle state (status, assignee, blocked reason) is
owned by the graph. Push uploads content, pull mirrors state back, and
task/sprint/epic commands mutate state directly.

Exit codes: 0 on success, 1 on failure, 2 when conflicts remain
unresolved.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
			ui.DisableColor()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tether version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tether %s\n", version)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "state", Title: "State Commands:"},
		&cobra.Group{ID: "info", Title: "Info Commands:"},
	)
	rootCmd.AddCommand(versionCmd)
}

// findStateDir walks up from the working directory looking for the
// .tether directory, the same way git finds .git.
func findStateDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, stateDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// runtime bundles everything a command needs: configuration, the open
// stores, and the engine built on top of them.
type runtime struct {
	cfg      *config.Config
	stateDir string
	repoRoot string
	store    *state.Store
	queue    *queue.Queue
	cache    *cache.DB
	eng      *engine.Engine
}

func (rt *runtime) close() {
	if rt.cache != nil {
		rt.cache.Close()
	}
}

// engineOptions tunes how openRuntime builds the engine.
type engineOptions struct {
	// strategy, when non-empty, settles every conflict without asking.
	strategy resolve.Strategy
	// assumeYes suppresses the interactive conflict prompt.
	assumeYes bool
}

// openRuntime locates the .tether directory, loads configuration and
// credentials, and wires up the engine. Callers must close() it.
func openRuntime(opts engineOptions) (*runtime, error) {
	stateDir := findStateDir()
	if stateDir == "" {
		return nil, fmt.Errorf("%s directory not found; run `tether init` first", stateDirName)
	}
	repoRoot := filepath.Dir(stateDir)

	cfg, err := config.Load(filepath.Join(stateDir, "config.toml"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, err
	}

	store, err := state.Open(stateDir)
	if err != nil {
		return nil, err
	}

	// The identity file pins graph id and token location per repo;
	// global credentials fill the gaps.
	tokenFile := creds.TokenFile
	if ident, err := store.LoadIdentity(); err == nil && ident != nil && ident.TokenFile != "" {
		tokenFile = ident.TokenFile
	}

	gw, err := graph.NewClient(graph.Options{
		BaseURL: cfg.Remote.URL,
		GraphID: cfg.Remote.GraphID,
		Timeout: cfg.Remote.Timeout.Duration,
		Tokens: &graph.FileToken{
			Path:       tokenFile,
			RefreshURL: strings.TrimRight(cfg.Remote.URL, "/") + "/v1/token/refresh",
		},
	})
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(stateDir, nil)
	if err != nil {
		return nil, err
	}

	db, err := cache.Open(filepath.Join(stateDir, "cache.db"))
	if err != nil {
		return nil, err
	}

	repo := gitx.Open(repoRoot)
	eopts := engine.Options{
		Gateway:  gw,
		Store:    store,
		Queue:    q,
		Cache:    db,
		PlansDir: filepath.Join(repoRoot, cfg.Sync.Plans),
		Workers:  cfg.Sync.Workers,
		Strategy: opts.strategy,
		Head: func(ctx context.Context) (string, error) {
			return repo.Head(ctx)
		},
	}
	if opts.strategy == "" && !opts.assumeYes && term.IsTerminal(int(os.Stdin.Fd())) {
		eopts.Prompt = conflictPrompt
	}

	eng, err := engine.New(eopts)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		stateDir: stateDir,
		repoRoot: repoRoot,
		store:    store,
		queue:    q,
		cache:    db,
		eng:      eng,
	}, nil
}

// conflictPrompt asks the user how to settle one conflicting entity.
func conflictPrompt(id string, fields []string) (resolve.Strategy, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Conflict on %s (%s)", id, strings.Join(fields, ", "))).
			Options(
				huh.NewOption("Keep local (overwrite remote)", string(resolve.StrategyKeepLocal)),
				huh.NewOption("Keep remote (overwrite local)", string(resolve.StrategyKeepRemote)),
				huh.NewOption("Write conflict markers", string(resolve.StrategyManual)),
				huh.NewOption("Skip this entity", string(resolve.StrategySkip)),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return resolve.Strategy(choice), nil
}

// parseStrategy validates a --strategy flag value.
func parseStrategy(s string) (resolve.Strategy, error) {
	switch resolve.Strategy(s) {
	case "", resolve.StrategyKeepLocal, resolve.StrategyKeepRemote,
		resolve.StrategyManual, resolve.StrategySkip:
		return resolve.Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want keep-local, keep-remote, manual or skip)", s)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
