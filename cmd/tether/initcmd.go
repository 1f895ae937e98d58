package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/state"
	"github.com/tetherdev/tether/internal/ui"
)

var (
	initRemote    string
	initGraphID   string
	initActor     string
	initTokenFile string
	initPlans     string
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Initialize tether in the current repository",
	Long: `Init scaffolds the .tether state directory and the plans directory.

.tether/config.toml (checked in) holds the remote URL, graph id and
sync tuning. Everything else under .tether/ is local: the sync-state
checkpoints, the offline queue, the cache mirror and logs are ignored
via a generated .gitignore.

Credentials are not stored here. The bearer token lives in a token
file (default ~/.config/tether/token) referenced from the identity
file, or comes from TETHER_* environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			exitf("%v", err)
		}
		stateDir := filepath.Join(cwd, stateDirName)
		configPath := filepath.Join(stateDir, "config.toml")

		if _, err := os.Stat(configPath); err == nil {
			exitf("%s already exists; edit it instead of re-running init", configPath)
		}

		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			exitf("%v", err)
		}

		cfg := config.Default()
		if initRemote != "" {
			cfg.Remote.URL = initRemote
		}
		if initGraphID != "" {
			cfg.Remote.GraphID = initGraphID
		}
		if initPlans != "" {
			cfg.Sync.Plans = initPlans
		}
		if err := config.Save(configPath, cfg); err != nil {
			exitf("%v", err)
		}

		// Everything but the shared config is per-machine state.
		gitignore := "*\n!config.toml\n!.gitignore\n"
		if err := os.WriteFile(filepath.Join(stateDir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
			exitf("%v", err)
		}

		store, err := state.Open(stateDir)
		if err != nil {
			exitf("%v", err)
		}
		creds, err := config.LoadCredentials()
		if err != nil {
			exitf("%v", err)
		}
		ident := &state.Identity{
			GraphID:   cfg.Remote.GraphID,
			Actor:     initActor,
			TokenFile: initTokenFile,
		}
		if ident.Actor == "" {
			ident.Actor = creds.Actor
		}
		if ident.TokenFile == "" {
			ident.TokenFile = creds.TokenFile
		}
		if err := store.SaveIdentity(ident); err != nil {
			exitf("%v", err)
		}

		if err := os.MkdirAll(filepath.Join(cwd, cfg.Sync.Plans), 0o755); err != nil {
			exitf("%v", err)
		}

		fmt.Printf("%s initialized %s\n", ui.RenderPassIcon(), stateDir)
		fmt.Printf("   config: %s\n", configPath)
		fmt.Printf("   plans:  %s\n", filepath.Join(cwd, cfg.Sync.Plans))
		fmt.Printf("   token:  %s\n", ident.TokenFile)
		if cfg.Remote.URL == "" || cfg.Remote.GraphID == "" {
			fmt.Printf("\n%s set remote.url and remote.graph_id in %s before syncing\n",
				ui.RenderWarnIcon(), configPath)
		}
	},
}

func init() {
	initCmd.Flags().StringVar(&initRemote, "remote", "", "graph store base URL")
	initCmd.Flags().StringVar(&initGraphID, "graph", "", "graph id to sync against")
	initCmd.Flags().StringVar(&initActor, "actor", "", "actor name recorded on mutations")
	initCmd.Flags().StringVar(&initTokenFile, "token-file", "", "path to the bearer token file")
	initCmd.Flags().StringVar(&initPlans, "plans", "", "plans directory relative to the repository root (default \"plans\")")
	rootCmd.AddCommand(initCmd)
}
