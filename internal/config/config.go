// Package config loads the per-repository tether configuration.
//
// Project settings live in .tether/config.toml and are checked in with
// the repository. Credentials never are: they come from the global
// viper-backed credential store and TETHER_* environment overrides
// (see credentials.go).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "10s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the project configuration.
type Config struct {
	Remote Remote `toml:"remote"`
	Sync   Sync   `toml:"sync"`
}

// Remote addresses the graph store.
type Remote struct {
	URL     string   `toml:"url"`
	GraphID string   `toml:"graph_id"`
	Timeout Duration `toml:"timeout"`
}

// Sync tunes the engine.
type Sync struct {
	Plans   string `toml:"plans"`
	Workers int    `toml:"workers"`
	Cascade bool   `toml:"cascade"` // default for --cascade
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Remote: Remote{Timeout: Duration{10 * time.Second}},
		Sync:   Sync{Plans: "plans", Workers: 6},
	}
}

// Load reads path, fills defaults, and applies TETHER_* environment
// overrides. A missing file yields the defaults plus overrides, so a
// fully env-configured setup needs no file at all.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Sync.Plans == "" {
		cfg.Sync.Plans = "plans"
	}
	if cfg.Sync.Workers <= 0 {
		cfg.Sync.Workers = 6
	}
	if cfg.Remote.Timeout.Duration <= 0 {
		cfg.Remote.Timeout = Duration{10 * time.Second}
	}
	return cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// applyEnv layers TETHER_* variables over the file values.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("TETHER")
	v.AutomaticEnv()

	if s := v.GetString("REMOTE_URL"); s != "" {
		cfg.Remote.URL = s
	}
	if s := v.GetString("GRAPH_ID"); s != "" {
		cfg.Remote.GraphID = s
	}
	if s := v.GetString("TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.Remote.Timeout = Duration{d}
		}
	}
	if s := v.GetString("PLANS"); s != "" {
		cfg.Sync.Plans = s
	}
	if n := v.GetInt("WORKERS"); n > 0 {
		cfg.Sync.Workers = n
	}
}

// Validate checks the settings a remote operation needs.
func (c *Config) Validate() error {
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is not configured (run `tether init` or set TETHER_REMOTE_URL)")
	}
	if c.Remote.GraphID == "" {
		return fmt.Errorf("remote.graph_id is not configured")
	}
	return nil
}
