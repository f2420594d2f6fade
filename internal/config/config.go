// Package config layers promptdex configuration from defaults,
// the config file, environment variables, and CLI flags, in that
// order of increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/promptdex/promptdex/internal/parser"
)

// ErrConfig marks configuration failures.
var ErrConfig = errors.New("config error")

// Orphan policies for sessions whose source files disappear.
const (
	OrphanKeep   = "keep"
	OrphanDelete = "delete"
)

// DataDirEnv overrides the data directory location.
const DataDirEnv = "PROMPTDEX_DATA_DIR"

// Config holds all application configuration.
type Config struct {
	DataDir      string
	DBPath       string
	OrphanPolicy string

	// SourceDirs maps each source to its root directories.
	SourceDirs map[parser.SourceType][]string

	// Launchers overrides the command used in fork resume hints,
	// keyed by source type.
	Launchers map[parser.SourceType]string

	GithubToken string
}

// Default returns a Config with default values derived from the
// source registry.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w (%w)", err, ErrConfig,
		)
	}

	dirs := make(map[parser.SourceType][]string, len(parser.Registry))
	for _, def := range parser.Registry {
		for _, rel := range def.DefaultDirs {
			dirs[def.Type] = append(
				dirs[def.Type], filepath.Join(home, rel),
			)
		}
	}

	dataDir := filepath.Join(home, ".promptdex")
	return Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "index.db"),
		OrphanPolicy: OrphanKeep,
		SourceDirs:   dirs,
		Launchers:    make(map[parser.SourceType]string),
	}, nil
}

// Load builds a Config by layering defaults < config file < env
// < flags. The FlagSet must already be parsed; only flags the
// user actually set override the lower layers. A nil FlagSet
// skips the flag layer.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}

	// The data dir decides where the config file lives, so both
	// its env var and flag are applied before reading the file.
	if v := os.Getenv(DataDirEnv); v != "" {
		cfg.DataDir = v
	}
	applyFlags(&cfg, fs)

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w (%w)",
			err, ErrConfig)
	}
	cfg.loadEnv()
	applyFlags(&cfg, fs)

	cfg.DBPath = filepath.Join(cfg.DataDir, "index.db")

	if cfg.OrphanPolicy != OrphanKeep &&
		cfg.OrphanPolicy != OrphanDelete {
		return cfg, fmt.Errorf(
			"invalid orphan_policy %q (want %q or %q): %w",
			cfg.OrphanPolicy, OrphanKeep, OrphanDelete, ErrConfig,
		)
	}
	return cfg, nil
}

// DeleteOrphans reports whether vanished files should take their
// sessions with them.
func (c *Config) DeleteOrphans() bool {
	return c.OrphanPolicy == OrphanDelete
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

// configFile is the on-disk shape of config.json. Source dir
// arrays use each source's registry key (claude_project_dirs,
// codex_sessions_dirs, ...).
type configFile struct {
	OrphanPolicy string            `json:"orphan_policy,omitempty"`
	Launchers    map[string]string `json:"launchers,omitempty"`
	GithubToken  string            `json:"github_token,omitempty"`
	SourceDirs   map[string][]string
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// Source dir arrays live at the top level keyed per source.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	for _, def := range parser.Registry {
		entry, ok := raw[def.ConfigKey]
		if !ok {
			continue
		}
		var dirs []string
		if err := json.Unmarshal(entry, &dirs); err != nil {
			return fmt.Errorf("parsing %s: %w", def.ConfigKey, err)
		}
		if len(dirs) > 0 {
			c.SourceDirs[def.Type] = dirs
		}
	}

	if file.OrphanPolicy != "" {
		c.OrphanPolicy = file.OrphanPolicy
	}
	if file.GithubToken != "" {
		c.GithubToken = file.GithubToken
	}
	for name, launcher := range file.Launchers {
		if def, ok := parser.SourceByType(parser.SourceType(name)); ok {
			c.Launchers[def.Type] = launcher
		}
	}
	return nil
}

// loadEnv applies environment overrides. A source env var
// replaces the whole dir list with a single entry.
func (c *Config) loadEnv() {
	for _, def := range parser.Registry {
		if v := os.Getenv(def.EnvVar); v != "" {
			c.SourceDirs[def.Type] = []string{v}
		}
	}
	if v := os.Getenv(DataDirEnv); v != "" {
		c.DataDir = v
	}
}

// RegisterGlobalFlags registers flags shared by all subcommands.
// The caller must call fs.Parse before passing fs to Load.
func RegisterGlobalFlags(fs *flag.FlagSet) {
	fs.String("data-dir", "", "Data directory (default ~/.promptdex)")
	fs.String("orphan-policy", OrphanKeep,
		"What to do with sessions whose files vanish: keep or delete")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.DataDir = f.Value.String()
		case "orphan-policy":
			cfg.OrphanPolicy = f.Value.String()
		}
	})
}

// Save writes updatable keys back to the config file without
// clobbering keys it doesn't manage.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w (%w)", err, ErrConfig)
	}

	existing := make(map[string]any)
	data, err := os.ReadFile(c.configPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w (%w)", err, ErrConfig)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf(
				"existing config is invalid, cannot update: %w (%w)",
				err, ErrConfig,
			)
		}
	}

	existing["orphan_policy"] = c.OrphanPolicy
	if c.GithubToken != "" {
		existing["github_token"] = c.GithubToken
	}

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w (%w)", err, ErrConfig)
	}
	if err := os.WriteFile(c.configPath(), out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w (%w)", err, ErrConfig)
	}
	return nil
}
