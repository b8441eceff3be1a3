// Package config provides configuration loading, validation, and defaults
// for the orchestrator. Configuration is a YAML file plus a small number of
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config file constants.
const (
	ConfigFilename = "laneflow.yaml"
	ProjectDir     = ".laneflow"
)

// Default planner thresholds. These mirror the parallel-eligibility criteria:
// a work item is only fanned out when it is big enough, spans enough domains,
// and its domains do not step on each other's files.
const (
	DefaultMinFiles   = 5
	DefaultMinDomains = 2
	DefaultMaxOverlap = 0.30
)

// Default validation gate bounds.
const (
	DefaultMaxAttempts       = 3
	DefaultAttemptTimeoutSec = 600
)

// DefaultDispatchTimeoutSec bounds a single lane execution.
const DefaultDispatchTimeoutSec = 1800

// PlannerConfig holds parallel-eligibility thresholds.
type PlannerConfig struct {
	MinFiles   int     `yaml:"min_files"`
	MinDomains int     `yaml:"min_domains"`
	MaxOverlap float64 `yaml:"max_overlap"` // ratio, 0..1
}

// WorkspaceConfig holds isolated-workspace settings.
type WorkspaceConfig struct {
	// Root is the directory isolated workspaces are created under.
	// Defaults to <project>/.workspaces.
	Root string `yaml:"root"`
	// BaseBranch is the branch workspaces are created from and merged into.
	BaseBranch string `yaml:"base_branch"`
}

// GateConfig holds validation gate settings.
type GateConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	AttemptTimeoutSec int `yaml:"attempt_timeout_sec"`
	// Checks are argv-style commands run against the merged baseline,
	// in order. All must exit zero for an attempt to pass.
	Checks [][]string `yaml:"checks"`
}

// AttemptTimeout returns the per-attempt execution bound.
func (g *GateConfig) AttemptTimeout() time.Duration {
	return time.Duration(g.AttemptTimeoutSec) * time.Second
}

// DispatchConfig holds worker dispatch settings.
type DispatchConfig struct {
	TimeoutSec int `yaml:"timeout_sec"` // per-lane execution bound
	// WorkerCommand is the argv of the external worker capability invoked
	// per lane inside its workspace. Lane scope is passed via environment.
	WorkerCommand []string `yaml:"worker_command"`
}

// Timeout returns the per-lane dispatch bound.
func (d *DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

// StoreConfig holds work item store settings.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	// DBPath is the sqlite database path. Defaults to <project>/.laneflow/laneflow.db.
	DBPath string `yaml:"db_path"`
}

// Config is the root configuration for the orchestrator.
type Config struct {
	ProjectDir string          `yaml:"project_dir"`
	EventLog   string          `yaml:"event_log"` // directory for status-event JSONL files
	Planner    PlannerConfig   `yaml:"planner"`
	Workspace  WorkspaceConfig `yaml:"workspace"`
	Gate       GateConfig      `yaml:"gate"`
	Dispatch   DispatchConfig  `yaml:"dispatch"`
	Store      StoreConfig     `yaml:"store"`
}

// Default returns a config with all defaults applied for the given project directory.
func Default(projectDir string) *Config {
	return &Config{
		ProjectDir: projectDir,
		EventLog:   filepath.Join(projectDir, ProjectDir, "events"),
		Planner: PlannerConfig{
			MinFiles:   DefaultMinFiles,
			MinDomains: DefaultMinDomains,
			MaxOverlap: DefaultMaxOverlap,
		},
		Workspace: WorkspaceConfig{
			Root:       filepath.Join(projectDir, ".workspaces"),
			BaseBranch: "main",
		},
		Gate: GateConfig{
			MaxAttempts:       DefaultMaxAttempts,
			AttemptTimeoutSec: DefaultAttemptTimeoutSec,
		},
		Dispatch: DispatchConfig{
			TimeoutSec: DefaultDispatchTimeoutSec,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			DBPath:  filepath.Join(projectDir, ProjectDir, "laneflow.db"),
		},
	}
}

// Load reads configuration from <projectDir>/.laneflow/laneflow.yaml, applying
// defaults for anything unset. A missing file yields pure defaults.
func Load(projectDir string) (*Config, error) {
	cfg := Default(projectDir)

	path := filepath.Join(projectDir, ProjectDir, ConfigFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults(projectDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial YAML file.
func (c *Config) applyDefaults(projectDir string) {
	def := Default(projectDir)

	if c.ProjectDir == "" {
		c.ProjectDir = def.ProjectDir
	}
	if c.EventLog == "" {
		c.EventLog = def.EventLog
	}
	if c.Planner.MinFiles == 0 {
		c.Planner.MinFiles = def.Planner.MinFiles
	}
	if c.Planner.MinDomains == 0 {
		c.Planner.MinDomains = def.Planner.MinDomains
	}
	if c.Planner.MaxOverlap == 0 {
		c.Planner.MaxOverlap = def.Planner.MaxOverlap
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = def.Workspace.Root
	}
	if c.Workspace.BaseBranch == "" {
		c.Workspace.BaseBranch = def.Workspace.BaseBranch
	}
	if c.Gate.MaxAttempts == 0 {
		c.Gate.MaxAttempts = def.Gate.MaxAttempts
	}
	if c.Gate.AttemptTimeoutSec == 0 {
		c.Gate.AttemptTimeoutSec = def.Gate.AttemptTimeoutSec
	}
	if c.Dispatch.TimeoutSec == 0 {
		c.Dispatch.TimeoutSec = def.Dispatch.TimeoutSec
	}
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = def.Store.DBPath
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Planner.MinFiles < 1 {
		return fmt.Errorf("planner.min_files must be >= 1, got %d", c.Planner.MinFiles)
	}
	if c.Planner.MinDomains < 2 {
		return fmt.Errorf("planner.min_domains must be >= 2, got %d", c.Planner.MinDomains)
	}
	if c.Planner.MaxOverlap <= 0 || c.Planner.MaxOverlap >= 1 {
		return fmt.Errorf("planner.max_overlap must be in (0,1), got %v", c.Planner.MaxOverlap)
	}
	if c.Gate.MaxAttempts < 1 {
		return fmt.Errorf("gate.max_attempts must be >= 1, got %d", c.Gate.MaxAttempts)
	}
	if c.Gate.AttemptTimeoutSec <= 0 {
		return fmt.Errorf("gate.attempt_timeout_sec must be positive, got %d", c.Gate.AttemptTimeoutSec)
	}
	if c.Dispatch.TimeoutSec <= 0 {
		return fmt.Errorf("dispatch.timeout_sec must be positive, got %d", c.Dispatch.TimeoutSec)
	}
	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite or memory, got %q", c.Store.Backend)
	}
	return nil
}

// Save writes the config to <projectDir>/.laneflow/laneflow.yaml.
func (c *Config) Save() error {
	dir := filepath.Join(c.ProjectDir, ProjectDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, ConfigFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
