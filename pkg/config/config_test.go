package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/proj")

	assert.Equal(t, DefaultMinFiles, cfg.Planner.MinFiles)
	assert.Equal(t, DefaultMinDomains, cfg.Planner.MinDomains)
	assert.InDelta(t, DefaultMaxOverlap, cfg.Planner.MaxOverlap, 0.001)
	assert.Equal(t, DefaultMaxAttempts, cfg.Gate.MaxAttempts)
	assert.Equal(t, "main", cfg.Workspace.BaseBranch)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, filepath.Join("/proj", ".workspaces"), cfg.Workspace.Root)

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(DefaultAttemptTimeoutSec)*time.Second, cfg.Gate.AttemptTimeout())
	assert.Equal(t, time.Duration(DefaultDispatchTimeoutSec)*time.Second, cfg.Dispatch.Timeout())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinFiles, cfg.Planner.MinFiles)
}

func TestLoadPartialFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectDir), 0o755))
	yaml := `
planner:
  min_files: 10
gate:
  checks:
    - ["make", "test"]
workspace:
  base_branch: develop
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectDir, ConfigFilename), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	// Explicit values stick, everything else defaults.
	assert.Equal(t, 10, cfg.Planner.MinFiles)
	assert.Equal(t, "develop", cfg.Workspace.BaseBranch)
	assert.Equal(t, [][]string{{"make", "test"}}, cfg.Gate.Checks)
	assert.Equal(t, DefaultMinDomains, cfg.Planner.MinDomains)
	assert.Equal(t, DefaultMaxAttempts, cfg.Gate.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min_domains below 2", func(c *Config) { c.Planner.MinDomains = 1 }},
		{"overlap above 1", func(c *Config) { c.Planner.MaxOverlap = 1.5 }},
		{"overlap zero", func(c *Config) { c.Planner.MaxOverlap = 0 }},
		{"zero attempts", func(c *Config) { c.Gate.MaxAttempts = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("/proj")
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Planner.MinFiles = 8
	cfg.Dispatch.WorkerCommand = []string{"laneflow-worker", "--apply"}
	require.NoError(t, cfg.Save())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Planner.MinFiles)
	assert.Equal(t, []string{"laneflow-worker", "--apply"}, loaded.Dispatch.WorkerCommand)
}
