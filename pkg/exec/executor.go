// Package exec provides command execution abstractions used for git
// operations and validation checks. Commands are argv slices, never shell
// strings, so nothing here is subject to shell injection.
package exec

import (
	"context"
	"time"
)

// Executor runs commands and returns results.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	// Context cancellation must terminate the running command. A non-zero
	// exit code is reported in the Result, not as an error.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor name for logging.
	Name() string
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains environment variable overrides (KEY=VALUE format).
	Env []string

	// Timeout is the maximum duration for command execution. Zero means
	// the caller's context governs.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string
}

// Result contains the result of command execution.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}
