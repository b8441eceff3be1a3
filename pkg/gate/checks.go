package gate

import (
	"context"
	"fmt"
	"strings"

	"laneflow/pkg/exec"
	"laneflow/pkg/logx"
)

// ExecCheckRunner runs the configured check commands (build, lint, test)
// inside the baseline directory. All checks run even after a failure so one
// attempt surfaces every problem at once.
type ExecCheckRunner struct {
	checks   [][]string
	executor exec.Executor
	logger   *logx.Logger
}

// NewExecCheckRunner creates a check runner over the given argv-slice
// commands.
func NewExecCheckRunner(checks [][]string, executor exec.Executor) *ExecCheckRunner {
	return &ExecCheckRunner{
		checks:   checks,
		executor: executor,
		logger:   logx.NewLogger("checks"),
	}
}

// Validate runs every check command in the baseline directory.
func (r *ExecCheckRunner) Validate(ctx context.Context, baseline string) (CheckResult, error) {
	if len(r.checks) == 0 {
		return CheckResult{}, fmt.Errorf("no checks configured")
	}

	result := CheckResult{Passed: true}
	for _, check := range r.checks {
		if err := ctx.Err(); err != nil {
			return CheckResult{}, fmt.Errorf("validation interrupted: %w", err)
		}

		runResult, err := r.executor.Run(ctx, check, &exec.Opts{WorkDir: baseline})
		if err != nil {
			return CheckResult{}, fmt.Errorf("check %q failed to run: %w", strings.Join(check, " "), err)
		}
		if runResult.Success() {
			r.logger.Debug("Check passed: %s", strings.Join(check, " "))
			continue
		}

		result.Passed = false
		output := strings.TrimSpace(runResult.Stderr)
		if output == "" {
			output = strings.TrimSpace(runResult.Stdout)
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s (exit %d): %s",
			strings.Join(check, " "), runResult.ExitCode, output))
	}
	return result, nil
}
