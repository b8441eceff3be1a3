package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"laneflow/pkg/exec"
	"laneflow/pkg/logx"
	"laneflow/pkg/workspace"
)

// CancelFileName is created in the workspace root when a sibling lane fails.
// Workers poll it between units of work and wind down at the next safe point;
// the worker process itself is never killed for a sibling failure.
const CancelFileName = ".laneflow-cancel"

// ExecWorker satisfies Worker by invoking an external command inside the
// lane's workspace. The lane scope travels in the environment; everything
// else about the command is opaque to the orchestrator.
type ExecWorker struct {
	command  []string
	executor exec.Executor
	logger   *logx.Logger
}

// NewExecWorker creates a worker that runs the given argv per lane.
func NewExecWorker(command []string, executor exec.Executor) *ExecWorker {
	return &ExecWorker{
		command:  command,
		executor: executor,
		logger:   logx.NewLogger("worker"),
	}
}

// Execute runs the worker command in the workspace. A zero exit is a
// success; files touched are read back from the workspace's git status.
//
// The subprocess inherits only the per-lane deadline, not the dispatch
// cancellation signal. Sibling cancellation is relayed through the cancel
// file instead, so an in-flight unit of work always runs to completion.
func (w *ExecWorker) Execute(ctx context.Context, ws *workspace.Workspace, instructions Instructions) (WorkerResult, error) {
	if len(w.command) == 0 {
		return WorkerResult{}, fmt.Errorf("no worker command configured")
	}

	cancelPath := filepath.Join(ws.Root, CancelFileName)
	env := []string{
		"LANEFLOW_WORK_ITEM=" + instructions.WorkItemID,
		"LANEFLOW_DOMAIN=" + instructions.Domain,
		"LANEFLOW_BRANCH=" + ws.Branch,
		"LANEFLOW_DESCRIPTION=" + instructions.Description,
		"LANEFLOW_FILES=" + strings.Join(instructions.Files, ","),
		"LANEFLOW_CANCEL=" + cancelPath,
	}

	runCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Deadline expiry terminates the subprocess through runCtx;
			// only a cooperative stop request needs the file.
			if errors.Is(ctx.Err(), context.Canceled) {
				if err := os.WriteFile(cancelPath, []byte("cancelled\n"), 0o644); err != nil {
					w.logger.Warn("Could not signal cancellation to %s: %v", ws.Name, err)
				}
			}
		case <-done:
		}
	}()

	result, err := w.executor.Run(runCtx, w.command, &exec.Opts{WorkDir: ws.Root, Env: env})
	if err != nil {
		return WorkerResult{}, fmt.Errorf("worker command failed to run: %w", err)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		issue := "lane cancelled, worker stopped at a safe point"
		if !result.Success() {
			issue = fmt.Sprintf("lane cancelled, worker exited %d", result.ExitCode)
		}
		return WorkerResult{Outcome: OutcomePartial, Issues: []string{issue}, Duration: result.Duration}, nil
	}

	if !result.Success() {
		issue := strings.TrimSpace(result.Stderr)
		if issue == "" {
			issue = fmt.Sprintf("worker exited %d", result.ExitCode)
		}
		return WorkerResult{Outcome: OutcomeFailed, Issues: []string{issue}, Duration: result.Duration}, nil
	}

	touched, err := w.touchedFiles(ctx, ws)
	if err != nil {
		w.logger.Warn("Could not read touched files for %s: %v", ws.Name, err)
	}
	return WorkerResult{Outcome: OutcomeSuccess, FilesTouched: touched, Duration: result.Duration}, nil
}

func (w *ExecWorker) touchedFiles(ctx context.Context, ws *workspace.Workspace) ([]string, error) {
	result, err := w.executor.Run(context.WithoutCancel(ctx), []string{"git", "status", "--porcelain"}, &exec.Opts{WorkDir: ws.Root})
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}
