package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"laneflow/pkg/config"
	"laneflow/pkg/dispatch"
	"laneflow/pkg/eventlog"
	"laneflow/pkg/exec"
	"laneflow/pkg/gate"
	"laneflow/pkg/merge"
	"laneflow/pkg/metrics"
	"laneflow/pkg/mirror"
	"laneflow/pkg/orchestrator"
	"laneflow/pkg/planner"
	"laneflow/pkg/postmortem"
	"laneflow/pkg/workitem"
	"laneflow/pkg/workspace"
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <item-id>",
		Short: "Show the execution plan for a work item without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			item, err := store.Get(args[0])
			if err != nil {
				return err
			}

			plan, err := planner.New(cfg.Planner).Plan(item)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %s\n%s\n", plan.WorkItemID, plan.Mode, plan.Reason)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Rank", "Domain", "Files", "Description"})
			for _, lane := range plan.Lanes {
				tw.AppendRow(table.Row{lane.Rank, lane.Domain, len(lane.Files), lane.Description})
			}
			tw.Render()
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <item-id>",
		Short: "Run a work item end to end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runner, closeMirror, err := buildRunner(cfg, store)
			if err != nil {
				return err
			}
			defer closeMirror()

			result, runErr := runner.Run(cmd.Context(), args[0], repoPath(cfg))
			if result != nil {
				printRunResult(result)
			}
			return runErr
		},
	}
}

// buildRunner wires the full pipeline from configuration. The returned
// closer flushes the event mirror.
func buildRunner(cfg *config.Config, store workitem.Store) (*orchestrator.Runner, func(), error) {
	executor := exec.NewLocalExec()
	repo := repoPath(cfg)

	manager := workspace.NewManager(cfg.Workspace, repo, executor)
	worker := dispatch.NewExecWorker(cfg.Dispatch.WorkerCommand, executor)
	checks := gate.NewExecCheckRunner(cfg.Gate.Checks, executor)

	attemptLog, err := gate.NewAttemptLog(cfg.EventLog)
	if err != nil {
		return nil, nil, err
	}

	writer, err := eventlog.NewWriter(cfg.EventLog)
	if err != nil {
		return nil, nil, err
	}
	eventMirror := mirror.NewEventLogMirror(writer, 64)
	closer := func() {
		eventMirror.Close()
		_ = writer.Close()
	}

	runner := orchestrator.New(
		store,
		planner.New(cfg.Planner),
		manager,
		dispatch.New(worker, cfg.Dispatch),
		merge.NewCoordinator(cfg.Workspace, repo, executor, manager),
		gate.New(checks, nil, attemptLog, cfg.Gate),
		postmortem.NewRecorder(),
		eventMirror,
		metrics.NewPrometheusRecorder(),
	)
	return runner, closer, nil
}

func printRunResult(result *orchestrator.RunResult) {
	fmt.Printf("\n%s finished: %s\n", result.WorkItemID, result.FinalStatus)

	if result.Dispatches != nil {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Domain", "Outcome", "Touched", "Issues"})
		for _, r := range result.Dispatches.Results {
			tw.AppendRow(table.Row{r.Domain, r.Outcome, len(r.FilesTouched), strings.Join(r.Issues, "; ")})
		}
		tw.Render()
	}

	if result.Merge != nil {
		fmt.Printf("merged %d of %d lanes\n", result.Merge.MergedCount, len(result.Merge.Lanes))
	}
	for _, attempt := range result.Attempts {
		fmt.Printf("validation attempt %d: %s\n", attempt.Attempt, attempt.Outcome)
	}
}
