// Package orchestrator drives a work item through its full lifecycle: plan,
// workspace allocation, dispatch, merge, validation, post-mortem. It is the
// single control-flow process; lane dispatch is the only point of true
// parallelism.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"laneflow/pkg/dispatch"
	"laneflow/pkg/eventlog"
	"laneflow/pkg/gate"
	"laneflow/pkg/logx"
	"laneflow/pkg/merge"
	"laneflow/pkg/metrics"
	"laneflow/pkg/mirror"
	"laneflow/pkg/planner"
	"laneflow/pkg/postmortem"
	"laneflow/pkg/workitem"
	"laneflow/pkg/workspace"
)

// RunResult accumulates every artifact of one orchestration run. Terminal
// failures still return it fully populated so operators can reconstruct the
// sequence.
type RunResult struct {
	WorkItemID  string                     `json:"work_item_id"`
	Plan        *planner.ExecutionPlan     `json:"plan,omitempty"`
	Workspaces  []*workspace.Workspace     `json:"workspaces,omitempty"`
	Dispatches  *dispatch.Set              `json:"dispatches,omitempty"`
	Merge       *merge.Result              `json:"merge,omitempty"`
	Attempts    []gate.Attempt             `json:"attempts,omitempty"`
	FinalStatus workitem.Status            `json:"final_status"`
	Report      *workitem.PostMortemReport `json:"report,omitempty"`
}

// Runner wires the pipeline components together.
type Runner struct {
	store      workitem.Store
	planner    *planner.Planner
	workspaces *workspace.Manager
	dispatcher *dispatch.Dispatcher
	merger     *merge.Coordinator
	gate       *gate.Gate
	recorder   *postmortem.Recorder
	mirror     mirror.Mirror
	metrics    metrics.Recorder
	logger     *logx.Logger
}

// New creates a runner from its component parts. mirror and recorder may be
// backed by no-ops; everything else is required.
func New(
	store workitem.Store,
	pl *planner.Planner,
	wm *workspace.Manager,
	d *dispatch.Dispatcher,
	mc *merge.Coordinator,
	g *gate.Gate,
	pm *postmortem.Recorder,
	mr mirror.Mirror,
	rec metrics.Recorder,
) *Runner {
	if mr == nil {
		mr = mirror.Nop{}
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Runner{
		store:      store,
		planner:    pl,
		workspaces: wm,
		dispatcher: d,
		merger:     mc,
		gate:       g,
		recorder:   pm,
		mirror:     mr,
		metrics:    rec,
		logger:     logx.NewLogger("orchestrator"),
	}
}

// Run executes one work item end to end. The returned RunResult is always
// non-nil once planning succeeds, even when err is non-nil.
func (r *Runner) Run(ctx context.Context, workItemID, baseline string) (*RunResult, error) {
	item, err := r.store.Get(workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load work item %s: %w", workItemID, err)
	}
	if item.Status != workitem.StatusBacklog && item.Status != workitem.StatusCurrent {
		return nil, fmt.Errorf("work item %s is %s; reopen it before running", item.ID, item.Status)
	}

	// Planning is pure: a PlanningError leaves no side effects at all.
	plan, err := r.planner.Plan(item)
	if err != nil {
		return nil, err
	}

	result := &RunResult{WorkItemID: item.ID, Plan: plan}
	r.metrics.ObservePlan(string(plan.Mode))

	if item.Status == workitem.StatusBacklog {
		if item, err = r.transition(item, workitem.StatusCurrent); err != nil {
			return result, err
		}
	}
	r.publish(eventlog.TypePlanCommitted, item.ID, map[string]string{
		"mode":   string(plan.Mode),
		"reason": plan.Reason,
	})

	if err := r.allocate(ctx, item, plan, result); err != nil {
		return result, err
	}

	if err := r.execute(ctx, item, plan, result); err != nil {
		r.finalize(item, result, workitem.StatusBlocked)
		return result, err
	}

	if err := r.integrate(ctx, item, result); err != nil {
		r.finalize(item, result, workitem.StatusBlocked)
		return result, err
	}

	if err := r.validate(ctx, item, baseline, result); err != nil {
		r.finalize(item, result, workitem.StatusBlocked)
		return result, err
	}

	r.finalize(item, result, workitem.StatusCompleted)

	// Workspaces are only cleaned after full success; failed runs keep
	// them inspectable.
	for _, ws := range result.Workspaces {
		if err := r.workspaces.Cleanup(ws); err != nil {
			r.logger.Warn("Failed to clean workspace %s: %v", ws.Name, err)
		}
	}
	return result, nil
}

// allocate creates one isolated workspace per lane. A workspace error aborts
// the whole plan; nothing already allocated is reused or silently cleaned.
func (r *Runner) allocate(ctx context.Context, item *workitem.WorkItem, plan *planner.ExecutionPlan, result *RunResult) error {
	for _, lane := range plan.Lanes {
		ws, err := r.workspaces.Create(ctx, item.ID, lane)
		if err != nil {
			return err
		}
		result.Workspaces = append(result.Workspaces, ws)
	}
	return nil
}

// execute fans the lanes out to workers and joins the results.
func (r *Runner) execute(ctx context.Context, item *workitem.WorkItem, plan *planner.ExecutionPlan, result *RunResult) error {
	instructions := make([]dispatch.Instructions, len(plan.Lanes))
	for i, lane := range plan.Lanes {
		instructions[i] = dispatch.Instructions{
			WorkItemID:  item.ID,
			Domain:      lane.Domain,
			Description: lane.Description,
			Files:       lane.Files,
		}
		if err := r.workspaces.SetStatus(result.Workspaces[i], workspace.StatusActive); err != nil {
			return err
		}
		r.publish(eventlog.TypeLaneDispatched, item.ID, map[string]string{"domain": lane.Domain})
	}

	set := r.dispatcher.DispatchAll(ctx, result.Workspaces, instructions)
	result.Dispatches = set
	for _, wr := range set.Results {
		r.metrics.ObserveDispatch(wr.Domain, string(wr.Outcome), wr.Duration)
	}

	if set.AllSucceeded() {
		return nil
	}

	// Mark the failed lanes' workspaces; siblings that wound down stay
	// active and nothing is cleaned.
	for i, wr := range set.Results {
		if wr.Outcome == dispatch.OutcomeFailed {
			if err := r.workspaces.SetStatus(result.Workspaces[i], workspace.StatusFailed); err != nil {
				r.logger.Warn("Failed to mark workspace failed: %v", err)
			}
		}
	}
	failed := set.Failed()
	return fmt.Errorf("dispatch for %s finished with %d of %d lanes unsuccessful",
		item.ID, len(failed), len(set.Results))
}

// integrate merges lane workspaces into the baseline in rank order.
func (r *Runner) integrate(ctx context.Context, item *workitem.WorkItem, result *RunResult) error {
	mergeResult, err := r.merger.Merge(ctx, result.Workspaces)
	result.Merge = mergeResult

	for _, lane := range mergeResult.Lanes {
		r.metrics.ObserveMerge(lane.Domain, !lane.Merged, lane.Duration)
	}

	if err != nil {
		var conflict *merge.ConflictError
		if errors.As(err, &conflict) {
			r.publish(eventlog.TypeMergeConflict, item.ID, map[string]string{
				"domain":    conflict.Domain,
				"conflicts": fmt.Sprintf("%d", len(conflict.Conflicts)),
			})
		}
		return err
	}

	r.publish(eventlog.TypeMergeCompleted, item.ID, map[string]string{
		"merged": fmt.Sprintf("%d", mergeResult.MergedCount),
	})
	return nil
}

// validate runs the bounded check/fix loop against the merged baseline.
func (r *Runner) validate(ctx context.Context, item *workitem.WorkItem, baseline string, result *RunResult) error {
	attempts, err := r.gate.Run(ctx, item.ID, baseline)
	result.Attempts = attempts
	for _, attempt := range attempts {
		r.metrics.ObserveValidation(attempt.Outcome, attempt.Attempt, attempt.Duration)
	}

	if err != nil {
		r.publish(eventlog.TypeRetryExhausted, item.ID, map[string]string{
			"attempts": fmt.Sprintf("%d", len(attempts)),
		})
		return err
	}

	r.publish(eventlog.TypeValidationDone, item.ID, map[string]string{
		"attempts": fmt.Sprintf("%d", len(attempts)),
	})
	return nil
}

// finalize moves the item to its terminal status and records the best-effort
// post-mortem. Post-mortem failures are logged, never propagated.
func (r *Runner) finalize(item *workitem.WorkItem, result *RunResult, status workitem.Status) {
	updated, err := r.transition(item, status)
	if err != nil {
		r.logger.Error("Failed to transition %s to %s: %v", item.ID, status, err)
	} else {
		item = updated
	}
	result.FinalStatus = item.Status
	r.metrics.ObserveTerminal(string(item.Status))

	report, err := r.recorder.Record(item, result.Dispatches, result.Attempts)
	if err != nil {
		r.logger.Warn("Post-mortem for %s not recorded: %v", item.ID, err)
		return
	}
	if err := r.store.SavePostMortem(report); err != nil {
		r.logger.Warn("Failed to save post-mortem for %s: %v", item.ID, err)
		return
	}
	result.Report = report
	r.publish(eventlog.TypeReportRecorded, item.ID, nil)
}

func (r *Runner) transition(item *workitem.WorkItem, status workitem.Status) (*workitem.WorkItem, error) {
	from := item.Status
	updated, err := r.store.Transition(item.ID, status)
	if err != nil {
		return item, err
	}
	r.publish(eventlog.TypeStatusChange, item.ID, map[string]string{
		"from": string(from),
		"to":   string(status),
	})
	return updated, nil
}

func (r *Runner) publish(eventType, workItemID string, detail map[string]string) {
	r.mirror.Publish(eventlog.Event{
		Type:       eventType,
		WorkItemID: workItemID,
		Detail:     detail,
	})
}
