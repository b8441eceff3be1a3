package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laneflow/pkg/config"
	"laneflow/pkg/dispatch"
	"laneflow/pkg/exec"
	"laneflow/pkg/gate"
	"laneflow/pkg/merge"
	"laneflow/pkg/planner"
	"laneflow/pkg/postmortem"
	"laneflow/pkg/workitem"
	"laneflow/pkg/workspace"
)

// stubWorker succeeds everywhere except the scripted failing domains.
type stubWorker struct {
	failDomains map[string]bool
}

func (w *stubWorker) Execute(_ context.Context, ws *workspace.Workspace, _ dispatch.Instructions) (dispatch.WorkerResult, error) {
	if w.failDomains[ws.Domain] {
		return dispatch.WorkerResult{Outcome: dispatch.OutcomeFailed, Issues: []string{"worker crashed"}}, nil
	}
	return dispatch.WorkerResult{Outcome: dispatch.OutcomeSuccess, FilesTouched: ws.Files}, nil
}

// stubChecks fails the first failCount validations, then passes.
type stubChecks struct {
	failCount int
	calls     int
}

func (c *stubChecks) Validate(context.Context, string) (gate.CheckResult, error) {
	c.calls++
	if c.calls <= c.failCount {
		return gate.CheckResult{Passed: false, Errors: []string{"tests failed"}}, nil
	}
	return gate.CheckResult{Passed: true}, nil
}

type harness struct {
	runner *Runner
	store  workitem.Store
	mock   *exec.MockExec
	checks *stubChecks
}

func newHarness(t *testing.T, worker dispatch.Worker, checks *stubChecks) *harness {
	t.Helper()

	cfg := config.Default(t.TempDir())
	cfg.Workspace.Root = filepath.Join(cfg.ProjectDir, ".workspaces")

	store := workitem.NewMemoryStore()
	mock := exec.NewMockExec()
	manager := workspace.NewManager(cfg.Workspace, "/repo/baseline", mock)

	g := gate.New(checks, nil, nil, cfg.Gate)
	runner := New(
		store,
		planner.New(cfg.Planner),
		manager,
		dispatch.New(worker, cfg.Dispatch),
		merge.NewCoordinator(cfg.Workspace, "/repo/baseline", mock, manager),
		g,
		postmortem.NewRecorder(),
		nil,
		nil,
	)
	return &harness{runner: runner, store: store, mock: mock, checks: checks}
}

func createParallelItem(t *testing.T, store workitem.Store) *workitem.WorkItem {
	t.Helper()
	item, err := store.Create(&workitem.Spec{
		ID:    "item-001",
		Title: "User sessions end to end",
		Kind:  workitem.KindEpic,
		Files: []string{
			"migrations/0001_sessions.sql",
			"migrations/0002_tokens.sql",
			"backend/auth.go",
			"backend/sessions.go",
			"backend/middleware.go",
			"frontend/Login.vue",
			"frontend/Session.vue",
		},
	})
	require.NoError(t, err)
	return item
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{})
	createParallelItem(t, h.store)

	result, err := h.runner.Run(context.Background(), "item-001", "/repo/baseline")
	require.NoError(t, err)

	assert.Equal(t, planner.ModeParallel, result.Plan.Mode)
	assert.Equal(t, workitem.StatusCompleted, result.FinalStatus)
	require.NotNil(t, result.Merge)
	assert.Equal(t, 3, result.Merge.MergedCount)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, gate.OutcomePass, result.Attempts[0].Outcome)

	// Workspaces are cleaned only after full success.
	for _, ws := range result.Workspaces {
		assert.Equal(t, workspace.StatusCleaned, ws.Status)
	}

	item, err := h.store.Get("item-001")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusCompleted, item.Status)

	report, err := h.store.GetPostMortem("item-001")
	require.NoError(t, err)
	assert.NotEmpty(t, report.WorkedWell)
}

func TestRunPlanningErrorHasNoSideEffects(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{})
	_, err := h.store.Create(&workitem.Spec{ID: "item-002", Title: "Empty scope", Kind: workitem.KindTask})
	require.NoError(t, err)

	_, err = h.runner.Run(context.Background(), "item-002", "/repo/baseline")
	var pErr *planner.PlanningError
	require.ErrorAs(t, err, &pErr)

	// The item never left backlog and no git command ran.
	item, err := h.store.Get("item-002")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusBacklog, item.Status)
	assert.Empty(t, h.mock.Calls())
}

func TestRunDispatchFailureBlocksItem(t *testing.T) {
	h := newHarness(t, &stubWorker{failDomains: map[string]bool{planner.DomainBackend: true}}, &stubChecks{})
	createParallelItem(t, h.store)

	result, err := h.runner.Run(context.Background(), "item-001", "/repo/baseline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsuccessful")

	assert.Equal(t, workitem.StatusBlocked, result.FinalStatus)
	assert.Nil(t, result.Merge)

	// Nothing is cleaned; the failed lane's workspace is preserved for
	// inspection.
	for _, ws := range result.Workspaces {
		assert.NotEqual(t, workspace.StatusCleaned, ws.Status)
		if ws.Domain == planner.DomainBackend {
			assert.Equal(t, workspace.StatusFailed, ws.Status)
		}
	}

	item, err := h.store.Get("item-001")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusBlocked, item.Status)
}

func TestRunMergeConflictBlocksItem(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{})
	createParallelItem(t, h.store)

	h.mock.Respond([]string{"git", "merge", "--no-ff", "--no-edit", "lane/item-001/frontend"},
		exec.Result{ExitCode: 1}, nil)
	h.mock.Respond([]string{"git", "status", "--porcelain"},
		exec.Result{Stdout: "UU frontend/Login.vue\n"}, nil)

	result, err := h.runner.Run(context.Background(), "item-001", "/repo/baseline")
	require.Error(t, err)

	var conflict *merge.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, planner.DomainFrontend, conflict.Domain)

	assert.Equal(t, workitem.StatusBlocked, result.FinalStatus)
	assert.Equal(t, 2, result.Merge.MergedCount)
	assert.Empty(t, result.Attempts)

	// Earlier lanes merged, the conflicting lane failed, nothing cleaned.
	byDomain := map[string]workspace.Status{}
	for _, ws := range result.Workspaces {
		byDomain[ws.Domain] = ws.Status
	}
	assert.Equal(t, workspace.StatusMerged, byDomain[planner.DomainDatabase])
	assert.Equal(t, workspace.StatusMerged, byDomain[planner.DomainBackend])
	assert.Equal(t, workspace.StatusFailed, byDomain[planner.DomainFrontend])
}

func TestRunValidationExhaustionBlocksItem(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{failCount: 100})
	createParallelItem(t, h.store)

	result, err := h.runner.Run(context.Background(), "item-001", "/repo/baseline")
	require.Error(t, err)

	var exhausted *gate.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)

	assert.Equal(t, workitem.StatusBlocked, result.FinalStatus)
	assert.Len(t, result.Attempts, config.DefaultMaxAttempts)
	assert.Equal(t, config.DefaultMaxAttempts, h.checks.calls)

	item, err := h.store.Get("item-001")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusBlocked, item.Status)

	// The post-mortem still lands, best-effort.
	report, err := h.store.GetPostMortem("item-001")
	require.NoError(t, err)
	assert.NotEmpty(t, report.Challenges)
}

func TestRunSequentialPlan(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{})
	_, err := h.store.Create(&workitem.Spec{
		ID:    "item-003",
		Title: "Small backend fix",
		Kind:  workitem.KindTask,
		Files: []string{"backend/auth.go", "backend/sessions.go"},
	})
	require.NoError(t, err)

	result, err := h.runner.Run(context.Background(), "item-003", "/repo/baseline")
	require.NoError(t, err)

	assert.Equal(t, planner.ModeSequential, result.Plan.Mode)
	require.Len(t, result.Workspaces, 1)
	assert.Equal(t, workitem.StatusCompleted, result.FinalStatus)
	assert.Equal(t, 1, result.Merge.MergedCount)
}

func TestRunRefusesTerminalItem(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{})
	createParallelItem(t, h.store)

	_, err := h.store.Transition("item-001", workitem.StatusCurrent)
	require.NoError(t, err)
	_, err = h.store.Transition("item-001", workitem.StatusCompleted)
	require.NoError(t, err)

	result, err := h.runner.Run(context.Background(), "item-001", "/repo/baseline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reopen")
	assert.Nil(t, result)

	// The item is untouched and no git command ran.
	item, err := h.store.Get("item-001")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusCompleted, item.Status)
	assert.Empty(t, h.mock.Calls())

	// After an explicit reopen the run proceeds normally.
	_, err = h.store.Reopen("item-001")
	require.NoError(t, err)
	result, err = h.runner.Run(context.Background(), "item-001", "/repo/baseline")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusCompleted, result.FinalStatus)
}

func TestRunMissingItem(t *testing.T) {
	h := newHarness(t, &stubWorker{}, &stubChecks{})
	_, err := h.runner.Run(context.Background(), "missing", "/repo/baseline")
	require.Error(t, err)
	assert.True(t, errors.Is(err, workitem.ErrNotFound))
}
