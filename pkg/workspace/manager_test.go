package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laneflow/pkg/config"
	"laneflow/pkg/exec"
	"laneflow/pkg/planner"
)

func newTestManager(t *testing.T) (*Manager, *exec.MockExec) {
	t.Helper()
	mock := exec.NewMockExec()
	cfg := config.WorkspaceConfig{
		Root:       filepath.Join(t.TempDir(), "workspaces"),
		BaseBranch: "main",
	}
	return NewManager(cfg, "/repo/baseline", mock), mock
}

func backendLane() planner.Lane {
	return planner.Lane{
		Domain: planner.DomainBackend,
		Files:  []string{"backend/auth.go", "backend/handlers.go"},
		Rank:   planner.RankOf(planner.DomainBackend),
	}
}

func TestCreateWorkspace(t *testing.T) {
	mgr, mock := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, ws.Status)
	assert.Equal(t, "lane/item-001/backend", ws.Branch)
	assert.True(t, strings.HasPrefix(ws.Name, "item-001-backend-"), ws.Name)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"git", "clone", "--branch", "main", "/repo/baseline", ws.Root}, calls[0].Cmd)
	assert.Equal(t, []string{"git", "checkout", "-b", ws.Branch}, calls[1].Cmd)
	assert.Equal(t, ws.Root, calls[1].WorkDir)

	// The metadata record is on disk for external tooling.
	listed, err := mgr.List("item-001")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, ws.Name, listed[0].Name)
}

func TestCreateRejectsDuplicateLane(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)

	_, err = mgr.Create(context.Background(), "item-001", backendLane())
	require.Error(t, err)
	var wsErr *Error
	require.ErrorAs(t, err, &wsErr)
	assert.Contains(t, wsErr.Reason, "already exists")
}

func TestCreateAllowedAfterCleanup(t *testing.T) {
	mgr, _ := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)
	require.NoError(t, mgr.Cleanup(ws))

	_, err = mgr.Create(context.Background(), "item-001", backendLane())
	assert.NoError(t, err)
}

func TestCreateCloneFailure(t *testing.T) {
	mgr, mock := newTestManager(t)
	mock.Respond([]string{"git", "clone"}, exec.Result{ExitCode: 128, Stderr: "fatal: repository not found"}, nil)

	_, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.Error(t, err)
	var wsErr *Error
	require.ErrorAs(t, err, &wsErr)
	assert.Contains(t, wsErr.Reason, "repository not found")
}

func TestStatusLifecycle(t *testing.T) {
	mgr, _ := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)

	require.NoError(t, mgr.SetStatus(ws, StatusActive))
	require.NoError(t, mgr.SetStatus(ws, StatusMerged))

	// merged -> active is not a legal transition.
	err = mgr.SetStatus(ws, StatusActive)
	var wsErr *Error
	require.ErrorAs(t, err, &wsErr)
	assert.Contains(t, wsErr.Reason, "illegal status transition")
}

func TestCleanupIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)
	require.NoError(t, mgr.SetStatus(ws, StatusActive))
	require.NoError(t, mgr.SetStatus(ws, StatusMerged))

	require.NoError(t, mgr.Cleanup(ws))
	assert.Equal(t, StatusCleaned, ws.Status)
	require.NoError(t, mgr.Cleanup(ws))
	assert.Equal(t, StatusCleaned, ws.Status)

	// Cleaned workspaces leave the live listing but stay archived.
	listed, err := mgr.List("item-001")
	require.NoError(t, err)
	assert.Empty(t, listed)

	archived, err := os.ReadDir(filepath.Join(mgr.root, metadataDirName, archiveDirName))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, ws.Name+".json", archived[0].Name())
}

func TestCleanupDeletesBaselineBranch(t *testing.T) {
	mgr, mock := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)
	require.NoError(t, mgr.SetStatus(ws, StatusActive))
	require.NoError(t, mgr.SetStatus(ws, StatusMerged))

	require.NoError(t, mgr.Cleanup(ws))
	require.NoError(t, mgr.Cleanup(ws))

	// The lane branch fetched into the baseline during merge is removed,
	// exactly once, so a rerun's fetch starts from a clean slate.
	var deletes []exec.MockCall
	for _, call := range mock.Calls() {
		if len(call.Cmd) >= 2 && call.Cmd[0] == "git" && call.Cmd[1] == "branch" {
			deletes = append(deletes, call)
		}
	}
	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"git", "branch", "-D", "lane/item-001/backend"}, deletes[0].Cmd)
	assert.Equal(t, "/repo/baseline", deletes[0].WorkDir)
}

func TestListOrdersByRank(t *testing.T) {
	mgr, _ := newTestManager(t)

	for _, domain := range []string{planner.DomainFrontend, planner.DomainDatabase, planner.DomainBackend} {
		_, err := mgr.Create(context.Background(), "item-001", planner.Lane{
			Domain: domain,
			Files:  []string{"x"},
			Rank:   planner.RankOf(domain),
		})
		require.NoError(t, err)
	}

	listed, err := mgr.List("item-001")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, planner.DomainDatabase, listed[0].Domain)
	assert.Equal(t, planner.DomainBackend, listed[1].Domain)
	assert.Equal(t, planner.DomainFrontend, listed[2].Domain)
}

func TestCleanupAbandoned(t *testing.T) {
	mgr, _ := newTestManager(t)

	stale, err := mgr.Create(context.Background(), "item-001", backendLane())
	require.NoError(t, err)
	fresh, err := mgr.Create(context.Background(), "item-002", backendLane())
	require.NoError(t, err)
	merged, err := mgr.Create(context.Background(), "item-003", backendLane())
	require.NoError(t, err)
	require.NoError(t, mgr.SetStatus(merged, StatusActive))
	require.NoError(t, mgr.SetStatus(merged, StatusMerged))

	backdate(t, mgr, stale, 48*time.Hour)
	backdate(t, mgr, merged, 48*time.Hour)

	cleaned, err := mgr.CleanupAbandoned(24 * time.Hour)
	require.NoError(t, err)
	// Only the stale created workspace is abandoned; merged ones wait for
	// explicit cleanup and fresh ones are still in flight.
	assert.Equal(t, 1, cleaned)

	listed, err := mgr.List("")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, ws := range listed {
		assert.NotEqual(t, stale.Name, ws.Name)
	}
	_ = fresh
}

// backdate rewrites a workspace's metadata record with an old update time.
func backdate(t *testing.T, mgr *Manager, ws *Workspace, age time.Duration) {
	t.Helper()
	path := mgr.metadataPath(ws.WorkItemID, ws.Domain)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var stored Workspace
	require.NoError(t, json.Unmarshal(data, &stored))
	stored.UpdatedAt = time.Now().UTC().Add(-age)

	data, err = json.MarshalIndent(stored, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
