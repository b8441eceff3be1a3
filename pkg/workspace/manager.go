package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"laneflow/pkg/config"
	"laneflow/pkg/exec"
	"laneflow/pkg/logx"
	"laneflow/pkg/planner"
)

const (
	metadataDirName = ".metadata"
	archiveDirName  = "archive"
)

// Manager allocates and cleans isolated working copies. Git operations run
// through an injected Executor so tests can script them.
type Manager struct {
	root       string
	repoPath   string
	baseBranch string
	executor   exec.Executor
	logger     *logx.Logger
}

// NewManager creates a workspace manager. repoPath is the baseline
// repository that clones are taken from.
func NewManager(cfg config.WorkspaceConfig, repoPath string, executor exec.Executor) *Manager {
	return &Manager{
		root:       cfg.Root,
		repoPath:   repoPath,
		baseBranch: cfg.BaseBranch,
		executor:   executor,
		logger:     logx.NewLogger("workspace"),
	}
}

// Create allocates an isolated clone plus a lane branch for the given lane.
// It fails with *Error if a non-cleaned workspace already exists for the
// same work item and domain, which would violate the one-active-workspace
// invariant; callers must abort the whole plan on that error.
func (m *Manager) Create(ctx context.Context, workItemID string, lane planner.Lane) (*Workspace, error) {
	existing, err := m.find(workItemID, lane.Domain)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != StatusCleaned {
		return nil, &Error{
			WorkItemID: workItemID,
			Domain:     lane.Domain,
			Reason:     fmt.Sprintf("workspace %s already exists with status %s", existing.Name, existing.Status),
		}
	}

	name := fmt.Sprintf("%s-%s-%s", workItemID, lane.Domain, shortID())
	root := filepath.Join(m.root, name)
	branch := fmt.Sprintf("lane/%s/%s", workItemID, lane.Domain)

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, &Error{WorkItemID: workItemID, Domain: lane.Domain, Reason: "failed to create workspace root", Err: err}
	}

	cloneArgs := []string{"git", "clone", "--branch", m.baseBranch, m.repoPath, root}
	result, err := m.executor.Run(ctx, cloneArgs, &exec.Opts{})
	if err != nil {
		return nil, &Error{WorkItemID: workItemID, Domain: lane.Domain, Reason: "clone failed", Err: err}
	}
	if !result.Success() {
		return nil, &Error{
			WorkItemID: workItemID,
			Domain:     lane.Domain,
			Reason:     fmt.Sprintf("clone exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)),
		}
	}

	result, err = m.executor.Run(ctx, []string{"git", "checkout", "-b", branch}, &exec.Opts{WorkDir: root})
	if err != nil || !result.Success() {
		// Leave nothing half-allocated behind.
		_ = os.RemoveAll(root)
		reason := fmt.Sprintf("branch creation exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
		return nil, &Error{WorkItemID: workItemID, Domain: lane.Domain, Reason: reason, Err: err}
	}

	now := time.Now().UTC()
	ws := &Workspace{
		CreatedAt:  now,
		UpdatedAt:  now,
		Name:       name,
		WorkItemID: workItemID,
		Domain:     lane.Domain,
		Rank:       lane.Rank,
		Files:      append([]string(nil), lane.Files...),
		Root:       root,
		Branch:     branch,
		Status:     StatusCreated,
	}
	if err := m.saveMetadata(ws); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	m.logger.Info("Created workspace %s on branch %s", name, branch)
	return ws, nil
}

// SetStatus advances a workspace through its lifecycle and persists the
// metadata record.
func (m *Manager) SetStatus(ws *Workspace, next Status) error {
	if !CanTransition(ws.Status, next) {
		return &Error{
			WorkItemID: ws.WorkItemID,
			Domain:     ws.Domain,
			Reason:     fmt.Sprintf("illegal status transition %s -> %s", ws.Status, next),
		}
	}
	ws.Status = next
	ws.UpdatedAt = time.Now().UTC()
	return m.saveMetadata(ws)
}

// Cleanup removes the workspace clone and archives its metadata record.
// It is idempotent: cleaning an already-cleaned workspace is a no-op.
// Cleaning from created or active counts as an operator abort.
func (m *Manager) Cleanup(ws *Workspace) error {
	if ws.Status == StatusCleaned {
		return nil
	}

	if err := os.RemoveAll(ws.Root); err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to remove workspace root", Err: err}
	}

	// The lane branch may have been fetched into the baseline during merge;
	// a stale copy would poison the next run's fetch.
	if ws.Branch != "" {
		result, err := m.executor.Run(context.Background(),
			[]string{"git", "branch", "-D", ws.Branch}, &exec.Opts{WorkDir: m.repoPath})
		if err != nil {
			m.logger.Warn("Could not delete baseline branch %s: %v", ws.Branch, err)
		} else if !result.Success() {
			// The branch never reached the baseline; nothing to delete.
			m.logger.Debug("No baseline branch %s to delete", ws.Branch)
		}
	}

	ws.Status = StatusCleaned
	ws.UpdatedAt = time.Now().UTC()

	if err := m.archiveMetadata(ws); err != nil {
		return err
	}

	m.logger.Info("Cleaned workspace %s", ws.Name)
	return nil
}

// List returns the non-archived workspaces for a work item, ordered by rank
// then domain. An empty workItemID lists all work items.
func (m *Manager) List(workItemID string) ([]*Workspace, error) {
	metaRoot := filepath.Join(m.root, metadataDirName)

	var itemDirs []string
	if workItemID != "" {
		itemDirs = []string{filepath.Join(metaRoot, workItemID)}
	} else {
		entries, err := os.ReadDir(metaRoot)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() && entry.Name() != archiveDirName {
				itemDirs = append(itemDirs, filepath.Join(metaRoot, entry.Name()))
			}
		}
	}

	var workspaces []*Workspace
	for _, dir := range itemDirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			ws, err := m.loadMetadata(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			workspaces = append(workspaces, ws)
		}
	}

	sort.Slice(workspaces, func(i, j int) bool {
		if workspaces[i].Rank != workspaces[j].Rank {
			return workspaces[i].Rank < workspaces[j].Rank
		}
		return workspaces[i].Domain < workspaces[j].Domain
	})
	return workspaces, nil
}

// CleanupAbandoned cleans workspaces stuck in created or active for longer
// than maxAge. Returns the number of workspaces cleaned.
func (m *Manager) CleanupAbandoned(maxAge time.Duration) (int, error) {
	workspaces, err := m.List("")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	cleaned := 0
	for _, ws := range workspaces {
		if ws.Status != StatusCreated && ws.Status != StatusActive {
			continue
		}
		if ws.UpdatedAt.After(cutoff) {
			continue
		}
		m.logger.Warn("Cleaning abandoned workspace %s (idle since %s)", ws.Name, ws.UpdatedAt.Format(time.RFC3339))
		if err := m.Cleanup(ws); err != nil {
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}

// find returns the current metadata record for a work item's lane, or nil.
func (m *Manager) find(workItemID, domain string) (*Workspace, error) {
	path := m.metadataPath(workItemID, domain)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return m.loadMetadata(path)
}

func (m *Manager) metadataPath(workItemID, domain string) string {
	return filepath.Join(m.root, metadataDirName, workItemID, domain+".json")
}

func (m *Manager) saveMetadata(ws *Workspace) error {
	path := m.metadataPath(ws.WorkItemID, ws.Domain)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to create metadata directory", Err: err}
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to encode metadata", Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to write metadata", Err: err}
	}
	return nil
}

// archiveMetadata moves the live metadata record into the archive directory
// so the lane slot frees up while the record stays inspectable.
func (m *Manager) archiveMetadata(ws *Workspace) error {
	archiveDir := filepath.Join(m.root, metadataDirName, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to create archive directory", Err: err}
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to encode metadata", Err: err}
	}
	archivePath := filepath.Join(archiveDir, ws.Name+".json")
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to write archived metadata", Err: err}
	}

	livePath := m.metadataPath(ws.WorkItemID, ws.Domain)
	if err := os.Remove(livePath); err != nil && !os.IsNotExist(err) {
		return &Error{WorkItemID: ws.WorkItemID, Domain: ws.Domain, Reason: "failed to remove metadata", Err: err}
	}
	return nil
}

func (m *Manager) loadMetadata(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata %s: %w", path, err)
	}
	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", path, err)
	}
	return &ws, nil
}

// shortID returns the first 8 characters of a UUID, enough to keep workspace
// names unique without being unwieldy.
func shortID() string {
	return uuid.New().String()[:8]
}
