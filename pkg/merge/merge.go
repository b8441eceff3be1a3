// Package merge integrates lane workspaces into the shared baseline, one at
// a time, ordered by dependency rank. Merging is deliberately
// single-threaded: it mutates the one shared baseline.
package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"laneflow/pkg/config"
	"laneflow/pkg/exec"
	"laneflow/pkg/logx"
	"laneflow/pkg/workspace"
)

// LaneMerge records the outcome of one lane's integration attempt.
type LaneMerge struct {
	Domain    string        `json:"domain"`
	Branch    string        `json:"branch"`
	Rank      int           `json:"rank"`
	Merged    bool          `json:"merged"`
	Conflicts []string      `json:"conflicts,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Result summarizes a merge sequence. On conflict it still lists every lane
// attempted so far, so operators can reconstruct the full sequence.
type Result struct {
	WorkItemID  string      `json:"work_item_id"`
	Lanes       []LaneMerge `json:"lanes"`
	MergedCount int         `json:"merged_count"`
}

// ConflictError reports the first lane whose integration could not be
// applied cleanly. The merge sequence halts at that lane; already-merged
// workspaces stay merged and nothing is cleaned automatically, preserving
// state for manual resolution.
type ConflictError struct {
	WorkItemID string
	Domain     string
	Branch     string
	Conflicts  []string
	Result     *Result
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict on lane %s/%s (branch %s): %d conflicting files: %s",
		e.WorkItemID, e.Domain, e.Branch, len(e.Conflicts), strings.Join(e.Conflicts, ", "))
}

// Coordinator merges lane branches into the baseline repository.
type Coordinator struct {
	repoPath   string
	baseBranch string
	executor   exec.Executor
	manager    *workspace.Manager
	logger     *logx.Logger
}

// NewCoordinator creates a merge coordinator operating on the baseline at
// repoPath.
func NewCoordinator(cfg config.WorkspaceConfig, repoPath string, executor exec.Executor, manager *workspace.Manager) *Coordinator {
	return &Coordinator{
		repoPath:   repoPath,
		baseBranch: cfg.BaseBranch,
		executor:   executor,
		manager:    manager,
		logger:     logx.NewLogger("merge"),
	}
}

// Merge integrates each workspace into the baseline, ascending by rank with
// ties broken by domain name. It halts on the first conflict, marks the
// conflicting workspace failed, and leaves not-yet-attempted workspaces
// untouched.
func (c *Coordinator) Merge(ctx context.Context, workspaces []*workspace.Workspace) (*Result, error) {
	ordered := append([]*workspace.Workspace(nil), workspaces...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Rank != ordered[j].Rank {
			return ordered[i].Rank < ordered[j].Rank
		}
		return ordered[i].Domain < ordered[j].Domain
	})

	result := &Result{Lanes: []LaneMerge{}}
	if len(ordered) > 0 {
		result.WorkItemID = ordered[0].WorkItemID
	}

	if err := c.git(ctx, "failed to checkout baseline branch", "checkout", c.baseBranch); err != nil {
		return result, err
	}

	for _, ws := range ordered {
		start := time.Now()
		lane := LaneMerge{Domain: ws.Domain, Branch: ws.Branch, Rank: ws.Rank}

		conflicts, err := c.mergeOne(ctx, ws)
		lane.Duration = time.Since(start)

		if err != nil {
			result.Lanes = append(result.Lanes, lane)
			return result, err
		}

		if len(conflicts) > 0 {
			lane.Conflicts = conflicts
			result.Lanes = append(result.Lanes, lane)
			if err := c.manager.SetStatus(ws, workspace.StatusFailed); err != nil {
				c.logger.Warn("Failed to mark workspace %s failed: %v", ws.Name, err)
			}
			c.logger.Error("Merge halted on lane %s: %d conflicts", ws.Domain, len(conflicts))
			return result, &ConflictError{
				WorkItemID: ws.WorkItemID,
				Domain:     ws.Domain,
				Branch:     ws.Branch,
				Conflicts:  conflicts,
				Result:     result,
			}
		}

		lane.Merged = true
		result.Lanes = append(result.Lanes, lane)
		result.MergedCount++
		if err := c.manager.SetStatus(ws, workspace.StatusMerged); err != nil {
			return result, err
		}
		c.logger.Info("Merged lane %s (branch %s) into %s", ws.Domain, ws.Branch, c.baseBranch)
	}

	return result, nil
}

// mergeOne fetches the lane branch from its workspace clone and merges it
// into the baseline. A non-empty conflict list means the merge did not apply
// cleanly; the conflicted tree is left in place for inspection.
func (c *Coordinator) mergeOne(ctx context.Context, ws *workspace.Workspace) ([]string, error) {
	// Force refspec: a stale lane branch from an earlier run must not turn
	// the fetch into a refused non-fast-forward.
	fetchRef := fmt.Sprintf("+%s:%s", ws.Branch, ws.Branch)
	if err := c.git(ctx, "failed to fetch lane branch", "fetch", ws.Root, fetchRef); err != nil {
		return nil, err
	}

	mergeResult, err := c.executor.Run(ctx, []string{"git", "merge", "--no-ff", "--no-edit", ws.Branch},
		&exec.Opts{WorkDir: c.repoPath})
	if err != nil {
		return nil, fmt.Errorf("failed to merge branch %s: %w", ws.Branch, err)
	}
	if mergeResult.Success() {
		return nil, nil
	}

	conflicts, err := c.conflictFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		// Merge failed for a non-conflict reason (bad ref, dirty tree).
		return nil, fmt.Errorf("failed to merge branch %s: %s", ws.Branch, strings.TrimSpace(mergeResult.Stderr))
	}
	return conflicts, nil
}

// conflictFiles parses `git status --porcelain` for unmerged entries.
func (c *Coordinator) conflictFiles(ctx context.Context) ([]string, error) {
	statusResult, err := c.executor.Run(ctx, []string{"git", "status", "--porcelain"},
		&exec.Opts{WorkDir: c.repoPath})
	if err != nil {
		return nil, fmt.Errorf("failed to check merge status: %w", err)
	}

	var conflicts []string
	for _, line := range strings.Split(statusResult.Stdout, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		switch code {
		case "UU", "AA", "DD", "AU", "UA", "DU", "UD":
			conflicts = append(conflicts, strings.TrimSpace(line[3:]))
		}
	}
	return conflicts, nil
}

func (c *Coordinator) git(ctx context.Context, errMsg string, args ...string) error {
	cmd := append([]string{"git"}, args...)
	result, err := c.executor.Run(ctx, cmd, &exec.Opts{WorkDir: c.repoPath})
	if err != nil {
		return fmt.Errorf("%s: %w", errMsg, err)
	}
	if !result.Success() {
		return fmt.Errorf("%s: %s", errMsg, strings.TrimSpace(result.Stderr))
	}
	return nil
}
