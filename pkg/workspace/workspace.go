// Package workspace manages isolated working copies for lane execution.
// Each lane gets its own clone plus a dedicated branch, so concurrent lanes
// share no mutable state. Isolation is structural, not lock-based.
package workspace

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a workspace.
type Status string

// Workspace statuses. Transitions are strictly
// created -> active -> (merged|failed) -> cleaned.
const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusMerged  Status = "merged"
	StatusFailed  Status = "failed"
	StatusCleaned Status = "cleaned"
)

// ValidStatuses returns all valid workspace statuses.
func ValidStatuses() []Status {
	return []Status{StatusCreated, StatusActive, StatusMerged, StatusFailed, StatusCleaned}
}

//nolint:gochecknoglobals // Static transition table.
var statusTransitions = map[Status][]Status{
	StatusCreated: {StatusActive, StatusCleaned},
	StatusActive:  {StatusMerged, StatusFailed, StatusCleaned},
	StatusMerged:  {StatusCleaned},
	StatusFailed:  {StatusCleaned},
	StatusCleaned: {},
}

// CanTransition reports whether the workspace lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Workspace is an isolated working copy allocated for one lane of a work
// item. The metadata record mirrors this struct on disk so external tooling
// can enumerate in-flight workspaces.
type Workspace struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Name       string    `json:"name"`
	WorkItemID string    `json:"work_item_id"`
	Domain     string    `json:"domain"`
	Rank       int       `json:"rank"`
	Files      []string  `json:"files"`
	Root       string    `json:"root"`
	Branch     string    `json:"branch"`
	Status     Status    `json:"status"`
}

// Error reports a workspace allocation or cleanup problem. Allocation
// failures abort the whole plan rather than silently reusing state.
type Error struct {
	WorkItemID string
	Domain     string
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("workspace error for %s/%s: %s", e.WorkItemID, e.Domain, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
