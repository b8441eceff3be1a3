// Package workitem provides durable state for work items and their status
// lifecycle. The store is intentionally thin: status-legality checking and
// timestamps, no other business logic, so every other component can treat it
// as the single source of truth without its own locking.
package workitem

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Kind classifies a work item.
type Kind string

// Work item kinds.
const (
	KindTask Kind = "task" // simple, single-concern item
	KindEpic Kind = "epic" // composite item spanning multiple domains
)

// Status is the lifecycle state of a work item.
type Status string

// Work item statuses. Status only advances forward
// (backlog -> current -> completed); Reopen is the one sanctioned way back.
const (
	StatusBacklog   Status = "backlog"
	StatusCurrent   Status = "current"
	StatusCompleted Status = "completed"
	StatusBlocked   Status = "blocked"
)

// ValidStatuses returns all valid work item statuses.
func ValidStatuses() []Status {
	return []Status{StatusBacklog, StatusCurrent, StatusCompleted, StatusBlocked}
}

// IsValidStatus checks if a status is valid.
func IsValidStatus(status Status) bool {
	for _, valid := range ValidStatuses() {
		if status == valid {
			return true
		}
	}
	return false
}

// forwardTransitions is the forward-only transition table. Reopen paths
// (completed -> current, blocked -> current) are deliberately absent: they are
// only reachable through the explicit Reopen operation.
//
//nolint:gochecknoglobals // Static transition table.
var forwardTransitions = map[Status][]Status{
	StatusBacklog:   {StatusCurrent},
	StatusCurrent:   {StatusCompleted, StatusBlocked},
	StatusCompleted: {},
	StatusBlocked:   {},
}

// CanTransition reports whether the forward-only rule allows from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range forwardTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Spec is the creation payload supplied by an external authoring step.
type Spec struct {
	ID       string              `json:"id"`
	Title    string              `json:"title"`
	Kind     Kind                `json:"kind"`
	Files    []string            `json:"files"`                 // declared file scope
	Domains  map[string][]string `json:"domains,omitempty"`     // explicit path -> domain tags
	Priority int                 `json:"priority"`
}

// WorkItem is a unit of declared work with a file/domain scope and status.
type WorkItem struct {
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Kind      Kind                `json:"kind"`
	Status    Status              `json:"status"`
	Files     []string            `json:"files"`
	Domains   map[string][]string `json:"domains,omitempty"`
	Priority  int                 `json:"priority"`
	Archived  bool                `json:"archived"`
}

// Clone returns a deep copy so callers cannot mutate store state.
func (w *WorkItem) Clone() *WorkItem {
	clone := *w
	clone.Files = append([]string{}, w.Files...)
	if w.Domains != nil {
		clone.Domains = make(map[string][]string, len(w.Domains))
		for path, tags := range w.Domains {
			clone.Domains[path] = append([]string{}, tags...)
		}
	}
	return &clone
}

// Filter represents criteria for querying work items.
type Filter struct {
	Status          *Status `json:"status,omitempty"`
	Kind            *Kind   `json:"kind,omitempty"`
	IncludeArchived bool    `json:"include_archived,omitempty"`
}

// PostMortemReport is the structured outcome summary for a terminal work item.
// Created at most once per item, immutable after creation.
type PostMortemReport struct {
	CreatedAt       time.Time   `json:"created_at"`
	ID              string      `json:"id"`
	WorkItemID      string      `json:"work_item_id"`
	WorkedWell      []string    `json:"worked_well"`
	Challenges      []Challenge `json:"challenges"`
	Recommendations []string    `json:"recommendations"`
}

// Challenge pairs a difficulty encountered during the run with how it was
// (or was not) resolved.
type Challenge struct {
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
}

// GenerateID generates an 8-character hex ID (like short git hashes).
func GenerateID() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%x", bytes), nil
}
