package workitem

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested work item does not exist.
	ErrNotFound = errors.New("work item not found")

	// ErrDuplicateID indicates a Create with an ID that already exists.
	ErrDuplicateID = errors.New("work item id already exists")

	// ErrReportExists indicates a post-mortem was already recorded for the item.
	ErrReportExists = errors.New("post-mortem report already exists")
)

// InvalidTransitionError is returned when a target status does not follow the
// forward-only rule.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.ID, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
