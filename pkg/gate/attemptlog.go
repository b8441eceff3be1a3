package gate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AttemptLog persists validation attempts as JSONL, one file per work item.
// Records are append-only.
type AttemptLog struct {
	dir string
}

// NewAttemptLog creates an attempt log rooted at dir.
func NewAttemptLog(dir string) (*AttemptLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attempts directory: %w", err)
	}
	return &AttemptLog{dir: dir}, nil
}

// Record appends one attempt to the work item's log file.
func (l *AttemptLog) Record(attempt Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode attempt: %w", err)
	}

	f, err := os.OpenFile(l.path(attempt.WorkItemID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open attempts log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// List reads back every recorded attempt for a work item, in append order.
func (l *AttemptLog) List(workItemID string) ([]Attempt, error) {
	f, err := os.Open(l.path(workItemID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open attempts log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var attempts []Attempt
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var attempt Attempt
		if err := json.Unmarshal(line, &attempt); err != nil {
			return nil, fmt.Errorf("failed to decode attempt record: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempts log: %w", err)
	}
	return attempts, nil
}

func (l *AttemptLog) path(workItemID string) string {
	return filepath.Join(l.dir, workItemID+".jsonl")
}
