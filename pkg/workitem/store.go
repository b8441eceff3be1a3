package workitem

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the single source of truth for work items. All writers serialize
// through Transition; implementations must be safe for concurrent use.
type Store interface {
	// Get returns the work item or ErrNotFound.
	Get(id string) (*WorkItem, error)

	// Create adds a new work item in backlog status. Returns ErrDuplicateID
	// if the ID already exists.
	Create(spec *Spec) (*WorkItem, error)

	// Transition moves the item to a new status under the forward-only rule,
	// persisting an updated timestamp. Returns InvalidTransitionError for
	// anything the rule forbids.
	Transition(id string, next Status) (*WorkItem, error)

	// Reopen is the explicit operation resetting a completed or blocked item
	// to current. It is the only sanctioned backward move.
	Reopen(id string) (*WorkItem, error)

	// Archive marks the item archived. Items are never deleted.
	Archive(id string) error

	// List returns items matching the filter, ordered by priority then ID.
	List(filter Filter) ([]*WorkItem, error)

	// SavePostMortem stores the report for its work item. Returns
	// ErrReportExists if one was already recorded.
	SavePostMortem(report *PostMortemReport) error

	// GetPostMortem returns the report for a work item or ErrNotFound.
	GetPostMortem(workItemID string) (*PostMortemReport, error)

	// Close releases any underlying resources.
	Close() error
}

// MemoryStore is an in-memory Store implementation for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*WorkItem
	reports map[string]*PostMortemReport // keyed by work item ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]*WorkItem),
		reports: make(map[string]*PostMortemReport),
	}
}

// Get returns the work item or ErrNotFound.
func (s *MemoryStore) Get(id string) (*WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// Create adds a new work item in backlog status.
func (s *MemoryStore) Create(spec *Spec) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[spec.ID]; exists {
		return nil, ErrDuplicateID
	}

	now := time.Now().UTC()
	item := &WorkItem{
		CreatedAt: now,
		UpdatedAt: now,
		ID:        spec.ID,
		Title:     spec.Title,
		Kind:      spec.Kind,
		Status:    StatusBacklog,
		Files:     append([]string{}, spec.Files...),
		Priority:  spec.Priority,
	}
	if spec.Domains != nil {
		item.Domains = make(map[string][]string, len(spec.Domains))
		for path, tags := range spec.Domains {
			item.Domains[path] = append([]string{}, tags...)
		}
	}

	s.items[item.ID] = item
	return item.Clone(), nil
}

// Transition moves the item forward, stamping UpdatedAt.
func (s *MemoryStore) Transition(id string, next Status) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	if !CanTransition(item.Status, next) {
		return nil, &InvalidTransitionError{ID: id, From: item.Status, To: next}
	}

	item.Status = next
	item.UpdatedAt = time.Now().UTC()
	return item.Clone(), nil
}

// Reopen resets a completed or blocked item to current.
func (s *MemoryStore) Reopen(id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	if item.Status != StatusCompleted && item.Status != StatusBlocked {
		return nil, &InvalidTransitionError{ID: id, From: item.Status, To: StatusCurrent}
	}

	item.Status = StatusCurrent
	item.UpdatedAt = time.Now().UTC()
	return item.Clone(), nil
}

// Archive marks the item archived.
func (s *MemoryStore) Archive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Archived = true
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns items matching the filter, ordered by priority then ID.
func (s *MemoryStore) List(filter Filter) ([]*WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*WorkItem
	for _, item := range s.items {
		if item.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && item.Kind != *filter.Kind {
			continue
		}
		items = append(items, item.Clone())
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// SavePostMortem stores the report, once per work item.
func (s *MemoryStore) SavePostMortem(report *PostMortemReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[report.WorkItemID]; exists {
		return ErrReportExists
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	s.reports[report.WorkItemID] = report
	return nil
}

// GetPostMortem returns the report for a work item.
func (s *MemoryStore) GetPostMortem(workItemID string) (*PostMortemReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[workItemID]
	if !ok {
		return nil, ErrNotFound
	}
	return report, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
