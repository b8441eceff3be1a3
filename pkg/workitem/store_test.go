package workitem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lets every contract test run against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "laneflow.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func testSpec(id string) *Spec {
	return &Spec{
		ID:    id,
		Title: "Add rate limiting to the API",
		Kind:  KindTask,
		Files: []string{"api/handlers.go", "api/middleware.go"},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			item, err := store.Create(testSpec("item-001"))
			require.NoError(t, err)
			assert.Equal(t, StatusBacklog, item.Status)
			assert.False(t, item.CreatedAt.IsZero())
			assert.False(t, item.Archived)

			got, err := store.Get("item-001")
			require.NoError(t, err)
			assert.Equal(t, item.ID, got.ID)
			assert.Equal(t, item.Files, got.Files)

			_, err = store.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCreateDuplicate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Create(testSpec("item-001"))
			require.NoError(t, err)

			_, err = store.Create(testSpec("item-001"))
			assert.ErrorIs(t, err, ErrDuplicateID)
		})
	}
}

func TestStoreTransitions(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Create(testSpec("item-001"))
			require.NoError(t, err)

			item, err := store.Transition("item-001", StatusCurrent)
			require.NoError(t, err)
			assert.Equal(t, StatusCurrent, item.Status)

			item, err = store.Transition("item-001", StatusCompleted)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, item.Status)
		})
	}
}

func TestStoreIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
	}{
		{"backlog to completed skips current", StatusBacklog, StatusCompleted},
		{"backlog to blocked skips current", StatusBacklog, StatusBlocked},
		{"completed is terminal", StatusCompleted, StatusCurrent},
		{"blocked is terminal", StatusBlocked, StatusCurrent},
	}

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					store := factory(t)
					_, err := store.Create(testSpec("item-001"))
					require.NoError(t, err)

					// Walk the item to the starting status first.
					for _, step := range pathTo(tc.from) {
						_, err := store.Transition("item-001", step)
						require.NoError(t, err)
					}

					_, err = store.Transition("item-001", tc.to)
					require.Error(t, err)
					var invalid *InvalidTransitionError
					require.ErrorAs(t, err, &invalid)
					assert.Equal(t, tc.from, invalid.From)
					assert.Equal(t, tc.to, invalid.To)
				})
			}
		})
	}
}

// pathTo returns the legal transition steps from backlog to the target status.
func pathTo(target Status) []Status {
	switch target {
	case StatusCurrent:
		return []Status{StatusCurrent}
	case StatusCompleted:
		return []Status{StatusCurrent, StatusCompleted}
	case StatusBlocked:
		return []Status{StatusCurrent, StatusBlocked}
	default:
		return nil
	}
}

func TestStoreReopen(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Create(testSpec("item-001"))
			require.NoError(t, err)

			// Cannot reopen from backlog.
			_, err = store.Reopen("item-001")
			assert.True(t, IsInvalidTransition(err))

			_, err = store.Transition("item-001", StatusCurrent)
			require.NoError(t, err)
			_, err = store.Transition("item-001", StatusBlocked)
			require.NoError(t, err)

			item, err := store.Reopen("item-001")
			require.NoError(t, err)
			assert.Equal(t, StatusCurrent, item.Status)
		})
	}
}

func TestStoreArchiveAndList(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			specA := testSpec("item-a")
			specA.Priority = 1
			specB := testSpec("item-b")
			specB.Priority = 5
			specC := testSpec("item-c")
			specC.Priority = 5

			for _, spec := range []*Spec{specA, specB, specC} {
				_, err := store.Create(spec)
				require.NoError(t, err)
			}

			items, err := store.List(Filter{})
			require.NoError(t, err)
			require.Len(t, items, 3)
			// Priority descending, ties broken by ID.
			assert.Equal(t, "item-b", items[0].ID)
			assert.Equal(t, "item-c", items[1].ID)
			assert.Equal(t, "item-a", items[2].ID)

			require.NoError(t, store.Archive("item-a"))

			items, err = store.List(Filter{})
			require.NoError(t, err)
			assert.Len(t, items, 2)

			items, err = store.List(Filter{IncludeArchived: true})
			require.NoError(t, err)
			assert.Len(t, items, 3)

			assert.ErrorIs(t, store.Archive("missing"), ErrNotFound)
		})
	}
}

func TestStoreListByStatus(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Create(testSpec("item-a"))
			require.NoError(t, err)
			_, err = store.Create(testSpec("item-b"))
			require.NoError(t, err)
			_, err = store.Transition("item-b", StatusCurrent)
			require.NoError(t, err)

			status := StatusCurrent
			items, err := store.List(Filter{Status: &status})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "item-b", items[0].ID)
		})
	}
}

func TestStorePostMortem(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Create(testSpec("item-001"))
			require.NoError(t, err)

			report := &PostMortemReport{
				WorkItemID: "item-001",
				WorkedWell: []string{"lanes merged cleanly"},
				Challenges: []Challenge{
					{Description: "flaky integration check", Resolution: "retried once"},
				},
				Recommendations: []string{"pin the container image digest"},
			}
			require.NoError(t, store.SavePostMortem(report))
			assert.NotEmpty(t, report.ID)

			got, err := store.GetPostMortem("item-001")
			require.NoError(t, err)
			assert.Equal(t, report.WorkedWell, got.WorkedWell)
			assert.Equal(t, report.Challenges, got.Challenges)

			err = store.SavePostMortem(&PostMortemReport{WorkItemID: "item-001"})
			assert.ErrorIs(t, err, ErrReportExists)

			_, err = store.GetPostMortem("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCanTransitionMatrix(t *testing.T) {
	legal := map[Status][]Status{
		StatusBacklog:   {StatusCurrent},
		StatusCurrent:   {StatusCompleted, StatusBlocked},
		StatusCompleted: {},
		StatusBlocked:   {},
	}

	for _, from := range ValidStatuses() {
		for _, to := range ValidStatuses() {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
