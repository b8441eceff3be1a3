package workitem

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"laneflow/pkg/logx"
)

// CurrentSchemaVersion defines the schema version for migration support.
const CurrentSchemaVersion = 1

// SQLiteStore is a file-backed Store implementation on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema is current. The connection pool is limited to a single writer.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("workitem-store")
	logger.Info("Database initialized: %s", dbPath)

	return &SQLiteStore{db: db, logger: logger}, nil
}

func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version >= CurrentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS work_items (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			files      TEXT NOT NULL,
			domains    TEXT,
			priority   INTEGER NOT NULL DEFAULT 0,
			archived   INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS post_mortems (
			id           TEXT PRIMARY KEY,
			work_item_id TEXT NOT NULL UNIQUE REFERENCES work_items(id),
			content      TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
	`); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("failed to clear schema version: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func scanWorkItem(row interface{ Scan(...any) error }) (*WorkItem, error) {
	var (
		item        WorkItem
		filesJSON   string
		domainsJSON sql.NullString
		archived    int
	)
	err := row.Scan(&item.ID, &item.Title, &item.Kind, &item.Status,
		&filesJSON, &domainsJSON, &item.Priority, &archived,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filesJSON), &item.Files); err != nil {
		return nil, fmt.Errorf("failed to decode file scope for %s: %w", item.ID, err)
	}
	if domainsJSON.Valid && domainsJSON.String != "" {
		if err := json.Unmarshal([]byte(domainsJSON.String), &item.Domains); err != nil {
			return nil, fmt.Errorf("failed to decode domain tags for %s: %w", item.ID, err)
		}
	}
	item.Archived = archived != 0
	return &item, nil
}

const workItemColumns = `id, title, kind, status, files, domains, priority, archived, created_at, updated_at`

// Get returns the work item or ErrNotFound.
func (s *SQLiteStore) Get(id string) (*WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item %s: %w", id, err)
	}
	return item, nil
}

// Create adds a new work item in backlog status.
func (s *SQLiteStore) Create(spec *Spec) (*WorkItem, error) {
	filesJSON, err := json.Marshal(spec.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file scope: %w", err)
	}

	var domainsJSON sql.NullString
	if spec.Domains != nil {
		data, err := json.Marshal(spec.Domains)
		if err != nil {
			return nil, fmt.Errorf("failed to encode domain tags: %w", err)
		}
		domainsJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO work_items (`+workItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, spec.ID, spec.Title, spec.Kind, StatusBacklog,
		string(filesJSON), domainsJSON, spec.Priority, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("failed to create work item %s: %w", spec.ID, err)
	}

	return s.Get(spec.ID)
}

// Transition moves the item forward, stamping updated_at.
func (s *SQLiteStore) Transition(id string, next Status) (*WorkItem, error) {
	item, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(item.Status, next) {
		return nil, &InvalidTransitionError{ID: id, From: item.Status, To: next}
	}

	return s.setStatus(id, item.Status, next)
}

// Reopen resets a completed or blocked item to current.
func (s *SQLiteStore) Reopen(id string) (*WorkItem, error) {
	item, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if item.Status != StatusCompleted && item.Status != StatusBlocked {
		return nil, &InvalidTransitionError{ID: id, From: item.Status, To: StatusCurrent}
	}

	return s.setStatus(id, item.Status, StatusCurrent)
}

// setStatus applies the update with an optimistic status guard so concurrent
// writers cannot race past the legality check.
func (s *SQLiteStore) setStatus(id string, from, to Status) (*WorkItem, error) {
	res, err := s.db.Exec(`
		UPDATE work_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, time.Now().UTC(), id, from)
	if err != nil {
		return nil, fmt.Errorf("failed to transition work item %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check transition of %s: %w", id, err)
	}
	if affected == 0 {
		return nil, &InvalidTransitionError{ID: id, From: from, To: to}
	}

	s.logger.Info("Work item %s: %s -> %s", id, from, to)
	return s.Get(id)
}

// Archive marks the item archived.
func (s *SQLiteStore) Archive(id string) error {
	res, err := s.db.Exec(`
		UPDATE work_items SET archived = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to archive work item %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive of %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns items matching the filter, ordered by priority then ID.
func (s *SQLiteStore) List(filter Filter) ([]*WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE 1=1`
	var args []any

	if !filter.IncludeArchived {
		query += ` AND archived = 0`
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.Kind != nil {
		query += ` AND kind = ?`
		args = append(args, *filter.Kind)
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate work items: %w", err)
	}
	return items, nil
}

// SavePostMortem stores the report, once per work item.
func (s *SQLiteStore) SavePostMortem(report *PostMortemReport) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	content, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode post-mortem for %s: %w", report.WorkItemID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO post_mortems (id, work_item_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, report.ID, report.WorkItemID, string(content), report.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReportExists
		}
		return fmt.Errorf("failed to save post-mortem for %s: %w", report.WorkItemID, err)
	}
	return nil
}

// GetPostMortem returns the report for a work item.
func (s *SQLiteStore) GetPostMortem(workItemID string) (*PostMortemReport, error) {
	var content string
	err := s.db.QueryRow(`
		SELECT content FROM post_mortems WHERE work_item_id = ?
	`, workItemID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post-mortem for %s: %w", workItemID, err)
	}

	var report PostMortemReport
	if err := json.Unmarshal([]byte(content), &report); err != nil {
		return nil, fmt.Errorf("failed to decode post-mortem for %s: %w", workItemID, err)
	}
	return &report, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// isUniqueViolation detects SQLite unique-constraint failures without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
