package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"atomdeploy/internal/deployment"
)

// History manages run history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory creates a new history tracker
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

// initSchema creates the database tables and indexes
func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			target TEXT NOT NULL,
			trigger_source TEXT NOT NULL,
			requested TEXT NOT NULL,
			previous TEXT,
			serving TEXT,
			status TEXT NOT NULL,
			rolled_back INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_target_id
		ON runs(target, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordRun records a run in the history
func (h *History) RecordRun(ctx context.Context, record *RunRecord) (int64, error) {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &formatted
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, target, trigger_source, requested, previous, serving, status, rolled_back,
		 started_at, completed_at, duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.Target,
		record.Trigger,
		record.Requested,
		record.Previous,
		record.Serving,
		record.Status,
		record.RolledBack,
		startedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		record.DurationSeconds,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// RecordResult records a finished orchestrator run
func (h *History) RecordResult(ctx context.Context, result *deployment.RunResult) (int64, error) {
	return h.RecordRun(ctx, FromResult(result))
}

// FromResult converts a finished run into a record
func FromResult(result *deployment.RunResult) *RunRecord {
	completedAt := result.CompletedAt
	duration := result.Duration().Seconds()

	record := &RunRecord{
		RunID:           result.ID,
		Target:          result.Target,
		Trigger:         result.Trigger,
		Requested:       result.Requested.String(),
		Previous:        optional(result.Previous.String()),
		Serving:         optional(result.Serving.String()),
		Status:          result.Status(),
		RolledBack:      result.RolledBack,
		StartedAt:       result.StartedAt,
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
	}
	if result.ExitCode() != 0 {
		record.ErrorMessage = optional(result.Reason())
	}
	return record
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetLatestRun returns the most recent run for a target, or nil if there is none
func (h *History) GetLatestRun(ctx context.Context, target string) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE target = ?
		ORDER BY id DESC
		LIMIT 1
	`, target)

	record, err := scanRunRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	return record, nil
}

// GetRunHistory returns run history for a target, newest first
func (h *History) GetRunHistory(ctx context.Context, target string, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE target = ?
		ORDER BY id DESC
		LIMIT ?
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	return scanRunRecords(rows)
}

// GetAllTargetsStatus returns the latest run for each target
func (h *History) GetAllTargetsStatus(ctx context.Context) (map[string]*RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id IN (SELECT MAX(id) FROM runs GROUP BY target)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all targets status: %w", err)
	}
	defer rows.Close()

	records, err := scanRunRecords(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*RunRecord, len(records))
	for i := range records {
		result[records[i].Target] = &records[i]
	}
	return result, nil
}

const runColumns = `id, run_id, target, trigger_source, requested, previous, serving, status,
		       rolled_back, started_at, completed_at, duration_seconds, error_message`

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRunRecords(rows *sql.Rows) ([]RunRecord, error) {
	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanRunRecord scans a database row into a RunRecord
func scanRunRecord(s scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.Target,
		&record.Trigger,
		&record.Requested,
		&record.Previous,
		&record.Serving,
		&record.Status,
		&record.RolledBack,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
