package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"deploysweep/internal/security"

	_ "modernc.org/sqlite"
)

// History stores prune runs in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (creating if needed) the history database at dbPath
func NewHistory(dbPath string) (*History, error) {
	// Open database connection
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	// Initialize schema
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Tighten a database created under a permissive umask
	if _, err := os.Stat(dbPath); err == nil {
		if err := security.EnsureSecurePermissions(dbPath, security.PermDBFile); err != nil {
			if err := security.FixFilePermissions(dbPath, security.PermDBFile); err != nil {
				db.Close()
				return nil, err
			}
		}
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
			repo TEXT NOT NULL,
			target TEXT NOT NULL,
			cutoff TEXT NOT NULL,
			cutoff_source TEXT NOT NULL,
			dry_run INTEGER NOT NULL,
			include_aliased INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			projects INTEGER NOT NULL,
			candidates INTEGER NOT NULL,
			deleted INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped_aliased INTEGER NOT NULL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			project_id TEXT NOT NULL,
			project_name TEXT NOT NULL,
			uid TEXT NOT NULL,
			url TEXT NOT NULL,
			created_at TEXT NOT NULL,
			state TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create run_deployments table: %w", err)
	}

	// Create index for efficient queries
	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_run_deployments_run
		ON run_deployments(run_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordRun stores a run and its deployment outcomes in one transaction
func (h *History) RecordRun(ctx context.Context, record *RunRecord) (int64, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &formatted
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(repo, target, cutoff, cutoff_source, dry_run, include_aliased, started_at,
		 completed_at, projects, candidates, deleted, failed, skipped_aliased, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.Repo,
		record.Target,
		record.Cutoff.UTC().Format(time.RFC3339Nano),
		record.CutoffSource,
		record.DryRun,
		record.IncludeAliased,
		startedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		record.Projects,
		record.Candidates,
		record.Deleted,
		record.Failed,
		record.SkippedAliased,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	for _, d := range record.Deployments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_deployments
			(run_id, project_id, project_name, uid, url, created_at, state, outcome, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			d.ProjectID,
			d.ProjectName,
			d.UID,
			d.URL,
			d.CreatedAt.UTC().Format(time.RFC3339Nano),
			d.State,
			string(d.Outcome),
			d.ErrorMessage,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert deployment record %s: %w", d.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run record: %w", err)
	}

	return id, nil
}

const runColumns = `id, repo, target, cutoff, cutoff_source, dry_run, include_aliased, started_at,
	completed_at, projects, candidates, deleted, failed, skipped_aliased, error_message`

// GetLatestRun returns the most recent run, or nil when there is none
func (h *History) GetLatestRun(ctx context.Context) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT 1`)

	record, err := scanRunRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	return record, nil
}

// GetRecentRuns returns up to limit runs, most recent first
func (h *History) GetRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

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

// GetRunDeployments returns the deployment outcomes recorded for a run
func (h *History) GetRunDeployments(ctx context.Context, runID int64) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, run_id, project_id, project_name, uid, url, created_at, state, outcome, error_message
		FROM run_deployments
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run deployments: %w", err)
	}
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		var d DeploymentRecord
		var createdAt, outcome string
		if err := rows.Scan(&d.ID, &d.RunID, &d.ProjectID, &d.ProjectName, &d.UID, &d.URL,
			&createdAt, &d.State, &outcome, &d.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
		}
		d.Outcome = Outcome(outcome)
		records = append(records, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRunRecord scans a database row into a RunRecord
// Works with both *sql.Row and *sql.Rows
func scanRunRecord(s scanner) (*RunRecord, error) {
	var record RunRecord
	var cutoffStr, startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.Repo,
		&record.Target,
		&cutoffStr,
		&record.CutoffSource,
		&record.DryRun,
		&record.IncludeAliased,
		&startedAtStr,
		&completedAtStr,
		&record.Projects,
		&record.Candidates,
		&record.Deleted,
		&record.Failed,
		&record.SkippedAliased,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	// Parse timestamps
	if record.Cutoff, err = time.Parse(time.RFC3339Nano, cutoffStr); err != nil {
		return nil, fmt.Errorf("failed to parse cutoff timestamp: %w", err)
	}
	if record.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
