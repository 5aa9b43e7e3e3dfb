package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resonate-home/resonate/pkg/models"
)

// SyncRunRepository provides access to sync pass history records.
type SyncRunRepository interface {
	// Get returns a single sync run by ID.
	Get(ctx context.Context, id string) (*models.SyncRun, error)

	// List returns a paginated list of sync runs ordered by start time.
	List(ctx context.Context, opts ListOptions) (*ListResult[models.SyncRun], error)

	// Create inserts a new sync run record. If run.ID is empty, a UUID is
	// generated.
	Create(ctx context.Context, run *models.SyncRun) error

	// Finish marks a run complete with its final status and counts.
	Finish(ctx context.Context, id, status string, result models.SyncResult, errorMsg string) error
}

// Compile-time interface guard.
var _ SyncRunRepository = (*SQLiteSyncRunRepository)(nil)

// SQLiteSyncRunRepository implements SyncRunRepository using SQLite.
type SQLiteSyncRunRepository struct {
	db *sql.DB
}

// NewSQLiteSyncRunRepository creates a SyncRunRepository. The sync_runs
// table must already exist (created by the registry migrations).
func NewSQLiteSyncRunRepository(db *sql.DB) *SQLiteSyncRunRepository {
	return &SQLiteSyncRunRepository{db: db}
}

func (r *SQLiteSyncRunRepository) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	var run models.SyncRun
	var endedAt sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, status, discovered, synced, failed, error_msg
		FROM sync_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.StartedAt, &endedAt, &run.Status,
		&run.Discovered, &run.Synced, &run.Failed, &run.ErrorMsg)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get sync run %q: %w", id, err)
	}
	if endedAt.Valid {
		run.EndedAt = endedAt.String
	}
	return &run, nil
}

func (r *SQLiteSyncRunRepository) List(ctx context.Context, opts ListOptions) (*ListResult[models.SyncRun], error) {
	opts = normalizeListOptions(opts)

	// Count total runs.
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_runs`,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sync runs: %w", err)
	}

	// Query with pagination. Runs are always ordered by started_at.
	orderDir := "DESC"
	if opts.SortOrder == "asc" {
		orderDir = "ASC"
	}

	//nolint:gosec // orderDir is validated above
	query := fmt.Sprintf(
		`SELECT id, started_at, ended_at, status, discovered, synced, failed, error_msg
		FROM sync_runs ORDER BY started_at %s LIMIT ? OFFSET ?`, orderDir)

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var endedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.StartedAt, &endedAt, &run.Status,
			&run.Discovered, &run.Synced, &run.Failed, &run.ErrorMsg); err != nil {
			return nil, fmt.Errorf("scan sync run row: %w", err)
		}
		if endedAt.Valid {
			run.EndedAt = endedAt.String
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}

	return &ListResult[models.SyncRun]{Items: runs, Total: total}, nil
}

func (r *SQLiteSyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt == "" {
		run.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if run.Status == "" {
		run.Status = "running"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, status)
		VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.Status,
	)
	if err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

func (r *SQLiteSyncRunRepository) Finish(ctx context.Context, id, status string, result models.SyncResult, errorMsg string) error {
	endedAt := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, ended_at = ?, discovered = ?, synced = ?, failed = ?, error_msg = ?
		WHERE id = ?`,
		status, endedAt, result.Discovered, result.Synced, result.Failed, errorMsg, id,
	)
	if err != nil {
		return fmt.Errorf("finish sync run %q: %w", id, err)
	}
	return nil
}
