package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-storage/internal/catalog"
)

// sessionRepo implements catalog.IngestSessionRepo. It mirrors the
// lifecycle ingest.Manager tracks in memory so a restart can recover
// which sessions were still in flight.
type sessionRepo struct {
	db *DB
}

// NewIngestSessionRepo creates a new PostgreSQL ingest-session store.
func NewIngestSessionRepo(db *DB) catalog.IngestSessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, rec *catalog.IngestSessionRecord) error {
	query := `
		INSERT INTO ingest_sessions (id, repo_id, intended_release, status, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		rec.ID,
		rec.RepoID,
		rec.IntendedRelease,
		rec.Status,
		rec.StartedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ingest session: %w", err)
	}
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*catalog.IngestSessionRecord, error) {
	query := `
		SELECT id, repo_id, intended_release, status, started_at, expires_at, completed_at
		FROM ingest_sessions
		WHERE id = $1
	`

	rec := &catalog.IngestSessionRecord{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.RepoID,
		&rec.IntendedRelease,
		&rec.Status,
		&rec.StartedAt,
		&rec.ExpiresAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ingest session %q: %w", id, err)
	}
	return rec, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id string, status catalog.IngestSessionStatus) error {
	var query string
	var err error

	if status == catalog.IngestSessionCompleted {
		query = `UPDATE ingest_sessions SET status = $2, completed_at = $3 WHERE id = $1`
		_, err = r.db.Pool.Exec(ctx, query, id, status, time.Now().UTC())
	} else {
		query = `UPDATE ingest_sessions SET status = $2 WHERE id = $1`
		_, err = r.db.Pool.Exec(ctx, query, id, status)
	}
	if err != nil {
		return fmt.Errorf("failed to update ingest session status: %w", err)
	}
	return nil
}

func (r *sessionRepo) ListActive(ctx context.Context, repoID string) ([]*catalog.IngestSessionRecord, error) {
	query := `
		SELECT id, repo_id, intended_release, status, started_at, expires_at, completed_at
		FROM ingest_sessions
		WHERE repo_id = $1 AND status = $2
		ORDER BY started_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, repoID, catalog.IngestSessionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active ingest sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*catalog.IngestSessionRecord
	for rows.Next() {
		rec := &catalog.IngestSessionRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RepoID,
			&rec.IntendedRelease,
			&rec.Status,
			&rec.StartedAt,
			&rec.ExpiresAt,
			&rec.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingest session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingest sessions: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM ingest_sessions
		WHERE status = $1 AND expires_at < $2
	`, catalog.IngestSessionActive, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired ingest sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

var _ catalog.IngestSessionRepo = (*sessionRepo)(nil)
