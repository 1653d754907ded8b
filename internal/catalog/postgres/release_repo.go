package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-storage/internal/catalog"
	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// releaseRepo implements catalog.ReleaseRepo.
type releaseRepo struct {
	db *DB
}

// NewReleaseRepo creates a new PostgreSQL release store.
func NewReleaseRepo(db *DB) catalog.ReleaseRepo {
	return &releaseRepo{db: db}
}

func (r *releaseRepo) Create(ctx context.Context, rec *catalog.ReleaseRecord) error {
	query := `
		INSERT INTO releases (id, repo_id, definition, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, rec.ID, rec.RepoID, rec.Definition, rec.Checksum[:], rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: release %q already exists", catalog.ErrNotFound, rec.ID)
		}
		return fmt.Errorf("failed to create release: %w", err)
	}
	return nil
}

func (r *releaseRepo) GetByID(ctx context.Context, repoID, releaseID string) (*catalog.ReleaseRecord, error) {
	query := `
		SELECT id, repo_id, definition, checksum, created_at
		FROM releases
		WHERE repo_id = $1 AND id = $2
	`

	rec := &catalog.ReleaseRecord{}
	var checksum []byte
	err := r.db.Pool.QueryRow(ctx, query, repoID, releaseID).Scan(&rec.ID, &rec.RepoID, &rec.Definition, &checksum, &rec.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get release %q: %w", releaseID, err)
	}
	copy(rec.Checksum[:], checksum)
	return rec, nil
}

func (r *releaseRepo) List(ctx context.Context, repoID string, opts catalog.ListOptions) (*catalog.ListResult[*catalog.ReleaseRecord], error) {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = 1000
	}

	query := `
		SELECT id, repo_id, definition, checksum, created_at
		FROM releases
		WHERE repo_id = $1 AND ($2 = '' OR id > $2)
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, repoID, opts.Marker, maxItems+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []*catalog.ReleaseRecord
	for rows.Next() {
		rec := &catalog.ReleaseRecord{}
		var checksum []byte
		if err := rows.Scan(&rec.ID, &rec.RepoID, &rec.Definition, &checksum, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		copy(rec.Checksum[:], checksum)
		releases = append(releases, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating releases: %w", err)
	}

	result := &catalog.ListResult[*catalog.ReleaseRecord]{}
	if len(releases) > maxItems {
		result.IsTruncated = true
		result.NextMarker = releases[maxItems-1].ID
		result.Items = releases[:maxItems]
	} else {
		result.Items = releases
	}
	return result, nil
}

var _ catalog.ReleaseRepo = (*releaseRepo)(nil)

// fileDefinitionRepo implements catalog.FileDefinitionRepo.
type fileDefinitionRepo struct {
	db *DB
}

// NewFileDefinitionRepo creates a new PostgreSQL file-definition store.
func NewFileDefinitionRepo(db *DB) catalog.FileDefinitionRepo {
	return &fileDefinitionRepo{db: db}
}

func (r *fileDefinitionRepo) Exists(ctx context.Context, hash hashid.Hash32) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM file_definitions WHERE file_hash = $1)`, hash[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check file definition existence: %w", err)
	}
	return exists, nil
}

func (r *fileDefinitionRepo) Register(ctx context.Context, hash hashid.Hash32, length uint64, chunks []hashid.Hash32) error {
	flat := make([]byte, 0, len(chunks)*hashid.Size32)
	for _, c := range chunks {
		flat = append(flat, c[:]...)
	}

	query := `
		INSERT INTO file_definitions (file_hash, length, chunks, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_hash) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query, hash[:], length, flat, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to register file definition: %w", err)
	}
	return nil
}

func (r *fileDefinitionRepo) Get(ctx context.Context, hash hashid.Hash32) (*catalog.FileDefinitionRecord, error) {
	query := `SELECT file_hash, length, chunks, created_at FROM file_definitions WHERE file_hash = $1`

	var fileHash, flat []byte
	rec := &catalog.FileDefinitionRecord{}
	err := r.db.Pool.QueryRow(ctx, query, hash[:]).Scan(&fileHash, &rec.Length, &flat, &rec.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file definition: %w", err)
	}
	copy(rec.FileHash[:], fileHash)

	rec.Chunks = make([]hashid.Hash32, len(flat)/hashid.Size32)
	for i := range rec.Chunks {
		copy(rec.Chunks[i][:], flat[i*hashid.Size32:(i+1)*hashid.Size32])
	}
	return rec, nil
}

var _ catalog.FileDefinitionRepo = (*fileDefinitionRepo)(nil)
