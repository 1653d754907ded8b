package postgres

import (
	"context"
	"fmt"

	"github.com/prn-tf/alexander-storage/internal/catalog"
)

// repositoryRepo implements catalog.RepositoryRepo.
type repositoryRepo struct {
	db *DB
}

// NewRepositoryRepo creates a new PostgreSQL repository-record store.
func NewRepositoryRepo(db *DB) catalog.RepositoryRepo {
	return &repositoryRepo{db: db}
}

func (r *repositoryRepo) Create(ctx context.Context, repo *catalog.Repository) error {
	query := `
		INSERT INTO repositories (id, name, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.Pool.Exec(ctx, query, repo.ID, repo.Name, repo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: repository %q already exists", catalog.ErrNotFound, repo.ID)
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

func (r *repositoryRepo) GetByID(ctx context.Context, id string) (*catalog.Repository, error) {
	query := `SELECT id, name, created_at FROM repositories WHERE id = $1`

	repo := &catalog.Repository{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&repo.ID, &repo.Name, &repo.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repository %q: %w", id, err)
	}
	return repo, nil
}

func (r *repositoryRepo) List(ctx context.Context, opts catalog.ListOptions) (*catalog.ListResult[*catalog.Repository], error) {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = 1000
	}

	query := `
		SELECT id, name, created_at
		FROM repositories
		WHERE ($1 = '' OR id > $1)
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, opts.Marker, maxItems+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*catalog.Repository
	for rows.Next() {
		repo := &catalog.Repository{}
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}

	result := &catalog.ListResult[*catalog.Repository]{}
	if len(repos) > maxItems {
		result.IsTruncated = true
		result.NextMarker = repos[maxItems-1].ID
		result.Items = repos[:maxItems]
	} else {
		result.Items = repos
	}
	return result, nil
}

func (r *repositoryRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository %q: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

var _ catalog.RepositoryRepo = (*repositoryRepo)(nil)
