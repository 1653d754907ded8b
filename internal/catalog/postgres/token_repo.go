package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-storage/internal/catalog"
)

// tokenRepo implements catalog.TokenRepo.
type tokenRepo struct {
	db *DB
}

// NewTokenRepo creates a new PostgreSQL API-token store.
func NewTokenRepo(db *DB) catalog.TokenRepo {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Create(ctx context.Context, token *catalog.Token) error {
	query := `
		INSERT INTO api_tokens (repo_id, token_id, encrypted_secret, description, status, created_at, expires_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		token.RepoID,
		token.TokenID,
		token.EncryptedSecret,
		token.Description,
		token.Status,
		token.CreatedAt,
		token.ExpiresAt,
		token.LastUsedAt,
	).Scan(&token.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: token id already exists", catalog.ErrNotFound)
		}
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func (r *tokenRepo) GetByTokenID(ctx context.Context, tokenID string) (*catalog.Token, error) {
	query := `
		SELECT id, repo_id, token_id, encrypted_secret, description, status, created_at, expires_at, last_used_at
		FROM api_tokens
		WHERE token_id = $1
	`
	return r.scanOne(ctx, query, tokenID)
}

func (r *tokenRepo) GetActiveByTokenID(ctx context.Context, tokenID string) (*catalog.Token, error) {
	query := `
		SELECT id, repo_id, token_id, encrypted_secret, description, status, created_at, expires_at, last_used_at
		FROM api_tokens
		WHERE token_id = $1
			AND status = $2
			AND (expires_at IS NULL OR expires_at > $3)
	`
	row := r.db.Pool.QueryRow(ctx, query, tokenID, catalog.TokenStatusActive, time.Now().UTC())
	return r.scanRow(row)
}

func (r *tokenRepo) scanOne(ctx context.Context, query string, args ...any) (*catalog.Token, error) {
	row := r.db.Pool.QueryRow(ctx, query, args...)
	return r.scanRow(row)
}

func (r *tokenRepo) scanRow(row interface {
	Scan(dest ...any) error
}) (*catalog.Token, error) {
	token := &catalog.Token{}
	err := row.Scan(
		&token.ID,
		&token.RepoID,
		&token.TokenID,
		&token.EncryptedSecret,
		&token.Description,
		&token.Status,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.LastUsedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

func (r *tokenRepo) ListByRepo(ctx context.Context, repoID string) ([]*catalog.Token, error) {
	query := `
		SELECT id, repo_id, token_id, encrypted_secret, description, status, created_at, expires_at, last_used_at
		FROM api_tokens
		WHERE repo_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*catalog.Token
	for rows.Next() {
		token := &catalog.Token{}
		err := rows.Scan(
			&token.ID,
			&token.RepoID,
			&token.TokenID,
			&token.EncryptedSecret,
			&token.Description,
			&token.Status,
			&token.CreatedAt,
			&token.ExpiresAt,
			&token.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return tokens, nil
}

func (r *tokenRepo) UpdateStatus(ctx context.Context, id int64, status catalog.TokenStatus) error {
	result, err := r.db.Pool.Exec(ctx, `UPDATE api_tokens SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update token status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *tokenRepo) UpdateLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := r.db.Pool.Exec(ctx, `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to update token last-used: %w", err)
	}
	if result.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *tokenRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM api_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

var _ catalog.TokenRepo = (*tokenRepo)(nil)
