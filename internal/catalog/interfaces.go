package catalog

import (
	"context"
	"errors"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// ErrNotFound is returned by a lookup when no row matches. It is kept
// separate from apperr.ErrNotFound so catalog stays free of the apperr
// dependency; the HTTP layer maps both to 404.
var ErrNotFound = errors.New("catalog: not found")

// RepositoryRepo manages the set of named repositories releases publish
// into.
type RepositoryRepo interface {
	Create(ctx context.Context, repo *Repository) error
	GetByID(ctx context.Context, id string) (*Repository, error)
	List(ctx context.Context, opts ListOptions) (*ListResult[*Repository], error)
	Delete(ctx context.Context, id string) error
}

// ReleaseRepo persists finalized release packages.
type ReleaseRepo interface {
	Create(ctx context.Context, rec *ReleaseRecord) error
	GetByID(ctx context.Context, repoID, releaseID string) (*ReleaseRecord, error)
	List(ctx context.Context, repoID string, opts ListOptions) (*ListResult[*ReleaseRecord], error)
}

// FileDefinitionRepo tracks the hash-to-chunk-sequence mapping that lets a
// client reference a file by its whole-file hash during ingest.
type FileDefinitionRepo interface {
	Exists(ctx context.Context, hash hashid.Hash32) (bool, error)
	Register(ctx context.Context, hash hashid.Hash32, length uint64, chunks []hashid.Hash32) error
	Get(ctx context.Context, hash hashid.Hash32) (*FileDefinitionRecord, error)
}

// IngestSessionRepo persists the ingest-session lifecycle so a process
// restart can recover in-flight sessions rather than losing them. The
// in-memory ingest.Manager remains the source of truth for the hot path;
// this is the durable projection it checkpoints to.
type IngestSessionRepo interface {
	Create(ctx context.Context, rec *IngestSessionRecord) error
	GetByID(ctx context.Context, id string) (*IngestSessionRecord, error)
	UpdateStatus(ctx context.Context, id string, status IngestSessionStatus) error
	ListActive(ctx context.Context, repoID string) ([]*IngestSessionRecord, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// TokenRepo manages opaque API credentials used by internal/auth.
type TokenRepo interface {
	Create(ctx context.Context, token *Token) error
	GetByTokenID(ctx context.Context, tokenID string) (*Token, error)
	GetActiveByTokenID(ctx context.Context, tokenID string) (*Token, error)
	ListByRepo(ctx context.Context, repoID string) ([]*Token, error)
	UpdateStatus(ctx context.Context, id int64, status TokenStatus) error
	UpdateLastUsed(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	DeleteExpired(ctx context.Context) (int64, error)
}
