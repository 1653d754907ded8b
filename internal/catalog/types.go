// Package catalog declares the persisted catalog contract: the durable
// record of repositories, releases, file definitions and ingest sessions
// that sits alongside the content-addressed chunk store. The chunk bytes
// themselves live in packstore; catalog tracks what they mean.
package catalog

import (
	"time"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// Repository is one named destination that releases are published into.
type Repository struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ReleaseRecord is the durable record of one published release: the raw
// encoded release-package bytes plus the checksum clients verify against
// before trusting it.
type ReleaseRecord struct {
	ID         string
	RepoID     string
	Definition []byte
	Checksum   hashid.Hash32
	CreatedAt  time.Time
}

// FileDefinitionRecord is one registered file identity: the hash a client
// names in a release manifest, resolved to the ordered chunk sequence it
// is built from.
type FileDefinitionRecord struct {
	FileHash  hashid.Hash32
	Length    uint64
	Chunks    []hashid.Hash32
	CreatedAt time.Time
}

// IngestSessionStatus mirrors ingest.State for the persisted projection of
// a session, so a restart can recover in-flight sessions instead of
// silently losing them.
type IngestSessionStatus string

const (
	IngestSessionActive    IngestSessionStatus = "active"
	IngestSessionCompleted IngestSessionStatus = "completed"
	IngestSessionFailed    IngestSessionStatus = "failed"
	IngestSessionAborted   IngestSessionStatus = "aborted"
	IngestSessionExpired   IngestSessionStatus = "expired"
)

// IngestSessionRecord is the persisted projection of an ingest.Session.
type IngestSessionRecord struct {
	ID              string
	RepoID          string
	IntendedRelease string
	Status          IngestSessionStatus
	StartedAt       time.Time
	ExpiresAt       time.Time
	CompletedAt     *time.Time
}

// TokenStatus is the lifecycle state of an API token.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusRevoked TokenStatus = "revoked"
)

// Token is an opaque API credential: a public token ID plus an encrypted
// secret, scoped to a repository.
type Token struct {
	ID              int64
	RepoID          string
	TokenID         string
	EncryptedSecret []byte
	Description     string
	Status          TokenStatus
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	LastUsedAt      *time.Time
}

// ListOptions pages through a potentially large result set by opaque
// marker, matching the catalog's cursor-style pagination.
type ListOptions struct {
	Marker   string
	MaxItems int
}

// ListResult is one page of a marker-paginated listing.
type ListResult[T any] struct {
	Items       []T
	IsTruncated bool
	NextMarker  string
}
