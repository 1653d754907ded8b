// Package ingest implements the ingest-session manager: the state machine
// and chunk/file negotiation operations a client walks through to publish a
// new release without re-uploading bytes the store already has.
package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// State is one ingest-session lifecycle state.
type State int

const (
	Created State = iota
	InProgress
	Completed
	Failed
	Aborted
	Expired
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	switch s {
	case Completed, Failed, Aborted, Expired:
		return true
	default:
		return false
	}
}

// DefaultTTL is the session lifetime applied when Create is not given an
// explicit override.
const DefaultTTL = 24 * time.Hour

// Session is the full ingest-session record, matching the data model's
// IngestSession counters.
type Session struct {
	ID                string
	RepoID            string
	IntendedRelease   string
	State             State
	StartedAt         time.Time
	LastUpdatedAt     time.Time
	CompletedAt       time.Time
	ExpiresAt         time.Time
	ChunksSeenTotal   uint64
	ChunksSeenUnique  uint64
	ChunksSeenNew     uint64
	DataSizeTotal     uint64
	DataSizeUnique    uint64
	FilesSeenTotal    uint64
	FilesSeenUnique   uint64
	FilesSeenNew      uint64
	MetadataSize      uint64
	Error             string
}

func newSession(repoID, intendedRelease string, ttl time.Duration) *Session {
	now := currentTime()
	return &Session{
		ID:              uuid.NewString(),
		RepoID:          repoID,
		IntendedRelease: intendedRelease,
		State:           Created,
		StartedAt:       now,
		LastUpdatedAt:   now,
		ExpiresAt:       now.Add(ttl),
	}
}

// snapshot returns a defensive copy safe to hand to a caller outside the
// manager's lock.
func (s *Session) snapshot() Session {
	return *s
}

// currentTime is indirected so TTL tests can inject a
// fixed clock without sleeping in real time.
var currentTime = time.Now

// ChunkHash is the per-item payload of a chunk upload batch.
type ChunkHash struct {
	Hash hashid.Hash32
	Data []byte
}

// FileDefinition is one file identity a client registers during ingest.
type FileDefinition struct {
	FileHash hashid.Hash32
	Length   uint64
	Chunks   []hashid.Hash32
}
