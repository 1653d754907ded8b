package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/repository"
)

// finalizeLockTTL bounds how long a Finalize call may hold the
// cross-replica finalize lock before another replica is allowed to assume
// the holder died mid-request.
const finalizeLockTTL = 30 * time.Second

// ChunkStore is the subset of the pack-file engine the session manager
// needs: write-once-by-hash storage with existence checks. packstore.Engine
// satisfies this.
type ChunkStore interface {
	Write(hash hashid.Hash32, data []byte) (int, error)
	Exists(hash hashid.Hash32) bool
}

// Catalog is the subset of the persisted catalog contract the session
// manager needs for file-definition bookkeeping and release recording.
type Catalog interface {
	FileDefinitionExists(hash hashid.Hash32) bool
	RegisterFileDefinition(hash hashid.Hash32, length uint64, chunks []hashid.Hash32) error
	RecordRelease(repoID string, releaseDefinition []byte, checksum hashid.Hash32) error
}

// Manager owns the set of live ingest sessions for a repository-agnostic
// chunk store and catalog. One Manager may serve many repositories.
type Manager struct {
	chunks  ChunkStore
	catalog Catalog
	locker  repository.DistributedLock

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a session manager over chunks and catalog.
func NewManager(chunks ChunkStore, catalog Catalog) *Manager {
	return &Manager{chunks: chunks, catalog: catalog, sessions: make(map[string]*Session)}
}

// SetLocker attaches a cross-process lock Finalize uses to serialize
// release publication for one session across replicas sharing the same
// catalog. Optional: a nil locker (the default) finalizes without
// cross-replica coordination, correct for a single-node deployment.
func (m *Manager) SetLocker(locker repository.DistributedLock) {
	m.locker = locker
}

// Create opens a new session in state Created with the default TTL.
func (m *Manager) Create(repoID, intendedRelease string) (string, error) {
	return m.CreateWithTTL(repoID, intendedRelease, DefaultTTL)
}

// CreateWithTTL is Create with an explicit TTL override, for tests and
// operators who need a shorter expiry window.
func (m *Manager) CreateWithTTL(repoID, intendedRelease string, ttl time.Duration) (string, error) {
	s := newSession(repoID, intendedRelease, ttl)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s.ID, nil
}

// Get returns a snapshot of the session's current state, applying any TTL
// expiry observed at this moment first.
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(sessionID)
	if err != nil {
		return Session{}, err
	}
	return s.snapshot(), nil
}

func (m *Manager) lookupLocked(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	m.expireIfOverdueLocked(s)
	return s, nil
}

func (m *Manager) expireIfOverdueLocked(s *Session) {
	if !s.State.terminal() && currentTime().After(s.ExpiresAt) {
		s.State = Expired
		s.LastUpdatedAt = currentTime()
	}
}

// requireActiveLocked returns the session if it is usable for a mutating
// operation (Created or InProgress, not yet expired), auto-promoting
// Created to InProgress on first use.
func (m *Manager) requireActiveLocked(sessionID string) (*Session, error) {
	s, err := m.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case Created:
		s.State = InProgress
	case InProgress:
	default:
		return nil, fmt.Errorf("%w: session %s is %s", apperr.ErrSessionStateInvalid, sessionID, s.State)
	}
	return s, nil
}

// MissingChunks returns the subset of hashes absent from the chunk store.
// Side-effect-free; may be retried freely, and is not gated by session
// state beyond existing.
func (m *Manager) MissingChunks(sessionID string, hashes []hashid.Hash32) ([]hashid.Hash32, error) {
	m.mu.Lock()
	_, err := m.lookupLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var missing []hashid.Hash32
	for _, h := range hashes {
		if !m.chunks.Exists(h) {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// MissingFiles returns the subset of file hashes not yet registered in the
// catalog.
func (m *Manager) MissingFiles(sessionID string, fileHashes []hashid.Hash32) ([]hashid.Hash32, error) {
	m.mu.Lock()
	_, err := m.lookupLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var missing []hashid.Hash32
	for _, h := range fileHashes {
		if !m.catalog.FileDefinitionExists(h) {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// UploadChunks verifies every item's hash against its bytes, rejecting the
// whole batch on any mismatch, then writes through the chunk store and
// updates session counters. Re-uploading an already-present chunk is a
// no-op, not an error.
func (m *Manager) UploadChunks(sessionID string, batch []ChunkHash) error {
	for _, item := range batch {
		if hashid.Sum32(item.Data) != item.Hash {
			return fmt.Errorf("%w: chunk %s fails hash verification", apperr.ErrFormat, item.Hash)
		}
	}

	m.mu.Lock()
	s, err := m.requireActiveLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	var total, unique, newCount uint64
	var sizeTotal, sizeUnique uint64
	for _, item := range batch {
		total++
		sizeTotal += uint64(len(item.Data))

		existedBefore := m.chunks.Exists(item.Hash)
		n, err := m.chunks.Write(item.Hash, item.Data)
		if err != nil {
			return fmt.Errorf("ingest: write chunk %s: %w", item.Hash, err)
		}
		if !existedBefore {
			unique++
			sizeUnique += uint64(len(item.Data))
			if n > 0 {
				newCount++
			}
		}
	}

	m.mu.Lock()
	s.ChunksSeenTotal += total
	s.ChunksSeenUnique += unique
	s.ChunksSeenNew += newCount
	s.DataSizeTotal += sizeTotal
	s.DataSizeUnique += sizeUnique
	s.LastUpdatedAt = currentTime()
	m.mu.Unlock()
	return nil
}

// UploadFileDefinitions registers new file identities, validating that
// every referenced chunk hash is already present in the store.
func (m *Manager) UploadFileDefinitions(sessionID string, batch []FileDefinition) error {
	for _, def := range batch {
		for _, h := range def.Chunks {
			if !m.chunks.Exists(h) {
				return fmt.Errorf("%w: file %s references unknown chunk %s", apperr.ErrFormat, def.FileHash, h)
			}
		}
	}

	m.mu.Lock()
	s, err := m.requireActiveLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	var total, unique, newCount uint64
	for _, def := range batch {
		total++
		existedBefore := m.catalog.FileDefinitionExists(def.FileHash)
		if !existedBefore {
			unique++
			if err := m.catalog.RegisterFileDefinition(def.FileHash, def.Length, def.Chunks); err != nil {
				return fmt.Errorf("ingest: register file %s: %w", def.FileHash, err)
			}
			newCount++
		}
	}

	m.mu.Lock()
	s.FilesSeenTotal += total
	s.FilesSeenUnique += unique
	s.FilesSeenNew += newCount
	s.LastUpdatedAt = currentTime()
	m.mu.Unlock()
	return nil
}

// Finalize verifies every chunk referenced by releasePackageBytes exists,
// records the release in the catalog, and moves the session to Completed.
// referencedChunks is the caller-resolved set of chunk hashes the release
// definition names (the codec already validated internal consistency;
// Finalize only checks store presence).
func (m *Manager) Finalize(sessionID string, releasePackageBytes []byte, referencedChunks []hashid.Hash32, checksum hashid.Hash32) error {
	m.mu.Lock()
	s, err := m.requireActiveLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if m.locker != nil {
		lockKey := "ingest-finalize:" + sessionID
		token, err := m.locker.Lock(context.Background(), lockKey, finalizeLockTTL)
		if err != nil {
			if errors.Is(err, repository.ErrLockNotAcquired) {
				return fmt.Errorf("%w: finalize: another replica is already finalizing session %s", apperr.ErrConflict, sessionID)
			}
			return fmt.Errorf("%w: finalize: acquire cross-replica lock: %v", apperr.ErrTransient, err)
		}
		defer m.locker.Unlock(context.Background(), lockKey, token)
	}

	for _, h := range referencedChunks {
		if !m.chunks.Exists(h) {
			m.mu.Lock()
			s.Error = fmt.Sprintf("finalize: missing chunk %s", h)
			m.mu.Unlock()
			return fmt.Errorf("%w: release references missing chunk %s", apperr.ErrNotFound, h)
		}
	}

	if err := m.catalog.RecordRelease(s.RepoID, releasePackageBytes, checksum); err != nil {
		m.mu.Lock()
		s.State = Failed
		s.Error = err.Error()
		s.LastUpdatedAt = currentTime()
		m.mu.Unlock()
		return fmt.Errorf("%w: record release: %v", apperr.ErrConflict, err)
	}

	m.mu.Lock()
	s.State = Completed
	s.MetadataSize = uint64(len(releasePackageBytes))
	s.CompletedAt = currentTime()
	s.LastUpdatedAt = s.CompletedAt
	m.mu.Unlock()
	return nil
}

// Abort transitions a non-terminal session to Aborted. The underlying
// ingested-but-unreferenced chunks are left for a later, unspecified
// garbage-collection pass.
func (m *Manager) Abort(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	if s.State.terminal() {
		return fmt.Errorf("%w: session %s is already %s", apperr.ErrSessionStateInvalid, sessionID, s.State)
	}
	s.State = Aborted
	s.LastUpdatedAt = currentTime()
	return nil
}
