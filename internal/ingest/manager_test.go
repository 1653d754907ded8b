package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/repository"
)

// fakeLocker is a repository.DistributedLock test double whose Lock calls
// either always succeed or always report the resource already held.
type fakeLocker struct {
	deny bool
}

func (l *fakeLocker) Lock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.deny {
		return "", repository.ErrLockNotAcquired
	}
	return "tok", nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error { return nil }
func (l *fakeLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	return nil
}
func (l *fakeLocker) IsLocked(ctx context.Context, key string) (bool, error) { return !l.deny, nil }

var _ repository.DistributedLock = (*fakeLocker)(nil)

type memChunkStore struct {
	mu   sync.Mutex
	data map[hashid.Hash32][]byte
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{data: make(map[hashid.Hash32][]byte)}
}

func (s *memChunkStore) Write(hash hashid.Hash32, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[hash]; ok {
		return 0, nil
	}
	s.data[hash] = append([]byte(nil), data...)
	return len(data), nil
}

func (s *memChunkStore) Exists(hash hashid.Hash32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[hash]
	return ok
}

type memCatalog struct {
	mu       sync.Mutex
	files    map[hashid.Hash32][]hashid.Hash32
	releases []string
}

func newMemCatalog() *memCatalog {
	return &memCatalog{files: make(map[hashid.Hash32][]hashid.Hash32)}
}

func (c *memCatalog) FileDefinitionExists(hash hashid.Hash32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[hash]
	return ok
}

func (c *memCatalog) RegisterFileDefinition(hash hashid.Hash32, length uint64, chunks []hashid.Hash32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[hash] = chunks
	return nil
}

func (c *memCatalog) RecordRelease(repoID string, releaseDefinition []byte, checksum hashid.Hash32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases = append(c.releases, repoID)
	return nil
}

func newTestManager() (*Manager, *memChunkStore, *memCatalog) {
	chunks := newMemChunkStore()
	catalog := newMemCatalog()
	return NewManager(chunks, catalog), chunks, catalog
}

func TestCreateStartsInCreatedState(t *testing.T) {
	m, _, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Created, s.State)
}

func TestUploadChunksRejectsWholeBatchOnHashMismatch(t *testing.T) {
	m, chunks, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	good := []byte("good chunk")
	bad := []byte("bad chunk")
	batch := []ChunkHash{
		{Hash: hashid.Sum32(good), Data: good},
		{Hash: hashid.Sum32(bad), Data: []byte("tampered")},
	}
	err = m.UploadChunks(id, batch)
	assert.ErrorIs(t, err, apperr.ErrFormat)
	assert.False(t, chunks.Exists(hashid.Sum32(good)), "a failing batch must not partially apply")
}

func TestUploadChunksIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	data := []byte("repeat me")
	batch := []ChunkHash{{Hash: hashid.Sum32(data), Data: data}}
	require.NoError(t, m.UploadChunks(id, batch))
	require.NoError(t, m.UploadChunks(id, batch))

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.ChunksSeenTotal)
	assert.Equal(t, uint64(1), s.ChunksSeenUnique)
}

func TestMissingChunksReflectsStoreState(t *testing.T) {
	m, _, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	present := []byte("present")
	absentHash := hashid.Sum32([]byte("absent"))
	require.NoError(t, m.UploadChunks(id, []ChunkHash{{Hash: hashid.Sum32(present), Data: present}}))

	missing, err := m.MissingChunks(id, []hashid.Hash32{hashid.Sum32(present), absentHash})
	require.NoError(t, err)
	assert.Equal(t, []hashid.Hash32{absentHash}, missing)
}

func TestFinalizeCompletesSession(t *testing.T) {
	m, _, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	data := []byte("chunk data")
	hash := hashid.Sum32(data)
	require.NoError(t, m.UploadChunks(id, []ChunkHash{{Hash: hash, Data: data}}))

	releaseBytes := []byte("release definition bytes")
	require.NoError(t, m.Finalize(id, releaseBytes, []hashid.Hash32{hash}, hashid.Sum32(releaseBytes)))

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Completed, s.State)
}

func TestFinalizeSucceedsWithLockerGranted(t *testing.T) {
	m, _, _ := newTestManager()
	m.SetLocker(&fakeLocker{})
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	data := []byte("chunk data")
	hash := hashid.Sum32(data)
	require.NoError(t, m.UploadChunks(id, []ChunkHash{{Hash: hash, Data: data}}))

	releaseBytes := []byte("release definition bytes")
	require.NoError(t, m.Finalize(id, releaseBytes, []hashid.Hash32{hash}, hashid.Sum32(releaseBytes)))

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Completed, s.State)
}

func TestFinalizeRejectsConcurrentReplicaHoldingLock(t *testing.T) {
	m, _, _ := newTestManager()
	m.SetLocker(&fakeLocker{deny: true})
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	err = m.Finalize(id, []byte("rel"), nil, hashid.Sum32([]byte("rel")))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, InProgress, s.State, "a lock conflict never touches session state")
}

func TestFinalizeFailsOnMissingChunk(t *testing.T) {
	m, _, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)

	missingHash := hashid.Sum32([]byte("never uploaded"))
	err = m.Finalize(id, []byte("rel"), []hashid.Hash32{missingHash}, hashid.Sum32([]byte("rel")))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, InProgress, s.State, "finalize failure on a recoverable error leaves the session resumable")
}

func TestAbortTransition(t *testing.T) {
	m, _, _ := newTestManager()
	id, err := m.Create("repo-1", "v1.0.0")
	require.NoError(t, err)
	require.NoError(t, m.Abort(id))

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Aborted, s.State)

	err = m.Abort(id)
	assert.ErrorIs(t, err, apperr.ErrSessionStateInvalid)
}

func TestSessionExpiresOnTTLOverrun(t *testing.T) {
	m, _, _ := newTestManager()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	currentTime = func() time.Time { return fixed }
	defer func() { currentTime = time.Now }()

	id, err := m.CreateWithTTL("repo-1", "v1.0.0", time.Second)
	require.NoError(t, err)

	currentTime = func() time.Time { return fixed.Add(2 * time.Second) }

	err = m.UploadChunks(id, nil)
	assert.ErrorIs(t, err, apperr.ErrSessionStateInvalid)

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Expired, s.State)
}
