package packstore

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	return NewEngine(EngineOptions{RootDir: dir, MaxPackSize: 1 << 20})
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	data := []byte("hello pack store")
	hash := hashid.Sum32(data)

	n, err := e.Write(hash, data)
	require.NoError(t, err)
	assert.Positive(t, n)

	got, err := e.Read(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteZeroByteChunk(t *testing.T) {
	e := newTestEngine(t)
	hash := hashid.Sum32(nil)

	_, err := e.Write(hash, nil)
	require.NoError(t, err)

	got, err := e.Read(hash)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRewriteExistingHashIsNoop(t *testing.T) {
	e := newTestEngine(t)
	data := []byte("duplicate me")
	hash := hashid.Sum32(data)

	n1, err := e.Write(hash, data)
	require.NoError(t, err)
	require.Positive(t, n1)

	n2, err := e.Write(hash, data)
	require.NoError(t, err)
	assert.Equal(t, 0, n2)
}

func TestReadMissingHashIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	var hash hashid.Hash32
	hash[0] = 0xAB

	_, err := e.Read(hash)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCorruptionIsDetectedOnRead(t *testing.T) {
	e := newTestEngine(t)
	data := []byte("some bytes that compress to a nontrivial payload, repeated, repeated, repeated")
	hash := hashid.Sum32(data)

	_, err := e.Write(hash, data)
	require.NoError(t, err)

	s, err := e.storeFor(hash)
	require.NoError(t, err)
	packPath := s.packPath(0)

	raw, err := os.ReadFile(packPath)
	require.NoError(t, err)
	require.Greater(t, len(raw), headerSize+4)
	corrupted := append([]byte{}, raw...)
	corrupted[headerSize+2] ^= 0xFF // flip a byte inside the compressed payload
	require.NoError(t, os.WriteFile(packPath, corrupted, 0o644))

	_, err = e.Read(hash)
	assert.ErrorIs(t, err, apperr.ErrCorrupt)
}

func TestRebuildIndexReproducesMap(t *testing.T) {
	e := newTestEngine(t)
	inputs := [][]byte{
		[]byte("chunk one"),
		[]byte("chunk two"),
		[]byte("chunk three, a bit longer to vary size"),
	}
	hashes := make([]hashid.Hash32, len(inputs))
	for i, data := range inputs {
		hashes[i] = hashid.Sum32(data)
		_, err := e.Write(hashes[i], data)
		require.NoError(t, err)
	}

	require.NoError(t, e.RebuildIndex(hashes[0], hashid.Sum32))

	for i, data := range inputs {
		got, err := e.Read(hashes[i])
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestStatsCountsChunksAndBytesAcrossShards(t *testing.T) {
	e := newTestEngine(t)
	inputs := [][]byte{
		[]byte("alpha chunk"),
		[]byte("beta chunk, a little longer"),
	}
	var wantBytes int64
	for _, data := range inputs {
		hash := hashid.Sum32(data)
		n, err := e.Write(hash, data)
		require.NoError(t, err)
		wantBytes += int64(n)
	}

	stats := e.Stats()
	assert.EqualValues(t, len(inputs), stats.ChunkCount)
	assert.Equal(t, wantBytes, stats.StoredBytes)
	assert.NotEmpty(t, stats.Shards)
}

func TestReopenDiscardsTruncatedTailThenAcceptsNewWrites(t *testing.T) {
	dir := t.TempDir()
	newEngine := func() *Engine {
		return NewEngine(EngineOptions{RootDir: dir, MaxPackSize: 1 << 20})
	}

	e1 := newEngine()
	first := []byte("entry written before the simulated crash")
	firstHash := hashid.Sum32(first)
	_, err := e1.Write(firstHash, first)
	require.NoError(t, err)

	s, err := e1.storeFor(firstHash)
	require.NoError(t, err)
	packPath := s.packPath(0)

	clean, err := os.ReadFile(packPath)
	require.NoError(t, err)

	// Simulate a crash mid-append: a stray partial header trails the last
	// good entry, as os.O_APPEND would leave it after a truncated write.
	withGarbage := append(append([]byte{}, clean...), storedChunkMagicBytes[:]...)
	withGarbage = append(withGarbage, 1, 2, 3) // incomplete version/len fields
	require.NoError(t, os.WriteFile(packPath, withGarbage, 0o644))

	// Reopening must discard the garbage tail, not append past it blindly.
	e2 := newEngine()
	second := []byte("entry written after reopening past the crash")
	secondHash := hashid.Sum32(second)
	_, err = e2.Write(secondHash, second)
	require.NoError(t, err)

	repaired, err := os.ReadFile(packPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(repaired, clean), "new entry must follow the last good entry, not float after garbage")
	assert.False(t, bytes.Contains(repaired, []byte{1, 2, 3}), "truncated tail bytes must not survive reopen")

	gotFirst, err := e2.Read(firstHash)
	require.NoError(t, err)
	assert.Equal(t, first, gotFirst)

	gotSecond, err := e2.Read(secondHash)
	require.NoError(t, err)
	assert.Equal(t, second, gotSecond)

	s2, err := e2.storeFor(secondHash)
	require.NoError(t, err)
	require.NoError(t, s2.RebuildIndex(hashid.Sum32))

	gotFirstAfterRebuild, err := e2.Read(firstHash)
	require.NoError(t, err)
	assert.Equal(t, first, gotFirstAfterRebuild)
	gotSecondAfterRebuild, err := e2.Read(secondHash)
	require.NoError(t, err)
	assert.Equal(t, second, gotSecondAfterRebuild)
}

func TestRebuildIndexResyncsPastCorruptionWithinSameFile(t *testing.T) {
	e := newTestEngine(t)
	first := []byte("first valid entry before the corruption")
	second := []byte("second valid entry written after the gap")
	firstHash := hashid.Sum32(first)
	secondHash := hashid.Sum32(second)

	_, err := e.Write(firstHash, first)
	require.NoError(t, err)

	s, err := e.storeFor(firstHash)
	require.NoError(t, err)
	packPath := s.packPath(0)

	clean, err := os.ReadFile(packPath)
	require.NoError(t, err)

	// Inject a garbage region between the two entries that happens to start
	// with bytes decodeStoredChunkHeader will reject, simulating a crash
	// whose tail was never cleaned up before more data was appended.
	corrupted := append(append([]byte{}, clean...), []byte("garbage-not-a-valid-header-blob")...)

	encodedSecond, err := encodeStoredChunk(second, s.zstdLevel)
	require.NoError(t, err)
	corrupted = append(corrupted, encodedSecond...)
	require.NoError(t, os.WriteFile(packPath, corrupted, 0o644))

	require.NoError(t, s.RebuildIndex(hashid.Sum32))

	gotFirst, err := e.Read(firstHash)
	require.NoError(t, err)
	assert.Equal(t, first, gotFirst)

	gotSecond, err := e.Read(secondHash)
	require.NoError(t, err)
	assert.Equal(t, second, gotSecond)
}

func TestRebuildPacksDropsTruncatedTail(t *testing.T) {
	e := newTestEngine(t)
	data := []byte("will be truncated after this entry's header check")
	hash := hashid.Sum32(data)

	_, err := e.Write(hash, data)
	require.NoError(t, err)

	s, err := e.storeFor(hash)
	require.NoError(t, err)
	packPath := s.packPath(0)

	raw, err := os.ReadFile(packPath)
	require.NoError(t, err)
	truncated := append([]byte{}, raw...)
	truncated = append(truncated, byte(headerSize+1)) // a stray partial header byte
	require.NoError(t, os.WriteFile(packPath, truncated, 0o644))

	reclaimed, err := s.RebuildPacks(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reclaimed)

	repaired, err := os.ReadFile(packPath)
	require.NoError(t, err)
	assert.Equal(t, raw, repaired)
}

func TestRepairAllReclaimsBytesAcrossPackFiles(t *testing.T) {
	e := newTestEngine(t)
	data := []byte("an entry that will get a truncated sibling appended after it")
	hash := hashid.Sum32(data)

	_, err := e.Write(hash, data)
	require.NoError(t, err)

	s, err := e.storeFor(hash)
	require.NoError(t, err)
	packPath := s.packPath(0)

	raw, err := os.ReadFile(packPath)
	require.NoError(t, err)
	garbage := append(append([]byte{}, raw...), storedChunkMagicBytes[:]...)
	garbage = append(garbage, 9, 9, 9)
	require.NoError(t, os.WriteFile(packPath, garbage, 0o644))

	reclaimed, err := s.RepairAll()
	require.NoError(t, err)
	assert.EqualValues(t, len(storedChunkMagicBytes)+3, reclaimed)

	got, err := e.Read(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
