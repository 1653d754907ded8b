package chunker

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

func testOptions() Options {
	return Options{Kind: FastCdc, MinSize: 2 * 1024, AvgSize: 8 * 1024, MaxSize: 32 * 1024}
}

func TestValidate(t *testing.T) {
	_, err := New(Options{Kind: FastCdc, MinSize: 10, AvgSize: 5, MaxSize: 20})
	assert.ErrorIs(t, err, ErrInvalidArgument, "avg below min must be rejected")

	_, err = New(Options{Kind: FastCdc, MinSize: 10, AvgSize: 100, MaxSize: 20})
	assert.ErrorIs(t, err, ErrInvalidArgument, "max below avg must be rejected")

	_, err = New(Options{Kind: FastCdc, MinSize: 10, AvgSize: 100, MaxSize: 200})
	assert.ErrorIs(t, err, ErrInvalidArgument, "avg must be a power of two")

	_, err = New(testOptions())
	require.NoError(t, err)
}

func TestEmptyInputProducesNoChunks(t *testing.T) {
	c, err := New(testOptions())
	require.NoError(t, err)

	entries, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSmallInputIsOneChunk(t *testing.T) {
	c, err := New(testOptions())
	require.NoError(t, err)

	data := []byte("short input below min size")
	entries, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(len(data)), entries[0].Length)
	assert.Equal(t, hashid.Sum32(data), entries[0].Checksum)
}

func TestPartitionInvariants(t *testing.T) {
	c, err := New(testOptions())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 512*1024)
	rng.Read(data)

	entries, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var sum uint64
	for i, e := range entries {
		assert.Equal(t, sum, e.Offset, "offsets must be contiguous")
		assert.Greater(t, e.Length, uint32(0))
		if i < len(entries)-1 {
			assert.GreaterOrEqual(t, e.Length, uint32(testOptions().MinSize))
		}
		assert.LessOrEqual(t, e.Length, uint32(testOptions().MaxSize))
		sum += uint64(e.Length)
	}
	assert.Equal(t, uint64(len(data)), sum)
}

func TestDeterminism(t *testing.T) {
	c, err := New(testOptions())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 256*1024)
	rng.Read(data)

	first, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	second, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Offset, second[i].Offset)
		assert.Equal(t, first[i].Length, second[i].Length)
		assert.Equal(t, first[i].Checksum, second[i].Checksum)
	}
}

func TestAverageSizeBand(t *testing.T) {
	opts := Options{Kind: FastCdc, MinSize: 8 * 1024, AvgSize: 32 * 1024, MaxSize: 128 * 1024}
	c, err := New(opts)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	data := make([]byte, 8*1024*1024)
	rng.Read(data)

	entries, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var total uint64
	for _, e := range entries {
		total += uint64(e.Length)
	}
	mean := float64(total) / float64(len(entries))
	assert.GreaterOrEqual(t, mean, 0.5*float64(opts.AvgSize))
	assert.LessOrEqual(t, mean, 1.5*float64(opts.AvgSize))
}

func TestEditLocality(t *testing.T) {
	opts := testOptions()
	const seeds = 25
	preserved := 0

	for seed := 0; seed < seeds; seed++ {
		c, err := New(opts)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(int64(seed)))
		base := make([]byte, 2*1024*1024)
		rng.Read(base)

		mid := len(base) / 2
		inserted := make([]byte, 20)
		rng.Read(inserted)
		edited := append(append(append([]byte{}, base[:mid]...), inserted...), base[mid:]...)

		baseChunks, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(base))
		require.NoError(t, err)
		editedChunks, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(edited))
		require.NoError(t, err)

		baseSet := make(map[hashid.Hash32]struct{}, len(baseChunks))
		for _, e := range baseChunks {
			baseSet[e.Checksum] = struct{}{}
		}

		var commonBytes uint64
		var totalBytes uint64
		for _, e := range editedChunks {
			totalBytes += uint64(e.Length)
			if _, ok := baseSet[e.Checksum]; ok {
				commonBytes += uint64(e.Length)
			}
		}
		if totalBytes > 0 && float64(commonBytes)/float64(totalBytes) >= 0.4 {
			preserved++
		}
	}

	assert.GreaterOrEqual(t, preserved, int(0.5*seeds), "expect most seeds to preserve >=40%% common bytes")
}

func TestStreamVsFileParity(t *testing.T) {
	c, err := New(testOptions())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(13))
	data := make([]byte, 300*1024)
	rng.Read(data)

	dir := t.TempDir()
	path := dir + "/blob.bin"
	require.NoError(t, os.WriteFile(path, data, 0o644))

	streamed, err := c.GenerateChunkMap(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	fromFile, err := c.GenerateChunkMapFile(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, len(streamed), len(fromFile))
	for i := range streamed {
		assert.Equal(t, streamed[i].Offset, fromFile[i].Offset)
		assert.Equal(t, streamed[i].Length, fromFile[i].Length)
		assert.Equal(t, streamed[i].Checksum, fromFile[i].Checksum)
	}
}
