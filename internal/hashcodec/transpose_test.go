package hashcodec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

func randomHashes(n int, seed int64) []hashid.Hash32 {
	rng := rand.New(rand.NewSource(seed))
	hashes := make([]hashid.Hash32, n)
	for i := range hashes {
		rng.Read(hashes[i][:])
	}
	return hashes
}

func TestRoundTripEmpty(t *testing.T) {
	encoded, err := Encode(nil)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestRoundTripArbitrary(t *testing.T) {
	for _, n := range []int{1, 2, 10, 500} {
		hashes := randomHashes(n, int64(n))
		encoded, err := Encode(hashes)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, len(hashes), len(decoded))
		for i := range hashes {
			assert.Equal(t, hashes[i], decoded[i])
		}
	}
}

func TestDecodeMalformedColumnLength(t *testing.T) {
	hashes := randomHashes(3, 1)
	encoded, err := Encode(hashes)
	require.NoError(t, err)

	// Corrupt: truncate the buffer so a declared column length overruns it.
	truncated := encoded[:len(encoded)-2]
	_, err = Decode(truncated)
	assert.ErrorIs(t, err, ErrFormat)
}
