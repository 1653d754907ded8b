package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/apperr"
)

func TestChunkRefRoundTrip(t *testing.T) {
	refs := []DeltaChunkRef{
		{DeltaIndex: 1, Offset: 0, Length: 4096},
		{DeltaIndex: 3, Offset: 0, Length: 8192},
		{DeltaIndex: 1, Offset: 100, Length: 50},
	}
	encoded := EncodeChunkRefs(refs)
	decoded, n, err := DecodeChunkRefs(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, refs, decoded)
}

func TestChunkRefEmptyListHasZeroWidths(t *testing.T) {
	encoded := EncodeChunkRefs(nil)
	decoded, n, err := DecodeChunkRefs(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Empty(t, decoded)

	// count, bits_delta, bits_offset, bits_length, packed_byte_len must all
	// be zero.
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00}, encoded)
}

func TestChunkRefUniformZeroFieldUsesZeroWidth(t *testing.T) {
	refs := []DeltaChunkRef{
		{DeltaIndex: 0, Offset: 5, Length: 10},
		{DeltaIndex: 0, Offset: 7, Length: 20},
	}
	encoded := EncodeChunkRefs(refs)
	// bits_delta must be zero since every DeltaIndex is zero.
	assert.Equal(t, byte(0), encoded[1])

	decoded, _, err := DecodeChunkRefs(encoded)
	require.NoError(t, err)
	assert.Equal(t, refs, decoded)
}

func TestChunkRefWidthsAreMinimal(t *testing.T) {
	refs := []DeltaChunkRef{{DeltaIndex: 16, Offset: 0, Length: 0}}
	encoded := EncodeChunkRefs(refs)
	// 16 needs 5 bits (0b10000).
	assert.Equal(t, byte(5), encoded[1])
	assert.Equal(t, byte(0), encoded[2])
	assert.Equal(t, byte(0), encoded[3])
}

func TestDecodeChunkRefsRejectsShortPackedLength(t *testing.T) {
	refs := []DeltaChunkRef{{DeltaIndex: 300, Offset: 0, Length: 0}}
	encoded := EncodeChunkRefs(refs)

	// Corrupt the packed_byte_len varint (last byte before payload) to
	// declare fewer bytes than the widths require.
	idx := 1 + 3 // past count(1 byte) + three width bytes
	corrupted := append([]byte{}, encoded...)
	corrupted[idx] = 0x00
	_, _, err := DecodeChunkRefs(corrupted)
	assert.ErrorIs(t, err, apperr.ErrFormat)
}
