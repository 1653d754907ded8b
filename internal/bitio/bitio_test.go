package bitio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteBits(0b101, 3))
	require.NoError(t, w.WriteBits(0xFF, 8))
	require.NoError(t, w.WriteBits(0, 0))
	require.NoError(t, w.WriteBits(1, 1))

	r := NewReader(w.Bytes())
	v, err := r.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b101), v)

	v, err = r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFF), v)

	v, err = r.ReadBits(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = r.ReadBits(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestWriteBitsRejectsOverflow(t *testing.T) {
	w := NewWriter()
	err := w.WriteBits(8, 3) // 8 does not fit in 3 bits
	assert.ErrorIs(t, err, ErrInvalidWidth)
}

func TestWriteBitsRejectsBadWidth(t *testing.T) {
	w := NewWriter()
	assert.ErrorIs(t, w.WriteBits(0, -1), ErrInvalidWidth)
	assert.ErrorIs(t, w.WriteBits(0, 65), ErrInvalidWidth)
}

func TestReadBitsUnderflow(t *testing.T) {
	r := NewReader([]byte{0xFF})
	_, err := r.ReadBits(16)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestFullWidth64(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteBits(^uint64(0), 64))

	r := NewReader(w.Bytes())
	v, err := r.ReadBits(64)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)
}

func TestArbitrarySequence(t *testing.T) {
	widths := []int{1, 2, 3, 5, 7, 11, 16, 32}
	values := []uint64{1, 3, 5, 17, 100, 2000, 60000, 4000000000}

	w := NewWriter()
	for i := range widths {
		require.NoError(t, w.WriteBits(values[i], widths[i]))
	}

	r := NewReader(w.Bytes())
	for i := range widths {
		got, err := r.ReadBits(widths[i])
		require.NoError(t, err)
		assert.Equal(t, values[i], got)
	}
}
