package varint

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroEncodesToOneByte(t *testing.T) {
	b := EncodeUint64(0)
	require.Len(t, b, 1)
	assert.Equal(t, byte(0x00), b[0])
}

func TestUint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, math.MaxUint32, math.MaxUint64}
	for _, v := range values {
		enc := EncodeUint64(v)
		got, n, err := DecodeUint64(enc)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v, got)
	}
}

func TestInt64RoundTrip(t *testing.T) {
	values := []int64{0, -1, 1, math.MinInt32, math.MaxInt32, math.MinInt64, math.MaxInt64}
	for _, v := range values {
		enc := EncodeInt64(v)
		got, n, err := DecodeInt64(enc)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v, got)
	}
}

func TestNegativeOneIsOneByte(t *testing.T) {
	enc := EncodeInt64(-1)
	require.Len(t, enc, 1)
	assert.Equal(t, byte(0x01), enc[0])

	got, n, err := DecodeInt64(enc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(-1), got)
}

func TestDecodeUnexpectedEOF(t *testing.T) {
	// A continuation byte with nothing following.
	_, _, err := DecodeUint64([]byte{0x80})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeFormatErrorOnOverlongInput(t *testing.T) {
	overlong := bytes.Repeat([]byte{0x80}, 11)
	_, _, err := DecodeUint64(overlong)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 123456789))
	require.NoError(t, WriteInt64(&buf, -42))

	r := Reader(&buf)
	v, err := ReadUint64(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), v)

	s, err := ReadInt64(r)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), s)
}
