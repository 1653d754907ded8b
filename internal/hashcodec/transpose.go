// Package hashcodec implements the checksum transpose codec: compressing a
// list of fixed-width Hash32 values by splitting them into 32 byte columns
// and compressing each column independently with Zstd, exploiting
// per-column entropy (adjacent hashes often share leading bytes under
// certain sharding schemes, and each column compresses far better alone
// than the interleaved row-major bytes do).
package hashcodec

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/varint"
)

// ErrFormat indicates a malformed transpose-encoded stream: a column length
// prefix that exceeds the remaining bytes, or an unsigned-varint mismatch.
var ErrFormat = errors.New("hashcodec: malformed transpose stream")

const columnCount = hashid.Size32

// zstdLevel is the fixed compression level used for every column, per
// spec.md §4.C.
const zstdLevel = zstd.SpeedBestCompression

// Encode serializes hashes as varint(N) followed by 32 Zstd-compressed
// columns, each varint(compressed_len)-prefixed.
func Encode(hashes []hashid.Hash32) ([]byte, error) {
	out := varint.AppendUint64(nil, uint64(len(hashes)))
	if len(hashes) == 0 {
		return out, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, fmt.Errorf("hashcodec: new zstd encoder: %w", err)
	}
	defer enc.Close()

	for col := 0; col < columnCount; col++ {
		column := make([]byte, len(hashes))
		for row, h := range hashes {
			column[row] = h[col]
		}
		compressed := enc.EncodeAll(column, nil)
		out = varint.AppendUint64(out, uint64(len(compressed)))
		out = append(out, compressed...)
	}
	return out, nil
}

// Decode parses the transpose-encoded stream produced by Encode. An empty
// input (N == 0) returns a nil slice with no error.
func Decode(data []byte) ([]hashid.Hash32, error) {
	n, consumed, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrFormat, err)
	}
	data = data[consumed:]

	if n == 0 {
		return nil, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("hashcodec: new zstd decoder: %w", err)
	}
	defer dec.Close()

	hashes := make([]hashid.Hash32, n)
	for col := 0; col < columnCount; col++ {
		clen, consumed, err := varint.DecodeUint64(data)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d length: %v", ErrFormat, col, err)
		}
		data = data[consumed:]

		if uint64(len(data)) < clen {
			return nil, fmt.Errorf("%w: column %d: declared length %d exceeds remaining %d bytes", ErrFormat, col, clen, len(data))
		}
		compressed := data[:clen]
		data = data[clen:]

		column, err := dec.DecodeAll(compressed, make([]byte, 0, n))
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: zstd decode: %v", ErrFormat, col, err)
		}
		if uint64(len(column)) != n {
			return nil, fmt.Errorf("%w: column %d decoded to %d bytes, want %d", ErrFormat, col, len(column), n)
		}
		for row := range hashes {
			hashes[row][col] = column[row]
		}
	}
	return hashes, nil
}

// EncodeTo writes the transpose-encoded stream to w; the framing is
// identical to Encode, only the I/O style differs.
func EncodeTo(w io.Writer, hashes []hashid.Hash32) error {
	data, err := Encode(hashes)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DecodeFrom reads a transpose-encoded stream from r in full, then decodes
// it.
func DecodeFrom(r io.Reader) ([]hashid.Hash32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hashcodec: read: %w", err)
	}
	return Decode(data)
}
