// Package packstore implements the append-only pack-file engine: content
// bytes are grouped by hash prefix into data<prefix>-N.pack files with a
// companion index<prefix>.idx, following the sharded-lock discipline of a
// single-node object store.
package packstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/prn-tf/alexander-storage/internal/apperr"
)

const (
	storedChunkVersion = byte(1)

	// headerSize is magic(4) + version(1) + uncompressed_len(4) +
	// compressed_len(4) + xxh3_checksum(8).
	headerSize = 4 + 1 + 4 + 4 + 8
)

var storedChunkMagicBytes = [4]byte{'B', 'S', 'C', 'K'}

// encodeStoredChunk compresses raw with Zstd and frames it with the
// on-disk StoredChunk header.
func encodeStoredChunk(raw []byte, level zstd.EncoderLevel) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("packstore: new zstd encoder: %w", err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(raw, nil)
	checksum := xxh3.Hash(raw)

	out := make([]byte, 0, headerSize+len(compressed))
	out = append(out, storedChunkMagicBytes[:]...)
	out = append(out, storedChunkVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(raw)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(compressed)))
	out = binary.LittleEndian.AppendUint64(out, checksum)
	out = append(out, compressed...)
	return out, nil
}

// storedChunkHeader is the parsed fixed-size prefix of a StoredChunk record.
type storedChunkHeader struct {
	uncompressedLen uint32
	compressedLen   uint32
	checksum        uint64
}

func decodeStoredChunkHeader(buf []byte) (storedChunkHeader, error) {
	if len(buf) < headerSize {
		return storedChunkHeader{}, fmt.Errorf("%w: stored-chunk header truncated", apperr.ErrUnexpectedEOF)
	}
	if buf[0] != 'B' || buf[1] != 'S' || buf[2] != 'C' || buf[3] != 'K' {
		return storedChunkHeader{}, fmt.Errorf("%w: bad stored-chunk magic", apperr.ErrCorrupt)
	}
	if buf[4] != storedChunkVersion {
		return storedChunkHeader{}, fmt.Errorf("%w: unsupported stored-chunk version %d", apperr.ErrCorrupt, buf[4])
	}
	return storedChunkHeader{
		uncompressedLen: binary.LittleEndian.Uint32(buf[5:9]),
		compressedLen:   binary.LittleEndian.Uint32(buf[9:13]),
		checksum:        binary.LittleEndian.Uint64(buf[13:21]),
	}, nil
}

// decodeStoredChunk reads one full StoredChunk record from r: the fixed
// header followed by its compressed payload, then verifies the xxh3
// checksum over the decompressed bytes.
func decodeStoredChunk(r io.Reader, dec *zstd.Decoder) ([]byte, error) {
	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: stored-chunk header: %v", apperr.ErrUnexpectedEOF, err)
		}
		return nil, err
	}
	hdr, err := decodeStoredChunkHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	compressed := make([]byte, hdr.compressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: stored-chunk payload: %v", apperr.ErrUnexpectedEOF, err)
	}

	raw, err := dec.DecodeAll(compressed, make([]byte, 0, hdr.uncompressedLen))
	if err != nil {
		return nil, fmt.Errorf("%w: stored-chunk zstd decode: %v", apperr.ErrCorrupt, err)
	}
	if uint32(len(raw)) != hdr.uncompressedLen {
		return nil, fmt.Errorf("%w: stored-chunk decompressed to %d bytes, want %d", apperr.ErrCorrupt, len(raw), hdr.uncompressedLen)
	}
	if xxh3.Hash(raw) != hdr.checksum {
		return nil, fmt.Errorf("%w: stored-chunk xxh3 checksum mismatch", apperr.ErrCorrupt)
	}
	return raw, nil
}
