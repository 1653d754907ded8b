// Package hashid provides the content-identity primitives used throughout
// Alexander Storage: the 32-byte chunk/file hash and the 8-byte short
// fingerprint used for file-name-level identities.
package hashid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Size32 is the length in bytes of a Hash32.
const Size32 = 32

// Size8 is the length in bytes of a Hash8.
const Size8 = 8

// Hash32 is an immutable 32-byte content identifier computed with BLAKE3.
// It is value-typed, equatable with ==, and orderable by lexicographic byte
// comparison.
type Hash32 [Size32]byte

// Hash8 is an 8-byte short identifier, used for file-name-level fingerprints.
type Hash8 [Size8]byte

// Sum32 computes the Hash32 of data.
func Sum32(data []byte) Hash32 {
	var h Hash32
	sum := blake3.Sum256(data)
	copy(h[:], sum[:])
	return h
}

// Sum8 computes the Hash8 of data by truncating a BLAKE3 digest to 8 bytes.
func Sum8(data []byte) Hash8 {
	var h Hash8
	sum := blake3.Sum256(data)
	copy(h[:], sum[:Size8])
	return h
}

// NewHasher32 returns a streaming BLAKE3 hasher producing a Hash32 on Sum.
func NewHasher32() *Hasher32 {
	return &Hasher32{h: blake3.New(Size32, nil)}

}

// Hasher32 wraps a streaming BLAKE3 hash.Hash for incremental content
// hashing (e.g. chunk-by-chunk hashing of a file's content list).
type Hasher32 struct {
	h *blake3.Hasher
}

// Write implements io.Writer.
func (w *Hasher32) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum returns the Hash32 of all bytes written so far.
func (w *Hasher32) Sum() Hash32 {
	var h Hash32
	copy(h[:], w.h.Sum(nil))
	return h
}

// Reset clears the hasher state for reuse.
func (w *Hasher32) Reset() {
	w.h.Reset()
}

// String renders the hash as lowercase hex (64 chars).
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// String renders the hash as lowercase hex (16 chars).
func (h Hash8) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// Compare provides total ordering by lexicographic byte comparison.
// Returns -1, 0, or 1 as h is less than, equal to, or greater than other.
func (h Hash32) Compare(other Hash32) int {
	return bytes.Compare(h[:], other[:])
}

// Less reports whether h sorts before other.
func (h Hash32) Less(other Hash32) bool {
	return h.Compare(other) < 0
}

// ParseHash32 parses a 64-character lowercase hex string into a Hash32.
func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	if len(s) != Size32*2 {
		return h, fmt.Errorf("hashid: invalid hash32 length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashid: invalid hash32 hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// ParseHash8 parses a 16-character lowercase hex string into a Hash8.
func ParseHash8(s string) (Hash8, error) {
	var h Hash8
	if len(s) != Size8*2 {
		return h, fmt.Errorf("hashid: invalid hash8 length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashid: invalid hash8 hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler, rendering as hex.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash32) UnmarshalText(text []byte) error {
	parsed, err := ParseHash32(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
