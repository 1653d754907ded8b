package release

import (
	"fmt"
	"math/bits"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/bitio"
	"github.com/prn-tf/alexander-storage/internal/varint"
)

// DeltaChunkRef is one element of a file's chunk sequence, stored as a
// non-negative delta against a running cursor over the release's chunk
// list. DeltaIndex for chunk i contributes to the absolute chunk index as
// the running sum of every preceding DeltaIndex (including this one).
type DeltaChunkRef struct {
	DeltaIndex uint32
	Offset     uint64
	Length     uint64
}

// bitWidth returns the minimal number of bits needed to represent max, or 0
// if max is zero (meaning the field is uniformly zero across all entries).
func bitWidth(max uint64) int {
	if max == 0 {
		return 0
	}
	return bits.Len64(max)
}

// widths computes the per-field bit widths for a list of refs per the
// "minimal width of the max value" rule.
func widths(refs []DeltaChunkRef) (bitsDelta, bitsOffset, bitsLength int) {
	var maxDelta, maxOffset, maxLength uint64
	for _, r := range refs {
		if uint64(r.DeltaIndex) > maxDelta {
			maxDelta = uint64(r.DeltaIndex)
		}
		if r.Offset > maxOffset {
			maxOffset = r.Offset
		}
		if r.Length > maxLength {
			maxLength = r.Length
		}
	}
	return bitWidth(maxDelta), bitWidth(maxOffset), bitWidth(maxLength)
}

// EncodeChunkRefs serializes refs as the bit-packed chunk-ref block:
// varint(count), u8 bits_delta, u8 bits_offset, u8 bits_length,
// varint(packed_byte_len), then the MSB-first packed payload.
func EncodeChunkRefs(refs []DeltaChunkRef) []byte {
	bitsDelta, bitsOffset, bitsLength := widths(refs)

	w := bitio.NewWriter()
	for _, r := range refs {
		if bitsDelta > 0 {
			mustWrite(w, uint64(r.DeltaIndex), bitsDelta)
		}
		if bitsOffset > 0 {
			mustWrite(w, r.Offset, bitsOffset)
		}
		if bitsLength > 0 {
			mustWrite(w, r.Length, bitsLength)
		}
	}
	packed := w.Bytes()

	out := varint.AppendUint64(nil, uint64(len(refs)))
	out = append(out, byte(bitsDelta), byte(bitsOffset), byte(bitsLength))
	out = varint.AppendUint64(out, uint64(len(packed)))
	out = append(out, packed...)
	return out
}

func mustWrite(w *bitio.Writer, value uint64, n int) {
	if err := w.WriteBits(value, n); err != nil {
		// widths() guarantees every value fits its own computed width.
		panic(fmt.Sprintf("release: chunk-ref field does not fit computed width: %v", err))
	}
}

// DecodeChunkRefs parses a bit-packed chunk-ref block, returning the refs
// and the number of bytes consumed.
func DecodeChunkRefs(data []byte) ([]DeltaChunkRef, int, error) {
	count, n, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: chunk-ref count: %v", apperr.ErrFormat, err)
	}
	pos := n

	if pos+3 > len(data) {
		return nil, 0, fmt.Errorf("%w: chunk-ref block: truncated header", apperr.ErrUnexpectedEOF)
	}
	bitsDelta := int(data[pos])
	bitsOffset := int(data[pos+1])
	bitsLength := int(data[pos+2])
	pos += 3

	packedLen, n, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: chunk-ref packed length: %v", apperr.ErrFormat, err)
	}
	pos += n

	totalBits := uint64(bitsDelta+bitsOffset+bitsLength) * count
	minBytes := (totalBits + 7) / 8
	if packedLen < minBytes {
		return nil, 0, fmt.Errorf("%w: chunk-ref packed length %d too short for %d entries", apperr.ErrFormat, packedLen, count)
	}
	if count == 0 && (bitsDelta != 0 || bitsOffset != 0 || bitsLength != 0 || packedLen != 0) {
		return nil, 0, fmt.Errorf("%w: empty chunk-ref block must have zero widths and zero packed length", apperr.ErrFormat)
	}

	if uint64(len(data)-pos) < packedLen {
		return nil, 0, fmt.Errorf("%w: chunk-ref payload: declared %d bytes, have %d", apperr.ErrUnexpectedEOF, packedLen, len(data)-pos)
	}
	payload := data[pos : pos+int(packedLen)]
	pos += int(packedLen)

	r := bitio.NewReader(payload)
	refs := make([]DeltaChunkRef, 0, count)
	for i := uint64(0); i < count; i++ {
		var delta, offset, length uint64
		if bitsDelta > 0 {
			delta, err = r.ReadBits(bitsDelta)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: chunk-ref %d delta: %v", apperr.ErrUnexpectedEOF, i, err)
			}
		}
		if bitsOffset > 0 {
			offset, err = r.ReadBits(bitsOffset)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: chunk-ref %d offset: %v", apperr.ErrUnexpectedEOF, i, err)
			}
		}
		if bitsLength > 0 {
			length, err = r.ReadBits(bitsLength)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: chunk-ref %d length: %v", apperr.ErrUnexpectedEOF, i, err)
			}
		}
		refs = append(refs, DeltaChunkRef{DeltaIndex: uint32(delta), Offset: offset, Length: length})
	}
	return refs, pos, nil
}
