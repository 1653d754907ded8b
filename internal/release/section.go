package release

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/varint"
)

type sectionID byte

const (
	sectionMetadata   sectionID = 0x01
	sectionChunks     sectionID = 0x02
	sectionStrings    sectionID = 0x03
	sectionContentIDs sectionID = 0x04
	sectionComponents sectionID = 0x05
	sectionStats      sectionID = 0x06
)

const sectionFlagsReserved = 0x00

// appendSection frames payload as id, section_flags, varint(len), payload
// (optionally Zstd-compressed first).
func appendSection(out []byte, id sectionID, payload []byte, compress bool) ([]byte, error) {
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdPackageLevel))
		if err != nil {
			return nil, fmt.Errorf("release: new zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(payload, nil)
		enc.Close()
	}
	out = append(out, byte(id), sectionFlagsReserved)
	out = varint.AppendUint64(out, uint64(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// rawSection is one section as parsed off the wire, before the caller
// decides whether its id is recognized.
type rawSection struct {
	id      sectionID
	payload []byte
}

// readSections splits data into its section records, decompressing each
// payload if compress is set. It returns sections in on-wire order.
func readSections(data []byte, compress bool) ([]rawSection, error) {
	var sections []rawSection
	var dec *zstd.Decoder
	if compress {
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("release: new zstd decoder: %w", err)
		}
		defer d.Close()
		dec = d
	}

	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated section header", apperr.ErrUnexpectedEOF)
		}
		id := sectionID(data[pos])
		pos += 2 // id + reserved section_flags

		length, n, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: section 0x%02x length: %v", apperr.ErrFormat, id, err)
		}
		pos += n

		if uint64(len(data)-pos) < length {
			return nil, fmt.Errorf("%w: section 0x%02x: declared %d bytes, have %d", apperr.ErrUnexpectedEOF, id, length, len(data)-pos)
		}
		payload := data[pos : pos+int(length)]
		pos += int(length)

		if compress {
			decoded, err := dec.DecodeAll(payload, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: section 0x%02x: zstd decode: %v", apperr.ErrFormat, id, err)
			}
			payload = decoded
		}
		sections = append(sections, rawSection{id: id, payload: payload})
	}
	return sections, nil
}
