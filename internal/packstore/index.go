package packstore

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/varint"
)

// indexRecord locates one stored chunk within a prefix's pack files.
type indexRecord struct {
	hash   hashid.Hash32
	fileNo uint64
	offset uint64
	length uint64
}

// appendIndexRecord serializes one {hash, file_no, offset, length} tuple in
// the on-disk index format.
func appendIndexRecord(buf []byte, rec indexRecord) []byte {
	buf = append(buf, rec.hash[:]...)
	buf = varint.AppendUint64(buf, rec.fileNo)
	buf = varint.AppendUint64(buf, rec.offset)
	buf = varint.AppendUint64(buf, rec.length)
	return buf
}

// decodeIndexRecords parses every {hash, file_no, offset, length} tuple out
// of buf, stopping cleanly at a truncated trailing record (the effect of a
// crash mid-append).
func decodeIndexRecords(buf []byte) ([]indexRecord, error) {
	var records []indexRecord
	pos := 0
	for pos < len(buf) {
		if pos+hashid.Size32 > len(buf) {
			break // truncated tail: discard per the rotation/repair contract
		}
		var rec indexRecord
		copy(rec.hash[:], buf[pos:pos+hashid.Size32])
		pos += hashid.Size32

		fileNo, n, err := varint.DecodeUint64(buf[pos:])
		if err != nil {
			break
		}
		pos += n
		rec.fileNo = fileNo

		offset, n, err := varint.DecodeUint64(buf[pos:])
		if err != nil {
			break
		}
		pos += n
		rec.offset = offset

		length, n, err := varint.DecodeUint64(buf[pos:])
		if err != nil {
			break
		}
		pos += n
		rec.length = length

		records = append(records, rec)
	}
	return records, nil
}

// loadIndex reads every index record from path by memory-mapping the file.
// A missing file is treated as an empty index.
func loadIndex(path string) ([]indexRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("packstore: open index %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("packstore: stat index %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("packstore: mmap index %s: %w", path, err)
	}
	defer m.Unmap()

	records, err := decodeIndexRecords(m)
	if err != nil {
		return nil, fmt.Errorf("%w: index %s: %v", apperr.ErrFormat, path, err)
	}
	return records, nil
}
