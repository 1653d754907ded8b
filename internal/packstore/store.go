package packstore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// Store is the pack-file engine for a single hash prefix: one index file
// plus a sequence of rotated pack files. One mutex serializes writes and
// reads against its pack files (pack_file_lock); a second, independent
// mutex protects append ordering into the index file (index_file_lock).
type Store struct {
	dir         string
	prefix      string
	maxPackSize int64
	zstdLevel   zstd.EncoderLevel

	packMu  sync.Mutex
	indexMu sync.Mutex

	memMu sync.RWMutex
	mem   map[hashid.Hash32]indexRecord
}

func newStore(dir, prefix string, maxPackSize int64, zstdLevel zstd.EncoderLevel) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("packstore: mkdir %s: %w", dir, err)
	}
	s := &Store{
		dir:         dir,
		prefix:      prefix,
		maxPackSize: maxPackSize,
		zstdLevel:   zstdLevel,
		mem:         make(map[hashid.Hash32]indexRecord),
	}
	records, err := loadIndex(s.indexPath())
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if _, exists := s.mem[rec.hash]; !exists {
			s.mem[rec.hash] = rec
		}
	}
	if err := s.discardTruncatedTail(); err != nil {
		return nil, err
	}
	return s, nil
}

// discardTruncatedTail finds the highest-numbered pack file, if any, and
// truncates it back to the end of its last structurally complete entry. A
// crash mid-append leaves a partial header or payload at the tail; since the
// next write determines its start offset from the file's current size, that
// garbage must be cut away on open or it would sit as a permanent gap
// between the last good entry and whatever gets appended next.
func (s *Store) discardTruncatedTail() error {
	last, found, err := s.lastPackFileNo()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	path := s.packPath(last)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("packstore: stat pack %d: %w", last, err)
	}

	validLen, err := scanValidLength(path)
	if err != nil {
		return err
	}
	if validLen >= info.Size() {
		return nil
	}
	if err := os.Truncate(path, validLen); err != nil {
		return fmt.Errorf("packstore: truncate pack %d tail: %w", last, err)
	}
	return nil
}

// lastPackFileNo returns the highest N for which data<prefix>-N.pack exists,
// scanning from 0 until the first gap.
func (s *Store) lastPackFileNo() (last uint64, found bool, err error) {
	for n := uint64(0); ; n++ {
		_, statErr := os.Stat(s.packPath(n))
		if os.IsNotExist(statErr) {
			return last, found, nil
		}
		if statErr != nil {
			return 0, false, fmt.Errorf("packstore: stat pack %d: %w", n, statErr)
		}
		last, found = n, true
	}
}

// scanValidLength streams a pack file from the start and returns the byte
// offset just past the last entry whose header and full payload are both
// present. Anything beyond that offset is a truncated tail.
func scanValidLength(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("packstore: open pack %s: %w", path, err)
	}
	defer f.Close()

	var offset int64
	r := bufio.NewReaderSize(f, readBufferSize)
	for {
		hdrBuf := make([]byte, headerSize)
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			break
		}
		hdr, err := decodeStoredChunkHeader(hdrBuf)
		if err != nil {
			break
		}
		payload := make([]byte, hdr.compressedLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		offset += int64(headerSize) + int64(hdr.compressedLen)
	}
	return offset, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("index%s.idx", s.prefix))
}

func (s *Store) packPath(fileNo uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("data%s-%d.pack", s.prefix, fileNo))
}

// Write appends data under hash unless it is already present, returning the
// number of on-disk bytes written (0 for a no-op duplicate).
func (s *Store) Write(hash hashid.Hash32, data []byte) (int, error) {
	if s.has(hash) {
		return 0, nil
	}

	s.packMu.Lock()
	defer s.packMu.Unlock()

	if s.has(hash) {
		return 0, nil
	}

	fileNo, err := s.currentPackFileNo()
	if err != nil {
		return 0, err
	}

	encoded, err := encodeStoredChunk(data, s.zstdLevel)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(s.packPath(fileNo), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("packstore: open pack %d: %w", fileNo, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("packstore: stat pack %d: %w", fileNo, err)
	}
	offset := uint64(info.Size())

	if _, err := f.Write(encoded); err != nil {
		return 0, fmt.Errorf("packstore: write pack %d: %w", fileNo, err)
	}

	rec := indexRecord{hash: hash, fileNo: fileNo, offset: offset, length: uint64(len(encoded))}
	if err := s.appendIndex(rec); err != nil {
		return 0, err
	}

	s.memMu.Lock()
	s.mem[hash] = rec
	s.memMu.Unlock()

	return len(encoded), nil
}

// currentPackFileNo finds the lowest N whose pack file is absent or below
// maxPackSize, rotating forward past any full ones.
func (s *Store) currentPackFileNo() (uint64, error) {
	for n := uint64(0); ; n++ {
		info, err := os.Stat(s.packPath(n))
		if os.IsNotExist(err) {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("packstore: stat pack %d: %w", n, err)
		}
		if info.Size() < s.maxPackSize {
			return n, nil
		}
	}
}

func (s *Store) appendIndex(rec indexRecord) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	f, err := os.OpenFile(s.indexPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("packstore: open index: %w", err)
	}
	defer f.Close()

	buf := appendIndexRecord(nil, rec)
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("packstore: append index: %w", err)
	}
	return nil
}

func (s *Store) has(hash hashid.Hash32) bool {
	s.memMu.RLock()
	defer s.memMu.RUnlock()
	_, ok := s.mem[hash]
	return ok
}

// ShardStats is this prefix's contribution to Engine.Stats.
type ShardStats struct {
	Prefix      string
	ChunkCount  int64
	StoredBytes int64
	PackFiles   int64
}

// Stats reports the chunk count and on-disk bytes this shard currently
// holds, derived from its in-memory index rather than walking pack files.
func (s *Store) Stats() ShardStats {
	s.memMu.RLock()
	defer s.memMu.RUnlock()

	stats := ShardStats{Prefix: s.prefix}
	packFiles := map[uint64]struct{}{}
	for _, rec := range s.mem {
		stats.ChunkCount++
		stats.StoredBytes += int64(rec.length)
		packFiles[rec.fileNo] = struct{}{}
	}
	stats.PackFiles = int64(len(packFiles))
	return stats
}

// Read returns the stored bytes for hash, verifying the xxh3 checksum over
// the decompressed payload.
func (s *Store) Read(hash hashid.Hash32) ([]byte, error) {
	s.packMu.Lock()
	defer s.packMu.Unlock()

	s.memMu.RLock()
	rec, ok := s.mem[hash]
	s.memMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: chunk %s", apperr.ErrNotFound, hash)
	}

	f, err := os.Open(s.packPath(rec.fileNo))
	if err != nil {
		return nil, fmt.Errorf("packstore: open pack %d: %w", rec.fileNo, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(rec.offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("packstore: seek pack %d: %w", rec.fileNo, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("packstore: new zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := decodeStoredChunk(io.LimitReader(f, int64(rec.length)), dec)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", hash, err)
	}
	return raw, nil
}

// Exists reports whether hash is present in this store's index.
func (s *Store) Exists(hash hashid.Hash32) bool {
	return s.has(hash)
}

// RebuildIndex walks every pack file for this prefix in order, recomputes
// each entry's hash via computeHash, and rewrites the index. The first
// occurrence of a duplicate hash wins, matching the append-only index's own
// tie-break rule.
func (s *Store) RebuildIndex(computeHash func([]byte) hashid.Hash32) error {
	s.packMu.Lock()
	defer s.packMu.Unlock()

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("packstore: new zstd decoder: %w", err)
	}
	defer dec.Close()

	newMem := make(map[hashid.Hash32]indexRecord)
	var ordered []indexRecord

	for fileNo := uint64(0); ; fileNo++ {
		path := s.packPath(fileNo)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return fmt.Errorf("packstore: read pack %d: %w", fileNo, err)
		}

		pos := 0
		for pos < len(data) {
			if pos+headerSize > len(data) {
				break // truncated header at EOF
			}
			hdr, err := decodeStoredChunkHeader(data[pos : pos+headerSize])
			if err != nil {
				next := resyncOffset(data, pos+1)
				if next < 0 {
					break
				}
				pos = next
				continue
			}
			entryLen := headerSize + int(hdr.compressedLen)
			if pos+entryLen > len(data) {
				break // truncated payload at EOF
			}
			raw, err := dec.DecodeAll(data[pos+headerSize:pos+entryLen], make([]byte, 0, hdr.uncompressedLen))
			if err != nil {
				// Garbage that happened to parse as a header: resync past it
				// rather than abandoning the rest of the file.
				next := resyncOffset(data, pos+1)
				if next < 0 {
					break
				}
				pos = next
				continue
			}
			hash := computeHash(raw)
			rec := indexRecord{hash: hash, fileNo: fileNo, offset: uint64(pos), length: uint64(entryLen)}
			if _, exists := newMem[hash]; !exists {
				newMem[hash] = rec
				ordered = append(ordered, rec)
			}
			pos += entryLen
		}
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	var buf []byte
	for _, rec := range ordered {
		buf = appendIndexRecord(buf, rec)
	}
	if err := os.WriteFile(s.indexPath(), buf, 0o644); err != nil {
		return fmt.Errorf("packstore: rewrite index: %w", err)
	}

	s.memMu.Lock()
	s.mem = newMem
	s.memMu.Unlock()
	return nil
}

// resyncOffset finds the next occurrence of the stored-chunk magic at or
// after from, so a rebuild can skip past a corrupt or misidentified region
// instead of abandoning the rest of the pack file.
func resyncOffset(data []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	idx := bytes.Index(data[from:], storedChunkMagicBytes[:])
	if idx < 0 {
		return -1
	}
	return from + idx
}

// readBufferSize mirrors the chunker's sequential-scan buffer size.
const readBufferSize = 1 << 20

// RebuildPacks repairs a single pack file in place: every structurally
// valid entry (parseable header, complete payload) is copied to a fresh
// file regardless of whether its checksum later verifies, then the
// original is atomically replaced. A truncated or unparseable tail is
// dropped, matching the rotation contract. It reports the number of bytes
// the repair dropped, for a maintenance loop to track reclaimed space.
func (s *Store) RebuildPacks(fileNo uint64) (bytesReclaimed int64, err error) {
	s.packMu.Lock()
	defer s.packMu.Unlock()

	path := s.packPath(fileNo)
	before, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return 0, nil
	}
	if statErr != nil {
		return 0, fmt.Errorf("packstore: stat pack %d: %w", fileNo, statErr)
	}

	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("packstore: open pack %d: %w", fileNo, err)
	}
	defer src.Close()

	tmpPath := s.packPath(fileNo) + ".repair"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("packstore: create repair file: %w", err)
	}

	r := bufio.NewReaderSize(src, readBufferSize)
	w := bufio.NewWriterSize(tmp, readBufferSize)
	for {
		hdrBuf := make([]byte, headerSize)
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			break
		}
		hdr, err := decodeStoredChunkHeader(hdrBuf)
		if err != nil {
			break
		}
		payload := make([]byte, hdr.compressedLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		w.Write(hdrBuf)
		w.Write(payload)
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("packstore: flush repair file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("packstore: close repair file: %w", err)
	}
	if err := os.Rename(tmpPath, s.packPath(fileNo)); err != nil {
		return 0, fmt.Errorf("packstore: replace pack %d: %w", fileNo, err)
	}

	after, statErr := os.Stat(s.packPath(fileNo))
	if statErr != nil {
		return 0, fmt.Errorf("packstore: stat repaired pack %d: %w", fileNo, statErr)
	}
	return before.Size() - after.Size(), nil
}

// RepairAll runs RebuildPacks over every pack file this shard has written so
// far, returning the total bytes reclaimed across all of them.
func (s *Store) RepairAll() (int64, error) {
	last, found, err := s.lastPackFileNo()
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	var total int64
	for fileNo := uint64(0); fileNo <= last; fileNo++ {
		reclaimed, err := s.RebuildPacks(fileNo)
		if err != nil {
			return total, err
		}
		total += reclaimed
	}
	return total, nil
}
