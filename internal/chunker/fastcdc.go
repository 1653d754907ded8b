// Package chunker implements content-defined chunking for Alexander Storage
// release ingestion: deterministic, variable-sized partitioning of a byte
// stream using the FastCDC dual-mask boundary rule.
package chunker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sync/errgroup"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// ErrInvalidArgument indicates a caller precondition was violated (bad
// chunker triple, non-seekable stream where one is required).
var ErrInvalidArgument = errors.New("chunker: invalid argument")

// gearTableSeed is the fixed PRNG seed used to derive the 256-entry gear
// table. The exact sequence is implementation-specific (see spec.md's open
// question on cross-port binary compatibility of the gear table); what
// matters for this store is that it is fixed and reproducible across runs
// of this implementation.
const gearTableSeed = 1

// mmapThreshold is the file size at or above which ChunkFile reads via a memory
// map rather than a buffered sequential scan.
const mmapThreshold = 16 * 1024 * 1024

// readBufferSize is the buffer size used for the sequential-scan read path.
const readBufferSize = 1 << 20

// Kind identifies a chunking algorithm. FastCdc is the only kind this store
// implements.
type Kind string

// FastCdc selects the FastCDC dual-mask chunker.
const FastCdc Kind = "fastcdc"

// Options configures a chunker. Min, Avg, and Max are in bytes. Avg must be
// a power of two and 0 < Min <= Avg <= Max.
type Options struct {
	Kind Kind

	MinSize int
	AvgSize int
	MaxSize int

	// ShiftCount is accepted but not read: New always derives the
	// normalization masks from AvgSize.
	ShiftCount int

	// BoundaryCheckBytes is accepted but not read: the boundary search
	// always scans up to MaxSize bytes per chunk.
	BoundaryCheckBytes int
}

// Validate checks the chunker-triple invariants from spec.md §3.
func (o Options) Validate() error {
	if o.Kind != FastCdc {
		return fmt.Errorf("%w: unsupported chunker kind %q", ErrInvalidArgument, o.Kind)
	}
	if o.MinSize <= 0 {
		return fmt.Errorf("%w: min_size must be positive", ErrInvalidArgument)
	}
	if !(o.MinSize <= o.AvgSize && o.AvgSize <= o.MaxSize) {
		return fmt.Errorf("%w: require min <= avg <= max", ErrInvalidArgument)
	}
	if o.AvgSize&(o.AvgSize-1) != 0 {
		return fmt.Errorf("%w: avg_size must be a power of two", ErrInvalidArgument)
	}
	return nil
}

// DefaultOptions returns a reasonable default chunker configuration
// (64KiB average, matching the teacher's historical default in this
// lineage).
func DefaultOptions() Options {
	return Options{
		Kind:    FastCdc,
		MinSize: 16 * 1024,
		AvgSize: 64 * 1024,
		MaxSize: 256 * 1024,
	}
}

// Entry is one element of a chunk map: a contiguous byte range of the
// source stream plus its content hash, in stream order.
type Entry struct {
	FilePath string
	Offset   uint64
	Length   uint32
	Checksum hashid.Hash32
}

// FastCDC implements deterministic content-defined chunking with dual-mask
// boundary detection.
type FastCDC struct {
	opts Options
	gear [256]uint32

	bits  uint
	maskS uint32 // stricter mask, applied for min <= len < avg
	maskL uint32 // looser mask, applied for avg <= len < max
}

// New creates a FastCDC chunker from the given options.
func New(opts Options) (*FastCDC, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &FastCDC{opts: opts}
	c.initGear()

	bits := 0
	for v := opts.AvgSize; v > 1; v >>= 1 {
		bits++
	}
	c.bits = uint(bits)
	c.maskS = uint32(1)<<(c.bits+1) - 1
	if c.bits == 0 {
		c.maskL = 0
	} else {
		c.maskL = uint32(1)<<(c.bits-1) - 1
	}
	return c, nil
}

// initGear seeds the 256-entry gear table from a fixed, reproducible PRNG
// (seed 1) so that chunking is deterministic across runs of this binary.
func (c *FastCDC) initGear() {
	rng := rand.New(rand.NewSource(gearTableSeed))
	for i := range c.gear {
		c.gear[i] = rng.Uint32()
	}
}

// GenerateChunkMap partitions the bytes read from r into content-defined
// chunks and returns them in stream order with their BLAKE3 checksums.
// r need not be seekable; the whole stream is consumed.
func (c *FastCDC) GenerateChunkMap(ctx context.Context, r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(bufio.NewReaderSize(r, readBufferSize))
	if err != nil {
		return nil, fmt.Errorf("chunker: read stream: %w", err)
	}
	return c.chunkBytes(ctx, data)
}

// GenerateChunkMapFile partitions the file at path, using a memory map for
// files at or above mmapThreshold and a buffered sequential scan otherwise.
// Both paths must and do produce identical chunk maps for identical bytes.
func (c *FastCDC) GenerateChunkMapFile(ctx context.Context, path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunker: stat %s: %w", path, err)
	}

	var data []byte
	if info.Size() >= mmapThreshold {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("chunker: mmap %s: %w", path, err)
		}
		defer m.Unmap()
		data = []byte(m)
	} else {
		data, err = io.ReadAll(bufio.NewReaderSize(f, readBufferSize))
		if err != nil {
			return nil, fmt.Errorf("chunker: read %s: %w", path, err)
		}
	}

	entries, err := c.chunkBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].FilePath = path
	}
	return entries, nil
}

// chunkBytes performs the boundary search over an in-memory buffer, then
// hashes the resulting chunks in parallel while preserving stream order.
func (c *FastCDC) chunkBytes(ctx context.Context, data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	type span struct {
		offset uint64
		length uint32
	}

	var spans []span
	n := len(data)

	if n < c.opts.MinSize {
		spans = append(spans, span{offset: 0, length: uint32(n)})
	} else {
		start := 0
		for start < n {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			length := c.findBoundary(data[start:])
			spans = append(spans, span{offset: uint64(start), length: uint32(length)})
			start += length
		}
	}

	entries := make([]Entry, len(spans))
	for i, s := range spans {
		entries[i].Offset = s.offset
		entries[i].Length = s.length
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range entries {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			e := &entries[i]
			chunk := data[e.Offset : e.Offset+uint64(e.Length)]
			e.Checksum = hashid.Sum32(chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// findBoundary returns the length of the next chunk starting at data[0],
// applying the three cut rules in spec.md §4.B in order of discovery.
func (c *FastCDC) findBoundary(data []byte) int {
	n := len(data)
	min, avg, max := c.opts.MinSize, c.opts.AvgSize, c.opts.MaxSize
	if max > n {
		max = n
	}

	var hash uint32
	for p := 0; p < max; p++ {
		hash = (hash << 1) + c.gear[data[p]]
		length := p + 1

		if length >= min && hash&c.maskS == 0 {
			return length
		}
		if length >= avg && hash&c.maskL == 0 {
			return length
		}
		if length >= c.opts.MaxSize {
			return length
		}
	}
	return n
}
