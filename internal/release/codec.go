package release

import (
	"fmt"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashcodec"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/strtable"
	"github.com/prn-tf/alexander-storage/internal/varint"
)

const (
	magic         = "BPKG"
	formatVersion = byte(1)

	flagCompression = byte(1 << 0)

	zstdPackageLevel = zstd.SpeedBestCompression
)

// EncodeOptions controls how Encode frames section payloads.
type EncodeOptions struct {
	// Compress enables per-section Zstd compression (outer flags bit 0).
	Compress bool
}

// Encode serializes a Package into its on-wire "BPKG" form.
func Encode(p *Package, opts EncodeOptions) ([]byte, error) {
	table := strtable.New()

	componentNameTokens := make([][]strtable.Token, len(p.Components))
	fileNameTokens := make([][][]strtable.Token, len(p.Components))
	for ci, c := range p.Components {
		componentNameTokens[ci] = table.Tokenize(c.Name)
		fileNameTokens[ci] = make([][]strtable.Token, len(c.Files))
		for fi, f := range c.Files {
			fileNameTokens[ci][fi] = table.Tokenize(f.Name)
		}
	}

	propKeys := sortedKeys(p.Properties)
	propKeyTokens := make([][]strtable.Token, len(propKeys))
	propValueTokens := make([][]strtable.Token, len(propKeys))
	for i, k := range propKeys {
		propKeyTokens[i] = table.Tokenize(k)
		propValueTokens[i] = table.Tokenize(p.Properties[k])
	}

	var flags byte
	if opts.Compress {
		flags = flagCompression
	}

	out := make([]byte, 0, 4096)
	out = append(out, magic...)
	out = append(out, formatVersion, flags)

	var err error
	out, err = appendSection(out, sectionStrings, encodeStringTable(table), opts.Compress)
	if err != nil {
		return nil, err
	}

	metaPayload := encodeMetadata(p, propKeys, propKeyTokens, propValueTokens)
	out, err = appendSection(out, sectionMetadata, metaPayload, opts.Compress)
	if err != nil {
		return nil, err
	}

	chunksPayload, err := hashcodec.Encode(p.Chunks)
	if err != nil {
		return nil, fmt.Errorf("release: encode chunk table: %w", err)
	}
	out, err = appendSection(out, sectionChunks, chunksPayload, opts.Compress)
	if err != nil {
		return nil, err
	}

	out, err = appendSection(out, sectionContentIDs, encodeContentIDs(p.ContentIDs), opts.Compress)
	if err != nil {
		return nil, err
	}

	out, err = appendSection(out, sectionComponents, encodeComponents(p, componentNameTokens, fileNameTokens), opts.Compress)
	if err != nil {
		return nil, err
	}

	out, err = appendSection(out, sectionStats, encodeStats(p.Stats), opts.Compress)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Decode parses the on-wire "BPKG" form produced by Encode.
func Decode(data []byte) (*Package, error) {
	if len(data) < len(magic)+2 {
		return nil, fmt.Errorf("%w: release package shorter than header", apperr.ErrUnexpectedEOF)
	}
	if string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", apperr.ErrFormat, data[:len(magic)])
	}
	pos := len(magic)
	version := data[pos]
	pos++
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported release package version %d", apperr.ErrFormat, version)
	}
	flags := data[pos]
	pos++
	compress := flags&flagCompression != 0

	sections, err := readSections(data[pos:], compress)
	if err != nil {
		return nil, err
	}

	p := &Package{
		Properties: make(map[string]string),
		ContentIDs: make(map[uint64][]DeltaChunkRef),
	}
	var table *strtable.Table

	for _, s := range sections {
		switch s.id {
		case sectionStrings:
			entries, err := decodeStringTable(s.payload)
			if err != nil {
				return nil, err
			}
			table = strtable.FromEntries(entries)
			p.StringTable = entries
		case sectionMetadata:
		case sectionChunks:
			chunks, err := hashcodec.Decode(s.payload)
			if err != nil {
				return nil, fmt.Errorf("release: decode chunk table: %w", err)
			}
			p.Chunks = chunks
		case sectionContentIDs:
		case sectionComponents:
		case sectionStats:
			stats, err := decodeStats(s.payload)
			if err != nil {
				return nil, err
			}
			p.Stats = stats
		default:
			return nil, fmt.Errorf("%w: unknown section id 0x%02x", apperr.ErrFormat, s.id)
		}
	}

	if table == nil {
		table = strtable.New()
	}

	for _, s := range sections {
		switch s.id {
		case sectionMetadata:
			if err := decodeMetadata(p, s.payload); err != nil {
				return nil, err
			}
		case sectionContentIDs:
			contentIDs, err := decodeContentIDs(s.payload)
			if err != nil {
				return nil, err
			}
			p.ContentIDs = contentIDs
		case sectionComponents:
			components, err := decodeComponents(s.payload, table)
			if err != nil {
				return nil, err
			}
			p.Components = components
		}
	}

	return p, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedContentIDKeys(m map[uint64][]DeltaChunkRef) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func writeString(out []byte, s string) []byte {
	out = varint.AppendUint64(out, uint64(len(s)))
	return append(out, s...)
}

func readString(data []byte) (string, int, error) {
	n, consumed, err := varint.DecodeUint64(data)
	if err != nil {
		return "", 0, fmt.Errorf("%w: string length: %v", apperr.ErrFormat, err)
	}
	pos := consumed
	if uint64(len(data)-pos) < n {
		return "", 0, fmt.Errorf("%w: string: declared %d bytes, have %d", apperr.ErrUnexpectedEOF, n, len(data)-pos)
	}
	return string(data[pos : pos+int(n)]), pos + int(n), nil
}

func encodeStringTable(table *strtable.Table) []byte {
	entries := table.Entries()
	out := varint.AppendUint64(nil, uint64(len(entries)))
	for _, s := range entries {
		out = writeString(out, s)
	}
	return out
}

func decodeStringTable(data []byte) ([]string, error) {
	n, consumed, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: string table count: %v", apperr.ErrFormat, err)
	}
	pos := consumed
	entries := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, adv, err := readString(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("release: string table entry %d: %w", i, err)
		}
		pos += adv
		entries = append(entries, s)
	}
	return entries, nil
}

func encodeMetadata(p *Package, propKeys []string, keyTokens, valueTokens [][]strtable.Token) []byte {
	var out []byte
	out = writeString(out, p.Version)
	out = writeString(out, p.ReleaseID)
	out = writeString(out, p.RepoID)
	out = writeString(out, p.Notes)
	out = varint.AppendUint64(out, uint64(p.CreatedAt.Unix()))
	out = varint.AppendUint64(out, uint64(len(propKeys)))
	for i := range propKeys {
		out = append(out, strtable.EncodeTokens(keyTokens[i])...)
		out = append(out, strtable.EncodeTokens(valueTokens[i])...)
	}
	return out
}

func decodeMetadata(p *Package, data []byte) error {
	pos := 0
	var s string
	var adv int
	var err error

	if s, adv, err = readString(data[pos:]); err != nil {
		return fmt.Errorf("release: metadata version: %w", err)
	}
	p.Version = s
	pos += adv

	if s, adv, err = readString(data[pos:]); err != nil {
		return fmt.Errorf("release: metadata release_id: %w", err)
	}
	p.ReleaseID = s
	pos += adv

	if s, adv, err = readString(data[pos:]); err != nil {
		return fmt.Errorf("release: metadata repo_id: %w", err)
	}
	p.RepoID = s
	pos += adv

	if s, adv, err = readString(data[pos:]); err != nil {
		return fmt.Errorf("release: metadata notes: %w", err)
	}
	p.Notes = s
	pos += adv

	createdAt, n, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return fmt.Errorf("%w: metadata created_at: %v", apperr.ErrFormat, err)
	}
	pos += n
	p.CreatedAt = time.Unix(int64(createdAt), 0).UTC()

	count, n, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return fmt.Errorf("%w: metadata property count: %v", apperr.ErrFormat, err)
	}
	pos += n

	p.Properties = make(map[string]string, count)
	table := strtable.FromEntries(p.StringTable)
	for i := uint64(0); i < count; i++ {
		keyTokens, n, err := strtable.DecodeTokens(data[pos:])
		if err != nil {
			return fmt.Errorf("release: property %d key: %w", i, err)
		}
		pos += n
		key, err := table.Detokenize(keyTokens)
		if err != nil {
			return fmt.Errorf("release: property %d key: %w", i, err)
		}

		valueTokens, n, err := strtable.DecodeTokens(data[pos:])
		if err != nil {
			return fmt.Errorf("release: property %d value: %w", i, err)
		}
		pos += n
		value, err := table.Detokenize(valueTokens)
		if err != nil {
			return fmt.Errorf("release: property %d value: %w", i, err)
		}

		p.Properties[key] = value
	}
	return nil
}

func encodeContentIDs(contentIDs map[uint64][]DeltaChunkRef) []byte {
	keys := sortedContentIDKeys(contentIDs)
	out := varint.AppendUint64(nil, uint64(len(keys)))
	for _, id := range keys {
		out = varint.AppendUint64(out, id)
		out = append(out, EncodeChunkRefs(contentIDs[id])...)
	}
	return out
}

func decodeContentIDs(data []byte) (map[uint64][]DeltaChunkRef, error) {
	m, n, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: content-id table count: %v", apperr.ErrFormat, err)
	}
	pos := n

	out := make(map[uint64][]DeltaChunkRef, m)
	for i := uint64(0); i < m; i++ {
		id, n, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: content-id %d: %v", apperr.ErrFormat, i, err)
		}
		pos += n

		refs, n, err := DecodeChunkRefs(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("release: content-id %d refs: %w", id, err)
		}
		pos += n
		out[id] = refs
	}
	return out, nil
}

const (
	fileFlagInline    = byte(1 << 0)
	fileFlagContentID = byte(1 << 1)
)

func encodeComponents(p *Package, componentNameTokens [][]strtable.Token, fileNameTokens [][][]strtable.Token) []byte {
	out := varint.AppendUint64(nil, uint64(len(p.Components)))
	for ci, c := range p.Components {
		out = append(out, strtable.EncodeTokens(componentNameTokens[ci])...)
		out = varint.AppendUint64(out, uint64(len(c.Files)))
		for fi, f := range c.Files {
			out = append(out, strtable.EncodeTokens(fileNameTokens[ci][fi])...)
			out = append(out, f.Hash[:]...)
			if f.HasContentID {
				out = append(out, fileFlagContentID)
				out = varint.AppendUint64(out, f.ContentID)
			} else {
				out = append(out, fileFlagInline)
				out = append(out, EncodeChunkRefs(f.Inline)...)
			}
		}
	}
	return out
}

func decodeComponents(data []byte, table *strtable.Table) ([]Component, error) {
	componentCount, n, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: component count: %v", apperr.ErrFormat, err)
	}
	pos := n

	components := make([]Component, 0, componentCount)
	for ci := uint64(0); ci < componentCount; ci++ {
		nameTokens, adv, err := strtable.DecodeTokens(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("release: component %d name: %w", ci, err)
		}
		pos += adv
		name, err := table.Detokenize(nameTokens)
		if err != nil {
			return nil, fmt.Errorf("release: component %d name: %w", ci, err)
		}

		fileCount, adv, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: component %d file count: %v", apperr.ErrFormat, ci, err)
		}
		pos += adv

		files := make([]File, 0, fileCount)
		for fi := uint64(0); fi < fileCount; fi++ {
			fNameTokens, adv, err := strtable.DecodeTokens(data[pos:])
			if err != nil {
				return nil, fmt.Errorf("release: component %d file %d name: %w", ci, fi, err)
			}
			pos += adv
			fName, err := table.Detokenize(fNameTokens)
			if err != nil {
				return nil, fmt.Errorf("release: component %d file %d name: %w", ci, fi, err)
			}

			if pos+hashid.Size32 > len(data) {
				return nil, fmt.Errorf("%w: component %d file %d: truncated hash", apperr.ErrUnexpectedEOF, ci, fi)
			}
			var hash hashid.Hash32
			copy(hash[:], data[pos:pos+hashid.Size32])
			pos += hashid.Size32

			if pos >= len(data) {
				return nil, fmt.Errorf("%w: component %d file %d: truncated encoding flag", apperr.ErrUnexpectedEOF, ci, fi)
			}
			flag := data[pos]
			pos++

			f := File{Name: fName, Hash: hash}
			switch {
			case flag&fileFlagContentID != 0:
				contentID, adv, err := varint.DecodeUint64(data[pos:])
				if err != nil {
					return nil, fmt.Errorf("%w: component %d file %d content id: %v", apperr.ErrFormat, ci, fi, err)
				}
				pos += adv
				f.HasContentID = true
				f.ContentID = contentID
			case flag&fileFlagInline != 0:
				refs, adv, err := DecodeChunkRefs(data[pos:])
				if err != nil {
					return nil, fmt.Errorf("release: component %d file %d chunk refs: %w", ci, fi, err)
				}
				pos += adv
				f.Inline = refs
			default:
				return nil, fmt.Errorf("%w: component %d file %d: encoding flag %#x sets neither inline nor content-id bit", apperr.ErrFormat, ci, fi, flag)
			}
			files = append(files, f)
		}
		components = append(components, Component{Name: name, Files: files})
	}
	return components, nil
}

func encodeStats(s Stats) []byte {
	out := varint.AppendUint64(nil, s.ComponentCount)
	out = varint.AppendUint64(out, s.FileCount)
	out = varint.AppendUint64(out, s.ChunkCount)
	out = varint.AppendUint64(out, s.RawSize)
	out = varint.AppendUint64(out, s.DedupedSize)
	return out
}

func decodeStats(data []byte) (Stats, error) {
	var s Stats
	var n, adv int
	var err error
	read := func() uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, adv, err = varint.DecodeUint64(data[n:])
		n += adv
		return v
	}
	s.ComponentCount = read()
	s.FileCount = read()
	s.ChunkCount = read()
	s.RawSize = read()
	s.DedupedSize = read()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats section: %v", apperr.ErrFormat, err)
	}
	return s, nil
}
