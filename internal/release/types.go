// Package release implements the release-package codec: the binary
// "BPKG"/"BPKD" container format that describes an immutable set of
// components and files, and the patches that transform one release into
// the next.
package release

import (
	"time"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// Package is the logical release definition. Position in Chunks is a
// chunk's "local index"; position in StringTable is a substring id.
type Package struct {
	Version    string
	ReleaseID  string
	RepoID     string
	Notes      string
	Properties map[string]string
	CreatedAt  time.Time

	Chunks      []hashid.Hash32
	StringTable []string
	ContentIDs  map[uint64][]DeltaChunkRef
	Components  []Component

	Stats Stats
}

// Component groups a directory of files under one tokenized name.
type Component struct {
	Name  string
	Files []File
}

// File is one release file: either an inline chunk-ref sequence or a
// reference into the package's shared ContentIDs table. Exactly one of
// Inline / ContentID is meaningful; HasContentID selects which.
type File struct {
	Name         string
	Hash         hashid.Hash32
	Inline       []DeltaChunkRef
	ContentID    uint64
	HasContentID bool
}

// Stats summarizes a package's shape for reporting without re-walking it.
type Stats struct {
	ComponentCount uint64
	FileCount      uint64
	ChunkCount     uint64
	RawSize        uint64
	DedupedSize    uint64
}

// AbsoluteIndices resolves a chunk-ref sequence's deltas into absolute
// indices into Chunks, in order.
func AbsoluteIndices(refs []DeltaChunkRef) []uint64 {
	out := make([]uint64, len(refs))
	var cursor uint64
	for i, r := range refs {
		cursor += uint64(r.DeltaIndex)
		out[i] = cursor
	}
	return out
}
