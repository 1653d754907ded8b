package deltaengine

import (
	"fmt"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/release"
)

// FileKind classifies one DeltaFile relative to the old release.
type FileKind int

const (
	FileNew FileKind = iota
	FileKept
	FileModified
)

// ChunkSource classifies one chunk reference within a modified file.
type ChunkSource int

const (
	ChunkExisting ChunkSource = iota
	ChunkNew
)

// ChunkRef is one (hash, length) pair for a file's chunk sequence. A
// Length of -1 defers length resolution to the caller-supplied chunk
// catalog.
type ChunkRef struct {
	Hash   hashid.Hash32
	Length int64
}

// LengthCatalogSentinel marks a ChunkRef whose length must be resolved
// from the chunk catalog rather than taken literally.
const LengthCatalogSentinel = int64(-1)

// ManifestChunkRef is one chunk reference inside a modified DeltaFile, with
// its resolved length and classification.
type ManifestChunkRef struct {
	Hash   hashid.Hash32
	Length uint64
	Source ChunkSource
}

// DeltaFile describes one file's relationship between the old and new
// release.
type DeltaFile struct {
	Component string
	Name      string
	FileHash  hashid.Hash32
	Kind      FileKind
	Chunks    []ManifestChunkRef // populated only when Kind == FileModified
}

// DeltaManifest is the release-to-release delta: what a client already
// holding OldID must fetch and apply to reach NewID.
type DeltaManifest struct {
	OldID string
	NewID string
	Files []DeltaFile
}

type oldFileKey struct {
	component string
	name      string
}

// expandFile resolves a release.File's chunk references into the ordered
// sequence of chunk hashes it is built from.
func expandFile(pkg *release.Package, f release.File) ([]hashid.Hash32, error) {
	var refs []release.DeltaChunkRef
	if f.HasContentID {
		var ok bool
		refs, ok = pkg.ContentIDs[f.ContentID]
		if !ok {
			return nil, fmt.Errorf("%w: file %q references unknown content id %d", apperr.ErrFormat, f.Name, f.ContentID)
		}
	} else {
		refs = f.Inline
	}

	indices := release.AbsoluteIndices(refs)
	hashes := make([]hashid.Hash32, len(indices))
	for i, idx := range indices {
		if idx >= uint64(len(pkg.Chunks)) {
			return nil, fmt.Errorf("%w: file %q chunk index %d out of range", apperr.ErrFormat, f.Name, idx)
		}
		hashes[i] = pkg.Chunks[idx]
	}
	return hashes, nil
}

// Compute builds the delta manifest from old to new, optionally restricted
// to a single component. newFileChunks supplies the authoritative chunk
// sequence for files that are new or modified relative to old (with a -1
// length sentinel deferring to chunkCatalog); files absent from that map
// fall back to expanding new's own content tables.
func Compute(old, new *release.Package, componentFilter string, newFileChunks map[hashid.Hash32][]ChunkRef, chunkCatalog map[hashid.Hash32]uint64) (*DeltaManifest, []hashid.Hash32, []hashid.Hash32, error) {
	oldIndex := make(map[oldFileKey]release.File)
	for _, c := range old.Components {
		for _, f := range c.Files {
			oldIndex[oldFileKey{component: c.Name, name: f.Name}] = f
		}
	}

	manifest := &DeltaManifest{OldID: old.ReleaseID, NewID: new.ReleaseID}
	seenNewChunks := make(map[hashid.Hash32]struct{})
	seenNewFiles := make(map[hashid.Hash32]struct{})
	var uniqueNewChunks []hashid.Hash32
	var uniqueNewFiles []hashid.Hash32

	for _, c := range new.Components {
		if componentFilter != "" && c.Name != componentFilter {
			continue
		}
		for _, f := range c.Files {
			key := oldFileKey{component: c.Name, name: f.Name}
			oldFile, existedBefore := oldIndex[key]

			switch {
			case !existedBefore:
				manifest.Files = append(manifest.Files, DeltaFile{Component: c.Name, Name: f.Name, FileHash: f.Hash, Kind: FileNew})
				if _, ok := seenNewFiles[f.Hash]; !ok {
					seenNewFiles[f.Hash] = struct{}{}
					uniqueNewFiles = append(uniqueNewFiles, f.Hash)
				}
			case oldFile.Hash == f.Hash:
				manifest.Files = append(manifest.Files, DeltaFile{Component: c.Name, Name: f.Name, FileHash: f.Hash, Kind: FileKept})
			default:
				refs, err := resolveNewFileChunks(new, f, newFileChunks)
				if err != nil {
					return nil, nil, nil, err
				}
				oldChunks, err := expandFile(old, oldFile)
				if err != nil {
					return nil, nil, nil, err
				}
				pool := make(map[hashid.Hash32]int, len(oldChunks))
				for _, h := range oldChunks {
					pool[h]++
				}

				chunkRefs := make([]ManifestChunkRef, len(refs))
				for i, r := range refs {
					length, err := resolveLength(r, chunkCatalog)
					if err != nil {
						return nil, nil, nil, err
					}
					if pool[r.Hash] > 0 {
						pool[r.Hash]--
						chunkRefs[i] = ManifestChunkRef{Hash: r.Hash, Length: length, Source: ChunkExisting}
					} else {
						chunkRefs[i] = ManifestChunkRef{Hash: r.Hash, Length: length, Source: ChunkNew}
						if _, ok := seenNewChunks[r.Hash]; !ok {
							seenNewChunks[r.Hash] = struct{}{}
							uniqueNewChunks = append(uniqueNewChunks, r.Hash)
						}
					}
				}
				manifest.Files = append(manifest.Files, DeltaFile{
					Component: c.Name, Name: f.Name, FileHash: f.Hash, Kind: FileModified, Chunks: chunkRefs,
				})
				if _, ok := seenNewFiles[f.Hash]; !ok {
					seenNewFiles[f.Hash] = struct{}{}
					uniqueNewFiles = append(uniqueNewFiles, f.Hash)
				}
			}
		}
	}

	return manifest, uniqueNewChunks, uniqueNewFiles, nil
}

func resolveNewFileChunks(new *release.Package, f release.File, newFileChunks map[hashid.Hash32][]ChunkRef) ([]ChunkRef, error) {
	if refs, ok := newFileChunks[f.Hash]; ok {
		return refs, nil
	}
	hashes, err := expandFile(new, f)
	if err != nil {
		return nil, err
	}
	refs := make([]ChunkRef, len(hashes))
	for i, h := range hashes {
		refs[i] = ChunkRef{Hash: h, Length: LengthCatalogSentinel}
	}
	return refs, nil
}

func resolveLength(r ChunkRef, chunkCatalog map[hashid.Hash32]uint64) (uint64, error) {
	if r.Length != LengthCatalogSentinel {
		return uint64(r.Length), nil
	}
	length, ok := chunkCatalog[r.Hash]
	if !ok {
		return 0, fmt.Errorf("%w: chunk %s has no catalog length and no explicit length", apperr.ErrNotFound, r.Hash)
	}
	return length, nil
}
