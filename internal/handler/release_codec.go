package handler

import (
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/release"
)

// decodeReleaseChunkRefs parses a .rdef release-package payload and returns
// every chunk hash it references (the package's chunk table lists each
// chunk exactly once, by construction), along with a content checksum of
// the raw bytes for the catalog's release record.
func decodeReleaseChunkRefs(data []byte) ([]hashid.Hash32, hashid.Hash32, error) {
	pkg, err := release.Decode(data)
	if err != nil {
		return nil, hashid.Hash32{}, err
	}
	return pkg.Chunks, hashid.Sum32(data), nil
}
