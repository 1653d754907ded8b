package release

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/hashid"
)

func samplePackage() *Package {
	h := func(b byte) hashid.Hash32 {
		var h hashid.Hash32
		h[0] = b
		return h
	}
	return &Package{
		Version:   "1",
		ReleaseID: "rel-001",
		RepoID:    "repo-001",
		Notes:     "initial release",
		Properties: map[string]string{
			"git.sha":   "abc123",
			"build.env": "ci",
		},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Chunks:    []hashid.Hash32{h(1), h(2), h(3), h(4)},
		ContentIDs: map[uint64][]DeltaChunkRef{
			7: {{DeltaIndex: 1, Offset: 0, Length: 10}, {DeltaIndex: 1, Offset: 0, Length: 20}},
		},
		Components: []Component{
			{
				Name: "bin",
				Files: []File{
					{Name: "server.exe", Hash: h(9), Inline: []DeltaChunkRef{{DeltaIndex: 1, Offset: 0, Length: 10}}},
					{Name: "shared.dll", Hash: h(10), HasContentID: true, ContentID: 7},
				},
			},
			{
				Name: "config",
				Files: []File{
					{Name: "app.yaml", Hash: h(11), Inline: []DeltaChunkRef{{DeltaIndex: 2, Offset: 0, Length: 30}}},
				},
			},
		},
		Stats: Stats{ComponentCount: 2, FileCount: 3, ChunkCount: 4, RawSize: 60, DedupedSize: 40},
	}
}

func assertPackagesEqual(t *testing.T, want, got *Package) {
	t.Helper()
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.ReleaseID, got.ReleaseID)
	assert.Equal(t, want.RepoID, got.RepoID)
	assert.Equal(t, want.Notes, got.Notes)
	assert.Equal(t, want.Properties, got.Properties)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.Chunks, got.Chunks)
	assert.Equal(t, want.ContentIDs, got.ContentIDs)
	assert.Equal(t, want.Components, got.Components)
	assert.Equal(t, want.Stats, got.Stats)
}

func TestEncodeDecodeRoundTripUncompressed(t *testing.T) {
	p := samplePackage()
	encoded, err := Encode(p, EncodeOptions{Compress: false})
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assertPackagesEqual(t, p, decoded)
}

func TestEncodeDecodeRoundTripCompressed(t *testing.T) {
	p := samplePackage()
	encoded, err := Encode(p, EncodeOptions{Compress: true})
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assertPackagesEqual(t, p, decoded)
}

func TestEncodeDecodeEmptyPackage(t *testing.T) {
	p := &Package{Properties: map[string]string{}, ContentIDs: map[uint64][]DeltaChunkRef{}}
	encoded, err := Encode(p, EncodeOptions{})
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded.Chunks)
	assert.Empty(t, decoded.Components)
	assert.Empty(t, decoded.ContentIDs)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("XXXX\x01\x00"))
	assert.ErrorIs(t, err, apperr.ErrFormat)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data := []byte("BPKG\x02\x00")
	_, err := Decode(data)
	assert.ErrorIs(t, err, apperr.ErrFormat)
}

func TestDecodeRejectsTruncatedSection(t *testing.T) {
	p := samplePackage()
	encoded, err := Encode(p, EncodeOptions{})
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-1])
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownSectionID(t *testing.T) {
	p := &Package{Properties: map[string]string{}, ContentIDs: map[uint64][]DeltaChunkRef{}}
	encoded, err := Encode(p, EncodeOptions{})
	require.NoError(t, err)

	// Append a bogus section with an unrecognized id.
	corrupted := append(append([]byte{}, encoded...), 0xEE, 0x00, 0x00)
	_, err = Decode(corrupted)
	assert.ErrorIs(t, err, apperr.ErrFormat)
}
