package deltaengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/release"
)

func h(b byte) hashid.Hash32 {
	var out hashid.Hash32
	out[0] = b
	return out
}

func inline(deltaIdx uint32) []release.DeltaChunkRef {
	return []release.DeltaChunkRef{{DeltaIndex: deltaIdx, Offset: 0, Length: 100}}
}

func TestComputeMixedDeltaScenario(t *testing.T) {
	// Parent release has component "bin" with file "app" over chunks
	// [A,B,C]; child replaces the middle chunk: [A,B',C].
	old := &release.Package{
		ReleaseID: "old",
		Chunks:    []hashid.Hash32{h('A'), h('B'), h('C')},
		Components: []release.Component{
			{Name: "bin", Files: []release.File{
				{Name: "app", Hash: h(0xAA), Inline: []release.DeltaChunkRef{
					{DeltaIndex: 0, Offset: 0, Length: 100},
					{DeltaIndex: 1, Offset: 0, Length: 100},
					{DeltaIndex: 1, Offset: 0, Length: 100},
				}},
			}},
		},
	}
	newPkg := &release.Package{
		ReleaseID: "new",
		Chunks:    []hashid.Hash32{h('A'), h('B'), h('C')},
		Components: []release.Component{
			{Name: "bin", Files: []release.File{
				{Name: "app", Hash: h(0xBB)},
			}},
		},
	}

	newFileChunks := map[hashid.Hash32][]ChunkRef{
		h(0xBB): {
			{Hash: h('A'), Length: 100},
			{Hash: h('D'), Length: 100}, // the replacement chunk B'
			{Hash: h('C'), Length: 100},
		},
	}

	manifest, uniqueNewChunks, uniqueNewFiles, err := Compute(old, newPkg, "", newFileChunks, nil)
	require.NoError(t, err)

	require.Len(t, manifest.Files, 1)
	df := manifest.Files[0]
	assert.Equal(t, FileModified, df.Kind)
	require.Len(t, df.Chunks, 3)
	assert.Equal(t, ChunkExisting, df.Chunks[0].Source)
	assert.Equal(t, ChunkNew, df.Chunks[1].Source)
	assert.Equal(t, ChunkExisting, df.Chunks[2].Source)

	assert.Equal(t, []hashid.Hash32{h('D')}, uniqueNewChunks)
	assert.Equal(t, []hashid.Hash32{h(0xBB)}, uniqueNewFiles)
}

func TestComputeNewAndKeptFiles(t *testing.T) {
	old := &release.Package{
		ReleaseID: "old",
		Chunks:    []hashid.Hash32{h('A')},
		Components: []release.Component{
			{Name: "bin", Files: []release.File{
				{Name: "unchanged", Hash: h(0x01), Inline: inline(1)},
			}},
		},
	}
	newPkg := &release.Package{
		ReleaseID: "new",
		Chunks:    []hashid.Hash32{h('A')},
		Components: []release.Component{
			{Name: "bin", Files: []release.File{
				{Name: "unchanged", Hash: h(0x01), Inline: inline(1)},
				{Name: "added", Hash: h(0x02), Inline: inline(1)},
			}},
		},
	}

	manifest, uniqueNewChunks, uniqueNewFiles, err := Compute(old, newPkg, "", nil, nil)
	require.NoError(t, err)
	require.Len(t, manifest.Files, 2)

	byName := map[string]DeltaFile{}
	for _, f := range manifest.Files {
		byName[f.Name] = f
	}
	assert.Equal(t, FileKept, byName["unchanged"].Kind)
	assert.Equal(t, FileNew, byName["added"].Kind)
	assert.Equal(t, []hashid.Hash32{h(0x02)}, uniqueNewFiles)
	assert.Empty(t, uniqueNewChunks)
}

func TestComputeHonorsComponentFilter(t *testing.T) {
	old := &release.Package{ReleaseID: "old"}
	newPkg := &release.Package{
		ReleaseID: "new",
		Components: []release.Component{
			{Name: "bin", Files: []release.File{{Name: "a", Hash: h(1)}}},
			{Name: "docs", Files: []release.File{{Name: "b", Hash: h(2)}}},
		},
	}

	manifest, _, _, err := Compute(old, newPkg, "bin", nil, nil)
	require.NoError(t, err)
	require.Len(t, manifest.Files, 1)
	assert.Equal(t, "bin", manifest.Files[0].Component)
}
