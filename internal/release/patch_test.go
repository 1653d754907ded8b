package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// childFromSample derives a plausible next release from samplePackage():
// keeps "bin" but modifies shared.dll's content, drops "config", and adds
// a new "docs" component plus a new chunk feeding it.
func childFromSample() *Package {
	h := func(b byte) hashid.Hash32 {
		var h hashid.Hash32
		h[0] = b
		return h
	}
	p := samplePackage()
	p.ReleaseID = "rel-002"
	p.Properties = map[string]string{
		"git.sha":   "def456", // modified
		"build.env": "ci",     // unchanged
		"branch":    "main",   // added
	}
	p.Chunks = append(append([]hashid.Hash32{}, p.Chunks...), h(5))
	p.Components = []Component{
		{
			Name: "bin",
			Files: []File{
				{Name: "server.exe", Hash: h(9), Inline: []DeltaChunkRef{{DeltaIndex: 1, Offset: 0, Length: 10}}},
				{Name: "shared.dll", Hash: h(99), Inline: []DeltaChunkRef{{DeltaIndex: 1, Offset: 0, Length: 99}}}, // modified, no longer a content-id ref
			},
		},
		{
			Name: "docs",
			Files: []File{
				{Name: "readme.md", Hash: h(20), Inline: []DeltaChunkRef{{DeltaIndex: 4, Offset: 0, Length: 5}}},
			},
		},
	}
	p.Stats = Stats{ComponentCount: 2, FileCount: 3, ChunkCount: 5}
	return p
}

func TestComputeApplyPatchReproducesChild(t *testing.T) {
	parent := samplePackage()
	child := childFromSample()

	patch, err := ComputePatch(parent, child, 1)
	require.NoError(t, err)
	assert.Equal(t, parent.ReleaseID, patch.ParentID)
	assert.Equal(t, child.ReleaseID, patch.ReleaseID)

	got, err := ApplyPatch(parent, patch)
	require.NoError(t, err)

	assert.Equal(t, child.ReleaseID, got.ReleaseID)
	assert.Equal(t, child.Properties, got.Properties)
	assert.Equal(t, child.Chunks, got.Chunks)
	assert.Equal(t, child.Components, got.Components)
	assert.EqualValues(t, len(child.Components), got.Stats.ComponentCount)
	assert.EqualValues(t, len(child.Chunks), got.Stats.ChunkCount)
}

func TestEncodeDecodePatchRoundTrip(t *testing.T) {
	parent := samplePackage()
	child := childFromSample()

	patch, err := ComputePatch(parent, child, 2)
	require.NoError(t, err)

	encoded, err := EncodePatch(patch, parent.StringTable)
	require.NoError(t, err)
	require.True(t, len(encoded) > 4 && string(encoded[:4]) == "BPKD")

	decoded, err := DecodePatch(encoded, parent.StringTable)
	require.NoError(t, err)

	assert.Equal(t, patch.ParentID, decoded.ParentID)
	assert.Equal(t, patch.ReleaseID, decoded.ReleaseID)
	assert.EqualValues(t, 2, decoded.Level)
	assert.Equal(t, patch.ChunkInserts, decoded.ChunkInserts)
	assert.ElementsMatch(t, patch.PropertyOps, decoded.PropertyOps)

	rebuilt, err := ApplyPatch(parent, decoded)
	require.NoError(t, err)
	assert.Equal(t, child.ReleaseID, rebuilt.ReleaseID)
	assert.Equal(t, child.Properties, rebuilt.Properties)
	assert.Equal(t, child.Chunks, rebuilt.Chunks)
	assert.Equal(t, child.Components, rebuilt.Components)
}

func TestApplyPatchRejectsWrongParent(t *testing.T) {
	parent := samplePackage()
	child := childFromSample()
	patch, err := ComputePatch(parent, child, 1)
	require.NoError(t, err)

	other := samplePackage()
	other.ReleaseID = "not-the-parent"
	_, err = ApplyPatch(other, patch)
	assert.Error(t, err)
}

func TestComputePatchNoopForIdenticalPackages(t *testing.T) {
	parent := samplePackage()
	child := samplePackage()
	child.ReleaseID = parent.ReleaseID // identical content, same id

	patch, err := ComputePatch(parent, child, 1)
	require.NoError(t, err)
	assert.Empty(t, patch.ChunkInserts)
	assert.Empty(t, patch.ComponentInserts)
	assert.Empty(t, patch.PropertyOps)
	for _, edit := range patch.FileEdits {
		assert.Empty(t, edit.Modifies)
		assert.Empty(t, edit.Inserts)
	}

	got, err := ApplyPatch(parent, patch)
	require.NoError(t, err)
	assert.Equal(t, child.Components, got.Components)
	assert.Equal(t, child.Chunks, got.Chunks)
}
