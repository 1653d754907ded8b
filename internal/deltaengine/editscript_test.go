package deltaengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(s string) string { return s }

func scriptApply(t *testing.T, parent, child []string) EditScript {
	t.Helper()
	script := Diff(parent, child, identity, identity)

	insertValues := make([]string, len(script.Inserts))
	for i, childIdx := range script.Inserts {
		insertValues[i] = child[childIdx]
	}
	got := Apply(parent, script, insertValues)
	require.Equal(t, child, got)
	return script
}

func TestApplyReconstructsChild(t *testing.T) {
	cases := [][2][]string{
		{{"a", "b", "c"}, {"a", "b", "c"}},
		{{"a", "b", "c"}, {"a", "c"}},
		{{"a", "b", "c"}, {"a", "x", "b", "c"}},
		{{"a", "b", "c"}, {"c", "b", "a"}},
		{{}, {"a", "b"}},
		{{"a", "b"}, {}},
		{{"a", "b", "c", "d"}, {"d", "a", "e", "b"}},
	}
	for _, tc := range cases {
		scriptApply(t, tc[0], tc[1])
	}
}

func TestIdenticalListsProduceOnlyKeepRuns(t *testing.T) {
	list := []string{"a", "b", "c", "d"}
	script := scriptApply(t, list, list)
	for _, r := range script.Runs {
		assert.Equal(t, Keep, r.Op)
	}
	assert.Equal(t, len(list), script.KeepLength())
}

func TestKeepLengthEqualsLISLength(t *testing.T) {
	parent := []string{"a", "b", "c", "d", "e"}
	child := []string{"c", "a", "b", "f", "e", "d"}
	script := scriptApply(t, parent, child)

	// Manually confirm: longest run of parent-order-preserving common
	// elements here is {a, b, e} or {a, b, d} (length 3).
	assert.Equal(t, 3, script.KeepLength())
}

func TestRunsCoalesceAdjacentSameOp(t *testing.T) {
	parent := []string{"a", "b", "c", "d", "e"}
	child := []string{"a", "x", "y", "e"}
	script := scriptApply(t, parent, child)

	for i := 1; i < len(script.Runs); i++ {
		assert.NotEqual(t, script.Runs[i-1].Op, script.Runs[i].Op, "adjacent runs must not share an op")
	}
}
