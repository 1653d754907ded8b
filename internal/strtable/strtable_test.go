package strtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDetokenizeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"a",
		"/",
		"releases/v1.2.3/linux-amd64/bin/server",
		"releases/v1.2.4/linux-amd64/bin/server",
		"a/b/",
		"dotted.file.name.tar.gz",
		"mixed\\win-style/path_name.ext",
	}

	tbl := New()
	for _, s := range cases {
		tokens := tbl.Tokenize(s)
		got, err := tbl.Detokenize(tokens)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestRepeatedFragmentsShareIDs(t *testing.T) {
	tbl := New()
	first := tbl.Tokenize("releases/v1.2.3/linux-amd64/bin/server")
	before := tbl.Len()
	second := tbl.Tokenize("releases/v1.2.4/linux-amd64/bin/server")
	after := tbl.Len()

	// "releases", "linux-amd64", "bin", "server" (and the dash-split
	// "linux"/"amd64") are shared; only the version fragment is new.
	assert.Less(t, after-before, len(second))
	assert.Equal(t, first[0].ID, second[0].ID, "releases fragment should be interned once")
}

func TestEncodeDecodeTokens(t *testing.T) {
	tbl := New()
	tokens := tbl.Tokenize("a/b-c.d_e")

	encoded := EncodeTokens(tokens)
	decoded, n, err := DecodeTokens(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, tokens, decoded)

	got, err := tbl.Detokenize(decoded)
	require.NoError(t, err)
	assert.Equal(t, "a/b-c.d_e", got)
}

func TestDecodeTokensTruncated(t *testing.T) {
	tbl := New()
	tokens := tbl.Tokenize("a/b/c")
	encoded := EncodeTokens(tokens)

	_, _, err := DecodeTokens(encoded[:len(encoded)-1])
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDetokenizeUnknownID(t *testing.T) {
	tbl := New()
	_, err := tbl.Detokenize([]Token{{ID: 42, Separator: SepNone}})
	assert.ErrorIs(t, err, ErrFormat)
}
