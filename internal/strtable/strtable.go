// Package strtable implements the substring-tokenized string table used to
// compress repetitive path components (release file paths share long common
// directory prefixes and extensions). Strings are split on a fixed set of
// separator characters, each fragment is interned once into a shared table,
// and occurrences are replaced by a small varint id plus a one-byte
// separator code.
package strtable

import (
	"errors"
	"fmt"

	"github.com/prn-tf/alexander-storage/internal/varint"
)

// ErrFormat indicates a malformed encoded token stream.
var ErrFormat = errors.New("strtable: malformed token stream")

// Separator identifies the character that followed a substring fragment, or
// SepNone for the trailing fragment of a string.
type Separator byte

const (
	SepNone  Separator = 0
	SepSlash Separator = 1
	SepBack  Separator = 2
	SepDot   Separator = 3
	SepDash  Separator = 4
	SepUnder Separator = 5
)

func separatorByte(sep Separator) (byte, bool) {
	switch sep {
	case SepSlash:
		return '/', true
	case SepBack:
		return '\\', true
	case SepDot:
		return '.', true
	case SepDash:
		return '-', true
	case SepUnder:
		return '_', true
	default:
		return 0, false
	}
}

func separatorFor(b byte) (Separator, bool) {
	switch b {
	case '/':
		return SepSlash, true
	case '\\':
		return SepBack, true
	case '.':
		return SepDot, true
	case '-':
		return SepDash, true
	case '_':
		return SepUnder, true
	default:
		return 0, false
	}
}

// Token is a single (substring id, trailing separator) pair produced by
// tokenizing a string against a Table.
type Token struct {
	ID        uint16
	Separator Separator
}

// Table is an insertion-ordered interning dictionary mapping substrings to
// ids. The zero value is ready to use.
type Table struct {
	ids     map[string]uint16
	entries []string
}

// New returns an empty Table.
func New() *Table {
	return &Table{ids: make(map[string]uint16)}
}

// FromEntries rebuilds a Table from a previously decoded entry list (as
// produced by Entries), for use on the read path where only Lookup is
// needed.
func FromEntries(entries []string) *Table {
	t := &Table{ids: make(map[string]uint16, len(entries)), entries: append([]string(nil), entries...)}
	for i, s := range t.entries {
		t.ids[s] = uint16(i)
	}
	return t
}

// Len returns the number of distinct substrings interned so far.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the interned substrings in insertion order. The returned
// slice must not be mutated.
func (t *Table) Entries() []string {
	return t.entries
}

// Lookup returns the substring at id, and whether it exists.
func (t *Table) Lookup(id uint16) (string, bool) {
	if int(id) >= len(t.entries) {
		return "", false
	}
	return t.entries[id], true
}

func (t *Table) intern(s string) uint16 {
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := uint16(len(t.entries))
	t.entries = append(t.entries, s)
	t.ids[s] = id
	return id
}

// Intern interns s, returning its id (a pre-existing one if s was already
// present). Exported for callers outside the package building a table
// incrementally, such as a patch decoder replaying string-table ops.
func (t *Table) Intern(s string) uint16 {
	return t.intern(s)
}

// SetEntry overwrites the substring at an existing id, for replaying a
// patch's Modify/Remove string-table ops. It errors if id was never
// interned, since a patch may only edit entries its parent already has.
func (t *Table) SetEntry(id uint16, s string) error {
	if int(id) >= len(t.entries) {
		return fmt.Errorf("%w: string table entry %d does not exist", ErrFormat, id)
	}
	old := t.entries[id]
	if old == s {
		return nil
	}
	delete(t.ids, old)
	t.entries[id] = s
	if s != "" {
		t.ids[s] = id
	}
	return nil
}

// Tokenize scans s left to right, interning each separator-delimited
// fragment into the table (allocating a new id on first sight) and returns
// the resulting token sequence. The trailing fragment, if any, carries
// SepNone.
func (t *Table) Tokenize(s string) []Token {
	var tokens []Token
	start := 0
	for i := 0; i < len(s); i++ {
		sep, ok := separatorFor(s[i])
		if !ok {
			continue
		}
		fragment := s[start:i]
		tokens = append(tokens, Token{ID: t.intern(fragment), Separator: sep})
		start = i + 1
	}
	if start < len(s) || len(tokens) == 0 {
		tokens = append(tokens, Token{ID: t.intern(s[start:]), Separator: SepNone})
	}
	return tokens
}

// Detokenize reconstructs the original string from tokens using the current
// table contents.
func (t *Table) Detokenize(tokens []Token) (string, error) {
	var out []byte
	for _, tok := range tokens {
		fragment, ok := t.Lookup(tok.ID)
		if !ok {
			return "", fmt.Errorf("%w: unknown substring id %d", ErrFormat, tok.ID)
		}
		out = append(out, fragment...)
		if tok.Separator != SepNone {
			b, ok := separatorByte(tok.Separator)
			if !ok {
				return "", fmt.Errorf("%w: unknown separator code %d", ErrFormat, tok.Separator)
			}
			out = append(out, b)
		}
	}
	return string(out), nil
}

// EncodeTokens serializes tokens as varint(token_count) followed by
// token_count * (varint(id), u8(separator_code)).
func EncodeTokens(tokens []Token) []byte {
	out := varint.AppendUint64(nil, uint64(len(tokens)))
	for _, tok := range tokens {
		out = varint.AppendUint64(out, uint64(tok.ID))
		out = append(out, byte(tok.Separator))
	}
	return out
}

// DecodeTokens parses a token stream produced by EncodeTokens, returning the
// tokens and the number of bytes consumed.
func DecodeTokens(data []byte) ([]Token, int, error) {
	count, n, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: token count: %v", ErrFormat, err)
	}
	pos := n

	tokens := make([]Token, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("%w: truncated token %d", ErrFormat, i)
		}
		id, n, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: token %d id: %v", ErrFormat, i, err)
		}
		pos += n
		if id > 0xFFFF {
			return nil, 0, fmt.Errorf("%w: token %d id %d overflows u16", ErrFormat, i, id)
		}
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("%w: truncated separator for token %d", ErrFormat, i)
		}
		sep := Separator(data[pos])
		pos++
		tokens = append(tokens, Token{ID: uint16(id), Separator: sep})
	}
	return tokens, pos, nil
}
