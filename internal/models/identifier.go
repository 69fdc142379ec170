// Package models defines the domain types for specdex.
package models

import (
	"fmt"
	"strings"
)

// Kind classifies an element by its identifier prefix.
type Kind string

const (
	KindRequirement Kind = "requirement"
	KindComponent   Kind = "component"
	KindData        Kind = "data"
	KindInterface   Kind = "interface"
	KindMethod      Kind = "method"
	KindUI          Kind = "ui"
	KindTask        Kind = "task"
	KindTest        Kind = "test"
	KindOther       Kind = "other"
)

// prefixes is ordered longest first so that "TP:" wins over "T:".
var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{"UI:", KindUI},
	{"TP:", KindTest},
	{"R:", KindRequirement},
	{"C:", KindComponent},
	{"D:", KindData},
	{"I:", KindInterface},
	{"M:", KindMethod},
	{"T:", KindTask},
}

// Kinds returns every kind that owns an identifier prefix.
func Kinds() []Kind {
	out := make([]Kind, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, p.kind)
	}
	return out
}

// Prefix returns the identifier prefix for k, including the colon.
// KindOther has no prefix.
func (k Kind) Prefix() string {
	for _, p := range prefixes {
		if p.kind == k {
			return p.prefix
		}
	}
	return ""
}

// ParseKind resolves a kind name ("task") or prefix ("T:", "T") to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, p := range prefixes {
		if string(p.kind) == strings.ToLower(s) || p.prefix == s || strings.TrimSuffix(p.prefix, ":") == s {
			return p.kind, true
		}
	}
	if strings.EqualFold(s, string(KindOther)) {
		return KindOther, true
	}
	return "", false
}

// Identifier is a typed tag addressing one element within a project.
type Identifier struct {
	Kind Kind
	Name string
}

// String renders the identifier as Prefix:Name.
func (id Identifier) String() string {
	return id.Kind.Prefix() + id.Name
}

// IsZero reports whether id is the zero identifier.
func (id Identifier) IsZero() bool {
	return id.Kind == "" && id.Name == ""
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentifier(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentifier parses s, which must consist of exactly one identifier.
func ParseIdentifier(s string) (Identifier, error) {
	id, n, ok := ScanIdentifier(s)
	if !ok || n != len(s) {
		return Identifier{}, fmt.Errorf("invalid identifier %q", s)
	}
	return id, nil
}

// MatchPrefix reports the kind and prefix length of a recognised prefix at the start of s.
func MatchPrefix(s string) (Kind, int, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p.prefix) {
			return p.kind, len(p.prefix), true
		}
	}
	return "", 0, false
}

// ScanIdentifier matches an identifier at the start of s and returns the number
// of bytes consumed. A recognised prefix followed by an empty or invalid name
// does not match.
func ScanIdentifier(s string) (Identifier, int, bool) {
	kind, plen, ok := MatchPrefix(s)
	if !ok {
		return Identifier{}, 0, false
	}
	n := nameLength(s[plen:])
	if n == 0 {
		return Identifier{}, 0, false
	}
	return Identifier{Kind: kind, Name: s[plen : plen+n]}, plen + n, true
}

// nameLength returns the length of the name at the start of s.
// Trailing '.' and '-' are punctuation, not part of the name.
func nameLength(s string) int {
	if s == "" || !isAlnum(s[0]) {
		return 0
	}
	n := 1
	for n < len(s) && isNameByte(s[n]) {
		n++
	}
	for n > 1 && (s[n-1] == '.' || s[n-1] == '-') {
		n--
	}
	return n
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isNameByte(c byte) bool {
	return isAlnum(c) || c == '_' || c == '-' || c == '.'
}

// IsWordByte reports whether c may glue onto an identifier from the left,
// which disqualifies the identifier (e.g. the "R:" inside "PR:0001").
func IsWordByte(c byte) bool {
	return isAlnum(c) || c == '_' || c >= 0x80
}
