package iterator

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/index"
)

// Constraint is one edge guarantee every result of an iterator satisfies:
// each produced record carries an edge of Role pointing at Endpoint.
type Constraint struct {
	Role     core.EdgeRole
	Endpoint core.RecordID
}

// Summary is the best-effort static description of an iterator's result set,
// used to prove that two iterators' results trivially intersect or not
// without materializing either.
type Summary struct {
	// Empty is set when the iterator is statically known to produce nothing.
	Empty bool
	// Constraints every result is guaranteed to satisfy. May be nil when
	// nothing is statically known (scan, name/value lookups).
	Constraints []Constraint
}

// Disjoint reports whether the two summaries prove empty intersection: some
// role is constrained by both to different endpoints.
func Disjoint(a, b Summary) bool {
	if a.Empty || b.Empty {
		return true
	}
	for _, ca := range a.Constraints {
		for _, cb := range b.Constraints {
			if ca.Role == cb.Role && ca.Endpoint != cb.Endpoint {
				return true
			}
		}
	}
	return false
}

// Satisfies reports whether the summary proves constraint c.
func (s Summary) Satisfies(c Constraint) bool {
	for _, have := range s.Constraints {
		if have == c {
			return true
		}
	}
	return false
}

// Source describes how an iterator's backing resource is (re)opened. It is
// retained across suspension so the handle can be dropped and later
// reconstructed, and it carries the set description used by Freeze.
type Source interface {
	// Open returns a fresh handle over the current representation of the
	// set, or core.ErrNotFound when the set is empty.
	Open() (*index.Handle, error)

	// Describe returns the set description of the serialized cursor form.
	Describe() string

	// Summary returns the static guarantees of the set.
	Summary() Summary
}

// EdgeSource backs iterators over one edge role's posting set.
type EdgeSource struct {
	Index    *index.ListIndex
	Role     core.EdgeRole
	Endpoint core.RecordID
}

// Open implements Source.
func (s *EdgeSource) Open() (*index.Handle, error) {
	return s.Index.Open(s.Endpoint)
}

// Describe implements Source.
func (s *EdgeSource) Describe() string {
	return fmt.Sprintf("%s->%d", s.Role, s.Endpoint)
}

// Summary implements Source.
func (s *EdgeSource) Summary() Summary {
	return Summary{Constraints: []Constraint{{Role: s.Role, Endpoint: s.Endpoint}}}
}

// HashSource backs iterators over one hash-bucket posting set.
type HashSource struct {
	Index *index.HashIndex
	Tag   index.Tag
	Key   []byte

	// Guarantee carries the VIP set's edge constraints; nil otherwise.
	Guarantee []Constraint
}

// Open implements Source.
func (s *HashSource) Open() (*index.Handle, error) {
	return s.Index.Open(s.Tag, s.Key)
}

// Describe implements Source.
func (s *HashSource) Describe() string {
	return tagName(s.Tag) + "->" + encodeKey(s.Key)
}

// Summary implements Source.
func (s *HashSource) Summary() Summary {
	return Summary{Constraints: s.Guarantee}
}

func tagName(t index.Tag) string {
	switch t {
	case index.TagName:
		return "name"
	case index.TagValue:
		return "value"
	case index.TagWord:
		return "word"
	case index.TagLineage:
		return "lineage"
	case index.TagBin:
		return "bin"
	case index.TagVIP:
		return "vip"
	}
	return "tag" + strconv.Itoa(int(t))
}

func parseTagName(s string) (index.Tag, bool) {
	switch s {
	case "name":
		return index.TagName, true
	case "value":
		return index.TagValue, true
	case "word":
		return index.TagWord, true
	case "lineage":
		return index.TagLineage, true
	case "bin":
		return index.TagBin, true
	case "vip":
		return index.TagVIP, true
	}
	return 0, false
}

// encodeKey renders key bytes for the textual cursor: raw when every byte is
// a plain printable that cannot collide with the cursor syntax, hex with an
// 0x prefix otherwise.
func encodeKey(key []byte) string {
	for _, b := range key {
		plain := b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
			b == '_' || b == '-' || b == '.'
		if !plain {
			return "0x" + hex.EncodeToString(key)
		}
	}
	if len(key) == 0 || (key[0] == '0' && len(key) > 1 && key[1] == 'x') {
		return "0x" + hex.EncodeToString(key)
	}
	return string(key)
}

func decodeKey(s string) ([]byte, error) {
	if len(s) > 1 && s[0] == '0' && s[1] == 'x' {
		key, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("cursor key %q: %w", s, ErrCursorSyntax)
		}
		return key, nil
	}
	return []byte(s), nil
}

// Catalog resolves set descriptions from serialized cursors back to live
// sources. The store facade implements it over its index instances.
type Catalog interface {
	// ResolveEdge returns the source for one edge role's posting set.
	ResolveEdge(role core.EdgeRole, endpoint core.RecordID) (*EdgeSource, error)

	// ResolveHash returns the source for one hash-bucket set.
	ResolveHash(tag index.Tag, key []byte) (*HashSource, error)
}
