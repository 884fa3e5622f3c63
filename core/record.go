package core

// Generation describes a record that is a new version of a prior record.
// Lineage is the id of the chain's root; Index is this version's position
// in the chain, starting at 1 for the first re-versioned record.
type Generation struct {
	Lineage RecordID
	Index   uint32
}

// Record is one immutable unit of stored data. Once committed it never
// changes; the store hands out read-only views.
type Record struct {
	ID     RecordID
	Global GlobalID

	// Edges holds the four directed-edge endpoints, indexed by EdgeRole.
	// NoRecord means the role is absent.
	Edges [NumRoles]RecordID

	// Name and Value are optional byte strings. nil means absent; an empty
	// non-nil slice is a present, empty value.
	Name  []byte
	Value []byte

	// Gen is non-nil when this record supersedes a previous generation.
	Gen *Generation
}

// HasEdge reports whether the record carries an endpoint for role.
func (r *Record) HasEdge(role EdgeRole) bool {
	return r.Edges[role] != NoRecord
}

// Edge returns the endpoint for role, or NoRecord if absent.
func (r *Record) Edge(role EdgeRole) RecordID {
	return r.Edges[role]
}

// Clone returns a deep copy of the record. Used when a caller needs to
// build a record from a read-only view.
func (r *Record) Clone() *Record {
	out := *r
	if r.Name != nil {
		out.Name = append([]byte(nil), r.Name...)
	}
	if r.Value != nil {
		out.Value = append([]byte(nil), r.Value...)
	}
	if r.Gen != nil {
		g := *r.Gen
		out.Gen = &g
	}
	return &out
}
