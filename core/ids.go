package core

import (
	"fmt"

	"github.com/google/uuid"
)

// RecordID is a dense, local identifier for a primitive within a single store.
// It is strictly 32-bit and assigned in allocation order.
// Used for all hot-path structures (posting lists, bitmaps, horizons).
type RecordID uint32

// MaxRecordID is the maximum possible value for a RecordID.
const MaxRecordID = ^RecordID(0)

// NoRecord is the zero RecordID; id 0 is never allocated to a primitive.
const NoRecord = RecordID(0)

// GlobalID is the stable, globally unique identity of a primitive.
// Local records combine the database identity with their local id;
// imported records carry the identity they were minted under.
type GlobalID struct {
	DB    uuid.UUID
	Local RecordID
}

// String returns a string representation of the GlobalID.
func (g GlobalID) String() string {
	return fmt.Sprintf("%s:%d", g.DB, g.Local)
}

// IsZero reports whether the GlobalID is unset.
func (g GlobalID) IsZero() bool {
	return g.DB == uuid.Nil && g.Local == NoRecord
}

// EdgeRole identifies one of the four directed-edge endpoints a record may carry.
type EdgeRole uint8

const (
	// RoleType is the type edge (what kind of thing this record is).
	RoleType EdgeRole = iota
	// RoleRight is the right-neighbor edge.
	RoleRight
	// RoleLeft is the left-neighbor edge.
	RoleLeft
	// RoleScope is the containing-scope edge.
	RoleScope

	// NumRoles is the number of edge roles.
	NumRoles = 4
)

// String returns the role's short name as used in serialized cursors.
func (r EdgeRole) String() string {
	switch r {
	case RoleType:
		return "type"
	case RoleRight:
		return "right"
	case RoleLeft:
		return "left"
	case RoleScope:
		return "scope"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseEdgeRole is the inverse of EdgeRole.String.
func ParseEdgeRole(s string) (EdgeRole, bool) {
	switch s {
	case "type":
		return RoleType, true
	case "right":
		return RoleRight, true
	case "left":
		return RoleLeft, true
	case "scope":
		return RoleScope, true
	}
	return 0, false
}

// Budget is the cost budget consumed by iterator and checkpoint operations.
// A negative budget means "unbounded".
type Budget int

// Unbounded never runs out.
const Unbounded Budget = -1

// Spend consumes n units and reports whether the budget allowed it.
// The result is false once the budget would go negative; the budget itself
// saturates at zero so callers observe exhaustion exactly once per grant.
func (b *Budget) Spend(n int) bool {
	if *b < 0 {
		return true
	}
	if int(*b) < n {
		*b = 0
		return false
	}
	*b -= Budget(n)
	return true
}
