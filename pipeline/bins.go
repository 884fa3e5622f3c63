package pipeline

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Value bins support coarse range queries without a full sort: every value
// maps to the bin between two fixed, presorted boundaries, and a range query
// unions the bins its endpoints fall into plus everything between.
//
// Numeric and alphabetic values use separate boundary tables; bin ids of the
// two families never overlap. A numeric value exactly equal to a boundary is
// not binned at all, since the exact-match hash lookup for that boundary
// already covers it.

// numericBinBounds are the numeric bin boundaries in ascending order.
var numericBinBounds = []float64{
	-1e9, -1e6, -1e3, -100, -10, -1, 0, 1, 10, 100, 1e3, 1e6, 1e9,
}

// alphaBinBounds are the alphabetic bin boundaries: one bin per leading
// letter, with bin 0 for values sorting before "a".
var alphaBinBounds = []string{
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
}

// alphaBinBase keeps alphabetic bin ids disjoint from numeric ones.
var alphaBinBase = len(numericBinBounds) + 1

// Bin returns the bin id of an already-canonicalized value. The second
// result is false when the value is not binned (a numeric value exactly on a
// boundary).
func Bin(canonical []byte) (int, bool) {
	s := string(canonical)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		i := sort.SearchFloat64s(numericBinBounds, v)
		if i < len(numericBinBounds) && numericBinBounds[i] == v {
			return 0, false
		}
		return i, true
	}
	folded := strings.Map(unicode.ToLower, s)
	return alphaBinBase + sort.SearchStrings(alphaBinBounds, folded), true
}

// BinRange returns the inclusive bin id range a query interval over
// canonicalized values covers.
func BinRange(loCanonical, hiCanonical []byte) (lo, hi int) {
	lo = binFloor(loCanonical)
	hi = binFloor(hiCanonical)
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}

// binFloor is Bin without the boundary skip: a boundary value belongs to the
// bin above it for range purposes.
func binFloor(canonical []byte) int {
	s := string(canonical)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		i := sort.SearchFloat64s(numericBinBounds, v)
		if i < len(numericBinBounds) && numericBinBounds[i] == v {
			i++
		}
		return i
	}
	folded := strings.Map(unicode.ToLower, s)
	return alphaBinBase + sort.SearchStrings(alphaBinBounds, folded)
}
