package iterator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/store"
)

// FreezeParts selects which of the three independently serializable parts of
// a cursor Freeze emits: the set-defining parameters, the current position,
// and the auxiliary extension state. A stored cursor may need to re-validate
// its set description separately from its position, hence the split.
type FreezeParts uint8

const (
	FreezeSet FreezeParts = 1 << iota
	FreezePosition
	FreezeState

	FreezeAll = FreezeSet | FreezePosition | FreezeState
)

// Freeze serializes the iterator to its textual cursor form:
//
//	<variant-tag>:[~]<low>[-<high>]:<set>[o:...][a:...][/<pos>[/<state>]]
//
// where ~ marks a descending cursor and <high> is omitted for an unbounded
// range. Thaw reproduces a behaviorally identical iterator, even in another
// process or after the backing representation changed shape.
func (it *Iterator) Freeze(parts FreezeParts) string {
	var sb strings.Builder
	sb.WriteString(it.variant.String())
	sb.WriteByte(':')
	if it.descending {
		sb.WriteByte('~')
	}
	sb.WriteString(strconv.FormatUint(uint64(it.low), 10))
	if it.high != core.NoRecord {
		sb.WriteByte('-')
		sb.WriteString(strconv.FormatUint(uint64(it.high), 10))
	}
	sb.WriteByte(':')
	if parts&FreezeSet != 0 && it.src != nil {
		sb.WriteString(it.src.Describe())
	}
	if it.ordering != "" {
		sb.WriteString("[o:")
		sb.WriteString(it.ordering)
		sb.WriteByte(']')
	}
	if it.account != "" {
		sb.WriteString("[a:")
		sb.WriteString(it.account)
		sb.WriteByte(']')
	}
	if parts&(FreezePosition|FreezeState) == 0 {
		return sb.String()
	}
	sb.WriteByte('/')
	if parts&FreezePosition != 0 {
		sb.WriteString(strconv.FormatUint(it.frozenPosition(), 10))
	}
	if parts&FreezeState != 0 && it.countValid {
		sb.WriteString("/c")
		sb.WriteString(strconv.Itoa(it.count))
	}
	return sb.String()
}

// frozenPosition renders the position as a single integer. List-shaped
// cursors record the virtual consumed count; bitmap-shaped cursors record
// the id scan cursor offset past bitmapPosBias, which is how a thawing peer
// tells the two apart.
func (it *Iterator) frozenPosition() uint64 {
	if it.variant == VariantBitmap {
		if ordinal, ok := it.bm.pendingOrdinal(); ok {
			// A pending recovery walk means the position is still the
			// ordinal it was thawed with.
			return uint64(ordinal)
		}
		return bitmapPosBias + uint64(it.bm.scan+1)
	}
	return uint64(it.offset)
}

// SetOrdering attaches the [o:] cursor extension.
func (it *Iterator) SetOrdering(name string) { it.ordering = name }

// Ordering returns the [o:] cursor extension.
func (it *Iterator) Ordering() string { return it.ordering }

// SetAccount attaches the [a:] cursor extension.
func (it *Iterator) SetAccount(id string) { it.account = id }

// Account returns the [a:] cursor extension.
func (it *Iterator) Account() string { return it.account }

// Thaw reconstructs an iterator from its textual cursor form. The catalog
// resolves set descriptions to live index sources; the concrete variant
// follows the set's *current* representation, with recorded positions
// converted across a list-to-bitmap promotion via the rank recovery walk.
func Thaw(sess *store.Session, cat Catalog, text string) (*Iterator, error) {
	c, err := parseCursor(text)
	if err != nil {
		return nil, err
	}
	var it *Iterator
	switch c.tag {
	case "S":
		it = NewScan(sess, c.low, c.high, c.descending)
	case "E":
		it = NewEmpty(sess, c.low, c.high, c.descending)
	case "L":
		role, ok := core.ParseEdgeRole(c.setKind)
		if !ok {
			return nil, fmt.Errorf("edge role %q: %w", c.setKind, ErrCursorSyntax)
		}
		endpoint, perr := strconv.ParseUint(c.setKey, 10, 32)
		if perr != nil {
			return nil, fmt.Errorf("edge endpoint %q: %w", c.setKey, ErrCursorSyntax)
		}
		src, rerr := cat.ResolveEdge(role, core.RecordID(endpoint))
		if rerr != nil {
			return nil, rerr
		}
		if it, err = New(sess, src, c.low, c.high, c.descending); err != nil {
			return nil, err
		}
	case "H":
		tag, ok := parseTagName(c.setKind)
		if !ok {
			return nil, fmt.Errorf("hash kind %q: %w", c.setKind, ErrCursorSyntax)
		}
		key, kerr := decodeKey(c.setKey)
		if kerr != nil {
			return nil, kerr
		}
		src, rerr := cat.ResolveHash(tag, key)
		if rerr != nil {
			return nil, rerr
		}
		if it, err = New(sess, src, c.low, c.high, c.descending); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("variant tag %q: %w", c.tag, ErrCursorSyntax)
	}
	it.ordering = c.ordering
	it.account = c.account
	if c.hasPos {
		if err := it.applyFrozenPosition(c.pos); err != nil {
			_ = it.Close()
			return nil, err
		}
	}
	if c.hasCount && !it.countValid {
		it.count = c.count
		it.countValid = true
	}
	return it, nil
}

// applyFrozenPosition reconciles a recorded position with the variant the
// set resolved to.
func (it *Iterator) applyFrozenPosition(pos uint64) error {
	switch it.variant {
	case VariantScan, VariantEmpty:
		if pos >= bitmapPosBias {
			// Bitmap position against a set that no longer has one: the set
			// shrank or vanished since the freeze. Treat the cursor as
			// exhausted rather than rejecting it.
			it.becomeEmpty()
			return nil
		}
		it.offset = int(pos)
		return nil
	case VariantList, VariantHash:
		if pos < bitmapPosBias {
			it.offset = int(pos)
			return nil
		}
		// Bitmap position against a list-shaped set.
		it.bm.scan = int64(pos-bitmapPosBias) - 1
		it.setListPositionFromScan(it.h.get().SearchGE)
		return nil
	case VariantBitmap:
		if pos < bitmapPosBias {
			// Ordered-list ordinal against a promoted set: replay set-bit
			// counting from the boundary, resumable under budget.
			it.bm.startWalk(it, int(pos))
			return nil
		}
		it.bm.scan = int64(pos-bitmapPosBias) - 1
		it.bm.walk = nil
		return nil
	}
	return fmt.Errorf("position on unknown variant: %w", ErrCursorSyntax)
}

// cursor is the parsed form of the cursor text.
type cursor struct {
	tag        string
	descending bool
	low, high  core.RecordID
	setKind    string // left of ->
	setKey     string // right of ->
	ordering   string
	account    string
	hasPos     bool
	pos        uint64
	hasCount   bool
	count      int
}

func parseCursor(text string) (*cursor, error) {
	bad := func(what string) (*cursor, error) {
		return nil, fmt.Errorf("%s in %q: %w", what, text, ErrCursorSyntax)
	}
	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return bad("missing variant tag")
	}
	c := &cursor{tag: text[:i]}
	rest := text[i+1:]
	j := strings.IndexByte(rest, ':')
	if j < 0 {
		return bad("missing range")
	}
	rng := rest[:j]
	rest = rest[j+1:]
	if strings.HasPrefix(rng, "~") {
		c.descending = true
		rng = rng[1:]
	}
	lowStr, highStr, bounded := strings.Cut(rng, "-")
	low, err := strconv.ParseUint(lowStr, 10, 32)
	if err != nil || low == 0 {
		return bad("bad low bound")
	}
	c.low = core.RecordID(low)
	if bounded {
		high, herr := strconv.ParseUint(highStr, 10, 32)
		if herr != nil || high < low {
			return bad("bad high bound")
		}
		c.high = core.RecordID(high)
	}

	// Set description, then bracketed extensions, then /pos/state.
	set := rest
	var tail string
	if k := strings.IndexAny(rest, "[/"); k >= 0 {
		set = rest[:k]
		tail = rest[k:]
	}
	if set != "" {
		kind, key, found := strings.Cut(set, "->")
		if !found {
			return bad("bad set description")
		}
		c.setKind, c.setKey = kind, key
	}
	for strings.HasPrefix(tail, "[") {
		end := strings.IndexByte(tail, ']')
		if end < 0 {
			return bad("unterminated extension")
		}
		ext := tail[1:end]
		tail = tail[end+1:]
		name, val, found := strings.Cut(ext, ":")
		if !found {
			return bad("bad extension")
		}
		switch name {
		case "o":
			c.ordering = val
		case "a":
			c.account = val
		default:
			return bad("unknown extension")
		}
	}
	if tail == "" {
		return c, nil
	}
	if tail[0] != '/' {
		return bad("trailing garbage")
	}
	posStr, stateStr, hasState := strings.Cut(tail[1:], "/")
	if posStr != "" {
		pos, perr := strconv.ParseUint(posStr, 10, 64)
		if perr != nil {
			return bad("bad position")
		}
		c.hasPos = true
		c.pos = pos
	}
	if hasState && stateStr != "" {
		if !strings.HasPrefix(stateStr, "c") {
			return bad("bad state")
		}
		count, serr := strconv.Atoi(stateStr[1:])
		if serr != nil || count < 0 {
			return bad("bad state count")
		}
		c.hasCount = true
		c.count = count
	}
	return c, nil
}
