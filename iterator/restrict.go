package iterator

import (
	"fmt"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/index"
)

// Restrict re-expresses this iterator's posting set intersected with the
// edge guarantee carried by proof as a single VIP lookup. It applies only to
// edge-backed iterators over endpoints hot enough to have crossed the VIP
// threshold; everything else reports core.ErrUnsupported so the caller falls
// back to a plain intersection.
//
// The returned iterator is fresh at the start of the same range and
// direction. The receiver is untouched.
func (it *Iterator) Restrict(proof Summary, vip *index.HashIndex, vipThreshold int) (*Iterator, error) {
	if proof.Empty {
		return NewEmpty(it.sess, it.low, it.high, it.descending), nil
	}
	src, ok := it.src.(*EdgeSource)
	if !ok {
		return nil, fmt.Errorf("restrict: not an edge iterator: %w", core.ErrUnsupported)
	}
	var qualifier core.RecordID
	found := false
	for _, c := range proof.Constraints {
		if c.Role == core.RoleType {
			qualifier = c.Endpoint
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("restrict: no type constraint in proof: %w", core.ErrUnsupported)
	}
	n, err := it.Count()
	if err != nil {
		return nil, err
	}
	if n < vipThreshold {
		// The endpoint never crossed the threshold, so no VIP set was built
		// for it. Fail closed rather than guess.
		return nil, fmt.Errorf("restrict: %s below vip threshold: %w", src.Describe(), core.ErrUnsupported)
	}
	key := index.VIPKey(src.Endpoint, src.Role, qualifier)
	guarantee := []Constraint{
		{Role: src.Role, Endpoint: src.Endpoint},
		{Role: core.RoleType, Endpoint: qualifier},
	}
	if vip.Count(index.TagVIP, key) == 0 {
		// Above the threshold the VIP set is authoritative: an absent bucket
		// means the intersection is provably empty.
		return NewEmpty(it.sess, it.low, it.high, it.descending), nil
	}
	return New(it.sess, &HashSource{
		Index:     vip,
		Tag:       index.TagVIP,
		Key:       key,
		Guarantee: guarantee,
	}, it.low, it.high, it.descending)
}
