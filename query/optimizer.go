package query

import (
	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/index"
)

// Range is a single-index plan: a [Min,Max] scan (either bound nil for
// open), chosen over a full collection scan (spec §4.9 step 2/3).
type Range struct {
	IndexName string
	Min, Max  document.IndexKey
	Ascending bool
}

// Plan decomposes expr's top-level AND conjuncts and picks the first
// indexable field, merging every conjunct against that same field into
// a single range (spec §4.9 step 1: `total >= 25 AND total < 200` over
// an index on `total` becomes one `[25,200)` scan, not just the first
// conjunct's open-ended range). It reports ok=false when no conjunct is
// indexable, leaving the caller to fall back to a full materialized
// scan; no raw-bytes predicate pass is tried first.
//
// This mirrors the teacher's shouldUseIndex cost gate (optimizer.go) in
// spirit — prefer an index whenever one applies — but BLite always has
// the index's own selectivity (the caller gets back exactly the
// location set an index lookup would produce), so there is no
// page/row-count cost model to weigh: an applicable index is always
// taken.
func Plan(expr Expr, indexes []index.Descriptor) (Range, bool) {
	conjuncts := flattenAnd(expr)
	byPath := make(map[string]index.Descriptor, len(indexes))
	for _, d := range indexes {
		byPath[d.KeyPath] = d
	}

	for i, c := range conjuncts {
		switch e := c.(type) {
		case Compare:
			desc, ok := byPath[e.Field]
			if !ok {
				continue
			}
			return mergeField(conjuncts[i:], desc), true
		case StartsWith:
			desc, ok := byPath[e.Field]
			if !ok {
				continue
			}
			min := document.EncodeString(e.Prefix)
			max := document.IncrementLastByte(min)
			return Range{IndexName: desc.Name, Min: min, Max: max, Ascending: true}, true
		}
	}
	return Range{}, false
}

// mergeField folds every remaining Compare conjunct against desc's
// field into one range: an equality conjunct wins outright, otherwise
// the tightest lower bound and tightest upper bound across all such
// conjuncts are kept (spec §4.9 step 1).
func mergeField(conjuncts []Expr, desc index.Descriptor) Range {
	var haveEq, haveLower, haveUpper bool
	var eqKey, lowerKey, upperKey document.IndexKey

	for _, c := range conjuncts {
		cmp, ok := c.(Compare)
		if !ok || cmp.Field != desc.KeyPath {
			continue
		}
		key := document.EncodeValue(cmp.Value)
		switch cmp.Op {
		case OpEq:
			haveEq, eqKey = true, key
		case OpGt, OpGte:
			if !haveLower || key.Compare(lowerKey) > 0 {
				haveLower, lowerKey = true, key
			}
		case OpLt, OpLte:
			if !haveUpper || key.Compare(upperKey) < 0 {
				haveUpper, upperKey = true, key
			}
		}
	}

	if haveEq {
		return Range{IndexName: desc.Name, Min: eqKey, Max: eqKey, Ascending: true}
	}
	rng := Range{IndexName: desc.Name, Ascending: true}
	if haveLower {
		rng.Min = lowerKey
	}
	if haveUpper {
		rng.Max = upperKey
	}
	return rng
}

// flattenAnd returns expr's top-level AND conjuncts, or a single-element
// slice if expr is not an And.
func flattenAnd(expr Expr) []Expr {
	if expr == nil {
		return nil
	}
	and, ok := expr.(And)
	if !ok {
		return []Expr{expr}
	}
	return and.Clauses
}
