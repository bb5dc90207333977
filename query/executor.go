package query

import (
	"sort"

	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/index"
)

// source is the subset of collection.Collection[T]'s surface the
// executor needs to pick a data source; expressed structurally so this
// package never imports collection (which would otherwise create an
// import cycle once collection grows query-aware helpers).
type source[T any] interface {
	FindAll(txnID uint64) ([]T, error)
	QueryIndex(txnID uint64, name string, min, max document.IndexKey, ascending bool) ([]T, error)
	GetIndexes() []index.Descriptor
}

// Run executes m against col: it tries the optimizer's index plan
// first (spec §4.9 steps 1-3), falls back to a full materialized scan,
// then applies Predicate and OrderBy/Skip/Take in that order (the
// Evaluator stage).
func Run[T any](txnID uint64, col source[T], m Model[T]) ([]T, error) {
	candidates, err := fetch(txnID, col, m.Where)
	if err != nil {
		return nil, err
	}

	out := candidates
	if m.Predicate != nil {
		filtered := make([]T, 0, len(out))
		for _, c := range out {
			if m.Predicate(c) {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}

	if m.OrderBy != nil {
		sort.SliceStable(out, func(i, j int) bool {
			c := m.OrderBy(out[i]).Compare(m.OrderBy(out[j]))
			if m.OrderDesc {
				return c > 0
			}
			return c < 0
		})
	}

	if m.Skip > 0 {
		if m.Skip >= len(out) {
			return nil, nil
		}
		out = out[m.Skip:]
	}
	if m.Take > 0 && m.Take < len(out) {
		out = out[:m.Take]
	}
	return out, nil
}

func fetch[T any](txnID uint64, col source[T], where Expr) ([]T, error) {
	if where != nil {
		if rng, ok := Plan(where, col.GetIndexes()); ok {
			return col.QueryIndex(txnID, rng.IndexName, rng.Min, rng.Max, rng.Ascending)
		}
	}
	return col.FindAll(txnID)
}

// Project maps a query's result set through selector, the Evaluator's
// final projection stage (spec §4.9).
func Project[T any, R any](entities []T, selector func(T) R) []R {
	out := make([]R, len(entities))
	for i, e := range entities {
		out[i] = selector(e)
	}
	return out
}
