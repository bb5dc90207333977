package query

import "github.com/EntglDb/blite/document"

// Model is a typed query against one collection (spec §4.9's
// QueryModel). Where drives the optimizer's index search; Predicate is
// the final acceptance test applied to every candidate the chosen data
// source produces (an index range or a full materialized scan; there is
// no raw-bytes scan source) — for a typed collection this is where the host
// language's own equivalent of Where actually runs, since Expr only
// evaluates against document.Document.
type Model[T any] struct {
	Where     Expr
	Predicate func(T) bool

	OrderBy   func(T) document.IndexKey
	OrderDesc bool

	Skip int
	Take int
}
