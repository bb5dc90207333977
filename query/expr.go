// Package query implements BLite's neutral predicate tree, its
// cost-free index-range optimizer, and the BLQL (JSON filter) front end
// that compiles into the same tree (spec §4.9).
package query

import "github.com/EntglDb/blite/document"

// Expr is one node of a predicate tree, shared between the typed query
// core (built by hand or by a future LINQ-style front end) and BLQL's
// JSON filter parser.
type Expr interface{ isExpr() }

// CompareOp is a scalar comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
)

// Compare tests a field path against a literal value.
type Compare struct {
	Field string
	Op    CompareOp
	Value interface{}
}

// And requires every clause to hold.
type And struct{ Clauses []Expr }

// Or requires at least one clause to hold.
type Or struct{ Clauses []Expr }

// Nor requires every clause to fail.
type Nor struct{ Clauses []Expr }

// Not negates a single clause.
type Not struct{ Clause Expr }

// Exists tests field presence.
type Exists struct {
	Field  string
	Should bool
}

// TypeIs tests a field's wire type.
type TypeIs struct {
	Field string
	Type  document.ElementType
}

// Regex tests a string field against a pattern (Go RE2 syntax).
type Regex struct{ Field, Pattern string }

// StartsWith, EndsWith, Contains test string fields against a literal.
type StartsWith struct{ Field, Prefix string }
type EndsWith struct{ Field, Suffix string }
type Contains struct{ Field, Substr string }

// In / Nin test set membership.
type In struct {
	Field  string
	Values []interface{}
}
type Nin struct {
	Field  string
	Values []interface{}
}

// Mod tests Field % Divisor == Remainder.
type Mod struct {
	Field              string
	Divisor, Remainder int64
}

// Size tests an array field's length.
type Size struct {
	Field string
	N     int
}

// All requires an array field to contain every value in Values.
type All struct {
	Field  string
	Values []interface{}
}

// ElemMatch requires at least one array element to satisfy Sub.
type ElemMatch struct {
	Field string
	Sub   Expr
}

func (Compare) isExpr()    {}
func (And) isExpr()        {}
func (Or) isExpr()         {}
func (Nor) isExpr()        {}
func (Not) isExpr()        {}
func (Exists) isExpr()     {}
func (TypeIs) isExpr()     {}
func (Regex) isExpr()      {}
func (StartsWith) isExpr() {}
func (EndsWith) isExpr()   {}
func (Contains) isExpr()   {}
func (In) isExpr()         {}
func (Nin) isExpr()        {}
func (Mod) isExpr()        {}
func (Size) isExpr()       {}
func (All) isExpr()        {}
func (ElemMatch) isExpr()  {}
