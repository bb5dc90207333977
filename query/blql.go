package query

import (
	"encoding/json"
	"fmt"
)

// ParseError reports a BLQL filter document that failed to parse (spec
// §4.10), wrapping the offending field path for context — the same
// discipline the teacher's SQL parser uses for position-annotated
// errors, adapted to JSON's field-path addressing instead of a token
// stream position.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("blql: at %q: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFilter parses an MQL-style JSON filter document into an Expr
// tree (spec §4.9 "BLQL"). Implicit top-level fields AND-combine; each
// field's value is either a literal (implicit $eq) or an operator map.
func ParseFilter(jsonFilter []byte) (Expr, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(jsonFilter, &raw); err != nil {
		return nil, &ParseError{Path: "$", Err: err}
	}
	return parseObject(raw)
}

func parseObject(raw map[string]interface{}) (Expr, error) {
	var clauses []Expr
	for field, value := range raw {
		if len(field) > 0 && field[0] == '$' {
			clause, err := parseTopLevelOperator(field, value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
			continue
		}
		clause, err := parseFieldFilter(field, value)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	switch len(clauses) {
	case 0:
		return And{}, nil
	case 1:
		return clauses[0], nil
	default:
		return And{Clauses: clauses}, nil
	}
}

func parseTopLevelOperator(op string, value interface{}) (Expr, error) {
	switch op {
	case "$and":
		return parseExprArray(op, value, func(cs []Expr) Expr { return And{Clauses: cs} })
	case "$or":
		return parseExprArray(op, value, func(cs []Expr) Expr { return Or{Clauses: cs} })
	case "$nor":
		return parseExprArray(op, value, func(cs []Expr) Expr { return Nor{Clauses: cs} })
	case "$not":
		sub, ok := value.(map[string]interface{})
		if !ok {
			return nil, &ParseError{Path: op, Err: fmt.Errorf("expected an object")}
		}
		inner, err := parseObject(sub)
		if err != nil {
			return nil, err
		}
		return Not{Clause: inner}, nil
	default:
		return nil, &ParseError{Path: op, Err: fmt.Errorf("unknown top-level operator %q", op)}
	}
}

func parseExprArray(op string, value interface{}, combine func([]Expr) Expr) (Expr, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return nil, &ParseError{Path: op, Err: fmt.Errorf("expected an array")}
	}
	clauses := make([]Expr, 0, len(arr))
	for i, item := range arr {
		sub, ok := item.(map[string]interface{})
		if !ok {
			return nil, &ParseError{Path: fmt.Sprintf("%s[%d]", op, i), Err: fmt.Errorf("expected an object")}
		}
		clause, err := parseObject(sub)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return combine(clauses), nil
}

func parseFieldFilter(field string, value interface{}) (Expr, error) {
	opMap, ok := value.(map[string]interface{})
	if !ok {
		return Compare{Field: field, Op: OpEq, Value: value}, nil
	}
	isOperatorMap := false
	for k := range opMap {
		if len(k) > 0 && k[0] == '$' {
			isOperatorMap = true
			break
		}
	}
	if !isOperatorMap {
		return Compare{Field: field, Op: OpEq, Value: opMap}, nil
	}

	var clauses []Expr
	for op, opVal := range opMap {
		clause, err := parseFieldOperator(field, op, opVal)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return And{Clauses: clauses}, nil
}

func parseFieldOperator(field, op string, value interface{}) (Expr, error) {
	path := field + "." + op
	switch op {
	case "$eq":
		return Compare{Field: field, Op: OpEq, Value: value}, nil
	case "$ne":
		return Compare{Field: field, Op: OpNe, Value: value}, nil
	case "$gt":
		return Compare{Field: field, Op: OpGt, Value: value}, nil
	case "$gte":
		return Compare{Field: field, Op: OpGte, Value: value}, nil
	case "$lt":
		return Compare{Field: field, Op: OpLt, Value: value}, nil
	case "$lte":
		return Compare{Field: field, Op: OpLte, Value: value}, nil
	case "$in":
		values, err := toValueSlice(path, value)
		if err != nil {
			return nil, err
		}
		return In{Field: field, Values: values}, nil
	case "$nin":
		values, err := toValueSlice(path, value)
		if err != nil {
			return nil, err
		}
		return Nin{Field: field, Values: values}, nil
	case "$exists":
		should, ok := value.(bool)
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a boolean")}
		}
		return Exists{Field: field, Should: should}, nil
	case "$regex":
		pattern, ok := value.(string)
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a string")}
		}
		return Regex{Field: field, Pattern: pattern}, nil
	case "$startsWith":
		prefix, ok := value.(string)
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a string")}
		}
		return StartsWith{Field: field, Prefix: prefix}, nil
	case "$endsWith":
		suffix, ok := value.(string)
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a string")}
		}
		return EndsWith{Field: field, Suffix: suffix}, nil
	case "$contains":
		substr, ok := value.(string)
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a string")}
		}
		return Contains{Field: field, Substr: substr}, nil
	case "$size":
		n, ok := value.(float64)
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a number")}
		}
		return Size{Field: field, N: int(n)}, nil
	case "$all":
		values, err := toValueSlice(path, value)
		if err != nil {
			return nil, err
		}
		return All{Field: field, Values: values}, nil
	case "$mod":
		pair, err := toValueSlice(path, value)
		if err != nil {
			return nil, err
		}
		if len(pair) != 2 {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected [divisor, remainder]")}
		}
		div, ok1 := pair[0].(float64)
		rem, ok2 := pair[1].(float64)
		if !ok1 || !ok2 {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("divisor and remainder must be numbers")}
		}
		return Mod{Field: field, Divisor: int64(div), Remainder: int64(rem)}, nil
	case "$elemMatch":
		sub, ok := value.(map[string]interface{})
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("expected an object")}
		}
		inner, err := parseObject(sub)
		if err != nil {
			return nil, err
		}
		return ElemMatch{Field: field, Sub: inner}, nil
	default:
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unknown operator %q", op)}
	}
}

func toValueSlice(path string, value interface{}) ([]interface{}, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("expected an array")}
	}
	return arr, nil
}
