package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/EntglDb/blite/document"
)

// Evaluate runs expr against doc and reports whether it matches,
// grounded on the teacher's evalValue/evalBinary/compare dispatch
// (engine/eval.go), generalized from SQL's parser.Expr to BLite's own
// predicate tree and from storage.Document's flat column lookup to
// document.Document's dotted-path resolution.
func Evaluate(expr Expr, doc *document.Document) (bool, error) {
	if expr == nil {
		return true, nil
	}
	switch e := expr.(type) {
	case Compare:
		val, _ := fieldValue(doc, e.Field)
		return compareOp(val, e.Value, e.Op), nil

	case And:
		for _, c := range e.Clauses {
			ok, err := Evaluate(c, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case Or:
		for _, c := range e.Clauses {
			ok, err := Evaluate(c, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Nor:
		for _, c := range e.Clauses {
			ok, err := Evaluate(c, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil

	case Not:
		ok, err := Evaluate(e.Clause, doc)
		return !ok, err

	case Exists:
		_, ok := fieldValue(doc, e.Field)
		return ok == e.Should, nil

	case TypeIs:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		t, _ := document.InferType(val)
		return t == e.Type, nil

	case Regex:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		s, ok := val.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil

	case StartsWith:
		s, ok := stringField(doc, e.Field)
		return ok && strings.HasPrefix(s, e.Prefix), nil

	case EndsWith:
		s, ok := stringField(doc, e.Field)
		return ok && strings.HasSuffix(s, e.Suffix), nil

	case Contains:
		s, ok := stringField(doc, e.Field)
		return ok && strings.Contains(s, e.Substr), nil

	case In:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		for _, v := range e.Values {
			if bsonCompare(val, v) == 0 {
				return true, nil
			}
		}
		return false, nil

	case Nin:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return true, nil
		}
		for _, v := range e.Values {
			if bsonCompare(val, v) == 0 {
				return false, nil
			}
		}
		return true, nil

	case Mod:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		n, ok := toInt64(val)
		if !ok || e.Divisor == 0 {
			return false, nil
		}
		return n%e.Divisor == e.Remainder, nil

	case Size:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		arr, ok := val.([]interface{})
		return ok && len(arr) == e.N, nil

	case All:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		arr, ok := val.([]interface{})
		if !ok {
			return false, nil
		}
		for _, want := range e.Values {
			found := false
			for _, have := range arr {
				if bsonCompare(have, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil

	case ElemMatch:
		val, ok := fieldValue(doc, e.Field)
		if !ok {
			return false, nil
		}
		arr, ok := val.([]interface{})
		if !ok {
			return false, nil
		}
		for _, elem := range arr {
			sub, ok := elem.(*document.Document)
			if !ok {
				continue
			}
			matched, err := Evaluate(e.Sub, sub)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, nil
	}
}

func fieldValue(doc *document.Document, path string) (interface{}, bool) {
	return doc.GetPath(strings.Split(path, "."))
}

func stringField(doc *document.Document, path string) (string, bool) {
	v, ok := fieldValue(doc, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func compareOp(left, right interface{}, op CompareOp) bool {
	c := bsonCompare(left, right)
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		return false
	}
}

// bsonCompare orders two values by BLite's total BSON type order (spec
// §4.9): null < bool < numeric < string < ObjectId < DateTime < binary
// < document < array; numerics promote through float64 for cross-type
// compare.
func bsonCompare(a, b interface{}) int {
	ta, na := bsonTypeOrder(a)
	tb, nb := bsonTypeOrder(b)
	if na && nb {
		fa, _ := toFloat64(a)
		fb, _ := toFloat64(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	if ta != tb {
		switch {
		case ta < tb:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case string:
		return strings.Compare(x, b.(string))
	case document.ObjectID:
		return x.Compare(b.(document.ObjectID))
	default:
		return 0
	}
}

// bsonTypeOrder returns the type's ordinal in the BSON total order, and
// whether it is a numeric type (for cross-numeric-type promotion).
func bsonTypeOrder(v interface{}) (int, bool) {
	switch v.(type) {
	case nil:
		return 0, false
	case bool:
		return 1, false
	case int32, int64, float64:
		return 2, true
	case string:
		return 3, false
	case document.ObjectID:
		return 4, false
	case time.Time:
		return 5, false
	case document.Binary:
		return 6, false
	case *document.Document:
		return 7, false
	case []interface{}:
		return 8, false
	default:
		return 9, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
