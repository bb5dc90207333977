package query

import (
	"testing"

	"github.com/EntglDb/blite/document"
)

func TestParseFilterImplicitEquality(t *testing.T) {
	expr, err := ParseFilter([]byte(`{"name": "ann"}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	c, ok := expr.(Compare)
	if !ok {
		t.Fatalf("got %T, want Compare", expr)
	}
	if c.Field != "name" || c.Op != OpEq || c.Value != "ann" {
		t.Errorf("got %+v", c)
	}
}

func TestParseFilterOperatorMap(t *testing.T) {
	expr, err := ParseFilter([]byte(`{"age": {"$gte": 18, "$lt": 65}}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	and, ok := expr.(And)
	if !ok || len(and.Clauses) != 2 {
		t.Fatalf("got %+v", expr)
	}

	d := document.New()
	d.Set("age", int32(30))
	matched, err := Evaluate(expr, d)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !matched {
		t.Error("expected age=30 to satisfy 18 <= age < 65")
	}
}

func TestParseFilterTopLevelAndOrNot(t *testing.T) {
	filter := []byte(`{
		"$or": [
			{"status": "active"},
			{"$and": [{"age": {"$gt": 60}}, {"vip": true}]}
		]
	}`)
	expr, err := ParseFilter(filter)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if _, ok := expr.(Or); !ok {
		t.Fatalf("got %T, want Or", expr)
	}

	active := document.New()
	active.Set("status", "active")
	active.Set("age", int32(20))
	active.Set("vip", false)
	matched, err := Evaluate(expr, active)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !matched {
		t.Error("expected active status to satisfy the $or")
	}

	notFilter := []byte(`{"$not": {"status": "active"}}`)
	notExpr, err := ParseFilter(notFilter)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	matched, err = Evaluate(notExpr, active)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if matched {
		t.Error("expected $not to reject an active status")
	}
}

func TestParseFilterOperators(t *testing.T) {
	cases := []struct {
		name   string
		filter string
		doc    map[string]interface{}
		want   bool
	}{
		{"in", `{"age": {"$in": [10, 20, 30]}}`, map[string]interface{}{"age": int32(20)}, true},
		{"nin", `{"age": {"$nin": [10, 20]}}`, map[string]interface{}{"age": int32(30)}, true},
		{"exists", `{"age": {"$exists": true}}`, map[string]interface{}{"age": int32(30)}, true},
		{"startsWith", `{"name": {"$startsWith": "ann"}}`, map[string]interface{}{"name": "annabelle"}, true},
		{"endsWith", `{"name": {"$endsWith": "elle"}}`, map[string]interface{}{"name": "annabelle"}, true},
		{"contains", `{"name": {"$contains": "nabel"}}`, map[string]interface{}{"name": "annabelle"}, true},
		{"regex", `{"name": {"$regex": "^ann"}}`, map[string]interface{}{"name": "annabelle"}, true},
		{"size", `{"tags": {"$size": 2}}`, map[string]interface{}{"tags": []interface{}{"a", "b"}}, true},
		{"mod", `{"age": {"$mod": [5, 0]}}`, map[string]interface{}{"age": int32(25)}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			expr, err := ParseFilter([]byte(c.filter))
			if err != nil {
				t.Fatalf("ParseFilter: %v", err)
			}
			d := docWith(c.doc)
			matched, err := Evaluate(expr, d)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if matched != c.want {
				t.Errorf("got %v want %v", matched, c.want)
			}
		})
	}
}

func TestParseFilterElemMatch(t *testing.T) {
	filter := []byte(`{"items": {"$elemMatch": {"qty": {"$gt": 5}}}}`)
	expr, err := ParseFilter(filter)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}

	lowQty := docWith(map[string]interface{}{"qty": int32(1)})
	highQty := docWith(map[string]interface{}{"qty": int32(9)})
	d := docWith(map[string]interface{}{"items": []interface{}{lowQty, highQty}})

	matched, err := Evaluate(expr, d)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !matched {
		t.Error("expected $elemMatch to find the high-qty item")
	}
}

func TestParseFilterRejectsUnknownTopLevelOperator(t *testing.T) {
	_, err := ParseFilter([]byte(`{"$bogus": []}`))
	if err == nil {
		t.Fatal("expected an error for an unknown top-level operator")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestParseFilterRejectsUnknownFieldOperator(t *testing.T) {
	_, err := ParseFilter([]byte(`{"age": {"$bogus": 1}}`))
	if err == nil {
		t.Fatal("expected an error for an unknown field operator")
	}
}

func TestParseFilterRejectsMalformedJSON(t *testing.T) {
	_, err := ParseFilter([]byte(`{"age": `))
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}
