package es

import "testing"

func newTestEvent(meta map[string]interface{}, payload string) Event {
	e := NewEvent("Test", []byte(payload))
	for k, v := range meta {
		e = e.WithMetadata(k, v)
	}
	return e
}

func TestMetadataMatcher_NilAndEmptyMatchEverything(t *testing.T) {
	var nilMatcher *MetadataMatcher
	if !nilMatcher.Matches(newTestEvent(nil, "{}")) {
		t.Error("nil matcher should match everything")
	}

	empty := NewMetadataMatcher()
	if !empty.Matches(newTestEvent(nil, "{}")) {
		t.Error("empty matcher should match everything")
	}
}

func TestMetadataMatcher_WithMetadataMatch(t *testing.T) {
	matcher := NewMetadataMatcher().WithMetadataMatch("status", OpEq, "active")

	matching := newTestEvent(map[string]interface{}{"status": "active"}, "{}")
	other := newTestEvent(map[string]interface{}{"status": "inactive"}, "{}")
	missing := newTestEvent(nil, "{}")

	if !matcher.Matches(matching) {
		t.Error("expected match for status=active")
	}
	if matcher.Matches(other) {
		t.Error("expected no match for status=inactive")
	}
	if matcher.Matches(missing) {
		t.Error("expected no match when field is absent")
	}
}

func TestMetadataMatcher_WithPayloadMatch(t *testing.T) {
	matcher := NewMetadataMatcher().WithPayloadMatch("amount", OpGte, 100.0)

	matching := newTestEvent(nil, `{"amount": 150}`)
	other := newTestEvent(nil, `{"amount": 50}`)

	if !matcher.Matches(matching) {
		t.Error("expected match for amount >= 100")
	}
	if matcher.Matches(other) {
		t.Error("expected no match for amount < 100")
	}
}

func TestMetadataMatcher_MultipleClausesAreAnded(t *testing.T) {
	matcher := NewMetadataMatcher().
		WithMetadataMatch("status", OpEq, "active").
		WithPayloadMatch("amount", OpGt, 10.0)

	bothMatch := newTestEvent(map[string]interface{}{"status": "active"}, `{"amount": 20}`)
	onlyOne := newTestEvent(map[string]interface{}{"status": "active"}, `{"amount": 5}`)

	if !matcher.Matches(bothMatch) {
		t.Error("expected match when both clauses hold")
	}
	if matcher.Matches(onlyOne) {
		t.Error("expected no match when only one clause holds")
	}
}

func TestMetadataMatcher_Operations(t *testing.T) {
	tests := []struct {
		name  string
		op    Operation
		value interface{}
		field interface{}
		want  bool
	}{
		{name: "eq numeric", op: OpEq, value: 5.0, field: 5.0, want: true},
		{name: "neq numeric", op: OpNeq, value: 5.0, field: 6.0, want: true},
		{name: "lt", op: OpLt, value: 10.0, field: 5.0, want: true},
		{name: "lte equal", op: OpLte, value: 5.0, field: 5.0, want: true},
		{name: "gt", op: OpGt, value: 1.0, field: 5.0, want: true},
		{name: "gte equal", op: OpGte, value: 5.0, field: 5.0, want: true},
		{name: "in membership", op: OpIn, value: []interface{}{"a", "b"}, field: "b", want: true},
		{name: "nin membership", op: OpNin, value: []interface{}{"a", "b"}, field: "c", want: true},
		{name: "regex match", op: OpRegex, value: "foo.*", field: "foobar", want: true},
		{name: "regex no match", op: OpRegex, value: "^bar$", field: "foobar", want: false},
		{name: "lt on boolean is unorderable", op: OpLt, value: true, field: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := NewMetadataMatcher().WithMetadataMatch("f", tt.op, tt.value)
			event := newTestEvent(map[string]interface{}{"f": tt.field}, "{}")
			if got := matcher.Matches(event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataMatcher_ClausesReturnsDeclarationOrder(t *testing.T) {
	matcher := NewMetadataMatcher().
		WithMetadataMatch("a", OpEq, 1).
		WithPayloadMatch("b", OpEq, 2)

	clauses := matcher.Clauses()
	if len(clauses) != 2 {
		t.Fatalf("len(Clauses()) = %d, want 2", len(clauses))
	}
	if clauses[0].Field != "a" || clauses[0].FieldType != FieldTypeMetadata {
		t.Errorf("clauses[0] = %+v, want field a / metadata", clauses[0])
	}
	if clauses[1].Field != "b" || clauses[1].FieldType != FieldTypePayload {
		t.Errorf("clauses[1] = %+v, want field b / payload", clauses[1])
	}
}

func TestMetadataMatcher_WithMatchReturnsNewInstance(t *testing.T) {
	base := NewMetadataMatcher().WithMetadataMatch("a", OpEq, 1)
	extended := base.WithMetadataMatch("b", OpEq, 2)

	if len(base.Clauses()) != 1 {
		t.Errorf("base matcher was mutated, len(Clauses()) = %d, want 1", len(base.Clauses()))
	}
	if len(extended.Clauses()) != 2 {
		t.Errorf("len(extended.Clauses()) = %d, want 2", len(extended.Clauses()))
	}
}
