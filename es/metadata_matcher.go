package es

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// FieldType selects whether a MetadataMatcher clause looks a field up on
// the event's metadata map or decodes and inspects the event's payload.
type FieldType int

const (
	// FieldTypeMetadata looks the field up in Event.Metadata.
	FieldTypeMetadata FieldType = iota
	// FieldTypePayload decodes Event.Payload as JSON and looks the field
	// up there.
	FieldTypePayload
)

// Operation is a comparison operator usable in a MetadataMatcher clause.
type Operation string

// Supported comparison operations.
const (
	OpEq    Operation = "="
	OpNeq   Operation = "!="
	OpLt    Operation = "<"
	OpLte   Operation = "<="
	OpGt    Operation = ">"
	OpGte   Operation = ">="
	OpIn    Operation = "in"
	OpNin   Operation = "nin"
	OpRegex Operation = "regex"
)

// Clause is a single predicate in a MetadataMatcher: field OP value.
type Clause struct {
	Field     string
	Value     interface{}
	Operation Operation
	FieldType FieldType
}

// MetadataMatcher is an ordered list of clauses joined by logical AND. It
// is pure and side-effect free: callers must not mutate it while it is in
// use by a concurrent Load/MergeAndLoad call.
type MetadataMatcher struct {
	clauses []Clause
}

// NewMetadataMatcher returns an empty matcher. An empty matcher matches
// every event.
func NewMetadataMatcher() *MetadataMatcher {
	return &MetadataMatcher{}
}

// WithMetadataMatch returns a copy of the matcher with an additional
// clause over the event's metadata map.
func (m *MetadataMatcher) WithMetadataMatch(field string, op Operation, value interface{}) *MetadataMatcher {
	return m.with(Clause{Field: field, Value: value, Operation: op, FieldType: FieldTypeMetadata})
}

// WithPayloadMatch returns a copy of the matcher with an additional clause
// over the event's JSON-decoded payload.
func (m *MetadataMatcher) WithPayloadMatch(field string, op Operation, value interface{}) *MetadataMatcher {
	return m.with(Clause{Field: field, Value: value, Operation: op, FieldType: FieldTypePayload})
}

func (m *MetadataMatcher) with(c Clause) *MetadataMatcher {
	clauses := make([]Clause, len(m.clauses), len(m.clauses)+1)
	copy(clauses, m.clauses)
	clauses = append(clauses, c)
	return &MetadataMatcher{clauses: clauses}
}

// Clauses returns the matcher's clauses in declaration order. The returned
// slice must not be mutated.
func (m *MetadataMatcher) Clauses() []Clause {
	if m == nil {
		return nil
	}
	return m.clauses
}

// Matches reports whether event satisfies every clause in the matcher. A
// nil matcher, or one with no clauses, matches everything. A clause whose
// field is missing from the event evaluates to false; it never panics or
// returns an error.
func (m *MetadataMatcher) Matches(event Event) bool {
	if m == nil {
		return true
	}
	var payload map[string]interface{}
	payloadDecoded := false

	for _, c := range m.clauses {
		var (
			fieldValue interface{}
			present    bool
		)
		switch c.FieldType {
		case FieldTypeMetadata:
			fieldValue, present = event.Metadata[c.Field]
		case FieldTypePayload:
			if !payloadDecoded {
				_ = json.Unmarshal(event.Payload, &payload)
				payloadDecoded = true
			}
			fieldValue, present = payload[c.Field]
		}
		if !present {
			return false
		}
		if !evaluate(fieldValue, c.Operation, c.Value) {
			return false
		}
	}
	return true
}

func evaluate(field interface{}, op Operation, value interface{}) bool {
	switch op {
	case OpIn, OpNin:
		return evaluateMembership(field, op, value)
	case OpRegex:
		return evaluateRegex(field, value)
	case OpEq:
		return compareEqual(field, value)
	case OpNeq:
		return !compareEqual(field, value)
	default:
		cmp, ok := compareOrdered(field, value)
		if !ok {
			return false
		}
		switch op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		}
		return false
	}
}

func evaluateMembership(field interface{}, op Operation, value interface{}) bool {
	arr, ok := value.([]interface{})
	if !ok {
		return false
	}
	found := false
	for _, v := range arr {
		if compareEqual(field, v) {
			found = true
			break
		}
	}
	if op == OpIn {
		return found
	}
	return !found
}

func evaluateRegex(field interface{}, value interface{}) bool {
	s, ok := field.(string)
	if !ok {
		return false
	}
	pattern, ok := value.(string)
	if !ok {
		return false
	}
	anchored := "^(?:" + pattern + ")$"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func compareEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareOrdered returns (-1|0|1, true) when a and b are comparable under
// natural (numeric) or lexicographic (string) ordering, or (0, false) when
// they are not orderable (e.g. booleans, which support only =/!=).
func compareOrdered(a, b interface{}) (int, bool) {
	if _, aok := a.(bool); aok {
		return 0, false
	}
	if _, bok := b.(bool); bok {
		return 0, false
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return sortCompare(as, bs), true
	}
	return 0, false
}

func sortCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
