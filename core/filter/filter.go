// Package filter implements the Antbox filter engine: triples of
// [field, operator, value] evaluated against a node's attributes and
// properties, with disjunctive-normal-form composition.
package filter

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// Op is a comparison operator recognized by the filter engine.
type Op string

const (
	OpEq           Op = "=="
	OpNeq          Op = "!="
	OpLt           Op = "<"
	OpLte          Op = "<="
	OpGt           Op = ">"
	OpGte          Op = ">="
	OpMatch        Op = "match"
	OpContains     Op = "contains"
	OpContainsAll  Op = "contains-all"
	OpContainsAny  Op = "contains-any"
	OpNotContains  Op = "not-contains"
	OpContainsNone Op = "contains-none"
	OpIn           Op = "in"
	OpNotIn        Op = "not-in"
	OpSubstring    Op = "~="
)

// Filter is a single [field, op, value] predicate.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Error is returned when a filter cannot be evaluated against a node,
// e.g. a `<` comparison between incompatible types.
type Error struct {
	Filter Filter
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("filter error on field %q (%s): %s", e.Filter.Field, e.Filter.Op, e.Reason)
}

func newFilterError(f Filter, reason string) error {
	return antboxerrors.Wrap(antboxerrors.CodeValidation, "invalid filter", 400, &Error{Filter: f, Reason: reason})
}

// Fields is the attribute-lookup abstraction the filter engine evaluates
// against. Node (and any other filterable type) implements it by looking at
// its own top-level attributes first, then falling back to properties.
type Fields interface {
	// Field resolves a field name to its value and whether it was defined at
	// all (an undefined field matches only !=, not-in, not-contains and
	// contains-none).
	Field(name string) (value any, defined bool)
}

// MapFields is a Fields adapter over a plain map, used by tests and by the
// automatic-action event payload matching in the feature service.
type MapFields map[string]any

func (m MapFields) Field(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Group is a conjunctive list of filters (an AND-group).
type Group []Filter

// DNF is a disjunctive-normal-form filter expression: an OR of AND-groups.
// A single conjunctive filter list is represented as a DNF with one Group.
type DNF []Group

// Matches evaluates this filter against fields, implementing:
// undefined fields evaluate to not-match except for != (true) and
// not-in/not-contains/contains-none (true).
func (f Filter) Matches(fields Fields) (bool, error) {
	value, defined := fields.Field(f.Field)
	if !defined {
		switch f.Op {
		case OpNeq, OpNotIn, OpNotContains, OpContainsNone:
			return true, nil
		default:
			return false, nil
		}
	}
	return evaluate(f, value)
}

func evaluate(f Filter, value any) (bool, error) {
	switch f.Op {
	case OpEq:
		return looseEqual(value, f.Value), nil
	case OpNeq:
		return !looseEqual(value, f.Value), nil
	case OpLt, OpLte, OpGt, OpGte:
		return compareNumericOrString(f, value)
	case OpSubstring:
		return substringMatch(f, value)
	case OpMatch:
		return regexMatch(f, value)
	case OpIn:
		return inSet(f, value, true)
	case OpNotIn:
		return inSet(f, value, false)
	case OpContains:
		return containsOne(f, value, true)
	case OpNotContains:
		return containsOne(f, value, false)
	case OpContainsAll:
		return containsAll(f, value)
	case OpContainsAny:
		return containsAny(f, value)
	case OpContainsNone:
		ok, err := containsAny(f, value)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, newFilterError(f, "unsupported operator")
	}
}

func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func compareNumericOrString(f Filter, value any) (bool, error) {
	if af, aok := toFloat(value); aok {
		if bf, bok := toFloat(f.Value); bok {
			return compareOrdered(f.Op, af, bf), nil
		}
	}
	as, aIsStr := value.(string)
	bs, bIsStr := f.Value.(string)
	if aIsStr && bIsStr {
		return compareOrdered(f.Op, as, bs), nil
	}
	return false, newFilterError(f, "operands are not comparable")
}

func compareOrdered[T int | float64 | string](op Op, a, b T) bool {
	switch op {
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	default:
		return false
	}
}

func substringMatch(f Filter, value any) (bool, error) {
	vs, ok := value.(string)
	if !ok {
		return false, newFilterError(f, "~= requires a string field")
	}
	needle, ok := f.Value.(string)
	if !ok {
		return false, newFilterError(f, "~= requires a string value")
	}
	return strings.Contains(strings.ToLower(vs), strings.ToLower(needle)), nil
}

func regexMatch(f Filter, value any) (bool, error) {
	vs, ok := value.(string)
	if !ok {
		return false, newFilterError(f, "match requires a string field")
	}
	pattern, ok := f.Value.(string)
	if !ok {
		return false, newFilterError(f, "match requires a string pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, newFilterError(f, "invalid regular expression: "+err.Error())
	}
	return re.MatchString(vs), nil
}

func toSlice(v any) []any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	default:
		return []any{v}
	}
}

func inSet(f Filter, value any, want bool) (bool, error) {
	set := toSlice(f.Value)
	for _, item := range set {
		if looseEqual(value, item) {
			return want, nil
		}
	}
	return !want, nil
}

func containsOne(f Filter, value any, want bool) (bool, error) {
	haystack := toSlice(value)
	for _, item := range haystack {
		if looseEqual(item, f.Value) {
			return want, nil
		}
	}
	return !want, nil
}

func containsAll(f Filter, value any) (bool, error) {
	haystack := toSlice(value)
	needles := toSlice(f.Value)
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if looseEqual(h, n) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func containsAny(f Filter, value any) (bool, error) {
	haystack := toSlice(value)
	needles := toSlice(f.Value)
	for _, n := range needles {
		for _, h := range haystack {
			if looseEqual(h, n) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Matches evaluates a Group (AND of its filters).
func (g Group) Matches(fields Fields) (bool, error) {
	for _, f := range g {
		ok, err := f.Matches(fields)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Matches evaluates a DNF (OR of its AND-groups). An empty DNF matches any
// node, per spec.md §8 boundary behavior ("empty filter list matches any node").
func (d DNF) Matches(fields Fields) (bool, error) {
	if len(d) == 0 {
		return true, nil
	}
	for _, g := range d {
		ok, err := g.Matches(fields)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Spec is the callable form of a DNF filter expression, matching spec.md's
// "a specification can be built from a filter list" derived concept.
type Spec struct {
	dnf DNF
}

// NewSpec builds a Spec from a DNF expression.
func NewSpec(d DNF) Spec {
	return Spec{dnf: d}
}

// IsSatisfiedBy reports whether fields satisfies this specification.
func (s Spec) IsSatisfiedBy(fields Fields) (bool, error) {
	return s.dnf.Matches(fields)
}

// FromGroup builds a single-group (pure conjunctive) DNF expression, the
// common case of a flat filter list supplied over the wire.
func FromGroup(g Group) DNF {
	if len(g) == 0 {
		return DNF{}
	}
	return DNF{g}
}

// ParseDNF decodes a filter expression from its wire/script shape: either a
// flat list of [field, op, value] triples (a single AND-group) or a list of
// such lists (an OR of AND-groups), as produced by JSON decoding or by a
// Feature module's exported `filters` config field. A nil/empty raw value
// parses to an empty DNF, which matches any node.
func ParseDNF(raw any) (DNF, error) {
	if raw == nil {
		return DNF{}, nil
	}
	items := toSlice(raw)
	if len(items) == 0 {
		return DNF{}, nil
	}

	if first := toSlice(items[0]); len(first) > 0 {
		if _, ok := first[0].([]any); ok {
			dnf := make(DNF, 0, len(items))
			for _, group := range items {
				g, err := parseGroup(toSlice(group))
				if err != nil {
					return nil, err
				}
				dnf = append(dnf, g)
			}
			return dnf, nil
		}
	}

	g, err := parseGroup(items)
	if err != nil {
		return nil, err
	}
	return FromGroup(g), nil
}

func parseGroup(items []any) (Group, error) {
	g := make(Group, 0, len(items))
	for _, item := range items {
		triple := toSlice(item)
		if len(triple) != 3 {
			return nil, antboxerrors.BadRequest("filter triple must have exactly 3 elements")
		}
		field, ok := triple[0].(string)
		if !ok {
			return nil, antboxerrors.BadRequest("filter field must be a string")
		}
		op, ok := triple[1].(string)
		if !ok {
			return nil, antboxerrors.BadRequest("filter operator must be a string")
		}
		g = append(g, Filter{Field: field, Op: Op(op), Value: triple[2]})
	}
	return g, nil
}
