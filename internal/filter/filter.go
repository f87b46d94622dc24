// Package filter defines the typed predicate algebra the targeting engine
// emits and the index adapter consumes.
package filter

import "fmt"

// Op is a field predicate operator.
type Op string

const (
	// OpEquals matches a scalar payload value.
	OpEquals Op = "equals"
	// OpAnyOf matches when the payload value (scalar or list) contains any
	// of the listed values.
	OpAnyOf Op = "any_of"
	// OpAllOf matches when the payload list contains every listed value.
	OpAllOf Op = "all_of"
	// OpNotEquals is the negation of OpEquals.
	OpNotEquals Op = "not_equals"
	// OpNotIn is the negation of OpAnyOf.
	OpNotIn Op = "not_in"
)

// ParseOp validates an operator string. Unknown operators are rejected at
// construction, not at query time.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpEquals, OpAnyOf, OpAllOf, OpNotEquals, OpNotIn:
		return Op(s), nil
	default:
		return "", fmt.Errorf("filter: unknown operator %q", s)
	}
}

// Predicate is a single typed condition on a payload field. Value holds the
// scalar for equals/not_equals; Values holds the list for the list ops.
type Predicate struct {
	Field  string
	Op     Op
	Value  string
	Values []string
}

// Eq builds an equals predicate.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Op: OpEquals, Value: value}
}

// AnyOf builds an any_of predicate.
func AnyOf(field string, values ...string) Predicate {
	return Predicate{Field: field, Op: OpAnyOf, Values: values}
}

// AllOf builds an all_of predicate.
func AllOf(field string, values ...string) Predicate {
	return Predicate{Field: field, Op: OpAllOf, Values: values}
}

// NotEq builds a not_equals predicate.
func NotEq(field, value string) Predicate {
	return Predicate{Field: field, Op: OpNotEquals, Value: value}
}

// NotIn builds a not_in predicate.
func NotIn(field string, values ...string) Predicate {
	return Predicate{Field: field, Op: OpNotIn, Values: values}
}

// Expression is a conjunction of predicates: every Must predicate holds and
// no MustNot predicate holds. An empty expression means "no filter".
type Expression struct {
	Must    []Predicate
	MustNot []Predicate
}

// Empty reports whether the expression imposes no conditions.
func (e Expression) Empty() bool {
	return len(e.Must) == 0 && len(e.MustNot) == 0
}
