package cache

// Filter operators.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpGt  = "gt"
	OpLt  = "lt"
	OpGte = "gte"
	OpLte = "lte"
)

// Condition is one field comparison of a cache filter.
type Condition struct {
	Field string
	Op    string
	Value any
}

// Filter is a conjunction of conditions over a cached element's fields.
type Filter []Condition

// Matches reports whether every condition holds for the element.
func (f Filter) Matches(el map[string]any) bool {
	for _, cond := range f {
		if !cond.matches(el) {
			return false
		}
	}
	return true
}

func (c Condition) matches(el map[string]any) bool {
	actual, ok := el[c.Field]
	if !ok {
		return false
	}

	expected, err := normalize(c.Value)
	if err != nil {
		return false
	}

	switch c.Op {
	case OpEq:
		return equal(actual, expected)
	case OpNe:
		return !equal(actual, expected)
	case OpGt, OpLt, OpGte, OpLte:
		cmp, ok := compare(actual, expected)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpLt:
			return cmp < 0
		case OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return a == nil && b == nil
}

// compare orders two JSON scalars of the same kind. Only numbers and strings
// are ordered.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}
