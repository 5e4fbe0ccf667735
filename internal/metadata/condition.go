package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

// Query operators, named after the REST where-syntax.
const (
	OpEquals           = "equals"
	OpNotEquals        = "not_equals"
	OpIn               = "in"
	OpNotIn            = "not_in"
	OpGreaterThan      = "greater_than"
	OpGreaterThanEqual = "greater_than_equal"
	OpLessThan         = "less_than"
	OpLessThanEqual    = "less_than_equal"
	OpLike             = "like"
	OpExists           = "exists"
)

var operatorAliases = map[string]string{
	"":    OpEquals,
	"eq":  OpEquals,
	"neq": OpNotEquals,
	"gt":  OpGreaterThan,
	"gte": OpGreaterThanEqual,
	"lt":  OpLessThan,
	"lte": OpLessThanEqual,
}

// NormalizeOperator maps short aliases to canonical operator names and
// reports whether the result is a known operator.
func NormalizeOperator(op string) (string, bool) {
	if canonical, ok := operatorAliases[op]; ok {
		op = canonical
	}
	switch op {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpGreaterThan, OpGreaterThanEqual,
		OpLessThan, OpLessThanEqual, OpLike, OpExists:
		return op, true
	}
	return op, false
}

// Condition restricts documents by a (dotted) field path.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// Eq is shorthand for an equals condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Operator: OpEquals, Value: value}
}

// Lookup resolves values by path for condition matching.
type Lookup func(path string) (any, bool)

// MatchAll reports whether every condition holds.
func MatchAll(conds []Condition, lookup Lookup) bool {
	for _, c := range conds {
		if !c.Match(lookup) {
			return false
		}
	}
	return true
}

// Match evaluates the condition against the value found at c.Field. Array values
// match equals/in when any element matches.
func (c Condition) Match(lookup Lookup) bool {
	op, _ := NormalizeOperator(c.Operator)
	val, ok := lookup(c.Field)

	if op == OpExists {
		want := truthy(c.Value)
		return (ok && val != nil) == want
	}
	if !ok {
		return op == OpNotEquals || op == OpNotIn
	}

	if list, isList := val.([]any); isList {
		if op == OpNotEquals || op == OpNotIn {
			for _, item := range list {
				if !matchScalar(op, item, c.Value) {
					return false
				}
			}
			return true
		}
		for _, item := range list {
			if matchScalar(op, item, c.Value) {
				return true
			}
		}
		return false
	}
	return matchScalar(op, val, c.Value)
}

func matchScalar(op string, recordVal, condVal any) bool {
	switch op {
	case OpEquals:
		return equalValues(recordVal, condVal)
	case OpNotEquals:
		return !equalValues(recordVal, condVal)
	case OpIn:
		return valueInList(recordVal, condVal)
	case OpNotIn:
		return !valueInList(recordVal, condVal)
	case OpGreaterThan:
		return CompareValues(recordVal, condVal) > 0
	case OpGreaterThanEqual:
		return CompareValues(recordVal, condVal) >= 0
	case OpLessThan:
		return CompareValues(recordVal, condVal) < 0
	case OpLessThanEqual:
		return CompareValues(recordVal, condVal) <= 0
	case OpLike:
		return strings.Contains(strings.ToLower(fmt.Sprintf("%v", recordVal)), strings.ToLower(fmt.Sprintf("%v", condVal)))
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	fa, okA := ToFloat(a)
	fb, okB := ToFloat(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func valueInList(val, list any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if equalValues(val, item) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if equalValues(val, item) {
				return true
			}
		}
	case string:
		for _, item := range strings.Split(l, ",") {
			if equalValues(val, strings.TrimSpace(item)) {
				return true
			}
		}
	}
	return false
}

// CompareValues orders two values numerically when both are numbers, otherwise
// lexically by their string form.
func CompareValues(a, b any) int {
	fa, okA := ToFloat(a)
	fb, okB := ToFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

// ToFloat converts numeric values (and numeric strings) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	default:
		return v != nil
	}
}

// LookupPath walks a dotted path through nested maps and arrays
// ("socialLinks.0.url", "logo.id"). A non-numeric segment applied to an array
// collects that key from every element ("socialLinks.platform").
func LookupPath(fields map[string]any, path string) (any, bool) {
	return lookupParts(fields, strings.Split(path, "."))
}

func lookupParts(cur any, parts []string) (any, bool) {
	for i, part := range parts {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err == nil {
				if idx < 0 || idx >= len(node) {
					return nil, false
				}
				cur = node[idx]
				continue
			}
			var out []any
			for _, elem := range node {
				if v, ok := lookupParts(elem, parts[i:]); ok {
					if list, isList := v.([]any); isList {
						out = append(out, list...)
					} else {
						out = append(out, v)
					}
				}
			}
			if len(out) == 0 {
				return nil, false
			}
			return out, true
		default:
			return nil, false
		}
	}
	return cur, true
}
