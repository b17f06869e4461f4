package fieldschema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/artpar/apikit/domain/endpoint"
)

// Constraint defines a validation rule for a field.
type Constraint struct {
	// Type is the constraint type (min, max, min_length, max_length, pattern, etc.)
	Type ConstraintType `yaml:"type" json:"type"`

	// Value is the constraint parameter (number, regex pattern, etc.)
	Value any `yaml:"value" json:"value"`

	// Message overrides the default violation message.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// ConstraintType identifies the type of constraint.
type ConstraintType string

const (
	ConstraintMin       ConstraintType = "min"
	ConstraintMax       ConstraintType = "max"
	ConstraintMinLength ConstraintType = "min_length"
	ConstraintMaxLength ConstraintType = "max_length"
	ConstraintPattern   ConstraintType = "pattern"
	ConstraintNotEmpty  ConstraintType = "not_empty"
	ConstraintOneOf     ConstraintType = "one_of"
)

// checkConstraint validates a coerced value against one constraint.
// Misconfigured constraints (wrong parameter type, bad regex) are skipped;
// Validate reports them up front through Check.
func checkConstraint(path string, value any, c Constraint) *endpoint.Violation {
	fail := func(def string, v any) *endpoint.Violation {
		msg := c.Message
		if msg == "" {
			msg = def
		}
		return &endpoint.Violation{Path: path, Code: string(c.Type), Message: msg, Value: v}
	}

	switch c.Type {
	case ConstraintMin, ConstraintMax:
		bound, err := toFloat64(c.Value)
		if err != nil {
			return nil
		}
		val, err := toFloat64(value)
		if err != nil {
			return nil
		}
		if c.Type == ConstraintMin && val < bound {
			return fail(fmt.Sprintf("must be at least %v", bound), value)
		}
		if c.Type == ConstraintMax && val > bound {
			return fail(fmt.Sprintf("must be at most %v", bound), value)
		}

	case ConstraintMinLength, ConstraintMaxLength:
		limit, err := toInt(c.Value)
		if err != nil {
			return nil
		}
		n, ok := length(value)
		if !ok {
			return nil
		}
		if c.Type == ConstraintMinLength && n < limit {
			return fail(fmt.Sprintf("must have at least %d elements or characters", limit), n)
		}
		if c.Type == ConstraintMaxLength && n > limit {
			return fail(fmt.Sprintf("must have at most %d elements or characters", limit), n)
		}

	case ConstraintPattern:
		pattern, ok := c.Value.(string)
		if !ok {
			return nil
		}
		str, ok := value.(string)
		if !ok {
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil
		}
		if !re.MatchString(str) {
			return fail("does not match required pattern", value)
		}

	case ConstraintNotEmpty:
		if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
			return fail("must not be empty", value)
		}

	case ConstraintOneOf:
		allowed := toAnySlice(c.Value)
		if allowed == nil {
			return nil
		}
		got := fmt.Sprintf("%v", value)
		options := make([]string, 0, len(allowed))
		for _, a := range allowed {
			s := fmt.Sprintf("%v", a)
			if s == got {
				return nil
			}
			options = append(options, s)
		}
		return fail(fmt.Sprintf("must be one of: %s", strings.Join(options, ", ")), value)
	}
	return nil
}

// checkConstraintConfig reports a misconfigured constraint.
func checkConstraintConfig(c Constraint) error {
	switch c.Type {
	case ConstraintMin, ConstraintMax:
		if _, err := toFloat64(c.Value); err != nil {
			return fmt.Errorf("%s: %w", c.Type, err)
		}
	case ConstraintMinLength, ConstraintMaxLength:
		if _, err := toInt(c.Value); err != nil {
			return fmt.Errorf("%s: %w", c.Type, err)
		}
	case ConstraintPattern:
		p, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("pattern: value must be a string")
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
	case ConstraintOneOf:
		if toAnySlice(c.Value) == nil {
			return fmt.Errorf("one_of: value must be a list")
		}
	case ConstraintNotEmpty:
	default:
		return fmt.Errorf("unknown constraint type %q", c.Type)
	}
	return nil
}

func length(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return utf8.RuneCountInString(x), true
	case []any:
		return len(x), true
	case map[string]any:
		return len(x), true
	}
	return 0, false
}

func toAnySlice(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	return nil
}

// toFloat64 converts various numeric types to float64.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

// toInt converts various numeric types to int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}
