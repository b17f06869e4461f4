package fieldschema

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/pkg/jsonvalue"
	"github.com/artpar/apikit/ports"
)

// UnknownPolicy decides what happens to keys the schema does not declare.
type UnknownPolicy string

const (
	UnknownStrip       UnknownPolicy = "strip"       // drop silently (default)
	UnknownStrict      UnknownPolicy = "strict"      // report a violation
	UnknownPassthrough UnknownPolicy = "passthrough" // keep as-is
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Schema validates mappings against a list of fields.
// A Schema is immutable and safe for concurrent use.
type Schema struct {
	name    string
	fields  []Field
	unknown UnknownPolicy
}

// New creates an object schema with the strip policy for unknown keys.
func New(name string, fields ...Field) *Schema {
	return &Schema{name: name, fields: fields, unknown: UnknownStrip}
}

// WithUnknown returns a copy of the schema using policy p.
func (s *Schema) WithUnknown(p UnknownPolicy) *Schema {
	cp := *s
	if p == "" {
		p = UnknownStrip
	}
	cp.unknown = p
	return &cp
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Check reports definition errors: unknown types, enums without values,
// duplicate names and misconfigured constraints.
func (s *Schema) Check() error {
	switch s.unknown {
	case UnknownStrip, UnknownStrict, UnknownPassthrough:
	default:
		return fmt.Errorf("schema %s: unknown policy %q", s.name, s.unknown)
	}
	return checkFields(s.name, s.fields)
}

func checkFields(path string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		p := joinPath(path, f.Name)
		if f.Name == "" {
			return fmt.Errorf("%s: field without a name", path)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field", p)
		}
		seen[f.Name] = true
		if err := checkField(p, f); err != nil {
			return err
		}
	}
	return nil
}

func checkField(p string, f Field) error {
	if !f.Type.Known() {
		return fmt.Errorf("%s: unknown type %q", p, f.Type)
	}
	if f.Type == TypeEnum && len(f.Values) == 0 {
		return fmt.Errorf("%s: enum requires values", p)
	}
	for _, c := range f.Constraints {
		if err := checkConstraintConfig(c); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if len(f.Fields) > 0 {
		if err := checkFields(p, f.Fields); err != nil {
			return err
		}
	}
	if f.Items != nil {
		if err := checkField(p+"[]", *f.Items); err != nil {
			return err
		}
	}
	return nil
}

// Describe lists the top-level fields.
func (s *Schema) Describe() []endpoint.Field {
	out := make([]endpoint.Field, 0, len(s.fields))
	for _, f := range s.fields {
		t := f.Type
		if t == "" {
			t = TypeAny
		}
		out = append(out, endpoint.Field{Name: f.Name, Type: string(t), Required: f.Required})
	}
	return out
}

// Validate coerces value into a map[string]any holding only declared keys
// (plus undeclared ones under the passthrough policy).
// Structs and other JSON-encodable values are accepted and converted first.
func (s *Schema) Validate(ctx context.Context, value any) (any, error) {
	generic, err := jsonvalue.Normalize(value)
	if err != nil {
		return nil, endpoint.Violations{{Code: endpoint.CodeParseError, Message: err.Error()}}
	}
	m, ok := generic.(map[string]any)
	if !ok {
		return nil, endpoint.Violations{{
			Code:    endpoint.CodeInvalidType,
			Message: fmt.Sprintf("expected object, got %s", jsonvalue.TypeName(generic)),
		}}
	}

	var vs endpoint.Violations
	out := s.object("", s.fields, m, &vs)
	if len(vs) > 0 {
		return nil, vs
	}
	return out, nil
}

// Serialize produces the wire mapping: timestamps become RFC 3339 strings
// and null values are dropped.
func (s *Schema) Serialize(ctx context.Context, value any) (any, error) {
	generic, err := jsonvalue.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", s.name, err)
	}
	return clean(generic), nil
}

func (s *Schema) object(path string, fields []Field, m map[string]any, vs *endpoint.Violations) map[string]any {
	out := make(map[string]any, len(fields))

	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
	}

	// Sorted for deterministic violation order.
	keys := make([]string, 0, len(m))
	for k := range m {
		if !declared[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch s.unknown {
		case UnknownStrict:
			*vs = append(*vs, endpoint.Violation{
				Path:    joinPath(path, k),
				Code:    endpoint.CodeUnknownKey,
				Message: fmt.Sprintf("unknown field '%s' - not defined in schema", k),
			})
		case UnknownPassthrough:
			out[k] = m[k]
		}
	}

	for _, f := range fields {
		p := joinPath(path, f.Name)
		v, present := m[f.Name]

		if !present || v == nil {
			switch {
			case f.Default != nil:
				out[f.Name] = f.Default
			case present && f.Nullable:
				out[f.Name] = nil
			case f.Required && !present:
				*vs = append(*vs, endpoint.Violation{Path: p, Code: endpoint.CodeRequired, Message: "field is required"})
			case f.Required:
				*vs = append(*vs, endpoint.Violation{Path: p, Code: endpoint.CodeInvalidType, Message: "must not be null"})
			}
			continue
		}

		coerced, ok := s.coerce(p, f, v, vs)
		if !ok {
			continue
		}
		failed := false
		for _, c := range f.Constraints {
			if viol := checkConstraint(p, coerced, c); viol != nil {
				*vs = append(*vs, *viol)
				failed = true
			}
		}
		if !failed {
			out[f.Name] = coerced
		}
	}
	return out
}

// coerce converts v to the field's type. It returns false after recording a violation.
func (s *Schema) coerce(p string, f Field, v any, vs *endpoint.Violations) (any, bool) {
	invalid := func(msg string) (any, bool) {
		*vs = append(*vs, endpoint.Violation{Path: p, Code: endpoint.CodeInvalidType, Message: msg, Value: v})
		return nil, false
	}
	badFormat := func(msg string) (any, bool) {
		*vs = append(*vs, endpoint.Violation{Path: p, Code: endpoint.CodeInvalidFormat, Message: msg, Value: v})
		return nil, false
	}

	switch f.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return invalid("must be a string")
		}
		return str, true

	case TypeInt:
		n, ok := asInt(v)
		if !ok {
			return invalid("must be an integer")
		}
		return n, true

	case TypeFloat:
		n, err := toFloat64(v)
		if _, isStr := v.(string); err != nil || isStr {
			return invalid("must be a number")
		}
		return n, true

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return invalid("must be a boolean")
		}
		return b, true

	case TypeTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t, true
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return badFormat("must be an RFC 3339 timestamp")
			}
			return parsed, true
		}
		return invalid("must be a timestamp")

	case TypeEmail:
		str, ok := v.(string)
		if !ok {
			return invalid("must be a string")
		}
		if _, err := mail.ParseAddress(str); err != nil {
			return badFormat("invalid email address")
		}
		return str, true

	case TypeURL:
		str, ok := v.(string)
		if !ok {
			return invalid("must be a string")
		}
		if _, err := url.ParseRequestURI(str); err != nil {
			return badFormat("invalid URL")
		}
		return str, true

	case TypeUUID:
		str, ok := v.(string)
		if !ok {
			return invalid("must be a string")
		}
		if !uuidPattern.MatchString(str) {
			return badFormat("invalid UUID format")
		}
		return str, true

	case TypeEnum:
		str, ok := v.(string)
		if !ok {
			return invalid("must be a string")
		}
		for _, allowed := range f.Values {
			if allowed == str {
				return str, true
			}
		}
		*vs = append(*vs, endpoint.Violation{
			Path: p, Code: endpoint.CodeInvalidEnum, Value: v,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(f.Values, ", ")),
		})
		return nil, false

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return invalid("must be an object")
		}
		if len(f.Fields) == 0 {
			return m, true
		}
		before := len(*vs)
		out := s.object(p, f.Fields, m, vs)
		return out, len(*vs) == before

	case TypeArray, TypeStrings, TypeInts:
		items, ok := v.([]any)
		if !ok {
			return invalid("must be an array")
		}
		item := f.Items
		switch f.Type {
		case TypeStrings:
			item = &Field{Type: TypeString}
		case TypeInts:
			item = &Field{Type: TypeInt}
		}
		if item == nil {
			return items, true
		}
		before := len(*vs)
		out := make([]any, 0, len(items))
		for i, it := range items {
			ip := fmt.Sprintf("%s[%d]", p, i)
			if it == nil {
				if !item.Nullable {
					*vs = append(*vs, endpoint.Violation{Path: ip, Code: endpoint.CodeInvalidType, Message: "must not be null"})
				}
				out = append(out, nil)
				continue
			}
			c, ok := s.coerce(ip, *item, it, vs)
			if ok {
				out = append(out, c)
			}
		}
		return out, len(*vs) == before
	}

	// TypeAny and the empty type accept anything.
	return v, true
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func clean(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if val == nil {
				continue
			}
			out[k] = clean(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = clean(val)
		}
		return out
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return v
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// Ensure interface compliance.
var _ ports.Schema = (*Schema)(nil)
