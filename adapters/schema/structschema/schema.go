// Package structschema provides a schema derived from a Go struct type.
//
// Field names come from json tags. A field is required unless it is a
// pointer or its tag carries omitempty.
package structschema

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/pkg/jsonvalue"
	"github.com/artpar/apikit/ports"
)

var timeType = reflect.TypeOf(time.Time{})

type field struct {
	name     string
	typ      string
	required bool
}

// Schema validates values by decoding them into a struct type.
// Validate returns a value of that type (not a pointer).
type Schema struct {
	name   string
	typ    reflect.Type
	fields []field
	strict bool
}

// For derives a schema from T, which must be a struct type.
func For[T any](name string) (*Schema, error) {
	return New(name, reflect.TypeOf((*T)(nil)).Elem())
}

// MustFor is For that panics on error. Intended for package-level declarations.
func MustFor[T any](name string) *Schema {
	s, err := For[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

// New derives a schema from typ. Pointer types are dereferenced.
func New(name string, typ reflect.Type) (*Schema, error) {
	if typ == nil {
		return nil, fmt.Errorf("schema %s: nil type", name)
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema %s: %s is not a struct", name, typ)
	}
	if name == "" {
		name = typ.Name()
	}
	return &Schema{name: name, typ: typ, fields: fieldsOf(typ)}, nil
}

// Strict returns a copy that reports undeclared keys instead of dropping them.
func (s *Schema) Strict() *Schema {
	cp := *s
	cp.strict = true
	return &cp
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Type returns the struct type values are decoded into.
func (s *Schema) Type() reflect.Type { return s.typ }

// Describe lists the struct's JSON fields in declaration order.
func (s *Schema) Describe() []endpoint.Field {
	out := make([]endpoint.Field, len(s.fields))
	for i, f := range s.fields {
		out[i] = endpoint.Field{Name: f.name, Type: f.typ, Required: f.required}
	}
	return out
}

// Validate decodes value into the struct type.
func (s *Schema) Validate(ctx context.Context, value any) (any, error) {
	if v := reflect.ValueOf(value); v.IsValid() {
		if v.Type() == s.typ {
			return value, nil
		}
		if v.Kind() == reflect.Pointer && v.Type().Elem() == s.typ && !v.IsNil() {
			return v.Elem().Interface(), nil
		}
	}

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
	declared := make(map[string]bool, len(s.fields))
	for _, f := range s.fields {
		declared[f.name] = true
		if !f.required {
			continue
		}
		v, present := m[f.name]
		switch {
		case !present:
			vs = append(vs, endpoint.Violation{Path: f.name, Code: endpoint.CodeRequired, Message: "field is required"})
		case v == nil:
			vs = append(vs, endpoint.Violation{Path: f.name, Code: endpoint.CodeInvalidType, Message: "must not be null"})
		}
	}

	clean := make(map[string]any, len(m))
	var unknown []string
	for k, v := range m {
		if declared[k] {
			clean[k] = v
		} else {
			unknown = append(unknown, k)
		}
	}
	if s.strict {
		sort.Strings(unknown)
		for _, k := range unknown {
			vs = append(vs, endpoint.Violation{Path: k, Code: endpoint.CodeUnknownKey, Message: fmt.Sprintf("unknown field '%s'", k)})
		}
	}
	if len(vs) > 0 {
		return nil, vs
	}

	data, err := jsonvalue.Encode(clean)
	if err != nil {
		return nil, endpoint.Violations{{Code: endpoint.CodeParseError, Message: err.Error()}}
	}
	ptr := reflect.New(s.typ)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, endpoint.Violations{decodeViolation(err)}
	}
	return ptr.Elem().Interface(), nil
}

// Serialize encodes value to its generic JSON form with null members dropped.
func (s *Schema) Serialize(ctx context.Context, value any) (any, error) {
	generic, err := jsonvalue.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", s.name, err)
	}
	if m, ok := generic.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			if v != nil {
				out[k] = v
			}
		}
		return out, nil
	}
	return generic, nil
}

func decodeViolation(err error) endpoint.Violation {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return endpoint.Violation{
			Path:    typeErr.Field,
			Code:    endpoint.CodeInvalidType,
			Message: fmt.Sprintf("cannot use %s as %s", typeErr.Value, typeErr.Type),
		}
	}
	// The document was produced by Encode, so any failure is a type mismatch.
	return endpoint.Violation{Code: endpoint.CodeInvalidType, Message: err.Error()}
}

func fieldsOf(typ reflect.Type) []field {
	var out []field
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
			out = append(out, fieldsOf(sf.Type)...)
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out = append(out, field{
			name:     name,
			typ:      typeName(sf.Type),
			required: sf.Type.Kind() != reflect.Pointer && !strings.Contains(opts, "omitempty"),
		})
	}
	return out
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "timestamp"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	}
	return "any"
}

// Ensure interface compliance.
var _ ports.Schema = (*Schema)(nil)
