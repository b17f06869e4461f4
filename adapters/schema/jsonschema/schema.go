// Package jsonschema provides a schema backed by a JSON Schema document.
package jsonschema

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/pkg/jsonvalue"
	"github.com/artpar/apikit/ports"
)

// Schema validates values against a compiled JSON Schema.
// Values are checked, not coerced: Validate returns the generic JSON form of
// its input.
type Schema struct {
	name     string
	compiled *gojsonschema.Schema
	doc      map[string]any
}

// New compiles a schema from raw JSON.
func New(name string, doc []byte) (*Schema, error) {
	parsed, err := jsonvalue.Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema %s: document must be an object", name)
	}
	return compile(name, gojsonschema.NewBytesLoader(doc), m)
}

// NewFromMap compiles a schema from a decoded document (e.g. embedded in YAML).
func NewFromMap(name string, doc map[string]any) (*Schema, error) {
	data, err := jsonvalue.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return New(name, data)
}

// NewFromFile compiles a schema from a file. Relative $refs resolve against
// the file's directory.
func NewFromFile(name, path string) (*Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("schema %s: absolute path: %w", name, err)
	}
	loader := gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs))
	raw, err := loader.LoadJSON()
	if err != nil {
		return nil, fmt.Errorf("schema %s: load %s: %w", name, path, err)
	}
	doc, err := jsonvalue.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema %s: document must be an object", name)
	}
	return compile(name, loader, m)
}

func compile(name string, loader gojsonschema.JSONLoader, doc map[string]any) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled, doc: doc}, nil
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Describe lists the properties of an object schema.
func (s *Schema) Describe() []endpoint.Field {
	props, _ := s.doc["properties"].(map[string]any)
	required := make(map[string]bool)
	if req, ok := s.doc["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]endpoint.Field, 0, len(names))
	for _, n := range names {
		typ := "any"
		if p, ok := props[n].(map[string]any); ok {
			switch t := p["type"].(type) {
			case string:
				typ = t
			case []any:
				parts := make([]string, 0, len(t))
				for _, x := range t {
					parts = append(parts, fmt.Sprint(x))
				}
				typ = strings.Join(parts, "|")
			}
		}
		out = append(out, endpoint.Field{Name: n, Type: typ, Required: required[n]})
	}
	return out
}

// Validate checks value against the schema.
func (s *Schema) Validate(ctx context.Context, value any) (any, error) {
	generic, err := jsonvalue.Normalize(value)
	if err != nil {
		return nil, endpoint.Violations{{Code: endpoint.CodeParseError, Message: err.Error()}}
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, endpoint.Violations{{Code: endpoint.CodeParseError, Message: err.Error()}}
	}
	if !result.Valid() {
		return nil, violations(result.Errors())
	}
	return generic, nil
}

// Serialize returns the generic JSON form of value.
func (s *Schema) Serialize(ctx context.Context, value any) (any, error) {
	generic, err := jsonvalue.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", s.name, err)
	}
	return generic, nil
}

func violations(errs []gojsonschema.ResultError) endpoint.Violations {
	out := make(endpoint.Violations, 0, len(errs))
	for _, e := range errs {
		path := e.Field()
		if path == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
			path = ""
		}
		code := e.Type()
		switch code {
		case "required":
			code = endpoint.CodeRequired
			path = withProperty(path, e.Details())
		case "invalid_type":
			code = endpoint.CodeInvalidType
		case "enum":
			code = endpoint.CodeInvalidEnum
		case "additional_property_not_allowed":
			code = endpoint.CodeUnknownKey
			path = withProperty(path, e.Details())
		}
		out = append(out, endpoint.Violation{
			Path:    path,
			Code:    code,
			Message: e.Description(),
			Value:   e.Value(),
		})
	}
	return out
}

// withProperty appends the offending property to an object path unless the
// path already names it.
func withProperty(path string, details gojsonschema.ErrorDetails) string {
	prop, ok := details["property"].(string)
	if !ok || prop == "" {
		return path
	}
	if path == prop || strings.HasSuffix(path, "."+prop) {
		return path
	}
	if path == "" {
		return prop
	}
	return path + "." + prop
}

// Ensure interface compliance.
var _ ports.Schema = (*Schema)(nil)
