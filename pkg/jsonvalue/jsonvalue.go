// Package jsonvalue converts Go values to and from the generic JSON value
// model: map[string]any, []any, string, float64, bool and nil.
package jsonvalue

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Normalize converts any JSON-encodable value into the generic model.
// Values already in the generic model all the way down are returned
// unchanged (not copied). []byte and json.RawMessage are treated as
// encoded JSON.
func Normalize(v any) (any, error) {
	if generic(v) {
		return v, nil
	}
	switch x := v.(type) {
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, nil
	case []byte:
		return Decode(x)
	case json.RawMessage:
		return Decode(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return out, nil
}

func generic(v any) bool {
	switch x := v.(type) {
	case nil, string, bool, float64, int, int64:
		return true
	case map[string]any:
		for _, item := range x {
			if !generic(item) {
				return false
			}
		}
		return true
	case []any:
		for _, item := range x {
			if !generic(item) {
				return false
			}
		}
		return true
	}
	return false
}

// Decode parses one JSON document. Trailing data is an error.
func Decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("decode JSON: empty document")
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return out, nil
}

// Encode marshals v as compact JSON.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return data, nil
}

// TypeName names the generic JSON type of v for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
