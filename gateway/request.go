package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/pkg/jsonvalue"
	"github.com/artpar/apikit/ports"
)

// ContentTypeJSON is the content type of encoded request bodies.
const ContentTypeJSON = "application/json"

// RequestAdapter turns domain values into wire payloads.
// Body-carrying methods (POST, PUT, PATCH) get a JSON body; all others get
// query parameters. Null members are dropped.
type RequestAdapter struct {
	schema ports.Schema
}

// NewRequestAdapter creates a request adapter. A nil schema means pass-through.
func NewRequestAdapter(schema ports.Schema) *RequestAdapter {
	return &RequestAdapter{schema: schema}
}

// Schema returns the adapter's schema, or nil.
func (a *RequestAdapter) Schema() ports.Schema { return a.schema }

// Adapt validates value and encodes it for method.
func (a *RequestAdapter) Adapt(ctx context.Context, method endpoint.Method, value any) (endpoint.Payload, error) {
	if value == nil {
		return endpoint.Payload{}, nil
	}

	if a.schema == nil {
		return encodeRaw(method, value)
	}

	validated, err := a.schema.Validate(ctx, value)
	if err != nil {
		return endpoint.Payload{}, &endpoint.ValidationError{Violations: endpoint.AsViolations(err, endpoint.CodeInvalidType)}
	}
	wire, err := a.schema.Serialize(ctx, validated)
	if err != nil {
		return endpoint.Payload{}, &endpoint.ValidationError{Violations: endpoint.AsViolations(err, endpoint.CodeParseError)}
	}
	return encode(method, wire)
}

func encodeRaw(method endpoint.Method, value any) (endpoint.Payload, error) {
	if method.CarriesBody() {
		switch v := value.(type) {
		case []byte:
			return endpoint.Payload{Body: v, ContentType: ContentTypeJSON}, nil
		case json.RawMessage:
			return endpoint.Payload{Body: v, ContentType: ContentTypeJSON}, nil
		case string:
			return endpoint.Payload{Body: []byte(v), ContentType: ContentTypeJSON}, nil
		}
	} else {
		switch v := value.(type) {
		case url.Values:
			return endpoint.Payload{Query: v}, nil
		case string:
			q, err := url.ParseQuery(strings.TrimPrefix(v, "?"))
			if err != nil {
				return endpoint.Payload{}, invalid(endpoint.CodeParseError, err.Error())
			}
			return endpoint.Payload{Query: q}, nil
		}
	}

	generic, err := jsonvalue.Normalize(value)
	if err != nil {
		return endpoint.Payload{}, invalid(endpoint.CodeParseError, err.Error())
	}
	return encode(method, generic)
}

func encode(method endpoint.Method, wire any) (endpoint.Payload, error) {
	wire = dropNulls(wire)

	if method.CarriesBody() {
		body, err := json.Marshal(wire)
		if err != nil {
			return endpoint.Payload{}, invalid(endpoint.CodeParseError, err.Error())
		}
		return endpoint.Payload{Body: body, ContentType: ContentTypeJSON}, nil
	}

	if wire == nil {
		return endpoint.Payload{}, nil
	}
	m, ok := wire.(map[string]any)
	if !ok {
		return endpoint.Payload{}, invalid(endpoint.CodeInvalidType,
			fmt.Sprintf("%s parameters must be an object, got %s", method, jsonvalue.TypeName(wire)))
	}
	q, err := flatten(m)
	if err != nil {
		return endpoint.Payload{}, invalid(endpoint.CodeParseError, err.Error())
	}
	return endpoint.Payload{Query: q}, nil
}

// flatten renders a mapping as query parameters. Arrays repeat the key;
// nested objects are JSON-encoded.
func flatten(m map[string]any) (url.Values, error) {
	q := make(url.Values, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				if item == nil {
					continue
				}
				s, err := scalar(item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				q.Add(k, s)
			}
		default:
			s, err := scalar(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			q.Set(k, s)
		}
	}
	return q, nil
}

func scalar(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func dropNulls(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = dropNulls(val)
		}
		return out
	}
	return v
}

func invalid(code, msg string) *endpoint.ValidationError {
	return &endpoint.ValidationError{Violations: endpoint.Violations{{Code: code, Message: msg}}}
}

// Ensure interface compliance.
var _ ports.RequestAdapter = (*RequestAdapter)(nil)
