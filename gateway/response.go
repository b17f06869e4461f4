package gateway

import (
	"context"
	"errors"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/pkg/jsonvalue"
	"github.com/artpar/apikit/ports"
)

// ResponseAdapter turns raw responses into domain values.
// Without a schema or selector the raw endpoint.Response is returned as-is.
type ResponseAdapter struct {
	schema   ports.Schema
	selector *Selector
}

// NewResponseAdapter creates a response adapter. selectExpr may be empty.
func NewResponseAdapter(schema ports.Schema, selectExpr string) (*ResponseAdapter, error) {
	a := &ResponseAdapter{schema: schema}
	if selectExpr != "" {
		sel, err := CompileSelector(selectExpr)
		if err != nil {
			return nil, err
		}
		a.selector = sel
	}
	return a, nil
}

// Schema returns the adapter's schema, or nil.
func (a *ResponseAdapter) Schema() ports.Schema { return a.schema }

// Adapt decodes, narrows and validates resp.
func (a *ResponseAdapter) Adapt(ctx context.Context, resp endpoint.Response) (any, error) {
	if a.schema == nil && a.selector == nil {
		return resp, nil
	}

	decoded, err := jsonvalue.Decode(resp.Body)
	if err != nil {
		return nil, &endpoint.ResponseValidationError{
			Status:     resp.Status,
			Body:       resp.Body,
			Violations: endpoint.Violations{{Code: endpoint.CodeParseError, Message: err.Error()}},
			Err:        err,
		}
	}

	if a.selector != nil {
		decoded, err = a.selector.Apply(decoded, resp.Status, resp.Headers)
		if err != nil {
			return nil, &endpoint.ResponseValidationError{
				Status:     resp.Status,
				Body:       resp.Body,
				Violations: endpoint.Violations{{Code: endpoint.CodeSelect, Message: err.Error()}},
				Err:        err,
			}
		}
	}

	if a.schema == nil {
		return decoded, nil
	}

	value, err := a.schema.Validate(ctx, decoded)
	if err != nil {
		rv := &endpoint.ResponseValidationError{
			Status:     resp.Status,
			Body:       resp.Body,
			Violations: endpoint.AsViolations(err, endpoint.CodeInvalidType),
		}
		var vs endpoint.Violations
		if !errors.As(err, &vs) {
			rv.Err = err
		}
		return nil, rv
	}
	return value, nil
}

// Ensure interface compliance.
var _ ports.ResponseAdapter = (*ResponseAdapter)(nil)
