package gateway

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Selector narrows a decoded response to the part a schema describes.
// Expressions see three variables: body (the decoded JSON document),
// status and headers. For example "body.data" or "body.items[0]".
type Selector struct {
	source  string
	program *vm.Program
}

var selectorOptions = []expr.Option{
	expr.Function("lower", func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("lower requires 1 argument")
		}
		return strings.ToLower(fmt.Sprint(params[0])), nil
	}),
	expr.Function("coalesce", func(params ...any) (any, error) {
		for _, p := range params {
			if p != nil {
				return p, nil
			}
		}
		return nil, nil
	}),
}

// CompileSelector compiles a select expression.
func CompileSelector(source string) (*Selector, error) {
	program, err := expr.Compile(source, selectorOptions...)
	if err != nil {
		return nil, fmt.Errorf("compile select %q: %w", source, err)
	}
	return &Selector{source: source, program: program}, nil
}

// String returns the expression source.
func (s *Selector) String() string { return s.source }

// Apply evaluates the expression against a decoded body.
func (s *Selector) Apply(body any, status int, headers map[string]string) (any, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	out, err := expr.Run(s.program, map[string]any{
		"body":    body,
		"status":  status,
		"headers": headers,
	})
	if err != nil {
		return nil, fmt.Errorf("select %q: %w", s.source, err)
	}
	return out, nil
}
