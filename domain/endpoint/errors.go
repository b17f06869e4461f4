package endpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Violation codes reported by the shipped schemas.
const (
	CodeRequired      = "required"
	CodeInvalidType   = "invalid_type"
	CodeUnknownKey    = "unknown_key"
	CodeInvalidEnum   = "invalid_enum"
	CodeInvalidFormat = "invalid_format"
	CodeParseError    = "parse_error"
	CodeConstraint    = "constraint"
	CodeSelect        = "select"
)

// Violation is a single field-level validation failure.
type Violation struct {
	Path    string `json:"path"` // dotted path, empty for the root value
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", v.Path, v.Message, v.Code)
}

// Violations is returned by schemas when validation fails.
type Violations []Violation

// Error summarizes the first few violations.
func (vs Violations) Error() string {
	if len(vs) == 0 {
		return "validation failed"
	}
	const maxShown = 3
	n := len(vs)
	if n > maxShown {
		n = maxShown
	}
	parts := make([]string, 0, n+1)
	for _, v := range vs[:n] {
		parts = append(parts, v.String())
	}
	if len(vs) > maxShown {
		parts = append(parts, fmt.Sprintf("... (total %d)", len(vs)))
	}
	return strings.Join(parts, "; ")
}

// AsViolations extracts violations from err. Errors that carry no violation
// list are reported as a single root-level violation with the given code.
func AsViolations(err error, code string) Violations {
	if err == nil {
		return nil
	}
	var vs Violations
	if errors.As(err, &vs) {
		return vs
	}
	return Violations{{Code: code, Message: err.Error()}}
}

// ConfigurationError is returned when a specification cannot produce a gateway.
type ConfigurationError struct {
	Spec    string
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("gateway configuration")
	if e.Spec != "" {
		fmt.Fprintf(&b, " %q", e.Spec)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// ValidationError is returned when a request value fails its schema.
// Nothing has been sent when this error is observed.
type ValidationError struct {
	Violations Violations
}

func (e *ValidationError) Error() string {
	return "request validation: " + e.Violations.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Violations
}

// TransportError wraps any failure of the session.
type TransportError struct {
	Method Method
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is produced by a session whose status policy rejected a response.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, body)
}

// ResponseValidationError is returned when a response body does not satisfy
// the response schema.
type ResponseValidationError struct {
	Status     int
	Body       []byte
	Violations Violations
	Err        error
}

func (e *ResponseValidationError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("response validation (status %d): %s", e.Status, e.Violations.Error())
	}
	return fmt.Sprintf("response validation (status %d): %v", e.Status, e.Err)
}

func (e *ResponseValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Violations
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a request ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsResponseValidation reports whether err is a ResponseValidationError.
func IsResponseValidation(err error) bool {
	var target *ResponseValidationError
	return errors.As(err, &target)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	var rv *ResponseValidationError
	if errors.As(err, &rv) {
		return rv.Status
	}
	return 0
}
