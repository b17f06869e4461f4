// Package endpoint provides the value types shared by gateways, adapters and
// sessions: HTTP methods, wire requests and responses, and the error taxonomy.
package endpoint

import (
	"fmt"
	"strings"
)

// Method is an HTTP verb. The set is closed; see ParseMethod.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// Methods lists every supported method in declaration order.
var Methods = []Method{
	MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions,
}

// ParseMethod parses a method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unsupported HTTP method %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions:
		return true
	}
	return false
}

// CarriesBody reports whether request data travels in the body.
// POST, PUT and PATCH carry a body; every other method sends data as query parameters.
func (m Method) CarriesBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	}
	return false
}

// Idempotent reports whether the method may be safely repeated.
func (m Method) Idempotent() bool {
	return m != MethodPost && m != MethodPatch
}

func (m Method) String() string {
	return string(m)
}
