package endpoint

import (
	"net/url"
)

// Payload is the wire form produced by a request adapter (value type).
type Payload struct {
	Body        []byte
	ContentType string
	Query       url.Values
}

// Empty reports whether the payload carries nothing.
func (p Payload) Empty() bool {
	return len(p.Body) == 0 && len(p.Query) == 0
}

// Request is a fully prepared request handed to a session (value type).
type Request struct {
	Method  Method
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// NewRequest assembles a request from a payload.
// Headers are copied; the payload content type wins over a caller-supplied one.
func NewRequest(method Method, rawURL string, headers map[string]string, p Payload) Request {
	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}
	if p.ContentType != "" && len(p.Body) > 0 {
		h["Content-Type"] = p.ContentType
	}
	return Request{
		Method:  method,
		URL:     rawURL,
		Query:   p.Query,
		Headers: h,
		Body:    p.Body,
	}
}

// FullURL returns the URL with the query parameters merged in.
func (r Request) FullURL() (string, error) {
	if len(r.Query) == 0 {
		return r.URL, nil
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range r.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Response is a raw response returned by a session (value type).
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte

	// Metadata
	URL       string
	LatencyMs int64
	RequestID string
}

// OK reports whether the status is in the 2xx range.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Field describes one field of a schema.
type Field struct {
	Name     string
	Type     string
	Required bool
}
