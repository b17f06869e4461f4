package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// IsAbsoluteURL reports whether raw has both a scheme and a host.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// ResolveURL computes the effective URL of an endpoint.
// An absolute target is returned unchanged and base is ignored. A relative
// target is appended to base with exactly one slash between them. It is an
// error for both to be non-absolute.
func ResolveURL(base, target string) (string, error) {
	if IsAbsoluteURL(target) {
		return target, nil
	}
	if !IsAbsoluteURL(base) {
		return "", fmt.Errorf("url %q is relative and base_url %q is not an absolute URL", target, base)
	}
	if target == "" {
		return base, nil
	}
	if strings.HasPrefix(target, "?") {
		return base + target, nil
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(target, "/"), nil
}
