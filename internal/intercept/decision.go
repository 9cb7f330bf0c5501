// Package intercept re-issues page requests through an independent HTTP
// client and exposes the asynchronous result through a blocking response
// adapter.
package intercept

import (
	"net/http"
	"net/url"
	"strings"
)

// Decision is the per-request interception outcome.
type Decision int

const (
	// Skip leaves the request to the rendering surface's default handling.
	Skip Decision = iota
	// Intercept re-issues the request through the dispatcher.
	Intercept
)

func (d Decision) String() string {
	if d == Intercept {
		return "intercept"
	}
	return "passthrough"
}

// Request is an intercepted request as seen by the rendering surface.
type Request struct {
	URL        *url.URL
	Method     string
	Header     http.Header
	Body       []byte
	HasGesture bool
	MainFrame  bool
}

// Decide reports whether req should be intercepted. Gesture-initiated
// requests, non-http(s) schemes and requests whose Accept header does not
// mention html are skipped. The Accept test approximates "document fetch":
// a request that accepts only */* is skipped even if it returns HTML.
func Decide(req *Request) Decision {
	if req == nil || req.URL == nil {
		return Skip
	}
	if req.HasGesture {
		return Skip
	}

	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
	default:
		return Skip
	}

	if accept, ok := headerValue(req.Header, "Accept"); ok {
		if !strings.Contains(strings.ToLower(accept), "html") {
			return Skip
		}
	}

	return Intercept
}

// headerValue looks up name case-insensitively, including keys that were
// not canonicalised when the header map was built.
func headerValue(h http.Header, name string) (string, bool) {
	if vs, ok := h[http.CanonicalHeaderKey(name)]; ok {
		return strings.Join(vs, ","), true
	}
	for k, vs := range h {
		if strings.EqualFold(k, name) {
			return strings.Join(vs, ","), true
		}
	}
	return "", false
}
