package intercept

import (
	"bytes"
	"io"
	"mime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/security"
	"github.com/Rorqualx/pagehook/internal/types"
	"github.com/Rorqualx/pagehook/internal/userscript"
)

const (
	defaultEncoding = "utf-8"
	defaultReason   = "ok"
)

// resolved is the immutable view served by every accessor.
type resolved struct {
	statusCode int
	reason     string
	mimeType   string
	encoding   string
	headers    map[string]string
	body       []byte
	finalURL   string
	injected   bool
	timedOut   bool
}

// Response adapts one PendingFetch to a synchronous surface. Every accessor
// blocks until the fetch completes; the result is computed once and all
// later calls, from any goroutine, return the same values.
type Response struct {
	fetch     *PendingFetch
	mainFrame bool
	d         *Dispatcher

	once sync.Once
	res  *resolved
}

func newResponse(p *PendingFetch, mainFrame bool, d *Dispatcher) *Response {
	return &Response{fetch: p, mainFrame: mainFrame, d: d}
}

// Fetch returns the underlying PendingFetch.
func (r *Response) Fetch() *PendingFetch { return r.fetch }

// StatusCode returns the HTTP status, or 504 when the fetch failed.
func (r *Response) StatusCode() int { return r.resolve().statusCode }

// ReasonPhrase returns the status text, or "ok" when there is none.
func (r *Response) ReasonPhrase() string { return r.resolve().reason }

// MIMEType returns the lowercased type/subtype of the Content-Type header,
// or "" when absent.
func (r *Response) MIMEType() string { return r.resolve().mimeType }

// Encoding returns the lowercased charset, defaulting to utf-8.
func (r *Response) Encoding() string { return r.resolve().encoding }

// Headers returns a copy of the response headers keyed by lowercased name.
// When a header repeats, the last value wins.
func (r *Response) Headers() map[string]string {
	h := r.resolve().headers
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Body returns a fresh reader over the (possibly injected) body.
func (r *Response) Body() io.Reader {
	return bytes.NewReader(r.resolve().body)
}

// BodyBytes returns a copy of the (possibly injected) body.
func (r *Response) BodyBytes() []byte {
	return bytes.Clone(r.resolve().body)
}

// URL returns the final URL after redirects, or the requested URL.
func (r *Response) URL() string { return r.resolve().finalURL }

// Injected reports whether scripts were written into the body.
func (r *Response) Injected() bool { return r.resolve().injected }

// TimedOut reports whether the accessor wait bound elapsed before the fetch
// completed. The placeholder is served in that case.
func (r *Response) TimedOut() bool { return r.resolve().timedOut }

func (r *Response) resolve() *resolved {
	r.once.Do(func() {
		slot, ok := r.fetch.wait(r.d.opts.WaitTimeout)
		if !ok {
			log.Warn().
				Err(types.ErrWaitTimeout).
				Str("fetch_id", r.fetch.ID()).
				Dur("timeout", r.d.opts.WaitTimeout).
				Msg("Serving placeholder response")
		}
		r.res = r.build(slot)
		r.res.timedOut = !ok
	})
	return r.res
}

func (r *Response) build(slot fetched) *resolved {
	res := &resolved{
		statusCode: slot.statusCode,
		reason:     reasonPhrase(slot.statusCode, slot.status),
		encoding:   defaultEncoding,
		headers:    make(map[string]string, len(slot.header)),
		body:       slot.body,
		finalURL:   slot.finalURL,
	}
	if res.finalURL == "" {
		res.finalURL = r.fetch.request.URL.String()
	}

	for name, values := range slot.header {
		if len(values) == 0 {
			continue
		}
		res.headers[strings.ToLower(name)] = values[len(values)-1]
	}

	res.mimeType, res.encoding = parseContentType(slot.header.Get("Content-Type"))

	if strings.Contains(res.mimeType, "html") {
		res.body, res.injected = r.inject(slot.body)
	}
	return res
}

func (r *Response) inject(body []byte) ([]byte, bool) {
	var scripts []userscript.Script
	if r.d.scripts != nil {
		scripts = userscript.ForFrame(r.d.scripts.Scripts(), r.mainFrame)
	}
	if len(scripts) == 0 {
		metrics.RecordInjection("skipped")
		return body, false
	}

	out, err := r.d.injector.Inject(body, scripts)
	if err != nil {
		metrics.RecordInjection("error")
		log.Warn().
			Err(err).
			Str("fetch_id", r.fetch.ID()).
			Str("url", security.RedactURL(r.fetch.request.URL.String())).
			Msg("Script injection failed, serving original body")
		return body, false
	}

	metrics.RecordInjection("ok")
	return out, true
}

// reasonPhrase strips the numeric prefix net/http puts on Response.Status.
func reasonPhrase(code int, status string) string {
	reason := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if reason == "" {
		return defaultReason
	}
	return reason
}

// parseContentType returns the lowercased media type and charset. A value
// that does not parse yields an empty media type.
func parseContentType(value string) (mimeType, encoding string) {
	encoding = defaultEncoding
	if strings.TrimSpace(value) == "" {
		return "", encoding
	}

	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		// Keep the type when only the parameters are malformed.
		if i := strings.IndexByte(value, ';'); i >= 0 {
			value = value[:i]
		}
		mediaType = strings.ToLower(strings.TrimSpace(value))
		if !strings.Contains(mediaType, "/") {
			mediaType = ""
		}
		return mediaType, encoding
	}
	if !strings.Contains(mediaType, "/") {
		return "", encoding
	}

	if cs := strings.TrimSpace(params["charset"]); cs != "" {
		encoding = strings.ToLower(cs)
	}
	return mediaType, encoding
}
