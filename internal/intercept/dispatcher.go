package intercept

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagehook/internal/cookiejar"
	"github.com/Rorqualx/pagehook/internal/events"
	"github.com/Rorqualx/pagehook/internal/inject"
	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/security"
	"github.com/Rorqualx/pagehook/internal/types"
	"github.com/Rorqualx/pagehook/internal/userscript"
	"github.com/Rorqualx/pagehook/pkg/version"
)

// Defaults applied by NewDispatcher for zero Options fields.
const (
	DefaultMaxPerHost     = 20
	DefaultMaxRedirects   = 10
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 10 * time.Second
	DefaultMaxBodyBytes   = 32 * 1024 * 1024
)

// strippedHeaders are not copied from the intercepted request. The
// transport manages framing and compression itself.
var strippedHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Te":                true,
	"Upgrade":           true,
	"Accept-Encoding":   true,
}

// Options configures a Dispatcher.
type Options struct {
	MaxPerHost     int
	MaxRedirects   int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// WaitTimeout bounds how long a response accessor blocks. Zero waits
	// for the fetch indefinitely.
	WaitTimeout  time.Duration
	MaxBodyBytes int64
	// TLSConfig is used for outbound HTTPS. Nil uses the system roots.
	TLSConfig *tls.Config
}

// ScriptSource supplies the current user script list.
type ScriptSource interface {
	Scripts() []userscript.Script
}

// Result is the tagged outcome of Dispatch. Response is nil when Decision
// is Skip, and the caller falls back to default handling.
type Result struct {
	Decision Decision
	Response *Response
}

// Intercepted reports whether the request was taken over.
func (r Result) Intercepted() bool {
	return r.Decision == Intercept && r.Response != nil
}

// Dispatcher re-issues intercepted requests through its own http.Client.
// It is safe for concurrent use.
type Dispatcher struct {
	client    *http.Client
	transport *http.Transport
	jar       *cookiejar.Jar
	scripts   ScriptSource
	injector  *inject.Injector
	notifier  events.Notifier
	opts      Options

	wg *sync.WaitGroup
}

// NewDispatcher creates a Dispatcher whose client stores and attaches
// cookies through jar and follows HTTP and HTTPS redirects.
func NewDispatcher(opts Options, jar *cookiejar.Jar, scripts ScriptSource, injector *inject.Injector, notifier events.Notifier) *Dispatcher {
	if opts.MaxPerHost <= 0 {
		opts.MaxPerHost = DefaultMaxPerHost
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if jar == nil {
		jar = cookiejar.New()
	}
	if injector == nil {
		injector = inject.New()
	}
	if notifier == nil {
		notifier = events.Nop{}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       opts.TLSConfig,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.MaxPerHost,
		MaxConnsPerHost:       opts.MaxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ExpectContinueTimeout: time.Second,
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			switch strings.ToLower(req.URL.Scheme) {
			case "http", "https":
			default:
				return fmt.Errorf("%w: redirect to %s", errUnsupportedScheme, req.URL.Scheme)
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
			}
			return nil
		},
	}

	return &Dispatcher{
		client:    client,
		transport: transport,
		jar:       jar,
		scripts:   scripts,
		injector:  injector,
		notifier:  notifier,
		opts:      opts,
		wg:        &sync.WaitGroup{},
	}
}

// WithNotifier returns a Dispatcher sharing d's client, jar and scripts but
// reporting failures to n instead.
func (d *Dispatcher) WithNotifier(n events.Notifier) *Dispatcher {
	if n == nil {
		n = events.Nop{}
	}
	clone := *d
	clone.notifier = n
	return &clone
}

// Jar returns the cookie jar shared by every fetch.
func (d *Dispatcher) Jar() *cookiejar.Jar {
	return d.jar
}

// Dispatch decides whether to intercept req and, if so, starts the fetch on
// its own goroutine and returns immediately with an adapter over it.
func (d *Dispatcher) Dispatch(req *Request) Result {
	decision := Decide(req)
	metrics.RecordDecision(decision.String())
	if decision == Skip {
		return Result{Decision: Skip}
	}

	outbound, err := d.buildRequest(req)
	if err != nil {
		// The request cannot be expressed as an outbound fetch; let the
		// rendering surface load it itself.
		log.Debug().Err(err).Str("url", security.RedactURL(req.URL.String())).Msg("Falling back to default handling")
		return Result{Decision: Skip}
	}

	p := newPendingFetch(outbound)
	d.wg.Add(1)
	go d.run(p)

	return Result{
		Decision: Intercept,
		Response: newResponse(p, req.MainFrame, d),
	}
}

func (d *Dispatcher) buildRequest(req *Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	// No cancellation: once dispatched a fetch runs to completion.
	outbound, err := http.NewRequestWithContext(context.Background(), method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNotIntercepted, err)
	}

	jarHasCookies := len(d.jar.Cookies(outbound.URL)) > 0
	for name, values := range req.Header {
		canonical := http.CanonicalHeaderKey(name)
		if strippedHeaders[canonical] {
			continue
		}
		if canonical == "Cookie" && jarHasCookies {
			continue
		}
		for _, v := range values {
			outbound.Header.Add(canonical, v)
		}
	}
	if outbound.Header.Get("User-Agent") == "" {
		outbound.Header.Set("User-Agent", version.UserAgent)
	}

	return outbound, nil
}

func (d *Dispatcher) run(p *PendingFetch) {
	defer d.wg.Done()

	start := time.Now()
	p.markDispatched()
	rawURL := p.request.URL.String()

	resp, err := d.client.Do(p.request)
	if err != nil {
		d.fail(p, rawURL, err, start)
		return
	}
	defer resp.Body.Close()

	limit := d.opts.MaxBodyBytes
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if readErr != nil {
		// Keep what arrived; a truncated document is better than none.
		log.Warn().
			Err(readErr).
			Str("fetch_id", p.ID()).
			Str("url", security.RedactURL(rawURL)).
			Int("bytes", len(body)).
			Msg("Response body read failed, serving partial body")
	}
	if int64(len(body)) > limit {
		body = body[:limit]
		log.Warn().
			Err(types.ErrBodyTruncated).
			Str("fetch_id", p.ID()).
			Str("url", security.RedactURL(rawURL)).
			Int64("limit", limit).
			Msg("Response body truncated")
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	p.complete(fetched{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		header:     resp.Header.Clone(),
		body:       body,
		finalURL:   finalURL,
	}, nil)

	metrics.RecordFetch("ok", time.Since(start))
	metrics.UpdateCookieJarSize(d.jar.Len())

	log.Debug().
		Str("fetch_id", p.ID()).
		Str("url", security.RedactURL(rawURL)).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Fetch completed")
}

func (d *Dispatcher) fail(p *PendingFetch, rawURL string, err error, start time.Time) {
	code := Classify(err)
	ferr := types.NewFetchError(int(code), code.String(), rawURL, err)

	metrics.RecordFetch(code.String(), time.Since(start))

	log.Warn().
		Err(err).
		Str("fetch_id", p.ID()).
		Str("url", security.RedactURL(rawURL)).
		Str("code", code.String()).
		Msg("Fetch failed, serving placeholder")

	// Report before completing so the failure is visible to observers by
	// the time the placeholder reaches the page.
	d.notifier.ResourceError(int(code), ferr.Error(), rawURL)
	p.complete(fetched{}, ferr)
}

// Wait blocks until every dispatched fetch has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight fetches and releases idle connections.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.transport.CloseIdleConnections()
}
