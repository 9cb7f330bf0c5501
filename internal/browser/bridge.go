package browser

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/pagehook/internal/intercept"
	"github.com/Rorqualx/pagehook/internal/security"
)

// framingHeaders describe the upstream encoding of the body. The adapter
// serves a decoded body, so passing them on would corrupt the response.
var framingHeaders = map[string]bool{
	"content-length":    true,
	"content-encoding":  true,
	"transfer-encoding": true,
}

// Bridge routes every request a page makes through a Dispatcher.
// Passthrough requests continue unchanged; intercepted ones are fulfilled
// from the adapter.
type Bridge struct {
	dispatcher *intercept.Dispatcher
	router     *rod.HijackRouter

	intercepted atomic.Int64
	passthrough atomic.Int64
}

// Attach installs a hijack router on page. Stop must be called before the
// page is closed.
func Attach(page *rod.Page, d *intercept.Dispatcher) (*Bridge, error) {
	b := &Bridge{
		dispatcher: d,
		router:     page.HijackRequests(),
	}
	if err := b.router.Add("*", "", b.handle); err != nil {
		return nil, err
	}
	go b.router.Run()
	return b, nil
}

// Stop removes the router from the page.
func (b *Bridge) Stop() error {
	return b.router.Stop()
}

// Counts returns how many requests were intercepted and passed through.
func (b *Bridge) Counts() (intercepted, passthrough int) {
	return int(b.intercepted.Load()), int(b.passthrough.Load())
}

func (b *Bridge) handle(h *rod.Hijack) {
	req := translateRequest(
		h.Request.Method(),
		h.Request.URL(),
		h.Request.Headers(),
		h.Request.Body(),
		h.Request.IsNavigation(),
	)

	res := b.dispatcher.Dispatch(req)
	if !res.Intercepted() {
		b.passthrough.Add(1)
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}
	b.intercepted.Add(1)

	resp := res.Response
	payload := h.Response.Payload()
	payload.ResponseCode = resp.StatusCode()
	payload.ResponsePhrase = resp.ReasonPhrase()
	payload.ResponseHeaders = fulfilHeaders(resp.Headers())
	payload.Body = resp.BodyBytes()

	log.Debug().
		Str("fetch_id", resp.Fetch().ID()).
		Str("url", security.RedactURL(req.URL.String())).
		Int("status", payload.ResponseCode).
		Bool("injected", resp.Injected()).
		Msg("Fulfilled intercepted request")
}

// translateRequest converts a paused browser request into the pipeline's
// request shape. A document load is main frame unless its destination
// header names a frame.
func translateRequest(method string, u *url.URL, headers proto.NetworkHeaders, body string, navigation bool) *intercept.Request {
	h := make(http.Header, len(headers))
	for name, value := range headers {
		h.Set(name, headerString(value))
	}

	dest := strings.ToLower(h.Get("Sec-Fetch-Dest"))
	req := &intercept.Request{
		URL:        u,
		Method:     method,
		Header:     h,
		HasGesture: h.Get("Sec-Fetch-User") == "?1",
		MainFrame:  navigation && dest != "iframe" && dest != "frame",
	}
	if body != "" {
		req.Body = []byte(body)
	}
	return req
}

// headerString reads a CDP header value. Values are normally strings but
// the protocol does not enforce it.
func headerString(v gson.JSON) string {
	if s, ok := v.Val().(string); ok {
		return s
	}
	return v.String()
}

// fulfilHeaders converts adapter headers to CDP entries, dropping framing
// headers. Output is sorted by name.
func fulfilHeaders(headers map[string]string) []*proto.FetchHeaderEntry {
	out := make([]*proto.FetchHeaderEntry, 0, len(headers))
	for name, value := range headers {
		if framingHeaders[strings.ToLower(name)] {
			continue
		}
		out = append(out, &proto.FetchHeaderEntry{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// navigationErrorCode maps a Chromium net error name to an ErrorCode.
func navigationErrorCode(reason string) intercept.ErrorCode {
	r := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(reason)), "NET::")
	switch {
	case r == "ERR_NAME_NOT_RESOLVED", r == "ERR_NAME_RESOLUTION_FAILED":
		return intercept.ErrorHostLookup
	case r == "ERR_CONNECTION_REFUSED", r == "ERR_CONNECTION_RESET",
		r == "ERR_ADDRESS_UNREACHABLE", r == "ERR_CONNECTION_FAILED",
		r == "ERR_INTERNET_DISCONNECTED":
		return intercept.ErrorConnect
	case r == "ERR_TIMED_OUT", r == "ERR_CONNECTION_TIMED_OUT":
		return intercept.ErrorTimeout
	case strings.HasPrefix(r, "ERR_CERT_"), strings.HasPrefix(r, "ERR_SSL_"):
		return intercept.ErrorFailedSSLHandshake
	case r == "ERR_TOO_MANY_REDIRECTS":
		return intercept.ErrorRedirectLoop
	case r == "ERR_UNKNOWN_URL_SCHEME", r == "ERR_DISALLOWED_URL_SCHEME":
		return intercept.ErrorUnsupportedScheme
	case r == "ERR_INVALID_URL":
		return intercept.ErrorBadURL
	case r == "ERR_EMPTY_RESPONSE", r == "ERR_CONTENT_LENGTH_MISMATCH":
		return intercept.ErrorIO
	default:
		return intercept.ErrorUnknown
	}
}
