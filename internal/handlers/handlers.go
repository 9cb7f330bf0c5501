// Package handlers provides the HTTP handlers for the pagehook API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagehook/internal/browser"
	"github.com/Rorqualx/pagehook/internal/config"
	"github.com/Rorqualx/pagehook/internal/cookiejar"
	"github.com/Rorqualx/pagehook/internal/intercept"
	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/security"
	"github.com/Rorqualx/pagehook/internal/types"
	"github.com/Rorqualx/pagehook/internal/userscript"
	"github.com/Rorqualx/pagehook/pkg/version"
)

// maxBodySize bounds the JSON request body.
const maxBodySize = 1 << 20

// ScriptStore is the script configuration the API lists and reloads.
type ScriptStore interface {
	Scripts() []userscript.Script
	Reload() error
}

// Handler handles all pagehook API requests.
type Handler struct {
	dispatcher *intercept.Dispatcher
	scripts    ScriptStore
	renderer   *browser.Renderer // nil when rendering is disabled
	config     *config.Config
}

// New creates a new Handler. renderer may be nil, in which case page.render
// reports that rendering is disabled.
func New(d *intercept.Dispatcher, scripts ScriptStore, renderer *browser.Renderer, cfg *config.Config) *Handler {
	return &Handler{
		dispatcher: d,
		scripts:    scripts,
		renderer:   renderer,
		config:     cfg,
	}
}

// ServeHTTP serves GET /health and POST commands on any other path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.URL.Path == "/health" {
		h.handleHealth(w, startTime)
		return
	}

	if r.Method != http.MethodPost {
		h.writeErrorWithStatus(w, http.StatusMethodNotAllowed, "Method not allowed", startTime)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, "Failed to read request", startTime)
		return
	}

	var req types.Request
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, "Invalid JSON request", startTime)
		return
	}

	log.Info().
		Str("cmd", req.Cmd).
		Str("url", security.RedactURL(req.URL)).
		Msg("Request received")

	h.routeCommand(w, r, &req, startTime)
}

func (h *Handler) handleHealth(w http.ResponseWriter, startTime time.Time) {
	msg := "pagehook is ready"
	if h.renderer == nil {
		msg = "pagehook is ready (rendering disabled)"
	}
	h.writeJSONResponse(w, http.StatusOK, h.newResponse(types.StatusOK, msg, startTime))
}

// timeout returns the effective deadline for a request.
func (h *Handler) timeout(req *types.Request) time.Duration {
	timeout := h.config.DefaultTimeout
	if req.MaxTimeout > 0 {
		timeout = time.Duration(req.MaxTimeout) * time.Millisecond
		if h.config.MaxTimeout > 0 && timeout > h.config.MaxTimeout {
			timeout = h.config.MaxTimeout
		}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return timeout
}

// handleFetch runs one request through the interception pipeline and
// returns what the rendering surface would have been served.
func (h *Handler) handleFetch(ctx context.Context, req *types.Request, startTime time.Time) (*types.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := security.ValidateHeaders(req.Headers); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}

	header := make(http.Header, len(req.Headers))
	for name, value := range req.Headers {
		header.Set(name, value)
	}
	ir := &intercept.Request{
		URL:        u,
		Method:     req.Method,
		Header:     header,
		HasGesture: req.Gesture,
		MainFrame:  req.IsMainFrame(),
	}
	if req.PostData != "" {
		ir.Body = []byte(req.PostData)
	}
	log.Debug().
		Str("url", security.RedactURL(req.URL)).
		Interface("headers", security.RedactHeaders(header)).
		Bool("main_frame", ir.MainFrame).
		Msg("Dispatching fetch")

	res := h.dispatcher.Dispatch(ir)
	if !res.Intercepted() {
		return nil, fmt.Errorf("%w: decision was %s", types.ErrNotIntercepted, res.Decision)
	}

	resp := res.Response
	timer := time.NewTimer(h.timeout(req))
	defer timer.Stop()
	select {
	case <-resp.Fetch().Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", types.ErrWaitTimeout, h.timeout(req))
	}

	result := &types.FetchResult{
		URL:         resp.URL(),
		Intercepted: true,
		Status:      resp.StatusCode(),
		Reason:      resp.ReasonPhrase(),
		MIMEType:    resp.MIMEType(),
		Encoding:    resp.Encoding(),
		Headers:     resp.Headers(),
		Response:    string(resp.BodyBytes()),
		Injected:    resp.Injected(),
	}
	var ferr *types.FetchError
	if errors.As(resp.Fetch().Err(), &ferr) {
		result.Error = &types.ResourceError{Code: ferr.Code, Description: ferr.Message, URL: ferr.URL}
	}

	out := h.newResponse(types.StatusOK, "Request fetched", startTime)
	if result.Error != nil {
		out.Message = "Fetch failed, placeholder served"
	}
	out.Fetch = result
	return out, nil
}

func (h *Handler) handleRender(ctx context.Context, req *types.Request, startTime time.Time) (*types.Response, error) {
	if h.renderer == nil {
		return nil, types.ErrRenderingDisabled
	}

	result, err := h.renderer.Render(ctx, req.URL, h.timeout(req))
	if err != nil {
		if result == nil {
			return nil, err
		}
		out := h.newResponse(types.StatusError, err.Error(), startTime)
		out.Render = result
		return out, nil
	}

	out := h.newResponse(types.StatusOK, "Page rendered", startTime)
	out.Render = result
	return out, nil
}

func (h *Handler) handleCookiesGet(req *types.Request, startTime time.Time) (*types.Response, error) {
	jar := h.dispatcher.Jar()

	var stored []cookiejar.StoredCookie
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		origin := cookiejar.OriginHTTP
		if req.Origin == types.OriginScript {
			origin = cookiejar.OriginScript
		}
		stored = jar.Retrieve(u, origin)
	} else {
		stored = jar.All()
	}

	out := h.newResponse(types.StatusOK, fmt.Sprintf("%d cookies", len(stored)), startTime)
	out.Cookies = toAPICookies(stored)
	return out, nil
}

func (h *Handler) handleCookiesSet(req *types.Request, startTime time.Time) (*types.Response, error) {
	if len(req.Cookies) == 0 {
		return nil, fmt.Errorf("%w: cookies are required", types.ErrInvalidRequest)
	}
	jar := h.dispatcher.Jar()
	n := jar.Set(fromAPICookies(req.Cookies))
	metrics.UpdateCookieJarSize(jar.Len())

	return h.newResponse(types.StatusOK, fmt.Sprintf("Stored %d cookies", n), startTime), nil
}

func (h *Handler) handleCookiesClear(startTime time.Time) (*types.Response, error) {
	jar := h.dispatcher.Jar()
	jar.Clear()
	metrics.UpdateCookieJarSize(0)
	return h.newResponse(types.StatusOK, "Cookies cleared", startTime), nil
}

func (h *Handler) handleScriptsList(startTime time.Time) (*types.Response, error) {
	scripts := h.scripts.Scripts()
	out := h.newResponse(types.StatusOK, fmt.Sprintf("%d scripts", len(scripts)), startTime)
	out.Scripts = toScriptInfo(scripts)
	return out, nil
}

func (h *Handler) handleScriptsReload(startTime time.Time) (*types.Response, error) {
	if err := h.scripts.Reload(); err != nil {
		if errors.Is(err, types.ErrScriptsNotReloaded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrScriptsNotReloaded, err)
	}
	scripts := h.scripts.Scripts()
	out := h.newResponse(types.StatusOK, fmt.Sprintf("Reloaded %d scripts", len(scripts)), startTime)
	out.Scripts = toScriptInfo(scripts)
	return out, nil
}

func toAPICookies(stored []cookiejar.StoredCookie) []types.Cookie {
	out := make([]types.Cookie, 0, len(stored))
	for _, c := range stored {
		cookie := types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			HostOnly: c.HostOnly,
			Session:  c.Session(),
		}
		if !cookie.Session {
			cookie.Expires = float64(c.ExpiresAt.Unix())
		}
		out = append(out, cookie)
	}
	return out
}

func fromAPICookies(cookies []types.Cookie) []cookiejar.StoredCookie {
	out := make([]cookiejar.StoredCookie, 0, len(cookies))
	for _, c := range cookies {
		stored := cookiejar.StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			HostOnly: c.HostOnly,
		}
		if c.Expires > 0 && !c.Session {
			stored.ExpiresAt = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, stored)
	}
	return out
}

func toScriptInfo(scripts []userscript.Script) []types.ScriptInfo {
	out := make([]types.ScriptInfo, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, types.ScriptInfo{
			Source:        s.Source(),
			InjectionTime: s.InjectionTime().String(),
			MainFrameOnly: s.MainFrameOnly(),
		})
	}
	return out
}

func (h *Handler) newResponse(status, message string, startTime time.Time) *types.Response {
	return &types.Response{
		Status:    status,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
}

// writeError writes an error response. Errors are reported with HTTP 200
// and status "error" in the body.
func (h *Handler) writeError(w http.ResponseWriter, message string, startTime time.Time) {
	h.writeErrorWithStatus(w, http.StatusOK, message, startTime)
}

func (h *Handler) writeErrorWithStatus(w http.ResponseWriter, statusCode int, message string, startTime time.Time) {
	h.writeJSONResponse(w, statusCode, h.newResponse(types.StatusError, message, startTime))
}

// writeJSONResponse encodes into a buffer first so encoding errors are
// caught before headers are sent.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}
