package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxCmdLength          = 64
	MaxURLLength          = 8192
	MaxMethodLength       = 16
	MaxTimeoutMs          = 600000 // 10 minutes in milliseconds
	MaxCookies            = 100
	MaxCookieNameLength   = 256
	MaxCookieValueLength  = 4096
	MaxCookieDomainLength = 256
	MaxCookiePathLength   = 2048
	MaxPostDataLength     = 256 * 1024 // 256KB
	MaxHeaders            = 50
	MaxHeaderNameLength   = 256
	MaxHeaderValueLength  = 8192
)

// Request represents an incoming API request.
type Request struct {
	Cmd        string            `json:"cmd"`
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	PostData   string            `json:"postData,omitempty"`
	MaxTimeout int               `json:"maxTimeout,omitempty"`
	MainFrame  *bool             `json:"mainFrame,omitempty"` // request.fetch only; nil means true
	Gesture    bool              `json:"userGesture,omitempty"`
	Cookies    []Cookie          `json:"cookies,omitempty"`
	Origin     string            `json:"origin,omitempty"` // cookies.get: "http" (default) or "script"
}

// IsMainFrame reports whether the request targets the main frame.
func (r *Request) IsMainFrame() bool {
	return r.MainFrame == nil || *r.MainFrame
}

// Validate validates the request and returns an error if invalid.
func (r *Request) Validate() error {
	if r.Cmd == "" {
		return fmt.Errorf("cmd is required")
	}
	if len(r.Cmd) > MaxCmdLength {
		return fmt.Errorf("cmd exceeds maximum length of %d", MaxCmdLength)
	}

	switch r.Cmd {
	case CmdRequestFetch, CmdPageRender:
		if r.URL == "" {
			return ErrURLRequired
		}
	case CmdCookiesGet, CmdCookiesSet, CmdCookiesClear, CmdScriptsList, CmdScriptsReload:
	default:
		// %q keeps control characters out of logs
		return fmt.Errorf("Unknown command: %q", r.Cmd)
	}

	if r.URL != "" {
		if len(r.URL) > MaxURLLength {
			return fmt.Errorf("url exceeds maximum length of %d", MaxURLLength)
		}
		u, err := url.Parse(r.URL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		// request.fetch accepts any scheme so non-http URLs reach the
		// interception decision and are reported as passthrough.
		if r.Cmd != CmdRequestFetch {
			scheme := strings.ToLower(u.Scheme)
			if scheme != "http" && scheme != "https" {
				return fmt.Errorf("url scheme must be http or https, got: %s", scheme)
			}
		}
	}

	if len(r.Method) > MaxMethodLength {
		return fmt.Errorf("method exceeds maximum length of %d", MaxMethodLength)
	}

	if r.MaxTimeout < 0 {
		return fmt.Errorf("maxTimeout cannot be negative")
	}
	if r.MaxTimeout > MaxTimeoutMs {
		return fmt.Errorf("maxTimeout exceeds maximum of %d ms", MaxTimeoutMs)
	}

	switch r.Origin {
	case "", OriginHTTP, OriginScript:
	default:
		return fmt.Errorf("origin must be %q or %q", OriginHTTP, OriginScript)
	}

	if len(r.Cookies) > MaxCookies {
		return fmt.Errorf("too many cookies (maximum %d)", MaxCookies)
	}
	for i, cookie := range r.Cookies {
		if cookie.Name == "" {
			return fmt.Errorf("cookie[%d]: name is required", i)
		}
		if cookie.Domain == "" {
			return fmt.Errorf("cookie[%d]: %w", i, ErrCookieDomainMissing)
		}
		if len(cookie.Name) > MaxCookieNameLength {
			return fmt.Errorf("cookie[%d]: name exceeds maximum length of %d", i, MaxCookieNameLength)
		}
		if len(cookie.Value) > MaxCookieValueLength {
			return fmt.Errorf("cookie[%d]: value exceeds maximum length of %d", i, MaxCookieValueLength)
		}
		if len(cookie.Domain) > MaxCookieDomainLength {
			return fmt.Errorf("cookie[%d]: domain exceeds maximum length of %d", i, MaxCookieDomainLength)
		}
		if len(cookie.Path) > MaxCookiePathLength {
			return fmt.Errorf("cookie[%d]: path exceeds maximum length of %d", i, MaxCookiePathLength)
		}
		if strings.Contains(cookie.Path, "..") {
			return fmt.Errorf("cookie[%d]: path cannot contain '..'", i)
		}
	}

	if len(r.PostData) > MaxPostDataLength {
		return fmt.Errorf("postData exceeds maximum length of %d", MaxPostDataLength)
	}

	if len(r.Headers) > MaxHeaders {
		return fmt.Errorf("too many headers (maximum %d)", MaxHeaders)
	}
	for name, value := range r.Headers {
		if len(name) > MaxHeaderNameLength {
			return fmt.Errorf("header name exceeds maximum length of %d", MaxHeaderNameLength)
		}
		if len(value) > MaxHeaderValueLength {
			return fmt.Errorf("header value exceeds maximum length of %d", MaxHeaderValueLength)
		}
	}

	return nil
}

// Response represents an API response.
type Response struct {
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	StartTime int64         `json:"startTimestamp"`
	EndTime   int64         `json:"endTimestamp"`
	Version   string        `json:"version"`
	Fetch     *FetchResult  `json:"fetch,omitempty"`
	Render    *RenderResult `json:"render,omitempty"`
	Cookies   []Cookie      `json:"cookies,omitempty"`
	Scripts   []ScriptInfo  `json:"scripts,omitempty"`
}

// FetchResult is the outcome of request.fetch.
type FetchResult struct {
	URL         string            `json:"url"`
	Intercepted bool              `json:"intercepted"`
	Status      int               `json:"status"`
	Reason      string            `json:"reason"`
	MIMEType    string            `json:"mimeType"`
	Encoding    string            `json:"encoding"`
	Headers     map[string]string `json:"headers"`
	Response    string            `json:"response"`
	Injected    bool              `json:"injected,omitempty"`
	Error       *ResourceError    `json:"error,omitempty"`
}

// RenderResult is the outcome of page.render.
type RenderResult struct {
	URL         string          `json:"url"`
	Response    string          `json:"response"`
	Intercepted int             `json:"intercepted"`
	Passthrough int             `json:"passthrough"`
	Errors      []ResourceError `json:"errors,omitempty"`
}

// ResourceError reports a failed resource load.
type ResourceError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Cookie represents a jar cookie on the wire. Expires is Unix seconds and
// is omitted for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	HostOnly bool    `json:"hostOnly,omitempty"`
	Session  bool    `json:"session,omitempty"`
}

// ScriptInfo describes a configured user script.
type ScriptInfo struct {
	Source        string `json:"source"`
	InjectionTime string `json:"injectionTime"`
	MainFrameOnly bool   `json:"mainFrameOnly"`
}

// Commands supported by the API.
const (
	CmdRequestFetch  = "request.fetch"
	CmdPageRender    = "page.render"
	CmdCookiesGet    = "cookies.get"
	CmdCookiesSet    = "cookies.set"
	CmdCookiesClear  = "cookies.clear"
	CmdScriptsList   = "scripts.list"
	CmdScriptsReload = "scripts.reload"
)

// Status values for API responses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Cookie origins accepted by cookies.get.
const (
	OriginHTTP   = "http"
	OriginScript = "script"
)
