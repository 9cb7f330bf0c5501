// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is().
var (
	// Interception errors
	ErrNotIntercepted = errors.New("request not eligible for interception")
	ErrFetchFailed    = errors.New("fetch failed")
	ErrWaitTimeout    = errors.New("timed out waiting for fetch")
	ErrBodyTruncated  = errors.New("response body exceeded size limit")

	// Injection errors
	ErrHTMLParse  = errors.New("failed to parse HTML")
	ErrHTMLRender = errors.New("failed to render HTML")
	ErrNoHead     = errors.New("document has no head element")

	// Browser errors
	ErrBrowserPoolClosed   = errors.New("browser pool is closed")
	ErrBrowserPoolTimeout  = errors.New("timeout waiting for browser from pool")
	ErrBrowserUnhealthy    = errors.New("browser is unhealthy")
	ErrRenderingDisabled   = errors.New("page rendering is disabled (BROWSER_POOL_SIZE=0)")
	ErrNavigationFailed    = errors.New("navigation failed")
	ErrScriptsNotReloaded  = errors.New("scripts file could not be reloaded")
	ErrCookieDomainMissing = errors.New("cookie domain is required")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrURLRequired    = errors.New("url is required")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// FetchError describes a failed outbound fetch. Code is one of the
// intercept error codes; it is kept numeric here so the type has no
// dependency on the intercept package.
type FetchError struct {
	Code    int
	Kind    string
	URL     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a FetchError wrapping both err and ErrFetchFailed.
func NewFetchError(code int, kind, url string, err error) *FetchError {
	msg := "fetch failed (" + kind + ")"
	if err != nil {
		msg += ": " + err.Error()
	}
	return &FetchError{
		Code:    code,
		Kind:    kind,
		URL:     url,
		Message: msg,
		Err:     errors.Join(ErrFetchFailed, err),
	}
}
