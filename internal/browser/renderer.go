package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagehook/internal/events"
	"github.com/Rorqualx/pagehook/internal/intercept"
	"github.com/Rorqualx/pagehook/internal/security"
	"github.com/Rorqualx/pagehook/internal/types"
)

// Renderer loads pages in pooled browsers with the interception bridge
// attached.
type Renderer struct {
	pool       *Pool
	dispatcher *intercept.Dispatcher
	stealth    bool
}

// NewRenderer creates a Renderer. When stealthEnabled is set pages are
// created with go-rod/stealth evasions applied.
func NewRenderer(pool *Pool, d *intercept.Dispatcher, stealthEnabled bool) *Renderer {
	return &Renderer{pool: pool, dispatcher: d, stealth: stealthEnabled}
}

// Render navigates to target and returns the resulting document. Resource
// errors seen during the load, including a failed navigation, are returned
// in the result. A failed navigation also returns an error wrapping
// types.ErrNavigationFailed alongside the partial result.
func (r *Renderer) Render(ctx context.Context, target string, timeout time.Duration) (*types.RenderResult, error) {
	browser, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(browser)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	recorder := events.NewRecorder()
	notifier := events.Multi{events.LogNotifier{}, recorder}
	d := r.dispatcher.WithNotifier(notifier)

	page, err := r.newPage(browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close page")
		}
	}()
	loading := page.Context(ctx)

	bridge, err := Attach(loading, d)
	if err != nil {
		return nil, fmt.Errorf("failed to attach interception: %w", err)
	}
	defer func() {
		if err := bridge.Stop(); err != nil {
			log.Debug().Err(err).Msg("Failed to stop hijack router")
		}
	}()

	result := &types.RenderResult{URL: target}
	notifier.PageStarted(target)

	navErr := loading.Navigate(target)
	if navErr == nil {
		navErr = loading.WaitLoad()
	}
	result.Intercepted, result.Passthrough = bridge.Counts()

	if navErr != nil {
		code := intercept.ErrorUnknown
		var ne *rod.NavigationError
		switch {
		case errors.As(navErr, &ne):
			code = navigationErrorCode(ne.Reason)
		case errors.Is(navErr, context.DeadlineExceeded):
			code = intercept.ErrorTimeout
		}
		notifier.ResourceError(int(code), navErr.Error(), target)
		result.Errors = recorder.Errors()
		return result, fmt.Errorf("%w: %v", types.ErrNavigationFailed, navErr)
	}

	html, err := loading.HTML()
	if err != nil {
		result.Errors = recorder.Errors()
		return result, fmt.Errorf("failed to read document: %w", err)
	}
	result.Response = html

	if info, err := loading.Info(); err == nil && info.URL != "" {
		result.URL = info.URL
	}
	notifier.PageFinished(result.URL)

	result.Intercepted, result.Passthrough = bridge.Counts()
	result.Errors = recorder.Errors()

	log.Info().
		Str("url", security.RedactURL(result.URL)).
		Int("intercepted", result.Intercepted).
		Int("passthrough", result.Passthrough).
		Int("errors", len(result.Errors)).
		Msg("Page rendered")

	return result, nil
}

func (r *Renderer) newPage(browser *rod.Browser) (*rod.Page, error) {
	if r.stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{})
}
