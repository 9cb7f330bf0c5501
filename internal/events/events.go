// Package events carries page lifecycle and resource failure notifications
// out of the interception pipeline.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagehook/internal/security"
	"github.com/Rorqualx/pagehook/internal/types"
)

// Notifier receives lifecycle and failure notifications. Implementations
// must not block: calls are made from fetch goroutines and the page bridge.
type Notifier interface {
	PageStarted(url string)
	PageFinished(url string)
	ResourceError(code int, description, failingURL string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) PageStarted(string)                {}
func (Nop) PageFinished(string)               {}
func (Nop) ResourceError(int, string, string) {}

// LogNotifier writes notifications to the global zerolog logger.
type LogNotifier struct{}

// PageStarted logs the start of a page load.
func (LogNotifier) PageStarted(url string) {
	log.Debug().Str("url", security.RedactURL(url)).Msg("Page started")
}

// PageFinished logs the end of a page load.
func (LogNotifier) PageFinished(url string) {
	log.Debug().Str("url", security.RedactURL(url)).Msg("Page finished")
}

// ResourceError logs a failed resource load.
func (LogNotifier) ResourceError(code int, description, failingURL string) {
	log.Warn().
		Int("code", code).
		Str("description", description).
		Str("url", security.RedactURL(failingURL)).
		Msg("Resource load failed")
}

// Recorder keeps notifications in memory. One Recorder is used per render
// so errors can be returned to the API caller.
type Recorder struct {
	mu       sync.Mutex
	started  []string
	finished []string
	errors   []types.ResourceError
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PageStarted(url string) {
	r.mu.Lock()
	r.started = append(r.started, url)
	r.mu.Unlock()
}

func (r *Recorder) PageFinished(url string) {
	r.mu.Lock()
	r.finished = append(r.finished, url)
	r.mu.Unlock()
}

func (r *Recorder) ResourceError(code int, description, failingURL string) {
	r.mu.Lock()
	r.errors = append(r.errors, types.ResourceError{
		Code:        code,
		Description: description,
		URL:         failingURL,
	})
	r.mu.Unlock()
}

// Started returns a copy of the page-started URLs in call order.
func (r *Recorder) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

// Finished returns a copy of the page-finished URLs in call order.
func (r *Recorder) Finished() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finished...)
}

// Errors returns a copy of the recorded resource errors in call order.
func (r *Recorder) Errors() []types.ResourceError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ResourceError(nil), r.errors...)
}

// Multi fans notifications out to several notifiers in order. Nil entries
// are skipped.
type Multi []Notifier

func (m Multi) PageStarted(url string) {
	for _, n := range m {
		if n != nil {
			n.PageStarted(url)
		}
	}
}

func (m Multi) PageFinished(url string) {
	for _, n := range m {
		if n != nil {
			n.PageFinished(url)
		}
	}
}

func (m Multi) ResourceError(code int, description, failingURL string) {
	for _, n := range m {
		if n != nil {
			n.ResourceError(code, description, failingURL)
		}
	}
}
