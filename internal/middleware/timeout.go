package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// timeoutWriter serialises writes from the handler goroutine with the
// timeout response and drops everything after the deadline.
type timeoutWriter struct {
	w           http.ResponseWriter
	mu          sync.Mutex
	timedOut    bool
	wroteHeader bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.w.Header()
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return len(b), nil
	}
	tw.wroteHeader = true
	return tw.w.Write(b)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.w.WriteHeader(code)
}

// expire sends a 504 unless the handler already started its response.
// Later handler writes are discarded either way.
func (tw *timeoutWriter) expire(startTime time.Time) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	if !tw.wroteHeader {
		writeErrorResponse(tw.w, http.StatusGatewayTimeout, "Request timeout", startTime)
	}
	tw.timedOut = true
}

// Timeout bounds each request by timeout. The handler sees the deadline on
// its context; when it has not answered in time the client gets a 504 and
// the handler's late writes are discarded.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{w: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				if ctx.Err() == context.DeadlineExceeded {
					tw.expire(startTime)
				}
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					tw.expire(startTime)
				}
			}
		})
	}
}
