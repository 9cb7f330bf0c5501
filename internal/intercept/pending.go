package intercept

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle of a PendingFetch.
type State int32

const (
	StateCreated State = iota
	StateDispatched
	StateFulfilled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDispatched:
		return "dispatched"
	case StateFulfilled:
		return "fulfilled"
	case StateFailed:
		return "failed"
	default:
		return "created"
	}
}

// placeholderStatus is served until a real response arrives, and forever
// after a transport failure.
const placeholderStatus = http.StatusGatewayTimeout

// fetched is the response slot of a PendingFetch.
type fetched struct {
	statusCode int
	status     string
	header     http.Header
	body       []byte
	finalURL   string
}

func placeholder() fetched {
	return fetched{statusCode: placeholderStatus, header: http.Header{}}
}

// PendingFetch is one in-flight request/response cycle. The slot is written
// at most once and done is closed exactly once, so every read after done
// observes the same value.
type PendingFetch struct {
	id      string
	request *http.Request
	created time.Time

	done  chan struct{}
	once  sync.Once
	state atomic.Int32

	slot fetched
	err  error
}

func newPendingFetch(req *http.Request) *PendingFetch {
	return &PendingFetch{
		id:      uuid.NewString(),
		request: req,
		created: time.Now(),
		done:    make(chan struct{}),
		slot:    placeholder(),
	}
}

// ID returns the fetch identifier used in logs.
func (p *PendingFetch) ID() string { return p.id }

// Request returns the outbound request.
func (p *PendingFetch) Request() *http.Request { return p.request }

// Done is closed once the fetch has been fulfilled or has failed.
func (p *PendingFetch) Done() <-chan struct{} { return p.done }

// State returns the current lifecycle state.
func (p *PendingFetch) State() State { return State(p.state.Load()) }

// Err returns the transport error after a failure. It is only meaningful
// once Done is closed.
func (p *PendingFetch) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *PendingFetch) markDispatched() {
	p.state.CompareAndSwap(int32(StateCreated), int32(StateDispatched))
}

// complete writes the slot and fires the signal. Only the first call has
// any effect. A non-nil err leaves the placeholder in place.
func (p *PendingFetch) complete(res fetched, err error) {
	p.once.Do(func() {
		if err != nil {
			p.err = err
			p.state.Store(int32(StateFailed))
		} else {
			p.slot = res
			p.state.Store(int32(StateFulfilled))
		}
		close(p.done)
	})
}

// wait blocks until the fetch completes, or until timeout elapses when
// timeout is positive. The second result is false on timeout.
func (p *PendingFetch) wait(timeout time.Duration) (fetched, bool) {
	if timeout <= 0 {
		<-p.done
		return p.slot, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.slot, true
	case <-timer.C:
		return placeholder(), false
	}
}
