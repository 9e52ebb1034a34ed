package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"vsfy/vsfy/messages"
	"vsfy/vsfy/metrics"
)

var (
	ErrTimeout          = errors.New("timed out waiting for directory response")
	ErrConnectionClosed = errors.New("directory connection closed")
)

// PendingRequest correlates directory lines with one caller. A single
// request completes on its first matching line; a burst request keeps
// receiving matching lines, in order, until its terminator line.
type PendingRequest struct {
	Prefix     string
	terminator string
	burst      bool

	router *Router
	mu     sync.Mutex
	queue  []string
	err    error
	signal chan struct{}
}

// Next blocks until a line is available, ctx is done, or the connection dies.
// An expired ctx deadline is reported as ErrTimeout. Lines queued before the
// connection died are still returned first.
func (p *PendingRequest) Next(ctx context.Context) (string, error) {
	for {
		if line, ok, err := p.take(); ok {
			return line, err
		}
		select {
		case <-p.signal:
		case <-ctx.Done():
			// once removed no further line can be delivered, so a line that
			// raced the deadline is either queued now or belongs to someone else
			p.router.remove(p)
			if line, ok, err := p.take(); ok {
				return line, err
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", ctx.Err()
		}
	}
}

func (p *PendingRequest) take() (line string, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		line = p.queue[0]
		p.queue = p.queue[1:]
		return line, true, nil
	}
	if p.err != nil {
		return "", true, p.err
	}
	return "", false, nil
}

// Cancel deregisters the request. Safe to call more than once.
func (p *PendingRequest) Cancel() {
	p.router.remove(p)
}

func (p *PendingRequest) deliver(line string) {
	p.mu.Lock()
	p.queue = append(p.queue, line)
	p.mu.Unlock()
	p.notify()
}

func (p *PendingRequest) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.notify()
}

func (p *PendingRequest) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Router owns the inbound side of the directory connection and hands every
// line to at most one pending request, oldest registration first.
type Router struct {
	mu       sync.Mutex
	pending  []*PendingRequest
	closeErr error
	logger   *slog.Logger

	// OnUnclaimed, if set, observes lines no pending request matched.
	OnUnclaimed func(line string)
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		pending: make([]*PendingRequest, 0),
		logger:  logger,
	}
}

// Expect registers a single-line request for prefix.
func (r *Router) Expect(prefix string) (*PendingRequest, error) {
	return r.register(&PendingRequest{Prefix: prefix})
}

// ExpectBurst registers a request that receives every line matching prefix
// until a line equal to terminator, which is delivered too.
func (r *Router) ExpectBurst(prefix, terminator string) (*PendingRequest, error) {
	return r.register(&PendingRequest{Prefix: prefix, terminator: terminator, burst: true})
}

func (r *Router) register(p *PendingRequest) (*PendingRequest, error) {
	p.router = r
	p.signal = make(chan struct{}, 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return nil, r.closeErr
	}
	r.pending = append(r.pending, p)
	metrics.PendingRequests.Inc()
	return p, nil
}

func (r *Router) remove(p *PendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(p)
}

func (r *Router) removeLocked(p *PendingRequest) {
	i := slices.Index(r.pending, p)
	if i < 0 {
		return
	}
	r.pending = slices.Delete(r.pending, i, i+1)
	metrics.PendingRequests.Dec()
}

// Dispatch routes one line and reports whether a pending request took it.
// It never blocks on the receiving caller.
func (r *Router) Dispatch(line string) bool {
	r.mu.Lock()
	var target *PendingRequest
	for _, p := range r.pending {
		if messages.HasPrefix(line, p.Prefix) {
			target = p
			break
		}
	}
	if target != nil {
		if !target.burst || line == target.terminator {
			r.removeLocked(target)
		}
		// delivered under the router lock so removal and delivery are atomic
		// with respect to a caller giving up in Next
		target.deliver(line)
	}
	r.mu.Unlock()

	if target == nil {
		metrics.UnclaimedLines.Inc()
		r.logger.Debug("Dropping unclaimed directory line", "line", line)
		if r.OnUnclaimed != nil {
			r.OnUnclaimed(line)
		}
		return false
	}
	return true
}

// Close marks the connection dead and wakes every outstanding request with
// ErrConnectionClosed. Later registrations fail with the same error.
func (r *Router) Close(cause error) {
	err := ErrConnectionClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}

	r.mu.Lock()
	if r.closeErr != nil {
		r.mu.Unlock()
		return
	}
	r.closeErr = err
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	metrics.PendingRequests.Sub(float64(len(pending)))
	for _, p := range pending {
		p.fail(err)
	}
	r.logger.Warn("Directory connection closed", "pending", len(pending), "err", cause)
}

// Pending returns the number of outstanding requests.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
