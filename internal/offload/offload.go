// Package offload runs CPU-bound work on a dedicated background goroutine,
// reachable only by request/response message passing. It is a performance
// valve, never a correctness dependency: any failure surfaces as
// ErrUnavailable and callers compute inline instead.
package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable means the worker is stopped, saturated, or crashed;
// the caller should fall back to inline computation.
var ErrUnavailable = errors.New("offload: worker unavailable")

type request struct {
	id   string
	fn   func()
	done chan struct{}
	err  error
}

// Pool is a single background worker with a bounded request queue.
type Pool struct {
	requests chan *request
	quit     chan struct{}
	stop     sync.Once

	mu     sync.Mutex
	closed bool
}

// NewPool starts the worker. queueSize bounds how many requests may wait.
func NewPool(queueSize int) *Pool {
	if queueSize <= 0 {
		queueSize = 4
	}
	p := &Pool{
		requests: make(chan *request, queueSize),
		quit:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pool) run() {
	for {
		select {
		case req := <-p.requests:
			p.serve(req)
		case <-p.quit:
			// Fail anything already queued so no caller waits on a
			// worker that will never run it.
			for {
				select {
				case req := <-p.requests:
					req.err = ErrUnavailable
					close(req.done)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) serve(req *request) {
	defer func() {
		if r := recover(); r != nil {
			req.err = fmt.Errorf("offload: worker panic: %v", r)
			log.Error().Str("request", req.id).Interface("panic", r).Msg("offload worker recovered")
		}
		close(req.done)
	}()
	req.fn()
}

// Do submits fn and waits for it to finish on the worker. The returned error
// is ErrUnavailable (or the panic error) when fn did not complete; the
// caller then runs the work inline.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	req := &request{
		id:   ulid.Make().String(),
		fn:   fn,
		done: make(chan struct{}),
	}

	// Submission is serialized with Stop: either the request lands in the
	// queue before the shutdown drain runs, or it is refused here. Nothing
	// can strand between the two.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrUnavailable
	}
	select {
	case p.requests <- req:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		return ErrUnavailable
	}

	log.Debug().Str("request", req.id).Msg("offloaded to worker")
	select {
	case <-req.done:
		return req.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the worker down. In-flight work finishes; queued work fails
// with ErrUnavailable.
func (p *Pool) Stop() {
	p.stop.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.quit)
	})
}
