// Package executor runs CPU-bound FHE decrypt work on a small, fixed pool
// of worker goroutines so the async reactor driving each transport's I/O
// never blocks on homomorphic decryption itself. The pool applies
// backpressure instead of unbounded queueing: once its backlog is full, a
// submission fails immediately with vaulterr.Overloaded rather than piling
// up memory or latency behind a growing queue.
package executor

import (
	"context"

	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

// Job is the unit of work the pool runs. It receives the caller's context
// so a long decrypt can still observe cancellation, even though the
// underlying FHE call itself is not interruptible mid-computation.
type Job func(ctx context.Context) (any, error)

type request struct {
	ctx    context.Context
	job    Job
	result chan result
}

type result struct {
	val any
	err error
}

// Pool is a bounded blocking executor: width goroutines process jobs pulled
// from a queue of fixed depth. Submitting to a full queue fails fast.
type Pool struct {
	requests chan request
	done     chan struct{}
}

// New starts a Pool with width worker goroutines and a backlog capacity of
// queueDepth beyond whatever they are actively running.
func New(width, queueDepth int) *Pool {
	if width < 1 {
		width = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{
		requests: make(chan request, queueDepth),
		done:     make(chan struct{}),
	}
	for i := 0; i < width; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for req := range p.requests {
		val, err := req.job(req.ctx)
		select {
		case req.result <- result{val: val, err: err}:
		case <-req.ctx.Done():
		}
	}
}

// Submit enqueues job and blocks until it completes, the queue is full, or
// ctx is cancelled first. A full queue returns vaulterr.Overloaded
// immediately rather than waiting for room.
func (p *Pool) Submit(ctx context.Context, job Job) (any, error) {
	req := request{ctx: ctx, job: job, result: make(chan result, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, &vaulterr.Overloaded{}
	}

	select {
	case res := <-req.result:
		return res.val, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the current depth of jobs queued but not yet picked up by a
// worker. It does not count jobs already running.
func (p *Pool) Len() int { return len(p.requests) }

// Close stops accepting new work. Workers drain whatever is already queued
// and then exit; Close does not wait for that drain to finish (the caller's
// drain timeout in the shutdown sequence governs how long to wait).
func (p *Pool) Close() {
	close(p.requests)
	close(p.done)
}
