// Package action implements the serialized action queue.
//
// Every mutating operation of a database runs as an action: a unit of work
// submitted to the database's Queue. The queue guarantees:
//   - at most one action runs at a time
//   - actions start in submission order
//   - a failing or panicking action fails only its own caller
//
// Nested submission from inside a running action would deadlock a FIFO
// queue, so it is rejected with an INVALID_OPERATION error. Work that must
// run inside the current action goes through Handle.SubAction instead.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/driftdb/internal/dberr"
)

// Work is one unit of serialized work.
type Work func(ctx context.Context, h *Handle) error

type item struct {
	ctx  context.Context
	desc string
	work Work
	done chan error
}

// Queue is an unbounded FIFO of actions with a single runner.
//
// The runner goroutine exists only while work is queued; an idle queue
// holds no goroutines.
//
// Thread-safety: Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []*item
	running bool
	logger  *slog.Logger
}

// NewQueue creates an empty queue. A nil logger means slog.Default().
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		items:  make([]*item, 0, 16),
		logger: logger,
	}
}

// Enqueue submits work and blocks until it has run, returning its error.
//
// Calling Enqueue with a context that belongs to an action still running
// on q fails immediately; use Handle.SubAction.
func (q *Queue) Enqueue(ctx context.Context, desc string, work Work) error {
	if h, ok := FromContext(ctx); ok && h.queue == q && h.Active() {
		return dberr.InvalidOperation(
			"action %q was submitted from inside running action %q; nested work must use the action handle's SubAction",
			desc, h.desc)
	}

	it := &item{ctx: ctx, desc: desc, work: work, done: make(chan error, 1)}

	q.mu.Lock()
	q.items = append(q.items, it)
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()

	return <-it.done
}

// Run submits fn and returns its result.
func Run[T any](ctx context.Context, q *Queue, desc string, fn func(ctx context.Context, h *Handle) (T, error)) (T, error) {
	var out T
	err := q.Enqueue(ctx, desc, func(ctx context.Context, h *Handle) error {
		v, err := fn(ctx, h)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// drain runs queued items until the queue is empty.
func (q *Queue) drain() {
	for {
		it, ok := q.next()
		if !ok {
			return
		}
		it.done <- q.execute(it)
	}
}

func (q *Queue) next() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.running = false
		return nil, false
	}
	it := q.items[0]

	// Nil out the slot so the backing array does not retain finished work.
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

func (q *Queue) execute(it *item) (err error) {
	h := &Handle{queue: q, desc: it.desc}
	h.active.Store(true)
	defer h.active.Store(false)

	start := time.Now()
	q.logger.Debug("action started", "action", it.desc)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q panicked: %v", it.desc, r)
			q.logger.Error("action panicked", "action", it.desc, "panic", r)
		}
		q.logger.Debug("action finished", "action", it.desc, "duration", time.Since(start), "error", err)
	}()

	return it.work(withHandle(it.ctx, h), h)
}

// Len returns the number of actions waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsRunning reports whether an action is running or queued.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// InAction reports whether ctx belongs to an action currently running on q.
func (q *Queue) InAction(ctx context.Context) bool {
	h, ok := FromContext(ctx)
	return ok && h.queue == q && h.Active()
}

// Handle identifies the running action. It is passed to Work and stored in
// the context Work receives.
type Handle struct {
	queue  *Queue
	desc   string
	active atomic.Bool
}

// Description names the action for logs.
func (h *Handle) Description() string { return h.desc }

// Active reports whether the action is still running.
func (h *Handle) Active() bool { return h.active.Load() }

// SubAction runs work inline as part of the current action.
func (h *Handle) SubAction(ctx context.Context, desc string, work Work) error {
	if !h.Active() {
		return dberr.InvalidOperation("sub-action %q used the handle of finished action %q", desc, h.desc)
	}
	h.queue.logger.Debug("sub-action", "action", h.desc, "sub_action", desc)
	return work(withHandle(ctx, h), h)
}

type handleKey struct{}

func withHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// FromContext returns the action handle stored in ctx.
func FromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(*Handle)
	return h, ok
}
