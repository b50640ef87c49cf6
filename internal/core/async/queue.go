// Package async runs submitted batch runs in the background, one at a time.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

var ErrClosed = errors.New("queue is shutting down")

type Queue interface {
	Submit(ctx context.Context, c *core.Controller) error
	Get(id uuid.UUID) (*core.Controller, bool)
	List() []*core.Controller
	Shutdown(ctx context.Context)
}

// BatchQueue serializes controllers onto a single worker so runs never compete
// for CPU or output directories.
type BatchQueue struct {
	logger   *slog.Logger
	timeout  time.Duration
	history  int
	onFinish func(*core.Controller, entity.Summary)

	ch     chan *core.Controller
	quit   chan struct{} // closed when Shutdown begins
	sendMu sync.RWMutex  // held for reading while sending on ch
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	runs    map[uuid.UUID]*core.Controller
	order   []uuid.UUID
	current *core.Controller
}

type Option func(*BatchQueue)

func WithQueueSize(n int) Option {
	return func(q *BatchQueue) {
		if n > 0 {
			q.ch = make(chan *core.Controller, n)
		}
	}
}

// WithRunTimeout hard-cancels a run that takes longer than d.
func WithRunTimeout(d time.Duration) Option {
	return func(q *BatchQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithHistory bounds how many finished runs Get and List remember. Queued and
// running runs are never evicted.
func WithHistory(n int) Option {
	return func(q *BatchQueue) {
		if n > 0 {
			q.history = n
		}
	}
}

// WithOnFinish registers a callback invoked after each run reaches a terminal state.
func WithOnFinish(fn func(*core.Controller, entity.Summary)) Option {
	return func(q *BatchQueue) { q.onFinish = fn }
}

func NewBatchQueue(logger *slog.Logger, opts ...Option) *BatchQueue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &BatchQueue{
		logger:  logger,
		history: 100,
		ch:      make(chan *core.Controller, 16),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		runs:    make(map[uuid.UUID]*core.Controller),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *BatchQueue) start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.logger.Info("batch worker started")
			for c := range q.ch {
				q.runOne(c)
			}
			q.logger.Info("batch worker stopped")
		}()
	})
}

func (q *BatchQueue) runOne(c *core.Controller) {
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	q.mu.Lock()
	q.current = c
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}()

	// a run stopped while it was queued is already terminal
	if err := c.Start(ctx); err != nil {
		q.logger.Info("skipping run", "run_id", c.ID(), "state", c.State())
	}
	<-c.Done()
	sum, _ := c.Wait(context.Background())
	q.logger.Info("run done", "run_id", c.ID(), "state", sum.State,
		"processed", sum.Progress.Processed, "failed", sum.Progress.Failed)
	if q.onFinish != nil {
		q.onFinish(c, sum)
	}
}

// Submit queues c. It blocks while the queue is full, until ctx is done or
// the queue shuts down.
func (q *BatchQueue) Submit(ctx context.Context, c *core.Controller) error {
	// Shutdown closes ch only after every in-flight send has released sendMu
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot submit: queue is shutting down", "run_id", c.ID())
		return ErrClosed
	}
	q.runs[c.ID()] = c
	q.order = append(q.order, c.ID())
	q.evictLocked()
	q.mu.Unlock()

	select {
	case q.ch <- c:
		q.logger.Info("queued run", "run_id", c.ID(), "pending", len(q.ch))
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "run_id", c.ID())
	select {
	case q.ch <- c:
		return nil
	case <-q.quit:
		q.forget(c.ID())
		return ErrClosed
	case <-ctx.Done():
		q.forget(c.ID())
		return ctx.Err()
	}
}

// evictLocked drops the oldest finished runs while the history is over its
// bound. q.mu must be held.
func (q *BatchQueue) evictLocked() {
	excess := len(q.order) - q.history
	if excess <= 0 {
		return
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if excess > 0 && q.runs[id].State().Terminal() {
			delete(q.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

func (q *BatchQueue) forget(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.runs, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *BatchQueue) Get(id uuid.UUID) (*core.Controller, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.runs[id]
	return c, ok
}

// List returns the remembered runs in submission order.
func (q *BatchQueue) List() []*core.Controller {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*core.Controller, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.runs[id])
	}
	return out
}

// Shutdown refuses new runs, stops queued and running ones cooperatively and
// waits for the worker. If ctx ends first the running batch is hard-cancelled.
func (q *BatchQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	pending := make([]*core.Controller, 0, len(q.runs))
	for _, c := range q.runs {
		pending = append(pending, c)
	}
	q.mu.Unlock()

	for _, c := range pending {
		c.Stop()
	}
	q.sendMu.Lock()
	close(q.ch)
	q.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context, cancelling running batch")
		q.cancel()
		<-done
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
	q.cancel()
}
