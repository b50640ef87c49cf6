// Package core drives a batch run: it discovers documents, feeds them one at a
// time through the document pipeline and exposes pause, resume and stop.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/events"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/pipeline"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

// DocumentProcessor handles a single document. pipeline.Processor is the production implementation.
type DocumentProcessor interface {
	Process(ctx context.Context, task entity.DocumentTask, check pipeline.Checkpoint) (int, error)
}

// DiscoverFunc lists the documents of a job.
type DiscoverFunc func(ctx context.Context, job entity.Job) ([]entity.DocumentTask, error)

// Recorder persists run history. Failures are logged and never affect the run.
type Recorder interface {
	RunStarted(ctx context.Context, run entity.Run) error
	DocumentFinished(ctx context.Context, res entity.DocumentResult) error
	RunFinished(ctx context.Context, summary entity.Summary) error
}

type Controller struct {
	job      entity.Job
	proc     DocumentProcessor
	discover DiscoverFunc
	recorder Recorder
	logger   *slog.Logger
	bus      *events.Broadcaster
	events   <-chan events.Event

	mu        sync.Mutex
	state     constants.RunState
	progress  entity.ProgressState
	resume    chan struct{} // non-nil while paused; closed by Resume
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	results   []entity.DocumentResult
	summary   entity.Summary
	firstErr  string
	startedAt time.Time
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.bus = events.NewBroadcaster(n, c.logger)
		}
	}
}

// NewController prepares a run of job. discover lists its documents and proc
// handles each one.
func NewController(job entity.Job, discover DiscoverFunc, proc DocumentProcessor, opts ...Option) *Controller {
	c := &Controller{
		job:      job,
		proc:     proc,
		discover: discover,
		logger:   slog.Default(),
		state:    constants.RunStateIdle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("run_id", job.ID.String())
	if c.bus == nil {
		c.bus = events.NewBroadcaster(256, c.logger)
	}
	c.events, _ = c.bus.Subscribe()
	return c
}

func (c *Controller) ID() uuid.UUID   { return c.job.ID }
func (c *Controller) Job() entity.Job { return c.job }

// Events is the controller's own subscription, opened at construction so no
// event is missed. It is closed after the terminal event.
func (c *Controller) Events() <-chan events.Event { return c.events }

// Subscribe opens an additional event stream.
func (c *Controller) Subscribe() (<-chan events.Event, func()) { return c.bus.Subscribe() }

// Done is closed once the run has reached a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) State() constants.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns a snapshot of the counters.
func (c *Controller) Progress() entity.ProgressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Start launches the worker. Cancelling ctx is a hard cancel that also kills
// any subprocess in flight; use Stop for a cooperative stop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != constants.RunStateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start run in state %s: %w", state, common.ErrInvalidState)
	}
	c.state = constants.RunStateRunning
	c.progress.Running = true
	c.startedAt = time.Now().UTC()
	c.mu.Unlock()

	ctx = common.WithRunID(common.WithLogger(ctx, c.logger), c.job.ID.String())
	go c.run(ctx)
	return nil
}

// Pause holds the worker at the next page or document boundary.
func (c *Controller) Pause() error {
	c.mu.Lock()
	switch c.state {
	case constants.RunStatePaused:
		c.mu.Unlock()
		return nil
	case constants.RunStateRunning:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("pause run in state %s: %w", state, common.ErrInvalidState)
	}
	c.state = constants.RunStatePaused
	c.progress.Paused = true
	c.resume = make(chan struct{})
	snap := c.progress
	c.mu.Unlock()

	c.logger.Info("run paused")
	c.publish(events.Event{Kind: events.KindState, Progress: snap, Percent: snap.Percent()})
	return nil
}

// Resume releases a paused worker.
func (c *Controller) Resume() error {
	c.mu.Lock()
	switch c.state {
	case constants.RunStateRunning:
		c.mu.Unlock()
		return nil
	case constants.RunStatePaused:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("resume run in state %s: %w", state, common.ErrInvalidState)
	}
	c.state = constants.RunStateRunning
	c.progress.Paused = false
	close(c.resume)
	c.resume = nil
	snap := c.progress
	c.mu.Unlock()

	c.logger.Info("run resumed")
	c.publish(events.Event{Kind: events.KindState, Progress: snap, Percent: snap.Percent()})
	return nil
}

// Stop asks the worker to end at the next page or document boundary. The
// document in flight is discarded. Stopping a run that never started ends it
// immediately. Stop is idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	idle := c.state == constants.RunStateIdle
	if idle {
		c.state = constants.RunStateRunning
		c.startedAt = time.Now().UTC()
	}
	c.mu.Unlock()
	if idle {
		c.finish(context.Background())
		close(c.done)
	}
}

// Wait blocks until the run ends or ctx is done and returns the summary.
func (c *Controller) Wait(ctx context.Context) (entity.Summary, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.summary, nil
	case <-ctx.Done():
		return entity.Summary{}, ctx.Err()
	}
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// checkpoint blocks while paused. It returns common.ErrStopped after Stop and
// ctx.Err() once ctx is done.
func (c *Controller) checkpoint(ctx context.Context) error {
	for {
		if c.stopped() {
			return common.ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		gate := c.resume
		c.mu.Unlock()
		if gate == nil {
			return nil
		}
		select {
		case <-gate:
		case <-c.stop:
		case <-ctx.Done():
		}
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	c.record(ctx, func(rctx context.Context) error {
		return c.recorder.RunStarted(rctx, entity.Run{
			ID:         c.job.ID,
			State:      constants.RunStateRunning,
			InputRoots: c.job.InputRoots,
			OutputRoot: c.job.OutputRoot,
			StartedAt:  c.startedAt,
		})
	})

	tasks, err := c.discover(ctx, c.job)
	if err != nil {
		c.fail(err.Error())
		c.finish(ctx)
		return
	}

	c.mu.Lock()
	c.progress.Total = len(tasks)
	snap := c.progress
	c.mu.Unlock()
	c.logger.Info("run started", "documents", len(tasks), "dpi", c.job.DPI,
		"ocr", c.job.OCR.Enabled, "compress", c.job.Compress)
	c.publish(events.Event{Kind: events.KindProgress, Progress: snap, Percent: snap.Percent()})

	claimed := make(map[string]string, len(tasks))
	for _, task := range tasks {
		if err := c.checkpoint(ctx); err != nil {
			break
		}
		if prev, dup := claimed[task.OutputPath]; dup {
			c.logger.Warn("output path already claimed, skipping document",
				"source_path", task.SourcePath, "output_path", task.OutputPath, "claimed_by", prev)
			c.complete(ctx, c.result(task, constants.DocumentSkipped, 0, nil, time.Now().UTC()))
			continue
		}
		if prev, clash := c.temporaryClash(claimed, task.OutputPath); clash {
			c.logger.Warn("document temporary would overwrite an earlier output, skipping document",
				"source_path", task.SourcePath, "output_path", task.OutputPath, "clashes_with", prev)
			c.complete(ctx, c.result(task, constants.DocumentSkipped, 0, nil, time.Now().UTC()))
			continue
		}
		claimed[task.OutputPath] = task.SourcePath

		start := time.Now().UTC()
		pages, err := c.proc.Process(ctx, task, c.checkpoint)
		switch {
		case err == nil:
			c.complete(ctx, c.result(task, constants.DocumentSucceeded, pages, nil, start))
		case errors.Is(err, common.ErrStopped) || ctx.Err() != nil:
			c.complete(ctx, c.result(task, constants.DocumentStopped, 0, err, start))
		default:
			c.logger.Error("document failed", "source_path", task.SourcePath, "error", err)
			c.complete(ctx, c.result(task, constants.DocumentFailed, pages, err, start))
			c.fail(err.Error())
		}
		if c.job.FailurePolicy == constants.FailureAbort && c.hasFailed() {
			break
		}
	}
	c.finish(ctx)
}

// temporaryClash reports whether one of the sibling temporaries written while
// producing out is the output path of a document already claimed in this run.
func (c *Controller) temporaryClash(claimed map[string]string, out string) (string, bool) {
	suffixes := []string{constants.TempSuffix}
	if c.job.OCR.Enabled {
		suffixes = append(suffixes, constants.OCRSuffix)
	}
	if c.job.Compress {
		suffixes = append(suffixes, constants.CompressedSuffix)
	}
	for _, suffix := range suffixes {
		if prev, ok := claimed[constants.SiblingPath(out, suffix)]; ok {
			return prev, true
		}
	}
	return "", false
}

func (c *Controller) result(task entity.DocumentTask, status constants.DocumentStatus, pages int, err error, start time.Time) entity.DocumentResult {
	res := entity.DocumentResult{
		RunID:      c.job.ID,
		Task:       task,
		Status:     status,
		Pages:      pages,
		StartedAt:  start,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		res.ErrorCode = common.CodeOf(err)
		res.Error = err.Error()
	}
	return res
}

// complete records a document outcome and advances the counters. Stopped
// documents do not count as processed.
func (c *Controller) complete(ctx context.Context, res entity.DocumentResult) {
	c.mu.Lock()
	c.results = append(c.results, res)
	switch res.Status {
	case constants.DocumentStopped:
	case constants.DocumentFailed:
		c.progress.Failed++
		c.progress.Processed++
	case constants.DocumentSkipped:
		c.progress.Skipped++
		c.progress.Processed++
	default:
		c.progress.Processed++
	}
	snap := c.progress
	c.mu.Unlock()

	c.record(ctx, func(rctx context.Context) error { return c.recorder.DocumentFinished(rctx, res) })
	c.publish(events.Event{Kind: events.KindDocument, Document: &res, Progress: snap, Percent: snap.Percent()})
	if res.Status != constants.DocumentStopped {
		c.publish(events.Event{Kind: events.KindProgress, Progress: snap, Percent: snap.Percent()})
	}
}

func (c *Controller) fail(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstErr == "" {
		c.firstErr = msg
	}
}

func (c *Controller) hasFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr != ""
}

// finish settles the terminal state, publishes the terminal event and records the run.
func (c *Controller) finish(ctx context.Context) {
	c.mu.Lock()
	succeeded := 0
	for _, r := range c.results {
		if r.Status == constants.DocumentSucceeded {
			succeeded++
		}
	}

	var state constants.RunState
	switch {
	case c.stopped() || ctx.Err() != nil:
		state = constants.RunStateAborted
	case c.firstErr != "" && c.progress.Total == 0:
		state = constants.RunStateFailed // discovery failed
	case c.firstErr != "" && c.job.FailurePolicy == constants.FailureAbort:
		state = constants.RunStateFailed
	case c.firstErr != "" && succeeded == 0:
		state = constants.RunStateFailed
	default:
		state = constants.RunStateCompleted
	}

	c.state = state
	c.progress.Running = false
	c.progress.Paused = false
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
	c.summary = entity.Summary{
		RunID:      c.job.ID,
		State:      state,
		Progress:   c.progress,
		Results:    append([]entity.DocumentResult(nil), c.results...),
		Error:      c.firstErr,
		StartedAt:  c.startedAt,
		FinishedAt: time.Now().UTC(),
	}
	summary := c.summary
	c.mu.Unlock()

	c.logger.Info("run finished",
		"state", state,
		"processed", summary.Progress.Processed,
		"total", summary.Progress.Total,
		"failed", summary.Progress.Failed,
		"skipped", summary.Progress.Skipped,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	c.record(ctx, func(rctx context.Context) error { return c.recorder.RunFinished(rctx, summary) })

	ev := events.Event{Summary: &summary, Progress: summary.Progress, Percent: summary.Progress.Percent()}
	switch state {
	case constants.RunStateCompleted:
		ev.Kind = events.KindCompleted
	case constants.RunStateAborted:
		ev.Kind = events.KindAborted
	default:
		ev.Kind = events.KindFailed
		ev.Error = summary.Error
	}
	c.publish(ev)
}

func (c *Controller) publish(e events.Event) {
	e.RunID = c.job.ID
	c.bus.Publish(e)
}

// record runs fn against the recorder, if any, on a context that survives a
// hard cancel of the run.
func (c *Controller) record(ctx context.Context, fn func(ctx context.Context) error) {
	if c.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(rctx); err != nil {
		c.logger.Warn("ledger write failed", "error", err)
	}
}
