// Package worker drains the job queue one job at a time: claim, execute,
// record the outcome, notify the originating channel.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/executor"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/metrics"
	"github.com/mattjoyce/promptq/internal/notify"
	"github.com/mattjoyce/promptq/internal/queue"
)

const DefaultInterval = 3 * time.Second

// Config controls the loop. Zero Interval means DefaultInterval; zero
// LeaseDuration disables lease recovery.
type Config struct {
	Interval      time.Duration
	LeaseRecovery bool
	LeaseDuration time.Duration
	MaxReplyChars int
}

// Worker owns the polling loop. Ticks never overlap, so at most one job runs
// per worker; the store's claim keeps it at one per database.
type Worker struct {
	cfg       Config
	store     Store
	runner    Runner
	providers Providers
	notifier  Notifier
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	id        string

	tickMu sync.Mutex
	wake   chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

type Option func(*Worker)

func WithEvents(p events.Publisher) Option {
	return func(w *Worker) { w.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func New(cfg Config, store Store, runner Runner, providers Providers, notifier Notifier, opts ...Option) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	id := uuid.NewString()
	w := &Worker{
		cfg:       cfg,
		store:     store,
		runner:    runner,
		providers: providers,
		notifier:  notifier,
		logger:    log.WithComponent("worker").With("worker_id", id),
		id:        id,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID identifies this worker instance in logs and events.
func (w *Worker) ID() string { return w.id }

func (w *Worker) IsRunning() bool { return w.running.Load() }

// Start launches the loop. Starting a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "start worker")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)
	go w.loop(loopCtx, w.done)

	w.logger.Info("worker started", "interval", w.cfg.Interval.String())
	w.publishState(true)
	return nil
}

// Stop ends the loop and waits for it. A job already executing runs to
// completion first.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.Load() {
		return
	}
	w.cancel()
	<-w.done
	w.running.Store(false)
	w.logger.Info("worker stopped")
	w.publishState(false)
}

// Wake asks the loop to tick now instead of at the next interval.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// StartIfPending starts the loop only when jobs are waiting.
func (w *Worker) StartIfPending(ctx context.Context) (bool, error) {
	pending, err := w.store.HasPending(ctx)
	if err != nil {
		return false, errors.Wrap(err, "check pending jobs")
	}
	if !pending {
		return false, nil
	}
	if err := w.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// Covers parent cancellation as well as Stop.
	defer w.running.Store(false)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// drain ticks until the queue is empty, a tick fails, or ctx ends.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.Tick(ctx)
		if err != nil {
			w.logger.Error("tick failed", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}

// Tick performs one pass: reap expired leases, claim the oldest pending job
// and run it to a terminal state. It reports whether a job was processed.
// A tick that starts while another is in progress does nothing.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	if !w.tickMu.TryLock() {
		w.logger.Debug("tick skipped, previous tick still running")
		return false, nil
	}
	defer w.tickMu.Unlock()

	if _, err := w.RecoverExpired(ctx); err != nil {
		w.logger.Error("lease recovery failed", "error", err)
	}

	job, err := w.store.Claim(ctx)
	if err != nil {
		return false, errors.Wrap(err, "claim job")
	}
	if job == nil {
		return false, nil
	}
	w.metrics.Claimed()
	w.publish(events.JobStarted, job)

	// The job outlives Stop and parent cancellation: it ends through the
	// executor timeout, never half-way.
	w.execute(context.WithoutCancel(ctx), job)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(log.JobFields(job.ID, job.ProviderName, job.Prompt)...)
	logger.Info("executing job")

	adapter, err := w.providers.Get(job.ProviderName)
	if err != nil {
		logger.Error("provider not available", "error", err)
		w.fail(ctx, job, logger, fmt.Sprintf("unknown provider %q", job.ProviderName), 0)
		return
	}

	start := time.Now()
	res, err := w.runner.Run(log.NewContext(ctx, logger), job, adapter)
	if err != nil {
		logger.Warn("job failed", "error", err, "timeout", errors.Is(err, executor.ErrTimeout))
		w.fail(ctx, job, logger, err.Error(), time.Since(start))
		return
	}
	w.complete(ctx, job, logger, res)
}

func (w *Worker) complete(ctx context.Context, job *queue.Job, logger *slog.Logger, res *executor.Result) {
	if err := w.store.MarkCompleted(ctx, job.ID, res.Text, res.Model); err != nil {
		logger.Error("failed to mark job completed", "error", err)
		return
	}
	job.Status = queue.StatusCompleted
	job.Result = &res.Text
	if res.Model != "" {
		job.ResultModel = &res.Model
	}
	logger.Info("job completed", "model", res.Model, "duration_ms", res.Duration.Milliseconds())
	w.finished(ctx, job, res.Duration)
}

func (w *Worker) fail(ctx context.Context, job *queue.Job, logger *slog.Logger, errText string, d time.Duration) {
	if err := w.store.MarkFailed(ctx, job.ID, errText); err != nil {
		logger.Error("failed to mark job failed", "error", err)
		return
	}
	job.Status = queue.StatusFailed
	job.Error = &errText
	w.finished(ctx, job, d)
}

func (w *Worker) finished(ctx context.Context, job *queue.Job, d time.Duration) {
	w.metrics.Finished(job.Status, d)
	if job.Status == queue.StatusCompleted {
		w.publish(events.JobCompleted, job)
	} else {
		w.publish(events.JobFailed, job)
	}
	w.notifier.Dispatch(ctx, job.ChannelID, job.ChannelPlatform, notify.ReplyFor(job, w.cfg.MaxReplyChars))
}

// RecoverExpired fails running jobs whose lease has run out and tells their
// channels. It is a no-op unless lease recovery is configured.
func (w *Worker) RecoverExpired(ctx context.Context) (int, error) {
	if !w.cfg.LeaseRecovery || w.cfg.LeaseDuration <= 0 {
		return 0, nil
	}
	expired, err := w.store.FailStale(ctx, w.cfg.LeaseDuration)
	if err != nil {
		return 0, errors.Wrap(err, "fail expired leases")
	}
	for _, job := range expired {
		w.metrics.Finished(queue.StatusFailed, 0)
		w.publish(events.JobExpired, job)
		w.notifier.Dispatch(ctx, job.ChannelID, job.ChannelPlatform, notify.FailureReply(job, w.cfg.MaxReplyChars))
	}
	return len(expired), nil
}

func (w *Worker) publish(eventType string, job *queue.Job) {
	if w.events == nil {
		return
	}
	w.events.Publish(eventType, events.PayloadFor(job))
}

func (w *Worker) publishState(running bool) {
	if w.events == nil {
		return
	}
	w.events.Publish(events.WorkerState, map[string]any{"worker_id": w.id, "running": running})
}
