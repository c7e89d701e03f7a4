// Package jobs is the front-end facing view of the queue: it wraps the store
// so that every way of submitting or cancelling a job (HTTP, MCP, CLI)
// publishes the same events, counts the same metrics and wakes the worker.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/metrics"
	"github.com/mattjoyce/promptq/internal/queue"
)

// Store is the subset of *queue.Store used by front-ends.
type Store interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error)
	Get(ctx context.Context, id int64) (*queue.Job, error)
	List(ctx context.Context, f queue.ListFilter) ([]*queue.Job, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	Retry(ctx context.Context, id int64) (*queue.Job, error)
	ClearFinished(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Waker is nudged after a job is enqueued.
type Waker interface {
	Wake()
}

type Service struct {
	store   Store
	events  events.Publisher
	metrics *metrics.Metrics
	waker   Waker
	logger  *slog.Logger
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithWaker(w Waker) Option {
	return func(s *Service) { s.waker = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.WithComponent("jobs"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error) {
	job, err := s.store.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	s.accepted(job)
	return job, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*queue.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f queue.ListFilter) ([]*queue.Job, error) {
	return s.store.List(ctx, f)
}

// Cancel cancels a pending job. The bool is false when the job had already
// left pending.
func (s *Service) Cancel(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.Cancel(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if s.events != nil {
		if job, err := s.store.Get(ctx, id); err == nil {
			s.events.Publish(events.JobCancelled, events.PayloadFor(job))
		}
	}
	s.logger.Info("job cancelled", "job_id", id)
	return true, nil
}

// Retry enqueues a copy of a finished job.
func (s *Service) Retry(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := s.store.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job retried", "job_id", job.ID, "retry_of", id)
	s.accepted(job)
	return job, nil
}

func (s *Service) ClearFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.ClearFinished(ctx, olderThan)
}

// Stats returns the per-status counts and refreshes the queue gauge.
func (s *Service) Stats(ctx context.Context) (queue.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	s.metrics.SetQueue(st)
	return st, nil
}

func (s *Service) accepted(job *queue.Job) {
	s.metrics.Enqueued()
	if s.events != nil {
		s.events.Publish(events.JobEnqueued, events.PayloadFor(job))
	}
	if s.waker != nil {
		s.waker.Wake()
	}
}
