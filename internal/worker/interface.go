package worker

import (
	"context"
	"time"

	"github.com/mattjoyce/promptq/internal/executor"
	"github.com/mattjoyce/promptq/internal/notify"
	"github.com/mattjoyce/promptq/internal/provider"
	"github.com/mattjoyce/promptq/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_worker.go -package=mocks github.com/mattjoyce/promptq/internal/worker Store,Runner,Providers,Notifier

// Store is the queue surface the worker drives.
type Store interface {
	Claim(ctx context.Context) (*queue.Job, error)
	MarkCompleted(ctx context.Context, id int64, result string, model string) error
	MarkFailed(ctx context.Context, id int64, errText string) error
	HasPending(ctx context.Context) (bool, error)
	FailStale(ctx context.Context, olderThan time.Duration) ([]*queue.Job, error)
}

// Runner executes one job with an adapter.
type Runner interface {
	Run(ctx context.Context, job *queue.Job, a provider.Adapter) (*executor.Result, error)
}

// Providers resolves a job's provider name.
type Providers interface {
	Get(name string) (provider.Adapter, error)
}

// Notifier delivers the outcome to the job's channel.
type Notifier interface {
	Dispatch(ctx context.Context, channelID, platform string, reply notify.Reply)
}

var _ Providers = (*provider.Registry)(nil)
