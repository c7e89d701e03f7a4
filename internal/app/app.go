// Package app is the composition root: it turns a Config into a running
// queue, worker, notifier and HTTP API.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/promptq/internal/api"
	"github.com/mattjoyce/promptq/internal/auth"
	"github.com/mattjoyce/promptq/internal/config"
	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/executor"
	"github.com/mattjoyce/promptq/internal/jobs"
	"github.com/mattjoyce/promptq/internal/lock"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/metrics"
	"github.com/mattjoyce/promptq/internal/notify"
	"github.com/mattjoyce/promptq/internal/provider"
	"github.com/mattjoyce/promptq/internal/queue"
	"github.com/mattjoyce/promptq/internal/storage"
	"github.com/mattjoyce/promptq/internal/worker"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Providers  *provider.Registry
	Executor   *executor.Executor
	Events     *events.Hub
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher

	// Set by Open or Init.
	Store  *queue.Store
	Jobs   *jobs.Service
	Worker *worker.Worker

	db    *sql.DB
	lock  *lock.PIDLock
	redis redis.UniversalClient
}

// New builds the in-memory parts of the application. Nothing touches disk or
// the network until Open or Init.
func New(cfg *config.Config) (*App, error) {
	registry, err := provider.NewRegistryFromSpecs(cfg.DefaultProvider, cfg.ProviderSpecs())
	if err != nil {
		return nil, errors.Wrap(err, "build provider registry")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	return &App{
		cfg:       cfg,
		logger:    log.WithComponent("app"),
		Providers: registry,
		Executor: executor.New(executor.Config{
			Timeout:        cfg.Executor.Timeout,
			KillGrace:      cfg.Executor.KillGrace,
			PermissionMode: cfg.Executor.PermissionMode,
		}),
		Events:     events.NewHub(256),
		Metrics:    m,
		Dispatcher: notify.NewDispatcher(notify.WithTimeout(cfg.Notify.Timeout), notify.WithMetrics(m)),
	}, nil
}

// Open connects to the database without taking the instance lock or
// starting the worker. CLI commands that only read or enqueue use this.
func (a *App) Open(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	db, err := storage.OpenSQLite(ctx, a.cfg.Database.Path)
	if err != nil {
		return errors.Wrapf(err, "open database %s", a.cfg.Database.Path)
	}
	a.db = db
	a.Store = queue.New(db, queue.WithProviders(a.Providers.Has, a.Providers.Default()))
	a.Jobs = jobs.NewService(a.Store, jobs.WithEvents(a.Events), jobs.WithMetrics(a.Metrics))
	return nil
}

// Init prepares a serving instance: instance lock, database, delivery
// layer, expired-lease recovery and the worker, started when autostart is
// set or jobs are already waiting. Errors are returned, never logged and
// dropped.
func (a *App) Init(ctx context.Context) error {
	if a.cfg.Database.Path != ":memory:" {
		l, err := lock.Acquire(lock.PathFor(a.cfg.Database.Path))
		if err != nil {
			return err
		}
		a.lock = l
	}
	if err := a.Open(ctx); err != nil {
		return err
	}

	sink, err := a.buildRouter()
	if err != nil {
		return err
	}
	if err := a.Dispatcher.Register(sink.Deliver); err != nil {
		return errors.Wrap(err, "register notification callback")
	}

	a.Worker = worker.New(worker.Config{
		Interval:      a.cfg.Worker.Interval,
		LeaseRecovery: a.cfg.Worker.LeaseRecovery,
		LeaseDuration: a.cfg.LeaseDuration(),
		MaxReplyChars: a.cfg.Notify.MaxReplyChars,
	}, a.Store, a.Executor, a.Providers, a.Dispatcher,
		worker.WithEvents(a.Events),
		worker.WithMetrics(a.Metrics),
	)
	a.Jobs = jobs.NewService(a.Store,
		jobs.WithEvents(a.Events),
		jobs.WithMetrics(a.Metrics),
		jobs.WithWaker(&startingWaker{ctx: ctx, worker: a.Worker, logger: a.logger}),
	)

	n, err := a.Worker.RecoverExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Warn("failed jobs with expired leases", "count", n)
	}

	if a.cfg.Worker.Autostart {
		return a.Worker.Start(ctx)
	}
	started, err := a.Worker.StartIfPending(ctx)
	if err != nil {
		return err
	}
	if started {
		a.logger.Info("pending jobs found, worker started")
	}
	return nil
}

// Run serves the API (when enabled) and refreshes queue gauges until ctx is
// done, then stops the worker.
func (a *App) Run(ctx context.Context) error {
	if a.Worker == nil {
		return errors.New("app: Run called before Init")
	}
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.API.Enabled {
		srv := a.APIServer()
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if a.Metrics != nil {
		g.Go(func() error {
			a.refreshGauges(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Worker.Stop()
		return nil
	})

	return g.Wait()
}

// APIServer builds the HTTP front-end from config.
func (a *App) APIServer() *api.Server {
	tokens := make([]auth.TokenConfig, 0, len(a.cfg.API.Tokens))
	for _, t := range a.cfg.API.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	opts := []api.Option{api.WithEvents(a.Events), api.WithWorker(a.Worker)}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics.Handler()))
	}
	return api.New(api.Config{
		Listen:       a.cfg.API.Listen,
		Token:        a.cfg.API.Token,
		Tokens:       tokens,
		EnqueueRate:  a.cfg.API.RateLimit.PerSecond,
		EnqueueBurst: a.cfg.API.RateLimit.Burst,
	}, a.Jobs, opts...)
}

func (a *App) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Worker.Interval)
	defer ticker.Stop()
	for {
		if _, err := a.Jobs.Stats(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("failed to refresh queue gauges", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the worker and releases every resource. It is safe to call
// after a failed Init.
func (a *App) Close() error {
	var err error
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.redis != nil {
		err = errors.CombineErrors(err, a.redis.Close())
	}
	if a.db != nil {
		err = errors.CombineErrors(err, a.db.Close())
		a.db = nil
	}
	if a.lock != nil {
		err = errors.CombineErrors(err, a.lock.Release())
		a.lock = nil
	}
	return err
}

// buildRouter assembles the delivery layer: notify.sink is the fallback and
// notify.routes overrides it per platform.
func (a *App) buildRouter() (*notify.Router, error) {
	n := a.cfg.Notify
	sinks := make(map[string]notify.Sink)
	sinkFor := func(name string) (notify.Sink, error) {
		if s, ok := sinks[name]; ok {
			return s, nil
		}
		var s notify.Sink
		switch name {
		case config.SinkLog:
			s = notify.NewLogSink(log.WithComponent("notify.log"))
		case config.SinkNone:
			s = notify.Discard
		case config.SinkWebhook:
			s = notify.NewWebhookSink(n.Webhook.URL, n.Webhook.Secret, &http.Client{Timeout: n.Timeout})
		case config.SinkRedis:
			if a.redis == nil {
				client, err := notify.NewRedisClient(n.Redis.Addr, n.Redis.Password, n.Redis.DB)
				if err != nil {
					return nil, err
				}
				a.redis = client
			}
			s = notify.NewRedisSink(a.redis, n.Redis.Prefix)
		default:
			return nil, errors.Newf("unknown notification sink %q", name)
		}
		sinks[name] = s
		return s, nil
	}

	fallback, err := sinkFor(n.Sink)
	if err != nil {
		return nil, err
	}
	router := notify.NewRouter(fallback)
	for platform, name := range n.Routes {
		s, err := sinkFor(name)
		if err != nil {
			return nil, errors.Wrapf(err, "route for platform %q", platform)
		}
		router.Route(platform, s)
	}
	return router, nil
}

// startingWaker starts a stopped worker when a job arrives, and nudges a
// running one.
type startingWaker struct {
	ctx    context.Context
	worker *worker.Worker
	logger *slog.Logger
}

func (w *startingWaker) Wake() {
	if w.worker.IsRunning() {
		w.worker.Wake()
		return
	}
	if err := w.worker.Start(w.ctx); err != nil {
		w.logger.Warn("could not start worker for new job", "error", err)
	}
}
