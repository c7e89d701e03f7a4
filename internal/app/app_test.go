package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/promptq/internal/config"
	"github.com/mattjoyce/promptq/internal/lock"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/notify"
	"github.com/mattjoyce/promptq/internal/provider"
	"github.com/mattjoyce/promptq/internal/queue"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell providers need a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "provider.sh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(dir, "promptq.db")
	cfg.Worker.Interval = 50 * time.Millisecond
	cfg.Executor.Timeout = 10 * time.Second
	cfg.Notify.Sink = config.SinkNone
	cfg.DefaultProvider = "fake"
	cfg.Providers = map[string]config.ProviderConfig{
		"fake": {Type: provider.TypeCommand, Binary: bin},
	}
	return cfg
}

func waitStatus(t *testing.T, a *App, id int64, want queue.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := a.Store.Get(context.Background(), id)
		return err == nil && j.Status == want
	}, 10*time.Second, 20*time.Millisecond)
}

func TestInitRunsEnqueuedJobs(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(t, `echo "answer: $1"`))
	require.NoError(t, err)
	require.NoError(t, a.Init(ctx))
	t.Cleanup(func() { _ = a.Close() })

	assert.True(t, a.Worker.IsRunning(), "autostart")

	job, err := a.Jobs.Enqueue(ctx, queue.EnqueueRequest{Prompt: "ping", ChannelID: "C1", ChannelPlatform: "cli"})
	require.NoError(t, err)
	assert.Equal(t, "fake", job.ProviderName)

	waitStatus(t, a, job.ID, queue.StatusCompleted)
	got, err := a.Store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "answer: ping", *got.Result)

	_, err = a.Jobs.Enqueue(ctx, queue.EnqueueRequest{Prompt: "x", ProviderName: "nope", ChannelID: "C1", ChannelPlatform: "cli"})
	assert.True(t, errors.Is(err, queue.ErrUnknownProvider))
}

func TestInitWithoutAutostart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, `echo done`)
	cfg.Worker.Autostart = false

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Init(ctx))
	t.Cleanup(func() { _ = a.Close() })
	assert.False(t, a.Worker.IsRunning(), "empty queue, no autostart")

	// Enqueue starts the worker.
	job, err := a.Jobs.Enqueue(ctx, queue.EnqueueRequest{Prompt: "go", ChannelID: "C", ChannelPlatform: "cli"})
	require.NoError(t, err)
	waitStatus(t, a, job.ID, queue.StatusCompleted)
}

func TestInitStartsWorkerForLeftoverJobs(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, `echo recovered`)
	cfg.Worker.Autostart = false

	// A CLI-style producer leaves a pending job behind.
	producer, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, producer.Open(ctx))
	job, err := producer.Jobs.Enqueue(ctx, queue.EnqueueRequest{Prompt: "left over", ChannelID: "C", ChannelPlatform: "cli"})
	require.NoError(t, err)
	require.NoError(t, producer.Close())

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Init(ctx))
	t.Cleanup(func() { _ = a.Close() })

	assert.True(t, a.Worker.IsRunning())
	waitStatus(t, a, job.ID, queue.StatusCompleted)
}

func TestInitHoldsInstanceLock(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, `echo x`)

	first, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Init(ctx))

	second, err := New(cfg)
	require.NoError(t, err)
	err = second.Init(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrLocked))
	require.NoError(t, second.Close())

	require.NoError(t, first.Close())
	third, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, third.Init(ctx))
	require.NoError(t, third.Close())
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t, `echo x`))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Init(ctx))
	t.Cleanup(func() { _ = a.Close() })

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, a.Worker.IsRunning())
}

func TestRunBeforeInit(t *testing.T) {
	a, err := New(testConfig(t, `echo x`))
	require.NoError(t, err)
	assert.Error(t, a.Run(context.Background()))
}

func TestNewRejectsMissingDefaultProvider(t *testing.T) {
	cfg := testConfig(t, `echo x`)
	cfg.DefaultProvider = "claude"
	_, err := New(cfg)
	assert.True(t, errors.Is(err, provider.ErrUnknownProvider))
}

func TestBuildRouter(t *testing.T) {
	cfg := testConfig(t, `echo x`)
	cfg.Notify.Sink = config.SinkLog
	cfg.Notify.Routes = map[string]string{
		"slack":   config.SinkWebhook,
		"discord": config.SinkRedis,
		"quiet":   config.SinkNone,
	}
	cfg.Notify.Webhook.URL = "http://127.0.0.1:1/hook"
	cfg.Notify.Redis.Addr = "127.0.0.1:1"

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	r, err := a.buildRouter()
	require.NoError(t, err)
	require.NotNil(t, a.redis, "redis client created for the discord route")

	// The fallback and "none" routes deliver without touching the network.
	assert.NoError(t, r.Deliver(context.Background(), "c", "cli", replyFixture()))
	assert.NoError(t, r.Deliver(context.Background(), "c", "quiet", replyFixture()))

	cfg.Notify.Sink = "pigeon"
	_, err = a.buildRouter()
	assert.Error(t, err)
}

func replyFixture() notify.Reply {
	return notify.Reply{JobID: 1, Kind: notify.KindSuccess, Text: "ok"}
}
