package jobs

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/metrics"
	"github.com/mattjoyce/promptq/internal/queue"
	"github.com/mattjoyce/promptq/internal/storage"
)

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

func newService(t *testing.T) (*Service, *queue.Store, *events.Hub, *metrics.Metrics, *countingWaker) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := queue.New(db)
	hub := events.NewHub(16)
	m := metrics.New("test")
	w := &countingWaker{}
	return NewService(store, WithEvents(hub), WithMetrics(m), WithWaker(w)), store, hub, m, w
}

func enqueueReq(prompt string) queue.EnqueueRequest {
	return queue.EnqueueRequest{Prompt: prompt, ProviderName: "claude", ChannelID: "C1", ChannelPlatform: "slack"}
}

func TestServiceEnqueuePublishesAndWakes(t *testing.T) {
	ctx := context.Background()
	svc, _, hub, m, w := newService(t)

	job, err := svc.Enqueue(ctx, enqueueReq("hello"))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.JobEnqueued, evs[0].Type)
	assert.Equal(t, int32(1), w.n.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsEnqueued))

	_, err = svc.Enqueue(ctx, enqueueReq("  "))
	assert.True(t, errors.Is(err, queue.ErrInvalidRequest))
	assert.Len(t, hub.SnapshotSince(0), 1, "rejected jobs publish nothing")
	assert.Equal(t, int32(1), w.n.Load())
}

func TestServiceCancel(t *testing.T) {
	ctx := context.Background()
	svc, _, hub, _, _ := newService(t)

	job, err := svc.Enqueue(ctx, enqueueReq("hello"))
	require.NoError(t, err)

	ok, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.Equal(t, events.JobCancelled, evs[1].Type)

	_, err = svc.Cancel(ctx, 999)
	assert.True(t, errors.Is(err, queue.ErrJobNotFound))
}

func TestServiceRetryAndStats(t *testing.T) {
	ctx := context.Background()
	svc, store, hub, m, w := newService(t)

	job, err := svc.Enqueue(ctx, enqueueReq("hello"))
	require.NoError(t, err)

	_, err = svc.Retry(ctx, job.ID)
	assert.True(t, errors.Is(err, queue.ErrNotTerminal))

	claimed, err := store.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, claimed.ID, "boom"))

	retried, err := svc.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retried.ID)
	assert.Equal(t, "hello", retried.Prompt)
	assert.Equal(t, int32(2), w.n.Load())
	assert.Len(t, hub.SnapshotSince(0), 2)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Pending: 1, Failed: 1, Total: 2}, st)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueJobs.WithLabelValues("pending")))
}

func TestServiceCancelLogsOnce(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc := NewService(queue.New(db, queue.WithLogger(logger)), WithLogger(logger))

	job, err := svc.Enqueue(ctx, enqueueReq("cancel me"))
	require.NoError(t, err)
	ok, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, strings.Count(buf.String(), `"msg":"job cancelled"`))
}
