package queue

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/promptq/internal/storage"
)

// stepClock advances one millisecond per reading so rows get distinct,
// ordered timestamps.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock() *stepClock {
	return &stepClock{cur: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, opts...), dbPath
}

func req(prompt string) EnqueueRequest {
	return EnqueueRequest{
		Prompt:          prompt,
		ProviderName:    "claude",
		ChannelID:       "chan-1",
		ChannelPlatform: "cli",
	}
}

func TestEnqueueRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t)

	j, err := q.Enqueue(ctx, EnqueueRequest{
		Prompt:           "summarise README",
		ProviderName:     "claude",
		WorkingDirectory: "/srv/repo",
		ChannelID:        "C42",
		ChannelPlatform:  "slack",
	})
	require.NoError(t, err)
	assert.Positive(t, j.ID)
	assert.Equal(t, StatusPending, j.Status)
	assert.Nil(t, j.StartedAt)
	assert.Nil(t, j.CompletedAt)
	assert.Nil(t, j.Result)
	assert.Nil(t, j.Error)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "summarise README", got.Prompt)
	assert.Equal(t, "claude", got.ProviderName)
	assert.Equal(t, "/srv/repo", got.WorkDir())
	assert.Equal(t, "C42", got.ChannelID)
	assert.Equal(t, "slack", got.ChannelPlatform)
	assert.True(t, got.CreatedAt.Equal(j.CreatedAt))
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t, WithProviders(func(n string) bool { return n == "claude" }, "claude"))

	_, err := q.Enqueue(ctx, EnqueueRequest{Prompt: "  ", ChannelID: "c", ChannelPlatform: "cli"})
	assert.True(t, errors.Is(err, ErrInvalidRequest), "blank prompt: %v", err)

	_, err = q.Enqueue(ctx, EnqueueRequest{Prompt: "x", ChannelPlatform: "cli"})
	assert.True(t, errors.Is(err, ErrInvalidRequest), "missing channel: %v", err)

	_, err = q.Enqueue(ctx, EnqueueRequest{Prompt: "x", ProviderName: "gpt", ChannelID: "c", ChannelPlatform: "cli"})
	assert.True(t, errors.Is(err, ErrUnknownProvider), "unknown provider: %v", err)

	j, err := q.Enqueue(ctx, EnqueueRequest{Prompt: "x", ChannelID: "c", ChannelPlatform: "cli"})
	require.NoError(t, err)
	assert.Equal(t, "claude", j.ProviderName)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	q, _ := openStore(t)

	_, err := q.Get(context.Background(), 999)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestClaimFIFOAndSingleRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t, WithClock(newStepClock().Now))

	a, err := q.Enqueue(ctx, req("A"))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, req("B"))
	require.NoError(t, err)

	j, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, a.ID, j.ID)
	assert.Equal(t, StatusRunning, j.Status)
	require.NotNil(t, j.StartedAt)
	assert.False(t, j.StartedAt.Before(j.CreatedAt))

	// A is still running, so B must wait.
	none, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.MarkCompleted(ctx, a.ID, "done", "claude-sonnet"))

	j, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, b.ID, j.ID)
}

func TestClaimEmptyQueue(t *testing.T) {
	t.Parallel()
	q, _ := openStore(t)

	j, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestClaimConcurrentHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q1, dbPath := openStore(t)

	db2, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })
	q2 := New(db2)

	for i := 0; i < 3; i++ {
		_, err := q1.Enqueue(ctx, req("job"))
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		s := q1
		if i%2 == 1 {
			s = q2
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.Claim(ctx)
			// A busy database is a lost race, not a double claim.
			if err == nil && j != nil {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
	st, err := q1.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Running)
	assert.Equal(t, 2, st.Pending)
}

func TestMarkRequiresRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t)

	j, err := q.Enqueue(ctx, req("A"))
	require.NoError(t, err)

	err = q.MarkCompleted(ctx, j.ID, "early", "")
	assert.True(t, errors.Is(err, ErrNotRunning), "got %v", err)

	_, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, j.ID, "exit 1"))

	// A second outcome must not overwrite the first.
	err = q.MarkCompleted(ctx, j.ID, "late", "m")
	assert.True(t, errors.Is(err, ErrNotRunning), "got %v", err)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "exit 1", *got.Error)
	assert.Nil(t, got.Result)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(*got.StartedAt))

	err = q.MarkFailed(ctx, 12345, "x")
	assert.True(t, errors.Is(err, ErrJobNotFound), "got %v", err)
}

func TestMarkCompletedStoresModel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t)

	j, err := q.Enqueue(ctx, req("A"))
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(ctx, j.ID, "hello", "claude-opus"))

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "hello", *got.Result)
	assert.Equal(t, "claude-opus", *got.ResultModel)
	assert.Nil(t, got.Error)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t, WithClock(newStepClock().Now))

	a, err := q.Enqueue(ctx, req("A"))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, req("B"))
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := q.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, CancelledError, *got.Error)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	// Running jobs cannot be cancelled.
	_, err = q.Claim(ctx)
	require.NoError(t, err)
	ok, err = q.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.Cancel(ctx, 777)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestSequenceScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t, WithClock(newStepClock().Now))

	a, _ := q.Enqueue(ctx, req("A"))
	b, _ := q.Enqueue(ctx, req("B"))
	c, _ := q.Enqueue(ctx, req("C"))

	ok, err := q.Cancel(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)

	var order []int64
	for {
		j, err := q.Claim(ctx)
		require.NoError(t, err)
		if j == nil {
			break
		}
		order = append(order, j.ID)
		require.NoError(t, q.MarkCompleted(ctx, j.ID, "ok", ""))
	}
	assert.Equal(t, []int64{a.ID, c.ID}, order)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 2, Failed: 1, Total: 3}, st)
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	ok, _ := q.Enqueue(ctx, req("ok"))
	bad, _ := q.Enqueue(ctx, req("bad"))
	_, _ = q.Claim(ctx)
	require.NoError(t, q.MarkCompleted(ctx, ok.ID, "fine", ""))
	_, _ = q.Claim(ctx)
	require.NoError(t, q.MarkFailed(ctx, bad.ID, "boom"))

	st, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 0, Running: 0, Completed: 1, Failed: 1, Total: 2}, st)
}

func TestListFiltersAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t, WithClock(newStepClock().Now))

	first, _ := q.Enqueue(ctx, req("1"))
	other := req("2")
	other.ChannelID = "chan-2"
	second, _ := q.Enqueue(ctx, other)
	third, _ := q.Enqueue(ctx, req("3"))
	_, _ = q.Claim(ctx)

	all, err := q.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{third.ID, second.ID, first.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	pending, err := q.List(ctx, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	byChan, err := q.List(ctx, ListFilter{ChannelID: "chan-2"})
	require.NoError(t, err)
	require.Len(t, byChan, 1)
	assert.Equal(t, second.ID, byChan[0].ID)

	limited, err := q.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = q.List(ctx, ListFilter{Status: "exploded"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t)

	orig, _ := q.Enqueue(ctx, EnqueueRequest{
		Prompt: "again", ProviderName: "claude", WorkingDirectory: "/w",
		ChannelID: "c", ChannelPlatform: "slack",
	})

	_, err := q.Retry(ctx, orig.ID)
	assert.True(t, errors.Is(err, ErrNotTerminal))

	_, _ = q.Claim(ctx)
	require.NoError(t, q.MarkFailed(ctx, orig.ID, "boom"))

	retried, err := q.Retry(ctx, orig.ID)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, retried.ID)
	assert.Equal(t, StatusPending, retried.Status)
	assert.Equal(t, "again", retried.Prompt)
	assert.Equal(t, "/w", retried.WorkDir())
	assert.Equal(t, "slack", retried.ChannelPlatform)

	still, err := q.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, still.Status)
}

func TestClearFinished(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newStepClock()
	q, _ := openStore(t, WithClock(clock.Now))

	old, _ := q.Enqueue(ctx, req("old"))
	_, _ = q.Claim(ctx)
	require.NoError(t, q.MarkCompleted(ctx, old.ID, "x", ""))

	clock.Advance(2 * time.Hour)
	recent, _ := q.Enqueue(ctx, req("recent"))
	_, _ = q.Claim(ctx)
	require.NoError(t, q.MarkFailed(ctx, recent.ID, "x"))
	waiting, _ := q.Enqueue(ctx, req("waiting"))

	n, err := q.ClearFinished(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, old.ID)
	assert.True(t, errors.Is(err, ErrJobNotFound))

	n, err = q.ClearFinished(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, waiting.ID)
	assert.NoError(t, err)
}

func TestFailStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newStepClock()
	q, _ := openStore(t, WithClock(clock.Now))

	j, _ := q.Enqueue(ctx, req("stuck"))
	_, _ = q.Claim(ctx)

	reaped, err := q.FailStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, reaped)

	clock.Advance(11 * time.Minute)
	reaped, err = q.FailStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, j.ID, reaped[0].ID)
	assert.Equal(t, StatusFailed, reaped[0].Status)
	assert.Equal(t, LeaseExpiredError, *reaped[0].Error)

	// The reaped job frees the running slot.
	next, _ := q.Enqueue(ctx, req("next"))
	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, next.ID, claimed.ID)
}

func TestHasPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := openStore(t)

	has, err := q.HasPending(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, _ = q.Enqueue(ctx, req("x"))
	has, err = q.HasPending(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}
