package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/promptq/internal/app"
	"github.com/mattjoyce/promptq/internal/config"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/notify"
	"github.com/mattjoyce/promptq/internal/provider"
	"github.com/mattjoyce/promptq/internal/queue"
)

const (
	adminToken    = "e2e-admin"
	webhookSecret = "e2e-secret"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// fakeClaude copies the stand-in CLI somewhere executable.
func fakeClaude(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake provider is a shell script")
	}
	src, err := os.ReadFile(filepath.Join("testdata", "fake-claude.sh"))
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(dst, src, 0o755))
	return dst
}

// chatBot records signed webhook deliveries like a chat integration would.
type chatBot struct {
	mu sync.Mutex
	by map[int64]notify.Delivery
}

func (b *chatBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.Header.Get(notify.HeaderSignature) != notify.Sign(body, webhookSecret) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var d notify.Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.by[d.JobID] = d
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *chatBot) delivery(id int64) (notify.Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.by[id]
	return d, ok
}

type stack struct {
	app *app.App
	api *httptest.Server
	bot *chatBot
}

func newStack(t *testing.T, timeout time.Duration) *stack {
	t.Helper()
	bot := &chatBot{by: make(map[int64]notify.Delivery)}
	hook := httptest.NewServer(bot)
	t.Cleanup(hook.Close)

	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(t.TempDir(), "promptq.db")
	cfg.Executor.Timeout = timeout
	cfg.Executor.KillGrace = 500 * time.Millisecond
	cfg.Worker.Interval = 50 * time.Millisecond
	cfg.DefaultProvider = "claude"
	cfg.Providers = map[string]config.ProviderConfig{
		"claude": {Type: provider.TypeClaude, Binary: fakeClaude(t)},
	}
	cfg.Notify.Sink = config.SinkLog
	cfg.Notify.Routes = map[string]string{"slack": config.SinkWebhook}
	cfg.Notify.Webhook = config.WebhookConfig{URL: hook.URL, Secret: webhookSecret}
	cfg.API.Enabled = true
	cfg.API.Token = adminToken
	cfg.API.RateLimit = config.RateLimitConfig{}

	a, err := app.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Close() })

	api := httptest.NewServer(a.APIServer().Handler())
	t.Cleanup(api.Close)
	return &stack{app: a, api: api, bot: bot}
}

func (s *stack) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.api.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *stack) enqueue(t *testing.T, prompt string) *queue.Job {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/jobs", map[string]string{
		"prompt": prompt, "channel_id": "C42", "platform": "slack",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var job queue.Job
	require.NoError(t, json.Unmarshal(body, &job))
	return &job
}

func (s *stack) waitDelivery(t *testing.T, id int64) notify.Delivery {
	t.Helper()
	var d notify.Delivery
	require.Eventually(t, func() bool {
		var ok bool
		d, ok = s.bot.delivery(id)
		return ok
	}, 15*time.Second, 25*time.Millisecond, "no delivery for job %d", id)
	return d
}

func (s *stack) job(t *testing.T, id int64) *queue.Job {
	t.Helper()
	resp, body := s.do(t, http.MethodGet, "/jobs/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var job queue.Job
	require.NoError(t, json.Unmarshal(body, &job))
	return &job
}

func TestPromptRoundTrip(t *testing.T) {
	s := newStack(t, 10*time.Second)

	job := s.enqueue(t, "hello")
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Equal(t, "claude", job.ProviderName)

	d := s.waitDelivery(t, job.ID)
	assert.Equal(t, notify.KindSuccess, d.Kind)
	assert.Equal(t, "Echo: hello", d.Text)
	assert.Equal(t, "C42", d.ChannelID)
	assert.Equal(t, "slack", d.Platform)

	got := s.job(t, job.ID)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Echo: hello", *got.Result)
	require.NotNil(t, got.ResultModel)
	assert.Equal(t, "claude-fake-1", *got.ResultModel)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(*got.StartedAt))

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `promptq_jobs_finished_total{status="completed"} 1`)
}

func TestProviderFailureIsReported(t *testing.T) {
	s := newStack(t, 10*time.Second)

	job := s.enqueue(t, "please fail")
	d := s.waitDelivery(t, job.ID)
	assert.Equal(t, notify.KindFailure, d.Kind)
	assert.Equal(t, "Job #1 failed: boom", d.Text)

	got := s.job(t, job.ID)
	assert.Equal(t, queue.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	assert.Nil(t, got.Result)

	// Retry queues a fresh job with the same prompt and channel.
	resp, body := s.do(t, http.MethodPost, "/jobs/1/retry", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var retried queue.Job
	require.NoError(t, json.Unmarshal(body, &retried))
	assert.Equal(t, int64(2), retried.ID)
	assert.Equal(t, "please fail", retried.Prompt)
	s.waitDelivery(t, retried.ID)
}

func TestTimeoutFailsJobAndQueueMovesOn(t *testing.T) {
	s := newStack(t, 500*time.Millisecond)

	hung := s.enqueue(t, "hang forever")
	next := s.enqueue(t, "after")

	d := s.waitDelivery(t, hung.ID)
	assert.Equal(t, notify.KindFailure, d.Kind)
	assert.Contains(t, d.Text, "timed out after 500ms")

	d = s.waitDelivery(t, next.ID)
	assert.Equal(t, notify.KindSuccess, d.Kind)
	assert.Equal(t, "Echo: after", d.Text)

	resp, body := s.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st queue.Stats
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, queue.Stats{Completed: 1, Failed: 1, Total: 2}, st)
}
