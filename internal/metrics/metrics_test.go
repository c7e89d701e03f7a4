package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/promptq/internal/queue"
)

func TestCounters(t *testing.T) {
	m := New("test")
	m.Enqueued()
	m.Enqueued()
	m.Claimed()
	m.Finished(queue.StatusCompleted, 2*time.Second)
	m.Finished(queue.StatusFailed, 0)
	m.Notified("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsClaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.JobDuration))
}

func TestSetQueue(t *testing.T) {
	m := New("test")
	m.SetQueue(queue.Stats{Pending: 3, Running: 1, Completed: 5, Failed: 2, Total: 11})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueJobs.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueJobs.WithLabelValues("running")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueJobs.WithLabelValues("failed")))
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New("")
	b := New("")
	a.Enqueued()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.JobsEnqueued))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Enqueued()
	m.Claimed()
	m.Finished(queue.StatusCompleted, time.Second)
	m.Notified("error")
	m.SetQueue(queue.Stats{})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("promptq")
	m.Enqueued()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "promptq_jobs_enqueued_total 1")
}
