package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mattjoyce/promptq/internal/log"
)

// Sink is one delivery transport.
type Sink interface {
	Deliver(ctx context.Context, channelID, platform string, reply Reply) error
}

// Delivery is the wire form sent by the webhook and redis sinks.
type Delivery struct {
	JobID     int64     `json:"job_id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	ChannelID string    `json:"channel_id"`
	Platform  string    `json:"platform"`
	SentAt    time.Time `json:"sent_at"`
}

func newDelivery(channelID, platform string, reply Reply) Delivery {
	return Delivery{
		JobID:     reply.JobID,
		Kind:      reply.Kind,
		Text:      reply.Text,
		ChannelID: channelID,
		Platform:  platform,
		SentAt:    time.Now().UTC(),
	}
}

var ErrNoRoute = errors.New("no notification sink for platform")

// Router sends each reply to the sink registered for its platform, or to
// the fallback when none is.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Sink
	fallback Sink
}

func NewRouter(fallback Sink) *Router {
	return &Router{routes: make(map[string]Sink), fallback: fallback}
}

func (r *Router) Route(platform string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[platform] = s
}

// Deliver has the Callback signature so a Router can be registered directly.
func (r *Router) Deliver(ctx context.Context, channelID, platform string, reply Reply) error {
	r.mu.RLock()
	s, ok := r.routes[platform]
	if !ok {
		s = r.fallback
	}
	r.mu.RUnlock()
	if s == nil {
		return errors.Mark(errors.Newf("platform %q", platform), ErrNoRoute)
	}
	return s.Deliver(ctx, channelID, platform, reply)
}

// LogSink writes the reply as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = log.WithComponent("notify.log")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, channelID, platform string, reply Reply) error {
	s.logger.Info("job notification",
		"job_id", reply.JobID,
		"kind", reply.Kind,
		"channel_id", channelID,
		"platform", platform,
		"text_len", len(reply.Text),
	)
	return nil
}

// Discard drops every reply. It backs the "none" sink.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Deliver(context.Context, string, string, Reply) error { return nil }
