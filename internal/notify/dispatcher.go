// Package notify delivers job outcomes back to the channel a job came from.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/metrics"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

// Reply is the payload handed to the delivery layer.
type Reply struct {
	JobID int64  `json:"job_id"`
	Kind  Kind   `json:"kind"`
	Text  string `json:"text"`
}

// Callback delivers reply to a channel on a platform.
type Callback func(ctx context.Context, channelID, platform string, reply Reply) error

const DefaultTimeout = 10 * time.Second

var ErrAlreadyRegistered = errors.New("notification callback already registered")

// Dispatcher holds the single delivery callback. Delivery is best-effort:
// Dispatch never returns an error and never panics.
type Dispatcher struct {
	mu      sync.RWMutex
	cb      Callback
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(n *Dispatcher) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Dispatcher) { n.metrics = m }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: DefaultTimeout, logger: log.WithComponent("notify")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs cb. Only the first registration wins.
func (d *Dispatcher) Register(cb Callback) error {
	if cb == nil {
		return errors.New("nil notification callback")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cb != nil {
		return ErrAlreadyRegistered
	}
	d.cb = cb
	return nil
}

func (d *Dispatcher) Registered() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cb != nil
}

// Dispatch invokes the callback with a bounded context. Errors and panics
// are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, channelID, platform string, reply Reply) {
	d.mu.RLock()
	cb := d.cb
	d.mu.RUnlock()

	logger := d.logger.With("job_id", reply.JobID, "platform", platform, "kind", reply.Kind)
	if cb == nil {
		logger.Debug("no notification callback registered")
		d.metrics.Notified("skipped")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := safeCall(ctx, cb, channelID, platform, reply); err != nil {
		logger.Warn("notification delivery failed", "error", err)
		d.metrics.Notified("error")
		return
	}
	logger.Debug("notification delivered")
	d.metrics.Notified("ok")
}

func safeCall(ctx context.Context, cb Callback, channelID, platform string, reply Reply) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("notification callback panicked: %s", fmt.Sprint(r))
		}
	}()
	return cb(ctx, channelID, platform, reply)
}
