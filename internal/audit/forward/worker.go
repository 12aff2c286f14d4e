// Package forward exports public audit records to an external sink without
// putting the sink on the write path.
package forward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"devguard/internal/audit"
	"devguard/internal/audit/metrics"
)

// Sink delivers one public record downstream.
type Sink interface {
	Forward(ctx context.Context, rec audit.Record) error
}

// Forwarder buffers public records and hands them to a Sink from a single
// background loop. When the buffer is full or the sink keeps failing,
// records are dropped and counted; the local log is the source of truth.
type Forwarder struct {
	sink    Sink
	inbox   chan audit.Record
	breaker *breaker
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Forwarder.
type Option func(*Forwarder)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithBufferSize sets how many records may wait for export.
func WithBufferSize(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.inbox = make(chan audit.Record, n)
		}
	}
}

// WithBreaker tunes the failure threshold and cooldown of the circuit breaker.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(f *Forwarder) {
		f.breaker = newBreaker(threshold, cooldown)
	}
}

// WithSendTimeout bounds a single sink call.
func WithSendTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New creates a forwarder over sink.
func New(sink Sink, opts ...Option) (*Forwarder, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	f := &Forwarder{
		sink:    sink,
		inbox:   make(chan audit.Record, 1024),
		breaker: newBreaker(0, 0),
		timeout: 5 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Export enqueues rec without blocking.
func (f *Forwarder) Export(rec audit.Record) {
	select {
	case f.inbox <- rec:
	default:
		f.metrics.IncForwardDropped()
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left
// with a bounded grace period.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.flush()
			return nil
		case rec := <-f.inbox:
			f.send(ctx, rec)
		}
	}
}

func (f *Forwarder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	for {
		select {
		case rec := <-f.inbox:
			if ctx.Err() != nil {
				f.metrics.IncForwardDropped()
				continue
			}
			f.send(ctx, rec)
		default:
			return
		}
	}
}

func (f *Forwarder) send(ctx context.Context, rec audit.Record) {
	if !f.breaker.allow() {
		f.metrics.IncForwardDropped()
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	err := f.sink.Forward(sendCtx, rec)
	cancel()
	if err != nil {
		f.metrics.IncForwardFailure()
		open := f.breaker.failure()
		f.metrics.SetForwardBreaker(open)
		f.logger.WarnContext(ctx, "public audit export failed",
			"record_id", rec.ID,
			"operation", rec.Operation,
			"circuit_open", open,
			"error", err,
		)
		return
	}
	f.breaker.success()
	f.metrics.SetForwardBreaker(false)
}
