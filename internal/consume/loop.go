// Package consume implements the batched consumption loop: poll, decode,
// buffer, flush and commit, with at-least-once delivery to the sink.
package consume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flightsink/internal/batch"
	"flightsink/internal/flight"
	"flightsink/internal/logging"
	"flightsink/internal/retry"
	"flightsink/internal/telemetry"
	"flightsink/source/kafka"
)

// Source is the poll/commit view of the broker consumer.
type Source interface {
	Committer
	Poll(ctx context.Context, timeout time.Duration) ([]kafka.RawRecord, error)
}

type Config struct {
	Database     string
	Collection   string
	MinBatchSize int
	PollTimeout  time.Duration
	AsyncScope   AsyncScope
	// Retry bounds consecutive flush failures. MaxAttempts failures in a
	// row end Run with ErrFlushRetriesExhausted.
	Retry retry.Config
	// FlushOnShutdown attempts one last flush of a partial batch when the
	// loop is cancelled. Off by default: unflushed records are redelivered.
	FlushOnShutdown bool
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 200
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Loop owns the source, the buffer and the coordinator. Everything except
// async commit callbacks runs on the goroutine that calls Run.
type Loop struct {
	cfg   Config
	src   Source
	buf   *batch.Buffer
	coord *Coordinator
	log   *slog.Logger

	failures int
	wait     func(context.Context, time.Duration) error
}

func NewLoop(cfg Config, src Source, sink Sink) *Loop {
	cfg.applyDefaults()
	log := logging.Component("consume")
	return &Loop{
		cfg:   cfg,
		src:   src,
		buf:   batch.New(cfg.MinBatchSize),
		coord: NewCoordinator(src, sink, cfg.Database, cfg.Collection, cfg.AsyncScope, log),
		log:   log,
		wait:  retry.Sleep,
	}
}

// Run polls until ctx is cancelled (nil) or the flush retry budget is spent.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("consume loop started",
		"min_batch_size", l.cfg.MinBatchSize,
		"poll_timeout", l.cfg.PollTimeout,
		"async_scope", l.coord.scope)
	for {
		if ctx.Err() != nil {
			l.shutdown(ctx)
			return nil
		}
		if err := l.Cycle(ctx); err != nil {
			return err
		}
	}
}

// Cycle runs one poll cycle. It only returns an error when the loop must
// stop.
func (l *Loop) Cycle(ctx context.Context) error {
	recs, err := l.src.Poll(ctx, l.cfg.PollTimeout)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		l.log.Warn("poll failed", "error", err)
	}
	telemetry.RecordsPolled.Add(float64(len(recs)))

	for _, rec := range recs {
		l.coord.Observe(rec)
		ev, err := flight.Decode(rec.Value)
		if err != nil {
			telemetry.DecodeErrors.Inc()
			l.log.Warn("skipping malformed record",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			continue
		}
		l.log.Debug("record", "value", rec.Key+","+rec.Value)
		l.buf.Append(ev)
	}
	telemetry.BufferSize.Set(float64(l.buf.Size()))

	flushed, err := l.coord.Commit(ctx, l.buf, l.cfg.MinBatchSize)
	telemetry.BufferSize.Set(float64(l.buf.Size()))

	var pe *PersistenceError
	var ce *CommitError
	switch {
	case errors.As(err, &pe):
		if ctx.Err() != nil {
			// Cancelled mid-write: not a sink failure. The batch stays
			// buffered for shutdown to handle.
			return nil
		}
		return l.flushFailed(ctx, pe)
	case errors.As(err, &ce):
		l.failures = 0
		l.log.Error("sync commit failed after durable flush; batch may be redelivered",
			"records", flushed, "error", ce.Err)
	case err != nil:
		return err
	case flushed > 0:
		l.failures = 0
	}
	return nil
}

// flushFailed applies the bounded retry policy. The batch stays buffered
// and is retried on the next cycle after a backoff.
func (l *Loop) flushFailed(ctx context.Context, pe *PersistenceError) error {
	l.failures++
	if l.failures >= l.cfg.Retry.MaxAttempts {
		l.log.Error("giving up on batch", "records", pe.Records, "attempts", l.failures, "error", pe.Err)
		return fmt.Errorf("%w: %d consecutive failures: %w", ErrFlushRetriesExhausted, l.failures, pe)
	}
	backoff := l.cfg.Retry.Backoff(l.failures - 1)
	l.log.Error("flush failed, batch retained",
		"records", pe.Records, "attempt", l.failures, "retry_in", backoff, "error", pe.Err)
	if err := l.wait(ctx, backoff); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (l *Loop) shutdown(ctx context.Context) {
	pending := l.buf.Size()
	if pending == 0 {
		l.log.Info("consume loop stopped")
		return
	}
	if !l.cfg.FlushOnShutdown {
		if l.coord.scope == ScopeConsumed {
			l.log.Warn("consume loop stopped with unflushed records; their offsets may already be committed and they will not be redelivered",
				"records", pending, "async_scope", l.coord.scope)
			return
		}
		l.log.Warn("consume loop stopped with unflushed records; they will be redelivered", "records", pending)
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ShutdownTimeout)
	defer cancel()
	n, err := l.coord.Flush(sctx, l.buf)
	if err != nil {
		l.log.Error("final flush failed", "records", pending, "error", err)
		return
	}
	l.log.Info("consume loop stopped after final flush", "records", n)
}

// Buffered reports the number of records waiting for a flush.
func (l *Loop) Buffered() int { return l.buf.Size() }
