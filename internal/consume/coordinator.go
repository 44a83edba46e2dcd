package consume

import (
	"context"
	"log/slog"
	"time"

	"flightsink/internal/batch"
	"flightsink/internal/flight"
	"flightsink/internal/telemetry"
	"flightsink/source/kafka"
)

// AsyncScope selects which offsets the per-cycle async commit carries.
type AsyncScope string

const (
	// ScopeFlushed commits only offsets covered by a successful flush.
	ScopeFlushed AsyncScope = "flushed"
	// ScopeConsumed commits every offset polled so far, flushed or not.
	ScopeConsumed AsyncScope = "consumed"
)

// Committer is the commit half of a record source.
type Committer interface {
	CommitSync(ctx context.Context, offsets kafka.Offsets) error
	CommitAsync(offsets kafka.Offsets, cb kafka.CommitCallback)
}

// Sink durably stores a batch; it either fully succeeds or fails.
type Sink interface {
	InsertBatch(ctx context.Context, records []flight.Event, database, collection string) error
}

// Coordinator couples sink success to offset acknowledgement. The sync
// commit of a cycle is only issued after the sink accepted the batch.
type Coordinator struct {
	src        Committer
	sink       Sink
	database   string
	collection string
	scope      AsyncScope
	ledger     *Ledger
	log        *slog.Logger
}

func NewCoordinator(src Committer, sink Sink, database, collection string, scope AsyncScope, log *slog.Logger) *Coordinator {
	if scope == "" {
		scope = ScopeFlushed
	}
	return &Coordinator{
		src:        src,
		sink:       sink,
		database:   database,
		collection: collection,
		scope:      scope,
		ledger:     NewLedger(),
		log:        log,
	}
}

// Observe records that rec was consumed this cycle.
func (c *Coordinator) Observe(rec kafka.RawRecord) { c.ledger.Observe(rec) }

// Commit runs the commit step of one poll cycle: an async commit always,
// then a flush and sync commit if buf reached minBatchSize. It returns the
// number of records flushed.
func (c *Coordinator) Commit(ctx context.Context, buf *batch.Buffer, minBatchSize int) (int, error) {
	c.commitAsync()
	if !buf.IsFull(minBatchSize) {
		return 0, nil
	}
	return c.Flush(ctx, buf)
}

// Flush writes the buffered batch, drains the buffer and commits
// synchronously. On sink failure the buffer is left untouched and nothing
// is committed.
func (c *Coordinator) Flush(ctx context.Context, buf *batch.Buffer) (int, error) {
	records := buf.Records()
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	err := c.sink.InsertBatch(ctx, records, c.database, c.collection)
	telemetry.FlushLatency.Observe(time.Since(start).Seconds())
	telemetry.Flushes.WithLabelValues(telemetry.Result(err)).Inc()
	if err != nil {
		return 0, &PersistenceError{Records: len(records), Err: err}
	}
	telemetry.FlushedRecords.Add(float64(len(records)))

	c.ledger.Promote()
	buf.Drain()

	offsets := c.ledger.Durable()
	err = c.src.CommitSync(ctx, offsets)
	telemetry.Commits.WithLabelValues("sync", telemetry.Result(err)).Inc()
	if err != nil {
		return len(records), &CommitError{Err: err}
	}
	c.log.Info("batch flushed", "records", len(records), "offsets", offsets.String())
	return len(records), nil
}

func (c *Coordinator) commitAsync() {
	offsets := c.ledger.Durable()
	if c.scope == ScopeConsumed {
		offsets = c.ledger.Consumed()
	}
	log := c.log
	c.src.CommitAsync(offsets, func(committed kafka.Offsets, err error) {
		telemetry.Commits.WithLabelValues("async", telemetry.Result(err)).Inc()
		if err != nil {
			log.Warn("async commit failed", "offsets", committed.String(), "error", err)
			return
		}
		log.Debug("async commit", "offsets", committed.String())
	})
}
