package kafka

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSession is returned by a commit issued while the consumer holds no
	// group generation (before the first assignment or mid-rebalance).
	ErrNoSession = errors.New("kafka: no active group session")
	// ErrCommitQueueFull is reported to an async commit callback when the
	// driver could not queue the request.
	ErrCommitQueueFull = errors.New("kafka: async commit queue full")
	// ErrClosed is returned once the driver has been closed.
	ErrClosed = errors.New("kafka: driver closed")
)

// RawRecord is one undecoded record from a poll cycle.
type RawRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     string
}

// CommitCallback is invoked once an async commit completes. It runs on a
// driver goroutine and must not touch consumer-loop state.
type CommitCallback func(Offsets, error)

// Adapter is the poll/commit view of a broker consumer.
type Adapter interface {
	Configure(Config) error
	Subscribe(topics []string) error
	// Poll waits up to timeout for records. Zero records is not an error.
	// A driver may return records together with a non-nil error when only
	// part of the fetch failed.
	Poll(ctx context.Context, timeout time.Duration) ([]RawRecord, error)
	CommitSync(ctx context.Context, offsets Offsets) error
	CommitAsync(offsets Offsets, cb CommitCallback)
	Close() error
}
