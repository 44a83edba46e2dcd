package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"flightsink/internal/logging"
	"flightsink/internal/telemetry"
	"flightsink/source/kafka"
)

// Source is the part of a record source the runtime needs.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) ([]kafka.RawRecord, error)
	CommitSync(ctx context.Context, offsets kafka.Offsets) error
}

// Deserializer turns a raw value into its native form.
type Deserializer interface {
	Deserialize(ctx context.Context, data []byte) (any, error)
}

type Config struct {
	ApplicationID string
	PollTimeout   time.Duration
}

// Streams drives a Topology from a Source. Offsets are committed after every
// processed cycle; there is no batching and no sink.
type Streams struct {
	cfg   Config
	topo  *Topology
	src   Source
	deser Deserializer
	log   *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func New(cfg Config, topo *Topology, src Source, deser Deserializer) *Streams {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	return &Streams{
		cfg:    cfg,
		topo:   topo,
		src:    src,
		deser:  deser,
		log:    logging.Component("stream").With("application_id", cfg.ApplicationID),
		closed: make(chan struct{}),
	}
}

// Run processes records until ctx is cancelled or Close is called.
func (s *Streams) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.log.Info("streams started", "topics", s.topo.Topics())
	for ctx.Err() == nil {
		s.cycle(ctx)
	}
	s.log.Info("streams stopped")
	return nil
}

func (s *Streams) cycle(ctx context.Context) {
	recs, err := s.src.Poll(ctx, s.cfg.PollTimeout)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn("poll failed", "error", err)
	}
	if len(recs) == 0 {
		return
	}

	offsets := kafka.Offsets{}
	for _, rec := range recs {
		offsets.Advance(kafka.TopicPartition{Topic: rec.Topic, Partition: rec.Partition}, rec.Offset+1)
		val, err := s.deser.Deserialize(ctx, []byte(rec.Value))
		if err != nil {
			telemetry.StreamRecords.WithLabelValues("error").Inc()
			s.log.Warn("skipping undecodable record",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			continue
		}
		s.topo.Process(Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     val,
		})
		telemetry.StreamRecords.WithLabelValues("ok").Inc()
	}

	err = s.src.CommitSync(ctx, offsets)
	telemetry.Commits.WithLabelValues("stream", telemetry.Result(err)).Inc()
	if err != nil {
		s.log.Warn("commit failed", "offsets", offsets.String(), "error", err)
	}
}

// Close stops Run. It is safe to call more than once.
func (s *Streams) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
