package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type commitDoneFn = func(*kgo.Client, *kmsg.OffsetCommitRequest, *kmsg.OffsetCommitResponse, error)

// kgoClient is the subset of *kgo.Client the driver uses.
type kgoClient interface {
	AddConsumeTopics(topics ...string)
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitOffsetsSync(ctx context.Context, uncommitted map[string]map[int32]kgo.EpochOffset, onDone commitDoneFn)
	CommitOffsets(ctx context.Context, uncommitted map[string]map[int32]kgo.EpochOffset, onDone commitDoneFn)
	Close()
}

// FranzDriver consumes with franz-go. Its poll and commit primitives map
// directly onto the Adapter contract.
type FranzDriver struct {
	cfg   Config
	cl    kgoClient
	marks *watermark
}

func franzOptions(config Config) []kgo.Opt {
	offset := kgo.NewOffset().AtStart()
	if config.StartFrom == "latest" {
		offset = kgo.NewOffset().AtEnd()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.ConsumerGroup(config.GroupID),
		kgo.ConsumeTopics(config.Topics...),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	}
	if config.TLSEn {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if config.SASLUser != "" {
		opts = append(opts, kgo.SASL(plain.Auth{User: config.SASLUser, Pass: config.SASLPass}.AsMechanism()))
	}
	return opts
}

func (d *FranzDriver) Configure(config Config) error {
	cl, err := kgo.NewClient(franzOptions(config)...)
	if err != nil {
		return fmt.Errorf("franz-driver: client: %w", err)
	}
	d.cfg, d.cl, d.marks = config, cl, newWatermark()
	return nil
}

// Subscribe adds topics beyond the configured ones; configured topics are
// consumed from the start.
func (d *FranzDriver) Subscribe(topics []string) error {
	if d.cl == nil {
		return errors.New("franz-driver: not configured")
	}
	d.cl.AddConsumeTopics(topics...)
	return nil
}

func (d *FranzDriver) Poll(ctx context.Context, timeout time.Duration) ([]RawRecord, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := d.cl.PollRecords(pctx, d.cfg.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		errs = append(errs, fmt.Errorf("%s[%d]: %w", topic, partition, err))
	})

	out := make([]RawRecord, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, RawRecord{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       string(r.Key),
			Value:     string(r.Value),
		})
	})
	if len(out) == 0 && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, errors.Join(errs...)
}

func (d *FranzDriver) CommitSync(ctx context.Context, offsets Offsets) error {
	pending := d.marks.pending(offsets)
	if len(pending) == 0 {
		return nil
	}
	var result error
	d.cl.CommitOffsetsSync(ctx, toEpochOffsets(pending), func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		result = d.settle(pending, resp, err)
	})
	return result
}

func (d *FranzDriver) CommitAsync(offsets Offsets, cb CommitCallback) {
	pending := d.marks.pending(offsets)
	if len(pending) == 0 {
		if cb != nil {
			cb(offsets.Clone(), nil)
		}
		return
	}
	d.cl.CommitOffsets(context.Background(), toEpochOffsets(pending), func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		err = d.settle(pending, resp, err)
		if cb != nil {
			cb(pending, err)
		}
	})
}

func (d *FranzDriver) Close() error {
	if d.cl != nil {
		d.cl.Close()
	}
	return nil
}

// settle advances the watermark for partitions the broker accepted and
// returns the failures.
func (d *FranzDriver) settle(pending Offsets, resp *kmsg.OffsetCommitResponse, err error) error {
	if err != nil {
		return fmt.Errorf("franz-driver: commit: %w", err)
	}
	accepted := pending.Clone()
	var errs []error
	if resp != nil {
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				if perr := kerr.ErrorForCode(p.ErrorCode); perr != nil {
					errs = append(errs, fmt.Errorf("%s[%d]: %w", t.Topic, p.Partition, perr))
					delete(accepted, TopicPartition{Topic: t.Topic, Partition: p.Partition})
				}
			}
		}
	}
	d.marks.advance(accepted)
	return errors.Join(errs...)
}

func toEpochOffsets(offsets Offsets) map[string]map[int32]kgo.EpochOffset {
	out := make(map[string]map[int32]kgo.EpochOffset)
	for tp, off := range offsets {
		parts, ok := out[tp.Topic]
		if !ok {
			parts = make(map[int32]kgo.EpochOffset)
			out[tp.Topic] = parts
		}
		parts[tp.Partition] = kgo.EpochOffset{Epoch: -1, Offset: off}
	}
	return out
}
