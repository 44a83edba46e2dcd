package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flightsink/internal/logging"

	"github.com/IBM/sarama"
)

// SaramaDriver bridges a sarama consumer group into poll/commit calls.
// Claims push messages into msgs; Poll drains it. Offsets are committed with
// explicit OffsetCommitRequests so per-partition failures reach the caller.
type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup

	msgs chan *sarama.ConsumerMessage

	mu   sync.Mutex
	sess sarama.ConsumerGroupSession

	commitMu sync.Mutex
	marks    *watermark
	send     func(*sarama.OffsetCommitRequest) (*sarama.OffsetCommitResponse, error)

	asyncCh chan asyncCommit
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

type asyncCommit struct {
	offsets Offsets
	cb      CommitCallback
}

func newSaramaConfig(config Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "latest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return sc, nil
}

func (d *SaramaDriver) init(config Config) {
	d.cfg = config
	d.msgs = make(chan *sarama.ConsumerMessage, config.MaxPollRecords)
	d.marks = newWatermark()
	d.asyncCh = make(chan asyncCommit, config.CommitQueue)
	d.done = make(chan struct{})
	d.send = d.sendToCoordinator

	d.wg.Add(1)
	go d.commitWorker()
}

func (d *SaramaDriver) Configure(config Config) error {
	sc, err := newSaramaConfig(config)
	if err != nil {
		return err
	}
	cl, err := sarama.NewClient(config.Brokers, sc)
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroupFromClient(config.GroupID, cl)
	if err != nil {
		return errors.Join(err, cl.Close())
	}
	d.cl, d.group = cl, group
	// The commit worker only starts once there is a group to commit to.
	d.init(config)
	return nil
}

// Subscribe starts the group session loop in the background.
func (d *SaramaDriver) Subscribe(topics []string) error {
	if d.group == nil {
		return errors.New("sarama-driver: not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	handler := &groupHandler{driver: d}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for {
			if err := d.group.Consume(ctx, topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logging.L().Error("sarama-driver: consume", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		for err := range d.group.Errors() {
			logging.L().Warn("sarama-driver: group error", "error", err)
		}
	}()
	return nil
}

func (d *SaramaDriver) Poll(ctx context.Context, timeout time.Duration) ([]RawRecord, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []RawRecord
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	case msg := <-d.msgs:
		out = append(out, toRawRecord(msg))
	}
	for len(out) < d.cfg.MaxPollRecords {
		select {
		case msg := <-d.msgs:
			out = append(out, toRawRecord(msg))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (d *SaramaDriver) CommitSync(ctx context.Context, offsets Offsets) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.commit(offsets)
}

// CommitAsync queues the commit for the background worker. Commits run one
// at a time in queue order.
func (d *SaramaDriver) CommitAsync(offsets Offsets, cb CommitCallback) {
	req := asyncCommit{offsets: offsets.Clone(), cb: cb}
	select {
	case <-d.done:
		if cb != nil {
			cb(req.offsets, ErrClosed)
		}
		return
	default:
	}
	select {
	case d.asyncCh <- req:
	default:
		if cb != nil {
			cb(req.offsets, ErrCommitQueueFull)
		}
	}
}

func (d *SaramaDriver) Close() error {
	var errs []error
	d.once.Do(func() {
		if d.done != nil {
			close(d.done)
		}
		if d.cancel != nil {
			d.cancel()
		}
		if d.group != nil {
			errs = append(errs, d.group.Close())
		}
		if d.cl != nil && !d.cl.Closed() {
			errs = append(errs, d.cl.Close())
		}
		d.wg.Wait()
	})
	return errors.Join(errs...)
}

func (d *SaramaDriver) commitWorker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case req := <-d.asyncCh:
			err := d.commit(req.offsets)
			if req.cb != nil {
				req.cb(req.offsets, err)
			}
		}
	}
}

func (d *SaramaDriver) commit(offsets Offsets) error {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	pending := d.marks.pending(offsets)
	if len(pending) == 0 {
		return nil
	}
	sess := d.session()
	if sess == nil {
		return ErrNoSession
	}

	req := &sarama.OffsetCommitRequest{
		Version:                 2,
		ConsumerGroup:           d.cfg.GroupID,
		ConsumerGroupGeneration: sess.GenerationID(),
		ConsumerID:              sess.MemberID(),
		RetentionTime:           -1,
	}
	for tp, off := range pending {
		req.AddBlock(tp.Topic, tp.Partition, off, 0, "")
	}
	resp, err := d.send(req)
	if err != nil {
		return fmt.Errorf("sarama-driver: commit: %w", err)
	}

	var errs []error
	for topic, parts := range resp.Errors {
		for partition, kerr := range parts {
			if kerr == sarama.ErrNoError {
				continue
			}
			errs = append(errs, fmt.Errorf("%s[%d]: %w", topic, partition, kerr))
			delete(pending, TopicPartition{Topic: topic, Partition: partition})
		}
	}
	d.marks.advance(pending)
	return errors.Join(errs...)
}

func (d *SaramaDriver) sendToCoordinator(req *sarama.OffsetCommitRequest) (*sarama.OffsetCommitResponse, error) {
	b, err := d.cl.Coordinator(d.cfg.GroupID)
	if err != nil {
		return nil, err
	}
	resp, err := b.CommitOffset(req)
	if err != nil {
		_ = d.cl.RefreshCoordinator(d.cfg.GroupID)
		return nil, err
	}
	return resp, nil
}

func (d *SaramaDriver) session() sarama.ConsumerGroupSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

func (d *SaramaDriver) setSession(s sarama.ConsumerGroupSession) {
	d.mu.Lock()
	d.sess = s
	d.mu.Unlock()
}

func toRawRecord(m *sarama.ConsumerMessage) RawRecord {
	return RawRecord{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Value:     string(m.Value),
	}
}

type groupHandler struct {
	driver *SaramaDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.driver.setSession(sess)
	logging.L().Info("sarama-driver: session started",
		"generation", sess.GenerationID(), "member", sess.MemberID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.driver.setSession(nil)
	logging.L().Info("sarama-driver: rebalance – session ended", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.driver.msgs <- msg:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}
