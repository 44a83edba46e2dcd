package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"flightsink/internal/flight"
	"flightsink/sink"

	"github.com/IBM/sarama"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`         // empty = "<database>.<collection>"
	Acks    int16    `yaml:"required_acks"` // 1 or -1; unset waits for all replicas
}

type driver struct {
	cfg  Config
	p    sarama.SyncProducer
	once sync.Once
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka-sink: brokers are required")
	}
	d.cfg = cfg

	p, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig(cfg))
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p = p
	return nil
}

func newProducerConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	if cfg.Acks == 0 {
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	return sc
}

// InsertBatch republishes records as JSON keyed by icao24. The batch counts
// as stored only when every message was acknowledged.
func (d *driver) InsertBatch(ctx context.Context, records []flight.Event, database, collection string) error {
	if d.p == nil {
		return errors.New("kafka-sink: not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs, err := toMessages(d.topic(database, collection), records)
	if err != nil {
		return err
	}
	if err := d.p.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("kafka-sink: %d of %d messages failed: %w", len(perrs), len(msgs), perrs[0].Err)
		}
		return fmt.Errorf("kafka-sink: %w", err)
	}
	return nil
}

func (d *driver) topic(database, collection string) string {
	if d.cfg.Topic != "" {
		return d.cfg.Topic
	}
	return database + "." + collection
}

func toMessages(topic string, records []flight.Event) ([]*sarama.ProducerMessage, error) {
	msgs := make([]*sarama.ProducerMessage, len(records))
	for i, ev := range records {
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("kafka-sink: encode %s: %w", ev.ICAO24, err)
		}
		msgs[i] = &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(ev.ICAO24),
			Value: sarama.ByteEncoder(b),
		}
	}
	return msgs, nil
}

func (d *driver) Close(context.Context) error {
	var err error
	d.once.Do(func() {
		if d.p != nil {
			err = d.p.Close()
		}
	})
	return err
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
