package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"flightsink/internal/config"
	"flightsink/internal/consume"
	"flightsink/internal/logging"
	"flightsink/internal/retry"
	"flightsink/internal/spec"
	"flightsink/internal/stream"
	"flightsink/sink"
	sinkkafka "flightsink/sink/kafka"
	"flightsink/sink/mongo"
	"flightsink/sink/stdout"
	"flightsink/source/kafka"
)

// Compile loads a pipeline file and wires its source, sink and runtime.
func Compile(path string) (*Runner, error) {
	r := NewRunner()
	if err := LoadYAML(path, r); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = r.Close(ctx)
		return nil, err
	}
	return r, nil
}

func LoadYAML(path string, r *Runner) error {
	cfg, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return err
	}
	r.spec = cfg

	kc, err := config.LoadKafkaConfig(confPath)
	if err != nil {
		return fmt.Errorf("source config %s: %w", confPath, err)
	}
	if err := checkDeserializers(cfg.Mode, kc); err != nil {
		return err
	}

	switch cfg.Mode {
	case spec.ModeBatch:
		return compileBatch(cfg, kc, r)
	case spec.ModeStream:
		return compileStream(cfg, kc, r)
	}
	return fmt.Errorf("unsupported mode %q", cfg.Mode)
}

// checkDeserializers rejects combinations the selected runtime cannot
// decode: the batch path reads delimited text, the stream path Avro values.
func checkDeserializers(mode string, kc kafka.Config) error {
	switch mode {
	case spec.ModeBatch:
		if kc.KeyDeserializer != kafka.DeserializerString || kc.ValueDeserializer != kafka.DeserializerString {
			return fmt.Errorf("batch mode needs string key/value deserializers, got %s/%s",
				kc.KeyDeserializer, kc.ValueDeserializer)
		}
	case spec.ModeStream:
		if kc.ValueDeserializer != kafka.DeserializerAvro {
			return fmt.Errorf("stream mode needs the avro value deserializer, got %s", kc.ValueDeserializer)
		}
	}
	return nil
}

func compileBatch(cfg spec.File, kc kafka.Config, r *Runner) error {
	sDrv, err := newSink(cfg.Sink)
	if err != nil {
		return err
	}
	r.SetSink(sDrv)

	src, err := newSource(cfg.Source.Driver, kc, kc.Topics)
	if err != nil {
		return err
	}
	r.SetSource(src)

	r.SetComponent(consume.NewLoop(consume.Config{
		Database:     cfg.Sink.Database,
		Collection:   cfg.Sink.Collection,
		MinBatchSize: cfg.Batch.MinBatchSize,
		PollTimeout:  kc.PollTimeout,
		AsyncScope:   consume.AsyncScope(cfg.Batch.AsyncCommitScope),
		Retry: retry.Config{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
			Jitter:          cfg.Retry.Jitter,
		},
		FlushOnShutdown: cfg.Batch.FlushOnShutdown,
		ShutdownTimeout: time.Duration(cfg.Batch.ShutdownTimeoutMS) * time.Millisecond,
	}, src, sDrv))
	return nil
}

func compileStream(cfg spec.File, kc kafka.Config, r *Runner) error {
	topic := cfg.Stream.Topic
	if topic == "" {
		topic = kc.Topics[0]
	}
	// The application id names the consumer group, as in Kafka Streams.
	kc.GroupID = cfg.Stream.ApplicationID
	kc.Topics = []string{topic}

	var opts []stream.RegistryOption
	if cfg.Stream.SchemaCacheTTLMS > 0 {
		opts = append(opts, stream.WithCacheTTL(time.Duration(cfg.Stream.SchemaCacheTTLMS)*time.Millisecond))
	}
	reg, err := stream.NewRegistry(cfg.Stream.SchemaRegistryURL, opts...)
	if err != nil {
		return err
	}
	topo, err := buildTopology(topic, cfg.Stream.Print)
	if err != nil {
		return err
	}

	src, err := newSource(cfg.Source.Driver, kc, []string{topic})
	if err != nil {
		return err
	}
	r.SetSource(src)
	r.SetComponent(stream.New(stream.Config{
		ApplicationID: cfg.Stream.ApplicationID,
		PollTimeout:   kc.PollTimeout,
	}, topo, src, stream.NewAvroDeserializer(reg)))
	return nil
}

func buildTopology(topic string, printRecords bool) (*stream.Topology, error) {
	log := logging.Component("stream")
	b := stream.NewBuilder()
	s := b.Stream(topic).
		Filter(func(m stream.Message) bool { return m.Value != nil }).
		Foreach(func(m stream.Message) {
			log.Debug("record", "partition", m.Partition, "offset", m.Offset, "key", m.Key)
		})
	if printRecords {
		s.Print(os.Stdout, topic)
	}
	return b.Build()
}

func newSource(driver string, kc kafka.Config, topics []string) (kafka.Adapter, error) {
	src, err := kafka.NewAdapter(driver)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(kc); err != nil {
		return nil, fmt.Errorf("source %s: %w", driver, err)
	}
	if err := src.Subscribe(topics); err != nil {
		return nil, errors.Join(fmt.Errorf("source %s: subscribe: %w", driver, err), src.Close())
	}
	return src, nil
}

func newSink(sc spec.SinkSection) (sink.Adapter, error) {
	sDrv, err := sink.NewAdapter(sc.Driver)
	if err != nil {
		return nil, err
	}

	switch sc.Driver {
	case "mongo":
		err = sDrv.Configure(mongo.Config{URI: sc.Mongo.URI, TimeoutMS: sc.Mongo.TimeoutMS})
	case "kafka":
		err = sDrv.Configure(sinkkafka.Config{Brokers: sc.Kafka.Brokers, Topic: sc.Kafka.Topic, Acks: sc.Kafka.RequiredAcks})
	case "stdout":
		err = sDrv.Configure(stdout.Config{DelayMS: sc.Stdout.DelayMS, PrintCounter: sc.Stdout.PrintCounter})
	default:
		err = fmt.Errorf("no config block for sink %q", sc.Driver)
	}
	if err != nil {
		return nil, err
	}
	return sDrv, nil
}
