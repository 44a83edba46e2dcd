package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"flightsink/internal/flightgen"
	"flightsink/internal/logging"
)

func main() {
	broker := flag.String("broker", envOr("KAFKA_BROKER", "localhost:9092"), "Kafka broker address")
	topic := flag.String("topic", "flights", "topic to publish raw flight records to")
	partitions := flag.Int("partitions", 3, "partitions when creating the topic")
	fleet := flag.Int("fleet", 200, "number of simulated aircraft")
	batch := flag.Int("batch", 50, "records per write")
	interval := flag.Duration("interval", time.Second, "delay between writes")
	batches := flag.Int("batches", 0, "stop after this many writes (0 = run until interrupted)")
	malformed := flag.Float64("malformed", 0.01, "share of records with a broken layout")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	logging.InitFromEnv()
	log := logging.L()

	brokers := strings.Split(*broker, ",")
	if err := flightgen.CreateTopics(brokers[0], []flightgen.TopicConfig{{Topic: *topic, NumPartitions: *partitions, ReplicationFactor: 1}}); err != nil {
		log.Warn("create topic", "topic", *topic, "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        *topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer w.Close()

	gen := flightgen.NewGenerator(*seed, *fleet, *malformed)
	err := flightgen.Publish(ctx, w, gen, flightgen.PublishConfig{BatchSize: *batch, Interval: *interval, Batches: *batches})
	if err != nil {
		log.Error("publish", "error", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
