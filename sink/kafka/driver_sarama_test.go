package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"

	"flightsink/internal/flight"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestInsertBatch_SendsEveryRecord(t *testing.T) {
	p := mocks.NewSyncProducer(t, newProducerConfig(Config{}))
	var topics []string
	for i := 0; i < 2; i++ {
		p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
			topics = append(topics, m.Topic)
			return nil
		})
	}
	d := &driver{p: p}

	records := []flight.Event{{ICAO24: "a"}, {ICAO24: "b"}}
	if err := d.InsertBatch(context.Background(), records, "flights", "states"); err != nil {
		t.Fatal(err)
	}
	for _, tp := range topics {
		if tp != "flights.states" {
			t.Fatalf("topic = %q", tp)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInsertBatch_FailsWhenAnyMessageFails(t *testing.T) {
	p := mocks.NewSyncProducer(t, newProducerConfig(Config{}))
	p.ExpectSendMessageAndSucceed()
	p.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)
	d := &driver{cfg: Config{Topic: "out"}, p: p}

	err := d.InsertBatch(context.Background(), []flight.Event{{ICAO24: "a"}, {ICAO24: "b"}}, "db", "c")
	if !errors.Is(err, sarama.ErrNotEnoughReplicas) {
		t.Fatalf("err = %v", err)
	}
	_ = d.Close(context.Background())
}

func TestToMessages_JSONKeyedByICAO(t *testing.T) {
	msgs, err := toMessages("t", []flight.Event{{ICAO24: "abc", Velocity: 12.5}})
	if err != nil {
		t.Fatal(err)
	}
	key, _ := msgs[0].Key.Encode()
	val, _ := msgs[0].Value.Encode()
	if string(key) != "abc" {
		t.Fatalf("key = %q", key)
	}
	if want := `"velocity":12.5`; !strings.Contains(string(val), want) {
		t.Fatalf("value %s missing %s", val, want)
	}
}
