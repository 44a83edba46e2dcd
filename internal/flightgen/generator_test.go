package flightgen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"flightsink/internal/flight"
)

type recordingWriter struct {
	batches [][]kafka.Message
	err     error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, msgs)
	return nil
}

func TestGenerator_EmitsDecodableRecords(t *testing.T) {
	g := NewGenerator(1, 5, 0)
	for i := 0; i < 100; i++ {
		key, val := g.Next()
		ev, err := flight.Decode(val)
		if err != nil {
			t.Fatalf("record %d %q: %v", i, val, err)
		}
		if ev.ICAO24 != key {
			t.Fatalf("key %q != icao24 %q", key, ev.ICAO24)
		}
	}
}

func TestGenerator_MalformedShare(t *testing.T) {
	g := NewGenerator(7, 3, 1)
	_, val := g.Next()
	var de *flight.DecodeError
	if _, err := flight.Decode(val); !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
}

func TestPublish_WritesBatches(t *testing.T) {
	w := &recordingWriter{}
	err := Publish(context.Background(), w, NewGenerator(3, 4, 0), PublishConfig{BatchSize: 10, Interval: time.Millisecond, Batches: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.batches) != 3 || len(w.batches[0]) != 10 {
		t.Fatalf("batches = %d", len(w.batches))
	}
}

func TestPublish_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("no leader")}
	err := Publish(context.Background(), w, NewGenerator(3, 4, 0), PublishConfig{Batches: 1})
	if err == nil {
		t.Fatal("expected error")
	}
}
