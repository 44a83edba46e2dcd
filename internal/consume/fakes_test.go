package consume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flightsink/internal/flight"
	"flightsink/source/kafka"
)

// eventLog records source and sink calls in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSource struct {
	log     *eventLog
	polls   [][]kafka.RawRecord
	pollErr error
	// onDrained is called once every scripted poll has been served.
	onDrained func()

	syncErr   error
	syncs     []kafka.Offsets
	asyncs    []kafka.Offsets
	asyncErrs error
}

func (f *fakeSource) Poll(ctx context.Context, _ time.Duration) ([]kafka.RawRecord, error) {
	if len(f.polls) == 0 {
		if f.onDrained != nil {
			f.onDrained()
		}
		return nil, ctx.Err()
	}
	recs := f.polls[0]
	f.polls = f.polls[1:]
	f.log.add("poll %d", len(recs))
	return recs, f.pollErr
}

func (f *fakeSource) CommitSync(_ context.Context, offsets kafka.Offsets) error {
	f.log.add("commit-sync %s", offsets)
	if f.syncErr != nil {
		return f.syncErr
	}
	f.syncs = append(f.syncs, offsets)
	return nil
}

func (f *fakeSource) CommitAsync(offsets kafka.Offsets, cb kafka.CommitCallback) {
	f.log.add("commit-async %s", offsets)
	f.asyncs = append(f.asyncs, offsets)
	cb(offsets, f.asyncErrs)
}

type fakeSink struct {
	log *eventLog
	// fail makes the first fail calls return an error.
	fail    int
	calls   int
	batches [][]flight.Event
	db      string
	coll    string
}

var errSinkDown = errors.New("sink down")

func (f *fakeSink) InsertBatch(_ context.Context, records []flight.Event, database, collection string) error {
	f.calls++
	f.db, f.coll = database, collection
	if f.calls <= f.fail {
		f.log.add("insert-fail %d", len(records))
		return errSinkDown
	}
	f.log.add("insert %d", len(records))
	f.batches = append(f.batches, records)
	return nil
}

func good(icao string) string {
	return flight.Encode(flight.Event{ICAO24: icao, Callsign: "CS" + icao, OriginCountry: "Nowhere", TimePosition: 1, LastContact: 2, Longitude: 3.5, Latitude: 4.5})
}

func rec(offset int64, value string) kafka.RawRecord {
	return kafka.RawRecord{Topic: "flights", Partition: 0, Offset: offset, Key: "k", Value: value}
}

func tp() kafka.TopicPartition { return kafka.TopicPartition{Topic: "flights", Partition: 0} }

func noWait(context.Context, time.Duration) error { return nil }
