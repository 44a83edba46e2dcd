package consume

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"flightsink/internal/flight"
	"flightsink/internal/logging"
	"flightsink/internal/retry"
	"flightsink/source/kafka"
)

func mustDecode(t *testing.T, raw string) flight.Event {
	t.Helper()
	ev, err := flight.Decode(raw)
	if err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return ev
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("events:\n got  %q\n want %q", got, want)
	}
}

func newTestLoop(src *fakeSource, sink *fakeSink, min int) *Loop {
	l := NewLoop(Config{
		Database:     "flights",
		Collection:   "states",
		MinBatchSize: min,
		PollTimeout:  time.Millisecond,
		Retry:        retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, src, sink)
	l.wait = noWait
	return l
}

func TestLoop_FlushesWhenThresholdReached(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{
		{rec(0, good("a")), rec(1, good("b"))},
		{rec(2, good("c")), rec(3, "not,a,flight")},
	}}
	sink := &fakeSink{log: log}
	l := newTestLoop(src, sink, 3)
	ctx := context.Background()

	if err := l.Cycle(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.calls != 0 || l.Buffered() != 2 {
		t.Fatalf("after cycle 1: sink calls=%d buffered=%d", sink.calls, l.Buffered())
	}
	if err := l.Cycle(ctx); err != nil {
		t.Fatal(err)
	}
	if l.Buffered() != 0 {
		t.Fatalf("buffered = %d after flush", l.Buffered())
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Fatalf("batches = %v", sink.batches)
	}
	ids := []string{}
	for _, ev := range sink.batches[0] {
		ids = append(ids, ev.ICAO24)
	}
	if strings.Join(ids, "") != "abc" {
		t.Fatalf("order = %v, want a b c", ids)
	}
	assertEvents(t, log.all(), []string{
		"poll 2",
		"commit-async ",
		"poll 2",
		"commit-async ",
		"insert 3",
		"commit-sync flights[0]@4",
	})
}

func TestLoop_SinkFailureRetainsBatch(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{
		{rec(0, good("a")), rec(1, good("b"))},
		{rec(2, good("c")), rec(3, "garbage")},
	}}
	sink := &fakeSink{log: log, fail: 1}
	l := newTestLoop(src, sink, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Cycle(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if l.Buffered() != 3 {
		t.Fatalf("buffered = %d, want 3", l.Buffered())
	}
	if len(src.syncs) != 0 {
		t.Fatalf("sync commit issued after sink failure: %v", src.syncs)
	}
	if len(src.asyncs) != 2 {
		t.Fatalf("async commits = %d, want 2", len(src.asyncs))
	}
}

func TestLoop_RecoversAfterTransientSinkFailure(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{
		{rec(0, good("a")), rec(1, good("b"))},
		{},
	}}
	sink := &fakeSink{log: log, fail: 1}
	l := newTestLoop(src, sink, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Cycle(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if l.Buffered() != 0 || len(sink.batches) != 1 {
		t.Fatalf("buffered=%d batches=%d", l.Buffered(), len(sink.batches))
	}
	if l.failures != 0 {
		t.Fatalf("failure counter = %d after success", l.failures)
	}
	if len(src.syncs) != 1 || src.syncs[0][tp()] != 2 {
		t.Fatalf("syncs = %v", src.syncs)
	}
}

func TestLoop_NoSyncCommitWithoutPrecedingInsert(t *testing.T) {
	log := &eventLog{}
	var polls [][]kafka.RawRecord
	off := int64(0)
	for i := 0; i < 6; i++ {
		polls = append(polls, []kafka.RawRecord{rec(off, good("x")), rec(off+1, "bad")})
		off += 2
	}
	src := &fakeSource{log: log, polls: polls}
	sink := &fakeSink{log: log, fail: 2}
	l := NewLoop(Config{MinBatchSize: 2, Retry: retry.Config{MaxAttempts: 10}}, src, sink)
	l.wait = noWait

	ctx, cancel := context.WithCancel(context.Background())
	src.onDrained = cancel
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}

	var lastInsertOK bool
	for _, e := range log.all() {
		switch {
		case strings.HasPrefix(e, "insert "):
			lastInsertOK = true
		case strings.HasPrefix(e, "insert-fail"):
			lastInsertOK = false
		case strings.HasPrefix(e, "commit-sync"):
			if !lastInsertOK {
				t.Fatalf("sync commit without a successful insert before it: %q", log.all())
			}
			lastInsertOK = false
		}
	}
}

func TestLoop_RunGivesUpAfterMaxAttempts(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{{rec(0, good("a"))}, {}, {}, {}}}
	sink := &fakeSink{log: log, fail: 100}
	l := newTestLoop(src, sink, 1)

	err := l.Run(context.Background())
	if !errors.Is(err, ErrFlushRetriesExhausted) {
		t.Fatalf("err = %v, want ErrFlushRetriesExhausted", err)
	}
	if !errors.Is(err, errSinkDown) {
		t.Fatalf("err = %v, want sink error in chain", err)
	}
	if sink.calls != 3 {
		t.Fatalf("sink calls = %d, want 3", sink.calls)
	}
	if l.Buffered() != 1 {
		t.Fatalf("buffered = %d; failed batch must not be cleared", l.Buffered())
	}
}

func TestLoop_BackoffInterruptedByCancel(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{{rec(0, good("a"))}}}
	sink := &fakeSink{log: log, fail: 100}
	l := newTestLoop(src, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	l.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return retry.Sleep(ctx, time.Hour)
	}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoop_PollErrorDoesNotStopLoop(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, pollErr: errors.New("broker hiccup"), polls: [][]kafka.RawRecord{
		{rec(0, good("a"))},
	}}
	sink := &fakeSink{log: log}
	l := newTestLoop(src, sink, 1)

	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle = %v", err)
	}
	if len(sink.batches) != 1 {
		t.Fatalf("records returned alongside a poll error should still be processed")
	}
}

func TestLoop_ShutdownDropsOrFlushesPartialBatch(t *testing.T) {
	for _, flush := range []bool{false, true} {
		log := &eventLog{}
		src := &fakeSource{log: log, polls: [][]kafka.RawRecord{{rec(0, good("a"))}}}
		sink := &fakeSink{log: log}
		l := NewLoop(Config{MinBatchSize: 5, FlushOnShutdown: flush}, src, sink)

		ctx, cancel := context.WithCancel(context.Background())
		src.onDrained = cancel
		if err := l.Run(ctx); err != nil {
			t.Fatal(err)
		}
		wantBatches, wantSyncs := 0, 0
		if flush {
			wantBatches, wantSyncs = 1, 1
		}
		if len(sink.batches) != wantBatches || len(src.syncs) != wantSyncs {
			t.Fatalf("flush_on_shutdown=%v: batches=%d syncs=%d", flush, len(sink.batches), len(src.syncs))
		}
	}
}

func TestLoop_MalformedRecordsAreSkipped(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{{
		rec(0, "a,b"),
		rec(1, good("ok")),
		rec(2, ",cs,country,1,2,3,4,5,6,7"),
		rec(3, "id,cs,country,x,2,3,4,5,6,7"),
	}}}
	sink := &fakeSink{log: log}
	l := newTestLoop(src, sink, 10)

	if err := l.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.Buffered() != 1 {
		t.Fatalf("buffered = %d, want only the well-formed record", l.Buffered())
	}
}

// cancelOnCallSink fails every call and cancels the run on call cancelAt.
type cancelOnCallSink struct {
	cancel   context.CancelFunc
	cancelAt int
	calls    int
}

func (s *cancelOnCallSink) InsertBatch(ctx context.Context, _ []flight.Event, _, _ string) error {
	s.calls++
	if s.calls == s.cancelAt {
		s.cancel()
		return ctx.Err()
	}
	return errSinkDown
}

func TestLoop_CancelDuringLastAttemptIsCleanShutdown(t *testing.T) {
	log := &eventLog{}
	src := &fakeSource{log: log, polls: [][]kafka.RawRecord{{rec(0, good("a"))}}}
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancelOnCallSink{cancel: cancel, cancelAt: 2}
	l := NewLoop(Config{
		MinBatchSize: 1,
		Retry:        retry.Config{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, src, sink)
	l.wait = noWait

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil after cancel", err)
	}
	if sink.calls != 2 {
		t.Fatalf("sink calls = %d, want 2", sink.calls)
	}
	if l.failures != 1 {
		t.Fatalf("failures = %d; a cancelled write must not count", l.failures)
	}
	if l.Buffered() != 1 || len(src.syncs) != 0 {
		t.Fatalf("buffered=%d syncs=%d", l.Buffered(), len(src.syncs))
	}
}

func TestLoop_ShutdownWarningDependsOnAsyncScope(t *testing.T) {
	prev := logging.L()
	defer logging.Set(prev)

	cases := map[AsyncScope]string{
		ScopeFlushed:  "they will be redelivered",
		ScopeConsumed: "will not be redelivered",
	}
	for scope, want := range cases {
		var out bytes.Buffer
		logging.Set(slog.New(slog.NewTextHandler(&out, nil)))

		log := &eventLog{}
		src := &fakeSource{log: log, polls: [][]kafka.RawRecord{{rec(0, good("a"))}}}
		l := NewLoop(Config{MinBatchSize: 5, AsyncScope: scope}, src, &fakeSink{log: log})
		ctx, cancel := context.WithCancel(context.Background())
		src.onDrained = cancel
		if err := l.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), want) {
			t.Fatalf("scope %s: log missing %q:\n%s", scope, want, out.String())
		}
	}
}
