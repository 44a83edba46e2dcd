package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

type fakeKgo struct {
	fetches  kgo.Fetches
	added    []string
	commits  []map[string]map[int32]kgo.EpochOffset
	failCode int16
	closed   bool
}

func (f *fakeKgo) AddConsumeTopics(topics ...string) { f.added = append(f.added, topics...) }

func (f *fakeKgo) PollRecords(ctx context.Context, _ int) kgo.Fetches { return f.fetches }

func (f *fakeKgo) respond(uncommitted map[string]map[int32]kgo.EpochOffset, onDone commitDoneFn) {
	f.commits = append(f.commits, uncommitted)
	resp := kmsg.NewPtrOffsetCommitResponse()
	for topic, parts := range uncommitted {
		rt := kmsg.NewOffsetCommitResponseTopic()
		rt.Topic = topic
		for p := range parts {
			rp := kmsg.NewOffsetCommitResponseTopicPartition()
			rp.Partition = p
			rp.ErrorCode = f.failCode
			rt.Partitions = append(rt.Partitions, rp)
		}
		resp.Topics = append(resp.Topics, rt)
	}
	onDone(nil, nil, resp, nil)
}

func (f *fakeKgo) CommitOffsetsSync(_ context.Context, u map[string]map[int32]kgo.EpochOffset, onDone commitDoneFn) {
	f.respond(u, onDone)
}

func (f *fakeKgo) CommitOffsets(_ context.Context, u map[string]map[int32]kgo.EpochOffset, onDone commitDoneFn) {
	f.respond(u, onDone)
}

func (f *fakeKgo) Close() { f.closed = true }

func newTestFranz(cl *fakeKgo) *FranzDriver {
	return &FranzDriver{cfg: Config{MaxPollRecords: 100}, cl: cl, marks: newWatermark()}
}

func TestFranzDriver_PollConvertsRecords(t *testing.T) {
	cl := &fakeKgo{fetches: kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic: "flights",
		Partitions: []kgo.FetchPartition{{
			Partition: 2,
			Records: []*kgo.Record{
				{Topic: "flights", Partition: 2, Offset: 10, Key: []byte("a"), Value: []byte("x")},
				{Topic: "flights", Partition: 2, Offset: 11, Key: []byte("b"), Value: []byte("y")},
			},
		}},
	}}}}}
	d := newTestFranz(cl)

	recs, err := d.Poll(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(recs) != 2 || recs[1].Offset != 11 || recs[1].Value != "y" || recs[0].Partition != 2 {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestFranzDriver_PollIgnoresTimeout(t *testing.T) {
	cl := &fakeKgo{fetches: kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "flights",
		Partitions: []kgo.FetchPartition{{Partition: -1, Err: context.DeadlineExceeded}},
	}}}}}
	d := newTestFranz(cl)

	recs, err := d.Poll(context.Background(), time.Millisecond)
	if err != nil || len(recs) != 0 {
		t.Fatalf("timeout should be an empty poll, got %v %v", recs, err)
	}
}

func TestFranzDriver_PollSurfacesFetchErrors(t *testing.T) {
	boom := errors.New("broker gone")
	cl := &fakeKgo{fetches: kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "flights",
		Partitions: []kgo.FetchPartition{{Partition: 0, Err: boom}},
	}}}}}
	d := newTestFranz(cl)

	if _, err := d.Poll(context.Background(), time.Millisecond); !errors.Is(err, boom) {
		t.Fatalf("want fetch error, got %v", err)
	}
}

func TestFranzDriver_CommitSync(t *testing.T) {
	cl := &fakeKgo{}
	d := newTestFranz(cl)
	tp := TopicPartition{"flights", 0}

	if err := d.CommitSync(context.Background(), Offsets{tp: 42}); err != nil {
		t.Fatalf("CommitSync: %v", err)
	}
	if len(cl.commits) != 1 || cl.commits[0]["flights"][0].Offset != 42 {
		t.Fatalf("unexpected commits: %+v", cl.commits)
	}
	if err := d.CommitSync(context.Background(), Offsets{tp: 40}); err != nil {
		t.Fatalf("CommitSync: %v", err)
	}
	if len(cl.commits) != 1 {
		t.Fatal("stale offset was committed")
	}
}

func TestFranzDriver_CommitPartitionError(t *testing.T) {
	cl := &fakeKgo{failCode: kerr.RebalanceInProgress.Code}
	d := newTestFranz(cl)

	err := d.CommitSync(context.Background(), Offsets{{"flights", 0}: 1})
	if !errors.Is(err, kerr.RebalanceInProgress) {
		t.Fatalf("want RebalanceInProgress, got %v", err)
	}
	if len(d.marks.snapshot()) != 0 {
		t.Fatal("failed commit advanced the watermark")
	}
}

func TestFranzDriver_CommitAsyncCallback(t *testing.T) {
	cl := &fakeKgo{}
	d := newTestFranz(cl)

	var got error = errors.New("not called")
	d.CommitAsync(Offsets{{"flights", 3}: 8}, func(_ Offsets, err error) { got = err })
	if got != nil {
		t.Fatalf("async callback error: %v", got)
	}

	called := false
	d.CommitAsync(Offsets{}, func(Offsets, error) { called = true })
	if !called {
		t.Fatal("empty async commit must still complete")
	}
	if len(cl.commits) != 1 {
		t.Fatalf("empty commit reached the broker: %d", len(cl.commits))
	}
}

func TestFranzDriver_SubscribeAndClose(t *testing.T) {
	cl := &fakeKgo{}
	d := newTestFranz(cl)
	if err := d.Subscribe([]string{"flights-extra"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_ = d.Close()
	if len(cl.added) != 1 || !cl.closed {
		t.Fatalf("unexpected client state: %+v", cl)
	}
}

func TestFranzOptions(t *testing.T) {
	opts := franzOptions(Config{Brokers: []string{"k:9092"}, GroupID: "g", Topics: []string{"t"}, TLSEn: true, SASLUser: "u"})
	if len(opts) != 7 {
		t.Fatalf("want 7 options, got %d", len(opts))
	}
}
