// Package mongo persists flight batches into a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flightsink/internal/flight"
	"flightsink/internal/logging"
	"flightsink/internal/retry"
	"flightsink/sink"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

/* ────────── public YAML config ────────── */
type Config struct {
	URI       string `yaml:"uri"`
	TimeoutMS int    `yaml:"timeout_ms"` // connect, ping and per-batch write deadline
}

// ErrNotConfigured is returned by InsertBatch before Configure succeeded.
var ErrNotConfigured = errors.New("mongo-sink: not configured")

// document is the stored shape: the event fields inline plus batch metadata.
type document struct {
	flight.Event `bson:",inline"`
	BatchID      string    `bson:"batch_id"`
	IngestedAt   time.Time `bson:"ingested_at"`
}

type driver struct {
	cfg     Config
	timeout time.Duration
	cl      *mongo.Client
	once    sync.Once
	now     func() time.Time
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("mongo-sink: expected Config, got %T", raw)
	}
	if c.URI == "" {
		return errors.New("mongo-sink: uri is required")
	}
	d.cfg = c
	d.timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	opts := options.Client().ApplyURI(c.URI).SetTimeout(d.timeout)
	cl, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("mongo-sink: connect: %w", err)
	}
	ping := retry.Config{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second, Jitter: 0.2}
	if err := retry.Do(ctx, ping, func() error { return cl.Ping(ctx, readpref.Primary()) }); err != nil {
		_ = cl.Disconnect(context.Background())
		return fmt.Errorf("mongo-sink: ping: %w", err)
	}
	d.cl = cl
	logging.Component("mongo-sink").Info("connected", "timeout", d.timeout)
	return nil
}

// InsertBatch writes records with an ordered InsertMany. A partial failure
// is reported as a failure; the documents written before the error are
// duplicated when the batch is retried.
func (d *driver) InsertBatch(ctx context.Context, records []flight.Event, database, collection string) error {
	if d.cl == nil {
		return ErrNotConfigured
	}
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	docs := toDocuments(records, uuid.NewString(), d.clock())
	res, err := d.cl.Database(database).Collection(collection).
		InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		inserted := 0
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		return fmt.Errorf("mongo-sink: insert into %s.%s (%d of %d written): %w",
			database, collection, inserted, len(records), err)
	}
	return nil
}

func (d *driver) Close(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if d.cl != nil {
			err = d.cl.Disconnect(ctx)
		}
	})
	return err
}

func (d *driver) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now().UTC()
}

func toDocuments(records []flight.Event, batchID string, at time.Time) []any {
	docs := make([]any, len(records))
	for i, ev := range records {
		docs[i] = document{Event: ev, BatchID: batchID, IngestedAt: at}
	}
	return docs
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("mongo", func() sink.Adapter { return &driver{} })
}
