package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"flightsink/internal/flight"
	"flightsink/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS      int  `yaml:"delay_ms"`      // artificial per-batch delay
	PrintCounter bool `yaml:"print_counter"` // prepend seq#
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards out
	out io.Writer
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) InsertBatch(ctx context.Context, records []flight.Event, database, collection string) error {
	if d.cfg.DelayMS > 0 {
		t := time.NewTimer(time.Duration(d.cfg.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range records {
		var err error
		if d.cfg.PrintCounter {
			_, err = fmt.Fprintf(d.out, "[sink %06d] %s.%s %s\n",
				atomic.AddUint64(&seq, 1), database, collection, flight.Encode(ev))
		} else {
			_, err = fmt.Fprintf(d.out, "%s.%s %s\n", database, collection, flight.Encode(ev))
		}
		if err != nil {
			return fmt.Errorf("stdout-sink: %w", err)
		}
	}
	return nil
}

func (d *driver) Close(context.Context) error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
