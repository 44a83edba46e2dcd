// Package flightgen publishes synthetic flight state records for local runs.
package flightgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/segmentio/kafka-go"

	"flightsink/internal/flight"
	"flightsink/internal/logging"
)

var countries = []string{"Germany", "France", "United States", "Japan", "Brazil", "Spain"}

// Generator produces plausible flight events for a fixed fleet of aircraft.
type Generator struct {
	rng          *rand.Rand
	fleet        []flight.Event
	malformedPct float64
	now          func() time.Time
}

// NewGenerator builds a fleet of size aircraft. malformedPct (0..1) is the
// share of records emitted with a broken layout.
func NewGenerator(seed uint64, size int, malformedPct float64) *Generator {
	g := &Generator{
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		malformedPct: malformedPct,
		now:          time.Now,
	}
	for i := 0; i < size; i++ {
		g.fleet = append(g.fleet, flight.Event{
			ICAO24:        fmt.Sprintf("%06x", g.rng.IntN(1<<24)),
			Callsign:      fmt.Sprintf("FLT%04d", i),
			OriginCountry: countries[g.rng.IntN(len(countries))],
			Longitude:     g.rng.Float64()*360 - 180,
			Latitude:      g.rng.Float64()*180 - 90,
			BaroAltitude:  1000 + g.rng.Float64()*11000,
			Velocity:      150 + g.rng.Float64()*100,
			TrueTrack:     g.rng.Float64() * 360,
		})
	}
	return g
}

// Next advances a random aircraft and returns its key and wire value.
func (g *Generator) Next() (string, string) {
	i := g.rng.IntN(len(g.fleet))
	ev := &g.fleet[i]
	ts := g.now().Unix()
	ev.TimePosition, ev.LastContact = ts, ts
	ev.Longitude += (g.rng.Float64() - 0.5) * 0.1
	ev.Latitude += (g.rng.Float64() - 0.5) * 0.1
	ev.TrueTrack = float64(int(ev.TrueTrack+g.rng.Float64()*10) % 360)

	if g.rng.Float64() < g.malformedPct {
		return ev.ICAO24, ev.ICAO24 + "," + ev.Callsign + ",truncated"
	}
	return ev.ICAO24, flight.Encode(*ev)
}

// MessageWriter is the slice of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublishConfig struct {
	BatchSize int
	Interval  time.Duration
	// Batches caps the number of batches; 0 runs until ctx is done.
	Batches int
}

// Publish writes BatchSize records every Interval. It returns nil when ctx
// is cancelled.
func Publish(ctx context.Context, w MessageWriter, g *Generator, cfg PublishConfig) error {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	log := logging.Component("flightgen")
	tick := time.NewTicker(max(cfg.Interval, time.Millisecond))
	defer tick.Stop()

	for n := 0; cfg.Batches == 0 || n < cfg.Batches; n++ {
		msgs := make([]kafka.Message, cfg.BatchSize)
		for i := range msgs {
			k, v := g.Next()
			msgs[i] = kafka.Message{Key: []byte(k), Value: []byte(v)}
		}
		if err := w.WriteMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("flightgen: write batch %d: %w", n, err)
		}
		log.Info("published", "batch", n, "records", len(msgs))

		if cfg.Batches != 0 && n == cfg.Batches-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
	return nil
}
