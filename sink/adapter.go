package sink

import (
	"context"
	"fmt"

	"flightsink/internal/flight"
)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific YAML ⇒ struct
	// InsertBatch stores every record or none of them. A nil error means the
	// batch is durable.
	InsertBatch(ctx context.Context, records []flight.Event, database, collection string) error
	Close(ctx context.Context) error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

// Drivers lists the registered sink names.
func Drivers() []string {
	out := make([]string, 0, len(reg))
	for name := range reg {
		out = append(out, name)
	}
	return out
}
