package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"flightsink/internal/spec"
	"flightsink/sink"
	"flightsink/source/kafka"
)

const closeTimeout = 10 * time.Second

// Component is the runtime a pipeline drives: the batch consume loop or
// the stream topology.
type Component interface {
	Run(ctx context.Context) error
}

type Runner struct {
	spec   spec.File
	source kafka.Adapter
	sink   sink.Adapter
	comp   Component

	closeOnce sync.Once
	closeErr  error
}

func NewRunner() *Runner { return &Runner{} }

func (r *Runner) SetSink(s sink.Adapter)    { r.sink = s }
func (r *Runner) SetSource(s kafka.Adapter) { r.source = s }
func (r *Runner) SetComponent(c Component)  { r.comp = c }
func (r *Runner) Spec() spec.File           { return r.spec }

// Run blocks until the component stops. A nil error means ctx was cancelled
// or the component was closed.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil || r.comp == nil {
		return errors.New("runner: no source configured")
	}
	return r.comp.Run(ctx)
}

// Close stops the component and releases the source and sink. The source is
// closed first so no further offsets are committed once the sink is gone.
func (r *Runner) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		var errs []error
		if c, ok := r.comp.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
		if r.source != nil {
			errs = append(errs, r.source.Close())
		}
		if r.sink != nil {
			errs = append(errs, r.sink.Close(ctx))
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
