package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"flightsink/internal/logging"
	"flightsink/internal/pipeline"
	"flightsink/internal/transport"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	PipelineYml string
	// Zero ports fall back to the pipeline's telemetry section; a port that
	// is still zero disables that listener.
	GRPCPort    int
	MetricsPort int
}

type Engine struct {
	transport *transport.Server
	metrics   *http.Server
	runner    *pipeline.Runner
}

// Run drives the pipeline until ctx is cancelled or the pipeline stops, then
// tears everything down. The pipeline's error is returned.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := logging.L()

	g, gctx := errgroup.WithContext(ctx)
	if e.transport != nil {
		g.Go(e.transport.Serve)
		e.transport.SetServing(true)
	}
	g.Go(func() error {
		defer cancel()
		err := e.runner.Run(gctx)
		if e.transport != nil {
			e.transport.SetServing(false)
		}
		if err != nil {
			log.Error("pipeline stopped", "error", err)
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if e.transport != nil {
			e.transport.Stop()
		}
		if e.metrics != nil {
			if err := e.metrics.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics shutdown", "error", err)
			}
		}
		return nil
	})
	runErr := g.Wait()

	cctx, ccancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer ccancel()
	if err := e.runner.Close(cctx); err != nil {
		log.Warn("close pipeline", "error", err)
	}
	log.Info("engine stopped")
	return runErr
}
