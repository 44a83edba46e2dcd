package engine

import (
	"context"
	"errors"
	"fmt"

	"flightsink/internal/logging"
	"flightsink/internal/pipeline"
	"flightsink/internal/telemetry"
	"flightsink/internal/transport"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.PipelineYml == "" {
		return nil, errors.New("engine: pipeline file is required")
	}

	// 1. pipeline runner
	runner, err := pipeline.Compile(cfg.PipelineYml)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	tel := runner.Spec().Telemetry
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = tel.GRPCPort
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = tel.MetricsPort
	}

	e := &Engine{runner: runner}

	// 2. transport server
	if cfg.GRPCPort > 0 {
		srv, err := transport.StartServer(cfg.GRPCPort)
		if err != nil {
			_ = runner.Close(ctx)
			return nil, fmt.Errorf("transport: %w", err)
		}
		e.transport = srv
	}

	// 3. metrics
	if cfg.MetricsPort > 0 {
		e.metrics = telemetry.Expose(cfg.MetricsPort)
	}

	logging.L().Info("engine bootstrapped",
		"pipeline", cfg.PipelineYml,
		"mode", runner.Spec().Mode,
		"grpc_port", cfg.GRPCPort,
		"metrics_port", cfg.MetricsPort)
	return e, nil
}
