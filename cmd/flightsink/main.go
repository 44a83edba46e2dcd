package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flightsink/internal/engine"
	"flightsink/internal/logging"
	"flightsink/internal/transport"
	"flightsink/source/kafka"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	pipelineYml := flag.String("pipeline", "pipeline.yml", "pipeline definition")
	grpcPort := flag.Int("grpc-port", 0, "health service port (overrides telemetry.grpc_port)")
	metricsPort := flag.Int("metrics-port", 0, "prometheus port (overrides telemetry.metrics_port)")
	probe := flag.String("probe", "", "check the health service at host:port and exit")
	flag.Parse()

	logging.InitFromEnv()
	log := logging.L()

	if *probe != "" {
		os.Exit(runProbe(*probe))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kafka.Register("sarama", func() kafka.Adapter { return &kafka.SaramaDriver{} })
	kafka.Register("franz", func() kafka.Adapter { return &kafka.FranzDriver{} })

	e, err := engine.Bootstrap(ctx, engine.Config{
		PipelineYml: *pipelineYml,
		GRPCPort:    *grpcPort,
		MetricsPort: *metricsPort,
	})
	if err != nil {
		log.Error("bootstrap", "error", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		log.Error("engine", "error", err)
		os.Exit(1)
	}
}

func runProbe(addr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := transport.Probe(ctx, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "probe:", err)
		return 1
	}
	fmt.Println(st)
	if st != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
