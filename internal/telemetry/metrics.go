package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flightsink"

var (
	RecordsPolled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_polled_total",
		Help:      "Raw records returned by poll.",
	})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Raw records skipped because they did not decode.",
	})
	Flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flushes_total",
		Help:      "Batch flushes by result.",
	}, []string{"result"})
	FlushedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flushed_records_total",
		Help:      "Records durably written by the sink.",
	})
	FlushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_latency_seconds",
		Help:      "Sink write latency.",
		Buckets:   prometheus.DefBuckets,
	})
	Commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Offset commits by kind (sync|async) and result.",
	}, []string{"kind", "result"})
	BufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_records",
		Help:      "Decoded records waiting for the next flush.",
	})
	StreamRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_records_total",
		Help:      "Records seen by the stream topology by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(RecordsPolled, DecodeErrors, Flushes, FlushedRecords,
		FlushLatency, Commits, BufferSize, StreamRecords)
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Expose serves /metrics on port until the returned server is shut down.
func Expose(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
