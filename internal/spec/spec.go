// Package spec holds the pipeline.yml document model.
package spec

const (
	ModeBatch  = "batch"
	ModeStream = "stream"
)

type MongoSink struct {
	URI       string `yaml:"uri"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type KafkaSink struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int16    `yaml:"required_acks"`
}

type StdoutSink struct {
	DelayMS      int  `yaml:"delay_ms"`
	PrintCounter bool `yaml:"print_counter"`
}

type SinkSection struct {
	Driver     string     `yaml:"driver"` // mongo | kafka | stdout
	Database   string     `yaml:"database"`
	Collection string     `yaml:"collection"`
	Mongo      MongoSink  `yaml:"mongo"`
	Kafka      KafkaSink  `yaml:"kafka"`
	Stdout     StdoutSink `yaml:"stdout"`
}

type BatchSection struct {
	MinBatchSize      int    `yaml:"min_batch_size"`
	AsyncCommitScope  string `yaml:"async_commit_scope"` // flushed | consumed
	FlushOnShutdown   bool   `yaml:"flush_on_shutdown"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
}

type RetrySection struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms"`
	Jitter           float64 `yaml:"jitter"`
}

type StreamSection struct {
	ApplicationID     string `yaml:"application_id"`
	SchemaRegistryURL string `yaml:"schema_registry_url"`
	Topic             string `yaml:"topic"`
	Print             bool   `yaml:"print"`
	SchemaCacheTTLMS  int    `yaml:"schema_cache_ttl_ms"`
}

type TelemetrySection struct {
	MetricsPort int `yaml:"metrics_port"` // 0 = disabled
	GRPCPort    int `yaml:"grpc_port"`    // 0 = disabled
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Mode          string `yaml:"mode"`

	Source struct {
		Kind   string `yaml:"kind"`
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	Batch     BatchSection     `yaml:"batch"`
	Retry     RetrySection     `yaml:"retry"`
	Sink      SinkSection      `yaml:"sink"`
	Stream    StreamSection    `yaml:"stream"`
	Telemetry TelemetrySection `yaml:"telemetry"`
}
