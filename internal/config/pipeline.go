package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"flightsink/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version, fills
// defaults and returns the parsed spec and an absolute path to the source
// config (if set).
func LoadPipelineSpec(path string) (spec.File, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, "", fmt.Errorf("pipeline %s: %w", path, err)
	}
	confPath := cfg.Source.Config
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath = filepath.Join(filepath.Dir(path), confPath)
	}
	return cfg, confPath, nil
}

func applyDefaults(f *spec.File) {
	if f.Mode == "" {
		f.Mode = spec.ModeBatch
	}
	if f.Source.Kind == "" {
		f.Source.Kind = "kafka"
	}
	if f.Source.Driver == "" {
		f.Source.Driver = "sarama"
	}
	if f.Batch.MinBatchSize == 0 {
		f.Batch.MinBatchSize = 200
	}
	if f.Batch.AsyncCommitScope == "" {
		f.Batch.AsyncCommitScope = "flushed"
	}
	if f.Batch.ShutdownTimeoutMS == 0 {
		f.Batch.ShutdownTimeoutMS = 10_000
	}
	if f.Retry.MaxAttempts == 0 {
		f.Retry.MaxAttempts = 5
	}
	if f.Retry.InitialBackoffMS == 0 {
		f.Retry.InitialBackoffMS = 500
	}
	if f.Retry.MaxBackoffMS == 0 {
		f.Retry.MaxBackoffMS = 30_000
	}
	if f.Retry.Jitter == 0 {
		f.Retry.Jitter = 0.2
	}
	if f.Sink.Driver == "" {
		f.Sink.Driver = "mongo"
	}
	if f.Stream.ApplicationID == "" {
		f.Stream.ApplicationID = "flightsink-stream"
	}
}

func validate(f spec.File) error {
	var errs []error
	if f.Source.Kind != "kafka" {
		errs = append(errs, fmt.Errorf("source.kind %q not supported", f.Source.Kind))
	}
	if f.Source.Config == "" {
		errs = append(errs, errors.New("source.config is required"))
	}
	switch f.Mode {
	case spec.ModeBatch:
		if f.Batch.MinBatchSize < 1 {
			errs = append(errs, errors.New("batch.min_batch_size must be >= 1"))
		}
		if s := f.Batch.AsyncCommitScope; s != "flushed" && s != "consumed" {
			errs = append(errs, fmt.Errorf("batch.async_commit_scope %q (want flushed|consumed)", s))
		}
		if f.Sink.Database == "" || f.Sink.Collection == "" {
			errs = append(errs, errors.New("sink.database and sink.collection are required"))
		}
		if f.Sink.Driver == "mongo" && f.Sink.Mongo.URI == "" {
			errs = append(errs, errors.New("sink.mongo.uri is required"))
		}
		if f.Sink.Driver == "kafka" && len(f.Sink.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("sink.kafka.brokers is required"))
		}
	case spec.ModeStream:
		if f.Stream.SchemaRegistryURL == "" {
			errs = append(errs, errors.New("stream.schema_registry_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("mode %q (want batch|stream)", f.Mode))
	}
	if f.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if f.Retry.Jitter < 0 || f.Retry.Jitter > 1 {
		errs = append(errs, errors.New("retry.jitter must be within [0,1]"))
	}
	return errors.Join(errs...)
}
