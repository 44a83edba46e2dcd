package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FLIGHTSINK_KAFKA__"

// Deserializer identifiers understood by the pipeline compiler.
const (
	DeserializerString = "string"
	DeserializerAvro   = "avro"
)

type Config struct {
	Brokers   []string `koanf:"brokers"`
	Topics    []string `koanf:"topics"`
	GroupID   string   `koanf:"group_id"`
	StartFrom string   `koanf:"start_from"` // earliest|latest (default earliest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	KeyDeserializer   string `koanf:"key_deserializer"`
	ValueDeserializer string `koanf:"value_deserializer"`

	// Offsets are only ever committed by the consumer loop; true is rejected.
	EnableAutoCommit bool `koanf:"enable_auto_commit"`

	PollTimeout    time.Duration `koanf:"poll_timeout"`
	MaxPollRecords int           `koanf:"max_poll_records"`
	CommitQueue    int           `koanf:"commit_queue"` // pending async commits
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `FLIGHTSINK_KAFKA__`, delimiter `__`). List values in env-vars are
// comma separated.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, "__", envValue), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	switch key {
	case "brokers", "topics":
		return key, splitList(value)
	}
	return key, value
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every problem in the config at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("topics are required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("group_id is required"))
	}
	if c.EnableAutoCommit {
		errs = append(errs, errors.New("enable_auto_commit must be false: offsets are committed after durable writes"))
	}
	if c.StartFrom != "earliest" && c.StartFrom != "latest" {
		errs = append(errs, fmt.Errorf("start_from %q is not valid (earliest|latest)", c.StartFrom))
	}
	for _, d := range []string{c.KeyDeserializer, c.ValueDeserializer} {
		if d != DeserializerString && d != DeserializerAvro {
			errs = append(errs, fmt.Errorf("deserializer %q is not supported (string|avro)", d))
		}
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, errors.New("poll_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	switch c.StartFrom {
	case "", "oldest":
		c.StartFrom = "earliest"
	case "newest":
		c.StartFrom = "latest"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.KeyDeserializer == "" {
		c.KeyDeserializer = DeserializerString
	}
	if c.ValueDeserializer == "" {
		c.ValueDeserializer = DeserializerString
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.CommitQueue <= 0 {
		c.CommitQueue = 64
	}
}
