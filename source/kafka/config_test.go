package kafka

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "kafka_source.yml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig_YAMLAndDefaults(t *testing.T) {
	p := writeFile(t, `schema_version: v1
brokers: [localhost:9092]
topics: [flights-raw]
group_id: TG4
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GroupID != "TG4" || cfg.Topics[0] != "flights-raw" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.StartFrom != "earliest" {
		t.Fatalf("want start_from earliest, got %q", cfg.StartFrom)
	}
	if cfg.PollTimeout != 2*time.Second {
		t.Fatalf("want default poll timeout 2s, got %s", cfg.PollTimeout)
	}
	if cfg.ValueDeserializer != DeserializerString || cfg.MaxPollRecords != 500 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	p := writeFile(t, `brokers: [localhost:9092]
topics: [flights-raw]
group_id: TG4
`)
	t.Setenv("FLIGHTSINK_KAFKA__BROKERS", "k1:9092, k2:9092")
	t.Setenv("FLIGHTSINK_KAFKA__GROUP_ID", "from-env")
	t.Setenv("FLIGHTSINK_KAFKA__POLL_TIMEOUT", "750ms")

	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers not overridden: %v", cfg.Brokers)
	}
	if cfg.GroupID != "from-env" {
		t.Fatalf("group_id not overridden: %q", cfg.GroupID)
	}
	if cfg.PollTimeout != 750*time.Millisecond {
		t.Fatalf("poll_timeout not overridden: %s", cfg.PollTimeout)
	}
}

func TestLoadConfig_RejectsAutoCommit(t *testing.T) {
	p := writeFile(t, `brokers: [localhost:9092]
topics: [flights-raw]
group_id: TG4
enable_auto_commit: true
`)
	_, err := LoadConfig(p)
	if err == nil || !strings.Contains(err.Error(), "enable_auto_commit") {
		t.Fatalf("want auto-commit rejection, got %v", err)
	}
}

func TestLoadConfig_InvalidSchema(t *testing.T) {
	p := writeFile(t, "schema_version: v2\n")
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for unsupported schema_version")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{StartFrom: "yesterday", KeyDeserializer: "json", ValueDeserializer: "string", PollTimeout: time.Second}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"brokers", "topics", "group_id", "start_from", "json"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}
