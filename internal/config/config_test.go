package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Notify.Driver != "inbox" || cfg.Matching.AutoFulfill {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
storage:
  driver: memory
composer:
  timeout: 750ms
matching:
  auto_fulfill: true
facilities:
  inline:
    - id: city_hospital_id
      name: City Hospital
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Composer.Timeout != 750*time.Millisecond || !cfg.Matching.AutoFulfill {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Notify.Driver != "inbox" || cfg.Matching.StoreTimeout != 2*time.Second {
		t.Fatalf("unset sections should keep defaults, got %+v", cfg)
	}
	if len(cfg.Facilities.Inline) != 1 || cfg.Facilities.Inline[0].Name != "City Hospital" {
		t.Fatalf("unexpected facilities %+v", cfg.Facilities)
	}

	if _, err := Parse([]byte("storage:\n  drvier: memory\n")); err == nil {
		t.Fatalf("expected unknown key to fail")
	}
	if cfg, err := Parse(nil); err != nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("empty document should yield defaults, got %+v err=%v", cfg, err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"BLOODLINK_STORAGE_DRIVER":                "postgres",
		"BLOODLINK_POSTGRES_DSN":                  "postgres://localhost/bloodlink",
		"BLOODLINK_ARCHIVE_S3_PATH_STYLE":         "true",
		"BLOODLINK_MATCHING_STORE_TIMEOUT":        "250ms",
		"BLOODLINK_MATCHING_AUTO_FULFILL":         "1",
		"BLOODLINK_KAFKA_BROKER":                  "localhost:9092",
		"UNRELATED":                               "ignored",
		"BLOODLINK_OTEL_ENDPOINT":                 "collector:4318",
		"BLOODLINK_MATCHING_DELIVERY_TIMEOUT":     "3s",
		"BLOODLINK_MATCHING_DELIVERY_CONCURRENCY": "2",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.PostgresDSN == "" {
		t.Fatalf("storage overrides not applied: %+v", cfg.Storage)
	}
	if !cfg.Archive.S3.PathStyle || !cfg.Matching.AutoFulfill {
		t.Fatalf("boolean overrides not applied")
	}
	if cfg.Matching.StoreTimeout != 250*time.Millisecond || cfg.Matching.DeliveryTimeout != 3*time.Second {
		t.Fatalf("duration overrides not applied: %+v", cfg.Matching)
	}
	if cfg.Matching.DeliveryConcurrency != 2 {
		t.Fatalf("integer override not applied: %+v", cfg.Matching)
	}
	if cfg.Notify.Kafka.Broker != "localhost:9092" || cfg.Observability.OTel.Endpoint != "collector:4318" {
		t.Fatalf("string overrides not applied")
	}

	err = cfg.ApplyEnv(envMap(map[string]string{"BLOODLINK_COMPOSER_TIMEOUT": "soon"}))
	if err == nil || !strings.Contains(err.Error(), "BLOODLINK_COMPOSER_TIMEOUT") {
		t.Fatalf("expected named parse error, got %v", err)
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		t.Fatalf("nil lookup should be a no-op: %v", err)
	}
}

func TestEnvVarsArePrefixed(t *testing.T) {
	vars := EnvVars()
	if len(vars) == 0 {
		t.Fatalf("expected env vars")
	}
	for _, v := range vars {
		if !strings.HasPrefix(v, EnvPrefix) {
			t.Fatalf("unprefixed variable %s", v)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown storage":     func(c *Config) { c.Storage.Driver = "mysql" },
		"sqlite without path": func(c *Config) { c.Storage.SQLitePath = "" },
		"postgres no dsn":     func(c *Config) { c.Storage.Driver = "postgres" },
		"s3 without bucket":   func(c *Config) { c.Archive.Driver = "s3" },
		"kafka no broker":     func(c *Config) { c.Notify.Driver = "kafka" },
		"telegram no token":   func(c *Config) { c.Notify.Driver = "telegram" },
		"http composer":       func(c *Config) { c.Composer.Driver = "http" },
		"negative timeout":    func(c *Config) { c.Matching.StoreTimeout = -time.Second },
		"prometheus listen":   func(c *Config) { c.Observability.Metrics.Driver = "prometheus" },
		"bad log level":       func(c *Config) { c.Observability.LogLevel = "loud" },
		"watch without file":  func(c *Config) { c.Facilities.Watch = true },
		"zero concurrency":    func(c *Config) { c.Matching.DeliveryConcurrency = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bloodlink.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: memory\narchive:\n  driver: none\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BLOODLINK_NOTIFY_DRIVER", "memory")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Archive.Driver != "none" || cfg.Notify.Driver != "memory" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("BLOODLINK_NOTIFY_DRIVER", "carrier-pigeon")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation failure")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
