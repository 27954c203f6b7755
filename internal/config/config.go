// Package config loads the bloodlink configuration document: a YAML file with
// BLOODLINK_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bloodlink/pkg/domain"

	"gopkg.in/yaml.v3"
)

// ServiceName identifies the process in telemetry.
const ServiceName = "bloodlink"

// Config is the full runtime configuration.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Notify        NotifyConfig        `yaml:"notify"`
	Composer      ComposerConfig      `yaml:"composer"`
	Matching      MatchingConfig      `yaml:"matching"`
	Facilities    FacilitiesConfig    `yaml:"facilities"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ArchiveConfig selects where terminal requests are archived. Driver "none"
// disables archiving.
type ArchiveConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type NotifyConfig struct {
	Driver   string         `yaml:"driver"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type KafkaConfig struct {
	Broker       string        `yaml:"broker"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BatchSize    int           `yaml:"batch_size"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type ComposerConfig struct {
	Driver   string        `yaml:"driver"`
	Template string        `yaml:"template"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MatchingConfig struct {
	StoreTimeout    time.Duration `yaml:"store_timeout"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	// DeliveryConcurrency caps in-flight donor deliveries per batch.
	DeliveryConcurrency int  `yaml:"delivery_concurrency"`
	AutoFulfill         bool `yaml:"auto_fulfill"`
}

// FacilitiesConfig names a YAML facility file; when empty the inline list, or
// the built-in partners, are used.
type FacilitiesConfig struct {
	File   string            `yaml:"file"`
	Watch  bool              `yaml:"watch"`
	Inline []domain.Facility `yaml:"inline"`
}

type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	OTel     OTelConfig    `yaml:"otel"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// OTelConfig enables OTLP/HTTP export when Endpoint is set.
type OTelConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AuthHeader string `yaml:"auth_header"`
	TracesPath string `yaml:"traces_path"`
	LogsPath   string `yaml:"logs_path"`
	Insecure   bool   `yaml:"insecure"`
}

type MetricsConfig struct {
	Driver string `yaml:"driver"`
	Listen string `yaml:"listen"`
}

// Driver names accepted by Validate.
var (
	StorageDrivers  = []string{"memory", "sqlite", "postgres"}
	ArchiveDrivers  = []string{"none", "memory", "fs", "s3"}
	NotifyDrivers   = []string{"inbox", "kafka", "telegram", "memory"}
	ComposerDrivers = []string{"template", "http"}
	MetricsDrivers  = []string{"none", "expvar", "prometheus"}
	LogLevels       = []string{"debug", "info", "warn", "error"}
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "sqlite", SQLitePath: "./bloodlink.db"},
		Archive: ArchiveConfig{Driver: "fs", FSRoot: "./archive", S3: S3Config{Region: "us-east-1"}},
		Notify: NotifyConfig{
			Driver: "inbox",
			Kafka:  KafkaConfig{Topic: "DonorNotified", BatchTimeout: 10 * time.Millisecond, BatchSize: 1},
		},
		Composer: ComposerConfig{Driver: "template", Timeout: 5 * time.Second},
		Matching: MatchingConfig{StoreTimeout: 2 * time.Second, DeliveryTimeout: 5 * time.Second, DeliveryConcurrency: 8},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			OTel:     OTelConfig{TracesPath: "/v1/traces", LogsPath: "/v1/logs"},
			Metrics:  MetricsConfig{Driver: "expvar"},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistency found.
func (c Config) Validate() error {
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"storage.driver", c.Storage.Driver, StorageDrivers},
		{"archive.driver", c.Archive.Driver, ArchiveDrivers},
		{"notify.driver", c.Notify.Driver, NotifyDrivers},
		{"composer.driver", c.Composer.Driver, ComposerDrivers},
		{"observability.metrics.driver", c.Observability.Metrics.Driver, MetricsDrivers},
		{"observability.log_level", c.Observability.LogLevel, LogLevels},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return fmt.Errorf("%s: %q is not one of %s", check.field, check.value, strings.Join(check.allowed, "|"))
		}
	}

	switch {
	case c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "":
		return errors.New("storage.sqlite_path: required for sqlite")
	case c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "":
		return errors.New("storage.postgres_dsn: required for postgres")
	case c.Archive.Driver == "fs" && c.Archive.FSRoot == "":
		return errors.New("archive.fs_root: required for fs")
	case c.Archive.Driver == "s3" && c.Archive.S3.Bucket == "":
		return errors.New("archive.s3.bucket: required for s3")
	case c.Notify.Driver == "kafka" && (c.Notify.Kafka.Broker == "" || c.Notify.Kafka.Topic == ""):
		return errors.New("notify.kafka: broker and topic are required for kafka")
	case c.Notify.Driver == "telegram" && c.Notify.Telegram.Token == "":
		return errors.New("notify.telegram.token: required for telegram")
	case c.Composer.Driver == "http" && c.Composer.Endpoint == "":
		return errors.New("composer.endpoint: required for http")
	case c.Composer.Timeout < 0 || c.Matching.StoreTimeout < 0 || c.Matching.DeliveryTimeout < 0:
		return errors.New("timeouts must not be negative")
	case c.Matching.DeliveryConcurrency < 1:
		return errors.New("matching.delivery_concurrency: must be at least 1")
	case c.Observability.Metrics.Driver == "prometheus" && c.Observability.Metrics.Listen == "":
		return errors.New("observability.metrics.listen: required for prometheus")
	case c.Facilities.Watch && c.Facilities.File == "":
		return errors.New("facilities.watch: requires facilities.file")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
