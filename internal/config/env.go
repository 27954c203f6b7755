package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every override variable.
const EnvPrefix = "BLOODLINK_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"STORAGE_DRIVER", str(func(c *Config) *string { return &c.Storage.Driver })},
	{"SQLITE_PATH", str(func(c *Config) *string { return &c.Storage.SQLitePath })},
	{"POSTGRES_DSN", str(func(c *Config) *string { return &c.Storage.PostgresDSN })},
	{"ARCHIVE_DRIVER", str(func(c *Config) *string { return &c.Archive.Driver })},
	{"ARCHIVE_FS_ROOT", str(func(c *Config) *string { return &c.Archive.FSRoot })},
	{"ARCHIVE_S3_BUCKET", str(func(c *Config) *string { return &c.Archive.S3.Bucket })},
	{"ARCHIVE_S3_REGION", str(func(c *Config) *string { return &c.Archive.S3.Region })},
	{"ARCHIVE_S3_ENDPOINT", str(func(c *Config) *string { return &c.Archive.S3.Endpoint })},
	{"ARCHIVE_S3_PATH_STYLE", boolean(func(c *Config) *bool { return &c.Archive.S3.PathStyle })},
	{"NOTIFY_DRIVER", str(func(c *Config) *string { return &c.Notify.Driver })},
	{"KAFKA_BROKER", str(func(c *Config) *string { return &c.Notify.Kafka.Broker })},
	{"KAFKA_TOPIC", str(func(c *Config) *string { return &c.Notify.Kafka.Topic })},
	{"TELEGRAM_TOKEN", str(func(c *Config) *string { return &c.Notify.Telegram.Token })},
	{"COMPOSER_DRIVER", str(func(c *Config) *string { return &c.Composer.Driver })},
	{"COMPOSER_ENDPOINT", str(func(c *Config) *string { return &c.Composer.Endpoint })},
	{"COMPOSER_API_KEY", str(func(c *Config) *string { return &c.Composer.APIKey })},
	{"COMPOSER_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Composer.Timeout })},
	{"MATCHING_STORE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Matching.StoreTimeout })},
	{"MATCHING_DELIVERY_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Matching.DeliveryTimeout })},
	{"MATCHING_DELIVERY_CONCURRENCY", integer(func(c *Config) *int { return &c.Matching.DeliveryConcurrency })},
	{"MATCHING_AUTO_FULFILL", boolean(func(c *Config) *bool { return &c.Matching.AutoFulfill })},
	{"FACILITIES_FILE", str(func(c *Config) *string { return &c.Facilities.File })},
	{"FACILITIES_WATCH", boolean(func(c *Config) *bool { return &c.Facilities.Watch })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Observability.LogLevel })},
	{"OTEL_ENDPOINT", str(func(c *Config) *string { return &c.Observability.OTel.Endpoint })},
	{"OTEL_AUTH_HEADER", str(func(c *Config) *string { return &c.Observability.OTel.AuthHeader })},
	{"OTEL_INSECURE", boolean(func(c *Config) *bool { return &c.Observability.OTel.Insecure })},
	{"METRICS_DRIVER", str(func(c *Config) *string { return &c.Observability.Metrics.Driver })},
	{"METRICS_LISTEN", str(func(c *Config) *string { return &c.Observability.Metrics.Listen })},
}

// EnvVars lists every recognised override variable.
func EnvVars() []string {
	out := make([]string, len(envBindings))
	for i, b := range envBindings {
		out[i] = EnvPrefix + b.name
	}
	return out
}

// ApplyEnv overrides fields from set variables. A nil lookup is a no-op.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}
