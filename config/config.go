// Package config holds the typed process configuration. Runtime-tunable
// settings (rate limits, business hours, retention) live in the Redis-backed
// config store instead; this package only covers what the process needs to
// boot.
package config

import "github.com/spf13/viper"

// Config holds typed configuration for the dialflow engine.
type Config struct {
	LogLevel string

	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers string // empty disables Kafka event publishing

	HTTPAddr     string
	MetricsAddr  string
	OTelEndpoint string

	ProviderBaseURL string
	ProviderAPIKey  string

	Production bool
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		RedisAddr:       v.GetString("redis_addr"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		HTTPAddr:        v.GetString("http_addr"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
		ProviderBaseURL: v.GetString("provider_base_url"),
		ProviderAPIKey:  v.GetString("provider_api_key"),
		Production:      v.GetBool("production"),
	}
}
