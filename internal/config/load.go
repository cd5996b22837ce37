package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. IMAGELAB_SERVER_PORT.
const EnvPrefix = "IMAGELAB"

// setDefaults registers a default for every key so environment variables
// can override keys that no config file mentions.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("server.max_image_pixels", 50_000_000)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})

	v.SetDefault("database.url", "")

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.backpressure", BackpressureReject)
	v.SetDefault("task.execution_timeout", time.Duration(0))
	v.SetDefault("task.instance_id", "default")
	v.SetDefault("task.terminal_write_retries", 5)
	v.SetDefault("task.terminal_write_backoff", 100*time.Millisecond)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "uploads")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_access_key_id", "")
	v.SetDefault("storage.s3_secret_access_key", "")
	v.SetDefault("storage.azure_connection_string", "")
	v.SetDefault("storage.azure_container", "")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("detector.load_delay", time.Second)
}

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over values
// from the config file. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
