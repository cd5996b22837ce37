package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Detector DetectorConfig `mapstructure:"detector"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// MaxUploadBytes bounds the size of an uploaded image.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
	// MaxImagePixels bounds the declared width times height of an image.
	MaxImagePixels     int64    `mapstructure:"max_image_pixels" validate:"gt=0"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// Backpressure policies applied when the task queue is full.
const (
	BackpressureReject = "reject"
	BackpressureBlock  = "block"
)

// TaskConfig controls the background analysis workers.
type TaskConfig struct {
	// WorkerCount values below 1 fall back to a single worker.
	WorkerCount  int    `mapstructure:"worker_count"`
	QueueSize    int    `mapstructure:"queue_size" validate:"gt=0"`
	Backpressure string `mapstructure:"backpressure" validate:"required,oneof=reject block"`
	// ExecutionTimeout bounds a single job. Zero disables the deadline.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout" validate:"gte=0"`
	// InstanceID names this replica for restart recovery. Replicas sharing a
	// database need distinct values that survive restarts.
	InstanceID string `mapstructure:"instance_id" validate:"required"`
	// TerminalWriteRetries and TerminalWriteBackoff bound the retries of a
	// failed job status write.
	TerminalWriteRetries int           `mapstructure:"terminal_write_retries" validate:"gte=0"`
	TerminalWriteBackoff time.Duration `mapstructure:"terminal_write_backoff" validate:"gt=0"`
}

// Storage backends for image bytes and result archives.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageAzure = "azure"
)

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend" validate:"required,oneof=local s3 azure"`
	LocalDir string `mapstructure:"local_dir" validate:"required_if=Backend local"`

	S3Bucket string `mapstructure:"s3_bucket" validate:"required_if=Backend s3"`
	S3Region string `mapstructure:"s3_region" validate:"required_if=Backend s3"`
	// S3Endpoint overrides the AWS endpoint, e.g. for MinIO.
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`

	AzureConnectionString string `mapstructure:"azure_connection_string" validate:"required_if=Backend azure"`
	AzureContainer        string `mapstructure:"azure_container" validate:"required_if=Backend azure"`
}

// CacheConfig configures the optional Redis cache of finished jobs.
// An empty RedisAddr disables caching.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// DetectorConfig tunes the object detector stand-in.
type DetectorConfig struct {
	LoadDelay time.Duration `mapstructure:"load_delay" validate:"gte=0"`
}
