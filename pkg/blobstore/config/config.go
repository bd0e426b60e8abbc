package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
)

// Object store backends
const (
	BackendS3     = "s3"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Metrics backends
const (
	MetricsObject   = "object"
	MetricsMemory   = "memory"
	MetricsDynamoDB = "dynamodb"
	MetricsPostgres = "postgres"
)

// Path layouts for permanent blobs
const (
	LayoutVolumeChapter = "volume-chapter"
	LayoutFlat          = "flat"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:        "8080",
		Environment: "development",
		StoreName:   "default",
		Backend:     BackendMemory,
		Layout:      LayoutVolumeChapter,
		S3: S3Config{
			Bucket: "blobstore",
		},
		Metrics: MetricsConfig{
			Backend:       MetricsObject,
			FlushInterval: 2 * time.Second,
			DynamoDBTable: "blobstore-metrics",
			DBSchema:      "public",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// ServerConfig represents configuration for a blob store and the processes serving it
type ServerConfig struct {
	Port        string `yaml:"port" json:"port" env:"PORT" env-default:"8080"`
	Environment string `yaml:"environment" json:"environment" env:"ENVIRONMENT" env-default:"development"`

	// Hex SHA-256 of the API key required by the HTTP server, empty to disable
	APIKeySHA256 string `yaml:"api_key_sha256" json:"api_key_sha256" env:"API_KEY_SHA256"`

	StoreName string `yaml:"store_name" json:"store_name" env:"BLOBSTORE_NAME" env-default:"default"`
	Backend   string `yaml:"backend" json:"backend" env:"BLOBSTORE_BACKEND" env-default:"memory"` // s3, minio, memory
	Layout    string `yaml:"layout" json:"layout" env:"BLOBSTORE_LAYOUT" env-default:"volume-chapter"`

	S3 S3Config `yaml:"s3" json:"s3"`

	// Requests per second against the object store, 0 for unlimited
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" env:"BLOBSTORE_RATE_LIMIT" env-default:"0"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst" env:"BLOBSTORE_RATE_BURST" env-default:"0"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	LogLevel  string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" json:"log_format" env:"LOG_FORMAT" env-default:"text"`
}

// S3Config holds the object store connection settings
type S3Config struct {
	Bucket          string `yaml:"bucket" json:"bucket" env:"AWS_S3_BUCKET" env-default:"blobstore"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `yaml:"session_token" json:"session_token" env:"AWS_SESSION_TOKEN"`
	AssumeRole      string `yaml:"assume_role" json:"assume_role" env:"AWS_S3_ASSUME_ROLE"`
	Region          string `yaml:"region" json:"region" env:"AWS_S3_REGION"`
	Endpoint        string `yaml:"endpoint" json:"endpoint" env:"AWS_S3_ENDPOINT"`
	ForcePathStyle  bool   `yaml:"force_path_style" json:"force_path_style" env:"AWS_S3_FORCE_PATH_STYLE" env-default:"false"`
	PartSize        int64  `yaml:"part_size" json:"part_size" env:"AWS_S3_PART_SIZE" env-default:"0"`
}

// MetricsConfig selects where blob count and size totals are persisted
type MetricsConfig struct {
	Backend       string        `yaml:"backend" json:"backend" env:"METRICS_BACKEND" env-default:"object"` // object, memory, dynamodb, postgres
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" env:"METRICS_FLUSH_INTERVAL" env-default:"2s"`
	DynamoDBTable string        `yaml:"dynamodb_table" json:"dynamodb_table" env:"METRICS_DYNAMODB_TABLE" env-default:"blobstore-metrics"`
	DatabaseURL   string        `yaml:"database_url" json:"database_url" env:"DATABASE_URL"`
	DBSchema      string        `yaml:"db_schema" json:"db_schema" env:"DB_SCHEMA" env-default:"public"`
}

// WithEnv reads the environment into the configuration using the env struct
// tags. Unset variables fall back to their env-default, so apply it before
// programmatic options.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a yaml, json, toml or .env file. Environment variables still
// take precedence over values in the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if !slices.Contains([]string{BackendS3, BackendMinio, BackendMemory}, c.Backend) {
		return fmt.Errorf("backend must be 's3', 'minio' or 'memory', got: %s", c.Backend)
	}

	if c.S3.Bucket == "" {
		return errors.New("bucket is required")
	}

	if c.Backend == BackendMinio && c.S3.Endpoint == "" {
		return errors.New("endpoint is required when using minio")
	}

	if c.Layout != LayoutVolumeChapter && c.Layout != LayoutFlat {
		return fmt.Errorf("layout must be '%s' or '%s', got: %s", LayoutVolumeChapter, LayoutFlat, c.Layout)
	}

	if c.RateLimit < 0 {
		return errors.New("rate_limit cannot be negative")
	}

	switch c.Metrics.Backend {
	case MetricsObject, MetricsMemory:
	case MetricsDynamoDB:
		if c.Metrics.DynamoDBTable == "" {
			return errors.New("dynamodb_table is required when using dynamodb metrics")
		}
	case MetricsPostgres:
		if c.Metrics.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres metrics")
		}
	default:
		return fmt.Errorf("metrics backend must be 'object', 'memory', 'dynamodb' or 'postgres', got: %s", c.Metrics.Backend)
	}

	return nil
}

// Configuration converts the settings into a blob store configuration
func (c *ServerConfig) Configuration() *blobstore.Configuration {
	cfg := blobstore.NewConfiguration(c.StoreName, c.Backend)
	attrs := cfg.Attributes(blobstore.ConfigKey)

	set := func(key, value string) {
		if value != "" {
			attrs.Set(key, value)
		}
	}
	set(blobstore.BucketKey, c.S3.Bucket)
	set(blobstore.AccessKeyIDKey, c.S3.AccessKeyID)
	set(blobstore.SecretAccessKeyKey, c.S3.SecretAccessKey)
	set(blobstore.SessionTokenKey, c.S3.SessionToken)
	set(blobstore.AssumeRoleKey, c.S3.AssumeRole)
	set(blobstore.RegionKey, c.S3.Region)
	set(blobstore.EndpointKey, c.S3.Endpoint)
	if c.S3.ForcePathStyle {
		attrs.Set(blobstore.ForcePathStyleKey, strconv.FormatBool(true))
	}

	return cfg
}
