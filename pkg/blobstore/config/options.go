package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithStoreName sets the name reported in logs and metrics labels
func WithStoreName(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("store name cannot be empty")
		}
		c.StoreName = name
		return nil
	}
}

// WithMemoryBackend keeps all objects in process memory
func WithMemoryBackend() Option {
	return func(c *ServerConfig) error {
		c.Backend = BackendMemory
		return nil
	}
}

// WithS3Backend stores objects in an S3 bucket. Credentials come from the
// default AWS chain unless set through WithS3Credentials.
func WithS3Backend(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		c.Backend = BackendS3
		c.S3.Bucket = bucket
		c.S3.Region = region
		return nil
	}
}

// WithMinioBackend stores objects on a MinIO (or other S3 compatible) endpoint
func WithMinioBackend(endpoint, bucket string) Option {
	return func(c *ServerConfig) error {
		if endpoint == "" {
			return fmt.Errorf("minio endpoint cannot be empty")
		}
		if bucket == "" {
			return fmt.Errorf("minio bucket cannot be empty")
		}
		c.Backend = BackendMinio
		c.S3.Endpoint = endpoint
		c.S3.Bucket = bucket
		return nil
	}
}

// WithS3Credentials sets static credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 client at a custom endpoint
func WithS3Endpoint(endpoint string, forcePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.ForcePathStyle = forcePathStyle
		return nil
	}
}

// WithLayout selects the directory layout of permanent blobs
func WithLayout(layout string) Option {
	return func(c *ServerConfig) error {
		c.Layout = layout
		return nil
	}
}

// WithRateLimit throttles object store requests
func WithRateLimit(rps float64, burst int) Option {
	return func(c *ServerConfig) error {
		if rps < 0 || burst < 0 {
			return fmt.Errorf("rate limit cannot be negative")
		}
		c.RateLimit = rps
		c.RateBurst = burst
		return nil
	}
}

// WithMetricsBackend selects where metrics totals are persisted
func WithMetricsBackend(backend string) Option {
	return func(c *ServerConfig) error {
		c.Metrics.Backend = backend
		return nil
	}
}

// WithPostgresMetrics persists metrics totals in PostgreSQL
func WithPostgresMetrics(databaseURL, schema string) Option {
	return func(c *ServerConfig) error {
		if databaseURL == "" {
			return fmt.Errorf("database URL is required for postgres metrics")
		}
		c.Metrics.Backend = MetricsPostgres
		c.Metrics.DatabaseURL = databaseURL
		if schema != "" {
			c.Metrics.DBSchema = schema
		}
		return nil
	}
}

// WithDynamoDBMetrics persists metrics totals in a DynamoDB table
func WithDynamoDBMetrics(table string) Option {
	return func(c *ServerConfig) error {
		if table == "" {
			return fmt.Errorf("dynamodb table cannot be empty")
		}
		c.Metrics.Backend = MetricsDynamoDB
		c.Metrics.DynamoDBTable = table
		return nil
	}
}

// WithMetricsFlushInterval sets how often metrics deltas are persisted
func WithMetricsFlushInterval(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("flush interval must be positive")
		}
		c.Metrics.FlushInterval = d
		return nil
	}
}

// WithLogging sets the log level and format (text or json)
func WithLogging(level, format string) Option {
	return func(c *ServerConfig) error {
		c.LogLevel = level
		c.LogFormat = format
		return nil
	}
}
