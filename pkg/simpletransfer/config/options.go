package config

import (
	"fmt"
	"time"

	"github.com/tendant/simple-transfer/pkg/simpletransfer/objectkey"
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

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithAPIKeyHash enables API key authentication with the given hex SHA-256 digest
func WithAPIKeyHash(sha256Hex string) Option {
	return func(c *ServerConfig) error {
		c.APIKeySHA256 = sha256Hex
		return nil
	}
}

// WithMemoryMappingStore keeps mappings in process memory
func WithMemoryMappingStore() Option {
	return func(c *ServerConfig) error {
		c.MappingStore = "memory"
		return nil
	}
}

// WithPostgresMappingStore configures the Postgres mapping store
func WithPostgresMappingStore(url, schema string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.MappingStore = "postgres"
		c.DatabaseURL = url
		c.DBSchema = schema
		return nil
	}
}

// WithDynamoDBMappingStore configures the DynamoDB mapping store
// An empty endpoint uses the regional AWS endpoint
func WithDynamoDBMappingStore(table, endpoint string) Option {
	return func(c *ServerConfig) error {
		if table == "" {
			return fmt.Errorf("dynamodb table cannot be empty")
		}
		c.MappingStore = "dynamodb"
		c.DynamoDBTable = table
		c.DynamoDBEndpoint = endpoint
		return nil
	}
}

// WithLRUCache fronts the mapping store with an in-process LRU cache
func WithLRUCache(size int) Option {
	return func(c *ServerConfig) error {
		if size <= 0 {
			return fmt.Errorf("lru cache size must be positive, got: %d", size)
		}
		c.MappingCache = "lru"
		c.MappingCacheSize = size
		return nil
	}
}

// WithRedisCache fronts the mapping store with a Redis cache
func WithRedisCache(addr string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		c.MappingCache = "redis"
		c.RedisAddr = addr
		c.RedisTTL = ttl
		return nil
	}
}

// WithMemoryStorage uses the in-memory object gateway
func WithMemoryStorage(bucket string) Option {
	return func(c *ServerConfig) error {
		c.StorageBackend = "memory"
		c.S3.Bucket = bucket
		return nil
	}
}

// WithS3Storage configures an S3 object gateway
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		c.StorageBackend = "s3"
		c.S3.Bucket = bucket
		if region != "" {
			c.S3.Region = region
		}
		return nil
	}
}

// WithFSStorage stores objects below baseDir and signs URLs for the server's
// /objects endpoint with secretKey
func WithFSStorage(baseDir, baseURL, secretKey string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("fs base directory cannot be empty")
		}
		c.StorageBackend = "fs"
		c.FS = FSConfig{BaseDir: baseDir, BaseURL: baseURL, SecretKey: secretKey}
		return nil
	}
}

// WithS3Credentials sets static S3 credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint sets a custom endpoint for MinIO or other S3-compatible stores
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithKeyStrategy selects the object key layout and an optional key prefix
func WithKeyStrategy(strategy, prefix string) Option {
	return func(c *ServerConfig) error {
		if _, err := objectkey.New(strategy, prefix); err != nil {
			return err
		}
		c.KeyStrategy = strategy
		c.KeyPrefix = prefix
		return nil
	}
}

// WithURLExpiry sets the default and maximum signed URL validity
func WithURLExpiry(defaultExpiry, maxExpiry time.Duration) Option {
	return func(c *ServerConfig) error {
		if defaultExpiry <= 0 {
			return fmt.Errorf("url expiry must be positive, got: %s", defaultExpiry)
		}
		if maxExpiry < defaultExpiry {
			return fmt.Errorf("max url expiry %s is below default %s", maxExpiry, defaultExpiry)
		}
		c.URLExpiry = defaultExpiry
		c.MaxURLExpiry = maxExpiry
		return nil
	}
}

// WithMaxFileSize sets the largest accepted object size in bytes
func WithMaxFileSize(size int64) Option {
	return func(c *ServerConfig) error {
		if size <= 0 {
			return fmt.Errorf("max file size must be positive, got: %d", size)
		}
		c.MaxFileSize = size
		return nil
	}
}

// WithPartSizes sets the minimum and default multipart part sizes in bytes
func WithPartSizes(minSize, defaultSize int64) Option {
	return func(c *ServerConfig) error {
		c.MinPartSize = minSize
		c.DefaultPartSize = defaultSize
		return nil
	}
}

// WithShortIDLength sets the length of generated short ids
func WithShortIDLength(length int) Option {
	return func(c *ServerConfig) error {
		c.ShortIDLength = length
		return nil
	}
}

// WithDownloadVerification toggles the existence check before signing downloads
func WithDownloadVerification(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.VerifyDownloads = enabled
		return nil
	}
}

// WithMetrics toggles the Prometheus endpoint
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.MetricsEnabled = enabled
		return nil
	}
}
