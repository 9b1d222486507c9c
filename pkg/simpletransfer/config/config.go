package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/repo/cache"
	dynamorepo "github.com/tendant/simple-transfer/pkg/simpletransfer/repo/dynamodb"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/repo/memory"
	repopg "github.com/tendant/simple-transfer/pkg/simpletransfer/repo/postgres"
	fsstorage "github.com/tendant/simple-transfer/pkg/simpletransfer/storage/fs"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/objectkey"
	memorystorage "github.com/tendant/simple-transfer/pkg/simpletransfer/storage/memory"
	s3storage "github.com/tendant/simple-transfer/pkg/simpletransfer/storage/s3"
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
	limits := simpletransfer.DefaultLimits()
	return ServerConfig{
		Port:             "8080",
		Environment:      "development",
		CORSOrigin:       "*",
		MappingStore:     "memory",
		DBSchema:         "",
		DynamoDBKeyIndex: dynamorepo.DefaultObjectKeyIndex,
		MappingCache:     "none",
		MappingCacheSize: 10000,
		RedisTTL:         24 * time.Hour,
		StorageBackend:   "memory",
		S3: S3Config{
			Region: "us-east-1",
		},
		FS: FSConfig{
			BaseDir: "./data",
		},
		KeyStrategy:     objectkey.StrategyUUID,
		URLExpiry:       limits.DefaultURLExpiry,
		MaxURLExpiry:    limits.MaxURLExpiry,
		MaxFileSize:     limits.MaxFileSize,
		MinPartSize:     limits.MinPartSize,
		DefaultPartSize: limits.DefaultPartSize,
		ShortIDLength:   limits.ShortIDLength,
		VerifyDownloads: limits.VerifyDownloads,
		MetricsEnabled:  true,
	}
}

// ServerConfig represents server configuration for the simple-transfer service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing
	CORSOrigin  string
	// APIKeySHA256 enables API key auth when set (hex SHA-256 of the accepted key)
	APIKeySHA256 string

	// Mapping store configuration
	MappingStore     string // "memory", "postgres", "dynamodb"
	DatabaseURL      string
	DBSchema         string // Postgres schema for search_path
	DynamoDBTable    string
	DynamoDBEndpoint string // Optional endpoint for DynamoDB Local
	DynamoDBKeyIndex string // GSI on object_key; empty disables key lookups

	// Mapping cache configuration
	MappingCache     string // "none", "lru", "redis"
	MappingCacheSize int
	RedisAddr        string
	RedisTTL         time.Duration

	// Object store configuration
	StorageBackend string // "memory", "s3", "fs"
	S3             S3Config
	FS             FSConfig

	// Object key layout: "uuid", "timestamp" or "gitlike"
	KeyStrategy string
	KeyPrefix   string // directory prepended to uuid and timestamp keys

	// Transfer limits
	URLExpiry       time.Duration
	MaxURLExpiry    time.Duration
	MaxFileSize     int64
	MinPartSize     int64
	DefaultPartSize int64
	ShortIDLength   int
	VerifyDownloads bool

	MetricsEnabled bool
}

// S3Config holds the object store connection settings
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	CreateBucket    bool
}

// FSConfig holds the settings of the filesystem object store served by the
// server itself under /objects
type FSConfig struct {
	BaseDir string
	// BaseURL is the public URL of the /objects endpoint; defaults to http://localhost:{port}/objects
	BaseURL   string
	SecretKey string
}

// Limits returns the service limits described by the configuration
func (c *ServerConfig) Limits() simpletransfer.Limits {
	limits := simpletransfer.DefaultLimits()
	limits.DefaultURLExpiry = c.URLExpiry
	limits.MaxURLExpiry = c.MaxURLExpiry
	limits.MaxFileSize = c.MaxFileSize
	limits.MinPartSize = c.MinPartSize
	limits.DefaultPartSize = c.DefaultPartSize
	limits.ShortIDLength = c.ShortIDLength
	limits.VerifyDownloads = c.VerifyDownloads
	return limits
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.MappingStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres")
		}
	case "dynamodb":
		if c.DynamoDBTable == "" {
			return errors.New("dynamodb_table is required when using dynamodb")
		}
	default:
		return fmt.Errorf("mapping_store must be 'memory', 'postgres' or 'dynamodb', got: %s", c.MappingStore)
	}

	switch c.MappingCache {
	case "", "none":
	case "lru":
		if c.MappingCacheSize <= 0 {
			return errors.New("mapping_cache_size must be positive when using lru")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required when using redis")
		}
	default:
		return fmt.Errorf("mapping_cache must be 'none', 'lru' or 'redis', got: %s", c.MappingCache)
	}

	switch c.StorageBackend {
	case "memory":
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3_bucket is required when using s3")
		}
	case "fs":
		if c.FS.BaseDir == "" {
			return errors.New("fs_base_dir is required when using fs")
		}
		if c.FS.SecretKey == "" {
			return errors.New("fs_secret_key is required when using fs")
		}
	default:
		return fmt.Errorf("storage_backend must be 'memory', 's3' or 'fs', got: %s", c.StorageBackend)
	}

	if _, err := objectkey.New(c.KeyStrategy, c.KeyPrefix); err != nil {
		return err
	}

	if err := c.Limits().Validate(); err != nil {
		return fmt.Errorf("invalid transfer limits: %w", err)
	}

	return nil
}

// Runtime holds a built service together with its backing stores
type Runtime struct {
	Service simpletransfer.Service
	Store   simpletransfer.MappingStore
	Gateway simpletransfer.ObjectGateway
	// ObjectHandler serves signed object URLs when the gateway is the filesystem store
	ObjectHandler http.Handler

	closers []func()
}

// Ready pings the mapping store and the object gateway when they support it
func (r *Runtime) Ready(ctx context.Context) error {
	if pinger, ok := r.Store.(simpletransfer.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("mapping store not ready: %w", err)
		}
	}
	if pinger, ok := r.Gateway.(simpletransfer.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("object store not ready: %w", err)
		}
	}
	return nil
}

// Close releases connection pools and clients in reverse creation order
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// BuildService creates the mapping store, the object gateway and the Service
// from the server configuration. Extra options are applied last.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, extra ...simpletransfer.Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	store, err := c.buildMappingStore(ctx, logger, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build mapping store: %w", err)
	}
	rt.Store = store

	gateway, err := c.buildGateway(logger, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build object gateway: %w", err)
	}
	rt.Gateway = gateway

	keys, err := objectkey.New(c.KeyStrategy, c.KeyPrefix)
	if err != nil {
		rt.Close()
		return nil, err
	}

	options := []simpletransfer.Option{
		simpletransfer.WithMappingStore(store),
		simpletransfer.WithGateway(gateway),
		simpletransfer.WithKeyGenerator(keys),
		simpletransfer.WithLimits(c.Limits()),
		simpletransfer.WithLogger(logger),
	}
	options = append(options, extra...)

	svc, err := simpletransfer.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// buildMappingStore creates the durable store and wraps it with the configured cache
func (c *ServerConfig) buildMappingStore(ctx context.Context, logger *slog.Logger, rt *Runtime) (simpletransfer.MappingStore, error) {
	var store simpletransfer.MappingStore

	switch c.MappingStore {
	case "memory":
		store = memory.New()
	case "postgres":
		pool, err := repopg.NewPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		repo := repopg.New(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = repo
	case "dynamodb":
		client, err := c.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		store = dynamorepo.New(client, c.DynamoDBTable, dynamorepo.WithObjectKeyIndex(c.DynamoDBKeyIndex))
	default:
		return nil, fmt.Errorf("unsupported mapping store: %s", c.MappingStore)
	}

	switch c.MappingCache {
	case "", "none":
		return store, nil
	case "lru":
		return cache.NewLRU(store, c.MappingCacheSize)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: "",
			DB:       0,
		})
		rt.closers = append(rt.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", "error", err)
			}
		})
		return cache.NewRedis(store, client, c.RedisTTL, cache.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unsupported mapping cache: %s", c.MappingCache)
	}
}

func (c *ServerConfig) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.S3.Region)}
	if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.S3.AccessKeyID, c.S3.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var dynamoOpts []func(*dynamodb.Options)
	if c.DynamoDBEndpoint != "" {
		dynamoOpts = append(dynamoOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(c.DynamoDBEndpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, dynamoOpts...), nil
}

// buildGateway creates the object gateway based on the configuration
func (c *ServerConfig) buildGateway(logger *slog.Logger, rt *Runtime) (simpletransfer.ObjectGateway, error) {
	switch c.StorageBackend {
	case "memory":
		return memorystorage.New(c.S3.Bucket), nil
	case "fs":
		baseURL := c.FS.BaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:%s/objects", c.Port)
		}
		backend, err := fsstorage.New(fsstorage.Config{
			BaseDir:   c.FS.BaseDir,
			BaseURL:   baseURL,
			SecretKey: c.FS.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		rt.ObjectHandler = fsstorage.NewHandler(backend, logger).Routes()
		return backend, nil
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
}
