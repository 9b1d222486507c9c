package config

import (
	"fmt"
	"io"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// envSettings maps environment variables onto ServerConfig. Fields are
// pre-filled from the current configuration, so unset variables keep the
// value applied by defaults or earlier options.
type envSettings struct {
	Port         string `env:"PORT" env-description:"HTTP listen port"`
	Environment  string `env:"ENVIRONMENT" env-description:"development, production or testing"`
	CORSOrigin   string `env:"CORS_ORIGIN" env-description:"Allowed CORS origin"`
	APIKeySHA256 string `env:"API_KEY_SHA256" env-description:"Hex SHA-256 of the API key; empty disables auth"`

	MappingStore     string `env:"MAPPING_STORE" env-description:"memory, postgres or dynamodb"`
	DatabaseURL      string `env:"DATABASE_URL" env-description:"Postgres connection string"`
	DBSchema         string `env:"DB_SCHEMA" env-description:"Postgres schema for search_path"`
	DynamoDBTable    string `env:"DYNAMODB_TABLE" env-description:"DynamoDB table keyed by short_id"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT" env-description:"Custom DynamoDB endpoint"`
	DynamoDBKeyIndex string `env:"DYNAMODB_OBJECT_KEY_INDEX" env-description:"GSI on object_key"`

	MappingCache     string `env:"MAPPING_CACHE" env-description:"none, lru or redis"`
	MappingCacheSize int    `env:"MAPPING_CACHE_SIZE" env-description:"LRU capacity in records"`
	RedisAddr        string `env:"REDIS_ADDR" env-description:"Redis host:port"`
	RedisTTLSeconds  int    `env:"REDIS_TTL_SECONDS" env-description:"Redis entry TTL, 0 keeps entries"`

	StorageBackend    string `env:"STORAGE_BACKEND" env-description:"memory, s3 or fs"`
	S3Bucket          string `env:"S3_BUCKET" env-description:"Bucket holding transferred objects"`
	S3Region          string `env:"S3_REGION" env-description:"AWS region"`
	S3Endpoint        string `env:"S3_ENDPOINT" env-description:"Custom endpoint for S3-compatible stores"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID" env-description:"Static access key id"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY" env-description:"Static secret access key"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-description:"Use path-style addressing"`
	S3CreateBucket    bool   `env:"S3_CREATE_BUCKET" env-description:"Create the bucket at startup"`
	FSBaseDir         string `env:"FS_BASE_DIR" env-description:"Directory of the fs object store"`
	FSBaseURL         string `env:"FS_BASE_URL" env-description:"Public URL of the /objects endpoint"`
	FSSecretKey       string `env:"FS_SECRET_KEY" env-description:"HMAC key for fs signed URLs"`

	KeyStrategy string `env:"KEY_STRATEGY" env-description:"Object key layout: uuid, timestamp or gitlike"`
	KeyPrefix   string `env:"KEY_PREFIX" env-description:"Directory prepended to uuid and timestamp keys"`

	URLExpirySeconds    int   `env:"URL_EXPIRY_SECONDS" env-description:"Default signed URL validity"`
	MaxURLExpirySeconds int   `env:"MAX_URL_EXPIRY_SECONDS" env-description:"Upper bound for requested validity"`
	MaxFileSize         int64 `env:"MAX_FILE_SIZE" env-description:"Largest accepted object in bytes"`
	MinPartSize         int64 `env:"MIN_PART_SIZE" env-description:"Smallest multipart part size in bytes"`
	DefaultPartSize     int64 `env:"DEFAULT_PART_SIZE" env-description:"Part size handed out by default"`
	ShortIDLength       int   `env:"SHORT_ID_LENGTH" env-description:"Length of generated short ids"`
	VerifyDownloads     bool  `env:"VERIFY_DOWNLOADS" env-description:"Check object existence before signing downloads"`
	MetricsEnabled      bool  `env:"METRICS_ENABLED" env-description:"Expose Prometheus metrics"`
}

// WithEnv applies environment variable overrides.
//
// Server:
//
//	PORT, ENVIRONMENT, CORS_ORIGIN, API_KEY_SHA256
//
// Mapping store:
//
//	MAPPING_STORE (memory|postgres|dynamodb), DATABASE_URL, DB_SCHEMA,
//	DYNAMODB_TABLE, DYNAMODB_ENDPOINT, DYNAMODB_OBJECT_KEY_INDEX,
//	MAPPING_CACHE (none|lru|redis), MAPPING_CACHE_SIZE, REDIS_ADDR, REDIS_TTL_SECONDS
//
// Object store:
//
//	STORAGE_BACKEND (memory|s3|fs), S3_BUCKET, S3_REGION, S3_ENDPOINT,
//	S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY, S3_USE_PATH_STYLE, S3_CREATE_BUCKET,
//	FS_BASE_DIR, FS_BASE_URL, FS_SECRET_KEY,
//	KEY_STRATEGY (uuid|timestamp|gitlike), KEY_PREFIX
//
// Limits:
//
//	URL_EXPIRY_SECONDS, MAX_URL_EXPIRY_SECONDS, MAX_FILE_SIZE, MIN_PART_SIZE,
//	DEFAULT_PART_SIZE, SHORT_ID_LENGTH, VERIFY_DOWNLOADS, METRICS_ENABLED
func WithEnv() Option {
	return func(c *ServerConfig) error {
		settings := fromConfig(c)
		if err := cleanenv.ReadEnv(&settings); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		settings.apply(c)
		return nil
	}
}

// EnvUsage writes a description of every supported environment variable.
func EnvUsage(w io.Writer) error {
	var settings envSettings
	description, err := cleanenv.GetDescription(&settings, nil)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, description)
	return err
}

func fromConfig(c *ServerConfig) envSettings {
	return envSettings{
		Port:                c.Port,
		Environment:         c.Environment,
		CORSOrigin:          c.CORSOrigin,
		APIKeySHA256:        c.APIKeySHA256,
		MappingStore:        c.MappingStore,
		DatabaseURL:         c.DatabaseURL,
		DBSchema:            c.DBSchema,
		DynamoDBTable:       c.DynamoDBTable,
		DynamoDBEndpoint:    c.DynamoDBEndpoint,
		DynamoDBKeyIndex:    c.DynamoDBKeyIndex,
		MappingCache:        c.MappingCache,
		MappingCacheSize:    c.MappingCacheSize,
		RedisAddr:           c.RedisAddr,
		RedisTTLSeconds:     int(c.RedisTTL / time.Second),
		StorageBackend:      c.StorageBackend,
		S3Bucket:            c.S3.Bucket,
		S3Region:            c.S3.Region,
		S3Endpoint:          c.S3.Endpoint,
		S3AccessKeyID:       c.S3.AccessKeyID,
		S3SecretAccessKey:   c.S3.SecretAccessKey,
		S3UsePathStyle:      c.S3.UsePathStyle,
		S3CreateBucket:      c.S3.CreateBucket,
		FSBaseDir:           c.FS.BaseDir,
		FSBaseURL:           c.FS.BaseURL,
		FSSecretKey:         c.FS.SecretKey,
		KeyStrategy:         c.KeyStrategy,
		KeyPrefix:           c.KeyPrefix,
		URLExpirySeconds:    int(c.URLExpiry / time.Second),
		MaxURLExpirySeconds: int(c.MaxURLExpiry / time.Second),
		MaxFileSize:         c.MaxFileSize,
		MinPartSize:         c.MinPartSize,
		DefaultPartSize:     c.DefaultPartSize,
		ShortIDLength:       c.ShortIDLength,
		VerifyDownloads:     c.VerifyDownloads,
		MetricsEnabled:      c.MetricsEnabled,
	}
}

func (s envSettings) apply(c *ServerConfig) {
	c.Port = s.Port
	c.Environment = s.Environment
	c.CORSOrigin = s.CORSOrigin
	c.APIKeySHA256 = s.APIKeySHA256
	c.MappingStore = s.MappingStore
	c.DatabaseURL = s.DatabaseURL
	c.DBSchema = s.DBSchema
	c.DynamoDBTable = s.DynamoDBTable
	c.DynamoDBEndpoint = s.DynamoDBEndpoint
	c.DynamoDBKeyIndex = s.DynamoDBKeyIndex
	c.MappingCache = s.MappingCache
	c.MappingCacheSize = s.MappingCacheSize
	c.RedisAddr = s.RedisAddr
	c.RedisTTL = time.Duration(s.RedisTTLSeconds) * time.Second
	c.StorageBackend = s.StorageBackend
	c.S3 = S3Config{
		Bucket:          s.S3Bucket,
		Region:          s.S3Region,
		Endpoint:        s.S3Endpoint,
		AccessKeyID:     s.S3AccessKeyID,
		SecretAccessKey: s.S3SecretAccessKey,
		UsePathStyle:    s.S3UsePathStyle,
		CreateBucket:    s.S3CreateBucket,
	}
	c.FS = FSConfig{
		BaseDir:   s.FSBaseDir,
		BaseURL:   s.FSBaseURL,
		SecretKey: s.FSSecretKey,
	}
	c.KeyStrategy = s.KeyStrategy
	c.KeyPrefix = s.KeyPrefix
	c.URLExpiry = time.Duration(s.URLExpirySeconds) * time.Second
	c.MaxURLExpiry = time.Duration(s.MaxURLExpirySeconds) * time.Second
	c.MaxFileSize = s.MaxFileSize
	c.MinPartSize = s.MinPartSize
	c.DefaultPartSize = s.DefaultPartSize
	c.ShortIDLength = s.ShortIDLength
	c.VerifyDownloads = s.VerifyDownloads
	c.MetricsEnabled = s.MetricsEnabled
}
