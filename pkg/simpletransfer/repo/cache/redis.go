package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// RedisClient is the subset of *redis.Client the cache uses
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis shares cached mapping records between server instances. Redis
// failures are logged and the lookup falls through to the wrapped store.
type Redis struct {
	next   simpletransfer.MappingStore
	client RedisClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// RedisOption configures the Redis cache
type RedisOption func(*Redis)

// WithKeyPrefix namespaces cache keys
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithLogger sets the logger used for cache failures
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis wraps next with a Redis cache; ttl 0 keeps entries until evicted
func NewRedis(next simpletransfer.MappingStore, client RedisClient, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "simple-transfer:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) shortKey(shortID string) string {
	return r.prefix + "sid:" + shortID
}

func (r *Redis) objectKey(objectKey string) string {
	return r.prefix + "key:" + objectKey
}

func (r *Redis) Create(ctx context.Context, record *simpletransfer.MappingRecord) error {
	if err := r.next.Create(ctx, record); err != nil {
		return err
	}
	r.store(ctx, r.shortKey(record.ShortID), record)
	return nil
}

func (r *Redis) FindByShortID(ctx context.Context, shortID string) (*simpletransfer.MappingRecord, error) {
	if record, ok := r.load(ctx, r.shortKey(shortID)); ok {
		return record, nil
	}

	record, err := r.next.FindByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, r.shortKey(shortID), record)
	return record, nil
}

func (r *Redis) FindByObjectKey(ctx context.Context, objectKey string) (*simpletransfer.MappingRecord, error) {
	if record, ok := r.load(ctx, r.objectKey(objectKey)); ok {
		return record, nil
	}

	finder, ok := r.next.(simpletransfer.ObjectKeyFinder)
	if !ok {
		return nil, simpletransfer.ErrMappingNotFound
	}
	record, err := finder.FindByObjectKey(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	r.store(ctx, r.objectKey(objectKey), record)
	return record, nil
}

// Ping checks Redis and then the wrapped store
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if pinger, ok := r.next.(simpletransfer.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (r *Redis) load(ctx context.Context, key string) (*simpletransfer.MappingRecord, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.WarnContext(ctx, "redis cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var record simpletransfer.MappingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		r.logger.WarnContext(ctx, "redis cache entry is corrupt", "key", key, "error", err)
		return nil, false
	}
	return &record, true
}

func (r *Redis) store(ctx context.Context, key string, record *simpletransfer.MappingRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "redis cache write failed", "key", key, "error", err)
	}
}
