// Package cache provides read-through caching decorators for mapping stores.
// Mapping records are immutable once written, so cached entries never go
// stale; lookups that miss are never cached.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// LRU caches mapping records in process memory
type LRU struct {
	next    simpletransfer.MappingStore
	byShort *lru.Cache[string, simpletransfer.MappingRecord]
	byKey   *lru.Cache[string, simpletransfer.MappingRecord]
}

// NewLRU wraps next with an LRU cache holding up to size records per index
func NewLRU(next simpletransfer.MappingStore, size int) (*LRU, error) {
	byShort, err := lru.New[string, simpletransfer.MappingRecord](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	byKey, err := lru.New[string, simpletransfer.MappingRecord](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &LRU{next: next, byShort: byShort, byKey: byKey}, nil
}

func (c *LRU) Create(ctx context.Context, record *simpletransfer.MappingRecord) error {
	if err := c.next.Create(ctx, record); err != nil {
		return err
	}
	c.byShort.Add(record.ShortID, *record)
	return nil
}

func (c *LRU) FindByShortID(ctx context.Context, shortID string) (*simpletransfer.MappingRecord, error) {
	if record, ok := c.byShort.Get(shortID); ok {
		return &record, nil
	}

	record, err := c.next.FindByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	c.byShort.Add(shortID, *record)
	return record, nil
}

func (c *LRU) FindByObjectKey(ctx context.Context, objectKey string) (*simpletransfer.MappingRecord, error) {
	if record, ok := c.byKey.Get(objectKey); ok {
		return &record, nil
	}

	finder, ok := c.next.(simpletransfer.ObjectKeyFinder)
	if !ok {
		return nil, simpletransfer.ErrMappingNotFound
	}
	record, err := finder.FindByObjectKey(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	c.byKey.Add(objectKey, *record)
	return record, nil
}

// Ping forwards to the wrapped store
func (c *LRU) Ping(ctx context.Context) error {
	if pinger, ok := c.next.(simpletransfer.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Len returns the number of records cached by short id
func (c *LRU) Len() int {
	return c.byShort.Len()
}
