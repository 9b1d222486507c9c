package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// Repository implements simpletransfer.MappingStore using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	byShort map[string]*simpletransfer.MappingRecord
	byKey   map[string]string // object key -> short id
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		byShort: make(map[string]*simpletransfer.MappingRecord),
		byKey:   make(map[string]string),
	}
}

// Create stores a copy of record. Short ids are unique.
func (r *Repository) Create(ctx context.Context, record *simpletransfer.MappingRecord) error {
	if record == nil || record.ShortID == "" || record.ObjectKey == "" {
		return fmt.Errorf("mapping record requires short id and object key")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byShort[record.ShortID]; exists {
		return simpletransfer.ErrDuplicateShortID
	}

	// Create a copy to avoid external modifications
	recordCopy := *record
	r.byShort[record.ShortID] = &recordCopy
	if _, exists := r.byKey[record.ObjectKey]; !exists {
		r.byKey[record.ObjectKey] = record.ShortID
	}

	return nil
}

func (r *Repository) FindByShortID(ctx context.Context, shortID string) (*simpletransfer.MappingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.byShort[shortID]
	if !exists {
		return nil, simpletransfer.ErrMappingNotFound
	}

	recordCopy := *record
	return &recordCopy, nil
}

func (r *Repository) FindByObjectKey(ctx context.Context, objectKey string) (*simpletransfer.MappingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shortID, exists := r.byKey[objectKey]
	if !exists {
		return nil, simpletransfer.ErrMappingNotFound
	}

	recordCopy := *r.byShort[shortID]
	return &recordCopy, nil
}

// Ping always succeeds
func (r *Repository) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored records
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byShort)
}
