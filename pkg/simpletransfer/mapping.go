package simpletransfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// createMapping persists a new record for objectKey, regenerating the short
// id on collisions until MaxIDAttempts is exhausted.
func (s *service) createMapping(ctx context.Context, objectKey string) (*MappingRecord, error) {
	for attempt := 1; attempt <= s.limits.MaxIDAttempts; attempt++ {
		id, err := s.ids.Generate(s.limits.ShortIDLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate short id: %w", err)
		}

		record := &MappingRecord{
			ShortID:   id,
			ObjectKey: objectKey,
			CreatedAt: s.now().UTC(),
		}

		err = s.store.Create(ctx, record)
		if err == nil {
			s.hooks.executeAfterMappingCreate(ctx, s.logger, record)
			return record, nil
		}
		if !errors.Is(err, ErrDuplicateShortID) {
			return nil, storeError("create", objectKey, err)
		}
		s.logger.WarnContext(ctx, "short id collision, regenerating", "attempt", attempt, "key", objectKey)
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrIDGenerationExhausted, s.limits.MaxIDAttempts)
}

// Resolve looks up identifier as a short id first and then, if the store
// supports it, as an object key.
func (s *service) Resolve(ctx context.Context, identifier string) (*MappingRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, invalid("identifier", "must not be empty")
	}

	record, err := s.store.FindByShortID(ctx, identifier)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrMappingNotFound) {
		return nil, storeError("find", identifier, err)
	}

	if finder, ok := s.store.(ObjectKeyFinder); ok {
		record, err = finder.FindByObjectKey(ctx, identifier)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrMappingNotFound) {
			return nil, storeError("find", identifier, err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, identifier)
}
