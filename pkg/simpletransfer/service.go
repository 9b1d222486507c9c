package simpletransfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-transfer/pkg/simpletransfer/objectkey"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/shortid"
)

// Service defines the main interface for the simple-transfer library
type Service interface {
	// Single-shot transfers
	IssueUploadURL(ctx context.Context, req UploadURLRequest) (*UploadURLResponse, error)
	IssueDownloadURL(ctx context.Context, req DownloadURLRequest) (*DownloadURLResponse, error)

	// Multipart upload sessions
	InitiateMultipart(ctx context.Context, req InitiateMultipartRequest) (*InitiateMultipartResponse, error)
	IssuePartURL(ctx context.Context, req PartURLRequest) (*PartURLResponse, error)
	CompleteMultipart(ctx context.Context, req CompleteMultipartRequest) (*CompleteMultipartResponse, error)
	AbortMultipart(ctx context.Context, req AbortMultipartRequest) (*AbortMultipartResponse, error)

	// Resolve returns the mapping for a short id or, when the store supports it, an object key
	Resolve(ctx context.Context, identifier string) (*MappingRecord, error)

	// Limits returns the effective limits the service enforces
	Limits() Limits
}

// Limits holds the size and expiry policy of the service.
type Limits struct {
	MaxFileSize      int64
	MinPartSize      int64
	DefaultPartSize  int64
	DefaultURLExpiry time.Duration
	MaxURLExpiry     time.Duration
	ShortIDLength    int
	// MaxIDAttempts bounds short id regeneration after collisions
	MaxIDAttempts int
	// VerifyDownloads checks object existence before signing download URLs
	VerifyDownloads bool
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:      5 * 1024 * 1024 * 1024,
		MinPartSize:      BackendMinPartSize,
		DefaultPartSize:  DefaultPartSize,
		DefaultURLExpiry: DefaultURLExpiry,
		MaxURLExpiry:     time.Hour,
		ShortIDLength:    DefaultShortIDLength,
		MaxIDAttempts:    5,
		VerifyDownloads:  true,
	}
}

// Validate reports the first inconsistent limit.
func (l Limits) Validate() error {
	switch {
	case l.MaxFileSize <= 0:
		return errors.New("max file size must be positive")
	case l.MinPartSize < BackendMinPartSize:
		return fmt.Errorf("min part size must be at least %d bytes", BackendMinPartSize)
	case l.MinPartSize > BackendMaxPartSize:
		return fmt.Errorf("min part size must not exceed %d bytes", BackendMaxPartSize)
	case l.DefaultPartSize < l.MinPartSize:
		return errors.New("default part size must not be smaller than min part size")
	case l.DefaultPartSize > BackendMaxPartSize:
		return fmt.Errorf("default part size must not exceed %d bytes", BackendMaxPartSize)
	case l.DefaultURLExpiry <= 0:
		return errors.New("default url expiry must be positive")
	case l.MaxURLExpiry < l.DefaultURLExpiry:
		return errors.New("max url expiry must not be shorter than default url expiry")
	case l.MaxURLExpiry > 7*24*time.Hour:
		return errors.New("max url expiry must not exceed 7 days")
	case l.ShortIDLength < 6 || l.ShortIDLength > 64:
		return errors.New("short id length must be between 6 and 64")
	case l.MaxIDAttempts < 1:
		return errors.New("max id attempts must be at least 1")
	}
	return nil
}

// service implements the Service interface
type service struct {
	store    MappingStore
	gateway  ObjectGateway
	ids      IDGenerator
	keys     KeyGenerator
	limits   Limits
	hooks    *Hooks
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithMappingStore sets the mapping store for the service
func WithMappingStore(store MappingStore) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithGateway sets the object store gateway for the service
func WithGateway(gateway ObjectGateway) Option {
	return func(s *service) {
		s.gateway = gateway
	}
}

// WithIDGenerator replaces the crypto/rand short id generator
func WithIDGenerator(ids IDGenerator) Option {
	return func(s *service) {
		s.ids = ids
	}
}

// WithKeyGenerator replaces the default {uuid}-{filename} object key strategy
func WithKeyGenerator(keys KeyGenerator) Option {
	return func(s *service) {
		s.keys = keys
	}
}

// WithLimits sets the size and expiry policy
func WithLimits(limits Limits) Option {
	return func(s *service) {
		s.limits = limits
	}
}

// WithHooks installs lifecycle hooks. Repeated calls append to the hooks
// already installed.
func WithHooks(hooks *Hooks) Option {
	return func(s *service) {
		s.hooks = Merge(s.hooks, hooks)
	}
}

// WithObserver sets the operation observer (metrics)
func WithObserver(observer Observer) Option {
	return func(s *service) {
		s.observer = observer
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		ids:      shortid.New(),
		keys:     objectkey.NewUUIDGenerator(),
		limits:   DefaultLimits(),
		hooks:    &Hooks{},
		observer: NewNoopObserver(),
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.store == nil {
		return nil, fmt.Errorf("mapping store is required")
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("object gateway is required")
	}
	if s.hooks == nil {
		s.hooks = &Hooks{}
	}
	if s.observer == nil {
		s.observer = NewNoopObserver()
	}
	if err := s.limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}

	return s, nil
}

func (s *service) Limits() Limits {
	return s.limits
}

// observe reports an operation outcome to the observer, the log and the error hooks.
func (s *service) observe(ctx context.Context, operation string, start time.Time, err error) {
	duration := time.Since(start)
	s.observer.RecordOperation(operation, duration, err)

	if err == nil {
		s.logger.DebugContext(ctx, "transfer operation succeeded", "operation", operation, "duration", duration)
		return
	}

	kind := KindOf(err)
	switch kind {
	case KindValidation, KindFileTooLarge, KindMappingNotFound, KindFileNotFound:
		s.logger.InfoContext(ctx, "transfer operation rejected", "operation", operation, "kind", kind, "error", err)
	default:
		s.logger.ErrorContext(ctx, "transfer operation failed", "operation", operation, "kind", kind, "error", err)
	}
	s.hooks.executeOnError(ctx, operation, err)
}

// expiry clamps a requested URL validity to the configured bounds.
func (s *service) expiry(requested time.Duration) time.Duration {
	if requested <= 0 {
		return s.limits.DefaultURLExpiry
	}
	if requested > s.limits.MaxURLExpiry {
		return s.limits.MaxURLExpiry
	}
	return requested
}

// checkSize enforces the maximum object size for a declared size.
func (s *service) checkSize(size int64) error {
	if size > s.limits.MaxFileSize {
		return &FileTooLargeError{Size: size, Limit: s.limits.MaxFileSize}
	}
	return nil
}

func gatewayError(op, key string, err error) error {
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrFileNotFound) {
		return err
	}
	return &StorageError{Backend: "object-store", Key: key, Op: op, Err: err}
}

func storeError(op, key string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Backend: "mapping-store", Key: key, Op: op, Err: err}
}
