package simpletransfer

import (
	"context"
	"time"
)

// MappingStore persists short identifier to object key mappings.
type MappingStore interface {
	// Create stores a new record. It returns ErrDuplicateShortID when the
	// short id is already taken and a storage error on any other failure.
	Create(ctx context.Context, record *MappingRecord) error

	// FindByShortID returns the record for shortID or ErrMappingNotFound.
	FindByShortID(ctx context.Context, shortID string) (*MappingRecord, error)
}

// ObjectKeyFinder is implemented by mapping stores that can resolve a record
// from its object key as well as from its short id.
type ObjectKeyFinder interface {
	FindByObjectKey(ctx context.Context, objectKey string) (*MappingRecord, error)
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ObjectGateway signs operations against one bucket of an S3-compatible
// object store. It never transfers object bytes itself.
type ObjectGateway interface {
	// SignPut returns a URL that allows a single PUT of key.
	SignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// SignGet returns a URL that allows downloading key.
	SignGet(ctx context.Context, key string, opts SignGetOptions, expiry time.Duration) (string, error)

	// HeadObject returns object metadata or an error matching ErrFileNotFound.
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)

	// InitiateMultipart starts a multipart upload and returns its upload id.
	InitiateMultipart(ctx context.Context, key, contentType string) (string, error)

	// SignUploadPart returns a URL for uploading one part. contentLength is
	// signed into the URL when positive.
	SignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error)

	// CompleteMultipart stitches the parts, which must be in ascending order,
	// and returns the final key.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []PartDescriptor) (string, error)

	// AbortMultipart cancels an upload. Unknown or already aborted uploads are not an error.
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// IDGenerator produces random public identifiers of the requested length.
type IDGenerator interface {
	Generate(length int) (string, error)
}

// KeyGenerator derives a collision-resistant object key from a file name.
type KeyGenerator interface {
	GenerateKey(fileName string) string
}

// Observer receives the duration and outcome of every service operation.
type Observer interface {
	RecordOperation(operation string, duration time.Duration, err error)
}
