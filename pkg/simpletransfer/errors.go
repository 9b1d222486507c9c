package simpletransfer

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrValidation indicates malformed or out-of-range caller input
	ErrValidation = errors.New("validation error")

	// ErrFileTooLarge indicates the declared size exceeds the configured limit
	ErrFileTooLarge = errors.New("file too large")

	// ErrMappingNotFound indicates an unknown short identifier or key
	ErrMappingNotFound = errors.New("mapping not found")

	// ErrFileNotFound indicates the object is absent from the object store
	ErrFileNotFound = errors.New("file not found")

	// ErrStorage indicates the object store or mapping store rejected or failed an operation
	ErrStorage = errors.New("storage error")

	// ErrIDGenerationExhausted indicates every generated short id collided
	ErrIDGenerationExhausted = errors.New("short id generation exhausted")

	// ErrDuplicateShortID is returned by mapping stores when the short id is already taken
	ErrDuplicateShortID = errors.New("duplicate short id")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FileTooLargeError reports the declared size together with the enforced limit.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file size %d exceeds the maximum allowed size of %d bytes (%dMB)",
		e.Size, e.Limit, e.Limit/1024/1024)
}

func (e *FileTooLargeError) Is(target error) bool {
	return target == ErrFileTooLarge
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage operation %s failed on backend %s: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ErrorKind classifies an error into the transfer error taxonomy.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindValidation            ErrorKind = "validation"
	KindFileTooLarge          ErrorKind = "file_too_large"
	KindMappingNotFound       ErrorKind = "mapping_not_found"
	KindFileNotFound          ErrorKind = "file_not_found"
	KindStorage               ErrorKind = "storage"
	KindIDGenerationExhausted ErrorKind = "id_generation_exhausted"
	KindInternal              ErrorKind = "internal"
)

// KindOf returns the taxonomy kind of err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrFileTooLarge):
		return KindFileTooLarge
	case errors.Is(err, ErrMappingNotFound):
		return KindMappingNotFound
	case errors.Is(err, ErrFileNotFound):
		return KindFileNotFound
	case errors.Is(err, ErrIDGenerationExhausted):
		return KindIDGenerationExhausted
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
