package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

var (
	// ErrNoSuchUpload mirrors the object store error for unknown upload ids
	ErrNoSuchUpload = errors.New("no such upload")

	// ErrInvalidPartOrder is returned when completion parts are not strictly ascending
	ErrInvalidPartOrder = errors.New("parts must be in strictly ascending order")

	// ErrInvalidPart is returned when a part was never uploaded or its etag differs
	ErrInvalidPart = errors.New("invalid part")
)

type object struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

type upload struct {
	key         string
	contentType string
	parts       map[int32]*object
}

// Backend is an in-memory implementation of simpletransfer.ObjectGateway.
// Signed URLs use the memory:// scheme; the PutObject and UploadPart helpers
// stand in for the client PUTs a real object store would receive.
type Backend struct {
	mu        sync.RWMutex
	bucket    string
	objects   map[string]*object
	uploads   map[string]*upload
	completed map[string][]simpletransfer.PartDescriptor
	calls     []string
	now       func() time.Time
}

// New creates a new in-memory gateway for bucket
func New(bucket string) *Backend {
	if bucket == "" {
		bucket = "memory"
	}
	return &Backend{
		bucket:    bucket,
		objects:   make(map[string]*object),
		uploads:   make(map[string]*upload),
		completed: make(map[string][]simpletransfer.PartDescriptor),
		now:       time.Now,
	}
}

func (b *Backend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *Backend) signedURL(key string, params url.Values, expiry time.Duration) string {
	params.Set("expires", strconv.FormatInt(int64(expiry/time.Second), 10))
	u := url.URL{
		Scheme:   "memory",
		Host:     b.bucket,
		Path:     "/" + key,
		RawQuery: params.Encode(),
	}
	return u.String()
}

func (b *Backend) SignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SignPut")

	params := url.Values{}
	params.Set("op", "put")
	params.Set("contentType", contentType)
	return b.signedURL(key, params, expiry), nil
}

func (b *Backend) SignGet(ctx context.Context, key string, opts simpletransfer.SignGetOptions, expiry time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SignGet")

	params := url.Values{}
	params.Set("op", "get")
	if opts.DownloadFilename != "" {
		params.Set("filename", opts.DownloadFilename)
	}
	return b.signedURL(key, params, expiry), nil
}

func (b *Backend) HeadObject(ctx context.Context, key string) (*simpletransfer.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("HeadObject")

	obj, exists := b.objects[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", simpletransfer.ErrFileNotFound, key)
	}
	return &simpletransfer.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}, nil
}

func (b *Backend) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("InitiateMultipart")

	uploadID := uuid.NewString()
	b.uploads[uploadID] = &upload{
		key:         key,
		contentType: contentType,
		parts:       make(map[int32]*object),
	}
	return uploadID, nil
}

func (b *Backend) SignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SignUploadPart")

	params := url.Values{}
	params.Set("op", "upload-part")
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(int(partNumber)))
	if contentLength > 0 {
		params.Set("contentLength", strconv.FormatInt(contentLength, 10))
	}
	return b.signedURL(key, params, expiry), nil
}

func (b *Backend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []simpletransfer.PartDescriptor) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("CompleteMultipart")

	up, exists := b.uploads[uploadID]
	if !exists || up.key != key {
		return "", b.storageError("complete_multipart", key, ErrNoSuchUpload)
	}

	var data []byte
	for i, part := range parts {
		if i > 0 && parts[i-1].PartNumber >= part.PartNumber {
			return "", b.storageError("complete_multipart", key, ErrInvalidPartOrder)
		}
		stored, ok := up.parts[part.PartNumber]
		if !ok || stored.etag != part.ETag {
			return "", b.storageError("complete_multipart", key, fmt.Errorf("%w: %d", ErrInvalidPart, part.PartNumber))
		}
		data = append(data, stored.data...)
	}

	submitted := make([]simpletransfer.PartDescriptor, len(parts))
	copy(submitted, parts)
	b.completed[uploadID] = submitted

	b.objects[key] = &object{
		data:         data,
		contentType:  up.contentType,
		etag:         etagOf(data),
		lastModified: b.now().UTC(),
	}
	delete(b.uploads, uploadID)
	return key, nil
}

// AbortMultipart discards the upload. Unknown upload ids are not an error.
func (b *Backend) AbortMultipart(ctx context.Context, key, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("AbortMultipart")

	delete(b.uploads, uploadID)
	return nil
}

// PutObject stores data as if a client had used a signed PUT URL.
func (b *Backend) PutObject(key, contentType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = &object{
		data:         append([]byte(nil), data...),
		contentType:  contentType,
		etag:         etagOf(data),
		lastModified: b.now().UTC(),
	}
}

// UploadPart stores one part as if a client had used a signed part URL and
// returns the ETag the client would have received.
func (b *Backend) UploadPart(key, uploadID string, partNumber int32, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, exists := b.uploads[uploadID]
	if !exists || up.key != key {
		return "", b.storageError("upload_part", key, ErrNoSuchUpload)
	}
	etag := etagOf(data)
	up.parts[partNumber] = &object{data: append([]byte(nil), data...), etag: etag}
	return etag, nil
}

// Object returns the stored bytes of key.
func (b *Backend) Object(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// OpenUploads returns the ids of uploads that are neither completed nor aborted.
func (b *Backend) OpenUploads() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.uploads))
	for id := range b.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CompletedParts returns the parts exactly as submitted to CompleteMultipart.
func (b *Backend) CompletedParts(uploadID string) []simpletransfer.PartDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.completed[uploadID]
}

// Calls returns the gateway methods invoked so far, in order.
func (b *Backend) Calls() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.calls...)
}

// Ping always succeeds
func (b *Backend) Ping(ctx context.Context) error {
	return nil
}

func (b *Backend) storageError(op, key string, err error) error {
	return &simpletransfer.StorageError{Backend: "memory", Key: key, Op: op, Err: err}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
