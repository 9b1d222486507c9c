// Package fs is a filesystem implementation of simpletransfer.ObjectGateway
// for single-node deployments. Signed URLs point at Handler, which the
// server mounts next to the API.
package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

var (
	// ErrNoSuchUpload is returned for unknown or finished upload ids
	ErrNoSuchUpload = errors.New("no such upload")

	// ErrInvalidPartOrder is returned when completion parts are not strictly ascending
	ErrInvalidPartOrder = errors.New("parts must be in strictly ascending order")

	// ErrInvalidPart is returned when a part was never uploaded or its etag differs
	ErrInvalidPart = errors.New("invalid part")

	// ErrInvalidKey is returned for keys that would escape the base directory
	ErrInvalidKey = errors.New("invalid object key")
)

// Config options for the filesystem backend
type Config struct {
	BaseDir   string // Base directory for objects, metadata and open uploads
	BaseURL   string // Public URL the Handler is mounted at, e.g. http://localhost:8080/objects
	SecretKey string // HMAC key for signed URLs
}

// Backend stores objects below BaseDir:
//
//	objects/<key>              object bytes
//	meta/<key>.json            content type and etag
//	uploads/<id>/upload.json   open multipart upload
//	uploads/<id>/<n>.part      uploaded part
type Backend struct {
	mu      sync.Mutex
	baseDir string
	baseURL *url.URL
	signer  *Signer
	now     func() time.Time
}

type objectMeta struct {
	ContentType string `json:"contentType"`
	ETag        string `json:"etag"`
}

type uploadMeta struct {
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// New creates a new filesystem backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	baseURL, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	signer, err := NewSigner(config.SecretKey)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{"objects", "meta", "uploads", "tmp"} {
		if err := os.MkdirAll(filepath.Join(config.BaseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &Backend{
		baseDir: config.BaseDir,
		baseURL: baseURL,
		signer:  signer,
		now:     time.Now,
	}, nil
}

func (b *Backend) signedURL(method, key string, params url.Values, expiry time.Duration) string {
	u := *b.baseURL
	u.Path = b.baseURL.Path + "/" + key
	u.RawQuery = b.signer.Sign(method, key, params, expiry).Encode()
	return u.String()
}

func (b *Backend) SignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", b.storageError("sign_put", key, err)
	}
	params := url.Values{}
	params.Set("op", "put")
	if contentType != "" {
		params.Set("contentType", contentType)
	}
	return b.signedURL("PUT", key, params, expiry), nil
}

func (b *Backend) SignGet(ctx context.Context, key string, opts simpletransfer.SignGetOptions, expiry time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", b.storageError("sign_get", key, err)
	}
	params := url.Values{}
	params.Set("op", "get")
	if opts.DownloadFilename != "" {
		params.Set("filename", opts.DownloadFilename)
	}
	return b.signedURL("GET", key, params, expiry), nil
}

func (b *Backend) HeadObject(ctx context.Context, key string) (*simpletransfer.ObjectInfo, error) {
	objectPath, err := b.objectPath(key)
	if err != nil {
		return nil, b.storageError("head_object", key, err)
	}
	info, err := os.Stat(objectPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", simpletransfer.ErrFileNotFound, key)
	}
	if err != nil {
		return nil, b.storageError("head_object", key, err)
	}

	meta, err := b.readObjectMeta(key)
	if err != nil {
		return nil, b.storageError("head_object", key, err)
	}
	return &simpletransfer.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		LastModified: info.ModTime().UTC(),
	}, nil
}

func (b *Backend) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", b.storageError("initiate_multipart", key, err)
	}
	uploadID := uuid.NewString()
	dir := b.uploadDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", b.storageError("initiate_multipart", key, err)
	}
	meta := uploadMeta{Key: key, ContentType: contentType, CreatedAt: b.now().UTC()}
	if err := writeJSON(filepath.Join(dir, "upload.json"), meta); err != nil {
		_ = os.RemoveAll(dir)
		return "", b.storageError("initiate_multipart", key, err)
	}
	return uploadID, nil
}

func (b *Backend) SignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", b.storageError("sign_upload_part", key, err)
	}
	params := url.Values{}
	params.Set("op", "upload-part")
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(int(partNumber)))
	if contentLength > 0 {
		params.Set("contentLength", strconv.FormatInt(contentLength, 10))
	}
	return b.signedURL("PUT", key, params, expiry), nil
}

// CompleteMultipart concatenates the parts into the final object. The object
// etag follows the S3 multipart form: md5 of the part digests, dash, part count.
func (b *Backend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []simpletransfer.PartDescriptor) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	upload, err := b.readUpload(uploadID)
	if err != nil || upload.Key != key {
		return "", b.storageError("complete_multipart", key, ErrNoSuchUpload)
	}

	tmp, err := os.CreateTemp(filepath.Join(b.baseDir, "tmp"), "complete-*")
	if err != nil {
		return "", b.storageError("complete_multipart", key, err)
	}
	defer os.Remove(tmp.Name())

	digests := md5.New()
	for i, part := range parts {
		if i > 0 && parts[i-1].PartNumber >= part.PartNumber {
			tmp.Close()
			return "", b.storageError("complete_multipart", key, ErrInvalidPartOrder)
		}
		sum, err := appendPart(tmp, b.partPath(uploadID, part.PartNumber))
		if err != nil || hex.EncodeToString(sum) != unquoteETag(part.ETag) {
			tmp.Close()
			return "", b.storageError("complete_multipart", key, fmt.Errorf("%w: %d", ErrInvalidPart, part.PartNumber))
		}
		digests.Write(sum)
	}
	if err := tmp.Close(); err != nil {
		return "", b.storageError("complete_multipart", key, err)
	}

	etag := quoteETag(fmt.Sprintf("%s-%d", hex.EncodeToString(digests.Sum(nil)), len(parts)))
	if err := b.commit(tmp.Name(), key, objectMeta{ContentType: upload.ContentType, ETag: etag}); err != nil {
		return "", b.storageError("complete_multipart", key, err)
	}
	if err := os.RemoveAll(b.uploadDir(uploadID)); err != nil {
		return "", b.storageError("complete_multipart", key, err)
	}
	return key, nil
}

// AbortMultipart removes the upload directory. Unknown upload ids are not an error.
func (b *Backend) AbortMultipart(ctx context.Context, key, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := uuid.Parse(uploadID); err != nil {
		return nil
	}
	if err := os.RemoveAll(b.uploadDir(uploadID)); err != nil {
		return b.storageError("abort_multipart", key, err)
	}
	return nil
}

// Ping checks that the base directory is reachable
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(b.baseDir, "objects")); err != nil {
		return b.storageError("ping", "", err)
	}
	return nil
}

// OpenUploads returns the ids of uploads that are neither completed nor aborted
func (b *Backend) OpenUploads() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "uploads"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// writeObject stores the body of a signed PUT and returns its etag
func (b *Backend) writeObject(key, contentType string, body io.Reader) (string, error) {
	tmp, err := os.CreateTemp(filepath.Join(b.baseDir, "tmp"), "put-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	etag := quoteETag(hex.EncodeToString(hash.Sum(nil)))
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.commit(tmp.Name(), key, objectMeta{ContentType: contentType, ETag: etag}); err != nil {
		return "", err
	}
	return etag, nil
}

// writePart stores one part of an open upload and returns its etag
func (b *Backend) writePart(key, uploadID string, partNumber int32, body io.Reader) (string, error) {
	upload, err := b.readUpload(uploadID)
	if err != nil || upload.Key != key {
		return "", ErrNoSuchUpload
	}

	tmp, err := os.CreateTemp(b.uploadDir(uploadID), "part-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), b.partPath(uploadID, partNumber)); err != nil {
		return "", err
	}
	return quoteETag(hex.EncodeToString(hash.Sum(nil))), nil
}

// commit moves a finished temp file into place and records its metadata.
// Callers hold b.mu.
func (b *Backend) commit(tmpPath, key string, meta objectMeta) error {
	objectPath, err := b.objectPath(key)
	if err != nil {
		return err
	}
	metaPath := b.metaPath(key)
	for _, dir := range []string{filepath.Dir(objectPath), filepath.Dir(metaPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := writeJSON(metaPath, meta); err != nil {
		return err
	}
	return os.Rename(tmpPath, objectPath)
}

func (b *Backend) readObjectMeta(key string) (objectMeta, error) {
	var meta objectMeta
	raw, err := os.ReadFile(b.metaPath(key))
	if os.IsNotExist(err) {
		return objectMeta{ContentType: "application/octet-stream"}, nil
	}
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(raw, &meta)
	return meta, err
}

func (b *Backend) readUpload(uploadID string) (*uploadMeta, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return nil, ErrNoSuchUpload
	}
	raw, err := os.ReadFile(filepath.Join(b.uploadDir(uploadID), "upload.json"))
	if err != nil {
		return nil, err
	}
	var meta uploadMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (b *Backend) objectPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, "objects", filepath.FromSlash(key)), nil
}

func (b *Backend) metaPath(key string) string {
	return filepath.Join(b.baseDir, "meta", filepath.FromSlash(key)+".json")
}

func (b *Backend) uploadDir(uploadID string) string {
	return filepath.Join(b.baseDir, "uploads", uploadID)
}

func (b *Backend) partPath(uploadID string, partNumber int32) string {
	return filepath.Join(b.uploadDir(uploadID), fmt.Sprintf("%05d.part", partNumber))
}

func (b *Backend) storageError(op, key string, err error) error {
	return &simpletransfer.StorageError{Backend: "fs", Key: key, Op: op, Err: err}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	if path.Clean(key) != key || key == "." || strings.HasPrefix(key, "../") || key == ".." {
		return ErrInvalidKey
	}
	return nil
}

func appendPart(dst io.Writer, partPath string) ([]byte, error) {
	f, err := os.Open(partPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), f); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}

func writeJSON(filePath string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, raw, 0o644)
}

func quoteETag(etag string) string {
	return `"` + etag + `"`
}

// unquoteETag accepts an ETag in either its quoted header form or bare.
func unquoteETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

func contentDisposition(filename string) string {
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); value != "" {
		return value
	}
	return fmt.Sprintf("attachment; filename=\"%s\"", strings.ReplaceAll(filename, "\"", ""))
}
