// Package client drives the simple-transfer HTTP API: it asks the server for
// signed URLs and moves the bytes directly against the object store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

const (
	// DefaultMultipartThreshold is the size from which Upload switches to multipart
	DefaultMultipartThreshold int64 = 64 * 1024 * 1024

	// DefaultConcurrency bounds parallel part uploads
	DefaultConcurrency = 4
)

// Client talks to a simple-transfer server
type Client struct {
	baseURL            string
	httpClient         *http.Client
	apiKey             string
	multipartThreshold int64
	partSize           int64
	concurrency        int
	logger             *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for API and object store requests
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sends key in the X-API-KEY header on API requests
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithMultipartThreshold sets the size from which uploads use multipart
func WithMultipartThreshold(size int64) Option {
	return func(c *Client) {
		c.multipartThreshold = size
	}
}

// WithPartSize requests a part size on multipart initiation; the server may raise it
func WithPartSize(size int64) Option {
	return func(c *Client) {
		c.partSize = size
	}
}

// WithConcurrency bounds the number of parts uploaded in parallel
func WithConcurrency(n int) Option {
	return func(c *Client) {
		c.concurrency = n
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the server at baseURL (for example http://localhost:8080)
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpClient:         &http.Client{Timeout: 5 * time.Minute},
		multipartThreshold: DefaultMultipartThreshold,
		concurrency:        DefaultConcurrency,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return c, nil
}

// APIError is a failure reported by the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("simple-transfer: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("simple-transfer: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Is matches the service error the server reported
func (e *APIError) Is(target error) bool {
	switch simpletransfer.ErrorKind(e.Code) {
	case simpletransfer.KindValidation:
		return target == simpletransfer.ErrValidation
	case simpletransfer.KindFileTooLarge:
		return target == simpletransfer.ErrFileTooLarge
	case simpletransfer.KindMappingNotFound:
		return target == simpletransfer.ErrMappingNotFound
	case simpletransfer.KindFileNotFound:
		return target == simpletransfer.ErrFileNotFound
	case simpletransfer.KindIDGenerationExhausted:
		return target == simpletransfer.ErrIDGenerationExhausted
	case simpletransfer.KindStorage:
		return target == simpletransfer.ErrStorage
	}
	return false
}

// UploadURL asks for a single-shot upload URL
func (c *Client) UploadURL(ctx context.Context, fileName, contentType string, size int64) (*simpletransfer.UploadURLResponse, error) {
	var resp simpletransfer.UploadURLResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/files/upload-url", map[string]interface{}{
		"fileName":     fileName,
		"contentType":  contentType,
		"expectedSize": size,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadURL asks for a signed download URL of shortID
func (c *Client) DownloadURL(ctx context.Context, shortID string) (*simpletransfer.DownloadURLResponse, error) {
	var resp simpletransfer.DownloadURLResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/files/download-url/"+url.PathEscape(shortID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitiateMultipart starts a multipart upload session
func (c *Client) InitiateMultipart(ctx context.Context, fileName, contentType string, size int64) (*simpletransfer.InitiateMultipartResponse, error) {
	body := map[string]interface{}{
		"fileName":    fileName,
		"contentType": contentType,
	}
	if size > 0 {
		body["expectedSize"] = size
	}
	if c.partSize > 0 {
		body["partSize"] = c.partSize
	}

	var resp simpletransfer.InitiateMultipartResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/files/upload-multipart/initiate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PartURL asks for the signed URL of one part
func (c *Client) PartURL(ctx context.Context, keyOrShortID, uploadID string, partNumber int, contentLength int64) (*simpletransfer.PartURLResponse, error) {
	body := map[string]interface{}{
		"keyOrShortId": keyOrShortID,
		"uploadId":     uploadID,
		"partNumber":   partNumber,
	}
	if contentLength > 0 {
		body["contentLength"] = contentLength
	}

	var resp simpletransfer.PartURLResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/files/upload-multipart/part-url", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteMultipart finishes a multipart upload
func (c *Client) CompleteMultipart(ctx context.Context, keyOrShortID, uploadID string, parts []simpletransfer.PartDescriptor) (*simpletransfer.CompleteMultipartResponse, error) {
	var resp simpletransfer.CompleteMultipartResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/files/upload-multipart/complete", map[string]interface{}{
		"keyOrShortId": keyOrShortID,
		"uploadId":     uploadID,
		"parts":        parts,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// AbortMultipart cancels a multipart upload
func (c *Client) AbortMultipart(ctx context.Context, keyOrShortID, uploadID string) (*simpletransfer.AbortMultipartResponse, error) {
	var resp simpletransfer.AbortMultipartResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/files/upload-multipart/abort", map[string]interface{}{
		"keyOrShortId": keyOrShortID,
		"uploadId":     uploadID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// call sends an API request and decodes the success envelope into out
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			apiErr.Code = envelope.Code
		}
		return apiErr
	}

	var envelope struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: "server reported failure"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var errNoETag = errors.New("object store returned no ETag")
