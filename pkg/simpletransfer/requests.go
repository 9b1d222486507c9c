package simpletransfer

import "time"

// Request/Response DTOs

// UploadURLRequest asks for a single-shot upload URL.
type UploadURLRequest struct {
	FileName     string
	ContentType  string
	ExpectedSize int64
	// ExpiresIn overrides the default URL validity; clamped to the configured maximum.
	ExpiresIn time.Duration
}

// UploadURLResponse is returned after the mapping is persisted and the PUT URL is signed.
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	ShortID   string `json:"shortId"`
	ExpiresIn int64  `json:"expiresIn"`
}

// DownloadURLRequest asks for a signed download URL of a short identifier.
type DownloadURLRequest struct {
	ShortID   string
	ExpiresIn time.Duration
}

// DownloadURLResponse carries the signed GET URL and, when the object was
// verified, its size and modification time.
type DownloadURLResponse struct {
	DownloadURL   string     `json:"downloadUrl"`
	Key           string     `json:"key"`
	ExpiresIn     int64      `json:"expiresIn"`
	LastModified  *time.Time `json:"lastModified,omitempty"`
	ContentLength *int64     `json:"contentLength,omitempty"`
}

// InitiateMultipartRequest starts a multipart upload session.
// ExpectedSize and PartSize are optional; zero means "not supplied".
type InitiateMultipartRequest struct {
	FileName     string
	ContentType  string
	ExpectedSize int64
	PartSize     int64
	ExpiresIn    time.Duration
}

// InitiateMultipartResponse describes the new session. The caller must present
// UploadID on every subsequent call.
type InitiateMultipartResponse struct {
	ShortID   string `json:"shortId"`
	UploadID  string `json:"uploadId"`
	Key       string `json:"key"`
	PartSize  int64  `json:"partSize"`
	ExpiresIn int64  `json:"expiresIn"`
}

// PartURLRequest asks for a signed URL for one part.
// Identifier may be the short id or the object key.
type PartURLRequest struct {
	Identifier    string
	UploadID      string
	PartNumber    int
	ContentLength int64
	ExpiresIn     time.Duration
}

// PartURLResponse carries the signed UploadPart URL.
type PartURLResponse struct {
	UploadURL  string `json:"uploadUrl"`
	Key        string `json:"key"`
	PartNumber int    `json:"partNumber"`
	ExpiresIn  int64  `json:"expiresIn"`
}

// CompleteMultipartRequest finishes a multipart upload. Parts may be in any order.
type CompleteMultipartRequest struct {
	Identifier string
	UploadID   string
	Parts      []PartDescriptor
}

// CompleteMultipartResponse returns the key of the materialized object.
type CompleteMultipartResponse struct {
	Key     string `json:"key"`
	ShortID string `json:"shortId"`
}

// AbortMultipartRequest cancels a multipart upload.
type AbortMultipartRequest struct {
	Identifier string
	UploadID   string
}

// AbortMultipartResponse returns the key whose upload was aborted.
type AbortMultipartResponse struct {
	Key     string `json:"key"`
	ShortID string `json:"shortId"`
}
