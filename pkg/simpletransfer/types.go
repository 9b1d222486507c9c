package simpletransfer

import (
	"time"
)

// Backend limits shared by every S3-compatible object store.
const (
	// MinPartNumber and MaxPartNumber bound the part numbers accepted by a multipart upload.
	MinPartNumber = 1
	MaxPartNumber = 10000

	// BackendMinPartSize is the smallest part the object store accepts (the last part is exempt).
	BackendMinPartSize int64 = 5 * 1024 * 1024

	// BackendMaxPartSize is the largest single part the object store accepts.
	BackendMaxPartSize int64 = 5 * 1024 * 1024 * 1024

	// DefaultPartSize is handed to clients that do not request a part size.
	DefaultPartSize int64 = 10 * 1024 * 1024

	// DefaultShortIDLength is the length of generated public identifiers.
	DefaultShortIDLength = 8

	// DefaultURLExpiry is the validity window of signed URLs when none is configured.
	DefaultURLExpiry = 300 * time.Second
)

// SessionState is the lifecycle state of a multipart upload session.
type SessionState string

const (
	SessionStateInitiated SessionState = "initiated"
	SessionStateCompleted SessionState = "completed"
	SessionStateAborted   SessionState = "aborted"
)

// MappingRecord is the durable association between a short public identifier
// and the real storage key. It is written once and never updated.
type MappingRecord struct {
	ShortID   string    `json:"shortId"`
	ObjectKey string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// UploadSession describes an in-flight multipart upload. It is not persisted:
// the object store owns UploadID and the MappingRecord anchors ShortID.
type UploadSession struct {
	ShortID   string       `json:"shortId"`
	ObjectKey string       `json:"key"`
	UploadID  string       `json:"uploadId"`
	PartSize  int64        `json:"partSize"`
	State     SessionState `json:"state"`
}

// PartDescriptor identifies one transferred part of a multipart upload.
type PartDescriptor struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// ObjectInfo contains the metadata the object store reports for a key.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// SignGetOptions tunes a signed download URL.
type SignGetOptions struct {
	// DownloadFilename, when set, is sent back as an attachment Content-Disposition.
	DownloadFilename string
}
