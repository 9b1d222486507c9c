package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// FilesHandler exposes the transfer service under /api/v1/files
type FilesHandler struct {
	service simpletransfer.Service
}

func NewFilesHandler(service simpletransfer.Service) *FilesHandler {
	return &FilesHandler{service: service}
}

// Routes returns the router for files endpoints
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/upload-url", h.UploadURL)
	r.Get("/download-url/{shortId}", h.DownloadURL)

	r.Route("/upload-multipart", func(r chi.Router) {
		r.Post("/initiate", h.InitiateMultipart)
		r.Post("/part-url", h.PartURL)
		r.Post("/complete", h.CompleteMultipart)
		r.Post("/abort", h.AbortMultipart)
	})
	return r
}

// UploadURLRequest is the body of POST /upload-url
type UploadURLRequest struct {
	FileName     string `json:"fileName"`
	ContentType  string `json:"contentType"`
	ExpectedSize int64  `json:"expectedSize"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// InitiateMultipartRequest is the body of POST /upload-multipart/initiate
type InitiateMultipartRequest struct {
	FileName     string `json:"fileName"`
	ContentType  string `json:"contentType"`
	ExpectedSize int64  `json:"expectedSize,omitempty"`
	PartSize     int64  `json:"partSize,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// PartURLRequest is the body of POST /upload-multipart/part-url.
// PartNumber is kept as a raw number so fractional values are rejected.
type PartURLRequest struct {
	KeyOrShortID  string      `json:"keyOrShortId"`
	UploadID      string      `json:"uploadId"`
	PartNumber    json.Number `json:"partNumber"`
	ContentLength int64       `json:"contentLength,omitempty"`
	ExpiresIn     int64       `json:"expiresIn,omitempty"`
}

// CompletedPart is one entry of the parts list sent on completion
type CompletedPart struct {
	PartNumber json.Number `json:"partNumber"`
	ETag       string      `json:"etag"`
}

// CompleteMultipartRequest is the body of POST /upload-multipart/complete
type CompleteMultipartRequest struct {
	KeyOrShortID string          `json:"keyOrShortId"`
	UploadID     string          `json:"uploadId"`
	Parts        []CompletedPart `json:"parts"`
}

// AbortMultipartRequest is the body of POST /upload-multipart/abort
type AbortMultipartRequest struct {
	KeyOrShortID string `json:"keyOrShortId"`
	UploadID     string `json:"uploadId"`
}

type uploadURLEnvelope struct {
	Success bool `json:"success"`
	*simpletransfer.UploadURLResponse
}

type downloadURLEnvelope struct {
	Success bool `json:"success"`
	*simpletransfer.DownloadURLResponse
}

type initiateEnvelope struct {
	Success bool `json:"success"`
	*simpletransfer.InitiateMultipartResponse
}

type partURLEnvelope struct {
	Success bool `json:"success"`
	*simpletransfer.PartURLResponse
}

type completeEnvelope struct {
	Success bool `json:"success"`
	*simpletransfer.CompleteMultipartResponse
}

type abortEnvelope struct {
	Success bool `json:"success"`
	*simpletransfer.AbortMultipartResponse
}

// ErrorResponse is the failure body of every files endpoint
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// UploadURL issues a single-shot upload URL
func (h *FilesHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req UploadURLRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.service.IssueUploadURL(r.Context(), simpletransfer.UploadURLRequest{
		FileName:     req.FileName,
		ContentType:  req.ContentType,
		ExpectedSize: req.ExpectedSize,
		ExpiresIn:    seconds(req.ExpiresIn),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, uploadURLEnvelope{Success: true, UploadURLResponse: resp})
}

// DownloadURL issues a download URL for a short id
func (h *FilesHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	shortID := chi.URLParam(r, "shortId")

	var expiresIn int64
	if raw := r.URL.Query().Get("expiresIn"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, &simpletransfer.ValidationError{Field: "expiresIn", Reason: "must be an integer"})
			return
		}
		expiresIn = parsed
	}

	resp, err := h.service.IssueDownloadURL(r.Context(), simpletransfer.DownloadURLRequest{
		ShortID:   shortID,
		ExpiresIn: seconds(expiresIn),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, downloadURLEnvelope{Success: true, DownloadURLResponse: resp})
}

// InitiateMultipart starts a multipart upload session
func (h *FilesHandler) InitiateMultipart(w http.ResponseWriter, r *http.Request) {
	var req InitiateMultipartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.service.InitiateMultipart(r.Context(), simpletransfer.InitiateMultipartRequest{
		FileName:     req.FileName,
		ContentType:  req.ContentType,
		ExpectedSize: req.ExpectedSize,
		PartSize:     req.PartSize,
		ExpiresIn:    seconds(req.ExpiresIn),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, initiateEnvelope{Success: true, InitiateMultipartResponse: resp})
}

// PartURL signs the upload URL of one part
func (h *FilesHandler) PartURL(w http.ResponseWriter, r *http.Request) {
	var req PartURLRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	partNumber, err := parsePartNumber("partNumber", req.PartNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.service.IssuePartURL(r.Context(), simpletransfer.PartURLRequest{
		Identifier:    req.KeyOrShortID,
		UploadID:      req.UploadID,
		PartNumber:    partNumber,
		ContentLength: req.ContentLength,
		ExpiresIn:     seconds(req.ExpiresIn),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, partURLEnvelope{Success: true, PartURLResponse: resp})
}

// CompleteMultipart finishes a multipart upload
func (h *FilesHandler) CompleteMultipart(w http.ResponseWriter, r *http.Request) {
	var req CompleteMultipartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	parts := make([]simpletransfer.PartDescriptor, 0, len(req.Parts))
	for i, part := range req.Parts {
		number, err := parsePartNumber(fmt.Sprintf("parts[%d].partNumber", i), part.PartNumber)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		parts = append(parts, simpletransfer.PartDescriptor{PartNumber: int32(number), ETag: part.ETag})
	}

	resp, err := h.service.CompleteMultipart(r.Context(), simpletransfer.CompleteMultipartRequest{
		Identifier: req.KeyOrShortID,
		UploadID:   req.UploadID,
		Parts:      parts,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, completeEnvelope{Success: true, CompleteMultipartResponse: resp})
}

// AbortMultipart cancels a multipart upload
func (h *FilesHandler) AbortMultipart(w http.ResponseWriter, r *http.Request) {
	var req AbortMultipartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.service.AbortMultipart(r.Context(), simpletransfer.AbortMultipartRequest{
		Identifier: req.KeyOrShortID,
		UploadID:   req.UploadID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, abortEnvelope{Success: true, AbortMultipartResponse: resp})
}

// StatusFor maps an error kind onto an HTTP status code
func StatusFor(err error) int {
	switch simpletransfer.KindOf(err) {
	case simpletransfer.KindValidation, simpletransfer.KindFileTooLarge:
		return http.StatusBadRequest
	case simpletransfer.KindMappingNotFound, simpletransfer.KindFileNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the failure envelope. Failures are logged by the service.
func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind := simpletransfer.KindOf(err)

	message := err.Error()
	if kind == simpletransfer.KindInternal {
		message = "internal server error"
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Success: false, Error: message, Code: string(kind)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return &simpletransfer.ValidationError{Field: "body", Reason: "request body is required"}
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return &simpletransfer.ValidationError{Field: "body", Reason: "request body is required"}
		case errors.As(err, &maxBytes):
			return &simpletransfer.ValidationError{Field: "body", Reason: fmt.Sprintf("exceeds %d bytes", maxBytes.Limit)}
		default:
			return &simpletransfer.ValidationError{Field: "body", Reason: strings.TrimPrefix(err.Error(), "json: ")}
		}
	}
	return nil
}

func parsePartNumber(field string, raw json.Number) (int, error) {
	if raw == "" {
		return 0, &simpletransfer.ValidationError{Field: field, Reason: "is required"}
	}
	n, err := strconv.ParseInt(raw.String(), 10, 32)
	if err != nil {
		return 0, &simpletransfer.ValidationError{Field: field, Reason: fmt.Sprintf("must be an integer, got %s", raw)}
	}
	return int(n), nil
}

// maxExpirySeconds keeps the conversion to time.Duration from overflowing;
// the service clamps to its own maximum afterwards.
const maxExpirySeconds = 7 * 24 * 60 * 60

func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	if n > maxExpirySeconds {
		n = maxExpirySeconds
	}
	return time.Duration(n) * time.Second
}
