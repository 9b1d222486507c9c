package fs

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler serves the signed URLs issued by a Backend. It plays the part of
// the object store: clients PUT objects and parts to it and GET objects back.
type Handler struct {
	backend *Backend
	logger  *slog.Logger
}

// NewHandler creates the object endpoint for backend
func NewHandler(backend *Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{backend: backend, logger: logger}
}

// Routes returns a router to be mounted at the path of Config.BaseURL
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/*", h.handlePut)
	r.Get("/*", h.handleGet)
	r.Head("/*", h.handleGet)
	return r
}

func (h *Handler) objectKey(r *http.Request) string {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}
	return key
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, method, key, op string) (url.Values, bool) {
	query := r.URL.Query()
	if err := h.backend.signer.Verify(method, key, query); err != nil {
		h.logger.Warn("rejected object request", "method", r.Method, "key", key, "err", err)
		status := http.StatusForbidden
		if errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrMissingExpiration) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return nil, false
	}
	if query.Get("op") != op {
		http.Error(w, "signed URL does not allow this operation", http.StatusForbidden)
		return nil, false
	}
	return query, true
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	key := h.objectKey(r)
	if err := validateKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.URL.Query().Get("op") {
	case "upload-part":
		h.putPart(w, r, key)
	default:
		h.putObject(w, r, key)
	}
}

func (h *Handler) putObject(w http.ResponseWriter, r *http.Request, key string) {
	query, ok := h.verify(w, r, http.MethodPut, key, "put")
	if !ok {
		return
	}
	contentType := query.Get("contentType")
	if contentType != "" && r.Header.Get("Content-Type") != contentType {
		http.Error(w, "Content-Type does not match the signed value", http.StatusForbidden)
		return
	}

	etag, err := h.backend.writeObject(key, contentType, r.Body)
	if err != nil {
		h.logger.Error("object upload failed", "key", key, "err", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("object uploaded", "key", key, "etag", etag)
	writeETag(w, etag)
}

func (h *Handler) putPart(w http.ResponseWriter, r *http.Request, key string) {
	query, ok := h.verify(w, r, http.MethodPut, key, "upload-part")
	if !ok {
		return
	}
	partNumber, err := strconv.ParseInt(query.Get("partNumber"), 10, 32)
	if err != nil || partNumber < 1 {
		http.Error(w, "invalid partNumber", http.StatusBadRequest)
		return
	}
	if signed := query.Get("contentLength"); signed != "" && strconv.FormatInt(r.ContentLength, 10) != signed {
		http.Error(w, "Content-Length does not match the signed value", http.StatusForbidden)
		return
	}

	etag, err := h.backend.writePart(key, query.Get("uploadId"), int32(partNumber), r.Body)
	if errors.Is(err, ErrNoSuchUpload) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("part upload failed", "key", key, "part", partNumber, "err", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("part uploaded", "key", key, "part", partNumber, "etag", etag)
	writeETag(w, etag)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := h.objectKey(r)
	if err := validateKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query, ok := h.verify(w, r, http.MethodGet, key, "get")
	if !ok {
		return
	}

	objectPath, _ := h.backend.objectPath(key)
	f, err := os.Open(objectPath)
	if os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("object download failed", "key", key, "err", err)
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	meta, err := h.backend.readObjectMeta(key)
	if err != nil {
		h.logger.Warn("object metadata unreadable", "key", key, "err", err)
	}

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	if meta.ETag != "" {
		w.Header().Set("ETag", meta.ETag)
	}
	if filename := query.Get("filename"); filename != "" {
		w.Header().Set("Content-Disposition", contentDisposition(filename))
	}
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func writeETag(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.Header().Set("Access-Control-Expose-Headers", "ETag")
	w.WriteHeader(http.StatusOK)
}
