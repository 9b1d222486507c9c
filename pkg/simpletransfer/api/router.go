package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// DefaultMaxBodyBytes bounds JSON request bodies. A complete request with
// 10000 parts stays well below it.
const DefaultMaxBodyBytes int64 = 2 << 20

// RouterConfig wires the HTTP surface of the transfer service
type RouterConfig struct {
	Service    simpletransfer.Service
	Logger     *slog.Logger
	Ready      ReadyFunc
	CORSOrigin string
	// Metrics serves /metrics when set
	Metrics http.Handler
	// Objects serves signed object URLs under /objects when set
	Objects http.Handler
	// Auth guards /api/v1 when set
	Auth         func(http.Handler) http.Handler
	MaxBodyBytes int64
}

// NewRouter builds the chi router serving /api/v1/files and the probe endpoints
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	var origins []string
	if cfg.CORSOrigin != "" {
		origins = []string{cfg.CORSOrigin}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware(origins, nil, nil))

	health := NewHealthHandler(cfg.Ready)
	r.Get("/health", health.Live)
	r.Get("/healthz/ready", health.Ready)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	if cfg.Objects != nil {
		r.Mount("/objects", cfg.Objects)
	}

	files := NewFilesHandler(cfg.Service)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequestSizeLimitMiddleware(maxBody))
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}
		r.Mount("/files", files.Routes())
	})

	return r
}
