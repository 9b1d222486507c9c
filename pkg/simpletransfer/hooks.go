package simpletransfer

import (
	"context"
	"log/slog"
	"strings"
)

// Hook system allows extending transfer behavior without modifying core code.
// Before hooks may reject a request; errors from after hooks are logged only,
// because the mapping or upload they observe has already been committed.

// Hooks defines all available lifecycle hooks
type Hooks struct {
	// Request hooks
	BeforeUploadURL []BeforeUploadURLHook
	BeforeInitiate  []BeforeInitiateHook

	// Mapping hooks
	AfterMappingCreate []AfterMappingCreateHook

	// Multipart session hooks
	AfterInitiate []SessionHook
	AfterComplete []AfterCompleteHook
	AfterAbort    []SessionHook

	// Error hooks
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeUploadURLHook is called before a single-shot upload is admitted
type BeforeUploadURLHook func(hctx *HookContext, req *UploadURLRequest) error

// BeforeInitiateHook is called before a multipart session is admitted
type BeforeInitiateHook func(hctx *HookContext, req *InitiateMultipartRequest) error

// AfterMappingCreateHook is called once a mapping record is durable
type AfterMappingCreateHook func(hctx *HookContext, record *MappingRecord) error

// SessionHook is called after a multipart session changes state
type SessionHook func(hctx *HookContext, session *UploadSession) error

// AfterCompleteHook is called after the object store stitched the parts
type AfterCompleteHook func(hctx *HookContext, session *UploadSession, parts []PartDescriptor) error

// ErrorHook is called when an operation fails
type ErrorHook func(hctx *HookContext, operation string, err error)

// Hook execution helpers

func (h *Hooks) executeBeforeUploadURL(ctx context.Context, req *UploadURLRequest) error {
	if len(h.BeforeUploadURL) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeUploadURL {
		if err := hook(hctx, req); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeBeforeInitiate(ctx context.Context, req *InitiateMultipartRequest) error {
	if len(h.BeforeInitiate) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeInitiate {
		if err := hook(hctx, req); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterMappingCreate(ctx context.Context, logger *slog.Logger, record *MappingRecord) {
	if len(h.AfterMappingCreate) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterMappingCreate {
		if err := hook(hctx, record); err != nil {
			logger.WarnContext(ctx, "after mapping create hook failed", "short_id", record.ShortID, "error", err)
		}
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeSession(ctx context.Context, logger *slog.Logger, stage string, hooks []SessionHook, session *UploadSession) {
	if len(hooks) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range hooks {
		if err := hook(hctx, session); err != nil {
			logger.WarnContext(ctx, "session hook failed", "stage", stage, "short_id", session.ShortID, "error", err)
		}
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeAfterComplete(ctx context.Context, logger *slog.Logger, session *UploadSession, parts []PartDescriptor) {
	if len(h.AfterComplete) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterComplete {
		if err := hook(hctx, session, parts); err != nil {
			logger.WarnContext(ctx, "after complete hook failed", "short_id", session.ShortID, "error", err)
		}
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeOnError(ctx context.Context, operation string, err error) {
	if len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// Common hook implementations

// ContentTypeAllowlistHook rejects uploads whose content type is not listed.
func ContentTypeAllowlistHook(allowed ...string) *Hooks {
	set := make(map[string]struct{}, len(allowed))
	for _, ct := range allowed {
		set[ct] = struct{}{}
	}
	check := func(contentType string) error {
		contentType = strings.TrimSpace(contentType)
		if _, ok := set[contentType]; !ok {
			return invalid("contentType", "%q is not allowed", contentType)
		}
		return nil
	}

	return &Hooks{
		BeforeUploadURL: []BeforeUploadURLHook{
			func(hctx *HookContext, req *UploadURLRequest) error {
				return check(req.ContentType)
			},
		},
		BeforeInitiate: []BeforeInitiateHook{
			func(hctx *HookContext, req *InitiateMultipartRequest) error {
				return check(req.ContentType)
			},
		},
	}
}

// LoggingHook logs every committed mapping and session transition. Failed
// operations are logged by the service and are not repeated here.
func LoggingHook(logger *slog.Logger) *Hooks {
	return &Hooks{
		AfterMappingCreate: []AfterMappingCreateHook{
			func(hctx *HookContext, record *MappingRecord) error {
				logger.InfoContext(hctx.Context, "mapping created", "short_id", record.ShortID, "key", record.ObjectKey)
				return nil
			},
		},
		AfterInitiate: []SessionHook{
			func(hctx *HookContext, session *UploadSession) error {
				logger.InfoContext(hctx.Context, "multipart upload initiated", "short_id", session.ShortID, "upload_id", session.UploadID)
				return nil
			},
		},
		AfterComplete: []AfterCompleteHook{
			func(hctx *HookContext, session *UploadSession, parts []PartDescriptor) error {
				logger.InfoContext(hctx.Context, "multipart upload completed", "short_id", session.ShortID, "parts", len(parts))
				return nil
			},
		},
		AfterAbort: []SessionHook{
			func(hctx *HookContext, session *UploadSession) error {
				logger.InfoContext(hctx.Context, "multipart upload aborted", "short_id", session.ShortID, "upload_id", session.UploadID)
				return nil
			},
		},
	}
}

// Merge returns a Hooks value that runs the hooks of every argument in order.
func Merge(all ...*Hooks) *Hooks {
	merged := &Hooks{}
	for _, h := range all {
		if h == nil {
			continue
		}
		merged.BeforeUploadURL = append(merged.BeforeUploadURL, h.BeforeUploadURL...)
		merged.BeforeInitiate = append(merged.BeforeInitiate, h.BeforeInitiate...)
		merged.AfterMappingCreate = append(merged.AfterMappingCreate, h.AfterMappingCreate...)
		merged.AfterInitiate = append(merged.AfterInitiate, h.AfterInitiate...)
		merged.AfterComplete = append(merged.AfterComplete, h.AfterComplete...)
		merged.AfterAbort = append(merged.AfterAbort, h.AfterAbort...)
		merged.OnError = append(merged.OnError, h.OnError...)
	}
	return merged
}
