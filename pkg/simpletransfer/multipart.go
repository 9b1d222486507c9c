package simpletransfer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// InitiateMultipart persists the mapping first and only then opens the
// multipart upload on the object store. A failed initiate leaves an orphaned
// mapping behind, which is harmless: the short id never resolves to data.
func (s *service) InitiateMultipart(ctx context.Context, req InitiateMultipartRequest) (resp *InitiateMultipartResponse, err error) {
	defer func(start time.Time) { s.observe(ctx, OpInitiateMultipart, start, err) }(time.Now())

	if err := s.hooks.executeBeforeInitiate(ctx, &req); err != nil {
		return nil, err
	}
	req.FileName = strings.TrimSpace(req.FileName)
	req.ContentType = strings.TrimSpace(req.ContentType)
	if req.FileName == "" {
		return nil, invalid("fileName", "must not be empty")
	}
	if req.ContentType == "" {
		return nil, invalid("contentType", "must not be empty")
	}
	if req.ExpectedSize < 0 {
		return nil, invalid("expectedSize", "must not be negative")
	}
	if err := s.checkSize(req.ExpectedSize); err != nil {
		return nil, err
	}
	if req.PartSize < 0 {
		return nil, invalid("partSize", "must not be negative")
	}
	if req.PartSize > BackendMaxPartSize {
		return nil, invalid("partSize", "must not exceed %d bytes", BackendMaxPartSize)
	}

	partSize := s.partSize(req.PartSize, req.ExpectedSize)

	key := s.keys.GenerateKey(req.FileName)
	record, err := s.createMapping(ctx, key)
	if err != nil {
		return nil, err
	}

	uploadID, err := s.gateway.InitiateMultipart(ctx, record.ObjectKey, req.ContentType)
	if err != nil {
		return nil, gatewayError("initiate_multipart", record.ObjectKey, err)
	}
	if uploadID == "" {
		return nil, &StorageError{Backend: "object-store", Key: record.ObjectKey, Op: "initiate_multipart", Err: errors.New("empty upload id")}
	}

	session := &UploadSession{
		ShortID:   record.ShortID,
		ObjectKey: record.ObjectKey,
		UploadID:  uploadID,
		PartSize:  partSize,
		State:     SessionStateInitiated,
	}
	s.hooks.executeSession(ctx, s.logger, "initiate", s.hooks.AfterInitiate, session)

	return &InitiateMultipartResponse{
		ShortID:   record.ShortID,
		UploadID:  uploadID,
		Key:       record.ObjectKey,
		PartSize:  partSize,
		ExpiresIn: int64(s.expiry(req.ExpiresIn) / time.Second),
	}, nil
}

// partSize returns max(MinPartSize, requested or DefaultPartSize), raised
// further when the expected size would otherwise need more than MaxPartNumber parts.
func (s *service) partSize(requested, expectedSize int64) int64 {
	size := requested
	if size == 0 {
		size = s.limits.DefaultPartSize
	}
	if size < s.limits.MinPartSize {
		size = s.limits.MinPartSize
	}
	if expectedSize > 0 {
		floor := (expectedSize + MaxPartNumber - 1) / MaxPartNumber
		if size < floor {
			size = floor
		}
	}
	return size
}

// IssuePartURL signs an UploadPart request for one part of an open upload.
func (s *service) IssuePartURL(ctx context.Context, req PartURLRequest) (resp *PartURLResponse, err error) {
	defer func(start time.Time) { s.observe(ctx, OpPartURL, start, err) }(time.Now())

	if strings.TrimSpace(req.UploadID) == "" {
		return nil, invalid("uploadId", "must not be empty")
	}
	if err := checkPartNumber("partNumber", req.PartNumber); err != nil {
		return nil, err
	}
	if req.ContentLength < 0 {
		return nil, invalid("contentLength", "must not be negative")
	}
	if req.ContentLength > BackendMaxPartSize {
		return nil, invalid("contentLength", "must not exceed %d bytes", BackendMaxPartSize)
	}

	record, err := s.Resolve(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}

	expiry := s.expiry(req.ExpiresIn)
	url, err := s.gateway.SignUploadPart(ctx, record.ObjectKey, req.UploadID, int32(req.PartNumber), req.ContentLength, expiry)
	if err != nil {
		return nil, gatewayError("sign_upload_part", record.ObjectKey, err)
	}

	return &PartURLResponse{
		UploadURL:  url,
		Key:        record.ObjectKey,
		PartNumber: req.PartNumber,
		ExpiresIn:  int64(expiry / time.Second),
	}, nil
}

// CompleteMultipart submits the parts in ascending part number order.
// Repeated part numbers are passed through for the object store to reject.
func (s *service) CompleteMultipart(ctx context.Context, req CompleteMultipartRequest) (resp *CompleteMultipartResponse, err error) {
	defer func(start time.Time) { s.observe(ctx, OpCompleteMultipart, start, err) }(time.Now())

	if strings.TrimSpace(req.UploadID) == "" {
		return nil, invalid("uploadId", "must not be empty")
	}
	if len(req.Parts) == 0 {
		return nil, invalid("parts", "must not be empty")
	}
	if len(req.Parts) > MaxPartNumber {
		return nil, invalid("parts", "must not contain more than %d entries", MaxPartNumber)
	}
	for _, part := range req.Parts {
		if err := checkPartNumber("parts.partNumber", int(part.PartNumber)); err != nil {
			return nil, err
		}
		if strings.TrimSpace(part.ETag) == "" {
			return nil, invalid("parts.etag", "must not be empty for part %d", part.PartNumber)
		}
	}

	record, err := s.Resolve(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}

	parts := make([]PartDescriptor, len(req.Parts))
	copy(parts, req.Parts)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	key, err := s.gateway.CompleteMultipart(ctx, record.ObjectKey, req.UploadID, parts)
	if err != nil {
		return nil, gatewayError("complete_multipart", record.ObjectKey, err)
	}
	if key == "" {
		key = record.ObjectKey
	}

	session := &UploadSession{
		ShortID:   record.ShortID,
		ObjectKey: key,
		UploadID:  req.UploadID,
		State:     SessionStateCompleted,
	}
	s.hooks.executeAfterComplete(ctx, s.logger, session, parts)

	return &CompleteMultipartResponse{Key: key, ShortID: record.ShortID}, nil
}

// AbortMultipart cancels an upload. Aborting an unknown or already aborted
// upload succeeds as long as the identifier resolves.
func (s *service) AbortMultipart(ctx context.Context, req AbortMultipartRequest) (resp *AbortMultipartResponse, err error) {
	defer func(start time.Time) { s.observe(ctx, OpAbortMultipart, start, err) }(time.Now())

	if strings.TrimSpace(req.UploadID) == "" {
		return nil, invalid("uploadId", "must not be empty")
	}

	record, err := s.Resolve(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.AbortMultipart(ctx, record.ObjectKey, req.UploadID); err != nil {
		return nil, gatewayError("abort_multipart", record.ObjectKey, err)
	}

	session := &UploadSession{
		ShortID:   record.ShortID,
		ObjectKey: record.ObjectKey,
		UploadID:  req.UploadID,
		State:     SessionStateAborted,
	}
	s.hooks.executeSession(ctx, s.logger, "abort", s.hooks.AfterAbort, session)

	return &AbortMultipartResponse{Key: record.ObjectKey, ShortID: record.ShortID}, nil
}

func checkPartNumber(field string, n int) error {
	if n < MinPartNumber || n > MaxPartNumber {
		return invalid(field, "must be between %d and %d, got %d", MinPartNumber, MaxPartNumber, n)
	}
	return nil
}
