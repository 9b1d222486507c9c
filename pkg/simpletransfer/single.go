package simpletransfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/simple-transfer/pkg/simpletransfer/objectkey"
)

// Operation names reported to the Observer and the OnError hooks.
const (
	OpUploadURL         = "upload_url"
	OpDownloadURL       = "download_url"
	OpInitiateMultipart = "initiate_multipart"
	OpPartURL           = "part_url"
	OpCompleteMultipart = "complete_multipart"
	OpAbortMultipart    = "abort_multipart"
)

// IssueUploadURL persists a mapping for a fresh object key and returns a
// signed single PUT URL for it.
func (s *service) IssueUploadURL(ctx context.Context, req UploadURLRequest) (resp *UploadURLResponse, err error) {
	defer func(start time.Time) { s.observe(ctx, OpUploadURL, start, err) }(time.Now())

	// Hooks may rewrite the request, so validation runs on the result.
	if err := s.hooks.executeBeforeUploadURL(ctx, &req); err != nil {
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
	if req.ExpectedSize <= 0 {
		return nil, invalid("expectedSize", "must be a positive number of bytes")
	}
	if err := s.checkSize(req.ExpectedSize); err != nil {
		return nil, err
	}

	key := s.keys.GenerateKey(req.FileName)
	record, err := s.createMapping(ctx, key)
	if err != nil {
		return nil, err
	}

	expiry := s.expiry(req.ExpiresIn)
	url, err := s.gateway.SignPut(ctx, record.ObjectKey, req.ContentType, expiry)
	if err != nil {
		return nil, gatewayError("sign_put", record.ObjectKey, err)
	}

	return &UploadURLResponse{
		UploadURL: url,
		Key:       record.ObjectKey,
		ShortID:   record.ShortID,
		ExpiresIn: int64(expiry / time.Second),
	}, nil
}

// IssueDownloadURL resolves a short id and returns a signed GET URL. When
// download verification is enabled the object must exist.
func (s *service) IssueDownloadURL(ctx context.Context, req DownloadURLRequest) (resp *DownloadURLResponse, err error) {
	defer func(start time.Time) { s.observe(ctx, OpDownloadURL, start, err) }(time.Now())

	shortID := strings.TrimSpace(req.ShortID)
	if shortID == "" {
		return nil, invalid("shortId", "must not be empty")
	}

	record, err := s.store.FindByShortID(ctx, shortID)
	if err != nil {
		if errors.Is(err, ErrMappingNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, shortID)
		}
		return nil, storeError("find", shortID, err)
	}

	resp = &DownloadURLResponse{Key: record.ObjectKey}

	if s.limits.VerifyDownloads {
		info, err := s.gateway.HeadObject(ctx, record.ObjectKey)
		if err != nil {
			if errors.Is(err, ErrFileNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, shortID)
			}
			return nil, gatewayError("head", record.ObjectKey, err)
		}
		size := info.Size
		resp.ContentLength = &size
		if !info.LastModified.IsZero() {
			modified := info.LastModified.UTC()
			resp.LastModified = &modified
		}
	}

	expiry := s.expiry(req.ExpiresIn)
	opts := SignGetOptions{DownloadFilename: objectkey.FileName(record.ObjectKey)}
	url, err := s.gateway.SignGet(ctx, record.ObjectKey, opts, expiry)
	if err != nil {
		return nil, gatewayError("sign_get", record.ObjectKey, err)
	}

	resp.DownloadURL = url
	resp.ExpiresIn = int64(expiry / time.Second)
	return resp, nil
}
