package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-transfer/pkg/simpletransfer"
	"golang.org/x/sync/errgroup"
)

// UploadResult identifies an uploaded object
type UploadResult struct {
	ShortID   string
	Key       string
	Multipart bool
	Parts     int
}

// Upload sends size bytes from r under fileName. Uploads below the multipart
// threshold use one signed PUT; larger ones are split into parts that are
// uploaded concurrently. A failed multipart upload is aborted.
func (c *Client) Upload(ctx context.Context, fileName, contentType string, r io.ReaderAt, size int64) (*UploadResult, error) {
	if size <= 0 {
		return nil, fmt.Errorf("upload %s: size must be positive", fileName)
	}
	if size < c.multipartThreshold {
		return c.uploadSingle(ctx, fileName, contentType, r, size)
	}
	return c.uploadMultipart(ctx, fileName, contentType, r, size)
}

func (c *Client) uploadSingle(ctx context.Context, fileName, contentType string, r io.ReaderAt, size int64) (*UploadResult, error) {
	issued, err := c.UploadURL(ctx, fileName, contentType, size)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	if _, err := c.put(ctx, issued.UploadURL, io.NewSectionReader(r, 0, size), size, headers); err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileName, err)
	}

	c.logger.Debug("single upload finished", "short_id", issued.ShortID, "key", issued.Key, "size", size)
	return &UploadResult{ShortID: issued.ShortID, Key: issued.Key}, nil
}

func (c *Client) uploadMultipart(ctx context.Context, fileName, contentType string, r io.ReaderAt, size int64) (result *UploadResult, err error) {
	session, err := c.InitiateMultipart(ctx, fileName, contentType, size)
	if err != nil {
		return nil, err
	}
	if session.PartSize <= 0 {
		return nil, fmt.Errorf("server returned invalid part size %d", session.PartSize)
	}

	defer func() {
		if err == nil {
			return
		}
		// The request context may already be cancelled.
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, abortErr := c.AbortMultipart(abortCtx, session.ShortID, session.UploadID); abortErr != nil {
			c.logger.Warn("abort after failed upload", "short_id", session.ShortID, "error", abortErr)
		}
	}()

	partCount := int((size + session.PartSize - 1) / session.PartSize)
	if partCount > simpletransfer.MaxPartNumber {
		return nil, fmt.Errorf("upload %s: %d parts exceed the limit of %d", fileName, partCount, simpletransfer.MaxPartNumber)
	}

	var (
		mu    sync.Mutex
		parts = make([]simpletransfer.PartDescriptor, 0, partCount)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := 0; i < partCount; i++ {
		partNumber := i + 1
		offset := int64(i) * session.PartSize
		length := session.PartSize
		if offset+length > size {
			length = size - offset
		}

		g.Go(func() error {
			signed, err := c.PartURL(gctx, session.ShortID, session.UploadID, partNumber, length)
			if err != nil {
				return err
			}
			etag, err := c.put(gctx, signed.UploadURL, io.NewSectionReader(r, offset, length), length, nil)
			if err != nil {
				return fmt.Errorf("part %d: %w", partNumber, err)
			}
			if etag == "" {
				return fmt.Errorf("part %d: %w", partNumber, errNoETag)
			}

			mu.Lock()
			parts = append(parts, simpletransfer.PartDescriptor{PartNumber: int32(partNumber), ETag: etag})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	completed, err := c.CompleteMultipart(ctx, session.ShortID, session.UploadID, parts)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("multipart upload finished", "short_id", session.ShortID, "key", completed.Key, "parts", partCount)
	return &UploadResult{ShortID: session.ShortID, Key: completed.Key, Multipart: true, Parts: partCount}, nil
}

// Download writes the object behind shortID to w and returns the bytes copied
func (c *Client) Download(ctx context.Context, shortID string, w io.Writer) (int64, error) {
	issued, err := c.DownloadURL(ctx, shortID)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issued.DownloadURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", shortID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: object store returned %s", shortID, resp.Status)
	}
	return io.Copy(w, resp.Body)
}

// put sends body to a signed URL and returns the ETag the object store reported
func (c *Client) put(ctx context.Context, signedURL string, body io.Reader, length int64, headers http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, body)
	if err != nil {
		return "", err
	}
	req.ContentLength = length
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("object store returned %s", resp.Status)
	}
	return resp.Header.Get("ETag"), nil
}
