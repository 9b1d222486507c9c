package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBackend(t *testing.T) (*Backend, *httptest.Server) {
	t.Helper()
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	b, err := New(Config{BaseDir: t.TempDir(), BaseURL: srv.URL, SecretKey: testSecret})
	require.NoError(t, err)
	handler = NewHandler(b, nil).Routes()
	return b, srv
}

func put(t *testing.T, signedURL, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, signedURL, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, signedURL string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(signedURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost/objects", SecretKey: testSecret})
	assert.Error(t, err)
	_, err = New(Config{BaseDir: t.TempDir(), SecretKey: testSecret})
	assert.Error(t, err)
	_, err = New(Config{BaseDir: t.TempDir(), BaseURL: "http://localhost/objects"})
	assert.ErrorIs(t, err, ErrNoSecretKey)
}

func TestSigner(t *testing.T) {
	signer, err := NewSigner(testSecret)
	require.NoError(t, err)

	params := signer.Sign("PUT", "a/b.txt", url.Values{"op": {"put"}}, time.Minute)
	assert.NotEmpty(t, params.Get("signature"))
	assert.NoError(t, signer.Verify("PUT", "a/b.txt", params))

	t.Run("OtherMethod", func(t *testing.T) {
		assert.ErrorIs(t, signer.Verify("GET", "a/b.txt", params), ErrInvalidSignature)
	})

	t.Run("OtherKey", func(t *testing.T) {
		assert.ErrorIs(t, signer.Verify("PUT", "a/c.txt", params), ErrInvalidSignature)
	})

	t.Run("TamperedParameter", func(t *testing.T) {
		tampered := url.Values{}
		for k, v := range params {
			tampered[k] = v
		}
		tampered.Set("op", "get")
		assert.ErrorIs(t, signer.Verify("PUT", "a/b.txt", tampered), ErrInvalidSignature)
	})

	t.Run("Expired", func(t *testing.T) {
		past := &Signer{secretKey: []byte(testSecret), now: func() time.Time { return time.Now().Add(-time.Hour) }}
		stale := past.Sign("PUT", "a/b.txt", url.Values{"op": {"put"}}, time.Minute)
		err := signer.Verify("PUT", "a/b.txt", stale)
		assert.ErrorIs(t, err, ErrExpired)
		assert.True(t, IsAuthError(err))
	})

	t.Run("Missing", func(t *testing.T) {
		assert.ErrorIs(t, signer.Verify("PUT", "a/b.txt", url.Values{}), ErrMissingSignature)
		assert.ErrorIs(t, signer.Verify("PUT", "a/b.txt", url.Values{"signature": {"x"}}), ErrMissingExpiration)
	})
}

func TestSinglePutAndGet(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	key := "uploads/report.txt"

	_, err := b.HeadObject(ctx, key)
	assert.ErrorIs(t, err, simpletransfer.ErrFileNotFound)

	putURL, err := b.SignPut(ctx, key, "text/plain", time.Minute)
	require.NoError(t, err)

	resp := put(t, putURL, "application/json", []byte("hello"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "content type is part of the signature")

	resp = put(t, putURL, "text/plain", []byte("hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, resp.Header.Get("ETag"))

	info, err := b.HeadObject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, info.ETag)

	getURL, err := b.SignGet(ctx, key, simpletransfer.SignGetOptions{DownloadFilename: "report.txt"}, time.Minute)
	require.NoError(t, err)
	resp, body := get(t, getURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=report.txt", resp.Header.Get("Content-Disposition"))

	t.Run("PutURLCannotDownload", func(t *testing.T) {
		resp, _ := get(t, putURL)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Unsigned", func(t *testing.T) {
		u, _ := url.Parse(getURL)
		u.RawQuery = ""
		resp, _ := get(t, u.String())
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestMultipartFlow(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	key := "big/archive.bin"

	uploadID, err := b.InitiateMultipart(ctx, key, "application/zip")
	require.NoError(t, err)
	ids, err := b.OpenUploads()
	require.NoError(t, err)
	assert.Equal(t, []string{uploadID}, ids)

	chunks := map[int32]string{1: "aaa", 2: "bbb", 3: "cc"}
	etags := map[int32]string{}
	for _, n := range []int32{3, 1, 2} {
		partURL, err := b.SignUploadPart(ctx, key, uploadID, n, int64(len(chunks[n])), time.Minute)
		require.NoError(t, err)
		resp := put(t, partURL, "", []byte(chunks[n]))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		etags[n] = resp.Header.Get("ETag")
		require.NotEmpty(t, etags[n])
	}

	parts := []simpletransfer.PartDescriptor{
		{PartNumber: 1, ETag: etags[1]},
		{PartNumber: 2, ETag: etags[2]},
		{PartNumber: 3, ETag: etags[3]},
	}

	t.Run("OutOfOrderRejected", func(t *testing.T) {
		_, err := b.CompleteMultipart(ctx, key, uploadID, []simpletransfer.PartDescriptor{parts[1], parts[0]})
		assert.ErrorIs(t, err, ErrInvalidPartOrder)
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
	})

	t.Run("WrongETagRejected", func(t *testing.T) {
		_, err := b.CompleteMultipart(ctx, key, uploadID, []simpletransfer.PartDescriptor{{PartNumber: 1, ETag: `"nope"`}})
		assert.ErrorIs(t, err, ErrInvalidPart)
	})

	finalKey, err := b.CompleteMultipart(ctx, key, uploadID, parts)
	require.NoError(t, err)
	assert.Equal(t, key, finalKey)

	info, err := b.HeadObject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "application/zip", info.ContentType)
	assert.True(t, strings.HasSuffix(info.ETag, `-3"`))

	getURL, err := b.SignGet(ctx, key, simpletransfer.SignGetOptions{}, time.Minute)
	require.NoError(t, err)
	_, body := get(t, getURL)
	assert.Equal(t, "aaabbbcc", string(body))

	ids, err = b.OpenUploads()
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = b.CompleteMultipart(ctx, key, uploadID, parts)
	assert.ErrorIs(t, err, ErrNoSuchUpload)
}

func TestCompleteMultipart_UnquotedETags(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	key := "bare/etags.bin"

	uploadID, err := b.InitiateMultipart(ctx, key, "application/octet-stream")
	require.NoError(t, err)

	var parts []simpletransfer.PartDescriptor
	for n, chunk := range []string{"first-", "second"} {
		partNumber := int32(n + 1)
		partURL, err := b.SignUploadPart(ctx, key, uploadID, partNumber, int64(len(chunk)), time.Minute)
		require.NoError(t, err)
		resp := put(t, partURL, "", []byte(chunk))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		etag := resp.Header.Get("ETag")
		require.True(t, strings.HasPrefix(etag, `"`), etag)
		bare := strings.Trim(etag, `"`)
		if partNumber == 2 {
			// Mixed forms in one request are accepted as well.
			bare = etag
		}
		parts = append(parts, simpletransfer.PartDescriptor{PartNumber: partNumber, ETag: bare})
	}

	_, err = b.CompleteMultipart(ctx, key, uploadID, parts)
	require.NoError(t, err)

	getURL, err := b.SignGet(ctx, key, simpletransfer.SignGetOptions{}, time.Minute)
	require.NoError(t, err)
	_, body := get(t, getURL)
	assert.Equal(t, "first-second", string(body))
}

func TestUploadPart_ContentLengthAndUnknownUpload(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	key := "part.bin"

	uploadID, err := b.InitiateMultipart(ctx, key, "")
	require.NoError(t, err)

	partURL, err := b.SignUploadPart(ctx, key, uploadID, 1, 10, time.Minute)
	require.NoError(t, err)
	resp := put(t, partURL, "", []byte("short"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	require.NoError(t, b.AbortMultipart(ctx, key, uploadID))
	partURL, err = b.SignUploadPart(ctx, key, uploadID, 1, 0, time.Minute)
	require.NoError(t, err)
	resp = put(t, partURL, "", []byte("late"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAbortMultipart_Idempotent(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	uploadID, err := b.InitiateMultipart(ctx, "x.bin", "")
	require.NoError(t, err)
	assert.NoError(t, b.AbortMultipart(ctx, "x.bin", uploadID))
	assert.NoError(t, b.AbortMultipart(ctx, "x.bin", uploadID))
	assert.NoError(t, b.AbortMultipart(ctx, "x.bin", "not-a-uuid"))

	ids, err := b.OpenUploads()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInvalidKeys(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b", "a//b", "."} {
		_, err := b.SignPut(ctx, key, "text/plain", time.Minute)
		assert.True(t, errors.Is(err, ErrInvalidKey), "key %q", key)
	}
	assert.NoError(t, b.Ping(ctx))
}
