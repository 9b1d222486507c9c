package simpletransfer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
	memoryrepo "github.com/tendant/simple-transfer/pkg/simpletransfer/repo/memory"
	memorystorage "github.com/tendant/simple-transfer/pkg/simpletransfer/storage/memory"
)

const mib = 1024 * 1024

var shortIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

type fixture struct {
	svc     simpletransfer.Service
	store   *memoryrepo.Repository
	gateway *memorystorage.Backend
}

func newFixture(t *testing.T, opts ...simpletransfer.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   memoryrepo.New(),
		gateway: memorystorage.New("test-bucket"),
	}
	all := append([]simpletransfer.Option{
		simpletransfer.WithMappingStore(f.store),
		simpletransfer.WithGateway(f.gateway),
	}, opts...)
	svc, err := simpletransfer.New(all...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// sequenceIDs returns ids in order and repeats the last one forever.
type sequenceIDs struct {
	ids   []string
	calls int
}

func (s *sequenceIDs) Generate(length int) (string, error) {
	id := s.ids[min(s.calls, len(s.ids)-1)]
	s.calls++
	return id, nil
}

type failingStore struct {
	err error
}

func (f *failingStore) Create(ctx context.Context, record *simpletransfer.MappingRecord) error {
	return f.err
}

func (f *failingStore) FindByShortID(ctx context.Context, shortID string) (*simpletransfer.MappingRecord, error) {
	return nil, f.err
}

// mappingFirstGateway fails InitiateMultipart when the mapping is not yet durable.
type mappingFirstGateway struct {
	*memorystorage.Backend
	store *memoryrepo.Repository
}

func (g *mappingFirstGateway) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if _, err := g.store.FindByObjectKey(ctx, key); err != nil {
		return "", fmt.Errorf("mapping for %s not persisted before initiate", key)
	}
	return g.Backend.InitiateMultipart(ctx, key, contentType)
}

// partCapturingGateway keeps the parts handed to CompleteMultipart.
type partCapturingGateway struct {
	*memorystorage.Backend
	submitted []simpletransfer.PartDescriptor
}

func (g *partCapturingGateway) CompleteMultipart(ctx context.Context, key, uploadID string, parts []simpletransfer.PartDescriptor) (string, error) {
	g.submitted = append([]simpletransfer.PartDescriptor(nil), parts...)
	return g.Backend.CompleteMultipart(ctx, key, uploadID, parts)
}

type recordingObserver struct {
	mu    sync.Mutex
	ops   []string
	kinds []simpletransfer.ErrorKind
}

func (r *recordingObserver) RecordOperation(operation string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, operation)
	r.kinds = append(r.kinds, simpletransfer.KindOf(err))
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := simpletransfer.New(simpletransfer.WithGateway(memorystorage.New("b")))
	assert.Error(t, err)

	_, err = simpletransfer.New(simpletransfer.WithMappingStore(memoryrepo.New()))
	assert.Error(t, err)

	limits := simpletransfer.DefaultLimits()
	limits.MinPartSize = 1024
	_, err = simpletransfer.New(
		simpletransfer.WithMappingStore(memoryrepo.New()),
		simpletransfer.WithGateway(memorystorage.New("b")),
		simpletransfer.WithLimits(limits),
	)
	assert.Error(t, err)
}

func TestInitiateMultipart(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsAndMapping", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{
			FileName:     "video.mp4",
			ContentType:  "video/mp4",
			ExpectedSize: 300 * mib,
		})
		require.NoError(t, err)

		assert.Equal(t, int64(10*mib), resp.PartSize)
		assert.Regexp(t, shortIDPattern, resp.ShortID)
		assert.True(t, strings.HasSuffix(resp.Key, "-video.mp4"), resp.Key)
		assert.NotEmpty(t, resp.UploadID)
		assert.Equal(t, int64(300), resp.ExpiresIn)

		record, err := f.store.FindByShortID(ctx, resp.ShortID)
		require.NoError(t, err)
		assert.Equal(t, resp.Key, record.ObjectKey)
		assert.Equal(t, []string{"InitiateMultipart"}, f.gateway.Calls())
	})

	t.Run("MappingPersistedBeforeInitiate", func(t *testing.T) {
		store := memoryrepo.New()
		svc, err := simpletransfer.New(
			simpletransfer.WithMappingStore(store),
			simpletransfer.WithGateway(&mappingFirstGateway{Backend: memorystorage.New("b"), store: store}),
		)
		require.NoError(t, err)

		_, err = svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a.bin", ContentType: "application/octet-stream"})
		require.NoError(t, err)
	})

	t.Run("PartSizeSelection", func(t *testing.T) {
		f := newFixture(t)
		cases := []struct {
			requested int64
			want      int64
		}{
			{0, 10 * mib},
			{1 * mib, 5 * mib},
			{5 * mib, 5 * mib},
			{64 * mib, 64 * mib},
		}
		for _, tc := range cases {
			resp, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{
				FileName: "f.bin", ContentType: "application/octet-stream", PartSize: tc.requested,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.PartSize, "requested %d", tc.requested)
		}
	})

	t.Run("PartSizeRaisedForPartCeiling", func(t *testing.T) {
		limits := simpletransfer.DefaultLimits()
		limits.MaxFileSize = 1024 * 1024 * mib
		f := newFixture(t, simpletransfer.WithLimits(limits))

		expected := int64(200 * 1024 * mib)
		resp, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{
			FileName: "huge.bin", ContentType: "application/octet-stream", ExpectedSize: expected,
		})
		require.NoError(t, err)
		assert.Equal(t, (expected+simpletransfer.MaxPartNumber-1)/simpletransfer.MaxPartNumber, resp.PartSize)
		assert.LessOrEqual(t, (expected+resp.PartSize-1)/resp.PartSize, int64(simpletransfer.MaxPartNumber))
	})

	t.Run("FileTooLargeWritesNothing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{
			FileName: "big.iso", ContentType: "application/octet-stream", ExpectedSize: 6 * 1024 * mib,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, simpletransfer.ErrFileTooLarge)
		assert.Equal(t, simpletransfer.KindFileTooLarge, simpletransfer.KindOf(err))
		assert.Contains(t, err.Error(), "5120MB")
		assert.Equal(t, 0, f.store.Len())
		assert.Empty(t, f.gateway.Calls())
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t)
		bad := []simpletransfer.InitiateMultipartRequest{
			{FileName: "", ContentType: "text/plain"},
			{FileName: "a.txt", ContentType: " "},
			{FileName: "a.txt", ContentType: "text/plain", ExpectedSize: -1},
			{FileName: "a.txt", ContentType: "text/plain", PartSize: -5},
			{FileName: "a.txt", ContentType: "text/plain", PartSize: simpletransfer.BackendMaxPartSize + 1},
		}
		for _, req := range bad {
			_, err := f.svc.InitiateMultipart(ctx, req)
			assert.ErrorIs(t, err, simpletransfer.ErrValidation, "%+v", req)
		}
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("ExpiryClampedToMaximum", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{
			FileName: "a.txt", ContentType: "text/plain", ExpiresIn: 10 * time.Hour,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3600), resp.ExpiresIn)
	})
}

func TestIssuePartURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "v.mp4", ContentType: "video/mp4"})
	require.NoError(t, err)

	t.Run("BoundaryPartNumbers", func(t *testing.T) {
		for _, n := range []int{1, 10000} {
			resp, err := f.svc.IssuePartURL(ctx, simpletransfer.PartURLRequest{
				Identifier: session.ShortID, UploadID: session.UploadID, PartNumber: n, ContentLength: 5 * mib,
			})
			require.NoError(t, err)
			assert.Equal(t, n, resp.PartNumber)
			assert.Equal(t, session.Key, resp.Key)

			u, err := url.Parse(resp.UploadURL)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprint(n), u.Query().Get("partNumber"))
		}
	})

	t.Run("OutOfRangePartNumbers", func(t *testing.T) {
		for _, n := range []int{0, -1, 10001} {
			_, err := f.svc.IssuePartURL(ctx, simpletransfer.PartURLRequest{
				Identifier: session.ShortID, UploadID: session.UploadID, PartNumber: n,
			})
			assert.ErrorIs(t, err, simpletransfer.ErrValidation, "part %d", n)
		}
	})

	t.Run("ResolvesObjectKey", func(t *testing.T) {
		resp, err := f.svc.IssuePartURL(ctx, simpletransfer.PartURLRequest{
			Identifier: session.Key, UploadID: session.UploadID, PartNumber: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, session.Key, resp.Key)
	})

	t.Run("NegativeContentLength", func(t *testing.T) {
		_, err := f.svc.IssuePartURL(ctx, simpletransfer.PartURLRequest{
			Identifier: session.ShortID, UploadID: session.UploadID, PartNumber: 1, ContentLength: -1,
		})
		assert.ErrorIs(t, err, simpletransfer.ErrValidation)
	})

	t.Run("MissingUploadID", func(t *testing.T) {
		_, err := f.svc.IssuePartURL(ctx, simpletransfer.PartURLRequest{Identifier: session.ShortID, PartNumber: 1})
		assert.ErrorIs(t, err, simpletransfer.ErrValidation)
	})
}

func TestUnknownIdentifierNeverReachesBackend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.IssuePartURL(ctx, simpletransfer.PartURLRequest{Identifier: "zzzzzzzz", UploadID: "u", PartNumber: 1})
	assert.ErrorIs(t, err, simpletransfer.ErrMappingNotFound)

	_, err = f.svc.CompleteMultipart(ctx, simpletransfer.CompleteMultipartRequest{
		Identifier: "zzzzzzzz", UploadID: "u", Parts: []simpletransfer.PartDescriptor{{PartNumber: 1, ETag: `"e"`}},
	})
	assert.ErrorIs(t, err, simpletransfer.ErrMappingNotFound)

	_, err = f.svc.AbortMultipart(ctx, simpletransfer.AbortMultipartRequest{Identifier: "zzzzzzzz", UploadID: "u"})
	assert.ErrorIs(t, err, simpletransfer.ErrMappingNotFound)

	_, err = f.svc.IssueDownloadURL(ctx, simpletransfer.DownloadURLRequest{ShortID: "zzzzzzzz"})
	assert.ErrorIs(t, err, simpletransfer.ErrMappingNotFound)
	assert.Equal(t, simpletransfer.KindMappingNotFound, simpletransfer.KindOf(err))

	assert.Empty(t, f.gateway.Calls())
}

func TestCompleteMultipart(t *testing.T) {
	ctx := context.Background()

	t.Run("SortsParts", func(t *testing.T) {
		f := newFixture(t)
		session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "doc.pdf", ContentType: "application/pdf"})
		require.NoError(t, err)

		etags := map[int32]string{}
		for n, chunk := range map[int32]string{1: "one-", 2: "two-", 3: "three"} {
			etag, err := f.gateway.UploadPart(session.Key, session.UploadID, n, []byte(chunk))
			require.NoError(t, err)
			etags[n] = etag
		}

		resp, err := f.svc.CompleteMultipart(ctx, simpletransfer.CompleteMultipartRequest{
			Identifier: session.ShortID,
			UploadID:   session.UploadID,
			Parts: []simpletransfer.PartDescriptor{
				{PartNumber: 3, ETag: etags[3]},
				{PartNumber: 1, ETag: etags[1]},
				{PartNumber: 2, ETag: etags[2]},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, session.Key, resp.Key)
		assert.Equal(t, session.ShortID, resp.ShortID)

		submitted := f.gateway.CompletedParts(session.UploadID)
		require.Len(t, submitted, 3)
		for i, part := range submitted {
			assert.Equal(t, int32(i+1), part.PartNumber)
		}

		data, ok := f.gateway.Object(session.Key)
		require.True(t, ok)
		assert.Equal(t, "one-two-three", string(data))
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t)
		session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a", ContentType: "text/plain"})
		require.NoError(t, err)

		bad := [][]simpletransfer.PartDescriptor{
			nil,
			{{PartNumber: 0, ETag: `"e"`}},
			{{PartNumber: 10001, ETag: `"e"`}},
			{{PartNumber: 1, ETag: ""}},
		}
		for _, parts := range bad {
			_, err := f.svc.CompleteMultipart(ctx, simpletransfer.CompleteMultipartRequest{
				Identifier: session.ShortID, UploadID: session.UploadID, Parts: parts,
			})
			assert.ErrorIs(t, err, simpletransfer.ErrValidation, "%+v", parts)
		}
	})

	t.Run("DuplicatePartsReachBackend", func(t *testing.T) {
		gateway := &partCapturingGateway{Backend: memorystorage.New("test-bucket")}
		svc, err := simpletransfer.New(
			simpletransfer.WithMappingStore(memoryrepo.New()),
			simpletransfer.WithGateway(gateway),
		)
		require.NoError(t, err)
		session, err := svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a", ContentType: "text/plain"})
		require.NoError(t, err)

		_, err = svc.CompleteMultipart(ctx, simpletransfer.CompleteMultipartRequest{
			Identifier: session.ShortID,
			UploadID:   session.UploadID,
			Parts: []simpletransfer.PartDescriptor{
				{PartNumber: 2, ETag: `"b"`},
				{PartNumber: 1, ETag: `"a"`},
				{PartNumber: 1, ETag: `"c"`},
			},
		})
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
		assert.NotErrorIs(t, err, simpletransfer.ErrValidation)

		assert.Equal(t, []simpletransfer.PartDescriptor{
			{PartNumber: 1, ETag: `"a"`},
			{PartNumber: 1, ETag: `"c"`},
			{PartNumber: 2, ETag: `"b"`},
		}, gateway.submitted)
	})

	t.Run("AfterAbortFailsWithStorageError", func(t *testing.T) {
		f := newFixture(t)
		session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a", ContentType: "text/plain"})
		require.NoError(t, err)
		etag, err := f.gateway.UploadPart(session.Key, session.UploadID, 1, []byte("x"))
		require.NoError(t, err)

		_, err = f.svc.AbortMultipart(ctx, simpletransfer.AbortMultipartRequest{Identifier: session.ShortID, UploadID: session.UploadID})
		require.NoError(t, err)

		_, err = f.svc.CompleteMultipart(ctx, simpletransfer.CompleteMultipartRequest{
			Identifier: session.ShortID, UploadID: session.UploadID,
			Parts: []simpletransfer.PartDescriptor{{PartNumber: 1, ETag: etag}},
		})
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
		assert.ErrorIs(t, err, memorystorage.ErrNoSuchUpload)
	})
}

func TestAbortMultipart_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a", ContentType: "text/plain"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		resp, err := f.svc.AbortMultipart(ctx, simpletransfer.AbortMultipartRequest{Identifier: session.ShortID, UploadID: session.UploadID})
		require.NoError(t, err, "abort #%d", i+1)
		assert.Equal(t, session.Key, resp.Key)
	}
	assert.Empty(t, f.gateway.OpenUploads())

	// the mapping survives an abort
	_, err = f.store.FindByShortID(ctx, session.ShortID)
	assert.NoError(t, err)
}

func TestIssueUploadURL(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{
			FileName: "photo.png", ContentType: "image/png", ExpectedSize: 2048, ExpiresIn: 60 * time.Second,
		})
		require.NoError(t, err)
		assert.Regexp(t, shortIDPattern, resp.ShortID)
		assert.Equal(t, int64(60), resp.ExpiresIn)

		u, err := url.Parse(resp.UploadURL)
		require.NoError(t, err)
		assert.Equal(t, "/"+resp.Key, u.Path)
		assert.Equal(t, "image/png", u.Query().Get("contentType"))

		record, err := f.store.FindByShortID(ctx, resp.ShortID)
		require.NoError(t, err)
		assert.Equal(t, resp.Key, record.ObjectKey)
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t)
		for _, req := range []simpletransfer.UploadURLRequest{
			{ContentType: "image/png", ExpectedSize: 1},
			{FileName: "a.png", ExpectedSize: 1},
			{FileName: "a.png", ContentType: "image/png"},
		} {
			_, err := f.svc.IssueUploadURL(ctx, req)
			assert.ErrorIs(t, err, simpletransfer.ErrValidation, "%+v", req)
		}
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("FileTooLarge", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{
			FileName: "a.png", ContentType: "image/png", ExpectedSize: 5*1024*mib + 1,
		})
		assert.ErrorIs(t, err, simpletransfer.ErrFileTooLarge)
		assert.Equal(t, 0, f.store.Len())
	})
}

func TestIssueDownloadURL(t *testing.T) {
	ctx := context.Background()

	t.Run("ObjectMissing", func(t *testing.T) {
		f := newFixture(t)
		up, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "r.pdf", ContentType: "application/pdf", ExpectedSize: 10})
		require.NoError(t, err)

		_, err = f.svc.IssueDownloadURL(ctx, simpletransfer.DownloadURLRequest{ShortID: up.ShortID})
		assert.ErrorIs(t, err, simpletransfer.ErrFileNotFound)
		assert.Equal(t, simpletransfer.KindFileNotFound, simpletransfer.KindOf(err))
	})

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		up, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "report.pdf", ContentType: "application/pdf", ExpectedSize: 10})
		require.NoError(t, err)
		f.gateway.PutObject(up.Key, "application/pdf", []byte("0123456789"))

		resp, err := f.svc.IssueDownloadURL(ctx, simpletransfer.DownloadURLRequest{ShortID: up.ShortID})
		require.NoError(t, err)
		assert.Equal(t, up.Key, resp.Key)
		assert.Equal(t, int64(300), resp.ExpiresIn)
		require.NotNil(t, resp.ContentLength)
		assert.Equal(t, int64(10), *resp.ContentLength)
		require.NotNil(t, resp.LastModified)

		u, err := url.Parse(resp.DownloadURL)
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", u.Query().Get("filename"))
	})

	t.Run("VerificationDisabled", func(t *testing.T) {
		limits := simpletransfer.DefaultLimits()
		limits.VerifyDownloads = false
		f := newFixture(t, simpletransfer.WithLimits(limits))
		up, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "r.pdf", ContentType: "application/pdf", ExpectedSize: 10})
		require.NoError(t, err)

		resp, err := f.svc.IssueDownloadURL(ctx, simpletransfer.DownloadURLRequest{ShortID: up.ShortID})
		require.NoError(t, err)
		assert.Nil(t, resp.ContentLength)
		assert.NotContains(t, f.gateway.Calls(), "HeadObject")
	})

	t.Run("EmptyShortID", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueDownloadURL(ctx, simpletransfer.DownloadURLRequest{ShortID: "  "})
		assert.ErrorIs(t, err, simpletransfer.ErrValidation)
	})

}

func TestShortIDCollisions(t *testing.T) {
	ctx := context.Background()

	t.Run("RetriesOnDuplicate", func(t *testing.T) {
		ids := &sequenceIDs{ids: []string{"Taken001", "Taken001", "Fresh001"}}
		f := newFixture(t, simpletransfer.WithIDGenerator(ids))
		require.NoError(t, f.store.Create(ctx, &simpletransfer.MappingRecord{ShortID: "Taken001", ObjectKey: "existing"}))

		resp, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a", ContentType: "text/plain"})
		require.NoError(t, err)
		assert.Equal(t, "Fresh001", resp.ShortID)
		assert.Equal(t, 3, ids.calls)

		existing, err := f.store.FindByShortID(ctx, "Taken001")
		require.NoError(t, err)
		assert.Equal(t, "existing", existing.ObjectKey)
	})

	t.Run("Exhausted", func(t *testing.T) {
		ids := &sequenceIDs{ids: []string{"Taken001"}}
		f := newFixture(t, simpletransfer.WithIDGenerator(ids))
		require.NoError(t, f.store.Create(ctx, &simpletransfer.MappingRecord{ShortID: "Taken001", ObjectKey: "existing"}))

		_, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "a", ContentType: "text/plain", ExpectedSize: 1})
		assert.ErrorIs(t, err, simpletransfer.ErrIDGenerationExhausted)
		assert.Equal(t, simpletransfer.KindIDGenerationExhausted, simpletransfer.KindOf(err))
		assert.Equal(t, 5, ids.calls)
		assert.Empty(t, f.gateway.Calls())
	})
}

func TestStoreFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	gateway := memorystorage.New("b")
	svc, err := simpletransfer.New(
		simpletransfer.WithMappingStore(&failingStore{err: errors.New("connection refused")}),
		simpletransfer.WithGateway(gateway),
	)
	require.NoError(t, err)

	_, err = svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a", ContentType: "text/plain"})
	assert.ErrorIs(t, err, simpletransfer.ErrStorage)
	assert.Equal(t, simpletransfer.KindStorage, simpletransfer.KindOf(err))

	_, err = svc.IssueDownloadURL(ctx, simpletransfer.DownloadURLRequest{ShortID: "abcdefgh"})
	assert.ErrorIs(t, err, simpletransfer.ErrStorage)
	assert.Empty(t, gateway.Calls())
}

func TestHooksAndObserver(t *testing.T) {
	ctx := context.Background()
	observer := &recordingObserver{}

	var initiated, aborted, mapped int
	var failedOps []string
	hooks := simpletransfer.Merge(
		simpletransfer.ContentTypeAllowlistHook("video/mp4"),
		&simpletransfer.Hooks{
			AfterMappingCreate: []simpletransfer.AfterMappingCreateHook{
				func(hctx *simpletransfer.HookContext, record *simpletransfer.MappingRecord) error {
					mapped++
					return errors.New("ignored")
				},
			},
			AfterInitiate: []simpletransfer.SessionHook{
				func(hctx *simpletransfer.HookContext, session *simpletransfer.UploadSession) error {
					assert.Equal(t, simpletransfer.SessionStateInitiated, session.State)
					initiated++
					return nil
				},
			},
			AfterAbort: []simpletransfer.SessionHook{
				func(hctx *simpletransfer.HookContext, session *simpletransfer.UploadSession) error {
					assert.Equal(t, simpletransfer.SessionStateAborted, session.State)
					aborted++
					return nil
				},
			},
			OnError: []simpletransfer.ErrorHook{
				func(hctx *simpletransfer.HookContext, operation string, err error) {
					failedOps = append(failedOps, operation)
				},
			},
		},
	)
	f := newFixture(t, simpletransfer.WithHooks(hooks), simpletransfer.WithObserver(observer))

	_, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a.txt", ContentType: "text/plain"})
	assert.ErrorIs(t, err, simpletransfer.ErrValidation)

	session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a.mp4", ContentType: "video/mp4"})
	require.NoError(t, err)
	_, err = f.svc.AbortMultipart(ctx, simpletransfer.AbortMultipartRequest{Identifier: session.ShortID, UploadID: session.UploadID})
	require.NoError(t, err)

	assert.Equal(t, 1, mapped)
	assert.Equal(t, 1, initiated)
	assert.Equal(t, 1, aborted)
	assert.Equal(t, []string{simpletransfer.OpInitiateMultipart}, failedOps)

	assert.Equal(t, []string{
		simpletransfer.OpInitiateMultipart,
		simpletransfer.OpInitiateMultipart,
		simpletransfer.OpAbortMultipart,
	}, observer.ops)
	assert.Equal(t, []simpletransfer.ErrorKind{
		simpletransfer.KindValidation,
		simpletransfer.KindNone,
		simpletransfer.KindNone,
	}, observer.kinds)
}

func TestBeforeHooksRunBeforeValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("UploadURLRewriteIsValidated", func(t *testing.T) {
		hooks := &simpletransfer.Hooks{
			BeforeUploadURL: []simpletransfer.BeforeUploadURLHook{
				func(hctx *simpletransfer.HookContext, req *simpletransfer.UploadURLRequest) error {
					req.ExpectedSize = simpletransfer.DefaultLimits().MaxFileSize + 1
					return nil
				},
			},
		}
		f := newFixture(t, simpletransfer.WithHooks(hooks))

		_, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "a.bin", ContentType: "application/octet-stream", ExpectedSize: 10})
		assert.ErrorIs(t, err, simpletransfer.ErrFileTooLarge)
		assert.Equal(t, 0, f.store.Len())
		assert.Empty(t, f.gateway.Calls())
	})

	t.Run("InitiateRewriteIsValidated", func(t *testing.T) {
		hooks := &simpletransfer.Hooks{
			BeforeInitiate: []simpletransfer.BeforeInitiateHook{
				func(hctx *simpletransfer.HookContext, req *simpletransfer.InitiateMultipartRequest) error {
					req.FileName = "   "
					return nil
				},
			},
		}
		f := newFixture(t, simpletransfer.WithHooks(hooks))

		_, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a.bin", ContentType: "application/octet-stream"})
		assert.ErrorIs(t, err, simpletransfer.ErrValidation)
		assert.Equal(t, 0, f.store.Len())
		assert.Empty(t, f.gateway.Calls())
	})

	t.Run("AllowlistSeesUntrimmedInput", func(t *testing.T) {
		f := newFixture(t, simpletransfer.WithHooks(simpletransfer.ContentTypeAllowlistHook("video/mp4")))

		resp, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "a.mp4", ContentType: " video/mp4 ", ExpectedSize: 10})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.UploadURL)

		_, err = f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "b.mov", ContentType: " video/quicktime"})
		assert.ErrorIs(t, err, simpletransfer.ErrValidation)
	})
}

func TestFailuresAreLoggedOnce(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	f := newFixture(t, simpletransfer.WithLogger(logger), simpletransfer.WithHooks(simpletransfer.LoggingHook(logger)))

	_, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{ContentType: "video/mp4"})
	require.ErrorIs(t, err, simpletransfer.ErrValidation)
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"), out)
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="transfer operation rejected"`)

	buf.Reset()
	session, err := f.svc.InitiateMultipart(ctx, simpletransfer.InitiateMultipartRequest{FileName: "a.mp4", ContentType: "video/mp4"})
	require.NoError(t, err)
	_, err = f.svc.CompleteMultipart(ctx, simpletransfer.CompleteMultipartRequest{
		Identifier: session.ShortID,
		UploadID:   session.UploadID,
		Parts:      []simpletransfer.PartDescriptor{{PartNumber: 1, ETag: "never-uploaded"}},
	})
	require.ErrorIs(t, err, simpletransfer.ErrStorage)

	out = buf.String()
	assert.Equal(t, 1, strings.Count(out, "level=ERROR"), out)
	assert.Equal(t, 1, strings.Count(out, `msg="multipart upload initiated"`), out)
	assert.Equal(t, 1, strings.Count(out, `msg="mapping created"`), out)
	assert.NotContains(t, out, "transfer operation error")
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	up, err := f.svc.IssueUploadURL(ctx, simpletransfer.UploadURLRequest{FileName: "a", ContentType: "text/plain", ExpectedSize: 1})
	require.NoError(t, err)

	byID, err := f.svc.Resolve(ctx, up.ShortID)
	require.NoError(t, err)
	byKey, err := f.svc.Resolve(ctx, up.Key)
	require.NoError(t, err)
	assert.Equal(t, byID, byKey)

	_, err = f.svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, simpletransfer.ErrValidation)
}
