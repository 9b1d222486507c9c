package s3

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

type fakeS3 struct {
	headObjectOut *s3.HeadObjectOutput
	headObjectErr error
	headBucketErr error
	createBucket  int
	createOut     *s3.CreateMultipartUploadOutput
	createErr     error
	completeIn    *s3.CompleteMultipartUploadInput
	completeErr   error
	abortErr      error
	abortCalls    int
	createInput   *s3.CreateMultipartUploadInput
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headObjectOut, f.headObjectErr
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucketErr != nil {
		return nil, f.headBucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createBucket++
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.createInput = params
	return f.createOut, f.createErr
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completeIn = params
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &s3.CompleteMultipartUploadOutput{Key: params.Key}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.abortCalls++
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

// offlinePresigner signs against a local endpoint without any network access.
func offlinePresigner() *s3.PresignClient {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: aws.String("http://localhost:9000"),
		UsePathStyle: true,
	})
	return s3.NewPresignClient(client)
}

func newTestGateway(fake *fakeS3, config Config) *Gateway {
	if config.Bucket == "" {
		config.Bucket = "test-bucket"
	}
	return newGateway(config, fake, offlinePresigner())
}

func TestGateway_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("StaticCredentials", func(t *testing.T) {
		gateway, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			Endpoint:        "http://localhost:9000",
			UsePathStyle:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, "test-bucket", gateway.Bucket())
		assert.Equal(t, "us-east-1", gateway.config.Region)
	})
}

func TestGateway_SignedURLs(t *testing.T) {
	ctx := context.Background()
	gateway := newTestGateway(&fakeS3{}, Config{})

	t.Run("Put", func(t *testing.T) {
		signed, err := gateway.SignPut(ctx, "abc-video.mp4", "video/mp4", 300*time.Second)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		assert.Equal(t, "localhost:9000", u.Host)
		assert.Equal(t, "/test-bucket/abc-video.mp4", u.Path)
		assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	})

	t.Run("GetWithFilename", func(t *testing.T) {
		signed, err := gateway.SignGet(ctx, "abc-report.pdf", simpletransfer.SignGetOptions{DownloadFilename: "report.pdf"}, time.Minute)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		assert.Equal(t, `attachment; filename=report.pdf`, u.Query().Get("response-content-disposition"))
		assert.Equal(t, "60", u.Query().Get("X-Amz-Expires"))
	})

	t.Run("UploadPart", func(t *testing.T) {
		signed, err := gateway.SignUploadPart(ctx, "abc-video.mp4", "upload-1", 3, 5*1024*1024, time.Minute)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		assert.Equal(t, "3", u.Query().Get("partNumber"))
		assert.Equal(t, "upload-1", u.Query().Get("uploadId"))
	})
}

func TestGateway_HeadObject(t *testing.T) {
	ctx := context.Background()
	modified := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("Found", func(t *testing.T) {
		gateway := newTestGateway(&fakeS3{headObjectOut: &s3.HeadObjectOutput{
			ContentLength: aws.Int64(42),
			ContentType:   aws.String("text/plain"),
			ETag:          aws.String(`"abc"`),
			LastModified:  aws.Time(modified),
		}}, Config{})

		info, err := gateway.HeadObject(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(42), info.Size)
		assert.Equal(t, "abc", info.ETag)
		assert.Equal(t, modified, info.LastModified)
	})

	t.Run("NotFound", func(t *testing.T) {
		gateway := newTestGateway(&fakeS3{headObjectErr: &types.NotFound{}}, Config{})
		_, err := gateway.HeadObject(ctx, "k")
		assert.ErrorIs(t, err, simpletransfer.ErrFileNotFound)
	})

	t.Run("OtherFailure", func(t *testing.T) {
		gateway := newTestGateway(&fakeS3{headObjectErr: errors.New("timeout")}, Config{})
		_, err := gateway.HeadObject(ctx, "k")
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
		assert.NotErrorIs(t, err, simpletransfer.ErrFileNotFound)
	})
}

func TestGateway_Multipart(t *testing.T) {
	ctx := context.Background()

	t.Run("InitiateWithEncryption", func(t *testing.T) {
		fake := &fakeS3{createOut: &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}}
		gateway := newTestGateway(fake, Config{EnableSSE: true, SSEAlgorithm: "aws:kms", SSEKMSKeyID: "key-1"})

		uploadID, err := gateway.InitiateMultipart(ctx, "k", "video/mp4")
		require.NoError(t, err)
		assert.Equal(t, "upload-1", uploadID)
		assert.Equal(t, types.ServerSideEncryptionAwsKms, fake.createInput.ServerSideEncryption)
		assert.Equal(t, "key-1", aws.ToString(fake.createInput.SSEKMSKeyId))
		assert.Equal(t, "video/mp4", aws.ToString(fake.createInput.ContentType))
	})

	t.Run("InitiateWithoutUploadID", func(t *testing.T) {
		gateway := newTestGateway(&fakeS3{createOut: &s3.CreateMultipartUploadOutput{}}, Config{})
		_, err := gateway.InitiateMultipart(ctx, "k", "video/mp4")
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
	})

	t.Run("CompletePreservesOrder", func(t *testing.T) {
		fake := &fakeS3{}
		gateway := newTestGateway(fake, Config{})

		key, err := gateway.CompleteMultipart(ctx, "k", "upload-1", []simpletransfer.PartDescriptor{
			{PartNumber: 1, ETag: `"a"`}, {PartNumber: 2, ETag: `"b"`},
		})
		require.NoError(t, err)
		assert.Equal(t, "k", key)

		parts := fake.completeIn.MultipartUpload.Parts
		require.Len(t, parts, 2)
		assert.Equal(t, int32(1), aws.ToInt32(parts[0].PartNumber))
		assert.Equal(t, `"b"`, aws.ToString(parts[1].ETag))
	})

	t.Run("CompleteFailure", func(t *testing.T) {
		gateway := newTestGateway(&fakeS3{completeErr: &types.NoSuchUpload{}}, Config{})
		_, err := gateway.CompleteMultipart(ctx, "k", "upload-1", []simpletransfer.PartDescriptor{{PartNumber: 1, ETag: `"a"`}})
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
	})

	t.Run("AbortToleratesNoSuchUpload", func(t *testing.T) {
		fake := &fakeS3{abortErr: &types.NoSuchUpload{}}
		gateway := newTestGateway(fake, Config{})
		require.NoError(t, gateway.AbortMultipart(ctx, "k", "upload-1"))

		fake.abortErr = &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "gone"}
		require.NoError(t, gateway.AbortMultipart(ctx, "k", "upload-1"))
		assert.Equal(t, 2, fake.abortCalls)
	})

	t.Run("AbortFailure", func(t *testing.T) {
		gateway := newTestGateway(&fakeS3{abortErr: &smithy.GenericAPIError{Code: "AccessDenied"}}, Config{})
		err := gateway.AbortMultipart(ctx, "k", "upload-1")
		assert.ErrorIs(t, err, simpletransfer.ErrStorage)
	})
}

func TestGateway_CreateBucketIfNotExists(t *testing.T) {
	ctx := context.Background()

	fake := &fakeS3{headBucketErr: &types.NotFound{}}
	gateway := newTestGateway(fake, Config{Region: "us-east-1"})
	require.NoError(t, gateway.createBucketIfNotExists(ctx))
	assert.Equal(t, 1, fake.createBucket)

	fake = &fakeS3{}
	gateway = newTestGateway(fake, Config{})
	require.NoError(t, gateway.createBucketIfNotExists(ctx))
	assert.Equal(t, 0, fake.createBucket)

	fake = &fakeS3{headBucketErr: errors.New("access denied")}
	gateway = newTestGateway(fake, Config{})
	assert.Error(t, gateway.createBucketIfNotExists(ctx))

	assert.Error(t, gateway.Ping(ctx))
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename=report.pdf`, contentDisposition("report.pdf"))
	assert.Equal(t, `attachment; filename="my report.pdf"`, contentDisposition("my report.pdf"))
}
