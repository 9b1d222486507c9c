package s3

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

const backendName = "s3"

// Config options for the S3 gateway
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// s3API is the subset of the S3 client the gateway calls directly.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// presignAPI is the subset of the presign client the gateway uses.
type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Gateway is an S3-compatible implementation of simpletransfer.ObjectGateway.
// It only signs requests and manages multipart sessions; object bytes never
// pass through it.
type Gateway struct {
	client    s3API
	presigner presignAPI
	bucket    string
	config    Config
}

// New creates a new S3-compatible gateway
func New(config Config) (*Gateway, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	// Set up AWS config
	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		// Use provided credentials
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for S3-compatible services (MinIO, etc.)
	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	return NewWithClient(config, s3.NewFromConfig(awsCfg, s3Options...))
}

// NewWithClient creates a gateway around an existing S3 client
func NewWithClient(config Config, client *s3.Client) (*Gateway, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	gateway := newGateway(config, client, s3.NewPresignClient(client))

	// Create bucket if requested
	if config.CreateBucketIfNotExist {
		if err := gateway.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return gateway, nil
}

func newGateway(config Config, client s3API, presigner presignAPI) *Gateway {
	return &Gateway{
		client:    client,
		presigner: presigner,
		bucket:    config.Bucket,
		config:    config,
	}
}

// Bucket returns the bucket the gateway signs against
func (g *Gateway) Bucket() string {
	return g.bucket
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (g *Gateway) createBucketIfNotExists(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(g.bucket),
	})
	if err == nil {
		return nil
	}

	// Handle multiple error types for MinIO compatibility
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(g.bucket),
	}

	// Add location constraint for regions other than us-east-1
	if g.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(g.config.Region),
		}
	}

	_, err = g.client.CreateBucket(ctx, createInput)
	if err != nil {
		if errorCode(err) == "BucketAlreadyExists" || errorCode(err) == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// SignPut returns a presigned PutObject URL bound to contentType
func (g *Gateway) SignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = g.encryption()

	result, err := g.presigner.PresignPutObject(ctx, input, withExpiry(expiry))
	if err != nil {
		return "", g.storageError("presign_put", key, err)
	}
	return result.URL, nil
}

// SignGet returns a presigned GetObject URL; a download filename is sent back
// as an attachment Content-Disposition.
func (g *Gateway) SignGet(ctx context.Context, key string, opts simpletransfer.SignGetOptions, expiry time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}
	if opts.DownloadFilename != "" {
		input.ResponseContentDisposition = aws.String(contentDisposition(opts.DownloadFilename))
	}

	result, err := g.presigner.PresignGetObject(ctx, input, withExpiry(expiry))
	if err != nil {
		return "", g.storageError("presign_get", key, err)
	}
	return result.URL, nil
}

// HeadObject retrieves metadata for an object in S3
func (g *Gateway) HeadObject(ctx context.Context, key string) (*simpletransfer.ObjectInfo, error) {
	result, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errorCode(err) == "NotFound" {
			return nil, fmt.Errorf("%w: %s", simpletransfer.ErrFileNotFound, key)
		}
		return nil, g.storageError("head_object", key, err)
	}

	info := &simpletransfer.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ETag:        strings.Trim(aws.ToString(result.ETag), "\""),
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// InitiateMultipart creates a multipart upload and returns its upload id
func (g *Gateway) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = g.encryption()

	result, err := g.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", g.storageError("create_multipart_upload", key, err)
	}
	if result.UploadId == nil || *result.UploadId == "" {
		return "", g.storageError("create_multipart_upload", key, errors.New("response has no upload id"))
	}
	return *result.UploadId, nil
}

// SignUploadPart returns a presigned UploadPart URL
func (g *Gateway) SignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error) {
	input := &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}

	result, err := g.presigner.PresignUploadPart(ctx, input, withExpiry(expiry))
	if err != nil {
		return "", g.storageError("presign_upload_part", key, err)
	}
	return result.URL, nil
}

// CompleteMultipart completes the upload with parts in the given order
func (g *Gateway) CompleteMultipart(ctx context.Context, key, uploadID string, parts []simpletransfer.PartDescriptor) (string, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		})
	}

	result, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", g.storageError("complete_multipart_upload", key, err)
	}
	if result.Key != nil && *result.Key != "" {
		return *result.Key, nil
	}
	return key, nil
}

// AbortMultipart aborts the upload. NoSuchUpload is treated as success.
func (g *Gateway) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) || errorCode(err) == "NoSuchUpload" {
			return nil
		}
		return g.storageError("abort_multipart_upload", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(g.bucket),
	})
	if err != nil {
		return g.storageError("head_bucket", "", err)
	}
	return nil
}

func (g *Gateway) encryption() (types.ServerSideEncryption, *string) {
	if !g.config.EnableSSE {
		return "", nil
	}
	switch g.config.SSEAlgorithm {
	case "AES256":
		return types.ServerSideEncryptionAes256, nil
	case "aws:kms":
		if g.config.SSEKMSKeyID != "" {
			return types.ServerSideEncryptionAwsKms, aws.String(g.config.SSEKMSKeyID)
		}
		return types.ServerSideEncryptionAwsKms, nil
	}
	return "", nil
}

func (g *Gateway) storageError(op, key string, err error) error {
	return &simpletransfer.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

func withExpiry(expiry time.Duration) func(*s3.PresignOptions) {
	return func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	}
}

func contentDisposition(filename string) string {
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); value != "" {
		return value
	}
	return fmt.Sprintf("attachment; filename=\"%s\"", strings.ReplaceAll(filename, "\"", ""))
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
