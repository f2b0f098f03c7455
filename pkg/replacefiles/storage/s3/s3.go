package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

// MetaAttachmentID is the object metadata key holding the owning attachment id
const MetaAttachmentID = "attachment-id"

// Config for the S3 backend. Endpoint and UsePathStyle target MinIO and
// other S3-compatible services.
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	PresignDuration int // seconds, default 3600

	EnableSSE    bool
	SSEAlgorithm string // AES256 or aws:kms
	SSEKMSKeyID  string

	CreateBucketIfNotExist bool
}

// Backend stores attachment files in one bucket
type Backend struct {
	client          *s3.Client
	bucket          string
	presignClient   *s3.PresignClient
	presignDuration time.Duration
	config          Config
}

func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	if config.PresignDuration == 0 {
		config.PresignDuration = 3600
	}

	if config.EnableSSE && config.SSEAlgorithm != "AES256" && config.SSEAlgorithm != "aws:kms" {
		return nil, fmt.Errorf("invalid SSE algorithm: %s", config.SSEAlgorithm)
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	backend := &Backend{
		client:          client,
		bucket:          config.Bucket,
		presignClient:   s3.NewPresignClient(client),
		presignDuration: time.Duration(config.PresignDuration) * time.Second,
		config:          config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket in several ways
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) && !hasErrorCode(err, "BadRequest", "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}

	// us-east-1 must not send a location constraint
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err = b.client.CreateBucket(ctx, createInput); err != nil {
		if hasErrorCode(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// GetObjectMeta reports size, type and the stored attachment id of an object
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*replacefiles.ObjectMeta, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, replacefiles.ErrObjectNotFound
		}
		return nil, fmt.Errorf("head %s: %w", objectKey, err)
	}

	contentType := aws.ToString(result.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metadata := make(map[string]string, len(result.Metadata)+1)
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	metadata["content_type"] = contentType

	return &replacefiles.ObjectMeta{
		Key:         objectKey,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: contentType,
		UpdatedAt:   aws.ToTime(result.LastModified),
		ETag:        strings.Trim(aws.ToString(result.ETag), "\""),
		Metadata:    metadata,
	}, nil
}

func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, replacefiles.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams streams reader into the bucket with the multipart
// uploader, so replacement files of any size go through the same path.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params replacefiles.UploadParams) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(params.ObjectKey),
		Body:   reader,
	}
	if params.MimeType != "" {
		input.ContentType = aws.String(params.MimeType)
	}
	if params.AttachmentID != 0 {
		input.Metadata = map[string]string{MetaAttachmentID: strconv.FormatInt(params.AttachmentID, 10)}
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	if _, err := manager.NewUploader(b.client).Upload(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", params.ObjectKey, err)
	}
	return nil
}

// Copy overwrites dstKey with the bytes and content type of srcKey inside
// the bucket. The destination keeps its own attachment id, so a merged
// original still names itself after the replacement's file is copied in.
func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		if isNotFound(err) {
			return replacefiles.ErrObjectNotFound
		}
		return fmt.Errorf("head %s: %w", srcKey, err)
	}

	metadata := make(map[string]string, len(src.Metadata))
	for k, v := range src.Metadata {
		if k != MetaAttachmentID {
			metadata[k] = v
		}
	}
	dst, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dstKey),
	})
	switch {
	case err == nil:
		if id, ok := dst.Metadata[MetaAttachmentID]; ok {
			metadata[MetaAttachmentID] = id
		}
	case !isNotFound(err):
		return fmt.Errorf("head %s: %w", dstKey, err)
	}

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(dstKey),
		CopySource:        aws.String(b.bucket + "/" + url.PathEscape(srcKey)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          metadata,
		ContentType:       src.ContentType,
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		if isNotFound(err) {
			return replacefiles.ErrObjectNotFound
		}
		return fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (b *Backend) sse() (types.ServerSideEncryption, *string) {
	if !b.config.EnableSSE {
		return "", nil
	}
	switch b.config.SSEAlgorithm {
	case "aws:kms":
		if b.config.SSEKMSKeyID != "" {
			return types.ServerSideEncryptionAwsKms, aws.String(b.config.SSEKMSKeyID)
		}
		return types.ServerSideEncryptionAwsKms, nil
	default:
		return types.ServerSideEncryptionAes256, nil
	}
}

// GetPreviewURL presigns an inline GET, used for the pending-changes preview links
func (b *Backend) GetPreviewURL(ctx context.Context, objectKey string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket:                     aws.String(b.bucket),
		Key:                        aws.String(objectKey),
		ResponseContentDisposition: aws.String("inline"),
	}

	result, err := b.presignClient.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = b.presignDuration
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}

	return result.URL, nil
}

func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, replacefiles.ErrObjectNotFound
		}
		return nil, fmt.Errorf("download %s: %w", objectKey, err)
	}

	return result.Body, nil
}

// Delete removes an object. S3 treats a missing key as deleted.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", objectKey, err)
	}

	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	return hasErrorCode(err, "NoSuchKey", "NotFound")
}

func hasErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
