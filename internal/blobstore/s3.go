package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config configures the S3 client. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client for cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// S3Store keeps blobs in an S3 bucket under <prefix><blob id>/original and
// <prefix><blob id>/thumbnails/<name>.
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store wraps an S3 client. prefix may be empty.
func NewS3Store(client S3API, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, r io.Reader) (PutResult, error) {
	if r == nil {
		return PutResult{}, fmt.Errorf("reader is required")
	}
	id := NewBlobID()
	h := sha256.New()
	counter := &countingWriter{}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.originalKey(id)),
		Body:   io.TeeReader(r, io.MultiWriter(h, counter)),
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("upload blob %s: %w", id, err)
	}
	return PutResult{BlobID: id, SHA256: hex.EncodeToString(h.Sum(nil)), SizeBytes: counter.n}, nil
}

func (s *S3Store) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	if err := ValidateBlobID(blobID); err != nil {
		return nil, err
	}
	return s.get(ctx, s.originalKey(blobID))
}

func (s *S3Store) Exists(ctx context.Context, blobID string) (bool, error) {
	if err := ValidateBlobID(blobID); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.originalKey(blobID)),
	})
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the original and every thumbnail of a blob.
func (s *S3Store) Delete(ctx context.Context, blobID string) error {
	if err := ValidateBlobID(blobID); err != nil {
		return err
	}
	if err := s.DeleteThumbnails(ctx, blobID); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.originalKey(blobID)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("delete blob %s: %w", blobID, err)
	}
	return nil
}

func (s *S3Store) PutThumbnail(ctx context.Context, blobID, name string, r io.Reader) error {
	key, err := s.thumbnailKey(blobID, name)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	return err
}

func (s *S3Store) OpenThumbnail(ctx context.Context, blobID, name string) (io.ReadCloser, error) {
	key, err := s.thumbnailKey(blobID, name)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, key)
}

// DeleteThumbnails lists the thumbnail prefix and removes it in batches.
func (s *S3Store) DeleteThumbnails(ctx context.Context, blobID string) error {
	if err := ValidateBlobID(blobID); err != nil {
		return err
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + blobID + "/" + thumbnailsDir + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list thumbnails %s: %w", blobID, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete thumbnails %s: %w", blobID, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete thumbnail %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (s *S3Store) get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *S3Store) originalKey(blobID string) string {
	return s.prefix + blobID + "/" + originalName
}

func (s *S3Store) thumbnailKey(blobID, name string) (string, error) {
	if err := ValidateBlobID(blobID); err != nil {
		return "", err
	}
	if err := ValidateThumbnailName(name); err != nil {
		return "", err
	}
	return s.prefix + blobID + "/" + thumbnailsDir + "/" + name, nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

var _ BlobStore = (*S3Store)(nil)
