package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint points the client at an S3 compatible server such as MinIO.
	Endpoint string
	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps blobs as objects in one bucket.
type S3Store struct {
	client S3API
	bucket string
	logger *slog.Logger
	now    func() time.Time
}

var _ store.BlobStore = (*S3Store)(nil)

// NewS3Store loads the AWS configuration and returns a store for opts.Bucket.
func NewS3Store(ctx context.Context, opts S3Options, log *slog.Logger) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, opts.Bucket, log), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, bucket string, log *slog.Logger) *S3Store {
	if log == nil {
		log = slog.Default()
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: log.With(slog.String("component", "s3_blob_store"), slog.String("bucket", bucket)),
		now:    time.Now,
	}
}

// Locate returns the s3:// path an object under key would have.
func (s *S3Store) Locate(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Save uploads data under a fresh key. If-None-Match makes the claim atomic
// when another writer races for the same key.
func (s *S3Store) Save(ctx context.Context, data []byte, suggestedName string) (string, string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	now := s.now()

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := store.NewBlobKey(now, suggestedName, attempt)

		exists, err := s.Exists(ctx, key)
		if err != nil {
			return "", "", err
		}
		if exists {
			continue
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(http.DetectContentType(data)),
			IfNoneMatch:   aws.String("*"),
		})
		if isStatus(err, http.StatusPreconditionFailed) || isStatus(err, http.StatusConflict) {
			continue
		}
		if err != nil {
			log.Error("failed to upload blob", slog.String("key", key), slog.String("error", err.Error()))
			return "", "", fmt.Errorf("upload %s: %w", key, err)
		}

		log.Debug("blob saved", slog.String("key", key), slog.Int("size", len(data)))
		return s.Locate(key), key, nil
	}
	return "", "", ErrKeySpaceExhausted
}

// Put uploads data under key, replacing any existing object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.Locate(key), nil
}

// Exists reports whether an object is stored under key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

// Open streams the object stored under key.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", store.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes the object under key. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound) || isStatus(err, http.StatusNotFound)
}

func isStatus(err error, code int) bool {
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == code
}
