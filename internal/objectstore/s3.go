// Package objectstore fetches the authoritative blocklist object from S3.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxObjectSize caps the bytes read from a single object.
const MaxObjectSize = 64 << 20

// ErrObjectTooLarge is returned when an object exceeds MaxObjectSize.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// FetchError reports that the authoritative object could not be read.
// Callers must not treat it as an empty blocklist.
type FetchError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError returns true if err is, or wraps, a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Getter reads whole objects.
type Getter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// Config holds the S3 connection settings.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// EndpointURL points at an S3-compatible service. Path-style
	// addressing is used when set.
	EndpointURL string
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store implements Getter on top of S3.
type Store struct {
	api    S3API
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Store from cfg. Static credentials are used when both key
// parts are set; otherwise the SDK default chain applies.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	return NewWithAPI(client, opts...), nil
}

// NewWithAPI wraps an existing S3 client.
func NewWithAPI(api S3API, opts ...Option) *Store {
	s := &Store{api: api, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetObject returns the full object body. Every failure is a *FetchError.
func (s *Store) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &FetchError{Bucket: bucket, Key: key, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxObjectSize+1))
	if err != nil {
		return nil, &FetchError{Bucket: bucket, Key: key, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(data) > MaxObjectSize {
		return nil, &FetchError{Bucket: bucket, Key: key, Err: ErrObjectTooLarge}
	}

	s.logger.Info("fetched blocklist object",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return data, nil
}

// ObjectKey joins a key prefix and file name the way the bucket is laid out.
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
