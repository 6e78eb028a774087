// Package s3 implements S3-based content storage.
//
// Dataset payloads are stored one object per blob. Reads are served with
// byte-range GET requests so that a small read against a large dataset
// never downloads the whole object.
package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/h5fs/internal/ratelimiter"
	"github.com/marmos91/h5fs/pkg/content"
)

// S3API is the subset of *s3.Client used by the store.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3ContentStore implements WritableContentStore using Amazon S3 or
// S3-compatible storage.
//
// S3 Characteristics:
//   - Object storage (no true random access like filesystem)
//   - Supports range reads, which back ReadAt
//   - High durability and availability
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
type S3ContentStore struct {
	client    S3API
	bucket    string
	keyPrefix string
	metrics   S3Metrics
	limiter   *ratelimiter.RateLimiter
}

// S3ContentStoreConfig contains configuration for S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client
	Client S3API

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "h5fs/payloads/" results in keys like "h5fs/payloads/<id>"
	KeyPrefix string

	// Metrics is optional; nil disables collection
	Metrics S3Metrics

	// RequestsPerSecond caps the sustained rate of S3 API calls (0 = unlimited)
	RequestsPerSecond uint

	// Burst is how many calls may exceed the rate momentarily
	// (0 = RequestsPerSecond)
	Burst uint
}

// NewS3ContentStore creates a new S3-based content store.
//
// This verifies bucket access. The bucket must already exist; this function
// does not create it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3ContentStore: Initialized S3 content store
//   - error: Returns error if bucket access fails or context is cancelled
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   metrics,
		limiter:   ratelimiter.New(cfg.RequestsPerSecond, cfg.Burst),
	}, nil
}

// throttle waits for the request budget before an S3 call.
func (s *S3ContentStore) throttle(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for S3 request budget: %w", err)
	}
	return nil
}

// getObjectKey returns the S3 object key for a content ID.
func (s *S3ContentStore) getObjectKey(id content.ContentID) string {
	return s.listPrefix() + strings.TrimPrefix(string(id), "/")
}

// listPrefix is the key prefix shared by every object of the store.
func (s *S3ContentStore) listPrefix() string {
	if s.keyPrefix == "" {
		return ""
	}
	return strings.TrimSuffix(s.keyPrefix, "/") + "/"
}
