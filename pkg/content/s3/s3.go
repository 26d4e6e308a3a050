package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittosync/pkg/content"
)

// S3ContentStore implements content.Store using Amazon S3 or S3-compatible storage.
//
// Path-Based Key Design:
//   - The replication path is the object key (after the optional prefix)
//   - The bucket mirrors the layout a requester sees
//   - Example: prefix "assets/" + path "textures/rock.dds" -> "assets/textures/rock.dds"
//
// Writes:
// Create returns a writer that buffers up to PartSize bytes. Content that fits
// is stored with one PutObject on Close; larger content switches to a
// multipart upload and streams parts as they fill. Closing a writer early
// stores what was written, so partial transfers leave partial objects like the
// other backends do.
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
type S3ContentStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
	readOnly  bool
}

// S3ContentStoreConfig contains configuration for the S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "dittosync/" results in keys like "dittosync/maps/dune.ter"
	KeyPrefix string

	// PartSize is the size of each part for multipart uploads (default: 10MB)
	// Must be between 5MB and 5GB
	PartSize int64

	// ReadOnly refuses every Create
	ReadOnly bool
}

var _ content.Store = (*S3ContentStore)(nil)

const (
	defaultPartSize = 10 * 1024 * 1024
	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
)

// NewS3ContentStore creates a new S3-based content store.
//
// The bucket must already exist - this function does not create it.
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

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
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

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		readOnly:  cfg.ReadOnly,
	}, nil
}

// objectKey returns the full object key for a cleaned replication path.
func (s *S3ContentStore) objectKey(path string) string {
	return s.keyPrefix + path
}

// pathFromKey strips the key prefix. ok is false for keys outside the prefix
// and for "directory" placeholder keys.
func (s *S3ContentStore) pathFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, s.keyPrefix) {
		return "", false
	}
	p := strings.TrimPrefix(key, s.keyPrefix)
	if p == "" || strings.HasSuffix(p, "/") {
		return "", false
	}
	return p, true
}

// isNotFound reports whether err is a missing-object error. GetObject returns
// NoSuchKey while HeadObject returns a bare 404 NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
