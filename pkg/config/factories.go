package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/checksum"
	checksumBadger "github.com/marmos91/dittosync/pkg/checksum/badger"
	checksumMemory "github.com/marmos91/dittosync/pkg/checksum/memory"
	"github.com/marmos91/dittosync/pkg/content"
	contentFs "github.com/marmos91/dittosync/pkg/content/fs"
	contentMemory "github.com/marmos91/dittosync/pkg/content/memory"
	contentS3 "github.com/marmos91/dittosync/pkg/content/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateContentStore creates a content store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/content/fs (local directory tree)
//   - "memory": Uses pkg/content/memory (ephemeral, lost on exit)
//   - "s3": Uses pkg/content/s3 (Amazon S3 or compatible storage)
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return createMemoryContentStore(ctx, cfg.Memory)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createFilesystemContentStore creates a filesystem-based content store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	var storeCfg contentFs.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	return store, nil
}

// createMemoryContentStore creates an in-memory content store.
func createMemoryContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	var storeCfg contentMemory.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store config: %w", err)
	}

	store, err := contentMemory.NewMemoryContentStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory content store: %w", err)
	}

	return store, nil
}

// s3Options is the content.s3 config section.
type s3Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	PartSize        int64  `mapstructure:"part_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
	ReadOnly        bool   `mapstructure:"read_only"`
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	var storeCfg s3Options
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Default to 10 attempts (AWS default is 3)
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
		if storeCfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Content Store
	// ========================================================================

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
		PartSize:  storeCfg.PartSize,
		ReadOnly:  storeCfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateChecksumCache creates the checksum cache based on configuration.
//
// Supported types:
//   - "memory": checksums are forgotten on exit
//   - "badger": checksums persist in BadgerDB across restarts
func CreateChecksumCache(ctx context.Context, cfg *ChecksumConfig) (checksum.Cache, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return checksumMemory.New(), nil
	case "badger":
		return createBadgerChecksumCache(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown checksum cache type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerChecksumCache opens a BadgerDB-backed checksum cache.
func createBadgerChecksumCache(ctx context.Context, options map[string]any) (checksum.Cache, error) {
	var cacheCfg checksumBadger.Config
	if err := mapstructure.Decode(options, &cacheCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger checksum cache config: %w", err)
	}

	if cacheCfg.DBPath == "" && !cacheCfg.InMemory {
		return nil, fmt.Errorf("badger checksum cache: db_path is required")
	}

	cache, err := checksumBadger.New(ctx, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger checksum cache: %w", err)
	}

	return cache, nil
}
