package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/adapter"
	"github.com/marmos91/h5fs/pkg/adapter/fuse"
	"github.com/marmos91/h5fs/pkg/content"
	contentFs "github.com/marmos91/h5fs/pkg/content/fs"
	contentMemory "github.com/marmos91/h5fs/pkg/content/memory"
	contentS3 "github.com/marmos91/h5fs/pkg/content/s3"
	"github.com/marmos91/h5fs/pkg/importer"
	promMetrics "github.com/marmos91/h5fs/pkg/metrics/prometheus"
	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/store/badger"
	"github.com/marmos91/h5fs/pkg/store/cache"
	"github.com/marmos91/h5fs/pkg/store/hdf5"
	"github.com/marmos91/h5fs/pkg/store/memory"
	"github.com/marmos91/h5fs/pkg/vfs"
	"github.com/mitchellh/mapstructure"
)

// OpenMode selects whether a Data Store is opened for mounting or for
// importing.
type OpenMode int

const (
	// OpenReadOnly is used by mount and the inspection commands.
	OpenReadOnly OpenMode = iota

	// OpenReadWrite is used by import.
	OpenReadWrite
)

// S3Options is the decoded content.s3 section.
type S3Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	// RequestsPerSecond caps S3 API calls (0 = unlimited); Burst defaults to it
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// CreateContentStore creates a payload store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/content/fs (local filesystem storage)
//   - "memory": Uses pkg/content/memory (ephemeral, for tests and in-memory badger)
//   - "s3": Uses pkg/content/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Content store configuration
//   - s3Metrics: Optional S3 metrics (nil uses no-op)
//
// Returns:
//   - content.WritableContentStore: Initialized content store
//   - error: Configuration or initialization error
func CreateContentStore(ctx context.Context, cfg *ContentConfig, s3Metrics contentS3.S3Metrics) (content.WritableContentStore, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return createMemoryContentStore(ctx, cfg.Memory)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3, s3Metrics)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createFilesystemContentStore creates a filesystem-based content store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.WritableContentStore, error) {
	var storeCfg contentFs.FSContentStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	// Validate required fields
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
func createMemoryContentStore(ctx context.Context, options map[string]any) (content.WritableContentStore, error) {
	var storeCfg contentMemory.MemoryContentStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store config: %w", err)
	}

	store, err := contentMemory.NewMemoryContentStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory content store: %w", err)
	}
	return store, nil
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, options map[string]any, s3Metrics contentS3.S3Metrics) (content.WritableContentStore, error) {
	var storeCfg S3Options
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	// Validate required fields
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}

	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	// Set region
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Set credentials if provided, otherwise use default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Ranged GETs from a mount are latency sensitive; retry transient
	// failures (502, 503, timeouts) a few more times than the SDK default.
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	// Load AWS config
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoint for MinIO, Localstack, etc.
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
		Client:            client,
		Bucket:            storeCfg.Bucket,
		KeyPrefix:         storeCfg.KeyPrefix,
		Metrics:           s3Metrics,
		RequestsPerSecond: storeCfg.RequestsPerSecond,
		Burst:             storeCfg.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s, requests_per_second=%d",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix, storeCfg.RequestsPerSecond)

	return store, nil
}

// CreateStore creates the Data Store based on configuration.
//
// Supported types:
//   - "memory": Uses pkg/store/memory. When store.memory.source names a
//     directory, its .npy tree is imported at startup.
//   - "badger": Uses pkg/store/badger with payloads in the configured
//     content store. The database is opened read-only for OpenReadOnly.
//   - "hdf5": Uses pkg/store/hdf5 to serve one .h5 file. It is always
//     read-only and cannot be opened for OpenReadWrite.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Complete configuration (store and content sections)
//   - mode: Read-only for serving, read-write for importing
//   - s3Metrics: Optional S3 metrics (nil uses no-op)
//
// Returns:
//   - store.WritableStore: Initialized store; the caller owns it and must Close it
//   - error: Configuration or initialization error
func CreateStore(ctx context.Context, cfg *Config, mode OpenMode, s3Metrics contentS3.S3Metrics) (store.WritableStore, error) {
	switch cfg.Store.Type {
	case "memory":
		return createMemoryStore(ctx, cfg.Store.Memory)
	case "badger":
		return createBadgerStore(ctx, cfg, mode, s3Metrics)
	case "hdf5":
		return createHDF5Store(ctx, cfg.Store.HDF5, mode)
	default:
		return nil, fmt.Errorf("unknown store type: %q (supported: memory, badger, hdf5)", cfg.Store.Type)
	}
}

// createHDF5Store opens an HDF5 file as a read-only Data Store.
func createHDF5Store(ctx context.Context, options map[string]any, mode OpenMode) (store.WritableStore, error) {
	if mode == OpenReadWrite {
		return nil, fmt.Errorf("hdf5 store is read-only and cannot be imported into")
	}

	var storeCfg hdf5.HDF5StoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode hdf5 store config: %w", err)
	}

	// Validate required fields
	if storeCfg.Path == "" {
		return nil, fmt.Errorf("hdf5 store: path is required")
	}

	st, err := hdf5.NewHDF5Store(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open hdf5 store: %w", err)
	}

	logger.Info("HDF5 store opened: path=%s", storeCfg.Path)
	return st, nil
}

// createMemoryStore creates an in-memory Data Store, optionally seeded
// from a directory of .npy files.
func createMemoryStore(ctx context.Context, options map[string]any) (store.WritableStore, error) {
	// Check context before creating store
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type MemoryStoreOptions struct {
		Source string `mapstructure:"source"`
	}

	var storeOpts MemoryStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode memory store options: %w", err)
	}

	st := memory.New()
	if storeOpts.Source == "" {
		return st, nil
	}

	if _, err := importer.Import(ctx, st, storeOpts.Source, importer.Options{}); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to seed memory store from %s: %w", storeOpts.Source, err)
	}
	return st, nil
}

// createBadgerStore creates a BadgerDB Data Store over the configured
// content store.
func createBadgerStore(ctx context.Context, cfg *Config, mode OpenMode, s3Metrics contentS3.S3Metrics) (store.WritableStore, error) {
	var storeCfg badger.BadgerStoreConfig
	if err := mapstructure.Decode(cfg.Store.Badger, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger store config: %w", err)
	}

	// Validate required fields
	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger store: db_path is required")
	}

	blobs, err := CreateContentStore(ctx, &cfg.Content, s3Metrics)
	if err != nil {
		return nil, err
	}

	storeCfg.Content = blobs
	storeCfg.ReadOnly = storeCfg.ReadOnly || mode == OpenReadOnly

	st, err := badger.NewBadgerStore(ctx, storeCfg)
	if err != nil {
		if closer, ok := blobs.(interface{ Close() error }); ok {
			err = errors.Join(err, closer.Close())
		}
		return nil, fmt.Errorf("failed to create badger store: %w", err)
	}

	logger.Info("Badger store opened: path=%s, read_only=%v, content=%s",
		storeCfg.DBPath, storeCfg.ReadOnly, cfg.Content.Type)
	return st, nil
}

// CreateFilesystem builds the virtual filesystem over st from the mount
// section. With mount.cache enabled the filesystem reads through a lookup
// cache; st itself is returned untouched and stays the caller's to close.
func CreateFilesystem(st store.Store, cfg *Config, metrics vfs.Metrics) (*vfs.FS, error) {
	fsCfg := vfs.Config{
		Presentation: vfs.Presentation(cfg.Mount.Presentation),
		Metrics:      metrics,
	}
	if owner := cfg.Mount.Owner; owner != nil {
		fsCfg.UID, fsCfg.GID = owner.UID, owner.GID
		fsCfg.ExplicitOwner = true
	}
	if cfg.Mount.Cache.Enabled {
		cached := cache.New(st, cfg.Mount.Cache)
		if err := promMetrics.RegisterCacheStats(cached); err != nil {
			logger.Warn("Lookup cache metrics unavailable: %v", err)
		}
		st = cached
	}
	return vfs.New(st, fsCfg)
}

// CreateAdapters creates the request dispatchers from the mount section.
func CreateAdapters(cfg *Config) ([]adapter.Adapter, error) {
	fuseAdapter, err := fuse.New(cfg.Mount.FuseConfig)
	if err != nil {
		return nil, err
	}
	return []adapter.Adapter{fuseAdapter}, nil
}
