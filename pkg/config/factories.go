package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/channel"
	"github.com/marmos91/dittomount/pkg/imagesource"
	imagesourceFs "github.com/marmos91/dittomount/pkg/imagesource/fs"
	imagesourceS3 "github.com/marmos91/dittomount/pkg/imagesource/s3"
	"github.com/marmos91/dittomount/pkg/provider"
	"github.com/mitchellh/mapstructure"
)

// CreateImageSource creates an image source based on configuration.
//
// Supported types:
//   - "filesystem": Uses pkg/imagesource/fs (local directory)
//   - "s3": Uses pkg/imagesource/s3 (Amazon S3 or compatible storage)
func CreateImageSource(ctx context.Context, cfg *ImagesConfig) (imagesource.Source, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemImageSource(ctx, cfg.Filesystem)
	case "s3":
		return createS3ImageSource(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown image source type: %q (supported: filesystem, s3)", cfg.Type)
	}
}

// createFilesystemImageSource creates a directory-backed image source.
func createFilesystemImageSource(ctx context.Context, options map[string]any) (imagesource.Source, error) {
	type FilesystemImageSourceConfig struct {
		Path string `mapstructure:"path"`
	}

	var srcCfg FilesystemImageSourceConfig
	if err := mapstructure.Decode(options, &srcCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem image source config: %w", err)
	}

	if srcCfg.Path == "" {
		return nil, fmt.Errorf("filesystem image source: path is required")
	}

	src, err := imagesourceFs.New(ctx, srcCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem image source: %w", err)
	}

	logger.Debug("Filesystem image source initialized: %s", src.Root())
	return src, nil
}

// createS3ImageSource creates an S3-backed image source.
func createS3ImageSource(ctx context.Context, options map[string]any) (imagesource.Source, error) {
	type S3ImageSourceConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var srcCfg S3ImageSourceConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &srcCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode S3 image source config: %w", err)
	}

	if srcCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 image source: bucket is required")
	}
	if srcCfg.Region == "" {
		return nil, fmt.Errorf("S3 image source: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(srcCfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if srcCfg.AccessKeyID != "" && srcCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			srcCfg.AccessKeyID,
			srcCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := srcCfg.MaxRetries
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
		if srcCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(srcCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Image Source
	// ========================================================================

	src, err := imagesourceS3.New(ctx, imagesourceS3.Config{
		Client:    client,
		Bucket:    srcCfg.Bucket,
		KeyPrefix: srcCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 image source: %w", err)
	}

	logger.Info("S3 image source initialized: bucket=%s, region=%s, prefix=%s",
		srcCfg.Bucket, srcCfg.Region, srcCfg.KeyPrefix)

	return src, nil
}

// CreateProvider builds the device channel provider from configuration.
func CreateProvider(cfg *Config) (*provider.TCPProvider, error) {
	conn := cfg.Connection

	var throttle *ratelimiter.RateLimiter
	if conn.UploadRateLimit > 0 {
		throttle = ratelimiter.New(conn.UploadRateLimit, uint(conn.UploadChunkSize))
	}

	return provider.NewTCPProvider(provider.TCPConfig{
		Address:           cfg.Device.Address,
		LockdownPort:      cfg.Device.LockdownPort,
		Label:             cfg.Device.Label,
		PairingRecordPath: cfg.Device.PairingRecord,
		DialTimeout:       conn.DialTimeout,
		Channel: channel.Options{
			ReadTimeout:  conn.ReadTimeout,
			WriteTimeout: conn.WriteTimeout,
			ChunkSize:    conn.UploadChunkSize,
			Throttle:     throttle,
		},
	})
}

// ConfigureLogging applies the logging section to the global logger.
func ConfigureLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("logging output: %w", err)
	}
	return nil
}
