package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/blockdev"
	blockdevBadger "github.com/uefifs/ntfsbridge/pkg/blockdev/badger"
	blockdevFile "github.com/uefifs/ntfsbridge/pkg/blockdev/file"
	blockdevMemory "github.com/uefifs/ntfsbridge/pkg/blockdev/memory"
	blockdevS3 "github.com/uefifs/ntfsbridge/pkg/blockdev/s3"
)

// CreateBlockDevice builds the configured block-device backend. The
// Type field selects the implementation; the matching section is
// decoded into that backend's options.
func CreateBlockDevice(ctx context.Context, cfg *DeviceConfig) (blockdev.BlockIO, error) {
	switch cfg.Type {
	case "file":
		return createFileDevice(cfg.File)
	case "memory":
		return createMemoryDevice(cfg.Memory)
	case "badger":
		return createBadgerDevice(cfg.Badger)
	case "s3":
		return createS3Device(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown block device type: %q", cfg.Type)
	}
}

func createFileDevice(options map[string]any) (blockdev.BlockIO, error) {
	type fileDeviceConfig struct {
		Path      string `mapstructure:"path"`
		BlockSize uint32 `mapstructure:"block_size"`
		ReadOnly  bool   `mapstructure:"read_only"`
	}

	var devCfg fileDeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode file device config: %w", err)
	}
	if devCfg.Path == "" {
		return nil, fmt.Errorf("file device: path is required")
	}

	dev, err := blockdevFile.Open(blockdevFile.Options{
		Path:      devCfg.Path,
		BlockSize: devCfg.BlockSize,
		ReadOnly:  devCfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open disk image: %w", err)
	}

	logger.Info("file device initialized: path=%s, read_only=%t", devCfg.Path, devCfg.ReadOnly)
	return dev, nil
}

func createMemoryDevice(options map[string]any) (blockdev.BlockIO, error) {
	type memoryDeviceConfig struct {
		Size      uint64 `mapstructure:"size"`
		BlockSize uint32 `mapstructure:"block_size"`
	}

	var devCfg memoryDeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory device config: %w", err)
	}
	if devCfg.Size == 0 {
		return nil, fmt.Errorf("memory device: size is required")
	}

	dev, err := blockdevMemory.New(blockdevMemory.Options{
		Size:      devCfg.Size,
		BlockSize: devCfg.BlockSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory device: %w", err)
	}

	logger.Info("memory device initialized: size=%d", devCfg.Size)
	return dev, nil
}

func createBadgerDevice(options map[string]any) (blockdev.BlockIO, error) {
	type badgerDeviceConfig struct {
		Path      string `mapstructure:"path"`
		Size      uint64 `mapstructure:"size"`
		BlockSize uint32 `mapstructure:"block_size"`
		ReadOnly  bool   `mapstructure:"read_only"`
	}

	var devCfg badgerDeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger device config: %w", err)
	}
	if devCfg.Path == "" {
		return nil, fmt.Errorf("badger device: path is required")
	}

	dev, err := blockdevBadger.Open(blockdevBadger.Options{
		Path:      devCfg.Path,
		Size:      devCfg.Size,
		BlockSize: devCfg.BlockSize,
		ReadOnly:  devCfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger device: %w", err)
	}

	logger.Info("badger device initialized: path=%s", devCfg.Path)
	return dev, nil
}

func createS3Device(ctx context.Context, options map[string]any) (blockdev.BlockIO, error) {
	type s3DeviceConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		Key             string `mapstructure:"key"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		BlockSize       uint32 `mapstructure:"block_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var devCfg s3DeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 device config: %w", err)
	}
	if devCfg.Bucket == "" || devCfg.Key == "" {
		return nil, fmt.Errorf("S3 device: bucket and key are required")
	}
	if devCfg.Region == "" {
		return nil, fmt.Errorf("S3 device: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(devCfg.Region))

	// Custom endpoint support for MinIO, Localstack and friends.
	if devCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               devCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if devCfg.AccessKeyID != "" && devCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			devCfg.AccessKeyID,
			devCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := devCfg.MaxRetries
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

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if devCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	dev, err := blockdevS3.Open(ctx, blockdevS3.Options{
		Client:    client,
		Bucket:    devCfg.Bucket,
		Key:       devCfg.Key,
		BlockSize: devCfg.BlockSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open S3 device: %w", err)
	}

	logger.Info("S3 device initialized: bucket=%s, key=%s, region=%s",
		devCfg.Bucket, devCfg.Key, devCfg.Region)
	return dev, nil
}
