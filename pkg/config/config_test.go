package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// No file at the explicit path would be an error; exercise the
	// defaults through an empty file instead.
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "file", cfg.Device.Type)
	assert.False(t, cfg.Driver.ReadOnly)
	assert.False(t, cfg.Driver.IgnoreHibernation)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
driver:
  read_only: true
  ignore_hibernation: true
device:
  type: memory
  memory:
    size: 1048576
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level must be normalized")
	assert.True(t, cfg.Driver.ReadOnly)
	assert.True(t, cfg.Driver.IgnoreHibernation)
	assert.Equal(t, "memory", cfg.Device.Type)
	assert.Equal(t, ":9134", cfg.Metrics.Listen, "enabling metrics defaults the listen address")
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: verbose\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "device:\n  type: floppy\n"))
	assert.Error(t, err)
}

func TestValidateS3RequiresReadOnly(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Device.Type = "s3"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read_only")

	cfg.Driver.ReadOnly = true
	assert.NoError(t, Validate(cfg))
}

func TestCreateBlockDeviceMemory(t *testing.T) {
	dev, err := CreateBlockDevice(context.Background(), &DeviceConfig{
		Type:   "memory",
		Memory: map[string]any{"size": 1 << 20, "block_size": 4096},
	})
	require.NoError(t, err)

	media := dev.Media()
	assert.Equal(t, uint32(4096), media.BlockSize)
	assert.Equal(t, uint64(255), media.LastBlock)
}

func TestCreateBlockDeviceErrors(t *testing.T) {
	ctx := context.Background()

	_, err := CreateBlockDevice(ctx, &DeviceConfig{Type: "tape"})
	assert.Error(t, err)

	_, err = CreateBlockDevice(ctx, &DeviceConfig{Type: "memory", Memory: map[string]any{}})
	assert.ErrorContains(t, err, "size is required")

	_, err = CreateBlockDevice(ctx, &DeviceConfig{Type: "file", File: map[string]any{}})
	assert.ErrorContains(t, err, "path is required")

	_, err = CreateBlockDevice(ctx, &DeviceConfig{Type: "badger", Badger: map[string]any{}})
	assert.ErrorContains(t, err, "path is required")

	_, err = CreateBlockDevice(ctx, &DeviceConfig{Type: "s3", S3: map[string]any{"bucket": "b"}})
	assert.ErrorContains(t, err, "key")
}

func TestCreateBlockDeviceFile(t *testing.T) {
	image := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(image, make([]byte, 8192), 0o644))

	dev, err := CreateBlockDevice(context.Background(), &DeviceConfig{
		Type: "file",
		File: map[string]any{"path": image, "read_only": true},
	})
	require.NoError(t, err)
	defer dev.Close()

	media := dev.Media()
	assert.True(t, media.ReadOnly)
	assert.Equal(t, uint64(15), media.LastBlock)
}
