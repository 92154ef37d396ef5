package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uefifs/ntfsbridge/pkg/blockdev"
)

func TestNewGeometry(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err, "size is required")

	dev, err := New(Options{Size: 1000, BlockSize: 512})
	require.NoError(t, err)

	media := dev.Media()
	assert.Equal(t, uint32(512), media.BlockSize)
	assert.Equal(t, uint64(1), media.LastBlock, "1000 bytes round up to two blocks")
	assert.Equal(t, uint64(1024), blockdev.Size(media))
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev, err := New(Options{Size: 4096})
	require.NoError(t, err)
	id := dev.Media().ID

	payload := []byte("written across a block boundary")
	require.NoError(t, dev.WriteAt(id, 500, payload))

	buf := make([]byte, len(payload))
	require.NoError(t, dev.ReadAt(id, 500, buf))
	assert.Equal(t, payload, buf)

	// Untouched bytes stay zero.
	require.NoError(t, dev.ReadAt(id, 0, buf))
	assert.Equal(t, make([]byte, len(buf)), buf)

	assert.Error(t, dev.ReadAt(id, 4090, make([]byte, 16)), "read beyond end")
}

func TestWriteProtect(t *testing.T) {
	dev, err := New(Options{Size: 1024, ReadOnly: true})
	require.NoError(t, err)

	err = dev.WriteAt(dev.Media().ID, 0, []byte{1})
	assert.Error(t, err)
}

func TestSwapMediaInvalidatesOldID(t *testing.T) {
	dev, err := New(Options{Size: 1024})
	require.NoError(t, err)
	oldID := dev.Media().ID

	dev.SwapMedia(make([]byte, 2048))

	err = dev.ReadAt(oldID, 0, make([]byte, 1))
	assert.True(t, errors.Is(err, blockdev.ErrMediaChanged))

	media := dev.Media()
	assert.NotEqual(t, oldID, media.ID)
	assert.Equal(t, uint64(2048), blockdev.Size(media))
	assert.NoError(t, dev.ReadAt(media.ID, 0, make([]byte, 1)))
}

func TestLoadCopiesImage(t *testing.T) {
	image := []byte{1, 2, 3, 4}
	dev, err := Load(image, 512)
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, dev.ReadAt(dev.Media().ID, 0, buf))
	assert.Equal(t, image, buf)

	// The device owns a copy, not the caller's slice.
	image[0] = 9
	require.NoError(t, dev.ReadAt(dev.Media().ID, 0, buf))
	assert.Equal(t, byte(1), buf[0])
}
