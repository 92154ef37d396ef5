package badger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uefifs/ntfsbridge/pkg/blockdev"
)

func newTestDevice(t *testing.T, size uint64) (*BadgerBlockIO, string) {
	t.Helper()
	path := t.TempDir()
	dev, err := Open(Options{Path: path, Size: size, BlockSize: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, path
}

func TestOpenCreatesGeometry(t *testing.T) {
	dev, _ := newTestDevice(t, 1<<20)

	media := dev.Media()
	assert.Equal(t, uint32(4096), media.BlockSize)
	assert.Equal(t, uint64(255), media.LastBlock)
	assert.False(t, media.ReadOnly)
}

func TestSparseReadsAsZeroes(t *testing.T) {
	dev, _ := newTestDevice(t, 1<<20)

	buf := make([]byte, 8192)
	for i := range buf {
		buf[i] = 0xFF
	}
	require.NoError(t, dev.ReadAt(dev.Media().ID, 4096, buf))
	assert.Equal(t, make([]byte, 8192), buf)
}

func TestPartialBlockWrite(t *testing.T) {
	dev, _ := newTestDevice(t, 1<<20)
	id := dev.Media().ID

	// Straddle a block boundary so both halves are partial writes.
	payload := []byte("straddles block zero and block one")
	off := int64(4096 - 10)
	require.NoError(t, dev.WriteAt(id, off, payload))

	buf := make([]byte, len(payload))
	require.NoError(t, dev.ReadAt(id, off, buf))
	assert.Equal(t, payload, buf)

	// The rest of both blocks is untouched.
	head := make([]byte, 16)
	require.NoError(t, dev.ReadAt(id, 0, head))
	assert.Equal(t, make([]byte, 16), head)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dev, path := newTestDevice(t, 1<<20)
	id := dev.Media().ID

	require.NoError(t, dev.WriteAt(id, 123, []byte("durable")))
	require.NoError(t, dev.Flush())
	require.NoError(t, dev.Close())

	// Size is pinned at creation; the reopen value is ignored.
	reopened, err := Open(Options{Path: path, Size: 42})
	require.NoError(t, err)
	defer reopened.Close()

	media := reopened.Media()
	assert.Equal(t, uint64(255), media.LastBlock)

	buf := make([]byte, 7)
	require.NoError(t, reopened.ReadAt(media.ID, 123, buf))
	assert.Equal(t, []byte("durable"), buf)
}

func TestStaleMediaID(t *testing.T) {
	dev, _ := newTestDevice(t, 1<<20)

	err := dev.ReadAt(dev.Media().ID+1, 0, make([]byte, 1))
	assert.True(t, errors.Is(err, blockdev.ErrMediaChanged))
}

func TestCreateRequiresSizeAndWriteAccess(t *testing.T) {
	_, err := Open(Options{Path: t.TempDir()})
	assert.ErrorContains(t, err, "size is required")

	_, err = Open(Options{Path: t.TempDir(), Size: 1 << 20, ReadOnly: true})
	assert.ErrorContains(t, err, "read-only")
}
