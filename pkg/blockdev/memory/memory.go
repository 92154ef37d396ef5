// Package memory implements an in-memory block device.
//
// It is primarily a test double, but also serves as a scratch RAM disk:
// a freshly created device is all zeroes and forgets everything on
// Close.
package memory

import (
	"fmt"

	"github.com/uefifs/ntfsbridge/pkg/blockdev"
)

// MemoryBlockIO is a RAM-backed blockdev.BlockIO.
type MemoryBlockIO struct {
	media blockdev.Media
	data  []byte
}

// Options configures a memory block device.
type Options struct {
	// Size is the device size in bytes. Rounded up to a whole number of
	// blocks. Required.
	Size uint64

	// BlockSize is the logical block size. Defaults to 512.
	BlockSize uint32

	// MediaID seeds the media descriptor. Defaults to 1.
	MediaID uint32

	// ReadOnly marks the medium write protected.
	ReadOnly bool
}

// New creates a zero-filled memory block device.
func New(opts Options) (*MemoryBlockIO, error) {
	if opts.Size == 0 {
		return nil, fmt.Errorf("memory block device: size is required")
	}
	bs := opts.BlockSize
	if bs == 0 {
		bs = 512
	}
	id := opts.MediaID
	if id == 0 {
		id = 1
	}

	blocks := (opts.Size + uint64(bs) - 1) / uint64(bs)
	return &MemoryBlockIO{
		media: blockdev.Media{
			ID:        id,
			BlockSize: bs,
			LastBlock: blocks - 1,
			ReadOnly:  opts.ReadOnly,
		},
		data: make([]byte, blocks*uint64(bs)),
	}, nil
}

// Load creates a memory device holding a copy of an existing image.
func Load(image []byte, blockSize uint32) (*MemoryBlockIO, error) {
	dev, err := New(Options{Size: uint64(len(image)), BlockSize: blockSize})
	if err != nil {
		return nil, err
	}
	copy(dev.data, image)
	return dev, nil
}

func (d *MemoryBlockIO) Media() blockdev.Media { return d.media }

// SwapMedia replaces the device content and bumps the media ID, which
// makes in-flight I/O against the old ID fail with ErrMediaChanged.
// Used by tests that exercise the driver's media-change detection.
func (d *MemoryBlockIO) SwapMedia(image []byte) {
	d.media.ID++
	blocks := (uint64(len(image)) + uint64(d.media.BlockSize) - 1) /
		uint64(d.media.BlockSize)
	if blocks == 0 {
		blocks = 1
	}
	d.media.LastBlock = blocks - 1
	d.data = make([]byte, blocks*uint64(d.media.BlockSize))
	copy(d.data, image)
}

func (d *MemoryBlockIO) check(mediaID uint32, off int64, n int) error {
	if mediaID != d.media.ID {
		return blockdev.ErrMediaChanged
	}
	if off < 0 || uint64(off)+uint64(n) > uint64(len(d.data)) {
		return fmt.Errorf("memory block device: I/O beyond end of medium (off=%d len=%d size=%d)",
			off, n, len(d.data))
	}
	return nil
}

func (d *MemoryBlockIO) ReadAt(mediaID uint32, off int64, buf []byte) error {
	if err := d.check(mediaID, off, len(buf)); err != nil {
		return err
	}
	copy(buf, d.data[off:])
	return nil
}

func (d *MemoryBlockIO) WriteAt(mediaID uint32, off int64, buf []byte) error {
	if err := d.check(mediaID, off, len(buf)); err != nil {
		return err
	}
	if d.media.ReadOnly {
		return fmt.Errorf("memory block device: medium is write protected")
	}
	copy(d.data[off:], buf)
	return nil
}

func (d *MemoryBlockIO) Flush() error { return nil }

func (d *MemoryBlockIO) Close() error {
	d.data = nil
	return nil
}

// Bytes exposes the backing storage. Test helper; the returned slice
// aliases the device content.
func (d *MemoryBlockIO) Bytes() []byte { return d.data }
