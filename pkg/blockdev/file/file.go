// Package file implements a block device backed by a disk-image file.
//
// The image is accessed with positioned reads and writes, so concurrent
// devices can share one image read-only. Write support requires the
// image to be opened read-write and the medium not to be marked
// write protected.
package file

import (
	"fmt"
	"os"

	"github.com/uefifs/ntfsbridge/pkg/blockdev"
)

// FileBlockIO is a disk-image-backed blockdev.BlockIO.
type FileBlockIO struct {
	media blockdev.Media
	f     *os.File
}

// Options configures a file block device.
type Options struct {
	// Path is the disk image path. Required.
	Path string

	// BlockSize is the logical block size. Defaults to 512.
	BlockSize uint32

	// ReadOnly opens the image read-only.
	ReadOnly bool
}

// Open opens a disk image as a block device. The image size must be a
// whole number of blocks.
func Open(opts Options) (*FileBlockIO, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("file block device: path is required")
	}
	bs := opts.BlockSize
	if bs == 0 {
		bs = 512
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(opts.Path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("file block device: opening image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("file block device: stat image: %w", err)
	}
	size := info.Size()
	if size == 0 || size%int64(bs) != 0 {
		f.Close()
		return nil, fmt.Errorf("file block device: image size %d is not a multiple of block size %d",
			size, bs)
	}

	return &FileBlockIO{
		media: blockdev.Media{
			ID:        1,
			BlockSize: bs,
			LastBlock: uint64(size)/uint64(bs) - 1,
			ReadOnly:  opts.ReadOnly,
		},
		f: f,
	}, nil
}

func (d *FileBlockIO) Media() blockdev.Media { return d.media }

func (d *FileBlockIO) check(mediaID uint32, off int64, n int) error {
	if mediaID != d.media.ID {
		return blockdev.ErrMediaChanged
	}
	if off < 0 || uint64(off)+uint64(n) > blockdev.Size(d.media) {
		return fmt.Errorf("file block device: I/O beyond end of medium (off=%d len=%d)", off, n)
	}
	return nil
}

func (d *FileBlockIO) ReadAt(mediaID uint32, off int64, buf []byte) error {
	if err := d.check(mediaID, off, len(buf)); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("file block device: read at %#x: %w", off, err)
	}
	return nil
}

func (d *FileBlockIO) WriteAt(mediaID uint32, off int64, buf []byte) error {
	if err := d.check(mediaID, off, len(buf)); err != nil {
		return err
	}
	if d.media.ReadOnly {
		return fmt.Errorf("file block device: medium is write protected")
	}
	if _, err := d.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("file block device: write at %#x: %w", off, err)
	}
	return nil
}

func (d *FileBlockIO) Flush() error {
	if d.media.ReadOnly {
		return nil
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("file block device: sync: %w", err)
	}
	return nil
}

func (d *FileBlockIO) Close() error {
	return d.f.Close()
}
