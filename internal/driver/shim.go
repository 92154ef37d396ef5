package driver

import (
	"errors"
	"io"
	"syscall"

	"github.com/uefifs/ntfsbridge/pkg/blockdev"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// deviceShim adapts a block I/O capability to the byte-addressed device
// operations the filesystem library drives. It owns the open/read-only/
// dirty state the library expects a device to keep, and pins the media
// ID it saw at open so a swapped medium surfaces as an error instead of
// silent I/O against the wrong disk.
type deviceShim struct {
	bio blockdev.BlockIO

	mediaID  uint32
	size     int64
	opened   bool
	readOnly bool
	dirty    bool
}

func newDeviceShim(bio blockdev.BlockIO) *deviceShim {
	return &deviceShim{bio: bio}
}

// NewDevice adapts a block I/O capability to the device operations the
// filesystem library mounts through. Exposed for tooling that formats
// or inspects media without going through the protocol surface.
func NewDevice(bio blockdev.BlockIO) ntfslib.Device {
	return newDeviceShim(bio)
}

func (d *deviceShim) Open(readOnly bool) error {
	if d.opened {
		return syscall.EBUSY
	}
	media := d.bio.Media()
	if media.ReadOnly && !readOnly {
		return syscall.EROFS
	}
	d.mediaID = media.ID
	d.size = int64(blockdev.Size(media))
	d.opened = true
	d.readOnly = readOnly
	d.dirty = false
	return nil
}

func (d *deviceShim) Close() error {
	if !d.opened {
		return syscall.EBADF
	}
	if d.dirty {
		if err := d.Sync(); err != nil {
			return err
		}
	}
	d.opened = false
	return nil
}

func (d *deviceShim) ReadAt(p []byte, off int64) (int, error) {
	if !d.opened {
		return 0, syscall.EBADF
	}
	if off < 0 {
		return 0, syscall.EINVAL
	}
	if off >= d.size {
		return 0, io.EOF
	}

	n := len(p)
	short := false
	if off+int64(n) > d.size {
		n = int(d.size - off)
		short = true
	}
	if err := d.bio.ReadAt(d.mediaID, off, p[:n]); err != nil {
		return 0, translateIOErr(err)
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

func (d *deviceShim) WriteAt(p []byte, off int64) (int, error) {
	if !d.opened {
		return 0, syscall.EBADF
	}
	if d.readOnly {
		return 0, syscall.EROFS
	}
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, syscall.EINVAL
	}
	if err := d.bio.WriteAt(d.mediaID, off, p); err != nil {
		return 0, translateIOErr(err)
	}
	d.dirty = true
	return len(p), nil
}

func (d *deviceShim) Sync() error {
	if !d.opened {
		return syscall.EBADF
	}
	if !d.dirty {
		return nil
	}
	if err := d.bio.Flush(); err != nil {
		return translateIOErr(err)
	}
	d.dirty = false
	return nil
}

func (d *deviceShim) Size() (int64, error) {
	if !d.opened {
		return 0, syscall.EBADF
	}
	return d.size, nil
}

func (d *deviceShim) ReadOnly() bool { return d.readOnly }

// translateIOErr folds block-layer failures into the errno space the
// library reports.
func translateIOErr(err error) error {
	if errors.Is(err, blockdev.ErrMediaChanged) {
		// The medium under the pinned ID is gone.
		return syscall.ENXIO
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return err
	}
	return syscall.EIO
}
