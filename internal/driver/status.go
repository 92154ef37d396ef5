package driver

import (
	"errors"
	"syscall"

	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// statusOf translates a library errno into the protocol status space.
//
// Two deliberate narrowings: EEXIST reports AccessDenied (create of an
// existing name is a permission-shaped refusal at this surface, not a
// missing mapping), and ENOTEMPTY reports AccessDenied as well, since
// refusing to delete a non-empty directory is the closest protocol
// meaning available.
func statusOf(err error) efi.Status {
	if err == nil {
		return efi.Success
	}

	var s efi.Status
	if errors.As(err, &s) {
		return s
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return efi.DeviceError
	}

	switch errno {
	case syscall.EACCES, syscall.EEXIST, syscall.ENOTEMPTY:
		return efi.AccessDenied
	case syscall.ENOENT, syscall.ENXIO:
		return efi.NotFound
	case syscall.EROFS:
		return efi.WriteProtected
	case syscall.ENOSPC:
		return efi.VolumeFull
	case syscall.EBUSY:
		return efi.NoResponse
	case syscall.ENOMEDIUM:
		return efi.NoMedia
	case syscall.ELOOP, syscall.ENOTDIR, syscall.EXDEV:
		return efi.VolumeCorrupted
	case syscall.EPERM:
		return efi.SecurityViolation
	case syscall.ESPIPE:
		return efi.EndOfFile
	case syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE:
		return efi.OutOfResources
	case syscall.EINVAL, syscall.EBADF, syscall.ENAMETOOLONG:
		return efi.InvalidParameter
	case syscall.EISDIR, syscall.EIO:
		return efi.ProtocolError
	case syscall.ENOTSUP:
		return efi.Unsupported
	case syscall.ESTALE:
		// A reference to a reused record means the tree changed under
		// the caller.
		return efi.MediaChanged
	default:
		return efi.NoMapping
	}
}

// errnoOf is the reverse translation, picking one representative errno
// per status for the paths where the driver feeds a protocol failure
// back into the library's error space.
func errnoOf(s efi.Status) error {
	switch s {
	case efi.Success:
		return nil
	case efi.NotFound:
		return syscall.ENOENT
	case efi.AccessDenied:
		return syscall.EACCES
	case efi.WriteProtected:
		return syscall.EROFS
	case efi.VolumeFull:
		return syscall.ENOSPC
	case efi.NoResponse:
		return syscall.EBUSY
	case efi.NoMedia:
		return syscall.ENOMEDIUM
	case efi.MediaChanged:
		return syscall.ESTALE
	case efi.VolumeCorrupted:
		return syscall.EXDEV
	case efi.SecurityViolation:
		return syscall.EPERM
	case efi.EndOfFile:
		return syscall.ESPIPE
	case efi.OutOfResources:
		return syscall.ENOMEM
	case efi.InvalidParameter:
		return syscall.EINVAL
	case efi.ProtocolError:
		return syscall.EIO
	case efi.Unsupported:
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}

// mountStatus classifies a mount failure. The three recognition
// sentinels get distinct protocol answers; everything else falls back
// to the errno table.
func mountStatus(err error) efi.Status {
	switch {
	case err == nil:
		return efi.Success
	case errors.Is(err, ntfslib.ErrNotNTFS):
		return efi.Unsupported
	case errors.Is(err, ntfslib.ErrVolumeCorrupt):
		return efi.VolumeCorrupted
	case errors.Is(err, ntfslib.ErrVolumeLocked):
		return efi.AccessDenied
	default:
		return statusOf(err)
	}
}
