package driver

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want efi.Status
	}{
		{nil, efi.Success},
		{syscall.EACCES, efi.AccessDenied},
		{syscall.EEXIST, efi.AccessDenied},
		{syscall.ENOTEMPTY, efi.AccessDenied},
		{syscall.ENOENT, efi.NotFound},
		{syscall.ENXIO, efi.NotFound},
		{syscall.EROFS, efi.WriteProtected},
		{syscall.ENOSPC, efi.VolumeFull},
		{syscall.EBUSY, efi.NoResponse},
		{syscall.ENOMEDIUM, efi.NoMedia},
		{syscall.ELOOP, efi.VolumeCorrupted},
		{syscall.ENOTDIR, efi.VolumeCorrupted},
		{syscall.EPERM, efi.SecurityViolation},
		{syscall.ESPIPE, efi.EndOfFile},
		{syscall.ENOMEM, efi.OutOfResources},
		{syscall.EINVAL, efi.InvalidParameter},
		{syscall.EBADF, efi.InvalidParameter},
		{syscall.EISDIR, efi.ProtocolError},
		{syscall.EIO, efi.ProtocolError},
		{syscall.ENOTSUP, efi.Unsupported},
		{syscall.ESTALE, efi.MediaChanged},
		{syscall.EDOM, efi.NoMapping},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, statusOf(tc.err), "statusOf(%v)", tc.err)
	}

	// Wrapped errnos translate the same.
	wrapped := fmt.Errorf("lookup failed: %w", syscall.ENOENT)
	assert.Equal(t, efi.NotFound, statusOf(wrapped))

	// A status passing through stays itself.
	assert.Equal(t, efi.MediaChanged, statusOf(efi.MediaChanged))

	// Unknown error shapes are a device problem.
	assert.Equal(t, efi.DeviceError, statusOf(fmt.Errorf("boom")))
}

func TestErrnoOfRoundTrip(t *testing.T) {
	// Every status the driver can emit must come back as an errno that
	// translates to the same status again.
	for _, s := range []efi.Status{
		efi.NotFound, efi.AccessDenied, efi.WriteProtected, efi.VolumeFull,
		efi.NoResponse, efi.NoMedia, efi.MediaChanged, efi.VolumeCorrupted,
		efi.SecurityViolation, efi.EndOfFile, efi.OutOfResources,
		efi.InvalidParameter, efi.ProtocolError, efi.Unsupported,
	} {
		assert.Equalf(t, s, statusOf(errnoOf(s)), "round trip of %v", s)
	}
	assert.NoError(t, errnoOf(efi.Success))
}

func TestMountStatus(t *testing.T) {
	assert.Equal(t, efi.Unsupported, mountStatus(ntfslib.ErrNotNTFS))
	assert.Equal(t, efi.VolumeCorrupted, mountStatus(ntfslib.ErrVolumeCorrupt))
	assert.Equal(t, efi.AccessDenied, mountStatus(ntfslib.ErrVolumeLocked))
	assert.Equal(t, efi.WriteProtected, mountStatus(syscall.EROFS))
	assert.Equal(t, efi.Success, mountStatus(nil))
}
