// Package driver adapts the POSIX-shaped filesystem library in
// pkg/ntfslib onto a handle-based firmware file protocol.
//
// The two models disagree in ways that shape everything here. The
// protocol hands out as many handles as callers want and names files by
// path; the library allows exactly one open inode per file record and
// performs hidden opens of its own whenever it resyncs a directory entry
// (on a dirty close, and on parent and grandparent during a delete). The
// driver reconciles them with an open-file registry that shares one
// inode among all handles to the same path, and an ancestor
// release/reopen dance that vacates the records the library is about to
// touch.
//
// A single mutex per Driver serializes the whole protocol surface, the
// same discipline the firmware environment imposes on its drivers.
package driver

import (
	"encoding/binary"
	"sync"

	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/blockdev"
	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/metrics"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

const (
	oemMagicOff = 3
	oemMagic    = "NTFS    "
	serialOff   = 0x48
)

// Options configures a Driver.
type Options struct {
	// ReadOnly mounts every volume without write support.
	ReadOnly bool

	// IgnoreHibernation mounts volumes that carry a hibernation image
	// instead of refusing them.
	IgnoreHibernation bool

	// Metrics receives instrumentation. Nil means none.
	Metrics metrics.Recorder
}

// Driver binds filesystem volumes onto block devices.
type Driver struct {
	mu  sync.Mutex
	lib ntfslib.Mounter
	met metrics.Recorder

	baseFlags ntfslib.MountFlag
}

// New builds a Driver mounting through lib.
func New(lib ntfslib.Mounter, opts Options) *Driver {
	met := opts.Metrics
	if met == nil {
		met = metrics.NewNop()
	}

	flags := ntfslib.MountMayReadOnly
	if opts.ReadOnly {
		flags |= ntfslib.MountReadOnly
	}
	if opts.IgnoreHibernation {
		flags |= ntfslib.MountIgnoreHibernation
	}

	return &Driver{lib: lib, met: met, baseFlags: flags}
}

// Attach probes bio for a recognizable volume and, when the probe
// passes, binds an Instance to it. The volume is not mounted yet; the
// first OpenVolume does that. The probe reads one sector and checks the
// OEM magic; the firmware offers every block device to every filesystem
// driver.
func (d *Driver) Attach(bio blockdev.BlockIO) (*Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	media := bio.Media()
	sector := make([]byte, media.BlockSize)
	if err := bio.ReadAt(media.ID, 0, sector); err != nil {
		logger.Debug("attach: probe read failed: %v", err)
		return nil, efi.DeviceError
	}
	if len(sector) < serialOff+8 ||
		string(sector[oemMagicOff:oemMagicOff+len(oemMagic)]) != oemMagic {
		return nil, efi.Unsupported
	}

	logger.Info("attach: volume recognized on media %d (serial %#x)",
		media.ID, binary.LittleEndian.Uint64(sector[serialOff:]))

	return &Instance{drv: d, bio: bio, flags: d.baseFlags}, nil
}

// Detach unbinds an Instance. A mounted volume is force-unmounted; any
// handles still open are abandoned, which is what driver unload means
// for them.
func (d *Driver) Detach(inst *Instance) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inst.vol == nil {
		return nil
	}
	if inst.totalRefs > 0 {
		logger.Warn("detach: forcing unmount with %d handles open", inst.totalRefs)
	}
	err := inst.forceUnmount()
	if err != nil {
		logger.Warn("detach: unmount failed: %v", err)
		return efi.DeviceError
	}
	return nil
}
