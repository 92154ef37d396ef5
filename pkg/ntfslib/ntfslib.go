// Package ntfslib defines the contract of the wrapped NTFS library: a
// POSIX-shaped filesystem implementation built around file references,
// in-memory inodes and a strict single-open-per-inode discipline.
//
// The driver in internal/driver is written against these interfaces
// only. The memvol subpackage provides a simulated volume implementing
// the same hostile discipline as the real library; a cgo binding to the
// real parser would slot in behind the same contract.
//
// Error space: implementations report failures as POSIX errnos
// (syscall.Errno), optionally wrapped. The driver's error translator
// maps them onto the firmware status space and back. Three mount-time
// conditions that the errno space cannot express carry dedicated
// sentinels (ErrNotNTFS, ErrVolumeCorrupt, ErrVolumeLocked).
package ntfslib

import (
	"errors"
	"time"
)

// RecordMask extracts the 48-bit record number from a file reference.
const RecordMask uint64 = 0xFFFFFFFFFFFF

// Mref is a 64-bit NTFS file reference: the low 48 bits are the MFT
// record number, the high 16 bits the sequence (generation) number that
// detects stale reuse of a freed record.
type Mref uint64

// MakeRef builds a file reference from a record and sequence number.
func MakeRef(record uint64, seq uint16) Mref {
	return Mref(record&RecordMask | uint64(seq)<<48)
}

// Record returns the 48-bit record number.
func (m Mref) Record() uint64 { return uint64(m) & RecordMask }

// Sequence returns the 16-bit sequence number, zero when the reference
// does not carry one.
func (m Mref) Sequence() uint16 { return uint16(uint64(m) >> 48) }

// Matches reports whether two references name the same record. When
// both carry a nonzero sequence number the sequences must agree as
// well, which rejects a stale reference to a reused record.
func (m Mref) Matches(other Mref) bool {
	if m.Record() != other.Record() {
		return false
	}
	if m.Sequence() != 0 && other.Sequence() != 0 {
		return m.Sequence() == other.Sequence()
	}
	return true
}

// Well-known MFT record numbers.
const (
	RecordMFT       uint64 = 0
	RecordRoot      uint64 = 5
	RecordFirstUser uint64 = 16
)

// MountFlag controls Mount behavior, mirroring the library's mount
// flags.
type MountFlag uint32

const (
	// MountReadOnly mounts without write support.
	MountReadOnly MountFlag = 1 << iota
	// MountExclusive refuses to share the device with another mount.
	MountExclusive
	// MountIgnoreHibernation mounts even when the volume carries a
	// hibernation image (which would otherwise lock it).
	MountIgnoreHibernation
	// MountMayReadOnly permits falling back to a read-only mount when
	// the medium is write protected.
	MountMayReadOnly
)

// Mount-failure sentinels, classified the way the library's
// volume-error helper does.
var (
	// ErrNotNTFS means no NTFS volume was recognized on the device.
	ErrNotNTFS = errors.New("ntfslib: no NTFS volume found")
	// ErrVolumeCorrupt means an NTFS volume was recognized but its
	// structures are inconsistent.
	ErrVolumeCorrupt = errors.New("ntfslib: volume is corrupt")
	// ErrVolumeLocked means the volume is hibernated or otherwise
	// locked against mounting.
	ErrVolumeLocked = errors.New("ntfslib: volume is locked")
)

// AttrFlags are the on-disk file attribute flags the driver consumes,
// with the library's numeric values.
type AttrFlags uint32

const (
	AttrReadOnly AttrFlags = 0x0001
	AttrHidden   AttrFlags = 0x0002
	AttrSystem   AttrFlags = 0x0004
	AttrArchive  AttrFlags = 0x0020
)

// Times carries the three timestamps the protocol exposes.
type Times struct {
	Created  time.Time
	Accessed time.Time
	Modified time.Time
}

// DirEntry is one directory-enumeration callback record.
type DirEntry struct {
	// Name is the entry name ("." and ".." included, as the library
	// reports them).
	Name string
	// Ref is the full file reference of the entry, sequence included.
	Ref Mref
	// Pos is the enumeration position of the entry.
	Pos int64
	// IsDir reports the entry type flag.
	IsDir bool
}

// DirVisitor receives directory entries during Readdir. Returning a
// non-nil error aborts the sweep and is propagated to the caller.
type DirVisitor func(e DirEntry) error

// Mounter produces Volumes from Devices. It is the seam between the
// driver and a concrete library implementation.
type Mounter interface {
	Mount(dev Device, flags MountFlag) (Volume, error)
}

// Volume is one mounted filesystem instance.
//
// The single-open discipline: at most one Inode may be open per record
// at any time, including the opens the library performs internally when
// it resyncs directory entries. Violations fail with EBUSY. It is
// entirely the caller's job (the driver's registry) to never trigger
// them.
type Volume interface {
	// Unmount flushes and releases the volume and closes its device.
	// Open inodes are abandoned; calling it with inodes open is a
	// caller bug.
	Unmount() error

	// Serial returns the volume serial number from the boot sector.
	Serial() uint64

	// Label returns the volume label.
	Label() string

	// SetLabel renames the volume.
	SetLabel(label string) error

	// ReadOnly reports whether the volume was mounted without write
	// support.
	ReadOnly() bool

	// FreeSpace computes the free byte count. The library populates
	// free-space counters on demand, not at mount.
	FreeSpace() (uint64, error)

	// OpenRoot opens the root directory inode.
	OpenRoot() (Inode, error)

	// OpenByRecord opens an inode by record number.
	OpenByRecord(record uint64) (Inode, error)

	// OpenByRef opens an inode by full reference, verifying the
	// sequence number when present. ESTALE when the record was reused.
	OpenByRef(ref Mref) (Inode, error)

	// Lookup opens the named child of an open directory. ENOENT when
	// the name does not exist.
	Lookup(dir Inode, name string) (Inode, error)

	// Create makes and opens a new child of an open directory.
	// EEXIST when the name is taken.
	Create(dir Inode, name string, isDir bool) (Inode, error)

	// Remove unlinks and closes target. The target's parent entry
	// resync may internally reopen the parent and grandparent by
	// record number; EBUSY when either is open. ENOTEMPTY for a
	// non-empty directory. target is consumed (closed) even on most
	// failures; only an EBUSY ancestor collision leaves it open.
	Remove(target Inode) error

	// Link adds a new name for target under an open directory.
	Link(target Inode, newDir Inode, name string) error

	// Unlink removes one name of target from an open directory without
	// closing target.
	Unlink(target Inode, oldDir Inode, name string) error
}

// Inode is the in-memory representation of one on-disk file record.
type Inode interface {
	// Record returns the record number.
	Record() uint64

	// Ref returns the full file reference, sequence included.
	Ref() Mref

	// IsDir reports whether the record is a directory.
	IsDir() bool

	// Size returns the unnamed data attribute size. Zero for
	// directories.
	Size() uint64

	// AllocatedSize returns the on-disk allocation of the data
	// attribute.
	AllocatedSize() uint64

	// Times returns the three protocol timestamps.
	Times() Times

	// SetTimes updates timestamps. Zero times are left unchanged.
	SetTimes(t Times) error

	// Flags returns the attribute flags.
	Flags() AttrFlags

	// SetFlags replaces the attribute flags.
	SetFlags(f AttrFlags) error

	// ReadAt reads the data attribute at off. Returns io.EOF at or
	// beyond end of data, possibly with a short count.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes the data attribute at off, growing it as needed.
	// EISDIR on directories, EROFS on read-only volumes.
	WriteAt(p []byte, off int64) (int, error)

	// Resize grows or truncates the data attribute. This is the
	// explicit attribute-resize primitive; it is the only way to
	// shrink.
	Resize(size uint64) error

	// Readdir sweeps directory entries starting at *pos, invoking fn
	// for each and advancing *pos. ENOTDIR on files.
	Readdir(pos *int64, fn DirVisitor) error

	// Dirty reports pending metadata or attribute-list changes that
	// Close would need to sync into the parent directory.
	Dirty() bool

	// Sync flushes the inode (and for the simulated volume, the whole
	// image) to the device. Subject to the same ancestor discipline as
	// Close when the entry itself is dirty.
	Sync() error

	// Close releases the inode. A dirty inode syncs its directory
	// entry first, which internally reopens the parent by record
	// number: EBUSY when the parent is open, and the inode stays open
	// so the caller can retry after closing the parent.
	Close() error
}
