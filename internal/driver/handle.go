package driver

import (
	"errors"
	"io"
	"time"

	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/blockdev"
	"github.com/uefifs/ntfsbridge/pkg/efi"
)

// Handle is one protocol file handle. Handles to the same path share a
// registry entry (inode and position); each handle carries its own
// access mode and closed flag.
type Handle struct {
	inst *Instance
	f    *file

	readable bool
	writable bool
	closed   bool
}

func (h *Handle) guard() error {
	if h.closed || h.inst.vol == nil {
		return efi.InvalidParameter
	}
	if h.f.inode == nil {
		return efi.NoMedia
	}
	return nil
}

// Open resolves name relative to h and returns a new handle on the
// result. name follows protocol conventions: backslash separated,
// absolute or relative, "." and "" reopening the directory itself.
// Only directory handles resolve names.
func (h *Handle) Open(name string, mode uint64, attr uint64) (*Handle, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Open(%q, %q, mode=%#x, attr=%#x)", h.f.path, name, mode, attr)

	nh, err := h.open(name, mode, attr)
	h.inst.observe("open", start, err)
	return nh, err
}

func (h *Handle) open(name string, mode uint64, attr uint64) (*Handle, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}

	switch mode {
	case efi.ModeRead, efi.ModeRead | efi.ModeWrite,
		efi.ModeRead | efi.ModeWrite | efi.ModeCreate:
	default:
		return nil, efi.InvalidParameter
	}
	if attr&^efi.ValidAttr != 0 {
		return nil, efi.InvalidParameter
	}
	if mode&efi.ModeWrite != 0 && h.inst.vol.ReadOnly() {
		return nil, efi.WriteProtected
	}

	// The root has no parent.
	if name == ".." && h.f.isRoot() {
		return nil, efi.NotFound
	}
	// Names resolve relative to the handle, so the handle must be a
	// directory.
	if !h.f.isDir {
		return nil, efi.NotFound
	}
	if mode&efi.ModeCreate != 0 && (name == "" || name == "." || name == "..") {
		return nil, efi.AccessDenied
	}

	path := normalizePath(h.f.path, name)
	if path == "/" && mode&efi.ModeCreate != 0 {
		// Creating the root.
		return nil, efi.AccessDenied
	}

	f, err := h.inst.openFile(path, mode, attr)
	if err != nil {
		return nil, err
	}

	f.refs++
	h.inst.totalRefs++
	h.inst.drv.met.HandleInc()
	return &Handle{
		inst:     h.inst,
		f:        f,
		readable: true,
		writable: mode&efi.ModeWrite != 0,
	}, nil
}

// Close releases the handle. Per the protocol it always succeeds;
// trouble flushing the inode is logged and swallowed.
func (h *Handle) Close() error {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Close(%q)", h.f.path)

	h.close()
	h.inst.observe("close", start, nil)
	return nil
}

func (h *Handle) close() {
	if h.closed {
		return
	}
	h.closed = true
	h.f.refs--
	h.inst.totalRefs--
	h.inst.drv.met.HandleDec()

	if h.f.refs == 0 {
		if err := h.inst.closeInode(h.f); err != nil {
			logger.Warn("close of %q: %v", h.f.path, err)
		}
		h.inst.dropFile(h.f)
	}
	h.inst.unmountIfIdle()
}

// Delete unlinks the file and closes the handle. The protocol allows
// only two answers: success, or a warning that the handle was closed
// but the file survived.
func (h *Handle) Delete() error {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Delete(%q)", h.f.path)

	err := h.delete()
	h.inst.observe("delete", start, err)
	return err
}

func (h *Handle) delete() error {
	if h.closed {
		return efi.WarnDeleteFailure
	}

	removable := h.inst.vol != nil && h.f.inode != nil &&
		!h.f.isRoot() && h.f.refs == 1 && h.writable && !h.inst.vol.ReadOnly()

	var removed bool
	var removeErr error
	if removable {
		dir, _ := splitPath(h.f.path)
		removed, removeErr = h.inst.removeInode(h.f)
		if removed {
			h.inst.invalidateDirCache(dir)
		}
		if removeErr != nil {
			logger.Debug("delete of %q: %v", h.f.path, removeErr)
		}
	}

	h.close()
	if !removed || removeErr != nil {
		// removeErr with removed set means an ancestor failed to reopen
		// after the removal; the file is gone but the caller must hear
		// that its other handles went bad.
		return efi.WarnDeleteFailure
	}
	return nil
}

// Read reads from the shared position. At end of file it returns 0 and
// no error, the protocol's end-of-file answer. Directories do not read
// bytes; enumerate them with ReadEntry.
func (h *Handle) Read(p []byte) (int, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Read(%q, %d@%d)", h.f.path, len(p), h.f.offset)

	n, err := h.read(p)
	h.inst.observe("read", start, err)
	return n, err
}

func (h *Handle) read(p []byte) (int, error) {
	if err := h.guard(); err != nil {
		return 0, err
	}
	if h.f.isDir {
		return 0, efi.Unsupported
	}

	n, err := h.f.inode.ReadAt(p, int64(h.f.offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, statusOf(err)
	}
	h.f.offset += uint64(n)
	return n, nil
}

// ReadEntry returns the next directory entry, or nil at the end of the
// sequence.
func (h *Handle) ReadEntry() (*efi.FileInfo, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("ReadEntry(%q, pos=%d)", h.f.path, h.f.offset)

	info, err := h.readEntry()
	h.inst.observe("read_entry", start, err)
	return info, err
}

func (h *Handle) readEntry() (*efi.FileInfo, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	if !h.f.isDir {
		return nil, efi.Unsupported
	}
	info, err := h.inst.readEntry(h.f)
	if err != nil {
		return nil, statusOf(err)
	}
	return info, nil
}

// Write writes at the shared position, growing the file as needed.
func (h *Handle) Write(p []byte) (int, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Write(%q, %d@%d)", h.f.path, len(p), h.f.offset)

	n, err := h.write(p)
	h.inst.observe("write", start, err)
	return n, err
}

func (h *Handle) write(p []byte) (int, error) {
	if err := h.guard(); err != nil {
		return 0, err
	}
	if h.f.isDir {
		return 0, efi.Unsupported
	}
	if !h.writable {
		return 0, efi.AccessDenied
	}
	if h.inst.vol.ReadOnly() {
		return 0, efi.WriteProtected
	}

	n, err := h.f.inode.WriteAt(p, int64(h.f.offset))
	if err != nil {
		return n, statusOf(err)
	}
	h.f.offset += uint64(n)
	return n, nil
}

// Position reports the shared position. Not meaningful on directories.
func (h *Handle) Position() (uint64, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	if err := h.guard(); err != nil {
		return 0, err
	}
	if h.f.isDir {
		return 0, efi.Unsupported
	}
	return h.f.offset, nil
}

// SetPosition seeks. PositionEnd seeks to end of file, positions past
// the end are not supported; a directory only accepts zero, which
// restarts enumeration.
func (h *Handle) SetPosition(pos uint64) error {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	if err := h.guard(); err != nil {
		return err
	}
	if h.f.isDir {
		if pos != 0 {
			return efi.Unsupported
		}
		h.f.offset = 0
		h.f.dir = nil
		return nil
	}
	if pos == efi.PositionEnd {
		pos = h.f.inode.Size()
	}
	if pos > h.f.inode.Size() {
		return efi.Unsupported
	}
	h.f.offset = pos
	return nil
}

// Info returns the file's metadata record.
func (h *Handle) Info() (*efi.FileInfo, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Info(%q)", h.f.path)

	if err := h.guard(); err != nil {
		h.inst.observe("get_info", start, err)
		return nil, err
	}
	info := fileInfoOf(h.f.name(), h.f.inode)
	h.inst.observe("get_info", start, nil)
	return info, nil
}

// FileSystemInfo returns the volume-wide metadata record.
func (h *Handle) FileSystemInfo() (*efi.FileSystemInfo, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	if h.closed || h.inst.vol == nil {
		return nil, efi.InvalidParameter
	}

	free, err := h.inst.vol.FreeSpace()
	if err != nil {
		return nil, statusOf(err)
	}
	media := h.inst.bio.Media()
	return &efi.FileSystemInfo{
		ReadOnly:    h.inst.vol.ReadOnly(),
		VolumeSize:  blockdev.Size(media),
		FreeSpace:   free,
		BlockSize:   media.BlockSize,
		VolumeLabel: h.inst.vol.Label(),
	}, nil
}

// SetFileSystemInfo applies the volume-wide metadata record. The label
// is the only writable field; everything else is reported, not set.
func (h *Handle) SetFileSystemInfo(info *efi.FileSystemInfo) error {
	return h.SetVolumeLabel(info.VolumeLabel)
}

// VolumeLabel returns the bare label record.
func (h *Handle) VolumeLabel() (string, error) {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	if h.closed || h.inst.vol == nil {
		return "", efi.InvalidParameter
	}
	return h.inst.vol.Label(), nil
}

// SetVolumeLabel renames the volume. Only valid through a writable
// handle on the root.
func (h *Handle) SetVolumeLabel(label string) error {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	if h.closed || h.inst.vol == nil {
		return efi.InvalidParameter
	}
	if !h.f.isRoot() {
		return efi.InvalidParameter
	}
	if h.inst.vol.ReadOnly() {
		return efi.WriteProtected
	}
	if err := h.inst.vol.SetLabel(label); err != nil {
		return statusOf(err)
	}
	return nil
}

// Flush pushes pending changes for the file to the medium.
func (h *Handle) Flush() error {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("Flush(%q)", h.f.path)

	err := h.flush()
	h.inst.observe("flush", start, err)
	return err
}

func (h *Handle) flush() error {
	if err := h.guard(); err != nil {
		return err
	}
	if !h.writable {
		return efi.AccessDenied
	}

	if h.f.inode.Dirty() {
		restore, err := h.inst.releaseAncestors(h.f.path, 1)
		if err != nil {
			return statusOf(err)
		}
		defer restore()
	}
	if err := h.f.inode.Sync(); err != nil {
		return statusOf(err)
	}
	return nil
}
