package driver

import (
	"errors"
	"strings"
	"syscall"
	"time"

	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/blockdev"
	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// Instance is one attached block device and, once OpenVolume has run,
// its mounted volume. Mounting is lazy and refcounted: the volume comes
// up on the first OpenVolume and goes away when the last handle closes,
// so an idle volume holds no library state at all.
type Instance struct {
	drv   *Driver
	bio   blockdev.BlockIO
	flags ntfslib.MountFlag

	vol ntfslib.Volume
	dev *deviceShim

	// serial from the last successful mount, used to detect a medium
	// swapped while the volume was down.
	serial    uint64
	hadSerial bool

	// mountCount counts successful mounts over the instance lifetime.
	mountCount uint64

	// totalRefs counts open handles across all files. The volume
	// unmounts when it returns to zero.
	totalRefs int

	// files is the open-file registry: one entry per open path, shared
	// by every handle to that path. Boot workloads hold a handful of
	// files open at a time.
	files []*file
}

// OpenVolume mounts the volume if needed and returns a handle on the
// root directory.
func (inst *Instance) OpenVolume() (*Handle, error) {
	inst.drv.mu.Lock()
	defer inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("OpenVolume()")

	h, err := inst.openVolume()
	inst.observe("open_volume", start, err)
	return h, err
}

func (inst *Instance) openVolume() (*Handle, error) {
	if inst.vol == nil {
		if err := inst.mount(); err != nil {
			return nil, err
		}
	}

	f := inst.lookupPath("/")
	if f == nil {
		root, err := inst.vol.OpenRoot()
		if err != nil {
			return nil, statusOf(err)
		}
		f = &file{inst: inst, path: "/", inode: root, isDir: true}
		inst.files = append(inst.files, f)
	}

	f.refs++
	inst.totalRefs++
	inst.drv.met.HandleInc()
	return &Handle{inst: inst, f: f, readable: true}, nil
}

func (inst *Instance) mount() error {
	dev := newDeviceShim(inst.bio)
	vol, err := inst.drv.lib.Mount(dev, inst.flags)
	if err != nil {
		if inst.hadSerial {
			// The medium mounted before and does not anymore: to the
			// caller that is a drive with no usable medium in it.
			logger.Warn("mount: previously mounted volume no longer mounts: %v", err)
			return efi.NoMedia
		}
		return mountStatus(err)
	}

	if inst.hadSerial && vol.Serial() != inst.serial {
		// Different volume in the same drive. Report the change once;
		// the caller retries and gets the new volume.
		inst.serial = vol.Serial()
		if err := vol.Unmount(); err != nil {
			logger.Warn("mount: unmounting swapped volume: %v", err)
		}
		return efi.MediaChanged
	}

	inst.serial = vol.Serial()
	inst.hadSerial = true
	inst.vol = vol
	inst.dev = dev
	inst.mountCount++
	inst.drv.met.MountInc()
	logger.Info("mounted volume %q (serial %#x, read-only %t)",
		vol.Label(), vol.Serial(), vol.ReadOnly())
	return nil
}

// unmountIfIdle tears the volume down once the last handle is gone.
// Unmount is unconditional: whatever the library still holds, the
// instance forgets it and starts the next mount from scratch.
func (inst *Instance) unmountIfIdle() {
	if inst.totalRefs > 0 || inst.vol == nil {
		return
	}
	if err := inst.forceUnmount(); err != nil {
		logger.Warn("unmount: %v", err)
	}
}

func (inst *Instance) forceUnmount() error {
	for _, f := range inst.files {
		if f.inode != nil {
			if err := f.inode.Close(); err != nil {
				logger.Warn("unmount: abandoning inode for %q: %v", f.path, err)
			}
			f.inode = nil
		}
	}
	err := inst.vol.Unmount()
	inst.vol = nil
	inst.dev = nil
	inst.files = nil
	inst.totalRefs = 0
	inst.drv.met.MountDec()
	logger.Info("unmounted volume (serial %#x)", inst.serial)
	return err
}

func (inst *Instance) observe(op string, start time.Time, err error) {
	inst.drv.met.ObserveOp(op, efi.StatusOf(err).String(), time.Since(start).Seconds())
}

// lookupPath finds the registry entry for a canonical path.
func (inst *Instance) lookupPath(path string) *file {
	for _, f := range inst.files {
		if f.path == path {
			return f
		}
	}
	return nil
}

// lookupRef finds the registry entry holding the inode for a file
// reference. The sequence bits are verified when both sides carry them,
// so a stale reference to a reused record never matches a live inode.
func (inst *Instance) lookupRef(ref ntfslib.Mref) *file {
	for _, f := range inst.files {
		if f.inode != nil && f.inode.Ref().Matches(ref) {
			return f
		}
	}
	return nil
}

func (inst *Instance) dropFile(target *file) {
	for i, f := range inst.files {
		if f == target {
			inst.files = append(inst.files[:i], inst.files[i+1:]...)
			return
		}
	}
}

// invalidateDirCache discards the cached enumeration of the directory
// at path, if it is open. Mutations call this on the parent so a
// half-finished sweep does not serve entries that no longer exist.
func (inst *Instance) invalidateDirCache(path string) {
	if f := inst.lookupPath(path); f != nil {
		f.dir = nil
	}
}

// ancestorPaths lists the ancestors of a canonical path nearest-first,
// root included. The root itself has none.
func ancestorPaths(path string) []string {
	var out []string
	for path != "/" {
		path, _ = splitPath(path)
		out = append(out, path)
	}
	return out
}

// releaseAncestors vacates the file records the library is about to
// reopen internally for an operation on path: the nearest min ancestor
// levels unconditionally, and beyond that every level whose vacated
// inode was itself dirty, since closing a dirty inode resyncs one more
// level up. It returns a restore function that reopens the vacated
// inodes by record number and reports the first reopen failure.
//
// A failed reopen drops that registry entry: its surviving handles get
// errors from then on, and a fresh open of the path resolves from disk
// again. The operation that forced the release has already happened by
// that point.
func (inst *Instance) releaseAncestors(path string, min int) (restore func() error, err error) {
	ancestors := ancestorPaths(path)
	var toClose []*file
	forced := min
	for i, p := range ancestors {
		if i >= forced {
			break
		}
		af := inst.lookupPath(p)
		if af == nil || af.inode == nil {
			continue
		}
		toClose = append(toClose, af)
		if af.inode.Dirty() && forced < i+2 {
			forced = i + 2
		}
	}

	// Close farthest-first: a dirty close at one level needs the level
	// above it already vacated.
	var closed []vacated
	for i := len(toClose) - 1; i >= 0; i-- {
		af := toClose[i]
		rec := af.inode.Record()
		if cerr := af.inode.Close(); cerr != nil {
			inst.reopen(closed)
			return nil, cerr
		}
		af.inode = nil
		closed = append(closed, vacated{af, rec})
	}

	return func() error { return inst.reopen(closed) }, nil
}

// vacated remembers a registry entry whose inode was closed for the
// duration of a library operation.
type vacated struct {
	f   *file
	rec uint64
}

func (inst *Instance) reopen(closed []vacated) error {
	var firstErr error
	// Reopen nearest-first, the reverse of the close order.
	for i := len(closed) - 1; i >= 0; i-- {
		v := closed[i]
		ino, err := inst.vol.OpenByRecord(v.rec)
		if err != nil {
			// The entry leaves the registry: its handles get errors
			// until closed, and the path resolves from disk again.
			logger.Warn("reopen of %q (record %d) failed, handles invalidated: %v",
				v.f.path, v.rec, err)
			inst.dropFile(v.f)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		v.f.inode = ino
	}
	return firstErr
}

// closeInode closes f's inode, vacating the parent first when the close
// will resync the directory entry.
func (inst *Instance) closeInode(f *file) error {
	if f.inode == nil {
		return nil
	}
	if !f.inode.Dirty() {
		err := f.inode.Close()
		f.inode = nil
		return err
	}

	restore, err := inst.releaseAncestors(f.path, 1)
	if err != nil {
		return err
	}
	defer restore()

	if err := f.inode.Close(); err != nil {
		return err
	}
	f.inode = nil
	return nil
}

// removeInode unlinks f's inode from the tree. Both the parent and the
// grandparent records get reopened inside the library during entry
// removal, so both levels are vacated up front. removed reports whether
// the file is gone; a non-nil error alongside removed means an ancestor
// failed to reopen afterward and its handles are now invalid.
func (inst *Instance) removeInode(f *file) (removed bool, err error) {
	if f.inode == nil {
		return false, syscall.EBADF
	}

	restore, err := inst.releaseAncestors(f.path, 2)
	if err != nil {
		return false, err
	}

	if err := inst.vol.Remove(f.inode); err != nil {
		restore()
		return false, err
	}
	f.inode = nil
	return true, restore()
}

// openFile resolves a canonical path to a registry entry, opening
// inodes along the way. An already-open path is shared; otherwise the
// walk starts at the nearest open ancestor and descends one component
// at a time, closing each transient intermediate as soon as its child
// is open. mode and attr only matter for the create case.
func (inst *Instance) openFile(path string, mode uint64, attr uint64) (*file, error) {
	wantDir := attr&efi.AttrDirectory != 0

	if f := inst.lookupPath(path); f != nil {
		if f.inode == nil {
			return nil, efi.NoMedia
		}
		if mode&efi.ModeCreate != 0 && f.isDir != wantDir {
			return nil, efi.AccessDenied
		}
		return f, nil
	}

	if path == "/" {
		root, err := inst.vol.OpenRoot()
		if err != nil {
			return nil, statusOf(err)
		}
		f := &file{inst: inst, path: "/", inode: root, isDir: true}
		inst.files = append(inst.files, f)
		return f, nil
	}

	// Nearest open ancestor; the root may itself be closed, in which
	// case the walk starts from a transient root inode.
	startPath := "/"
	var cur ntfslib.Inode
	borrowed := false
	for _, p := range ancestorPaths(path) {
		if af := inst.lookupPath(p); af != nil && af.inode != nil {
			startPath = p
			cur = af.inode
			borrowed = true
			break
		}
	}
	if cur == nil {
		root, err := inst.vol.OpenRoot()
		if err != nil {
			return nil, statusOf(err)
		}
		cur = root
	}

	rel := strings.TrimPrefix(strings.TrimPrefix(path, startPath), "/")
	components := strings.Split(rel, "/")

	curPath := startPath
	release := func() {
		if !borrowed {
			inst.closeWalkInode(curPath, cur)
		}
	}

	for i, comp := range components {
		last := i == len(components)-1
		next, err := inst.vol.Lookup(cur, comp)
		if errors.Is(err, syscall.ENOENT) && last && mode&efi.ModeCreate != 0 {
			next, err = inst.vol.Create(cur, comp, wantDir)
		}
		if err != nil {
			release()
			return nil, statusOf(err)
		}
		release()
		cur, borrowed = next, false
		curPath = normalizePath(curPath, comp)
	}

	if mode&efi.ModeCreate != 0 && cur.IsDir() != wantDir {
		// A create-mode open of an existing entry must agree on the
		// entry's kind.
		inst.closeWalkInode(path, cur)
		return nil, efi.AccessDenied
	}

	f := &file{inst: inst, path: path, inode: cur, isDir: cur.IsDir()}
	inst.files = append(inst.files, f)

	if mode&efi.ModeCreate != 0 {
		dir, _ := splitPath(path)
		inst.invalidateDirCache(dir)
	}
	return f, nil
}

// rename moves f to newPath, adding the new link before removing the
// old one so a failure partway leaves the file reachable. Open
// descendants (for a directory) get their registry paths rewritten.
func (inst *Instance) rename(f *file, newPath string) error {
	oldPath := f.path
	oldDirPath, oldName := splitPath(oldPath)
	newDirPath, newName := splitPath(newPath)
	if newName == "" {
		return syscall.EINVAL
	}
	if f.isDir && isAncestorOf(oldPath, newPath) && oldPath != newPath {
		// Cannot move a directory under itself.
		return syscall.EINVAL
	}

	newDir, releaseNew, err := inst.borrowDir(newDirPath)
	if err != nil {
		return err
	}
	defer releaseNew()

	if err := inst.vol.Link(f.inode, newDir, newName); err != nil {
		return err
	}

	var unlinkErr error
	if oldDirPath == newDirPath {
		unlinkErr = inst.vol.Unlink(f.inode, newDir, oldName)
	} else {
		oldDir, releaseOld, err := inst.borrowDir(oldDirPath)
		if err != nil {
			unlinkErr = err
		} else {
			unlinkErr = inst.vol.Unlink(f.inode, oldDir, oldName)
			releaseOld()
		}
	}
	if unlinkErr != nil {
		// Roll the new link back; the old name is still in place.
		if rerr := inst.vol.Unlink(f.inode, newDir, newName); rerr != nil {
			logger.Warn("rename: rollback of %q failed: %v", newPath, rerr)
		}
		return unlinkErr
	}

	for _, other := range inst.files {
		if isAncestorOf(oldPath, other.path) {
			other.path = newPath + other.path[len(oldPath):]
		}
	}
	inst.invalidateDirCache(oldDirPath)
	inst.invalidateDirCache(newDirPath)
	return nil
}

// borrowDir yields an open inode for a directory path: the registry's
// if the directory is open, a transient one otherwise. The release
// function closes only a transient inode.
func (inst *Instance) borrowDir(path string) (ntfslib.Inode, func(), error) {
	if af := inst.lookupPath(path); af != nil {
		if af.inode == nil {
			return nil, nil, syscall.EBADF
		}
		return af.inode, func() {}, nil
	}

	f, err := inst.openFile(path, efi.ModeRead, 0)
	if err != nil {
		return nil, nil, err
	}
	if !f.isDir {
		inst.closeTransient(f)
		return nil, nil, syscall.ENOTDIR
	}
	return f.inode, func() { inst.closeTransient(f) }, nil
}

// closeWalkInode closes a transient inode picked up during a path walk,
// vacating its parent first when the close will resync the entry (a
// create leaves the parent inode dirty).
func (inst *Instance) closeWalkInode(path string, ino ntfslib.Inode) {
	if !ino.Dirty() {
		if err := ino.Close(); err != nil {
			logger.Warn("open: closing transient %q: %v", path, err)
		}
		return
	}
	restore, err := inst.releaseAncestors(path, 1)
	if err != nil {
		logger.Warn("open: vacating ancestors of %q: %v", path, err)
		return
	}
	defer restore()
	if err := ino.Close(); err != nil {
		logger.Warn("open: closing transient %q: %v", path, err)
	}
}

func (inst *Instance) closeTransient(f *file) {
	if f.refs > 0 {
		return
	}
	if err := inst.closeInode(f); err != nil {
		logger.Warn("closing transient %q: %v", f.path, err)
	}
	inst.dropFile(f)
}
