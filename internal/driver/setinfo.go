package driver

import (
	"time"

	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// SetInfo applies a protocol metadata record to the file: a FileName
// different from the current one renames, FileSize resizes, attribute
// and timestamp changes go to the inode. All-zero timestamps mean
// "leave alone".
func (h *Handle) SetInfo(info *efi.FileInfo) error {
	h.inst.drv.mu.Lock()
	defer h.inst.drv.mu.Unlock()

	start := time.Now()
	logger.Extra("SetInfo(%q, name=%q, size=%d, attr=%#x)",
		h.f.path, info.FileName, info.FileSize, info.Attribute)

	err := h.setInfo(info)
	h.inst.observe("set_info", start, err)
	return err
}

func (h *Handle) setInfo(info *efi.FileInfo) error {
	if err := h.guard(); err != nil {
		return err
	}
	if info.Attribute&^efi.ValidAttr != 0 {
		return efi.InvalidParameter
	}
	if (info.Attribute&efi.AttrDirectory != 0) != h.f.isDir {
		// The directory bit describes what the file is, not a setting.
		return efi.AccessDenied
	}
	if !h.writable {
		return efi.AccessDenied
	}
	if h.inst.vol.ReadOnly() {
		return efi.WriteProtected
	}

	if err := h.applyRename(info); err != nil {
		return err
	}
	if err := h.applyResize(info); err != nil {
		return err
	}
	if err := h.applyAttrs(info); err != nil {
		return err
	}
	return h.applyTimes(info)
}

func (h *Handle) applyRename(info *efi.FileInfo) error {
	if info.FileName == "" && !h.f.isRoot() {
		return efi.InvalidParameter
	}

	// The record's name may be a bare name or a path relative to the
	// file's directory; either way it canonicalizes against the parent.
	dir, _ := splitPath(h.f.path)
	newPath := normalizePath(dir, info.FileName)
	if newPath == h.f.path {
		return nil
	}
	if h.f.isRoot() {
		return efi.AccessDenied
	}
	if h.inst.lookupPath(newPath) != nil {
		// Destination is open; replacing it would strand its handles.
		return efi.AccessDenied
	}
	if err := h.inst.rename(h.f, newPath); err != nil {
		return statusOf(err)
	}
	return nil
}

func (h *Handle) applyResize(info *efi.FileInfo) error {
	if h.f.isDir || info.FileSize == h.f.inode.Size() {
		return nil
	}
	if err := h.f.inode.Resize(info.FileSize); err != nil {
		return statusOf(err)
	}
	if h.f.offset > info.FileSize {
		h.f.offset = info.FileSize
	}
	return nil
}

func (h *Handle) applyAttrs(info *efi.FileInfo) error {
	want := ntfslib.AttrFlags(info.Attribute & (efi.AttrReadOnly |
		efi.AttrHidden | efi.AttrSystem | efi.AttrArchive))
	have := h.f.inode.Flags() & (ntfslib.AttrReadOnly | ntfslib.AttrHidden |
		ntfslib.AttrSystem | ntfslib.AttrArchive)
	if want == have {
		return nil
	}
	keep := h.f.inode.Flags() &^ (ntfslib.AttrReadOnly | ntfslib.AttrHidden |
		ntfslib.AttrSystem | ntfslib.AttrArchive)
	if err := h.f.inode.SetFlags(keep | want); err != nil {
		return statusOf(err)
	}
	return nil
}

func (h *Handle) applyTimes(info *efi.FileInfo) error {
	var t ntfslib.Times
	changed := false
	if !info.CreateTime.IsZero() {
		t.Created = info.CreateTime.GoTime()
		changed = true
	}
	if !info.LastAccessTime.IsZero() {
		t.Accessed = info.LastAccessTime.GoTime()
		changed = true
	}
	if !info.ModificationTime.IsZero() {
		t.Modified = info.ModificationTime.GoTime()
		changed = true
	}
	if !changed {
		return nil
	}
	if err := h.f.inode.SetTimes(t); err != nil {
		return statusOf(err)
	}
	return nil
}
