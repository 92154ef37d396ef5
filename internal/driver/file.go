package driver

import (
	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// file is one registry entry: the single shared state behind every
// handle open on the same path. The library allows one inode per record,
// so handles cannot each carry their own; they share this one, position
// included, the way the ported driver shared its per-file struct.
type file struct {
	inst *Instance

	// path is canonical (see normalizePath). It is the registry key and
	// the anchor for the ancestor dance.
	path string

	// inode is nil while an ancestor dance has the record vacated. A
	// failed reopen afterward drops the entry from the registry;
	// surviving handles keep the orphaned entry and get errors until
	// closed.
	inode ntfslib.Inode

	// refs counts the handles sharing this entry.
	refs int

	isDir bool

	// offset is the shared read/write position. For directories it is
	// the index of the next cached entry to hand out.
	offset uint64

	// dir is the enumeration cache, built on the first directory read
	// and discarded on rewind or mutation.
	dir *dirCache
}

func (f *file) isRoot() bool { return f.path == "/" }

func (f *file) name() string {
	_, name := splitPath(f.path)
	return name
}

// fileInfoOf assembles the protocol metadata record for an inode.
func fileInfoOf(name string, ino ntfslib.Inode) *efi.FileInfo {
	times := ino.Times()
	return &efi.FileInfo{
		FileName:         name,
		FileSize:         ino.Size(),
		PhysicalSize:     ino.AllocatedSize(),
		CreateTime:       efi.FromGoTime(times.Created),
		LastAccessTime:   efi.FromGoTime(times.Accessed),
		ModificationTime: efi.FromGoTime(times.Modified),
		Attribute:        attrOf(ino),
	}
}

func attrOf(ino ntfslib.Inode) uint64 {
	// The low attribute bits share values with the on-disk flags.
	attr := uint64(ino.Flags()) & (efi.AttrReadOnly | efi.AttrHidden |
		efi.AttrSystem | efi.AttrArchive)
	if ino.IsDir() {
		attr |= efi.AttrDirectory
	}
	return attr
}
