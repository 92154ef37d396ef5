package driver

import (
	"syscall"

	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// dirCache is a fully materialized directory enumeration. The protocol
// reads a directory one entry per call with no cursor of its own, while
// the library enumerates through a callback; caching the whole sweep
// once bridges the two without re-walking the index on every call.
type dirCache struct {
	entries []*efi.FileInfo
}

// metadataRecord reports whether rec is a filesystem metadata record,
// which the protocol never sees.
func metadataRecord(rec uint64) bool {
	return rec < ntfslib.RecordFirstUser && rec != ntfslib.RecordRoot
}

// buildDirCache enumerates f in two passes, the way the ported driver
// did: a counting pass sizes the cache, the fill pass populates it and
// aborts if the directory changed size between the two. Both passes
// apply the metadata filter, so the count is exact and slack from a
// skipped record cannot mask a mutation between the passes.
func (inst *Instance) buildDirCache(f *file) (*dirCache, error) {
	count := 0
	pos := int64(0)
	err := f.inode.Readdir(&pos, func(e ntfslib.DirEntry) error {
		if !metadataRecord(e.Ref.Record()) {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cache := &dirCache{entries: make([]*efi.FileInfo, 0, count)}
	pos = 0
	err = f.inode.Readdir(&pos, func(e ntfslib.DirEntry) error {
		if metadataRecord(e.Ref.Record()) {
			return nil
		}
		if len(cache.entries) == count {
			logger.Warn("directory %q grew during enumeration", f.path)
			return syscall.EIO
		}

		info, err := inst.statEntry(f, e)
		if err != nil {
			return err
		}
		cache.entries = append(cache.entries, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// statEntry fills the metadata record for one enumerated entry. The
// entry's inode must be opened to stat it, which collides with the
// single-open discipline whenever the entry is already open: the
// directory itself ("."), an ancestor (".."), or any open file in the
// directory. Those are statted through the inode already held.
func (inst *Instance) statEntry(f *file, e ntfslib.DirEntry) (*efi.FileInfo, error) {
	if e.Name == "." {
		return fileInfoOf(".", f.inode), nil
	}
	if held := inst.lookupRef(e.Ref); held != nil {
		return fileInfoOf(e.Name, held.inode), nil
	}

	ino, err := inst.vol.OpenByRef(e.Ref)
	if err != nil {
		return nil, err
	}
	info := fileInfoOf(e.Name, ino)
	if err := ino.Close(); err != nil {
		return nil, err
	}
	return info, nil
}

// readEntry hands out the next cached entry, building the cache on
// first use. End of sequence is a nil record, and the cursor (the
// shared file offset) stays parked there until a rewind.
func (inst *Instance) readEntry(f *file) (*efi.FileInfo, error) {
	if f.dir == nil {
		cache, err := inst.buildDirCache(f)
		if err != nil {
			return nil, err
		}
		f.dir = cache
	}
	if f.offset >= uint64(len(f.dir.entries)) {
		return nil, nil
	}
	info := f.dir.entries[f.offset]
	f.offset++

	// Hand out a copy; callers own the record.
	out := *info
	return &out, nil
}
