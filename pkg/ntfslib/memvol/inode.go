package memvol

import (
	"io"
	"syscall"
	"time"

	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// inode is one open record. At most one exists per record at any time;
// volume.open enforces that.
type inode struct {
	vol *volume
	rec uint64

	// entryDirty means this record's directory entry (size, times,
	// flags) diverges from what the parent directory carries. Closing
	// or syncing such an inode resyncs the parent, which requires the
	// parent record to be closed.
	entryDirty bool

	closed bool
}

func (i *inode) node() *diskNode { return i.vol.img.Nodes[i.rec] }

func (i *inode) live() error {
	if i.closed {
		return syscall.EBADF
	}
	return nil
}

func (i *inode) Record() uint64 { return i.rec }

func (i *inode) Ref() ntfslib.Mref {
	return ntfslib.MakeRef(i.rec, i.node().Seq)
}

func (i *inode) IsDir() bool { return i.node().IsDir }

func (i *inode) Size() uint64 {
	if i.node().IsDir {
		return 0
	}
	return uint64(len(i.node().Data))
}

func (i *inode) AllocatedSize() uint64 {
	// Simulated allocation rounds up to the record accounting unit.
	size := i.Size()
	return (size + recordOverhead - 1) / recordOverhead * recordOverhead
}

func (i *inode) Times() ntfslib.Times {
	n := i.node()
	return ntfslib.Times{
		Created:  time.Unix(n.Created, 0).UTC(),
		Accessed: time.Unix(n.Accessed, 0).UTC(),
		Modified: time.Unix(n.Modified, 0).UTC(),
	}
}

func (i *inode) SetTimes(t ntfslib.Times) error {
	if err := i.live(); err != nil {
		return err
	}
	if i.vol.readOnly {
		return syscall.EROFS
	}
	n := i.node()
	if !t.Created.IsZero() {
		n.Created = t.Created.Unix()
	}
	if !t.Accessed.IsZero() {
		n.Accessed = t.Accessed.Unix()
	}
	if !t.Modified.IsZero() {
		n.Modified = t.Modified.Unix()
	}
	i.entryDirty = true
	i.vol.dirty = true
	return nil
}

func (i *inode) Flags() ntfslib.AttrFlags {
	return ntfslib.AttrFlags(i.node().Flags)
}

func (i *inode) SetFlags(f ntfslib.AttrFlags) error {
	if err := i.live(); err != nil {
		return err
	}
	if i.vol.readOnly {
		return syscall.EROFS
	}
	i.node().Flags = uint32(f)
	i.entryDirty = true
	i.vol.dirty = true
	return nil
}

func (i *inode) ReadAt(p []byte, off int64) (int, error) {
	if err := i.live(); err != nil {
		return 0, err
	}
	n := i.node()
	if n.IsDir {
		return 0, syscall.EISDIR
	}
	if off < 0 {
		return 0, syscall.EINVAL
	}
	if off >= int64(len(n.Data)) {
		return 0, io.EOF
	}
	copied := copy(p, n.Data[off:])
	if copied < len(p) {
		return copied, io.EOF
	}
	return copied, nil
}

func (i *inode) WriteAt(p []byte, off int64) (int, error) {
	if err := i.live(); err != nil {
		return 0, err
	}
	n := i.node()
	if n.IsDir {
		return 0, syscall.EISDIR
	}
	if i.vol.readOnly {
		return 0, syscall.EROFS
	}
	if off < 0 {
		return 0, syscall.EINVAL
	}

	end := uint64(off) + uint64(len(p))
	if end > uint64(len(n.Data)) {
		free, err := i.vol.FreeSpace()
		if err != nil {
			return 0, err
		}
		grow := end - uint64(len(n.Data))
		if grow > free {
			return 0, errNoSpace
		}
		n.Data = append(n.Data, make([]byte, grow)...)
	}
	copy(n.Data[off:], p)
	n.Modified = time.Now().Unix()
	i.entryDirty = true
	i.vol.dirty = true
	return len(p), nil
}

func (i *inode) Resize(size uint64) error {
	if err := i.live(); err != nil {
		return err
	}
	n := i.node()
	if n.IsDir {
		return syscall.EISDIR
	}
	if i.vol.readOnly {
		return syscall.EROFS
	}
	switch {
	case size < uint64(len(n.Data)):
		n.Data = n.Data[:size]
	case size > uint64(len(n.Data)):
		free, err := i.vol.FreeSpace()
		if err != nil {
			return err
		}
		grow := size - uint64(len(n.Data))
		if grow > free {
			return errNoSpace
		}
		n.Data = append(n.Data, make([]byte, grow)...)
	default:
		return nil
	}
	n.Modified = time.Now().Unix()
	i.entryDirty = true
	i.vol.dirty = true
	return nil
}

func (i *inode) Readdir(pos *int64, fn ntfslib.DirVisitor) error {
	if err := i.live(); err != nil {
		return err
	}
	n := i.node()
	if !n.IsDir {
		return syscall.ENOTDIR
	}

	parent := i.vol.img.Nodes[n.Parent]
	if parent == nil {
		return syscall.EIO
	}

	entries := []ntfslib.DirEntry{
		{Name: ".", Ref: ntfslib.MakeRef(n.Record, n.Seq), IsDir: true},
		{Name: "..", Ref: ntfslib.MakeRef(parent.Record, parent.Seq), IsDir: true},
	}
	for _, name := range sortedChildren(n) {
		child := i.vol.img.Nodes[n.Children[name]]
		if child == nil {
			continue
		}
		entries = append(entries, ntfslib.DirEntry{
			Name:  name,
			Ref:   ntfslib.MakeRef(child.Record, child.Seq),
			IsDir: child.IsDir,
		})
	}

	for ; *pos < int64(len(entries)); *pos++ {
		e := entries[*pos]
		e.Pos = *pos
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (i *inode) Dirty() bool { return i.entryDirty }

// syncEntry pushes this record's directory entry back into its parent.
// The parent record is reopened internally, so a parent held open by
// the caller collides.
func (i *inode) syncEntry() error {
	n := i.node()
	if n.Record != ntfslib.RecordRoot {
		if _, held := i.vol.open[n.Parent]; held {
			return syscall.EBUSY
		}
		if parent := i.vol.img.Nodes[n.Parent]; parent != nil {
			parent.Accessed = time.Now().Unix()
		}
	}
	i.entryDirty = false
	return nil
}

func (i *inode) Sync() error {
	if err := i.live(); err != nil {
		return err
	}
	if i.entryDirty {
		if err := i.syncEntry(); err != nil {
			return err
		}
	}
	if i.vol.dirty && !i.vol.readOnly {
		return i.vol.flush()
	}
	return nil
}

func (i *inode) Close() error {
	if err := i.live(); err != nil {
		return err
	}
	if i.entryDirty {
		// EBUSY leaves the inode open so the caller can close the
		// parent and retry.
		if err := i.syncEntry(); err != nil {
			return err
		}
	}
	delete(i.vol.open, i.rec)
	i.closed = true
	return nil
}
