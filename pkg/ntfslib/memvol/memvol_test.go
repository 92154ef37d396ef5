package memvol

import (
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// testDevice is a byte-slice device honoring the Device contract,
// single-open included.
type testDevice struct {
	data     []byte
	open     bool
	readOnly bool
	writable bool
}

func newTestDevice(size int, writable bool) *testDevice {
	return &testDevice{data: make([]byte, size), writable: writable}
}

func (d *testDevice) Open(readOnly bool) error {
	if d.open {
		return syscall.EBUSY
	}
	d.open = true
	d.readOnly = readOnly || !d.writable
	return nil
}

func (d *testDevice) Close() error {
	if !d.open {
		return syscall.EBADF
	}
	d.open = false
	return nil
}

func (d *testDevice) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *testDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, syscall.EROFS
	}
	if off+int64(len(p)) > int64(len(d.data)) {
		return 0, syscall.ENOSPC
	}
	return copy(d.data[off:], p), nil
}

func (d *testDevice) Sync() error          { return nil }
func (d *testDevice) Size() (int64, error) { return int64(len(d.data)), nil }
func (d *testDevice) ReadOnly() bool       { return d.readOnly }

func newVolume(t *testing.T) (ntfslib.Volume, *testDevice) {
	t.Helper()
	dev := newTestDevice(1<<20, true)
	require.NoError(t, Format(dev, "TESTVOL", 0xDEADBEEFCAFE))

	vol, err := Library{}.Mount(dev, 0)
	require.NoError(t, err)
	return vol, dev
}

func TestMountRecognizesVolume(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	assert.Equal(t, uint64(0xDEADBEEFCAFE), vol.Serial())
	assert.Equal(t, "TESTVOL", vol.Label())
	assert.False(t, vol.ReadOnly())
}

func TestMountRejectsForeignMedia(t *testing.T) {
	dev := newTestDevice(1<<20, true)

	_, err := Library{}.Mount(dev, 0)
	assert.ErrorIs(t, err, ntfslib.ErrNotNTFS)
	assert.False(t, dev.open, "device must be released after a failed mount")
}

func TestMountRejectsCorruptTree(t *testing.T) {
	dev := newTestDevice(1<<20, true)
	require.NoError(t, Format(dev, "X", 1))

	// Clobber the tree header but leave the boot sector intact.
	copy(dev.data[treeOff:], "JUNK")

	_, err := Library{}.Mount(dev, 0)
	assert.ErrorIs(t, err, ntfslib.ErrVolumeCorrupt)
}

func TestMountHibernationLock(t *testing.T) {
	vol, dev := newVolume(t)
	root, err := vol.OpenRoot()
	require.NoError(t, err)
	hib, err := vol.Create(root, hiberFile, false)
	require.NoError(t, err)
	require.NoError(t, hib.Close())
	require.NoError(t, root.Close())
	require.NoError(t, vol.Unmount())

	_, err = Library{}.Mount(dev, 0)
	assert.ErrorIs(t, err, ntfslib.ErrVolumeLocked)

	vol, err = Library{}.Mount(dev, ntfslib.MountIgnoreHibernation)
	require.NoError(t, err)
	vol.Unmount()
}

func TestMountReadOnlyFallback(t *testing.T) {
	dev := newTestDevice(1<<20, true)
	require.NoError(t, Format(dev, "RO", 7))
	dev.writable = false

	_, err := Library{}.Mount(dev, 0)
	assert.ErrorIs(t, err, syscall.EROFS)

	vol, err := Library{}.Mount(dev, ntfslib.MountMayReadOnly)
	require.NoError(t, err)
	defer vol.Unmount()
	assert.True(t, vol.ReadOnly())

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	defer root.Close()
	_, err = vol.Create(root, "nope", false)
	assert.ErrorIs(t, err, syscall.EROFS)
}

func TestSingleOpenDiscipline(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)

	_, err = vol.OpenRoot()
	assert.ErrorIs(t, err, syscall.EBUSY)
	_, err = vol.OpenByRecord(ntfslib.RecordRoot)
	assert.ErrorIs(t, err, syscall.EBUSY)

	require.NoError(t, root.Close())
	root, err = vol.OpenRoot()
	require.NoError(t, err)
	root.Close()
}

func TestCreateLookupReaddir(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)

	sub, err := vol.Create(root, "sub", true)
	require.NoError(t, err)
	f, err := vol.Create(sub, "a.txt", false)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = vol.Create(sub, "a.txt", false)
	assert.ErrorIs(t, err, syscall.EEXIST)

	var names []string
	pos := int64(0)
	require.NoError(t, sub.Readdir(&pos, func(e ntfslib.DirEntry) error {
		names = append(names, e.Name)
		return nil
	}))
	assert.Equal(t, []string{".", "..", "a.txt"}, names)

	// A second sweep from the advanced cursor yields nothing.
	require.NoError(t, sub.Readdir(&pos, func(e ntfslib.DirEntry) error {
		t.Fatalf("unexpected entry %q", e.Name)
		return nil
	}))

	require.NoError(t, root.Close())
	require.NoError(t, sub.Close())

	root, err = vol.OpenRoot()
	require.NoError(t, err)
	sub2, err := vol.Lookup(root, "sub")
	require.NoError(t, err)
	f2, err := vol.Lookup(sub2, "a.txt")
	require.NoError(t, err)
	assert.False(t, f2.IsDir())

	_, err = vol.Lookup(sub2, "missing")
	assert.ErrorIs(t, err, syscall.ENOENT)

	f2.Close()
	sub2.Close()
	root.Close()
}

func TestDirtyCloseRequiresClosedParent(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	f, err := vol.Create(root, "f", false)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.True(t, f.Dirty())

	// Parent open: the entry resync collides and the inode stays open.
	err = f.Close()
	assert.ErrorIs(t, err, syscall.EBUSY)

	require.NoError(t, root.Close())
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), syscall.EBADF)
}

func TestRemoveAncestorCollisions(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	sub, err := vol.Create(root, "sub", true)
	require.NoError(t, err)
	f, err := vol.Create(sub, "f", false)
	require.NoError(t, err)
	require.NoError(t, root.Close())
	require.NoError(t, sub.Close())

	// Reacquire the target alone; its parent and grandparent are
	// closed, so removal can resync them internally.
	require.NoError(t, vol.Remove(f))

	// Now hold the parent while removing a sibling: collision.
	sub, err = openPath(t, vol, "sub")
	require.NoError(t, err)
	g, err := vol.Create(sub, "g", false)
	require.NoError(t, err)

	err = vol.Remove(g)
	assert.ErrorIs(t, err, syscall.EBUSY)

	// The EBUSY removal must leave the target open and intact.
	require.NoError(t, sub.Close())
	require.NoError(t, vol.Remove(g))
}

func TestRemoveNonEmptyDirectory(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	sub, err := vol.Create(root, "sub", true)
	require.NoError(t, err)
	f, err := vol.Create(sub, "f", false)
	require.NoError(t, err)
	require.NoError(t, root.Close())
	require.NoError(t, f.Close())

	err = vol.Remove(sub)
	assert.ErrorIs(t, err, syscall.ENOTEMPTY)
	require.NoError(t, sub.Close())
}

func TestRecordReuseBumpsSequence(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	f, err := vol.Create(root, "f", false)
	require.NoError(t, err)
	staleRef := f.Ref()
	rec := f.Record()
	require.NoError(t, root.Close())
	require.NoError(t, vol.Remove(f))

	root, err = vol.OpenRoot()
	require.NoError(t, err)
	g, err := vol.Create(root, "g", false)
	require.NoError(t, err)

	assert.Equal(t, rec, g.Record(), "freed record should be reused")
	assert.Equal(t, staleRef.Sequence()+1, g.Ref().Sequence())

	require.NoError(t, root.Close())
	require.NoError(t, g.Close())

	_, err = vol.OpenByRef(staleRef)
	assert.ErrorIs(t, err, syscall.ESTALE)

	fresh, err := vol.OpenByRef(ntfslib.MakeRef(rec, staleRef.Sequence()+1))
	require.NoError(t, err)
	fresh.Close()
}

func TestReadWriteResize(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	f, err := vol.Create(root, "data", false)
	require.NoError(t, err)

	n, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, uint64(11), f.Size())

	// Sparse write grows with a zero gap.
	_, err = f.WriteAt([]byte("!"), 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), f.Size())

	buf := make([]byte, 5)
	n, err = f.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	// Read at end of data.
	_, err = f.ReadAt(buf, 21)
	assert.ErrorIs(t, err, io.EOF)

	// Short read crossing the end.
	n, err = f.ReadAt(buf, 18)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)

	require.NoError(t, f.Resize(5))
	assert.Equal(t, uint64(5), f.Size())
	require.NoError(t, f.Resize(100))
	assert.Equal(t, uint64(100), f.Size())

	require.NoError(t, root.Close())
	require.NoError(t, f.Close())
}

func TestPersistenceAcrossRemount(t *testing.T) {
	vol, dev := newVolume(t)

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	f, err := vol.Create(root, "keep.txt", false)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("persisted"), 0)
	require.NoError(t, err)
	require.NoError(t, root.Close())
	require.NoError(t, f.Close())
	require.NoError(t, vol.SetLabel("RENAMED"))
	require.NoError(t, vol.Unmount())

	vol, err = Library{}.Mount(dev, 0)
	require.NoError(t, err)
	defer vol.Unmount()
	assert.Equal(t, "RENAMED", vol.Label())

	root, err = vol.OpenRoot()
	require.NoError(t, err)
	f, err = vol.Lookup(root, "keep.txt")
	require.NoError(t, err)
	buf := make([]byte, 9)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(buf))
	f.Close()
	root.Close()
}

func TestLinkUnlinkMovesEntry(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	src, err := vol.Create(root, "src", true)
	require.NoError(t, err)
	dst, err := vol.Create(root, "dst", true)
	require.NoError(t, err)
	f, err := vol.Create(src, "f", false)
	require.NoError(t, err)

	require.NoError(t, vol.Link(f, dst, "f2"))
	require.NoError(t, vol.Unlink(f, src, "f"))

	_, err = vol.Lookup(src, "f")
	assert.ErrorIs(t, err, syscall.ENOENT)

	// Entry resyncs ripple bottom-up: ancestors must be closed first.
	require.NoError(t, root.Close())
	require.NoError(t, src.Close())
	require.NoError(t, dst.Close())
	require.NoError(t, f.Close())

	root, err = vol.OpenRoot()
	require.NoError(t, err)
	dst, err = vol.Lookup(root, "dst")
	require.NoError(t, err)
	moved, err := vol.Lookup(dst, "f2")
	require.NoError(t, err)
	assert.False(t, moved.IsDir())

	moved.Close()
	dst.Close()
	root.Close()
}

func TestUnlinkRestoresParentage(t *testing.T) {
	vol, _ := newVolume(t)
	defer vol.Unmount()

	root, err := vol.OpenRoot()
	require.NoError(t, err)
	dst, err := vol.Create(root, "dst", true)
	require.NoError(t, err)
	f, err := vol.Create(root, "f", false)
	require.NoError(t, err)

	// A move that backs out: the new name is added under dst and then
	// removed again, the way a failed rename rolls back.
	require.NoError(t, vol.Link(f, dst, "f2"))
	require.NoError(t, vol.Unlink(f, dst, "f2"))

	require.NoError(t, root.Close())
	require.NoError(t, dst.Close())

	// Removal resolves the containing directory through the record's
	// parentage, which must be back on the root.
	require.NoError(t, vol.Remove(f))

	root, err = vol.OpenRoot()
	require.NoError(t, err)
	defer root.Close()
	_, err = vol.Lookup(root, "f")
	assert.ErrorIs(t, err, syscall.ENOENT)
}

// openPath opens a direct child of the root by name, leaving the root
// closed.
func openPath(t *testing.T, vol ntfslib.Volume, name string) (ntfslib.Inode, error) {
	t.Helper()
	root, err := vol.OpenRoot()
	require.NoError(t, err)
	defer root.Close()
	return vol.Lookup(root, name)
}
