package memvol

import (
	"errors"
	"fmt"
	"sort"
	"syscall"
	"time"

	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

// hiberFile is the hibernation image name that locks a volume against
// mounting unless the caller opts out.
const hiberFile = "hiberfil.sys"

var errNoSpace error = syscall.ENOSPC

// Library mounts simulated volumes. It implements ntfslib.Mounter.
type Library struct{}

// Mount opens dev, recognizes the volume and loads its tree.
func (Library) Mount(dev ntfslib.Device, flags ntfslib.MountFlag) (ntfslib.Volume, error) {
	readOnly := flags&ntfslib.MountReadOnly != 0
	err := dev.Open(readOnly)
	if errors.Is(err, syscall.EROFS) && !readOnly &&
		flags&ntfslib.MountMayReadOnly != 0 {
		err = dev.Open(true)
	}
	if err != nil {
		return nil, err
	}

	vol, err := load(dev, flags)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return vol, nil
}

func load(dev ntfslib.Device, flags ntfslib.MountFlag) (*volume, error) {
	serial, err := readBootSector(dev)
	if err != nil {
		return nil, err
	}

	img, err := readTree(dev)
	if err != nil {
		return nil, err
	}
	if img.Serial != serial {
		return nil, ntfslib.ErrVolumeCorrupt
	}

	root := img.Nodes[ntfslib.RecordRoot]
	if _, hibernated := root.Children[hiberFile]; hibernated &&
		flags&ntfslib.MountIgnoreHibernation == 0 {
		return nil, ntfslib.ErrVolumeLocked
	}

	readOnly := flags&ntfslib.MountReadOnly != 0
	if dev.ReadOnly() && !readOnly {
		if flags&ntfslib.MountMayReadOnly == 0 {
			return nil, syscall.EROFS
		}
		readOnly = true
	}

	size, err := dev.Size()
	if err != nil {
		return nil, err
	}

	return &volume{
		dev:      dev,
		img:      img,
		readOnly: readOnly,
		capacity: uint64(size),
		open:     map[uint64]*inode{},
	}, nil
}

// volume implements ntfslib.Volume over a loaded tree.
type volume struct {
	dev      ntfslib.Device
	img      *diskImage
	readOnly bool
	capacity uint64

	// open tracks the single-open discipline: record number to the one
	// live inode for it.
	open map[uint64]*inode

	// dirty means the in-memory tree diverges from the device.
	dirty bool
}

func (v *volume) Unmount() error {
	if v.dirty && !v.readOnly {
		if err := v.flush(); err != nil {
			v.dev.Close()
			return err
		}
	}
	v.open = map[uint64]*inode{}
	return v.dev.Close()
}

func (v *volume) Serial() uint64 { return v.img.Serial }
func (v *volume) Label() string  { return v.img.Label }
func (v *volume) ReadOnly() bool { return v.readOnly }

func (v *volume) SetLabel(label string) error {
	if v.readOnly {
		return syscall.EROFS
	}
	v.img.Label = label
	v.dirty = true
	return v.flush()
}

func (v *volume) FreeSpace() (uint64, error) {
	used := uint64(treeOff)
	for _, n := range v.img.Nodes {
		used += recordOverhead + uint64(len(n.Data))
	}
	if used >= v.capacity {
		return 0, nil
	}
	return v.capacity - used, nil
}

// flush serializes the tree to the device.
func (v *volume) flush() error {
	if err := writeTree(v.dev, v.img); err != nil {
		return err
	}
	if err := v.dev.Sync(); err != nil {
		return fmt.Errorf("memvol: syncing device: %w", err)
	}
	v.dirty = false
	return nil
}

func (v *volume) OpenRoot() (ntfslib.Inode, error) {
	return v.openRecord(ntfslib.RecordRoot)
}

func (v *volume) OpenByRecord(record uint64) (ntfslib.Inode, error) {
	return v.openRecord(record)
}

func (v *volume) OpenByRef(ref ntfslib.Mref) (ntfslib.Inode, error) {
	n := v.img.Nodes[ref.Record()]
	if n == nil {
		return nil, syscall.ENOENT
	}
	if !ref.Matches(ntfslib.MakeRef(n.Record, n.Seq)) {
		return nil, syscall.ESTALE
	}
	return v.openRecord(ref.Record())
}

func (v *volume) openRecord(record uint64) (*inode, error) {
	n := v.img.Nodes[record]
	if n == nil {
		return nil, syscall.ENOENT
	}
	if _, held := v.open[record]; held {
		return nil, syscall.EBUSY
	}
	ino := &inode{vol: v, rec: record}
	v.open[record] = ino
	return ino, nil
}

func (v *volume) Lookup(dir ntfslib.Inode, name string) (ntfslib.Inode, error) {
	d, err := v.ownedDir(dir)
	if err != nil {
		return nil, err
	}
	switch name {
	case ".":
		return nil, syscall.EBUSY // dir itself is open
	case "..":
		return v.openRecord(d.node().Parent)
	}
	rec, ok := d.node().Children[name]
	if !ok {
		return nil, syscall.ENOENT
	}
	return v.openRecord(rec)
}

func (v *volume) Create(dir ntfslib.Inode, name string, isDir bool) (ntfslib.Inode, error) {
	d, err := v.ownedDir(dir)
	if err != nil {
		return nil, err
	}
	if v.readOnly {
		return nil, syscall.EROFS
	}
	if name == "" || name == "." || name == ".." {
		return nil, syscall.EINVAL
	}
	if _, exists := d.node().Children[name]; exists {
		return nil, syscall.EEXIST
	}
	free, err := v.FreeSpace()
	if err != nil {
		return nil, err
	}
	if free < recordOverhead {
		return nil, errNoSpace
	}

	rec, seq := v.allocRecord()
	now := time.Now().Unix()
	child := &diskNode{
		Record:   rec,
		Seq:      seq,
		Parent:   d.rec,
		IsDir:    isDir,
		Created:  now,
		Accessed: now,
		Modified: now,
	}
	if isDir {
		child.Children = map[string]uint64{}
	}
	v.img.Nodes[rec] = child
	d.node().Children[name] = rec
	d.node().Modified = now

	// The caller's directory inode now carries an unsynced entry.
	d.entryDirty = true
	v.dirty = true

	return v.openRecord(rec)
}

func (v *volume) allocRecord() (uint64, uint16) {
	if n := len(v.img.Free); n > 0 {
		fr := v.img.Free[n-1]
		v.img.Free = v.img.Free[:n-1]
		return fr.Record, fr.NextSeq
	}
	rec := v.img.NextRecord
	v.img.NextRecord++
	return rec, 1
}

func (v *volume) Remove(target ntfslib.Inode) error {
	t, err := v.owned(target)
	if err != nil {
		return err
	}
	if v.readOnly {
		return syscall.EROFS
	}
	n := t.node()
	if n.Rec() == ntfslib.RecordRoot {
		return syscall.EPERM
	}
	if n.IsDir && len(n.Children) > 0 {
		return syscall.ENOTEMPTY
	}

	// Entry removal resyncs the parent record, which is reopened
	// internally by record number; the resync of the parent's own entry
	// then reopens the grandparent. Either being held by the caller is
	// an open collision and leaves everything untouched, target
	// included.
	parent := v.img.Nodes[n.Parent]
	if parent == nil {
		return syscall.EIO
	}
	if _, held := v.open[parent.Record]; held {
		return syscall.EBUSY
	}
	if _, held := v.open[parent.Parent]; held && parent.Parent != n.Rec() {
		return syscall.EBUSY
	}

	name := ""
	for childName, rec := range parent.Children {
		if rec == n.Rec() {
			name = childName
			break
		}
	}
	if name == "" {
		return syscall.ENOENT
	}

	now := time.Now().Unix()
	delete(parent.Children, name)
	parent.Modified = now
	if gp := v.img.Nodes[parent.Parent]; gp != nil {
		gp.Accessed = now
	}

	delete(v.img.Nodes, n.Rec())
	v.img.Free = append(v.img.Free, freeRecord{Record: n.Rec(), NextSeq: n.Seq + 1})

	// target is consumed.
	delete(v.open, t.rec)
	t.closed = true
	v.dirty = true
	return v.flush()
}

func (v *volume) Link(target ntfslib.Inode, newDir ntfslib.Inode, name string) error {
	t, err := v.owned(target)
	if err != nil {
		return err
	}
	d, err := v.ownedDir(newDir)
	if err != nil {
		return err
	}
	if v.readOnly {
		return syscall.EROFS
	}
	if name == "" || name == "." || name == ".." {
		return syscall.EINVAL
	}
	if _, exists := d.node().Children[name]; exists {
		return syscall.EEXIST
	}

	d.node().Children[name] = t.rec
	t.node().Parent = d.rec
	d.node().Modified = time.Now().Unix()
	d.entryDirty = true
	t.entryDirty = true
	v.dirty = true
	return nil
}

func (v *volume) Unlink(target ntfslib.Inode, oldDir ntfslib.Inode, name string) error {
	t, err := v.owned(target)
	if err != nil {
		return err
	}
	d, err := v.ownedDir(oldDir)
	if err != nil {
		return err
	}
	if v.readOnly {
		return syscall.EROFS
	}
	rec, ok := d.node().Children[name]
	if !ok || rec != t.rec {
		return syscall.ENOENT
	}

	delete(d.node().Children, name)
	if t.node().Parent == d.rec {
		// The removed name was the one the record's parentage pointed
		// at. Entry resync and removal both resolve the containing
		// directory through Parent, so it must follow a surviving name.
		v.reparent(t)
	}
	d.node().Modified = time.Now().Unix()
	d.entryDirty = true
	v.dirty = true
	return nil
}

// reparent repoints t at a directory still holding an entry for its
// record. A record with no remaining entries keeps its old parentage;
// it is unreachable either way.
func (v *volume) reparent(t *inode) {
	for rec, n := range v.img.Nodes {
		if !n.IsDir || rec == t.rec {
			continue
		}
		for _, childRec := range n.Children {
			if childRec == t.rec {
				t.node().Parent = rec
				return
			}
		}
	}
}

// owned validates that target is a live inode of this volume.
func (v *volume) owned(target ntfslib.Inode) (*inode, error) {
	t, ok := target.(*inode)
	if !ok || t == nil || t.vol != v {
		return nil, syscall.EINVAL
	}
	if t.closed {
		return nil, syscall.EBADF
	}
	return t, nil
}

func (v *volume) ownedDir(dir ntfslib.Inode) (*inode, error) {
	d, err := v.owned(dir)
	if err != nil {
		return nil, err
	}
	if !d.node().IsDir {
		return nil, syscall.ENOTDIR
	}
	return d, nil
}

// sortedChildren returns child names in a stable enumeration order.
func sortedChildren(n *diskNode) []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *diskNode) Rec() uint64 { return n.Record }
