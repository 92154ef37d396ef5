// Package memvol implements ntfslib against a simulated NTFS volume.
//
// The on-device layout is an NTFS boot sector (OEM magic and 64-bit
// serial at their real offsets, so generic probing tools recognize the
// medium) followed by a serialized tree at a fixed offset. The tree
// format is internal to this package and carries no compatibility
// promise.
//
// What memvol is faithful about is the part that matters to the driver:
// the single-open-per-inode discipline, EBUSY on internal ancestor
// reopens, sequence numbers that advance when a freed record is reused,
// ENOTEMPTY/EEXIST/ENOENT/EROFS/ENOSPC in the places the real library
// raises them, and a hibernation lock at mount.
package memvol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/uefifs/ntfsbridge/pkg/ntfslib"
)

const (
	bootMagicOff = 3
	bootMagic    = "NTFS    "
	serialOff    = 0x48

	// The serialized tree lives at a fixed offset past the boot
	// sector and its (unused in this simulation) backup area.
	treeOff   = 4096
	treeMagic = "MVI1"

	// Accounting charge per file record when computing free space,
	// standing in for the MFT record size.
	recordOverhead = 1024
)

// diskNode is one file record in the serialized tree.
type diskNode struct {
	Record   uint64
	Seq      uint16
	Parent   uint64
	IsDir    bool
	Flags    uint32
	Created  int64
	Accessed int64
	Modified int64
	Data     []byte
	Children map[string]uint64
}

// freeRecord is a reusable record number with the sequence its next
// user must carry.
type freeRecord struct {
	Record  uint64
	NextSeq uint16
}

// diskImage is the whole serialized tree.
type diskImage struct {
	Label      string
	Serial     uint64
	NextRecord uint64
	Free       []freeRecord
	Nodes      map[uint64]*diskNode
}

func newImage(label string, serial uint64) *diskImage {
	now := time.Now().Unix()
	root := &diskNode{
		Record:   ntfslib.RecordRoot,
		Seq:      5,
		Parent:   ntfslib.RecordRoot,
		IsDir:    true,
		Created:  now,
		Accessed: now,
		Modified: now,
		Children: map[string]uint64{},
	}
	return &diskImage{
		Label:      label,
		Serial:     serial,
		NextRecord: ntfslib.RecordFirstUser,
		Nodes:      map[uint64]*diskNode{root.Record: root},
	}
}

// Format writes a fresh, empty volume to dev. The device must be open
// for writing by the caller's standards; Format opens and closes it
// itself.
func Format(dev ntfslib.Device, label string, serial uint64) error {
	if err := dev.Open(false); err != nil {
		return fmt.Errorf("memvol: opening device for format: %w", err)
	}
	defer dev.Close()

	size, err := dev.Size()
	if err != nil {
		return fmt.Errorf("memvol: sizing device: %w", err)
	}
	if size < treeOff*2 {
		return fmt.Errorf("memvol: device too small to format (%d bytes)", size)
	}

	if err := writeBootSector(dev, serial); err != nil {
		return err
	}
	if err := writeTree(dev, newImage(label, serial)); err != nil {
		return err
	}
	return dev.Sync()
}

func writeBootSector(dev ntfslib.Device, serial uint64) error {
	sector := make([]byte, 512)
	// x86 jump stub, as on real media.
	sector[0], sector[1], sector[2] = 0xEB, 0x52, 0x90
	copy(sector[bootMagicOff:], bootMagic)
	binary.LittleEndian.PutUint16(sector[11:], 512)
	binary.LittleEndian.PutUint64(sector[serialOff:], serial)
	sector[510], sector[511] = 0x55, 0xAA

	if _, err := dev.WriteAt(sector, 0); err != nil {
		return fmt.Errorf("memvol: writing boot sector: %w", err)
	}
	return nil
}

func readBootSector(dev ntfslib.Device) (serial uint64, err error) {
	sector := make([]byte, 512)
	if _, err := dev.ReadAt(sector, 0); err != nil {
		return 0, fmt.Errorf("memvol: reading boot sector: %w", err)
	}
	if string(sector[bootMagicOff:bootMagicOff+len(bootMagic)]) != bootMagic {
		return 0, ntfslib.ErrNotNTFS
	}
	return binary.LittleEndian.Uint64(sector[serialOff:]), nil
}

func writeTree(dev ntfslib.Device, img *diskImage) error {
	var blob bytes.Buffer
	if err := gob.NewEncoder(&blob).Encode(img); err != nil {
		return fmt.Errorf("memvol: encoding tree: %w", err)
	}

	size, err := dev.Size()
	if err != nil {
		return fmt.Errorf("memvol: sizing device: %w", err)
	}
	if int64(treeOff+12+blob.Len()) > size {
		return fmt.Errorf("memvol: tree does not fit on device: %w", errNoSpace)
	}

	header := make([]byte, 12)
	copy(header, treeMagic)
	binary.LittleEndian.PutUint64(header[4:], uint64(blob.Len()))
	if _, err := dev.WriteAt(header, treeOff); err != nil {
		return fmt.Errorf("memvol: writing tree header: %w", err)
	}
	if _, err := dev.WriteAt(blob.Bytes(), treeOff+12); err != nil {
		return fmt.Errorf("memvol: writing tree: %w", err)
	}
	return nil
}

func readTree(dev ntfslib.Device) (*diskImage, error) {
	header := make([]byte, 12)
	if _, err := dev.ReadAt(header, treeOff); err != nil {
		return nil, fmt.Errorf("memvol: reading tree header: %w", err)
	}
	if string(header[:4]) != treeMagic {
		return nil, ntfslib.ErrVolumeCorrupt
	}
	length := binary.LittleEndian.Uint64(header[4:])

	size, err := dev.Size()
	if err != nil {
		return nil, fmt.Errorf("memvol: sizing device: %w", err)
	}
	if length == 0 || int64(treeOff+12)+int64(length) > size {
		return nil, ntfslib.ErrVolumeCorrupt
	}

	blob := make([]byte, length)
	if _, err := dev.ReadAt(blob, treeOff+12); err != nil {
		return nil, fmt.Errorf("memvol: reading tree: %w", err)
	}

	var img diskImage
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&img); err != nil {
		return nil, ntfslib.ErrVolumeCorrupt
	}
	if img.Nodes[ntfslib.RecordRoot] == nil {
		return nil, ntfslib.ErrVolumeCorrupt
	}
	return &img, nil
}
