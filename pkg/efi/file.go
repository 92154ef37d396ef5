package efi

// Open-mode bits for Open. Per the protocol, the only valid combinations
// are Read, Read|Write and Read|Write|Create.
const (
	ModeRead   uint64 = 0x0000000000000001
	ModeWrite  uint64 = 0x0000000000000002
	ModeCreate uint64 = 0x8000000000000000
)

// File attribute bits, used both in FileInfo.Attribute and as the
// Attributes argument of a creating Open.
const (
	AttrReadOnly  uint64 = 0x01
	AttrHidden    uint64 = 0x02
	AttrSystem    uint64 = 0x04
	AttrReserved  uint64 = 0x08
	AttrDirectory uint64 = 0x10
	AttrArchive   uint64 = 0x20
)

// ValidAttr masks the attribute bits a caller may set.
const ValidAttr uint64 = AttrReadOnly | AttrHidden | AttrSystem |
	AttrDirectory | AttrArchive

// PositionEnd as the argument of SetPosition seeks to end-of-file.
const PositionEnd uint64 = 0xFFFFFFFFFFFFFFFF

// FileInfo is the per-file metadata record. The firmware protocol keys
// its info records on GUIDs; the in-process surface exposes them as
// typed methods instead.
type FileInfo struct {
	// FileName is the basename only, never a path.
	FileName string

	FileSize     uint64
	PhysicalSize uint64

	CreateTime       Time
	LastAccessTime   Time
	ModificationTime Time

	Attribute uint64
}

// IsDir reports whether the record describes a directory.
func (i *FileInfo) IsDir() bool { return i.Attribute&AttrDirectory != 0 }

// FileSystemInfo is the volume-wide metadata record.
type FileSystemInfo struct {
	ReadOnly    bool
	VolumeSize  uint64
	FreeSpace   uint64
	BlockSize   uint32
	VolumeLabel string
}
