// Package blockdev defines the block/disk I/O boundary the driver
// consumes: a byte-addressable view of one storage medium, described by
// a media descriptor and accessed through positioned reads and writes.
//
// The interface mirrors the firmware's disk-I/O capability: the medium
// itself is stateless across calls (no open handle, no cursor), so all
// statefulness (open/dirty/read-only tracking) lives in the driver's
// device shim. Implementations:
//   - file:   a disk image on the local filesystem
//   - memory: a RAM disk, mainly for tests
//   - badger: blocks persisted as BadgerDB records
//   - s3:     a read-only remote image fetched with ranged GETs
package blockdev

import "errors"

// Media describes the medium behind a BlockIO. It matches the fields of
// the firmware's media descriptor that the driver consumes.
type Media struct {
	// ID identifies the current medium. Implementations change it when
	// the medium is swapped, which invalidates in-flight I/O.
	ID uint32

	// BlockSize is the logical block size in bytes. Always a power of
	// two, at least 512.
	BlockSize uint32

	// LastBlock is the index of the last addressable logical block, so
	// the medium holds (LastBlock+1)*BlockSize bytes.
	LastBlock uint64

	// ReadOnly reports media-derived write protection.
	ReadOnly bool
}

// ErrMediaChanged is returned by I/O calls carrying a stale media ID.
var ErrMediaChanged = errors.New("blockdev: media changed")

// BlockIO is a byte-addressable block device. Offsets are in bytes and
// need not be block-aligned; implementations handle straddling reads and
// read-modify-write internally, as the firmware disk-I/O layer does.
type BlockIO interface {
	// Media returns the current media descriptor.
	Media() Media

	// ReadAt fills buf from the medium starting at off. Short reads are
	// errors. mediaID must match the current medium.
	ReadAt(mediaID uint32, off int64, buf []byte) error

	// WriteAt writes buf to the medium starting at off. Short writes
	// are errors. mediaID must match the current medium.
	WriteAt(mediaID uint32, off int64, buf []byte) error

	// Flush commits any buffered writes to the medium.
	Flush() error

	// Close releases the underlying resources.
	Close() error
}

// Size returns the byte size of the medium described by m.
func Size(m Media) uint64 {
	return (m.LastBlock + 1) * uint64(m.BlockSize)
}
