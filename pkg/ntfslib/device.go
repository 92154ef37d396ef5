package ntfslib

// Device is the device-operations table the library drives its I/O
// through. The driver's shim implements it on top of the host's block
// I/O capability; the library never sees blocks, only a byte-addressed
// medium.
type Device interface {
	// Open prepares the device for I/O. EBUSY when already open; the
	// library opens the device exactly once per mount.
	Open(readOnly bool) error

	// Close releases the device, syncing first when dirty.
	Close() error

	// ReadAt performs a positioned read. Follows io.ReaderAt
	// semantics.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt performs a positioned write. EROFS when the device was
	// opened read-only.
	WriteAt(p []byte, off int64) (int, error)

	// Sync flushes buffered writes to the medium.
	Sync() error

	// Size returns the device size in bytes.
	Size() (int64, error)

	// ReadOnly reports whether the device was opened read-only.
	ReadOnly() bool
}
