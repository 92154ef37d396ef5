// Package efi defines the firmware-facing vocabulary of the driver: the
// status-code space, the file open-mode and attribute bits, the metadata
// records returned by GetInfo, and the EFI time representation.
//
// The numeric values match the UEFI specification so that a thin FFI
// layer can forward them unmodified. Status implements error, which lets
// the driver surface protocol failures through ordinary Go error returns
// while callers that speak the protocol recover the exact code with
// errors.As or StatusOf.
package efi

import "errors"

// Status is an EFI status code. The high bit marks errors; codes between
// 1 and the high bit are warnings, which report a degraded success.
type Status uint64

const errBit Status = 1 << 63

const (
	Success Status = 0

	LoadError           Status = errBit | 1
	InvalidParameter    Status = errBit | 2
	Unsupported         Status = errBit | 3
	BadBufferSize       Status = errBit | 4
	BufferTooSmall      Status = errBit | 5
	NotReady            Status = errBit | 6
	DeviceError         Status = errBit | 7
	WriteProtected      Status = errBit | 8
	OutOfResources      Status = errBit | 9
	VolumeCorrupted     Status = errBit | 10
	VolumeFull          Status = errBit | 11
	NoMedia             Status = errBit | 12
	MediaChanged        Status = errBit | 13
	NotFound            Status = errBit | 14
	AccessDenied        Status = errBit | 15
	NoResponse          Status = errBit | 16
	NoMapping           Status = errBit | 17
	Timeout             Status = errBit | 18
	NotStarted          Status = errBit | 19
	AlreadyStarted      Status = errBit | 20
	Aborted             Status = errBit | 21
	ICMPError           Status = errBit | 22
	TFTPError           Status = errBit | 23
	ProtocolError       Status = errBit | 24
	IncompatibleVersion Status = errBit | 25
	SecurityViolation   Status = errBit | 26
	CRCError            Status = errBit | 27
	EndOfMedia          Status = errBit | 28
	EndOfFile           Status = errBit | 31
	InvalidLanguage     Status = errBit | 32
	CompromisedData     Status = errBit | 33

	WarnUnknownGlyph    Status = 1
	WarnDeleteFailure   Status = 2
	WarnWriteFailure    Status = 3
	WarnBufferTooSmall  Status = 4
	WarnStaleData       Status = 5
	WarnFileSystem      Status = 6
	WarnResetRequired   Status = 7
)

// IsError reports whether s carries the error bit. Warnings and Success
// are not errors in the protocol sense.
func (s Status) IsError() bool { return s&errBit != 0 }

// IsWarning reports whether s is a warning code.
func (s Status) IsWarning() bool { return s != Success && !s.IsError() }

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case LoadError:
		return "Load Error"
	case InvalidParameter:
		return "Invalid Parameter"
	case Unsupported:
		return "Unsupported"
	case BadBufferSize:
		return "Bad Buffer Size"
	case BufferTooSmall:
		return "Buffer Too Small"
	case NotReady:
		return "Not Ready"
	case DeviceError:
		return "Device Error"
	case WriteProtected:
		return "Write Protected"
	case OutOfResources:
		return "Out of Resources"
	case VolumeCorrupted:
		return "Volume Corrupted"
	case VolumeFull:
		return "Volume Full"
	case NoMedia:
		return "No Media"
	case MediaChanged:
		return "Media Changed"
	case NotFound:
		return "Not Found"
	case AccessDenied:
		return "Access Denied"
	case NoResponse:
		return "No Response"
	case NoMapping:
		return "No Mapping"
	case Timeout:
		return "Timeout"
	case NotStarted:
		return "Not Started"
	case AlreadyStarted:
		return "Already Started"
	case Aborted:
		return "Aborted"
	case ProtocolError:
		return "Protocol Error"
	case IncompatibleVersion:
		return "Incompatible Version"
	case SecurityViolation:
		return "Security Violation"
	case CRCError:
		return "CRC Error"
	case EndOfMedia:
		return "End of Media"
	case EndOfFile:
		return "End of File"
	case InvalidLanguage:
		return "Invalid Language"
	case CompromisedData:
		return "Compromised Data"
	case WarnDeleteFailure:
		return "Warning: Delete Failure"
	case WarnWriteFailure:
		return "Warning: Write Failure"
	case WarnBufferTooSmall:
		return "Warning: Buffer Too Small"
	case WarnStaleData:
		return "Warning: Stale Data"
	default:
		return "Unknown Status"
	}
}

// Error makes Status usable as a Go error. Success should never be
// returned as a non-nil error; Err is the safe constructor.
func (s Status) Error() string { return s.String() }

// Err returns s as an error, or nil when s is Success.
func (s Status) Err() error {
	if s == Success {
		return nil
	}
	return s
}

// StatusOf extracts the Status from err. A nil error is Success; an
// error that does not wrap a Status reports DeviceError, the catch-all
// the original driver uses for failures with no protocol mapping.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return DeviceError
}
