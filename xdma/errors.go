package xdma

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressOutOfRange is generated when a logical address falls outside
	// of the device's address window
	ErrAddressOutOfRange = errors.New("address out of range")

	// ErrPathNotConfigured is generated when a read is attempted on a device
	// with no read path, or a write on a device with no write path
	ErrPathNotConfigured = errors.New("device path not configured")

	// ErrShortTransfer is generated when fewer bytes were moved than requested.
	// The transport has no resend semantics; the transfer is not retried
	ErrShortTransfer = errors.New("short transfer")

	// ErrVerificationFailed is generated when a strict bit field write does
	// not read back the value that was written
	ErrVerificationFailed = errors.New("register verification failed")

	// ErrAlignment is generated when an address is not aligned to the
	// granularity the hardware requires
	ErrAlignment = errors.New("bad alignment")

	// ErrInvalidWidth is generated when a register access width other than 8 or 32 is used
	ErrInvalidWidth = errors.New("register width must be 8 or 32 bits")

	// ErrFieldRange is generated when a bit field does not fit in a 32-bit register
	ErrFieldRange = errors.New("bit field exceeds 32-bit register")

	// ErrValueOverflow is generated when a value is too large for an 8-bit register
	ErrValueOverflow = errors.New("value does not fit register width")

	// ErrInvalidAddressSpace is generated when a device is created with a
	// negative base address or non-positive capacity
	ErrInvalidAddressSpace = errors.New("base address must be >= 0 and capacity > 0")

	// ErrMapUnsupported is generated when memory mapped register access is
	// requested on a platform without mmap
	ErrMapUnsupported = errors.New("memory mapped register access is not supported on this platform")
)

// ShortTransferError records a transfer that moved fewer bytes than requested
type ShortTransferError struct {
	// Op is "read" or "write"
	Op string

	// Path is the device file the transfer was issued on
	Path string

	Requested   int
	Transferred int
}

func (e *ShortTransferError) Error() string {
	return fmt.Sprintf("bad %s on %s: %d / %d bytes", e.Op, e.Path, e.Transferred, e.Requested)
}

// Unwrap returns ErrShortTransfer
func (e *ShortTransferError) Unwrap() error {
	return ErrShortTransfer
}

// VerificationError records the mismatch found by a strict write
type VerificationError struct {
	Addr     int64
	Expected uint32
	Actual   uint32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("write failed @ %#x: expected = %#08x, actual = %#08x", e.Addr, e.Expected, e.Actual)
}

// Unwrap returns ErrVerificationFailed
func (e *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}
