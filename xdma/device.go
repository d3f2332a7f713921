/*Package xdma provides access to the device files exposed by the Xilinx
DMA/Bridge Subsystem for PCI Express (XDMA) driver.

A Device unifies a read-capable and a write-capable device file, which may
be the same file, into one bounded address space.  On top of raw byte
transfers it provides 8 and 32-bit register access and read-modify-write of
bit fields within 32-bit registers.

There are four ways to configure a Device:
	1.  read only: a read path only, e.g. a card-to-host stream
	2.  write only: a write path only, e.g. a host-to-card stream
	3.  a pair: read and write paths differ but share one address space,
		e.g. c2h_0 and h2c_0 of a memory mapped DMA channel
	4.  read/write: identical paths, e.g. the user or control BAR.  The file
		is opened once and shared by both roles

Register access comes in two interchangeable styles.  AccessHandle seeks on
the open file and reads or writes exactly one register.  AccessMap maps the
page containing the register, touches it with a single load or store, and
unmaps it again; no mapping outlives the call.

Every operation performs real I/O.  There is no cache and no locking: a
Device must not be shared between goroutines without external serialization,
and WriteBitField in particular is not atomic with respect to other writers.

Basic usage:

	user, err := xdma.NewDevice(xdma.OSFileSystem{}, "/dev/xdma0_user", "/dev/xdma0_user", 0, 0x4_0000)
	if err != nil {
		log.Fatal(err)
	}
	v, err := user.ReadRegister(0x10, xdma.Width32)
	...
	err = user.WriteBitField(0x10, 4, 4, 0xF, true)
*/
package xdma

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the size of the address window used when none is given,
// the full 32-bit AXI address space
const DefaultCapacity = 0x1_0000_0000

// AccessMode selects how register operations reach the hardware
type AccessMode int

const (
	// AccessHandle performs register access with seek + read/write on the device file
	AccessHandle AccessMode = iota

	// AccessMap performs register access through a short-lived memory mapping
	AccessMap
)

// ParseAccessMode converts "handle" or "map" to an AccessMode
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "handle", "":
		return AccessHandle, nil
	case "map", "mmap":
		return AccessMap, nil
	default:
		return -1, fmt.Errorf("access mode must be a member of {handle, map}, got %q", s)
	}
}

func (a AccessMode) String() string {
	switch a {
	case AccessHandle:
		return "handle"
	case AccessMap:
		return "map"
	default:
		return ""
	}
}

// Device is one logical address space backed by up to two device files
type Device struct {
	// ReadPath is the device file reads are issued on; empty if write only
	ReadPath string

	// WritePath is the device file writes are issued on; empty if read only
	WritePath string

	// BaseAddress is added to every logical address before it reaches the file
	BaseAddress int64

	// Capacity is the size of the logical address window in bytes
	Capacity int64

	// Access selects the register access strategy
	Access AccessMode

	// Mapper creates the page mappings used when Access is AccessMap
	Mapper Mapper

	// Log receives warnings about short transfers
	Log logrus.FieldLogger

	fs FileSystem
	rd File
	wr File
}

// NewDevice creates a new device over the given paths.  Either path may be
// empty, but not both.  fs may be nil, in which case OSFileSystem is used.
// Nothing is opened until the first operation or an explicit Open.
func NewDevice(fs FileSystem, readPath, writePath string, baseAddress, capacity int64) (*Device, error) {
	if readPath == "" && writePath == "" {
		return nil, fmt.Errorf("new device: %w", ErrPathNotConfigured)
	}
	if baseAddress < 0 || capacity <= 0 {
		return nil, fmt.Errorf("new device base=%#x capacity=%#x: %w", baseAddress, capacity, ErrInvalidAddressSpace)
	}
	if fs == nil {
		fs = OSFileSystem{}
	}
	return &Device{
		ReadPath:    readPath,
		WritePath:   writePath,
		BaseAddress: baseAddress,
		Capacity:    capacity,
		Mapper:      PageMapper{},
		Log:         logrus.StandardLogger(),
		fs:          fs}, nil
}

// Remap returns a new device over the same files with a different address window
func (d *Device) Remap(baseAddress, capacity int64) (*Device, error) {
	out, err := NewDevice(d.fs, d.ReadPath, d.WritePath, baseAddress, capacity)
	if err != nil {
		return nil, err
	}
	out.Access = d.Access
	out.Mapper = d.Mapper
	out.Log = d.Log
	return out, nil
}

// CanRead returns true if the device has a read path
func (d *Device) CanRead() bool {
	return d.ReadPath != ""
}

// CanWrite returns true if the device has a write path
func (d *Device) CanWrite() bool {
	return d.WritePath != ""
}

// Shared returns true if the read and write roles resolve to the same file
func (d *Device) Shared() bool {
	return d.ReadPath != "" && d.ReadPath == d.WritePath
}

func (d *Device) String() string {
	name := func(p string) string {
		if p == "" {
			return "None"
		}
		return filepath.Base(p)
	}
	return fmt.Sprintf("device file read @ %s, write @ %s", name(d.ReadPath), name(d.WritePath))
}

// IsOpen returns true if the device files are currently held open
func (d *Device) IsOpen() bool {
	return d.rd != nil || d.wr != nil
}

// Open the device file(s).  Calling Open on an open device does nothing.
// While a device is open, Read, Write and register operations reuse the open
// handles instead of opening and closing around each call.
func (d *Device) Open() error {
	if d.IsOpen() {
		return nil
	}
	if d.Shared() {
		f, err := d.fs.Open(d.ReadPath, ReadWrite)
		if err != nil {
			return err
		}
		d.rd, d.wr = f, f
		return nil
	}
	if d.CanRead() {
		f, err := d.fs.Open(d.ReadPath, ReadOnly)
		if err != nil {
			return err
		}
		d.rd = f
	}
	if d.CanWrite() {
		f, err := d.fs.Open(d.WritePath, WriteOnly)
		if err != nil {
			d.Close()
			return err
		}
		d.wr = f
	}
	return nil
}

// Close the device file(s).  Calling Close on a closed device does nothing.
func (d *Device) Close() error {
	var err error
	if d.rd != nil {
		err = d.rd.Close()
	}
	if d.wr != nil && d.wr != d.rd {
		if err2 := d.wr.Close(); err == nil {
			err = err2
		}
	}
	d.rd, d.wr = nil, nil
	return err
}

// acquire opens the device for a single operation.  The returned release
// closes it again, unless the caller was already holding it open.
func (d *Device) acquire() (func() error, error) {
	if d.IsOpen() {
		return func() error { return nil }, nil
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d.Close, nil
}

// checkRange ensures [addr, addr+n) lies in the address window
func (d *Device) checkRange(addr int64, n int) error {
	if addr < 0 || addr >= d.Capacity || addr+int64(n) > d.Capacity {
		return fmt.Errorf("target address %#x (+%d) with capacity %#x: %w", addr, n, d.Capacity, ErrAddressOutOfRange)
	}
	return nil
}

func (d *Device) seek(f File, addr int64) error {
	if addr < 0 {
		// stream endpoint, no positioning
		return nil
	}
	_, err := f.Seek(addr+d.BaseAddress, io.SeekStart)
	return err
}

// Read fills buf from logical address addr.  A negative addr skips the seek,
// for stream (FIFO) endpoints.  The number of bytes actually read is always
// returned; if it differs from len(buf) the error is a *ShortTransferError.
// Only addr is checked against Capacity; a buffer running past the end of the
// window is passed to the file as is and ends in whatever the driver does.
func (d *Device) Read(addr int64, buf []byte) (int, error) {
	if !d.CanRead() {
		return 0, fmt.Errorf("read from %s: %w", d, ErrPathNotConfigured)
	}
	if addr >= 0 {
		if err := d.checkRange(addr, 1); err != nil {
			return 0, err
		}
	}
	release, err := d.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	if err := d.seek(d.rd, addr); err != nil {
		return 0, err
	}
	n, err := d.rd.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read %s: %w", d.ReadPath, err)
	}
	if n != len(buf) {
		d.Log.WithFields(logrus.Fields{"path": d.ReadPath, "want": len(buf), "got": n}).Warn("bad read")
		return n, &ShortTransferError{Op: "read", Path: d.ReadPath, Requested: len(buf), Transferred: n}
	}
	return n, nil
}

// Write copies data to logical address addr.  A negative addr skips the seek,
// for stream (FIFO) endpoints.  The number of bytes actually written is always
// returned; if it differs from len(data) the error is a *ShortTransferError.
// As with Read, only addr is checked against Capacity.
func (d *Device) Write(addr int64, data []byte) (int, error) {
	if !d.CanWrite() {
		return 0, fmt.Errorf("write to %s: %w", d, ErrPathNotConfigured)
	}
	if addr >= 0 {
		if err := d.checkRange(addr, 1); err != nil {
			return 0, err
		}
	}
	release, err := d.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	if err := d.seek(d.wr, addr); err != nil {
		return 0, err
	}
	n, err := d.wr.Write(data)
	if n != len(data) {
		d.Log.WithFields(logrus.Fields{"path": d.WritePath, "want": len(data), "got": n}).Warn("bad write")
		return n, &ShortTransferError{Op: "write", Path: d.WritePath, Requested: len(data), Transferred: n}
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", d.WritePath, err)
	}
	return n, nil
}

// ReadStream reads from a stream endpoint without seeking
func (d *Device) ReadStream(buf []byte) (int, error) {
	return d.Read(-1, buf)
}

// WriteStream writes to a stream endpoint without seeking
func (d *Device) WriteStream(data []byte) (int, error) {
	return d.Write(-1, data)
}
