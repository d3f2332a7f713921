package xdma

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/dasdaq/xdmactl/bitfield"
	"github.com/dasdaq/xdmactl/util"
)

// Width is the width of a register access in bits
type Width uint

const (
	// Width8 is a byte register, as used by SPI bridged chips
	Width8 Width = 8

	// Width32 is an AXI-Lite word register
	Width32 Width = 32
)

// Bytes returns the number of bytes in the access
func (w Width) Bytes() int {
	return int(w) / 8
}

func (w Width) valid() bool {
	return w == Width8 || w == Width32
}

// RegisterIO is the register level interface shared by devices and the
// drivers layered on them
type RegisterIO interface {
	ReadRegister(addr int64, width Width) (uint32, error)
	WriteRegister(addr int64, value uint32, width Width) error
	ReadBitField(addr int64, start, length uint) (uint32, error)
	WriteBitField(addr int64, start, length uint, value uint32, strict bool) error
	CheckBit(addr int64, position uint) (bool, error)
}

// checkRegister validates the width, range and alignment of a register access
func (d *Device) checkRegister(addr int64, width Width) error {
	if !width.valid() {
		return fmt.Errorf("register @ %#x width %d: %w", addr, width, ErrInvalidWidth)
	}
	if err := d.checkRange(addr, width.Bytes()); err != nil {
		return err
	}
	if (addr+d.BaseAddress)%int64(width.Bytes()) != 0 {
		return fmt.Errorf("%d-bit register @ %#x: %w", width, addr+d.BaseAddress, ErrAlignment)
	}
	return nil
}

// ReadRegister reads one 8 or 32-bit register at logical address addr.
// 32-bit registers must be 4-byte aligned.
func (d *Device) ReadRegister(addr int64, width Width) (uint32, error) {
	if !d.CanRead() {
		return 0, fmt.Errorf("read register from %s: %w", d, ErrPathNotConfigured)
	}
	if err := d.checkRegister(addr, width); err != nil {
		return 0, err
	}
	if d.Access == AccessMap {
		return d.readMapped(addr, width)
	}
	buf := make([]byte, width.Bytes())
	if _, err := d.Read(addr, buf); err != nil {
		return 0, err
	}
	if width == Width8 {
		return uint32(buf[0]), nil
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteRegister writes one 8 or 32-bit register at logical address addr.
func (d *Device) WriteRegister(addr int64, value uint32, width Width) error {
	if !d.CanWrite() {
		return fmt.Errorf("write register to %s: %w", d, ErrPathNotConfigured)
	}
	if err := d.checkRegister(addr, width); err != nil {
		return err
	}
	if width == Width8 && value > 0xFF {
		return fmt.Errorf("byte register @ %#x value %#x: %w", addr, value, ErrValueOverflow)
	}
	if d.Access == AccessMap {
		return d.writeMapped(addr, value, width)
	}
	buf := make([]byte, width.Bytes())
	if width == Width8 {
		buf[0] = byte(value)
	} else {
		binary.LittleEndian.PutUint32(buf, value)
	}
	_, err := d.Write(addr, buf)
	return err
}

// mapRegister maps the page(s) containing the register and returns the
// mapping and the in-page offset of the register
func (d *Device) mapRegister(path string, addr int64, width Width) (Mapping, int, error) {
	if d.Mapper == nil {
		return nil, 0, ErrMapUnsupported
	}
	target := addr + d.BaseAddress
	page := int64(d.Mapper.PageSize())
	start := target &^ (page - 1)
	offset := int(target - start)
	m, err := d.Mapper.Map(path, start, offset+width.Bytes())
	if err != nil {
		return nil, 0, err
	}
	return m, offset, nil
}

func (d *Device) readMapped(addr int64, width Width) (uint32, error) {
	m, offset, err := d.mapRegister(d.ReadPath, addr, width)
	if err != nil {
		return 0, err
	}
	defer m.Close()
	b := m.Bytes()[offset:]
	if width == Width8 {
		return uint32(b[0]), nil
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[0]))), nil
}

func (d *Device) writeMapped(addr int64, value uint32, width Width) error {
	m, offset, err := d.mapRegister(d.WritePath, addr, width)
	if err != nil {
		return err
	}
	b := m.Bytes()[offset:]
	if width == Width8 {
		b[0] = byte(value)
	} else {
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&b[0])), value)
	}
	return m.Close()
}

func checkField(start, length uint) error {
	if length == 0 || start+length > 32 {
		return fmt.Errorf("field [%d, %d): %w", start, start+length, ErrFieldRange)
	}
	return nil
}

// ReadBitField reads the 32-bit register at addr and returns bits [start, start+length)
func (d *Device) ReadBitField(addr int64, start, length uint) (uint32, error) {
	if err := checkField(start, length); err != nil {
		return 0, err
	}
	reg, err := d.ReadRegister(addr, Width32)
	if err != nil {
		return 0, err
	}
	return util.GetBits(reg, start, length), nil
}

// WriteBitField replaces bits [start, start+length) of the 32-bit register at
// addr with value, leaving the other bits as they were read.
//
// If strict, the register is read back and compared to the intended value, a
// mismatch is returned as a *VerificationError.  strict must be false for
// registers holding self-clearing or non-echoing bits, and for registers the
// hardware may change on its own.
func (d *Device) WriteBitField(addr int64, start, length uint, value uint32, strict bool) error {
	if err := checkField(start, length); err != nil {
		return err
	}
	current, err := d.ReadRegister(addr, Width32)
	if err != nil {
		return err
	}
	updated := util.UpdateBits(current, start, length, value)
	if err := d.WriteRegister(addr, updated, Width32); err != nil {
		return err
	}
	if !strict {
		return nil
	}
	actual, err := d.ReadRegister(addr, Width32)
	if err != nil {
		return err
	}
	if actual != updated {
		return &VerificationError{Addr: addr, Expected: updated, Actual: actual}
	}
	return nil
}

// CheckBit returns true if the bit at position of the 32-bit register at addr is set
func (d *Device) CheckBit(addr int64, position uint) (bool, error) {
	if position >= 32 {
		return false, fmt.Errorf("bit %d: %w", position, ErrFieldRange)
	}
	reg, err := d.ReadRegister(addr, Width32)
	if err != nil {
		return false, err
	}
	return util.IsBitSet(reg, position), nil
}

// ReadFields reads the register at addr and unpacks it per l
func (d *Device) ReadFields(addr int64, l bitfield.Layout) ([]uint32, error) {
	reg, err := d.ReadRegister(addr, Width32)
	if err != nil {
		return nil, err
	}
	return l.Unpack(reg), nil
}

// WriteFields packs values per l and writes the whole register at addr
func (d *Device) WriteFields(addr int64, l bitfield.Layout, values []uint32) error {
	reg, err := l.Pack(values)
	if err != nil {
		return err
	}
	return d.WriteRegister(addr, reg, Width32)
}
