package axidma_test

import (
	"fmt"

	"github.com/dasdaq/xdmactl/util"
	"github.com/dasdaq/xdmactl/xdma"
)

// op is one register write seen by the fake
type op struct {
	Addr   int64
	Value  uint32
	Strict bool
}

func (o op) String() string {
	return fmt.Sprintf("%#02x <- %#x strict=%v", o.Addr, o.Value, o.Strict)
}

// regs is an in-memory register file that records writes.  Control
// registers clear their reset bit on write, as the hardware does.
type regs struct {
	mem    map[int64]uint32
	writes []op

	// frozen registers ignore writes
	frozen map[int64]bool
}

func newRegs() *regs {
	return &regs{mem: map[int64]uint32{}, frozen: map[int64]bool{}}
}

func (r *regs) store(addr int64, v uint32, strict bool) {
	r.writes = append(r.writes, op{Addr: addr, Value: v, Strict: strict})
	if r.frozen[addr] {
		return
	}
	if addr == 0x00 || addr == 0x30 {
		v &^= 1 << 2
	}
	r.mem[addr] = v
}

func (r *regs) ReadRegister(addr int64, width xdma.Width) (uint32, error) {
	return r.mem[addr], nil
}

func (r *regs) WriteRegister(addr int64, value uint32, width xdma.Width) error {
	r.store(addr, value, false)
	return nil
}

func (r *regs) ReadBitField(addr int64, start, length uint) (uint32, error) {
	return util.GetBits(r.mem[addr], start, length), nil
}

func (r *regs) WriteBitField(addr int64, start, length uint, value uint32, strict bool) error {
	v := util.UpdateBits(r.mem[addr], start, length, value)
	r.store(addr, v, strict)
	if strict && r.mem[addr] != v {
		return &xdma.VerificationError{Addr: addr, Expected: v, Actual: r.mem[addr]}
	}
	return nil
}

func (r *regs) CheckBit(addr int64, position uint) (bool, error) {
	return util.IsBitSet(r.mem[addr], position), nil
}
