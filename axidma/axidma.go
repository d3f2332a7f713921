/*Package axidma drives a Xilinx AXI DMA engine through its AXI-Lite register
space, reached with an xdma.RegisterIO.

The engine has two channels with identical register sets: MM2S (transmit,
memory to stream) at offset 0x00 and S2MM (receive, stream to memory) at
offset 0x30.  In scatter-gather mode a channel walks a ring of Descriptors
held in memory the engine can address; the host writes the ring, points the
current-descriptor register at its head and starts the engine by writing the
tail-descriptor register.  In direct mode one buffer is moved per start.

There is no interrupt driven completion.  Callers sleep (Settle) or poll
(WaitIdle) and then read the status register or the descriptors back.
*/
package axidma

import (
	"errors"

	"github.com/dasdaq/xdmactl/bitfield"
	"github.com/dasdaq/xdmactl/xdma"
)

const (
	// DescriptorSize is the number of meaningful bytes in a descriptor
	DescriptorSize = 32

	// SlotStride is the distance between descriptors in memory.  The engine
	// addresses descriptors by slot index, so rings and their bounds must be
	// aligned to it
	SlotStride = 64

	// MaxBufferLength is one past the largest buffer a descriptor or direct
	// transfer can describe, the width of the length field is 26 bits
	MaxBufferLength = 1 << 26

	// MaxRingLength is the number of descriptor slots the engine can address
	MaxRingLength = 1 << descFieldLength
)

// loadChunk is the number of descriptors LoadRing reads at a time
const loadChunk = 256

// channel register offsets, relative to the channel base
const (
	regControl        = 0x00
	regStatus         = 0x04
	regCurrentDesc    = 0x08
	regCurrentDescMSB = 0x0C
	regTailDesc       = 0x10
	regTailDescMSB    = 0x14
	regAddress        = 0x18
	regAddressMSB     = 0x1C
	regLength         = 0x28

	// SGControl is the scatter-gather user/cache control register, shared by both channels
	SGControl = 0x2C
)

// channel bases
const (
	MM2SBase = 0x00
	S2MMBase = 0x30
)

// bit positions
const (
	ctlRunStop = 0
	ctlReset   = 2
	ctlKeyhole = 3
	ctlCyclic  = 4

	stHalted        = 0
	stIdle          = 1
	stScatterGather = 3

	// error flags start here in direct mode and in scatter-gather mode
	stErrorsDirect = 4
	stErrorsSG     = 8

	// the current and tail descriptor registers hold a slot index in [6, 32)
	descFieldStart  = 6
	descFieldLength = 26
)

var (
	// ErrAlignment is generated when a descriptor pointer or ring boundary is
	// not a multiple of SlotStride
	ErrAlignment = xdma.ErrAlignment

	// ErrBufferTooLarge is generated when a buffer length is MaxBufferLength or more
	ErrBufferTooLarge = errors.New("buffer length must be less than 64 MiB")

	// ErrDescriptorSize is generated when fewer than DescriptorSize bytes are unmarshaled
	ErrDescriptorSize = errors.New("descriptor must be 32 bytes")

	// ErrEmptyRing is generated when a ring with no descriptors is requested
	ErrEmptyRing = errors.New("ring must have at least one descriptor")

	// ErrRingOrder is generated when the end of a ring precedes its start
	ErrRingOrder = errors.New("ring end precedes start")

	// ErrRingRange is generated when a ring lies above the 32-bit descriptor window
	ErrRingRange = errors.New("ring must lie below 4 GiB")

	// ErrUnknownChannel is generated when a channel name is not understood
	ErrUnknownChannel = errors.New("channel must be a member of {tx, mm2s, rx, s2mm}")

	// ErrNotIdle is generated when a channel does not go idle in time
	ErrNotIdle = errors.New("channel did not go idle")
)

var (
	controlLayout = bitfield.MustNew(
		bitfield.Field{Name: "run_stop", Width: 1},
		bitfield.Field{Name: "reserved", Width: 1},
		bitfield.Field{Name: "reset", Width: 1},
		bitfield.Field{Name: "keyhole", Width: 1},
		bitfield.Field{Name: "cyclic", Width: 1},
	)

	descControlLayout = bitfield.MustNew(
		bitfield.Field{Name: "length", Width: 26},
		bitfield.Field{Name: "eof", Width: 1},
		bitfield.Field{Name: "sof", Width: 1},
	)

	descStatusLayout = bitfield.MustNew(
		bitfield.Field{Name: "transferred", Width: 26},
		bitfield.Field{Name: "reserved", Width: 2},
		bitfield.Field{Name: "internal_err", Width: 1},
		bitfield.Field{Name: "slave_err", Width: 1},
		bitfield.Field{Name: "decode_err", Width: 1},
		bitfield.Field{Name: "completed", Width: 1},
	)
)
