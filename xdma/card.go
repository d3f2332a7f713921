package xdma

import (
	"fmt"
	"strings"

	"github.com/dasdaq/xdmactl/util"
)

// control register block layout, see PG195
const (
	blockCount      = 7
	blockStride     = 0x1000
	channelStride   = 0x100
	channelUsedMask = 0x1cf00000

	// ControlCapacity is the size of the control BAR address window
	ControlCapacity = blockCount * blockStride
)

// Block identifiers found at bits [16, 20) of the first register of a block
const (
	BlockH2C = 0
	BlockC2H = 1
)

// Card is the set of device files one XDMA card exposes
type Card struct {
	// Root is the path prefix shared by the card's device files, e.g. /dev/xdma0
	Root string

	// C2H are the card-to-host channels, read only
	C2H []*Device

	// H2C are the host-to-card channels, write only
	H2C []*Device

	// DMA pairs C2H[i] and H2C[i] into one memory mapped address space
	DMA []*Device

	// Bypass is the DMA bypass BAR
	Bypass *Device

	// Control is the XDMA IP's own register space
	Control *Device

	// User is the AXI-Lite user register space
	User *Device
}

// NewCard creates the devices of the card at root.  dmaCapacity sizes the
// DMA channels, userCapacity sizes the user and bypass BARs.  Nothing is
// opened; use Present to see which files exist.
func NewCard(fs FileSystem, naming Naming, root string, dmaCapacity, userCapacity int64) (*Card, error) {
	if dmaCapacity <= 0 || userCapacity <= 0 {
		return nil, fmt.Errorf("new card %s: %w", root, ErrInvalidAddressSpace)
	}
	c := &Card{Root: root}
	mk := func(r, w string, capacity int64) *Device {
		// capacities and paths are valid, NewDevice cannot fail
		d, _ := NewDevice(fs, r, w, 0, capacity)
		return d
	}
	for i := 0; i < naming.Channels; i++ {
		c2h, h2c := naming.C2H(root, i), naming.H2C(root, i)
		c.C2H = append(c.C2H, mk(c2h, "", dmaCapacity))
		c.H2C = append(c.H2C, mk("", h2c, dmaCapacity))
		c.DMA = append(c.DMA, mk(c2h, h2c, dmaCapacity))
	}
	bypass := naming.Path(root, "bypass")
	control := naming.Path(root, "control")
	user := naming.Path(root, "user")
	c.Bypass = mk(bypass, bypass, userCapacity)
	c.Control = mk(control, control, ControlCapacity)
	c.User = mk(user, user, userCapacity)
	return c, nil
}

// SetAccess sets the register access mode of every device on the card
func (c *Card) SetAccess(a AccessMode) {
	for _, d := range c.All() {
		d.Access = a
	}
}

// All returns every device of the card
func (c *Card) All() []*Device {
	out := make([]*Device, 0, 3*len(c.DMA)+3)
	out = append(out, c.H2C...)
	out = append(out, c.C2H...)
	out = append(out, c.DMA...)
	return append(out, c.Bypass, c.Control, c.User)
}

// Present returns the devices whose files can be opened
func (c *Card) Present() []*Device {
	var out []*Device
	for _, d := range c.All() {
		if err := d.Open(); err == nil {
			d.Close()
			out = append(out, d)
		}
	}
	return out
}

// IsAXIStream returns true if the DMA is configured as AXI4-Stream, false
// if AXI4 Memory Mapped
func (c *Card) IsAXIStream() (bool, error) {
	return c.Control.CheckBit(0, 15)
}

// Config returns the name of the DMA interface configuration
func (c *Card) Config() (string, error) {
	st, err := c.IsAXIStream()
	if err != nil {
		return "", err
	}
	if st {
		return "AXI4-Stream", nil
	}
	return "AXI4 Memory Mapped", nil
}

// EngineInfo describes one DMA channel engine found in the control space
type EngineInfo struct {
	// Direction is "H2C" or "C2H"
	Direction string `json:"direction"`

	// Base is the address of the channel's register block in the control space
	Base int64 `json:"base"`

	// Channel is the channel id reported by the engine
	Channel uint32 `json:"channel"`

	// Streaming is true if the engine has an AXI4-Stream interface
	Streaming bool `json:"streaming"`
}

func (e EngineInfo) String() string {
	return fmt.Sprintf("%s channel %d @ %#05x streaming=%v", e.Direction, e.Channel, e.Base, e.Streaming)
}

// Engines scans the control space for H2C and C2H engines.  Unused channel
// slots read as zero and are skipped.  The control device is held open for
// the duration of the scan.
func (c *Card) Engines() ([]EngineInfo, error) {
	ctl := c.Control
	if err := ctl.Open(); err != nil {
		return nil, err
	}
	defer ctl.Close()
	var out []EngineInfo
	channels := len(c.DMA)
	for i := 0; i < blockCount; i++ {
		base := int64(i * blockStride)
		id, err := ctl.ReadBitField(base, 16, 4)
		if err != nil {
			return out, err
		}
		var dir string
		switch id {
		case BlockH2C:
			dir = "H2C"
		case BlockC2H:
			dir = "C2H"
		default:
			continue
		}
		for ch := 0; ch < channels; ch++ {
			chBase := base + int64(ch*channelStride)
			ident, err := ctl.ReadRegister(chBase, Width32)
			if err != nil {
				return out, err
			}
			if ident&channelUsedMask == 0 {
				continue
			}
			out = append(out, EngineInfo{
				Direction: dir,
				Base:      chBase,
				Channel:   util.GetBits(ident, 8, 4),
				Streaming: util.IsBitSet(ident, 15),
			})
		}
	}
	return out, nil
}

func (c *Card) String() string {
	var b strings.Builder
	b.WriteString(c.Root)
	for _, d := range c.Present() {
		b.WriteString("\n\t")
		b.WriteString(d.String())
	}
	return b.String()
}
