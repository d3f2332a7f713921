package axidma

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/dasdaq/xdmactl/util"
	"github.com/dasdaq/xdmactl/xdma"
)

// DefaultSettleTime is how long Settle waits for a transfer by default
const DefaultSettleTime = time.Second

// Engine is an AXI DMA engine
type Engine struct {
	regs xdma.RegisterIO

	// Log receives the start sequence at debug level and its result at info
	Log logrus.FieldLogger

	// SettleTime is the fixed wait used by Settle
	SettleTime time.Duration
}

// NewEngine returns an engine whose register space is regs, typically an
// xdma.Device remapped onto the engine's AXI-Lite window in the user BAR
func NewEngine(regs xdma.RegisterIO) *Engine {
	return &Engine{regs: regs, Log: logrus.StandardLogger(), SettleTime: DefaultSettleTime}
}

// Channel is one direction of the engine
type Channel struct {
	e *Engine

	// Name is MM2S or S2MM
	Name string

	// Base is the offset of the channel's registers in the engine's space
	Base int64
}

// TX returns the transmit (MM2S) channel
func (e *Engine) TX() Channel {
	return Channel{e: e, Name: "MM2S", Base: MM2SBase}
}

// RX returns the receive (S2MM) channel
func (e *Engine) RX() Channel {
	return Channel{e: e, Name: "S2MM", Base: S2MMBase}
}

// Channel returns the channel named tx, mm2s, rx or s2mm
func (e *Engine) Channel(name string) (Channel, error) {
	switch strings.ToLower(name) {
	case "tx", "mm2s":
		return e.TX(), nil
	case "rx", "s2mm":
		return e.RX(), nil
	default:
		return Channel{}, fmt.Errorf("channel %q: %w", name, ErrUnknownChannel)
	}
}

// TXEnabled returns true if the transmit channel's control register is non-zero
func (e *Engine) TXEnabled() (bool, error) {
	return e.TX().Enabled()
}

// RXEnabled returns true if the receive channel's control register is non-zero
func (e *Engine) RXEnabled() (bool, error) {
	return e.RX().Enabled()
}

// ScatterGather returns true if either channel reports the engine was built
// with scatter-gather support
func (e *Engine) ScatterGather() (bool, error) {
	rx, err := e.regs.CheckBit(S2MMBase+regStatus, stScatterGather)
	if err != nil || rx {
		return rx, err
	}
	return e.regs.CheckBit(MM2SBase+regStatus, stScatterGather)
}

// Reset resets the transmit channel if it is enabled, else the receive
// channel if it is enabled, else does nothing
func (e *Engine) Reset() error {
	tx, err := e.TXEnabled()
	if err != nil {
		return err
	}
	if tx {
		return e.TX().Reset()
	}
	rx, err := e.RXEnabled()
	if err != nil {
		return err
	}
	if rx {
		return e.RX().Reset()
	}
	return nil
}

// Control is the decoded control register of a channel
type Control struct {
	Raw     uint32 `json:"raw"`
	RunStop bool   `json:"runStop"`
	Reset   bool   `json:"reset"`
	Keyhole bool   `json:"keyhole"`
	Cyclic  bool   `json:"cyclic"`
}

// DecodeControl decodes a raw control register
func DecodeControl(raw uint32) Control {
	f := controlLayout.Unpack(raw)
	return Control{
		Raw:     raw,
		RunStop: f[0] == 1,
		Reset:   f[2] == 1,
		Keyhole: f[3] == 1,
		Cyclic:  f[4] == 1}
}

// Status is the decoded status register of a channel
type Status struct {
	Raw           uint32 `json:"raw"`
	Halted        bool   `json:"halted"`
	Idle          bool   `json:"idle"`
	ScatterGather bool   `json:"scatterGather"`
	InternalError bool   `json:"internalError"`
	SlaveError    bool   `json:"slaveError"`
	DecodeError   bool   `json:"decodeError"`
}

// DecodeStatus decodes a raw status register.  sg selects where the error
// flags are found: bits 8, 9, 10 in scatter-gather mode, bits 4, 5, 6 in
// direct mode.
func DecodeStatus(raw uint32, sg bool) Status {
	var off uint = stErrorsDirect
	if sg {
		off = stErrorsSG
	}
	return Status{
		Raw:           raw,
		Halted:        util.IsBitSet(raw, stHalted),
		Idle:          util.IsBitSet(raw, stIdle),
		ScatterGather: util.IsBitSet(raw, stScatterGather),
		InternalError: util.IsBitSet(raw, off),
		SlaveError:    util.IsBitSet(raw, off+1),
		DecodeError:   util.IsBitSet(raw, off+2)}
}

// HasError returns true if any error flag is set
func (s Status) HasError() bool {
	return s.InternalError || s.SlaveError || s.DecodeError
}

func (s Status) String() string {
	return fmt.Sprintf("halted: %v, idle: %v, internal error: %v, slave error: %v, decode error: %v",
		s.Halted, s.Idle, s.InternalError, s.SlaveError, s.DecodeError)
}

// ChannelInfo is a snapshot of a channel's registers
type ChannelInfo struct {
	Name              string  `json:"name"`
	Enabled           bool    `json:"enabled"`
	Control           Control `json:"control"`
	Status            Status  `json:"status"`
	CurrentDescriptor uint64  `json:"currentDescriptor"`
	TailDescriptor    uint64  `json:"tailDescriptor"`
}

// Info is a snapshot of both channels
type Info struct {
	TXEnabled     bool        `json:"txEnabled"`
	RXEnabled     bool        `json:"rxEnabled"`
	ScatterGather bool        `json:"scatterGather"`
	TX            ChannelInfo `json:"tx"`
	RX            ChannelInfo `json:"rx"`
}

// Info reads a snapshot of the engine
func (e *Engine) Info() (Info, error) {
	var (
		out Info
		err error
	)
	out.ScatterGather, err = e.ScatterGather()
	if err != nil {
		return out, err
	}
	out.TX, err = e.TX().Info(out.ScatterGather)
	if err != nil {
		return out, err
	}
	out.RX, err = e.RX().Info(out.ScatterGather)
	if err != nil {
		return out, err
	}
	out.TXEnabled = out.TX.Enabled
	out.RXEnabled = out.RX.Enabled
	return out, nil
}

// Info reads a snapshot of the channel, decoding status per sg
func (c Channel) Info(sg bool) (ChannelInfo, error) {
	out := ChannelInfo{Name: c.Name}
	raw, err := c.e.regs.ReadRegister(c.Base+regControl, xdma.Width32)
	if err != nil {
		return out, err
	}
	out.Enabled = raw != 0
	out.Control = DecodeControl(raw)
	raw, err = c.e.regs.ReadRegister(c.Base+regStatus, xdma.Width32)
	if err != nil {
		return out, err
	}
	out.Status = DecodeStatus(raw, sg)
	if out.CurrentDescriptor, err = c.CurrentDescriptor(); err != nil {
		return out, err
	}
	out.TailDescriptor, err = c.TailDescriptor()
	return out, err
}

// Enabled returns true if the channel's control register is non-zero
func (c Channel) Enabled() (bool, error) {
	raw, err := c.e.regs.ReadRegister(c.Base+regControl, xdma.Width32)
	return raw != 0, err
}

// Control reads and decodes the control register
func (c Channel) Control() (Control, error) {
	raw, err := c.e.regs.ReadRegister(c.Base+regControl, xdma.Width32)
	return DecodeControl(raw), err
}

// Status reads and decodes the status register.  The engine's scatter-gather
// capability is read first and selects the error flag layout.
func (c Channel) Status() (Status, error) {
	sg, err := c.e.ScatterGather()
	if err != nil {
		return Status{}, err
	}
	raw, err := c.e.regs.ReadRegister(c.Base+regStatus, xdma.Width32)
	if err != nil {
		return Status{}, err
	}
	return DecodeStatus(raw, sg), nil
}

// Reset sets the channel's self-clearing reset bit
func (c Channel) Reset() error {
	return c.e.regs.WriteBitField(c.Base+regControl, ctlReset, 1, 1, false)
}

func (c Channel) read64(lo, hi int64) (uint64, error) {
	l, err := c.e.regs.ReadRegister(c.Base+lo, xdma.Width32)
	if err != nil {
		return 0, err
	}
	h, err := c.e.regs.ReadRegister(c.Base+hi, xdma.Width32)
	if err != nil {
		return 0, err
	}
	return uint64(h)<<32 | uint64(l), nil
}

// CurrentDescriptor returns the address of the descriptor the engine is on
func (c Channel) CurrentDescriptor() (uint64, error) {
	return c.read64(regCurrentDesc, regCurrentDescMSB)
}

// TailDescriptor returns the address of the tail descriptor
func (c Channel) TailDescriptor() (uint64, error) {
	return c.read64(regTailDesc, regTailDescMSB)
}

// TailSlot returns the slot index written to the tail descriptor register
// for a ring whose last descriptor is at end.  A cyclic ring's tail is placed
// SlotStride slots past the end so the engine never reaches it and wraps to
// the head instead.
func TailSlot(end uint64, cyclic bool) uint64 {
	if cyclic {
		return end/SlotStride + SlotStride
	}
	return end / SlotStride
}

// StartScatterGather points the channel at the ring spanning [start, end]
// and starts it.  Both bounds must be multiples of SlotStride; this is
// checked before any register is touched.
//
// The sequence is: reset the channel, clear run-stop (the current descriptor
// register is read only while running), write the current descriptor slot,
// set run-stop and the cyclic bit, then write the tail descriptor slot,
// which starts the engine.
//
// The returned bool is a liveness hint: the current descriptor lies in
// [start, end] and run-stop reads back set.  The current descriptor may be
// stale, so false does not prove the start failed.
func (c Channel) StartScatterGather(start, end uint64, cyclic bool) (bool, error) {
	if start%SlotStride != 0 || end%SlotStride != 0 {
		return false, fmt.Errorf("ring [%#x, %#x]: %w", start, end, ErrAlignment)
	}
	if end < start {
		return false, fmt.Errorf("ring [%#x, %#x]: %w", start, end, ErrRingOrder)
	}
	if TailSlot(end, cyclic) >= 1<<descFieldLength {
		return false, fmt.Errorf("ring [%#x, %#x]: %w", start, end, ErrRingRange)
	}
	regs := c.e.regs
	ctl := c.Base + regControl
	log := c.e.Log.WithFields(logrus.Fields{"channel": c.Name, "start": start, "end": end, "cyclic": cyclic})

	log.Debug("reset")
	if err := c.Reset(); err != nil {
		return false, err
	}
	log.Debug("clear run-stop")
	if err := regs.WriteBitField(ctl, ctlRunStop, 1, 0, true); err != nil {
		return false, err
	}
	log.Debug("set current descriptor")
	if err := regs.WriteBitField(c.Base+regCurrentDesc, descFieldStart, descFieldLength, uint32(start/SlotStride), false); err != nil {
		return false, err
	}
	log.Debug("set run-stop")
	if err := regs.WriteBitField(ctl, ctlRunStop, 1, 1, true); err != nil {
		return false, err
	}
	if err := regs.WriteBitField(ctl, ctlCyclic, 1, util.BoolToUint32(cyclic), true); err != nil {
		return false, err
	}
	log.Debug("set tail descriptor")
	if err := regs.WriteBitField(c.Base+regTailDesc, descFieldStart, descFieldLength, uint32(TailSlot(end, cyclic)), false); err != nil {
		return false, err
	}

	current, err := regs.ReadRegister(c.Base+regCurrentDesc, xdma.Width32)
	if err != nil {
		return false, err
	}
	running, err := regs.CheckBit(ctl, ctlRunStop)
	if err != nil {
		return false, err
	}
	cur := uint64(current)
	live := end >= cur && cur >= start && start%SlotStride == 0 && running
	log.WithFields(logrus.Fields{"current": cur, "live": live}).Info("scatter-gather started")
	return live, nil
}

// StartRing starts the channel on a ring already stored in memory
func (c Channel) StartRing(r *Ring) (bool, error) {
	if r.Len() == 0 {
		return false, ErrEmptyRing
	}
	return c.StartScatterGather(r.Start(), r.End(), r.Cyclic)
}

// DirectTransfer moves one buffer of length bytes at addr without descriptors.
// The address high word is only written when non-zero.  Writing the length
// starts the transfer; there is no completion signal, use Settle or WaitIdle.
func (c Channel) DirectTransfer(addr uint64, length uint32) error {
	if length >= MaxBufferLength {
		return fmt.Errorf("direct transfer of %d bytes: %w", length, ErrBufferTooLarge)
	}
	regs := c.e.regs
	if err := regs.WriteBitField(c.Base+regControl, ctlRunStop, 1, 1, true); err != nil {
		return err
	}
	if err := regs.WriteRegister(c.Base+regAddress, uint32(addr), xdma.Width32); err != nil {
		return err
	}
	if hi := uint32(addr >> 32); hi != 0 {
		if err := regs.WriteRegister(c.Base+regAddressMSB, hi, xdma.Width32); err != nil {
			return err
		}
	}
	c.e.Log.WithFields(logrus.Fields{"channel": c.Name, "addr": addr, "length": length}).Debug("direct transfer")
	return regs.WriteRegister(c.Base+regLength, length, xdma.Width32)
}

// Length reads the direct mode length register, which holds the number of
// bytes actually transferred once a receive completes
func (c Channel) Length() (uint32, error) {
	return c.e.regs.ReadRegister(c.Base+regLength, xdma.Width32)
}

// Address reads the direct mode address register
func (c Channel) Address() (uint64, error) {
	return c.read64(regAddress, regAddressMSB)
}

// Settle sleeps for the engine's SettleTime then reads the status.  A
// transfer that has not finished is reported by the status, not an error.
func (c Channel) Settle() (Status, error) {
	time.Sleep(c.e.SettleTime)
	return c.Status()
}

// WaitIdle polls the status with exponential backoff until the channel is
// idle or max has elapsed, in which case the error is ErrNotIdle.  A max of
// zero or less polls once.
func (c Channel) WaitIdle(max time.Duration) (Status, error) {
	if max <= 0 {
		st, err := c.Status()
		if err == nil && !st.Idle {
			err = ErrNotIdle
		}
		return st, err
	}
	var st Status
	op := func() error {
		var err error
		st, err = c.Status()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !st.Idle {
			return ErrNotIdle
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         100 * time.Millisecond,
		MaxElapsedTime:      max,
		Clock:               backoff.SystemClock})
	return st, err
}
