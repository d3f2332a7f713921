package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/theckman/yacspin"

	"github.com/dasdaq/xdmactl/axidma"
	"github.com/dasdaq/xdmactl/xdma"
)

// Config holds the card under test and how to reach it
type Config struct {
	// Card is the card root, e.g. /dev/xdma0.  If empty, the first card
	// found in DevDir is used
	Card string `yaml:"Card" koanf:"Card"`

	DevDir string `yaml:"DevDir" koanf:"DevDir"`
	Prefix string `yaml:"Prefix" koanf:"Prefix"`

	// Naming is linux or windows
	Naming string `yaml:"Naming" koanf:"Naming"`

	// Access is handle or map
	Access string `yaml:"Access" koanf:"Access"`

	DMACapacity    int64 `yaml:"DMACapacity" koanf:"DMACapacity"`
	UserCapacity   int64 `yaml:"UserCapacity" koanf:"UserCapacity"`
	EngineBase     int64 `yaml:"EngineBase" koanf:"EngineBase"`
	EngineCapacity int64 `yaml:"EngineCapacity" koanf:"EngineCapacity"`

	// Settle is how long a started channel runs before its status is read
	Settle time.Duration `yaml:"Settle" koanf:"Settle"`

	// Timeout bounds the wait for a direct transfer to go idle
	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`

	LogLevel string `yaml:"LogLevel" koanf:"LogLevel"`
}

// DefaultConfig is the configuration used where the config file is silent
func DefaultConfig() Config {
	return Config{
		DevDir:         "/dev",
		Prefix:         "xdma",
		Naming:         "linux",
		Access:         "handle",
		DMACapacity:    xdma.DefaultCapacity,
		UserCapacity:   xdma.DefaultCapacity,
		EngineBase:     0x14_0000,
		EngineCapacity: 0x1_0000,
		Settle:         axidma.DefaultSettleTime,
		Timeout:        5 * time.Second,
		LogLevel:       "warn"}
}

// Rig is the card under test and the AXI DMA engine in its user BAR
type Rig struct {
	Card   *xdma.Card
	Engine *axidma.Engine

	// Timeout bounds WaitIdle
	Timeout time.Duration
}

// NewRig opens the configured card, or the first one discovered
func NewRig(c Config) (*Rig, error) {
	root := c.Card
	if root == "" {
		roots, err := xdma.DevicePaths(c.DevDir, c.Prefix)
		if err != nil {
			return nil, err
		}
		if len(roots) == 0 {
			return nil, fmt.Errorf("no cards found in %s with prefix %s", c.DevDir, c.Prefix)
		}
		root = roots[0]
	}
	naming, err := xdma.ParseNaming(c.Naming)
	if err != nil {
		return nil, err
	}
	access, err := xdma.ParseAccessMode(c.Access)
	if err != nil {
		return nil, err
	}
	card, err := xdma.NewCard(xdma.OSFileSystem{}, naming, root, c.DMACapacity, c.UserCapacity)
	if err != nil {
		return nil, err
	}
	card.SetAccess(access)
	window, err := card.User.Remap(c.EngineBase, c.EngineCapacity)
	if err != nil {
		return nil, err
	}
	e := axidma.NewEngine(window)
	e.SettleTime = c.Settle
	return &Rig{Card: card, Engine: e, Timeout: c.Timeout}, nil
}

// Args holds positional arguments, parsed as unsigned integers in any base
// Go understands
type Args []string

// Uint returns argument i, or def if there are not that many
func (a Args) Uint(i int, def uint64) (uint64, error) {
	if i >= len(a) {
		return def, nil
	}
	v, err := strconv.ParseUint(a[i], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %d %q: %w", i+1, a[i], err)
	}
	return v, nil
}

// Bool returns argument i parsed by strconv.ParseBool, or def if there are
// not that many
func (a Args) Bool(i int, def bool) (bool, error) {
	if i >= len(a) {
		return def, nil
	}
	v, err := strconv.ParseBool(a[i])
	if err != nil {
		return false, fmt.Errorf("argument %d %q: %w", i+1, a[i], err)
	}
	return v, nil
}

// StartRing stores a ring of n descriptors of length bytes each at offset in
// the DMA memory, with buffers packed from bufferBase, and starts ch on it.
// The memory is assumed to be visible to the engine at the same address.
func (r *Rig) StartRing(ch axidma.Channel, offset uint64, n int, length uint32, bufferBase uint64, cyclic bool) (*axidma.Ring, bool, error) {
	lengths := make([]uint32, n)
	for i := range lengths {
		lengths[i] = length
	}
	ring, err := axidma.NewRing(offset, lengths, bufferBase, cyclic)
	if err != nil {
		return nil, false, err
	}
	if err := ring.Store(r.Card.DMA[0], int64(offset)); err != nil {
		return ring, false, err
	}
	live, err := ch.StartRing(ring)
	return ring, live, err
}

// ReloadRing reads ring back from the DMA memory, picking up the status
// words the engine wrote
func (r *Rig) ReloadRing(ring *axidma.Ring) (*axidma.Ring, error) {
	return axidma.LoadRing(r.Card.DMA[0], int64(ring.Base), ring.Base, ring.Len())
}

func newSpinner(msg string) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

// spin runs fcn behind a terminal spinner showing msg
func spin(msg string, fcn func() error) error {
	s, err := newSpinner(msg)
	if err != nil {
		return fcn()
	}
	if err := s.Start(); err != nil {
		return fcn()
	}
	if err := fcn(); err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		return err
	}
	return s.Stop()
}
