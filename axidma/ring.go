package axidma

import (
	"fmt"
)

// RegionWriter writes bytes at a logical address, *xdma.Device satisfies it
type RegionWriter interface {
	Write(addr int64, data []byte) (int, error)
}

// RegionReader reads bytes at a logical address, *xdma.Device satisfies it
type RegionReader interface {
	Read(addr int64, buf []byte) (int, error)
}

// Ring is a chain of descriptors laid out at SlotStride intervals from Base
type Ring struct {
	// Base is the engine-visible address of the first descriptor
	Base uint64

	// Descriptors in slot order
	Descriptors []Descriptor

	// Cyclic rings link the last descriptor back to the first
	Cyclic bool
}

// NewRing builds a ring at base with one descriptor per entry in lengths.
// The buffers are packed back to back starting at bufferBase.  In a cyclic
// ring the last descriptor points at the head, in a linear ring at the slot
// following it.
func NewRing(base uint64, lengths []uint32, bufferBase uint64, cyclic bool) (*Ring, error) {
	if len(lengths) == 0 {
		return nil, ErrEmptyRing
	}
	if base%SlotStride != 0 {
		return nil, fmt.Errorf("ring base @ %#x: %w", base, ErrAlignment)
	}
	r := &Ring{Base: base, Cyclic: cyclic, Descriptors: make([]Descriptor, len(lengths))}
	buf := bufferBase
	for i, l := range lengths {
		next := base + uint64(i+1)*SlotStride
		if cyclic && i == len(lengths)-1 {
			next = base
		}
		d, err := NewDescriptor(next, buf, l)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		r.Descriptors[i] = d
		buf += uint64(l)
	}
	return r, nil
}

// Len returns the number of descriptors in the ring
func (r *Ring) Len() int {
	return len(r.Descriptors)
}

// Start returns the address of the first descriptor
func (r *Ring) Start() uint64 {
	return r.Base
}

// End returns the address of the last descriptor
func (r *Ring) End() uint64 {
	if len(r.Descriptors) == 0 {
		return r.Base
	}
	return r.Base + uint64(len(r.Descriptors)-1)*SlotStride
}

// Size returns the number of bytes the ring occupies in memory
func (r *Ring) Size() int {
	return len(r.Descriptors) * SlotStride
}

// MarshalBinary returns the memory image of the ring, each descriptor at
// the start of its slot and the rest of the slot zero
func (r *Ring) MarshalBinary() ([]byte, error) {
	out := make([]byte, r.Size())
	for i, d := range r.Descriptors {
		b, err := d.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		copy(out[i*SlotStride:], b)
	}
	return out, nil
}

// Store writes the ring image to w at addr, the logical address at which
// the engine sees Base
func (r *Ring) Store(w RegionWriter, addr int64) error {
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(addr, b)
	return err
}

// LoadRing reads n descriptors back from r at addr.  base is the engine
// address of the first descriptor, it is used to recognize a cyclic ring.
// The ring must fit in the descriptor window below 4 GiB.  Descriptors are
// read in chunks, so a count the region cannot hold fails on the first
// chunk that runs off its end.
func LoadRing(r RegionReader, addr int64, base uint64, n int) (*Ring, error) {
	if n <= 0 {
		return nil, ErrEmptyRing
	}
	const window = MaxRingLength * SlotStride
	if base > window || uint64(n) > (window-base)/SlotStride {
		return nil, fmt.Errorf("%d descriptors @ %#x: %w", n, base, ErrRingRange)
	}
	buf := make([]byte, min(n, loadChunk)*SlotStride)
	ring := &Ring{Base: base, Descriptors: make([]Descriptor, 0, min(n, loadChunk))}
	for i := 0; i < n; i += loadChunk {
		b := buf[:min(n-i, loadChunk)*SlotStride]
		if _, err := r.Read(addr+int64(i)*SlotStride, b); err != nil {
			return nil, err
		}
		for off := 0; off < len(b); off += SlotStride {
			var d Descriptor
			if err := d.UnmarshalBinary(b[off:]); err != nil {
				return nil, err
			}
			ring.Descriptors = append(ring.Descriptors, d)
		}
	}
	ring.Cyclic = ring.Descriptors[n-1].NextPointer == base
	return ring, nil
}

// Progress summarizes the write-back state of a ring
type Progress struct {
	// Completed is the number of descriptors the engine has finished
	Completed int `json:"completed"`

	// Transferred is the sum of the bytes transferred over all descriptors
	Transferred uint64 `json:"transferred"`

	// FirstError is the index of the first descriptor with an error flag, -1 if none
	FirstError int `json:"firstError"`

	// Err describes the first error, if any
	Err error `json:"-"`
}

// Progress returns the write-back summary of the ring
func (r *Ring) Progress() Progress {
	p := Progress{FirstError: -1}
	for i, d := range r.Descriptors {
		if d.Completed {
			p.Completed++
		}
		p.Transferred += uint64(d.TransferredBytes)
		if p.FirstError < 0 {
			if err := d.Err(); err != nil {
				p.FirstError = i
				p.Err = err
			}
		}
	}
	return p
}
