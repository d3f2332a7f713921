package axidma

import (
	"encoding/binary"
	"fmt"

	"github.com/dasdaq/xdmactl/util"
)

// Descriptor is one scatter-gather buffer descriptor.  The host fills the
// first group of fields, the engine writes the second group back when it
// consumes the descriptor.  The host must not modify a descriptor the engine owns.
type Descriptor struct {
	// NextPointer is the address of the next descriptor, a multiple of SlotStride
	NextPointer uint64 `json:"next"`

	// BufferAddress is the address of the data buffer
	BufferAddress uint64 `json:"buffer"`

	// BufferLength is the size of the buffer, less than MaxBufferLength
	BufferLength uint32 `json:"length"`

	StartOfFrame bool `json:"sof"`
	EndOfFrame   bool `json:"eof"`

	// written back by the engine

	TransferredBytes uint32 `json:"transferred"`
	InternalError    bool   `json:"internalError"`
	SlaveError       bool   `json:"slaveError"`
	DecodeError      bool   `json:"decodeError"`
	Completed        bool   `json:"completed"`
}

// NewDescriptor returns a validated descriptor describing one whole packet
// (start and end of frame both set)
func NewDescriptor(next, buffer uint64, length uint32) (Descriptor, error) {
	d := Descriptor{
		NextPointer:   next,
		BufferAddress: buffer,
		BufferLength:  length,
		StartOfFrame:  true,
		EndOfFrame:    true}
	return d, d.Validate()
}

// Validate checks the alignment of the next pointer and the buffer length
func (d Descriptor) Validate() error {
	if d.NextPointer%SlotStride != 0 {
		return fmt.Errorf("next descriptor @ %#x: %w", d.NextPointer, ErrAlignment)
	}
	if d.BufferLength >= MaxBufferLength {
		return fmt.Errorf("buffer of %d bytes: %w", d.BufferLength, ErrBufferTooLarge)
	}
	return nil
}

// Err returns an error naming the first error flag the engine set, or nil
func (d Descriptor) Err() error {
	switch {
	case d.InternalError:
		return fmt.Errorf("descriptor for buffer @ %#x: dma internal error", d.BufferAddress)
	case d.SlaveError:
		return fmt.Errorf("descriptor for buffer @ %#x: dma slave error", d.BufferAddress)
	case d.DecodeError:
		return fmt.Errorf("descriptor for buffer @ %#x: dma decode error", d.BufferAddress)
	}
	return nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("transfer %d bytes from/to %#x, next descriptor @ %#x; %d bytes transferred, completed = %v",
		d.BufferLength, d.BufferAddress, d.NextPointer, d.TransferredBytes, d.Completed)
}

// MarshalBinary encodes the descriptor as 8 little endian words:
// next lo/hi, buffer lo/hi, two reserved words, control, status.
// Invalid descriptors are not encoded.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	control, err := descControlLayout.Pack([]uint32{
		d.BufferLength,
		util.BoolToUint32(d.EndOfFrame),
		util.BoolToUint32(d.StartOfFrame)})
	if err != nil {
		return nil, err
	}
	status, err := descStatusLayout.Pack([]uint32{
		d.TransferredBytes,
		0,
		util.BoolToUint32(d.InternalError),
		util.BoolToUint32(d.SlaveError),
		util.BoolToUint32(d.DecodeError),
		util.BoolToUint32(d.Completed)})
	if err != nil {
		return nil, fmt.Errorf("transferred bytes %d: %w", d.TransferredBytes, err)
	}
	words := [8]uint32{
		uint32(d.NextPointer), uint32(d.NextPointer >> 32),
		uint32(d.BufferAddress), uint32(d.BufferAddress >> 32),
		0, 0,
		control, status}
	b := make([]byte, DescriptorSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b, nil
}

// UnmarshalBinary decodes a descriptor from at least DescriptorSize bytes.
// The result is not validated, it is whatever the engine left in memory.
func (d *Descriptor) UnmarshalBinary(b []byte) error {
	if len(b) < DescriptorSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrDescriptorSize)
	}
	w := func(i int) uint32 { return binary.LittleEndian.Uint32(b[4*i:]) }
	ctl := descControlLayout.Unpack(w(6))
	st := descStatusLayout.Unpack(w(7))
	*d = Descriptor{
		NextPointer:      uint64(w(0)) | uint64(w(1))<<32,
		BufferAddress:    uint64(w(2)) | uint64(w(3))<<32,
		BufferLength:     ctl[0],
		EndOfFrame:       ctl[1] == 1,
		StartOfFrame:     ctl[2] == 1,
		TransferredBytes: st[0],
		InternalError:    st[2] == 1,
		SlaveError:       st[3] == 1,
		DecodeError:      st[4] == 1,
		Completed:        st[5] == 1,
	}
	return nil
}
