package axidma_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasdaq/xdmactl/axidma"
)

func TestNewDescriptorAlignment(t *testing.T) {
	_, err := axidma.NewDescriptor(65, 0, 0x1000)
	assert.ErrorIs(t, err, axidma.ErrAlignment)
	d, err := axidma.NewDescriptor(64, 0, 0x1000)
	require.NoError(t, err)
	assert.True(t, d.StartOfFrame)
	assert.True(t, d.EndOfFrame)
}

func TestNewDescriptorLength(t *testing.T) {
	_, err := axidma.NewDescriptor(0, 0, axidma.MaxBufferLength)
	assert.ErrorIs(t, err, axidma.ErrBufferTooLarge)
	_, err = axidma.NewDescriptor(0, 0, axidma.MaxBufferLength-1)
	assert.NoError(t, err)
}

func TestDescriptorWireFormat(t *testing.T) {
	d := axidma.Descriptor{
		NextPointer:   0x1_0000_0040,
		BufferAddress: 0x2_8000_0000,
		BufferLength:  0x100,
		StartOfFrame:  true,
		EndOfFrame:    true,
	}
	b, err := d.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, axidma.DescriptorSize)
	words := make([]uint32, 8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	assert.Equal(t, []uint32{0x40, 0x1, 0x8000_0000, 0x2, 0, 0, 0x0C00_0100, 0}, words)
}

func TestDescriptorWriteBack(t *testing.T) {
	b := make([]byte, axidma.DescriptorSize)
	binary.LittleEndian.PutUint32(b[0:], 0x80)
	binary.LittleEndian.PutUint32(b[8:], 0x4000)
	binary.LittleEndian.PutUint32(b[24:], 1<<26|0x200)
	binary.LittleEndian.PutUint32(b[28:], 1<<31|1<<29|0x1F0)
	var d axidma.Descriptor
	require.NoError(t, d.UnmarshalBinary(b))
	assert.Equal(t, uint64(0x80), d.NextPointer)
	assert.Equal(t, uint64(0x4000), d.BufferAddress)
	assert.Equal(t, uint32(0x200), d.BufferLength)
	assert.True(t, d.EndOfFrame)
	assert.False(t, d.StartOfFrame)
	assert.Equal(t, uint32(0x1F0), d.TransferredBytes)
	assert.True(t, d.Completed)
	assert.True(t, d.SlaveError)
	assert.False(t, d.InternalError)
	assert.False(t, d.DecodeError)
	assert.Error(t, d.Err())
}

func TestDescriptorRoundTrip(t *testing.T) {
	in := axidma.Descriptor{
		NextPointer:      0xFFC0,
		BufferAddress:    0x1234_5678_9ABC,
		BufferLength:     0x3FF_FFFF,
		EndOfFrame:       true,
		TransferredBytes: 0x123,
		DecodeError:      true,
		Completed:        true,
	}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	var out axidma.Descriptor
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, in, out)
}

func TestUnmarshalShort(t *testing.T) {
	var d axidma.Descriptor
	assert.ErrorIs(t, d.UnmarshalBinary(make([]byte, 31)), axidma.ErrDescriptorSize)
}

func TestMarshalRejectsInvalid(t *testing.T) {
	_, err := axidma.Descriptor{NextPointer: 8}.MarshalBinary()
	assert.ErrorIs(t, err, axidma.ErrAlignment)
}
