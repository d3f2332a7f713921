package axidma_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasdaq/xdmactl/axidma"
	"github.com/dasdaq/xdmactl/xdma"
)

func TestNewRing(t *testing.T) {
	r, err := axidma.NewRing(0x80, []uint32{0x1000, 0x1000, 0x800}, 0x10_0000, true)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(0x80), r.Start())
	assert.Equal(t, uint64(0x100), r.End())
	assert.Equal(t, uint64(0xC0), r.Descriptors[0].NextPointer)
	assert.Equal(t, uint64(0x100), r.Descriptors[1].NextPointer)
	assert.Equal(t, uint64(0x80), r.Descriptors[2].NextPointer, "cyclic rings wrap to the head")
	assert.Equal(t, uint64(0x10_1000), r.Descriptors[1].BufferAddress)
	assert.Equal(t, uint64(0x10_2000), r.Descriptors[2].BufferAddress)

	lin, err := axidma.NewRing(0x80, []uint32{0x10, 0x10}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100), lin.Descriptors[1].NextPointer)
}

func TestNewRingErrors(t *testing.T) {
	_, err := axidma.NewRing(0x20, []uint32{1}, 0, false)
	assert.ErrorIs(t, err, axidma.ErrAlignment)
	_, err = axidma.NewRing(0x40, nil, 0, false)
	assert.ErrorIs(t, err, axidma.ErrEmptyRing)
	_, err = axidma.NewRing(0x40, []uint32{1, axidma.MaxBufferLength}, 0, false)
	assert.ErrorIs(t, err, axidma.ErrBufferTooLarge)
}

func TestRingImageStride(t *testing.T) {
	r, err := axidma.NewRing(0, []uint32{0x10, 0x20}, 0x1000, false)
	require.NoError(t, err)
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 2*axidma.SlotStride)
	var d axidma.Descriptor
	require.NoError(t, d.UnmarshalBinary(b[axidma.SlotStride:]))
	assert.Equal(t, r.Descriptors[1], d)
	assert.Equal(t, make([]byte, axidma.SlotStride-axidma.DescriptorSize), b[axidma.DescriptorSize:axidma.SlotStride])
}

func TestStoreAndLoadRing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xdma0_bypass")
	require.NoError(t, os.WriteFile(path, make([]byte, 0x2000), 0o644))
	mem, err := xdma.NewDevice(nil, path, path, 0, 0x2000)
	require.NoError(t, err)

	r, err := axidma.NewRing(0x80, []uint32{0x100, 0x100, 0x100, 0x100}, 0x8000, true)
	require.NoError(t, err)
	require.NoError(t, r.Store(mem, 0x80))

	back, err := axidma.LoadRing(mem, 0x80, 0x80, 4)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	// the engine completes the first two descriptors
	done := back.Descriptors[0]
	done.TransferredBytes, done.Completed = 0x100, true
	b, err := done.MarshalBinary()
	require.NoError(t, err)
	_, err = mem.Write(0x80, b)
	require.NoError(t, err)
	done = back.Descriptors[1]
	done.TransferredBytes, done.Completed, done.DecodeError = 0x80, true, true
	b, err = done.MarshalBinary()
	require.NoError(t, err)
	_, err = mem.Write(0x80+axidma.SlotStride, b)
	require.NoError(t, err)

	back, err = axidma.LoadRing(mem, 0x80, 0x80, 4)
	require.NoError(t, err)
	p := back.Progress()
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, uint64(0x180), p.Transferred)
	assert.Equal(t, 1, p.FirstError)
	assert.Error(t, p.Err)
}

func TestLoadRingBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xdma0_bypass")
	require.NoError(t, os.WriteFile(path, make([]byte, 0x1_0000), 0o644))
	mem, err := xdma.NewDevice(nil, path, path, 0, 0x1_0000)
	require.NoError(t, err)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	mem.Log = quiet

	_, err = axidma.LoadRing(mem, 0, 0, 1<<58)
	assert.ErrorIs(t, err, axidma.ErrRingRange)
	_, err = axidma.LoadRing(mem, 0, 0, axidma.MaxRingLength+1)
	assert.ErrorIs(t, err, axidma.ErrRingRange)
	_, err = axidma.LoadRing(mem, 0, 0xFFFF_FFC0, 2)
	assert.ErrorIs(t, err, axidma.ErrRingRange)
	_, err = axidma.LoadRing(mem, 0, 1<<33, 1)
	assert.ErrorIs(t, err, axidma.ErrRingRange)

	// in the window but larger than the region
	_, err = axidma.LoadRing(mem, 0, 0, 1<<20)
	assert.ErrorIs(t, err, xdma.ErrShortTransfer)

	// a ring spanning several chunks
	n := 0x1_0000 / axidma.SlotStride
	r, err := axidma.LoadRing(mem, 0, 0, n)
	require.NoError(t, err)
	assert.Equal(t, n, r.Len())
}
