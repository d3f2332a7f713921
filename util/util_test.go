package util_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dasdaq/xdmactl/util"
)

func ExampleGetBits() {
	out := util.GetBits(0x1fc18006, 16, 4)
	fmt.Println(out)
	// Output: 1
}

func ExampleUpdateBits() {
	out := util.UpdateBits(0xAAAAAAAA, 4, 4, 0xF)
	fmt.Printf("%#08x\n", out)
	// Output: 0xaaaaaafa
}

func TestMaskFullWidth(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFF), util.Mask(0, 32))
	assert.Equal(t, uint32(0xFFFFFFC0), util.Mask(6, 26))
	assert.Equal(t, uint32(0), util.Mask(0, 0))
	assert.Equal(t, uint32(0x80000000), util.Mask(31, 4))
}

func TestUpdateBitsClearsWholeRegister(t *testing.T) {
	assert.Equal(t, uint32(0), util.UpdateBits(0xAAAAAAAA, 0, 32, 0))
}

func TestUpdateBitsDropsOverflow(t *testing.T) {
	assert.Equal(t, uint32(0x30), util.UpdateBits(0, 4, 2, 0xFF))
}

func TestGetBits(t *testing.T) {
	assert.Equal(t, uint32(0xA), util.GetBits(0xAAAAAAAA, 4, 4))
	assert.Equal(t, uint32(0xAAAAAAAA), util.GetBits(0xAAAAAAAA, 0, 32))
	assert.Equal(t, uint32(1), util.GetBits(0x00080000, 19, 1))
}

func TestIsBitSet(t *testing.T) {
	assert.True(t, util.IsBitSet(0x8000, 15))
	assert.False(t, util.IsBitSet(0x8000, 14))
}

func TestBoolToUint32(t *testing.T) {
	assert.Equal(t, uint32(1), util.BoolToUint32(true))
	assert.Equal(t, uint32(0), util.BoolToUint32(false))
}
