package bitfield_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasdaq/xdmactl/bitfield"
)

func ExampleLayout_Pack() {
	ctrl := bitfield.MustNew(
		bitfield.Field{Name: "run_stop", Width: 1},
		bitfield.Field{Name: "reserved0", Width: 1},
		bitfield.Field{Name: "reset", Width: 1},
		bitfield.Field{Name: "keyhole", Width: 1},
		bitfield.Field{Name: "cyclic", Width: 1},
	)
	v, _ := ctrl.Pack([]uint32{1, 0, 0, 0, 1})
	fmt.Printf("%#x\n", v)
	// Output: 0x11
}

func ExampleLayout_Unpack() {
	version := bitfield.MustNew(
		bitfield.Field{Name: "reserved", Width: 8},
		bitfield.Field{Name: "revision", Width: 8},
		bitfield.Field{Name: "minor", Width: 8},
		bitfield.Field{Name: "major", Width: 8},
	)
	fmt.Println(version.Unpack(0x07010200))
	// Output: [0 2 1 7]
}

func TestNewRejectsWideLayout(t *testing.T) {
	_, err := bitfield.New(
		bitfield.Field{Name: "a", Width: 16},
		bitfield.Field{Name: "b", Width: 17},
	)
	assert.ErrorIs(t, err, bitfield.ErrLayoutTooWide)
}

func TestNewRejectsZeroWidth(t *testing.T) {
	_, err := bitfield.New(bitfield.Field{Name: "a", Width: 0})
	assert.ErrorIs(t, err, bitfield.ErrZeroWidth)
}

func TestFullWidthField(t *testing.T) {
	l := bitfield.MustNew(bitfield.Field{Name: "word", Width: 32})
	v, err := l.Pack([]uint32{0xDEADBEEF})
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)
	assert.Equal(t, []uint32{0xDEADBEEF}, l.Unpack(v))
}

func TestPackOverflow(t *testing.T) {
	l := bitfield.MustNew(bitfield.Field{Name: "a", Width: 3}, bitfield.Field{Name: "b", Width: 5})
	_, err := l.Pack([]uint32{8, 0})
	assert.ErrorIs(t, err, bitfield.ErrFieldOverflow)
}

func TestPackValueCount(t *testing.T) {
	l := bitfield.MustNew(bitfield.Field{Name: "a", Width: 3})
	_, err := l.Pack([]uint32{1, 2})
	assert.ErrorIs(t, err, bitfield.ErrValueCount)
}

func TestOrderIsTheLayout(t *testing.T) {
	ab := bitfield.MustNew(bitfield.Field{Name: "a", Width: 4}, bitfield.Field{Name: "b", Width: 8})
	ba := bitfield.MustNew(bitfield.Field{Name: "b", Width: 8}, bitfield.Field{Name: "a", Width: 4})
	v1, err := ab.Pack([]uint32{0x1, 0x23})
	require.NoError(t, err)
	v2, err := ba.Pack([]uint32{0x23, 0x1})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x231), v1)
	assert.Equal(t, uint32(0x123), v2)
	assert.Equal(t, uint(4), ab.Offset(1))
	assert.Equal(t, uint(8), ba.Offset(1))
}

func TestGetByName(t *testing.T) {
	l := bitfield.MustNew(bitfield.Field{Name: "lo", Width: 16}, bitfield.Field{Name: "hi", Width: 16})
	vals := l.Unpack(0xBEEF0123)
	hi, ok := l.Get(vals, "hi")
	assert.True(t, ok)
	assert.Equal(t, uint32(0xBEEF), hi)
	_, ok = l.Get(vals, "missing")
	assert.False(t, ok)
}

func TestRoundTripRandomLayouts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 500; trial++ {
		var (
			fields []bitfield.Field
			total  uint
		)
		for total < 32 {
			w := uint(rng.Intn(12) + 1)
			if total+w > 32 {
				w = 32 - total
			}
			fields = append(fields, bitfield.Field{Name: fmt.Sprintf("f%d", len(fields)), Width: w})
			total += w
			if rng.Intn(4) == 0 {
				break
			}
		}
		l, err := bitfield.New(fields...)
		require.NoError(t, err)
		values := make([]uint32, len(fields))
		for i, f := range fields {
			values[i] = uint32(rng.Uint64() & ((uint64(1) << f.Width) - 1))
		}
		packed, err := l.Pack(values)
		require.NoError(t, err)
		assert.Equal(t, values, l.Unpack(packed), "layout %v", fields)
	}
}
