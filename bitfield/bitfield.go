/*Package bitfield packs and unpacks 32-bit registers described by an ordered
list of named fields.

A Layout is the software mirror of a register table in a hardware manual.
The first field occupies bit 0, and every following field starts where the
previous one ended.  The order of the fields IS the wire layout; names exist
for people and are never consulted when packing or unpacking.

	ctrl, err := bitfield.New(
		bitfield.Field{Name: "run_stop", Width: 1},
		bitfield.Field{Name: "reserved0", Width: 1},
		bitfield.Field{Name: "reset", Width: 1},
		bitfield.Field{Name: "keyhole", Width: 1},
		bitfield.Field{Name: "cyclic", Width: 1},
	)
	if err != nil {
		log.Fatal(err)
	}
	v, err := ctrl.Pack([]uint32{1, 0, 0, 0, 1}) // v == 0x11
*/
package bitfield

import (
	"errors"
	"fmt"
)

// RegisterWidth is the number of bits in a register described by a Layout
const RegisterWidth = 32

var (
	// ErrLayoutTooWide is generated when the widths of a layout sum to more than 32 bits
	ErrLayoutTooWide = errors.New("field widths exceed 32 bits")

	// ErrZeroWidth is generated when a field is declared with zero width
	ErrZeroWidth = errors.New("field width must be at least one bit")

	// ErrValueCount is generated when the number of values does not match the number of fields
	ErrValueCount = errors.New("number of values does not match number of fields")

	// ErrFieldOverflow is generated when a value does not fit in its field
	ErrFieldOverflow = errors.New("value does not fit in field")
)

// Field is one named span of bits in a register
type Field struct {
	// Name is a human readable label
	Name string `yaml:"name"`

	// Width is the number of bits the field occupies
	Width uint `yaml:"width"`
}

// Layout is an ordered list of fields.  The zero value is an empty layout
// that packs to zero.
type Layout struct {
	fields []Field
	total  uint
}

// New validates fields and returns a layout over them.
// fields are copied, later mutation of the argument has no effect.
func New(fields ...Field) (Layout, error) {
	var total uint
	for i, f := range fields {
		if f.Width == 0 {
			return Layout{}, fmt.Errorf("field %d (%s): %w", i, f.Name, ErrZeroWidth)
		}
		total += f.Width
		if total > RegisterWidth {
			return Layout{}, fmt.Errorf("%d bits through field %d (%s): %w", total, i, f.Name, ErrLayoutTooWide)
		}
	}
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Layout{fields: cp, total: total}, nil
}

// MustNew is New that panics on error, for package level register tables
func MustNew(fields ...Field) Layout {
	l, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Fields returns a copy of the fields in declaration order
func (l Layout) Fields() []Field {
	cp := make([]Field, len(l.fields))
	copy(cp, l.fields)
	return cp
}

// Len is the number of fields
func (l Layout) Len() int {
	return len(l.fields)
}

// Width is the sum of the field widths
func (l Layout) Width() uint {
	return l.total
}

// Offset returns the bit position of field i
func (l Layout) Offset(i int) uint {
	var shift uint
	for j := 0; j < i; j++ {
		shift += l.fields[j].Width
	}
	return shift
}

// Index returns the position of the first field called name, or -1
func (l Layout) Index(name string) int {
	for i, f := range l.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Get returns the value of the field called name from a slice produced by Unpack
func (l Layout) Get(values []uint32, name string) (uint32, bool) {
	i := l.Index(name)
	if i < 0 || i >= len(values) {
		return 0, false
	}
	return values[i], true
}

// Pack accumulates values into a register value in declaration order.
// values[i] belongs to field i.
func (l Layout) Pack(values []uint32) (uint32, error) {
	if len(values) != len(l.fields) {
		return 0, fmt.Errorf("%d values for %d fields: %w", len(values), len(l.fields), ErrValueCount)
	}
	var (
		out   uint64
		shift uint
	)
	for i, f := range l.fields {
		v := uint64(values[i])
		if v > (uint64(1)<<f.Width)-1 {
			return 0, fmt.Errorf("field %s (%d bits) value %#x: %w", f.Name, f.Width, values[i], ErrFieldOverflow)
		}
		out |= v << shift
		shift += f.Width
	}
	return uint32(out), nil
}

// Unpack splits v into one value per field, in declaration order.
// bits above Width() are ignored.
func (l Layout) Unpack(v uint32) []uint32 {
	out := make([]uint32, len(l.fields))
	rem := uint64(v)
	for i, f := range l.fields {
		out[i] = uint32(rem & ((uint64(1) << f.Width) - 1))
		rem >>= f.Width
	}
	return out
}
