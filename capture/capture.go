/*Package capture reads blocks of ADC samples from a card-to-host DMA channel
and stores them as FITS images.

Samples are signed 16-bit little endian words, interleaved across channels.
A Frame is Rows records of Cols samples each.
*/
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// MaxSamples is the largest number of samples read into one frame
const MaxSamples = 1 << 26

var (
	// ErrEmptyFrame is generated when a frame with no samples is requested
	ErrEmptyFrame = errors.New("frame must have at least one row and column")

	// ErrFrameTooLarge is generated when a frame of more than MaxSamples is requested
	ErrFrameTooLarge = errors.New("frame must hold at most 2^26 samples")
)

// Source is anything that can fill a buffer from an address, *xdma.Device
// satisfies it.  A negative address reads a stream endpoint.
type Source interface {
	Read(addr int64, buf []byte) (int, error)
}

// Frame is a block of samples
type Frame struct {
	Rows int
	Cols int

	// Data is row major, len(Data) == Rows*Cols
	Data []int16

	// Addr is the address the frame was read from, negative for a stream
	Addr int64

	// Time is when the read completed
	Time time.Time
}

// Read reads rows*cols samples from src at addr
func Read(src Source, addr int64, rows, cols int) (Frame, error) {
	if rows <= 0 || cols <= 0 {
		return Frame{}, ErrEmptyFrame
	}
	if rows > MaxSamples/cols {
		return Frame{}, fmt.Errorf("frame %dx%d: %w", rows, cols, ErrFrameTooLarge)
	}
	n := rows * cols
	buf := make([]byte, 2*n)
	if _, err := src.Read(addr, buf); err != nil {
		return Frame{}, err
	}
	f := Frame{Rows: rows, Cols: cols, Addr: addr, Data: make([]int16, n), Time: time.Now()}
	for i := range f.Data {
		f.Data[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return f, nil
}

// Column returns the samples of column c, one per row
func (f Frame) Column(c int) []int16 {
	out := make([]int16, f.Rows)
	for r := 0; r < f.Rows; r++ {
		out[r] = f.Data[r*f.Cols+c]
	}
	return out
}

// Cards returns the FITS header cards describing the frame
func (f Frame) Cards() []fitsio.Card {
	return []fitsio.Card{
		{Name: "DATE-OBS", Value: f.Time.UTC().Format(time.RFC3339Nano), Comment: "read completion time"},
		{Name: "SRCADDR", Value: int(f.Addr), Comment: "source address, negative for a stream"},
	}
}

// WriteFITS streams the frame to w as a 16-bit image, Cols wide and Rows
// high.  metadata is appended to the frame's own cards.
func (f Frame) WriteFITS(w io.Writer, metadata ...fitsio.Card) error {
	if len(f.Data) != f.Rows*f.Cols || len(f.Data) == 0 {
		return fmt.Errorf("frame %dx%d with %d samples: %w", f.Rows, f.Cols, len(f.Data), ErrEmptyFrame)
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{f.Cols, f.Rows})
	defer im.Close()
	err = im.Header().Append(append(f.Cards(), metadata...)...)
	if err != nil {
		return err
	}
	err = im.Write(f.Data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
