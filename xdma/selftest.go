package xdma

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/snksoft/crc"
	"golang.org/x/sync/errgroup"
)

const (
	// IntegritySize is the default size of the integrity test pattern, bytes
	IntegritySize = 16384

	// BandwidthBlocks is the default number of blocks per bandwidth loop
	BandwidthBlocks = 1000
)

var crcTable = crc.NewTable(crc.CRC32)

func checksum(b []byte) uint32 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, b)
	return crcTable.CRC32(c)
}

// IntegrityReport is the result of an integrity test
type IntegrityReport struct {
	// Addr is the logical address the pattern was written to
	Addr int64 `json:"addr"`

	// Size is the size of the pattern in bytes
	Size int `json:"size"`

	// Expected and Actual are CRC-32 checksums of the pattern and the readback
	Expected uint32 `json:"expected"`
	Actual   uint32 `json:"actual"`

	// FirstMismatch is the offset of the first differing byte, -1 if none
	FirstMismatch int `json:"firstMismatch"`
}

// Passed returns true if the readback matched the pattern
func (r IntegrityReport) Passed() bool {
	return r.FirstMismatch < 0
}

func (r IntegrityReport) String() string {
	if r.Passed() {
		return fmt.Sprintf("integrity: passed, %d bytes @ %#x crc=%#08x", r.Size, r.Addr, r.Expected)
	}
	return fmt.Sprintf("integrity: failed @ %#x + %d, crc expected = %#08x, actual = %#08x",
		r.Addr, r.FirstMismatch, r.Expected, r.Actual)
}

// Integrity writes size pseudorandom bytes at a random address within the
// device and reads them back.  The device must be able to both read and
// write.  A data mismatch is reported, not returned as an error.
func Integrity(d *Device, size int, rng *rand.Rand) (IntegrityReport, error) {
	r := IntegrityReport{Size: size, FirstMismatch: -1}
	if !d.CanRead() || !d.CanWrite() {
		return r, fmt.Errorf("integrity test on %s: %w", d, ErrPathNotConfigured)
	}
	if int64(size) >= d.Capacity {
		return r, fmt.Errorf("integrity pattern of %d bytes: %w", size, ErrAddressOutOfRange)
	}
	src := make([]byte, size)
	rng.Read(src)
	r.Addr = rng.Int63n(d.Capacity - int64(size))
	if _, err := d.Write(r.Addr, src); err != nil {
		return r, err
	}
	dst := make([]byte, size)
	if _, err := d.Read(r.Addr, dst); err != nil {
		return r, err
	}
	r.Expected = checksum(src)
	r.Actual = checksum(dst)
	if !bytes.Equal(src, dst) {
		for i := range src {
			if src[i] != dst[i] {
				r.FirstMismatch = i
				break
			}
		}
	}
	return r, nil
}

// BandwidthReport holds throughputs in MB/s (2^20 bytes).  Directions that
// were not measured are zero.
type BandwidthReport struct {
	BlockSize int `json:"blockSize"`
	Blocks    int `json:"blocks"`

	// CardToHost is the throughput of the read loop
	CardToHost float64 `json:"c2h"`

	// HostToCard is the throughput of the write loop
	HostToCard float64 `json:"h2c"`

	// Bidirectional is the combined throughput with both loops running
	// concurrently, measured only when the read and write files differ
	Bidirectional float64 `json:"bidirectional"`
}

func (r BandwidthReport) String() string {
	kb := float64(r.BlockSize) / 1024
	return fmt.Sprintf("bandwidth @ %gKB block: c2h %.1f MB/s, h2c %.1f MB/s, bidirectional %.1f MB/s",
		kb, r.CardToHost, r.HostToCard, r.Bidirectional)
}

func mbps(bytes int, dt time.Duration) float64 {
	s := dt.Seconds()
	if s <= 0 {
		return 0
	}
	return float64(bytes) / (1 << 20) / s
}

func (d *Device) readLoop(buf []byte, n int) error {
	for i := 0; i < n; i++ {
		if _, err := d.Read(0, buf); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) writeLoop(buf []byte, n int) error {
	for i := 0; i < n; i++ {
		if _, err := d.Write(0, buf); err != nil {
			return err
		}
	}
	return nil
}

// Bandwidth measures transfer throughput by moving count blocks of
// blockSize bytes to and from address zero.  The device is held open for the
// duration of the test so open/close does not enter the measurement, and is
// left open afterwards if it was open before.
func Bandwidth(d *Device, blockSize, count int) (BandwidthReport, error) {
	r := BandwidthReport{BlockSize: blockSize, Blocks: count}
	if int64(blockSize) > d.Capacity {
		return r, fmt.Errorf("bandwidth block of %d bytes: %w", blockSize, ErrAddressOutOfRange)
	}
	release, err := d.acquire()
	if err != nil {
		return r, err
	}
	defer release()
	src := make([]byte, blockSize)
	dst := make([]byte, blockSize)
	rand.Read(src)
	total := blockSize * count
	if d.CanRead() {
		start := time.Now()
		if err := d.readLoop(dst, count); err != nil {
			return r, err
		}
		r.CardToHost = mbps(total, time.Since(start))
	}
	if d.CanWrite() {
		start := time.Now()
		if err := d.writeLoop(src, count); err != nil {
			return r, err
		}
		r.HostToCard = mbps(total, time.Since(start))
	}
	if d.CanRead() && d.CanWrite() && !d.Shared() {
		var g errgroup.Group
		start := time.Now()
		g.Go(func() error { return d.readLoop(dst, count) })
		g.Go(func() error { return d.writeLoop(src, count) })
		if err := g.Wait(); err != nil {
			return r, err
		}
		r.Bidirectional = mbps(2*total, time.Since(start))
	}
	return r, nil
}
