//go:build unix

package xdma

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PageMapper maps device files with mmap(2).  The file is opened O_SYNC and
// mapped shared so stores reach the hardware.
type PageMapper struct{}

// PageSize returns the system page size
func (PageMapper) PageSize() int {
	return unix.Getpagesize()
}

// Map opens path and maps size bytes of it starting at offset
func (PageMapper) Map(path string, offset int64, size int) (Mapping, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for mapping: %w", path, err)
	}
	b, err := unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s @ %#x (+%d): %w", path, offset, size, err)
	}
	return &pageMapping{fd: fd, b: b}, nil
}

type pageMapping struct {
	fd int
	b  []byte
}

func (m *pageMapping) Bytes() []byte {
	return m.b
}

func (m *pageMapping) Close() error {
	err := unix.Munmap(m.b)
	m.b = nil
	if err2 := unix.Close(m.fd); err == nil {
		err = err2
	}
	return err
}
