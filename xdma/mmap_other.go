//go:build !unix

package xdma

import "os"

// PageMapper is unavailable on this platform; use AccessHandle
type PageMapper struct{}

// PageSize returns the system page size
func (PageMapper) PageSize() int {
	return os.Getpagesize()
}

// Map always returns ErrMapUnsupported
func (PageMapper) Map(path string, offset int64, size int) (Mapping, error) {
	return nil, ErrMapUnsupported
}
