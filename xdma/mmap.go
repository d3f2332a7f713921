package xdma

// Mapper maps a window of a device file into memory
type Mapper interface {
	// PageSize returns the granularity mappings must be aligned to
	PageSize() int

	// Map maps size bytes of path starting at offset, which must be page aligned
	Map(path string, offset int64, size int) (Mapping, error)
}

// Mapping is a live memory mapping.  Bytes is invalid after Close.
type Mapping interface {
	Bytes() []byte
	Close() error
}
