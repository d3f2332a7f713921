package xdma

import (
	"io"
	"os"
)

// Mode is the access a device file is opened with
type Mode int

const (
	// ReadOnly opens a device file for reading
	ReadOnly Mode = iota

	// WriteOnly opens a device file for writing
	WriteOnly

	// ReadWrite opens a device file for both
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read"
	case WriteOnly:
		return "write"
	case ReadWrite:
		return "read/write"
	default:
		return "unknown"
	}
}

// File is an open device file
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// FileSystem opens device files.  It is the seam between the device
// abstraction and the operating system and is chosen once, at startup.
type FileSystem interface {
	Open(path string, mode Mode) (File, error)
}

// OSFileSystem opens device files with package os.  It serves both the Linux
// character devices and the Windows device interface paths.
type OSFileSystem struct{}

// Open opens path.  Files are never created; a missing device file is an error.
func (OSFileSystem) Open(path string, mode Mode) (File, error) {
	flag := os.O_RDONLY
	switch mode {
	case WriteOnly:
		flag = os.O_WRONLY
	case ReadWrite:
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
