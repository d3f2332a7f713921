package xdma_test

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/dasdaq/xdmactl/xdma"
)

// memory is a fake device backing store shared by every file opened on it
type memory struct {
	mu   sync.Mutex
	data []byte

	// stuck drops every write while reporting success
	stuck bool

	// short makes every write and read move one byte fewer than asked
	short bool
}

type memFile struct {
	mem    *memory
	pos    int64
	closed bool
}

func (f *memFile) Read(p []byte) (int, error) {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	if f.pos >= int64(len(f.mem.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.mem.data[f.pos:])
	if f.mem.short && n > 0 {
		n--
	}
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	n := len(p)
	if f.mem.short && n > 0 {
		n--
	}
	if !f.mem.stuck {
		copy(f.mem.data[f.pos:], p[:n])
	}
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, errors.New("only SeekStart is supported")
	}
	f.pos = offset
	return offset, nil
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

// memFS maps paths to shared memories and counts opens
type memFS struct {
	mu    sync.Mutex
	files map[string]*memory
	opens map[string]int
}

func newMemFS() *memFS {
	return &memFS{files: map[string]*memory{}, opens: map[string]int{}}
}

func (fs *memFS) add(size int, paths ...string) *memory {
	m := &memory{data: make([]byte, size)}
	for _, p := range paths {
		fs.files[p] = m
	}
	return m
}

func (fs *memFS) Open(path string, mode xdma.Mode) (xdma.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.files[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	fs.opens[path]++
	return &memFile{mem: m}, nil
}
