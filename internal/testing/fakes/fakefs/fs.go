// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/acolita/sshsmoke/internal/ports"
)

// FS is an in-memory filesystem for testing.
type FS struct {
	mu    sync.RWMutex
	files map[string]*bytes.Buffer
	dirs  map[string]bool
	env   map[string]string

	// OpenErr, when set, is returned by every OpenFile call.
	OpenErr error
}

// New creates a new in-memory filesystem.
func New() *FS {
	return &FS{
		files: make(map[string]*bytes.Buffer),
		dirs:  map[string]bool{"/": true},
		env:   make(map[string]string),
	}
}

// AddFile seeds a file with the given contents.
func (f *FS) AddFile(name string, data []byte) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = filepath.Clean(name)
	f.files[name] = bytes.NewBuffer(append([]byte(nil), data...))
	f.dirs[filepath.Dir(name)] = true
	return f
}

// SetEnv sets an environment variable visible through Getenv.
func (f *FS) SetEnv(key, value string) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
	return f
}

// ReadFile reads the named file and returns a copy of its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	buf, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// MkdirAll records the directory and its parents.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		f.dirs[p] = true
		if p == filepath.Dir(p) {
			return nil
		}
	}
}

// OpenFile opens or creates an in-memory file. Only O_CREATE, O_EXCL,
// O_TRUNC and O_APPEND are interpreted; writes always append.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	buf, exists := f.files[name]
	switch {
	case exists && flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case !exists && flag&os.O_CREATE == 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	case !exists:
		if !f.dirs[filepath.Dir(name)] {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		buf = &bytes.Buffer{}
		f.files[name] = buf
	case flag&os.O_TRUNC != 0:
		buf.Reset()
	}

	return &handle{fs: f, name: name, buf: buf}, nil
}

// Getenv returns a value set with SetEnv.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

type handle struct {
	fs     *FS
	name   string
	buf    *bytes.Buffer
	closed bool
}

func (h *handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return 0, os.ErrClosed
	}
	return h.buf.Write(p)
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return os.ErrClosed
	}
	h.closed = true
	return nil
}

func (h *handle) Name() string {
	return h.name
}

// Ensure FS implements ports.FileSystem.
var _ ports.FileSystem = (*FS)(nil)
