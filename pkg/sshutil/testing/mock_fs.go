// Package testing provides fake SSH transports for tests.
// A MockConn runs scripted or filesystem-backed commands against an in-memory
// MockFS, and a MockNetwork hands out MockConns for chained dials.
package testing

import (
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// mockFile is one regular file in a MockFS.
type mockFile struct {
	data    []byte
	mode    os.FileMode
	owner   string
	modTime time.Time
}

// MockFS simulates an in-memory remote filesystem.
// Paths marked with Deny (and everything below them) are only reachable by
// privileged commands, which lets tests exercise sudo fallbacks.
type MockFS struct {
	mu     sync.RWMutex
	files  map[string]*mockFile
	dirs   map[string]struct{}
	denied map[string]struct{}
}

// NewMockFS creates a new mock filesystem containing only "/" and "/tmp".
func NewMockFS() *MockFS {
	return &MockFS{
		files:  make(map[string]*mockFile),
		dirs:   map[string]struct{}{"/": {}, "/tmp": {}},
		denied: make(map[string]struct{}),
	}
}

func clean(p string) string {
	return path.Clean("/" + p)
}

// MkdirAll creates a directory and all parent directories.
func (fs *MockFS) MkdirAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(clean(p))
	return nil
}

func (fs *MockFS) mkdirAllLocked(p string) {
	for dir := p; ; dir = path.Dir(dir) {
		fs.dirs[dir] = struct{}{}
		if dir == "/" {
			return
		}
	}
}

// WriteFile writes content to a file with mode 0644, creating parent
// directories as needed. Existing mode and owner are kept.
func (fs *MockFS) WriteFile(p string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeLocked(clean(p), content)
	return nil
}

func (fs *MockFS) writeLocked(p string, content []byte) {
	if _, isDir := fs.dirs[p]; isDir {
		return
	}
	fs.mkdirAllLocked(path.Dir(p))
	f, ok := fs.files[p]
	if !ok {
		f = &mockFile{mode: 0644}
		fs.files[p] = f
	}
	f.data = append([]byte(nil), content...)
	f.modTime = time.Now()
}

// ReadFile reads the content of a file.
func (fs *MockFS) ReadFile(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.files[clean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), f.data...), nil
}

// Remove removes a file or directory and all its contents, like rm -rf.
func (fs *MockFS) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = clean(p)
	delete(fs.files, p)
	delete(fs.dirs, p)

	prefix := p + "/"
	for f := range fs.files {
		if strings.HasPrefix(f, prefix) {
			delete(fs.files, f)
		}
	}
	for d := range fs.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(fs.dirs, d)
		}
	}
	return nil
}

// Rename moves a file.
func (fs *MockFS) Rename(from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	from, to = clean(from), clean(to)
	f, ok := fs.files[from]
	if !ok {
		return os.ErrNotExist
	}
	if _, isDir := fs.dirs[to]; isDir {
		to = path.Join(to, path.Base(from))
	}
	fs.mkdirAllLocked(path.Dir(to))
	delete(fs.files, from)
	fs.files[to] = f
	return nil
}

// Copy copies a file, keeping its mode.
func (fs *MockFS) Copy(from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	from, to = clean(from), clean(to)
	f, ok := fs.files[from]
	if !ok {
		return os.ErrNotExist
	}
	if _, isDir := fs.dirs[to]; isDir {
		to = path.Join(to, path.Base(from))
	}
	fs.mkdirAllLocked(path.Dir(to))
	fs.files[to] = &mockFile{
		data:    append([]byte(nil), f.data...),
		mode:    f.mode,
		owner:   f.owner,
		modTime: time.Now(),
	}
	return nil
}

// Chmod sets a file's permission bits.
func (fs *MockFS) Chmod(p string, mode os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[clean(p)]
	if !ok {
		return os.ErrNotExist
	}
	f.mode = mode.Perm()
	return nil
}

// Chown sets a file's owner.
func (fs *MockFS) Chown(p, owner string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[clean(p)]
	if !ok {
		return os.ErrNotExist
	}
	f.owner = owner
	return nil
}

// Mode returns a file's permission bits.
func (fs *MockFS) Mode(p string) (os.FileMode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.files[clean(p)]
	if !ok {
		return 0, os.ErrNotExist
	}
	return f.mode, nil
}

// Owner returns a file's owner, empty if never set.
func (fs *MockFS) Owner(p string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.files[clean(p)]
	if !ok {
		return "", os.ErrNotExist
	}
	return f.owner, nil
}

// Deny makes p and everything under it inaccessible to unprivileged access.
func (fs *MockFS) Deny(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.denied[clean(p)] = struct{}{}
}

// Denied reports whether p or one of its ancestors was denied.
func (fs *MockFS) Denied(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for dir := clean(p); ; dir = path.Dir(dir) {
		if _, ok := fs.denied[dir]; ok {
			return true
		}
		if dir == "/" {
			return false
		}
	}
}

// Exists returns true if the path exists (file or directory).
func (fs *MockFS) Exists(p string) bool {
	return fs.IsDir(p) || fs.IsFile(p)
}

// IsDir returns true if the path exists and is a directory.
func (fs *MockFS) IsDir(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.dirs[clean(p)]
	return ok
}

// IsFile returns true if the path exists and is a file.
func (fs *MockFS) IsFile(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.files[clean(p)]
	return ok
}

// Files returns every file path, sorted.
func (fs *MockFS) Files() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	paths := make([]string, 0, len(fs.files))
	for p := range fs.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// stat returns file info for p.
func (fs *MockFS) stat(p string) (os.FileInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p = clean(p)
	if f, ok := fs.files[p]; ok {
		return fileInfo{name: path.Base(p), size: int64(len(f.data)), mode: f.mode, modTime: f.modTime}, nil
	}
	if _, ok := fs.dirs[p]; ok {
		return fileInfo{name: path.Base(p), mode: os.ModeDir | 0755}, nil
	}
	return nil, errors.New("file does not exist")
}

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi fileInfo) Sys() any           { return nil }
