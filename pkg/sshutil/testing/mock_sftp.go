package testing

import (
	"bytes"
	"errors"
	iofs "io/fs"
	"os"
	"path"
	"sync"

	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
)

// MockSFTP is an sftp client over a MockFS. Denied paths fail with
// fs.ErrPermission, missing ones with fs.ErrNotExist.
type MockSFTP struct {
	fs   *MockFS
	user string

	mu     sync.Mutex
	closed bool
}

var _ sshutil.SFTPClient = (*MockSFTP)(nil)

func (s *MockSFTP) check(op, p string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("sftp: client closed")
	}
	if s.fs.Denied(p) {
		return &iofs.PathError{Op: op, Path: p, Err: iofs.ErrPermission}
	}
	return nil
}

// Open opens a file for reading.
func (s *MockSFTP) Open(p string) (sshutil.RemoteFile, error) {
	if err := s.check("open", p); err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(p)
	if err != nil {
		return nil, &iofs.PathError{Op: "open", Path: p, Err: iofs.ErrNotExist}
	}
	return &mockReadFile{Reader: bytes.NewReader(data)}, nil
}

// Create opens a file for writing, truncating it. Content lands in the
// MockFS on Close.
func (s *MockSFTP) Create(p string) (sshutil.RemoteFile, error) {
	if err := s.check("create", p); err != nil {
		return nil, err
	}
	if !s.fs.IsDir(path.Dir(p)) {
		return nil, &iofs.PathError{Op: "create", Path: p, Err: iofs.ErrNotExist}
	}
	if err := s.fs.WriteFile(p, nil); err != nil {
		return nil, err
	}
	if s.user != "" {
		_ = s.fs.Chown(p, s.user)
	}
	return &mockWriteFile{fs: s.fs, path: p}, nil
}

// Stat returns file info.
func (s *MockSFTP) Stat(p string) (os.FileInfo, error) {
	if err := s.check("stat", p); err != nil {
		return nil, err
	}
	info, err := s.fs.stat(p)
	if err != nil {
		return nil, &iofs.PathError{Op: "stat", Path: p, Err: iofs.ErrNotExist}
	}
	return info, nil
}

// Remove deletes a file.
func (s *MockSFTP) Remove(p string) error {
	if err := s.check("remove", p); err != nil {
		return err
	}
	if !s.fs.Exists(p) {
		return &iofs.PathError{Op: "remove", Path: p, Err: iofs.ErrNotExist}
	}
	return s.fs.Remove(p)
}

// Chmod sets permission bits.
func (s *MockSFTP) Chmod(p string, mode os.FileMode) error {
	if err := s.check("chmod", p); err != nil {
		return err
	}
	if err := s.fs.Chmod(p, mode); err != nil {
		return &iofs.PathError{Op: "chmod", Path: p, Err: iofs.ErrNotExist}
	}
	return nil
}

// Close marks the client closed.
func (s *MockSFTP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockSFTP) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type mockReadFile struct {
	*bytes.Reader
}

func (f *mockReadFile) Write([]byte) (int, error) {
	return 0, errors.New("file opened read-only")
}

func (f *mockReadFile) Close() error { return nil }

type mockWriteFile struct {
	fs   *MockFS
	path string
	buf  bytes.Buffer
}

func (f *mockWriteFile) Read([]byte) (int, error) {
	return 0, errors.New("file opened write-only")
}

func (f *mockWriteFile) Write(b []byte) (int, error) {
	return f.buf.Write(b)
}

func (f *mockWriteFile) Close() error {
	return f.fs.WriteFile(f.path, f.buf.Bytes())
}
