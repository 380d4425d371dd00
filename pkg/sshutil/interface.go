package sshutil

import (
	"io"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
)

// Dialer opens a network connection. Both net.Dialer-style direct dialing and
// an established Conn (which tunnels through its remote end) satisfy it.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// Conn is an authenticated SSH transport.
// The real Client and the fakes in sshutil/testing both satisfy this interface.
type Conn interface {
	Dialer

	// NewExec opens a channel for running a single command.
	NewExec() (ExecChannel, error)

	// NewSFTP starts the sftp subsystem over the transport.
	NewSFTP() (SFTPClient, error)

	// Wait blocks until the transport is closed, by either side.
	Wait() error

	// Close tears down the transport and every channel on it.
	Close() error

	// GetAddress returns the host:port the transport is connected to.
	GetAddress() string
}

// ExecChannel runs one command. *ssh.Session satisfies it.
type ExecChannel interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	// RequestPty attaches a pseudo-terminal. It must precede Start, and the
	// remote side then merges stderr into stdout.
	RequestPty(term string, height, width int, modes ssh.TerminalModes) error
	Start(cmd string) error
	// Wait returns nil on exit status 0. A non-zero status is reported as an
	// error with an ExitStatus() int method.
	Wait() error
	Close() error
}

// RemoteFile is an open file on the remote side of an SFTPClient.
type RemoteFile interface {
	io.Reader
	io.Writer
	io.Closer
}

// SFTPClient is the subset of *sftp.Client used for file transfer.
// Errors for missing files and permission failures satisfy
// errors.Is(err, fs.ErrNotExist) and errors.Is(err, fs.ErrPermission).
type SFTPClient interface {
	Open(path string) (RemoteFile, error)
	Create(path string) (RemoteFile, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	Chmod(path string, mode os.FileMode) error
	Close() error
}
