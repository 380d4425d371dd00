package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"sync"

	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"golang.org/x/crypto/ssh"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error // returned from Start instead of running
}

// Handler scripts a command. It reads stdin, writes output and returns the
// exit status. ctx is cancelled when the channel is closed.
type Handler func(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) int

type handlerEntry struct {
	pattern *regexp.Regexp
	fn      Handler
}

// MockConn simulates an SSH transport for testing. Commands resolve against,
// in order: exact canned responses, regex handlers, then a small shell
// emulation over the MockFS.
type MockConn struct {
	mu        sync.Mutex
	address   string
	user      string
	fs        *MockFS
	responses map[string]CommandResponse
	handlers  []handlerEntry
	commands  []string
	ptys      []string
	closed    bool
	closes    int
	done      chan struct{}

	// Parent is the transport this connection was tunneled through, if any.
	Parent sshutil.Dialer

	// DialFunc serves Dial. Nil rejects every forward.
	DialFunc func(network, addr string) (net.Conn, error)

	// ExecErr and SFTPErr make NewExec / NewSFTP fail.
	ExecErr error
	SFTPErr error

	// CloseErr is returned from Close.
	CloseErr error
}

var _ sshutil.Conn = (*MockConn)(nil)

// NewMockConn creates a connected mock transport with an empty filesystem.
func NewMockConn(address string) *MockConn {
	return newMockConn(address, "", NewMockFS())
}

func newMockConn(address, user string, fs *MockFS) *MockConn {
	return &MockConn{
		address:   address,
		user:      user,
		fs:        fs,
		responses: make(map[string]CommandResponse),
		done:      make(chan struct{}),
	}
}

// GetFS returns the mock filesystem for direct manipulation in tests.
func (m *MockConn) GetFS() *MockFS {
	return m.fs
}

// GetAddress returns the host:port address.
func (m *MockConn) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for an exact command.
func (m *MockConn) SetCommandResponse(cmd string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmd] = resp
}

// Handle registers fn for commands matching the regular expression pattern.
// Later registrations win.
func (m *MockConn) Handle(pattern string, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append([]handlerEntry{{regexp.MustCompile(pattern), fn}}, m.handlers...)
}

// Commands returns every command started on this connection.
func (m *MockConn) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// PtyCommands returns the commands that were started with a pseudo-terminal.
func (m *MockConn) PtyCommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ptys...)
}

// Closed reports whether Close or Drop was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCount returns how many times Close was called.
func (m *MockConn) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Close marks the connection closed and releases Wait.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.shutdownLocked()
	return m.CloseErr
}

// Drop simulates the remote end going away without Close being called.
func (m *MockConn) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
}

func (m *MockConn) shutdownLocked() {
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// Wait blocks until the connection is closed or dropped.
func (m *MockConn) Wait() error {
	<-m.done
	return nil
}

// Dial opens a forwarded stream through this connection.
func (m *MockConn) Dial(network, addr string) (net.Conn, error) {
	m.mu.Lock()
	closed, dial := m.closed, m.DialFunc
	m.mu.Unlock()

	if closed {
		return nil, errors.New("ssh: connection closed")
	}
	if dial == nil {
		return nil, fmt.Errorf("ssh: rejected: connect failed (Connection refused)")
	}
	return dial(network, addr)
}

// NewExec opens a mock exec channel.
func (m *MockConn) NewExec() (sshutil.ExecChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("ssh: connection closed")
	}
	if m.ExecErr != nil {
		return nil, m.ExecErr
	}
	return newMockExec(m), nil
}

// NewSFTP returns an sftp client over the mock filesystem.
func (m *MockConn) NewSFTP() (sshutil.SFTPClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("ssh: connection closed")
	}
	if m.SFTPErr != nil {
		return nil, m.SFTPErr
	}
	return &MockSFTP{fs: m.fs, user: m.user}, nil
}

// resolve picks the handler for cmd and records it.
func (m *MockConn) resolve(cmd string) (Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("ssh: connection closed")
	}
	m.commands = append(m.commands, cmd)

	if resp, ok := m.responses[cmd]; ok {
		if resp.Error != nil {
			return nil, resp.Error
		}
		return Respond(resp), nil
	}
	for _, h := range m.handlers {
		if h.pattern.MatchString(cmd) {
			return h.fn, nil
		}
	}
	return m.shell, nil
}

// Respond returns a Handler that writes a canned response.
func Respond(resp CommandResponse) Handler {
	return func(_ context.Context, _ string, _ io.Reader, stdout, stderr io.Writer) int {
		_, _ = stdout.Write(resp.Stdout)
		_, _ = stderr.Write(resp.Stderr)
		return resp.ExitCode
	}
}

// ExitStatusError mirrors *ssh.ExitError for non-zero exits.
type ExitStatusError struct {
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("Process exited with status %d", e.Code)
}

// ExitStatus returns the exit code.
func (e *ExitStatusError) ExitStatus() int {
	return e.Code
}

// MockExec is a mock exec channel. Output pipes are synchronous, stdin is
// buffered so writers never block on a handler that doesn't read.
type MockExec struct {
	conn   *MockConn
	stdin  *bufferPipe
	stdout *io.PipeWriter
	stderr *io.PipeWriter
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	code   int

	mu      sync.Mutex
	started bool
	pty     bool
}

func newMockExec(conn *MockConn) *MockExec {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockExec{
		conn:   conn,
		stdin:  newBufferPipe(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (e *MockExec) StdinPipe() (io.WriteCloser, error) {
	return e.stdin, nil
}

func (e *MockExec) StdoutPipe() (io.Reader, error) {
	r, w := io.Pipe()
	e.stdout = w
	return r, nil
}

func (e *MockExec) StderrPipe() (io.Reader, error) {
	r, w := io.Pipe()
	e.stderr = w
	return r, nil
}

// RequestPty marks the channel as having a terminal. As on a real pty, the
// handler's stderr is then merged into stdout.
func (e *MockExec) RequestPty(term string, _, _ int, _ ssh.TerminalModes) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("ssh: pty requested after start")
	}
	if term == "" {
		return errors.New("ssh: pty-req failed")
	}
	e.pty = true
	return nil
}

// Start runs cmd in the background.
func (e *MockExec) Start(cmd string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("ssh: session already started")
	}
	e.started = true
	pty := e.pty
	e.mu.Unlock()

	handler, err := e.conn.resolve(cmd)
	if err != nil {
		return err
	}
	if pty {
		e.conn.mu.Lock()
		e.conn.ptys = append(e.conn.ptys, cmd)
		e.conn.mu.Unlock()
	}

	var stdout, stderr io.Writer = io.Discard, io.Discard
	if e.stdout != nil {
		stdout = e.stdout
	}
	if e.stderr != nil {
		stderr = e.stderr
	}
	if pty {
		stderr = stdout
	}

	go func() {
		e.code = handler(e.ctx, cmd, e.stdin, stdout, stderr)
		e.closeOutput()
		close(e.done)
	}()
	return nil
}

// Wait returns nil for exit 0 and *ExitStatusError otherwise.
func (e *MockExec) Wait() error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return errors.New("ssh: session not started")
	}

	<-e.done
	if e.code != 0 {
		return &ExitStatusError{Code: e.code}
	}
	return nil
}

// Close cancels the handler and unblocks readers.
func (e *MockExec) Close() error {
	e.cancel()
	e.stdin.Close()
	e.closeOutput()
	return nil
}

func (e *MockExec) closeOutput() {
	if e.stdout != nil {
		_ = e.stdout.Close()
	}
	if e.stderr != nil {
		_ = e.stderr.Close()
	}
}

// bufferPipe is an unbounded in-memory pipe.
type bufferPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBufferPipe() *bufferPipe {
	p := &bufferPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufferPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.cond.Broadcast()
	return n, nil
}

func (p *bufferPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *bufferPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
