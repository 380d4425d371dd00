// Package sshtest runs an in-process SSH server for tests.
//
// The server accepts password (and optionally public key) auth, runs exec
// requests through the local sh, on a pseudo-terminal when the client asks
// for one, serves the sftp subsystem over the local filesystem and forwards
// direct-tcpip channels, so it can act as both a gateway and a chained target.
package sshtest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is an SSH server listening on a loopback port.
type Server struct {
	users          map[string]string
	authorizedKeys []ssh.PublicKey
	hostKey        ssh.Signer
	listener       net.Listener
	config         *ssh.ServerConfig

	mu       sync.Mutex
	commands []string
	ptys     []bool
	dials    []string
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithUser adds another accepted user/password pair.
func WithUser(user, password string) Option {
	return func(s *Server) {
		s.users[user] = password
	}
}

// WithAuthorizedKey accepts public key auth with key for any known user.
func WithAuthorizedKey(key ssh.PublicKey) Option {
	return func(s *Server) {
		s.authorizedKeys = append(s.authorizedKeys, key)
	}
}

// NewServer starts a server on 127.0.0.1 with a random port. It is closed
// automatically when the test ends.
func NewServer(t testing.TB, user, password string, opts ...Option) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	s := &Server{
		users:   map[string]string{user: password},
		hostKey: signer,
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if want, ok := s.users[c.User()]; ok && want == string(pass) {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if _, ok := s.users[c.User()]; ok {
				for _, k := range s.authorizedKeys {
					if bytes.Equal(k.Marshal(), key.Marshal()) {
						return nil, nil
					}
				}
			}
			return nil, fmt.Errorf("public key rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptConnections()

	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Host returns the listening IP.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Commands returns every exec command received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// PtyCommands returns the exec commands that were started on a terminal.
func (s *Server) PtyCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for i, cmd := range s.commands {
		if s.ptys[i] {
			out = append(out, cmd)
		}
	}
	return out
}

// Forwards returns every direct-tcpip destination requested so far.
func (s *Server) Forwards() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dials...)
}

// DropConnections closes every client connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops accepting, drops connections and waits for handlers to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	var channels sync.WaitGroup
	defer channels.Wait()

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			ch, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			channels.Add(1)
			go func() {
				defer channels.Done()
				s.handleSession(ch, requests)
			}()
		case "direct-tcpip":
			channels.Add(1)
			go func() {
				defer channels.Done()
				s.handleForward(newChannel)
			}()
		default:
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

// ptyRequest is the pty-req payload (RFC 4254 section 6.2).
type ptyRequest struct {
	Term          string
	Columns, Rows uint32
	Width, Height uint32
	Modes         string
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	var tty *ptyRequest
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var payload ptyRequest
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			tty = &payload
			_ = req.Reply(true, nil)

		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.ptys = append(s.ptys, tty != nil)
			s.mu.Unlock()

			s.runCommand(ch, requests, payload.Command, tty)
			return

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			go ssh.DiscardRequests(requests)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			return

		default:
			// env is accepted and ignored, anything else is refused.
			if req.WantReply {
				_ = req.Reply(req.Type == "env", nil)
			}
		}
	}
}

// runCommand executes command with sh, wiring the channel to its stdio and
// killing it when the client closes the channel. With a pty the command gets
// a terminal for all three streams, so stderr arrives on stdout.
func (s *Server) runCommand(ch ssh.Channel, requests <-chan *ssh.Request, command string, tty *ptyRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for req := range requests {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
		cancel()
	}()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.WaitDelay = time.Second

	var status int
	if tty != nil {
		status = runWithPty(cmd, ch, tty)
	} else {
		status = runWithPipes(cmd, ch)
	}
	if ctx.Err() != nil {
		return
	}
	sendExitStatus(ch, status)
}

func runWithPipes(cmd *exec.Cmd, ch ssh.Channel) int {
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 127
	}
	if err := cmd.Start(); err != nil {
		return 127
	}
	go func() {
		_, _ = io.Copy(stdin, ch)
		stdin.Close()
	}()
	return waitStatus(cmd.Wait())
}

// runWithPty starts cmd on a fresh pseudo-terminal. Terminal modes from the
// request are not applied, so input is echoed.
func runWithPty(cmd *exec.Cmd, ch ssh.Channel, tty *ptyRequest) int {
	if tty.Term != "" {
		cmd.Env = append(os.Environ(), "TERM="+tty.Term)
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(tty.Rows),
		Cols: uint16(tty.Columns),
	})
	if err != nil {
		return 127
	}
	defer ptmx.Close()

	go func() { _, _ = io.Copy(ptmx, ch) }()
	copied := make(chan struct{})
	go func() {
		// Reads fail with EIO once the last process holding the tty exits.
		_, _ = io.Copy(ch, ptmx)
		close(copied)
	}()

	status := waitStatus(cmd.Wait())
	select {
	case <-copied:
	case <-time.After(time.Second):
	}
	return status
}

func waitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 255
}

func sendExitStatus(ch ssh.Channel, status int) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

func (s *Server) handleForward(newChannel ssh.NewChannel) {
	var payload struct {
		Host       string
		Port       uint32
		OriginAddr string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	target := net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port)))
	s.mu.Lock()
	s.dials = append(s.dials, target)
	s.mu.Unlock()

	conn, err := net.Dial("tcp", target)
	if err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	ch, reqs, err := newChannel.Accept()
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	var once sync.Once
	closeBoth := func() {
		ch.Close()
		conn.Close()
	}
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(ch, conn)
		once.Do(closeBoth)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, ch)
		once.Do(closeBoth)
		done <- struct{}{}
	}()
	<-done
	<-done
}
