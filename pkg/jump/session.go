// Package jump opens SSH sessions through chains of gateway hosts.
//
// A Session connects to one host. GetRemoteSession tunnels a new session
// through it to a host only the gateway can reach, and so on to any depth.
// Closing a session closes everything opened through it.
package jump

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/logger"
	"github.com/rileyhilliard/jumpssh/internal/runner"
	"github.com/rileyhilliard/jumpssh/internal/transfer"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Status is a session's connection state.
type Status int

const (
	StatusClosed Status = iota
	StatusActive
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "closed"
}

// Session is a connection to one host, possibly tunneled through a gateway.
// A Session is meant to be driven from one goroutine; IsActive and Status
// are safe to call from any goroutine.
type Session struct {
	// ID identifies the session in logs.
	ID uuid.UUID
	// ParentID is the gateway's ID, or uuid.Nil for a session opened directly.
	ParentID uuid.UUID

	cfg      Config
	log      logger.Logger
	link     atomic.Pointer[link]
	children *registry
}

// link is one established transport. A reopened session gets a new link.
type link struct {
	conn    sshutil.Conn
	sftp    sshutil.SFTPClient
	dropped atomic.Bool
}

// New returns a closed session for cfg.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	return &Session{
		ID:       uuid.New(),
		cfg:      cfg,
		log:      cfg.Logger,
		children: newRegistry(),
	}
}

// Dial returns an open session for cfg.
func Dial(ctx context.Context, cfg Config, opts ...OpenOption) (*Session, error) {
	s := New(cfg)
	if err := s.Open(ctx, opts...); err != nil {
		return nil, err
	}
	return s, nil
}

// WithSession opens a session for cfg, runs fn, and closes it.
func WithSession(ctx context.Context, cfg Config, fn func(*Session) error, opts ...OpenOption) error {
	return New(cfg).With(ctx, fn, opts...)
}

// OpenChain opens the first hop directly and tunnels through it to each
// following hop. It returns the root, which owns the chain, and the last hop.
// Nothing stays open on failure.
func OpenChain(ctx context.Context, hops []Config, opts ...OpenOption) (root, target *Session, err error) {
	if len(hops) == 0 {
		return nil, nil, errors.New(errors.ErrConfig, "Chain has no hops", "Add at least one host to the chain.")
	}
	root, err = Dial(ctx, hops[0], opts...)
	if err != nil {
		return nil, nil, err
	}
	target, err = root.Chain(ctx, hops[1:], opts...)
	if err != nil {
		if cerr := root.Close(); cerr != nil {
			root.log.Warn("closing %s after failed chain: %v", root, cerr)
		}
		return nil, nil, err
	}
	return root, target, nil
}

func (s *Session) String() string {
	return s.cfg.Destination().String()
}

// Host returns the configured host.
func (s *Session) Host() string { return s.cfg.Host }

// Port returns the port, 22 when unset.
func (s *Session) Port() int { return s.cfg.port() }

// User returns the login user.
func (s *Session) User() string { return s.cfg.User }

// Destination returns the session's registry key.
func (s *Session) Destination() Destination { return s.cfg.Destination() }

// IsRemote reports whether the session was opened through a gateway.
func (s *Session) IsRemote() bool { return s.ParentID != uuid.Nil }

// IsActive reports whether the transport is established and has neither been
// closed nor dropped by the remote end.
func (s *Session) IsActive() bool {
	l := s.link.Load()
	return l != nil && !l.dropped.Load()
}

// Status returns StatusActive or StatusClosed.
func (s *Session) Status() Status {
	if s.IsActive() {
		return StatusActive
	}
	return StatusClosed
}

// RemoteSessions returns the sessions currently registered through s.
func (s *Session) RemoteSessions() []*Session {
	return s.children.list()
}

// Open connects and authenticates. It does nothing if the session is already
// active. Connectivity failures are retried; authentication and host key
// failures are not.
func (s *Session) Open(ctx context.Context, opts ...OpenOption) error {
	if s.IsActive() {
		return nil
	}
	if s.IsRemote() {
		return errors.New(errors.ErrState,
			fmt.Sprintf("Remote session %s is closed", s),
			"Request it again from its gateway with GetRemoteSession.")
	}
	if err := s.release(); err != nil {
		s.log.Debug("releasing dropped connection to %s: %v", s, err)
	}

	conn, err := s.connect(ctx, nil, opts)
	if err != nil {
		return err
	}
	s.attach(conn)
	s.log.Info("connected to %s", s)
	return nil
}

// Close closes every session opened through s, depth first, then s itself.
// Failures along the way are collected and returned together; closing a
// closed session does nothing.
func (s *Session) Close() error {
	if s.link.Load() == nil {
		return nil
	}
	err := s.release()
	s.log.Debug("closed %s", s)
	return err
}

// release tears down the current link, if any, and its remote sessions.
func (s *Session) release() error {
	l := s.link.Swap(nil)
	if l == nil {
		return nil
	}

	// A dropped transport fails to close; that isn't worth reporting.
	dropped := l.dropped.Load()
	var errs []error
	if err := s.children.closeAll(); err != nil {
		errs = append(errs, err)
	}
	if l.sftp != nil {
		if err := l.sftp.Close(); err != nil && !dropped {
			errs = append(errs, fmt.Errorf("closing sftp on %s: %w", s, err))
		}
	}
	if err := l.conn.Close(); err != nil && !dropped {
		errs = append(errs, fmt.Errorf("closing %s: %w", s, err))
	}
	return stderrors.Join(errs...)
}

// With opens the session, runs fn, and closes the session on every exit path.
func (s *Session) With(ctx context.Context, fn func(*Session) error, opts ...OpenOption) (err error) {
	if err := s.Open(ctx, opts...); err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// GetRemoteSession returns a session to cfg tunneled through s. An active
// session to the same destination is returned as is. A child of s on the same
// host with a different port or user is closed and replaced; children on
// other hosts stay open, so s may hold one session per remote host.
func (s *Session) GetRemoteSession(ctx context.Context, cfg Config, opts ...OpenOption) (*Session, error) {
	l := s.link.Load()
	if l == nil || l.dropped.Load() {
		return nil, errors.New(errors.ErrState,
			fmt.Sprintf("Cannot chain through an inactive session (%s)", s),
			"Open the gateway session first.")
	}

	cfg = cfg.inherit(s.cfg)
	dest := cfg.Destination()
	if existing := s.children.get(dest); existing != nil {
		if existing.IsActive() {
			return existing, nil
		}
		if err := s.children.remove(dest); err != nil {
			s.log.Debug("releasing stale session %s: %v", dest, err)
		}
	}
	if err := s.children.evictHost(dest); err != nil {
		s.log.Warn("replacing session on %s: %v", dest.Host, err)
	}

	child := New(cfg)
	child.ParentID = s.ID
	conn, err := child.connect(ctx, l.conn, opts)
	if err != nil {
		return nil, err
	}
	child.attach(conn)
	if err := s.children.put(dest, child); err != nil {
		s.log.Warn("replacing session %s: %v", dest, err)
	}
	s.log.Info("connected to %s through %s", child, s)
	return child, nil
}

// Chain follows GetRemoteSession hop by hop and returns the last session.
// With no hops it returns s.
func (s *Session) Chain(ctx context.Context, hops []Config, opts ...OpenOption) (*Session, error) {
	current := s
	for _, hop := range hops {
		next, err := current.GetRemoteSession(ctx, hop, opts...)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// connect dials with retry. via is nil for a direct connection.
func (s *Session) connect(ctx context.Context, via sshutil.Dialer, opts []OpenOption) (sshutil.Conn, error) {
	o := s.cfg.openOptions(opts)
	cfg := s.cfg.sshConfig()
	cfg.Timeout = o.timeout

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.interval), uint64(o.retry)), ctx)

	var conn sshutil.Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, err := s.cfg.Dial(ctx, via, cfg)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("connecting to %s failed (attempt %d of %d), retrying in %s: %v",
			s, attempt, o.retry+1, wait, err)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, connectionError(s.cfg.Destination(), err)
	}
	return conn, nil
}

// attach installs conn and watches it for an out-of-band drop.
func (s *Session) attach(conn sshutil.Conn) {
	l := &link{conn: conn}
	s.link.Store(l)
	go func() {
		_ = conn.Wait()
		l.dropped.Store(true)
		if s.link.Load() == l {
			s.log.Debug("connection to %s dropped", s)
		}
	}()
}

// retryable reports whether err is a connectivity failure worth retrying.
func retryable(err error) bool {
	var dialErr *sshutil.DialError
	return stderrors.As(err, &dialErr)
}

func connectionError(dest Destination, cause error) error {
	suggestion := "Check the host is reachable and the credentials are right."
	var (
		dialErr     *sshutil.DialError
		authErr     *sshutil.AuthError
		mismatchErr *sshutil.HostKeyMismatchError
		keyErr      *knownhosts.KeyError
	)
	switch {
	case stderrors.As(cause, &mismatchErr):
		suggestion = mismatchErr.Suggestion()
	case stderrors.As(cause, &keyErr):
		suggestion = "The host key isn't in known_hosts. Connect once with ssh to verify it, or disable strict host key checking."
	case stderrors.As(cause, &authErr):
		suggestion = "Check the username, password, or key for " + dest.String() + "."
	case stderrors.As(cause, &dialErr):
		suggestion = dialErr.Suggestion()
	}
	return errors.WrapWithCode(cause, errors.ErrConnection,
		fmt.Sprintf("Couldn't connect to %s", dest), suggestion)
}

// active returns the live link or a State error.
func (s *Session) active() (*link, error) {
	l := s.link.Load()
	if l == nil || l.dropped.Load() {
		return nil, errors.New(errors.ErrState,
			fmt.Sprintf("Session %s is not active", s),
			"Open the session before running commands.")
	}
	return l, nil
}

// remote adapts a session to the runner and transfer packages.
type remote struct {
	s *Session
}

func (r remote) NewExec() (sshutil.ExecChannel, error) {
	l, err := r.s.active()
	if err != nil {
		return nil, err
	}
	return l.conn.NewExec()
}

func (r remote) SFTP() (sshutil.SFTPClient, error) {
	l, err := r.s.active()
	if err != nil {
		return nil, err
	}
	if l.sftp == nil {
		client, err := l.conn.NewSFTP()
		if err != nil {
			return nil, err
		}
		l.sftp = client
	}
	return l.sftp, nil
}

func (s *Session) runOptions(opts []runner.Option) []runner.Option {
	base := []runner.Option{runner.WithLogger(s.log)}
	if s.cfg.CommandTimeout > 0 {
		base = append(base, runner.WithTimeout(s.cfg.CommandTimeout))
	}
	return append(base, opts...)
}

// RunCmd runs cmd on the remote host. See runner.Run.
func (s *Session) RunCmd(ctx context.Context, cmd Command, opts ...RunOption) (Result, error) {
	if _, err := s.active(); err != nil {
		return Result{}, err
	}
	return runner.Run(ctx, remote{s}, cmd, s.runOptions(opts)...)
}

// GetCmdOutput runs cmd and returns its merged output.
func (s *Session) GetCmdOutput(ctx context.Context, cmd Command, opts ...RunOption) (string, error) {
	if _, err := s.active(); err != nil {
		return "", err
	}
	return runner.Output(ctx, remote{s}, cmd, s.runOptions(opts)...)
}

// GetExitCode runs cmd and returns its exit status. A non-zero status is not
// an error.
func (s *Session) GetExitCode(ctx context.Context, cmd Command, opts ...RunOption) (int, error) {
	if _, err := s.active(); err != nil {
		return -1, err
	}
	return runner.ExitCode(ctx, remote{s}, cmd, s.runOptions(opts)...)
}

func (s *Session) fileOptions(opts []FileOption) []FileOption {
	return append([]FileOption{transfer.WithLogger(s.log)}, opts...)
}

// Put uploads a local file.
func (s *Session) Put(ctx context.Context, localPath, remotePath string, opts ...FileOption) error {
	if _, err := s.active(); err != nil {
		return err
	}
	return transfer.Put(ctx, remote{s}, localPath, remotePath, s.fileOptions(opts)...)
}

// Get downloads a remote file. With useSudo, files the login user can't read
// are copied out through a temporary file.
func (s *Session) Get(ctx context.Context, remotePath, localPath string, useSudo bool) error {
	if _, err := s.active(); err != nil {
		return err
	}
	return transfer.Get(ctx, remote{s}, remotePath, localPath, useSudo, transfer.WithLogger(s.log))
}

// File writes content to a remote file.
func (s *Session) File(ctx context.Context, remotePath, content string, opts ...FileOption) error {
	if _, err := s.active(); err != nil {
		return err
	}
	return transfer.File(ctx, remote{s}, remotePath, content, s.fileOptions(opts)...)
}

// Exists reports whether remotePath exists and is visible to the login user,
// or to root with useSudo.
func (s *Session) Exists(ctx context.Context, remotePath string, useSudo bool) (bool, error) {
	if _, err := s.active(); err != nil {
		return false, err
	}
	return transfer.Exists(ctx, remote{s}, remotePath, useSudo, runner.WithLogger(s.log))
}
