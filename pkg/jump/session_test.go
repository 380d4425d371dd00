package jump

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rileyhilliard/jumpssh/internal/logger"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	sshtesting "github.com/rileyhilliard/jumpssh/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNet is a gateway plus two hosts reachable only through it.
type testNet struct {
	network *sshtesting.MockNetwork
	gateway *sshtesting.MockHost
	remote  *sshtesting.MockHost
	remote2 *sshtesting.MockHost
	log     *logger.BufferLogger
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	network := sshtesting.NewMockNetwork()
	return &testNet{
		network: network,
		gateway: network.AddHost("gateway:22", "user1", "password1"),
		remote:  network.AddHost("10.0.0.5:2222", "user1", "password1"),
		remote2: network.AddHost("10.0.0.5:2223", "user1", "password1"),
		log:     logger.NewBufferLogger(),
	}
}

func (n *testNet) config(host string, port int) Config {
	return Config{
		Host:          host,
		Port:          port,
		User:          "user1",
		Password:      "password1",
		RetryInterval: time.Millisecond,
		Logger:        n.log,
		Dial:          n.network.Dial,
	}
}

func (n *testNet) openGateway(t *testing.T) *Session {
	t.Helper()
	s, err := Dial(context.Background(), n.config("gateway", 22))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_OpenClose(t *testing.T) {
	n := newTestNet(t)
	s := New(n.config("gateway", 22))

	assert.False(t, s.IsActive())
	assert.Equal(t, StatusClosed, s.Status())
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.False(t, s.IsRemote())

	require.NoError(t, s.Open(context.Background()))
	assert.True(t, s.IsActive())
	assert.Equal(t, StatusActive, s.Status())
	assert.Equal(t, "active", s.Status().String())

	// Opening an active session is harmless and makes no new connection.
	require.NoError(t, s.Open(context.Background()))
	assert.Len(t, n.gateway.Conns(), 1)

	require.NoError(t, s.Close())
	assert.False(t, s.IsActive())
	assert.True(t, n.gateway.Last().Closed())

	// Closing again does nothing.
	require.NoError(t, s.Close())
	assert.Equal(t, 1, n.gateway.Last().CloseCount())
}

func TestSession_Reopen(t *testing.T) {
	n := newTestNet(t)
	s := n.openGateway(t)
	_, err := s.GetRemoteSession(context.Background(), n.config("10.0.0.5", 2222))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Open(context.Background()))

	assert.True(t, s.IsActive())
	assert.Len(t, n.gateway.Conns(), 2)
	assert.Empty(t, s.RemoteSessions())

	code, err := s.GetExitCode(context.Background(), Cmd("true"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestSession_UnknownHost(t *testing.T) {
	n := newTestNet(t)

	for _, retry := range []int{0, 2} {
		before := len(n.network.Dials())
		s := New(n.config("unknown_host", 22))
		err := s.Open(context.Background(), WithRetry(retry))

		require.Error(t, err)
		assert.True(t, IsCode(err, ErrConnection))
		var dnsErr *net.DNSError
		assert.True(t, stderrors.As(err, &dnsErr), "cause should be a DNS error: %v", err)
		assert.Len(t, n.network.Dials(), before+retry+1)
		assert.False(t, s.IsActive())
	}
}

func TestSession_RetrySucceeds(t *testing.T) {
	n := newTestNet(t)
	n.gateway.FailNextDials(2)

	s := New(n.config("gateway", 22))
	require.NoError(t, s.Open(context.Background(), WithRetry(2)))
	defer s.Close()

	assert.True(t, s.IsActive())
	assert.Len(t, n.network.Dials(), 3)
	assert.True(t, n.log.HasLevel("warn"))
}

func TestSession_RetryExhausted(t *testing.T) {
	n := newTestNet(t)
	n.gateway.FailNextDials(5)

	err := New(n.config("gateway", 22)).Open(context.Background(), WithRetry(2))

	assert.True(t, IsCode(err, ErrConnection))
	var dialErr *sshutil.DialError
	assert.ErrorAs(t, err, &dialErr)
	assert.Len(t, n.network.Dials(), 3)
}

func TestSession_AuthFailureNotRetried(t *testing.T) {
	n := newTestNet(t)
	cfg := n.config("gateway", 22)
	cfg.Password = "wrong"

	err := New(cfg).Open(context.Background(), WithRetry(5))

	assert.True(t, IsCode(err, ErrConnection))
	var authErr *sshutil.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Len(t, n.network.Dials(), 1)
}

func TestSession_RetryStopsOnCancel(t *testing.T) {
	n := newTestNet(t)
	n.gateway.FailNextDials(100)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := New(n.config("gateway", 22)).Open(ctx, WithRetry(100), WithRetryInterval(20*time.Millisecond))

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSession_DroppedConnection(t *testing.T) {
	n := newTestNet(t)
	s := n.openGateway(t)

	n.gateway.Last().Drop()

	assert.Eventually(t, func() bool { return !s.IsActive() }, time.Second, 5*time.Millisecond)
	_, err := s.RunCmd(context.Background(), Cmd("true"))
	assert.True(t, IsCode(err, ErrState))

	require.NoError(t, s.Open(context.Background()))
	assert.True(t, s.IsActive())
	assert.Len(t, n.gateway.Conns(), 2)
}

func TestSession_CommandsOnClosedSession(t *testing.T) {
	n := newTestNet(t)
	s := New(n.config("gateway", 22))
	ctx := context.Background()

	_, err := s.RunCmd(ctx, Cmd("ls"))
	assert.True(t, IsCode(err, ErrState))
	_, err = s.GetCmdOutput(ctx, Cmd("ls"))
	assert.True(t, IsCode(err, ErrState))
	_, err = s.GetExitCode(ctx, Cmd("ls"))
	assert.True(t, IsCode(err, ErrState))
	_, err = s.Exists(ctx, "/tmp", false)
	assert.True(t, IsCode(err, ErrState))
	assert.True(t, IsCode(s.File(ctx, "/tmp/x", "x"), ErrState))
	assert.True(t, IsCode(s.Get(ctx, "/tmp/x", t.TempDir(), false), ErrState))
	assert.True(t, IsCode(s.Put(ctx, "/etc/hostname", "/tmp/x"), ErrState))
}

func TestSession_RunCmd(t *testing.T) {
	n := newTestNet(t)
	n.gateway.OnConnect(func(c *sshtesting.MockConn) {
		c.SetCommandResponse("hostname", sshtesting.CommandResponse{Stdout: []byte("gateway.example.com\n")})
	})
	s := n.openGateway(t)
	ctx := context.Background()

	res, err := s.RunCmd(ctx, Cmd("hostname"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "gateway.example.com\n", res.Output)

	res, err = s.RunCmd(ctx, Cmd("dummy command"), WithRaiseIfError(false))
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)

	_, err = s.RunCmd(ctx, Cmd("dummy command"))
	var runErr *RunCmdError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 127, runErr.ExitCode)
	assert.Equal(t, "dummy command", runErr.Command)

	out, err := s.GetCmdOutput(ctx, Cmds("echo a", "echo b"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	code, err := s.GetExitCode(ctx, Cmd("exit 3"))
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	assert.True(t, n.log.Contains("running: hostname"))
}

func TestSession_RunCmdInput(t *testing.T) {
	n := newTestNet(t)
	n.gateway.OnConnect(func(c *sshtesting.MockConn) {
		c.Handle(`^read`, sshtesting.Ask("Requesting user input value?"))
	})
	s := n.openGateway(t)
	ctx := context.Background()

	// Without an answer the read waits until the timeout.
	_, err := s.RunCmd(ctx, Cmd("read my_var"), WithTimeout(200*time.Millisecond))
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "read my_var", timeoutErr.Command)

	out, err := s.GetCmdOutput(ctx, Cmd("read my_var"),
		WithInputData(map[string]string{"Requesting user input value": "dummy_value"}))
	require.NoError(t, err)
	assert.Contains(t, out, "answers: dummy_value")
}

func TestSession_CommandTimeoutDefault(t *testing.T) {
	n := newTestNet(t)
	n.gateway.OnConnect(func(c *sshtesting.MockConn) {
		c.Handle(`^sleep`, sshtesting.Sleep(time.Hour))
	})
	cfg := n.config("gateway", 22)
	cfg.CommandTimeout = 50 * time.Millisecond
	s, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RunCmd(context.Background(), Cmd("sleep 3600"))
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, IsCode(err, ErrTimeout))
	assert.True(t, s.IsActive(), "a timed out command leaves the session usable")
}

func TestSession_ParseCommandRejectsOtherTypes(t *testing.T) {
	_, err := ParseCommand(map[string]string{"key": "value"})
	assert.True(t, IsCode(err, ErrType))

	cmd, err := ParseCommand([]any{"cd /etc", "ls"})
	require.NoError(t, err)
	assert.Equal(t, Cmds("cd /etc", "ls"), cmd)
}

func TestSession_FileOperations(t *testing.T) {
	n := newTestNet(t)
	gateway := n.openGateway(t)
	ctx := context.Background()

	remote, err := gateway.GetRemoteSession(ctx, n.config("10.0.0.5", 2222))
	require.NoError(t, err)
	fs := n.remote.FS

	missing := filepath.Join("missing_folder", "missing_path")
	err = remote.Put(ctx, missing, "/tmp/my_file")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, syscall.ENOENT, ioErr.Errno)
	assert.Equal(t, "Local file '"+missing+"' does not exist", ioErr.Message)

	local := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(local, []byte("random content"), 0o644))
	require.NoError(t, remote.Put(ctx, local, "/tmp/payload", WithPermissions("600")))
	data, err := fs.ReadFile("/tmp/payload")
	require.NoError(t, err)
	assert.Equal(t, "random content", string(data))

	require.NoError(t, remote.File(ctx, "/tmp/dummy.json", `{"a":1}`))
	out, err := remote.GetCmdOutput(ctx, Cmd("cat /tmp/dummy.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	sshtesting.WithDirs(fs, []string{"/etc/private"})
	fs.Deny("/etc/private")
	err = remote.File(ctx, "/etc/private/conf", "x")
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, syscall.EACCES, ioErr.Errno)
	require.NoError(t, remote.File(ctx, "/etc/private/conf", "x", WithSudo(true), WithOwner("user2")))

	exists, err := remote.Exists(ctx, "/etc/private/conf", false)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = remote.Exists(ctx, "/etc/private/conf", true)
	require.NoError(t, err)
	assert.True(t, exists)

	dir := t.TempDir()
	require.NoError(t, remote.Get(ctx, "/etc/private/conf", dir, true))
	got, err := os.ReadFile(filepath.Join(dir, "conf"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestSession_CloseReleasesSFTP(t *testing.T) {
	n := newTestNet(t)
	s := n.openGateway(t)
	require.NoError(t, s.File(context.Background(), "/tmp/a", "a"))

	client := s.link.Load().sftp
	require.NotNil(t, client)
	require.NoError(t, s.Close())
	assert.True(t, client.(*sshtesting.MockSFTP).Closed())
}

func TestSession_CloseJoinsErrors(t *testing.T) {
	n := newTestNet(t)
	gateway := n.openGateway(t)
	remote, err := gateway.GetRemoteSession(context.Background(), n.config("10.0.0.5", 2222))
	require.NoError(t, err)

	n.remote.Last().CloseErr = stderrors.New("remote close failed")
	n.gateway.Last().CloseErr = stderrors.New("gateway close failed")

	err = gateway.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote close failed")
	assert.Contains(t, err.Error(), "gateway close failed")
	assert.False(t, remote.IsActive())
	assert.False(t, gateway.IsActive())
}

func TestSession_With(t *testing.T) {
	n := newTestNet(t)
	s := New(n.config("gateway", 22))

	var seen bool
	err := s.With(context.Background(), func(s *Session) error {
		seen = s.IsActive()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen)
	assert.False(t, s.IsActive())

	boom := stderrors.New("boom")
	err = s.With(context.Background(), func(*Session) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.IsActive())

	assert.Panics(t, func() {
		_ = s.With(context.Background(), func(*Session) error { panic("oops") })
	})
	assert.False(t, s.IsActive())
}

func TestWithSession(t *testing.T) {
	n := newTestNet(t)

	var remoteSeen *Session
	err := WithSession(context.Background(), n.config("gateway", 22), func(gw *Session) error {
		r, err := gw.GetRemoteSession(context.Background(), n.config("10.0.0.5", 2222))
		remoteSeen = r
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, remoteSeen)
	assert.False(t, remoteSeen.IsActive())
	assert.True(t, n.gateway.Last().Closed())
	assert.True(t, n.remote.Last().Closed())
}
