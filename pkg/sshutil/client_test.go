package sshutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	jumperrors "github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func serverConfig(s *sshtest.Server, user, password string) Config {
	return Config{
		Host:     s.Host(),
		Port:     s.Port(),
		User:     user,
		Password: password,
		Timeout:  5 * time.Second,
	}
}

func execOutput(t *testing.T, conn Conn, cmd string) (string, error) {
	t.Helper()
	ch, err := conn.NewExec()
	require.NoError(t, err)
	defer ch.Close()

	out, err := ch.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, ch.Start(cmd))
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	return string(data), ch.Wait()
}

func newKey(t *testing.T) (ed25519.PrivateKey, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return priv, signer
}

func TestDial_Direct(t *testing.T) {
	server := sshtest.NewServer(t, "user1", "password1")

	client, err := Dial(context.Background(), nil, serverConfig(server, "user1", "password1"))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, server.Addr(), client.GetAddress())

	out, err := execOutput(t, client, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestDial_ExitStatus(t *testing.T) {
	server := sshtest.NewServer(t, "user1", "password1")
	client, err := Dial(context.Background(), nil, serverConfig(server, "user1", "password1"))
	require.NoError(t, err)
	defer client.Close()

	_, err = execOutput(t, client, "exit 3")
	var exit interface{ ExitStatus() int }
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, exit.ExitStatus())
}

func TestDial_ThroughGateway(t *testing.T) {
	gateway := sshtest.NewServer(t, "user1", "password1")
	target := sshtest.NewServer(t, "user2", "password2")

	gw, err := Dial(context.Background(), nil, serverConfig(gateway, "user1", "password1"))
	require.NoError(t, err)
	defer gw.Close()

	remote, err := Dial(context.Background(), gw, serverConfig(target, "user2", "password2"))
	require.NoError(t, err)
	defer remote.Close()

	out, err := execOutput(t, remote, "echo through")
	require.NoError(t, err)
	assert.Equal(t, "through\n", out)
	assert.Equal(t, []string{target.Addr()}, gateway.Forwards())
	assert.Equal(t, []string{"echo through"}, target.Commands())
	assert.Empty(t, gateway.Commands())
}

func TestDial_ThroughGatewayUnreachable(t *testing.T) {
	gateway := sshtest.NewServer(t, "user1", "password1")
	gw, err := Dial(context.Background(), nil, serverConfig(gateway, "user1", "password1"))
	require.NoError(t, err)
	defer gw.Close()

	cfg := Config{Host: "127.0.0.1", Port: closedPort(t), User: "user2", Password: "password2"}
	_, err = Dial(context.Background(), gw, cfg)

	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, cfg.Address(), dialErr.Address)
}

func TestDial_AuthFailure(t *testing.T) {
	server := sshtest.NewServer(t, "user1", "password1")

	_, err := Dial(context.Background(), nil, serverConfig(server, "user1", "wrong"))

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "user1", authErr.User)
	assert.Contains(t, err.Error(), "authentication failed for user1@")
}

func TestDial_Refused(t *testing.T) {
	_, err := Dial(context.Background(), nil, Config{
		Host: "127.0.0.1", Port: closedPort(t), User: "user1", Password: "password1",
	})

	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Contains(t, dialErr.Suggestion(), "Is SSH running")
}

func TestDial_HandshakeTimeout(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	// Accept but never speak SSH.
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	start := time.Now()
	_, err = Dial(context.Background(), nil, Config{
		Host: "127.0.0.1", Port: addr.Port, User: "user1", Password: "password1",
		Timeout: 200 * time.Millisecond,
	})

	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDial_NoAuthMethods(t *testing.T) {
	_, err := Dial(context.Background(), nil, Config{Host: "127.0.0.1", User: "user1"})

	require.Error(t, err)
	assert.True(t, jumperrors.IsCode(err, jumperrors.ErrSSH))
	assert.Contains(t, err.Error(), "No SSH auth methods available for user1@127.0.0.1")
}

func TestDial_PrivateKey(t *testing.T) {
	priv, signer := newKey(t)
	server := sshtest.NewServer(t, "user1", "password1", sshtest.WithAuthorizedKey(signer.PublicKey()))

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	cfg := serverConfig(server, "user1", "")
	cfg.PrivateKey = pem.EncodeToMemory(block)

	client, err := Dial(context.Background(), nil, cfg)
	require.NoError(t, err)
	client.Close()
}

func TestDial_EncryptedKeyFile(t *testing.T) {
	priv, signer := newKey(t)
	server := sshtest.NewServer(t, "user1", "password1", sshtest.WithAuthorizedKey(signer.PublicKey()))

	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("s3cret"))
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600))

	cfg := serverConfig(server, "user1", "")
	cfg.KeyFile = keyPath

	_, err = Dial(context.Background(), nil, cfg)
	var encErr *EncryptedKeyError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, keyPath, encErr.Path)

	cfg.Passphrase = "s3cret"
	client, err := Dial(context.Background(), nil, cfg)
	require.NoError(t, err)
	client.Close()
}

func TestDial_MissingKeyFile(t *testing.T) {
	_, err := Dial(context.Background(), nil, Config{
		Host: "127.0.0.1", User: "user1", KeyFile: filepath.Join(t.TempDir(), "nope"),
	})
	assert.True(t, jumperrors.IsCode(err, jumperrors.ErrSSH))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDial_KnownHosts(t *testing.T) {
	server := sshtest.NewServer(t, "user1", "password1")
	knownHostsPath := filepath.Join(t.TempDir(), "known_hosts")
	hostPattern := knownhosts.Normalize(server.Addr())

	t.Run("match", func(t *testing.T) {
		line := knownhosts.Line([]string{hostPattern}, server.HostKey())
		require.NoError(t, os.WriteFile(knownHostsPath, []byte(line+"\n"), 0600))

		callback, err := KnownHostsCallback(knownHostsPath)
		require.NoError(t, err)

		cfg := serverConfig(server, "user1", "password1")
		cfg.HostKeyCallback = callback
		client, err := Dial(context.Background(), nil, cfg)
		require.NoError(t, err)
		client.Close()
	})

	t.Run("mismatch", func(t *testing.T) {
		_, other := newKey(t)
		line := knownhosts.Line([]string{hostPattern}, other.PublicKey())
		require.NoError(t, os.WriteFile(knownHostsPath, []byte(line+"\n"), 0600))

		callback, err := KnownHostsCallback(knownHostsPath)
		require.NoError(t, err)

		cfg := serverConfig(server, "user1", "password1")
		cfg.HostKeyCallback = callback
		_, err = Dial(context.Background(), nil, cfg)

		var mismatch *HostKeyMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Contains(t, mismatch.Suggestion(), "ssh-keygen -R 127.0.0.1")
	})

	t.Run("unknown host", func(t *testing.T) {
		require.NoError(t, os.WriteFile(knownHostsPath, nil, 0600))

		callback, err := KnownHostsCallback(knownHostsPath)
		require.NoError(t, err)

		cfg := serverConfig(server, "user1", "password1")
		cfg.HostKeyCallback = callback
		_, err = Dial(context.Background(), nil, cfg)

		var keyErr *knownhosts.KeyError
		require.ErrorAs(t, err, &keyErr)
		assert.Empty(t, keyErr.Want)
	})
}

func TestKnownHostsCallback_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh", "known_hosts")

	_, err := KnownHostsCallback(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestClient_SFTP(t *testing.T) {
	server := sshtest.NewServer(t, "user1", "password1")
	client, err := Dial(context.Background(), nil, serverConfig(server, "user1", "password1"))
	require.NoError(t, err)
	defer client.Close()

	sftpClient, err := client.NewSFTP()
	require.NoError(t, err)
	defer sftpClient.Close()

	path := filepath.Join(t.TempDir(), "hello.txt")
	f, err := sftpClient.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello sftp"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := sftpClient.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello sftp", string(data))

	require.NoError(t, sftpClient.Chmod(path, 0600))
	info, err := sftpClient.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = sftpClient.Open(path + ".missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, sftpClient.Remove(path))
	_, err = sftpClient.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestClient_WaitReturnsOnDrop(t *testing.T) {
	server := sshtest.NewServer(t, "user1", "password1")
	client, err := Dial(context.Background(), nil, serverConfig(server, "user1", "password1"))
	require.NoError(t, err)
	defer client.Close()

	waited := make(chan struct{})
	go func() {
		_ = client.Wait()
		close(waited)
	}()

	server.DropConnections()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the server dropped the connection")
	}
}

func TestConfig_Address(t *testing.T) {
	assert.Equal(t, "gateway:22", Config{Host: "gateway"}.Address())
	assert.Equal(t, "gateway:2222", Config{Host: "gateway", Port: 2222}.Address())
	assert.Equal(t, "[::1]:22", Config{Host: "::1"}.Address())
}

func TestExpandPath(t *testing.T) {
	home := homeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, expandPath(tt.input), tt.input)
	}
}

func TestSuggestionForDialError(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{errors.New("dial tcp: connect: connection refused"), "Is SSH running"},
		{errors.New("ssh: rejected: connect failed (Connection refused)"), "Is SSH running"},
		{errors.New("connect: no route to host"), "Can't route"},
		{errors.New("read: i/o timeout"), "timed out"},
		{context.DeadlineExceeded, "timed out"},
		{&net.DNSError{Err: "no such host", Name: "nope"}, "didn't resolve"},
		{errors.New("random error"), "ping <host>"},
	}

	for _, tt := range tests {
		assert.Contains(t, suggestionForDialError(tt.err), tt.contains, tt.err.Error())
	}
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}
