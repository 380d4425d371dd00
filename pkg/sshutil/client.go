package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 22

// Config describes how to reach and authenticate to one host.
type Config struct {
	Host string
	Port int
	User string

	Password   string
	PrivateKey []byte // PEM encoded key material
	KeyFile    string
	Passphrase string // for an encrypted PrivateKey or KeyFile
	UseAgent   bool

	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback

	// Timeout bounds TCP connect plus handshake. Zero means no bound.
	Timeout time.Duration
}

// Address returns host:port, using DefaultPort when Port is unset.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client wraps an SSH connection with the address it was dialed at.
type Client struct {
	*ssh.Client
	Host    string // Host as given in Config
	Address string // host:port actually dialed
}

// Dial connects and authenticates to cfg. When via is non-nil the TCP stream
// is opened through it (typically the Conn of a gateway) instead of directly.
//
// Failures are classified:
//   - *DialError for connectivity problems (resolution, refused, unreachable, timeouts)
//   - *AuthError when the server rejects every offered credential
//   - *HostKeyMismatchError or *knownhosts.KeyError for host key verification
//   - *errors.Error (ErrSSH) when no credential could be prepared locally
func Dial(ctx context.Context, via Dialer, cfg Config) (*Client, error) {
	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	address := cfg.Address()
	conn, err := dialStream(ctx, via, address)
	if err != nil {
		return nil, &DialError{Address: address, Err: err}
	}

	sshConn, chans, reqs, err := handshake(ctx, conn, address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(cfg, address, err)
	}

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    cfg.Host,
		Address: address,
	}, nil
}

// dialStream opens the TCP stream, honoring ctx even for dialers that don't
// take one (ssh.Client.Dial).
func dialStream(ctx context.Context, via Dialer, address string) (net.Conn, error) {
	if via == nil {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := via.Dial("tcp", address)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// handshake runs the SSH handshake over conn. Tunneled connections don't
// support deadlines, so ctx is enforced by closing conn.
func handshake(ctx context.Context, conn net.Conn, address string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}
	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, address, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	case <-ctx.Done():
		conn.Close()
		<-done
		return nil, nil, nil, ctx.Err()
	}
}

func classifyHandshakeError(cfg Config, address string, err error) error {
	var mismatch *HostKeyMismatchError
	if stderrors.As(err, &mismatch) {
		return mismatch
	}
	var keyErr *knownhosts.KeyError
	if stderrors.As(err, &keyErr) {
		return err
	}

	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return &AuthError{User: cfg.User, Address: address, Err: err}
	}
	return &DialError{Address: address, Err: err}
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// NewExec opens a new session channel for a single command.
func (c *Client) NewExec() (ExecChannel, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Couldn't open a channel on %s", c.Address),
			"Connection may have been closed. Try reconnecting.")
	}
	return session, nil
}

// NewSFTP starts an sftp client over the connection.
func (c *Client) NewSFTP() (SFTPClient, error) {
	return newSFTPClient(c.Client)
}

// DialError is a connectivity failure: the host could not be reached, or the
// stream broke before the handshake completed. It is safe to retry.
type DialError struct {
	Address string
	Err     error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("can't reach %s: %v", e.Address, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Suggestion returns a hint based on the underlying network error.
func (e *DialError) Suggestion() string {
	return suggestionForDialError(e.Err)
}

// AuthError is returned when the server rejected every offered credential.
type AuthError struct {
	User    string
	Address string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.User, e.Address, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// buildClientConfig creates an SSH client config with authentication methods.
func buildClientConfig(cfg Config) (*ssh.ClientConfig, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // caller opted out by leaving it unset
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// authMethods returns agent, key and password methods in that order.
func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth := sshAgentAuth(); agentAuth != nil {
			methods = append(methods, agentAuth)
		}
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := parseSigner(cfg.PrivateKey, cfg.Passphrase, "private key")
		if err != nil {
			return nil, keyError(err, "private key")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.KeyFile != "" {
		path := expandPath(cfg.KeyFile)
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Couldn't read key file %s", path),
				"Check the key_file path and its permissions.")
		}
		signer, err := parseSigner(key, cfg.Passphrase, path)
		if err != nil {
			return nil, keyError(err, path)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		suggestion := "Provide a password, a private key or a key file."
		if cfg.UseAgent {
			suggestion = "The SSH agent has no keys loaded. Check with: ssh-add -l"
		}
		return nil, errors.New(errors.ErrSSH,
			fmt.Sprintf("No SSH auth methods available for %s@%s", cfg.User, cfg.Host),
			suggestion)
	}

	return methods, nil
}

func keyError(err error, source string) error {
	var encErr *EncryptedKeyError
	if stderrors.As(err, &encErr) {
		return errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH key %s is encrypted", source),
			"Set a passphrase for it, or load it into the agent: ssh-add "+encErr.Path)
	}
	return errors.WrapWithCode(err, errors.ErrSSH,
		fmt.Sprintf("Couldn't parse SSH key %s", source),
		"Make sure the key is a valid OpenSSH or PEM private key.")
}

// parseSigner parses PEM key material, returning EncryptedKeyError when a
// passphrase is needed but missing.
func parseSigner(key []byte, passphrase, source string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err == nil {
			return signer, nil
		}
		// A passphrase given for a plain key is ignored.
		if plain, plainErr := ssh.ParsePrivateKey(key); plainErr == nil {
			return plain, nil
		}
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) ||
			strings.Contains(err.Error(), "encrypted") ||
			isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: source}
		}
		return nil, err
	}
	return signer, nil
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is reused across multiple SSH connections.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// HostSettings are the values ~/.ssh/config holds for a host alias.
// Fields are empty when the config doesn't set them.
type HostSettings struct {
	Hostname     string
	Port         string
	User         string
	IdentityFile string
}

// matchWarningOnce ensures the SSH config Match directive warning is only shown once per process.
var matchWarningOnce sync.Once

// WarningHandler is a function that handles warning messages.
// If nil, warnings are printed to stderr via log.Printf.
var WarningHandler func(message string)

func emitWarning(message string) {
	if WarningHandler != nil {
		WarningHandler(message)
	} else {
		log.Printf("Warning: %s", message)
	}
}

// ResolveHost looks alias up in ~/.ssh/config.
func ResolveHost(alias string) HostSettings {
	return ResolveHostFrom(filepath.Join(homeDir(), ".ssh", "config"), alias)
}

// ResolveHostFrom looks alias up in the given ssh config file. A missing or
// unparsable file yields empty settings.
func ResolveHostFrom(configPath, alias string) HostSettings {
	var settings HostSettings

	// kevinburke/ssh_config doesn't support Match, so only the content before
	// the first Match block is parsed.
	content, matchLine, err := preprocessSSHConfig(configPath)
	if err != nil {
		return settings
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return settings
	}

	settings.Hostname, _ = cfg.Get(alias, "HostName")
	settings.Port, _ = cfg.Get(alias, "Port")
	settings.User, _ = cfg.Get(alias, "User")
	if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
		settings.IdentityFile = expandPath(identity)
	}

	found := settings != HostSettings{}
	if matchLine > 0 && !found {
		matchWarningOnce.Do(func() {
			emitWarning(fmt.Sprintf(
				"Host '%s' not found in SSH config (config has a Match block at line %d that may hide later entries). "+
					"If this host is defined after line %d, move it earlier in ~/.ssh/config.",
				alias, matchLine, matchLine))
		})
	}

	return settings
}

// Helper functions

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "Connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	if strings.Contains(errStr, "no such host") {
		return "The hostname didn't resolve. Check for typos or DNS settings."
	}
	return "Make sure the host is reachable: ping <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  To update known_hosts with all key types:\n"+
			"    ssh-keyscan -t rsa,ecdsa,ed25519 %s >> %s\n\n"+
			"  Or remove the old entry:\n"+
			"    ssh-keygen -R %s",
		wantStr, e.ReceivedType, host, e.KnownHosts, host)
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Also returns the 1-indexed line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED")) ||
		bytes.Contains(data, []byte("Proc-Type: 4,ENCRYPTED"))
}

// KnownHostsCallback verifies host keys against knownHostsPath, creating an
// empty file if none exists. Mismatches are reported as *HostKeyMismatchError.
func KnownHostsCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	knownHostsPath = expandPath(knownHostsPath)
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		dir := filepath.Dir(knownHostsPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
