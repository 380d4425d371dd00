package jump

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/jumpssh/internal/logger"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"golang.org/x/crypto/ssh"
)

// DefaultRetryInterval is the pause between connection attempts.
const DefaultRetryInterval = 2 * time.Second

// DialFunc establishes a transport to cfg, tunneled through via when via is
// non-nil. sshutil.Dial is the default.
type DialFunc func(ctx context.Context, via sshutil.Dialer, cfg sshutil.Config) (sshutil.Conn, error)

// Config describes one hop of a chain.
type Config struct {
	Host string
	Port int // 22 when zero
	User string

	Password   string
	PrivateKey []byte // PEM encoded
	KeyFile    string
	Passphrase string
	UseAgent   bool

	// HostKeyCallback verifies server keys. Nil accepts any key.
	// Remote sessions inherit their gateway's callback when unset.
	HostKeyCallback ssh.HostKeyCallback

	// Timeout bounds connect plus handshake for each attempt.
	Timeout time.Duration
	// Retry is how many extra attempts Open makes after a connectivity failure.
	Retry int
	// RetryInterval is the pause between attempts. DefaultRetryInterval when zero.
	RetryInterval time.Duration
	// CommandTimeout is the default bound for RunCmd. Zero means none.
	CommandTimeout time.Duration

	// Logger defaults to the gateway's logger, then logger.Default().
	Logger logger.Logger
	// Dial defaults to the gateway's dialer, then sshutil.Dial.
	Dial DialFunc
}

// Destination identifies a remote session within its gateway.
type Destination struct {
	Host string
	Port int
	User string
}

func (d Destination) String() string {
	return fmt.Sprintf("%s@%s:%d", d.User, d.Host, d.Port)
}

func (c Config) port() int {
	if c.Port == 0 {
		return sshutil.DefaultPort
	}
	return c.Port
}

// Destination returns the registry key for c.
func (c Config) Destination() Destination {
	return Destination{Host: c.Host, Port: c.port(), User: c.User}
}

// inherit fills unset ambient fields from the gateway's config.
func (c Config) inherit(gateway Config) Config {
	if c.Logger == nil {
		c.Logger = gateway.Logger
	}
	if c.Dial == nil {
		c.Dial = gateway.Dial
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = gateway.HostKeyCallback
	}
	if c.Timeout == 0 {
		c.Timeout = gateway.Timeout
	}
	return c
}

func (c Config) sshConfig() sshutil.Config {
	return sshutil.Config{
		Host:            c.Host,
		Port:            c.port(),
		User:            c.User,
		Password:        c.Password,
		PrivateKey:      c.PrivateKey,
		KeyFile:         c.KeyFile,
		Passphrase:      c.Passphrase,
		UseAgent:        c.UseAgent,
		HostKeyCallback: c.HostKeyCallback,
		Timeout:         c.Timeout,
	}
}

func defaultDial(ctx context.Context, via sshutil.Dialer, cfg sshutil.Config) (sshutil.Conn, error) {
	client, err := sshutil.Dial(ctx, via, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// OpenOption overrides connection settings for one Open or GetRemoteSession.
type OpenOption func(*openOptions)

type openOptions struct {
	retry    int
	interval time.Duration
	timeout  time.Duration
}

// WithRetry sets how many extra attempts follow a connectivity failure.
func WithRetry(n int) OpenOption {
	return func(o *openOptions) { o.retry = n }
}

// WithRetryInterval sets the pause between attempts.
func WithRetryInterval(d time.Duration) OpenOption {
	return func(o *openOptions) { o.interval = d }
}

// WithConnectTimeout bounds each attempt's connect plus handshake.
func WithConnectTimeout(d time.Duration) OpenOption {
	return func(o *openOptions) { o.timeout = d }
}

func (c Config) openOptions(opts []OpenOption) openOptions {
	o := openOptions{retry: c.Retry, interval: c.RetryInterval, timeout: c.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		o.interval = DefaultRetryInterval
	}
	if o.retry < 0 {
		o.retry = 0
	}
	return o
}
