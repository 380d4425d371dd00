package testing

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
)

// MockHost is a reachable host on a MockNetwork. Every connection to it
// shares one MockFS.
type MockHost struct {
	Address string
	FS      *MockFS

	mu        sync.Mutex
	users     map[string]string
	failDials int
	setup     []func(*MockConn)
	conns     []*MockConn
}

// AddUser accepts another user/password pair.
func (h *MockHost) AddUser(user, password string) *MockHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[user] = password
	return h
}

// FailNextDials makes the next n dials fail with connection refused.
func (h *MockHost) FailNextDials(n int) *MockHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failDials = n
	return h
}

// OnConnect runs fn against every new connection, to register handlers.
func (h *MockHost) OnConnect(fn func(*MockConn)) *MockHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setup = append(h.setup, fn)
	return h
}

// Conns returns every connection made to the host, oldest first.
func (h *MockHost) Conns() []*MockConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*MockConn(nil), h.conns...)
}

// Last returns the newest connection, or nil.
func (h *MockHost) Last() *MockConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return nil
	}
	return h.conns[len(h.conns)-1]
}

// DialRecord is one Dial call observed by a MockNetwork.
type DialRecord struct {
	Address string
	User    string
	Via     string // address of the tunneling connection, empty when direct
}

// MockNetwork resolves dials to registered MockHosts. Its Dial method has the
// same shape as a session's transport dialer.
type MockNetwork struct {
	mu    sync.Mutex
	hosts map[string]*MockHost
	dials []DialRecord
}

// NewMockNetwork creates an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{hosts: make(map[string]*MockHost)}
}

// AddHost registers a host reachable at address (host:port).
func (n *MockNetwork) AddHost(address, user, password string) *MockHost {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := &MockHost{
		Address: address,
		FS:      NewMockFS(),
		users:   map[string]string{user: password},
	}
	n.hosts[address] = h
	return h
}

// Dials returns every dial attempt, oldest first.
func (n *MockNetwork) Dials() []DialRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]DialRecord(nil), n.dials...)
}

// Dial connects to cfg. A non-nil via must be a live *MockConn.
func (n *MockNetwork) Dial(ctx context.Context, via sshutil.Dialer, cfg sshutil.Config) (sshutil.Conn, error) {
	address := cfg.Address()
	record := DialRecord{Address: address, User: cfg.User}

	if via != nil {
		parent, ok := via.(*MockConn)
		if !ok {
			return nil, errors.New("mock network: unsupported dialer")
		}
		record.Via = parent.GetAddress()
		if parent.Closed() {
			n.record(record)
			return nil, &sshutil.DialError{Address: address, Err: errors.New("ssh: connection closed")}
		}
	}
	n.record(record)

	if err := ctx.Err(); err != nil {
		return nil, &sshutil.DialError{Address: address, Err: err}
	}

	n.mu.Lock()
	h := n.hosts[address]
	n.mu.Unlock()
	if h == nil {
		return nil, &sshutil.DialError{Address: address, Err: unreachable(cfg.Host)}
	}

	h.mu.Lock()
	if h.failDials > 0 {
		h.failDials--
		h.mu.Unlock()
		return nil, &sshutil.DialError{Address: address, Err: refused()}
	}
	password, known := h.users[cfg.User]
	setup := append([]func(*MockConn){}, h.setup...)
	h.mu.Unlock()

	if !known || password != cfg.Password {
		return nil, &sshutil.AuthError{
			User:    cfg.User,
			Address: address,
			Err:     errors.New("ssh: unable to authenticate, attempted methods [none password], no supported methods remain"),
		}
	}

	conn := newMockConn(address, cfg.User, h.FS)
	conn.Parent = via
	for _, fn := range setup {
		fn(conn)
	}

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
	return conn, nil
}

func (n *MockNetwork) record(r DialRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials = append(n.dials, r)
}

// unreachable returns a DNS failure for names and connection refused for IPs.
func unreachable(host string) error {
	if net.ParseIP(host) == nil {
		return &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return refused()
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}
}
