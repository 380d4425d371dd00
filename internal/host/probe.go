// Package host checks that every hop of a chain can be reached and logged in
// to, reporting per-hop latency and a categorized failure reason.
package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rileyhilliard/jumpssh/pkg/jump"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"golang.org/x/crypto/ssh/knownhosts"
)

// FailReason categorizes why a hop failed.
type FailReason int

const (
	FailUnknown FailReason = iota
	FailTimeout
	FailRefused
	FailUnreachable
	FailResolve
	FailAuth
	FailHostKey
	FailCanceled
)

// String returns a human-readable description of the failure reason.
func (r FailReason) String() string {
	switch r {
	case FailTimeout:
		return "connection timed out"
	case FailRefused:
		return "connection refused"
	case FailUnreachable:
		return "host unreachable"
	case FailResolve:
		return "hostname didn't resolve"
	case FailAuth:
		return "authentication failed"
	case FailHostKey:
		return "host key verification failed"
	case FailCanceled:
		return "canceled"
	default:
		return "unknown error"
	}
}

// ProbeError is a failed hop with its categorized reason.
type ProbeError struct {
	Destination jump.Destination
	Reason      FailReason
	Cause       error
}

func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("probe %s failed: %s (%v)", e.Destination, e.Reason, e.Cause)
	}
	return fmt.Sprintf("probe %s failed: %s", e.Destination, e.Reason)
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// HopResult is the outcome of probing one hop.
type HopResult struct {
	Destination jump.Destination
	// Latency covers connect plus handshake for this hop alone.
	Latency time.Duration
	Err     *ProbeError
	// Skipped is set for hops after a failed one.
	Skipped bool
}

// OK reports whether the hop connected.
func (r HopResult) OK() bool {
	return r.Err == nil && !r.Skipped
}

// ProbeChain opens hops in order, each through the one before, and closes
// them all before returning. Probing stops at the first failure; later hops
// are reported as skipped. Retries are disabled so failures surface at once.
func ProbeChain(ctx context.Context, hops []jump.Config) []HopResult {
	results := make([]HopResult, len(hops))
	for i, hop := range hops {
		results[i].Destination = hop.Destination()
	}

	var root, gateway *jump.Session
	defer func() {
		if root != nil {
			_ = root.Close()
		}
	}()

	for i, hop := range hops {
		start := time.Now()
		var (
			s   *jump.Session
			err error
		)
		if gateway == nil {
			s, err = jump.Dial(ctx, hop, jump.WithRetry(0))
			root = s
		} else {
			s, err = gateway.GetRemoteSession(ctx, hop, jump.WithRetry(0))
		}
		results[i].Latency = time.Since(start)

		if err != nil {
			results[i].Err = categorize(results[i].Destination, err)
			for j := i + 1; j < len(results); j++ {
				results[j].Skipped = true
			}
			break
		}
		gateway = s
	}
	return results
}

// Failed returns the first failed hop, or nil when every hop connected.
func Failed(results []HopResult) *HopResult {
	for i := range results {
		if results[i].Err != nil {
			return &results[i]
		}
	}
	return nil
}

// categorize maps a connection error to a FailReason, using the typed errors
// from sshutil first and the message text for raw network errors.
func categorize(dest jump.Destination, err error) *ProbeError {
	probeErr := &ProbeError{Destination: dest, Reason: FailUnknown, Cause: err}

	var (
		authErr     *sshutil.AuthError
		mismatchErr *sshutil.HostKeyMismatchError
		keyErr      *knownhosts.KeyError
		dnsErr      *net.DNSError
	)
	switch {
	case stderrors.As(err, &authErr):
		probeErr.Reason = FailAuth
		return probeErr
	case stderrors.As(err, &mismatchErr), stderrors.As(err, &keyErr):
		probeErr.Reason = FailHostKey
		return probeErr
	case stderrors.As(err, &dnsErr):
		probeErr.Reason = FailResolve
		return probeErr
	case stderrors.Is(err, context.Canceled):
		probeErr.Reason = FailCanceled
		return probeErr
	case stderrors.Is(err, context.DeadlineExceeded):
		probeErr.Reason = FailTimeout
		return probeErr
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out") {
		probeErr.Reason = FailTimeout
		return probeErr
	}

	if strings.Contains(errStr, "connection refused") {
		probeErr.Reason = FailRefused
		return probeErr
	}

	if strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "host is down") {
		probeErr.Reason = FailUnreachable
		return probeErr
	}

	if strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "permission denied") {
		probeErr.Reason = FailAuth
		return probeErr
	}

	if strings.Contains(errStr, "host key") {
		probeErr.Reason = FailHostKey
		return probeErr
	}

	return probeErr
}
