package jump

import (
	stderrors "errors"
	"fmt"
	"sort"
)

// registry holds the remote sessions opened through one gateway. A gateway
// keeps at most one live session per remote host: requesting the same host
// on another port or as another user replaces the previous one.
type registry struct {
	sessions map[Destination]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[Destination]*Session)}
}

func (r *registry) get(dest Destination) *Session {
	return r.sessions[dest]
}

func (r *registry) len() int {
	return len(r.sessions)
}

// put installs s at dest, closing any session it supersedes.
func (r *registry) put(dest Destination, s *Session) error {
	var err error
	if old, ok := r.sessions[dest]; ok && old != s {
		err = old.Close()
	}
	r.sessions[dest] = s
	return err
}

// remove closes and forgets the session at dest.
func (r *registry) remove(dest Destination) error {
	s, ok := r.sessions[dest]
	if !ok {
		return nil
	}
	delete(r.sessions, dest)
	return s.Close()
}

// evictHost closes every session on dest's host other than dest itself.
func (r *registry) evictHost(dest Destination) error {
	var errs []error
	for _, key := range r.keys() {
		if key.Host == dest.Host && key != dest {
			if err := r.remove(key); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
			}
		}
	}
	return stderrors.Join(errs...)
}

// closeAll closes every session, continuing past failures, and empties the
// registry.
func (r *registry) closeAll() error {
	var errs []error
	for _, key := range r.keys() {
		if err := r.sessions[key].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
		}
	}
	r.sessions = make(map[Destination]*Session)
	return stderrors.Join(errs...)
}

// list returns the sessions ordered by destination.
func (r *registry) list() []*Session {
	keys := r.keys()
	out := make([]*Session, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.sessions[key])
	}
	return out
}

func (r *registry) keys() []Destination {
	keys := make([]Destination, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
