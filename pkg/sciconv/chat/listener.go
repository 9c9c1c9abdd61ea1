package chat

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// MessageListener receives every inbound envelope the client parses.
type MessageListener interface {
	OnMessage(ctx context.Context, msg InboundEnvelope) error
}

// ConnectionListener receives connection state changes. Connected is true
// exactly once per transition to StateOpen and false once per transition out
// of it (or per failed attempt).
type ConnectionListener interface {
	OnConnectionChange(ctx context.Context, ev ConnectionEvent) error
}

// ConnectionEvent describes one state transition.
type ConnectionEvent struct {
	Connected bool
	State     State
	// Err is the transport error behind a failed attempt or a remote close.
	// It is nil for transitions caused by Connect succeeding or Disconnect.
	Err  error
	Time time.Time
}

// MessageFunc wraps fn as a MessageListener. Each call returns a distinct
// listener, so keep the result to deregister it later.
func MessageFunc(fn func(ctx context.Context, msg InboundEnvelope) error) MessageListener {
	return &messageFunc{fn: fn}
}

type messageFunc struct {
	fn func(ctx context.Context, msg InboundEnvelope) error
}

func (m *messageFunc) OnMessage(ctx context.Context, msg InboundEnvelope) error {
	return m.fn(ctx, msg)
}

// ConnectionFunc wraps fn as a ConnectionListener. Each call returns a
// distinct listener.
func ConnectionFunc(fn func(ctx context.Context, ev ConnectionEvent) error) ConnectionListener {
	return &connectionFunc{fn: fn}
}

type connectionFunc struct {
	fn func(ctx context.Context, ev ConnectionEvent) error
}

func (c *connectionFunc) OnConnectionChange(ctx context.Context, ev ConnectionEvent) error {
	return c.fn(ctx, ev)
}

// listenerSet is an ordered set keyed by listener identity.
type listenerSet[L comparable] struct {
	mu        sync.RWMutex
	listeners []L
}

// comparableListener reports whether l can be used as a set member without
// the equality check panicking.
func comparableListener(l any) bool {
	if l == nil {
		return false
	}
	return reflect.TypeOf(l).Comparable()
}

// add appends l unless it is already registered. It reports whether the set
// changed.
func (s *listenerSet[L]) add(l L) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.listeners {
		if existing == l {
			return false
		}
	}
	s.listeners = append(s.listeners, l)
	return true
}

// remove drops l if present. It reports whether the set changed.
func (s *listenerSet[L]) remove(l L) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.listeners {
		if existing == l {
			// copy so snapshots handed out earlier are never mutated
			next := make([]L, 0, len(s.listeners)-1)
			next = append(next, s.listeners[:i]...)
			next = append(next, s.listeners[i+1:]...)
			s.listeners = next
			return true
		}
	}
	return false
}

// snapshot returns the current members in registration order. The returned
// slice is never modified afterwards.
func (s *listenerSet[L]) snapshot() []L {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners[:len(s.listeners):len(s.listeners)]
}

func (s *listenerSet[L]) contains(l L) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.listeners {
		if existing == l {
			return true
		}
	}
	return false
}

func (s *listenerSet[L]) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
