// Package pool provides a bounded connection pool with safe concurrent
// acquire and release.
//
// The pool owns every connection it creates: at most Capacity connections
// exist at once, idle or leased. Acquire hands out an exclusive lease —
// ownership transfers to the caller until Release. A connection released in
// a non-healthy state is closed instead of pooled, temporarily shrinking the
// effective capacity until the next Acquire recreates one.
//
// Usage:
//
//	p := pool.New(10, func(ctx context.Context) (pool.Conn, error) {
//		return bolt.Connect(ctx, opts)
//	})
//	defer p.Close()
//
//	conn, err := p.Acquire(ctx)
//	if err != nil { ... }
//	defer p.Release(conn)
package pool

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolExhausted is returned when Acquire's wait bound expires before a
// connection becomes available.
var ErrPoolExhausted = errors.New("pool: exhausted, acquire timed out")

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool: closed")

// Conn is the pool's view of a pooled connection.
type Conn interface {
	// Healthy reports whether the connection may be handed out again.
	Healthy() bool
	// Close tears down the underlying link.
	Close() error
}

// Factory creates a new connection. It is called outside the pool lock, so
// slow dials do not block concurrent acquire/release traffic.
type Factory func(ctx context.Context) (Conn, error)

// Pool is a bounded set of connections. The zero value is not usable; use New.
type Pool struct {
	factory  Factory
	capacity int

	// permits holds one token per unit of capacity. Holding a token is the
	// right to own one connection; Acquire takes a token, Release returns
	// it. This is what bounds |idle|+|leased|.
	permits chan struct{}

	mu     sync.Mutex
	idle   []Conn
	closed bool
}

// New creates a pool that maintains at most capacity connections created by
// the factory.
func New(capacity int, factory Factory) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		factory:  factory,
		capacity: capacity,
		permits:  make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.permits <- struct{}{}
	}
	return p
}

// Capacity returns the configured maximum number of connections.
func (p *Pool) Capacity() int { return p.capacity }

// Idle returns the current number of idle connections.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Acquire leases a connection: an idle healthy one if available, a freshly
// created one while under capacity, otherwise it waits for a release. A
// deadline expiring during the wait fails with ErrPoolExhausted; plain
// cancellation surfaces as the context's own error.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	select {
	case <-p.permits:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrPoolExhausted
		}
		return nil, ctx.Err()
	}

	conn, err := p.takeIdle()
	if err != nil {
		p.permits <- struct{}{}
		return nil, err
	}
	if conn != nil {
		return conn, nil
	}

	conn, err = p.factory(ctx)
	if err != nil {
		p.permits <- struct{}{}
		return nil, err
	}
	return conn, nil
}

// takeIdle pops an idle connection, closing any that turn out unhealthy.
// Returns nil when the caller should create a new connection.
func (p *Pool) takeIdle() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if conn.Healthy() {
			return conn, nil
		}
		conn.Close()
	}
	return nil, nil
}

// Release returns a leased connection. Healthy connections go back to the
// idle set; anything else is closed and its capacity slot freed for a future
// Acquire to recreate.
func (p *Pool) Release(conn Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	if p.closed || !conn.Healthy() {
		p.mu.Unlock()
		conn.Close()
	} else {
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}
	p.permits <- struct{}{}
}

// Discard closes a leased connection without pooling it, freeing its
// capacity slot.
func (p *Pool) Discard(conn Conn) {
	if conn != nil {
		conn.Close()
	}
	p.permits <- struct{}{}
}

// Close drains and closes all idle connections and rejects further
// acquires. Leased connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, conn := range idle {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
