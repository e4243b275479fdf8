// Package pool manages reusable TCP (optionally TLS) connections keyed by
// destination. A connection is owned by the pool while Idle, lent to exactly
// one in-flight request while InUse, and evicted permanently once Closed.
package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrDestinationDown is returned by Acquire for a destination whose
	// in-flight connection was invalidated by a remote close. Callers
	// surface it as a host-unreachable failure.
	ErrDestinationDown = errors.New("pool: destination marked down")
)

// DefaultDialTimeout bounds connection establishment when the caller's
// context carries no deadline of its own.
const DefaultDialTimeout = 30 * time.Second

// Pool hands out connections with an atomic claim: an Idle connection is
// removed from the idle set and marked InUse in one critical section, so no
// two requests can hold the same connection.
type Pool struct {
	mu     sync.Mutex
	idle   map[Destination][]*Conn
	down   map[Destination]bool
	closed bool

	dialTimeout time.Duration
	tlsConfig   *tls.Config
	log         zerolog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithTLSConfig sets the TLS configuration used for https destinations.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(p *Pool) {
		p.tlsConfig = cfg
	}
}

// WithDialTimeout bounds how long establishing a new connection may take.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.dialTimeout = d
	}
}

// WithLogger sets the pool's logger. Defaults to a disabled logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pool) {
		p.log = log
	}
}

// New creates an empty pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		idle:        make(map[Destination][]*Conn),
		down:        make(map[Destination]bool),
		dialTimeout: DefaultDialTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a connection to dest in state InUse. An Idle pooled
// connection is reclaimed if one exists; otherwise a new one is dialed.
// The reused result reports whether the connection carried a previous
// exchange (callers retry once on a fresh connection when a reused one
// turns out half-closed).
func (p *Pool) Acquire(ctx context.Context, dest Destination) (conn *Conn, reused bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if p.down[dest] {
		p.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %s", ErrDestinationDown, dest)
	}
	if conns := p.idle[dest]; len(conns) > 0 {
		conn = conns[len(conns)-1]
		p.idle[dest] = conns[:len(conns)-1]
		conn.state = StateInUse
		p.mu.Unlock()
		p.log.Debug().Stringer("dest", dest).Msg("pool: reusing idle connection")
		return conn, true, nil
	}
	p.mu.Unlock()

	conn, err = p.dial(ctx, dest)
	if err != nil {
		return nil, false, err
	}
	p.log.Debug().Stringer("dest", dest).Msg("pool: established new connection")
	return conn, false, nil
}

func (p *Pool) dial(ctx context.Context, dest Destination) (*Conn, error) {
	if _, ok := ctx.Deadline(); !ok && p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", dest.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", dest, err)
	}

	if dest.Scheme == "https" {
		cfg := p.tlsConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = dest.Host
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", dest, err)
		}
		nc = tc
	}

	return newConn(dest, nc), nil
}

// Release returns a lent connection. On success it transitions InUse→Idle
// and becomes eligible for reuse; on failure it is closed and never pooled
// again.
func (p *Pool) Release(c *Conn, failed bool) {
	if c == nil {
		return
	}
	if failed {
		p.discard(c)
		return
	}

	p.mu.Lock()
	if p.closed || c.state == StateClosed {
		p.mu.Unlock()
		c.close()
		return
	}
	c.state = StateIdle
	c.lastActive = time.Now()
	p.idle[c.dest] = append(p.idle[c.dest], c)
	p.mu.Unlock()
	p.log.Debug().Stringer("dest", c.dest).Msg("pool: connection returned to idle")
}

func (p *Pool) discard(c *Conn) {
	p.mu.Lock()
	c.state = StateClosed
	p.mu.Unlock()
	c.close()
	p.log.Debug().Stringer("dest", c.dest).Msg("pool: connection evicted")
}

// MarkDown records that dest's connection was invalidated by the remote
// mid-exchange. Subsequent Acquire calls for dest fail fast with
// ErrDestinationDown.
func (p *Pool) MarkDown(dest Destination) {
	p.mu.Lock()
	p.down[dest] = true
	conns := p.idle[dest]
	delete(p.idle, dest)
	for _, c := range conns {
		c.state = StateClosed
	}
	p.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	p.log.Debug().Stringer("dest", dest).Msg("pool: destination marked down")
}

// IdleCount reports pooled connections for dest.
func (p *Pool) IdleCount(dest Destination) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[dest])
}

// Close evicts and closes every idle connection. Connections currently lent
// out are closed by their holders on release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var all []*Conn
	for _, conns := range p.idle {
		all = append(all, conns...)
	}
	p.idle = make(map[Destination][]*Conn)
	for _, c := range all {
		c.state = StateClosed
	}
	p.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}
