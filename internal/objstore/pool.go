package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/espen/blobmigrate/internal/metrics"
)

// DefaultPoolCapacity is the number of idle connections kept for reuse
const DefaultPoolCapacity = 10

// Pool keeps a bounded set of idle connections so callers avoid repeating
// the authentication handshake.
//
// Only connections handed back with Put are reused. A connection that saw an
// unexpected error should be given to Discard instead.
type Pool struct {
	dial     DialFunc
	capacity int
	logger   *slog.Logger

	mu   sync.Mutex
	idle []Conn // oldest first
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithPoolLogger sets the logger used for eviction and close errors
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a pool that dials with dial and keeps at most capacity idle
// connections. A capacity below one uses DefaultPoolCapacity.
func NewPool(dial DialFunc, capacity int, opts ...PoolOption) *Pool {
	if capacity < 1 {
		capacity = DefaultPoolCapacity
	}
	p := &Pool{
		dial:     dial,
		capacity: capacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns an idle connection, or dials a new one if none is idle.
func (p *Pool) Get(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		metrics.PoolIdle.Set(float64(len(p.idle)))
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.dial(ctx)
	if err != nil {
		metrics.PoolDials.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialing object store: %w", err)
	}
	metrics.PoolDials.WithLabelValues("ok").Inc()
	return c, nil
}

// Put returns a connection for reuse. Nil connections are ignored. When the
// pool is full the oldest idle connection is closed to make room.
func (p *Pool) Put(c Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, c)
	var evicted []Conn
	if over := len(p.idle) - p.capacity; over > 0 {
		evicted = append(evicted, p.idle[:over]...)
		p.idle = append(p.idle[:0], p.idle[over:]...)
	}
	metrics.PoolIdle.Set(float64(len(p.idle)))
	p.mu.Unlock()

	for _, old := range evicted {
		metrics.PoolDropped.WithLabelValues(metrics.DropEvicted).Inc()
		p.closeConn(old)
	}
}

// Discard closes a connection without returning it to the pool.
func (p *Pool) Discard(c Conn) {
	if c == nil {
		return
	}
	metrics.PoolDropped.WithLabelValues(metrics.DropDiscarded).Inc()
	p.closeConn(c)
}

// With checks out a connection and runs fn with it. The connection goes back
// to the pool only if fn returns nil; on error or panic it is discarded and
// the error or panic is passed through unchanged.
func (p *Pool) With(ctx context.Context, fn func(Conn) error) (err error) {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if ok {
			p.Put(c)
		} else {
			p.Discard(c)
		}
	}()

	if err = fn(c); err != nil {
		return err
	}
	ok = true
	return nil
}

// Len returns the number of idle connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Capacity returns the idle connection limit.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Close closes every idle connection.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	metrics.PoolIdle.Set(0)
	p.mu.Unlock()

	for _, c := range idle {
		p.closeConn(c)
	}
}

func (p *Pool) closeConn(c Conn) {
	if err := c.Close(); err != nil {
		p.logger.Warn("closing object store connection", "error", err)
	}
}
