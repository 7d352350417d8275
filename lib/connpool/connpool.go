// Package connpool maintains a pool of warm FTP sessions.
//
// Sessions are loaned out exclusively - an FTP control connection can
// never be shared between two concurrent operations.  Returned
// sessions are health checked and destroyed rather than re-pooled if
// the operation left the stream in an unknown state.
package connpool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/ftpc"
)

// Options configures a Pool
type Options struct {
	MinSize        int           // connections kept warm
	MaxSize        int           // hard cap on open connections
	AcquireTimeout time.Duration // max wait for a free connection
	IdleTimeout    time.Duration // drain idle connections after this long unused
}

// DefaultOptions are used for zero values in Options, except
// IdleTimeout: a zero IdleTimeout disables the idle drain.
var DefaultOptions = Options{
	MinSize:        2,
	MaxSize:        8,
	AcquireTimeout: 30 * time.Second,
	IdleTimeout:    60 * time.Second,
}

func (o Options) withDefaults() Options {
	if o.MinSize <= 0 {
		o.MinSize = DefaultOptions.MinSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultOptions.MaxSize
	}
	if o.MinSize > o.MaxSize {
		o.MinSize = o.MaxSize
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultOptions.AcquireTimeout
	}
	return o
}

// Stats is a snapshot of pool counters
type Stats struct {
	Total       int           // open connections (idle + loaned)
	Active      int           // connections currently on loan
	Idle        int           // connections sitting in the pool
	Failed      int64         // dials and health checks that failed
	AvgWaitTime time.Duration // mean time spent waiting in Acquire
	LastReset   time.Time
}

// Conn is a pooled session on loan.  Exactly one of Release or
// Discard must be called when the operation is done with it.
type Conn struct {
	ftpc.Session
	pool       *Pool
	acquiredAt time.Time
}

// Release returns the connection to the pool.  opErr is the error of
// the operation that used the connection (nil for success) - it
// decides whether the connection is health checked or destroyed.
func (c *Conn) Release(opErr error) {
	c.pool.put(c, opErr)
}

// Discard destroys the connection without returning it.  Use this
// when the operation was abandoned mid-transfer and the stream state
// is unknown.
func (c *Conn) Discard() {
	c.pool.discard(c)
}

// Pool is a bounded pool of FTP sessions with a FIFO waiter queue.
type Pool struct {
	opt  Options
	dial ftpc.Dialer

	mu      sync.Mutex
	idle    []*Conn    // free connections, used as a stack
	numOpen int        // idle + loaned
	waiters *list.List // of chan *Conn, woken FIFO
	closed  bool
	drain   *time.Timer

	failed    int64
	waitCount int64
	waitTotal time.Duration
	lastReset time.Time
}

// New creates a Pool which dials new sessions with dial
func New(opt Options, dial ftpc.Dialer) *Pool {
	p := &Pool{
		opt:       opt.withDefaults(),
		dial:      dial,
		waiters:   list.New(),
		lastReset: time.Now(),
	}
	if p.opt.IdleTimeout > 0 {
		p.drain = time.AfterFunc(p.opt.IdleTimeout, func() { _ = p.Clear() })
	}
	return p
}

// String implements fmt.Stringer for logging
func (p *Pool) String() string {
	return "connection pool"
}

// Warm fills the pool to MinSize synchronously so that connection
// errors surface at mount time rather than on first use.
func (p *Pool) Warm(ctx context.Context) error {
	conns := make([]*Conn, 0, p.opt.MinSize)
	var err error
	for i := 0; i < p.opt.MinSize; i++ {
		c, acquireErr := p.Acquire(ctx)
		if acquireErr != nil {
			err = acquireErr
			break
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.Release(nil)
	}
	return err
}

// Acquire loans a session out of the pool.  If the pool is at
// MaxSize and nothing is idle the caller waits FIFO up to
// AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	deadline := start.Add(p.opt.AcquireTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fs.ErrorPoolExhausted
		}
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.noteWait(start)
			p.mu.Unlock()
			c.acquiredAt = time.Now()
			return c, nil
		}
		if p.numOpen < p.opt.MaxSize {
			p.numOpen++
			p.mu.Unlock()
			s, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.numOpen--
				p.failed++
				p.wakeOne(nil) // let a waiter retry against the freed capacity
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			p.noteWait(start)
			p.mu.Unlock()
			return &Conn{Session: s, pool: p, acquiredAt: time.Now()}, nil
		}
		// Pool is full: wait for a connection to come back
		ch := make(chan *Conn, 1)
		elem := p.waiters.PushBack(ch)
		p.mu.Unlock()

		timer := time.NewTimer(time.Until(deadline))
		select {
		case c := <-ch:
			timer.Stop()
			if c == nil {
				continue // capacity freed, retry the dial path
			}
			p.mu.Lock()
			p.noteWait(start)
			p.mu.Unlock()
			c.acquiredAt = time.Now()
			return c, nil
		case <-ctx.Done():
			timer.Stop()
			p.abandonWaiter(elem, ch)
			return nil, ctx.Err()
		case <-timer.C:
			p.abandonWaiter(elem, ch)
			return nil, fs.ErrorPoolExhausted
		}
	}
}

// abandonWaiter removes a waiter from the queue, re-pooling any
// connection that was handed to it in the meantime.
func (p *Pool) abandonWaiter(elem *list.Element, ch chan *Conn) {
	p.mu.Lock()
	p.waiters.Remove(elem)
	p.mu.Unlock()
	select {
	case c := <-ch:
		if c != nil {
			p.put(c, nil)
		}
	default:
	}
}

// noteWait records time spent in Acquire.  Call with the lock held.
func (p *Pool) noteWait(start time.Time) {
	p.waitCount++
	p.waitTotal += time.Since(start)
}

// wakeOne hands c (which may be nil, meaning "retry") to the oldest
// waiter.  Returns true if a waiter took it.  Call with the lock held.
func (p *Pool) wakeOne(c *Conn) bool {
	for {
		front := p.waiters.Front()
		if front == nil {
			return false
		}
		p.waiters.Remove(front)
		ch := front.Value.(chan *Conn)
		select {
		case ch <- c:
			return true
		default:
			// waiter gave up and its channel is gone, try the next
		}
	}
}

// healthy reports whether the connection survived the operation.  A
// protocol level error leaves the control connection usable so we
// check with a NOOP like the server expects; network errors and
// cancellations leave the stream in an unknown state.
func (p *Pool) healthy(c *Conn, opErr error) bool {
	switch fs.Kind(opErr) {
	case fs.KindNetworkError, fs.KindIoTimeout, fs.KindCancelled:
		return false
	case fs.KindProtocolError:
		if nopErr := c.NoOp(); nopErr != nil {
			fs.Debugf(p, "connection failed health check, closing: %v", nopErr)
			return false
		}
	}
	return true
}

// put returns a connection to the pool after an operation
func (p *Pool) put(c *Conn, opErr error) {
	if !p.healthy(c, opErr) {
		p.discard(c)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Quit()
		return
	}
	if p.wakeOne(c) {
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, c)
	if p.drain != nil {
		p.drain.Reset(p.opt.IdleTimeout) // nudge the pool drain timer
	}
	p.mu.Unlock()
}

// discard destroys a loaned connection.  It never goes back in the
// pool; the freed capacity wakes a waiter so it can dial afresh.
func (p *Pool) discard(c *Conn) {
	go func() { _ = c.Quit() }() // Quit can block on a dead server
	p.mu.Lock()
	p.numOpen--
	p.failed++
	p.wakeOne(nil)
	p.mu.Unlock()
}

// Clear drains and destroys all idle connections.  Loaned
// connections are not interrupted.
func (p *Pool) Clear() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.numOpen -= len(idle)
	p.mu.Unlock()
	if len(idle) != 0 {
		fs.Debugf(p, "closing %d unused connections", len(idle))
	}
	var err error
	for _, c := range idle {
		if cErr := c.Quit(); cErr != nil {
			err = cErr
		}
	}
	return err
}

// Close shuts the pool down.  Waiters fail immediately, idle
// connections are destroyed and returned loans are quit on arrival.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.drain != nil {
		p.drain.Stop()
	}
	for front := p.waiters.Front(); front != nil; front = p.waiters.Front() {
		p.waiters.Remove(front)
		close(front.Value.(chan *Conn))
	}
	p.mu.Unlock()
	return p.Clear()
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Total:     p.numOpen,
		Idle:      len(p.idle),
		Active:    p.numOpen - len(p.idle),
		Failed:    p.failed,
		LastReset: p.lastReset,
	}
	if p.waitCount > 0 {
		s.AvgWaitTime = p.waitTotal / time.Duration(p.waitCount)
	}
	return s
}
