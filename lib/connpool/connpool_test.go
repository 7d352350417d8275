package connpool

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/ftpc"
)

// mockSession is a Session that counts NoOps and Quits
type mockSession struct {
	id      int
	noOpErr error
	noOps   int32
	quits   int32
}

func (s *mockSession) List(string) ([]ftpc.FileInfo, error)   { return nil, nil }
func (s *mockSession) Download(string) (io.ReadCloser, error) { return nil, nil }
func (s *mockSession) Upload(string, io.Reader) error         { return nil }
func (s *mockSession) Delete(string) error                    { return nil }
func (s *mockSession) Mkdir(string) error                     { return nil }
func (s *mockSession) Rmdir(string) error                     { return nil }
func (s *mockSession) Rename(string, string) error            { return nil }
func (s *mockSession) Stat(string) (*ftpc.FileInfo, error)    { return nil, nil }
func (s *mockSession) NoOp() error {
	atomic.AddInt32(&s.noOps, 1)
	return s.noOpErr
}
func (s *mockSession) Quit() error {
	atomic.AddInt32(&s.quits, 1)
	return nil
}

// newMockDialer returns a dialer and a counter of dials made
func newMockDialer() (ftpc.Dialer, *int32) {
	var dials int32
	return func(ctx context.Context) (ftpc.Session, error) {
		n := atomic.AddInt32(&dials, 1)
		return &mockSession{id: int(n)}, nil
	}, &dials
}

func TestPoolAcquireRelease(t *testing.T) {
	dial, dials := newMockDialer()
	p := New(Options{MaxSize: 2, AcquireTimeout: time.Second}, dial)
	defer func() { _ = p.Close() }()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(dials))
	assert.Equal(t, 1, p.Stats().Active)

	c.Release(nil)
	assert.Equal(t, 1, p.Stats().Idle)

	// a second acquire reuses the idle connection
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(dials))
	c2.Release(nil)
}

func TestPoolMaxSize(t *testing.T) {
	dial, dials := newMockDialer()
	p := New(Options{MaxSize: 2, AcquireTimeout: 100 * time.Millisecond}, dial)
	defer func() { _ = p.Close() }()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	// the pool is full, a third acquire times out
	_, err = p.Acquire(context.Background())
	assert.True(t, errors.Is(err, fs.ErrorPoolExhausted))
	assert.Equal(t, int32(2), atomic.LoadInt32(dials), "no more than MaxSize dials")

	c1.Release(nil)
	c2.Release(nil)
}

func TestPoolWaiterGetsReleasedConn(t *testing.T) {
	dial, _ := newMockDialer()
	p := New(Options{MaxSize: 1, AcquireTimeout: 2 * time.Second}, dial)
	defer func() { _ = p.Close() }()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Conn, 1)
	go func() {
		c2, err := p.Acquire(context.Background())
		require.NoError(t, err)
		got <- c2
	}()
	time.Sleep(50 * time.Millisecond) // let the waiter queue up
	c.Release(nil)

	select {
	case c2 := <-got:
		c2.Release(nil)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestPoolStarvation(t *testing.T) {
	// 8 workers against a pool of 2: never more than 2 sessions in
	// use at once, everyone gets a turn
	dial, dials := newMockDialer()
	p := New(Options{MaxSize: 2, AcquireTimeout: 5 * time.Second}, dial)
	defer func() { _ = p.Close() }()

	var inUse, maxInUse int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			require.NoError(t, err)
			n := atomic.AddInt32(&inUse, 1)
			for {
				old := atomic.LoadInt32(&maxInUse)
				if n <= old || atomic.CompareAndSwapInt32(&maxInUse, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inUse, -1)
			c.Release(nil)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInUse), int32(2))
	assert.LessOrEqual(t, atomic.LoadInt32(dials), int32(2))
}

func TestPoolUnhealthyNotRepooled(t *testing.T) {
	dial, dials := newMockDialer()
	p := New(Options{MaxSize: 2, AcquireTimeout: time.Second}, dial)
	defer func() { _ = p.Close() }()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	mock := c.Session.(*mockSession)

	// a timeout error destroys the connection outright
	c.Release(fs.ErrorTimeout)
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&mock.quits) == 1
	}, time.Second, 10*time.Millisecond)

	// a protocol error NOOP checks the connection; if the check
	// passes the connection is pooled again
	c, err = p.Acquire(context.Background())
	require.NoError(t, err)
	mock = c.Session.(*mockSession)
	c.Release(&textproto.Error{Code: 550, Msg: "file unavailable"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.noOps))
	assert.Equal(t, 1, p.Stats().Idle)

	// ... and if the check fails it is destroyed
	c, err = p.Acquire(context.Background())
	require.NoError(t, err)
	mock = c.Session.(*mockSession)
	mock.noOpErr = errors.New("broken pipe")
	c.Release(&textproto.Error{Code: 550, Msg: "file unavailable"})
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&mock.quits) == 1
	}, time.Second, 10*time.Millisecond)
	_ = dials
}

func TestPoolDiscard(t *testing.T) {
	dial, _ := newMockDialer()
	p := New(Options{MaxSize: 1, AcquireTimeout: time.Second}, dial)
	defer func() { _ = p.Close() }()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.Discard()
	assert.Equal(t, 0, p.Stats().Total)

	// capacity is free again
	c, err = p.Acquire(context.Background())
	require.NoError(t, err)
	c.Release(nil)
}

func TestPoolClear(t *testing.T) {
	dial, _ := newMockDialer()
	p := New(Options{MaxSize: 4, AcquireTimeout: time.Second}, dial)
	defer func() { _ = p.Close() }()

	c1, _ := p.Acquire(context.Background())
	c2, _ := p.Acquire(context.Background())
	c1.Release(nil)
	c2.Release(nil)
	require.Equal(t, 2, p.Stats().Idle)

	require.NoError(t, p.Clear())
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 0, p.Stats().Total)
}

func TestPoolCloseFailsWaiters(t *testing.T) {
	dial, _ := newMockDialer()
	p := New(Options{MaxSize: 1, AcquireTimeout: 5 * time.Second}, dial)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	_ = p.Close()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}
	c.Release(nil) // returned loans are quit on arrival after Close
}
