// Package taskqueue is the bounded-concurrency executor for remote
// operations.
//
// Operations are submitted from filesystem callback threads and run
// on a fixed set of workers.  Each running operation holds a permit
// from a weighted semaphore and an exclusive connection on loan from
// the pool.  Deadlines cancel the awaiter but the operation itself
// may complete in the background for at-least-once semantics on
// server side effects - when that happens its connection is discarded
// rather than re-pooled.
package taskqueue

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/ftpc"
	"github.com/ftpmount/ftpmount/lib/connpool"
)

// Op is one unit of remote work.  It is handed an exclusive session
// and should return promptly once ctx is cancelled.
type Op func(ctx context.Context, s ftpc.Session) error

// Options configures a Queue
type Options struct {
	MaxConcurrency int           // permits for concurrently running ops
	DefaultTimeout time.Duration // deadline applied when the caller gives none
}

// DefaultOptions are used for zero values in Options
var DefaultOptions = Options{
	MaxConcurrency: 8,
	DefaultTimeout: 30 * time.Second,
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultOptions.MaxConcurrency
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultOptions.DefaultTimeout
	}
	return o
}

// Stats is a snapshot of queue counters
type Stats struct {
	Pending           int           // submitted, not yet running
	Active            int           // currently running
	Completed         int64         // ran to completion without error
	Failed            int64         // returned an error
	AvgProcessingTime time.Duration // mean run time of finished ops
	MaxConcurrency    int
}

// Task is the future returned by Enqueue
type Task struct {
	ID       string
	Name     string // what the op is, for logging
	deadline time.Duration
	op       Op
	ctx      context.Context // caller cancellation

	done chan struct{}
	err  error // valid after done is closed
}

// Done is closed when the task completes, fails or is abandoned by
// its deadline
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result.  Only valid after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return fs.ErrorBusy
	}
}

// Wait blocks until the task finishes or ctx is cancelled
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue runs Ops with bounded concurrency against pooled sessions.
type Queue struct {
	opt    Options
	pool   *connpool.Pool
	sem    *semaphore.Weighted
	ctx    context.Context // queue lifetime, cancelled by Shutdown
	cancel context.CancelFunc

	mu      sync.Mutex
	pending *list.List // of *Task, FIFO
	cond    *sync.Cond // signalled when pending grows or the queue stops
	wg      sync.WaitGroup

	active    int
	completed int64
	failed    int64
	totalRun  time.Duration
}

// New creates a Queue draining into pool.  Workers start
// immediately; W = min(MaxConcurrency, NumCPU).
func New(ctx context.Context, opt Options, pool *connpool.Pool) *Queue {
	q := &Queue{
		opt:     opt.withDefaults(),
		pool:    pool,
		pending: list.New(),
	}
	q.sem = semaphore.NewWeighted(int64(q.opt.MaxConcurrency))
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.cond = sync.NewCond(&q.mu)
	workers := min(q.opt.MaxConcurrency, runtime.NumCPU())
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	// wake the workers up when the queue context dies
	go func() {
		<-q.ctx.Done()
		q.cond.Broadcast()
	}()
	return q
}

// String implements fmt.Stringer for logging
func (q *Queue) String() string {
	return "operation queue"
}

// Enqueue submits op.  deadline 0 means the default timeout;
// deadline < 0 means no deadline at all (used for uploads which must
// not be abandoned part way).  The returned Task completes when the
// op does, or fails with fs.ErrorTimeout when the deadline fires
// first.
func (q *Queue) Enqueue(ctx context.Context, name string, deadline time.Duration, op Op) *Task {
	if deadline == 0 {
		deadline = q.opt.DefaultTimeout
	}
	t := &Task{
		ID:       uuid.New().String(),
		Name:     name,
		deadline: deadline,
		op:       op,
		ctx:      ctx,
		done:     make(chan struct{}),
	}
	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		t.err = fs.ErrorQueueStopped
		close(t.done)
		return t
	}
	q.pending.PushBack(t)
	q.mu.Unlock()
	q.cond.Signal()
	return t
}

// next blocks until a task is available or the queue stops
func (q *Queue) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.Len() == 0 && q.ctx.Err() == nil {
		q.cond.Wait()
	}
	front := q.pending.Front()
	if front == nil {
		return nil
	}
	q.pending.Remove(front)
	return front.Value.(*Task)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		t := q.next()
		if t == nil {
			return
		}
		q.run(t)
	}
}

// finish records the task outcome exactly once
func (t *Task) finish(err error) {
	select {
	case <-t.done:
	default:
		t.err = err
		close(t.done)
	}
}

// run executes one task: permit, connection, op.
func (q *Queue) run(t *Task) {
	// caller may have given up while the task sat in the queue
	if t.ctx != nil && t.ctx.Err() != nil {
		q.fail(t, fs.ErrorCancelled)
		return
	}
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		q.fail(t, fs.ErrorQueueStopped)
		return
	}
	defer q.sem.Release(1)

	opCtx, cancel := context.WithCancel(q.ctx)
	defer cancel()
	stop := context.AfterFunc(valueOr(t.ctx, context.Background()), cancel)
	defer stop()

	conn, err := q.pool.Acquire(opCtx)
	if err != nil {
		q.fail(t, err)
		return
	}

	q.mu.Lock()
	q.active++
	q.mu.Unlock()
	start := time.Now()

	var timer *time.Timer
	abandoned := make(chan struct{})
	if t.deadline > 0 {
		timer = time.AfterFunc(t.deadline, func() {
			// The awaiter sees a timeout now.  The op's context is
			// cancelled, but an op that does not watch it keeps
			// running in the background; its connection is in an
			// unknown state when it finishes so it gets discarded.
			fs.Debugf(q, "op %s (%s) passed its deadline of %v", t.Name, t.ID, t.deadline)
			close(abandoned)
			t.finish(fs.ErrorTimeout)
			cancel()
		})
	}

	err = t.op(opCtx, conn)
	if timer != nil {
		timer.Stop()
	}
	elapsed := time.Since(start)

	select {
	case <-abandoned:
		conn.Discard()
	default:
		conn.Release(err)
	}

	q.mu.Lock()
	q.active--
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.totalRun += elapsed
	q.mu.Unlock()

	if err != nil && t.ctx != nil && t.ctx.Err() != nil {
		err = fs.ErrorCancelled
	}
	t.finish(err)
}

// fail records a task that never ran
func (q *Queue) fail(t *Task, err error) {
	q.mu.Lock()
	q.failed++
	q.mu.Unlock()
	t.finish(err)
}

// Shutdown stops the workers.  Pending tasks fail with
// fs.ErrorQueueStopped; running ops are cancelled through their
// context.
func (q *Queue) Shutdown() {
	q.cancel()
	q.cond.Broadcast()
	q.mu.Lock()
	for front := q.pending.Front(); front != nil; front = q.pending.Front() {
		q.pending.Remove(front)
		t := front.Value.(*Task)
		q.failed++
		t.finish(fs.ErrorQueueStopped)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Drain waits for the queue to empty, up to timeout.  It reports
// whether everything finished in time.
func (q *Queue) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		empty := q.pending.Len() == 0 && q.active == 0
		q.mu.Unlock()
		if empty {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Pending:        q.pending.Len(),
		Active:         q.active,
		Completed:      q.completed,
		Failed:         q.failed,
		MaxConcurrency: q.opt.MaxConcurrency,
	}
	if n := q.completed + q.failed; n > 0 {
		s.AvgProcessingTime = q.totalRun / time.Duration(n)
	}
	return s
}

func valueOr(ctx, fallback context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return fallback
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
