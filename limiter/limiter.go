package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// job is one queued task with its result delivery erased to non-generic closures.
type job struct {
	ctx  context.Context
	run  func(ctx context.Context) // executes the task and settles its future
	fail func(err error)           // settles the future without running
}

// Limiter admits queued tasks in FIFO order while keeping at most
// maxConcurrent of them in flight.
type Limiter struct {
	maxConcurrent int
	delay         time.Duration
	taskTimeout   time.Duration
	pool          *ants.Pool
	logger        *slog.Logger

	mu      sync.Mutex
	queue   []*job
	current int
	closed  bool
	running sync.WaitGroup
}

// Option configures a Limiter.
type Option func(*Limiter) error

// WithDelay waits d after each settlement before admitting more work.
// Default is zero.
func WithDelay(d time.Duration) Option {
	return func(l *Limiter) error {
		if d < 0 {
			return ErrInvalidDelay
		}
		l.delay = d
		return nil
	}
}

// WithTaskTimeout bounds how long a caller waits for a running task.
// The task's context carries the deadline; a task that ignores it keeps its
// slot until it returns. Zero disables the timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(l *Limiter) error {
		if d < 0 {
			return ErrInvalidTimeout
		}
		l.taskTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// antsLogger routes ants' internal messages to slog.
type antsLogger struct {
	logger *slog.Logger
}

func (a antsLogger) Printf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

// New creates a limiter allowing maxConcurrent tasks in flight.
func New(maxConcurrent int, opts ...Option) (*Limiter, error) {
	if maxConcurrent < 1 {
		return nil, ErrInvalidConcurrency
	}

	l := &Limiter{
		maxConcurrent: maxConcurrent,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = l.logger.With("component", "limiter")

	pool, err := ants.NewPool(maxConcurrent, ants.WithLogger(antsLogger{logger: l.logger}))
	if err != nil {
		return nil, err
	}
	l.pool = pool
	return l, nil
}

// Submit queues task and returns its future. The task receives ctx, extended
// with the task timeout when one is configured. If ctx is done before the task
// is admitted, the task never runs and the future carries ctx's error.
func Submit[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	j := &job{
		ctx:  ctx,
		fail: f.fail,
		run: func(ctx context.Context) {
			l.execute(ctx, func(ctx context.Context) {
				value, err := task(ctx)
				f.settle(value, err)
			}, f.fail)
		},
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		f.fail(ErrLimiterClosed)
		return f
	}
	l.queue = append(l.queue, j)
	l.mu.Unlock()

	l.schedule()
	return f
}

// Do submits task and waits for its result.
func Do[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) (T, error) {
	return Submit(ctx, l, task).Wait(ctx)
}

// schedule admits queued jobs while slots are free.
func (l *Limiter) schedule() {
	var admitted []*job

	l.mu.Lock()
	for l.current < l.maxConcurrent && len(l.queue) > 0 {
		j := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]

		if err := j.ctx.Err(); err != nil {
			j.fail(err)
			continue
		}
		l.current++
		l.running.Add(1)
		admitted = append(admitted, j)
	}
	l.mu.Unlock()

	for _, j := range admitted {
		if err := l.pool.Submit(func() { j.run(j.ctx) }); err != nil {
			l.logger.Error("failed to start task", "err", err)
			j.fail(err)
			l.release()
		}
	}
}

// execute runs one admitted task, converting timeouts and panics into
// settled results, then frees the slot.
func (l *Limiter) execute(ctx context.Context, task func(ctx context.Context), fail func(error)) {
	defer l.release()

	if l.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.taskTimeout)
		defer cancel()

		timer := time.AfterFunc(l.taskTimeout, func() {
			fail(fmt.Errorf("%w after %s", ErrTaskTimeout, l.taskTimeout))
		})
		defer timer.Stop()
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "panic", r)
			fail(fmt.Errorf("%w: %v", ErrTaskPanicked, r))
		}
	}()

	task(ctx)
}

// release frees a slot and triggers the next scheduling pass.
// The pass runs on its own goroutine so that a pool worker never blocks
// waiting for itself.
func (l *Limiter) release() {
	l.mu.Lock()
	l.current--
	l.mu.Unlock()
	l.running.Done()

	if l.delay > 0 {
		time.AfterFunc(l.delay, l.schedule)
		return
	}
	go l.schedule()
}

// InFlight returns the number of admitted tasks that have not returned.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Queued returns the number of tasks waiting for admission.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// MaxConcurrent returns the admission bound.
func (l *Limiter) MaxConcurrent() int {
	return l.maxConcurrent
}

// Close rejects new work, fails queued tasks with ErrLimiterClosed and waits
// for running tasks to return. Calling Close more than once is safe.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	queued := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, j := range queued {
		j.fail(ErrLimiterClosed)
	}
	if len(queued) > 0 {
		l.logger.Debug("dropped queued tasks on close", "count", len(queued))
	}

	l.running.Wait()
	l.pool.Release()
}
