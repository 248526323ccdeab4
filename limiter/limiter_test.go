package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int, opts ...Option) *Limiter {
	t.Helper()
	l, err := New(max, opts...)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)

	_, err = New(1, WithDelay(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidDelay)

	_, err = New(1, WithTaskTimeout(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestDo_ReturnsResult(t *testing.T) {
	l := newTestLimiter(t, 2)

	value, err := Do(context.Background(), l, func(ctx context.Context) (string, error) {
		return "described", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "described", value)

	boom := errors.New("service unavailable")
	_, err = Do(context.Background(), l, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLimiter_NeverExceedsMaxConcurrent(t *testing.T) {
	const (
		maxConcurrent = 3
		tasks         = 10
	)
	l := newTestLimiter(t, maxConcurrent)
	ctx := context.Background()

	var active, peak atomic.Int32
	release := make(chan struct{})

	futures := make([]*Future[int], tasks)
	for i := 0; i < tasks; i++ {
		i := i
		futures[i] = Submit(ctx, l, func(ctx context.Context) (int, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			active.Add(-1)
			return i, nil
		})
	}

	require.Eventually(t, func() bool {
		return l.InFlight() == maxConcurrent && active.Load() == maxConcurrent
	}, time.Second, time.Millisecond)
	assert.Equal(t, tasks-maxConcurrent, l.Queued())

	close(release)

	for i, f := range futures {
		value, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, value)
	}
	assert.Equal(t, int32(maxConcurrent), peak.Load())

	require.Eventually(t, func() bool {
		return l.InFlight() == 0 && l.Queued() == 0
	}, time.Second, time.Millisecond)
}

func TestLimiter_AdmitsInSubmissionOrder(t *testing.T) {
	l := newTestLimiter(t, 1)
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})

	first := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		<-gate
		return struct{}{}, nil
	})

	var futures []*Future[struct{}]
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return struct{}{}, nil
		}))
	}
	close(gate)

	_, err := first.Wait(ctx)
	require.NoError(t, err)
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLimiter_DelayBetweenSettlementAndNextAdmission(t *testing.T) {
	const delay = 50 * time.Millisecond
	l := newTestLimiter(t, 1, WithDelay(delay))
	ctx := context.Background()

	var firstDone, secondStart time.Time
	gate := make(chan struct{})
	first := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		<-gate
		firstDone = time.Now()
		return struct{}{}, nil
	})
	second := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		secondStart = time.Now()
		return struct{}{}, nil
	})
	close(gate)

	_, err := first.Wait(ctx)
	require.NoError(t, err)
	_, err = second.Wait(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, secondStart.Sub(firstDone), delay)
}

func TestLimiter_TimeoutKeepsSlotUntilReturn(t *testing.T) {
	l := newTestLimiter(t, 1, WithTaskTimeout(20*time.Millisecond))
	ctx := context.Background()
	release := make(chan struct{})

	_, err := Do(ctx, l, func(ctx context.Context) (string, error) {
		<-release // ignores ctx on purpose
		return "late", nil
	})
	assert.ErrorIs(t, err, ErrTaskTimeout)
	assert.Equal(t, 1, l.InFlight())

	var ran atomic.Bool
	next := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		ran.Store(true)
		return struct{}{}, nil
	})
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 1, l.Queued())

	close(release)
	_, err = next.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestLimiter_TaskContextCarriesDeadline(t *testing.T) {
	l := newTestLimiter(t, 1, WithTaskTimeout(time.Minute))

	hasDeadline, err := Do(context.Background(), l, func(ctx context.Context) (bool, error) {
		_, ok := ctx.Deadline()
		return ok, nil
	})
	require.NoError(t, err)
	assert.True(t, hasDeadline)
}

func TestLimiter_PanicSettlesFuture(t *testing.T) {
	l := newTestLimiter(t, 1)
	ctx := context.Background()

	_, err := Do(ctx, l, func(ctx context.Context) (int, error) {
		panic("decoder exploded")
	})
	assert.ErrorIs(t, err, ErrTaskPanicked)
	assert.Contains(t, err.Error(), "decoder exploded")

	// The slot is free again.
	value, err := Do(ctx, l, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestLimiter_CanceledBeforeAdmissionNeverRuns(t *testing.T) {
	l := newTestLimiter(t, 1)
	gate := make(chan struct{})

	blocker := Submit(context.Background(), l, func(ctx context.Context) (struct{}, error) {
		<-gate
		return struct{}{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	queued := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		ran.Store(true)
		return struct{}{}, nil
	})
	cancel()
	close(gate)

	_, err := blocker.Wait(context.Background())
	require.NoError(t, err)
	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	l := newTestLimiter(t, 1)
	release := make(chan struct{})
	defer close(release)

	f := Submit(context.Background(), l, func(ctx context.Context) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_Close(t *testing.T) {
	l, err := New(1)
	require.NoError(t, err)
	ctx := context.Background()

	gate := make(chan struct{})
	var finished atomic.Bool
	running := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		<-gate
		finished.Store(true)
		return struct{}{}, nil
	})
	require.Eventually(t, func() bool { return l.InFlight() == 1 }, time.Second, time.Millisecond)

	queued := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})

	closed := make(chan struct{})
	go func() {
		l.Close()
		close(closed)
	}()

	_, err = queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrLimiterClosed)

	close(gate)
	<-closed
	assert.True(t, finished.Load())
	_, err = running.Wait(ctx)
	assert.NoError(t, err)

	_, err = Do(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	assert.ErrorIs(t, err, ErrLimiterClosed)

	l.Close()
}
