package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNop() *zap.Logger { return zap.NewNop() }

func count(n *int32) TaskFn {
	return func(context.Context) error {
		atomic.AddInt32(n, 1)
		return nil
	}
}

func noop(context.Context) error { return nil }

func TestAddTicker_Fires(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var n int32
	s.AddTicker("tick", 20*time.Millisecond, count(&n))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 3 }, time.Second, 10*time.Millisecond)
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, count(&count1))
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, count(&count2))
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
	assert.Equal(t, []string{"task"}, s.ListTickers())
}

func TestAddTicker_ZeroIntervalIgnored(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.AddTicker("off", 0, noop)
	assert.Empty(t, s.ListTickers())
}

func TestRemove_Ticker(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var n int32
	s.AddTicker("task", 20*time.Millisecond, count(&n))
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	snap := atomic.LoadInt32(&n)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&n), "ticker must stop after Remove")
}

func TestRemove_NonExistent(t *testing.T) {
	s := New(newNop())
	defer s.Stop()
	s.Remove("nope")
}

func TestRemove_CancelsRunningTask(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	s.AddTicker("slow", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	<-started
	s.Remove("slow")
	assert.True(t, cancelled.Load())
}

func TestStop_StopsAllTickers(t *testing.T) {
	s := New(newNop())

	var c1, c2 int32
	s.AddTicker("a", 20*time.Millisecond, count(&c1))
	s.AddTicker("b", 20*time.Millisecond, count(&c2))
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	snap1, snap2 := atomic.LoadInt32(&c1), atomic.LoadInt32(&c2)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&c1))
	assert.Equal(t, snap2, atomic.LoadInt32(&c2))
	assert.Empty(t, s.ListTickers())
}

func TestStop_Idempotent(t *testing.T) {
	s := New(newNop())
	s.Stop()
	s.Stop()
}

func TestListTickers_Sorted(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	require.Empty(t, s.ListTickers())
	s.AddTicker("beta", time.Hour, noop)
	s.AddTicker("alpha", time.Hour, noop)
	assert.Equal(t, []string{"alpha", "beta"}, s.ListTickers())

	s.Remove("alpha")
	assert.Equal(t, []string{"beta"}, s.ListTickers())
}

func TestTasks_RecordsRunsAndFailures(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var n int32
	s.AddTicker("flaky", 10*time.Millisecond, func(context.Context) error {
		if atomic.AddInt32(&n, 1)%2 == 0 {
			return errors.New("redis unavailable")
		}
		return nil
	})
	require.Eventually(t, func() bool {
		tasks := s.Tasks()
		return len(tasks) == 1 && tasks[0].Failures >= 1
	}, time.Second, 10*time.Millisecond)

	info := s.Tasks()[0]
	assert.Equal(t, "flaky", info.Name)
	assert.Equal(t, 10*time.Millisecond, info.Interval)
	assert.GreaterOrEqual(t, info.Runs, info.Failures)
	assert.False(t, info.LastRun.IsZero())
}

func TestTicker_PanicRecovery(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.AddTicker("panic", 10*time.Millisecond, func(context.Context) error {
		panic("oops")
	})
	require.Eventually(t, func() bool {
		tasks := s.Tasks()
		return len(tasks) == 1 && tasks[0].Failures >= 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "task panicked", s.Tasks()[0].LastErr)
}
