package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivehub.dev/fault"
)

func TestMemoryQueueEnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	job := Func{Name: "noop", Fn: func(ctx context.Context) error { return nil }}
	require.NoError(t, q.Enqueue(job))

	got := q.Dequeue(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, "noop", got.ID())
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	job := Func{Name: "filler", Fn: func(ctx context.Context) error { return nil }}
	require.NoError(t, q.Enqueue(job))

	err := q.Enqueue(job)
	require.Error(t, err)
	assert.Equal(t, fault.BackendUnavailable, fault.KindOf(err))
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	q.Close()

	err := q.Enqueue(Func{Name: "late", Fn: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.Equal(t, fault.BackendUnavailable, fault.KindOf(err))

	assert.Nil(t, q.Dequeue(50*time.Millisecond))
}

func TestMemoryQueueDequeueTimeout(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	start := time.Now()
	got := q.Dequeue(50 * time.Millisecond)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPoolRunsJobs(t *testing.T) {
	q := NewMemoryQueue(16)
	pool := NewPool(q, 3, time.Second)
	pool.Start()

	var ran int64
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(Func{
			Name: "count",
			Fn: func(ctx context.Context) error {
				if atomic.AddInt64(&ran, 1) == 10 {
					close(done)
				}
				return nil
			},
		}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not complete in time")
	}

	pool.Stop()
	assert.Equal(t, int64(10), atomic.LoadInt64(&ran))
}

func TestPoolJobTimeout(t *testing.T) {
	q := NewMemoryQueue(4)
	pool := NewPool(q, 1, 50*time.Millisecond)
	pool.Start()
	defer pool.Stop()

	expired := make(chan error, 1)
	require.NoError(t, pool.Submit(Func{
		Name: "slow",
		Fn: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				expired <- ctx.Err()
				return ctx.Err()
			case <-time.After(5 * time.Second):
				expired <- nil
				return nil
			}
		},
	}))

	select {
	case err := <-expired:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		t.Fatal("job timeout never fired")
	}
}

func TestPoolStopDrainsInFlight(t *testing.T) {
	q := NewMemoryQueue(4)
	pool := NewPool(q, 1, time.Second)
	pool.Start()

	var finished atomic.Bool
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Func{
		Name: "slowish",
		Fn: func(ctx context.Context) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}))

	<-started
	pool.Stop()
	assert.True(t, finished.Load(), "Stop should wait for the running job")
}
