package jobs

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

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})

	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job", Type: "event"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&processed))
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	var finals []error
	finished := make(chan struct{})
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{
		MaxRetries: 3,
		RetryDelay: 5 * time.Millisecond,
		Observer: func(job Job, err error, final bool) {
			if final {
				mu.Lock()
				finals = append(finals, err)
				mu.Unlock()
				close(finished)
			}
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finals, 1)
	assert.NoError(t, finals[0])
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "j"}))
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.Enqueue(Job{ID: "b"})
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}
