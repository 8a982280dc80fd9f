package throttle

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

func TestRunSerializesSameConversation(t *testing.T) {
	th := New(nil)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := th.Run(context.Background(), "job", "conv-1", func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestRunParallelAcrossConversations(t *testing.T) {
	th := New(nil)

	// Two lanes, each blocking until the other has started. Deadlocks unless
	// the lanes run concurrently.
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := th.Run(context.Background(), "job-a", "conv-a", func(ctx context.Context) error {
			close(aStarted)
			select {
			case <-bStarted:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("conv-b never started")
			}
		})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		err := th.Run(context.Background(), "job-b", "conv-b", func(ctx context.Context) error {
			close(bStarted)
			select {
			case <-aStarted:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("conv-a never started")
			}
		})
		assert.NoError(t, err)
	}()
	wg.Wait()
}

func TestRunFIFOOrder(t *testing.T) {
	th := New(nil)

	first := make(chan struct{})
	release := make(chan struct{})
	go func() {
		th.Run(context.Background(), "job-1", "conv-1", func(ctx context.Context) error {
			close(first)
			<-release
			return nil
		})
	}()
	<-first

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for _, id := range []string{"job-2", "job-3", "job-4"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.Run(context.Background(), id, "conv-1", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
		}()
		// Space out enqueues so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []string{"job-2", "job-3", "job-4"}, order)
}

func TestRunCancelWhileQueuedSkipsWork(t *testing.T) {
	th := New(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		th.Run(context.Background(), "job-1", "conv-1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ran := false
	go func() {
		done <- th.Run(ctx, "job-2", "conv-1", func(ctx context.Context) error {
			ran = true
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond) // let job-2 enqueue
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)

	close(release)

	// The lane still works after the abandoned waiter.
	err = th.Run(context.Background(), "job-3", "conv-1", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestRunFailureReleasesLane(t *testing.T) {
	th := New(nil)

	boom := errors.New("provider failure")
	err := th.Run(context.Background(), "job-1", "conv-1", func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	ran := false
	err = th.Run(context.Background(), "job-2", "conv-1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunWithCancelledContext(t *testing.T) {
	th := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := th.Run(ctx, "job-1", "conv-1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}
