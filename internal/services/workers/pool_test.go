package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"go.uber.org/goleak"
)

func newLogger() arbor.ILogger {
	logger := arbor.NewLogger()
	logger.Debug().Msg("test logger ready")
	return logger
}

func TestPool_RunsEveryJob(t *testing.T) {
	logger := newLogger()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(context.Background(), 4, logger)
	pool.Start()

	var done int32
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) {
			atomic.AddInt32(&done, 1)
		}))
	}
	pool.Wait()

	assert.Equal(t, int32(100), done)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	logger := newLogger()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(context.Background(), 3, logger)
	pool.Start()

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	for i := 0; i < 30; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, 3)
	assert.Greater(t, peak, 0)
}

func TestPool_SizeIsCapped(t *testing.T) {
	logger := newLogger()

	assert.Equal(t, MaxWorkers, NewPool(context.Background(), 500, logger).Size())
	assert.Equal(t, 1, NewPool(context.Background(), 0, logger).Size())
}

func TestPool_SubmitFailsAfterCancel(t *testing.T) {
	logger := newLogger()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 2, logger)
	pool.Start()

	cancel()
	assert.Error(t, pool.Submit(func(ctx context.Context) {}))

	pool.Shutdown()
}

func TestPool_JobsSeeCancellation(t *testing.T) {
	logger := newLogger()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1, logger)
	pool.Start()

	started := make(chan struct{})
	var sawCancel int32
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&sawCancel, 1)
	}))

	<-started
	cancel()
	pool.Wait()

	assert.Equal(t, int32(1), sawCancel)
}

func TestPool_RecoversPanickingJob(t *testing.T) {
	logger := newLogger()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(context.Background(), 1, logger)
	pool.Start()

	var done int32
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		panic("bad record")
	}))
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		atomic.AddInt32(&done, 1)
	}))
	pool.Wait()

	assert.Equal(t, int32(1), done, "the worker survives the panic")
}
