package libroutine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainscribe/chainscribe/libroutine"
	"github.com/stretchr/testify/require"
)

func TestUnit_Routine_ClosedStateAllowsExecution(t *testing.T) {
	rm := libroutine.NewRoutine(3, time.Second)

	require.True(t, rm.Allow())
	err := rm.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, libroutine.Closed, rm.GetState())
}

func TestUnit_Routine_OpensAfterFailures(t *testing.T) {
	rm := libroutine.NewRoutine(1, 500*time.Millisecond)

	err := rm.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("backend down")
	})
	require.Error(t, err)
	require.False(t, rm.Allow())
	require.Equal(t, libroutine.Open, rm.GetState())
}

func TestUnit_Routine_HalfOpenAdmitsSingleProbe(t *testing.T) {
	rm := libroutine.NewRoutine(1, 100*time.Millisecond)

	_ = rm.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("backend down")
	})

	deadline := time.Now().Add(300 * time.Millisecond)
	allowed := false
	for time.Now().Before(deadline) {
		if rm.Allow() {
			allowed = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, allowed, "expected a probe to be admitted after the reset timeout")
	require.False(t, rm.Allow(), "second probe must be rejected while the first is in flight")
}

func TestUnit_Routine_RecoversFromHalfOpenOnSuccess(t *testing.T) {
	rm := libroutine.NewRoutine(1, 50*time.Millisecond)

	_ = rm.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("backend down")
	})
	time.Sleep(80 * time.Millisecond)

	err := rm.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, libroutine.Closed, rm.GetState())
	require.True(t, rm.Allow())
}

func TestUnit_Routine_ReopensOnHalfOpenFailure(t *testing.T) {
	rm := libroutine.NewRoutine(1, 50*time.Millisecond)

	_ = rm.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("backend down")
	})
	time.Sleep(80 * time.Millisecond)

	_ = rm.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("still down")
	})
	require.Equal(t, libroutine.Open, rm.GetState())
	require.False(t, rm.Allow())
}

func TestUnit_Routine_ForceOpenAndForceClose(t *testing.T) {
	rm := libroutine.NewRoutine(2, time.Minute)

	rm.ForceOpen()
	require.Equal(t, libroutine.Open, rm.GetState())
	require.False(t, rm.Allow())

	err := rm.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("operation must not run while the circuit is open")
		return nil
	})
	require.ErrorIs(t, err, libroutine.ErrCircuitOpen)

	rm.ForceClose()
	require.Equal(t, libroutine.Closed, rm.GetState())
	require.True(t, rm.Allow())
}

func TestUnit_Routine_Accessors(t *testing.T) {
	rm := libroutine.NewRoutine(3, 2*time.Second)
	require.Equal(t, 3, rm.GetThreshold())
	require.Equal(t, 2*time.Second, rm.GetResetTimeout())
}

func TestUnit_Routine_ExecuteWithRetry(t *testing.T) {
	t.Run("success first try", func(t *testing.T) {
		rm := libroutine.NewRoutine(1, time.Minute)
		var calls int32
		err := rm.ExecuteWithRetry(context.Background(), 10*time.Millisecond, 3, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("success after retry", func(t *testing.T) {
		rm := libroutine.NewRoutine(5, time.Minute)
		var calls int32
		err := rm.ExecuteWithRetry(context.Background(), 10*time.Millisecond, 5, func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("failure on all retries", func(t *testing.T) {
		rm := libroutine.NewRoutine(5, time.Minute)
		persistent := errors.New("persistent")
		var calls int32
		err := rm.ExecuteWithRetry(context.Background(), 10*time.Millisecond, 3, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return persistent
		})
		require.ErrorIs(t, err, persistent)
		require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("circuit open short-circuits", func(t *testing.T) {
		rm := libroutine.NewRoutine(1, time.Minute)
		_ = rm.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("failure")
		})
		require.Equal(t, libroutine.Open, rm.GetState())

		var calls int32
		err := rm.ExecuteWithRetry(context.Background(), 10*time.Millisecond, 3, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		require.ErrorIs(t, err, libroutine.ErrCircuitOpen)
		require.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		rm := libroutine.NewRoutine(5, time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls int32
		err := rm.ExecuteWithRetry(ctx, 50*time.Millisecond, 3, func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) == 1 {
				go func() {
					time.Sleep(5 * time.Millisecond)
					cancel()
				}()
				return errors.New("first failure")
			}
			t.Error("operation must not run again after cancellation")
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestUnit_Routine_LoopExecutesOnTickAndTrigger(t *testing.T) {
	rm := libroutine.NewRoutine(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{})
	var calls int32
	go rm.Loop(ctx, time.Hour, trigger, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	// The loop runs once immediately.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, time.Second, 5*time.Millisecond)

	trigger <- struct{}{}
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestUnit_Group_Singleton(t *testing.T) {
	require.Same(t, libroutine.GetGroup(), libroutine.GetGroup())
}

func TestUnit_Group_StartLoop(t *testing.T) {
	group := libroutine.GetGroup()
	ctx := t.Context()

	t.Run("starts and tracks a loop", func(t *testing.T) {
		key := "group-start-test"
		var calls int32
		group.StartLoop(ctx, &libroutine.LoopConfig{
			Key:          key,
			Threshold:    2,
			ResetTimeout: 100 * time.Millisecond,
			Interval:     10 * time.Millisecond,
			Operation: func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		})

		require.Eventually(t, func() bool {
			return atomic.LoadInt32(&calls) >= 1
		}, time.Second, 5*time.Millisecond)
		require.True(t, group.IsLoopActive(key))
		require.NotNil(t, group.GetManager(key))
	})

	t.Run("ignores duplicate keys", func(t *testing.T) {
		key := "group-duplicate-test"
		var mu sync.Mutex
		calls := 0
		op := func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		}
		for range 5 {
			group.StartLoop(ctx, &libroutine.LoopConfig{
				Key:          key,
				Threshold:    1,
				ResetTimeout: time.Second,
				Interval:     10 * time.Millisecond,
				Operation:    op,
			})
		}
		time.Sleep(35 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, calls, 1)
		require.LessOrEqual(t, calls, 6, "duplicate loops must not run for the same key")
	})

	t.Run("frees the key after cancellation", func(t *testing.T) {
		key := "group-cleanup-test"
		localCtx, localCancel := context.WithCancel(ctx)
		group.StartLoop(localCtx, &libroutine.LoopConfig{
			Key:          key,
			Threshold:    1,
			ResetTimeout: time.Second,
			Interval:     10 * time.Millisecond,
			Operation: func(ctx context.Context) error {
				return nil
			},
		})
		require.True(t, group.IsLoopActive(key))
		localCancel()
		require.Eventually(t, func() bool {
			return !group.IsLoopActive(key)
		}, time.Second, 5*time.Millisecond)
	})
}
