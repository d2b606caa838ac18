package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRetryFuncNStopsOnPermanentError makes sure the retry loop gives up as
// soon as the classifier reports a permanent failure.
func TestRetryFuncNStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	errPermanent := errors.New("permanent")

	var calls atomic.Int32
	cfg := RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Millisecond,
		IsRetryable: func(err error) bool {
			return !errors.Is(err, errPermanent)
		},
	}

	_, err := RetryFuncN(context.Background(), cfg, func() (int, error) {
		calls.Add(1)
		return 0, errPermanent
	})
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, int32(1), calls.Load())
}

// TestRetryFuncNEventualSuccess checks that a function failing a random
// number of times below the limit eventually returns its value.
func TestRetryFuncNEventualSuccess(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		failures := rapid.IntRange(0, 4).Draw(t, "failures")
		want := rapid.Int().Draw(t, "want")

		cfg := RetryConfig{
			MaxRetries:        4,
			InitialBackoff:    time.Microsecond,
			BackoffMultiplier: 1.5,
			MaxBackoff:        time.Millisecond,
		}

		var calls int
		got, err := RetryFuncN(context.Background(), cfg,
			func() (int, error) {
				calls++
				if calls <= failures {
					return 0, errors.New("transient")
				}
				return want, nil
			},
		)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, failures+1, calls)
	})
}

// TestRecoverConvertsPanic ensures panics surface as critical errors.
func TestRecoverConvertsPanic(t *testing.T) {
	t.Parallel()

	err := Recover(func() error {
		panic("boom")
	})
	require.Error(t, err)
	require.True(t, ErrorAs[*CriticalError](err))
	require.Contains(t, err.Error(), "boom")

	require.NoError(t, Recover(func() error { return nil }))
}

// TestContextGuardQuit verifies contexts handed out by the guard are
// cancelled once the quit channel closes.
func TestContextGuardQuit(t *testing.T) {
	t.Parallel()

	guard := NewContextGuard(time.Minute)
	ctx, cancel := guard.WithCtxQuit()
	defer cancel()

	close(guard.Quit)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled on quit")
	}
	guard.Wg.Wait()
}

func TestSetOps(t *testing.T) {
	t.Parallel()

	a := NewSet(1, 2, 3)
	b := NewSet(3, 4)
	u := a.Union(b)

	require.Len(t, u, 4)
	require.True(t, u.Contains(4))
	a.Remove(1)
	require.False(t, a.Contains(1))
	require.ElementsMatch(t, []int{2, 3}, a.ToSlice())
}

func TestParSlice(t *testing.T) {
	t.Parallel()

	var sum atomic.Int64
	err := ParSlice(context.Background(), []int64{1, 2, 3, 4},
		func(_ context.Context, v int64) error {
			sum.Add(v)
			return nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, int64(10), sum.Load())

	first, ok := First([]int{1, 5, 7}, func(i int) bool { return i > 4 })
	require.True(t, ok)
	require.Equal(t, 5, first)
	require.Equal(t, 6, Reduce([]int{1, 2, 3}, func(a, x int) int {
		return a + x
	}))
}
