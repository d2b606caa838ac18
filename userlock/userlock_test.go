package userlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, s *miniredis.Miniredis,
	ttl time.Duration) *Redis {

	t.Helper()

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(client, RedisConfig{
		TTL:           ttl,
		RetryInterval: time.Millisecond,
	})
}

// exclusive runs workers for two users through the locker and checks no
// two workers of the same user ever overlap.
func exclusive(t *testing.T, lockers ...Locker) {
	t.Helper()

	const workers = 8

	var (
		wg      sync.WaitGroup
		holders [2]atomic.Int32
		counts  [2]atomic.Int32
	)
	for i := 0; i < workers; i++ {
		for u, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(locker Locker, u int, user string) {
				defer wg.Done()

				release, err := locker.Lock(
					context.Background(), user,
				)
				if err != nil {
					t.Errorf("lock: %v", err)
					return
				}
				defer release()

				if holders[u].Add(1) != 1 {
					t.Errorf("%v locked twice", user)
				}
				counts[u].Add(1)
				time.Sleep(time.Millisecond)
				holders[u].Add(-1)
			}(lockers[i%len(lockers)], u, user)
		}
	}
	wg.Wait()

	require.EqualValues(t, workers, counts[0].Load())
	require.EqualValues(t, workers, counts[1].Load())
}

func TestLocalExclusive(t *testing.T) {
	t.Parallel()

	l := NewLocal()
	exclusive(t, l)
	require.Zero(t, l.Held())
}

func TestRedisExclusive(t *testing.T) {
	t.Parallel()

	s := miniredis.RunT(t)

	// Two lockers with their own connections stand for two processes.
	exclusive(t, newRedisLocker(t, s, time.Minute),
		newRedisLocker(t, s, time.Minute))
	require.Empty(t, s.Keys())
}

func testLockTimeout(t *testing.T, l Locker) {
	release, err := l.Lock(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()
	_, err = l.Lock(ctx, "alice")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Other users are not held back.
	other, err := l.Lock(ctx, "bob")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Lock(context.Background(), "alice")
	require.NoError(t, err)
	again()
}

func TestLockTimeout(t *testing.T) {
	t.Parallel()

	t.Run("local", func(t *testing.T) {
		l := NewLocal()
		testLockTimeout(t, l)
		require.Zero(t, l.Held())
	})
	t.Run("redis", func(t *testing.T) {
		testLockTimeout(t, newRedisLocker(t, miniredis.RunT(t),
			time.Minute))
	})
}

func TestRedisExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := miniredis.RunT(t)
	crashed := newRedisLocker(t, s, time.Minute)
	live := newRedisLocker(t, s, time.Minute)

	stale, err := crashed.Lock(ctx, "alice")
	require.NoError(t, err)
	require.True(t, s.Exists(DefaultPrefix+"alice"))
	require.Greater(t, s.TTL(DefaultPrefix+"alice"), time.Duration(0))

	// The holder stops answering and its key runs out.
	s.FastForward(2 * time.Minute)
	require.False(t, s.Exists(DefaultPrefix+"alice"))

	release, err := live.Lock(ctx, "alice")
	require.NoError(t, err)

	// A late release of the expired lock leaves the new holder alone.
	stale()
	require.True(t, s.Exists(DefaultPrefix+"alice"))

	release()
	require.False(t, s.Exists(DefaultPrefix+"alice"))
}

func TestRedisUnreachable(t *testing.T) {
	t.Parallel()

	s := miniredis.RunT(t)
	l := newRedisLocker(t, s, time.Minute)
	addr := s.Addr()
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Lock(ctx, "alice")
	require.Error(t, err)

	_, err = DialRedis(ctx, RedisConfig{Addr: addr})
	require.Error(t, err)
}
