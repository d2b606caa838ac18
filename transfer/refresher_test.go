package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diba-io/bitmask/fn"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

func TestRefresherSweeps(t *testing.T) {
	t.Parallel()

	tick := ticker.NewForce(time.Hour)
	deadlines := make(chan bool, 1)
	calls := 0

	r := NewRefresher(&RefresherConfig{
		Ticker: tick,
		Sweep: func(ctx context.Context) error {
			calls++
			_, ok := ctx.Deadline()
			deadlines <- ok

			switch calls {
			case 1:
				return errors.New("resolver down")
			case 2:
				panic("sweep panic")
			}

			return nil
		},
	})
	require.NoError(t, r.Start())

	// Failing and panicking sweeps do not stop the loop.
	for i := 0; i < 3; i++ {
		tick.Force <- time.Now()
		ok, err := fn.RecvOrTimeout[bool](deadlines, time.Second)
		require.NoError(t, err)
		require.True(t, *ok)
	}

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}
