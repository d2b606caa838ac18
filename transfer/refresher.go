package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/diba-io/bitmask/fn"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultPollInterval is how often the refresher sweeps transfer records.
const DefaultPollInterval = 10 * time.Minute

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Ticker paces the sweeps.
	Ticker ticker.Ticker

	// Sweep refreshes the transfer status of every known catalogue.
	Sweep func(ctx context.Context) error

	// SweepTimeout bounds a single sweep.
	SweepTimeout time.Duration
}

// Refresher periodically sweeps transfer catalogues so that statuses are
// current without a client asking.
type Refresher struct {
	cfg *RefresherConfig

	startOnce sync.Once
	stopOnce  sync.Once

	*fn.ContextGuard
}

// NewRefresher creates a stopped refresher.
func NewRefresher(cfg *RefresherConfig) *Refresher {
	timeout := cfg.SweepTimeout
	if timeout == 0 {
		timeout = time.Minute
	}

	return &Refresher{
		cfg:          cfg,
		ContextGuard: fn.NewContextGuard(timeout),
	}
}

// Start launches the sweep loop.
func (r *Refresher) Start() error {
	r.startOnce.Do(func() {
		log.Infof("Starting transfer refresher")

		r.cfg.Ticker.Resume()

		r.Wg.Add(1)
		go r.loop()
	})

	return nil
}

// Stop halts the sweep loop and waits for a running sweep to end.
func (r *Refresher) Stop() error {
	r.stopOnce.Do(func() {
		log.Infof("Stopping transfer refresher")

		r.cfg.Ticker.Stop()
		close(r.Quit)
		r.Wg.Wait()
	})

	return nil
}

func (r *Refresher) loop() {
	defer r.Wg.Done()

	for {
		select {
		case <-r.cfg.Ticker.Ticks():
			ctx, cancel := r.CtxBlocking()
			err := fn.Recover(func() error {
				return r.cfg.Sweep(ctx)
			})
			cancel()

			if err != nil {
				log.Warnf("Transfer sweep failed: %v", err)
			}

		case <-r.Quit:
			return
		}
	}
}
