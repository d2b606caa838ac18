package main

import (
	"fmt"
	"os"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/bitmaskcfg"
	"github.com/diba-io/bitmask/monitoring"
	"github.com/diba-io/bitmask/transfer"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
)

func fatal(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func main() {
	// Hook interceptor for os signals.
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		fatal(err)
	}

	// Load the configuration, and parse any command line options. This
	// function will also set up logging properly.
	cfg, cfgLogger, err := bitmaskcfg.LoadConfig(shutdownInterceptor)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			// Print error if not due to help request.
			fatal(fmt.Errorf("failed to load config: %w", err))
		}

		// Help was requested, exit normally.
		os.Exit(0)
	}

	server, cleanup, err := bitmaskcfg.CreateServerFromConfig(
		cfg, cfgLogger,
	)
	if err != nil {
		cfgLogger.Errorf("Unable to create server: %v", err)
		fatal(err)
	}
	defer cleanup()

	if err := server.Start(); err != nil {
		fatal(fmt.Errorf("unable to start server: %w", err))
	}
	defer func() {
		_ = server.Stop()
	}()

	// Pending transfers are followed in the background so their status
	// is current without a client asking.
	refresher := transfer.NewRefresher(&transfer.RefresherConfig{
		Ticker: ticker.New(cfg.Transfers.PollInterval),
		Sweep:  server.SweepTransfers,
	})
	if err := refresher.Start(); err != nil {
		fatal(fmt.Errorf("unable to start refresher: %w", err))
	}
	defer func() {
		_ = refresher.Stop()
	}()

	exporter := monitoring.NewPrometheusExporter(cfg.Prometheus)
	if err := exporter.Start(); err != nil {
		fatal(fmt.Errorf("unable to start prometheus exporter: %w",
			err))
	}
	defer func() {
		_ = exporter.Stop()
	}()

	cfgLogger.Infof("bitmaskd %v fully started on %v", bitmask.Build(),
		cfg.ActiveNetParams.Name)

	<-shutdownInterceptor.ShutdownChannel()
	cfgLogger.Infof("Received shutdown request, stopping bitmaskd")
}
