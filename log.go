package bitmask

import (
	"github.com/btcsuite/btclog"
	"github.com/diba-io/bitmask/bitmaskdb"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/issuer"
	"github.com/diba-io/bitmask/marketplace"
	"github.com/diba-io/bitmask/monitoring"
	"github.com/diba-io/bitmask/proxy"
	"github.com/diba-io/bitmask/rgbpsbt"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/transfer"
	"github.com/diba-io/bitmask/userlock"
	"github.com/diba-io/bitmask/watcher"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	btclog.Logger
	subsystem string
}

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator() on the main log writer instance in the config.
var (
	// pkgLoggers is a list of all bitmask package level loggers that are
	// registered. They are tracked here so they can be replaced once the
	// SetupLoggers function is called with the final root logger.
	pkgLoggers []*replaceableLogger

	// addPkgLogger is a helper function that creates a new replaceable
	// main package level logger and adds it to the list of loggers that
	// are replaced again later, once the final root logger is ready.
	addPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		pkgLoggers = append(pkgLoggers, l)
		return l
	}

	// Loggers that need to be accessible from the bitmask package can be
	// placed here. Loggers that are only used in sub modules can be added
	// directly by using the addSubLogger method.
	bmskLog = addPkgLogger("BMSK")
	srvrLog = addPkgLogger("SRVR")
)

// genSubLogger creates a logger for a subsystem. We provide an instance of a
// signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	// Return a function which will create a sublogger from our root logger
	// without shutdown fn.
	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	// Now that we have the proper root logger, we can replace the
	// placeholder package loggers.
	for _, l := range pkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, genLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	// Some of the loggers declared in the main package are also used in
	// sub packages.
	signal.UseLogger(bmskLog)

	AddSubLogger(root, carbonado.Subsystem, interceptor, carbonado.UseLogger)
	AddSubLogger(root, bitmaskdb.Subsystem, interceptor, bitmaskdb.UseLogger)
	AddSubLogger(root, chain.Subsystem, interceptor, chain.UseLogger)
	AddSubLogger(root, stash.Subsystem, interceptor, stash.UseLogger)
	AddSubLogger(root, watcher.Subsystem, interceptor, watcher.UseLogger)
	AddSubLogger(root, issuer.Subsystem, interceptor, issuer.UseLogger)
	AddSubLogger(root, rgbpsbt.Subsystem, interceptor, rgbpsbt.UseLogger)
	AddSubLogger(root, transfer.Subsystem, interceptor, transfer.UseLogger)
	AddSubLogger(root, proxy.Subsystem, interceptor, proxy.UseLogger)
	AddSubLogger(
		root, marketplace.Subsystem, interceptor, marketplace.UseLogger,
	)
	AddSubLogger(root, userlock.Subsystem, interceptor, userlock.UseLogger)
	AddSubLogger(
		root, monitoring.Subsystem, interceptor, monitoring.UseLogger,
	)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// genSubLogger will return a callback for creating a logger instance,
	// which we will give to the root logger.
	genLogger := genSubLogger(root, interceptor)

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a sub
// system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
