package bitmaskcfg

import (
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/bitmaskdb"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/proxy"
	"github.com/diba-io/bitmask/userlock"
	"github.com/lightningnetwork/lnd/clock"
	goredis "github.com/redis/go-redis/v9"
)

// cleanup releases what CreateServerFromConfig opened, in reverse order.
type cleanup []func()

func (c *cleanup) add(f func()) {
	*c = append(*c, f)
}

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// CreateServerFromConfig creates a new bitmask server from the given config.
// The returned function closes the databases and connections the server
// uses and must be called once the server is stopped. The Prometheus
// config is completed with the collectors of the created services.
func CreateServerFromConfig(cfg *Config,
	cfgLogger btclog.Logger) (*bitmask.Server, func(), error) {

	var closers cleanup
	fail := func(err error) (*bitmask.Server, func(), error) {
		closers.run()
		return nil, nil, err
	}

	clk := clock.NewDefaultClock()

	backend, err := openStoreBackend(cfg, cfgLogger, clk, &closers)
	if err != nil {
		return fail(err)
	}
	store := carbonado.NewStore(backend, cfg.ActiveNetParams.Name)

	cfgLogger.Infof("Connecting to bitcoind at %v", cfg.ChainConf.Host)
	bitcoind, err := chain.NewBitcoindBackend(&chain.BitcoindConfig{
		Host:    cfg.ChainConf.Host,
		User:    cfg.ChainConf.User,
		Pass:    cfg.ChainConf.Pass,
		Timeout: cfg.ChainConf.Timeout,
	})
	if err != nil {
		return fail(fmt.Errorf("unable to connect to bitcoind: %w", err))
	}
	closers.add(bitcoind.Stop)

	var locker userlock.Locker
	switch cfg.Lock.Backend {
	case LockBackendRedis:
		cfgLogger.Infof("Using redis user locks at %v",
			cfg.Lock.Redis.Addr)

		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
		})
		closers.add(func() {
			_ = client.Close()
		})
		locker = userlock.NewRedis(client, *cfg.Lock.Redis)

	default:
		local := userlock.NewLocal()
		cfg.Prometheus.Locks = local
		locker = local
	}

	var courier *proxy.Courier
	if cfg.Proxy.Endpoint != "" {
		courier, err = proxy.NewCourier(&proxy.Config{
			Endpoint: cfg.Proxy.Endpoint,
			Timeout:  cfg.Proxy.Timeout,
			Backoff:  cfg.Proxy.Backoff,
			Net:      cfg.ActiveNetParams,
			Clock:    clk,
		})
		if err != nil {
			return fail(fmt.Errorf("unable to create relay "+
				"courier: %w", err))
		}
		cfg.Prometheus.Relay = courier
	}

	var boardSecret *keys.SigningSecret
	if cfg.BoardSecret != "" {
		boardSecret, err = keys.ParseSigningSecret(cfg.BoardSecret)
		if err != nil {
			return fail(fmt.Errorf("invalid board secret: %w", err))
		}
		closers.add(boardSecret.Destroy)
	}

	cfg.Prometheus.StoreStats = store.Stats()

	server, err := bitmask.NewServer(&bitmask.Config{
		Net:            cfg.ActiveNetParams,
		Chain:          bitcoind,
		Store:          store,
		Locker:         locker,
		Courier:        courier,
		BoardSecret:    boardSecret,
		Clock:          clk,
		GapLimit:       cfg.GapLimit,
		MempoolTimeout: cfg.Transfers.MempoolTimeout,
		DebugLevel:     cfg.DebugLevel,
	})
	if err != nil {
		return fail(fmt.Errorf("unable to create server: %w", err))
	}

	return server, closers.run, nil
}

// openStoreBackend opens the object store backend selected by the config.
func openStoreBackend(cfg *Config, cfgLogger btclog.Logger, clk clock.Clock,
	closers *cleanup) (carbonado.Backend, error) {

	switch cfg.Carbonado.Backend {
	case StoreBackendFS:
		cfgLogger.Infof("Storing objects in %v", cfg.Carbonado.Dir)
		return carbonado.NewFileBackend(cfg.Carbonado.Dir)

	case StoreBackendHTTP:
		cfgLogger.Infof("Storing objects on %v",
			cfg.Carbonado.Endpoints)
		return carbonado.NewHTTPBackend(
			cfg.Carbonado.Endpoints, cfg.Carbonado.Timeout,
		)

	case StoreBackendSqlite:
		cfgLogger.Infof("Opening sqlite3 database at: %v",
			cfg.Sqlite.DatabaseFile)

		db, err := bitmaskdb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w",
				err)
		}
		closers.add(func() {
			_ = db.Close()
		})

		return bitmaskdb.NewObjectStoreFromDB(db.BaseDB, clk), nil

	case StoreBackendPostgres:
		cfgLogger.Infof("Opening postgres database at: %v",
			cfg.Postgres.DSN(true))

		db, err := bitmaskdb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w",
				err)
		}
		closers.add(func() {
			_ = db.Close()
		})

		return bitmaskdb.NewObjectStoreFromDB(db.BaseDB, clk), nil

	default:
		return nil, fmt.Errorf("unknown carbonado backend %q",
			cfg.Carbonado.Backend)
	}
}
