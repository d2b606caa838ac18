package bitmaskcfg

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/bitmaskdb"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/monitoring"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/proxy"
	"github.com/diba-io/bitmask/transfer"
	"github.com/diba-io/bitmask/userlock"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

const (
	defaultDataDirname = "data"
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "bitmaskd.log"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultConfigFileName = "bitmaskd.conf"

	defaultSqliteDatabaseFileName = "bitmask.db"

	// StoreBackendFS keeps the encrypted objects in a local directory.
	StoreBackendFS = "fs"

	// StoreBackendHTTP sends the encrypted objects to carbonado
	// endpoints.
	StoreBackendHTTP = "http"

	// StoreBackendSqlite keeps the encrypted objects in a SQLite
	// database.
	StoreBackendSqlite = "sqlite"

	// StoreBackendPostgres keeps the encrypted objects in a Postgres
	// database.
	StoreBackendPostgres = "postgres"

	// LockBackendLocal serializes users within the process.
	LockBackendLocal = "local"

	// LockBackendRedis serializes users across every process sharing a
	// Redis server.
	LockBackendRedis = "redis"

	// networkEnv names the environment variable holding the default
	// network.
	networkEnv = "BITCOIN_NETWORK"

	// carbonadoEnv names the environment variable holding the default
	// carbonado endpoints, comma separated.
	carbonadoEnv = "CARBONADO_ENDPOINT"

	defaultNetwork = network.NameRegtest
)

var (
	// DefaultBitmaskDir is the default directory where bitmaskd tries to
	// find its configuration file and store its data.
	DefaultBitmaskDir = btcutil.AppDataDir("bitmask", false)

	// DefaultConfigFile is the default full path of bitmaskd's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultBitmaskDir, defaultConfigFileName,
	)

	defaultDataDir = filepath.Join(DefaultBitmaskDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultBitmaskDir, defaultLogDirname)

	defaultSqliteDatabasePath = filepath.Join(
		defaultDataDir, defaultSqliteDatabaseFileName,
	)
)

// ChainConfig selects the network and the bitcoind node serving it.
//
// nolint:lll
type ChainConfig struct {
	Network string `long:"network" description:"network to run on" choice:"bitcoin" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest"`

	Host    string        `long:"bitcoind.rpchost" description:"bitcoind rpc address"`
	User    string        `long:"bitcoind.rpcuser" description:"bitcoind rpc user"`
	Pass    string        `long:"bitcoind.rpcpass" description:"bitcoind rpc password"`
	Timeout time.Duration `long:"bitcoind.timeout" description:"timeout of a single bitcoind call"`
}

// CarbonadoConfig selects where the encrypted objects are kept.
//
// nolint:lll
type CarbonadoConfig struct {
	Backend string `long:"backend" description:"The object store backend." choice:"fs" choice:"http" choice:"sqlite" choice:"postgres"`

	Dir string `long:"dir" description:"The directory of the fs backend."`

	Endpoints []string `long:"endpoint" description:"Base URL of a carbonado endpoint of the http backend -- Can be specified multiple times"`

	Timeout time.Duration `long:"timeout" description:"Timeout of a single request to an endpoint."`
}

// ProxyConfig configures the consignment relay.
//
// nolint:lll
type ProxyConfig struct {
	Endpoint string `long:"endpoint" description:"Base URL of the consignment relay. Relay operations are disabled when empty."`

	Timeout time.Duration `long:"timeout" description:"Timeout of a single relay request."`

	Backoff *proxy.BackoffCfg `group:"backoff" namespace:"backoff"`
}

// TransfersConfig governs how pending transfers are followed.
//
// nolint:lll
type TransfersConfig struct {
	MempoolTimeout time.Duration `long:"mempooltimeout" description:"How long a transfer witness may stay unseen before the transfer is given up."`

	PollInterval time.Duration `long:"pollinterval" description:"How often pending transfers are checked against the chain."`
}

// LockConfig selects how mutating operations of a user are serialized.
//
// nolint:lll
type LockConfig struct {
	Backend string `long:"backend" description:"The user lock backend." choice:"local" choice:"redis"`

	Redis *userlock.RedisConfig `group:"redis" namespace:"redis"`
}

// Config is the main config of bitmaskd.
//
// nolint:lll
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	BitmaskDir string `long:"bitmaskdir" description:"The base directory that contains bitmaskd's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store bitmaskd's data within"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	GapLimit uint32 `long:"gaplimit" description:"Number of unused addresses scanned past the last used one."`

	// BoardSecret is the hex secret key of the public offer board.
	BoardSecret string `long:"boardsecret" description:"Hex secret key of the public marketplace board. Marketplace operations are disabled when empty."`

	ChainConf *ChainConfig `group:"chain" namespace:"chain"`

	Carbonado  *CarbonadoConfig             `group:"carbonado" namespace:"carbonado"`
	Sqlite     *bitmaskdb.SqliteConfig      `group:"sqlite" namespace:"sqlite"`
	Postgres   *bitmaskdb.PostgresConfig    `group:"postgres" namespace:"postgres"`
	Proxy      *ProxyConfig                 `group:"proxy" namespace:"proxy"`
	Transfers  *TransfersConfig             `group:"transfers" namespace:"transfers"`
	Lock       *LockConfig                  `group:"lock" namespace:"lock"`
	Prometheus *monitoring.PrometheusConfig `group:"prometheus" namespace:"prometheus"`

	// LogWriter is the root logger that all of the daemon's subloggers
	// are hooked up to.
	LogWriter *build.RotatingLogWriter

	// ActiveNetParams is the network selected by ChainConf.Network.
	ActiveNetParams *network.Params `no-flag:"true"`
}

// DefaultConfig returns all default values for the Config struct. The
// network and carbonado endpoints default to the BITCOIN_NETWORK and
// CARBONADO_ENDPOINT environment variables when they are set.
func DefaultConfig() Config {
	prometheus := monitoring.DefaultPrometheusConfig()

	cfg := Config{
		BitmaskDir:     DefaultBitmaskDir,
		ConfigFile:     DefaultConfigFile,
		DataDir:        defaultDataDir,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		GapLimit:       bitmask.DefaultGapLimit,
		ChainConf: &ChainConfig{
			Network: defaultNetwork,
			Host:    "localhost:18443",
			Timeout: chain.DefaultRPCTimeout,
		},
		Carbonado: &CarbonadoConfig{
			Backend: StoreBackendFS,
		},
		Sqlite: &bitmaskdb.SqliteConfig{
			DatabaseFile: defaultSqliteDatabasePath,
		},
		Postgres: &bitmaskdb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		Proxy: &ProxyConfig{
			Timeout: proxy.DefaultTimeout,
			Backoff: proxy.DefaultBackoffCfg(),
		},
		Transfers: &TransfersConfig{
			MempoolTimeout: transfer.DefaultMempoolTimeout,
			PollInterval:   transfer.DefaultPollInterval,
		},
		Lock: &LockConfig{
			Backend: LockBackendLocal,
			Redis: &userlock.RedisConfig{
				Addr:          "localhost:6379",
				TTL:           userlock.DefaultTTL,
				RetryInterval: userlock.DefaultRetryInterval,
				Prefix:        userlock.DefaultPrefix,
			},
		},
		Prometheus: &prometheus,
		LogWriter:  build.NewRotatingLogWriter(),
	}

	if net := os.Getenv(networkEnv); net != "" {
		cfg.ChainConf.Network = strings.ToLower(net)
	}
	if endpoints := os.Getenv(carbonadoEnv); endpoints != "" {
		cfg.Carbonado.Backend = StoreBackendHTTP
		for _, e := range strings.Split(endpoints, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Carbonado.Endpoints = append(
					cfg.Carbonado.Endpoints, e,
				)
			}
		}
	}

	return cfg
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, btclog.Logger,
	error) {

	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", bitmask.Build())
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their bitmaskdir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.BitmaskDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	case configFileDir != DefaultBitmaskDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	// User did specify an explicit --configfile, so we check that it does
	// exist under that path to avoid surprises.
	case configFilePath != DefaultConfigFile:
		if !fileExists(configFilePath) {
			return nil, nil, fmt.Errorf("specified config file does "+
				"not exist in %s", configFilePath)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return nil, nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		return nil, nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, cfgLogger, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		// Log help message in case of usage error.
		if _, ok := err.(*usageError); ok {
			_, _ = fmt.Fprintln(os.Stderr, usageMessage)
			if cfgLogger != nil {
				cfgLogger.Warnf("Incorrect usage: %v",
					usageMessage)
			}
		}

		// The logging system might not yet be initialized, so we also
		// write to stderr to make sure the error appears somewhere.
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		if cfgLogger != nil {
			cfgLogger.Warnf("Error validating config: %v", err)
		}
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		cfgLogger.Warnf("%v", configFileError)
	}

	return cleanCfg, cfgLogger, nil
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// Unwrap returns the underlying error.
func (u *usageError) Unwrap() error {
	return u.err
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, interceptor signal.Interceptor) (*Config,
	btclog.Logger, error) {

	if err := NormalizeConfig(&cfg); err != nil {
		return nil, nil, err
	}

	// A log writer must be passed in, otherwise we can't function and
	// would run into a panic later on.
	if cfg.LogWriter == nil {
		return nil, nil, fmt.Errorf("ValidateConfig: log writer " +
			"missing in config")
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.LogWriter.SupportedSubsystems())
		os.Exit(0)
	}

	// Initialize logging at the default logging level.
	bitmask.SetupLoggers(cfg.LogWriter, interceptor)
	err := cfg.LogWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("ValidateConfig: log rotation "+
			"setup failed: %v", err)
	}

	cfgLogger := cfg.LogWriter.GenSubLogger("CONF", nil)

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.LogWriter)
	if err != nil {
		return nil, cfgLogger, &usageError{fmt.Errorf("ValidateConfig: "+
			"error parsing debug level: %v", err)}
	}

	return &cfg, cfgLogger, nil
}

// NormalizeConfig checks and normalizes everything but the logging set up.
// It creates the directories the config points into.
func NormalizeConfig(cfg *Config) error {
	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}
	makeDirectory := func(dir string) error {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			// Show a nicer error message if it's because a symlink
			// is linked to a directory that does not exist
			// (probably because it's not mounted).
			if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
				link, lerr := os.Readlink(e.Path)
				if lerr == nil {
					str := "is symlink %s -> %s mounted?"
					err = fmt.Errorf(str, e.Path, link)
				}
			}

			str := "Failed to create bitmaskd directory '%s': %v"
			return mkErr(str, dir, err)
		}

		return nil
	}

	// If the provided bitmaskd directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	bitmaskDir := CleanAndExpandPath(cfg.BitmaskDir)
	if bitmaskDir != DefaultBitmaskDir {
		cfg.DataDir = filepath.Join(bitmaskDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(bitmaskDir, defaultLogDirname)
	}

	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	params, err := network.Parse(cfg.ChainConf.Network)
	if err != nil {
		return &usageError{mkErr("invalid network: %v", err)}
	}
	cfg.ActiveNetParams = params

	if cfg.GapLimit == 0 {
		return &usageError{mkErr("gaplimit must be positive")}
	}

	networkDir := filepath.Join(cfg.DataDir, params.Name)
	dirs := []string{bitmaskDir, cfg.DataDir, networkDir}

	switch cfg.Carbonado.Backend {
	case StoreBackendFS:
		if cfg.Carbonado.Dir == "" {
			cfg.Carbonado.Dir = filepath.Join(networkDir, "carbonado")
		}
		cfg.Carbonado.Dir = CleanAndExpandPath(cfg.Carbonado.Dir)
		dirs = append(dirs, cfg.Carbonado.Dir)

	case StoreBackendHTTP:
		if len(cfg.Carbonado.Endpoints) == 0 {
			return &usageError{mkErr("the http carbonado " +
				"backend needs at least one --carbonado.endpoint")}
		}

	case StoreBackendSqlite:
		if cfg.Sqlite.DatabaseFile == defaultSqliteDatabasePath {
			cfg.Sqlite.DatabaseFile = filepath.Join(
				networkDir, defaultSqliteDatabaseFileName,
			)
		}
		cfg.Sqlite.DatabaseFile = CleanAndExpandPath(
			cfg.Sqlite.DatabaseFile,
		)
		dirs = append(dirs, filepath.Dir(cfg.Sqlite.DatabaseFile))

	case StoreBackendPostgres:
		if cfg.Postgres.DBName == "" {
			return &usageError{mkErr("the postgres backend " +
				"needs --postgres.dbname")}
		}

	default:
		return &usageError{mkErr("unknown carbonado backend %q",
			cfg.Carbonado.Backend)}
	}

	switch cfg.Lock.Backend {
	case LockBackendLocal:
	case LockBackendRedis:
		if _, _, err := net.SplitHostPort(cfg.Lock.Redis.Addr); err != nil {
			return &usageError{mkErr("invalid redis address "+
				"%q: %v", cfg.Lock.Redis.Addr, err)}
		}

	default:
		return &usageError{mkErr("unknown lock backend %q",
			cfg.Lock.Backend)}
	}

	if cfg.Transfers.MempoolTimeout <= 0 {
		return &usageError{mkErr("transfers.mempooltimeout must " +
			"be positive")}
	}
	if cfg.Transfers.PollInterval <= 0 {
		return &usageError{mkErr("transfers.pollinterval must " +
			"be positive")}
	}

	if cfg.Prometheus.Active {
		_, _, err := net.SplitHostPort(cfg.Prometheus.ListenAddr)
		if err != nil {
			return &usageError{mkErr("invalid prometheus "+
				"listen address %q: %v",
				cfg.Prometheus.ListenAddr, err)}
		}
	}

	for _, dir := range dirs {
		if err := makeDirectory(dir); err != nil {
			return err
		}
	}

	// Append the network to the log directory so it is "namespaced" per
	// network in the same fashion as the data directory.
	cfg.LogDir = filepath.Join(cfg.LogDir, params.Name)

	return nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
