package bitmaskdb

import (
	"database/sql"
	"net/url"
	"strconv"
	"time"

	"github.com/diba-io/bitmask/bitmaskdb/sqlc"
	postgres_migrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq" // Register the postgres driver.
)

// postgresReplacements translates the SQLite flavoured migrations.
var postgresReplacements = map[string]string{
	"BLOB":                "BYTEA",
	"INTEGER PRIMARY KEY": "SERIAL PRIMARY KEY",
	"BIGINT PRIMARY KEY":  "BIGSERIAL PRIMARY KEY",
	"TIMESTAMP":           "TIMESTAMP WITHOUT TIME ZONE",
}

// PostgresConfig holds the postgres database configuration.
type PostgresConfig struct {
	SkipMigrations     bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
	Host               string        `long:"host" description:"Database server hostname."`
	Port               int           `long:"port" description:"Database server port."`
	User               string        `long:"user" description:"Database user."`
	Password           string        `long:"password" description:"Database user's password."`
	DBName             string        `long:"dbname" description:"Database name to use."`
	MaxOpenConnections int           `long:"maxconnections" description:"Max open connections to keep alive to the database server."`
	MaxIdleConnections int           `long:"maxidleconnections" description:"Max number of idle connections to keep in the connection pool."`
	ConnMaxLifetime    time.Duration `long:"connmaxlifetime" description:"Max amount of time a connection can be reused for before it is closed."`
	ConnMaxIdleTime    time.Duration `long:"connmaxidletime" description:"Max amount of time a connection can be idle for before it is closed."`
	ConnectTimeout     time.Duration `long:"connecttimeout" description:"Max amount of time to wait for a new connection, zero waits forever."`
	RequireSSL         bool          `long:"requiressl" description:"Whether to require using SSL (mode: require) when connecting to the server."`
}

// DSN returns the connection URL of the object database, with the password
// masked when it is meant for the logs.
func (s *PostgresConfig) DSN(hidePassword bool) string {
	params := url.Values{}
	params.Set("sslmode", "disable")
	if s.RequireSSL {
		params.Set("sslmode", "require")
	}
	params.Set("application_name", "bitmaskd")
	if s.ConnectTimeout > 0 {
		secs := int(s.ConnectTimeout.Round(time.Second) / time.Second)
		params.Set("connect_timeout", strconv.Itoa(max(secs, 1)))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     s.Host + ":" + strconv.Itoa(s.Port),
		Path:     s.DBName,
		RawQuery: params.Encode(),
	}
	if hidePassword {
		return u.Redacted()
	}

	return u.String()
}

// poolLimits are the connection pool settings of a store.
type poolLimits struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// limits returns the pool settings of the config. Objects are written one
// user at a time, so a small pool serves the store.
func (s *PostgresConfig) limits() poolLimits {
	l := poolLimits{
		maxOpen:     25,
		maxIdle:     6,
		maxLifetime: 10 * time.Minute,
		maxIdleTime: 5 * time.Minute,
	}
	if s.MaxOpenConnections > 0 {
		l.maxOpen = s.MaxOpenConnections
	}
	if s.MaxIdleConnections > 0 {
		l.maxIdle = s.MaxIdleConnections
	}
	if l.maxIdle > l.maxOpen {
		l.maxIdle = l.maxOpen
	}
	if s.ConnMaxLifetime > 0 {
		l.maxLifetime = s.ConnMaxLifetime
	}
	if s.ConnMaxIdleTime > 0 {
		l.maxIdleTime = s.ConnMaxIdleTime
	}

	return l
}

func (l poolLimits) apply(db *sql.DB) {
	db.SetMaxOpenConns(l.maxOpen)
	db.SetMaxIdleConns(l.maxIdle)
	db.SetConnMaxLifetime(l.maxLifetime)
	db.SetConnMaxIdleTime(l.maxIdleTime)
}

// PostgresStore is the object database on a Postgres server.
type PostgresStore struct {
	cfg *PostgresConfig

	*BaseDB
}

// NewPostgresStore connects to the object database, bringing its schema up
// to date unless migrations are skipped.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	log.Infof("Using postgres object database %v", cfg.DSN(true))

	rawDb, err := sql.Open("postgres", cfg.DSN(false))
	if err != nil {
		return nil, err
	}
	cfg.limits().apply(rawDb)

	if !cfg.SkipMigrations {
		driver, err := postgres_migrate.WithInstance(
			rawDb, &postgres_migrate.Config{},
		)
		if err != nil {
			_ = rawDb.Close()
			return nil, err
		}

		err = applyMigrations(
			newReplacerFS(sqlSchemas, postgresReplacements), driver,
			migrationsDir, cfg.DBName,
		)
		if err != nil {
			_ = rawDb.Close()
			return nil, err
		}
	}

	return &PostgresStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      rawDb,
			Queries: sqlc.NewPostgres(rawDb),
		},
	}, nil
}
