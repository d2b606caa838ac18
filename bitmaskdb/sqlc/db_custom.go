package sqlc

// BackendType is the database engine a Queries instance talks to.
type BackendType uint8

const (
	// BackendTypeUnknown is an uninitialized Queries instance.
	BackendTypeUnknown BackendType = iota

	// BackendTypeSqlite is an embedded SQLite file.
	BackendTypeSqlite

	// BackendTypePostgres is a Postgres server.
	BackendTypePostgres
)

// String returns a human readable backend name.
func (b BackendType) String() string {
	switch b {
	case BackendTypeSqlite:
		return "sqlite"
	case BackendTypePostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// wrappedTX tags a DBTX with the engine behind it.
type wrappedTX struct {
	DBTX

	backendType BackendType
}

// Backend returns the engine the queries run against.
func (q *Queries) Backend() BackendType {
	wtx, ok := q.db.(*wrappedTX)
	if !ok {
		return BackendTypeUnknown
	}

	return wtx.backendType
}

// NewSqlite creates a Queries instance for a SQLite database.
func NewSqlite(db DBTX) *Queries {
	return &Queries{db: &wrappedTX{db, BackendTypeSqlite}}
}

// NewPostgres creates a Queries instance for a Postgres database.
func NewPostgres(db DBTX) *Queries {
	return &Queries{db: &wrappedTX{db, BackendTypePostgres}}
}

// WithBackendTx is like WithTx but keeps the backend tag of q.
func (q *Queries) WithBackendTx(tx DBTX) *Queries {
	return &Queries{db: &wrappedTX{tx, q.Backend()}}
}
