package bitmaskdb

import (
	"context"
	"database/sql"
	"math"
	prand "math/rand"
	"time"

	"github.com/diba-io/bitmask/bitmaskdb/sqlc"
)

var (
	// DefaultStoreTimeout is the default timeout used for any interaction
	// with the storage/database.
	DefaultStoreTimeout = time.Second * 10
)

const (
	// DefaultNumTxRetries is the default number of times we'll retry a
	// transaction if it fails with an error that permits transaction
	// repetition.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the default initial delay between
	// retries. This will be used to generate a random delay between -50%
	// and +50% of this value, so 20 to 60 milliseconds.
	DefaultInitialRetryDelay = time.Millisecond * 40

	// DefaultMaxRetryDelay is the default maximum delay between retries.
	DefaultMaxRetryDelay = time.Second * 3
)

// TxOptions represents a set of options one can use to control what type of
// database transaction is created.
type TxOptions interface {
	// ReadOnly returns true if the transaction should be read only.
	ReadOnly() bool
}

// BatchedTx executes several operations on Q inside one atomic
// transaction.
type BatchedTx[Q any] interface {
	// ExecTx runs txBody against a Q bound to a single transaction.
	ExecTx(ctx context.Context, txOptions TxOptions,
		txBody func(Q) error) error
}

// Tx represents a database transaction that can be committed or rolled back.
type Tx interface {
	// Commit commits the database transaction.
	Commit() error

	// Rollback rolls back an incomplete database transaction.
	// Transactions that were able to be committed can still call this as a
	// noop.
	Rollback() error
}

// QueryCreator binds a querier to a database transaction.
type QueryCreator[Q any] func(Tx) Q

// BatchedQuerier is a query source that can also start transactions.
type BatchedQuerier interface {
	sqlc.Querier

	// BeginTx creates a new database transaction given the set of
	// transaction options.
	BeginTx(ctx context.Context, options TxOptions) (Tx, error)
}

// txExecutorOptions is a struct that holds the options for the transaction
// executor.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max
// value.
func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	halfDelay := t.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(t.initialRetryDelay)) //nolint:gosec

	initialDelay := halfDelay + time.Duration(randDelay)

	if attempt == 0 {
		return initialDelay
	}

	// Guard against overflowing the shift for very large attempt counts.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	actualDelay := initialDelay * factor
	if actualDelay > t.maxRetryDelay {
		return t.maxRetryDelay
	}

	return actualDelay
}

// TxExecutorOption is a functional option for the transaction executor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries sets the number of retries for serialization failures.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.numRetries = numRetries
	}
}

// TransactionExecutor runs a body of queries of type Query inside one
// database transaction, retrying on serialization failures.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]

	opts *txExecutorOptions
}

// NewTransactionExecutor creates a new executor for the given query
// constructor.
func NewTransactionExecutor[Querier any](db BatchedQuerier,
	createQuery QueryCreator[Querier],
	opts ...TxExecutorOption) *TransactionExecutor[Querier] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	return &TransactionExecutor[Querier]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
	}
}

// ExecTx is a wrapper for txBody to abstract the creation and commit of a db
// transaction. Bodies failing with a serialization error are run again in a
// fresh transaction after a randomized backoff.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	waitBeforeRetry := func(attemptNumber int) {
		retryDelay := t.opts.randRetryDelay(attemptNumber)

		log.Tracef("Retrying transaction due to tx serialization "+
			"error, attempt_number=%v, delay=%v", attemptNumber,
			retryDelay)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
		}
	}

	for i := 0; i < t.opts.numRetries; i++ {
		tx, err := t.BatchedQuerier.BeginTx(ctx, txOptions)
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := txBody(t.createQuery(tx)); err != nil {
			// Rollback is safe to call even if the tx is already
			// closed.
			_ = tx.Rollback()

			dbErr := MapSQLError(err)
			if IsSerializationError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()

			dbErr := MapSQLError(err)
			if IsSerializationError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		return nil
	}

	return ErrRetriesExceeded
}

// BaseDB is the handle shared by the SQLite and Postgres stores.
type BaseDB struct {
	*sql.DB

	*sqlc.Queries
}

// BeginTx wraps the normal sql specific BeginTx method with the TxOptions
// interface.
func (s *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (Tx, error) {
	sqlOptions := sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	}

	return s.DB.BeginTx(ctx, &sqlOptions)
}

// Backend returns the engine of the store.
func (s *BaseDB) Backend() sqlc.BackendType {
	return s.Queries.Backend()
}
