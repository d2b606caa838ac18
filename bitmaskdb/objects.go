package bitmaskdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/diba-io/bitmask/bitmaskdb/sqlc"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/lightningnetwork/lnd/clock"
)

type (
	// UpsertObjectParams wraps the params needed to write an object.
	UpsertObjectParams = sqlc.UpsertObjectParams

	// ObjectKey addresses a single object.
	ObjectKey = sqlc.FetchObjectParams

	// ObjectInfo is a stored object without its payload.
	ObjectInfo = sqlc.ListOwnerObjectsRow

	// ObjectStats aggregates the whole table.
	ObjectStats = sqlc.ObjectStatsRow
)

// ObjectQueries is the subset of queries the object store needs.
type ObjectQueries interface {
	UpsertObject(ctx context.Context, arg UpsertObjectParams) error

	FetchObject(ctx context.Context, arg ObjectKey) ([]byte, error)

	DeleteObject(ctx context.Context,
		arg sqlc.DeleteObjectParams) (int64, error)

	ListOwnerObjects(ctx context.Context,
		owner string) ([]ObjectInfo, error)

	ObjectStats(ctx context.Context) (ObjectStats, error)
}

// ObjectTxOptions defines the set of db txn options the ObjectQueries
// understands.
type ObjectTxOptions struct {
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (o *ObjectTxOptions) ReadOnly() bool {
	return o.readOnly
}

// NewObjectReadTx creates a new read transaction option set.
func NewObjectReadTx() *ObjectTxOptions {
	return &ObjectTxOptions{
		readOnly: true,
	}
}

// BatchedObjectQueries is a version of ObjectQueries that's capable of
// batched database operations.
type BatchedObjectQueries interface {
	ObjectQueries

	BatchedTx[ObjectQueries]
}

// ObjectStore is a SQL backend for the encrypted object store. It stores
// the already encoded objects, it never sees plaintext.
type ObjectStore struct {
	db BatchedObjectQueries

	clock clock.Clock
}

// A compile-time assertion that the store can serve as an object store
// backend.
var _ carbonado.Backend = (*ObjectStore)(nil)

// NewObjectStore creates a new object store on top of a database handle.
func NewObjectStore(db BatchedObjectQueries, clock clock.Clock) *ObjectStore {
	return &ObjectStore{
		db:    db,
		clock: clock,
	}
}

// NewObjectStoreFromDB wires an ObjectStore to a SQLite or Postgres handle.
func NewObjectStoreFromDB(db *BaseDB, clock clock.Clock) *ObjectStore {
	txCreator := func(tx Tx) ObjectQueries {
		return db.WithBackendTx(tx.(*sql.Tx))
	}

	return NewObjectStore(NewTransactionExecutor(db, txCreator), clock)
}

// networkOf extracts the network prefix of an object file name.
func networkOf(file string) string {
	network, _, found := strings.Cut(file, "-")
	if !found {
		return ""
	}

	return network
}

// Put writes or replaces an object.
func (o *ObjectStore) Put(ctx context.Context, dir, file string,
	blob []byte) error {

	var writeTxOpts ObjectTxOptions
	err := o.db.ExecTx(ctx, &writeTxOpts, func(q ObjectQueries) error {
		return q.UpsertObject(ctx, UpsertObjectParams{
			Owner:     dir,
			FileName:  file,
			Network:   networkOf(file),
			Blob:      blob,
			ByteSize:  int64(len(blob)),
			UpdatedAt: o.clock.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("unable to store object: %w", err)
	}

	return nil
}

// Get reads an object.
func (o *ObjectStore) Get(ctx context.Context, dir, file string) ([]byte,
	error) {

	var blob []byte
	readOpts := NewObjectReadTx()
	err := o.db.ExecTx(ctx, readOpts, func(q ObjectQueries) error {
		var err error
		blob, err = q.FetchObject(ctx, ObjectKey{
			Owner:    dir,
			FileName: file,
		})
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, carbonado.ErrObjectNotFound

	case err != nil:
		return nil, fmt.Errorf("unable to fetch object: %w", err)
	}

	return blob, nil
}

// Delete removes an object, returning false if it did not exist.
func (o *ObjectStore) Delete(ctx context.Context, dir,
	file string) (bool, error) {

	var removed int64
	var writeTxOpts ObjectTxOptions
	err := o.db.ExecTx(ctx, &writeTxOpts, func(q ObjectQueries) error {
		var err error
		removed, err = q.DeleteObject(ctx, sqlc.DeleteObjectParams{
			Owner:    dir,
			FileName: file,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	return removed > 0, nil
}

// ListObjects lists the objects of one owner.
func (o *ObjectStore) ListObjects(ctx context.Context,
	dir string) ([]ObjectInfo, error) {

	var objects []ObjectInfo
	readOpts := NewObjectReadTx()
	err := o.db.ExecTx(ctx, readOpts, func(q ObjectQueries) error {
		var err error
		objects, err = q.ListOwnerObjects(ctx, dir)
		return err
	})

	return objects, err
}

// Stats aggregates the number and size of stored objects.
func (o *ObjectStore) Stats(ctx context.Context) (ObjectStats, error) {
	var stats ObjectStats
	readOpts := NewObjectReadTx()
	err := o.db.ExecTx(ctx, readOpts, func(q ObjectQueries) error {
		var err error
		stats, err = q.ObjectStats(ctx)
		return err
	})

	return stats, err
}
