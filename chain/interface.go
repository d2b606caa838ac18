// Package chain defines the chain backend the wallet core reads from: a
// transaction resolver for validation and transfer status, and an output
// source for watcher sync.
package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrTxNotFound is returned when the backend does not know a
	// transaction, neither mined nor in its mempool.
	ErrTxNotFound = errors.New("chain: transaction not found")

	// ErrResolverUnavailable is returned when the backend cannot be
	// reached or fails to answer in time. It is retryable.
	ErrResolverUnavailable = errors.New("chain: resolver unavailable")
)

// TxInfo is a resolved transaction.
type TxInfo struct {
	Tx *wire.MsgTx

	// Height is the confirmation height, zero while unconfirmed.
	Height uint32
}

// Confirmed reports whether the transaction is mined.
func (t *TxInfo) Confirmed() bool {
	return t.Height > 0
}

// TxResolver looks up transactions by id.
type TxResolver interface {
	// ResolveTx returns a transaction with its confirmation height. It
	// returns ErrTxNotFound for unknown transactions.
	ResolveTx(ctx context.Context, txid chainhash.Hash) (*TxInfo, error)

	// BestHeight returns the height of the chain tip.
	BestHeight(ctx context.Context) (uint32, error)
}

// Output is an unspent output paying to a watched script.
type Output struct {
	Outpoint wire.OutPoint
	Value    uint64

	// Height is the confirmation height, zero while unconfirmed.
	Height uint32
}

// ScriptState is what the backend knows about one output script.
type ScriptState struct {
	// Used reports whether the script has any chain history.
	Used bool

	// Unspent lists the outputs paying to the script that are not spent.
	Unspent []Output
}

// UtxoSource looks up the outputs of scripts.
type UtxoSource interface {
	// ScriptState returns the history and unspent outputs of pkScript.
	ScriptState(ctx context.Context, pkScript []byte) (*ScriptState, error)
}

// Broadcaster publishes transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// Backend bundles everything the wallet core needs from the chain.
type Backend interface {
	TxResolver
	UtxoSource
	Broadcaster
}
