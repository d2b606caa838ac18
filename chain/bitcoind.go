package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// DefaultRPCTimeout bounds a single call to the node.
const DefaultRPCTimeout = 4 * time.Second

// BitcoindConfig holds the connection details of a bitcoind node.
type BitcoindConfig struct {
	Host    string
	User    string
	Pass    string
	Timeout time.Duration
}

// BitcoindBackend implements Backend on top of the bitcoind JSON-RPC
// interface.
type BitcoindBackend struct {
	client  *rpcclient.Client
	timeout time.Duration
}

var _ Backend = (*BitcoindBackend)(nil)

// NewBitcoindBackend connects to a bitcoind node in HTTP POST mode.
func NewBitcoindBackend(cfg *BitcoindConfig) (*BitcoindBackend, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: unable to create rpc client: %w",
			err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultRPCTimeout
	}

	return &BitcoindBackend{client: client, timeout: timeout}, nil
}

// Stop shuts down the RPC client.
func (b *BitcoindBackend) Stop() {
	b.client.Shutdown()
}

// call runs a blocking RPC receive under the context and the per call
// timeout. Transport failures are reported as ErrResolverUnavailable.
func call[T any](ctx context.Context, timeout time.Duration,
	receive func() (T, error)) (T, error) {

	type result struct {
		val T
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		val, err := receive()
		done <- result{val: val, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			var rpcErr *btcjson.RPCError
			if errors.As(r.err, &rpcErr) {
				return zero, r.err
			}
			return zero, fmt.Errorf("%w: %v", ErrResolverUnavailable,
				r.err)
		}
		return r.val, nil

	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", ErrResolverUnavailable,
			ctx.Err())
	}
}

func isNotFound(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) &&
		rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey
}

// ResolveTx looks up a transaction through getrawtransaction. It needs a
// node with txindex enabled to find mined transactions of foreign wallets.
func (b *BitcoindBackend) ResolveTx(ctx context.Context,
	txid chainhash.Hash) (*TxInfo, error) {

	raw, err := call(ctx, b.timeout, func() (*btcjson.TxRawResult, error) {
		return b.client.GetRawTransactionVerboseAsync(&txid).Receive()
	})
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	case err != nil:
		return nil, err
	}

	txBytes, err := hex.DecodeString(raw.Hex)
	if err != nil {
		return nil, fmt.Errorf("chain: bad tx hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, fmt.Errorf("chain: bad tx: %w", err)
	}

	info := &TxInfo{Tx: tx}
	if raw.BlockHash == "" || raw.Confirmations == 0 {
		return info, nil
	}

	blockHash, err := chainhash.NewHashFromStr(raw.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("chain: bad block hash: %w", err)
	}
	header, err := call(ctx, b.timeout,
		func() (*btcjson.GetBlockHeaderVerboseResult, error) {
			return b.client.GetBlockHeaderVerboseAsync(
				blockHash,
			).Receive()
		},
	)
	if err != nil {
		return nil, err
	}
	info.Height = uint32(header.Height)

	return info, nil
}

// BestHeight returns the node's block count.
func (b *BitcoindBackend) BestHeight(ctx context.Context) (uint32, error) {
	count, err := call(ctx, b.timeout, func() (int64, error) {
		return b.client.GetBlockCountAsync().Receive()
	})
	if err != nil {
		return 0, err
	}

	return uint32(count), nil
}

type scanResult struct {
	Success  bool `json:"success"`
	Unspents []struct {
		Txid   string  `json:"txid"`
		Vout   uint32  `json:"vout"`
		Amount float64 `json:"amount"`
		Height int64   `json:"height"`
	} `json:"unspents"`
}

// ScriptState scans the UTXO set for a raw script. The UTXO set carries no
// spent history, so a script counts as used as soon as it has an output.
func (b *BitcoindBackend) ScriptState(ctx context.Context,
	pkScript []byte) (*ScriptState, error) {

	action, err := json.Marshal("start")
	if err != nil {
		return nil, err
	}
	objects, err := json.Marshal([]map[string]string{{
		"desc": fmt.Sprintf("raw(%x)", pkScript),
	}})
	if err != nil {
		return nil, err
	}

	raw, err := call(ctx, b.timeout, func() (json.RawMessage, error) {
		return b.client.RawRequestAsync(
			"scantxoutset", []json.RawMessage{action, objects},
		).Receive()
	})
	if err != nil {
		return nil, err
	}

	var scan scanResult
	if err := json.Unmarshal(raw, &scan); err != nil {
		return nil, fmt.Errorf("chain: bad scantxoutset reply: %w", err)
	}

	state := &ScriptState{Used: len(scan.Unspents) > 0}
	for _, u := range scan.Unspents {
		hash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return nil, fmt.Errorf("chain: bad txid: %w", err)
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, err
		}

		state.Unspent = append(state.Unspent, Output{
			Outpoint: wire.OutPoint{Hash: *hash, Index: u.Vout},
			Value:    uint64(amount),
			Height:   uint32(u.Height),
		})
	}

	return state, nil
}

// Broadcast publishes a transaction through sendrawtransaction.
func (b *BitcoindBackend) Broadcast(ctx context.Context,
	tx *wire.MsgTx) error {

	txid, err := call(ctx, b.timeout, func() (*chainhash.Hash, error) {
		return b.client.SendRawTransactionAsync(tx, false).Receive()
	})
	if err != nil {
		return err
	}

	log.Infof("Broadcast transaction %v", txid)

	return nil
}
