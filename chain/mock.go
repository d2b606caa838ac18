package chain

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type mockTx struct {
	tx     *wire.MsgTx
	height uint32
}

// MockBackend is an in-memory chain. Transactions enter the mempool on
// Broadcast, replacing conflicting mempool transactions, and are confirmed
// by Mine.
type MockBackend struct {
	mu sync.Mutex

	best uint32
	txs  map[chainhash.Hash]*mockTx

	// Offline makes every call fail with ErrResolverUnavailable.
	Offline bool
}

var _ Backend = (*MockBackend)(nil)

// NewMockBackend creates an empty chain at the given height.
func NewMockBackend(height uint32) *MockBackend {
	return &MockBackend{
		best: height,
		txs:  make(map[chainhash.Hash]*mockTx),
	}
}

func (m *MockBackend) check() error {
	if m.Offline {
		return fmt.Errorf("%w: offline", ErrResolverUnavailable)
	}

	return nil
}

// ResolveTx returns a known transaction.
func (m *MockBackend) ResolveTx(_ context.Context,
	txid chainhash.Hash) (*TxInfo, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return nil, err
	}

	t, ok := m.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	}

	return &TxInfo{Tx: t.tx.Copy(), Height: t.height}, nil
}

// BestHeight returns the mock tip.
func (m *MockBackend) BestHeight(context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}

	return m.best, nil
}

func (m *MockBackend) spent(op wire.OutPoint) bool {
	for _, t := range m.txs {
		for _, in := range t.tx.TxIn {
			if in.PreviousOutPoint == op {
				return true
			}
		}
	}

	return false
}

// ScriptState scans the known transactions for outputs paying pkScript.
func (m *MockBackend) ScriptState(_ context.Context,
	pkScript []byte) (*ScriptState, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return nil, err
	}

	state := &ScriptState{}
	for txid, t := range m.txs {
		for i, out := range t.tx.TxOut {
			if !bytes.Equal(out.PkScript, pkScript) {
				continue
			}
			state.Used = true

			op := wire.OutPoint{Hash: txid, Index: uint32(i)}
			if m.spent(op) {
				continue
			}
			state.Unspent = append(state.Unspent, Output{
				Outpoint: op,
				Value:    uint64(out.Value),
				Height:   t.height,
			})
		}
	}

	return state, nil
}

// Broadcast adds tx to the mempool. Unconfirmed transactions spending the
// same outputs are replaced, confirmed ones make the broadcast fail.
func (m *MockBackend) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return err
	}

	for txid, t := range m.txs {
		if !conflicts(t.tx, tx) {
			continue
		}
		if t.height > 0 {
			return fmt.Errorf("chain: %v double spends mined %v",
				tx.TxHash(), txid)
		}
		log.Debugf("Replacing mempool transaction %v", txid)
		delete(m.txs, txid)
	}

	m.txs[tx.TxHash()] = &mockTx{tx: tx.Copy()}

	return nil
}

func conflicts(a, b *wire.MsgTx) bool {
	for _, ina := range a.TxIn {
		for _, inb := range b.TxIn {
			if ina.PreviousOutPoint == inb.PreviousOutPoint {
				return true
			}
		}
	}

	return false
}

// AddTx inserts a transaction at a height, zero for the mempool. It does
// not check conflicts; funding transactions are added this way.
func (m *MockBackend) AddTx(tx *wire.MsgTx, height uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs[tx.TxHash()] = &mockTx{tx: tx.Copy(), height: height}
	if height > m.best {
		m.best = height
	}
}

// Mine confirms every mempool transaction in a new block and returns its
// height.
func (m *MockBackend) Mine() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.best++
	for _, t := range m.txs {
		if t.height == 0 {
			t.height = m.best
		}
	}

	return m.best
}

// Reorg drops a transaction from the chain.
func (m *MockBackend) Reorg(txid chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.txs, txid)
}
