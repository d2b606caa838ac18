package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func spendTx(prev wire.OutPoint, pkScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

func TestMockBackendReplacement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMockBackend(100)
	script := []byte{0x51, 0x20, 1}

	funding := spendTx(wire.OutPoint{Index: 7}, script, 10_000)
	m.AddTx(funding, 100)

	state, err := m.ScriptState(ctx, script)
	require.NoError(t, err)
	require.True(t, state.Used)
	require.Len(t, state.Unspent, 1)

	fundOut := wire.OutPoint{Hash: funding.TxHash()}
	a := spendTx(fundOut, []byte{0x51}, 9_000)
	b := spendTx(fundOut, []byte{0x51}, 8_000)

	require.NoError(t, m.Broadcast(ctx, a))
	info, err := m.ResolveTx(ctx, a.TxHash())
	require.NoError(t, err)
	require.False(t, info.Confirmed())

	// The funding output is spent by the mempool transaction.
	state, err = m.ScriptState(ctx, script)
	require.NoError(t, err)
	require.True(t, state.Used)
	require.Empty(t, state.Unspent)

	// b replaces a.
	require.NoError(t, m.Broadcast(ctx, b))
	_, err = m.ResolveTx(ctx, a.TxHash())
	require.ErrorIs(t, err, ErrTxNotFound)

	height := m.Mine()
	require.Equal(t, uint32(101), height)
	info, err = m.ResolveTx(ctx, b.TxHash())
	require.NoError(t, err)
	require.Equal(t, height, info.Height)

	// Once mined, a can't come back.
	require.Error(t, m.Broadcast(ctx, a))

	m.Reorg(b.TxHash())
	_, err = m.ResolveTx(ctx, b.TxHash())
	require.ErrorIs(t, err, ErrTxNotFound)

	m.Offline = true
	_, err = m.BestHeight(ctx)
	require.ErrorIs(t, err, ErrResolverUnavailable)
}

func TestCallClassifiesErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := call(ctx, time.Second, func() (int, error) {
		return 0, errors.New("connection refused")
	})
	require.ErrorIs(t, err, ErrResolverUnavailable)

	_, err = call(ctx, time.Second, func() (int, error) {
		return 0, &btcjson.RPCError{
			Code: btcjson.ErrRPCInvalidAddressOrKey,
		}
	})
	require.True(t, isNotFound(err))

	_, err = call(ctx, 10*time.Millisecond, func() (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	})
	require.ErrorIs(t, err, ErrResolverUnavailable)

	v, err := call(ctx, time.Second, func() (chainhash.Hash, error) {
		return chainhash.Hash{1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, chainhash.Hash{1}, v)
}
