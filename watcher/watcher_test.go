package watcher

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

func testXpub(t *testing.T) string {
	t.Helper()

	w, err := keys.DeriveWallet(testMnemonic, "", &network.Regtest)
	require.NoError(t, err)
	t.Cleanup(w.Signing.Destroy)

	return w.Data.Public.WatcherXpub
}

// fund pays value to a terminal of xpub, optionally under a tapret tweak.
func fund(t *testing.T, m *chain.MockBackend, xpub string, term keys.Terminal,
	tweak *commitment.TapretCommitment, value int64,
	height uint32) wire.OutPoint {

	t.Helper()

	desc, err := keys.WatcherDescriptor(xpub, term.App)
	require.NoError(t, err)
	internal, err := desc.TerminalKey(term)
	require.NoError(t, err)

	pkScript, err := pkScriptOf(internal, &network.Regtest)
	if tweak != nil {
		pkScript, err = tweak.PkScript(internal)
	}
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.Hash{byte(term.App), byte(term.Index)},
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	m.AddTx(tx, height)

	return wire.OutPoint{Hash: tx.TxHash()}
}

func TestWatcherSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	xpub := testXpub(t)
	m := chain.NewMockBackend(100)

	assets0 := keys.Terminal{App: keys.AppRgbAssets, Index: 0}
	assets1 := keys.Terminal{App: keys.AppRgbAssets, Index: 1}
	confirmed := fund(t, m, xpub, assets0, nil, 10_000_000, 100)
	pending := fund(t, m, xpub, assets1, nil, 5_000, 0)

	registry := NewRegistry(&Config{
		Net: &network.Regtest, Source: m, GapLimit: 5,
	})
	defer registry.Stop()

	w := registry.Get("user", "default", account.NewWatcherWallet(xpub))
	wallet, err := w.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(100), wallet.SyncHeight)
	require.True(t, wallet.IsUsed(assets0))
	require.True(t, wallet.IsUsed(assets1))

	unspent, err := w.Unspent(ctx, keys.AppRgbAssets)
	require.NoError(t, err)
	require.Len(t, unspent, 2)
	require.Equal(t, confirmed, unspent[0].Outpoint)
	require.Equal(t, pending, unspent[1].Outpoint)

	addr, err := w.NextAddress(ctx, keys.AppRgbAssets)
	require.NoError(t, err)
	require.Equal(t, uint32(2), addr.Terminal.Index)

	addr, err = w.NextAddress(ctx, keys.AppRgbUdas)
	require.NoError(t, err)
	require.Zero(t, addr.Terminal.Index)

	// Only confirmed, unallocated outputs are handed out.
	utxo, err := w.NextUtxo(ctx, keys.AppRgbAssets, fn.NewSet[wire.OutPoint]())
	require.NoError(t, err)
	require.Equal(t, confirmed, utxo.Outpoint)

	_, err = w.NextUtxo(ctx, keys.AppRgbAssets, fn.NewSet(confirmed))
	require.ErrorIs(t, err, ErrNoUtxo)

	details, err := w.Details(ctx)
	require.NoError(t, err)
	require.Len(t, details, len(ScannedApps))
}

func TestWatcherTapretTweak(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	xpub := testXpub(t)
	m := chain.NewMockBackend(100)

	tweak, err := commitment.Commit([]rgb.MPCLeaf{{
		Protocol: rgb.ContractID{1}, Message: rgb.BundleID{2},
	}}, 0)
	require.NoError(t, err)

	change := keys.DefaultChangeTerminal
	host := fund(t, m, xpub, change, &tweak, 546, 101)

	w := New("default", account.NewWatcherWallet(xpub), &Config{
		Net: &network.Regtest, Source: m,
	})
	w.Start()
	defer w.Stop()

	// Without the tweak the host output is invisible.
	wallet, err := w.Sync(ctx)
	require.NoError(t, err)
	_, ok := wallet.Utxo(host)
	require.False(t, ok)

	require.NoError(t, w.AddTapretTweak(ctx, change, tweak))
	wallet, err = w.Sync(ctx)
	require.NoError(t, err)

	utxo, ok := wallet.Utxo(host)
	require.True(t, ok)
	require.Equal(t, change, utxo.Terminal)
	require.NotNil(t, utxo.Tweak)
	require.Equal(t, tweak, *utxo.Tweak)

	// Allocations on the host output are ours, foreign ones are not.
	foreign := wire.OutPoint{Hash: chainhash.Hash{9}}
	state := []stash.OwnedState{
		{Amount: 3, Outpoint: &host},
		{Amount: 2, Outpoint: &foreign},
		{Amount: 7},
	}
	allocs, err := w.Allocations(ctx, state)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	require.True(t, allocs[0].IsMine)
	require.Equal(t, change, *allocs[0].Terminal)
	require.False(t, allocs[1].IsMine)
	require.Equal(t, uint64(3), Balance(allocs))

	require.Len(t, Allocated(state), 2)
}

func TestCreateWatcher(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t)
	other, err := keys.DeriveWallet(testMnemonic, "pw", &network.Regtest)
	require.NoError(t, err)
	defer other.Signing.Destroy()

	acc := account.NewRgbAccount()
	res, err := Create(acc, "default", xpub, false)
	require.NoError(t, err)
	require.True(t, res.Created)

	// Identical creation is a no-op.
	acc.Wallets["default"].SyncHeight = 7
	res, err = Create(acc, "default", xpub, false)
	require.NoError(t, err)
	require.False(t, res.Created)
	require.False(t, res.Migrated)
	require.Equal(t, uint32(7), acc.Wallets["default"].SyncHeight)

	otherXpub := other.Data.Public.WatcherXpub
	_, err = Create(acc, "default", otherXpub, false)
	require.ErrorIs(t, err, ErrXpubMismatch)
	require.Equal(t, xpub, acc.Wallets["default"].Xpub)

	res, err = Create(acc, "default", otherXpub, true)
	require.NoError(t, err)
	require.True(t, res.Migrated)
	require.Equal(t, otherXpub, acc.Wallets["default"].Xpub)

	_, err = Create(acc, "bad", "xpub-garbage", false)
	require.ErrorIs(t, err, keys.ErrWrongDescriptor)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	xpub := testXpub(t)
	registry := NewRegistry(&Config{
		Net: &network.Regtest, Source: chain.NewMockBackend(1),
	})

	persisted := account.NewWatcherWallet(xpub)
	a := registry.Get("alice", "default", persisted)
	require.Same(t, a, registry.Get("alice", "default", persisted))
	require.NotSame(t, a, registry.Get("bob", "default", persisted))
	require.Equal(t, 2, registry.Len())

	registry.Destroy("alice", "default")
	require.Equal(t, 1, registry.Len())
	_, err := a.Wallet(ctx)
	require.ErrorIs(t, err, ErrShuttingDown)

	registry.Stop()
	require.Zero(t, registry.Len())
}

func TestAppOf(t *testing.T) {
	t.Parallel()

	app, err := AppOf(rgb.IfaceRGB21)
	require.NoError(t, err)
	require.Equal(t, keys.AppRgbUdas, app)

	_, err = AppOf("RGB25")
	require.ErrorIs(t, err, rgb.ErrUnknownIface)
}
