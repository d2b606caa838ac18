package account

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func utxoGen() *rapid.Generator[Utxo] {
	return rapid.Custom(func(t *rapid.T) Utxo {
		var hash chainhash.Hash
		copy(hash[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "hash"))

		u := Utxo{
			Outpoint: wire.OutPoint{
				Hash:  hash,
				Index: rapid.Uint32().Draw(t, "vout"),
			},
			Height: rapid.Uint32().Draw(t, "height"),
			Amount: rapid.Uint64().Draw(t, "amount"),
			Terminal: keys.Terminal{
				App:   rapid.SampledFrom([]uint32{20, 21}).Draw(t, "app"),
				Index: rapid.Uint32Range(0, 100).Draw(t, "index"),
			},
		}
		if rapid.Bool().Draw(t, "tweaked") {
			u.Tweak = &commitment.TapretCommitment{
				MPC:   [32]byte{rapid.Byte().Draw(t, "mpc")},
				Nonce: rapid.Uint8().Draw(t, "nonce"),
			}
		}

		return u
	})
}

func TestRgbAccountEncoding(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		acc := NewRgbAccount()
		names := rapid.SliceOfNDistinct(
			rapid.StringMatching(`[a-z]{1,8}`), 0, 3,
			rapid.ID[string],
		).Draw(t, "names")

		for _, name := range names {
			w := NewWatcherWallet("xpub-" + name)
			w.Utxos = rapid.SliceOfN(utxoGen(), 0, 4).Draw(t, "utxos")
			w.SyncHeight = rapid.Uint32().Draw(t, "sync")
			w.MarkUsed(keys.Terminal{App: 20, Index: 1})
			w.AddTweak(keys.Terminal{App: 20, Index: 1},
				commitment.TapretCommitment{Nonce: 1})
			acc.Wallets[name] = w
		}
		if rapid.Bool().Draw(t, "hidden") {
			acc.Hide(rgb.ContractID{1})
			acc.Invoices = []string{"rgb:abc"}
		}

		decoded, err := DecodeRgbAccount(acc.Bytes())
		require.NoError(t, err)
		require.Equal(t, acc.Bytes(), decoded.Bytes())
		require.Equal(t, acc.Names(), decoded.Names())
		for _, name := range names {
			require.Equal(t, len(acc.Wallets[name].Utxos),
				len(decoded.Wallets[name].Utxos))
		}
	})
}

func TestEmptyBlobsDecodeToDefaults(t *testing.T) {
	t.Parallel()

	acc, err := DecodeRgbAccount(nil)
	require.NoError(t, err)
	require.Empty(t, acc.Wallets)

	transfers, err := DecodeRgbTransfers(nil)
	require.NoError(t, err)
	require.Empty(t, transfers.Transfers)
}

func TestWatcherWalletHelpers(t *testing.T) {
	t.Parallel()

	w := NewWatcherWallet("xpub")
	t1 := keys.Terminal{App: 20, Index: 1}
	t2 := keys.Terminal{App: 20, Index: 2}

	require.Nil(t, w.Tweak(t1))
	w.AddTweak(t1, commitment.TapretCommitment{Nonce: 1})
	w.AddTweak(t1, commitment.TapretCommitment{Nonce: 2})
	require.Len(t, w.Tweaks, 1)
	require.Equal(t, uint8(2), w.Tweak(t1).Nonce)

	w.Utxos = []Utxo{
		{Outpoint: wire.OutPoint{Index: 1}, Terminal: t2},
		{Outpoint: wire.OutPoint{Index: 2}, Terminal: t2, Height: 9},
		{Outpoint: wire.OutPoint{Index: 3}, Terminal: t1, Height: 5},
		{Outpoint: wire.OutPoint{Index: 4},
			Terminal: keys.Terminal{App: 21}},
	}

	// Confirmed first, by height.
	unspent := w.Unspent(20)
	require.Len(t, unspent, 3)
	require.Equal(t, uint32(3), unspent[0].Outpoint.Index)
	require.Equal(t, uint32(2), unspent[1].Outpoint.Index)
	require.Equal(t, uint32(1), unspent[2].Outpoint.Index)

	u, ok := w.Utxo(wire.OutPoint{Index: 4})
	require.True(t, ok)
	require.Equal(t, uint32(21), u.Terminal.App)
}

func TestRgbTransfersCatalogue(t *testing.T) {
	t.Parallel()

	contract := rgb.ContractID{7}
	transfers := NewRgbTransfers()

	rec := TransferRecord{
		ConsigID:    rgb.ConsignmentID{1},
		Iface:       rgb.IfaceRGB20,
		Direction:   DirectionSent,
		Status:      TransferStatus{Kind: StatusBlock, Height: 101},
		Consignment: []byte{1, 2, 3},
		Txid:        chainhash.Hash{9},
		RBF:         true,
		Utxos:       []wire.OutPoint{{Index: 1}, {Index: 2}},
		Beneficiaries: []string{
			rgb.SecretSeal{3}.String(),
		},
		CreatedAt: 1700000000,
	}
	transfers.Save(contract, rec)
	transfers.Save(contract, TransferRecord{
		ConsigID:  rgb.ConsignmentID{2},
		Direction: DirectionReceived,
	})

	// Saving the same id replaces the record.
	rec.Status = TransferStatus{Kind: StatusReorged}
	transfers.Save(contract, rec)
	require.Len(t, transfers.List(contract), 2)
	require.Equal(t, "reorged", transfers.List(contract)[0].Status.String())

	decoded, err := DecodeRgbTransfers(transfers.Bytes())
	require.NoError(t, err)
	require.Equal(t, transfers.Bytes(), decoded.Bytes())
	got := decoded.List(contract)[0]
	require.Equal(t, rec.Txid, got.Txid)
	require.Equal(t, rec.Utxos, got.Utxos)
	require.Equal(t, rec.Beneficiaries, got.Beneficiaries)
	require.True(t, got.RBF)
	require.Equal(t, DirectionReceived, decoded.List(contract)[1].Direction)

	require.Equal(t, 1, decoded.Remove(contract, rgb.ConsignmentID{1},
		rgb.ConsignmentID{5}))
	require.Len(t, decoded.List(contract), 1)
	require.Equal(t, 1, decoded.Remove(contract, rgb.ConsignmentID{2}))
	require.Empty(t, decoded.Contracts())
}

func TestTransferStatusString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "mempool", TransferStatus{}.String())
	require.Equal(t, "block(5)",
		TransferStatus{Kind: StatusBlock, Height: 5}.String())
	require.Equal(t, "unknown",
		TransferStatus{Kind: StatusUnknown}.String())
	require.Equal(t, "received", DirectionReceived.String())
}
