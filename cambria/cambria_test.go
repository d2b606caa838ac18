package cambria

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func tag(s string) [TagSize]byte {
	var t [TagSize]byte
	copy(t[:], s)

	return t
}

func TestParseTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag     [TagSize]byte
		version Version
		err     error
	}{
		{tag: OldestTag, version: V0},
		{tag: tag("v0"), version: V0},
		{tag: tag("rgbst160"), version: V0},
		{tag: CurrentTag, version: V1},
		{tag: tag("V1"), version: V1},
		{tag: tag("1"), version: V1},
		{tag: tag("v2"), err: ErrUnknownVersion},
		{tag: tag("rgbst999"), err: ErrUnknownVersion},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(string(tc.tag[:]), func(t *testing.T) {
			t.Parallel()

			v, err := ParseTag(tc.tag)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.version, v)
		})
	}
}

// TestParseTagNeverPanics checks that arbitrary header bytes map to a
// version or a clean error.
func TestParseTagNeverPanics(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var raw [TagSize]byte
		copy(raw[:], rapid.SliceOfN(rapid.Byte(), TagSize, TagSize).Draw(
			t, "tag",
		))

		v, err := ParseTag(raw)
		if err == nil {
			require.LessOrEqual(t, v, Current)
		}
	})
}

// TestAccountV0Upgrade decodes a V0 account written with the all zero tag
// into the current shape.
func TestAccountV0Upgrade(t *testing.T) {
	t.Parallel()

	utxo := UtxoV0{
		Outpoint: wire.OutPoint{Hash: chainhash.Hash{1}, Index: 2},
		Height:   120,
		Amount:   10_000_000,
		Terminal: keys.Terminal{App: keys.AppRgbAssets, Index: 1},
	}
	v0 := &AccountV0{Wallets: []WalletV0{{
		Name:  "default",
		Xpub:  "tpubWatcher",
		Utxos: []UtxoV0{utxo},
	}}}

	acc, err := DecodeAccount(v0.Bytes(), OldestTag)
	require.NoError(t, err)

	w, err := acc.Wallet("default")
	require.NoError(t, err)
	require.Equal(t, "tpubWatcher", w.Xpub)
	require.Len(t, w.Utxos, 1)
	require.Equal(t, utxo.Outpoint, w.Utxos[0].Outpoint)
	require.Equal(t, utxo.Amount, w.Utxos[0].Amount)
	require.True(t, w.IsUsed(utxo.Terminal))

	// Fields V0 lacks take defaults.
	require.Nil(t, w.Utxos[0].Tweak)
	require.Empty(t, w.Tweaks)
	require.Zero(t, w.SyncHeight)
	require.Empty(t, acc.HiddenContracts)

	// The upgraded account reads back at the current version.
	current, err := DecodeAccount(acc.Bytes(), CurrentTag)
	require.NoError(t, err)
	require.Equal(t, acc.Bytes(), current.Bytes())

	// A V0 blob is not readable as V1.
	_, err = DecodeAccount(v0.Bytes(), CurrentTag)
	require.Error(t, err)

	_, err = DecodeAccount(v0.Bytes(), tag("v9"))
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestEmptyAccountAnyVersion(t *testing.T) {
	t.Parallel()

	for _, tg := range [][TagSize]byte{OldestTag, CurrentTag} {
		acc, err := DecodeAccount(nil, tg)
		require.NoError(t, err)
		require.Empty(t, acc.Wallets)
	}
}

func TestTransfersV0Upgrade(t *testing.T) {
	t.Parallel()

	contract := rgb.ContractID{3}
	v0 := &TransfersV0{Contracts: []ContractTransfersV0{{
		Contract: contract,
		Records: []TransferV0{{
			ConsigID:    rgb.ConsignmentID{1},
			Iface:       rgb.IfaceRGB20,
			Consignment: []byte{0xde, 0xad},
			Txid:        chainhash.Hash{4},
			Sent:        true,
		}, {
			ConsigID: rgb.ConsignmentID{2},
			Iface:    rgb.IfaceRGB21,
		}},
	}}}

	transfers, err := DecodeTransfers(v0.Bytes(), tag("v0"))
	require.NoError(t, err)

	records := transfers.List(contract)
	require.Len(t, records, 2)
	require.Equal(t, account.DirectionSent, records[0].Direction)
	require.Equal(t, account.DirectionReceived, records[1].Direction)
	require.Equal(t, account.StatusMempool, records[0].Status.Kind)
	require.Equal(t, chainhash.Hash{4}, records[0].Txid)
	require.False(t, records[0].RBF)
	require.Empty(t, records[0].Utxos)
	require.Empty(t, records[0].Beneficiaries)

	current, err := DecodeTransfers(transfers.Bytes(), CurrentTag)
	require.NoError(t, err)
	require.Equal(t, transfers.Bytes(), current.Bytes())
}
