package rgbpsbt

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

var (
	assets0 = keys.Terminal{App: keys.AppRgbAssets, Index: 0}
	assets1 = keys.Terminal{App: keys.AppRgbAssets, Index: 1}
)

type testHarness struct {
	t      *testing.T
	wallet *keys.Wallet
	chain  *chain.MockBackend
	desc   *keys.Descriptor
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	w, err := keys.DeriveWallet(testMnemonic, "", &network.Regtest)
	require.NoError(t, err)
	t.Cleanup(w.Signing.Destroy)

	desc, err := keys.ParseDescriptor(w.Data.Public.RgbAssetsDescriptorXpub)
	require.NoError(t, err)

	return &testHarness{
		t:      t,
		wallet: w,
		chain:  chain.NewMockBackend(100),
		desc:   desc,
	}
}

func (h *testHarness) key(term keys.Terminal) []byte {
	internal, err := h.desc.TerminalKey(term)
	require.NoError(h.t, err)

	return schnorr.SerializePubKey(internal)
}

// fund pays value to a terminal, under a tapret tweak when one is given.
func (h *testHarness) fund(term keys.Terminal,
	tweak *commitment.TapretCommitment, value int64) wire.OutPoint {

	internal, err := h.desc.TerminalKey(term)
	require.NoError(h.t, err)

	var pkScript []byte
	if tweak != nil {
		pkScript, err = tweak.PkScript(internal)
	} else {
		pkScript, err = txscript.PayToTaprootScript(
			txscript.ComputeTaprootKeyNoScript(internal),
		)
	}
	require.NoError(h.t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  chainhash.Hash{byte(term.App), byte(term.Index)},
		Index: uint32(value),
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	h.chain.AddTx(tx, 100)

	return wire.OutPoint{Hash: tx.TxHash()}
}

func (h *testHarness) input(op wire.OutPoint,
	term keys.Terminal) InputRequest {

	return InputRequest{
		Descriptor: h.wallet.Data.Public.RgbAssetsDescriptorXpub,
		Outpoint:   op,
		Terminal:   term,
	}
}

func (h *testHarness) address(term keys.Terminal) string {
	internal, err := h.desc.TerminalKey(term)
	require.NoError(h.t, err)
	addr, err := keys.TaprootAddress(internal, network.Regtest.Params)
	require.NoError(h.t, err)

	return addr.EncodeAddress()
}

func (h *testHarness) builder(tweaks TweakSource) *Builder {
	return NewBuilder(&network.Regtest, h.chain, tweaks)
}

func testTweak(t *testing.T) commitment.TapretCommitment {
	c, err := commitment.Commit([]rgb.MPCLeaf{{
		Protocol: rgb.ContractID{1}, Message: rgb.BundleID{2},
	}}, 0)
	require.NoError(t, err)

	return c
}

func TestBuildFixedFee(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	utxo := h.fund(assets0, nil, 10_000_000)

	res, err := h.builder(nil).Build(ctx, &Request{
		Assets:         []InputRequest{h.input(utxo, assets0)},
		Fee:            1000,
		ChangeTerminal: &assets1,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1000), res.Fee)
	require.Equal(t, assets1, res.ChangeTerminal)

	tx := res.Packet.UnsignedTx
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, uint32(rbfSequence), tx.TxIn[0].Sequence)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(DustLimit), tx.TxOut[0].Value)
	require.Equal(t, int64(10_000_000-546-1000), tx.TxOut[1].Value)

	// Host and change both pay to the change terminal key.
	require.Equal(t, tx.TxOut[0].PkScript, tx.TxOut[1].PkScript)
	require.Equal(t, h.key(assets1), res.Packet.Outputs[0].TaprootInternalKey)

	host, err := HostOutput(res.Packet)
	require.NoError(t, err)
	require.Zero(t, host)

	_, _, err = ExtractCommitment(res.Packet)
	require.ErrorIs(t, err, ErrInvalidProof)

	pIn := res.Packet.Inputs[0]
	require.Equal(t, h.key(assets0), pIn.TaprootInternalKey)
	require.Nil(t, pIn.TaprootMerkleRoot)
	require.Len(t, pIn.TaprootBip32Derivation, 1)
	require.Equal(t, h.desc.Bip32Path(assets0),
		pIn.TaprootBip32Derivation[0].Bip32Path)
}

func TestBuildFeeRate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	utxo := h.fund(assets0, nil, 1_000_000)

	res, err := h.builder(nil).Build(ctx, &Request{
		Assets: []InputRequest{h.input(utxo, assets0)},
		Outputs: []Output{{
			Address: h.address(keys.Terminal{}),
			Amount:  20_000,
		}},
		FeeRate: 5000,
	})
	require.NoError(t, err)
	require.Equal(t, keys.DefaultChangeTerminal, res.ChangeTerminal)

	tx := res.Packet.UnsignedTx
	require.Len(t, tx.TxOut, 3)
	require.Equal(t, int64(910), tx.TxOut[0].Value)
	require.Equal(t, int64(20_000), tx.TxOut[1].Value)

	vsize := txsizes.EstimateVirtualSize(
		0, 1, 0, 0, tx.TxOut[:2], p2trScriptSize,
	)
	require.Equal(t, (5000*uint64(vsize)+999)/1000, res.Fee)

	var sum int64
	for _, out := range tx.TxOut {
		sum += out.Value
	}
	require.Equal(t, int64(1_000_000), sum+int64(res.Fee))
}

func TestBuildCoinSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	asset := h.fund(assets0, nil, 1000)
	btc1 := h.fund(keys.Terminal{Index: 1}, nil, 50_000)
	btc2 := h.fund(keys.Terminal{Index: 2}, nil, 60_000)

	req := &Request{
		Assets: []InputRequest{h.input(asset, assets0)},
		Bitcoin: []InputRequest{
			h.input(btc1, keys.Terminal{Index: 1}),
			h.input(btc2, keys.Terminal{Index: 2}),
		},
		Fee: 1000,
	}
	res, err := h.builder(nil).Build(ctx, req)
	require.NoError(t, err)

	// The asset input is always spent, one bitcoin input covers the rest.
	tx := res.Packet.UnsignedTx
	require.Len(t, tx.TxIn, 2)
	require.Equal(t, asset, tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, btc1, tx.TxIn[1].PreviousOutPoint)
	require.Equal(t, int64(51_000-546-1000), tx.TxOut[1].Value)

	req.Bitcoin = nil
	_, err = h.builder(nil).Build(ctx, req)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBuildDust(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	utxo := h.fund(assets0, nil, 546+100+1000+200)

	req := &Request{
		Assets: []InputRequest{h.input(utxo, assets0)},
		Outputs: []Output{{
			Address: h.address(keys.Terminal{}), Amount: 100,
		}},
		Fee: 1000,
	}
	_, err := h.builder(nil).Build(ctx, req)
	require.ErrorIs(t, err, ErrDustOutput)

	// Dust change is left to the fee.
	req.AllowDust = true
	res, err := h.builder(nil).Build(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Packet.UnsignedTx.TxOut, 2)
	require.Equal(t, uint64(1200), res.Fee)
}

func TestBuildTweakedInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	tweak := testTweak(t)
	utxo := h.fund(assets1, &tweak, 100_000)

	req := &Request{
		Assets: []InputRequest{h.input(utxo, assets1)},
		Fee:    1000,
	}
	_, err := h.builder(nil).Build(ctx, req)
	require.ErrorIs(t, err, ErrScriptMismatch)

	// The tweak is found in the watcher wallet.
	wallet := account.NewWatcherWallet(h.wallet.Data.Public.WatcherXpub)
	wallet.AddTweak(assets1, tweak)
	res, err := h.builder(wallet).Build(ctx, req)
	require.NoError(t, err)

	root := tweak.TapHash()
	pIn := res.Packet.Inputs[0]
	require.Equal(t, root[:], pIn.TaprootMerkleRoot)
	require.Len(t, pIn.TaprootLeafScript, 1)
	require.Equal(t, tweak.Script(), pIn.TaprootLeafScript[0].Script)

	// Or given with the request.
	req.Assets[0].Tweak = &tweak
	res, err = h.builder(nil).Build(ctx, req)
	require.NoError(t, err)
	require.Equal(t, root[:], res.Packet.Inputs[0].TaprootMerkleRoot)
}

func TestBuildResolver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	req := &Request{
		Assets: []InputRequest{h.input(wire.OutPoint{
			Hash: chainhash.Hash{7},
		}, assets0)},
		Fee: 1000,
	}
	_, err := h.builder(nil).Build(ctx, req)
	require.ErrorIs(t, err, chain.ErrResolverUnavailable)

	req.Assets[0].Outpoint = h.fund(assets0, nil, 10_000)
	h.chain.Offline = true
	_, err = h.builder(nil).Build(ctx, req)
	require.ErrorIs(t, err, chain.ErrResolverUnavailable)

	_, err = h.builder(nil).Build(ctx, &Request{Fee: 1})
	require.ErrorIs(t, err, ErrNoInputs)
}

func TestSignAndFinalize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	tweak := testTweak(t)
	plain := h.fund(assets0, nil, 10_000)
	tweaked := h.fund(assets1, &tweak, 20_000)

	req := &Request{
		Assets: []InputRequest{
			h.input(plain, assets0), h.input(tweaked, assets1),
		},
		Fee: 500,
	}
	req.Assets[1].Tweak = &tweak
	res, err := h.builder(nil).Build(ctx, req)
	require.NoError(t, err)

	// A foreign key signs nothing.
	other, err := keys.DeriveWallet(testMnemonic, "other", &network.Regtest)
	require.NoError(t, err)
	defer other.Signing.Destroy()
	foreign, err := keys.ParseDescriptor(
		other.Data.Private.RgbAssetsDescriptorXprv,
	)
	require.NoError(t, err)
	n, err := Sign(res.Packet, foreign)
	require.NoError(t, err)
	require.Zero(t, n)

	signer, err := keys.ParseDescriptor(
		h.wallet.Data.Private.RgbAssetsDescriptorXprv,
	)
	require.NoError(t, err)
	n, err = Sign(res.Packet, signer)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	tx, err := Finalize(res.Packet)
	require.NoError(t, err)

	prevOuts := map[wire.OutPoint]*wire.TxOut{}
	for i, in := range tx.TxIn {
		prevOuts[in.PreviousOutPoint] = res.Packet.Inputs[i].WitnessUtxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prevOut := prevOuts[in.PreviousOutPoint]
		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestTapretCommitmentKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	utxo := h.fund(assets0, nil, 100_000)

	res, err := h.builder(nil).Build(ctx, &Request{
		Assets:         []InputRequest{h.input(utxo, assets0)},
		Fee:            1000,
		ChangeTerminal: &assets1,
	})
	require.NoError(t, err)

	tweak := testTweak(t)
	require.NoError(t, SetCommitment(res.Packet, tweak))

	internal, err := h.desc.TerminalKey(assets1)
	require.NoError(t, err)
	pkScript, err := tweak.PkScript(internal)
	require.NoError(t, err)
	require.Equal(t, pkScript, res.Packet.UnsignedTx.TxOut[0].PkScript)

	// The keys survive serialization.
	encoded, err := Encode(res.Packet)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	c, host, err := ExtractCommitment(decoded)
	require.NoError(t, err)
	require.Zero(t, host)
	require.Equal(t, tweak, c)

	err = SetOutputKey(decoded, 5, TapretKey(SubtypeTapretHost), nil)
	require.ErrorIs(t, err, ErrOutputOutOfRange)
	err = SetInputKey(decoded, 1, TapretKey(SubtypeTapretHost), nil)
	require.ErrorIs(t, err, ErrInputOutOfRange)

	_, err = Decode("not a psbt")
	require.ErrorIs(t, err, ErrWrongPSBT)
}

func TestTapretHostPosition(t *testing.T) {
	t.Parallel()

	p, err := psbt.New(
		[]*wire.OutPoint{{Hash: chainhash.Hash{1}}},
		[]*wire.TxOut{
			wire.NewTxOut(1000, []byte{txscript.OP_TRUE}),
			wire.NewTxOut(1000, []byte{txscript.OP_TRUE}),
		}, 2, 0, []uint32{0},
	)
	require.NoError(t, err)

	tweak := testTweak(t)
	err = SetCommitment(p, tweak)
	require.ErrorIs(t, err, ErrInvalidTapretHost)

	require.NoError(t, SetOutputKey(p, 1, TapretKey(SubtypeTapretHost), nil))
	err = SetCommitment(p, tweak)
	require.ErrorIs(t, err, ErrInvalidTapretHost)
}

func TestProprietaryKey(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]byte{0xfc, 6, 'T', 'A', 'P', 'R', 'E', 'T', 1},
		TapretKey(SubtypeTapretCommitment),
	)
}

func TestParseOutput(t *testing.T) {
	t.Parallel()

	out, err := ParseOutput("bcrt1qxyz:1500")
	require.NoError(t, err)
	require.Equal(t, Output{Address: "bcrt1qxyz", Amount: 1500}, out)
	require.Equal(t, "bcrt1qxyz:1500", out.String())

	for _, s := range []string{"", "bcrt1qxyz", ":10", "addr:x"} {
		_, err := ParseOutput(s)
		require.ErrorIs(t, err, ErrWrongOutput, s)
	}
}

func TestHostAmount(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(546), HostAmount(0))
	require.Equal(t, uint64(546), HostAmount(2999))
	require.Equal(t, uint64(546), HostAmount(3000))
	require.Equal(t, uint64(637), HostAmount(3500))
	require.Equal(t, uint64(910), HostAmount(5000))

	rapid.Check(t, func(t *rapid.T) {
		rate := chainfee.SatPerKVByte(
			rapid.Int64Range(0, 1_000_000).Draw(t, "rate"),
		)
		amount := HostAmount(rate)
		require.GreaterOrEqual(t, amount, DustLimit)
		require.LessOrEqual(t, amount,
			HostAmount(rate+1))
	})
}
