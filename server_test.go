package bitmask

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/cambria"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/rgbpsbt"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

const (
	issuerMnemonic = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"

	beneficiaryMnemonic = "legal winner thank year wave sausage worth " +
		"useful legal winner thank yellow"
)

var testStart = time.Unix(1700000000, 0)

// testUser is a wallet and its signing secret.
type testUser struct {
	data *keys.DecryptedWalletData
	sk   string
	desc *keys.Descriptor
}

type serverHarness struct {
	t     *testing.T
	ctx   context.Context
	chain *chain.MockBackend
	clock *clock.TestClock
	srv   *Server

	fundings byte
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()

	backend, err := carbonado.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	h := &serverHarness{
		t:     t,
		ctx:   context.Background(),
		chain: chain.NewMockBackend(100),
		clock: clock.NewTestClock(testStart),
	}

	h.srv, err = NewServer(&Config{
		Net:   &network.Regtest,
		Chain: h.chain,
		Store: carbonado.NewStore(backend, network.Regtest.Name),
		Clock: h.clock,
	})
	require.NoError(t, err)
	require.NoError(t, h.srv.Start())
	t.Cleanup(func() {
		require.NoError(t, h.srv.Stop())
	})

	return h
}

func (h *serverHarness) user(mnemonic string) *testUser {
	data, err := h.srv.SaveMnemonic(mnemonic, "")
	require.NoError(h.t, err)

	desc, err := keys.ParseDescriptor(data.Public.RgbAssetsDescriptorXpub)
	require.NoError(h.t, err)

	return &testUser{data: data, sk: data.Private.NostrPrv, desc: desc}
}

// fund confirms an output paying value to a terminal of the user's assets
// descriptor.
func (h *serverHarness) fund(u *testUser, term keys.Terminal,
	value int64) wire.OutPoint {

	internal, err := u.desc.TerminalKey(term)
	require.NoError(h.t, err)
	pkScript, err := txscript.PayToTaprootScript(
		txscript.ComputeTaprootKeyNoScript(internal),
	)
	require.NoError(h.t, err)

	h.fundings++
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.Hash{0xf0, h.fundings},
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	h.chain.AddTx(tx, 100)

	return wire.OutPoint{Hash: tx.TxHash()}
}

func sealOf(op wire.OutPoint) string {
	return fmt.Sprintf("tapret1st:%v:%d", op.Hash, op.Index)
}

func (h *serverHarness) issue(u *testUser, req *IssueRequest) *ContractDetail {
	d, err := h.srv.IssueContract(h.ctx, u.sk, req)
	require.NoError(h.t, err)

	return d
}

// pay builds and pays a PSBT spending the given asset input, then signs
// and broadcasts it.
func (h *serverHarness) pay(u *testUser, utxo wire.OutPoint, term string,
	invoice string, fee uint64, rbf bool) (*TransferResult, *wire.MsgTx) {

	built, err := h.srv.CreatePsbt(h.ctx, u.sk, &PsbtRequest{
		Assets: []PsbtInput{{
			Descriptor: u.data.Public.RgbAssetsDescriptorXpub,
			Utxo:       utxo.String(),
			Terminal:   term,
		}},
		Fee: fee,
	})
	require.NoError(h.t, err)
	require.Equal(h.t, fee, built.Fee)

	res, err := h.srv.TransferAsset(h.ctx, u.sk, built.Psbt, invoice, rbf)
	require.NoError(h.t, err)

	return res, h.publish(u, res.Psbt)
}

func (h *serverHarness) publish(u *testUser, encoded string) *wire.MsgTx {
	p, err := rgbpsbt.Decode(encoded)
	require.NoError(h.t, err)

	signer, err := keys.ParseDescriptor(
		u.data.Private.RgbAssetsDescriptorXprv,
	)
	require.NoError(h.t, err)
	_, err = rgbpsbt.Sign(p, signer)
	require.NoError(h.t, err)

	tx, err := rgbpsbt.Finalize(p)
	require.NoError(h.t, err)
	require.NoError(h.t, h.chain.Broadcast(h.ctx, tx))

	return tx
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, "error: %v", err)

	return e
}

// TestIssueTransferAccept issues a fungible contract, pays part of it to a
// second user and checks both balances.
func TestIssueTransferAccept(t *testing.T) {
	h := newServerHarness(t)
	issuer := h.user(issuerMnemonic)
	beneficiary := h.user(beneficiaryMnemonic)

	utxo := h.fund(issuer, keys.Terminal{App: keys.AppRgbAssets}, 10_000_000)
	issued := h.issue(issuer, &IssueRequest{
		Ticker:      "DIBA",
		Name:        "DIBA token",
		Description: "Fungible test asset",
		Precision:   2,
		Supply:      "5",
		Seal:        sealOf(utxo),
		Iface:       rgb.IfaceRGB20,
	})
	require.Equal(t, uint64(500), issued.Supply)
	require.Equal(t, uint64(500), issued.Balance)
	require.Equal(t, "5.00", issued.BalanceDecimal)
	require.NotEmpty(t, issued.Armored)

	imported, err := h.srv.ImportContract(
		h.ctx, beneficiary.sk, issued.Armored, false,
	)
	require.NoError(t, err)
	require.Equal(t, issued.ContractID, imported.ContractID)
	require.Zero(t, imported.Balance)

	seal := h.fund(beneficiary, keys.Terminal{
		App: keys.AppRgbAssets, Index: 1,
	}, 1_000)
	inv, err := h.srv.CreateInvoice(h.ctx, beneficiary.sk, &InvoiceRequest{
		ContractID: issued.ContractID,
		Iface:      rgb.IfaceRGB20,
		Amount:     "2",
		Seal:       sealOf(seal),
	})
	require.NoError(t, err)
	require.NotEmpty(t, inv.Invoice)

	paid, _ := h.pay(issuer, utxo, "/20/0", inv.Invoice, 1_000, false)
	require.Equal(t, issued.ContractID, paid.ContractID)
	require.Empty(t, paid.Replaced)
	require.Empty(t, paid.Posted)
	h.chain.Mine()

	status, err := h.srv.ValidateTransfer(
		h.ctx, beneficiary.sk, paid.Consignment,
	)
	require.NoError(t, err)
	require.Empty(t, status.Failures)

	accepted, err := h.srv.AcceptTransfer(
		h.ctx, beneficiary.sk, paid.Consignment, false,
	)
	require.NoError(t, err)
	require.Empty(t, accepted.Status.Failures)
	require.Equal(t, paid.Txid, accepted.Txid)
	require.Equal(t, paid.ConsigID, accepted.ConsigID)

	got, err := h.srv.ContractIface(
		h.ctx, beneficiary.sk, issued.ContractID, rgb.IfaceRGB20,
	)
	require.NoError(t, err)
	require.Equal(t, uint64(200), got.Balance)
	require.Equal(t, "2.00", got.BalanceDecimal)
	require.Len(t, got.Allocations, 1)
	require.Equal(t, seal, got.Allocations[0].Outpoint)

	got, err = h.srv.ContractIface(
		h.ctx, issuer.sk, issued.ContractID, rgb.IfaceRGB20,
	)
	require.NoError(t, err)
	require.Equal(t, uint64(300), got.Balance)

	// Both sides see the transfer mined.
	for _, u := range []*testUser{issuer, beneficiary} {
		records, err := h.srv.ListTransfers(
			h.ctx, u.sk, issued.ContractID,
		)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, account.StatusBlock, records[0].Status.Kind)
		require.Equal(t, paid.Txid, records[0].Txid)
	}

	// A second accept is rejected with the validation message.
	_, err = h.srv.AcceptTransfer(
		h.ctx, beneficiary.sk, paid.Consignment, false,
	)
	e := requireKind(t, err, KindStateConflict)
	require.Equal(t, []string{"already known"}, e.Messages())
	require.Equal(t, 409, e.HTTPStatus())
}

func TestIssueUniqueAsset(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	utxo := h.fund(u, keys.Terminal{App: keys.AppRgbAssets}, 10_000)
	issued := h.issue(u, &IssueRequest{
		Ticker:    "UDA",
		Name:      "Unique",
		Precision: 0,
		Supply:    "1",
		Seal:      sealOf(utxo),
		Iface:     rgb.IfaceRGB21,
		Media: []Media{{
			Type:   "image/png",
			Source: "https://carbonado.io/diba.png",
		}},
	})
	require.Equal(t, rgb.IfaceRGB21, issued.Iface)
	require.Equal(t, uint64(1), issued.Balance)
	require.Len(t, issued.Media, 1)
	require.Equal(t, "image/png", issued.Media[0].Type)

	contracts, err := h.srv.ListContracts(h.ctx, u.sk)
	require.NoError(t, err)
	require.Len(t, contracts, 1)

	ifaces, err := h.srv.ListInterfaces(h.ctx, u.sk)
	require.NoError(t, err)
	require.NotEmpty(t, ifaces)

	schemas, err := h.srv.ListSchemas(h.ctx, u.sk)
	require.NoError(t, err)
	require.NotEmpty(t, schemas)
}

// TestUniqueAssetTransfer moves the single token of a unique asset to a
// seal on the beneficiary's UDA branch.
func TestUniqueAssetTransfer(t *testing.T) {
	h := newServerHarness(t)
	issuer := h.user(issuerMnemonic)
	beneficiary := h.user(beneficiaryMnemonic)

	utxo := h.fund(issuer, keys.Terminal{App: keys.AppRgbUdas}, 100_000)
	issued := h.issue(issuer, &IssueRequest{
		Ticker:    "UDA",
		Name:      "Unique",
		Precision: 0,
		Supply:    "1",
		Seal:      sealOf(utxo),
		Iface:     rgb.IfaceRGB21,
		Media: []Media{{
			Type:   "image/png",
			Source: "https://carbonado.io/diba.png",
		}},
	})

	_, err := h.srv.ImportContract(
		h.ctx, beneficiary.sk, issued.Armored, false,
	)
	require.NoError(t, err)

	seal := h.fund(beneficiary, keys.Terminal{
		App: keys.AppRgbUdas, Index: 1,
	}, 1_000)
	inv, err := h.srv.CreateInvoice(h.ctx, beneficiary.sk, &InvoiceRequest{
		ContractID: issued.ContractID,
		Iface:      rgb.IfaceRGB21,
		Amount:     "1",
		Seal:       sealOf(seal),
	})
	require.NoError(t, err)

	paid, _ := h.pay(issuer, utxo, "/21/0", inv.Invoice, 1_000, false)
	h.chain.Mine()

	_, err = h.srv.AcceptTransfer(
		h.ctx, beneficiary.sk, paid.Consignment, false,
	)
	require.NoError(t, err)

	got, err := h.srv.ContractIface(
		h.ctx, beneficiary.sk, issued.ContractID, rgb.IfaceRGB21,
	)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Balance)
	require.Len(t, got.Allocations, 1)
	require.Equal(t, seal, got.Allocations[0].Outpoint)
	require.Len(t, got.Media, 1)

	got, err = h.srv.ContractIface(
		h.ctx, issuer.sk, issued.ContractID, rgb.IfaceRGB21,
	)
	require.NoError(t, err)
	require.Zero(t, got.Balance)
	require.Empty(t, got.Allocations)
}

// TestSelfPayment pays an invoice of the issuer from its own allocation. The
// new allocation and the change are owned without an accept.
func TestSelfPayment(t *testing.T) {
	h := newServerHarness(t)
	issuer := h.user(issuerMnemonic)

	utxo := h.fund(issuer, keys.Terminal{App: keys.AppRgbAssets}, 10_000_000)
	issued := h.issue(issuer, &IssueRequest{
		Ticker: "DIBA", Name: "DIBA", Precision: 2, Supply: "5",
		Seal: sealOf(utxo), Iface: rgb.IfaceRGB20,
	})

	seal := h.fund(issuer, keys.Terminal{
		App: keys.AppRgbAssets, Index: 1,
	}, 1_000)
	inv, err := h.srv.CreateInvoice(h.ctx, issuer.sk, &InvoiceRequest{
		ContractID: issued.ContractID,
		Iface:      rgb.IfaceRGB20,
		Amount:     "1",
		Seal:       sealOf(seal),
	})
	require.NoError(t, err)

	built, err := h.srv.CreatePsbt(h.ctx, issuer.sk, &PsbtRequest{
		Assets: []PsbtInput{{
			Descriptor: issuer.data.Public.RgbAssetsDescriptorXpub,
			Utxo:       utxo.String(),
			Terminal:   "/20/0",
		}},
		Fee:            1_000,
		ChangeTerminal: "/20/1",
	})
	require.NoError(t, err)

	paid, err := h.srv.TransferAsset(
		h.ctx, issuer.sk, built.Psbt, inv.Invoice, false,
	)
	require.NoError(t, err)
	tx := h.publish(issuer, paid.Psbt)
	require.Equal(t, paid.Txid, tx.TxHash())
	h.chain.Mine()

	got, err := h.srv.ContractIface(
		h.ctx, issuer.sk, issued.ContractID, rgb.IfaceRGB20,
	)
	require.NoError(t, err)
	require.Equal(t, uint64(500), got.Balance)
	require.Len(t, got.Allocations, 2)

	amounts := make(map[wire.OutPoint]uint64)
	for _, a := range got.Allocations {
		amounts[a.Outpoint] = a.Amount
	}
	require.Equal(t, uint64(100), amounts[seal])
	require.Equal(t, uint64(400), amounts[wire.OutPoint{Hash: paid.Txid}])

	records, err := h.srv.ListTransfers(h.ctx, issuer.sk, issued.ContractID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, account.StatusBlock, records[0].Status.Kind)
}

func TestIssueRejects(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)
	utxo := h.fund(u, keys.Terminal{App: keys.AppRgbAssets}, 10_000)

	tests := []struct {
		name string
		req  IssueRequest
	}{{
		name: "too many decimals",
		req: IssueRequest{
			Ticker: "DIBA", Name: "DIBA", Precision: 2,
			Supply: "1.005", Seal: sealOf(utxo),
			Iface: rgb.IfaceRGB20,
		},
	}, {
		name: "unknown interface",
		req: IssueRequest{
			Ticker: "DIBA", Name: "DIBA", Precision: 2,
			Supply: "1", Seal: sealOf(utxo), Iface: "RGB99",
		},
	}, {
		name: "opret seal",
		req: IssueRequest{
			Ticker: "DIBA", Name: "DIBA", Precision: 2,
			Supply: "1",
			Seal: fmt.Sprintf("opret1st:%v:%d", utxo.Hash,
				utxo.Index),
			Iface: rgb.IfaceRGB20,
		},
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.srv.IssueContract(h.ctx, u.sk, &tc.req)
			requireKind(t, err, KindUserInput)
		})
	}

	contracts, err := h.srv.ListContracts(h.ctx, u.sk)
	require.NoError(t, err)
	require.NotNil(t, contracts)
	require.Empty(t, contracts)
}

func TestInvoiceRejectsOpretSeal(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	utxo := h.fund(u, keys.Terminal{App: keys.AppRgbAssets}, 10_000)
	issued := h.issue(u, &IssueRequest{
		Ticker: "DIBA", Name: "DIBA", Precision: 2, Supply: "5",
		Seal: sealOf(utxo), Iface: rgb.IfaceRGB20,
	})

	_, err := h.srv.CreateInvoice(h.ctx, u.sk, &InvoiceRequest{
		ContractID: issued.ContractID,
		Iface:      rgb.IfaceRGB20,
		Amount:     "1",
		Seal: fmt.Sprintf("opret1st:%v:%d", chainhash.Hash{1},
			0),
	})
	requireKind(t, err, KindUserInput)

	// A witness seal would land on an output of the payer.
	_, err = h.srv.CreateInvoice(h.ctx, u.sk, &InvoiceRequest{
		ContractID: issued.ContractID,
		Iface:      rgb.IfaceRGB20,
		Amount:     "1",
		Seal:       "tapret1st:~:1",
	})
	requireKind(t, err, KindUserInput)
	require.ErrorIs(t, err, rgb.ErrWrongSeal)

	_, err = h.srv.CreateInvoice(h.ctx, u.sk, &InvoiceRequest{
		ContractID: issued.ContractID,
		Iface:      rgb.IfaceRGB20,
		Amount:     "0",
		Seal:       sealOf(wire.OutPoint{Hash: chainhash.Hash{1}}),
	})
	requireKind(t, err, KindUserInput)
}

// TestReplaceByFee replaces a pending payment and checks the catalogue
// marks the replaced one once the replacement is mined.
func TestReplaceByFee(t *testing.T) {
	h := newServerHarness(t)
	issuer := h.user(issuerMnemonic)
	beneficiary := h.user(beneficiaryMnemonic)

	utxo := h.fund(issuer, keys.Terminal{App: keys.AppRgbAssets}, 10_000_000)
	issued := h.issue(issuer, &IssueRequest{
		Ticker: "DIBA", Name: "DIBA", Precision: 2, Supply: "5",
		Seal: sealOf(utxo), Iface: rgb.IfaceRGB20,
	})
	_, err := h.srv.ImportContract(
		h.ctx, beneficiary.sk, issued.Armored, false,
	)
	require.NoError(t, err)

	invoice := func(amount string, idx uint32) string {
		inv, err := h.srv.CreateInvoice(
			h.ctx, beneficiary.sk, &InvoiceRequest{
				ContractID: issued.ContractID,
				Iface:      rgb.IfaceRGB20,
				Amount:     amount,
				Seal: sealOf(wire.OutPoint{
					Hash: chainhash.Hash{0xbe}, Index: idx,
				}),
			},
		)
		require.NoError(t, err)
		return inv.Invoice
	}

	first, _ := h.pay(
		issuer, utxo, "/20/0", invoice("1", 0), 1_000, false,
	)
	require.Equal(t, 1, h.srv.PendingUsers())

	// Without rbf the state is already spent by the pending payment.
	built, err := h.srv.CreatePsbt(h.ctx, issuer.sk, &PsbtRequest{
		Assets: []PsbtInput{{
			Descriptor: issuer.data.Public.RgbAssetsDescriptorXpub,
			Utxo:       utxo.String(),
			Terminal:   "/20/0",
		}},
		Fee: 2_000,
	})
	require.NoError(t, err)
	second := invoice("1.5", 1)
	_, err = h.srv.TransferAsset(h.ctx, issuer.sk, built.Psbt, second, false)
	require.Error(t, err)

	replacement, _ := h.pay(issuer, utxo, "/20/0", second, 2_000, true)
	require.Contains(t, replacement.Replaced, first.Txid)
	h.chain.Mine()

	records, err := h.srv.ListTransfers(h.ctx, issuer.sk, issued.ContractID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	kinds := make(map[chainhash.Hash]account.StatusKind)
	for _, rec := range records {
		kinds[rec.Txid] = rec.Status.Kind
	}
	require.Equal(t, account.StatusReorged, kinds[first.Txid])
	require.Equal(t, account.StatusBlock, kinds[replacement.Txid])

	require.NoError(t, h.srv.SweepTransfers(h.ctx))
	require.Zero(t, h.srv.PendingUsers())
}

func TestSweepForgetsAfterTimeout(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(beneficiaryMnemonic)

	issuerUser := h.user(issuerMnemonic)
	utxo := h.fund(issuerUser, keys.Terminal{App: keys.AppRgbAssets}, 10_000)
	issued := h.issue(issuerUser, &IssueRequest{
		Ticker: "DIBA", Name: "DIBA", Precision: 2, Supply: "5",
		Seal: sealOf(utxo), Iface: rgb.IfaceRGB20,
	})

	// A consignment saved before its witness shows up stays pending.
	rec, err := h.srv.SaveTransfer(
		h.ctx, u.sk, rgb.IfaceRGB20, issued.Armored,
	)
	require.NoError(t, err)
	require.Equal(t, account.DirectionReceived, rec.Direction)
	require.Equal(t, 1, h.srv.PendingUsers())

	require.NoError(t, h.srv.SweepTransfers(h.ctx))
	require.Equal(t, 1, h.srv.PendingUsers())

	h.clock.SetTime(testStart.Add(h.srv.cfg.MempoolTimeout + time.Hour))
	require.NoError(t, h.srv.SweepTransfers(h.ctx))
	require.Zero(t, h.srv.PendingUsers())

	n, err := h.srv.RemoveTransfer(
		h.ctx, u.sk, issued.ContractID, rec.ConsigID,
	)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = h.srv.RemoveTransfer(
		h.ctx, u.sk, issued.ContractID, rec.ConsigID,
	)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestHideContract(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	utxo := h.fund(u, keys.Terminal{App: keys.AppRgbAssets}, 10_000)
	issued := h.issue(u, &IssueRequest{
		Ticker: "DIBA", Name: "DIBA", Precision: 2, Supply: "5",
		Seal: sealOf(utxo), Iface: rgb.IfaceRGB20,
	})

	require.NoError(t, h.srv.HideContract(h.ctx, u.sk, issued.ContractID))
	require.NoError(t, h.srv.HideContract(h.ctx, u.sk, issued.ContractID))

	contracts, err := h.srv.ListContracts(h.ctx, u.sk)
	require.NoError(t, err)
	require.Empty(t, contracts)

	// Hidden contracts are still readable.
	_, err = h.srv.ContractIface(
		h.ctx, u.sk, issued.ContractID, rgb.IfaceRGB20,
	)
	require.NoError(t, err)

	err = h.srv.HideContract(h.ctx, u.sk, rgb.ContractID{1})
	requireKind(t, err, KindStateConflict)
}

func TestWatcherLifecycle(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)
	xpub := u.data.Public.WatcherXpub

	res, err := h.srv.CreateWatcher(h.ctx, u.sk, DefaultWatcher, xpub, false)
	require.NoError(t, err)
	require.True(t, res.Created)

	res, err = h.srv.CreateWatcher(h.ctx, u.sk, DefaultWatcher, xpub, false)
	require.NoError(t, err)
	require.False(t, res.Created)
	require.False(t, res.Migrated)

	other := h.user(beneficiaryMnemonic).data.Public.WatcherXpub
	_, err = h.srv.CreateWatcher(h.ctx, u.sk, DefaultWatcher, other, false)
	requireKind(t, err, KindStateConflict)

	res, err = h.srv.CreateWatcher(h.ctx, u.sk, DefaultWatcher, other, true)
	require.NoError(t, err)
	require.True(t, res.Migrated)

	names, err := h.srv.ListWatchers(h.ctx, u.sk)
	require.NoError(t, err)
	require.Equal(t, []string{DefaultWatcher}, names)

	require.NoError(t, h.srv.DestroyWatcher(h.ctx, u.sk, DefaultWatcher))
	names, err = h.srv.ListWatchers(h.ctx, u.sk)
	require.NoError(t, err)
	require.Empty(t, names)
}

// TestLegacyAccount reads an account stored in the unversioned format.
func TestLegacyAccount(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	v0 := &cambria.AccountV0{Wallets: []cambria.WalletV0{{
		Name: "legacy",
		Xpub: u.data.Public.WatcherXpub,
	}}}
	err := h.srv.StoreObject(
		h.ctx, u.sk, carbonado.AssetsWallets, v0.Bytes(),
		cambria.OldestTag, false,
	)
	require.NoError(t, err)

	names, err := h.srv.ListWatchers(h.ctx, u.sk)
	require.NoError(t, err)
	require.Equal(t, []string{"legacy"}, names)

	meta, err := h.srv.RetrieveMetadata(h.ctx, u.sk, carbonado.AssetsWallets)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, cambria.OldestTag, meta.Metadata)

	// Creating a watcher rewrites the account in the current format.
	_, err = h.srv.CreateWatcher(
		h.ctx, u.sk, DefaultWatcher, u.data.Public.WatcherXpub, false,
	)
	require.NoError(t, err)

	meta, err = h.srv.RetrieveMetadata(h.ctx, u.sk, carbonado.AssetsWallets)
	require.NoError(t, err)
	require.Equal(t, cambria.CurrentTag, meta.Metadata)

	names, err = h.srv.ListWatchers(h.ctx, u.sk)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{DefaultWatcher, "legacy"}, names)
}

func TestObjects(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	data, err := h.srv.RetrieveObject(h.ctx, u.sk, "notes")
	require.NoError(t, err)
	require.Empty(t, data)

	meta, err := h.srv.RetrieveMetadata(h.ctx, u.sk, "notes")
	require.NoError(t, err)
	require.Nil(t, meta)

	var tag [carbonado.MetadataSize]byte
	copy(tag[:], "notes-v1")
	err = h.srv.StoreObject(h.ctx, u.sk, "notes", []byte("hello"), tag, false)
	require.NoError(t, err)
	require.NoError(t, h.srv.ForkObject(h.ctx, u.sk, "notes", "notes-copy"))

	data, err = h.srv.RetrieveObject(h.ctx, u.sk, "notes-copy")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	// Objects are bound to a user.
	other := h.user(beneficiaryMnemonic)
	data, err = h.srv.RetrieveObject(h.ctx, other.sk, "notes")
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestSetNetwork(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	utxo := h.fund(u, keys.Terminal{App: keys.AppRgbAssets}, 10_000)
	h.issue(u, &IssueRequest{
		Ticker: "DIBA", Name: "DIBA", Precision: 2, Supply: "5",
		Seal: sealOf(utxo), Iface: rgb.IfaceRGB20,
	})

	h.srv.SetNetwork(&network.Signet, chain.NewMockBackend(1))
	require.Equal(t, network.Signet.Name, h.srv.Network().Name)

	// The stash of another network is not visible.
	contracts, err := h.srv.ListContracts(h.ctx, u.sk)
	require.NoError(t, err)
	require.Empty(t, contracts)

	h.srv.SetNetwork(&network.Regtest, h.chain)
	contracts, err = h.srv.ListContracts(h.ctx, u.sk)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
}

func TestRejectsWrongSecret(t *testing.T) {
	h := newServerHarness(t)

	_, err := h.srv.ListContracts(h.ctx, "not hex")
	e := requireKind(t, err, KindUserInput)
	require.Equal(t, "list_contracts", e.Op)
	require.False(t, e.Retryable())
}

func TestUnconfiguredServices(t *testing.T) {
	h := newServerHarness(t)
	u := h.user(issuerMnemonic)

	_, err := h.srv.MyOffers(h.ctx, u.sk)
	requireKind(t, err, KindInternal)

	_, err = h.srv.ListPublicOffers(h.ctx)
	requireKind(t, err, KindInternal)

	_, err = h.srv.ReceiveTransfer(h.ctx, u.sk, "recipient", false)
	requireKind(t, err, KindInternal)

	_, err = h.srv.PostMedia(h.ctx, nil)
	require.True(t, errors.As(err, new(*Error)))
}
