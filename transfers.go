package bitmask

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/invoice"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/rgbpsbt"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/transfer"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// InvoiceRequest describes an invoice to create.
type InvoiceRequest struct {
	ContractID rgb.ContractID
	Iface      string

	// Amount is a decimal amount in the precision of the contract.
	Amount string

	// Seal is the beneficiary seal literal. Only tapret1st seals are
	// accepted.
	Seal string

	// Expiry is the last moment the invoice may be paid, if any.
	Expiry *time.Time

	// Endpoints are relay URIs the payer may post the consignment to.
	Endpoints []string

	Params map[string]string
}

// InvoiceResult is a created invoice.
type InvoiceResult struct {
	Invoice string

	// Seal is the revealed beneficiary seal. Only the user keeps it.
	Seal string

	// Beneficiary is the concealed seal paid by the invoice.
	Beneficiary rgb.SecretSeal
}

// CreateInvoice creates an invoice for a contract and keeps the seal secret
// in the stash, so the paid state is revealed on accept.
func (s *Server) CreateInvoice(ctx context.Context, sk string,
	req *InvoiceRequest) (*InvoiceResult, error) {

	return run(ctx, s, "create_invoice", sk, true,
		func(ctx context.Context, sess *session) (*InvoiceResult,
			error) {

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}
			c, err := st.Contract(req.ContractID)
			if err != nil {
				return nil, err
			}
			pair, err := st.IfacePair(req.ContractID, req.Iface)
			if err != nil {
				return nil, err
			}
			data, err := rgb.ReadContractData(&c.Genesis, pair)
			if err != nil {
				return nil, err
			}

			amount, err := rgb.FromDecimalString(
				req.Amount, data.Spec.Precision,
			)
			if err != nil {
				return nil, err
			}
			if amount.Value() == 0 {
				return nil, fmt.Errorf("%w: zero amount",
					rgb.ErrInvalidAmount)
			}

			seal, err := rgb.ParseSealLiteral(req.Seal)
			if err != nil {
				return nil, err
			}
			if seal.IsWitness() {
				return nil, fmt.Errorf("%w: invoice seal needs a "+
					"txid", rgb.ErrWrongSeal)
			}
			if err := st.StoreSealSecret(seal); err != nil {
				return nil, err
			}

			inv := &invoice.Invoice{
				Contract:    req.ContractID,
				Iface:       req.Iface,
				Amount:      amount.Value(),
				Beneficiary: seal.Conceal(),
				Chain:       sess.net,
				Expiry:      req.Expiry,
				Endpoints:   req.Endpoints,
				Params:      req.Params,
			}
			encoded := inv.String()

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			acc.Invoices = append(acc.Invoices, encoded)

			// The seal secret must be stored before the invoice is
			// handed out.
			if err := sess.storeStash(ctx, st); err != nil {
				return nil, err
			}
			if err := sess.storeAccount(ctx, acc); err != nil {
				return nil, err
			}

			return &InvoiceResult{
				Invoice:     encoded,
				Seal:        seal.String(),
				Beneficiary: seal.Conceal(),
			}, nil
		},
	)
}

// PsbtInput is an input of a PSBT request.
type PsbtInput struct {
	// Descriptor is the tr() descriptor the input key derives from.
	Descriptor string

	// Utxo is "txid:vout".
	Utxo string

	// Terminal is "/app/index".
	Terminal string

	// Tweak is the hex tapret commitment of a hosting output, if any.
	// Known tweaks of the default watcher are used when empty.
	Tweak string
}

// PsbtRequest describes a host PSBT to build.
type PsbtRequest struct {
	// Assets are the inputs carrying contract state.
	Assets []PsbtInput

	// Bitcoin are extra inputs funding the fee.
	Bitcoin []PsbtInput

	// Outputs are "address:amount" payments.
	Outputs []string

	// Fee is an absolute fee. When zero FeeRate is used.
	Fee uint64

	// FeeRate is in sat/vB.
	FeeRate float64

	// ChangeTerminal is "/app/index", keys.DefaultChangeTerminal when
	// empty.
	ChangeTerminal string

	AllowDust bool
}

// PsbtResult is a built host PSBT.
type PsbtResult struct {
	// Psbt is base64 encoded.
	Psbt string

	ChangeTerminal string
	Fee            uint64
}

func parseInput(in PsbtInput) (rgbpsbt.InputRequest, error) {
	op, err := wire.NewOutPointFromString(in.Utxo)
	if err != nil {
		return rgbpsbt.InputRequest{}, fmt.Errorf("%w: utxo %q: %v",
			rgbpsbt.ErrWrongPSBT, in.Utxo, err)
	}

	term, err := keys.ParseTerminal(in.Terminal)
	if err != nil {
		return rgbpsbt.InputRequest{}, err
	}

	req := rgbpsbt.InputRequest{
		Descriptor: in.Descriptor,
		Outpoint:   *op,
		Terminal:   term,
	}
	if in.Tweak != "" {
		raw, err := hex.DecodeString(in.Tweak)
		if err != nil {
			return rgbpsbt.InputRequest{}, fmt.Errorf("%w: tweak: %v",
				rgbpsbt.ErrInvalidTapretHost, err)
		}
		tweak, err := commitment.ParseTapretCommitment(raw)
		if err != nil {
			return rgbpsbt.InputRequest{}, err
		}
		req.Tweak = &tweak
	}

	return req, nil
}

// CreatePsbt builds a host PSBT. It does not change any stored state.
func (s *Server) CreatePsbt(ctx context.Context, sk string,
	req *PsbtRequest) (*PsbtResult, error) {

	return run(ctx, s, "create_psbt", sk, false,
		func(ctx context.Context, sess *session) (*PsbtResult, error) {
			assets, err := fn.MapErr(req.Assets, parseInput)
			if err != nil {
				return nil, err
			}
			bitcoin, err := fn.MapErr(req.Bitcoin, parseInput)
			if err != nil {
				return nil, err
			}
			outputs, err := fn.MapErr(req.Outputs, rgbpsbt.ParseOutput)
			if err != nil {
				return nil, err
			}

			buildReq := &rgbpsbt.Request{
				Assets:    assets,
				Bitcoin:   bitcoin,
				Outputs:   outputs,
				Fee:       req.Fee,
				AllowDust: req.AllowDust,
			}
			if req.Fee == 0 {
				buildReq.FeeRate = chainfee.SatPerKVByte(
					req.FeeRate * 1000,
				)
			}
			if req.ChangeTerminal != "" {
				t, err := keys.ParseTerminal(req.ChangeTerminal)
				if err != nil {
					return nil, err
				}
				buildReq.ChangeTerminal = &t
			}

			// Tweaks of earlier payments live in the default
			// watcher.
			var tweaks rgbpsbt.TweakSource
			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			if wallet, err := acc.Wallet(DefaultWatcher); err == nil {
				tweaks = wallet
			}

			builder := rgbpsbt.NewBuilder(sess.net, sess.chain, tweaks)
			res, err := builder.Build(ctx, buildReq)
			if err != nil {
				return nil, err
			}

			encoded, err := rgbpsbt.Encode(res.Packet)
			if err != nil {
				return nil, err
			}

			return &PsbtResult{
				Psbt:           encoded,
				ChangeTerminal: res.ChangeTerminal.String(),
				Fee:            res.Fee,
			}, nil
		},
	)
}

// TransferResult is a paid invoice.
type TransferResult struct {
	// Psbt is the base64 PSBT carrying the commitment, ready to sign.
	Psbt string

	// Consignment is the armored transfer for the beneficiary.
	Consignment string

	ConsigID   rgb.ConsignmentID
	ContractID rgb.ContractID
	Txid       chainhash.Hash

	// Commitment is the hex tapret commitment of the host output.
	Commitment string

	// Replaced are the witnesses of the pending transfers this one
	// replaced.
	Replaced []chainhash.Hash

	// Posted lists the relay endpoints the consignment reached.
	Posted []string
}

// TransferAsset pays an invoice from the contract state spent by a PSBT.
// The stash, the account and the transfer catalogue are stored in that
// order. With rbf the payment may spend state a pending transfer already
// spends.
func (s *Server) TransferAsset(ctx context.Context, sk, psbtStr,
	invoiceStr string, rbf bool) (*TransferResult, error) {

	return run(ctx, s, "transfer_asset", sk, true,
		func(ctx context.Context, sess *session) (*TransferResult,
			error) {

			packet, err := rgbpsbt.Decode(psbtStr)
			if err != nil {
				return nil, err
			}
			inv, err := invoice.Parse(invoiceStr)
			if err != nil {
				return nil, err
			}

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}

			pay, err := transfer.NewPayer(sess.net, sess.clock).Pay(
				st, inv, packet, rbf,
			)
			if err != nil {
				return nil, err
			}
			bmskLog.Tracef("Paid invoice %v: %v", invoiceStr,
				spew.Sdump(pay.Record))

			if err := sess.storeStash(ctx, st); err != nil {
				return nil, err
			}

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			if pay.HostTerminal != nil {
				err := sess.addTweak(
					ctx, acc, DefaultWatcher, *pay.HostTerminal,
					pay.Commitment,
				)
				switch {
				case errors.Is(err, account.ErrNoWatcher):
					bmskLog.Debugf("No %v watcher to record "+
						"the tweak at %v", DefaultWatcher,
						*pay.HostTerminal)

				case err != nil:
					return nil, err
				}
			}

			transfers, err := sess.loadTransfers(ctx)
			if err != nil {
				return nil, err
			}
			contract := pay.Consignment.ContractID()
			s.catalogue(sess).Save(transfers, contract, pay.Record)
			if err := sess.storeTransfers(ctx, transfers); err != nil {
				return nil, err
			}
			s.trackPending(sess)

			encoded, err := rgbpsbt.Encode(pay.Packet)
			if err != nil {
				return nil, err
			}

			res := &TransferResult{
				Psbt:        encoded,
				Consignment: pay.Consignment.ToArmored(),
				ConsigID:    pay.Consignment.ID(),
				ContractID:  contract,
				Txid:        pay.Txid,
				Commitment:  hex.EncodeToString(pay.Commitment.Bytes()),
				Replaced:    pay.Replaced,
			}
			res.Posted = s.postConsignment(ctx, inv, pay)

			return res, nil
		},
	)
}

// postConsignment hands the consignment to the relay named by the invoice.
// A relay failure does not fail the payment: the consignment is in the
// result and can be sent again.
func (s *Server) postConsignment(ctx context.Context, inv *invoice.Invoice,
	pay *transfer.PayResult) []string {

	if s.cfg.Courier == nil || len(inv.Endpoints) == 0 {
		return nil
	}

	recipient := inv.Beneficiary.String()
	err := s.cfg.Courier.PostConsignment(
		ctx, recipient, pay.Consignment, pay.Txid,
	)
	if err != nil {
		bmskLog.Warnf("Unable to post consignment %v to %v: %v",
			pay.Consignment.ID(), s.cfg.Courier.Endpoint(), err)
		return nil
	}

	return []string{s.cfg.Courier.Endpoint()}
}

// ValidateTransfer validates a consignment without storing it.
func (s *Server) ValidateTransfer(ctx context.Context, sk,
	consignment string) (*stash.Status, error) {

	return run(ctx, s, "validate_transfer", sk, false,
		func(ctx context.Context, sess *session) (*stash.Status, error) {
			consig, err := rgb.ParseConsignment(consignment)
			if err != nil {
				return nil, err
			}

			return stash.Validate(ctx, consig, sess.chain, sess.net)
		},
	)
}

// AcceptResult is an accepted transfer.
type AcceptResult struct {
	Status     *stash.Status
	ContractID rgb.ContractID
	ConsigID   rgb.ConsignmentID
	Txid       chainhash.Hash
}

// AcceptTransfer validates a transfer consignment and merges it into the
// stash. A consignment is accepted once unless force is set.
func (s *Server) AcceptTransfer(ctx context.Context, sk, consignment string,
	force bool) (*AcceptResult, error) {

	return run(ctx, s, "accept_transfer", sk, true,
		func(ctx context.Context, sess *session) (*AcceptResult, error) {
			consig, err := rgb.ParseConsignment(consignment)
			if err != nil {
				return nil, err
			}

			return s.accept(ctx, sess, consig, force)
		},
	)
}

func (s *Server) accept(ctx context.Context, sess *session,
	consig *rgb.Consignment, force bool) (*AcceptResult, error) {

	st, err := sess.loadStash(ctx)
	if err != nil {
		return nil, err
	}

	accepted, err := transfer.Accept(
		ctx, st, consig, sess.chain, sess.net, sess.clock, force,
	)
	if err != nil {
		return nil, err
	}

	if err := sess.storeStash(ctx, st); err != nil {
		return nil, err
	}

	transfers, err := sess.loadTransfers(ctx)
	if err != nil {
		return nil, err
	}
	s.catalogue(sess).Save(transfers, consig.ContractID(), accepted.Record)
	if err := sess.storeTransfers(ctx, transfers); err != nil {
		return nil, err
	}
	if accepted.Record.Status.Kind == account.StatusMempool {
		s.trackPending(sess)
	}

	return &AcceptResult{
		Status:     accepted.Status,
		ContractID: consig.ContractID(),
		ConsigID:   consig.ID(),
		Txid:       accepted.Record.Txid,
	}, nil
}

// ListTransfers returns the transfers of a contract with refreshed status.
func (s *Server) ListTransfers(ctx context.Context, sk string,
	id rgb.ContractID) ([]account.TransferRecord, error) {

	return run(ctx, s, "list_transfers", sk, true,
		func(ctx context.Context, sess *session) (
			[]account.TransferRecord, error) {

			transfers, err := sess.loadTransfers(ctx)
			if err != nil {
				return nil, err
			}

			records, err := s.catalogue(sess).List(ctx, transfers, id)
			if err != nil {
				return nil, err
			}
			if err := sess.storeTransfers(ctx, transfers); err != nil {
				return nil, err
			}

			return records, nil
		},
	)
}

// SaveTransfer records a consignment received out of band, before it is
// accepted.
func (s *Server) SaveTransfer(ctx context.Context, sk, iface,
	consignment string) (*account.TransferRecord, error) {

	return run(ctx, s, "save_transfer", sk, true,
		func(ctx context.Context, sess *session) (
			*account.TransferRecord, error) {

			consig, err := rgb.ParseConsignment(consignment)
			if err != nil {
				return nil, err
			}

			txid, err := stash.ExtractTransfer(ctx, consig, sess.chain)
			switch {
			case errors.Is(err, stash.ErrInconclusive):
				bmskLog.Debugf("Witness of %v not found yet",
					consig.ID())

			case err != nil:
				return nil, err
			}

			rec := account.TransferRecord{
				ConsigID:    consig.ID(),
				Iface:       iface,
				Direction:   account.DirectionReceived,
				Status:      account.TransferStatus{Kind: account.StatusMempool},
				Consignment: consig.Bytes(),
				Txid:        txid,
			}

			transfers, err := sess.loadTransfers(ctx)
			if err != nil {
				return nil, err
			}
			s.catalogue(sess).Save(transfers, consig.ContractID(), rec)
			if err := sess.storeTransfers(ctx, transfers); err != nil {
				return nil, err
			}
			s.trackPending(sess)

			return &rec, nil
		},
	)
}

// RemoveTransfer drops transfers of a contract from the catalogue. It
// returns the number of removed records.
func (s *Server) RemoveTransfer(ctx context.Context, sk string,
	id rgb.ContractID, consigIDs ...rgb.ConsignmentID) (int, error) {

	return run(ctx, s, "remove_transfer", sk, true,
		func(ctx context.Context, sess *session) (int, error) {
			transfers, err := sess.loadTransfers(ctx)
			if err != nil {
				return 0, err
			}

			n := s.catalogue(sess).Remove(transfers, id, consigIDs...)
			if n == 0 {
				return 0, nil
			}

			return n, sess.storeTransfers(ctx, transfers)
		},
	)
}

// VerifyTransfers refreshes the status of every transfer of the user. It
// returns the number of records whose status changed.
func (s *Server) VerifyTransfers(ctx context.Context, sk string) (int,
	error) {

	return run(ctx, s, "verify_transfers", sk, true,
		func(ctx context.Context, sess *session) (int, error) {
			transfers, err := sess.loadTransfers(ctx)
			if err != nil {
				return 0, err
			}

			changed, err := s.catalogue(sess).Verify(ctx, transfers)
			if err != nil {
				return 0, err
			}
			if changed == 0 {
				return 0, nil
			}

			return changed, sess.storeTransfers(ctx, transfers)
		},
	)
}
