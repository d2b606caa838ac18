// Package transfer binds RGB state transitions to bitcoin transactions and
// keeps the catalogue of sent and received transfers.
package transfer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/invoice"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/rgbpsbt"
	"github.com/diba-io/bitmask/stash"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrNoPay is returned when the inputs of a PSBT cannot pay an
	// invoice.
	ErrNoPay = errors.New("transfer: cannot pay")

	// ErrWrongNetwork is returned for invoices of another network.
	ErrWrongNetwork = errors.New("transfer: wrong network")
)

// Payer binds transfers to host PSBTs.
type Payer struct {
	Net   *network.Params
	Clock clock.Clock
}

// NewPayer creates a payer for a network.
func NewPayer(net *network.Params, clk clock.Clock) *Payer {
	return &Payer{Net: net, Clock: clk}
}

// PayResult is a paid invoice.
type PayResult struct {
	// Packet is the PSBT with the commitment installed.
	Packet *psbt.Packet

	// Consignment is the transfer for the beneficiary.
	Consignment *rgb.Consignment

	// Txid is the witness transaction id.
	Txid chainhash.Hash

	Commitment commitment.TapretCommitment

	// HostTerminal is the derivation terminal of the host output, when
	// the PSBT carries it.
	HostTerminal *keys.Terminal

	// Replaced are the witness txids of bundles this payment replaced.
	Replaced []chainhash.Hash

	// Record is the catalogue entry of the payment.
	Record account.TransferRecord
}

func (p *Payer) checkInvoice(st *stash.Stash, inv *invoice.Invoice) error {
	if inv.Chain != nil && inv.Chain.Name != p.Net.Name {
		return fmt.Errorf("%w: invoice for %v", ErrWrongNetwork,
			inv.Chain.Name)
	}
	if inv.Expired(p.Clock.Now()) {
		return invoice.ErrExpired
	}
	if inv.HasData() {
		return fmt.Errorf("%w: structured state is not supported",
			ErrNoPay)
	}
	if inv.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrNoPay)
	}
	if _, err := st.IfacePair(inv.Contract, inv.Iface); err != nil {
		return err
	}

	return nil
}

// inputState collects the state of a contract at the PSBT inputs. State
// already spent by a known bundle is only taken when replacing.
func inputState(st *stash.Stash, id rgb.ContractID,
	prevouts fn.Set[wire.OutPoint], rbf bool) ([]stash.OwnedState, error) {

	state, err := st.StateAt(id, prevouts)
	if err != nil {
		return nil, err
	}

	for _, s := range state {
		if s.Spent && !rbf {
			return nil, fmt.Errorf("%w: %v at %v is spent by a "+
				"pending transfer", stash.ErrDoubleSpend, s.Opout,
				s.Outpoint)
		}
	}

	return state, nil
}

func opouts(state []stash.OwnedState) []rgb.Opout {
	return fn.Map(state, func(s stash.OwnedState) rgb.Opout {
		return s.Opout
	})
}

func total(state []stash.OwnedState) uint64 {
	return fn.Reduce(state, func(sum uint64, s stash.OwnedState) uint64 {
		return sum + s.Amount
	})
}

// blankBundle moves all state of a contract at the inputs to the host
// output.
func blankBundle(id rgb.ContractID,
	state []stash.OwnedState) (*rgb.Bundle, error) {

	byType := make(map[uint16]uint64)
	var types []uint16
	for _, s := range state {
		if _, ok := byType[s.Opout.Type]; !ok {
			types = append(types, s.Opout.Type)
		}
		byType[s.Opout.Type] += s.Amount
	}

	t := rgb.Transition{
		Contract: id,
		Type:     rgb.TransitionBlank,
		Inputs:   opouts(state),
	}
	for _, typ := range types {
		seal, err := rgb.NewWitnessSeal(rgb.TapretFirst, 0)
		if err != nil {
			return nil, err
		}
		t.Assignments = append(t.Assignments, rgb.NewRevealedAssignment(
			typ, seal, byType[typ],
		))
	}

	return &rgb.Bundle{Contract: id, Transitions: []rgb.Transition{t}}, nil
}

func hostTerminal(out *psbt.POutput) *keys.Terminal {
	for _, d := range out.TaprootBip32Derivation {
		if len(d.Bip32Path) < 2 {
			continue
		}

		n := len(d.Bip32Path)
		return &keys.Terminal{App: d.Bip32Path[n-2], Index: d.Bip32Path[n-1]}
	}

	return nil
}

// Pay assigns the invoiced state to its beneficiary. The state is taken
// from the allocations at the PSBT inputs and the change goes to the host
// output. State of other contracts at the same inputs is moved to the host
// output by blank transitions. All bundles are committed to in the host
// output of the PSBT and added to the stash. The packet and the stash are
// left untouched when an error is returned.
//
// With rbf set, state already spent by pending bundles may be spent again
// and the conflicting bundles are replaced.
func (p *Payer) Pay(st *stash.Stash, inv *invoice.Invoice,
	packet *psbt.Packet, rbf bool) (*PayResult, error) {

	if err := p.checkInvoice(st, inv); err != nil {
		return nil, err
	}

	host, err := rgbpsbt.HostOutput(packet)
	if err != nil {
		return nil, err
	}
	if host != 0 {
		return nil, fmt.Errorf("%w: host is output %d",
			rgbpsbt.ErrInvalidTapretHost, host)
	}
	internal, err := schnorr.ParsePubKey(packet.Outputs[0].TaprootInternalKey)
	if err != nil {
		return nil, fmt.Errorf("%w: host internal key: %v",
			rgbpsbt.ErrInvalidTapretHost, err)
	}

	prevouts := fn.NewSet[wire.OutPoint]()
	utxos := make([]wire.OutPoint, 0, len(packet.UnsignedTx.TxIn))
	for _, in := range packet.UnsignedTx.TxIn {
		prevouts.Add(in.PreviousOutPoint)
		utxos = append(utxos, in.PreviousOutPoint)
	}

	state, err := inputState(st, inv.Contract, prevouts, rbf)
	if err != nil {
		return nil, err
	}
	available := total(state)
	if available < inv.Amount {
		return nil, fmt.Errorf("%w: inputs carry %d of %d", ErrNoPay,
			available, inv.Amount)
	}

	transition := rgb.Transition{
		Contract: inv.Contract,
		Type:     rgb.TransitionTransfer,
		Inputs:   opouts(state),
		Assignments: []rgb.Assignment{rgb.NewConcealedAssignment(
			rgb.OwnedAssets, inv.Beneficiary, inv.Amount,
		)},
	}
	if change := available - inv.Amount; change > 0 {
		seal, err := rgb.NewWitnessSeal(rgb.TapretFirst, 0)
		if err != nil {
			return nil, err
		}
		transition.Assignments = append(transition.Assignments,
			rgb.NewRevealedAssignment(rgb.OwnedAssets, seal, change))
	}
	bundles := []rgb.Bundle{{
		Contract:    inv.Contract,
		Transitions: []rgb.Transition{transition},
	}}

	for _, id := range st.ContractIDs() {
		if id == inv.Contract {
			continue
		}

		other, err := inputState(st, id, prevouts, rbf)
		if err != nil {
			return nil, err
		}
		if len(other) == 0 {
			continue
		}

		blank, err := blankBundle(id, other)
		if err != nil {
			return nil, err
		}
		log.Debugf("Moving %d allocations of %v with a blank "+
			"transition", len(other), id)
		bundles = append(bundles, *blank)
	}

	leaves := fn.Map(bundles, func(b rgb.Bundle) rgb.MPCLeaf {
		return rgb.MPCLeaf{Protocol: b.Contract, Message: b.ID()}
	})
	tapret, err := commitment.Commit(leaves, 0)
	if err != nil {
		return nil, err
	}

	committed, err := rgbpsbt.Clone(packet)
	if err != nil {
		return nil, err
	}
	if err := rgbpsbt.SetCommitment(committed, tapret); err != nil {
		return nil, err
	}
	anchor := rgb.Anchor{
		Txid:   committed.UnsignedTx.TxHash(),
		Vout:   0,
		Nonce:  tapret.Nonce,
		Leaves: leaves,
	}
	copy(anchor.InternalKey[:], internal.SerializeCompressed())

	work, err := stash.Decode(st.Bytes())
	if err != nil {
		return nil, err
	}

	var replaced []chainhash.Hash
	for _, b := range bundles {
		r, err := work.AddBundle(rgb.AnchoredBundle{
			Anchor: anchor, Bundle: b,
		}, rbf)
		if err != nil {
			return nil, err
		}
		replaced = append(replaced, r...)
	}

	consig, err := work.Consign(inv.Contract, []rgb.Terminal{{
		Bundle: bundles[0].ID(),
		Seal:   inv.Beneficiary,
	}})
	if err != nil {
		return nil, err
	}

	*packet = *committed
	*st = *work

	log.Infof("Paid %d of %v to %v in witness %v", inv.Amount,
		inv.Contract, inv.Beneficiary, anchor.Txid)
	log.Tracef("Transfer consignment: %v", spew.Sdump(consig))

	return &PayResult{
		Packet:       packet,
		Consignment:  consig,
		Txid:         anchor.Txid,
		Commitment:   tapret,
		HostTerminal: hostTerminal(&packet.Outputs[0]),
		Replaced:     replaced,
		Record: account.TransferRecord{
			ConsigID:      consig.ID(),
			Iface:         inv.Iface,
			Direction:     account.DirectionSent,
			Status:        account.TransferStatus{Kind: account.StatusMempool},
			Consignment:   consig.Bytes(),
			Txid:          anchor.Txid,
			RBF:           rbf,
			Utxos:         utxos,
			Beneficiaries: []string{inv.Beneficiary.String()},
			CreatedAt:     uint64(p.Clock.Now().Unix()),
		},
	}, nil
}
