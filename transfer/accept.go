package transfer

import (
	"context"
	"errors"

	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/lightningnetwork/lnd/clock"
)

// AcceptResult is an accepted transfer.
type AcceptResult struct {
	Status *stash.Status
	Record account.TransferRecord
}

// Accept validates a transfer consignment, merges it into the stash and
// returns the catalogue record of the received transfer.
func Accept(ctx context.Context, st *stash.Stash, consig *rgb.Consignment,
	resolver chain.TxResolver, net *network.Params, clk clock.Clock,
	force bool) (*AcceptResult, error) {

	status, err := st.AcceptTransfer(ctx, consig, resolver, net, force)
	if err != nil {
		return nil, err
	}

	rec := account.TransferRecord{
		ConsigID:    consig.ID(),
		Direction:   account.DirectionReceived,
		Status:      account.TransferStatus{Kind: account.StatusMempool},
		Consignment: consig.Bytes(),
		Beneficiaries: fn.Map(consig.Terminals, func(t rgb.Terminal) string {
			return t.Seal.String()
		}),
		CreatedAt: uint64(clk.Now().Unix()),
	}
	if ifaces := st.ContractIfaces(consig.ContractID()); len(ifaces) > 0 {
		rec.Iface = ifaces[0]
	}

	txid, err := stash.ExtractTransfer(ctx, consig, resolver)
	switch {
	// A forced accept may precede the witness.
	case errors.Is(err, stash.ErrInconclusive):
		log.Warnf("Witness of transfer %v not known yet", rec.ConsigID)

	case err != nil:
		return nil, err

	default:
		rec.Txid = txid
		info, err := resolver.ResolveTx(ctx, txid)
		if err != nil {
			return nil, err
		}
		if info.Confirmed() {
			rec.Status = account.TransferStatus{
				Kind: account.StatusBlock, Height: info.Height,
			}
		}
	}

	return &AcceptResult{Status: status, Record: rec}, nil
}
