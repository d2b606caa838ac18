package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/clock"
)

// DefaultMempoolTimeout is how long a witness may stay unseen before its
// transfer is marked unknown.
const DefaultMempoolTimeout = 24 * time.Hour

// Catalogue maintains the chain status of transfer records.
type Catalogue struct {
	Resolver chain.TxResolver
	Clock    clock.Clock

	// MempoolTimeout is the window after which a witness never seen by
	// the resolver is given up on.
	MempoolTimeout time.Duration
}

// NewCatalogue creates a catalogue with the default mempool window.
func NewCatalogue(resolver chain.TxResolver, clk clock.Clock) *Catalogue {
	return &Catalogue{
		Resolver:       resolver,
		Clock:          clk,
		MempoolTimeout: DefaultMempoolTimeout,
	}
}

// Save adds a record to the catalogue, stamping its creation time if unset.
func (c *Catalogue) Save(transfers *account.RgbTransfers,
	contract rgb.ContractID, rec account.TransferRecord) {

	if rec.CreatedAt == 0 {
		rec.CreatedAt = uint64(c.Clock.Now().Unix())
	}
	transfers.Save(contract, rec)

	log.Debugf("Saved %v transfer %v of %v", rec.Direction, rec.ConsigID,
		contract)
}

// List refreshes and returns the records of a contract.
func (c *Catalogue) List(ctx context.Context, transfers *account.RgbTransfers,
	contract rgb.ContractID) ([]account.TransferRecord, error) {

	if _, err := c.Refresh(ctx, transfers, contract); err != nil {
		return nil, err
	}

	return transfers.List(contract), nil
}

// Remove drops records of a contract. The stash keeps the transitions.
func (c *Catalogue) Remove(transfers *account.RgbTransfers,
	contract rgb.ContractID, ids ...rgb.ConsignmentID) int {

	return transfers.Remove(contract, ids...)
}

type lookup struct {
	found  bool
	height uint32
}

// Refresh recomputes the status of every record of a contract and returns
// how many changed.
func (c *Catalogue) Refresh(ctx context.Context,
	transfers *account.RgbTransfers, contract rgb.ContractID) (int, error) {

	records := transfers.List(contract)

	lookups := make([]lookup, len(records))
	for i, rec := range records {
		if rec.Txid == (chainhash.Hash{}) {
			continue
		}

		info, err := c.Resolver.ResolveTx(ctx, rec.Txid)
		switch {
		case errors.Is(err, chain.ErrTxNotFound):

		case err != nil:
			return 0, err

		default:
			lookups[i] = lookup{found: true, height: info.Height}
		}
	}

	// Outputs spent by a mined witness. A record spending any of them
	// that is itself not mined lost a replacement race.
	minedSpends := make(map[wire.OutPoint]struct{})
	for i, rec := range records {
		if lookups[i].height == 0 {
			continue
		}
		for _, op := range rec.Utxos {
			minedSpends[op] = struct{}{}
		}
	}

	now := c.Clock.Now()
	var changed int
	for i := range records {
		rec := &records[i]
		status := c.status(rec, lookups[i], minedSpends, now)
		if status == rec.Status {
			continue
		}

		log.Infof("Transfer %v of %v: %v -> %v", rec.ConsigID, contract,
			rec.Status, status)
		rec.Status = status
		changed++
	}

	return changed, nil
}

func (c *Catalogue) status(rec *account.TransferRecord, l lookup,
	minedSpends map[wire.OutPoint]struct{},
	now time.Time) account.TransferStatus {

	if l.height > 0 {
		return account.TransferStatus{
			Kind: account.StatusBlock, Height: l.height,
		}
	}

	wasMined := rec.Status.Kind == account.StatusBlock ||
		rec.Status.Kind == account.StatusReorged
	if wasMined {
		return account.TransferStatus{
			Kind: account.StatusReorged, Height: rec.Status.Height,
		}
	}

	for _, op := range rec.Utxos {
		if _, ok := minedSpends[op]; ok {
			return account.TransferStatus{Kind: account.StatusReorged}
		}
	}

	if l.found {
		return account.TransferStatus{Kind: account.StatusMempool}
	}

	timeout := c.MempoolTimeout
	if timeout == 0 {
		timeout = DefaultMempoolTimeout
	}
	created := time.Unix(int64(rec.CreatedAt), 0)
	if now.Sub(created) > timeout {
		return account.TransferStatus{Kind: account.StatusUnknown}
	}

	return account.TransferStatus{Kind: account.StatusMempool}
}

// Verify refreshes the records of every contract in the catalogue and
// returns how many changed.
func (c *Catalogue) Verify(ctx context.Context,
	transfers *account.RgbTransfers) (int, error) {

	var changed int
	for _, id := range transfers.Contracts() {
		n, err := c.Refresh(ctx, transfers, id)
		if err != nil {
			return changed, err
		}
		changed += n
	}

	return changed, nil
}
