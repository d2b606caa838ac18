package watcher

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
)

// Allocation is contract state bound to an output.
type Allocation struct {
	Opout    rgb.Opout
	Outpoint wire.OutPoint
	Amount   uint64

	// IsMine is set when the output is in the watcher's UTXO cache.
	IsMine bool

	// Terminal and Tweak are only known for owned outputs.
	Terminal *keys.Terminal
	Tweak    *commitment.TapretCommitment
}

// Allocations joins the unspent state of a contract with the UTXO cache.
// State behind concealed seals is not listed.
func (w *Watcher) Allocations(ctx context.Context,
	state []stash.OwnedState) ([]Allocation, error) {

	return ask(ctx, w, func(wallet *account.WatcherWallet) ([]Allocation,
		error) {

		return allocations(wallet, state), nil
	})
}

func allocations(wallet *account.WatcherWallet,
	state []stash.OwnedState) []Allocation {

	var out []Allocation
	for _, s := range state {
		if s.Outpoint == nil {
			continue
		}

		alloc := Allocation{
			Opout:    s.Opout,
			Outpoint: *s.Outpoint,
			Amount:   s.Amount,
		}
		if u, ok := wallet.Utxo(*s.Outpoint); ok {
			t := u.Terminal
			alloc.IsMine = true
			alloc.Terminal = &t
			alloc.Tweak = u.Tweak
		}
		out = append(out, alloc)
	}

	return out
}

// Balance sums the owned allocations.
func Balance(allocs []Allocation) uint64 {
	return fn.Reduce(allocs, func(sum uint64, a Allocation) uint64 {
		if a.IsMine {
			return sum + a.Amount
		}
		return sum
	})
}

// Allocated returns the outputs carrying any of the given state.
func Allocated(states ...[]stash.OwnedState) fn.Set[wire.OutPoint] {
	set := fn.NewSet[wire.OutPoint]()
	for _, state := range states {
		for _, s := range state {
			if s.Outpoint != nil {
				set.Add(*s.Outpoint)
			}
		}
	}

	return set
}
