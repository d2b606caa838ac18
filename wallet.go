package bitmask

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/watcher"
)

// NewMnemonic creates a wallet from a fresh mnemonic on the active network.
func (s *Server) NewMnemonic(seedPassword string) (*keys.DecryptedWalletData,
	error) {

	return observe("new_mnemonic", func() (*keys.DecryptedWalletData,
		error) {

		w, err := keys.NewMnemonic(seedPassword, s.Network())
		if err != nil {
			return nil, err
		}
		w.Signing.Destroy()

		return &w.Data, nil
	})
}

// SaveMnemonic derives the wallet of an existing mnemonic on the active
// network.
func (s *Server) SaveMnemonic(mnemonic,
	seedPassword string) (*keys.DecryptedWalletData, error) {

	return observe("save_mnemonic", func() (*keys.DecryptedWalletData,
		error) {

		w, err := keys.DeriveWallet(mnemonic, seedPassword, s.Network())
		if err != nil {
			return nil, err
		}
		w.Signing.Destroy()

		return &w.Data, nil
	})
}

// CreateWatcher registers a watcher under name. Replacing a watcher bound
// to another xpub needs force.
func (s *Server) CreateWatcher(ctx context.Context, sk, name, xpub string,
	force bool) (*watcher.CreateResult, error) {

	return run(ctx, s, "create_watcher", sk, true,
		func(ctx context.Context, sess *session) (*watcher.CreateResult,
			error) {

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}

			res, err := watcher.Create(acc, name, xpub, force)
			if err != nil {
				return nil, err
			}
			if !res.Created && !res.Migrated {
				return res, nil
			}

			if err := sess.storeAccount(ctx, acc); err != nil {
				return nil, err
			}
			if res.Migrated {
				sess.watchers.Destroy(sess.user, name)
			}

			bmskLog.Infof("Watcher %v of %.8s: created=%v migrated=%v",
				name, sess.user, res.Created, res.Migrated)

			return res, nil
		},
	)
}

// ListWatchers returns the watcher names of a user.
func (s *Server) ListWatchers(ctx context.Context, sk string) ([]string,
	error) {

	return run(ctx, s, "list_watchers", sk, false,
		func(ctx context.Context, sess *session) ([]string, error) {
			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}

			return acc.Names(), nil
		},
	)
}

// WatcherNextAddress returns the next unused address of the branch serving
// an interface, as of the last sync.
func (s *Server) WatcherNextAddress(ctx context.Context, sk, name,
	iface string) (*watcher.Address, error) {

	return run(ctx, s, "watcher_next_address", sk, false,
		func(ctx context.Context, sess *session) (*watcher.Address,
			error) {

			app, err := watcher.AppOf(iface)
			if err != nil {
				return nil, err
			}

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			w, err := sess.watcher(acc, name)
			if err != nil {
				return nil, err
			}

			return w.NextAddress(ctx, app)
		},
	)
}

// allocated returns every output carrying contract state known to a stash.
func allocated(st *stash.Stash) (fn.Set[wire.OutPoint], error) {
	states := make([][]stash.OwnedState, 0, len(st.Contracts))
	for _, id := range st.ContractIDs() {
		state, err := st.OwnedState(id)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	return watcher.Allocated(states...), nil
}

// WatcherNextUtxo returns a confirmed output of the branch serving an
// interface that carries no contract state.
func (s *Server) WatcherNextUtxo(ctx context.Context, sk, name,
	iface string) (*account.Utxo, error) {

	return run(ctx, s, "watcher_next_utxo", sk, false,
		func(ctx context.Context, sess *session) (*account.Utxo, error) {
			app, err := watcher.AppOf(iface)
			if err != nil {
				return nil, err
			}

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}
			used, err := allocated(st)
			if err != nil {
				return nil, err
			}

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			w, err := sess.watcher(acc, name)
			if err != nil {
				return nil, err
			}

			return w.NextUtxo(ctx, app, used)
		},
	)
}

// WatcherUnspent returns the cached outputs of the branch serving an
// interface.
func (s *Server) WatcherUnspent(ctx context.Context, sk, name,
	iface string) ([]account.Utxo, error) {

	return run(ctx, s, "watcher_unspent_utxos", sk, false,
		func(ctx context.Context, sess *session) ([]account.Utxo,
			error) {

			app, err := watcher.AppOf(iface)
			if err != nil {
				return nil, err
			}

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			w, err := sess.watcher(acc, name)
			if err != nil {
				return nil, err
			}

			return w.Unspent(ctx, app)
		},
	)
}

// WatcherDetails returns the cached outputs of every branch.
func (s *Server) WatcherDetails(ctx context.Context, sk,
	name string) ([]watcher.AppUtxos, error) {

	return run(ctx, s, "watcher_details", sk, false,
		func(ctx context.Context, sess *session) ([]watcher.AppUtxos,
			error) {

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			w, err := sess.watcher(acc, name)
			if err != nil {
				return nil, err
			}

			return w.Details(ctx)
		},
	)
}

// SyncWatcher rescans the chain for a watcher and persists its UTXO cache.
func (s *Server) SyncWatcher(ctx context.Context, sk,
	name string) (*account.WatcherWallet, error) {

	return run(ctx, s, "watcher_sync", sk, true,
		func(ctx context.Context, sess *session) (*account.WatcherWallet,
			error) {

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}
			w, err := sess.watcher(acc, name)
			if err != nil {
				return nil, err
			}

			wallet, err := w.Sync(ctx)
			if err != nil {
				return nil, err
			}
			acc.Wallets[name] = wallet

			if err := sess.storeAccount(ctx, acc); err != nil {
				return nil, err
			}

			return wallet, nil
		},
	)
}

// AddTapretTweak records the commitment hosted at a terminal of a watcher.
func (s *Server) AddTapretTweak(ctx context.Context, sk, name,
	terminal string, c commitment.TapretCommitment) error {

	_, err := run(ctx, s, "add_tapret_tweak", sk, true,
		func(ctx context.Context, sess *session) (struct{}, error) {
			t, err := keys.ParseTerminal(terminal)
			if err != nil {
				return struct{}{}, err
			}

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return struct{}{}, err
			}

			return struct{}{}, sess.addTweak(ctx, acc, name, t, c)
		},
	)

	return err
}

func (s *session) addTweak(ctx context.Context, acc *account.RgbAccount,
	name string, t keys.Terminal, c commitment.TapretCommitment) error {

	w, err := s.watcher(acc, name)
	if err != nil {
		return err
	}
	if err := w.AddTapretTweak(ctx, t, c); err != nil {
		return err
	}

	return s.persistWatcher(ctx, acc, w)
}

// DestroyWatcher removes a watcher from the account and stops it.
func (s *Server) DestroyWatcher(ctx context.Context, sk, name string) error {
	_, err := run(ctx, s, "destroy_watcher", sk, true,
		func(ctx context.Context, sess *session) (struct{}, error) {
			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return struct{}{}, err
			}
			if _, err := acc.Wallet(name); err != nil {
				return struct{}{}, err
			}

			delete(acc.Wallets, name)
			if err := sess.storeAccount(ctx, acc); err != nil {
				return struct{}{}, fmt.Errorf("destroy watcher "+
					"%v: %w", name, err)
			}
			sess.watchers.Destroy(sess.user, name)

			return struct{}{}, nil
		},
	)

	return err
}
