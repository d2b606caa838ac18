package watcher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/keys"
)

var (
	// ErrXpubMismatch is returned when a watcher is created under a name
	// already bound to another xpub and the replacement was not forced.
	ErrXpubMismatch = errors.New("watcher: name bound to another xpub")
)

// CreateResult describes the outcome of Create.
type CreateResult struct {
	// Created is set when the watcher did not exist.
	Created bool

	// Migrated is set when an existing watcher was replaced.
	Migrated bool
}

// Create adds a watcher to an account. Creating an identical watcher is a
// no-op; replacing one bound to another xpub needs force.
func Create(acc *account.RgbAccount, name, xpub string,
	force bool) (*CreateResult, error) {

	if _, err := keys.WatcherDescriptor(xpub, keys.AppReceive); err != nil {
		return nil, err
	}

	existing, err := acc.Wallet(name)
	switch {
	case errors.Is(err, account.ErrNoWatcher):
		acc.Wallets[name] = account.NewWatcherWallet(xpub)
		return &CreateResult{Created: true}, nil

	case existing.Xpub == xpub:
		return &CreateResult{}, nil

	case !force:
		return nil, fmt.Errorf("%w: %v", ErrXpubMismatch, name)
	}

	log.Infof("Migrating watcher %v to a new xpub", name)
	acc.Wallets[name] = account.NewWatcherWallet(xpub)

	return &CreateResult{Migrated: true}, nil
}

type registryKey struct {
	user string
	name string
}

// Registry holds the running watchers of every user.
type Registry struct {
	cfg *Config

	mu       sync.RWMutex
	watchers map[registryKey]*Watcher
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *Config) *Registry {
	return &Registry{
		cfg:      cfg,
		watchers: make(map[registryKey]*Watcher),
	}
}

// Get returns the running watcher of a user. A watcher that is not running
// yet, or runs for another xpub, is started from the persisted wallet.
func (r *Registry) Get(user, name string,
	persisted *account.WatcherWallet) *Watcher {

	key := registryKey{user: user, name: name}

	r.mu.RLock()
	w, ok := r.watchers[key]
	r.mu.RUnlock()
	if ok && w.xpub() == persisted.Xpub {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.watchers[key]; ok {
		if w.xpub() == persisted.Xpub {
			return w
		}
		w.Stop()
	}

	w = New(name, cloneWallet(persisted), r.cfg)
	w.Start()
	r.watchers[key] = w

	return w
}

// Destroy stops and forgets a watcher.
func (r *Registry) Destroy(user, name string) {
	key := registryKey{user: user, name: name}

	r.mu.Lock()
	w, ok := r.watchers[key]
	delete(r.watchers, key)
	r.mu.Unlock()

	if ok {
		w.Stop()
		log.Infof("Destroyed watcher %v", name)
	}
}

// Len returns the number of running watchers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.watchers)
}

// Stop shuts down every watcher.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, w := range r.watchers {
		w.Stop()
		delete(r.watchers, key)
	}
}
