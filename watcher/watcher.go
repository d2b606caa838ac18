// Package watcher keeps the descriptor-only view of a user's wallets. Each
// watcher wallet is owned by a single goroutine; callers send it requests
// and wait for the replies, so no lock is ever held across chain I/O.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"golang.org/x/sync/errgroup"
)

// DefaultGapLimit is the number of consecutive unused terminals after
// which a sync stops scanning a branch.
const DefaultGapLimit = 20

var (
	// ErrNoUtxo is returned when no confirmed, unallocated output is
	// available.
	ErrNoUtxo = errors.New("watcher: no available utxo")

	// ErrShuttingDown is returned for requests sent to a stopped watcher.
	ErrShuttingDown = errors.New("watcher: shutting down")
)

// ScannedApps are the branches a sync walks.
var ScannedApps = []uint32{
	keys.AppReceive, keys.AppChange, keys.AppRgbAssets, keys.AppRgbUdas,
}

// AppOf returns the derivation branch of an interface. The empty name and
// "bitcoin" select the plain receive branch.
func AppOf(iface string) (uint32, error) {
	switch iface {
	case "", "bitcoin":
		return keys.AppReceive, nil

	case rgb.IfaceRGB20:
		return keys.AppRgbAssets, nil

	case rgb.IfaceRGB21:
		return keys.AppRgbUdas, nil

	default:
		return 0, fmt.Errorf("%w: %q", rgb.ErrUnknownIface, iface)
	}
}

// Source is the chain view a watcher syncs against.
type Source interface {
	chain.UtxoSource

	// BestHeight returns the current chain tip height.
	BestHeight(ctx context.Context) (uint32, error)
}

// Config holds the collaborators of a watcher.
type Config struct {
	Net      *network.Params
	Source   Source
	GapLimit uint32
}

type request struct {
	run func(wallet *account.WatcherWallet)
}

// Watcher owns one watcher wallet.
type Watcher struct {
	startOnce sync.Once
	stopOnce  sync.Once

	name   string
	cfg    *Config
	wallet *account.WatcherWallet

	// pub is the wallet xpub. It never changes for a running watcher.
	pub string

	requests chan request

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for a wallet. The watcher takes ownership of the
// wallet; callers read it back through Wallet.
func New(name string, wallet *account.WatcherWallet, cfg *Config) *Watcher {
	return &Watcher{
		name:     name,
		cfg:      cfg,
		wallet:   wallet,
		pub:      wallet.Xpub,
		requests: make(chan request),
		quit:     make(chan struct{}),
	}
}

// Start launches the goroutine owning the wallet.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		log.Debugf("Starting watcher %v", w.name)

		w.wg.Add(1)
		go w.loop()
	})
}

// Stop shuts the watcher down and waits for in flight requests.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.wg.Wait()
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case req := <-w.requests:
			req.run(w.wallet)

		case <-w.quit:
			return
		}
	}
}

func (w *Watcher) xpub() string {
	return w.pub
}

// Name returns the watcher name.
func (w *Watcher) Name() string {
	return w.name
}

// ask runs f on the watcher goroutine and returns its reply.
func ask[T any](ctx context.Context, w *Watcher,
	f func(*account.WatcherWallet) (T, error)) (T, error) {

	var (
		zero     T
		respChan = make(chan T, 1)
		errChan  = make(chan error, 1)
	)
	req := request{run: func(wallet *account.WatcherWallet) {
		resp, err := f(wallet)
		if err != nil {
			errChan <- err
			return
		}
		respChan <- resp
	}}

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-w.quit:
		return zero, ErrShuttingDown
	}

	resp, err := fn.RecvResp(respChan, errChan, w.quit)
	if errors.Is(err, fn.ErrQuitting) {
		return zero, ErrShuttingDown
	}

	return resp, err
}

// Wallet returns a copy of the wallet state, to be persisted.
func (w *Watcher) Wallet(ctx context.Context) (*account.WatcherWallet,
	error) {

	return ask(ctx, w, func(wallet *account.WatcherWallet) (
		*account.WatcherWallet, error) {

		return cloneWallet(wallet), nil
	})
}

func cloneWallet(w *account.WatcherWallet) *account.WatcherWallet {
	return &account.WatcherWallet{
		Xpub:       w.Xpub,
		Utxos:      append([]account.Utxo(nil), w.Utxos...),
		Used:       append([]keys.Terminal(nil), w.Used...),
		Tweaks:     append([]account.TapretTweak(nil), w.Tweaks...),
		SyncHeight: w.SyncHeight,
	}
}

// scanResult is what a sync learned about one terminal.
type scanResult struct {
	terminal keys.Terminal
	used     bool
	utxos    []account.Utxo
}

func pkScriptOf(internal *btcec.PublicKey,
	params *network.Params) ([]byte, error) {

	addr, err := keys.TaprootAddress(internal, params.Params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// scanTerminal queries the plain BIP-86 script of a terminal and, when one
// is known, the script tweaked with its tapret commitment.
func (w *Watcher) scanTerminal(ctx context.Context, desc *keys.Descriptor,
	t keys.Terminal,
	tweak *commitment.TapretCommitment) (*scanResult, error) {

	internal, err := desc.TerminalKey(t)
	if err != nil {
		return nil, err
	}

	type script struct {
		pkScript []byte
		tweak    *commitment.TapretCommitment
	}
	plain, err := pkScriptOf(internal, w.cfg.Net)
	if err != nil {
		return nil, err
	}
	scripts := []script{{pkScript: plain}}
	if tweak != nil {
		tweaked, err := tweak.PkScript(internal)
		if err != nil {
			return nil, err
		}
		tw := *tweak
		scripts = append(scripts, script{pkScript: tweaked, tweak: &tw})
	}

	res := &scanResult{terminal: t}
	for _, s := range scripts {
		state, err := w.cfg.Source.ScriptState(ctx, s.pkScript)
		if err != nil {
			return nil, err
		}
		res.used = res.used || state.Used

		for _, out := range state.Unspent {
			res.utxos = append(res.utxos, account.Utxo{
				Outpoint: out.Outpoint,
				Height:   out.Height,
				Amount:   out.Value,
				Terminal: t,
				Tweak:    s.tweak,
			})
		}
	}

	return res, nil
}

// scanApp walks a branch until the gap limit of unused terminals is hit.
// Terminals hosting a known tweak are always scanned.
func (w *Watcher) scanApp(ctx context.Context, wallet *account.WatcherWallet,
	app uint32) ([]*scanResult, error) {

	desc, err := wallet.Descriptor(app)
	if err != nil {
		return nil, err
	}

	gap := w.cfg.GapLimit
	if gap == 0 {
		gap = DefaultGapLimit
	}

	var (
		results  []*scanResult
		scanned  = fn.NewSet[keys.Terminal]()
		lastUsed = -1
	)
	for idx := 0; idx <= lastUsed+int(gap); idx++ {
		t := keys.Terminal{App: app, Index: uint32(idx)}
		res, err := w.scanTerminal(ctx, desc, t, wallet.Tweak(t))
		if err != nil {
			return nil, err
		}
		scanned.Add(t)
		results = append(results, res)

		if res.used || wallet.IsUsed(t) {
			lastUsed = idx
		}
	}

	for _, tw := range wallet.Tweaks {
		if tw.Terminal.App != app || scanned.Contains(tw.Terminal) {
			continue
		}
		c := tw.Commitment
		res, err := w.scanTerminal(ctx, desc, tw.Terminal, &c)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, nil
}

// Sync rescans the chain and replaces the UTXO cache.
func (w *Watcher) Sync(ctx context.Context) (*account.WatcherWallet, error) {
	return ask(ctx, w, func(wallet *account.WatcherWallet) (
		*account.WatcherWallet, error) {

		height, err := w.cfg.Source.BestHeight(ctx)
		if err != nil {
			return nil, err
		}

		perApp := make([][]*scanResult, len(ScannedApps))
		eg, egCtx := errgroup.WithContext(ctx)
		for i, app := range ScannedApps {
			i, app := i, app
			eg.Go(func() error {
				res, err := w.scanApp(egCtx, wallet, app)
				perApp[i] = res
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, fmt.Errorf("watcher %v: sync: %w", w.name,
				err)
		}

		var utxos []account.Utxo
		for _, results := range perApp {
			for _, res := range results {
				if res.used {
					wallet.MarkUsed(res.terminal)
				}
				utxos = append(utxos, res.utxos...)
			}
		}
		wallet.Utxos = utxos
		wallet.SyncHeight = height

		log.Debugf("Watcher %v synced at height %d: %d utxos", w.name,
			height, len(utxos))

		return cloneWallet(wallet), nil
	})
}

// Address is a receive address with its derivation terminal.
type Address struct {
	Address  string
	Terminal keys.Terminal
}

// NextAddress returns the first address of a branch without chain history
// as of the last sync.
func (w *Watcher) NextAddress(ctx context.Context, app uint32) (*Address,
	error) {

	return ask(ctx, w, func(wallet *account.WatcherWallet) (*Address,
		error) {

		desc, err := wallet.Descriptor(app)
		if err != nil {
			return nil, err
		}

		var idx uint32
		for wallet.IsUsed(keys.Terminal{App: app, Index: idx}) {
			idx++
		}

		addr, err := desc.Address(idx, w.cfg.Net.Params)
		if err != nil {
			return nil, err
		}

		return &Address{
			Address:  addr.EncodeAddress(),
			Terminal: keys.Terminal{App: app, Index: idx},
		}, nil
	})
}

// NextUtxo returns the first confirmed output of a branch that is not in
// the allocated set.
func (w *Watcher) NextUtxo(ctx context.Context, app uint32,
	allocated fn.Set[wire.OutPoint]) (*account.Utxo, error) {

	return ask(ctx, w, func(wallet *account.WatcherWallet) (*account.Utxo,
		error) {

		for _, u := range wallet.Unspent(app) {
			if u.Confirmed() && !allocated.Contains(u.Outpoint) {
				u := u
				return &u, nil
			}
		}

		return nil, fmt.Errorf("%w: branch %d of %v", ErrNoUtxo, app,
			w.name)
	})
}

// Unspent returns the cached outputs of a branch.
func (w *Watcher) Unspent(ctx context.Context, app uint32) ([]account.Utxo,
	error) {

	return ask(ctx, w, func(wallet *account.WatcherWallet) ([]account.Utxo,
		error) {

		return wallet.Unspent(app), nil
	})
}

// AppUtxos are the cached outputs of one branch.
type AppUtxos struct {
	App   uint32
	Utxos []account.Utxo
}

// Details returns the cached outputs of every scanned branch.
func (w *Watcher) Details(ctx context.Context) ([]AppUtxos, error) {
	return ask(ctx, w, func(wallet *account.WatcherWallet) ([]AppUtxos,
		error) {

		return fn.Map(ScannedApps, func(app uint32) AppUtxos {
			return AppUtxos{App: app, Utxos: wallet.Unspent(app)}
		}), nil
	})
}

// AddTapretTweak records the commitment hosted at a terminal, so the next
// sync finds the tweaked output.
func (w *Watcher) AddTapretTweak(ctx context.Context, t keys.Terminal,
	c commitment.TapretCommitment) error {

	_, err := ask(ctx, w, func(wallet *account.WatcherWallet) (struct{},
		error) {

		wallet.AddTweak(t, c)
		wallet.MarkUsed(t)

		log.Debugf("Watcher %v: tapret tweak at %v", w.name, t)

		return struct{}{}, nil
	})

	return err
}
