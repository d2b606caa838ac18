package bitmask

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/cambria"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/marketplace"
	"github.com/diba-io/bitmask/monitoring"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/proxy"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/transfer"
	"github.com/diba-io/bitmask/userlock"
	"github.com/diba-io/bitmask/watcher"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultWatcher is the watcher name the wallet UI creates and the one
	// payments record their tapret tweaks in.
	DefaultWatcher = "default"

	// DefaultGapLimit is the number of unused addresses scanned past the
	// last used one.
	DefaultGapLimit = 20
)

// Config holds the collaborators of a Server.
type Config struct {
	// Net is the network the server starts on.
	Net *network.Params

	// Chain serves Net.
	Chain chain.Backend

	// Store is the encrypted object store. Object names are bound to the
	// active network.
	Store *carbonado.Store

	// Locker serializes mutating operations per user.
	Locker userlock.Locker

	// Courier is the consignment relay. Relay operations fail when nil.
	Courier *proxy.Courier

	// BoardSecret opens the public offer board. Marketplace operations
	// fail when nil.
	BoardSecret *keys.SigningSecret

	Clock clock.Clock

	// GapLimit bounds address scanning. Zero means DefaultGapLimit.
	GapLimit uint32

	// MempoolTimeout is how long an unseen witness is waited for.
	MempoolTimeout time.Duration

	// DebugLevel is only reported at start up.
	DebugLevel string
}

// netState is the network bound part of the server. It is replaced as a
// whole when the network changes.
type netState struct {
	net      *network.Params
	chain    chain.Backend
	store    *carbonado.Store
	watchers *watcher.Registry
}

// pendingUser is a user with transfers still waiting for the chain.
type pendingUser struct {
	secret *keys.SigningSecret
	until  time.Time
}

// Server runs the wallet operations. It is the explicit context every
// operation runs in: the active network, the chain, the store and the
// running watchers.
type Server struct {
	started  int32
	shutdown int32

	cfg *Config

	netMtx sync.RWMutex
	state  *netState

	pendingMtx sync.Mutex
	pending    map[string]*pendingUser
}

// NewServer creates a new server given the passed config.
func NewServer(cfg *Config) (*Server, error) {
	switch {
	case cfg.Net == nil:
		return nil, errors.New("bitmask: network must be set")
	case cfg.Chain == nil:
		return nil, errors.New("bitmask: chain backend must be set")
	case cfg.Store == nil:
		return nil, errors.New("bitmask: object store must be set")
	}

	if cfg.Locker == nil {
		cfg.Locker = userlock.NewLocal()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.GapLimit == 0 {
		cfg.GapLimit = DefaultGapLimit
	}
	if cfg.MempoolTimeout == 0 {
		cfg.MempoolTimeout = transfer.DefaultMempoolTimeout
	}

	s := &Server{
		cfg:     cfg,
		pending: make(map[string]*pendingUser),
	}
	s.state = s.newNetState(cfg.Net, cfg.Chain)

	return s, nil
}

func (s *Server) newNetState(net *network.Params,
	backend chain.Backend) *netState {

	return &netState{
		net:   net,
		chain: backend,
		store: s.cfg.Store.WithNetwork(net.Name),
		watchers: watcher.NewRegistry(&watcher.Config{
			Net:      net,
			Source:   backend,
			GapLimit: s.cfg.GapLimit,
		}),
	}
}

// Start logs the server set up. Watchers are started on demand.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	srvrLog.Infof("Version: %s, build=%s, logging=%s, debuglevel=%s",
		Version(), build.Deployment, build.LoggingType,
		s.cfg.DebugLevel)
	srvrLog.Infof("Active network: %v", s.Network().Name)

	return nil
}

// Stop shuts down every running watcher and forgets the pending users.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}

	srvrLog.Infof("Stopping server")

	s.netMtx.RLock()
	s.state.watchers.Stop()
	s.netMtx.RUnlock()

	s.pendingMtx.Lock()
	for user, p := range s.pending {
		p.secret.Destroy()
		delete(s.pending, user)
	}
	s.pendingMtx.Unlock()

	return nil
}

// Network returns the active network.
func (s *Server) Network() *network.Params {
	s.netMtx.RLock()
	defer s.netMtx.RUnlock()

	return s.state.net
}

// SetNetwork switches the active network. Running watchers of the old
// network are stopped; operations already running finish on it.
func (s *Server) SetNetwork(net *network.Params, backend chain.Backend) {
	next := s.newNetState(net, backend)

	s.netMtx.Lock()
	prev := s.state
	s.state = next
	s.netMtx.Unlock()

	prev.watchers.Stop()

	bmskLog.Infof("Switched network from %v to %v", prev.net.Name,
		net.Name)
}

func (s *Server) current() *netState {
	s.netMtx.RLock()
	defer s.netMtx.RUnlock()

	return s.state
}

// session is one operation of one user.
type session struct {
	*netState

	secret *keys.SigningSecret

	// user is hex(pubkey) of the secret.
	user string

	clock clock.Clock
}

// observe runs an operation and reports its outcome.
func observe[T any](op string, f func() (T, error)) (T, error) {
	start := time.Now()

	res, err := f()
	err = wrapErr(op, err)

	result := "ok"
	var e *Error
	if errors.As(err, &e) {
		result = e.Kind.String()
		bmskLog.Debugf("Operation %v failed (%v): %v", op, e.Kind, e.Err)
	}
	monitoring.ObserveOperation(op, result, time.Since(start))

	return res, err
}

// run executes an operation for the user owning sk. Mutating operations
// hold the user's lock for the whole load, mutate and store round trip.
// Panics are contained and surface as internal errors.
func run[T any](ctx context.Context, s *Server, op, sk string, mutate bool,
	f func(context.Context, *session) (T, error)) (T, error) {

	return observe(op, func() (T, error) {
		var res T

		secret, err := keys.ParseSigningSecret(sk)
		if err != nil {
			return res, err
		}
		defer secret.Destroy()

		user, err := secret.UserID()
		if err != nil {
			return res, err
		}

		sess := &session{
			netState: s.current(),
			secret:   secret,
			user:     user,
			clock:    s.cfg.Clock,
		}

		if mutate {
			release, err := s.cfg.Locker.Lock(ctx, user)
			if err != nil {
				return res, fmt.Errorf("lock user %.8s: %w", user,
					err)
			}
			defer release()
		}

		err = fn.Recover(func() error {
			var err error
			res, err = f(ctx, sess)
			return err
		})

		return res, err
	})
}

func (s *session) loadStash(ctx context.Context) (*stash.Stash, error) {
	data, _, err := s.store.Retrieve(ctx, s.secret, carbonado.AssetsStock)
	if err != nil {
		return nil, err
	}

	return stash.Decode(data)
}

func (s *session) storeStash(ctx context.Context, st *stash.Stash) error {
	return s.store.Store(
		ctx, s.secret, carbonado.AssetsStock, st.Bytes(),
		cambria.CurrentTag,
	)
}

func (s *session) loadAccount(ctx context.Context) (*account.RgbAccount,
	error) {

	data, tag, err := s.store.Retrieve(
		ctx, s.secret, carbonado.AssetsWallets,
	)
	if err != nil {
		return nil, err
	}

	return cambria.DecodeAccount(data, tag)
}

func (s *session) storeAccount(ctx context.Context,
	acc *account.RgbAccount) error {

	return s.store.Store(
		ctx, s.secret, carbonado.AssetsWallets, acc.Bytes(),
		cambria.CurrentTag,
	)
}

func (s *session) loadTransfers(ctx context.Context) (*account.RgbTransfers,
	error) {

	data, tag, err := s.store.Retrieve(
		ctx, s.secret, carbonado.AssetsTransfers,
	)
	if err != nil {
		return nil, err
	}

	return cambria.DecodeTransfers(data, tag)
}

func (s *session) storeTransfers(ctx context.Context,
	t *account.RgbTransfers) error {

	return s.store.Store(
		ctx, s.secret, carbonado.AssetsTransfers, t.Bytes(),
		cambria.CurrentTag,
	)
}

// watcher returns the running watcher of a persisted watcher wallet.
func (s *session) watcher(acc *account.RgbAccount,
	name string) (*watcher.Watcher, error) {

	wallet, err := acc.Wallet(name)
	if err != nil {
		return nil, err
	}

	return s.watchers.Get(s.user, name, wallet), nil
}

// persistWatcher copies the state of a running watcher back into the
// account and stores it.
func (s *session) persistWatcher(ctx context.Context, acc *account.RgbAccount,
	w *watcher.Watcher) error {

	wallet, err := w.Wallet(ctx)
	if err != nil {
		return err
	}
	acc.Wallets[w.Name()] = wallet

	return s.storeAccount(ctx, acc)
}

func (s *Server) catalogue(sess *session) *transfer.Catalogue {
	c := transfer.NewCatalogue(sess.chain, s.cfg.Clock)
	c.MempoolTimeout = s.cfg.MempoolTimeout

	return c
}

func (s *Server) market(sess *session) (*marketplace.Market, error) {
	if s.cfg.BoardSecret == nil {
		return nil, errors.New("marketplace is not configured")
	}

	return marketplace.NewMarket(&marketplace.Config{
		Store:       sess.store,
		BoardSecret: s.cfg.BoardSecret,
		Clock:       s.cfg.Clock,
	}), nil
}

func (s *Server) courier() (*proxy.Courier, error) {
	if s.cfg.Courier == nil {
		return nil, errors.New("consignment relay is not configured")
	}

	return s.cfg.Courier, nil
}

// trackPending remembers a user with a transfer waiting for the chain, so
// SweepTransfers can refresh its catalogue.
func (s *Server) trackPending(sess *session) {
	s.pendingMtx.Lock()
	defer s.pendingMtx.Unlock()

	until := s.cfg.Clock.Now().Add(s.cfg.MempoolTimeout)
	if p, ok := s.pending[sess.user]; ok {
		p.until = until
		return
	}

	var clone *keys.SigningSecret
	err := sess.secret.WithBytes(func(b []byte) error {
		var err error
		clone, err = keys.NewSigningSecret(append([]byte(nil), b...))
		return err
	})
	if err != nil {
		bmskLog.Warnf("Unable to track transfers of %.8s: %v",
			sess.user, err)
		return
	}

	s.pending[sess.user] = &pendingUser{secret: clone, until: until}
}

// PendingUsers returns the number of users whose transfers are refreshed by
// SweepTransfers.
func (s *Server) PendingUsers() int {
	s.pendingMtx.Lock()
	defer s.pendingMtx.Unlock()

	return len(s.pending)
}

// SweepTransfers refreshes the transfer catalogue of every user with a
// transfer waiting for the chain. Users are forgotten once none of their
// transfers is in the mempool or their timeout passed.
func (s *Server) SweepTransfers(ctx context.Context) error {
	type sweep struct {
		user string
		p    *pendingUser
	}

	s.pendingMtx.Lock()
	users := make([]sweep, 0, len(s.pending))
	for user, p := range s.pending {
		users = append(users, sweep{user: user, p: p})
	}
	s.pendingMtx.Unlock()

	// Users hold separate locks, so they are refreshed in parallel. A
	// failing user doesn't stop the others.
	var (
		errMtx sync.Mutex
		errs   []error
	)
	err := fn.ParSlice(ctx, users, func(ctx context.Context, u sweep) error {
		settled, err := s.sweepUser(ctx, u.p.secret)
		if err != nil {
			bmskLog.Warnf("Unable to refresh transfers of %.8s: %v",
				u.user, err)

			errMtx.Lock()
			errs = append(errs, err)
			errMtx.Unlock()
		}

		if !settled && s.cfg.Clock.Now().Before(u.p.until) {
			return nil
		}

		s.pendingMtx.Lock()
		if s.pending[u.user] == u.p {
			delete(s.pending, u.user)
			u.p.secret.Destroy()
		}
		s.pendingMtx.Unlock()

		return nil
	})
	if err != nil {
		return err
	}

	return errors.Join(errs...)
}

func (s *Server) sweepUser(ctx context.Context,
	secret *keys.SigningSecret) (bool, error) {

	sk, err := secret.Hex()
	if err != nil {
		return false, err
	}

	return run(ctx, s, "verify_transfers", sk, true,
		func(ctx context.Context, sess *session) (bool, error) {
			transfers, err := sess.loadTransfers(ctx)
			if err != nil {
				return false, err
			}

			changed, err := s.catalogue(sess).Verify(ctx, transfers)
			if err != nil {
				return false, err
			}
			if changed > 0 {
				err := sess.storeTransfers(ctx, transfers)
				if err != nil {
					return false, err
				}
			}

			return !inMempool(transfers), nil
		},
	)
}

func inMempool(transfers *account.RgbTransfers) bool {
	for _, id := range transfers.Contracts() {
		for _, rec := range transfers.List(id) {
			if rec.Status.Kind == account.StatusMempool {
				return true
			}
		}
	}

	return false
}
