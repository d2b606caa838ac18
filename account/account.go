package account

import (
	"bytes"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrNoWatcher is returned when an operation names a watcher the
	// account does not have.
	ErrNoWatcher = errors.New("account: watcher not found")
)

// Utxo is a cached output of a watcher descriptor.
type Utxo struct {
	Outpoint wire.OutPoint

	// Height is the confirmation height, zero while in the mempool.
	Height uint32

	// Amount is the output value in satoshis.
	Amount uint64

	// Terminal is the derivation terminal of the output key.
	Terminal keys.Terminal

	// Tweak is the tapret commitment the output key is tweaked with, if
	// the output hosts one.
	Tweak *commitment.TapretCommitment
}

// Confirmed reports whether the output has been mined.
func (u *Utxo) Confirmed() bool {
	return u.Height > 0
}

// TapretTweak records the commitment hosted at a terminal. It is known
// before the output itself is seen by a sync.
type TapretTweak struct {
	Terminal   keys.Terminal
	Commitment commitment.TapretCommitment
}

// WatcherWallet is the descriptor-only view of one watcher.
type WatcherWallet struct {
	// Xpub is the account level watcher xpub.
	Xpub string

	// Utxos is the unspent output cache of the last sync.
	Utxos []Utxo

	// Used lists the terminals that have chain history.
	Used []keys.Terminal

	// Tweaks lists the tapret tweaks of hosting outputs.
	Tweaks []TapretTweak

	// SyncHeight is the chain height of the last sync.
	SyncHeight uint32
}

// NewWatcherWallet creates an empty wallet for xpub.
func NewWatcherWallet(xpub string) *WatcherWallet {
	return &WatcherWallet{Xpub: xpub}
}

// Descriptor returns the public descriptor of an app branch.
func (w *WatcherWallet) Descriptor(app uint32) (*keys.Descriptor, error) {
	return keys.WatcherDescriptor(w.Xpub, app)
}

// Tweak returns the tapret tweak hosted at a terminal, if any.
func (w *WatcherWallet) Tweak(t keys.Terminal) *commitment.TapretCommitment {
	for i := range w.Tweaks {
		if w.Tweaks[i].Terminal == t {
			return &w.Tweaks[i].Commitment
		}
	}

	return nil
}

// AddTweak records a tapret tweak at a terminal, replacing an earlier one.
func (w *WatcherWallet) AddTweak(t keys.Terminal,
	c commitment.TapretCommitment) {

	for i := range w.Tweaks {
		if w.Tweaks[i].Terminal == t {
			w.Tweaks[i].Commitment = c
			return
		}
	}
	w.Tweaks = append(w.Tweaks, TapretTweak{Terminal: t, Commitment: c})
}

// IsUsed reports whether a terminal has chain history.
func (w *WatcherWallet) IsUsed(t keys.Terminal) bool {
	for _, u := range w.Used {
		if u == t {
			return true
		}
	}

	return false
}

// MarkUsed records chain history at a terminal.
func (w *WatcherWallet) MarkUsed(t keys.Terminal) {
	if !w.IsUsed(t) {
		w.Used = append(w.Used, t)
	}
}

// Utxo returns the cached output at op.
func (w *WatcherWallet) Utxo(op wire.OutPoint) (*Utxo, bool) {
	for i := range w.Utxos {
		if w.Utxos[i].Outpoint == op {
			return &w.Utxos[i], true
		}
	}

	return nil, false
}

// Unspent returns the cached outputs of an app branch ordered by
// confirmation height and terminal index.
func (w *WatcherWallet) Unspent(app uint32) []Utxo {
	var out []Utxo
	for _, u := range w.Utxos {
		if u.Terminal.App == app {
			out = append(out, u)
		}
	}
	sortUtxos(out)

	return out
}

func sortUtxos(utxos []Utxo) {
	sort.SliceStable(utxos, func(i, j int) bool {
		a, b := utxos[i], utxos[j]
		switch {
		// Confirmed outputs first.
		case a.Confirmed() != b.Confirmed():
			return a.Confirmed()
		case a.Height != b.Height:
			return a.Height < b.Height
		case a.Terminal.Index != b.Terminal.Index:
			return a.Terminal.Index < b.Terminal.Index
		}

		c := bytes.Compare(a.Outpoint.Hash[:], b.Outpoint.Hash[:])
		if c != 0 {
			return c < 0
		}
		return a.Outpoint.Index < b.Outpoint.Index
	})
}

// RgbAccount is the persisted set of watchers of a user, keyed by watcher
// name.
type RgbAccount struct {
	Wallets map[string]*WatcherWallet

	// HiddenContracts are contracts the user chose not to list.
	HiddenContracts []rgb.ContractID

	// Invoices are the invoices the user created, newest last.
	Invoices []string
}

// NewRgbAccount returns an account without watchers.
func NewRgbAccount() *RgbAccount {
	return &RgbAccount{Wallets: make(map[string]*WatcherWallet)}
}

// Wallet returns the named watcher.
func (a *RgbAccount) Wallet(name string) (*WatcherWallet, error) {
	w, ok := a.Wallets[name]
	if !ok {
		return nil, ErrNoWatcher
	}

	return w, nil
}

// Hide marks a contract as hidden. It reports false if it already was.
func (a *RgbAccount) Hide(id rgb.ContractID) bool {
	if a.IsHidden(id) {
		return false
	}
	a.HiddenContracts = append(a.HiddenContracts, id)

	return true
}

// IsHidden reports whether a contract is hidden.
func (a *RgbAccount) IsHidden(id rgb.ContractID) bool {
	for _, h := range a.HiddenContracts {
		if h == id {
			return true
		}
	}

	return false
}

// Names returns the watcher names in order.
func (a *RgbAccount) Names() []string {
	names := make([]string, 0, len(a.Wallets))
	for name := range a.Wallets {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Bytes returns the TLV encoding of the account.
func (a *RgbAccount) Bytes() []byte {
	m := accountModel{
		Wallets:  make([]walletEntry, 0, len(a.Wallets)),
		Hidden:   a.HiddenContracts,
		Invoices: a.Invoices,
	}
	for _, name := range a.Names() {
		m.Wallets = append(m.Wallets, walletEntry{
			Name: name, Wallet: *a.Wallets[name],
		})
	}

	return rgb.ModelBytes(&m)
}

// DecodeRgbAccount decodes an account. An empty input is an empty account.
func DecodeRgbAccount(b []byte) (*RgbAccount, error) {
	a := NewRgbAccount()
	if len(b) == 0 {
		return a, nil
	}

	var m accountModel
	if err := rgb.DecodeModel(bytes.NewReader(b), &m); err != nil {
		return nil, err
	}
	for i := range m.Wallets {
		a.Wallets[m.Wallets[i].Name] = &m.Wallets[i].Wallet
	}
	a.HiddenContracts = m.Hidden
	a.Invoices = m.Invoices

	return a, nil
}

const (
	utxoOutpointType tlv.Type = 0
	utxoHeightType   tlv.Type = 2
	utxoAmountType   tlv.Type = 4
	utxoTerminalType tlv.Type = 6
	utxoTweakType    tlv.Type = 7
)

func (u *Utxo) EncodeRecords() []tlv.Record {
	records := []tlv.Record{
		NewOutPointRecord(utxoOutpointType, &u.Outpoint),
		tlv.MakePrimitiveRecord(utxoHeightType, &u.Height),
		tlv.MakePrimitiveRecord(utxoAmountType, &u.Amount),
		NewTerminalRecord(utxoTerminalType, &u.Terminal),
	}
	if u.Tweak != nil {
		records = append(records, NewOptionalTapretRecord(
			utxoTweakType, &u.Tweak,
		))
	}

	return records
}

func (u *Utxo) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewOutPointRecord(utxoOutpointType, &u.Outpoint),
		tlv.MakePrimitiveRecord(utxoHeightType, &u.Height),
		tlv.MakePrimitiveRecord(utxoAmountType, &u.Amount),
		NewTerminalRecord(utxoTerminalType, &u.Terminal),
		NewOptionalTapretRecord(utxoTweakType, &u.Tweak),
	}
}

const (
	tweakTerminalType   tlv.Type = 0
	tweakCommitmentType tlv.Type = 2
)

func (t *TapretTweak) EncodeRecords() []tlv.Record {
	return t.DecodeRecords()
}

func (t *TapretTweak) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewTerminalRecord(tweakTerminalType, &t.Terminal),
		NewTapretRecord(tweakCommitmentType, &t.Commitment),
	}
}

const (
	walletXpubType       tlv.Type = 0
	walletUtxosType      tlv.Type = 2
	walletUsedType       tlv.Type = 4
	walletTweaksType     tlv.Type = 6
	walletSyncHeightType tlv.Type = 8
)

func (w *WatcherWallet) EncodeRecords() []tlv.Record {
	return w.DecodeRecords()
}

func (w *WatcherWallet) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewStringRecord(walletXpubType, &w.Xpub),
		rgb.NewSliceRecord[Utxo](walletUtxosType, &w.Utxos),
		NewTerminalsRecord(walletUsedType, &w.Used),
		rgb.NewSliceRecord[TapretTweak](walletTweaksType, &w.Tweaks),
		tlv.MakePrimitiveRecord(walletSyncHeightType, &w.SyncHeight),
	}
}

// walletEntry is a named watcher as stored in the account.
type walletEntry struct {
	Name   string
	Wallet WatcherWallet
}

const (
	entryNameType   tlv.Type = 0
	entryWalletType tlv.Type = 2
)

func (e *walletEntry) EncodeRecords() []tlv.Record {
	return e.DecodeRecords()
}

func (e *walletEntry) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewStringRecord(entryNameType, &e.Name),
		rgb.NewModelRecord[WatcherWallet](entryWalletType, &e.Wallet),
	}
}

// accountModel is the wire shape of an account with its wallets in name
// order.
type accountModel struct {
	Wallets  []walletEntry
	Hidden   []rgb.ContractID
	Invoices []string
}

const (
	accountWalletsType  tlv.Type = 0
	accountHiddenType   tlv.Type = 2
	accountInvoicesType tlv.Type = 4
)

func (m *accountModel) EncodeRecords() []tlv.Record {
	return m.DecodeRecords()
}

func (m *accountModel) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[walletEntry](accountWalletsType, &m.Wallets),
		NewContractIDsRecord(accountHiddenType, &m.Hidden),
		rgb.NewStringSliceRecord(accountInvoicesType, &m.Invoices),
	}
}
