package cambria

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

// UtxoV0 is a cached output before tapret tweaks were tracked.
type UtxoV0 struct {
	Outpoint wire.OutPoint
	Height   uint32
	Amount   uint64
	Terminal keys.Terminal
}

func (u *UtxoV0) EncodeRecords() []tlv.Record {
	return u.DecodeRecords()
}

func (u *UtxoV0) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		account.NewOutPointRecord(0, &u.Outpoint),
		tlv.MakePrimitiveRecord(2, &u.Height),
		tlv.MakePrimitiveRecord(4, &u.Amount),
		account.NewTerminalRecord(6, &u.Terminal),
	}
}

// WalletV0 is a named watcher without tweaks, used terminals or sync height.
type WalletV0 struct {
	Name  string
	Xpub  string
	Utxos []UtxoV0
}

func (w *WalletV0) EncodeRecords() []tlv.Record {
	return w.DecodeRecords()
}

func (w *WalletV0) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewStringRecord(0, &w.Name),
		rgb.NewStringRecord(2, &w.Xpub),
		rgb.NewSliceRecord[UtxoV0](4, &w.Utxos),
	}
}

// AccountV0 is the first account shape.
type AccountV0 struct {
	Wallets []WalletV0
}

func (a *AccountV0) EncodeRecords() []tlv.Record {
	return a.DecodeRecords()
}

func (a *AccountV0) DecodeRecords() []tlv.Record {
	return []tlv.Record{rgb.NewSliceRecord[WalletV0](0, &a.Wallets)}
}

// Bytes returns the V0 encoding.
func (a *AccountV0) Bytes() []byte {
	return rgb.ModelBytes(a)
}

// DecodeAccountV0 decodes a V0 account. An empty input is an empty account.
func DecodeAccountV0(data []byte) (*AccountV0, error) {
	a := &AccountV0{}
	if len(data) == 0 {
		return a, nil
	}
	if err := rgb.DecodeModel(bytes.NewReader(data), a); err != nil {
		return nil, err
	}

	return a, nil
}

// Upgrade converts the account to the current shape. Fields V0 lacks take
// their zero values.
func (a *AccountV0) Upgrade() *account.RgbAccount {
	out := account.NewRgbAccount()
	for _, w := range a.Wallets {
		wallet := account.NewWatcherWallet(w.Xpub)
		for _, u := range w.Utxos {
			wallet.Utxos = append(wallet.Utxos, account.Utxo{
				Outpoint: u.Outpoint,
				Height:   u.Height,
				Amount:   u.Amount,
				Terminal: u.Terminal,
			})
			wallet.MarkUsed(u.Terminal)
		}
		out.Wallets[w.Name] = wallet
	}

	return out
}

// TransferV0 is a catalogued transfer before RBF tracking.
type TransferV0 struct {
	ConsigID    rgb.ConsignmentID
	Iface       string
	Consignment []byte
	Txid        chainhash.Hash
	Sent        bool
}

func (t *TransferV0) EncodeRecords() []tlv.Record {
	return t.DecodeRecords()
}

func (t *TransferV0) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewHash32Record(0, &t.ConsigID),
		rgb.NewStringRecord(2, &t.Iface),
		rgb.NewVarBytesRecord(4, &t.Consignment),
		tlv.MakePrimitiveRecord(6, (*[32]byte)(&t.Txid)),
		rgb.NewBoolRecord(8, &t.Sent),
	}
}

// ContractTransfersV0 holds the V0 records of one contract.
type ContractTransfersV0 struct {
	Contract rgb.ContractID
	Records  []TransferV0
}

func (c *ContractTransfersV0) EncodeRecords() []tlv.Record {
	return c.DecodeRecords()
}

func (c *ContractTransfersV0) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewHash32Record(0, &c.Contract),
		rgb.NewSliceRecord[TransferV0](2, &c.Records),
	}
}

// TransfersV0 is the first transfer catalogue shape.
type TransfersV0 struct {
	Contracts []ContractTransfersV0
}

func (t *TransfersV0) EncodeRecords() []tlv.Record {
	return t.DecodeRecords()
}

func (t *TransfersV0) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[ContractTransfersV0](0, &t.Contracts),
	}
}

// Bytes returns the V0 encoding.
func (t *TransfersV0) Bytes() []byte {
	return rgb.ModelBytes(t)
}

// DecodeTransfersV0 decodes a V0 catalogue. An empty input is an empty
// catalogue.
func DecodeTransfersV0(data []byte) (*TransfersV0, error) {
	t := &TransfersV0{}
	if len(data) == 0 {
		return t, nil
	}
	if err := rgb.DecodeModel(bytes.NewReader(data), t); err != nil {
		return nil, err
	}

	return t, nil
}

// Upgrade converts the catalogue to the current shape. V0 records carry no
// chain status, so they start as mempool and are refreshed on read.
func (t *TransfersV0) Upgrade() *account.RgbTransfers {
	out := account.NewRgbTransfers()
	for _, c := range t.Contracts {
		for _, r := range c.Records {
			direction := account.DirectionReceived
			if r.Sent {
				direction = account.DirectionSent
			}

			out.Save(c.Contract, account.TransferRecord{
				ConsigID:    r.ConsigID,
				Iface:       r.Iface,
				Direction:   direction,
				Status:      account.TransferStatus{},
				Consignment: r.Consignment,
				Txid:        r.Txid,
			})
		}
	}

	return out
}
