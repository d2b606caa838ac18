package account

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

// Direction tells whether a transfer was sent or received.
type Direction uint8

const (
	DirectionSent     Direction = 0
	DirectionReceived Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionSent:
		return "sent"
	case DirectionReceived:
		return "received"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// StatusKind is the chain status of a transfer's witness transaction.
type StatusKind uint8

const (
	// StatusMempool means the witness has not been seen in a block yet.
	StatusMempool StatusKind = 0

	// StatusBlock means the witness is mined at Height.
	StatusBlock StatusKind = 1

	// StatusReorged means the witness was mined once and is now gone, or
	// lost against a conflicting transfer.
	StatusReorged StatusKind = 2

	// StatusUnknown means the witness was never seen within the mempool
	// window.
	StatusUnknown StatusKind = 3
)

// TransferStatus is the status of a transfer record.
type TransferStatus struct {
	Kind   StatusKind
	Height uint32
}

func (s TransferStatus) String() string {
	switch s.Kind {
	case StatusMempool:
		return "mempool"
	case StatusBlock:
		return fmt.Sprintf("block(%d)", s.Height)
	case StatusReorged:
		return "reorged"
	default:
		return "unknown"
	}
}

// TransferRecord is a catalogued transfer of a contract.
type TransferRecord struct {
	ConsigID    rgb.ConsignmentID
	Iface       string
	Direction   Direction
	Status      TransferStatus
	Consignment []byte

	// Txid is the witness transaction.
	Txid chainhash.Hash

	// RBF is set on transfers that replaced an earlier pending one.
	RBF bool

	// Utxos are the outputs the witness spends.
	Utxos []wire.OutPoint

	// Beneficiaries are the concealed seals paid by the transfer.
	Beneficiaries []string

	// CreatedAt is the unix time the record was saved.
	CreatedAt uint64
}

// RgbTransfers is the transfer catalogue of a user.
type RgbTransfers struct {
	Transfers map[rgb.ContractID][]TransferRecord
}

// NewRgbTransfers returns an empty catalogue.
func NewRgbTransfers() *RgbTransfers {
	return &RgbTransfers{
		Transfers: make(map[rgb.ContractID][]TransferRecord),
	}
}

// Save appends a record, replacing one with the same consignment id.
func (t *RgbTransfers) Save(contract rgb.ContractID, rec TransferRecord) {
	records := t.Transfers[contract]
	for i := range records {
		if records[i].ConsigID == rec.ConsigID {
			records[i] = rec
			return
		}
	}
	t.Transfers[contract] = append(records, rec)
}

// List returns the records of a contract in insertion order.
func (t *RgbTransfers) List(contract rgb.ContractID) []TransferRecord {
	return t.Transfers[contract]
}

// Remove drops the given records of a contract and returns how many were
// removed.
func (t *RgbTransfers) Remove(contract rgb.ContractID,
	ids ...rgb.ConsignmentID) int {

	drop := make(map[rgb.ConsignmentID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	var (
		kept    []TransferRecord
		removed int
	)
	for _, rec := range t.Transfers[contract] {
		if _, ok := drop[rec.ConsigID]; ok {
			removed++
			continue
		}
		kept = append(kept, rec)
	}

	if len(kept) == 0 {
		delete(t.Transfers, contract)
	} else {
		t.Transfers[contract] = kept
	}

	return removed
}

// Contracts returns the contracts with records, in id order.
func (t *RgbTransfers) Contracts() []rgb.ContractID {
	ids := make([]rgb.ContractID, 0, len(t.Transfers))
	for id := range t.Transfers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	return ids
}

// Bytes returns the TLV encoding of the catalogue.
func (t *RgbTransfers) Bytes() []byte {
	var m transfersModel
	for _, id := range t.Contracts() {
		m.Contracts = append(m.Contracts, contractTransfers{
			Contract: id, Records: t.Transfers[id],
		})
	}

	return rgb.ModelBytes(&m)
}

// DecodeRgbTransfers decodes a catalogue. An empty input is an empty
// catalogue.
func DecodeRgbTransfers(b []byte) (*RgbTransfers, error) {
	t := NewRgbTransfers()
	if len(b) == 0 {
		return t, nil
	}

	var m transfersModel
	if err := rgb.DecodeModel(bytes.NewReader(b), &m); err != nil {
		return nil, err
	}
	for _, c := range m.Contracts {
		t.Transfers[c.Contract] = c.Records
	}

	return t, nil
}

func directionEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*Direction); ok {
		return tlv.EUint8T(w, uint8(*t), buf)
	}
	return tlv.NewTypeForEncodingErr(val, "account.Direction")
}

func directionDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*Direction); ok && l == 1 {
		var v uint8
		if err := tlv.DUint8(r, &v, buf, 1); err != nil {
			return err
		}
		if Direction(v) > DirectionReceived {
			return fmt.Errorf("account: unknown direction %d", v)
		}
		*t = Direction(v)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "account.Direction", l, 1)
}

func statusEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*TransferStatus); ok {
		if err := tlv.EUint8T(w, uint8(t.Kind), buf); err != nil {
			return err
		}
		return tlv.EUint32T(w, t.Height, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "account.TransferStatus")
}

func statusDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*TransferStatus); ok && l == 5 {
		var kind uint8
		if err := tlv.DUint8(r, &kind, buf, 1); err != nil {
			return err
		}
		if StatusKind(kind) > StatusUnknown {
			return fmt.Errorf("account: unknown status %d", kind)
		}
		t.Kind = StatusKind(kind)
		return tlv.DUint32(r, &t.Height, buf, 4)
	}
	return tlv.NewTypeForDecodingErr(val, "account.TransferStatus", l, 5)
}

const (
	recordConsigIDType      tlv.Type = 0
	recordDirectionType     tlv.Type = 2
	recordStatusType        tlv.Type = 4
	recordConsignmentType   tlv.Type = 6
	recordTxidType          tlv.Type = 8
	recordRBFType           tlv.Type = 10
	recordUtxosType         tlv.Type = 12
	recordBeneficiariesType tlv.Type = 14
	recordCreatedAtType     tlv.Type = 16
	recordIfaceType         tlv.Type = 18
)

func (r *TransferRecord) EncodeRecords() []tlv.Record {
	return r.DecodeRecords()
}

func (r *TransferRecord) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewHash32Record(recordConsigIDType, &r.ConsigID),
		tlv.MakeStaticRecord(recordDirectionType, &r.Direction, 1,
			directionEncoder, directionDecoder),
		tlv.MakeStaticRecord(recordStatusType, &r.Status, 5,
			statusEncoder, statusDecoder),
		rgb.NewVarBytesRecord(recordConsignmentType, &r.Consignment),
		tlv.MakePrimitiveRecord(
			recordTxidType, (*[32]byte)(&r.Txid),
		),
		rgb.NewBoolRecord(recordRBFType, &r.RBF),
		NewOutPointsRecord(recordUtxosType, &r.Utxos),
		rgb.NewStringSliceRecord(
			recordBeneficiariesType, &r.Beneficiaries,
		),
		tlv.MakePrimitiveRecord(recordCreatedAtType, &r.CreatedAt),
		rgb.NewStringRecord(recordIfaceType, &r.Iface),
	}
}

// contractTransfers is the wire shape of one contract's records.
type contractTransfers struct {
	Contract rgb.ContractID
	Records  []TransferRecord
}

const (
	contractTransfersIDType      tlv.Type = 0
	contractTransfersRecordsType tlv.Type = 2
)

func (c *contractTransfers) EncodeRecords() []tlv.Record {
	return c.DecodeRecords()
}

func (c *contractTransfers) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewHash32Record(contractTransfersIDType, &c.Contract),
		rgb.NewSliceRecord[TransferRecord](
			contractTransfersRecordsType, &c.Records,
		),
	}
}

type transfersModel struct {
	Contracts []contractTransfers
}

func (m *transfersModel) EncodeRecords() []tlv.Record {
	return m.DecodeRecords()
}

func (m *transfersModel) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[contractTransfers](0, &m.Contracts),
	}
}
