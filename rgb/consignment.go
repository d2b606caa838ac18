package rgb

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"
	"lukechampine.com/blake3"
)

// ConsignmentVersion is the encoding version written by this package.
const ConsignmentVersion uint8 = 2

var (
	// ErrUnknownConsignmentVersion is returned for consignments of a
	// version this package can't read.
	ErrUnknownConsignmentVersion = errors.New("rgb: unknown consignment " +
		"version")

	// ErrNoIface is returned when a consignment or contract does not carry
	// the requested interface.
	ErrNoIface = errors.New("rgb: interface not found")
)

// MPCLeaf is one message of a multi protocol commitment: the bundle id of a
// contract.
type MPCLeaf struct {
	Protocol ContractID
	Message  BundleID
}

// Anchor binds bundles to a witness transaction through a tapret commitment
// in output Vout.
type Anchor struct {
	Txid chainhash.Hash
	Vout uint32

	// InternalKey is the untweaked key of the host output.
	InternalKey [btcec.PubKeyBytesLenCompressed]byte

	// Nonce makes the tapret leaf the rightmost of the tap tree.
	Nonce uint8

	// Leaves are all messages of the commitment, so the root can be
	// recomputed.
	Leaves []MPCLeaf
}

// Message returns the bundle committed to for a contract.
func (a *Anchor) Message(contract ContractID) (BundleID, bool) {
	for _, l := range a.Leaves {
		if l.Protocol == contract {
			return l.Message, true
		}
	}

	return BundleID{}, false
}

// AnchoredBundle is a bundle with the anchor of its witness transaction.
type AnchoredBundle struct {
	Anchor Anchor
	Bundle Bundle
}

// Terminal marks a bundle defining state for the receiver of a consignment.
type Terminal struct {
	Bundle BundleID
	Seal   SecretSeal
}

// MediaItem describes an attachment of a contract.
type MediaItem struct {
	Type   string
	Source string
	Digest [32]byte
}

// NewMediaItem creates a media item with the digest of its source.
func NewMediaItem(ty, source string) MediaItem {
	return MediaItem{
		Type:   ty,
		Source: source,
		Digest: blake3.Sum256([]byte(source)),
	}
}

// Consignment is the package moved between peers: a contract with its full
// state history, either as a plain contract or as a transfer to the owner
// of the terminal seals.
type Consignment struct {
	Version   uint8
	Transfer  bool
	Schema    Schema
	Ifaces    []IfacePair
	Genesis   Genesis
	Bundles   []AnchoredBundle
	Terminals []Terminal
	Media     []MediaItem
}

// ContractID returns the id of the consigned contract.
func (c *Consignment) ContractID() ContractID {
	return c.Genesis.ContractID()
}

// ID returns the consignment id.
func (c *Consignment) ID() ConsignmentID {
	return ConsignmentID(taggedHash(tagConsignment, ModelBytes(c)))
}

// Iface returns the interface pair with the given interface name.
func (c *Consignment) Iface(name string) (*IfacePair, error) {
	for i := range c.Ifaces {
		if c.Ifaces[i].Iface.Name == name {
			return &c.Ifaces[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrNoIface, name)
}

// Bundle returns the anchored bundle with the given id.
func (c *Consignment) Bundle(id BundleID) (*AnchoredBundle, bool) {
	for i := range c.Bundles {
		if c.Bundles[i].Bundle.ID() == id {
			return &c.Bundles[i], true
		}
	}

	return nil, false
}

// Encode writes the strict encoding of the consignment.
func (c *Consignment) Encode(w io.Writer) error {
	return EncodeModel(w, c)
}

// Decode reads a consignment and checks every revealed seal against its
// concealed form.
func (c *Consignment) Decode(r io.Reader) error {
	if err := DecodeModel(r, c); err != nil {
		return err
	}
	if c.Version > ConsignmentVersion {
		return fmt.Errorf("%w: %d", ErrUnknownConsignmentVersion,
			c.Version)
	}

	check := func(assignments []Assignment) error {
		for i := range assignments {
			if err := assignments[i].verifySeal(); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(c.Genesis.Assignments); err != nil {
		return err
	}
	for _, ab := range c.Bundles {
		for _, t := range ab.Bundle.Transitions {
			if err := check(t.Assignments); err != nil {
				return err
			}
		}
	}

	return nil
}

// Bytes returns the strict encoding of the consignment.
func (c *Consignment) Bytes() []byte {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		panic(err)
	}

	return b.Bytes()
}

// DecodeConsignment decodes a strict encoded consignment.
func DecodeConsignment(b []byte) (*Consignment, error) {
	var c Consignment
	if err := c.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return &c, nil
}

const (
	mpcLeafProtocolType tlv.Type = 0
	mpcLeafMessageType  tlv.Type = 2
)

func (l *MPCLeaf) EncodeRecords() []tlv.Record {
	return l.DecodeRecords()
}

func (l *MPCLeaf) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(mpcLeafProtocolType, &l.Protocol),
		NewHash32Record(mpcLeafMessageType, &l.Message),
	}
}

const (
	anchorTxidType        tlv.Type = 0
	anchorVoutType        tlv.Type = 2
	anchorInternalKeyType tlv.Type = 4
	anchorNonceType       tlv.Type = 6
	anchorLeavesType      tlv.Type = 8
)

func (a *Anchor) EncodeRecords() []tlv.Record {
	return a.DecodeRecords()
}

func (a *Anchor) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakeStaticRecord(anchorTxidType, (*[32]byte)(&a.Txid), 32,
			Hash32Encoder, Hash32Decoder),
		tlv.MakePrimitiveRecord(anchorVoutType, &a.Vout),
		tlv.MakePrimitiveRecord(anchorInternalKeyType, &a.InternalKey),
		tlv.MakePrimitiveRecord(anchorNonceType, &a.Nonce),
		NewSliceRecord[MPCLeaf](anchorLeavesType, &a.Leaves),
	}
}

const (
	anchoredBundleAnchorType tlv.Type = 0
	anchoredBundleBundleType tlv.Type = 2
)

func (a *AnchoredBundle) EncodeRecords() []tlv.Record {
	return a.DecodeRecords()
}

func (a *AnchoredBundle) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewModelRecord[Anchor](anchoredBundleAnchorType, &a.Anchor),
		NewModelRecord[Bundle](anchoredBundleBundleType, &a.Bundle),
	}
}

const (
	terminalBundleType tlv.Type = 0
	terminalSealType   tlv.Type = 2
)

func (t *Terminal) EncodeRecords() []tlv.Record {
	return t.DecodeRecords()
}

func (t *Terminal) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(terminalBundleType, &t.Bundle),
		NewHash32Record(terminalSealType, &t.Seal),
	}
}

const (
	mediaTypeType   tlv.Type = 0
	mediaSourceType tlv.Type = 2
	mediaDigestType tlv.Type = 4
)

func (m *MediaItem) EncodeRecords() []tlv.Record {
	return m.DecodeRecords()
}

func (m *MediaItem) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewStringRecord(mediaTypeType, &m.Type),
		NewStringRecord(mediaSourceType, &m.Source),
		tlv.MakePrimitiveRecord(mediaDigestType, &m.Digest),
	}
}

const (
	consignmentVersionType   tlv.Type = 0
	consignmentTransferType  tlv.Type = 2
	consignmentSchemaType    tlv.Type = 4
	consignmentIfacesType    tlv.Type = 6
	consignmentGenesisType   tlv.Type = 8
	consignmentBundlesType   tlv.Type = 10
	consignmentTerminalsType tlv.Type = 12
	consignmentMediaType     tlv.Type = 13
)

func (c *Consignment) EncodeRecords() []tlv.Record {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(consignmentVersionType, &c.Version),
		NewBoolRecord(consignmentTransferType, &c.Transfer),
	}
	records = append(records, c.bodyRecords()...)
	if len(c.Media) > 0 {
		records = append(records, NewSliceRecord[MediaItem](
			consignmentMediaType, &c.Media,
		))
	}

	return records
}

func (c *Consignment) DecodeRecords() []tlv.Record {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(consignmentVersionType, &c.Version),
		NewBoolRecord(consignmentTransferType, &c.Transfer),
	}
	records = append(records, c.bodyRecords()...)

	return append(records, NewSliceRecord[MediaItem](
		consignmentMediaType, &c.Media,
	))
}

func (c *Consignment) bodyRecords() []tlv.Record {
	return []tlv.Record{
		NewModelRecord[Schema](consignmentSchemaType, &c.Schema),
		NewSliceRecord[IfacePair](consignmentIfacesType, &c.Ifaces),
		NewModelRecord[Genesis](consignmentGenesisType, &c.Genesis),
		NewSliceRecord[AnchoredBundle](
			consignmentBundlesType, &c.Bundles,
		),
		NewSliceRecord[Terminal](
			consignmentTerminalsType, &c.Terminals,
		),
	}
}

func BoolEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*bool); ok {
		var v uint8
		if *t {
			v = 1
		}
		return tlv.EUint8(w, &v, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "bool")
}

func BoolDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*bool); ok && l == 1 {
		var v uint8
		if err := tlv.DUint8(r, &v, buf, 1); err != nil {
			return err
		}
		if v > 1 {
			return fmt.Errorf("rgb: invalid bool %d", v)
		}
		*t = v == 1
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "bool", l, 1)
}

func NewBoolRecord(typ tlv.Type, b *bool) tlv.Record {
	return tlv.MakeStaticRecord(typ, b, 1, BoolEncoder, BoolDecoder)
}
