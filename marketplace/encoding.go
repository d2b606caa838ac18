package marketplace

import (
	"bytes"
	"io"

	"github.com/diba-io/bitmask/rgb"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/tlv"
)

func UUIDEncoder(w io.Writer, val any, _ *[8]byte) error {
	if t, ok := val.(*uuid.UUID); ok {
		_, err := w.Write(t[:])
		return err
	}
	return tlv.NewTypeForEncodingErr(val, "uuid.UUID")
}

func UUIDDecoder(r io.Reader, val any, _ *[8]byte, l uint64) error {
	if t, ok := val.(*uuid.UUID); ok && l == 16 {
		_, err := io.ReadFull(r, t[:])
		return err
	}
	return tlv.NewTypeForDecodingErr(val, "uuid.UUID", l, 16)
}

func NewUUIDRecord(typ tlv.Type, id *uuid.UUID) tlv.Record {
	return tlv.MakeStaticRecord(typ, id, 16, UUIDEncoder, UUIDDecoder)
}

const (
	offerIDType         tlv.Type = 0
	offerStatusType     tlv.Type = 2
	offerContractType   tlv.Type = 4
	offerIfaceType      tlv.Type = 6
	offerTerminalType   tlv.Type = 8
	offerAmountType     tlv.Type = 10
	offerPrecisionType  tlv.Type = 12
	offerPriceType      tlv.Type = 14
	offerPSBTType       tlv.Type = 16
	offerAddressType    tlv.Type = 18
	offerPublicType     tlv.Type = 20
	offerStrategyType   tlv.Type = 22
	offerExpireType     tlv.Type = 24
	offerTransferIDType tlv.Type = 26
)

func (o *Offer) EncodeRecords() []tlv.Record {
	return o.DecodeRecords()
}

func (o *Offer) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewUUIDRecord(offerIDType, &o.ID),
		tlv.MakePrimitiveRecord(offerStatusType, (*uint8)(&o.Status)),
		rgb.NewHash32Record(offerContractType, &o.ContractID),
		rgb.NewStringRecord(offerIfaceType, &o.Iface),
		rgb.NewStringRecord(offerTerminalType, &o.Terminal),
		tlv.MakePrimitiveRecord(offerAmountType, &o.AssetAmount),
		tlv.MakePrimitiveRecord(offerPrecisionType, &o.AssetPrecision),
		tlv.MakePrimitiveRecord(offerPriceType, &o.BitcoinPrice),
		rgb.NewStringRecord(offerPSBTType, &o.SellerPSBT),
		rgb.NewStringRecord(offerAddressType, &o.SellerAddress),
		rgb.NewStringRecord(offerPublicType, &o.Public),
		tlv.MakePrimitiveRecord(
			offerStrategyType, (*uint8)(&o.Strategy),
		),
		tlv.MakePrimitiveRecord(offerExpireType, &o.ExpireAt),
		rgb.NewStringRecord(offerTransferIDType, &o.TransferID),
	}
}

const (
	bidIDType         tlv.Type = 0
	bidStatusType     tlv.Type = 2
	bidOfferType      tlv.Type = 4
	bidContractType   tlv.Type = 6
	bidIfaceType      tlv.Type = 8
	bidAmountType     tlv.Type = 10
	bidPrecisionType  tlv.Type = 12
	bidBitcoinType    tlv.Type = 14
	bidPSBTType       tlv.Type = 16
	bidInvoiceType    tlv.Type = 18
	bidPublicType     tlv.Type = 20
	bidTransferIDType tlv.Type = 22
)

func (b *Bid) EncodeRecords() []tlv.Record {
	return b.DecodeRecords()
}

func (b *Bid) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewUUIDRecord(bidIDType, &b.ID),
		tlv.MakePrimitiveRecord(bidStatusType, (*uint8)(&b.Status)),
		NewUUIDRecord(bidOfferType, &b.OfferID),
		rgb.NewHash32Record(bidContractType, &b.ContractID),
		rgb.NewStringRecord(bidIfaceType, &b.Iface),
		tlv.MakePrimitiveRecord(bidAmountType, &b.AssetAmount),
		tlv.MakePrimitiveRecord(bidPrecisionType, &b.AssetPrecision),
		tlv.MakePrimitiveRecord(bidBitcoinType, &b.BitcoinAmount),
		rgb.NewStringRecord(bidPSBTType, &b.BuyerPSBT),
		rgb.NewStringRecord(bidInvoiceType, &b.BuyerInvoice),
		rgb.NewStringRecord(bidPublicType, &b.Public),
		rgb.NewStringRecord(bidTransferIDType, &b.TransferID),
	}
}

const (
	publicBidIDType      tlv.Type = 0
	publicBidOfferType   tlv.Type = 2
	publicBidAmountType  tlv.Type = 4
	publicBidBitcoinType tlv.Type = 6
	publicBidPublicType  tlv.Type = 8
)

func (b *PublicBid) EncodeRecords() []tlv.Record {
	return b.DecodeRecords()
}

func (b *PublicBid) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewUUIDRecord(publicBidIDType, &b.ID),
		NewUUIDRecord(publicBidOfferType, &b.OfferID),
		tlv.MakePrimitiveRecord(publicBidAmountType, &b.AssetAmount),
		tlv.MakePrimitiveRecord(publicBidBitcoinType, &b.BitcoinAmount),
		rgb.NewStringRecord(publicBidPublicType, &b.Public),
	}
}

const (
	opIDType         tlv.Type = 0
	opClockType      tlv.Type = 2
	opActorType      tlv.Type = 4
	opKindType       tlv.Type = 6
	opTargetType     tlv.Type = 8
	opStatusType     tlv.Type = 10
	opTransferIDType tlv.Type = 12
	opOfferType      tlv.Type = 13
	opBidType        tlv.Type = 15
)

func (o *Op) EncodeRecords() []tlv.Record {
	records := []tlv.Record{
		NewUUIDRecord(opIDType, &o.ID),
		tlv.MakePrimitiveRecord(opClockType, &o.Clock),
		rgb.NewStringRecord(opActorType, &o.Actor),
		tlv.MakePrimitiveRecord(opKindType, (*uint8)(&o.Kind)),
		NewUUIDRecord(opTargetType, &o.Target),
		tlv.MakePrimitiveRecord(opStatusType, (*uint8)(&o.Status)),
		rgb.NewStringRecord(opTransferIDType, &o.TransferID),
	}
	if o.Offer != nil {
		records = append(records, rgb.NewOptionalModelRecord[Offer](
			opOfferType, &o.Offer,
		))
	}
	if o.Bid != nil {
		records = append(records, rgb.NewOptionalModelRecord[PublicBid](
			opBidType, &o.Bid,
		))
	}

	return records
}

func (o *Op) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewUUIDRecord(opIDType, &o.ID),
		tlv.MakePrimitiveRecord(opClockType, &o.Clock),
		rgb.NewStringRecord(opActorType, &o.Actor),
		tlv.MakePrimitiveRecord(opKindType, (*uint8)(&o.Kind)),
		NewUUIDRecord(opTargetType, &o.Target),
		tlv.MakePrimitiveRecord(opStatusType, (*uint8)(&o.Status)),
		rgb.NewStringRecord(opTransferIDType, &o.TransferID),
		rgb.NewOptionalModelRecord[Offer](opOfferType, &o.Offer),
		rgb.NewOptionalModelRecord[PublicBid](opBidType, &o.Bid),
	}
}

const (
	offersListType tlv.Type = 0
	bidsListType   tlv.Type = 0
	logOpsType     tlv.Type = 0
)

func (o *Offers) EncodeRecords() []tlv.Record {
	return o.DecodeRecords()
}

func (o *Offers) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[Offer](offersListType, &o.Offers),
	}
}

// Bytes returns the TLV encoding of the book.
func (o *Offers) Bytes() []byte {
	return rgb.ModelBytes(o)
}

// DecodeOffers decodes an offer book. An empty input is an empty book.
func DecodeOffers(b []byte) (*Offers, error) {
	o := &Offers{}
	if len(b) == 0 {
		return o, nil
	}
	if err := rgb.DecodeModel(bytes.NewReader(b), o); err != nil {
		return nil, err
	}

	return o, nil
}

func (b *Bids) EncodeRecords() []tlv.Record {
	return b.DecodeRecords()
}

func (b *Bids) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[Bid](bidsListType, &b.Bids),
	}
}

// Bytes returns the TLV encoding of the book.
func (b *Bids) Bytes() []byte {
	return rgb.ModelBytes(b)
}

// DecodeBids decodes a bid book. An empty input is an empty book.
func DecodeBids(raw []byte) (*Bids, error) {
	b := &Bids{}
	if len(raw) == 0 {
		return b, nil
	}
	if err := rgb.DecodeModel(bytes.NewReader(raw), b); err != nil {
		return nil, err
	}

	return b, nil
}

func (l *Log) EncodeRecords() []tlv.Record {
	return l.DecodeRecords()
}

func (l *Log) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[Op](logOpsType, &l.Ops),
	}
}

// Bytes returns the TLV encoding of the log.
func (l *Log) Bytes() []byte {
	return rgb.ModelBytes(l)
}

// DecodeLog decodes an operation log, restoring its order. An empty input
// is an empty log.
func DecodeLog(b []byte) (*Log, error) {
	l := &Log{}
	if len(b) == 0 {
		return l, nil
	}
	if err := rgb.DecodeModel(bytes.NewReader(b), l); err != nil {
		return nil, err
	}
	l.normalize()

	return l, nil
}
