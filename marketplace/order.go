package marketplace

import (
	"errors"
	"fmt"
	"time"

	"github.com/diba-io/bitmask/rgb"
	"github.com/google/uuid"
)

var (
	// ErrOfferNotFound is returned for offers that are neither on the
	// board nor in the user's book.
	ErrOfferNotFound = errors.New("marketplace: offer not found")

	// ErrOfferClosed is returned when bidding on or filling an offer that
	// is already filled, cancelled or expired.
	ErrOfferClosed = errors.New("marketplace: offer is not open")

	// ErrBidNotFound is returned for unknown bids.
	ErrBidNotFound = errors.New("marketplace: bid not found")

	// ErrInvalidOrder is returned for orders failing validation.
	ErrInvalidOrder = errors.New("marketplace: invalid order")
)

// Status is the lifecycle state of an offer or a bid.
type Status uint8

const (
	StatusOpen Status = 0
	StatusFill Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFill:
		return "fill"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Strategy is how an offer is meant to be settled.
type Strategy uint8

const (
	StrategyAuction Strategy = 0
	StrategyP2P     Strategy = 1
	StrategyHotSwap Strategy = 2
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuction:
		return "auction"
	case StrategyP2P:
		return "p2p"
	case StrategyHotSwap:
		return "hotswap"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// Offer sells an amount of a contract for a bitcoin price.
type Offer struct {
	ID         uuid.UUID
	Status     Status
	ContractID rgb.ContractID
	Iface      string

	// Terminal is the derivation terminal of the seller's allocation.
	Terminal string

	AssetAmount    uint64
	AssetPrecision uint8
	BitcoinPrice   uint64

	SellerPSBT    string
	SellerAddress string

	// Public is hex(pubkey) of the seller.
	Public string

	Strategy Strategy

	// ExpireAt is a unix timestamp, zero for offers that never expire.
	ExpireAt uint64

	// TransferID is set once the swap consignment exists.
	TransferID string
}

// Expired reports whether the offer is past its expiry at now.
func (o *Offer) Expired(now time.Time) bool {
	return o.ExpireAt != 0 && uint64(now.Unix()) >= o.ExpireAt
}

// Validate checks the fields a seller controls.
func (o *Offer) Validate() error {
	switch {
	case o.Iface == "":
		return fmt.Errorf("%w: missing interface", ErrInvalidOrder)
	case o.AssetAmount == 0:
		return fmt.Errorf("%w: zero asset amount", ErrInvalidOrder)
	case o.BitcoinPrice == 0:
		return fmt.Errorf("%w: zero bitcoin price", ErrInvalidOrder)
	case o.Strategy > StrategyHotSwap:
		return fmt.Errorf("%w: unknown strategy %v", ErrInvalidOrder,
			o.Strategy)
	}

	return nil
}

// Bid answers an offer.
type Bid struct {
	ID         uuid.UUID
	Status     Status
	OfferID    uuid.UUID
	ContractID rgb.ContractID
	Iface      string

	AssetAmount    uint64
	AssetPrecision uint8
	BitcoinAmount  uint64

	BuyerPSBT    string
	BuyerInvoice string

	// Public is hex(pubkey) of the buyer.
	Public string

	TransferID string
}

// Validate checks the fields a buyer controls.
func (b *Bid) Validate() error {
	switch {
	case b.AssetAmount == 0:
		return fmt.Errorf("%w: zero asset amount", ErrInvalidOrder)
	case b.BitcoinAmount == 0:
		return fmt.Errorf("%w: zero bitcoin amount", ErrInvalidOrder)
	case b.BuyerInvoice == "":
		return fmt.Errorf("%w: missing invoice", ErrInvalidOrder)
	}

	return nil
}

// PublicBid is the part of a bid shown on the board.
type PublicBid struct {
	ID            uuid.UUID
	OfferID       uuid.UUID
	AssetAmount   uint64
	BitcoinAmount uint64
	Public        string
}

// PublicBid strips a bid down to its board form.
func (b *Bid) PublicBid() PublicBid {
	return PublicBid{
		ID:            b.ID,
		OfferID:       b.OfferID,
		AssetAmount:   b.AssetAmount,
		BitcoinAmount: b.BitcoinAmount,
		Public:        b.Public,
	}
}

// Offers is the book of offers a user made, the content of the offers
// object.
type Offers struct {
	Offers []Offer
}

// Get returns the offer with the given id.
func (o *Offers) Get(id uuid.UUID) (*Offer, bool) {
	for i := range o.Offers {
		if o.Offers[i].ID == id {
			return &o.Offers[i], true
		}
	}

	return nil, false
}

// Save replaces the offer with the same id or appends it.
func (o *Offers) Save(offer Offer) {
	if cur, ok := o.Get(offer.ID); ok {
		*cur = offer
		return
	}
	o.Offers = append(o.Offers, offer)
}

// Remove drops an offer, reporting whether it was there.
func (o *Offers) Remove(id uuid.UUID) bool {
	for i := range o.Offers {
		if o.Offers[i].ID == id {
			o.Offers = append(o.Offers[:i], o.Offers[i+1:]...)
			return true
		}
	}

	return false
}

// ByContract lists the offers on a contract in book order.
func (o *Offers) ByContract(id rgb.ContractID) []Offer {
	var out []Offer
	for _, offer := range o.Offers {
		if offer.ContractID == id {
			out = append(out, offer)
		}
	}

	return out
}

// Complete fills the offer settled by transferID and returns it.
func (o *Offers) Complete(transferID string) (*Offer, bool) {
	if transferID == "" {
		return nil, false
	}
	for i := range o.Offers {
		if o.Offers[i].TransferID == transferID {
			o.Offers[i].Status = StatusFill
			return &o.Offers[i], true
		}
	}

	return nil, false
}

// Bids is the book of bids a user made.
type Bids struct {
	Bids []Bid
}

// Get returns the bid with the given id.
func (b *Bids) Get(id uuid.UUID) (*Bid, bool) {
	for i := range b.Bids {
		if b.Bids[i].ID == id {
			return &b.Bids[i], true
		}
	}

	return nil, false
}

// Save replaces the bid with the same id or appends it.
func (b *Bids) Save(bid Bid) {
	if cur, ok := b.Get(bid.ID); ok {
		*cur = bid
		return
	}
	b.Bids = append(b.Bids, bid)
}

// ByOffer lists the bids placed on an offer.
func (b *Bids) ByOffer(id uuid.UUID) []Bid {
	var out []Bid
	for _, bid := range b.Bids {
		if bid.OfferID == id {
			out = append(out, bid)
		}
	}

	return out
}

// Complete fills the bid settled by transferID and returns it.
func (b *Bids) Complete(transferID string) (*Bid, bool) {
	if transferID == "" {
		return nil, false
	}
	for i := range b.Bids {
		if b.Bids[i].TransferID == transferID {
			b.Bids[i].Status = StatusFill
			return &b.Bids[i], true
		}
	}

	return nil, false
}
