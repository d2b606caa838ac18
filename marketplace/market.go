package marketplace

import (
	"context"
	"fmt"

	"github.com/diba-io/bitmask/cambria"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/keys"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

// BoardTag is the metadata tag of the board object and its forks.
var BoardTag = [carbonado.MetadataSize]byte{'c', 'r', 'd', 't', 'l', 'o', 'g', '1'}

// Config holds what a Market needs.
type Config struct {
	// Store holds both the users' books and the public board.
	Store *carbonado.Store

	// BoardSecret is the key shared by every client of the board. It is
	// a separate encryption context from the users' own secrets.
	BoardSecret *keys.SigningSecret

	Clock clock.Clock
}

// Market publishes offers and bids. Users keep their own books in their
// encrypted store while the public board is a shared op log that every
// client forks, edits and merges back.
type Market struct {
	cfg *Config
}

// NewMarket creates a market.
func NewMarket(cfg *Config) *Market {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Market{cfg: cfg}
}

func forkName(actor string) string {
	return carbonado.MarketplaceOffers + "-" + actor
}

// Board reads and replays the public board.
func (m *Market) Board(ctx context.Context) (*State, error) {
	raw, _, err := m.cfg.Store.Retrieve(
		ctx, m.cfg.BoardSecret, carbonado.MarketplaceOffers,
	)
	if err != nil {
		return nil, err
	}

	l, err := DecodeLog(raw)
	if err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}

	return l.State(), nil
}

// publish appends ops to actor's fork of the board and merges the fork back
// into the public board. The fork is created from the board on first use and
// catches up with it on every publish, so edits made from a stale copy are
// never lost.
func (m *Market) publish(ctx context.Context, actor string, ops ...Op) error {
	var (
		store  = m.cfg.Store
		secret = m.cfg.BoardSecret
		fork   = forkName(actor)
	)

	meta, err := store.RetrieveMetadata(ctx, secret, fork)
	if err != nil {
		return err
	}
	if meta == nil {
		err := store.Fork(ctx, secret, carbonado.MarketplaceOffers, fork)
		if err != nil {
			return err
		}
	}

	forked, _, err := store.Retrieve(ctx, secret, fork)
	if err != nil {
		return err
	}
	public, _, err := store.Retrieve(ctx, secret, carbonado.MarketplaceOffers)
	if err != nil {
		return err
	}
	raw, err := MergeBytes(public, forked)
	if err != nil {
		return err
	}
	l, err := DecodeLog(raw)
	if err != nil {
		return err
	}

	stamped := l.Append(actor, ops...)
	local := l.Bytes()
	if err := store.Store(ctx, secret, fork, local, BoardTag); err != nil {
		return err
	}

	merged, err := store.Merge(
		ctx, secret, carbonado.MarketplaceOffers, local, BoardTag,
		MergeBytes,
	)
	if err != nil {
		return err
	}
	if err := store.Store(ctx, secret, fork, merged, BoardTag); err != nil {
		return err
	}

	for _, op := range stamped {
		log.Debugf("Published %v on %v at clock %d by %.8s", op.Kind,
			op.Target, op.Clock, actor)
	}

	return nil
}

// Offers returns the user's offer book.
func (m *Market) Offers(ctx context.Context,
	user *keys.SigningSecret) (*Offers, error) {

	raw, _, err := m.cfg.Store.Retrieve(ctx, user, carbonado.AssetsOffers)
	if err != nil {
		return nil, err
	}

	return DecodeOffers(raw)
}

// Bids returns the user's bid book.
func (m *Market) Bids(ctx context.Context,
	user *keys.SigningSecret) (*Bids, error) {

	raw, _, err := m.cfg.Store.Retrieve(ctx, user, carbonado.AssetsBids)
	if err != nil {
		return nil, err
	}

	return DecodeBids(raw)
}

func (m *Market) storeOffers(ctx context.Context, user *keys.SigningSecret,
	o *Offers) error {

	return m.cfg.Store.Store(
		ctx, user, carbonado.AssetsOffers, o.Bytes(), cambria.CurrentTag,
	)
}

func (m *Market) storeBids(ctx context.Context, user *keys.SigningSecret,
	b *Bids) error {

	return m.cfg.Store.Store(
		ctx, user, carbonado.AssetsBids, b.Bytes(), cambria.CurrentTag,
	)
}

// PublishOffer opens an offer, publishes it on the board and records it in
// the seller's book. The offer id and public key are assigned here.
func (m *Market) PublishOffer(ctx context.Context, user *keys.SigningSecret,
	offer Offer) (*Offer, error) {

	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if offer.Expired(m.cfg.Clock.Now()) {
		return nil, fmt.Errorf("%w: already expired", ErrInvalidOrder)
	}

	actor, err := user.UserID()
	if err != nil {
		return nil, err
	}
	book, err := m.Offers(ctx, user)
	if err != nil {
		return nil, err
	}

	offer.ID = uuid.New()
	offer.Status = StatusOpen
	offer.Public = actor
	offer.TransferID = ""

	err = m.publish(ctx, actor, Op{
		Kind: OpAddOffer, Target: offer.ID, Offer: &offer,
	})
	if err != nil {
		return nil, err
	}

	book.Save(offer)
	if err := m.storeOffers(ctx, user, book); err != nil {
		return nil, err
	}

	log.Infof("Offer %v: %d of %v for %d sats", offer.ID,
		offer.AssetAmount, offer.ContractID, offer.BitcoinPrice)

	return &offer, nil
}

// PublishBid places a bid on an open offer of the board and records it in
// the buyer's book.
func (m *Market) PublishBid(ctx context.Context, user *keys.SigningSecret,
	bid Bid) (*Bid, error) {

	if err := bid.Validate(); err != nil {
		return nil, err
	}

	board, err := m.Board(ctx)
	if err != nil {
		return nil, err
	}
	offer, ok := board.Offer(bid.OfferID)
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %v", ErrOfferNotFound, bid.OfferID)
	case offer.Status != StatusOpen || offer.Expired(m.cfg.Clock.Now()):
		return nil, fmt.Errorf("%w: %v", ErrOfferClosed, bid.OfferID)
	case bid.AssetAmount > offer.AssetAmount:
		return nil, fmt.Errorf("%w: bid for %d of %d offered",
			ErrInvalidOrder, bid.AssetAmount, offer.AssetAmount)
	}

	actor, err := user.UserID()
	if err != nil {
		return nil, err
	}
	book, err := m.Bids(ctx, user)
	if err != nil {
		return nil, err
	}

	bid.ID = uuid.New()
	bid.Status = StatusOpen
	bid.ContractID = offer.ContractID
	bid.Iface = offer.Iface
	bid.AssetPrecision = offer.AssetPrecision
	bid.Public = actor
	bid.TransferID = ""

	public := bid.PublicBid()
	err = m.publish(ctx, actor, Op{
		Kind: OpAddBid, Target: offer.ID, Bid: &public,
	})
	if err != nil {
		return nil, err
	}

	book.Save(bid)
	if err := m.storeBids(ctx, user, book); err != nil {
		return nil, err
	}

	log.Infof("Bid %v on offer %v: %d sats", bid.ID, offer.ID,
		bid.BitcoinAmount)

	return &bid, nil
}

// ListPublicOffers lists the open offers of the board.
func (m *Market) ListPublicOffers(ctx context.Context) ([]Offer, error) {
	board, err := m.Board(ctx)
	if err != nil {
		return nil, err
	}

	return board.OpenOffers(m.cfg.Clock.Now()), nil
}

// OfferBids lists the public bids placed on an offer.
func (m *Market) OfferBids(ctx context.Context,
	offer uuid.UUID) ([]PublicBid, error) {

	board, err := m.Board(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := board.Offer(offer); !ok {
		return nil, fmt.Errorf("%w: %v", ErrOfferNotFound, offer)
	}

	return board.Bids(offer), nil
}

// CancelOffer takes an open offer of the user off the board and out of the
// user's book.
func (m *Market) CancelOffer(ctx context.Context, user *keys.SigningSecret,
	id uuid.UUID) error {

	book, err := m.Offers(ctx, user)
	if err != nil {
		return err
	}
	offer, ok := book.Get(id)
	switch {
	case !ok:
		return fmt.Errorf("%w: %v", ErrOfferNotFound, id)
	case offer.Status != StatusOpen:
		return fmt.Errorf("%w: %v", ErrOfferClosed, id)
	}

	actor, err := user.UserID()
	if err != nil {
		return err
	}
	err = m.publish(ctx, actor, Op{Kind: OpRemoveOffer, Target: id})
	if err != nil {
		return err
	}

	book.Remove(id)
	if err := m.storeOffers(ctx, user, book); err != nil {
		return err
	}

	log.Infof("Offer %v cancelled", id)

	return nil
}

// FillOffer marks an offer of the user as settled by a transfer, in the
// book and on the board.
func (m *Market) FillOffer(ctx context.Context, user *keys.SigningSecret,
	id uuid.UUID, transferID string) (*Offer, error) {

	if transferID == "" {
		return nil, fmt.Errorf("%w: missing transfer id", ErrInvalidOrder)
	}

	book, err := m.Offers(ctx, user)
	if err != nil {
		return nil, err
	}
	offer, ok := book.Get(id)
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %v", ErrOfferNotFound, id)
	case offer.Status != StatusOpen:
		return nil, fmt.Errorf("%w: %v", ErrOfferClosed, id)
	}

	actor, err := user.UserID()
	if err != nil {
		return nil, err
	}
	err = m.publish(ctx, actor, Op{
		Kind: OpUpdateOffer, Target: id, Status: StatusFill,
		TransferID: transferID,
	})
	if err != nil {
		return nil, err
	}

	offer.TransferID = transferID
	filled, _ := book.Complete(transferID)
	if err := m.storeOffers(ctx, user, book); err != nil {
		return nil, err
	}

	log.Infof("Offer %v filled by transfer %v", id, transferID)

	cp := *filled
	return &cp, nil
}

// FillBid marks a bid of the user as settled by a transfer.
func (m *Market) FillBid(ctx context.Context, user *keys.SigningSecret,
	id uuid.UUID, transferID string) (*Bid, error) {

	if transferID == "" {
		return nil, fmt.Errorf("%w: missing transfer id", ErrInvalidOrder)
	}

	book, err := m.Bids(ctx, user)
	if err != nil {
		return nil, err
	}
	bid, ok := book.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBidNotFound, id)
	}

	bid.TransferID = transferID
	filled, _ := book.Complete(transferID)
	if err := m.storeBids(ctx, user, book); err != nil {
		return nil, err
	}

	cp := *filled
	return &cp, nil
}
