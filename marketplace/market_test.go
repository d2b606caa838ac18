package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testStart = time.Unix(1700000000, 0)

func newSecret(t *testing.T) *keys.SigningSecret {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	secret, err := keys.NewSigningSecret(priv.Serialize())
	require.NoError(t, err)
	t.Cleanup(secret.Destroy)

	return secret
}

type marketHarness struct {
	market *Market
	clock  *clock.TestClock
	store  *carbonado.Store
	board  *keys.SigningSecret
}

func newMarketHarness(t *testing.T) *marketHarness {
	t.Helper()

	backend, err := carbonado.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	h := &marketHarness{
		clock: clock.NewTestClock(testStart),
		store: carbonado.NewStore(backend, "regtest"),
		board: newSecret(t),
	}
	h.market = NewMarket(&Config{
		Store: h.store, BoardSecret: h.board, Clock: h.clock,
	})

	return h
}

func testOffer(amount uint64) Offer {
	return Offer{
		ContractID:    rgb.ContractID{0xd1, 0xba},
		Iface:         "RGB20",
		Terminal:      "/20/1",
		AssetAmount:   amount,
		BitcoinPrice:  amount * 1000,
		SellerAddress: "bcrt1p...",
		Strategy:      StrategyP2P,
	}
}

func TestMarketOfferLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newMarketHarness(t)
	seller, buyer := newSecret(t), newSecret(t)

	offers, err := h.market.ListPublicOffers(ctx)
	require.NoError(t, err)
	require.Empty(t, offers)

	offer, err := h.market.PublishOffer(ctx, seller, testOffer(5))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, offer.ID)
	require.Equal(t, StatusOpen, offer.Status)

	sellerID, err := seller.UserID()
	require.NoError(t, err)
	require.Equal(t, sellerID, offer.Public)

	offers, err = h.market.ListPublicOffers(ctx)
	require.NoError(t, err)
	require.Equal(t, []Offer{*offer}, offers)

	book, err := h.market.Offers(ctx, seller)
	require.NoError(t, err)
	require.Equal(t, []Offer{*offer}, book.Offers)

	bid, err := h.market.PublishBid(ctx, buyer, Bid{
		OfferID:       offer.ID,
		AssetAmount:   2,
		BitcoinAmount: 2000,
		BuyerInvoice:  "rgb:...",
	})
	require.NoError(t, err)
	require.Equal(t, offer.ContractID, bid.ContractID)
	require.Equal(t, offer.Iface, bid.Iface)

	bids, err := h.market.OfferBids(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, []PublicBid{bid.PublicBid()}, bids)

	buyerBook, err := h.market.Bids(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, buyerBook.ByOffer(offer.ID), 1)

	filled, err := h.market.FillOffer(ctx, seller, offer.ID, "consig")
	require.NoError(t, err)
	require.Equal(t, StatusFill, filled.Status)
	require.Equal(t, "consig", filled.TransferID)

	filledBid, err := h.market.FillBid(ctx, buyer, bid.ID, "consig")
	require.NoError(t, err)
	require.Equal(t, StatusFill, filledBid.Status)

	offers, err = h.market.ListPublicOffers(ctx)
	require.NoError(t, err)
	require.Empty(t, offers)

	board, err := h.market.Board(ctx)
	require.NoError(t, err)
	onBoard, ok := board.Offer(offer.ID)
	require.True(t, ok)
	require.Equal(t, StatusFill, onBoard.Status)

	// Filled offers are closed for every other change.
	_, err = h.market.PublishBid(ctx, buyer, Bid{
		OfferID: offer.ID, AssetAmount: 1, BitcoinAmount: 1,
		BuyerInvoice: "rgb:...",
	})
	require.ErrorIs(t, err, ErrOfferClosed)
	require.ErrorIs(t, h.market.CancelOffer(ctx, seller, offer.ID),
		ErrOfferClosed)
	_, err = h.market.FillOffer(ctx, seller, offer.ID, "other")
	require.ErrorIs(t, err, ErrOfferClosed)
}

func TestMarketCancelOffer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newMarketHarness(t)
	seller, buyer := newSecret(t), newSecret(t)

	offer, err := h.market.PublishOffer(ctx, seller, testOffer(3))
	require.NoError(t, err)

	// Only the seller's book knows the offer.
	require.ErrorIs(t, h.market.CancelOffer(ctx, buyer, offer.ID),
		ErrOfferNotFound)

	require.NoError(t, h.market.CancelOffer(ctx, seller, offer.ID))

	offers, err := h.market.ListPublicOffers(ctx)
	require.NoError(t, err)
	require.Empty(t, offers)

	book, err := h.market.Offers(ctx, seller)
	require.NoError(t, err)
	require.Empty(t, book.Offers)

	_, err = h.market.PublishBid(ctx, buyer, Bid{
		OfferID: offer.ID, AssetAmount: 1, BitcoinAmount: 1,
		BuyerInvoice: "rgb:...",
	})
	require.ErrorIs(t, err, ErrOfferNotFound)

	_, err = h.market.OfferBids(ctx, offer.ID)
	require.ErrorIs(t, err, ErrOfferNotFound)
}

func TestMarketRejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newMarketHarness(t)
	seller, buyer := newSecret(t), newSecret(t)

	bad := testOffer(0)
	_, err := h.market.PublishOffer(ctx, seller, bad)
	require.ErrorIs(t, err, ErrInvalidOrder)

	expired := testOffer(1)
	expired.ExpireAt = uint64(testStart.Unix())
	_, err = h.market.PublishOffer(ctx, seller, expired)
	require.ErrorIs(t, err, ErrInvalidOrder)

	soon := testOffer(4)
	soon.ExpireAt = uint64(testStart.Add(time.Hour).Unix())
	offer, err := h.market.PublishOffer(ctx, seller, soon)
	require.NoError(t, err)

	_, err = h.market.PublishBid(ctx, buyer, Bid{
		OfferID: offer.ID, AssetAmount: 5, BitcoinAmount: 1,
		BuyerInvoice: "rgb:...",
	})
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = h.market.PublishBid(ctx, buyer, Bid{
		OfferID: offer.ID, AssetAmount: 1, BitcoinAmount: 1,
	})
	require.ErrorIs(t, err, ErrInvalidOrder)

	h.clock.SetTime(testStart.Add(2 * time.Hour))
	_, err = h.market.PublishBid(ctx, buyer, Bid{
		OfferID: offer.ID, AssetAmount: 1, BitcoinAmount: 1,
		BuyerInvoice: "rgb:...",
	})
	require.ErrorIs(t, err, ErrOfferClosed)

	offers, err := h.market.ListPublicOffers(ctx)
	require.NoError(t, err)
	require.Empty(t, offers)

	_, err = h.market.FillOffer(ctx, seller, offer.ID, "")
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = h.market.FillBid(ctx, buyer, uuid.New(), "consig")
	require.ErrorIs(t, err, ErrBidNotFound)
}

// TestMarketStaleForks checks that a client publishing from an outdated fork
// does not drop what others published meanwhile.
func TestMarketStaleForks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newMarketHarness(t)
	alice, bob := newSecret(t), newSecret(t)

	first, err := h.market.PublishOffer(ctx, alice, testOffer(1))
	require.NoError(t, err)

	// Bob's fork of the board predates Alice's second offer. Restore it
	// after she publishes so his next edit starts from the stale copy.
	_, err = h.market.PublishOffer(ctx, bob, testOffer(2))
	require.NoError(t, err)
	bobID, err := bob.UserID()
	require.NoError(t, err)
	stale, _, err := h.store.Retrieve(ctx, h.board, forkName(bobID))
	require.NoError(t, err)

	second, err := h.market.PublishOffer(ctx, alice, testOffer(3))
	require.NoError(t, err)

	// The board itself is the newest state; reset it to Bob's fork to
	// mimic a concurrent writer that loaded the board before Alice.
	require.NoError(t, h.store.Store(
		ctx, h.board, carbonado.MarketplaceOffers, stale, BoardTag,
	))
	third, err := h.market.PublishOffer(ctx, bob, testOffer(4))
	require.NoError(t, err)

	// Alice merges her fork back with her next edit.
	require.NoError(t, h.market.CancelOffer(ctx, alice, first.ID))

	offers, err := h.market.ListPublicOffers(ctx)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.ID)
	}
	require.Contains(t, ids, second.ID)
	require.Contains(t, ids, third.ID)
	require.NotContains(t, ids, first.ID)
	require.Len(t, offers, 3)
}

func TestBookEncoding(t *testing.T) {
	t.Parallel()

	offers := &Offers{}
	offers.Save(testOffer(1))
	o := testOffer(2)
	o.ID = uuid.New()
	o.ExpireAt = 42
	offers.Save(o)
	o.Status = StatusFill
	offers.Save(o)
	require.Len(t, offers.Offers, 2)

	decoded, err := DecodeOffers(offers.Bytes())
	require.NoError(t, err)
	require.Equal(t, offers.Offers, decoded.Offers)
	require.Len(t, decoded.ByContract(o.ContractID), 2)

	bids := &Bids{}
	bids.Save(Bid{ID: uuid.New(), OfferID: o.ID, AssetAmount: 1,
		BitcoinAmount: 10, BuyerInvoice: "rgb:...", TransferID: "t"})
	decodedBids, err := DecodeBids(bids.Bytes())
	require.NoError(t, err)
	require.Equal(t, bids.Bids, decodedBids.Bids)

	empty, err := DecodeOffers(nil)
	require.NoError(t, err)
	require.Empty(t, empty.Offers)

	_, ok := offers.Complete("")
	require.False(t, ok)
}
