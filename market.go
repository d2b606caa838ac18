package bitmask

import (
	"context"

	"github.com/diba-io/bitmask/marketplace"
	"github.com/google/uuid"
)

// marketOp runs a marketplace operation for the user owning sk.
func marketOp[T any](ctx context.Context, s *Server, op, sk string,
	mutate bool, f func(context.Context, *marketplace.Market,
		*session) (T, error)) (T, error) {

	return run(ctx, s, op, sk, mutate,
		func(ctx context.Context, sess *session) (T, error) {
			m, err := s.market(sess)
			if err != nil {
				var zero T
				return zero, err
			}

			return f(ctx, m, sess)
		},
	)
}

// PublishOffer stores an offer in the user's book and on the public board.
func (s *Server) PublishOffer(ctx context.Context, sk string,
	offer marketplace.Offer) (*marketplace.Offer, error) {

	return marketOp(ctx, s, "publish_offer", sk, true,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) (*marketplace.Offer, error) {

			return m.PublishOffer(ctx, sess.secret, offer)
		},
	)
}

// PublishBid stores a bid in the user's book and on the public board.
func (s *Server) PublishBid(ctx context.Context, sk string,
	bid marketplace.Bid) (*marketplace.Bid, error) {

	return marketOp(ctx, s, "publish_bid", sk, true,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) (*marketplace.Bid, error) {

			return m.PublishBid(ctx, sess.secret, bid)
		},
	)
}

// CancelOffer withdraws an open offer of the user.
func (s *Server) CancelOffer(ctx context.Context, sk string,
	id uuid.UUID) error {

	_, err := marketOp(ctx, s, "cancel_offer", sk, true,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) (struct{}, error) {

			return struct{}{}, m.CancelOffer(ctx, sess.secret, id)
		},
	)

	return err
}

// FillOffer marks an offer of the user as filled by a transfer.
func (s *Server) FillOffer(ctx context.Context, sk string, id uuid.UUID,
	transferID string) (*marketplace.Offer, error) {

	return marketOp(ctx, s, "fill_offer", sk, true,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) (*marketplace.Offer, error) {

			return m.FillOffer(ctx, sess.secret, id, transferID)
		},
	)
}

// FillBid marks a bid of the user as filled by a transfer.
func (s *Server) FillBid(ctx context.Context, sk string, id uuid.UUID,
	transferID string) (*marketplace.Bid, error) {

	return marketOp(ctx, s, "fill_bid", sk, true,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) (*marketplace.Bid, error) {

			return m.FillBid(ctx, sess.secret, id, transferID)
		},
	)
}

// MyOffers returns the user's own offers.
func (s *Server) MyOffers(ctx context.Context,
	sk string) ([]marketplace.Offer, error) {

	return marketOp(ctx, s, "my_offers", sk, false,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) ([]marketplace.Offer, error) {

			book, err := m.Offers(ctx, sess.secret)
			if err != nil {
				return nil, err
			}

			return book.Offers, nil
		},
	)
}

// MyBids returns the user's own bids.
func (s *Server) MyBids(ctx context.Context,
	sk string) ([]marketplace.Bid, error) {

	return marketOp(ctx, s, "my_bids", sk, false,
		func(ctx context.Context, m *marketplace.Market,
			sess *session) ([]marketplace.Bid, error) {

			book, err := m.Bids(ctx, sess.secret)
			if err != nil {
				return nil, err
			}

			return book.Bids, nil
		},
	)
}

// ListPublicOffers returns the open offers of the public board.
func (s *Server) ListPublicOffers(
	ctx context.Context) ([]marketplace.Offer, error) {

	return observe("list_public_offers", func() ([]marketplace.Offer,
		error) {

		m, err := s.market(&session{netState: s.current()})
		if err != nil {
			return nil, err
		}

		return m.ListPublicOffers(ctx)
	})
}

// OfferBids returns the public bids on an offer.
func (s *Server) OfferBids(ctx context.Context,
	id uuid.UUID) ([]marketplace.PublicBid, error) {

	return observe("offer_bids", func() ([]marketplace.PublicBid, error) {
		m, err := s.market(&session{netState: s.current()})
		if err != nil {
			return nil, err
		}

		return m.OfferBids(ctx, id)
	})
}
