package bitmask

import (
	"context"

	"github.com/diba-io/bitmask/proxy"
)

// ReceiveTransfer fetches the consignment posted for a recipient from the
// relay and accepts it. It returns nil if the relay has none yet.
func (s *Server) ReceiveTransfer(ctx context.Context, sk, recipient string,
	force bool) (*AcceptResult, error) {

	return run(ctx, s, "receive_transfer", sk, true,
		func(ctx context.Context, sess *session) (*AcceptResult, error) {
			courier, err := s.courier()
			if err != nil {
				return nil, err
			}

			delivery, err := courier.GetConsignment(ctx, recipient)
			if err != nil || delivery == nil {
				return nil, err
			}

			return s.accept(ctx, sess, delivery.Consignment, force)
		},
	)
}

// PostMedia uploads media to the relay and returns its metadata.
func (s *Server) PostMedia(ctx context.Context,
	items []Media) ([]*proxy.MediaMetadata, error) {

	return observe("post_media", func() ([]*proxy.MediaMetadata, error) {
		courier, err := s.courier()
		if err != nil {
			return nil, err
		}

		reqs := make([]proxy.MediaRequest, 0, len(items))
		for _, item := range items {
			reqs = append(reqs, proxy.MediaRequest{
				Type: item.Type,
				URI:  item.Source,
			})
		}

		return courier.PostMediaList(ctx, reqs, proxy.MediaBase64)
	})
}

// MediaMetadata returns the metadata of relayed media.
func (s *Server) MediaMetadata(ctx context.Context,
	id string) (*proxy.MediaMetadata, error) {

	return observe("get_media_metadata", func() (*proxy.MediaMetadata,
		error) {

		courier, err := s.courier()
		if err != nil {
			return nil, err
		}

		return courier.GetMediaMetadata(ctx, id)
	})
}
