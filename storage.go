package bitmask

import (
	"context"

	"github.com/diba-io/bitmask/carbonado"
)

// StoreObject writes a raw object of the user. With force the stored
// metadata tag is kept, otherwise the object is tagged with metadata.
func (s *Server) StoreObject(ctx context.Context, sk, name string,
	data []byte, metadata [carbonado.MetadataSize]byte, force bool) error {

	_, err := run(ctx, s, "store_object", sk, true,
		func(ctx context.Context, sess *session) (struct{}, error) {
			if force {
				return struct{}{}, sess.store.ForceStore(
					ctx, sess.secret, name, data,
				)
			}

			return struct{}{}, sess.store.Store(
				ctx, sess.secret, name, data, metadata,
			)
		},
	)

	return err
}

// RetrieveObject reads a raw object of the user. A missing object is
// empty.
func (s *Server) RetrieveObject(ctx context.Context, sk,
	name string) ([]byte, error) {

	return run(ctx, s, "retrieve_object", sk, false,
		func(ctx context.Context, sess *session) ([]byte, error) {
			data, _, err := sess.store.Retrieve(ctx, sess.secret, name)
			return data, err
		},
	)
}

// RetrieveMetadata reads the header of an object of the user. It returns
// nil for a missing object.
func (s *Server) RetrieveMetadata(ctx context.Context, sk,
	name string) (*carbonado.FileMetadata, error) {

	return run(ctx, s, "retrieve_metadata", sk, false,
		func(ctx context.Context, sess *session) (*carbonado.FileMetadata,
			error) {

			return sess.store.RetrieveMetadata(ctx, sess.secret, name)
		},
	)
}

// ForkObject copies an object of the user under another name.
func (s *Server) ForkObject(ctx context.Context, sk, src, dst string) error {
	_, err := run(ctx, s, "fork_object", sk, true,
		func(ctx context.Context, sess *session) (struct{}, error) {
			return struct{}{}, sess.store.Fork(
				ctx, sess.secret, src, dst,
			)
		},
	)

	return err
}
