package carbonado

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/diba-io/bitmask/keys"
	"lukechampine.com/blake3"
)

// LibIDRGB namespaces object names so RGB objects never collide with other
// users of the same object store.
const LibIDRGB = "urn:ubideco:stl:bitmask-rgb#memphis-rodeo-saturn"

// Logical object names.
const (
	AssetsStock       = "bitmask-fungible_assets_stock"
	AssetsWallets     = "bitmask-fungible_assets_wallets"
	AssetsTransfers   = "bitmask_assets_transfers"
	AssetsOffers      = "bitmask-asset_offers"
	AssetsBids        = "bitmask-asset_bids"
	MarketplaceOffers = "bitmask-marketplace_public_offers"
)

var (
	// ErrObjectNotFound is returned by backends for objects that were
	// never written. The Store turns it into an empty read.
	ErrObjectNotFound = errors.New("carbonado: object not found")

	// ErrAllEndpointsFailed is returned when no configured endpoint could
	// serve a request.
	ErrAllEndpointsFailed = errors.New("carbonado: all endpoints failed")
)

// Backend moves opaque encoded objects. dir is the hex owner key, file the
// hashed object name.
type Backend interface {
	// Put writes or replaces an object.
	Put(ctx context.Context, dir, file string, blob []byte) error

	// Get reads an object, returning ErrObjectNotFound if it does not
	// exist.
	Get(ctx context.Context, dir, file string) ([]byte, error)
}

// ObjectName returns the file name of a logical object on a network:
// "<network>-<blake3(LibIDRGB-name)>.c15".
func ObjectName(network, name string) string {
	digest := blake3.Sum256([]byte(LibIDRGB + "-" + name))
	return fmt.Sprintf("%s-%s.c15", network, hex.EncodeToString(digest[:]))
}

// FileMetadata describes a stored object without its payload.
type FileMetadata struct {
	Filename string
	Metadata [MetadataSize]byte
}

// StoreStats counts store traffic since start up.
type StoreStats struct {
	Reads        atomic.Uint64
	Writes       atomic.Uint64
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64
	Failures     atomic.Uint64
}

// Store is the per-user encrypted object store of one network. Objects are
// addressed by (owner secret, logical name).
type Store struct {
	backend Backend
	network string
	stats   *StoreStats
}

// NewStore creates a store writing through backend for the given network.
func NewStore(backend Backend, network string) *Store {
	return &Store{
		backend: backend,
		network: network,
		stats:   &StoreStats{},
	}
}

// WithNetwork returns a store sharing the backend and counters but naming
// objects for another network.
func (s *Store) WithNetwork(network string) *Store {
	return &Store{
		backend: s.backend,
		network: network,
		stats:   s.stats,
	}
}

// Network returns the network objects are named for.
func (s *Store) Network() string {
	return s.network
}

// Stats exposes the traffic counters.
func (s *Store) Stats() *StoreStats {
	return s.stats
}

func (s *Store) locate(secret *keys.SigningSecret,
	name string) (string, string, error) {

	if secret == nil {
		return "", "", keys.ErrNoSecretKey
	}

	dir, err := secret.UserID()
	if err != nil {
		return "", "", err
	}

	return dir, ObjectName(s.network, name), nil
}

func (s *Store) failed(err error) error {
	if err != nil {
		s.stats.Failures.Add(1)
	}

	return err
}

// Store encodes data for the owner of secret and writes it under name with
// the given metadata tag.
func (s *Store) Store(ctx context.Context, secret *keys.SigningSecret,
	name string, data []byte, metadata [MetadataSize]byte) error {

	dir, file, err := s.locate(secret, name)
	if err != nil {
		return err
	}

	blob, err := Encode(secret, data, metadata)
	if err != nil {
		return s.failed(err)
	}

	if err := s.backend.Put(ctx, dir, file, blob); err != nil {
		return s.failed(fmt.Errorf("store %v: %w", name, err))
	}

	s.stats.Writes.Add(1)
	s.stats.BytesWritten.Add(uint64(len(blob)))

	log.Debugf("Stored %v (%d bytes) for %.8s", file, len(blob), dir)

	return nil
}

// ForceStore rewrites an object keeping whatever metadata tag it already
// carries. A missing object is written with an empty tag.
func (s *Store) ForceStore(ctx context.Context, secret *keys.SigningSecret,
	name string, data []byte) error {

	meta, err := s.RetrieveMetadata(ctx, secret, name)
	if err != nil && !errors.Is(err, ErrCarbonado) {
		return err
	}

	var tag [MetadataSize]byte
	if meta != nil {
		tag = meta.Metadata
	}

	return s.Store(ctx, secret, name, data, tag)
}

// Retrieve reads and decodes an object. A missing object yields an empty
// slice and an empty tag.
func (s *Store) Retrieve(ctx context.Context, secret *keys.SigningSecret,
	name string) ([]byte, [MetadataSize]byte, error) {

	var noTag [MetadataSize]byte

	blob, err := s.fetch(ctx, secret, name)
	if err != nil || len(blob) == 0 {
		return nil, noTag, err
	}

	header, data, err := Decode(secret, blob)
	if err != nil {
		return nil, noTag, s.failed(fmt.Errorf("retrieve %v: %w", name,
			err))
	}

	return data, header.Metadata, nil
}

// RetrieveMetadata reads only the header of an object. It returns nil for a
// missing object.
func (s *Store) RetrieveMetadata(ctx context.Context,
	secret *keys.SigningSecret, name string) (*FileMetadata, error) {

	blob, err := s.fetch(ctx, secret, name)
	if err != nil || len(blob) == 0 {
		return nil, err
	}

	header, err := DecodeHeader(blob)
	if err != nil {
		return nil, s.failed(err)
	}

	return &FileMetadata{
		Filename: ObjectName(s.network, name),
		Metadata: header.Metadata,
	}, nil
}

// Fork copies the encoded object at src to dst unchanged. Forking a missing
// object is a no-op.
func (s *Store) Fork(ctx context.Context, secret *keys.SigningSecret,
	src, dst string) error {

	blob, err := s.fetch(ctx, secret, src)
	if err != nil || len(blob) == 0 {
		return err
	}

	// Only copy what we can read back.
	if _, _, err := Decode(secret, blob); err != nil {
		return s.failed(fmt.Errorf("fork %v: %w", src, err))
	}

	dir, file, err := s.locate(secret, dst)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, dir, file, blob); err != nil {
		return s.failed(fmt.Errorf("fork %v: %w", dst, err))
	}
	s.stats.Writes.Add(1)
	s.stats.BytesWritten.Add(uint64(len(blob)))

	return nil
}

// MergeFunc combines the stored state of an object with a local one.
type MergeFunc func(stored, local []byte) ([]byte, error)

// Merge reads name, merges local into it and writes the result back with
// the given tag.
func (s *Store) Merge(ctx context.Context, secret *keys.SigningSecret,
	name string, local []byte, metadata [MetadataSize]byte,
	merge MergeFunc) ([]byte, error) {

	stored, _, err := s.Retrieve(ctx, secret, name)
	if err != nil {
		return nil, err
	}

	merged, err := merge(stored, local)
	if err != nil {
		return nil, fmt.Errorf("merge %v: %w", name, err)
	}

	if err := s.Store(ctx, secret, name, merged, metadata); err != nil {
		return nil, err
	}

	return merged, nil
}

func (s *Store) fetch(ctx context.Context, secret *keys.SigningSecret,
	name string) ([]byte, error) {

	dir, file, err := s.locate(secret, name)
	if err != nil {
		return nil, err
	}

	blob, err := s.backend.Get(ctx, dir, file)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		log.Tracef("Object %v of %.8s not found", file, dir)
		return nil, nil

	case err != nil:
		return nil, s.failed(fmt.Errorf("retrieve %v: %w", name, err))
	}

	s.stats.Reads.Add(1)
	s.stats.BytesRead.Add(uint64(len(blob)))

	return blob, nil
}
