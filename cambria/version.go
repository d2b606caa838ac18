// Package cambria reads versioned persisted models. Every stored blob carries
// an 8 byte version tag in its header; older shapes are decoded as written
// and upgraded step by step to the current one.
package cambria

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/diba-io/bitmask/account"
)

// Version is a model version.
type Version uint8

const (
	V0 Version = 0
	V1 Version = 1

	// Current is the version new blobs are written with.
	Current = V1
)

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint8(v))
}

// TagSize is the size of a version tag.
const TagSize = 8

var (
	// CurrentTag is the tag written with new blobs.
	CurrentTag = [TagSize]byte{'r', 'g', 'b', 's', 't', '1', '6', '1'}

	// OldestTag is the all zero tag of blobs written before versioning.
	OldestTag [TagSize]byte
)

var (
	// ErrUnknownVersion is returned for version tags no decoder exists
	// for.
	ErrUnknownVersion = errors.New("cambria: unknown model version")
)

// ParseTag maps a version tag to its version. Tags are case insensitive
// ASCII padded with zero bytes.
func ParseTag(tag [TagSize]byte) (Version, error) {
	s := strings.ToLower(string(bytes.TrimRight(tag[:], "\x00")))

	switch s {
	case "", "0", "v0", "rgbst160":
		return V0, nil

	case "1", "v1", "v10", "rgbst161":
		return V1, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}
}

// Upgrade decodes a blob of one version into the current shape.
type Upgrade[T any] func(data []byte) (T, error)

// Chain lists the upgrade path of a model per stored version.
type Chain[T any] map[Version]Upgrade[T]

// DecodeVersioned decodes data stored under tag into the current shape of a
// model.
func DecodeVersioned[T any](data []byte, tag [TagSize]byte,
	chain Chain[T]) (T, error) {

	var zero T

	version, err := ParseTag(tag)
	if err != nil {
		return zero, err
	}

	upgrade, ok := chain[version]
	if !ok {
		return zero, fmt.Errorf("%w: %v", ErrUnknownVersion, version)
	}

	value, err := upgrade(data)
	if err != nil {
		return zero, fmt.Errorf("cambria: decode %v: %w", version, err)
	}

	return value, nil
}

// AccountChain is the upgrade path of accounts.
var AccountChain = Chain[*account.RgbAccount]{
	V0: func(data []byte) (*account.RgbAccount, error) {
		v0, err := DecodeAccountV0(data)
		if err != nil {
			return nil, err
		}
		return v0.Upgrade(), nil
	},
	V1: account.DecodeRgbAccount,
}

// TransfersChain is the upgrade path of transfer catalogues.
var TransfersChain = Chain[*account.RgbTransfers]{
	V0: func(data []byte) (*account.RgbTransfers, error) {
		v0, err := DecodeTransfersV0(data)
		if err != nil {
			return nil, err
		}
		return v0.Upgrade(), nil
	},
	V1: account.DecodeRgbTransfers,
}

// DecodeAccount decodes a stored account of any known version.
func DecodeAccount(data []byte,
	tag [TagSize]byte) (*account.RgbAccount, error) {

	return DecodeVersioned(data, tag, AccountChain)
}

// DecodeTransfers decodes a stored transfer catalogue of any known version.
func DecodeTransfers(data []byte,
	tag [TagSize]byte) (*account.RgbTransfers, error) {

	return DecodeVersioned(data, tag, TransfersChain)
}
