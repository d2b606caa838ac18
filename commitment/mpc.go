package commitment

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/diba-io/bitmask/rgb"
)

const (
	tagMPCLeaf   = "urn:lnp-bp:lnpbp4:leaf#2024-01-31"
	tagMPCBranch = "urn:lnp-bp:lnpbp4:branch#2024-01-31"
)

var (
	// ErrNoMessages is returned when committing to an empty message set.
	ErrNoMessages = errors.New("commitment: no messages to commit to")

	// ErrDuplicateProtocol is returned when two messages share a contract.
	ErrDuplicateProtocol = errors.New("commitment: duplicate protocol")
)

// SortLeaves orders MPC leaves by protocol id in place.
func SortLeaves(leaves []rgb.MPCLeaf) {
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(
			leaves[i].Protocol[:], leaves[j].Protocol[:],
		) < 0
	})
}

// MPCRoot returns the root of the multi protocol commitment tree over the
// leaves. Leaves are ordered by protocol id, each protocol may appear once.
// An odd node at any level is carried up unchanged.
func MPCRoot(leaves []rgb.MPCLeaf) ([32]byte, error) {
	if len(leaves) == 0 {
		return [32]byte{}, ErrNoMessages
	}

	sorted := append([]rgb.MPCLeaf(nil), leaves...)
	SortLeaves(sorted)

	level := make([][32]byte, len(sorted))
	for i, l := range sorted {
		if i > 0 && sorted[i-1].Protocol == l.Protocol {
			return [32]byte{}, fmt.Errorf("%w: %v",
				ErrDuplicateProtocol, l.Protocol)
		}

		level[i] = *chainhash.TaggedHash(
			[]byte(tagMPCLeaf), l.Protocol[:], l.Message[:],
		)
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, *chainhash.TaggedHash(
				[]byte(tagMPCBranch), level[i][:],
				level[i+1][:],
			))
		}
		level = next
	}

	return level[0], nil
}
