package stash

import (
	"fmt"
	"sort"

	"github.com/diba-io/bitmask/rgb"
)

// IfacePairs returns every interface a contract is known under, sorted by
// name.
func (s *Stash) IfacePairs(id rgb.ContractID) ([]rgb.IfacePair, error) {
	c, err := s.Contract(id)
	if err != nil {
		return nil, err
	}

	var pairs []rgb.IfacePair
	for _, implID := range c.Impls {
		impl, ok := s.Impls[implID]
		if !ok {
			continue
		}
		iface, ok := s.Ifaces[impl.Iface]
		if !ok {
			continue
		}
		pairs = append(pairs, rgb.IfacePair{Iface: *iface, Impl: *impl})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Iface.Name < pairs[j].Iface.Name
	})

	return pairs, nil
}

// Consign exports a contract with its known history. A consignment with
// terminals is a transfer, one without is a contract export.
func (s *Stash) Consign(id rgb.ContractID,
	terminals []rgb.Terminal) (*rgb.Consignment, error) {

	c, err := s.Contract(id)
	if err != nil {
		return nil, err
	}

	schema, ok := s.Schemas[c.Genesis.Schema]
	if !ok {
		return nil, fmt.Errorf("%w: schema %v of %v", ErrNoContract,
			c.Genesis.Schema, id)
	}

	pairs, err := s.IfacePairs(id)
	if err != nil {
		return nil, err
	}

	consig := &rgb.Consignment{
		Version:   rgb.ConsignmentVersion,
		Transfer:  len(terminals) > 0,
		Schema:    *schema,
		Ifaces:    pairs,
		Genesis:   c.Genesis,
		Bundles:   append([]rgb.AnchoredBundle(nil), c.Bundles...),
		Terminals: terminals,
		Media:     append([]rgb.MediaItem(nil), c.Media...),
	}

	log.Tracef("Built consignment %v of %v: %d bundles, %d terminals",
		consig.ID(), id, len(consig.Bundles), len(terminals))

	return consig, nil
}
