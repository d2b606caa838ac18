package stash

import (
	"bytes"
	"fmt"

	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

// idEntry wraps a 32 byte id so it can be encoded as a list item.
type idEntry struct {
	ID [32]byte
}

func (e *idEntry) EncodeRecords() []tlv.Record {
	return e.DecodeRecords()
}

func (e *idEntry) DecodeRecords() []tlv.Record {
	return []tlv.Record{rgb.NewHash32Record(0, &e.ID)}
}

func toEntries[T ~[32]byte](ids []T) []idEntry {
	return fn.Map(ids, func(id T) idEntry {
		return idEntry{ID: id}
	})
}

const (
	contractGenesisType tlv.Type = 0
	contractImplsType   tlv.Type = 2
	contractBundlesType tlv.Type = 4
	contractMediaType   tlv.Type = 6
)

type contractModel struct {
	genesis rgb.Genesis
	impls   []idEntry
	bundles []rgb.AnchoredBundle
	media   []rgb.MediaItem
}

func (c *contractModel) EncodeRecords() []tlv.Record {
	return c.DecodeRecords()
}

func (c *contractModel) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewModelRecord[rgb.Genesis](contractGenesisType, &c.genesis),
		rgb.NewSliceRecord[idEntry](contractImplsType, &c.impls),
		rgb.NewSliceRecord[rgb.AnchoredBundle](
			contractBundlesType, &c.bundles,
		),
		rgb.NewSliceRecord[rgb.MediaItem](contractMediaType, &c.media),
	}
}

const (
	stashSchemasType   tlv.Type = 0
	stashIfacesType    tlv.Type = 2
	stashImplsType     tlv.Type = 4
	stashContractsType tlv.Type = 6
	stashSealsType     tlv.Type = 8
	stashAcceptedType  tlv.Type = 10
)

type stashModel struct {
	schemas   []rgb.Schema
	ifaces    []rgb.Interface
	impls     []rgb.IfaceImpl
	contracts []contractModel
	seals     []rgb.BlindSeal
	accepted  []idEntry
}

func (m *stashModel) EncodeRecords() []tlv.Record {
	return m.DecodeRecords()
}

func (m *stashModel) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		rgb.NewSliceRecord[rgb.Schema](stashSchemasType, &m.schemas),
		rgb.NewSliceRecord[rgb.Interface](stashIfacesType, &m.ifaces),
		rgb.NewSliceRecord[rgb.IfaceImpl](stashImplsType, &m.impls),
		rgb.NewSliceRecord[contractModel](
			stashContractsType, &m.contracts,
		),
		rgb.NewSliceRecord[rgb.BlindSeal](stashSealsType, &m.seals),
		rgb.NewSliceRecord[idEntry](stashAcceptedType, &m.accepted),
	}
}

// Bytes serializes the stash. Tables are written in id order so equal
// stashes encode to equal bytes.
func (s *Stash) Bytes() []byte {
	var m stashModel

	schemaIDs := make([]rgb.SchemaID, 0, len(s.Schemas))
	for id := range s.Schemas {
		schemaIDs = append(schemaIDs, id)
	}
	sortIDs(schemaIDs)
	for _, id := range schemaIDs {
		m.schemas = append(m.schemas, *s.Schemas[id])
	}

	ifaceIDs := make([]rgb.IfaceID, 0, len(s.Ifaces))
	for id := range s.Ifaces {
		ifaceIDs = append(ifaceIDs, id)
	}
	sortIDs(ifaceIDs)
	for _, id := range ifaceIDs {
		m.ifaces = append(m.ifaces, *s.Ifaces[id])
	}

	implIDs := make([]rgb.ImplID, 0, len(s.Impls))
	for id := range s.Impls {
		implIDs = append(implIDs, id)
	}
	sortIDs(implIDs)
	for _, id := range implIDs {
		m.impls = append(m.impls, *s.Impls[id])
	}

	for _, id := range s.ContractIDs() {
		c := s.Contracts[id]
		m.contracts = append(m.contracts, contractModel{
			genesis: c.Genesis,
			impls:   toEntries(c.Impls),
			bundles: c.Bundles,
			media:   c.Media,
		})
	}

	secrets := make([]rgb.SecretSeal, 0, len(s.Seals))
	for concealed := range s.Seals {
		secrets = append(secrets, concealed)
	}
	sortIDs(secrets)
	for _, concealed := range secrets {
		m.seals = append(m.seals, *s.Seals[concealed])
	}

	accepted := s.Accepted.ToSlice()
	sortIDs(accepted)
	m.accepted = toEntries(accepted)

	return rgb.ModelBytes(&m)
}

// Decode reads a stash written by Bytes. An empty blob is an empty stash.
func Decode(b []byte) (*Stash, error) {
	s := New()
	if len(b) == 0 {
		return s, nil
	}

	var m stashModel
	if err := rgb.DecodeModel(bytes.NewReader(b), &m); err != nil {
		return nil, fmt.Errorf("stash: unable to decode: %w", err)
	}

	for i := range m.schemas {
		s.Schemas[m.schemas[i].ID()] = &m.schemas[i]
	}
	for i := range m.ifaces {
		s.Ifaces[m.ifaces[i].ID()] = &m.ifaces[i]
	}
	for i := range m.impls {
		s.Impls[m.impls[i].ID()] = &m.impls[i]
	}
	for _, cm := range m.contracts {
		c := &Contract{
			Genesis: cm.genesis,
			Impls: fn.Map(cm.impls, func(e idEntry) rgb.ImplID {
				return rgb.ImplID(e.ID)
			}),
			Bundles: cm.bundles,
			Media:   cm.media,
		}
		s.Contracts[c.ID()] = c
	}
	for i := range m.seals {
		s.Seals[m.seals[i].Conceal()] = &m.seals[i]
	}
	for _, e := range m.accepted {
		s.Accepted.Add(rgb.ConsignmentID(e.ID))
	}

	return s, nil
}
