// Package stash is the local authoritative store of known contracts. Schemas,
// interfaces, implementations and contracts live in their own tables keyed
// by id and reference each other by id only.
package stash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
)

var (
	// ErrNoContract is returned for contracts the stash does not know.
	ErrNoContract = errors.New("stash: unknown contract")

	// ErrAlreadyExists is returned when an import would change an entry
	// that is already stored under the same name.
	ErrAlreadyExists = errors.New("stash: already exists")

	// ErrDoubleSpend is returned when a new bundle spends state that a
	// pending bundle already spends and replacement was not requested.
	ErrDoubleSpend = errors.New("stash: state already spent by a " +
		"pending transfer")

	// ErrNoClosedMethod is returned for seal secrets with a close method
	// other than tapret.
	ErrNoClosedMethod = errors.New("stash: seal close method must be " +
		"tapret1st")
)

// msgAlreadyKnown is the validation message of a replayed consignment.
const msgAlreadyKnown = "already known"

// ErrInvalidConsig is returned when a consignment fails validation.
type ErrInvalidConsig struct {
	Messages []string
}

func (e *ErrInvalidConsig) Error() string {
	return fmt.Sprintf("stash: invalid consignment: %s",
		strings.Join(e.Messages, "; "))
}

// Contract is a stored contract.
type Contract struct {
	Genesis rgb.Genesis

	// Impls are the interface implementations the contract is known
	// under.
	Impls []rgb.ImplID

	// Bundles are the known state transitions in acceptance order.
	Bundles []rgb.AnchoredBundle

	// Media is the media metadata shipped with the contract.
	Media []rgb.MediaItem
}

// ID returns the contract id.
func (c *Contract) ID() rgb.ContractID {
	return c.Genesis.ContractID()
}

// Bundle returns a known bundle.
func (c *Contract) Bundle(id rgb.BundleID) (*rgb.AnchoredBundle, bool) {
	for i := range c.Bundles {
		if c.Bundles[i].Bundle.ID() == id {
			return &c.Bundles[i], true
		}
	}

	return nil, false
}

// Stash holds everything the wallet knows about contracts.
type Stash struct {
	Schemas   map[rgb.SchemaID]*rgb.Schema
	Ifaces    map[rgb.IfaceID]*rgb.Interface
	Impls     map[rgb.ImplID]*rgb.IfaceImpl
	Contracts map[rgb.ContractID]*Contract

	// Seals are the secrets of seals handed out in invoices, keyed by
	// their concealed form.
	Seals map[rgb.SecretSeal]*rgb.BlindSeal

	// Accepted are the ids of the consignments accepted so far.
	Accepted fn.Set[rgb.ConsignmentID]
}

// New returns an empty stash.
func New() *Stash {
	return &Stash{
		Schemas:   make(map[rgb.SchemaID]*rgb.Schema),
		Ifaces:    make(map[rgb.IfaceID]*rgb.Interface),
		Impls:     make(map[rgb.ImplID]*rgb.IfaceImpl),
		Contracts: make(map[rgb.ContractID]*Contract),
		Seals:     make(map[rgb.SecretSeal]*rgb.BlindSeal),
		Accepted:  fn.NewSet[rgb.ConsignmentID](),
	}
}

func sortIDs[T ~[32]byte](ids []T) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

// ContractIDs returns the stored contracts in id order.
func (s *Stash) ContractIDs() []rgb.ContractID {
	ids := make([]rgb.ContractID, 0, len(s.Contracts))
	for id := range s.Contracts {
		ids = append(ids, id)
	}
	sortIDs(ids)

	return ids
}

// Contract returns a stored contract.
func (s *Stash) Contract(id rgb.ContractID) (*Contract, error) {
	c, ok := s.Contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoContract, id)
	}

	return c, nil
}

// ImportSchema stores a schema.
func (s *Stash) ImportSchema(schema rgb.Schema) rgb.SchemaID {
	id := schema.ID()
	if _, ok := s.Schemas[id]; !ok {
		s.Schemas[id] = &schema
		log.Debugf("Imported schema %v (%v)", schema.Name, id)
	}

	return id
}

// ImportIface stores an interface with its implementation. An interface
// name can only be bound to one interface id.
func (s *Stash) ImportIface(pair rgb.IfacePair) error {
	ifaceID := pair.Iface.ID()
	for id, iface := range s.Ifaces {
		if iface.Name == pair.Iface.Name && id != ifaceID {
			return fmt.Errorf("%w: interface %v", ErrAlreadyExists,
				iface.Name)
		}
	}
	if pair.Impl.Iface != ifaceID {
		return fmt.Errorf("stash: implementation of %v does not "+
			"reference it", pair.Iface.Name)
	}

	s.Ifaces[ifaceID] = &pair.Iface
	s.Impls[pair.Impl.ID()] = &pair.Impl

	return nil
}

// IfacePair returns the implementation of a named interface for a
// contract.
func (s *Stash) IfacePair(id rgb.ContractID,
	name string) (*rgb.IfacePair, error) {

	c, err := s.Contract(id)
	if err != nil {
		return nil, err
	}

	for _, implID := range c.Impls {
		impl, ok := s.Impls[implID]
		if !ok {
			continue
		}
		iface, ok := s.Ifaces[impl.Iface]
		if !ok || iface.Name != name {
			continue
		}

		return &rgb.IfacePair{Iface: *iface, Impl: *impl}, nil
	}

	return nil, fmt.Errorf("%w: %v for %v", rgb.ErrNoIface, name, id)
}

// ContractIfaces returns the names of the interfaces a contract is known
// under.
func (s *Stash) ContractIfaces(id rgb.ContractID) []string {
	c, ok := s.Contracts[id]
	if !ok {
		return nil
	}

	var names []string
	for _, implID := range c.Impls {
		if impl, ok := s.Impls[implID]; ok {
			if iface, ok := s.Ifaces[impl.Iface]; ok {
				names = append(names, iface.Name)
			}
		}
	}
	sort.Strings(names)

	return names
}

// StoreSealSecret keeps the secret of a seal handed out in an invoice.
func (s *Stash) StoreSealSecret(seal *rgb.BlindSeal) error {
	if seal.Method != rgb.TapretFirst {
		return fmt.Errorf("%w: got %v", ErrNoClosedMethod, seal.Method)
	}

	s.Seals[seal.Conceal()] = seal

	return nil
}

// reveal attaches known seal secrets to concealed assignments.
func (s *Stash) reveal(assignments []rgb.Assignment) int {
	var revealed int
	for i := range assignments {
		a := &assignments[i]
		if a.Seal != nil {
			continue
		}
		seal, ok := s.Seals[a.Concealed]
		if !ok {
			continue
		}
		if err := a.Reveal(seal); err == nil {
			revealed++
		}
	}

	return revealed
}

// mergeBundle adds a bundle to a contract, merging seal reveals into a copy
// that is already known.
func (c *Contract) mergeBundle(ab rgb.AnchoredBundle) {
	known, ok := c.Bundle(ab.Bundle.ID())
	if !ok {
		c.Bundles = append(c.Bundles, ab)
		return
	}

	for i := range ab.Bundle.Transitions {
		t := &ab.Bundle.Transitions[i]
		kt, ok := known.Bundle.Transition(t.ID())
		if !ok {
			continue
		}
		for j := range t.Assignments {
			if kt.Assignments[j].Seal == nil && t.Assignments[j].Seal != nil {
				kt.Assignments[j].Seal = t.Assignments[j].Seal
			}
		}
	}
}

func cloneAssignments(a []rgb.Assignment) []rgb.Assignment {
	return append([]rgb.Assignment(nil), a...)
}

// cloneBundle copies the parts of a bundle that seal reveals mutate.
func cloneBundle(ab rgb.AnchoredBundle) rgb.AnchoredBundle {
	ab.Bundle.Transitions = fn.Map(ab.Bundle.Transitions,
		func(t rgb.Transition) rgb.Transition {
			t.Assignments = cloneAssignments(t.Assignments)
			return t
		},
	)

	return ab
}

// admit stores the content of a validated consignment.
func (s *Stash) admit(c *rgb.Consignment) {
	s.ImportSchema(c.Schema)

	id := c.ContractID()
	contract, ok := s.Contracts[id]
	if !ok {
		contract = &Contract{Genesis: c.Genesis}
		contract.Genesis.Assignments = cloneAssignments(
			c.Genesis.Assignments,
		)
		s.Contracts[id] = contract
	}

	// Genesis seals may be revealed by a later consignment.
	for i, a := range c.Genesis.Assignments {
		if contract.Genesis.Assignments[i].Seal == nil && a.Seal != nil {
			contract.Genesis.Assignments[i].Seal = a.Seal
		}
	}
	s.reveal(contract.Genesis.Assignments)

	for _, pair := range c.Ifaces {
		if err := s.ImportIface(pair); err != nil {
			log.Warnf("Skipping interface %v of %v: %v",
				pair.Iface.Name, id, err)
			continue
		}
		implID := pair.Impl.ID()
		if !fn.Any(contract.Impls, func(i rgb.ImplID) bool {
			return i == implID
		}) {
			contract.Impls = append(contract.Impls, implID)
		}
	}

	for _, ab := range c.Bundles {
		ab = cloneBundle(ab)
		for i := range ab.Bundle.Transitions {
			s.reveal(ab.Bundle.Transitions[i].Assignments)
		}
		contract.mergeBundle(ab)
	}

	for _, m := range c.Media {
		if !fn.Any(contract.Media, func(k rgb.MediaItem) bool {
			return k.Digest == m.Digest
		}) {
			contract.Media = append(contract.Media, m)
		}
	}
}

// ImportContract validates and stores a contract consignment. Validation
// failures are only ignored when force is set.
func (s *Stash) ImportContract(ctx context.Context, c *rgb.Consignment,
	resolver chain.TxResolver, net *network.Params,
	force bool) (*Status, error) {

	status, err := Validate(ctx, c, resolver, net)
	if err != nil {
		return nil, err
	}
	if !status.Valid() && !force {
		return status, &ErrInvalidConsig{Messages: status.Failures}
	}

	s.admit(c)
	log.Infof("Imported contract %v (%d bundles, %d warnings)",
		c.ContractID(), len(c.Bundles), len(status.Warnings))

	return status, nil
}

// AcceptTransfer validates and stores a transfer consignment. A
// consignment is only accepted once unless force is set.
func (s *Stash) AcceptTransfer(ctx context.Context, c *rgb.Consignment,
	resolver chain.TxResolver, net *network.Params,
	force bool) (*Status, error) {

	id := c.ID()
	if s.Accepted.Contains(id) && !force {
		return nil, &ErrInvalidConsig{Messages: []string{
			msgAlreadyKnown,
		}}
	}

	status, err := Validate(ctx, c, resolver, net)
	if err != nil {
		return nil, err
	}
	if !status.Valid() && !force {
		return status, &ErrInvalidConsig{Messages: status.Failures}
	}

	s.admit(c)
	s.Accepted.Add(id)

	log.Infof("Accepted transfer %v of contract %v", id, c.ContractID())

	return status, nil
}

// spends reports whether t spends any of the given opouts.
func spends(t *rgb.Transition, opouts fn.Set[rgb.Opout]) bool {
	return fn.Any(t.Inputs, opouts.Contains)
}

// AddBundle records a bundle created by a local payment. A bundle spending
// state that a known bundle already spends is rejected, unless replace is
// set, in which case the conflicting bundles are dropped. It returns the
// witness txids of the replaced bundles. Assignments to seals this stash
// handed out are revealed, so payments to self are owned at once.
func (s *Stash) AddBundle(ab rgb.AnchoredBundle,
	replace bool) ([]chainhash.Hash, error) {

	contract, err := s.Contract(ab.Bundle.Contract)
	if err != nil {
		return nil, err
	}

	ab = cloneBundle(ab)
	for i := range ab.Bundle.Transitions {
		s.reveal(ab.Bundle.Transitions[i].Assignments)
	}

	inputs := fn.NewSet[rgb.Opout]()
	for _, t := range ab.Bundle.Transitions {
		for _, in := range t.Inputs {
			inputs.Add(in)
		}
	}

	var (
		kept     []rgb.AnchoredBundle
		replaced []chainhash.Hash
	)
	for _, known := range contract.Bundles {
		conflict := fn.Any(known.Bundle.Transitions,
			func(t rgb.Transition) bool {
				return spends(&t, inputs)
			},
		)
		switch {
		case !conflict:
			kept = append(kept, known)

		case !replace:
			return nil, fmt.Errorf("%w: bundle %v", ErrDoubleSpend,
				known.Bundle.ID())

		default:
			log.Infof("Replacing bundle %v anchored in %v",
				known.Bundle.ID(), known.Anchor.Txid)
			replaced = append(replaced, known.Anchor.Txid)
		}
	}

	contract.Bundles = append(kept, ab)

	return replaced, nil
}

// OwnedState is an unspent assignment of a contract.
type OwnedState struct {
	Opout rgb.Opout

	// Seal is the revealed seal, nil for state owned by others.
	Seal *rgb.BlindSeal

	Concealed rgb.SecretSeal
	Amount    uint64

	// Outpoint is the output the state is bound to. It is only set for
	// revealed seals.
	Outpoint *wire.OutPoint

	// Spent is set when a known transition consumes the state.
	Spent bool
}

// OwnedState returns the unspent assignments of a contract. Spent state is
// state consumed by any known transition.
func (s *Stash) OwnedState(id rgb.ContractID) ([]OwnedState, error) {
	c, err := s.Contract(id)
	if err != nil {
		return nil, err
	}

	return fn.Filter(c.state(), func(o OwnedState) bool {
		return !o.Spent
	}), nil
}

// StateAt returns the revealed state of a contract bound to any of the
// outpoints, including state already spent by a known bundle.
func (s *Stash) StateAt(id rgb.ContractID,
	outpoints fn.Set[wire.OutPoint]) ([]OwnedState, error) {

	c, err := s.Contract(id)
	if err != nil {
		return nil, err
	}

	return fn.Filter(c.state(), func(o OwnedState) bool {
		return o.Outpoint != nil && outpoints.Contains(*o.Outpoint)
	}), nil
}

// state lists every assignment of the contract in operation order.
func (c *Contract) state() []OwnedState {
	spent := fn.NewSet[rgb.Opout]()
	for _, ab := range c.Bundles {
		for _, t := range ab.Bundle.Transitions {
			for _, in := range t.Inputs {
				spent.Add(in)
			}
		}
	}

	var state []OwnedState
	collect := func(op rgb.OpID, witness *chainhash.Hash,
		assignments []rgb.Assignment) {

		counters := make(map[uint16]uint16)
		for _, a := range assignments {
			opout := rgb.Opout{Op: op, Type: a.Type, No: counters[a.Type]}
			counters[a.Type]++

			owned := OwnedState{
				Opout:     opout,
				Seal:      a.Seal,
				Concealed: a.Concealed,
				Amount:    a.Amount,
				Spent:     spent.Contains(opout),
			}
			if a.Seal != nil && (!a.Seal.IsWitness() || witness != nil) {
				var w chainhash.Hash
				if witness != nil {
					w = *witness
				}
				outpoint := a.Seal.Outpoint(w)
				owned.Outpoint = &outpoint
			}
			state = append(state, owned)
		}
	}

	collect(c.Genesis.OpID(), nil, c.Genesis.Assignments)
	for _, ab := range c.Bundles {
		witness := ab.Anchor.Txid
		for i := range ab.Bundle.Transitions {
			t := &ab.Bundle.Transitions[i]
			collect(t.ID(), &witness, t.Assignments)
		}
	}

	return state
}

// Assignment returns the assignment an opout references, along with the
// witness txid of the bundle that created it (nil for genesis).
func (c *Contract) Assignment(o rgb.Opout) (*rgb.Assignment,
	*chainhash.Hash, bool) {

	find := func(assignments []rgb.Assignment) (*rgb.Assignment, bool) {
		var no uint16
		for i := range assignments {
			if assignments[i].Type != o.Type {
				continue
			}
			if no == o.No {
				return &assignments[i], true
			}
			no++
		}
		return nil, false
	}

	if o.Op == c.Genesis.OpID() {
		a, ok := find(c.Genesis.Assignments)
		return a, nil, ok
	}

	for i := range c.Bundles {
		ab := &c.Bundles[i]
		if t, ok := ab.Bundle.Transition(o.Op); ok {
			a, ok := find(t.Assignments)
			return a, &ab.Anchor.Txid, ok
		}
	}

	return nil, nil, false
}
