package stash

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
)

// ErrInconclusive is returned when no terminal witness of a transfer can be
// resolved.
var ErrInconclusive = errors.New("stash: transfer witness is not " +
	"resolvable")

// Status is the outcome of a consignment validation.
type Status struct {
	Failures []string
	Warnings []string
}

// Valid reports whether validation found no failures. Warnings do not make a
// consignment invalid.
func (s *Status) Valid() bool {
	return len(s.Failures) == 0
}

func (s *Status) fail(format string, args ...any) {
	s.Failures = append(s.Failures, fmt.Sprintf(format, args...))
}

func (s *Status) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// produced is an assignment created by a validated operation.
type produced struct {
	assignment *rgb.Assignment

	// witness is the witness txid of the creating bundle, nil for
	// genesis.
	witness *chainhash.Hash
}

type validator struct {
	ctx      context.Context
	c        *rgb.Consignment
	resolver chain.TxResolver
	status   *Status

	contract rgb.ContractID
	produced map[rgb.Opout]produced
	spent    fn.Set[rgb.Opout]
}

// Validate checks the history of a consignment against its schema and the
// witness transactions returned by resolver. It never mutates anything.
// Resolver outages are returned as errors instead of failures.
func Validate(ctx context.Context, c *rgb.Consignment,
	resolver chain.TxResolver, net *network.Params) (*Status, error) {

	v := &validator{
		ctx:      ctx,
		c:        c,
		resolver: resolver,
		status:   &Status{},
		contract: c.ContractID(),
		produced: make(map[rgb.Opout]produced),
		spent:    fn.NewSet[rgb.Opout](),
	}

	v.checkSchema()
	v.checkGenesis(net)
	for i := range c.Bundles {
		if err := v.checkBundle(&c.Bundles[i]); err != nil {
			return nil, err
		}
	}
	v.checkTerminals()

	log.Debugf("Validated consignment %v of %v: %d failures, %d warnings",
		c.ID(), v.contract, len(v.status.Failures),
		len(v.status.Warnings))

	return v.status, nil
}

func (v *validator) checkSchema() {
	schemaID := v.c.Schema.ID()
	if v.c.Genesis.Schema != schemaID {
		v.status.fail("genesis schema %v does not match schema %v",
			v.c.Genesis.Schema, schemaID)
	}

	for _, pair := range v.c.Ifaces {
		if pair.Impl.Schema != schemaID {
			v.status.fail("implementation of %v is for another schema",
				pair.Iface.Name)
		}
		if pair.Impl.Iface != pair.Iface.ID() {
			v.status.fail("implementation does not implement %v",
				pair.Iface.Name)
		}
	}
}

func (v *validator) fungible(typ uint16) bool {
	owned, ok := v.c.Schema.OwnedType(typ)
	return ok && owned.State == rgb.StateFungible
}

func (v *validator) checkGenesis(net *network.Params) {
	g := &v.c.Genesis
	schema := &v.c.Schema

	if net != nil && g.Chain != net.InvoiceChain {
		v.status.fail("contract chain %q does not match network %v",
			g.Chain, net)
	}

	for _, global := range g.Globals {
		if _, ok := schema.Global(global.Type); !ok {
			v.status.fail("genesis global type %d not in schema",
				global.Type)
		}
	}
	for _, global := range schema.Globals {
		if n := len(g.Global(global.Type)); n < int(global.Required) {
			v.status.fail("genesis has %d %v globals, %d required",
				n, global.Name, global.Required)
		}
	}

	var total uint64
	counters := make(map[uint16]uint16)
	for i := range g.Assignments {
		a := &g.Assignments[i]
		if !fn.Any(schema.GenesisAssignments, func(t uint16) bool {
			return t == a.Type
		}) {
			v.status.fail("genesis assignment type %d not allowed",
				a.Type)
		}
		if a.Seal != nil && a.Seal.IsWitness() {
			v.status.fail("genesis seal %d has no txid", i)
		}
		if v.fungible(a.Type) {
			var ok bool
			if total, ok = addAmount(total, a.Amount); !ok {
				v.status.fail("genesis amount overflow")
				return
			}
		}

		opout := rgb.Opout{Op: g.OpID(), Type: a.Type, No: counters[a.Type]}
		counters[a.Type]++
		v.produced[opout] = produced{assignment: a}
	}

	if _, ok := schema.Global(rgb.GlobalIssuedSupply); !ok {
		return
	}
	for _, value := range g.Global(rgb.GlobalIssuedSupply) {
		supply, err := rgb.DecodeSupply(value)
		if err != nil {
			v.status.fail("issued supply: %v", err)
			continue
		}
		if supply != total {
			v.status.fail("issued supply %d does not match %d "+
				"assigned", supply, total)
		}
	}
}

// resolveWitness fetches a witness transaction. A missing transaction is a
// failure, an unconfirmed one a warning.
func (v *validator) resolveWitness(txid chainhash.Hash) (*chain.TxInfo,
	error) {

	info, err := v.resolver.ResolveTx(v.ctx, txid)
	switch {
	case errors.Is(err, chain.ErrTxNotFound):
		v.status.fail("witness %v not found", txid)
		return nil, nil

	case err != nil:
		return nil, err
	}

	if !info.Confirmed() {
		v.status.warn("witness %v is not mined yet", txid)
	}

	return info, nil
}

func (v *validator) checkBundle(ab *rgb.AnchoredBundle) error {
	bundleID := ab.Bundle.ID()
	if ab.Bundle.Contract != v.contract {
		v.status.fail("bundle %v belongs to contract %v", bundleID,
			ab.Bundle.Contract)
		return nil
	}

	msg, ok := ab.Anchor.Message(v.contract)
	if !ok || msg != bundleID {
		v.status.fail("anchor of bundle %v does not commit to it",
			bundleID)
	}

	info, err := v.resolveWitness(ab.Anchor.Txid)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	if err := commitment.VerifyAnchor(&ab.Anchor, info.Tx); err != nil {
		v.status.fail("bundle %v: %v", bundleID, err)
	}

	prevouts := fn.NewSet[wire.OutPoint]()
	for _, in := range info.Tx.TxIn {
		prevouts.Add(in.PreviousOutPoint)
	}

	witness := ab.Anchor.Txid
	for i := range ab.Bundle.Transitions {
		v.checkTransition(&ab.Bundle.Transitions[i], witness, prevouts)
	}

	return nil
}

func (v *validator) checkTransition(t *rgb.Transition, witness chainhash.Hash,
	prevouts fn.Set[wire.OutPoint]) {

	opID := t.ID()
	if t.Contract != v.contract {
		v.status.fail("transition %v belongs to contract %v", opID,
			t.Contract)
		return
	}

	ts, ok := v.c.Schema.Transition(t.Type)
	if !ok {
		v.status.fail("transition %v has unknown type %d", opID, t.Type)
		return
	}

	inputs := make(map[uint16]uint64)
	for _, in := range t.Inputs {
		if !fn.Any(ts.Inputs, func(typ uint16) bool {
			return typ == in.Type
		}) {
			v.status.fail("transition %v: input type %d not allowed",
				opID, in.Type)
		}

		prev, ok := v.produced[in]
		if !ok {
			v.status.fail("transition %v: unknown input %v", opID, in)
			continue
		}
		if v.spent.Contains(in) {
			v.status.fail("transition %v: input %v is double spent",
				opID, in)
			continue
		}
		v.spent.Add(in)

		seal := prev.assignment.Seal
		if seal == nil {
			v.status.fail("transition %v: seal of input %v is "+
				"concealed", opID, in)
			continue
		}

		var prevWitness chainhash.Hash
		if prev.witness != nil {
			prevWitness = *prev.witness
		}
		if !prevouts.Contains(seal.Outpoint(prevWitness)) {
			v.status.fail("transition %v: witness does not close "+
				"seal %v", opID, seal)
		}

		sum, ok := addAmount(inputs[in.Type], prev.assignment.Amount)
		if !ok {
			v.status.fail("transition %v: input amount overflow",
				opID)
			return
		}
		inputs[in.Type] = sum
	}

	outputs := make(map[uint16]uint64)
	counters := make(map[uint16]uint16)
	for i := range t.Assignments {
		a := &t.Assignments[i]
		if !fn.Any(ts.Assignments, func(typ uint16) bool {
			return typ == a.Type
		}) {
			v.status.fail("transition %v: assignment type %d not "+
				"allowed", opID, a.Type)
		}

		opout := rgb.Opout{Op: opID, Type: a.Type, No: counters[a.Type]}
		counters[a.Type]++
		w := witness
		v.produced[opout] = produced{assignment: a, witness: &w}

		sum, ok := addAmount(outputs[a.Type], a.Amount)
		if !ok {
			v.status.fail("transition %v: output amount overflow",
				opID)
			return
		}
		outputs[a.Type] = sum
	}

	for typ := range fn.NewSet(append(
		fn.Map(t.Inputs, func(o rgb.Opout) uint16 { return o.Type }),
		fn.Map(t.Assignments, func(a rgb.Assignment) uint16 {
			return a.Type
		})...,
	)...) {
		if v.fungible(typ) && inputs[typ] != outputs[typ] {
			v.status.fail("transition %v: type %d inputs %d do not "+
				"match outputs %d", opID, typ, inputs[typ],
				outputs[typ])
		}
	}
}

// addAmount adds two fungible amounts, reporting false on overflow.
func addAmount(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

func (v *validator) checkTerminals() {
	for _, term := range v.c.Terminals {
		ab, ok := v.c.Bundle(term.Bundle)
		if !ok {
			v.status.fail("terminal bundle %v not in consignment",
				term.Bundle)
			continue
		}

		found := fn.Any(ab.Bundle.Transitions, func(t rgb.Transition) bool {
			return fn.Any(t.Assignments, func(a rgb.Assignment) bool {
				return a.Concealed == term.Seal
			})
		})
		if !found {
			v.status.fail("terminal seal %v not assigned in bundle %v",
				term.Seal, term.Bundle)
		}
	}
}

// ExtractTransfer returns the witness txid of the first terminal bundle
// whose witness transaction the resolver knows.
func ExtractTransfer(ctx context.Context, c *rgb.Consignment,
	resolver chain.TxResolver) (chainhash.Hash, error) {

	for _, term := range c.Terminals {
		ab, ok := c.Bundle(term.Bundle)
		if !ok {
			continue
		}

		_, err := resolver.ResolveTx(ctx, ab.Anchor.Txid)
		switch {
		case errors.Is(err, chain.ErrTxNotFound):
			continue

		case err != nil:
			return chainhash.Hash{}, err
		}

		return ab.Anchor.Txid, nil
	}

	return chainhash.Hash{}, fmt.Errorf("%w: consignment %v",
		ErrInconclusive, c.ID())
}
