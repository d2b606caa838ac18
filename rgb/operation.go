package rgb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrNoSeal is returned when a revealed seal is required but only the
	// concealed form is known.
	ErrNoSeal = errors.New("rgb: seal is concealed")
)

// GlobalState is one item of global contract state.
type GlobalState struct {
	Type  uint16
	Value []byte
}

// Assignment binds owned state to a single-use seal. The seal may be known
// in full (Seal set) or only by its concealed form.
type Assignment struct {
	Type uint16

	// Seal is the revealed seal definition, nil when only Concealed is
	// known.
	Seal *BlindSeal

	// Concealed is the secret seal. It always matches Seal when both are
	// present.
	Concealed SecretSeal

	// Amount is the fungible state. It is zero for structured state.
	Amount uint64

	// Data is the structured state.
	Data []byte
}

// NewRevealedAssignment creates an assignment of amount to seal.
func NewRevealedAssignment(typ uint16, seal *BlindSeal,
	amount uint64) Assignment {

	return Assignment{
		Type:      typ,
		Seal:      seal,
		Concealed: seal.Conceal(),
		Amount:    amount,
	}
}

// NewConcealedAssignment creates an assignment of amount to a seal known only
// by its concealed form.
func NewConcealedAssignment(typ uint16, seal SecretSeal,
	amount uint64) Assignment {

	return Assignment{Type: typ, Concealed: seal, Amount: amount}
}

// Conceal returns a copy of the assignment with the seal hidden.
func (a Assignment) Conceal() Assignment {
	a.Seal = nil
	return a
}

// Reveal attaches a seal definition to a concealed assignment.
func (a *Assignment) Reveal(seal *BlindSeal) error {
	if seal.Conceal() != a.Concealed {
		return ErrSealMismatch
	}
	a.Seal = seal

	return nil
}

// Opout references a single assignment of an operation.
type Opout struct {
	Op   OpID
	Type uint16
	No   uint16
}

func (o Opout) String() string {
	return fmt.Sprintf("%v/%d/%d", o.Op, o.Type, o.No)
}

// Genesis is the operation creating a contract.
type Genesis struct {
	Schema      SchemaID
	Chain       string
	Timestamp   uint64
	Globals     []GlobalState
	Assignments []Assignment
}

// ContractID returns the id of the contract created by the genesis. Seals
// are committed in their concealed form, so revealing them does not change
// the id.
func (g *Genesis) ContractID() ContractID {
	concealed := *g
	concealed.Assignments = concealAll(g.Assignments)

	return ContractID(taggedHash(tagGenesis, ModelBytes(&concealed)))
}

// OpID returns the operation id of the genesis.
func (g *Genesis) OpID() OpID {
	return OpID(g.ContractID())
}

// Global returns the values of a global type.
func (g *Genesis) Global(typ uint16) [][]byte {
	return globalsOf(g.Globals, typ)
}

// Transition moves owned state from the assignments it closes to new ones.
type Transition struct {
	Contract    ContractID
	Type        uint16
	Nonce       uint64
	Globals     []GlobalState
	Inputs      []Opout
	Assignments []Assignment
}

// ID returns the operation id of the transition.
func (t *Transition) ID() OpID {
	concealed := *t
	concealed.Assignments = concealAll(t.Assignments)

	return OpID(taggedHash(tagTransition, ModelBytes(&concealed)))
}

func concealAll(assignments []Assignment) []Assignment {
	out := make([]Assignment, len(assignments))
	for i, a := range assignments {
		out[i] = a.Conceal()
	}

	return out
}

func globalsOf(globals []GlobalState, typ uint16) [][]byte {
	var out [][]byte
	for _, g := range globals {
		if g.Type == typ {
			out = append(out, g.Value)
		}
	}

	return out
}

// Bundle groups the transitions of one contract closed by the same witness
// transaction.
type Bundle struct {
	Contract    ContractID
	Transitions []Transition
}

// ID returns the bundle id: the tagged hash of the contract id and the
// sorted ids of its transitions.
func (b *Bundle) ID() BundleID {
	ids := make([]OpID, len(b.Transitions))
	for i := range b.Transitions {
		ids[i] = b.Transitions[i].ID()
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(ids)))

	msgs := [][]byte{b.Contract[:], count[:]}
	for i := range ids {
		msgs = append(msgs, ids[i][:])
	}

	return BundleID(taggedHash(tagBundle, msgs...))
}

// Transition returns the transition with the given id.
func (b *Bundle) Transition(id OpID) (*Transition, bool) {
	for i := range b.Transitions {
		if b.Transitions[i].ID() == id {
			return &b.Transitions[i], true
		}
	}

	return nil, false
}

const (
	globalStateTypeType  tlv.Type = 0
	globalStateValueType tlv.Type = 2
)

func (g *GlobalState) EncodeRecords() []tlv.Record {
	return g.DecodeRecords()
}

func (g *GlobalState) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(globalStateTypeType, &g.Type),
		NewVarBytesRecord(globalStateValueType, &g.Value),
	}
}

const (
	assignmentTypeType      tlv.Type = 0
	assignmentSealType      tlv.Type = 1
	assignmentConcealedType tlv.Type = 2
	assignmentAmountType    tlv.Type = 4
	assignmentDataType      tlv.Type = 6
)

func (a *Assignment) EncodeRecords() []tlv.Record {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(assignmentTypeType, &a.Type),
	}
	if a.Seal != nil {
		records = append(records, NewOptionalModelRecord[BlindSeal](
			assignmentSealType, &a.Seal,
		))
	}

	return append(records,
		NewHash32Record(assignmentConcealedType, &a.Concealed),
		tlv.MakePrimitiveRecord(assignmentAmountType, &a.Amount),
		NewVarBytesRecord(assignmentDataType, &a.Data),
	)
}

func (a *Assignment) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(assignmentTypeType, &a.Type),
		NewOptionalModelRecord[BlindSeal](assignmentSealType, &a.Seal),
		NewHash32Record(assignmentConcealedType, &a.Concealed),
		tlv.MakePrimitiveRecord(assignmentAmountType, &a.Amount),
		NewVarBytesRecord(assignmentDataType, &a.Data),
	}
}

// verifySeal checks a decoded assignment's revealed seal against its
// concealed form.
func (a *Assignment) verifySeal() error {
	if a.Seal != nil && a.Seal.Conceal() != a.Concealed {
		return ErrSealMismatch
	}

	return nil
}

const (
	opoutOpType   tlv.Type = 0
	opoutTypeType tlv.Type = 2
	opoutNoType   tlv.Type = 4
)

func (o *Opout) EncodeRecords() []tlv.Record {
	return o.DecodeRecords()
}

func (o *Opout) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(opoutOpType, &o.Op),
		tlv.MakePrimitiveRecord(opoutTypeType, &o.Type),
		tlv.MakePrimitiveRecord(opoutNoType, &o.No),
	}
}

const (
	genesisSchemaType      tlv.Type = 0
	genesisChainType       tlv.Type = 2
	genesisTimestampType   tlv.Type = 4
	genesisGlobalsType     tlv.Type = 6
	genesisAssignmentsType tlv.Type = 8
)

func (g *Genesis) EncodeRecords() []tlv.Record {
	return g.DecodeRecords()
}

func (g *Genesis) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(genesisSchemaType, &g.Schema),
		NewStringRecord(genesisChainType, &g.Chain),
		tlv.MakePrimitiveRecord(genesisTimestampType, &g.Timestamp),
		NewSliceRecord[GlobalState](genesisGlobalsType, &g.Globals),
		NewSliceRecord[Assignment](
			genesisAssignmentsType, &g.Assignments,
		),
	}
}

const (
	transitionContractType    tlv.Type = 0
	transitionTypeType        tlv.Type = 2
	transitionNonceType       tlv.Type = 4
	transitionGlobalsType     tlv.Type = 6
	transitionInputsType      tlv.Type = 8
	transitionAssignmentsType tlv.Type = 10
)

func (t *Transition) EncodeRecords() []tlv.Record {
	return t.DecodeRecords()
}

func (t *Transition) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(transitionContractType, &t.Contract),
		tlv.MakePrimitiveRecord(transitionTypeType, &t.Type),
		tlv.MakePrimitiveRecord(transitionNonceType, &t.Nonce),
		NewSliceRecord[GlobalState](transitionGlobalsType, &t.Globals),
		NewSliceRecord[Opout](transitionInputsType, &t.Inputs),
		NewSliceRecord[Assignment](
			transitionAssignmentsType, &t.Assignments,
		),
	}
}

const (
	bundleContractType    tlv.Type = 0
	bundleTransitionsType tlv.Type = 2
)

func (b *Bundle) EncodeRecords() []tlv.Record {
	return b.DecodeRecords()
}

func (b *Bundle) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(bundleContractType, &b.Contract),
		NewSliceRecord[Transition](
			bundleTransitionsType, &b.Transitions,
		),
	}
}
