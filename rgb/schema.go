package rgb

import (
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// StateType is the kind of state an owned right carries.
type StateType uint8

const (
	// StateFungible is an amount that is conserved across transitions.
	StateFungible StateType = 0

	// StateStructured is opaque data carried as is.
	StateStructured StateType = 1
)

// GlobalSchema declares a global state type.
type GlobalSchema struct {
	Type     uint16
	Name     string
	Required uint8
}

// OwnedSchema declares an owned right: state bound to a single-use seal.
type OwnedSchema struct {
	Type  uint16
	Name  string
	State StateType
}

// TransitionSchema declares a state transition type with the owned types it
// may close and define.
type TransitionSchema struct {
	Type        uint16
	Name        string
	Inputs      []uint16
	Assignments []uint16
}

// Schema defines the shape of a contract's state and the transitions that
// may evolve it.
type Schema struct {
	Name               string
	Globals            []GlobalSchema
	Owned              []OwnedSchema
	GenesisAssignments []uint16
	Transitions        []TransitionSchema
}

// ID returns the schema id, the tagged hash of its encoding.
func (s *Schema) ID() SchemaID {
	return SchemaID(taggedHash(tagSchema, ModelBytes(s)))
}

// Global returns the declaration of a global type.
func (s *Schema) Global(typ uint16) (*GlobalSchema, bool) {
	for i := range s.Globals {
		if s.Globals[i].Type == typ {
			return &s.Globals[i], true
		}
	}

	return nil, false
}

// OwnedType returns the declaration of an owned type.
func (s *Schema) OwnedType(typ uint16) (*OwnedSchema, bool) {
	for i := range s.Owned {
		if s.Owned[i].Type == typ {
			return &s.Owned[i], true
		}
	}

	return nil, false
}

// Transition returns the declaration of a transition type.
func (s *Schema) Transition(typ uint16) (*TransitionSchema, bool) {
	for i := range s.Transitions {
		if s.Transitions[i].Type == typ {
			return &s.Transitions[i], true
		}
	}

	return nil, false
}

// Interface is a named view over the state of schemas that implement it.
type Interface struct {
	Name        string
	Globals     []string
	Assignments []string
	Transitions []string
}

// ID returns the interface id.
func (i *Interface) ID() IfaceID {
	return IfaceID(taggedHash(tagIface, ModelBytes(i)))
}

// NamedType binds an interface name to a schema type.
type NamedType struct {
	Name string
	Type uint16
}

// IfaceImpl maps the names of an interface onto the types of a schema.
type IfaceImpl struct {
	Iface       IfaceID
	Schema      SchemaID
	Globals     []NamedType
	Assignments []NamedType
	Transitions []NamedType
}

// ID returns the implementation id.
func (i *IfaceImpl) ID() ImplID {
	return ImplID(taggedHash(tagImpl, ModelBytes(i)))
}

func lookupName(types []NamedType, name string) (uint16, error) {
	for _, t := range types {
		if t.Name == name {
			return t.Type, nil
		}
	}

	return 0, fmt.Errorf("rgb: %q is not implemented", name)
}

// GlobalType resolves an interface global name to a schema type.
func (i *IfaceImpl) GlobalType(name string) (uint16, error) {
	return lookupName(i.Globals, name)
}

// AssignmentType resolves an interface assignment name to a schema type.
func (i *IfaceImpl) AssignmentType(name string) (uint16, error) {
	return lookupName(i.Assignments, name)
}

// TransitionType resolves an interface transition name to a schema type.
func (i *IfaceImpl) TransitionType(name string) (uint16, error) {
	return lookupName(i.Transitions, name)
}

// IfacePair couples an interface with the implementation used by a
// contract.
type IfacePair struct {
	Iface Interface
	Impl  IfaceImpl
}

const (
	globalSchemaTypeType     tlv.Type = 0
	globalSchemaNameType     tlv.Type = 2
	globalSchemaRequiredType tlv.Type = 4
)

func (g *GlobalSchema) EncodeRecords() []tlv.Record {
	return g.DecodeRecords()
}

func (g *GlobalSchema) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(globalSchemaTypeType, &g.Type),
		NewStringRecord(globalSchemaNameType, &g.Name),
		tlv.MakePrimitiveRecord(globalSchemaRequiredType, &g.Required),
	}
}

const (
	ownedSchemaTypeType  tlv.Type = 0
	ownedSchemaNameType  tlv.Type = 2
	ownedSchemaStateType tlv.Type = 4
)

func (o *OwnedSchema) EncodeRecords() []tlv.Record {
	state := uint8(o.State)
	return []tlv.Record{
		tlv.MakePrimitiveRecord(ownedSchemaTypeType, &o.Type),
		NewStringRecord(ownedSchemaNameType, &o.Name),
		tlv.MakePrimitiveRecord(ownedSchemaStateType, &state),
	}
}

func (o *OwnedSchema) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(ownedSchemaTypeType, &o.Type),
		NewStringRecord(ownedSchemaNameType, &o.Name),
		tlv.MakeStaticRecord(ownedSchemaStateType, &o.State, 1,
			stateTypeEncoder, stateTypeDecoder),
	}
}

func stateTypeEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*StateType); ok {
		v := uint8(*t)
		return tlv.EUint8(w, &v, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "StateType")
}

func stateTypeDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*StateType); ok && l == 1 {
		var v uint8
		if err := tlv.DUint8(r, &v, buf, 1); err != nil {
			return err
		}
		if StateType(v) > StateStructured {
			return fmt.Errorf("rgb: unknown state type %d", v)
		}
		*t = StateType(v)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "StateType", l, 1)
}

const (
	transitionSchemaTypeType        tlv.Type = 0
	transitionSchemaNameType        tlv.Type = 2
	transitionSchemaInputsType      tlv.Type = 4
	transitionSchemaAssignmentsType tlv.Type = 6
)

func (t *TransitionSchema) EncodeRecords() []tlv.Record {
	return t.DecodeRecords()
}

func (t *TransitionSchema) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(transitionSchemaTypeType, &t.Type),
		NewStringRecord(transitionSchemaNameType, &t.Name),
		NewUint16SliceRecord(transitionSchemaInputsType, &t.Inputs),
		NewUint16SliceRecord(
			transitionSchemaAssignmentsType, &t.Assignments,
		),
	}
}

const (
	schemaNameType        tlv.Type = 0
	schemaGlobalsType     tlv.Type = 2
	schemaOwnedType       tlv.Type = 4
	schemaGenesisType     tlv.Type = 6
	schemaTransitionsType tlv.Type = 8
)

func (s *Schema) EncodeRecords() []tlv.Record {
	return s.DecodeRecords()
}

func (s *Schema) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewStringRecord(schemaNameType, &s.Name),
		NewSliceRecord[GlobalSchema](schemaGlobalsType, &s.Globals),
		NewSliceRecord[OwnedSchema](schemaOwnedType, &s.Owned),
		NewUint16SliceRecord(schemaGenesisType, &s.GenesisAssignments),
		NewSliceRecord[TransitionSchema](
			schemaTransitionsType, &s.Transitions,
		),
	}
}

const (
	ifaceNameType        tlv.Type = 0
	ifaceGlobalsType     tlv.Type = 2
	ifaceAssignmentsType tlv.Type = 4
	ifaceTransitionsType tlv.Type = 6
)

func (i *Interface) EncodeRecords() []tlv.Record {
	return i.DecodeRecords()
}

func (i *Interface) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewStringRecord(ifaceNameType, &i.Name),
		NewStringSliceRecord(ifaceGlobalsType, &i.Globals),
		NewStringSliceRecord(ifaceAssignmentsType, &i.Assignments),
		NewStringSliceRecord(ifaceTransitionsType, &i.Transitions),
	}
}

const (
	namedTypeNameType tlv.Type = 0
	namedTypeTypeType tlv.Type = 2
)

func (n *NamedType) EncodeRecords() []tlv.Record {
	return n.DecodeRecords()
}

func (n *NamedType) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewStringRecord(namedTypeNameType, &n.Name),
		tlv.MakePrimitiveRecord(namedTypeTypeType, &n.Type),
	}
}

const (
	implIfaceType       tlv.Type = 0
	implSchemaType      tlv.Type = 2
	implGlobalsType     tlv.Type = 4
	implAssignmentsType tlv.Type = 6
	implTransitionsType tlv.Type = 8
)

func (i *IfaceImpl) EncodeRecords() []tlv.Record {
	return i.DecodeRecords()
}

func (i *IfaceImpl) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewHash32Record(implIfaceType, &i.Iface),
		NewHash32Record(implSchemaType, &i.Schema),
		NewSliceRecord[NamedType](implGlobalsType, &i.Globals),
		NewSliceRecord[NamedType](implAssignmentsType, &i.Assignments),
		NewSliceRecord[NamedType](implTransitionsType, &i.Transitions),
	}
}

const (
	ifacePairIfaceType tlv.Type = 0
	ifacePairImplType  tlv.Type = 2
)

func (p *IfacePair) EncodeRecords() []tlv.Record {
	return p.DecodeRecords()
}

func (p *IfacePair) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewModelRecord[Interface](ifacePairIfaceType, &p.Iface),
		NewModelRecord[IfaceImpl](ifacePairImplType, &p.Impl),
	}
}
