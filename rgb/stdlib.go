package rgb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/tlv"
)

// Names of the standard interfaces.
const (
	IfaceRGB20 = "RGB20"
	IfaceRGB21 = "RGB21"
)

// Global, owned and transition types of the standard schemas.
const (
	GlobalSpec         uint16 = 2000
	GlobalTerms        uint16 = 2001
	GlobalIssuedSupply uint16 = 2010
	GlobalTokens       uint16 = 2100

	OwnedAssets uint16 = 4000

	TransitionTransfer uint16 = 10000
	TransitionBlank    uint16 = 0x8000
)

// Interface names of the standard state.
const (
	NameSpec         = "spec"
	NameTerms        = "terms"
	NameIssuedSupply = "issuedSupply"
	NameTokens       = "tokens"
	NameAssetOwner   = "assetOwner"
	NameTransfer     = "Transfer"
	NameBlank        = "BlankTransition"
)

var (
	// ErrUnknownIface is returned for interface names other than the
	// standard ones.
	ErrUnknownIface = errors.New("rgb: unknown interface")
)

var assetTransitions = []TransitionSchema{{
	Type:        TransitionTransfer,
	Name:        NameTransfer,
	Inputs:      []uint16{OwnedAssets},
	Assignments: []uint16{OwnedAssets},
}, {
	Type:        TransitionBlank,
	Name:        NameBlank,
	Inputs:      []uint16{OwnedAssets},
	Assignments: []uint16{OwnedAssets},
}}

// NIASchema is the non inflatable fungible asset schema behind RGB20.
func NIASchema() Schema {
	return Schema{
		Name: "NonInflatableAsset",
		Globals: []GlobalSchema{
			{Type: GlobalSpec, Name: NameSpec, Required: 1},
			{Type: GlobalTerms, Name: NameTerms, Required: 1},
			{Type: GlobalIssuedSupply, Name: NameIssuedSupply,
				Required: 1},
		},
		Owned: []OwnedSchema{
			{Type: OwnedAssets, Name: NameAssetOwner,
				State: StateFungible},
		},
		GenesisAssignments: []uint16{OwnedAssets},
		Transitions:        assetTransitions,
	}
}

// UDASchema is the unique digital asset schema behind RGB21.
func UDASchema() Schema {
	return Schema{
		Name: "UniqueDigitalAsset",
		Globals: []GlobalSchema{
			{Type: GlobalSpec, Name: NameSpec, Required: 1},
			{Type: GlobalTerms, Name: NameTerms, Required: 1},
			{Type: GlobalTokens, Name: NameTokens, Required: 1},
		},
		Owned: []OwnedSchema{
			{Type: OwnedAssets, Name: NameAssetOwner,
				State: StateFungible},
		},
		GenesisAssignments: []uint16{OwnedAssets},
		Transitions:        assetTransitions,
	}
}

var ifaceTransitions = []NamedType{
	{Name: NameTransfer, Type: TransitionTransfer},
	{Name: NameBlank, Type: TransitionBlank},
}

// RGB20 returns the fungible interface with its NIA implementation.
func RGB20() (Schema, IfacePair) {
	schema := NIASchema()
	iface := Interface{
		Name:        IfaceRGB20,
		Globals:     []string{NameSpec, NameTerms, NameIssuedSupply},
		Assignments: []string{NameAssetOwner},
		Transitions: []string{NameTransfer, NameBlank},
	}

	return schema, IfacePair{
		Iface: iface,
		Impl: IfaceImpl{
			Iface:  iface.ID(),
			Schema: schema.ID(),
			Globals: []NamedType{
				{Name: NameSpec, Type: GlobalSpec},
				{Name: NameTerms, Type: GlobalTerms},
				{Name: NameIssuedSupply, Type: GlobalIssuedSupply},
			},
			Assignments: []NamedType{
				{Name: NameAssetOwner, Type: OwnedAssets},
			},
			Transitions: ifaceTransitions,
		},
	}
}

// RGB21 returns the unique asset interface with its UDA implementation.
func RGB21() (Schema, IfacePair) {
	schema := UDASchema()
	iface := Interface{
		Name:        IfaceRGB21,
		Globals:     []string{NameSpec, NameTerms, NameTokens},
		Assignments: []string{NameAssetOwner},
		Transitions: []string{NameTransfer, NameBlank},
	}

	return schema, IfacePair{
		Iface: iface,
		Impl: IfaceImpl{
			Iface:  iface.ID(),
			Schema: schema.ID(),
			Globals: []NamedType{
				{Name: NameSpec, Type: GlobalSpec},
				{Name: NameTerms, Type: GlobalTerms},
				{Name: NameTokens, Type: GlobalTokens},
			},
			Assignments: []NamedType{
				{Name: NameAssetOwner, Type: OwnedAssets},
			},
			Transitions: ifaceTransitions,
		},
	}
}

// StandardIface returns the schema and interface pair of a standard
// interface name.
func StandardIface(name string) (Schema, IfacePair, error) {
	switch name {
	case IfaceRGB20:
		s, p := RGB20()
		return s, p, nil

	case IfaceRGB21:
		s, p := RGB21()
		return s, p, nil

	default:
		return Schema{}, IfacePair{}, fmt.Errorf("%w: %q",
			ErrUnknownIface, name)
	}
}

// AssetSpec is the "spec" global of the standard interfaces.
type AssetSpec struct {
	Ticker    string
	Name      string
	Details   string
	Precision uint8
}

// ContractTerms is the "terms" global.
type ContractTerms struct {
	Text  string
	Media *MediaItem
}

// TokenData is the "tokens" global of a unique asset.
type TokenData struct {
	Index       uint32
	Ticker      string
	Name        string
	Details     string
	Preview     *MediaItem
	Attachments []MediaItem
}

const (
	specTickerType    tlv.Type = 0
	specNameType      tlv.Type = 2
	specDetailsType   tlv.Type = 4
	specPrecisionType tlv.Type = 6
)

func (s *AssetSpec) EncodeRecords() []tlv.Record {
	return s.DecodeRecords()
}

func (s *AssetSpec) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewStringRecord(specTickerType, &s.Ticker),
		NewStringRecord(specNameType, &s.Name),
		NewStringRecord(specDetailsType, &s.Details),
		tlv.MakePrimitiveRecord(specPrecisionType, &s.Precision),
	}
}

const (
	termsTextType  tlv.Type = 0
	termsMediaType tlv.Type = 1
)

func (t *ContractTerms) EncodeRecords() []tlv.Record {
	records := []tlv.Record{NewStringRecord(termsTextType, &t.Text)}
	if t.Media != nil {
		records = append(records, NewOptionalModelRecord[MediaItem](
			termsMediaType, &t.Media,
		))
	}

	return records
}

func (t *ContractTerms) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		NewStringRecord(termsTextType, &t.Text),
		NewOptionalModelRecord[MediaItem](termsMediaType, &t.Media),
	}
}

const (
	tokenIndexType       tlv.Type = 0
	tokenTickerType      tlv.Type = 2
	tokenNameType        tlv.Type = 4
	tokenDetailsType     tlv.Type = 6
	tokenPreviewType     tlv.Type = 7
	tokenAttachmentsType tlv.Type = 8
)

func (t *TokenData) EncodeRecords() []tlv.Record {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(tokenIndexType, &t.Index),
		NewStringRecord(tokenTickerType, &t.Ticker),
		NewStringRecord(tokenNameType, &t.Name),
		NewStringRecord(tokenDetailsType, &t.Details),
	}
	if t.Preview != nil {
		records = append(records, NewOptionalModelRecord[MediaItem](
			tokenPreviewType, &t.Preview,
		))
	}

	return append(records, NewSliceRecord[MediaItem](
		tokenAttachmentsType, &t.Attachments,
	))
}

func (t *TokenData) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(tokenIndexType, &t.Index),
		NewStringRecord(tokenTickerType, &t.Ticker),
		NewStringRecord(tokenNameType, &t.Name),
		NewStringRecord(tokenDetailsType, &t.Details),
		NewOptionalModelRecord[MediaItem](tokenPreviewType, &t.Preview),
		NewSliceRecord[MediaItem](
			tokenAttachmentsType, &t.Attachments,
		),
	}
}

// Bytes returns the encoding stored as global state.
func (s *AssetSpec) Bytes() []byte { return ModelBytes(s) }

// Bytes returns the encoding stored as global state.
func (t *ContractTerms) Bytes() []byte { return ModelBytes(t) }

// Bytes returns the encoding stored as global state.
func (t *TokenData) Bytes() []byte { return ModelBytes(t) }

// EncodeSupply encodes an issued supply global.
func EncodeSupply(supply uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], supply)

	return b[:]
}

// DecodeSupply decodes an issued supply global.
func DecodeSupply(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("rgb: supply of %d bytes", len(b))
	}

	return binary.BigEndian.Uint64(b), nil
}

// ContractData is the interface view of a contract's global state.
type ContractData struct {
	Iface        string
	Spec         AssetSpec
	Terms        ContractTerms
	IssuedSupply uint64
	Tokens       []TokenData
}

// Media returns every media item referenced by the contract.
func (d *ContractData) Media() []MediaItem {
	var media []MediaItem
	if d.Terms.Media != nil {
		media = append(media, *d.Terms.Media)
	}
	for _, t := range d.Tokens {
		if t.Preview != nil {
			media = append(media, *t.Preview)
		}
		media = append(media, t.Attachments...)
	}

	return media
}

func decodeGlobal(value []byte, m Model) error {
	return DecodeModel(bytes.NewReader(value), m)
}

// ReadContractData reads the standard globals of a genesis through an
// interface implementation.
func ReadContractData(g *Genesis, pair *IfacePair) (*ContractData, error) {
	data := &ContractData{Iface: pair.Iface.Name}

	one := func(name string) ([]byte, error) {
		typ, err := pair.Impl.GlobalType(name)
		if err != nil {
			return nil, err
		}
		values := g.Global(typ)
		if len(values) != 1 {
			return nil, fmt.Errorf("rgb: expected one %v global, "+
				"found %d", name, len(values))
		}
		return values[0], nil
	}

	spec, err := one(NameSpec)
	if err != nil {
		return nil, err
	}
	if err := decodeGlobal(spec, &data.Spec); err != nil {
		return nil, fmt.Errorf("rgb: decode spec: %w", err)
	}

	terms, err := one(NameTerms)
	if err != nil {
		return nil, err
	}
	if err := decodeGlobal(terms, &data.Terms); err != nil {
		return nil, fmt.Errorf("rgb: decode terms: %w", err)
	}

	switch pair.Iface.Name {
	case IfaceRGB20:
		supply, err := one(NameIssuedSupply)
		if err != nil {
			return nil, err
		}
		data.IssuedSupply, err = DecodeSupply(supply)
		if err != nil {
			return nil, err
		}

	case IfaceRGB21:
		typ, err := pair.Impl.GlobalType(NameTokens)
		if err != nil {
			return nil, err
		}
		for _, v := range g.Global(typ) {
			var token TokenData
			if err := decodeGlobal(v, &token); err != nil {
				return nil, fmt.Errorf("rgb: decode token: %w",
					err)
			}
			data.Tokens = append(data.Tokens, token)
		}

		// Every token of a unique asset is issued exactly once.
		for _, a := range g.Assignments {
			data.IssuedSupply += a.Amount
		}
	}

	return data, nil
}
