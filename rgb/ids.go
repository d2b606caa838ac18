package rgb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Tags of the tagged hashes identifying the objects of a contract.
const (
	tagSchema      = "urn:lnp-bp:rgb:schema#2024-02-03"
	tagIface       = "urn:lnp-bp:rgb:interface#2024-02-04"
	tagImpl        = "urn:lnp-bp:rgb:interface-impl#2024-02-04"
	tagGenesis     = "urn:lnp-bp:rgb:genesis#2024-02-03"
	tagTransition  = "urn:lnp-bp:rgb:transition#2024-02-03"
	tagBundle      = "urn:lnp-bp:rgb:bundle#2024-02-03"
	tagSeal        = "urn:lnp-bp:bp:seal#2024-02-03"
	tagConsignment = "urn:lnp-bp:rgb:consignment#2024-03-11"
)

// Textual prefixes of the ids.
const (
	ContractIDPrefix    = "rgb:"
	SchemaIDPrefix      = "urn:lnp-bp:sc:"
	IfaceIDPrefix       = "urn:lnp-bp:if:"
	ImplIDPrefix        = "urn:lnp-bp:im:"
	ConsignmentIDPrefix = "urn:lnp-bp:consignment:"
	SecretSealPrefix    = "utxob:"
)

var (
	// ErrInvalidID is returned for ids that are not 32 bytes of base58
	// (or hex) with the expected prefix.
	ErrInvalidID = errors.New("rgb: invalid id")
)

func taggedHash(tag string, msgs ...[]byte) [32]byte {
	return *chainhash.TaggedHash([]byte(tag), msgs...)
}

func encodeID(prefix string, id [32]byte) string {
	return prefix + base58.Encode(id[:])
}

// parseID accepts "<prefix><base58>", a bare base58 string or 64 hex chars.
func parseID(prefix, s string) ([32]byte, error) {
	var id [32]byte

	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, prefix)

	if len(s) == 64 {
		if b, err := hex.DecodeString(s); err == nil {
			copy(id[:], b)
			return id, nil
		}
	}

	b := base58.Decode(s)
	if len(b) != 32 {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	copy(id[:], b)

	return id, nil
}

// ContractID identifies a contract. It is the tagged hash of its genesis.
type ContractID [32]byte

func (c ContractID) String() string {
	return encodeID(ContractIDPrefix, c)
}

// ParseContractID parses "rgb:<base58>" as well as the bare forms.
func ParseContractID(s string) (ContractID, error) {
	id, err := parseID(ContractIDPrefix, s)
	return ContractID(id), err
}

// SchemaID identifies a schema.
type SchemaID [32]byte

func (s SchemaID) String() string {
	return encodeID(SchemaIDPrefix, s)
}

func ParseSchemaID(s string) (SchemaID, error) {
	id, err := parseID(SchemaIDPrefix, s)
	return SchemaID(id), err
}

// IfaceID identifies an interface.
type IfaceID [32]byte

func (i IfaceID) String() string {
	return encodeID(IfaceIDPrefix, i)
}

func ParseIfaceID(s string) (IfaceID, error) {
	id, err := parseID(IfaceIDPrefix, s)
	return IfaceID(id), err
}

// ImplID identifies an interface implementation.
type ImplID [32]byte

func (i ImplID) String() string {
	return encodeID(ImplIDPrefix, i)
}

// OpID identifies an operation: the genesis or a state transition. The
// genesis op id equals the contract id.
type OpID [32]byte

func (o OpID) String() string {
	return hex.EncodeToString(o[:])
}

// BundleID identifies a transition bundle. It is the message committed to
// in the multi protocol commitment of the witness transaction.
type BundleID [32]byte

func (b BundleID) String() string {
	return hex.EncodeToString(b[:])
}

// ConsignmentID identifies a consignment by the hash of its encoding.
type ConsignmentID [32]byte

func (c ConsignmentID) String() string {
	return encodeID(ConsignmentIDPrefix, c)
}

func ParseConsignmentID(s string) (ConsignmentID, error) {
	id, err := parseID(ConsignmentIDPrefix, s)
	return ConsignmentID(id), err
}

// MarshalText encodes the id in its textual form.
func (c ContractID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses any form ParseContractID accepts.
func (c *ContractID) UnmarshalText(text []byte) error {
	id, err := ParseContractID(string(text))
	if err != nil {
		return err
	}
	*c = id

	return nil
}

func (s SchemaID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (i IfaceID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (c ConsignmentID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses any form ParseConsignmentID accepts.
func (c *ConsignmentID) UnmarshalText(text []byte) error {
	id, err := ParseConsignmentID(string(text))
	if err != nil {
		return err
	}
	*c = id

	return nil
}
