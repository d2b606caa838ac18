package rgb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// Bech32HRP is the human readable part of bech32m encoded
	// consignments.
	Bech32HRP = "rgb"

	armorContract = "RGB CONTRACT"
	armorTransfer = "RGB TRANSFER"

	armorHeaderID       = "Id"
	armorHeaderContract = "Contract"
	armorHeaderCheck    = "Check-SHA256"
)

var (
	// ErrWireFormat is returned when a serialized consignment is neither
	// armored, bech32m nor hex.
	ErrWireFormat = errors.New("rgb: unrecognised consignment encoding")

	// ErrArmorChecksum is returned when an armored block fails its
	// checksum header.
	ErrArmorChecksum = errors.New("rgb: armor checksum mismatch")
)

// ToHex returns the hex form of the consignment.
func (c *Consignment) ToHex() string {
	return hex.EncodeToString(c.Bytes())
}

// ToBech32m returns the "rgb1..." form of the consignment.
func (c *Consignment) ToBech32m() (string, error) {
	data, err := bech32.ConvertBits(c.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.EncodeM(Bech32HRP, data)
}

// ToArmored returns the ASCII armored form of the consignment.
func (c *Consignment) ToArmored() string {
	body := c.Bytes()
	check := sha256.Sum256(body)

	blockType := armorContract
	if c.Transfer {
		blockType = armorTransfer
	}

	return string(pem.EncodeToMemory(&pem.Block{
		Type: blockType,
		Headers: map[string]string{
			armorHeaderID:       c.ID().String(),
			armorHeaderContract: c.ContractID().String(),
			armorHeaderCheck:    hex.EncodeToString(check[:]),
		},
		Bytes: body,
	}))
}

// ParseConsignment decodes a consignment in any of its wire forms: ASCII
// armor, bech32m or hex.
func ParseConsignment(s string) (*Consignment, error) {
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(s, "-----BEGIN RGB"):
		return parseArmored(s)

	case strings.HasPrefix(strings.ToLower(s), Bech32HRP+"1"):
		hrp, data, err := bech32.DecodeNoLimit(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWireFormat, err)
		}
		if hrp != Bech32HRP {
			return nil, fmt.Errorf("%w: hrp %q", ErrWireFormat, hrp)
		}
		raw, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWireFormat, err)
		}
		return DecodeConsignment(raw)

	default:
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWireFormat, err)
		}
		return DecodeConsignment(raw)
	}
}

func parseArmored(s string) (*Consignment, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: malformed armor", ErrWireFormat)
	}
	if block.Type != armorContract && block.Type != armorTransfer {
		return nil, fmt.Errorf("%w: armor type %q", ErrWireFormat,
			block.Type)
	}

	if check, ok := block.Headers[armorHeaderCheck]; ok {
		sum := sha256.Sum256(block.Bytes)
		want, err := hex.DecodeString(check)
		if err != nil || !bytes.Equal(want, sum[:]) {
			return nil, ErrArmorChecksum
		}
	}

	c, err := DecodeConsignment(block.Bytes)
	if err != nil {
		return nil, err
	}

	if id, ok := block.Headers[armorHeaderID]; ok && id != c.ID().String() {
		return nil, fmt.Errorf("%w: id header %v", ErrArmorChecksum, id)
	}

	return c, nil
}
