package rgbpsbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/commitment"
)

const (
	// PsbtKeyTypeProprietary is the BIP-174 key type of proprietary keys.
	PsbtKeyTypeProprietary byte = 0xfc

	// SubtypeTapretHost marks the output that hosts the commitment.
	SubtypeTapretHost byte = 0x00

	// SubtypeTapretCommitment holds the commitment installed into the
	// host output.
	SubtypeTapretCommitment byte = 0x01
)

// TapretPrefix is the proprietary key prefix of tapret keys.
var TapretPrefix = []byte("TAPRET")

var (
	// ErrInputOutOfRange is returned when a key is placed at an input
	// the packet does not have.
	ErrInputOutOfRange = errors.New("rgbpsbt: input out of range")

	// ErrOutputOutOfRange is returned when a key is placed at an output
	// the packet does not have.
	ErrOutputOutOfRange = errors.New("rgbpsbt: output out of range")

	// ErrInvalidTapretHost is returned when no output, or the wrong one,
	// is marked as the tapret host.
	ErrInvalidTapretHost = errors.New("rgbpsbt: invalid tapret host")

	// ErrInvalidProof is returned when the host output carries no valid
	// commitment.
	ErrInvalidProof = errors.New("rgbpsbt: invalid tapret proof")
)

// ProprietaryKey serializes a proprietary key: the key type, the length
// prefixed identifier, the subtype and the key data.
func ProprietaryKey(prefix []byte, subtype byte, keyData []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(PsbtKeyTypeProprietary)
	_ = wire.WriteVarBytes(&b, 0, prefix)
	_ = wire.WriteVarInt(&b, 0, uint64(subtype))
	b.Write(keyData)

	return b.Bytes()
}

// TapretKey returns the tapret proprietary key of a subtype.
func TapretKey(subtype byte) []byte {
	return ProprietaryKey(TapretPrefix, subtype, nil)
}

func findUnknown(unknowns []*psbt.Unknown, key []byte) (int, bool) {
	for i, u := range unknowns {
		if bytes.Equal(u.Key, key) {
			return i, true
		}
	}

	return 0, false
}

func setUnknown(unknowns []*psbt.Unknown, key, value []byte) []*psbt.Unknown {
	value = append([]byte{}, value...)
	if i, ok := findUnknown(unknowns, key); ok {
		unknowns[i].Value = value
		return unknowns
	}

	return append(unknowns, &psbt.Unknown{Key: key, Value: value})
}

// SetInputKey sets a proprietary key on an input.
func SetInputKey(p *psbt.Packet, idx int, key, value []byte) error {
	if idx < 0 || idx >= len(p.Inputs) {
		return fmt.Errorf("%w: %d of %d", ErrInputOutOfRange, idx,
			len(p.Inputs))
	}
	p.Inputs[idx].Unknowns = setUnknown(p.Inputs[idx].Unknowns, key, value)

	return nil
}

// SetOutputKey sets a proprietary key on an output.
func SetOutputKey(p *psbt.Packet, idx int, key, value []byte) error {
	if idx < 0 || idx >= len(p.Outputs) {
		return fmt.Errorf("%w: %d of %d", ErrOutputOutOfRange, idx,
			len(p.Outputs))
	}
	p.Outputs[idx].Unknowns = setUnknown(
		p.Outputs[idx].Unknowns, key, value,
	)

	return nil
}

// OutputKey returns the value of a proprietary key on an output.
func OutputKey(p *psbt.Packet, idx int, key []byte) ([]byte, bool) {
	if idx < 0 || idx >= len(p.Outputs) {
		return nil, false
	}
	i, ok := findUnknown(p.Outputs[idx].Unknowns, key)
	if !ok {
		return nil, false
	}

	return p.Outputs[idx].Unknowns[i].Value, true
}

// HostOutput returns the index of the output marked as the tapret host.
func HostOutput(p *psbt.Packet) (int, error) {
	key := TapretKey(SubtypeTapretHost)
	for i := range p.Outputs {
		if _, ok := findUnknown(p.Outputs[i].Unknowns, key); ok {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: no output is marked as host",
		ErrInvalidTapretHost)
}

// SetCommitment installs a commitment into the host output: the output
// key is tweaked with the tapret leaf and the commitment key is filled in.
// The host must be the first output and carry its internal key.
func SetCommitment(p *psbt.Packet, c commitment.TapretCommitment) error {
	host, err := HostOutput(p)
	if err != nil {
		return err
	}
	if host != 0 {
		return fmt.Errorf("%w: host is output %d", ErrInvalidTapretHost,
			host)
	}

	out := &p.Outputs[host]
	if len(out.TaprootInternalKey) == 0 {
		return fmt.Errorf("%w: host has no internal key",
			ErrInvalidTapretHost)
	}
	internal, err := parseXOnly(out.TaprootInternalKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTapretHost, err)
	}

	pkScript, err := c.PkScript(internal)
	if err != nil {
		return err
	}

	var tree bytes.Buffer
	tree.WriteByte(0)
	tree.WriteByte(byte(txscript.BaseLeafVersion))
	if err := wire.WriteVarBytes(&tree, 0, c.Script()); err != nil {
		return err
	}

	p.UnsignedTx.TxOut[host].PkScript = pkScript
	out.TaprootTapTree = tree.Bytes()

	return SetOutputKey(
		p, host, TapretKey(SubtypeTapretCommitment), c.Bytes(),
	)
}

// ExtractCommitment returns the commitment installed into the host output.
func ExtractCommitment(p *psbt.Packet) (commitment.TapretCommitment, int,
	error) {

	host, err := HostOutput(p)
	if err != nil {
		return commitment.TapretCommitment{}, 0, err
	}

	value, ok := OutputKey(p, host, TapretKey(SubtypeTapretCommitment))
	if !ok || len(value) == 0 {
		return commitment.TapretCommitment{}, 0, fmt.Errorf("%w: no "+
			"commitment at host output %d", ErrInvalidProof, host)
	}

	c, err := commitment.ParseTapretCommitment(value)
	if err != nil {
		return commitment.TapretCommitment{}, 0, fmt.Errorf("%w: %v",
			ErrInvalidProof, err)
	}

	return c, host, nil
}
