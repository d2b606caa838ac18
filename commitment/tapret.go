package commitment

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/rgb"
)

const (
	// TapretSize is the size of a serialized tapret commitment: the MPC
	// root followed by the nonce.
	TapretSize = 33

	// tapretPrefixLen is the number of OP_RESERVED opcodes that make the
	// tapret leaf script unspendable and distinguishable from any
	// regular script.
	tapretPrefixLen = 29

	// TapretScriptSize is the length of a tapret leaf script.
	TapretScriptSize = tapretPrefixLen + 1 + 1 + TapretSize
)

var (
	// ErrInvalidProof is returned when an anchor does not match the
	// witness transaction it claims to be committed in.
	ErrInvalidProof = errors.New("commitment: invalid proof")

	// ErrInvalidTapretScript is returned when a leaf script is not a
	// tapret commitment.
	ErrInvalidTapretScript = errors.New("commitment: not a tapret script")
)

// TapretCommitment is the value committed to in the tapret leaf of a host
// output.
type TapretCommitment struct {
	MPC   [32]byte
	Nonce uint8
}

// Commit returns the tapret commitment of a set of MPC leaves.
func Commit(leaves []rgb.MPCLeaf, nonce uint8) (TapretCommitment, error) {
	root, err := MPCRoot(leaves)
	if err != nil {
		return TapretCommitment{}, err
	}

	return TapretCommitment{MPC: root, Nonce: nonce}, nil
}

// Bytes returns the 33 byte serialization.
func (c TapretCommitment) Bytes() []byte {
	b := make([]byte, 0, TapretSize)
	b = append(b, c.MPC[:]...)

	return append(b, c.Nonce)
}

// ParseTapretCommitment parses the 33 byte serialization.
func ParseTapretCommitment(b []byte) (TapretCommitment, error) {
	if len(b) != TapretSize {
		return TapretCommitment{}, fmt.Errorf("%w: commitment of %d "+
			"bytes", ErrInvalidTapretScript, len(b))
	}

	var c TapretCommitment
	copy(c.MPC[:], b[:32])
	c.Nonce = b[32]

	return c, nil
}

// Script returns the leaf script: 29 OP_RESERVED, OP_RETURN and a push of
// the commitment.
func (c TapretCommitment) Script() []byte {
	script := make([]byte, 0, TapretScriptSize)
	for i := 0; i < tapretPrefixLen; i++ {
		script = append(script, txscript.OP_RESERVED)
	}
	script = append(script, txscript.OP_RETURN, txscript.OP_DATA_33)

	return append(script, c.Bytes()...)
}

// ParseTapretScript extracts the commitment from a tapret leaf script.
func ParseTapretScript(script []byte) (TapretCommitment, error) {
	if len(script) != TapretScriptSize {
		return TapretCommitment{}, ErrInvalidTapretScript
	}
	for _, op := range script[:tapretPrefixLen] {
		if op != txscript.OP_RESERVED {
			return TapretCommitment{}, ErrInvalidTapretScript
		}
	}
	if script[tapretPrefixLen] != txscript.OP_RETURN ||
		script[tapretPrefixLen+1] != txscript.OP_DATA_33 {

		return TapretCommitment{}, ErrInvalidTapretScript
	}

	return ParseTapretCommitment(script[tapretPrefixLen+2:])
}

// Leaf returns the tapret leaf.
func (c TapretCommitment) Leaf() txscript.TapLeaf {
	return txscript.NewBaseTapLeaf(c.Script())
}

// TapHash returns the tap tree root of a host output whose only leaf is the
// tapret leaf.
func (c TapretCommitment) TapHash() chainhash.Hash {
	return c.Leaf().TapHash()
}

// OutputKey tweaks an internal key with the commitment.
func (c TapretCommitment) OutputKey(internal *btcec.PublicKey) *btcec.PublicKey {
	root := c.TapHash()
	return txscript.ComputeTaprootOutputKey(internal, root[:])
}

// PkScript returns the P2TR script of the committed host output.
func (c TapretCommitment) PkScript(internal *btcec.PublicKey) ([]byte,
	error) {

	return txscript.PayToTaprootScript(c.OutputKey(internal))
}

// ControlBlock returns the serialized control block proving the tapret leaf
// against the output key.
func (c TapretCommitment) ControlBlock(internal *btcec.PublicKey) ([]byte,
	error) {

	outputKey := c.OutputKey(internal)
	block := txscript.ControlBlock{
		InternalKey:     internal,
		OutputKeyYIsOdd: outputKey.SerializeCompressed()[0] == 0x03,
		LeafVersion:     txscript.BaseLeafVersion,
	}

	return block.ToBytes()
}

// VerifyAnchor checks that tx is the witness transaction of the anchor and
// that its host output commits to the anchor's MPC leaves.
func VerifyAnchor(anchor *rgb.Anchor, tx *wire.MsgTx) error {
	if tx.TxHash() != anchor.Txid {
		return fmt.Errorf("%w: witness %v is not anchor txid %v",
			ErrInvalidProof, tx.TxHash(), anchor.Txid)
	}
	if int(anchor.Vout) >= len(tx.TxOut) {
		return fmt.Errorf("%w: host output %d out of range",
			ErrInvalidProof, anchor.Vout)
	}

	// The host of a tapret first commitment is the first taproot output.
	for i := uint32(0); i < anchor.Vout; i++ {
		if txscript.IsPayToTaproot(tx.TxOut[i].PkScript) {
			return fmt.Errorf("%w: output %d precedes the host",
				ErrInvalidProof, i)
		}
	}

	internal, err := btcec.ParsePubKey(anchor.InternalKey[:])
	if err != nil {
		return fmt.Errorf("%w: internal key: %v", ErrInvalidProof, err)
	}

	c, err := Commit(anchor.Leaves, anchor.Nonce)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	pkScript, err := c.PkScript(internal)
	if err != nil {
		return err
	}
	if !bytes.Equal(pkScript, tx.TxOut[anchor.Vout].PkScript) {
		return fmt.Errorf("%w: host output does not carry the "+
			"commitment", ErrInvalidProof)
	}

	return nil
}

// XOnly returns the x-only serialization of a key, as found in taproot
// scripts.
func XOnly(key *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(key)
}
