package rgbpsbt

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/keys"
)

var (
	// ErrWrongPSBT is returned for packets that cannot be decoded.
	ErrWrongPSBT = errors.New("rgbpsbt: wrong psbt")

	// ErrMissingUtxo is returned when an input has no witness utxo to
	// sign against.
	ErrMissingUtxo = errors.New("rgbpsbt: input has no witness utxo")
)

// Sign adds key spend signatures to every input whose key derives from one
// of the private descriptors. Inputs spending a tapret host are signed with
// the tweak of their merkle root. It returns the number of signed inputs.
func Sign(p *psbt.Packet, descs ...*keys.Descriptor) (int, error) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs))
	for i, pIn := range p.Inputs {
		if pIn.WitnessUtxo == nil {
			return 0, fmt.Errorf("%w: input %d", ErrMissingUtxo, i)
		}
		prevOuts[p.UnsignedTx.TxIn[i].PreviousOutPoint] = pIn.WitnessUtxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)

	var signed int
	for i := range p.Inputs {
		pIn := &p.Inputs[i]
		if len(pIn.TaprootKeySpendSig) > 0 {
			continue
		}

		ok, err := signInput(p.UnsignedTx, sigHashes, i, pIn, descs)
		if err != nil {
			return signed, err
		}
		if ok {
			signed++
		}
	}

	log.Debugf("Signed %d of %d inputs", signed, len(p.Inputs))

	return signed, nil
}

func signInput(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int,
	pIn *psbt.PInput, descs []*keys.Descriptor) (bool, error) {

	for _, derivation := range pIn.TaprootBip32Derivation {
		path := derivation.Bip32Path
		if len(path) < 2 {
			continue
		}
		terminal := keys.Terminal{
			App:   path[len(path)-2],
			Index: path[len(path)-1],
		}

		for _, desc := range descs {
			if desc.Fingerprint != derivation.MasterKeyFingerprint {
				continue
			}

			priv, err := desc.TerminalPrivKey(terminal)
			if err != nil {
				return false, err
			}
			xonly := schnorr.SerializePubKey(priv.PubKey())
			if !bytes.Equal(xonly, derivation.XOnlyPubKey) {
				priv.Zero()
				continue
			}

			sig, err := txscript.RawTxInTaprootSignature(
				tx, sigHashes, idx, pIn.WitnessUtxo.Value,
				pIn.WitnessUtxo.PkScript, pIn.TaprootMerkleRoot,
				pIn.SighashType, priv,
			)
			priv.Zero()
			if err != nil {
				return false, err
			}
			pIn.TaprootKeySpendSig = sig

			return true, nil
		}
	}

	return false, nil
}

// Finalize finalizes every signed input and extracts the network
// transaction.
func Finalize(p *psbt.Packet) (*wire.MsgTx, error) {
	if err := psbt.MaybeFinalizeAll(p); err != nil {
		return nil, err
	}

	return psbt.Extract(p)
}

// Encode serializes a packet as base64.
func Encode(p *psbt.Packet) (string, error) {
	return p.B64Encode()
}

// Decode parses a packet given as base64 or hex.
func Decode(s string) (*psbt.Packet, error) {
	s = strings.TrimSpace(s)

	raw, err := hex.DecodeString(s)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: neither hex nor base64",
				ErrWrongPSBT)
		}
	}

	p, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPSBT, err)
	}

	return p, nil
}

// Clone returns a deep copy of a packet.
func Clone(p *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPSBT, err)
	}

	c, err := psbt.NewFromRawBytes(&buf, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPSBT, err)
	}

	return c, nil
}
