package rgb

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

// CloseMethod is the way a single-use seal is closed by its witness
// transaction.
type CloseMethod uint8

const (
	// TapretFirst commits to the first taproot output with a tapret
	// leaf.
	TapretFirst CloseMethod = 0

	// OpretFirst commits to the first OP_RETURN output. It is understood
	// but never produced by this wallet.
	OpretFirst CloseMethod = 1
)

func (m CloseMethod) String() string {
	switch m {
	case TapretFirst:
		return "tapret1st"
	case OpretFirst:
		return "opret1st"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// ParseCloseMethod parses "tapret1st" or "opret1st".
func ParseCloseMethod(s string) (CloseMethod, error) {
	switch s {
	case "tapret1st":
		return TapretFirst, nil
	case "opret1st":
		return OpretFirst, nil
	default:
		return 0, fmt.Errorf("%w: unknown close method %q", ErrWrongSeal,
			s)
	}
}

var (
	// ErrWrongSeal is returned for malformed seal definitions.
	ErrWrongSeal = errors.New("rgb: wrong seal")

	// ErrSealMismatch is returned when a revealed seal does not hash to
	// the concealed seal it is stored next to.
	ErrSealMismatch = errors.New("rgb: revealed seal does not match " +
		"its concealed form")
)

// SecretSeal is the concealed form of a BlindSeal: a hash commitment to the
// outpoint and the blinding factor. It is the public beneficiary of an
// invoice.
type SecretSeal [32]byte

func (s SecretSeal) String() string {
	return SecretSealPrefix + base58.Encode(s[:])
}

// ParseSecretSeal parses "utxob:<base58>".
func ParseSecretSeal(s string) (SecretSeal, error) {
	if !strings.HasPrefix(s, SecretSealPrefix) {
		return SecretSeal{}, fmt.Errorf("%w: missing %v prefix",
			ErrWrongSeal, SecretSealPrefix)
	}

	b := base58.Decode(strings.TrimPrefix(s, SecretSealPrefix))
	if len(b) != 32 {
		return SecretSeal{}, fmt.Errorf("%w: %q", ErrWrongSeal, s)
	}

	return SecretSeal(b), nil
}

// BlindSeal is a revealed single-use seal definition. A nil Txid denotes a
// witness seal, an output of the very transaction closing the seals of the
// operation that defines it.
type BlindSeal struct {
	Method   CloseMethod
	Txid     *chainhash.Hash
	Vout     uint32
	Blinding uint64
}

// NewBlindSeal creates a seal on an existing outpoint with a random
// blinding factor.
func NewBlindSeal(method CloseMethod, op wire.OutPoint) (*BlindSeal, error) {
	blinding, err := randomUint64()
	if err != nil {
		return nil, err
	}

	txid := op.Hash

	return &BlindSeal{
		Method:   method,
		Txid:     &txid,
		Vout:     op.Index,
		Blinding: blinding,
	}, nil
}

// NewWitnessSeal creates a seal on output vout of the witness transaction.
func NewWitnessSeal(method CloseMethod, vout uint32) (*BlindSeal, error) {
	blinding, err := randomUint64()
	if err != nil {
		return nil, err
	}

	return &BlindSeal{Method: method, Vout: vout, Blinding: blinding}, nil
}

func randomUint64() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(b[:]), nil
}

// IsWitness reports whether the seal points into its witness transaction.
func (s *BlindSeal) IsWitness() bool {
	return s.Txid == nil
}

// Conceal returns the secret seal committing to this definition.
func (s *BlindSeal) Conceal() SecretSeal {
	var (
		msg  [1 + 1 + 32 + 4 + 8]byte
		kind byte
	)
	if s.Txid != nil {
		kind = 1
		copy(msg[2:34], s.Txid[:])
	}
	msg[0] = byte(s.Method)
	msg[1] = kind
	binary.BigEndian.PutUint32(msg[34:38], s.Vout)
	binary.BigEndian.PutUint64(msg[38:], s.Blinding)

	return SecretSeal(taggedHash(tagSeal, msg[:]))
}

// Outpoint resolves the seal to an outpoint, using witness as the txid of a
// witness seal.
func (s *BlindSeal) Outpoint(witness chainhash.Hash) wire.OutPoint {
	if s.Txid != nil {
		return wire.OutPoint{Hash: *s.Txid, Index: s.Vout}
	}

	return wire.OutPoint{Hash: witness, Index: s.Vout}
}

// String renders the seal literal "<method>:<txid>:<vout>", with "~" in
// place of the txid of a witness seal. The blinding is not part of it.
func (s *BlindSeal) String() string {
	txid := "~"
	if s.Txid != nil {
		txid = s.Txid.String()
	}

	return fmt.Sprintf("%v:%s:%d", s.Method, txid, s.Vout)
}

// ParseSealLiteral parses "<method>:<txid>:<vout>" and picks a fresh
// blinding factor.
func ParseSealLiteral(s string) (*BlindSeal, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected method:txid:vout, got %q",
			ErrWrongSeal, s)
	}

	method, err := ParseCloseMethod(parts[0])
	if err != nil {
		return nil, err
	}

	vout, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad vout %q", ErrWrongSeal, parts[2])
	}

	if parts[1] == "~" {
		return NewWitnessSeal(method, uint32(vout))
	}

	txid, err := chainhash.NewHashFromStr(parts[1])
	if err != nil || len(parts[1]) != 2*chainhash.HashSize {
		return nil, fmt.Errorf("%w: bad txid %q", ErrWrongSeal, parts[1])
	}

	return NewBlindSeal(method, wire.OutPoint{
		Hash: *txid, Index: uint32(vout),
	})
}

// Seal TLV types.
const (
	sealMethodType   tlv.Type = 0
	sealTxidType     tlv.Type = 1
	sealVoutType     tlv.Type = 2
	sealBlindingType tlv.Type = 4
)

func (s *BlindSeal) EncodeRecords() []tlv.Record {
	method := uint8(s.Method)
	records := []tlv.Record{
		tlv.MakeStaticRecord(sealMethodType, &method, 1,
			closeMethodEncoder, closeMethodDecoder),
	}
	if s.Txid != nil {
		records = append(records, tlv.MakeStaticRecord(
			sealTxidType, s.Txid, 32, txidEncoder, txidDecoder,
		))
	}

	return append(records,
		tlv.MakePrimitiveRecord(sealVoutType, &s.Vout),
		tlv.MakePrimitiveRecord(sealBlindingType, &s.Blinding),
	)
}

func (s *BlindSeal) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakeStaticRecord(sealMethodType, &s.Method, 1,
			closeMethodEncoder, closeMethodDecoder),
		tlv.MakeStaticRecord(sealTxidType, &s.Txid, 32, txidEncoder,
			txidDecoder),
		tlv.MakePrimitiveRecord(sealVoutType, &s.Vout),
		tlv.MakePrimitiveRecord(sealBlindingType, &s.Blinding),
	}
}

func closeMethodEncoder(w io.Writer, val any, buf *[8]byte) error {
	switch t := val.(type) {
	case *uint8:
		return tlv.EUint8(w, t, buf)
	case *CloseMethod:
		v := uint8(*t)
		return tlv.EUint8(w, &v, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "CloseMethod")
}

func closeMethodDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*CloseMethod); ok && l == 1 {
		var v uint8
		if err := tlv.DUint8(r, &v, buf, 1); err != nil {
			return err
		}
		if CloseMethod(v) != TapretFirst && CloseMethod(v) != OpretFirst {
			return fmt.Errorf("%w: unknown close method %d",
				ErrWrongSeal, v)
		}
		*t = CloseMethod(v)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "CloseMethod", l, 1)
}

func txidEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*chainhash.Hash); ok {
		h := [32]byte(*t)
		return tlv.EBytes32(w, &h, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "chainhash.Hash")
}

func txidDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(**chainhash.Hash); ok && l == 32 {
		var h [32]byte
		if err := tlv.DBytes32(r, &h, buf, 32); err != nil {
			return err
		}
		txid := chainhash.Hash(h)
		*t = &txid
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*chainhash.Hash", l, 32)
}
