package carbonado

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/diba-io/bitmask/internal/ecies"
	"github.com/diba-io/bitmask/keys"
	"github.com/golang/snappy"
	"github.com/klauspost/reedsolomon"
	"lukechampine.com/blake3"
)

// Format is the bit set of codec stages applied to a payload.
type Format uint8

const (
	// FormatEncrypt seals the payload to the owner key.
	FormatEncrypt Format = 1 << iota

	// FormatCompress snappy compresses the plaintext.
	FormatCompress

	// FormatVerify checks the plaintext hash on decode.
	FormatVerify

	// FormatFEC splits the payload into Reed-Solomon shards.
	FormatFEC

	// FormatC15 is every stage at once. All objects written by this
	// package use it.
	FormatC15 = FormatEncrypt | FormatCompress | FormatVerify | FormatFEC
)

const (
	// DataShards and ParityShards give a 4/12 code: any 4 intact shards
	// out of 12 recover the payload.
	DataShards   = 4
	ParityShards = 8

	// MetadataSize is the size of the free metadata slot of the header.
	MetadataSize = 8

	shardHashSize = 32

	// HeaderSize is the fixed size of an encoded object header.
	HeaderSize = len(magic) + 1 + btcec.PubKeyBytesLenCompressed + 32 +
		MetadataSize + 4 + 4 + schnorr.SignatureSize

	signedHeaderSize = HeaderSize - schnorr.SignatureSize
)

var magic = [12]byte{'C', 'A', 'R', 'B', 'O', 'N', 'A', 'D', 'O', '0', '1', '\n'}

var (
	// ErrCarbonado is returned when an object fails any integrity check:
	// bad magic, bad signature, wrong owner, unrecoverable shards or a
	// plaintext hash mismatch.
	ErrCarbonado = errors.New("carbonado: integrity check failed")
)

// Header is the fixed size prefix of every encoded object.
type Header struct {
	// Format is the set of stages applied to the payload.
	Format Format

	// PubKey is the owner key the payload is sealed to.
	PubKey *btcec.PublicKey

	// Hash is the BLAKE3 digest of the plaintext.
	Hash [32]byte

	// Metadata is the free slot, used as a version tag for stored models.
	Metadata [MetadataSize]byte

	// ShardSize is the length of every Reed-Solomon shard, zero if the
	// payload is not sharded.
	ShardSize uint32

	// PayloadLen is the length of the payload before sharding.
	PayloadLen uint32

	// Signature is a schnorr signature of the owner key over the
	// preceding header fields.
	Signature *schnorr.Signature
}

// signedBytes serializes every field covered by the signature.
func (h *Header) signedBytes() []byte {
	var b bytes.Buffer
	b.Grow(signedHeaderSize)

	b.Write(magic[:])
	b.WriteByte(byte(h.Format))
	b.Write(h.PubKey.SerializeCompressed())
	b.Write(h.Hash[:])
	b.Write(h.Metadata[:])

	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], h.ShardSize)
	b.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:], h.PayloadLen)
	b.Write(scratch[:])

	return b.Bytes()
}

func (h *Header) sigHash() [32]byte {
	return blake3.Sum256(h.signedBytes())
}

// Encode writes the header in its wire form.
func (h *Header) Encode(w io.Writer) error {
	if h.Signature == nil {
		return fmt.Errorf("carbonado: header is not signed")
	}

	if _, err := w.Write(h.signedBytes()); err != nil {
		return err
	}
	_, err := w.Write(h.Signature.Serialize())

	return err
}

// DecodeHeader parses and authenticates the header at the start of an
// encoded object. Only the header is read, the payload is not touched.
func DecodeHeader(blob []byte) (*Header, error) {
	if len(blob) < HeaderSize {
		return nil, fmt.Errorf("%w: object of %d bytes is shorter than "+
			"its header", ErrCarbonado, len(blob))
	}
	if !bytes.Equal(blob[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCarbonado)
	}

	r := bytes.NewReader(blob[len(magic):HeaderSize])

	var (
		h      Header
		format [1]byte
		pub    [btcec.PubKeyBytesLenCompressed]byte
		sig    [schnorr.SignatureSize]byte
	)
	fields := []any{
		&format, &pub, &h.Hash, &h.Metadata, &h.ShardSize,
		&h.PayloadLen, &sig,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCarbonado, err)
		}
	}
	h.Format = Format(format[0])

	var err error
	h.PubKey, err = btcec.ParsePubKey(pub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: owner key: %v", ErrCarbonado, err)
	}
	h.Signature, err = schnorr.ParseSignature(sig[:])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrCarbonado, err)
	}

	digest := h.sigHash()
	if !h.Signature.Verify(digest[:], h.PubKey) {
		return nil, fmt.Errorf("%w: bad header signature", ErrCarbonado)
	}

	return &h, nil
}

// Encode runs plaintext through the c15 pipeline for the owner of secret:
// compress, seal to the owner key, shard with Reed-Solomon and prepend a
// signed header carrying the metadata slot and the plaintext hash.
func Encode(secret *keys.SigningSecret, plaintext []byte,
	metadata [MetadataSize]byte) ([]byte, error) {

	priv, err := secret.PrivKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	payload := snappy.Encode(nil, plaintext)

	payload, err = ecies.SealToPubKey(priv.PubKey(), payload, nil)
	if err != nil {
		return nil, err
	}

	header := &Header{
		Format:     FormatC15,
		PubKey:     priv.PubKey(),
		Hash:       blake3.Sum256(plaintext),
		Metadata:   metadata,
		PayloadLen: uint32(len(payload)),
	}

	body, shardSize, err := shard(payload)
	if err != nil {
		return nil, err
	}
	header.ShardSize = uint32(shardSize)

	digest := header.sigHash()
	header.Signature, err = schnorr.Sign(priv, digest[:])
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(HeaderSize + len(body))
	if err := header.Encode(&out); err != nil {
		return nil, err
	}
	out.Write(body)

	return out.Bytes(), nil
}

// Decode authenticates, reassembles and decrypts an object produced by
// Encode. Corrupted shards are dropped and rebuilt from parity as long as
// enough of them survive.
func Decode(secret *keys.SigningSecret, blob []byte) (*Header, []byte, error) {
	header, err := DecodeHeader(blob)
	if err != nil {
		return nil, nil, err
	}

	priv, err := secret.PrivKey()
	if err != nil {
		return nil, nil, err
	}
	defer priv.Zero()

	if !priv.PubKey().IsEqual(header.PubKey) {
		return nil, nil, fmt.Errorf("%w: object belongs to another key",
			ErrCarbonado)
	}

	payload := blob[HeaderSize:]
	if header.Format&FormatFEC != 0 {
		payload, err = unshard(
			payload, int(header.ShardSize), int(header.PayloadLen),
		)
		if err != nil {
			return nil, nil, err
		}
	}

	if header.Format&FormatEncrypt != 0 {
		payload, err = ecies.OpenWithPrivKey(priv, payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCarbonado, err)
		}
	}

	if header.Format&FormatCompress != 0 {
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCarbonado, err)
		}
	}

	if header.Format&FormatVerify != 0 &&
		blake3.Sum256(payload) != header.Hash {

		return nil, nil, fmt.Errorf("%w: plaintext hash mismatch",
			ErrCarbonado)
	}

	return header, payload, nil
}

// shard splits payload into data and parity shards. Each shard is written
// after its own BLAKE3 digest so damaged shards can be told apart on decode.
func shard(payload []byte) ([]byte, int, error) {
	enc, err := reedsolomon.New(DataShards, ParityShards)
	if err != nil {
		return nil, 0, err
	}

	shards, err := enc.Split(payload)
	if err != nil {
		return nil, 0, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, 0, err
	}

	shardSize := len(shards[0])
	body := make([]byte, 0, len(shards)*(shardHashSize+shardSize))
	for _, s := range shards {
		digest := blake3.Sum256(s)
		body = append(body, digest[:]...)
		body = append(body, s...)
	}

	return body, shardSize, nil
}

func unshard(body []byte, shardSize, payloadLen int) ([]byte, error) {
	total := DataShards + ParityShards
	stride := shardHashSize + shardSize
	if shardSize == 0 || len(body) != total*stride {
		return nil, fmt.Errorf("%w: body of %d bytes does not hold %d "+
			"shards of %d bytes", ErrCarbonado, len(body), total,
			shardSize)
	}

	enc, err := reedsolomon.New(DataShards, ParityShards)
	if err != nil {
		return nil, err
	}

	shards := make([][]byte, total)
	var damaged int
	for i := range shards {
		chunk := body[i*stride : (i+1)*stride]
		s := chunk[shardHashSize:]
		if blake3.Sum256(s) != [32]byte(chunk[:shardHashSize]) {
			damaged++
			continue
		}

		shards[i] = append([]byte(nil), s...)
	}

	if damaged > 0 {
		log.Warnf("Rebuilding %d damaged shard(s) from parity", damaged)

		if err := enc.ReconstructData(shards); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCarbonado, err)
		}
	}

	var out bytes.Buffer
	if err := enc.Join(&out, shards, payloadLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCarbonado, err)
	}

	return out.Bytes(), nil
}
