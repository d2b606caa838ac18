// Package ecies seals byte payloads to a secp256k1 public key. A fresh
// ephemeral key is combined with the recipient key through ECDH, the shared
// secret is stretched with HKDF-SHA256 and the payload is encrypted with
// XChaCha20-Poly1305.
package ecies

import (
	"bytes"
	crand "crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo labels the key derivation.
const hkdfInfo = "BITMASK-C15-HKDF-SHA256-XCHACHA20POLY1305"

// Version is the first byte of every envelope.
type Version uint8

const (
	VersionUndefined Version = 0
	VersionV1        Version = 1

	latestVersion = VersionV1
)

func (v Version) String() string {
	switch v {
	case VersionUndefined:
		return "Undefined"
	case VersionV1:
		return "V1"
	default:
		return fmt.Sprintf("Unknown(%d)", v)
	}
}

var (
	// ErrEnvelopeTooShort is returned when an envelope cannot hold even
	// its fixed size fields.
	ErrEnvelopeTooShort = errors.New("ecies: envelope too short")

	// ErrUnsupportedVersion is returned for envelopes of a version this
	// package does not know.
	ErrUnsupportedVersion = errors.New("ecies: unsupported version")

	// ErrDecrypt is returned when authentication of the ciphertext fails.
	ErrDecrypt = errors.New("ecies: cannot decrypt")
)

// Envelope layout:
//
//	<1 version> <1 ad len> <ad> <24 nonce> <ciphertext||tag>
const envelopeFixed = 2 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// EncryptSha256ChaCha20Poly1305 encrypts msg under a 32-byte shared secret
// and authenticates ad, which travels in the clear and may not exceed 255
// bytes.
func EncryptSha256ChaCha20Poly1305(sharedSecret [32]byte, msg,
	ad []byte) ([]byte, error) {

	if len(ad) > math.MaxUint8 {
		return nil, fmt.Errorf("ecies: additional data is %d bytes, "+
			"max 255", len(ad))
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := crand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ecies: nonce: %w", err)
	}

	aead, err := newAEAD(sharedSecret, nonce)
	if err != nil {
		return nil, err
	}

	out := bytes.NewBuffer(
		make([]byte, 0, envelopeFixed+len(ad)+len(msg)),
	)
	out.WriteByte(byte(latestVersion))
	out.WriteByte(byte(len(ad)))
	out.Write(ad)
	out.Write(nonce)
	out.Write(aead.Seal(nil, nonce, msg, ad))

	return out.Bytes(), nil
}

// ExtractAdditionalData splits an envelope into its version, the clear
// additional data and the remaining nonce||ciphertext.
func ExtractAdditionalData(envelope []byte) (Version, []byte, []byte, error) {
	if len(envelope) < 2 {
		return VersionUndefined, nil, nil, ErrEnvelopeTooShort
	}

	version := Version(envelope[0])
	if version != latestVersion {
		return VersionUndefined, nil, nil, fmt.Errorf("%w: %v",
			ErrUnsupportedVersion, version)
	}

	adLen := int(envelope[1])
	if len(envelope) < envelopeFixed+adLen {
		return VersionUndefined, nil, nil, fmt.Errorf("%w: %d bytes, "+
			"need %d", ErrEnvelopeTooShort, len(envelope),
			envelopeFixed+adLen)
	}

	return version, envelope[2 : 2+adLen], envelope[2+adLen:], nil
}

// DecryptSha256ChaCha20Poly1305 reverses EncryptSha256ChaCha20Poly1305.
func DecryptSha256ChaCha20Poly1305(sharedSecret [32]byte,
	envelope []byte) ([]byte, error) {

	_, ad, rest, err := ExtractAdditionalData(envelope)
	if err != nil {
		return nil, err
	}

	nonce := rest[:chacha20poly1305.NonceSizeX]
	ciphertext := rest[chacha20poly1305.NonceSizeX:]

	aead, err := newAEAD(sharedSecret, nonce)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}

// newAEAD stretches the shared secret with the nonce as salt.
func newAEAD(sharedSecret [32]byte, nonce []byte) (cipherAEAD, error) {
	key, err := HkdfSha256(sharedSecret[:], nonce, []byte(hkdfInfo))
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("ecies: cipher: %w", err)
	}

	return aead, nil
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// HkdfSha256 derives a 32-byte key from secret, salt and info.
func HkdfSha256(secret, salt, info []byte) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("ecies: hkdf: %w", err)
	}

	return key, nil
}

// ECDH returns sha256(k*P) with the point in compressed form.
func ECDH(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)

	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	shared := btcec.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(shared.SerializeCompressed())
}

// SealToPubKey encrypts msg so only the holder of the private key of
// recipient can read it. The ephemeral public key is prepended in compressed
// form.
func SealToPubKey(recipient *btcec.PublicKey, msg, ad []byte) ([]byte,
	error) {

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ecies: ephemeral key: %w", err)
	}
	defer ephemeral.Zero()

	envelope, err := EncryptSha256ChaCha20Poly1305(
		ECDH(ephemeral, recipient), msg, ad,
	)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, btcec.PubKeyBytesLenCompressed+len(envelope))
	out = append(out, ephemeral.PubKey().SerializeCompressed()...)

	return append(out, envelope...), nil
}

// OpenWithPrivKey decrypts a payload produced by SealToPubKey.
func OpenWithPrivKey(priv *btcec.PrivateKey, sealed []byte) ([]byte, error) {
	if len(sealed) < btcec.PubKeyBytesLenCompressed {
		return nil, ErrEnvelopeTooShort
	}

	ephemeral, err := btcec.ParsePubKey(
		sealed[:btcec.PubKeyBytesLenCompressed],
	)
	if err != nil {
		return nil, fmt.Errorf("ecies: ephemeral key: %w", err)
	}

	return DecryptSha256ChaCha20Poly1305(
		ECDH(priv, ephemeral), sealed[btcec.PubKeyBytesLenCompressed:],
	)
}
