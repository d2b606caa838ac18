package keys

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/btcsuite/btcd/btcec/v2"
)

// SigningSecretSize is the size of the raw signing secret in bytes.
const SigningSecretSize = 32

var (
	// ErrNoSecretKey is returned when an operation needs the signing
	// secret but none (or a destroyed one) was supplied.
	ErrNoSecretKey = errors.New("keys: no secret key available")

	// ErrInvalidSecret is returned when the secret is not a valid
	// secp256k1 scalar of the expected size.
	ErrInvalidSecret = errors.New("keys: invalid signing secret")
)

// SigningSecret holds the 32-byte secret derived at m/44'/1237'/0'/0/0. It is
// both the nostr signing key and the symmetric root of the encrypted object
// store. The bytes live in a single locked, guarded memory region that is
// wiped on Destroy.
type SigningSecret struct {
	buf *memguard.LockedBuffer
}

// NewSigningSecret moves b into guarded memory. The caller's slice is wiped,
// whether or not the call succeeds.
func NewSigningSecret(b []byte) (*SigningSecret, error) {
	if len(b) != SigningSecretSize {
		memguard.WipeBytes(b)
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidSecret, SigningSecretSize, len(b))
	}

	var scalar btcec.ModNScalar
	overflow := scalar.SetByteSlice(b)
	isZero := scalar.IsZero()
	scalar.Zero()
	if overflow || isZero {
		memguard.WipeBytes(b)
		return nil, ErrInvalidSecret
	}

	return &SigningSecret{buf: memguard.NewBufferFromBytes(b)}, nil
}

// ParseSigningSecret decodes a hex encoded signing secret.
func ParseSigningSecret(s string) (*SigningSecret, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	return NewSigningSecret(b)
}

// alive reports whether the secret still holds key material.
func (s *SigningSecret) alive() bool {
	return s != nil && s.buf != nil && s.buf.IsAlive()
}

// WithBytes calls f with a view of the secret. The view must not be retained
// once f returns.
func (s *SigningSecret) WithBytes(f func([]byte) error) error {
	if !s.alive() {
		return ErrNoSecretKey
	}

	return f(s.buf.Bytes())
}

// PrivKey returns the secret as a secp256k1 private key. The returned key is
// a heap copy, callers should call Zero on it when done.
func (s *SigningSecret) PrivKey() (*btcec.PrivateKey, error) {
	if !s.alive() {
		return nil, ErrNoSecretKey
	}

	priv, _ := btcec.PrivKeyFromBytes(s.buf.Bytes())
	return priv, nil
}

// PubKey returns the public key of the secret.
func (s *SigningSecret) PubKey() (*btcec.PublicKey, error) {
	priv, err := s.PrivKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	return priv.PubKey(), nil
}

// UserID returns hex(compressed pubkey), the per-user directory name of the
// object store.
func (s *SigningSecret) UserID() (string, error) {
	pub, err := s.PubKey()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// Hex exports the secret as a hex string. The result is an ordinary Go
// string and escapes the guarded region.
func (s *SigningSecret) Hex() (string, error) {
	if !s.alive() {
		return "", ErrNoSecretKey
	}

	return hex.EncodeToString(s.buf.Bytes()), nil
}

// Destroy wipes and releases the guarded memory.
func (s *SigningSecret) Destroy() {
	if s.alive() {
		s.buf.Destroy()
	}
}
