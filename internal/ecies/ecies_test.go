package ecies

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSealOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  []byte
		ad   []byte
	}{
		{
			name: "short",
			msg:  []byte("consignment"),
		},
		{
			name: "with additional data",
			msg:  []byte("consignment"),
			ad:   []byte("rgb-stash"),
		},
		{
			name: "empty",
		},
		{
			name: "large",
			msg:  bytes.Repeat([]byte{0xab}, 1<<16),
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			priv, err := btcec.NewPrivateKey()
			require.NoError(t, err)

			sealed, err := SealToPubKey(priv.PubKey(), tc.msg, tc.ad)
			require.NoError(t, err)

			opened, err := OpenWithPrivKey(priv, sealed)
			require.NoError(t, err)
			if len(tc.msg) == 0 {
				require.Empty(t, opened)
			} else {
				require.Equal(t, tc.msg, opened)
			}

			// A different key can't open the payload.
			other, err := btcec.NewPrivateKey()
			require.NoError(t, err)
			_, err = OpenWithPrivKey(other, sealed)
			require.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

// TestTamperedEnvelope flips one random byte of the ciphertext and makes sure
// authentication fails.
func TestTamperedEnvelope(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(t, "msg")
		ad := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "ad")

		var secret [32]byte
		copy(secret[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(
			t, "secret",
		))

		envelope, err := EncryptSha256ChaCha20Poly1305(secret, msg, ad)
		require.NoError(t, err)

		_, gotAD, _, err := ExtractAdditionalData(envelope)
		require.NoError(t, err)
		require.Equal(t, len(ad), len(gotAD))

		// Only touch bytes past the version and length prefix so the
		// failure is an authentication one.
		idx := rapid.IntRange(2, len(envelope)-1).Draw(t, "idx")
		envelope[idx] ^= 0x01

		_, err = DecryptSha256ChaCha20Poly1305(secret, envelope)
		require.ErrorIs(t, err, ErrDecrypt)
	})
}

func TestMalformedEnvelope(t *testing.T) {
	t.Parallel()

	var secret [32]byte

	_, err := DecryptSha256ChaCha20Poly1305(secret, []byte{1})
	require.ErrorIs(t, err, ErrEnvelopeTooShort)

	_, err = DecryptSha256ChaCha20Poly1305(secret, []byte{7, 0})
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = EncryptSha256ChaCha20Poly1305(secret, nil, make([]byte, 256))
	require.Error(t, err)

	_, err = OpenWithPrivKey(nil, []byte{2, 3})
	require.ErrorIs(t, err, ErrEnvelopeTooShort)
}

func TestECDHSymmetric(t *testing.T) {
	t.Parallel()

	a, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	b, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	require.Equal(t, ECDH(a, b.PubKey()), ECDH(b, a.PubKey()))
}
