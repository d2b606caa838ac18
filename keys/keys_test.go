package keys

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/diba-io/bitmask/network"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
	"pgregory.net/rapid"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

func deriveTestWallet(t *testing.T, net *network.Params) *Wallet {
	t.Helper()

	w, err := DeriveWallet(testMnemonic, "", net)
	require.NoError(t, err)
	t.Cleanup(w.Signing.Destroy)

	return w
}

// TestDeriveWalletDeterministic checks that derivation is a pure function of
// mnemonic, password and network.
func TestDeriveWalletDeterministic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		entropy := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "entropy")
		mnemonic, err := bip39.NewMnemonic(entropy)
		require.NoError(t, err)

		password := rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "pass")
		net := rapid.SampledFrom([]*network.Params{
			&network.Mainnet, &network.Regtest,
		}).Draw(t, "net")

		a, err := DeriveWallet(mnemonic, password, net)
		require.NoError(t, err)
		defer a.Signing.Destroy()

		b, err := DeriveWallet(mnemonic, password, net)
		require.NoError(t, err)
		defer b.Signing.Destroy()

		require.Equal(t, a.Data, b.Data)

		idA, err := a.Signing.UserID()
		require.NoError(t, err)
		idB, err := b.Signing.UserID()
		require.NoError(t, err)
		require.Equal(t, idA, idB)
	})
}

// TestDescriptorPairsDescribeSameKeys makes sure the private and public
// variant of every app branch derive the same keys.
func TestDescriptorPairsDescribeSameKeys(t *testing.T) {
	t.Parallel()

	w := deriveTestWallet(t, &network.Regtest)

	pairs := [][2]string{
		{w.Data.Private.BtcDescriptorXprv, w.Data.Public.BtcDescriptorXpub},
		{w.Data.Private.BtcChangeDescriptorXprv, w.Data.Public.BtcChangeDescriptorXpub},
		{w.Data.Private.RgbAssetsDescriptorXprv, w.Data.Public.RgbAssetsDescriptorXpub},
		{w.Data.Private.RgbUdasDescriptorXprv, w.Data.Public.RgbUdasDescriptorXpub},
	}
	for _, pair := range pairs {
		priv, err := ParseDescriptor(pair[0])
		require.NoError(t, err)
		pub, err := ParseDescriptor(pair[1])
		require.NoError(t, err)

		require.Equal(t, priv.App, pub.App)
		require.Equal(t, priv.Fingerprint, pub.Fingerprint)
		require.Equal(t, priv.OriginPath, pub.OriginPath)

		for idx := uint32(0); idx < 3; idx++ {
			k1, err := priv.DeriveKey(idx)
			require.NoError(t, err)
			k2, err := pub.DeriveKey(idx)
			require.NoError(t, err)
			require.True(t, k1.IsEqual(k2))
		}

		change := Terminal{App: priv.App, Index: 1}
		sk, err := priv.TerminalPrivKey(change)
		require.NoError(t, err)
		pk, err := pub.TerminalKey(change)
		require.NoError(t, err)
		require.True(t, sk.PubKey().IsEqual(pk))

		_, err = pub.TerminalPrivKey(change)
		require.ErrorIs(t, err, ErrNoSecretKey)
	}

	assets, err := ParseDescriptor(w.Data.Public.RgbAssetsDescriptorXpub)
	require.NoError(t, err)
	require.Equal(t, AppRgbAssets, assets.App)
	require.Equal(t, w.Data.Public.RgbAssetsDescriptorXpub, assets.String())

	// The watcher xpub is the account key of the same descriptors.
	watcher, err := WatcherDescriptor(w.Data.Public.WatcherXpub, AppRgbAssets)
	require.NoError(t, err)
	k1, err := watcher.DeriveKey(7)
	require.NoError(t, err)
	k2, err := assets.DeriveKey(7)
	require.NoError(t, err)
	require.True(t, k1.IsEqual(k2))
}

// TestCoinTypePerNetwork checks the account path uses coin type 0 only on
// mainnet.
func TestCoinTypePerNetwork(t *testing.T) {
	t.Parallel()

	main := deriveTestWallet(t, &network.Mainnet)
	reg := deriveTestWallet(t, &network.Regtest)

	mainDesc, err := ParseDescriptor(main.Data.Public.BtcDescriptorXpub)
	require.NoError(t, err)
	regDesc, err := ParseDescriptor(reg.Data.Public.BtcDescriptorXpub)
	require.NoError(t, err)

	require.Equal(t, uint32(0x80000000), mainDesc.OriginPath[1])
	require.Equal(t, uint32(0x80000001), regDesc.OriginPath[1])
	require.Contains(t, mainDesc.String(), "/86'/0'/0']xpub")
	require.Contains(t, regDesc.String(), "/86'/1'/0']tpub")

	// The nostr key does not depend on the network.
	require.Equal(t, main.Data.Public.NostrNpub, reg.Data.Public.NostrNpub)
}

// TestNostrEncoding checks that the bech32 forms decode to the hex forms and
// that the signing secret is the nostr private key.
func TestNostrEncoding(t *testing.T) {
	t.Parallel()

	w := deriveTestWallet(t, &network.Testnet)

	hrp, raw, err := DecodeNostrKey(w.Data.Private.NostrNsec)
	require.NoError(t, err)
	require.Equal(t, "nsec", hrp)
	require.Equal(t, w.Data.Private.NostrPrv, hex.EncodeToString(raw))

	hrp, raw, err = DecodeNostrKey(w.Data.Public.NostrNpub)
	require.NoError(t, err)
	require.Equal(t, "npub", hrp)
	require.Equal(t, w.Data.Public.NostrPub, hex.EncodeToString(raw))

	secretHex, err := w.Signing.Hex()
	require.NoError(t, err)
	require.Equal(t, w.Data.Private.NostrPrv, secretHex)

	pub, err := w.Signing.PubKey()
	require.NoError(t, err)
	require.Equal(t, w.Data.Public.NostrPub,
		hex.EncodeToString(schnorr.SerializePubKey(pub)))
}

func TestInvalidMnemonic(t *testing.T) {
	t.Parallel()

	_, err := DeriveWallet("abandon abandon", "", &network.Regtest)
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestSigningSecretLifecycle(t *testing.T) {
	t.Parallel()

	raw := make([]byte, SigningSecretSize)
	raw[31] = 1
	s, err := NewSigningSecret(raw)
	require.NoError(t, err)

	// The input slice is wiped once the secret is guarded.
	require.Equal(t, make([]byte, SigningSecretSize), raw)

	id, err := s.UserID()
	require.NoError(t, err)
	require.Len(t, id, 66)

	s.Destroy()
	_, err = s.PrivKey()
	require.ErrorIs(t, err, ErrNoSecretKey)

	_, err = NewSigningSecret(make([]byte, SigningSecretSize))
	require.ErrorIs(t, err, ErrInvalidSecret)

	_, err = ParseSigningSecret("zz")
	require.ErrorIs(t, err, ErrInvalidSecret)
}

func TestParseTerminal(t *testing.T) {
	t.Parallel()

	term, err := ParseTerminal("/20/1")
	require.NoError(t, err)
	require.Equal(t, Terminal{App: 20, Index: 1}, term)
	require.Equal(t, "/20/1", term.String())

	_, err = ParseTerminal("/20")
	require.ErrorIs(t, err, ErrWrongTerminal)
	_, err = ParseTerminal("/a/1")
	require.ErrorIs(t, err, ErrWrongTerminal)

	_, err = ParseDescriptor("wpkh(xpub/0/*)")
	require.ErrorIs(t, err, ErrWrongDescriptor)
}

func TestDescriptorChecksum(t *testing.T) {
	t.Parallel()

	require.Equal(t, "89f8spxm", DescriptorChecksum("raw(deadbeef)"))

	w := deriveTestWallet(t, &network.Signet)
	desc := w.Data.Public.RgbUdasDescriptorXpub
	require.Contains(t, desc, "#")

	// Without the checksum the descriptor still parses.
	body := desc[:len(desc)-9]
	parsed, err := ParseDescriptor(body)
	require.NoError(t, err)
	require.Equal(t, desc, parsed.String())

	// A wrong checksum is rejected.
	_, err = ParseDescriptor(body + "#qqqqqqqq")
	require.ErrorIs(t, err, ErrWrongDescriptor)
}
