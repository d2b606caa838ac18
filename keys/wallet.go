package keys

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/diba-io/bitmask/network"
	"github.com/tyler-smith/go-bip39"
)

const (
	// mnemonicEntropyBits yields a 24 word mnemonic.
	mnemonicEntropyBits = 256

	// Bech32 prefixes of NIP-19 keys.
	nsecHRP = "nsec"
	npubHRP = "npub"
)

var (
	// ErrInvalidMnemonic is returned for phrases that fail the BIP-39
	// word list or checksum.
	ErrInvalidMnemonic = errors.New("keys: invalid mnemonic")

	// ErrEntropy is returned when the system entropy source fails.
	ErrEntropy = errors.New("keys: entropy source failure")

	// nostrPath is m/44'/1237'/0'/0/0 (NIP-06).
	nostrPath = []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 1237,
		hdkeychain.HardenedKeyStart + 0,
		0, 0,
	}
)

// PrivateWalletData holds the secret descriptor set of a wallet.
type PrivateWalletData struct {
	Xprv                    string `json:"xprv"`
	BtcDescriptorXprv       string `json:"btc_descriptor_xprv"`
	BtcChangeDescriptorXprv string `json:"btc_change_descriptor_xprv"`
	RgbAssetsDescriptorXprv string `json:"rgb_assets_descriptor_xprv"`
	RgbUdasDescriptorXprv   string `json:"rgb_udas_descriptor_xprv"`
	NostrPrv                string `json:"nostr_prv"`
	NostrNsec               string `json:"nostr_nsec"`
}

// PublicWalletData holds the watch-only descriptor set of a wallet. This is
// the only part the service persists for watcher sync.
type PublicWalletData struct {
	Xpub                    string `json:"xpub"`
	XpubFingerprint         string `json:"xpub_fingerprint"`
	WatcherXpub             string `json:"watcher_xpub"`
	BtcDescriptorXpub       string `json:"btc_descriptor_xpub"`
	BtcChangeDescriptorXpub string `json:"btc_change_descriptor_xpub"`
	RgbAssetsDescriptorXpub string `json:"rgb_assets_descriptor_xpub"`
	RgbUdasDescriptorXpub   string `json:"rgb_udas_descriptor_xpub"`
	NostrPub                string `json:"nostr_pub"`
	NostrNpub               string `json:"nostr_npub"`
}

// DecryptedWalletData is everything derived from a mnemonic.
type DecryptedWalletData struct {
	Mnemonic string            `json:"mnemonic"`
	Private  PrivateWalletData `json:"private"`
	Public   PublicWalletData  `json:"public"`
}

// Wallet couples the derived data with the guarded signing secret.
type Wallet struct {
	Data DecryptedWalletData

	// Signing is the storage/nostr secret. Callers own it and must call
	// Destroy when done.
	Signing *SigningSecret
}

// NewMnemonic generates a fresh 24 word mnemonic and derives its wallet.
func NewMnemonic(seedPassword string, net *network.Params) (*Wallet, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	defer memguard.WipeBytes(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}

	return DeriveWallet(mnemonic, seedPassword, net)
}

// DeriveWallet derives the full descriptor set and the signing secret from a
// mnemonic. The derivation is a pure function of its inputs.
func DeriveWallet(mnemonic, seedPassword string,
	net *network.Params) (*Wallet, error) {

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, seedPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	defer memguard.WipeBytes(seed)

	master, err := hdkeychain.NewMaster(seed, net.Params)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	masterPub, err := master.ECPubKey()
	if err != nil {
		return nil, err
	}
	fingerprint := binary.BigEndian.Uint32(
		btcutil.Hash160(masterPub.SerializeCompressed())[:4],
	)

	accountPath := []uint32{
		hdkeychain.HardenedKeyStart + 86,
		hdkeychain.HardenedKeyStart + net.CoinType,
		hdkeychain.HardenedKeyStart + 0,
	}
	account, err := derivePath(master, accountPath)
	if err != nil {
		return nil, err
	}
	defer account.Zero()

	privDesc := func(app uint32) *Descriptor {
		return &Descriptor{
			Fingerprint: fingerprint,
			OriginPath:  accountPath,
			Key:         account,
			App:         app,
		}
	}

	var (
		priv PrivateWalletData
		pub  PublicWalletData
	)

	apps := []struct {
		app     uint32
		privOut *string
		pubOut  *string
	}{
		{AppReceive, &priv.BtcDescriptorXprv, &pub.BtcDescriptorXpub},
		{AppChange, &priv.BtcChangeDescriptorXprv, &pub.BtcChangeDescriptorXpub},
		{AppRgbAssets, &priv.RgbAssetsDescriptorXprv, &pub.RgbAssetsDescriptorXpub},
		{AppRgbUdas, &priv.RgbUdasDescriptorXprv, &pub.RgbUdasDescriptorXpub},
	}
	for _, a := range apps {
		d := privDesc(a.app)
		*a.privOut = d.String()

		pd, err := d.Public()
		if err != nil {
			return nil, err
		}
		*a.pubOut = pd.String()
	}

	priv.Xprv = master.String()
	masterXpub, err := master.Neuter()
	if err != nil {
		return nil, err
	}
	pub.Xpub = masterXpub.String()
	pub.XpubFingerprint = fmt.Sprintf("%08x", fingerprint)

	accountXpub, err := account.Neuter()
	if err != nil {
		return nil, err
	}
	pub.WatcherXpub = accountXpub.String()

	signing, err := deriveNostr(master, &priv, &pub)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Data: DecryptedWalletData{
			Mnemonic: mnemonic,
			Private:  priv,
			Public:   pub,
		},
		Signing: signing,
	}, nil
}

// deriveNostr derives the NIP-06 key, fills in its textual forms and returns
// the guarded signing secret.
func deriveNostr(master *hdkeychain.ExtendedKey, priv *PrivateWalletData,
	pub *PublicWalletData) (*SigningSecret, error) {

	nostrKey, err := derivePath(master, nostrPath)
	if err != nil {
		return nil, err
	}
	defer nostrKey.Zero()

	ecPriv, err := nostrKey.ECPrivKey()
	if err != nil {
		return nil, err
	}
	defer ecPriv.Zero()

	raw := ecPriv.Key.Bytes()
	xOnly := schnorr.SerializePubKey(ecPriv.PubKey())

	priv.NostrPrv = hex.EncodeToString(raw[:])
	pub.NostrPub = hex.EncodeToString(xOnly)

	priv.NostrNsec, err = encodeBech32(nsecHRP, raw[:])
	if err != nil {
		return nil, err
	}
	pub.NostrNpub, err = encodeBech32(npubHRP, xOnly)
	if err != nil {
		return nil, err
	}

	// NewSigningSecret wipes raw once it is copied into guarded memory.
	return NewSigningSecret(raw[:])
}

func derivePath(key *hdkeychain.ExtendedKey,
	path []uint32) (*hdkeychain.ExtendedKey, error) {

	current := key
	for _, idx := range path {
		child, err := current.Derive(idx)
		if current != key {
			current.Zero()
		}
		if err != nil {
			return nil, err
		}
		current = child
	}

	return current, nil
}

func encodeBech32(hrp string, data []byte) (string, error) {
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.Encode(hrp, converted)
}

// DecodeNostrKey decodes an nsec/npub string into raw bytes and its prefix.
func DecodeNostrKey(s string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return "", nil, err
	}
	if hrp != nsecHRP && hrp != npubHRP {
		return "", nil, fmt.Errorf("unexpected nostr prefix %q", hrp)
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, err
	}

	return hrp, raw, nil
}
