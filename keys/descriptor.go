package keys

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrWrongDescriptor is returned when a descriptor string cannot be
	// parsed as a single-key taproot descriptor.
	ErrWrongDescriptor = errors.New("keys: wrong descriptor")

	// ErrWrongTerminal is returned for malformed derivation terminals such
	// as "/20/1".
	ErrWrongTerminal = errors.New("keys: wrong terminal")
)

// Change branches of the m/86'/c'/0' account.
const (
	AppReceive   uint32 = 0
	AppChange    uint32 = 1
	AppRgbAssets uint32 = 20
	AppRgbUdas   uint32 = 21
)

// Terminal is the unhardened (app, index) suffix of a derivation path below
// the account level, written "/app/index".
type Terminal struct {
	App   uint32
	Index uint32
}

// DefaultChangeTerminal is used when the caller does not ask for a specific
// change location.
var DefaultChangeTerminal = Terminal{App: AppReceive, Index: AppChange}

// String renders the terminal as "/app/index".
func (t Terminal) String() string {
	return fmt.Sprintf("/%d/%d", t.App, t.Index)
}

// ParseTerminal parses a "/app/index" string.
func ParseTerminal(s string) (Terminal, error) {
	parts := strings.Split(strings.TrimPrefix(s, "/"), "/")
	if len(parts) != 2 {
		return Terminal{}, fmt.Errorf("%w: %q", ErrWrongTerminal, s)
	}

	app, err := strconv.ParseUint(parts[0], 10, 31)
	if err != nil {
		return Terminal{}, fmt.Errorf("%w: %q", ErrWrongTerminal, s)
	}
	idx, err := strconv.ParseUint(parts[1], 10, 31)
	if err != nil {
		return Terminal{}, fmt.Errorf("%w: %q", ErrWrongTerminal, s)
	}

	return Terminal{App: uint32(app), Index: uint32(idx)}, nil
}

// Descriptor is a single-key taproot output descriptor of the form
// tr([fingerprint/86'/c'/0']xkey/app/*).
type Descriptor struct {
	// Fingerprint is the master key fingerprint of the key origin.
	Fingerprint uint32

	// OriginPath is the hardened path from the master to Key.
	OriginPath []uint32

	// Key is the account-level extended key, private or public.
	Key *hdkeychain.ExtendedKey

	// App is the change branch the descriptor ranges over.
	App uint32
}

// String renders the descriptor in its canonical textual form.
func (d *Descriptor) String() string {
	var origin strings.Builder
	fmt.Fprintf(&origin, "%08x", d.Fingerprint)
	for _, idx := range d.OriginPath {
		if idx >= hdkeychain.HardenedKeyStart {
			fmt.Fprintf(&origin, "/%d'", idx-hdkeychain.HardenedKeyStart)
		} else {
			fmt.Fprintf(&origin, "/%d", idx)
		}
	}

	body := fmt.Sprintf("tr([%s]%s/%d/*)", origin.String(), d.Key.String(),
		d.App)

	return body + "#" + DescriptorChecksum(body)
}

// Public returns the watch-only sibling of the descriptor.
func (d *Descriptor) Public() (*Descriptor, error) {
	pub, err := d.Key.Neuter()
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		Fingerprint: d.Fingerprint,
		OriginPath:  append([]uint32(nil), d.OriginPath...),
		Key:         pub,
		App:         d.App,
	}, nil
}

// WithApp returns a copy of the descriptor ranging over another branch.
func (d *Descriptor) WithApp(app uint32) *Descriptor {
	return &Descriptor{
		Fingerprint: d.Fingerprint,
		OriginPath:  append([]uint32(nil), d.OriginPath...),
		Key:         d.Key,
		App:         app,
	}
}

// DeriveKey returns the internal (untweaked) public key at /app/index.
func (d *Descriptor) DeriveKey(index uint32) (*btcec.PublicKey, error) {
	return derivePub(d.Key, Terminal{App: d.App, Index: index})
}

// TerminalKey returns the internal public key at an arbitrary terminal of
// the same account.
func (d *Descriptor) TerminalKey(t Terminal) (*btcec.PublicKey, error) {
	return derivePub(d.Key, t)
}

// Address returns the BIP-86 key-path-only taproot address at /app/index.
func (d *Descriptor) Address(index uint32,
	params *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	internal, err := d.DeriveKey(index)
	if err != nil {
		return nil, err
	}

	return TaprootAddress(internal, params)
}

// TaprootAddress returns the BIP-86 address of an internal key.
func TaprootAddress(internal *btcec.PublicKey,
	params *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	outputKey := txscript.ComputeTaprootKeyNoScript(internal)
	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey), params,
	)
}

// TerminalPrivKey returns the private key at a terminal. The descriptor
// must carry an xprv.
func (d *Descriptor) TerminalPrivKey(t Terminal) (*btcec.PrivateKey, error) {
	if !d.Key.IsPrivate() {
		return nil, ErrNoSecretKey
	}

	appKey, err := d.Key.Derive(t.App)
	if err != nil {
		return nil, err
	}
	child, err := appKey.Derive(t.Index)
	if err != nil {
		return nil, err
	}

	return child.ECPrivKey()
}

// Bip32Path returns the full derivation path of /app/index from the master.
func (d *Descriptor) Bip32Path(t Terminal) []uint32 {
	path := append([]uint32(nil), d.OriginPath...)
	return append(path, t.App, t.Index)
}

func derivePub(key *hdkeychain.ExtendedKey, t Terminal) (*btcec.PublicKey,
	error) {

	appKey, err := key.Derive(t.App)
	if err != nil {
		return nil, err
	}
	child, err := appKey.Derive(t.Index)
	if err != nil {
		return nil, err
	}

	return child.ECPubKey()
}

// ParseDescriptor parses tr([fp/path]xkey/app/*). A trailing "#checksum" is
// optional but must match when present.
func ParseDescriptor(s string) (*Descriptor, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		if DescriptorChecksum(s[:i]) != s[i+1:] {
			return nil, fmt.Errorf("%w: checksum mismatch",
				ErrWrongDescriptor)
		}
		s = s[:i]
	}
	if !strings.HasPrefix(s, "tr(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: not a taproot descriptor",
			ErrWrongDescriptor)
	}
	body := s[3 : len(s)-1]

	desc := &Descriptor{}
	if strings.HasPrefix(body, "[") {
		end := strings.IndexByte(body, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated origin",
				ErrWrongDescriptor)
		}
		fp, path, err := parseOrigin(body[1:end])
		if err != nil {
			return nil, err
		}
		desc.Fingerprint = fp
		desc.OriginPath = path
		body = body[end+1:]
	}

	parts := strings.Split(body, "/")
	if len(parts) != 3 || parts[2] != "*" {
		return nil, fmt.Errorf("%w: expected xkey/app/*",
			ErrWrongDescriptor)
	}

	key, err := hdkeychain.NewKeyFromString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongDescriptor, err)
	}
	app, err := strconv.ParseUint(parts[1], 10, 31)
	if err != nil {
		return nil, fmt.Errorf("%w: bad app %q", ErrWrongDescriptor,
			parts[1])
	}

	desc.Key = key
	desc.App = uint32(app)

	return desc, nil
}

func parseOrigin(s string) (uint32, []uint32, error) {
	parts := strings.Split(s, "/")
	fpBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(fpBytes) != 4 {
		return 0, nil, fmt.Errorf("%w: bad fingerprint %q",
			ErrWrongDescriptor, parts[0])
	}

	path := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		p = strings.TrimRight(p, "'h")
		idx, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: bad path element %q",
				ErrWrongDescriptor, p)
		}
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		path = append(path, uint32(idx))
	}

	return binary.BigEndian.Uint32(fpBytes), path, nil
}

// WatcherDescriptor builds the public descriptor for an app branch from a
// watcher xpub (the account-level xpub without origin information).
func WatcherDescriptor(watcherXpub string, app uint32) (*Descriptor, error) {
	key, err := hdkeychain.NewKeyFromString(watcherXpub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongDescriptor, err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("%w: watcher key must be public",
			ErrWrongDescriptor)
	}

	return &Descriptor{Key: key, App: app}, nil
}

const (
	descInputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	descChecksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

func descPolyMod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}

	return c
}

// DescriptorChecksum computes the BIP-380 checksum of a descriptor body. It
// returns an empty string if the body contains characters outside the
// descriptor alphabet.
func DescriptorChecksum(body string) string {
	var (
		c        uint64 = 1
		cls      uint64
		clsCount int
	)
	for _, ch := range body {
		pos := strings.IndexRune(descInputCharset, ch)
		if pos < 0 {
			return ""
		}

		c = descPolyMod(c, uint64(pos&31))
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = descPolyMod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = descPolyMod(c, cls)
	}
	for i := 0; i < 8; i++ {
		c = descPolyMod(c, 0)
	}
	c ^= 1

	var out [8]byte
	for j := 0; j < 8; j++ {
		out[j] = descChecksumCharset[(c>>(5*(7-j)))&31]
	}

	return string(out[:])
}
