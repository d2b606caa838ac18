// Package proxy delivers transfer consignments and media through an
// untrusted RGB relay.
package proxy

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sony/gobreaker"
	"lukechampine.com/blake3"
)

const (
	// DefaultTimeout bounds one request to the relay.
	DefaultTimeout = 30 * time.Second

	breakerTrip     = 5
	breakerCoolDown = 30 * time.Second

	metadataSuffix = "-metadata"
)

var (
	// ErrParse is returned for relay answers that cannot be decoded.
	ErrParse = errors.New("proxy: cannot parse relay answer")

	// ErrWrongConsig is returned for consignments that cannot be
	// delivered.
	ErrWrongConsig = errors.New("proxy: wrong consignment")

	// ErrMediaNotFound is returned when a media source cannot be
	// fetched.
	ErrMediaNotFound = errors.New("proxy: media not found")

	// ErrNotStored is returned when the relay refuses an upload.
	ErrNotStored = errors.New("proxy: relay did not store the upload")
)

// Config configures a relay courier.
type Config struct {
	// Endpoint is the base URL of the relay.
	Endpoint string

	Timeout time.Duration

	Backoff *BackoffCfg

	// Net prefixes uploaded file names.
	Net *network.Params

	Clock clock.Clock

	// Attempts records failed transfers, in memory if nil.
	Attempts AttemptLog
}

// Courier talks to one relay.
type Courier struct {
	endpoint string
	net      *network.Params
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	backoff  *BackoffHandler
}

// NewCourier creates a courier for cfg.Endpoint.
func NewCourier(cfg *Config) (*Courier, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy: bad endpoint %q", cfg.Endpoint)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	backoffCfg := cfg.Backoff
	if backoffCfg == nil {
		backoffCfg = DefaultBackoffCfg()
	}
	attempts := cfg.Attempts
	if attempts == nil {
		attempts = NewMemAttemptLog(clk)
	}
	net := cfg.Net
	if net == nil {
		net = &network.Mainnet
	}

	return &Courier{
		endpoint: endpoint,
		net:      net,
		client:   &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    endpoint,
			Timeout: breakerCoolDown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTrip
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, errTransport)
			},
			OnStateChange: func(name string, _, to gobreaker.State) {
				log.Infof("Relay %v breaker is now %v", name, to)
			},
		}),
		backoff: NewBackoffHandler(backoffCfg, attempts, clk),
	}, nil
}

// Health reports the relay circuit breaker: whether requests currently go
// through and how many transport failures happened in a row.
func (c *Courier) Health() (bool, uint32) {
	return c.breaker.State() != gobreaker.StateOpen,
		c.breaker.Counts().ConsecutiveFailures
}

// Endpoint returns the relay endpoint.
func (c *Courier) Endpoint() string {
	return c.endpoint
}

// RecipientKey is the relay file name of a recipient's consignments.
func RecipientKey(recipient string) string {
	digest := blake3.Sum256([]byte(recipient))
	return hex.EncodeToString(digest[:])
}

func (c *Courier) fileName(name string) string {
	for _, n := range network.All() {
		if strings.Contains(name, n.Name) {
			return name
		}
	}

	return c.net.Name + "-" + name
}

// exec retries f on transport failures only. Relay errors end the
// procedure at once.
func (c *Courier) exec(ctx context.Context, key string, typ TransferType,
	f func() error) error {

	var permanent error
	err := c.backoff.Exec(ctx, key, typ, func() error {
		err := f()

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || errors.Is(err, ErrParse) {
			permanent = err
			return nil
		}

		return err
	})
	if err != nil {
		return err
	}

	return permanent
}

// PostConsignment uploads a transfer for a recipient, naming the witness
// transaction that closes it.
func (c *Courier) PostConsignment(ctx context.Context, recipient string,
	consig *rgb.Consignment, txid chainhash.Hash) error {

	key := RecipientKey(recipient)
	params := consigParams{RecipientID: recipient, Txid: txid.String()}
	upload := &file{name: c.fileName(key), data: consig.Bytes()}

	err := c.exec(ctx, key, SendTransfer, func() error {
		var stored bool
		err := c.call(
			ctx, methodConsignmentPost, recipient, params, upload,
			&stored,
		)
		if err != nil {
			return err
		}
		if !stored {
			return ErrNotStored
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Posted consignment %v for %v (witness %v)", consig.ID(),
		key, txid)

	return nil
}

// PostConsignments uploads transfers keyed by recipient. The witness of
// each is found through resolver. A failed upload does not stop the others;
// the failures are returned by recipient.
func (c *Courier) PostConsignments(ctx context.Context,
	consigs map[string]*rgb.Consignment,
	resolver chain.TxResolver) map[string]error {

	recipients := make([]string, 0, len(consigs))
	for r := range consigs {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	failures := make(map[string]error)
	for _, recipient := range recipients {
		consig := consigs[recipient]

		txid, err := stash.ExtractTransfer(ctx, consig, resolver)
		if err != nil {
			failures[recipient] = fmt.Errorf("%w: %v", ErrWrongConsig,
				err)
			continue
		}

		err = c.PostConsignment(ctx, recipient, consig, txid)
		if err != nil {
			log.Warnf("Unable to post consignment for %v: %v",
				recipient, err)
			failures[recipient] = err
		}
	}

	return failures
}

// Delivery is a consignment fetched from the relay.
type Delivery struct {
	Consignment *rgb.Consignment
	Txid        chainhash.Hash
}

// GetConsignment fetches the consignment for a recipient or receipt id. It
// returns nil if the relay has none.
func (c *Courier) GetConsignment(ctx context.Context,
	id string) (*Delivery, error) {

	var res consigResult
	err := c.exec(ctx, id, ReceiveTransfer, func() error {
		return c.call(
			ctx, methodConsignmentGet, id,
			consigParams{RecipientID: id}, nil, &res,
		)
	})

	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		log.Debugf("No consignment for %v: %v", id, rpcErr)
		return nil, nil

	case err != nil:
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(res.Consignment)
	if err != nil {
		return nil, fmt.Errorf("%w: consignment: %v", ErrParse, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	consig, err := rgb.DecodeConsignment(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongConsig, err)
	}

	d := &Delivery{Consignment: consig}
	if res.Txid != "" {
		txid, err := chainhash.NewHashFromStr(res.Txid)
		if err != nil {
			return nil, fmt.Errorf("%w: txid: %v", ErrParse, err)
		}
		d.Txid = *txid
	}

	return d, nil
}

// MediaEncoding selects how the id and digest of uploaded media are
// derived.
type MediaEncoding uint8

const (
	// MediaBase64 ids media by blake3(blake3(content)) and keeps the
	// base64 content as digest.
	MediaBase64 MediaEncoding = iota

	// MediaSha2 ids media by its sha256 digest.
	MediaSha2

	// MediaBlake3 ids media by its blake3 digest.
	MediaBlake3
)

// MediaRequest names a media source to relay.
type MediaRequest struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// MediaMetadata describes relayed media.
type MediaMetadata struct {
	ID     string `json:"id"`
	Mime   string `json:"mime"`
	URI    string `json:"uri"`
	Digest string `json:"digest"`
}

func mediaID(content []byte, enc MediaEncoding) (string, string) {
	switch enc {
	case MediaSha2:
		digest := hex.EncodeToString(chainhash.HashB(content))
		return digest, digest

	case MediaBlake3:
		sum := blake3.Sum256(content)
		digest := hex.EncodeToString(sum[:])
		return digest, digest

	default:
		inner := blake3.Sum256(content)
		outer := blake3.Sum256(inner[:])
		return hex.EncodeToString(outer[:]),
			base64.StdEncoding.EncodeToString(content)
	}
}

func (c *Courier) fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaNotFound, err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaNotFound, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %v answered %d", ErrMediaNotFound,
			uri, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func (c *Courier) postMedia(ctx context.Context, id string,
	data []byte) error {

	upload := &file{name: c.fileName(id), data: data}

	return c.exec(ctx, id, SendTransfer, func() error {
		var stored bool
		err := c.call(
			ctx, methodMediaPost, id, mediaParams{AttachmentID: id},
			upload, &stored,
		)
		if err != nil {
			return err
		}
		if !stored {
			return ErrNotStored
		}

		return nil
	})
}

// PostMedia fetches a media source and relays its content together with
// its metadata, stored under "<id>-metadata".
func (c *Courier) PostMedia(ctx context.Context, item MediaRequest,
	enc MediaEncoding) (*MediaMetadata, error) {

	content, err := c.fetch(ctx, item.URI)
	if err != nil {
		return nil, err
	}

	id, digest := mediaID(content, enc)
	meta := &MediaMetadata{
		ID: id, Mime: item.Type, URI: item.URI, Digest: digest,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	if err := c.postMedia(ctx, id, content); err != nil {
		return nil, err
	}
	if err := c.postMedia(ctx, id+metadataSuffix, rawMeta); err != nil {
		return nil, err
	}

	log.Infof("Posted media %v (%v, %d bytes)", id, item.Type,
		len(content))

	return meta, nil
}

// PostMediaList relays several media sources, stopping at the first
// failure.
func (c *Courier) PostMediaList(ctx context.Context, items []MediaRequest,
	enc MediaEncoding) ([]*MediaMetadata, error) {

	list := make([]*MediaMetadata, 0, len(items))
	for _, item := range items {
		meta, err := c.PostMedia(ctx, item, enc)
		if err != nil {
			return nil, err
		}
		list = append(list, meta)
	}

	return list, nil
}

// GetMedia returns relayed media content, nil if the relay has none.
func (c *Courier) GetMedia(ctx context.Context, id string) ([]byte, error) {
	var encoded string
	err := c.exec(ctx, id, ReceiveTransfer, func() error {
		return c.call(
			ctx, methodMediaGet, id, mediaParams{AttachmentID: id},
			nil, &encoded,
		)
	})

	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return nil, nil

	case err != nil:
		return nil, err
	}

	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: media: %v", ErrParse, err)
	}
	if len(content) == 0 {
		return nil, nil
	}

	return content, nil
}

// GetMediaMetadata returns the metadata of relayed media, nil if the relay
// has none.
func (c *Courier) GetMediaMetadata(ctx context.Context,
	id string) (*MediaMetadata, error) {

	raw, err := c.GetMedia(ctx, id+metadataSuffix)
	if err != nil || raw == nil {
		return nil, err
	}

	var meta MediaMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrParse, err)
	}

	return &meta, nil
}
