// Package issuer creates new RGB20 and RGB21 contracts.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrInvalidRequest is returned for issuance parameters no contract
	// can be built from.
	ErrInvalidRequest = errors.New("issuer: invalid request")

	// ErrNoMediaType is returned for media items without a type.
	ErrNoMediaType = errors.New("issuer: media item has no type")
)

// MaxTickerLen bounds the ticker length.
const MaxTickerLen = 8

// Request holds the parameters of a new contract.
type Request struct {
	Ticker      string
	Name        string
	Description string
	Precision   uint8

	// Supply is the issued amount in atomic units.
	Supply uint64

	// Seal is the genesis seal literal, "tapret1st:<txid>:<vout>".
	Seal string

	// Iface is RGB20 or RGB21.
	Iface string

	// Media are the media items of a unique asset. The first one is the
	// preview, the rest are attachments.
	Media []rgb.MediaItem
}

func (r *Request) validate() error {
	switch {
	case r.Ticker == "" || len(r.Ticker) > MaxTickerLen:
		return fmt.Errorf("%w: ticker %q", ErrInvalidRequest, r.Ticker)

	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidRequest)

	case r.Precision > rgb.MaxPrecision:
		return fmt.Errorf("%w: precision %d", ErrInvalidRequest,
			r.Precision)

	case r.Supply == 0:
		return fmt.Errorf("%w: zero supply", ErrInvalidRequest)

	case r.Iface != rgb.IfaceRGB21 && len(r.Media) > 0:
		return fmt.Errorf("%w: media on a %v contract",
			ErrInvalidRequest, r.Iface)
	}

	for _, m := range r.Media {
		if m.Type == "" {
			return fmt.Errorf("%w: %v", ErrNoMediaType, m.Source)
		}
	}

	return nil
}

// Issuer builds contracts and admits them into a stash.
type Issuer struct {
	Net      *network.Params
	Resolver chain.TxResolver
	Clock    clock.Clock
}

// NewIssuer creates an issuer for a network.
func NewIssuer(net *network.Params, resolver chain.TxResolver,
	clk clock.Clock) *Issuer {

	return &Issuer{Net: net, Resolver: resolver, Clock: clk}
}

// Genesis builds the contract consignment of a request without touching
// any stash.
func (i *Issuer) Genesis(req *Request) (*rgb.Consignment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	schema, pair, err := rgb.StandardIface(req.Iface)
	if err != nil {
		return nil, err
	}

	seal, err := rgb.ParseSealLiteral(req.Seal)
	if err != nil {
		return nil, err
	}
	if seal.IsWitness() {
		return nil, fmt.Errorf("%w: genesis seal needs a txid",
			rgb.ErrWrongSeal)
	}
	if seal.Method != rgb.TapretFirst {
		return nil, fmt.Errorf("%w: %v", stash.ErrNoClosedMethod,
			seal.Method)
	}

	spec := rgb.AssetSpec{
		Ticker:    req.Ticker,
		Name:      req.Name,
		Details:   req.Description,
		Precision: req.Precision,
	}
	terms := rgb.ContractTerms{Text: req.Description}

	globals := []rgb.GlobalState{
		{Type: rgb.GlobalSpec, Value: spec.Bytes()},
		{Type: rgb.GlobalTerms, Value: terms.Bytes()},
	}
	switch req.Iface {
	case rgb.IfaceRGB20:
		globals = append(globals, rgb.GlobalState{
			Type:  rgb.GlobalIssuedSupply,
			Value: rgb.EncodeSupply(req.Supply),
		})

	case rgb.IfaceRGB21:
		token := rgb.TokenData{
			Index:   1,
			Ticker:  req.Ticker,
			Name:    req.Name,
			Details: req.Description,
		}
		if len(req.Media) > 0 {
			preview := req.Media[0]
			token.Preview = &preview
			token.Attachments = req.Media[1:]
		}
		globals = append(globals, rgb.GlobalState{
			Type:  rgb.GlobalTokens,
			Value: token.Bytes(),
		})
	}

	genesis := rgb.Genesis{
		Schema:    schema.ID(),
		Chain:     i.Net.InvoiceChain,
		Timestamp: uint64(i.Clock.Now().Unix()),
		Globals:   globals,
		Assignments: []rgb.Assignment{
			rgb.NewRevealedAssignment(rgb.OwnedAssets, seal, req.Supply),
		},
	}

	return &rgb.Consignment{
		Version: rgb.ConsignmentVersion,
		Schema:  schema,
		Ifaces:  []rgb.IfacePair{pair},
		Genesis: genesis,
		Media:   append([]rgb.MediaItem(nil), req.Media...),
	}, nil
}

// Issue builds a contract, validates it and imports it into st.
func (i *Issuer) Issue(ctx context.Context, st *stash.Stash,
	req *Request) (*rgb.Consignment, error) {

	contract, err := i.Genesis(req)
	if err != nil {
		return nil, err
	}

	if _, err := st.ImportContract(
		ctx, contract, i.Resolver, i.Net, false,
	); err != nil {
		return nil, err
	}

	log.Infof("Issued %v contract %v (%v, supply %d)", req.Iface,
		contract.ContractID(), req.Ticker, req.Supply)

	return contract, nil
}
