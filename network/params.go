package network

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Names used in object-store filenames, invoices and configuration.
const (
	NameMainnet = "bitcoin"
	NameTestnet = "testnet"
	NameSignet  = "signet"
	NameRegtest = "regtest"
)

var (
	// ErrUnknownNetwork is returned when a network name or invoice chain
	// tag does not map to a supported network.
	ErrUnknownNetwork = errors.New("network: unknown network")
)

// Params defines an RGB-capable bitcoin network. It embeds the chaincfg
// parameters and adds the values needed by the wallet core: the BIP-44 coin
// type used for taproot derivation and the chain tag used in invoices.
type Params struct {
	*chaincfg.Params

	// Name is the canonical network name.
	Name string

	// CoinType is the hardened coin type of the m/86'/c'/0' account.
	CoinType uint32

	// InvoiceChain is the chain tag carried by RGB invoices.
	InvoiceChain string
}

var (
	Mainnet = Params{
		Params: &chaincfg.MainNetParams, Name: NameMainnet,
		CoinType: 0, InvoiceChain: "bc",
	}
	Testnet = Params{
		Params: &chaincfg.TestNet3Params, Name: NameTestnet,
		CoinType: 1, InvoiceChain: "tb",
	}
	Signet = Params{
		Params: &chaincfg.SigNetParams, Name: NameSignet,
		CoinType: 1, InvoiceChain: "sb",
	}
	Regtest = Params{
		Params: &chaincfg.RegressionNetParams, Name: NameRegtest,
		CoinType: 1, InvoiceChain: "bcrt",
	}

	all = []*Params{&Mainnet, &Testnet, &Signet, &Regtest}
)

// Parse returns the network for a configuration name. "mainnet" is accepted
// as an alias of "bitcoin".
func Parse(name string) (*Params, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "mainnet" {
		name = NameMainnet
	}

	for _, p := range all {
		if p.Name == name {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
}

// FromInvoiceChain returns the network an invoice chain tag belongs to.
func FromInvoiceChain(tag string) (*Params, error) {
	for _, p := range all {
		if p.InvoiceChain == tag {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: chain tag %q", ErrUnknownNetwork, tag)
}

// All returns every supported network.
func All() []*Params {
	return append([]*Params(nil), all...)
}

// IsMainnet reports whether p is the main bitcoin network.
func (p *Params) IsMainnet() bool {
	return p.Name == NameMainnet
}

// String returns the canonical network name.
func (p *Params) String() string {
	return p.Name
}
