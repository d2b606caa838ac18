// Package invoice implements RGB invoices and their URI form:
//
//	rgb:<contract>/<iface>[/<operation>[/<assignment>]]/<state>+[<chain>:]<beneficiary>[?<params>]
//
// The state is an atomic amount or "0x" followed by hex data. The chain tag
// is omitted on mainnet.
package invoice

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
)

const (
	scheme = "rgb:"

	paramExpiry    = "expiry"
	paramEndpoints = "endpoints"
)

var (
	// ErrWrongInvoice is returned for strings that are not RGB invoices.
	ErrWrongInvoice = errors.New("invoice: wrong invoice")

	// ErrExpired is returned for invoices past their expiry.
	ErrExpired = errors.New("invoice: expired")
)

// Invoice requests owned state of a contract to be assigned to a concealed
// seal.
type Invoice struct {
	Contract   rgb.ContractID
	Iface      string
	Operation  string
	Assignment string

	// Amount is the requested fungible state.
	Amount uint64

	// Data is the requested structured state. When set, Amount is
	// ignored.
	Data []byte

	Beneficiary rgb.SecretSeal
	Chain       *network.Params

	// Expiry is the last moment the invoice may be paid, if any.
	Expiry *time.Time

	// Endpoints are relay URIs the consignment may be posted to.
	Endpoints []string

	// Params keeps query parameters with no meaning to this package.
	Params map[string]string
}

// HasData reports whether the invoice requests structured state.
func (i *Invoice) HasData() bool {
	return len(i.Data) > 0
}

// Expired reports whether the invoice is past its expiry at now.
func (i *Invoice) Expired(now time.Time) bool {
	return i.Expiry != nil && now.After(*i.Expiry)
}

// String returns the URI form of the invoice.
func (i *Invoice) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(strings.TrimPrefix(i.Contract.String(),
		rgb.ContractIDPrefix))
	b.WriteString("/")
	b.WriteString(i.Iface)
	if i.Operation != "" {
		b.WriteString("/" + i.Operation)
		if i.Assignment != "" {
			b.WriteString("/" + i.Assignment)
		}
	}

	b.WriteString("/")
	if i.HasData() {
		b.WriteString("0x" + hex.EncodeToString(i.Data))
	} else {
		b.WriteString(strconv.FormatUint(i.Amount, 10))
	}

	b.WriteString("+")
	if i.Chain != nil && !i.Chain.IsMainnet() {
		b.WriteString(i.Chain.InvoiceChain + ":")
	}
	b.WriteString(i.Beneficiary.String())

	query := make(url.Values)
	for k, v := range i.Params {
		query.Set(k, v)
	}
	if i.Expiry != nil {
		query.Set(paramExpiry, strconv.FormatInt(i.Expiry.Unix(), 10))
	}
	if len(i.Endpoints) > 0 {
		query.Set(paramEndpoints, strings.Join(i.Endpoints, ","))
	}
	if len(query) > 0 {
		b.WriteString("?")
		b.WriteString(encodeQuery(query))
	}

	return b.String()
}

// encodeQuery is url.Values.Encode with keys in a stable order.
func encodeQuery(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+
			url.QueryEscape(v.Get(k)))
	}

	return strings.Join(parts, "&")
}

func wrongf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWrongInvoice, fmt.Sprintf(format,
		args...))
}

// Parse parses the URI form of an invoice.
func Parse(s string) (*Invoice, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, scheme) {
		return nil, wrongf("missing %q scheme", scheme)
	}
	s = strings.TrimPrefix(s, scheme)

	var rawQuery string
	if q := strings.IndexByte(s, '?'); q >= 0 {
		s, rawQuery = s[:q], s[q+1:]
	}

	plus := strings.LastIndexByte(s, '+')
	if plus < 0 {
		return nil, wrongf("missing beneficiary")
	}
	path, beneficiary := s[:plus], s[plus+1:]

	inv := &Invoice{Chain: &network.Mainnet}

	parts := strings.Split(path, "/")
	if len(parts) < 3 || len(parts) > 5 {
		return nil, wrongf("expected contract/iface/.../state, got %q",
			path)
	}

	var err error
	inv.Contract, err = rgb.ParseContractID(parts[0])
	if err != nil {
		return nil, wrongf("contract: %v", err)
	}
	inv.Iface = parts[1]
	if inv.Iface == "" {
		return nil, wrongf("empty interface")
	}
	if len(parts) >= 4 {
		inv.Operation = parts[2]
	}
	if len(parts) == 5 {
		inv.Assignment = parts[3]
	}

	state := parts[len(parts)-1]
	if strings.HasPrefix(state, "0x") {
		inv.Data, err = hex.DecodeString(state[2:])
		if err != nil || len(inv.Data) == 0 {
			return nil, wrongf("bad data state %q", state)
		}
	} else {
		inv.Amount, err = strconv.ParseUint(state, 10, 64)
		if err != nil {
			return nil, wrongf("bad amount %q", state)
		}
	}

	if !strings.HasPrefix(beneficiary, rgb.SecretSealPrefix) {
		colon := strings.IndexByte(beneficiary, ':')
		if colon < 0 {
			return nil, wrongf("bad beneficiary %q", beneficiary)
		}
		inv.Chain, err = network.FromInvoiceChain(beneficiary[:colon])
		if err != nil {
			return nil, wrongf("%v", err)
		}
		beneficiary = beneficiary[colon+1:]
	}
	inv.Beneficiary, err = rgb.ParseSecretSeal(beneficiary)
	if err != nil {
		return nil, wrongf("beneficiary: %v", err)
	}

	if rawQuery == "" {
		return inv, nil
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, wrongf("query: %v", err)
	}
	for k := range query {
		v := query.Get(k)
		switch k {
		case paramExpiry:
			unix, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, wrongf("bad expiry %q", v)
			}
			expiry := time.Unix(unix, 0)
			inv.Expiry = &expiry

		case paramEndpoints:
			inv.Endpoints = strings.Split(v, ",")

		default:
			if inv.Params == nil {
				inv.Params = make(map[string]string)
			}
			inv.Params[k] = v
		}
	}

	return inv, nil
}
