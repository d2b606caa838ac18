package issuer

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func testSeal() string {
	return "tapret1st:" + chainhash.Hash{1, 2, 3}.String() + ":1"
}

func newTestIssuer() *Issuer {
	return NewIssuer(
		&network.Regtest, chain.NewMockBackend(100),
		clock.NewTestClock(time.Unix(1700000000, 0)),
	)
}

func TestIssueFungible(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := stash.New()
	issuer := newTestIssuer()

	contract, err := issuer.Issue(ctx, st, &Request{
		Ticker:    "DIBA",
		Name:      "Diba",
		Precision: 2,
		Supply:    5,
		Seal:      testSeal(),
		Iface:     rgb.IfaceRGB20,
	})
	require.NoError(t, err)
	require.Equal(t, []rgb.ContractID{contract.ContractID()},
		st.ContractIDs())
	require.Equal(t, uint64(1700000000), contract.Genesis.Timestamp)
	require.Equal(t, "bcrt", contract.Genesis.Chain)

	pair, err := st.IfacePair(contract.ContractID(), rgb.IfaceRGB20)
	require.NoError(t, err)
	data, err := rgb.ReadContractData(&contract.Genesis, pair)
	require.NoError(t, err)
	require.Equal(t, "DIBA", data.Spec.Ticker)
	require.Equal(t, uint8(2), data.Spec.Precision)
	require.Equal(t, uint64(5), data.IssuedSupply)

	state, err := st.OwnedState(contract.ContractID())
	require.NoError(t, err)
	require.Len(t, state, 1)
	require.Equal(t, uint64(5), state[0].Amount)
	require.Equal(t, uint32(1), state[0].Outpoint.Index)

	// The same request issues the same contract.
	again, err := issuer.Genesis(&Request{
		Ticker: "DIBA", Name: "Diba", Precision: 2, Supply: 5,
		Seal: testSeal(), Iface: rgb.IfaceRGB20,
	})
	require.NoError(t, err)
	require.Equal(t, contract.Schema.ID(), again.Schema.ID())
}

func TestIssueUDA(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := stash.New()

	media := rgb.NewMediaItem("image/png", "https://diba.io/diba.png")
	contract, err := newTestIssuer().Issue(ctx, st, &Request{
		Ticker:      "DIBAUDA",
		Name:        "Diba UDA",
		Description: "unique",
		Supply:      1,
		Seal:        testSeal(),
		Iface:       rgb.IfaceRGB21,
		Media:       []rgb.MediaItem{media},
	})
	require.NoError(t, err)

	pair, err := st.IfacePair(contract.ContractID(), rgb.IfaceRGB21)
	require.NoError(t, err)
	data, err := rgb.ReadContractData(&contract.Genesis, pair)
	require.NoError(t, err)
	require.Len(t, data.Tokens, 1)
	require.Equal(t, media, *data.Tokens[0].Preview)
	require.Equal(t, []rgb.MediaItem{media}, data.Media())
	require.Equal(t, uint64(1), data.IssuedSupply)

	stored, err := st.Contract(contract.ContractID())
	require.NoError(t, err)
	require.Len(t, stored.Media, 1)
}

func TestIssueInvalid(t *testing.T) {
	t.Parallel()

	valid := func() *Request {
		return &Request{
			Ticker: "DIBA", Name: "Diba", Supply: 5,
			Seal: testSeal(), Iface: rgb.IfaceRGB20,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Request)
		err    error
	}{{
		name:   "empty ticker",
		mutate: func(r *Request) { r.Ticker = "" },
		err:    ErrInvalidRequest,
	}, {
		name:   "zero supply",
		mutate: func(r *Request) { r.Supply = 0 },
		err:    ErrInvalidRequest,
	}, {
		name:   "precision",
		mutate: func(r *Request) { r.Precision = 19 },
		err:    ErrInvalidRequest,
	}, {
		name:   "unknown iface",
		mutate: func(r *Request) { r.Iface = "RGB25" },
		err:    rgb.ErrUnknownIface,
	}, {
		name: "opret seal",
		mutate: func(r *Request) {
			r.Seal = "opret1st:" + chainhash.Hash{1}.String() + ":0"
		},
		err: stash.ErrNoClosedMethod,
	}, {
		name:   "witness seal",
		mutate: func(r *Request) { r.Seal = "tapret1st:~:0" },
		err:    rgb.ErrWrongSeal,
	}, {
		name: "media without type",
		mutate: func(r *Request) {
			r.Iface = rgb.IfaceRGB21
			r.Media = []rgb.MediaItem{{Source: "https://x"}}
		},
		err: ErrNoMediaType,
	}}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := valid()
			tc.mutate(req)

			_, err := newTestIssuer().Genesis(req)
			require.ErrorIs(t, err, tc.err)
		})
	}
}
