package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		expected *Params
		err      error
	}{
		{name: "bitcoin", expected: &Mainnet},
		{name: "mainnet", expected: &Mainnet},
		{name: " Regtest ", expected: &Regtest},
		{name: "signet", expected: &Signet},
		{name: "testnet", expected: &Testnet},
		{name: "simnet", err: ErrUnknownNetwork},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse(tc.name)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected.Name, p.Name)
		})
	}
}

func TestInvoiceChainRoundTrip(t *testing.T) {
	t.Parallel()

	require.Len(t, All(), 4)
	for _, p := range All() {
		got, err := FromInvoiceChain(p.InvoiceChain)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}

	_, err := FromInvoiceChain("ltc")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	require.True(t, Mainnet.IsMainnet())
	require.Equal(t, uint32(1), Regtest.CoinType)
}
