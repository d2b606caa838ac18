package marketplace

import (
	"testing"
	"time"

	"github.com/diba-io/bitmask/rgb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var targets = []uuid.UUID{
	{0x01}, {0x02}, {0x03},
}

func opGen(idx int) *rapid.Generator[Op] {
	return rapid.Custom(func(t *rapid.T) Op {
		op := Op{
			ID:     uuid.UUID{byte(idx), byte(idx >> 8), 0xaa},
			Clock:  rapid.Uint64Range(1, 12).Draw(t, "clock"),
			Actor:  rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "actor"),
			Kind:   OpKind(rapid.IntRange(0, 3).Draw(t, "kind")),
			Target: rapid.SampledFrom(targets).Draw(t, "target"),
		}

		switch op.Kind {
		case OpAddOffer:
			op.Offer = &Offer{
				Iface:        "RGB20",
				AssetAmount:  rapid.Uint64Range(1, 100).Draw(t, "amount"),
				BitcoinPrice: rapid.Uint64Range(1, 1e6).Draw(t, "price"),
			}
		case OpUpdateOffer:
			op.Status = Status(rapid.IntRange(0, 1).Draw(t, "status"))
			op.TransferID = rapid.SampledFrom(
				[]string{"", "t1", "t2"},
			).Draw(t, "transfer")
		case OpAddBid:
			op.Bid = &PublicBid{
				ID:            rapid.SampledFrom(targets).Draw(t, "bid"),
				AssetAmount:   1,
				BitcoinAmount: rapid.Uint64Range(1, 1e6).Draw(t, "sats"),
			}
		}

		return op
	})
}

// logsGen draws ops with distinct ids and deals them into three replicas.
// Replicas may share ops.
func logsGen() *rapid.Generator[[3]*Log] {
	return rapid.Custom(func(t *rapid.T) [3]*Log {
		n := rapid.IntRange(0, 25).Draw(t, "n")
		var logs [3]*Log
		for i := range logs {
			logs[i] = &Log{}
		}
		for i := 0; i < n; i++ {
			op := opGen(i).Draw(t, "op")
			mask := rapid.IntRange(1, 7).Draw(t, "replicas")
			for r := range logs {
				if mask&(1<<r) != 0 {
					logs[r].Ops = append(logs[r].Ops, op)
				}
			}
		}
		for _, l := range logs {
			l.normalize()
		}

		return logs
	})
}

// TestBoardMergeConverges checks that replicas converge whatever order they
// merge in.
func TestBoardMergeConverges(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		logs := logsGen().Draw(t, "logs")
		a, b, c := logs[0], logs[1], logs[2]

		ab, ba := Merge(a, b), Merge(b, a)
		require.Equal(t, ab.Bytes(), ba.Bytes())
		require.Equal(t, ab.State().Offers(), ba.State().Offers())

		left := Merge(Merge(a, b), c)
		right := Merge(a, Merge(b, c))
		require.Equal(t, left.Bytes(), right.Bytes())

		require.Equal(t, ab.Bytes(), Merge(ab, a).Bytes())
		require.Equal(t, a.Bytes(), Merge(a, a).Bytes())
	})
}

// TestLogEncoding checks that an encoded log decodes to the same ops.
func TestLogEncoding(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		l := logsGen().Draw(t, "logs")[0]

		decoded, err := DecodeLog(l.Bytes())
		require.NoError(t, err)
		if len(l.Ops) == 0 {
			require.Empty(t, decoded.Ops)
			return
		}
		require.Equal(t, l.Ops, decoded.Ops)

		merged, err := MergeBytes(nil, l.Bytes())
		require.NoError(t, err)
		require.Equal(t, l.Bytes(), merged)
	})
}

func TestBoardReplay(t *testing.T) {
	t.Parallel()

	offerA, offerB := uuid.New(), uuid.New()
	contract := rgb.ContractID{0x0c}

	l := &Log{}
	l.Append("seller",
		Op{Kind: OpAddOffer, Target: offerA, Offer: &Offer{
			ContractID: contract, Iface: "RGB20", AssetAmount: 10,
			BitcoinPrice: 1000,
		}},
		Op{Kind: OpAddOffer, Target: offerB, Offer: &Offer{
			ContractID: contract, Iface: "RGB20", AssetAmount: 5,
			BitcoinPrice: 700, ExpireAt: 100,
		}},
	)
	require.Equal(t, uint64(2), l.Clock())

	// A second replica bids on A and fills it concurrently with the
	// seller removing B.
	other := &Log{Ops: append([]Op(nil), l.Ops...)}
	other.Append("buyer",
		Op{Kind: OpAddBid, Target: offerA, Bid: &PublicBid{
			ID: uuid.New(), AssetAmount: 10, BitcoinAmount: 1000,
		}},
		Op{Kind: OpUpdateOffer, Target: offerA, Status: StatusFill,
			TransferID: "consig"},
	)
	l.Append("seller", Op{Kind: OpRemoveOffer, Target: offerB})

	// Late ops on a removed offer stay without effect.
	other.Append("buyer", Op{Kind: OpUpdateOffer, Target: offerB})

	state := Merge(l, other).State()
	require.True(t, state.Removed(offerB))
	_, ok := state.Offer(offerB)
	require.False(t, ok)

	a, ok := state.Offer(offerA)
	require.True(t, ok)
	require.Equal(t, offerA, a.ID)
	require.Equal(t, StatusFill, a.Status)
	require.Equal(t, "consig", a.TransferID)
	require.Len(t, state.Bids(offerA), 1)
	require.Equal(t, offerA, state.Bids(offerA)[0].OfferID)

	require.Len(t, state.Offers(), 1)
	require.Empty(t, state.OpenOffers(time.Unix(0, 0)))
}

func TestOpenOffersExpire(t *testing.T) {
	t.Parallel()

	l := &Log{}
	l.Append("seller", Op{Kind: OpAddOffer, Target: uuid.New(),
		Offer: &Offer{Iface: "RGB20", AssetAmount: 1, BitcoinPrice: 1,
			ExpireAt: 100}})

	require.Len(t, l.State().OpenOffers(time.Unix(99, 0)), 1)
	require.Empty(t, l.State().OpenOffers(time.Unix(100, 0)))
}
