package commitment

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/rgb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func randLeaves(t *rapid.T) []rgb.MPCLeaf {
	n := rapid.IntRange(1, 9).Draw(t, "n")
	seen := make(map[rgb.ContractID]bool)

	var leaves []rgb.MPCLeaf
	for len(leaves) < n {
		var l rgb.MPCLeaf
		copy(l.Protocol[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(
			t, "protocol",
		))
		copy(l.Message[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(
			t, "message",
		))
		if seen[l.Protocol] {
			continue
		}
		seen[l.Protocol] = true
		leaves = append(leaves, l)
	}

	return leaves
}

// TestMPCRootOrderIndependent checks that the root only depends on the set
// of leaves.
func TestMPCRootOrderIndependent(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		leaves := randLeaves(t)
		root, err := MPCRoot(leaves)
		require.NoError(t, err)

		shuffled := rapid.Permutation(leaves).Draw(t, "shuffled")
		root2, err := MPCRoot(shuffled)
		require.NoError(t, err)
		require.Equal(t, root, root2)

		// Changing any message changes the root.
		i := rapid.IntRange(0, len(leaves)-1).Draw(t, "i")
		leaves[i].Message[0] ^= 1
		root3, err := MPCRoot(leaves)
		require.NoError(t, err)
		require.NotEqual(t, root, root3)
	})

	_, err := MPCRoot(nil)
	require.ErrorIs(t, err, ErrNoMessages)

	dup := []rgb.MPCLeaf{{Protocol: rgb.ContractID{1}}, {
		Protocol: rgb.ContractID{1}, Message: rgb.BundleID{2},
	}}
	_, err = MPCRoot(dup)
	require.ErrorIs(t, err, ErrDuplicateProtocol)
}

func TestTapretScript(t *testing.T) {
	t.Parallel()

	c := TapretCommitment{MPC: [32]byte{1, 2, 3}, Nonce: 7}
	script := c.Script()
	require.Len(t, script, TapretScriptSize)

	parsed, err := ParseTapretScript(script)
	require.NoError(t, err)
	require.Equal(t, c, parsed)

	script[0] = txscript.OP_NOP
	_, err = ParseTapretScript(script)
	require.ErrorIs(t, err, ErrInvalidTapretScript)

	_, err = ParseTapretCommitment(c.Bytes()[:32])
	require.ErrorIs(t, err, ErrInvalidTapretScript)
}

func TestControlBlockProvesLeaf(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	internal := priv.PubKey()

	c := TapretCommitment{MPC: [32]byte{9}}
	blockBytes, err := c.ControlBlock(internal)
	require.NoError(t, err)

	block, err := txscript.ParseControlBlock(blockBytes)
	require.NoError(t, err)

	pkScript, err := c.PkScript(internal)
	require.NoError(t, err)

	err = txscript.VerifyTaprootLeafCommitment(
		block, pkScript[2:], c.Script(),
	)
	require.NoError(t, err)
}

func TestVerifyAnchor(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	internal := priv.PubKey()

	leaves := []rgb.MPCLeaf{{
		Protocol: rgb.ContractID{1}, Message: rgb.BundleID{2},
	}, {
		Protocol: rgb.ContractID{3}, Message: rgb.BundleID{4},
	}}
	c, err := Commit(leaves, 0)
	require.NoError(t, err)
	hostScript, err := c.PkScript(internal)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{})
	tx.AddTxOut(wire.NewTxOut(1000, hostScript))

	other, err := txscript.PayToTaprootScript(internal)
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(5000, other))

	anchor := rgb.Anchor{
		Txid:   tx.TxHash(),
		Vout:   0,
		Leaves: leaves,
	}
	copy(anchor.InternalKey[:], internal.SerializeCompressed())
	require.NoError(t, VerifyAnchor(&anchor, tx))

	// A different message set does not verify.
	bad := anchor
	bad.Leaves = leaves[:1]
	require.ErrorIs(t, VerifyAnchor(&bad, tx), ErrInvalidProof)

	// Nor does a host that isn't the first taproot output.
	bad = anchor
	bad.Vout = 1
	require.ErrorIs(t, VerifyAnchor(&bad, tx), ErrInvalidProof)

	bad = anchor
	bad.Vout = 5
	require.ErrorIs(t, VerifyAnchor(&bad, tx), ErrInvalidProof)

	// Nor another transaction.
	tx.TxOut[1].Value++
	require.ErrorIs(t, VerifyAnchor(&anchor, tx), ErrInvalidProof)

	require.Len(t, XOnly(internal), schnorr.PubKeyBytesLen)
}
