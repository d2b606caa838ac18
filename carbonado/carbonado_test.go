package carbonado

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/diba-io/bitmask/keys"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testTag = [MetadataSize]byte{'r', 'g', 'b', 's', 't', '1', '6', '1'}

func newSecret(t testing.TB) *keys.SigningSecret {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	secret, err := keys.NewSigningSecret(priv.Serialize())
	require.NoError(t, err)

	return secret
}

// TestCodecRoundTrip checks that any payload survives the c15 pipeline and
// keeps its metadata tag.
func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	secret := newSecret(t)
	defer secret.Destroy()

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "data")
		var tag [MetadataSize]byte
		copy(tag[:], rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(t, "tag"))

		blob, err := Encode(secret, data, tag)
		require.NoError(t, err)

		header, decoded, err := Decode(secret, blob)
		require.NoError(t, err)
		require.Equal(t, tag, header.Metadata)
		require.Equal(t, FormatC15, header.Format)
		require.True(t, bytes.Equal(data, decoded))
	})
}

// TestCodecRecoversDamagedShards corrupts up to the parity budget of shards
// and expects the original payload back.
func TestCodecRecoversDamagedShards(t *testing.T) {
	t.Parallel()

	secret := newSecret(t)
	defer secret.Destroy()

	data := bytes.Repeat([]byte("state transition "), 300)
	blob, err := Encode(secret, data, testTag)
	require.NoError(t, err)

	header, err := DecodeHeader(blob)
	require.NoError(t, err)

	stride := shardHashSize + int(header.ShardSize)
	damage := func(b []byte, shards ...int) []byte {
		out := append([]byte(nil), b...)
		for _, i := range shards {
			out[HeaderSize+i*stride+shardHashSize] ^= 0xff
		}
		return out
	}

	// Three data shards and five parity shards gone still leaves four.
	_, decoded, err := Decode(
		secret, damage(blob, 0, 1, 2, 5, 6, 7, 8, 9),
	)
	require.NoError(t, err)
	require.Equal(t, data, decoded)

	// Nine damaged shards are past recovery.
	_, _, err = Decode(secret, damage(blob, 0, 1, 2, 3, 4, 5, 6, 7, 8))
	require.ErrorIs(t, err, ErrCarbonado)
}

func TestCodecIntegrity(t *testing.T) {
	t.Parallel()

	owner := newSecret(t)
	defer owner.Destroy()
	other := newSecret(t)
	defer other.Destroy()

	blob, err := Encode(owner, []byte("stash"), testTag)
	require.NoError(t, err)

	// Another key can neither decode nor pass as the owner.
	_, _, err = Decode(other, blob)
	require.ErrorIs(t, err, ErrCarbonado)

	// Tampering with the metadata breaks the header signature.
	tampered := append([]byte(nil), blob...)
	tampered[len(magic)+1+33+32] ^= 0x01
	_, err = DecodeHeader(tampered)
	require.ErrorIs(t, err, ErrCarbonado)

	_, err = DecodeHeader(blob[:10])
	require.ErrorIs(t, err, ErrCarbonado)

	// A destroyed secret can't be used at all.
	owner.Destroy()
	_, err = Encode(owner, []byte("stash"), testTag)
	require.ErrorIs(t, err, keys.ErrNoSecretKey)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	a := ObjectName("regtest", AssetsStock)
	b := ObjectName("bitcoin", AssetsStock)
	c := ObjectName("regtest", AssetsWallets)

	require.True(t, strings.HasPrefix(a, "regtest-"))
	require.True(t, strings.HasSuffix(a, ".c15"))
	require.Len(t, a, len("regtest-")+64+len(".c15"))
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, a, ObjectName("regtest", AssetsStock))
}

func newFileStore(t *testing.T) *Store {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	return NewStore(backend, "regtest")
}

// TestStoreOwnerOnly checks that a stored object reads back only for the
// secret that wrote it.
func TestStoreOwnerOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFileStore(t)

	owner := newSecret(t)
	defer owner.Destroy()
	other := newSecret(t)
	defer other.Destroy()

	data, tag, err := store.Retrieve(ctx, owner, AssetsStock)
	require.NoError(t, err)
	require.Empty(t, data)
	require.Equal(t, [MetadataSize]byte{}, tag)

	require.NoError(t, store.Store(
		ctx, owner, AssetsStock, []byte("contracts"), testTag,
	))

	data, tag, err = store.Retrieve(ctx, owner, AssetsStock)
	require.NoError(t, err)
	require.Equal(t, []byte("contracts"), data)
	require.Equal(t, testTag, tag)

	data, _, err = store.Retrieve(ctx, other, AssetsStock)
	require.NoError(t, err)
	require.Empty(t, data)

	// Objects are per network.
	data, _, err = store.WithNetwork("testnet").Retrieve(
		ctx, owner, AssetsStock,
	)
	require.NoError(t, err)
	require.Empty(t, data)

	_, _, err = store.Retrieve(ctx, nil, AssetsStock)
	require.ErrorIs(t, err, keys.ErrNoSecretKey)

	require.EqualValues(t, 1, store.Stats().Writes.Load())
}

func TestStoreHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFileStore(t)
	secret := newSecret(t)
	defer secret.Destroy()

	meta, err := store.RetrieveMetadata(ctx, secret, AssetsWallets)
	require.NoError(t, err)
	require.Nil(t, meta)

	require.NoError(t, store.Store(
		ctx, secret, AssetsWallets, []byte("v1"), testTag,
	))

	// Force store keeps the tag already on record.
	require.NoError(t, store.ForceStore(
		ctx, secret, AssetsWallets, []byte("v1 again"),
	))
	meta, err = store.RetrieveMetadata(ctx, secret, AssetsWallets)
	require.NoError(t, err)
	require.Equal(t, testTag, meta.Metadata)
	require.Equal(t, ObjectName("regtest", AssetsWallets), meta.Filename)

	// A fork is an identical copy under a new name.
	require.NoError(t, store.Fork(ctx, secret, AssetsWallets, "fork"))
	data, tag, err := store.Retrieve(ctx, secret, "fork")
	require.NoError(t, err)
	require.Equal(t, []byte("v1 again"), data)
	require.Equal(t, testTag, tag)

	merged, err := store.Merge(ctx, secret, "fork", []byte("+local"),
		testTag, func(stored, local []byte) ([]byte, error) {
			return append(append([]byte(nil), stored...), local...),
				nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, []byte("v1 again+local"), merged)

	data, _, err = store.Retrieve(ctx, secret, "fork")
	require.NoError(t, err)
	require.Equal(t, merged, data)
}

// memServer is a minimal carbonado endpoint.
type memServer struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		m.objects[r.URL.Path] = body

	case http.MethodGet:
		body, ok := m.objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}
}

func TestHTTPBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	live := httptest.NewServer(&memServer{objects: map[string][]byte{}})
	defer live.Close()

	broken := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	))
	defer broken.Close()

	backend, err := NewHTTPBackend(
		[]string{broken.URL, live.URL + "/"}, time.Second,
	)
	require.NoError(t, err)
	backend.retry.MaxRetries = 0

	store := NewStore(backend, "regtest")
	secret := newSecret(t)
	defer secret.Destroy()

	data, _, err := store.Retrieve(ctx, secret, AssetsTransfers)
	require.NoError(t, err)
	require.Empty(t, data)

	require.NoError(t, store.Store(
		ctx, secret, AssetsTransfers, []byte("transfers"), testTag,
	))

	data, _, err = store.Retrieve(ctx, secret, AssetsTransfers)
	require.NoError(t, err)
	require.Equal(t, []byte("transfers"), data)

	// With only the broken endpoint, every request fails.
	onlyBroken, err := NewHTTPBackend([]string{broken.URL}, time.Second)
	require.NoError(t, err)
	onlyBroken.retry.MaxRetries = 0

	err = NewStore(onlyBroken, "regtest").Store(
		ctx, secret, AssetsTransfers, []byte("x"), testTag,
	)
	require.ErrorIs(t, err, ErrAllEndpointsFailed)

	_, err = onlyBroken.Get(ctx, "dir", "file")
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
}
