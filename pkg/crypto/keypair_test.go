package crypto

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suffix-labs/btc-psbt/pkg/network"
)

var (
	scalarOne         = mustHex("0000000000000000000000000000000000000000000000000000000000000001")
	groupOrder        = mustHex("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	groupOrderLessOne = mustHex("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364140")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestPublicKeyDerivation(t *testing.T) {
	kp, err := FromPrivateKey(scalarOne)
	require.NoError(t, err)
	assert.True(t, kp.Compressed())
	assert.Same(t, network.Bitcoin, kp.Network())

	first := kp.PublicKey()
	assert.Equal(t,
		"0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
		hex.EncodeToString(first))

	// Repeated access returns the memoized value.
	assert.Equal(t, first, kp.PublicKey())

	uncompressed, err := FromPrivateKey(scalarOne, WithCompressed(false),
		WithNetwork(network.Testnet))
	require.NoError(t, err)
	assert.False(t, uncompressed.Compressed())
	assert.Same(t, network.Testnet, uncompressed.Network())
	assert.Equal(t,
		"0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"+
			"483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8",
		hex.EncodeToString(uncompressed.PublicKey()))
}

func TestFromPrivateKeyRange(t *testing.T) {
	_, err := FromPrivateKey(make([]byte, 32))
	require.ErrorIs(t, err, ErrInvalidPrivateKey)

	_, err = FromPrivateKey(groupOrder)
	require.ErrorIs(t, err, ErrInvalidPrivateKey)

	_, err = FromPrivateKey(scalarOne[:31])
	require.ErrorIs(t, err, ErrInvalidPrivateKey)

	_, err = FromPrivateKey(groupOrderLessOne)
	require.NoError(t, err)
}

func TestFromPublicKey(t *testing.T) {
	pub := mustHex("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	kp, err := FromPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, pub, kp.PublicKey())
	assert.Nil(t, kp.PrivateKey())

	_, err = kp.Sign([32]byte{}, false)
	require.ErrorIs(t, err, ErrMissingPrivateKey)

	_, err = kp.ToWIF()
	require.ErrorIs(t, err, ErrMissingPrivateKey)

	bad := append([]byte{0x02}, bytes.Repeat([]byte{0xff}, 32)...)
	_, err = FromPublicKey(bad)
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestWIFRoundTrip(t *testing.T) {
	for _, net := range network.All {
		for _, compressed := range []bool{true, false} {
			kp, err := MakeRandom(WithNetwork(net), WithCompressed(compressed))
			require.NoError(t, err)

			wif, err := kp.ToWIF()
			require.NoError(t, err)

			decoded, err := FromWIF(wif, net)
			require.NoError(t, err)
			assert.Equal(t, kp.PrivateKey(), decoded.PrivateKey())
			assert.Equal(t, kp.PublicKey(), decoded.PublicKey())
			assert.Equal(t, compressed, decoded.Compressed())
			assert.Same(t, net, decoded.Network())

			again, err := decoded.ToWIF()
			require.NoError(t, err)
			assert.Equal(t, wif, again)
		}
	}
}

func TestFromWIFNetworks(t *testing.T) {
	const wif = "L1uyy5qTuGrVXrmrsvHWHgVzW9kKdrp27wBC7Vs6nZDTF2BRUVwy"

	kp, err := FromWIF(wif)
	require.NoError(t, err)
	assert.True(t, kp.Compressed())
	assert.Equal(t,
		"029f50f51d63b345039a290c94bffd3180c99ed659ff6ea6b1242bca47eb93b59f",
		hex.EncodeToString(kp.PublicKey()))

	// A candidate list resolves to the matching network.
	kp, err = FromWIF(wif, network.Testnet, network.Bitcoin)
	require.NoError(t, err)
	assert.Same(t, network.Bitcoin, kp.Network())

	_, err = FromWIF(wif, network.Testnet, network.Regtest)
	require.ErrorIs(t, err, ErrNetworkMismatch)

	var mismatch *NetworkMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, byte(0x80), mismatch.Version)
}

func TestFromWIFInvalid(t *testing.T) {
	// Last character altered, so the checksum fails.
	_, err := FromWIF("L1uyy5qTuGrVXrmrsvHWHgVzW9kKdrp27wBC7Vs6nZDTF2BRUVwz")
	require.ErrorIs(t, err, ErrInvalidWIF)

	// A valid checksum over a 31-byte payload.
	_, _, _, err = DecodeWIF(base58.CheckEncode(scalarOne[:31], 0x80))
	require.ErrorIs(t, err, ErrInvalidWIF)

	// A compression suffix other than 0x01.
	payload := append(append([]byte{}, scalarOne...), 0x02)
	_, _, _, err = DecodeWIF(base58.CheckEncode(payload, 0x80))
	require.ErrorIs(t, err, ErrInvalidWIF)
}

func TestMakeRandom(t *testing.T) {
	fours := bytes.Repeat([]byte{0x04}, 32)
	kp, err := MakeRandom(WithRand(func(size int) ([]byte, error) {
		return fours[:size], nil
	}))
	require.NoError(t, err)

	wif, err := kp.ToWIF()
	require.NoError(t, err)
	assert.Equal(t, "KwMWvwRJeFqxYyhZgNwYuYjbQENDAPAudQx5VEmKJrUZcq6aL2pv", wif)

	ones := bytes.Repeat([]byte{0x01}, 32)
	kp, err = MakeRandom(WithRand(func(int) ([]byte, error) {
		return ones, nil
	}))
	require.NoError(t, err)
	assert.Equal(t,
		"031b84c5567b126440995d3ed5aaba0565d71e1834604819ff9c17f5e9d5dd078f",
		hex.EncodeToString(kp.PublicKey()))

	kp, err = MakeRandom()
	require.NoError(t, err)
	assert.True(t, kp.Compressed())
	assert.Same(t, network.Bitcoin, kp.Network())
}

func TestMakeRandomEntropyLength(t *testing.T) {
	_, err := MakeRandom(WithRand(func(int) ([]byte, error) {
		return make([]byte, 28), nil
	}))
	require.ErrorIs(t, err, ErrInvalidEntropyLength)
}

func TestMakeRandomRejectsOutOfRange(t *testing.T) {
	draws := [][]byte{make([]byte, 32), groupOrder, groupOrderLessOne}
	calls := 0
	kp, err := MakeRandom(WithRand(func(int) ([]byte, error) {
		d := draws[calls]
		calls++
		return d, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, groupOrderLessOne, kp.PrivateKey())
}

func TestLowRSigning(t *testing.T) {
	kp, err := FromWIF("L3nThUzbAwpUiBAjR5zCu66ybXSPMr2zZ3ikpScpTPiYTxBynfZu")
	require.NoError(t, err)

	var hash [32]byte
	copy(hash[:], mustHex("b6c5c548a7f6164c8aa7af5350901626ebd69f9ae2c1ecf8871f5088ec204cfe"))

	sig, err := kp.Sign(hash, false)
	require.NoError(t, err)
	assert.Equal(t,
		"95a6619140fca3366f1d3b013b0367c4f86e39508a50fdcee5245fbb8bd60aa6"+
			"086449e28cf15387cf9f85100bfd0838624ca96759e59f65c10a0016b86f5229",
		hex.EncodeToString(sig))
	assert.True(t, kp.Verify(hash, sig))

	lowR, err := kp.Sign(hash, true)
	require.NoError(t, err)
	assert.Equal(t,
		"6a2660c226e8055afad317eeba918a304be79208d5053bc5ea4a5e4c5892b4a0"+
			"61c717c5284ae5202d721c0e49b4717b79966280906b1d3b5295d1fdde963c35",
		hex.EncodeToString(lowR))
	assert.True(t, kp.Verify(hash, lowR))
}

func TestLowRProperty(t *testing.T) {
	kp, err := FromPrivateKey(groupOrderLessOne)
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		hash := [32]byte{byte(i), 0xa5}
		sig, err := kp.Sign(hash, true)
		require.NoError(t, err)
		require.LessOrEqual(t, sig[0], byte(0x7f))
		require.True(t, kp.Verify(hash, sig))

		// Deterministic: repeated signing gives identical bytes.
		again, err := kp.Sign(hash, true)
		require.NoError(t, err)
		require.Equal(t, sig, again)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	kp, err := FromPrivateKey(scalarOne)
	require.NoError(t, err)

	hash := [32]byte{0x01}
	sig, err := kp.Sign(hash, false)
	require.NoError(t, err)
	require.True(t, kp.Verify(hash, sig))

	hash[0] = 0x02
	assert.False(t, kp.Verify(hash, sig))
	assert.False(t, kp.Verify(hash, sig[:63]))
	assert.False(t, kp.Verify(hash, make([]byte, 64)))
}

func TestAsyncSigner(t *testing.T) {
	kp, err := FromPrivateKey(groupOrderLessOne)
	require.NoError(t, err)

	async := NewAsyncSigner(kp)
	assert.Equal(t, kp.PublicKey(), async.PublicKey())

	hash := [32]byte{0x42}
	want, err := kp.Sign(hash, true)
	require.NoError(t, err)

	got, err := AwaitSignature(context.Background(), async, hash, true)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = AwaitSignature(ctx, async, hash, true)
	require.ErrorIs(t, err, context.Canceled)
}

func TestZero(t *testing.T) {
	kp, err := FromPrivateKey(scalarOne)
	require.NoError(t, err)
	pub := kp.PublicKey()

	kp.Zero()
	assert.Nil(t, kp.PrivateKey())
	assert.Equal(t, pub, kp.PublicKey())

	_, err = kp.Sign([32]byte{}, false)
	require.ErrorIs(t, err, ErrMissingPrivateKey)
}

func TestHashes(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		hex.EncodeToString(Sha256(nil)))
	assert.Equal(t, "9c1185a5c5e9fc54612808977ee8f548b2258d31",
		hex.EncodeToString(Ripemd160(nil)))
	assert.Equal(t, "b472a266d0bd89c13706a4132ccfb16f7c3b9fcb",
		hex.EncodeToString(Hash160(nil)))
	assert.Equal(t,
		"5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456",
		hex.EncodeToString(Hash256(nil)))
}
