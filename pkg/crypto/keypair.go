// Package crypto wraps secp256k1 key pairs for transaction signing.
//
// Key formats:
//   - Private keys: WIF (Wallet Import Format) or raw 32 bytes
//   - Public keys: 33-byte compressed or 65-byte uncompressed SEC encoding
//   - Signatures: 64-byte compact r||s with low S; callers that embed them
//     in scripts convert to DER
//
// Signing is deterministic (RFC6979). When low-R is requested the nonce is
// re-derived with an extra-data counter until r fits in 32 DER bytes.
package crypto

import (
	"crypto/rand"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/suffix-labs/btc-psbt/pkg/network"
)

// RandFunc returns size random bytes.
type RandFunc func(size int) ([]byte, error)

func defaultRand(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

type keyOptions struct {
	network    *network.Params
	compressed bool
	rng        RandFunc
}

// KeyOption configures a KeyPair constructor.
type KeyOption func(*keyOptions)

// WithNetwork sets the network used for WIF export. Defaults to bitcoin.
func WithNetwork(net *network.Params) KeyOption {
	return func(o *keyOptions) {
		o.network = net
	}
}

// WithCompressed selects compressed (default) or uncompressed public keys.
func WithCompressed(compressed bool) KeyOption {
	return func(o *keyOptions) {
		o.compressed = compressed
	}
}

// WithRand replaces the random source used by MakeRandom.
func WithRand(rng RandFunc) KeyOption {
	return func(o *keyOptions) {
		o.rng = rng
	}
}

func applyKeyOptions(opts []KeyOption) keyOptions {
	o := keyOptions{
		network:    network.Bitcoin,
		compressed: true,
		rng:        defaultRand,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// KeyPair is a secp256k1 key pair. The private key is optional; a pair built
// from a public key can verify but not sign. The serialized public key is
// derived on first use and cached.
type KeyPair struct {
	privateKey *secp256k1.PrivateKey
	compressed bool
	network    *network.Params

	pubOnce sync.Once
	pubKey  []byte
}

// validScalar reports whether b is a 32-byte scalar in [1, n).
func validScalar(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	var d secp256k1.ModNScalar
	overflow := d.SetByteSlice(b)
	valid := !overflow && !d.IsZero()
	d.Zero()
	return valid
}

// FromPrivateKey builds a key pair from a 32-byte scalar.
//
// Returns an error with code ErrInvalidPrivateKey if the scalar is zero,
// not below the curve order, or not 32 bytes long.
func FromPrivateKey(privateKey []byte, opts ...KeyOption) (*KeyPair, error) {
	if !validScalar(privateKey) {
		return nil, cryptoErr(ErrInvalidPrivateKey,
			"private key must be a 32-byte scalar in [1, n)")
	}

	o := applyKeyOptions(opts)
	return &KeyPair{
		privateKey: secp256k1.PrivKeyFromBytes(privateKey),
		compressed: o.compressed,
		network:    o.network,
	}, nil
}

// FromPublicKey builds a verify-only key pair. Compression follows the
// encoding of pubKey.
func FromPublicKey(pubKey []byte, opts ...KeyOption) (*KeyPair, error) {
	parsed, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return nil, &CryptoError{
			Code:    ErrInvalidPublicKey,
			Message: "not a valid secp256k1 point",
			Cause:   err,
		}
	}

	o := applyKeyOptions(opts)
	kp := &KeyPair{
		compressed: len(pubKey) == secp256k1.PubKeyBytesLenCompressed,
		network:    o.network,
	}
	if kp.compressed {
		kp.pubKey = parsed.SerializeCompressed()
	} else {
		kp.pubKey = parsed.SerializeUncompressed()
	}
	kp.pubOnce.Do(func() {})
	return kp, nil
}

// FromWIF decodes a WIF private key, trying each candidate network in order.
// With no candidates the bitcoin network is assumed.
//
// Returns an error with code ErrInvalidWIF on checksum or length errors and
// ErrNetworkMismatch if the version byte matches no candidate.
func FromWIF(wif string, candidates ...*network.Params) (*KeyPair, error) {
	if len(candidates) == 0 {
		candidates = []*network.Params{network.Bitcoin}
	}

	version, privateKey, compressed, err := DecodeWIF(wif)
	if err != nil {
		return nil, err
	}

	net, err := matchNetwork(version, candidates)
	if err != nil {
		return nil, err
	}

	return FromPrivateKey(privateKey, WithNetwork(net),
		WithCompressed(compressed))
}

// MakeRandom draws scalars from the random source until one lies in [1, n).
//
// Returns an error with code ErrInvalidEntropyLength if a custom source
// returns anything other than 32 bytes.
func MakeRandom(opts ...KeyOption) (*KeyPair, error) {
	o := applyKeyOptions(opts)

	for {
		candidate, err := o.rng(32)
		if err != nil {
			return nil, &CryptoError{
				Code:    ErrInvalidEntropyLength,
				Message: "random source failed",
				Cause:   err,
			}
		}
		if len(candidate) != 32 {
			return nil, cryptoErr(ErrInvalidEntropyLength,
				"expected 32 random bytes, got %d", len(candidate))
		}
		if !validScalar(candidate) {
			log.Debugf("Discarding out of range random scalar")
			continue
		}

		return FromPrivateKey(candidate, WithNetwork(o.network),
			WithCompressed(o.compressed))
	}
}

// PublicKey returns the serialized public key, 33 bytes when compressed and
// 65 otherwise.
func (k *KeyPair) PublicKey() []byte {
	k.pubOnce.Do(func() {
		pub := k.privateKey.PubKey()
		if k.compressed {
			k.pubKey = pub.SerializeCompressed()
		} else {
			k.pubKey = pub.SerializeUncompressed()
		}
	})
	return k.pubKey
}

// PrivateKey returns a copy of the 32-byte scalar, or nil for a verify-only
// pair.
func (k *KeyPair) PrivateKey() []byte {
	if k.privateKey == nil {
		return nil
	}
	return k.privateKey.Serialize()
}

// Compressed reports whether the public key is serialized compressed.
func (k *KeyPair) Compressed() bool {
	return k.compressed
}

// Network returns the network used for WIF export.
func (k *KeyPair) Network() *network.Params {
	return k.network
}

// ToWIF exports the private key in Wallet Import Format.
func (k *KeyPair) ToWIF() (string, error) {
	if k.privateKey == nil {
		return "", cryptoErr(ErrMissingPrivateKey, "cannot export WIF")
	}
	privateKey := k.privateKey.Serialize()
	defer zeroSlice(privateKey)
	return EncodeWIF(k.network.WIF, privateKey, k.compressed)
}

// Sign returns a 64-byte r||s signature over hash. With lowR set the nonce is
// ground until r's first byte is at most 0x7f; otherwise the first
// deterministic signature is returned unchanged.
func (k *KeyPair) Sign(hash [32]byte, lowR bool) ([]byte, error) {
	if k.privateKey == nil {
		return nil, cryptoErr(ErrMissingPrivateKey, "cannot sign")
	}

	var sig [CompactSignatureSize]byte
	if lowR {
		sig = grindLowR(k.privateKey, hash[:])
	} else {
		sig = signCompact(k.privateKey, hash[:], nil)
	}
	return sig[:], nil
}

// Verify reports whether the r||s signature is valid for hash.
func (k *KeyPair) Verify(hash [32]byte, sig []byte) bool {
	return VerifyCompact(k.PublicKey(), hash[:], sig)
}

// Zero clears the private scalar. The pair becomes verify-only.
func (k *KeyPair) Zero() {
	if k.privateKey == nil {
		return
	}
	k.PublicKey()
	k.privateKey.Zero()
	k.privateKey = nil
}

func zeroSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
