package crypto

import (
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// CompactSignatureSize is the length of an r||s signature.
const CompactSignatureSize = 64

// signCompact produces a low-S ECDSA signature over hash using the RFC6979
// nonce for (key, hash, extra). extra is either nil or 32 bytes of additional
// nonce data. The result is r||s, each 32 bytes big-endian.
func signCompact(key *secp256k1.PrivateKey, hash []byte,
	extra []byte) [CompactSignatureSize]byte {

	keyBytes := key.Key.Bytes()
	defer zeroArray(&keyBytes)

	var e secp256k1.ModNScalar
	e.SetByteSlice(hash)

	for iteration := uint32(0); ; iteration++ {
		k := secp256k1.NonceRFC6979(keyBytes[:], hash, extra, nil, iteration)

		var kG secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(k, &kG)
		kG.ToAffine()

		var r secp256k1.ModNScalar
		r.SetByteSlice(kG.X.Bytes()[:])
		if r.IsZero() {
			k.Zero()
			continue
		}

		kInv := new(secp256k1.ModNScalar).Set(k).InverseNonConst()
		k.Zero()
		s := new(secp256k1.ModNScalar).Mul2(&key.Key, &r).Add(&e).Mul(kInv)
		if s.IsZero() {
			continue
		}
		if s.IsOverHalfOrder() {
			s.Negate()
		}

		var sig [CompactSignatureSize]byte
		rBytes, sBytes := r.Bytes(), s.Bytes()
		copy(sig[:32], rBytes[:])
		copy(sig[32:], sBytes[:])
		return sig
	}
}

// grindLowR re-signs with an incrementing counter in the extra nonce data
// until r has its top bit clear. The counter occupies the first six bytes of
// the extra data, little-endian, starting at one.
func grindLowR(key *secp256k1.PrivateKey, hash []byte) [CompactSignatureSize]byte {
	sig := signCompact(key, hash, nil)

	var (
		extra   [32]byte
		counter uint64
		scratch [8]byte
	)
	for sig[0] > 0x7f {
		counter++
		binary.LittleEndian.PutUint64(scratch[:], counter)
		copy(extra[:6], scratch[:6])
		sig = signCompact(key, hash, extra[:])
	}

	if counter > 0 {
		log.Tracef("Low-R signature found after %d extra attempts", counter)
	}
	return sig
}

// ParseCompactSignature converts an r||s signature into its ECDSA form. Both
// scalars must be non-zero and below the curve order.
func ParseCompactSignature(sig []byte) (*ecdsa.Signature, error) {
	if len(sig) != CompactSignatureSize {
		return nil, cryptoErr(ErrInvalidSignature,
			"compact signature must be %d bytes, got %d",
			CompactSignatureSize, len(sig))
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return nil, cryptoErr(ErrInvalidSignature, "r is out of range")
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
		return nil, cryptoErr(ErrInvalidSignature, "s is out of range")
	}
	return ecdsa.NewSignature(&r, &s), nil
}

// VerifyCompact reports whether the r||s signature is valid for hash under
// the serialized public key.
func VerifyCompact(pubKey []byte, hash []byte, sig []byte) bool {
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsed, err := ParseCompactSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pub)
}

// VerifyDER reports whether the strict-DER signature is valid for hash under
// the serialized public key.
func VerifyDER(pubKey []byte, hash []byte, der []byte) bool {
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pub)
}

func zeroArray(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
}
