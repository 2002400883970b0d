package crypto

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160"
)

// Sha256 returns SHA-256(b).
func Sha256(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// Ripemd160 returns RIPEMD-160(b).
func Ripemd160(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

// Hash160 returns RIPEMD-160(SHA-256(b)), the hash committed to by P2PKH,
// P2SH and P2WPKH outputs.
func Hash160(b []byte) []byte {
	return Ripemd160(Sha256(b))
}

// Hash256 returns SHA-256(SHA-256(b)).
func Hash256(b []byte) []byte {
	return chainhash.DoubleHashB(b)
}
