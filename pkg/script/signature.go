package script

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/suffix-labs/btc-psbt/pkg/codec"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
)

// EncodeSignature converts a 64-byte r||s signature into the form carried in
// scripts: strict DER followed by the hash type byte.
func EncodeSignature(compact []byte, hashType SigHashType) ([]byte, error) {
	if !hashType.IsDefined() {
		return nil, fmt.Errorf("invalid hash type 0x%x", uint32(hashType))
	}
	sig, err := crypto.ParseCompactSignature(compact)
	if err != nil {
		return nil, err
	}
	return append(sig.Serialize(), byte(hashType)), nil
}

// DecodeSignature splits a script signature into its DER signature and hash
// type.
//
// Returns an error with code codec.ErrInvalidEncoding for non-DER bytes or
// an undefined hash type.
func DecodeSignature(scriptSig []byte) (*ecdsa.Signature, SigHashType, error) {
	if len(scriptSig) < 2 {
		return nil, 0, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Message: "script signature too short",
		}
	}

	hashType := SigHashType(scriptSig[len(scriptSig)-1])
	if !hashType.IsDefined() {
		return nil, 0, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Offset:  len(scriptSig) - 1,
			Message: fmt.Sprintf("invalid hash type 0x%02x", uint32(hashType)),
		}
	}

	sig, err := ecdsa.ParseDERSignature(scriptSig[:len(scriptSig)-1])
	if err != nil {
		return nil, 0, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Message: fmt.Sprintf("invalid DER signature: %v", err),
		}
	}
	return sig, hashType, nil
}

// IsCanonicalScriptSignature reports whether b is a strict-DER signature with
// a defined hash type.
func IsCanonicalScriptSignature(b []byte) bool {
	_, _, err := DecodeSignature(b)
	return err == nil
}

// IsCanonicalPubKey reports whether b is a valid compressed or uncompressed
// SEC public key.
func IsCanonicalPubKey(b []byte) bool {
	switch {
	case len(b) == secp256k1.PubKeyBytesLenCompressed &&
		(b[0] == 0x02 || b[0] == 0x03):
	case len(b) == secp256k1.PubKeyBytesLenUncompressed && b[0] == 0x04:
	default:
		return false
	}
	_, err := secp256k1.ParsePubKey(b)
	return err == nil
}

// IsCompressedPubKey reports whether b is a valid 33-byte public key.
func IsCompressedPubKey(b []byte) bool {
	return len(b) == secp256k1.PubKeyBytesLenCompressed && IsCanonicalPubKey(b)
}
