package crypto

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/suffix-labs/btc-psbt/pkg/network"
)

// compressMagic marks a WIF payload whose public key is compressed.
const compressMagic = 0x01

// EncodeWIF encodes a 32-byte private key in Wallet Import Format:
// base58check(version || key || [0x01]).
func EncodeWIF(version byte, privateKey []byte, compressed bool) (string, error) {
	if len(privateKey) != 32 {
		return "", cryptoErr(ErrInvalidPrivateKey,
			"private key must be 32 bytes, got %d", len(privateKey))
	}

	payload := make([]byte, 0, 33)
	payload = append(payload, privateKey...)
	if compressed {
		payload = append(payload, compressMagic)
	}
	return base58.CheckEncode(payload, version), nil
}

// DecodeWIF decodes a WIF string into its version byte, 32-byte key and
// compression flag. Only the encoding is checked here; scalar range and
// network are checked by FromWIF.
func DecodeWIF(wif string) (version byte, privateKey []byte, compressed bool,
	err error) {

	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return 0, nil, false, &CryptoError{
			Code:    ErrInvalidWIF,
			Message: "base58check decode failed",
			Cause:   err,
		}
	}

	switch {
	case len(payload) == 32:
		return version, payload, false, nil

	case len(payload) == 33:
		if payload[32] != compressMagic {
			return 0, nil, false, cryptoErr(ErrInvalidWIF,
				"invalid compression flag 0x%02x", payload[32])
		}
		return version, payload[:32], true, nil
	}

	return 0, nil, false, cryptoErr(ErrInvalidWIF,
		"invalid payload length %d", len(payload))
}

// matchNetwork returns the first candidate whose WIF version equals version.
func matchNetwork(version byte, candidates []*network.Params) (*network.Params,
	error) {

	names := make([]string, 0, len(candidates))
	for _, net := range candidates {
		if net.WIF == version {
			return net, nil
		}
		names = append(names, net.Name)
	}
	return nil, &NetworkMismatchError{Version: version, Candidates: names}
}
