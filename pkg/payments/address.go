package payments

import (
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
)

// Address returns the human-facing encoding of p: base58check for p2pkh and
// p2sh, bech32 for segwit v0 programs.
func (p *Payment) Address() (string, error) {
	net := netOrDefault(p.Network)

	switch p.Type {
	case P2PKH:
		return base58.CheckEncode(p.Hash, net.PubKeyHash), nil
	case P2SH:
		return base58.CheckEncode(p.Hash, net.ScriptHash), nil
	case P2WPKH, P2WSH:
		return encodeSegwit(net.Bech32, 0, p.Hash)
	}
	return "", invalidParams(p.Type, "template has no address form")
}

func encodeSegwit(hrp string, version byte, program []byte) (string, error) {
	converted, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, append([]byte{version}, converted...))
}

// ToOutputScript decodes an address for net into its scriptPubKey.
//
// Returns a crypto.NetworkMismatchError when the address is well formed but
// belongs to another network, and ErrInvalidParameters when it cannot be
// decoded at all.
func ToOutputScript(address string, net *network.Params) ([]byte, error) {
	p, err := FromAddress(address, net)
	if err != nil {
		return nil, err
	}
	return p.Output, nil
}

// FromAddress decodes an address for net into a Payment.
func FromAddress(address string, net *network.Params) (*Payment, error) {
	net = netOrDefault(net)

	if payload, version, err := base58.CheckDecode(address); err == nil {
		if len(payload) != 20 {
			return nil, invalidParams("", "address payload is %d bytes",
				len(payload))
		}
		switch version {
		case net.PubKeyHash:
			return NewP2PKHFromHash(payload, net)
		case net.ScriptHash:
			return NewP2SHFromHash(payload, net)
		}
		return nil, &crypto.NetworkMismatchError{
			Version:    version,
			Candidates: []string{net.Name},
		}
	}

	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return nil, invalidParams("", "%q is neither base58check nor bech32",
			address)
	}
	if !strings.EqualFold(hrp, net.Bech32) {
		return nil, &crypto.NetworkMismatchError{
			Prefix:     hrp,
			Candidates: []string{net.Name},
		}
	}
	if len(data) < 1 || data[0] != 0 {
		return nil, invalidParams("", "only witness version 0 is supported")
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, invalidParams("", "invalid witness program: %v", err)
	}

	switch len(program) {
	case 20:
		return NewP2WPKHFromHash(program, net)
	case 32:
		return NewP2WSHFromHash(program, net)
	}
	return nil, invalidParams("", "witness program is %d bytes", len(program))
}

// FromOutputScript returns the address of an output script for net.
func FromOutputScript(output []byte, net *network.Params) (string, error) {
	p, err := Decode(output, net)
	if err != nil {
		return "", err
	}
	return p.Address()
}
