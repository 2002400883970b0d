// Package payments maps spending conditions to script bytes and back.
//
// A Payment is a tagged value: Type selects which of the fields are
// meaningful. Wrapping templates (p2sh, p2wsh) own an inner Payment in
// Redeem, so p2sh-p2wsh-p2ms is three nested values. Nesting only goes
// downward, so the structure is always a finite chain.
//
// Supported templates:
//
//	p2pk    <pubkey> OP_CHECKSIG
//	p2pkh   OP_DUP OP_HASH160 <hash160(pubkey)> OP_EQUALVERIFY OP_CHECKSIG
//	p2sh    OP_HASH160 <hash160(redeem)> OP_EQUAL
//	p2wpkh  OP_0 <hash160(pubkey)>
//	p2wsh   OP_0 <sha256(redeem)>
//	p2ms    OP_m <pubkey>... OP_n OP_CHECKMULTISIG
//	embed   OP_RETURN <data>...
package payments

import (
	"bytes"
	"strings"

	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
)

// Type names a script template.
type Type string

const (
	P2PK   Type = "p2pk"
	P2PKH  Type = "p2pkh"
	P2SH   Type = "p2sh"
	P2WPKH Type = "p2wpkh"
	P2WSH  Type = "p2wsh"
	P2MS   Type = "p2ms"
	Embed  Type = "embed"
)

// Payment binds a spending condition to its output script.
type Payment struct {
	Type    Type
	Network *network.Params

	// Output is the scriptPubKey (or, for a Payment used as a redeem
	// script, the script itself).
	Output []byte

	// Hash is the 20-byte key or script hash for p2pkh, p2sh and p2wpkh,
	// and the 32-byte script hash for p2wsh.
	Hash []byte

	// Pubkey is set for p2pk, and for p2pkh/p2wpkh when known.
	Pubkey []byte

	// M and Pubkeys describe a p2ms threshold.
	M       int
	Pubkeys [][]byte

	// Data holds the pushes of an embed output.
	Data [][]byte

	// Redeem is the wrapped payment of p2sh and p2wsh, when known.
	Redeem *Payment
}

// Name returns the composite template name, e.g. "p2sh-p2wsh-p2ms".
func (p *Payment) Name() string {
	names := []string{string(p.Type)}
	for r := p.Redeem; r != nil; r = r.Redeem {
		names = append(names, string(r.Type))
	}
	return strings.Join(names, "-")
}

// IsWitness reports whether spending p places the unlocking data in the
// witness, either natively or nested in p2sh.
func (p *Payment) IsWitness() bool {
	switch p.Type {
	case P2WPKH, P2WSH:
		return true
	case P2SH:
		return p.Redeem != nil && p.Redeem.IsWitness()
	}
	return false
}

// leaf returns the innermost payment, the one that checks signatures.
func (p *Payment) leaf() *Payment {
	leaf := p
	for leaf.Redeem != nil {
		leaf = leaf.Redeem
	}
	return leaf
}

// Threshold returns the number of signatures needed to spend p.
func (p *Payment) Threshold() int {
	leaf := p.leaf()
	if leaf.Type == P2MS {
		return leaf.M
	}
	if leaf.Type == Embed || leaf.Type == P2SH || leaf.Type == P2WSH {
		return 0
	}
	return 1
}

// Involves reports whether a signature from pubKey can help satisfy p.
func (p *Payment) Involves(pubKey []byte) bool {
	leaf := p.leaf()
	switch leaf.Type {
	case P2PK:
		return bytes.Equal(leaf.Pubkey, pubKey)
	case P2PKH, P2WPKH:
		return bytes.Equal(leaf.Hash, crypto.Hash160(pubKey))
	case P2MS:
		for _, pk := range leaf.Pubkeys {
			if bytes.Equal(pk, pubKey) {
				return true
			}
		}
	}
	return false
}

// ScriptCode returns the script a signature for p commits to, and whether
// the segwit v0 algorithm applies.
func (p *Payment) ScriptCode() ([]byte, bool, error) {
	switch p.Type {
	case P2PK, P2PKH, P2MS:
		return p.Output, false, nil

	case P2WPKH:
		code, err := pubKeyHashScript(p.Hash)
		return code, true, err

	case P2WSH:
		if p.Redeem == nil {
			return nil, false, invalidParams(p.Type, "witness script unknown")
		}
		return p.Redeem.Output, true, nil

	case P2SH:
		if p.Redeem == nil {
			return nil, false, invalidParams(p.Type, "redeem script unknown")
		}
		if p.Redeem.IsWitness() {
			return p.Redeem.ScriptCode()
		}
		return p.Redeem.Output, false, nil
	}

	return nil, false, invalidParams(p.Type, "template cannot be spent")
}

func netOrDefault(net *network.Params) *network.Params {
	if net == nil {
		return network.Bitcoin
	}
	return net
}
