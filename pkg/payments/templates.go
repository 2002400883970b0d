package payments

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

// maxMultisigKeys is the largest n expressible with a small-integer opcode.
const maxMultisigKeys = 16

func pubKeyHashScript(hash []byte) ([]byte, error) {
	return script.NewBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// NewP2PK builds a pay-to-pubkey payment.
func NewP2PK(pubKey []byte, net *network.Params) (*Payment, error) {
	if !script.IsCanonicalPubKey(pubKey) {
		return nil, invalidParams(P2PK, "invalid public key")
	}

	output, err := script.NewBuilder().
		AddData(pubKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, invalidParams(P2PK, "%v", err)
	}

	return &Payment{
		Type:    P2PK,
		Network: netOrDefault(net),
		Output:  output,
		Pubkey:  pubKey,
	}, nil
}

// NewP2PKH builds a pay-to-pubkey-hash payment from a public key.
func NewP2PKH(pubKey []byte, net *network.Params) (*Payment, error) {
	if !script.IsCanonicalPubKey(pubKey) {
		return nil, invalidParams(P2PKH, "invalid public key")
	}
	p, err := NewP2PKHFromHash(crypto.Hash160(pubKey), net)
	if err != nil {
		return nil, err
	}
	p.Pubkey = pubKey
	return p, nil
}

// NewP2PKHFromHash builds a pay-to-pubkey-hash payment from a 20-byte hash.
func NewP2PKHFromHash(hash []byte, net *network.Params) (*Payment, error) {
	if len(hash) != 20 {
		return nil, invalidParams(P2PKH, "hash must be 20 bytes, got %d",
			len(hash))
	}

	output, err := pubKeyHashScript(hash)
	if err != nil {
		return nil, invalidParams(P2PKH, "%v", err)
	}

	return &Payment{
		Type:    P2PKH,
		Network: netOrDefault(net),
		Output:  output,
		Hash:    hash,
	}, nil
}

// NewP2SH wraps redeem in a pay-to-script-hash payment.
func NewP2SH(redeem *Payment, net *network.Params) (*Payment, error) {
	if redeem == nil || len(redeem.Output) == 0 {
		return nil, invalidParams(P2SH, "redeem script required")
	}
	switch redeem.Type {
	case P2SH, Embed:
		return nil, invalidParams(P2SH, "cannot wrap %s", redeem.Type)
	}

	p, err := NewP2SHFromHash(crypto.Hash160(redeem.Output), net)
	if err != nil {
		return nil, err
	}
	p.Redeem = redeem
	return p, nil
}

// NewP2SHFromHash builds a pay-to-script-hash payment from a 20-byte hash.
func NewP2SHFromHash(hash []byte, net *network.Params) (*Payment, error) {
	if len(hash) != 20 {
		return nil, invalidParams(P2SH, "hash must be 20 bytes, got %d",
			len(hash))
	}

	output, err := script.NewBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, invalidParams(P2SH, "%v", err)
	}

	return &Payment{
		Type:    P2SH,
		Network: netOrDefault(net),
		Output:  output,
		Hash:    hash,
	}, nil
}

// NewP2WPKH builds a native segwit v0 key-hash payment. Only compressed
// public keys are allowed in witness programs.
func NewP2WPKH(pubKey []byte, net *network.Params) (*Payment, error) {
	if !script.IsCompressedPubKey(pubKey) {
		return nil, invalidParams(P2WPKH, "compressed public key required")
	}
	p, err := NewP2WPKHFromHash(crypto.Hash160(pubKey), net)
	if err != nil {
		return nil, err
	}
	p.Pubkey = pubKey
	return p, nil
}

// NewP2WPKHFromHash builds a segwit v0 key-hash payment from a 20-byte hash.
func NewP2WPKHFromHash(hash []byte, net *network.Params) (*Payment, error) {
	if len(hash) != 20 {
		return nil, invalidParams(P2WPKH, "hash must be 20 bytes, got %d",
			len(hash))
	}
	return &Payment{
		Type:    P2WPKH,
		Network: netOrDefault(net),
		Output:  witnessProgram(hash),
		Hash:    hash,
	}, nil
}

// NewP2WSH wraps redeem in a segwit v0 script-hash payment. The redeem
// script may not contain uncompressed public keys.
func NewP2WSH(redeem *Payment, net *network.Params) (*Payment, error) {
	if redeem == nil || len(redeem.Output) == 0 {
		return nil, invalidParams(P2WSH, "witness script required")
	}
	switch redeem.Type {
	case P2SH, P2WSH, P2WPKH, Embed:
		return nil, invalidParams(P2WSH, "cannot wrap %s", redeem.Type)
	}
	if err := checkNoUncompressedKeys(redeem.Output); err != nil {
		return nil, err
	}

	p, err := NewP2WSHFromHash(crypto.Sha256(redeem.Output), net)
	if err != nil {
		return nil, err
	}
	p.Redeem = redeem
	return p, nil
}

// NewP2WSHFromHash builds a segwit v0 script-hash payment from a 32-byte
// hash.
func NewP2WSHFromHash(hash []byte, net *network.Params) (*Payment, error) {
	if len(hash) != 32 {
		return nil, invalidParams(P2WSH, "hash must be 32 bytes, got %d",
			len(hash))
	}
	return &Payment{
		Type:    P2WSH,
		Network: netOrDefault(net),
		Output:  witnessProgram(hash),
		Hash:    hash,
	}, nil
}

// witnessProgram returns OP_0 <program>.
func witnessProgram(program []byte) []byte {
	out := make([]byte, 0, 2+len(program))
	out = append(out, txscript.OP_0, byte(len(program)))
	return append(out, program...)
}

func checkNoUncompressedKeys(redeem []byte) error {
	chunks, err := script.Decompile(redeem)
	if err != nil {
		return invalidParams(P2WSH, "malformed witness script: %v", err)
	}
	for _, c := range chunks {
		if len(c.Data) == 65 && script.IsCanonicalPubKey(c.Data) {
			return invalidParams(P2WSH,
				"witness script contains an uncompressed public key")
		}
	}
	return nil
}

// NewP2MS builds an m-of-n bare multisig payment. Keys keep the given order;
// signatures are later matched against that order.
func NewP2MS(m int, pubKeys [][]byte, net *network.Params) (*Payment, error) {
	n := len(pubKeys)
	switch {
	case n == 0 || n > maxMultisigKeys:
		return nil, invalidParams(P2MS, "need 1 to %d public keys, got %d",
			maxMultisigKeys, n)
	case m < 1 || m > n:
		return nil, invalidParams(P2MS, "threshold %d not in [1, %d]", m, n)
	}

	b := script.NewBuilder().AddInt(m)
	for i, pk := range pubKeys {
		if !script.IsCanonicalPubKey(pk) {
			return nil, invalidParams(P2MS, "public key %d is invalid", i)
		}
		b.AddData(pk)
	}
	output, err := b.AddInt(n).AddOp(txscript.OP_CHECKMULTISIG).Script()
	if err != nil {
		return nil, invalidParams(P2MS, "%v", err)
	}

	return &Payment{
		Type:    P2MS,
		Network: netOrDefault(net),
		Output:  output,
		M:       m,
		Pubkeys: pubKeys,
	}, nil
}

// NewEmbed builds an OP_RETURN null-data output carrying data.
func NewEmbed(data [][]byte, net *network.Params) (*Payment, error) {
	b := script.NewBuilder().AddOp(txscript.OP_RETURN)
	for _, d := range data {
		b.AddData(d)
	}
	output, err := b.Script()
	if err != nil {
		return nil, invalidParams(Embed, "%v", err)
	}

	return &Payment{
		Type:    Embed,
		Network: netOrDefault(net),
		Output:  output,
		Data:    data,
	}, nil
}
