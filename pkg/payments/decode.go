package payments

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

// Decode recognizes the template of an output (or redeem) script. Wrapping
// templates are returned without a Redeem; see Resolve.
//
// Returns an error with code ErrUnknownTemplate if the bytes match no
// template.
func Decode(s []byte, net *network.Params) (*Payment, error) {
	switch {
	case len(s) == 25 && s[0] == txscript.OP_DUP &&
		s[1] == txscript.OP_HASH160 && s[2] == txscript.OP_DATA_20 &&
		s[23] == txscript.OP_EQUALVERIFY && s[24] == txscript.OP_CHECKSIG:
		return NewP2PKHFromHash(clone(s[3:23]), net)

	case len(s) == 23 && s[0] == txscript.OP_HASH160 &&
		s[1] == txscript.OP_DATA_20 && s[22] == txscript.OP_EQUAL:
		return NewP2SHFromHash(clone(s[2:22]), net)

	case len(s) == 22 && s[0] == txscript.OP_0 &&
		s[1] == txscript.OP_DATA_20:
		return NewP2WPKHFromHash(clone(s[2:]), net)

	case len(s) == 34 && s[0] == txscript.OP_0 &&
		s[1] == txscript.OP_DATA_32:
		return NewP2WSHFromHash(clone(s[2:]), net)
	}

	chunks, err := script.Decompile(s)
	if err != nil {
		return nil, &TemplateError{
			Code:    ErrUnknownTemplate,
			Message: err.Error(),
		}
	}

	if p := decodeP2PK(chunks, net); p != nil {
		return p, nil
	}
	if p := decodeP2MS(chunks, net); p != nil {
		return p, nil
	}
	if len(chunks) > 0 && chunks[0].Op == txscript.OP_RETURN {
		data, err := script.PushedData(s[1:])
		if err == nil {
			return &Payment{
				Type:    Embed,
				Network: netOrDefault(net),
				Output:  clone(s),
				Data:    data,
			}, nil
		}
	}

	return nil, &TemplateError{
		Code:    ErrUnknownTemplate,
		Message: fmt.Sprintf("unrecognized script %s", script.Disasm(s)),
	}
}

func decodeP2PK(chunks []script.Chunk, net *network.Params) *Payment {
	if len(chunks) != 2 || chunks[1].Op != txscript.OP_CHECKSIG ||
		!script.IsCanonicalPubKey(chunks[0].Data) {

		return nil
	}
	p, err := NewP2PK(chunks[0].Data, net)
	if err != nil {
		return nil
	}
	return p
}

func decodeP2MS(chunks []script.Chunk, net *network.Params) *Payment {
	if len(chunks) < 4 ||
		chunks[len(chunks)-1].Op != txscript.OP_CHECKMULTISIG {

		return nil
	}

	m, ok := script.SmallInt(chunks[0].Op)
	if !ok || m == 0 {
		return nil
	}
	n, ok := script.SmallInt(chunks[len(chunks)-2].Op)
	if !ok || n != len(chunks)-3 {
		return nil
	}

	pubKeys := make([][]byte, 0, n)
	for _, c := range chunks[1 : len(chunks)-2] {
		if !script.IsCanonicalPubKey(c.Data) {
			return nil
		}
		pubKeys = append(pubKeys, c.Data)
	}

	p, err := NewP2MS(m, pubKeys, net)
	if err != nil {
		return nil
	}
	return p
}

// Resolve decodes prevOut and, for wrapping templates, attaches the decoded
// redeem and witness scripts after checking them against the committed
// hashes. The result describes everything needed to sign and finalize.
func Resolve(prevOut, redeemScript, witnessScript []byte,
	net *network.Params) (*Payment, error) {

	top, err := Decode(prevOut, net)
	if err != nil {
		return nil, err
	}

	current := top
	for {
		switch current.Type {
		case P2SH:
			if redeemScript == nil {
				return top, nil
			}
			if !bytes.Equal(current.Hash, crypto.Hash160(redeemScript)) {
				return nil, invalidParams(P2SH,
					"redeem script does not match script hash")
			}
			redeem, err := Decode(redeemScript, net)
			if err != nil {
				return nil, err
			}
			if redeem.Type == P2SH || redeem.Type == Embed {
				return nil, invalidParams(P2SH, "cannot wrap %s", redeem.Type)
			}
			current.Redeem = redeem
			current = redeem
			redeemScript = nil

		case P2WSH:
			if witnessScript == nil {
				return top, nil
			}
			if !bytes.Equal(current.Hash, crypto.Sha256(witnessScript)) {
				return nil, invalidParams(P2WSH,
					"witness script does not match script hash")
			}
			redeem, err := Decode(witnessScript, net)
			if err != nil {
				return nil, err
			}
			switch redeem.Type {
			case P2SH, P2WSH, P2WPKH, Embed:
				return nil, invalidParams(P2WSH, "cannot wrap %s",
					redeem.Type)
			}
			if err := checkNoUncompressedKeys(witnessScript); err != nil {
				return nil, err
			}
			current.Redeem = redeem
			current = redeem
			witnessScript = nil

		default:
			return top, nil
		}
	}
}

// ResolveNamed is Resolve followed by a check that the result matches a
// declared composite name such as "p2sh-p2wpkh".
func ResolveNamed(name string, prevOut, redeemScript, witnessScript []byte,
	net *network.Params) (*Payment, error) {

	p, err := Resolve(prevOut, redeemScript, witnessScript, net)
	if err != nil {
		return nil, err
	}
	if name != "" && !strings.EqualFold(p.Name(), name) {
		return nil, invalidParams(Type(name),
			"scripts resolve to %s", p.Name())
	}
	return p, nil
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}
