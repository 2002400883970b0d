package payments

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

// Signatures maps hex-encoded public keys to script signatures (DER plus
// hash type byte).
type Signatures map[string][]byte

// Get returns the signature collected for pubKey, if any.
func (s Signatures) Get(pubKey []byte) ([]byte, bool) {
	sig, ok := s[hex.EncodeToString(pubKey)]
	return sig, ok && len(sig) > 0
}

// Spend is the unlocking data for one input.
type Spend struct {
	ScriptSig []byte
	Witness   [][]byte
}

// AssembleSpend builds the scriptSig and witness that satisfy p using sigs.
//
// Multisig signatures are placed in the order of p's public keys. With
// allowIncomplete unset, fewer signatures than the threshold fail with
// ErrInsufficientSignatures and exactly m signatures are used otherwise.
// With allowIncomplete set, every missing slot is filled with an empty
// item so the partially signed result can be inspected.
func AssembleSpend(p *Payment, sigs Signatures,
	allowIncomplete bool) (*Spend, error) {

	switch p.Type {
	case P2PK, P2PKH, P2MS:
		stack, err := unlockStack(p, sigs, allowIncomplete)
		if err != nil {
			return nil, err
		}
		scriptSig, err := script.PushAll(stack)
		if err != nil {
			return nil, invalidParams(p.Type, "%v", err)
		}
		return &Spend{ScriptSig: scriptSig}, nil

	case P2WPKH:
		stack, err := unlockStack(p, sigs, allowIncomplete)
		if err != nil {
			return nil, err
		}
		return &Spend{ScriptSig: []byte{}, Witness: stack}, nil

	case P2WSH:
		if p.Redeem == nil {
			return nil, invalidParams(P2WSH, "witness script unknown")
		}
		stack, err := unlockStack(p.Redeem, sigs, allowIncomplete)
		if err != nil {
			return nil, err
		}
		return &Spend{
			ScriptSig: []byte{},
			Witness:   append(stack, p.Redeem.Output),
		}, nil

	case P2SH:
		return assembleP2SH(p, sigs, allowIncomplete)
	}

	return nil, invalidParams(p.Type, "template cannot be spent")
}

// assembleP2SH pushes the redeem script after the inner unlocking data. When
// the redeem script is a witness program, the scriptSig carries only the
// program and the unlocking data stays in the witness.
func assembleP2SH(p *Payment, sigs Signatures,
	allowIncomplete bool) (*Spend, error) {

	redeem := p.Redeem
	if redeem == nil {
		return nil, invalidParams(P2SH, "redeem script unknown")
	}

	if redeem.IsWitness() {
		inner, err := AssembleSpend(redeem, sigs, allowIncomplete)
		if err != nil {
			return nil, err
		}
		scriptSig, err := script.PushAll([][]byte{redeem.Output})
		if err != nil {
			return nil, invalidParams(P2SH, "%v", err)
		}
		return &Spend{ScriptSig: scriptSig, Witness: inner.Witness}, nil
	}

	switch redeem.Type {
	case P2PK, P2PKH, P2MS:
	default:
		return nil, invalidParams(P2SH, "cannot spend wrapped %s", redeem.Type)
	}

	stack, err := unlockStack(redeem, sigs, allowIncomplete)
	if err != nil {
		return nil, err
	}
	scriptSig, err := script.PushAll(append(stack, redeem.Output))
	if err != nil {
		return nil, invalidParams(P2SH, "%v", err)
	}
	return &Spend{ScriptSig: scriptSig}, nil
}

// unlockStack returns the data items that satisfy a leaf template.
func unlockStack(p *Payment, sigs Signatures,
	allowIncomplete bool) ([][]byte, error) {

	switch p.Type {
	case P2PK:
		sig, ok := sigs.Get(p.Pubkey)
		if !ok {
			if allowIncomplete {
				return [][]byte{{}}, nil
			}
			return nil, insufficient(p, 0)
		}
		return [][]byte{sig}, nil

	case P2PKH, P2WPKH:
		pubKey := p.Pubkey
		if pubKey == nil {
			pubKey = findKeyForHash(sigs, p.Hash)
		}
		if pubKey == nil {
			if allowIncomplete {
				return [][]byte{}, nil
			}
			return nil, insufficient(p, 0)
		}
		sig, ok := sigs.Get(pubKey)
		if !ok {
			if allowIncomplete {
				return [][]byte{{}, pubKey}, nil
			}
			return nil, insufficient(p, 0)
		}
		return [][]byte{sig, pubKey}, nil

	case P2MS:
		return multisigStack(p, sigs, allowIncomplete)
	}

	return nil, invalidParams(p.Type, "not a signature template")
}

// multisigStack starts with the empty item consumed by CHECKMULTISIG's extra
// pop, followed by signatures in public key order.
func multisigStack(p *Payment, sigs Signatures,
	allowIncomplete bool) ([][]byte, error) {

	found := 0
	for _, pk := range p.Pubkeys {
		if _, ok := sigs.Get(pk); ok {
			found++
		}
	}

	stack := [][]byte{{}}
	if found >= p.M {
		for _, pk := range p.Pubkeys {
			if len(stack) == p.M+1 {
				break
			}
			if sig, ok := sigs.Get(pk); ok {
				stack = append(stack, sig)
			}
		}
		return stack, nil
	}

	if !allowIncomplete {
		return nil, insufficient(p, found)
	}
	for _, pk := range p.Pubkeys {
		sig, _ := sigs.Get(pk)
		stack = append(stack, append([]byte{}, sig...))
	}
	return stack, nil
}

func findKeyForHash(sigs Signatures, hash []byte) []byte {
	for hexKey := range sigs {
		pubKey, err := hex.DecodeString(hexKey)
		if err != nil {
			continue
		}
		if bytes.Equal(crypto.Hash160(pubKey), hash) {
			return pubKey
		}
	}
	return nil
}

func insufficient(p *Payment, have int) error {
	return &TemplateError{
		Code:     ErrInsufficientSignatures,
		Template: p.Type,
		Message: fmt.Sprintf("have %d of %d required signatures", have,
			p.Threshold()),
	}
}
