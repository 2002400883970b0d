package roles

import (
	"bytes"
	"encoding/hex"

	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

// Validator re-checks the partial signatures stored in a packet against
// digests recomputed from its current contents.
type Validator struct {
	packet *psbt.Packet
	net    *network.Params
}

// NewValidator returns a Validator for p.
func NewValidator(p *psbt.Packet, net *network.Params) *Validator {
	if net == nil {
		net = network.Bitcoin
	}
	return &Validator{packet: p, net: net}
}

// ValidateSignaturesOfInput verifies every partial signature of input
// index, or only the one by pubKey when pubKey is non-nil.
//
// It returns false, without an error, when a signature fails to verify or
// when there is nothing to verify. Errors are reserved for inputs whose
// digest cannot be computed, such as a missing spent output.
func (v *Validator) ValidateSignaturesOfInput(index int,
	pubKey []byte) (bool, error) {

	p := v.packet
	if err := checkInputIndex(p, index); err != nil {
		return false, err
	}

	checked := 0
	for _, pk := range p.Inputs[index].SortedPubKeys() {
		if pubKey != nil && !bytes.Equal(pk, pubKey) {
			continue
		}
		sig, ok := p.Inputs[index].PartialSigs.Get(pk)
		if !ok {
			return false, nil
		}

		valid, err := verifyPartialSig(p, index, pk, sig, v.net)
		if err != nil {
			return false, err
		}
		if !valid {
			log.Debugf("Signature by %x on input %d does not verify", pk,
				index)
			return false, nil
		}
		checked++
	}
	return checked > 0, nil
}

// ValidateAllSignatures reports whether every input that is not finalized
// holds at least one partial signature and all of them verify.
func (v *Validator) ValidateAllSignatures() (bool, error) {
	for i, in := range v.packet.Inputs {
		if in.IsFinalized() {
			continue
		}
		valid, err := v.ValidateSignaturesOfInput(i, nil)
		if err != nil || !valid {
			return false, err
		}
	}
	return true, nil
}

// verifyPartialSig checks sig (DER plus hash type byte) by pubKey over the
// digest of input index under the signature's own hash type.
func verifyPartialSig(p *psbt.Packet, index int, pubKey, sig []byte,
	net *network.Params) (bool, error) {

	if !script.IsCanonicalScriptSignature(sig) {
		return false, nil
	}

	hashType := script.SigHashType(sig[len(sig)-1])
	sigIn, _, err := sigHashInput(p, index, hashType, net)
	if err != nil {
		return false, err
	}

	valid, err := p.UnsignedTx.VerifyInputSignature(sigIn, pubKey, sig)
	if err != nil {
		log.Debugf("Input %d signature by %s: %v", index,
			hex.EncodeToString(pubKey), err)
		return false, nil
	}
	return valid, nil
}
