package roles

import (
	"encoding/hex"
	"fmt"

	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

// Finalizer turns collected partial signatures into final scriptSigs and
// witnesses.
//
// An input is finalized only when its signatures satisfy the template's
// threshold: one signature for single-key templates, m for m-of-n
// multisig. The unlocking data is built by payments.AssembleSpend. After
// finalization the input's signing data (partial signatures, hash type,
// redeem and witness scripts) is removed, as BIP174 requires. Segwit
// inputs without a scriptSig carry only the final witness.
type Finalizer struct {
	packet *psbt.Packet
	net    *network.Params
}

// NewFinalizer returns a Finalizer for p.
func NewFinalizer(p *psbt.Packet, net *network.Params) *Finalizer {
	if net == nil {
		net = network.Bitcoin
	}
	return &Finalizer{packet: p, net: net}
}

// FinalizeInput finalizes input index. Finalizing an input twice is a
// no-op.
//
// This resolves the template of the spent output, re-verifies every
// partial signature that belongs to it and assembles the final scriptSig
// and witness from exactly as many signatures as the template needs.
//
// Parameters:
//   - index: Index of the input to finalize (0-based)
//
// Returns an error if:
//   - The index is out of range (ErrIndexOutOfRange)
//   - The spent output or its scripts are unknown (ErrCannotFinalize)
//   - A signature does not verify or uses a hash type other than the
//     declared one (ErrCannotFinalize)
//   - The signatures do not meet the threshold (ErrCannotFinalize
//     wrapping payments.ErrInsufficientSignatures)
//
// The input is left unchanged when an error is returned.
func (f *Finalizer) FinalizeInput(index int) error {
	p := f.packet
	if err := checkInputIndex(p, index); err != nil {
		return err
	}

	in := p.Inputs[index]
	if in.IsFinalized() {
		return nil
	}

	// Step 1: Resolve the spending condition of the input
	pay, _, err := resolveInput(p, index, f.net)
	if err != nil {
		return &psbt.StateError{
			Code:    psbt.ErrCannotFinalize,
			Message: fmt.Sprintf("input %d", index),
			Cause:   err,
		}
	}

	// Step 2: Collect the signatures that verify for this template
	sigs, err := f.signaturesFor(index, pay)
	if err != nil {
		return err
	}

	// Step 3: Build the unlocking data, in the order the script expects
	spend, err := payments.AssembleSpend(pay, sigs, false)
	if err != nil {
		return &psbt.StateError{
			Code:    psbt.ErrCannotFinalize,
			Message: fmt.Sprintf("input %d (%s)", index, pay.Name()),
			Cause:   err,
		}
	}

	// Step 4: Store the final fields and drop the signing data
	in.FinalScriptWitness = spend.Witness
	in.FinalScriptSig = spend.ScriptSig
	if len(spend.ScriptSig) == 0 && spend.Witness != nil {
		in.FinalScriptSig = nil
	}
	clearSigningData(in)

	log.Debugf("Finalized input %d (%s)", index, pay.Name())

	return nil
}

// signaturesFor returns the partial signatures of input index that belong
// to the template. Each one must verify and carry the hash type the input
// requires; signatures merged from other parties are not trusted blindly.
func (f *Finalizer) signaturesFor(index int,
	pay *payments.Payment) (payments.Signatures, error) {

	in := f.packet.Inputs[index]
	sigs := make(payments.Signatures, len(in.PartialSigs))
	for _, pubKey := range in.SortedPubKeys() {
		sig, ok := in.PartialSigs.Get(pubKey)
		if !ok || !pay.Involves(pubKey) {
			continue
		}

		hashType := script.SigHashType(sig[len(sig)-1])
		if in.SighashType != 0 && hashType != in.SighashType {
			return nil, stateErr(psbt.ErrCannotFinalize,
				"input %d: signature by %x uses %v, input requires %v",
				index, pubKey, hashType, in.SighashType)
		}

		valid, err := verifyPartialSig(f.packet, index, pubKey, sig, f.net)
		if err != nil || !valid {
			return nil, stateErr(psbt.ErrCannotFinalize,
				"input %d: signature by %x does not verify", index, pubKey)
		}
		sigs[hex.EncodeToString(pubKey)] = sig
	}
	return sigs, nil
}

// FinalizeAllInputs finalizes every input, in input order.
//
// Returns the first error of FinalizeInput. Inputs finalized before the
// failure stay finalized; later inputs are not attempted.
func (f *Finalizer) FinalizeAllInputs() error {
	for i := range f.packet.Inputs {
		if err := f.FinalizeInput(i); err != nil {
			return err
		}
	}
	return nil
}

// Finish returns the finalized packet, ready for the Extractor.
func (f *Finalizer) Finish() *psbt.Packet {
	return f.packet
}

// clearSigningData drops the records only needed until finalization.
func clearSigningData(in *psbt.Input) {
	in.PartialSigs = payments.Signatures{}
	in.SighashType = 0
	in.RedeemScript = nil
	in.WitnessScript = nil
}
