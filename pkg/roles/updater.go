package roles

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Updater attaches the information signers need to inputs that already
// exist: the spent output, redeem and witness scripts, and the hash type.
//
// Every change that would alter an input's signature digest is refused
// with ErrSignaturesWouldBeInvalidated once that input holds partial
// signatures, and finalized inputs cannot be updated at all.
type Updater struct {
	packet *psbt.Packet
	net    *network.Params
}

// NewUpdater returns an Updater for p.
func NewUpdater(p *psbt.Packet, net *network.Params) *Updater {
	if net == nil {
		net = network.Bitcoin
	}
	return &Updater{packet: p, net: net}
}

// editable returns input index if it may still change.
func (u *Updater) editable(index int) (*psbt.Input, error) {
	if err := checkInputIndex(u.packet, index); err != nil {
		return nil, err
	}
	in := u.packet.Inputs[index]
	if in.IsFinalized() {
		return nil, stateErr(psbt.ErrInvalidState,
			"input %d is finalized", index)
	}
	if len(in.PartialSigs) > 0 {
		return nil, stateErr(psbt.ErrSignaturesWouldBeInvalidated,
			"input %d already has %d partial signatures", index,
			len(in.PartialSigs))
	}
	return in, nil
}

// SetUtxo records the output spent by input index, as the full previous
// transaction, the output alone, or both.
func (u *Updater) SetUtxo(index int, nonWitness *transaction.Transaction,
	witness *transaction.TxOut) error {

	in, err := u.editable(index)
	if err != nil {
		return err
	}

	// Work on a copy so a rejected update leaves the input untouched.
	updated := *in
	txIn := u.packet.UnsignedTx.Inputs[index]
	err = attachUtxo(&updated, txIn.Hash, txIn.Index, nonWitness, witness)
	if err != nil {
		return err
	}
	if err := resolveScriptType(&updated, txIn.Index, u.net); err != nil {
		return err
	}

	*in = updated
	log.Debugf("Updated spent output of input %d", index)
	return nil
}

// SetScripts records the redeem and witness scripts of input index and,
// optionally, its declared script type. Nil scripts leave the current ones
// in place.
func (u *Updater) SetScripts(index int, redeemScript, witnessScript []byte,
	scriptType string) error {

	in, err := u.editable(index)
	if err != nil {
		return err
	}

	updated := *in
	if redeemScript != nil {
		updated.RedeemScript = cloneScript(redeemScript)
	}
	if witnessScript != nil {
		updated.WitnessScript = cloneScript(witnessScript)
	}
	if scriptType != "" {
		updated.ScriptType = scriptType
	}

	txIn := u.packet.UnsignedTx.Inputs[index]
	if err := resolveScriptType(&updated, txIn.Index, u.net); err != nil {
		return err
	}

	*in = updated
	log.Debugf("Updated scripts of input %d (%s)", index, in.ScriptType)
	return nil
}

// SetSighashType sets the hash type signers of input index must use.
func (u *Updater) SetSighashType(index int,
	hashType script.SigHashType) error {

	in, err := u.editable(index)
	if err != nil {
		return err
	}
	if !hashType.IsDefined() {
		return stateErr(psbt.ErrInvalidInput, "undefined sighash type 0x%x",
			uint32(hashType))
	}
	in.SighashType = hashType
	return nil
}

// SetOutputScripts records the redeem and witness scripts behind output
// index, so receivers can check where change goes.
func (u *Updater) SetOutputScripts(index int, redeemScript,
	witnessScript []byte) error {

	p := u.packet
	if index < 0 || index >= len(p.Outputs) {
		return stateErr(psbt.ErrIndexOutOfRange,
			"output %d out of range (have %d)", index, len(p.Outputs))
	}

	pkScript := p.UnsignedTx.Outputs[index].Script
	_, err := payments.Resolve(pkScript, redeemScript, witnessScript, u.net)
	if err != nil {
		return &psbt.StateError{
			Code:    psbt.ErrInvalidOutput,
			Message: fmt.Sprintf("output %d scripts", index),
			Cause:   err,
		}
	}

	out := p.Outputs[index]
	out.RedeemScript = cloneScript(redeemScript)
	out.WitnessScript = cloneScript(witnessScript)
	return nil
}

// Finish returns the updated packet.
func (u *Updater) Finish() *psbt.Packet {
	return u.packet
}

// attachUtxo checks the spent output records against the outpoint and each
// other, then stores copies on in.
func attachUtxo(in *psbt.Input, hash chainhash.Hash, vout uint32,
	nonWitness *transaction.Transaction, witness *transaction.TxOut) error {

	var prevOut *transaction.TxOut
	if nonWitness != nil {
		if nonWitness.TxHash() != hash {
			return stateErr(psbt.ErrInvalidInput,
				"previous transaction %v does not match outpoint %v",
				nonWitness.TxHash(), hash)
		}
		if int(vout) >= len(nonWitness.Outputs) {
			return stateErr(psbt.ErrInvalidInput,
				"previous transaction has no output %d", vout)
		}
		prevOut = nonWitness.Outputs[vout]
	}

	if witness != nil && prevOut != nil &&
		(prevOut.Value != witness.Value ||
			!bytes.Equal(prevOut.Script, witness.Script)) {

		return stateErr(psbt.ErrConflictingData,
			"witness utxo differs from output %d of the previous "+
				"transaction", vout)
	}

	if nonWitness != nil {
		in.NonWitnessUtxo = nonWitness.Clone()
	}
	if witness != nil {
		in.WitnessUtxo = &transaction.TxOut{
			Value:  witness.Value,
			Script: append([]byte{}, witness.Script...),
		}
	}
	return nil
}

// resolveScriptType checks the input's scripts against its spent output,
// when known, and records the resolved template name. A declared name may
// run ahead of the scripts ("p2sh-p2wpkh" before the redeem script is
// attached); it must agree with them as far as they go.
func resolveScriptType(in *psbt.Input, vout uint32,
	net *network.Params) error {

	var prevOut *transaction.TxOut
	switch {
	case in.WitnessUtxo != nil:
		prevOut = in.WitnessUtxo
	case in.NonWitnessUtxo != nil:
		prevOut = in.NonWitnessUtxo.Outputs[vout]
	default:
		return nil
	}

	pay, err := payments.Resolve(prevOut.Script, in.RedeemScript,
		in.WitnessScript, net)
	if err != nil {
		return &psbt.StateError{
			Code:    psbt.ErrInvalidInput,
			Message: "input scripts",
			Cause:   err,
		}
	}

	resolved, declared := pay.Name(), strings.ToLower(in.ScriptType)
	switch {
	case declared == "" || strings.HasPrefix(resolved, declared+"-"):
		in.ScriptType = resolved
	case declared == resolved || strings.HasPrefix(declared, resolved+"-"):
		in.ScriptType = declared
	default:
		return stateErr(psbt.ErrInvalidInput,
			"declared script type %s but scripts resolve to %s",
			in.ScriptType, resolved)
	}
	return nil
}
