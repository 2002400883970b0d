// Package psbt implements the partially signed transaction container
// exchanged between the parties of a multi-step signing flow.
//
// The encoding follows BIP174 version 0:
//
//	"psbt" 0xff || global map || one map per input || one map per output
//
// Each map is a list of <compact-size key length><key><compact-size value
// length><value> records ended by a 0x00 byte. The first key byte is the
// record type. Records this package does not interpret are carried through
// unchanged.
//
// References:
//   - BIP 174: https://github.com/bitcoin/bips/blob/master/bip-0174.mediawiki
package psbt

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Packet is a partially signed transaction.
//
// UnsignedTx carries no scriptSigs or witnesses; everything needed to sign
// and finalize lives in the per-input records. Inputs and Outputs always
// have the same lengths as the transaction's input and output lists.
type Packet struct {
	UnsignedTx *transaction.Transaction
	Inputs     []*Input
	Outputs    []*Output
	Unknowns   []*Unknown // Uninterpreted global records
}

// Unknown is a key-value record kept verbatim.
type Unknown struct {
	Key   []byte
	Value []byte
}

// Input holds the signing metadata of one transaction input.
type Input struct {
	// NonWitnessUtxo is the full transaction that created the spent output.
	NonWitnessUtxo *transaction.Transaction

	// WitnessUtxo is the spent output itself. Segwit signing needs its
	// value; it is also accepted for legacy inputs as a lighter form.
	WitnessUtxo *transaction.TxOut

	// PartialSigs maps hex public keys to script signatures.
	PartialSigs payments.Signatures

	// SighashType is the hash type signers must use, 0 when unset.
	SighashType script.SigHashType

	RedeemScript  []byte
	WitnessScript []byte

	// FinalScriptSig and FinalScriptWitness are set by the finalizer.
	// Once either is present the other signing fields are cleared.
	FinalScriptSig     []byte
	FinalScriptWitness [][]byte

	// ScriptType is the declared template name of the spent output, such
	// as "p2sh-p2wsh-p2ms". It travels as a proprietary record.
	ScriptType string

	Unknowns []*Unknown
}

// Output holds the metadata of one transaction output.
type Output struct {
	RedeemScript  []byte
	WitnessScript []byte
	Unknowns      []*Unknown
}

// NewFromUnsignedTx wraps tx in a packet with empty input and output
// records.
//
// Returns an error with code ErrInvalidFormat if any input already carries
// a scriptSig or witness.
func NewFromUnsignedTx(tx *transaction.Transaction) (*Packet, error) {
	if err := checkUnsigned(tx); err != nil {
		return nil, err
	}

	p := &Packet{
		UnsignedTx: tx,
		Inputs:     make([]*Input, len(tx.Inputs)),
		Outputs:    make([]*Output, len(tx.Outputs)),
	}
	for i := range p.Inputs {
		p.Inputs[i] = NewInput()
	}
	for i := range p.Outputs {
		p.Outputs[i] = &Output{}
	}
	return p, nil
}

// NewInput returns an empty input record.
func NewInput() *Input {
	return &Input{PartialSigs: payments.Signatures{}}
}

func checkUnsigned(tx *transaction.Transaction) error {
	for i, in := range tx.Inputs {
		if len(in.Script) != 0 || len(in.Witness) != 0 {
			return &ParseError{
				Message: fmt.Sprintf("unsigned transaction input %d has "+
					"a scriptSig or witness", i),
			}
		}
	}
	return nil
}

// IsFinalized reports whether the finalizer has assembled this input.
func (in *Input) IsFinalized() bool {
	return in.FinalScriptSig != nil || in.FinalScriptWitness != nil
}

// SortedPubKeys returns the public keys with partial signatures in
// ascending byte order.
func (in *Input) SortedPubKeys() [][]byte {
	keys := make([][]byte, 0, len(in.PartialSigs))
	for k := range in.PartialSigs {
		pk, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	return keys
}

// IsComplete reports whether every input is finalized. A packet without
// inputs is never complete.
func (p *Packet) IsComplete() bool {
	if len(p.Inputs) == 0 {
		return false
	}
	for _, in := range p.Inputs {
		if !in.IsFinalized() {
			return false
		}
	}
	return true
}

// HasSignatures reports whether any input holds a partial signature or has
// been finalized.
func (p *Packet) HasSignatures() bool {
	for _, in := range p.Inputs {
		if len(in.PartialSigs) > 0 || in.IsFinalized() {
			return true
		}
	}
	return false
}

// Modifiable reports whether inputs and outputs may still be appended
// without invalidating collected signatures.
//
// The answer is derived from the hash type byte of every stored signature,
// so it survives serialization and combination. A signature without
// ANYONECANPAY commits to the whole input list; a signature with base type
// ALL commits to the whole output list. NONE and SINGLE signatures do not
// commit to outputs appended after their own index. Finalized inputs freeze
// both lists, since their hash types are no longer recorded.
func (p *Packet) Modifiable() (inputs, outputs bool) {
	inputs, outputs = true, true
	for _, in := range p.Inputs {
		if in.IsFinalized() {
			return false, false
		}
		for _, sig := range in.PartialSigs {
			if len(sig) == 0 {
				continue
			}
			hashType := script.SigHashType(sig[len(sig)-1])
			if !hashType.AnyoneCanPay() {
				inputs = false
			}
			if hashType.Base() == script.SigHashAll {
				outputs = false
			}
		}
	}
	return inputs, outputs
}

// PrevOut returns the output spent by input i, taken from the witness UTXO
// or, failing that, from the full previous transaction.
//
// Returns an error with code ErrMissingUtxo when neither is present.
func (p *Packet) PrevOut(i int) (*transaction.TxOut, error) {
	if i < 0 || i >= len(p.Inputs) {
		return nil, inputRangeErr(i, len(p.Inputs))
	}

	in := p.Inputs[i]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}
	if in.NonWitnessUtxo != nil {
		vout := p.UnsignedTx.Inputs[i].Index
		if int(vout) < len(in.NonWitnessUtxo.Outputs) {
			return in.NonWitnessUtxo.Outputs[vout], nil
		}
	}
	return nil, stateErr(ErrMissingUtxo,
		"no previous output recorded for input %d", i)
}

// Clone returns a deep copy of p.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		UnsignedTx: p.UnsignedTx.Clone(),
		Inputs:     make([]*Input, len(p.Inputs)),
		Outputs:    make([]*Output, len(p.Outputs)),
		Unknowns:   cloneUnknowns(p.Unknowns),
	}
	for i, in := range p.Inputs {
		c.Inputs[i] = in.clone()
	}
	for i, out := range p.Outputs {
		c.Outputs[i] = &Output{
			RedeemScript:  cloneBytes(out.RedeemScript),
			WitnessScript: cloneBytes(out.WitnessScript),
			Unknowns:      cloneUnknowns(out.Unknowns),
		}
	}
	return c
}

func (in *Input) clone() *Input {
	c := &Input{
		PartialSigs:    make(payments.Signatures, len(in.PartialSigs)),
		SighashType:    in.SighashType,
		RedeemScript:   cloneBytes(in.RedeemScript),
		WitnessScript:  cloneBytes(in.WitnessScript),
		FinalScriptSig: cloneBytes(in.FinalScriptSig),
		ScriptType:     in.ScriptType,
		Unknowns:       cloneUnknowns(in.Unknowns),
	}
	if in.NonWitnessUtxo != nil {
		c.NonWitnessUtxo = in.NonWitnessUtxo.Clone()
	}
	if in.WitnessUtxo != nil {
		c.WitnessUtxo = &transaction.TxOut{
			Value:  in.WitnessUtxo.Value,
			Script: cloneBytes(in.WitnessUtxo.Script),
		}
	}
	for k, v := range in.PartialSigs {
		c.PartialSigs[k] = cloneBytes(v)
	}
	if in.FinalScriptWitness != nil {
		c.FinalScriptWitness = make([][]byte, len(in.FinalScriptWitness))
		for i, item := range in.FinalScriptWitness {
			c.FinalScriptWitness[i] = append([]byte{}, item...)
		}
	}
	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func cloneUnknowns(u []*Unknown) []*Unknown {
	if u == nil {
		return nil
	}
	c := make([]*Unknown, len(u))
	for i, kv := range u {
		c[i] = &Unknown{Key: cloneBytes(kv.Key), Value: cloneBytes(kv.Value)}
	}
	return c
}
