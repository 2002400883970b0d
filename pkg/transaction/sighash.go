package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/suffix-labs/btc-psbt/pkg/codec"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

// sighashSingleBug is the digest signed when SIGHASH_SINGLE names an input
// with no matching output: the integer one, little-endian.
var sighashSingleBug = [32]byte{0x01}

// SigHashInput describes the input a digest is computed for.
type SigHashInput struct {
	Index int

	// ScriptCode is the script the signature commits to: the previous
	// output script (or redeem script) for legacy spends, the witness
	// script for p2wsh, and the equivalent p2pkh script for p2wpkh.
	ScriptCode []byte

	// Value is the amount of the spent output. It is required when Witness
	// is set.
	Value *int64

	// Witness selects the segwit v0 algorithm.
	Witness bool

	HashType script.SigHashType
}

// SignatureHash computes the digest for in, choosing the legacy or segwit
// v0 algorithm.
//
// Returns an error with code ErrMissingPrevoutValue if a witness input has
// no value, ErrInputOutOfRange for a bad index, and ErrInvalidHashType for
// undefined hash types.
func (tx *Transaction) SignatureHash(in SigHashInput) ([32]byte, error) {
	if in.Witness {
		if in.Value == nil {
			return [32]byte{}, &SighashError{
				Code:       ErrMissingPrevoutValue,
				InputIndex: in.Index,
				Message:    "segwit signature requires the spent output value",
			}
		}
		return tx.HashForWitnessV0(in.Index, in.ScriptCode, *in.Value,
			in.HashType)
	}
	return tx.HashForSignature(in.Index, in.ScriptCode, in.HashType)
}

func (tx *Transaction) checkSighashArgs(idx int,
	hashType script.SigHashType) error {

	if idx < 0 || idx >= len(tx.Inputs) {
		return &SighashError{
			Code:       ErrInputOutOfRange,
			InputIndex: idx,
			Message: fmt.Sprintf("transaction has %d inputs",
				len(tx.Inputs)),
		}
	}
	if !hashType.IsDefined() {
		return &SighashError{
			Code:       ErrInvalidHashType,
			InputIndex: idx,
			Message:    fmt.Sprintf("hash type 0x%x", uint32(hashType)),
		}
	}
	return nil
}

// HashForSignature computes the legacy (pre-segwit) digest of input idx.
//
// A modified copy of the transaction is serialized: every scriptSig is
// emptied except the signed input's, which becomes prevOutScript with
// OP_CODESEPARATOR removed. NONE drops all outputs, SINGLE keeps outputs up
// to idx with the earlier ones blanked, and both zero the other inputs'
// sequences. ANYONECANPAY keeps only the signed input. The hash type is
// appended as four bytes before double hashing.
func (tx *Transaction) HashForSignature(idx int, prevOutScript []byte,
	hashType script.SigHashType) ([32]byte, error) {

	if err := tx.checkSighashArgs(idx, hashType); err != nil {
		return [32]byte{}, err
	}

	base := hashType.Base()
	if base == script.SigHashSingle && idx >= len(tx.Outputs) {
		return sighashSingleBug, nil
	}

	scriptCode, err := script.RemoveOpcode(prevOutScript,
		txscript.OP_CODESEPARATOR)
	if err != nil {
		return [32]byte{}, err
	}

	txCopy := tx.Clone()
	for i, in := range txCopy.Inputs {
		in.Witness = nil
		if i == idx {
			in.Script = scriptCode
		} else {
			in.Script = []byte{}
		}
	}

	switch base {
	case script.SigHashNone:
		txCopy.Outputs = nil
		zeroOtherSequences(txCopy, idx)

	case script.SigHashSingle:
		txCopy.Outputs = txCopy.Outputs[:idx+1]
		for i := 0; i < idx; i++ {
			txCopy.Outputs[i] = &TxOut{Value: -1, Script: []byte{}}
		}
		zeroOtherSequences(txCopy, idx)
	}

	if hashType.AnyoneCanPay() {
		txCopy.Inputs = txCopy.Inputs[idx : idx+1]
	}

	preimage := txCopy.serialize(false)
	w := codec.NewWriter(len(preimage) + 4)
	w.WriteSlice(preimage)
	w.WriteUint32(uint32(hashType))

	log.Tracef("Legacy sighash preimage for input %d: %x", idx, w.Bytes())

	return chainhash.DoubleHashH(w.Bytes()), nil
}

func zeroOtherSequences(tx *Transaction, idx int) {
	for i, in := range tx.Inputs {
		if i != idx {
			in.Sequence = 0
		}
	}
}

// HashForWitnessV0 computes the BIP143 digest of input idx spending value
// satoshis under scriptCode.
func (tx *Transaction) HashForWitnessV0(idx int, scriptCode []byte,
	value int64, hashType script.SigHashType) ([32]byte, error) {

	if err := tx.checkSighashArgs(idx, hashType); err != nil {
		return [32]byte{}, err
	}

	var (
		zero         chainhash.Hash
		hashPrevouts = zero
		hashSequence = zero
		hashOutputs  = zero
		base         = hashType.Base()
	)

	if !hashType.AnyoneCanPay() {
		hashPrevouts = tx.hashPrevouts()
	}
	if !hashType.AnyoneCanPay() && base != script.SigHashSingle &&
		base != script.SigHashNone {

		hashSequence = tx.hashSequence()
	}
	switch {
	case base != script.SigHashSingle && base != script.SigHashNone:
		hashOutputs = tx.hashOutputs(tx.Outputs)
	case base == script.SigHashSingle && idx < len(tx.Outputs):
		hashOutputs = tx.hashOutputs(tx.Outputs[idx : idx+1])
	}

	in := tx.Inputs[idx]

	w := codec.NewWriter(156 + codec.VarBytesSize(scriptCode))
	w.WriteInt32(tx.Version)
	w.WriteSlice(hashPrevouts[:])
	w.WriteSlice(hashSequence[:])
	w.WriteSlice(in.Hash[:])
	w.WriteUint32(in.Index)
	w.WriteVarBytes(scriptCode)
	w.WriteUint64(uint64(value))
	w.WriteUint32(in.Sequence)
	w.WriteSlice(hashOutputs[:])
	w.WriteUint32(tx.Locktime)
	w.WriteUint32(uint32(hashType))

	log.Tracef("Witness v0 sighash preimage for input %d: %x", idx, w.Bytes())

	return chainhash.DoubleHashH(w.Bytes()), nil
}

func (tx *Transaction) hashPrevouts() chainhash.Hash {
	w := codec.NewWriter(36 * len(tx.Inputs))
	for _, in := range tx.Inputs {
		w.WriteSlice(in.Hash[:])
		w.WriteUint32(in.Index)
	}
	return chainhash.DoubleHashH(w.Bytes())
}

func (tx *Transaction) hashSequence() chainhash.Hash {
	w := codec.NewWriter(4 * len(tx.Inputs))
	for _, in := range tx.Inputs {
		w.WriteUint32(in.Sequence)
	}
	return chainhash.DoubleHashH(w.Bytes())
}

func (tx *Transaction) hashOutputs(outputs []*TxOut) chainhash.Hash {
	w := codec.NewWriter(0)
	for _, out := range outputs {
		w.WriteUint64(uint64(out.Value))
		w.WriteVarBytes(out.Script)
	}
	return chainhash.DoubleHashH(w.Bytes())
}

// VerifyInputSignature checks a script signature (DER plus hash type byte)
// by pubKey over the digest described by in. The hash type embedded in the
// signature overrides in.HashType.
func (tx *Transaction) VerifyInputSignature(in SigHashInput, pubKey,
	scriptSig []byte) (bool, error) {

	_, hashType, err := script.DecodeSignature(scriptSig)
	if err != nil {
		return false, err
	}
	in.HashType = hashType

	digest, err := tx.SignatureHash(in)
	if err != nil {
		return false, err
	}
	der := scriptSig[:len(scriptSig)-1]
	return crypto.VerifyDER(pubKey, digest[:], der), nil
}
