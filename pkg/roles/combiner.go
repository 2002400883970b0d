package roles

import (
	"bytes"
	"sort"

	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Combiner merges copies of one packet signed by different parties.
//
// Every record present in any copy ends up in the result. Two copies that
// disagree on a record (different signatures for one key, different
// scripts, different spent outputs) are rejected with ErrConflictingData.
//
// An input finalized in any copy is final in the result: its final
// scriptSig and witness are kept, and the signing data of the other copies
// is dropped without being compared. The result therefore does not depend
// on the order of the copies. Combining is commutative, associative and
// idempotent.
type Combiner struct {
	packets []*psbt.Packet
}

// NewCombiner returns a Combiner over packets. The packets themselves are
// never modified.
func NewCombiner(packets ...*psbt.Packet) *Combiner {
	return &Combiner{packets: packets}
}

// Combine returns the merged packet.
//
// The first packet is cloned and every other packet is merged into the
// clone, map by map and record by record. A single packet yields a copy
// of itself.
//
// Returns:
//   - A new packet holding the union of the records of every copy
//
// Returns an error if:
//   - No packets were given (ErrInvalidState)
//   - The unsigned transactions differ (ErrIncompatibleTransactions)
//   - Two packets carry contradicting records (ErrConflictingData)
func (c *Combiner) Combine() (*psbt.Packet, error) {
	if len(c.packets) == 0 {
		return nil, stateErr(psbt.ErrInvalidState, "no packets to combine")
	}

	// Step 1: Check every copy against the first. Finalization is judged
	// over the whole set, never over a partial merge.
	for _, p := range c.packets[1:] {
		if err := c.validateCompatible(c.packets[0], p); err != nil {
			return nil, err
		}
	}
	finalized := c.finalizedInputs()

	// Step 2: Merge each copy into a clone of the first
	result := c.packets[0].Clone()
	for i := 1; i < len(c.packets); i++ {
		if err := c.mergeInto(result, c.packets[i], finalized); err != nil {
			return nil, err
		}
	}

	// Step 3: Drop the signing data of inputs final in any copy
	for i, in := range result.Inputs {
		if finalized[i] {
			clearSigningData(in)
		}
	}

	log.Debugf("Combined %d packets", len(c.packets))

	return result, nil
}

// finalizedInputs reports, per input, whether any copy has finalized it.
func (c *Combiner) finalizedInputs() []bool {
	finalized := make([]bool, len(c.packets[0].Inputs))
	for _, p := range c.packets {
		for i, in := range p.Inputs {
			finalized[i] = finalized[i] || in.IsFinalized()
		}
	}
	return finalized
}

// mergeInto merges src into dst. Inputs marked in finalized take the final
// scriptSig and witness of whichever copy finalized them; their partial
// signing data is dropped rather than merged.
func (c *Combiner) mergeInto(dst, src *psbt.Packet, finalized []bool) error {
	unknowns, err := mergeUnknowns(dst.Unknowns, src.Unknowns)
	if err != nil {
		return err
	}
	dst.Unknowns = unknowns

	for i := range dst.Inputs {
		err := mergeInput(i, dst.Inputs[i], src.Inputs[i], finalized[i])
		if err != nil {
			return err
		}
	}
	for i := range dst.Outputs {
		if err := mergeOutput(i, dst.Outputs[i], src.Outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateCompatible checks that both packets describe the same unsigned
// transaction, byte for byte.
func (c *Combiner) validateCompatible(a, b *psbt.Packet) error {
	aTx := a.UnsignedTx.SerializeNoWitness()
	bTx := b.UnsignedTx.SerializeNoWitness()
	if !bytes.Equal(aTx, bTx) {
		return stateErr(psbt.ErrIncompatibleTransactions,
			"unsigned transactions differ: %v != %v", a.UnsignedTx.TxHash(),
			b.UnsignedTx.TxHash())
	}
	if len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return stateErr(psbt.ErrIncompatibleTransactions,
			"record counts differ")
	}
	return nil
}

func mergeInput(index int, dst, src *psbt.Input, finalized bool) error {
	conflict := func(field string) error {
		return stateErr(psbt.ErrConflictingData,
			"input %d: conflicting %s", index, field)
	}

	switch {
	case src.NonWitnessUtxo == nil:
	case dst.NonWitnessUtxo == nil:
		dst.NonWitnessUtxo = src.NonWitnessUtxo.Clone()
	case !bytes.Equal(dst.NonWitnessUtxo.Serialize(),
		src.NonWitnessUtxo.Serialize()):

		return conflict("previous transactions")
	}

	switch {
	case src.WitnessUtxo == nil:
	case dst.WitnessUtxo == nil:
		dst.WitnessUtxo = &transaction.TxOut{
			Value:  src.WitnessUtxo.Value,
			Script: append([]byte{}, src.WitnessUtxo.Script...),
		}
	case dst.WitnessUtxo.Value != src.WitnessUtxo.Value ||
		!bytes.Equal(dst.WitnessUtxo.Script, src.WitnessUtxo.Script):

		return conflict("witness utxos")
	}

	var err error
	if !finalized {
		if err := mergeSigningData(index, dst, src); err != nil {
			return err
		}
	}

	if dst.FinalScriptSig, err = mergeScript(dst.FinalScriptSig,
		src.FinalScriptSig); err != nil {

		return conflict("final scriptSigs")
	}

	switch {
	case src.FinalScriptWitness == nil:
	case dst.FinalScriptWitness == nil:
		dst.FinalScriptWitness = cloneStack(src.FinalScriptWitness)
	case !equalStacks(dst.FinalScriptWitness, src.FinalScriptWitness):
		return conflict("final witnesses")
	}

	switch {
	case src.ScriptType == "":
	case dst.ScriptType == "":
		dst.ScriptType = src.ScriptType
	case dst.ScriptType != src.ScriptType:
		return conflict("script types")
	}

	unknowns, err := mergeUnknowns(dst.Unknowns, src.Unknowns)
	if err != nil {
		return stateErr(psbt.ErrConflictingData, "input %d: %v", index, err)
	}
	dst.Unknowns = unknowns
	return nil
}

// mergeSigningData merges the partial signatures, hash type and scripts of
// an input that no copy has finalized.
func mergeSigningData(index int, dst, src *psbt.Input) error {
	conflict := func(field string) error {
		return stateErr(psbt.ErrConflictingData,
			"input %d: conflicting %s", index, field)
	}

	for pubKey, sig := range src.PartialSigs {
		existing, ok := dst.PartialSigs[pubKey]
		if ok && !bytes.Equal(existing, sig) {
			return stateErr(psbt.ErrConflictingData,
				"input %d: conflicting signatures for key %s", index, pubKey)
		}
		dst.PartialSigs[pubKey] = append([]byte{}, sig...)
	}

	switch {
	case src.SighashType == 0:
	case dst.SighashType == 0:
		dst.SighashType = src.SighashType
	case dst.SighashType != src.SighashType:
		return conflict("sighash types")
	}

	var err error
	if dst.RedeemScript, err = mergeScript(dst.RedeemScript,
		src.RedeemScript); err != nil {

		return conflict("redeem scripts")
	}
	if dst.WitnessScript, err = mergeScript(dst.WitnessScript,
		src.WitnessScript); err != nil {

		return conflict("witness scripts")
	}
	return nil
}

func mergeOutput(index int, dst, src *psbt.Output) error {
	var err error
	if dst.RedeemScript, err = mergeScript(dst.RedeemScript,
		src.RedeemScript); err != nil {

		return stateErr(psbt.ErrConflictingData,
			"output %d: conflicting redeem scripts", index)
	}
	if dst.WitnessScript, err = mergeScript(dst.WitnessScript,
		src.WitnessScript); err != nil {

		return stateErr(psbt.ErrConflictingData,
			"output %d: conflicting witness scripts", index)
	}

	unknowns, err := mergeUnknowns(dst.Unknowns, src.Unknowns)
	if err != nil {
		return stateErr(psbt.ErrConflictingData, "output %d: %v", index, err)
	}
	dst.Unknowns = unknowns
	return nil
}

// mergeScript returns whichever of a and b is set, failing if both are set
// and differ.
func mergeScript(a, b []byte) ([]byte, error) {
	switch {
	case b == nil:
		return a, nil
	case a == nil:
		return append([]byte{}, b...), nil
	case !bytes.Equal(a, b):
		return nil, psbt.ErrConflictingData
	}
	return a, nil
}

// mergeUnknowns returns the union of two record lists sorted by key, so the
// result is the same in either argument order. A key with two different
// values is a conflict.
func mergeUnknowns(a, b []*psbt.Unknown) ([]*psbt.Unknown, error) {
	if len(a)+len(b) == 0 {
		return a, nil
	}

	byKey := make(map[string]*psbt.Unknown, len(a)+len(b))
	for _, kv := range a {
		byKey[string(kv.Key)] = kv
	}
	for _, kv := range b {
		existing, ok := byKey[string(kv.Key)]
		if ok && !bytes.Equal(existing.Value, kv.Value) {
			return nil, stateErr(psbt.ErrConflictingData,
				"conflicting values for key %x", kv.Key)
		}
		if !ok {
			byKey[string(kv.Key)] = &psbt.Unknown{
				Key:   append([]byte{}, kv.Key...),
				Value: append([]byte{}, kv.Value...),
			}
		}
	}

	merged := make([]*psbt.Unknown, 0, len(byKey))
	for _, kv := range byKey {
		merged = append(merged, kv)
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].Key, merged[j].Key) < 0
	})
	return merged, nil
}

func cloneStack(stack [][]byte) [][]byte {
	c := make([][]byte, len(stack))
	for i, item := range stack {
		c[i] = append([]byte{}, item...)
	}
	return c
}

func equalStacks(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
