package roles

import (
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Extractor produces the network transaction from a finalized packet.
//
// This is the last role. The result is a fresh transaction; the packet is
// not modified.
type Extractor struct {
	packet *psbt.Packet
}

// NewExtractor returns an Extractor for p.
func NewExtractor(p *psbt.Packet) *Extractor {
	return &Extractor{packet: p}
}

// Extract copies the unsigned transaction and fills in every input's final
// scriptSig and witness.
//
// Returns an error with code ErrNotFullyFinalized if any input is not
// finalized, unless allowIncomplete is set. In that case unfinalized inputs
// are left empty and the result is for inspection only.
func (e *Extractor) Extract(allowIncomplete bool) (*transaction.Transaction,
	error) {

	p := e.packet
	if len(p.Inputs) == 0 && !allowIncomplete {
		return nil, stateErr(psbt.ErrNotFullyFinalized,
			"transaction has no inputs")
	}

	tx := p.UnsignedTx.Clone()
	for i, in := range p.Inputs {
		if !in.IsFinalized() {
			if allowIncomplete {
				continue
			}
			return nil, stateErr(psbt.ErrNotFullyFinalized,
				"input %d is not finalized", i)
		}

		if in.FinalScriptSig != nil {
			tx.Inputs[i].Script = append([]byte{}, in.FinalScriptSig...)
		}
		if len(in.FinalScriptWitness) > 0 {
			tx.Inputs[i].Witness = cloneStack(in.FinalScriptWitness)
		}
	}

	log.Debugf("Extracted transaction %v (%d vbytes)", tx.TxHash(),
		tx.VirtualSize())

	return tx, nil
}

// Fee returns the sum of spent output values minus the sum of output
// values. Every input's spent output must be known.
func (e *Extractor) Fee() (int64, error) {
	p := e.packet

	var in int64
	for i := range p.Inputs {
		prevOut, err := p.PrevOut(i)
		if err != nil {
			return 0, err
		}
		in += prevOut.Value
	}

	var out int64
	for _, txOut := range p.UnsignedTx.Outputs {
		out += txOut.Value
	}
	return in - out, nil
}
