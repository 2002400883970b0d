package roles

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// InputSpec describes an output to spend.
type InputSpec struct {
	Hash  chainhash.Hash // Txid of the spent output, internal byte order
	Index uint32         // Output index in that transaction

	// Sequence defaults to transaction.DefaultSequence when nil.
	Sequence *uint32

	// NonWitnessUtxo is the full previous transaction. WitnessUtxo is the
	// spent output alone. At least one is needed before signing; when both
	// are given they must agree.
	NonWitnessUtxo *transaction.Transaction
	WitnessUtxo    *transaction.TxOut

	RedeemScript  []byte // For p2sh outputs
	WitnessScript []byte // For p2wsh outputs

	// ScriptType is the expected template name, e.g. "p2sh-p2wpkh". It is
	// checked against the scripts when the spent output is known, and
	// filled in from them when empty.
	ScriptType string

	// SighashType, when non-zero, is the hash type signers must use.
	SighashType script.SigHashType
}

// Constructor appends inputs and outputs to a packet.
//
// Appending is refused with ErrSignaturesWouldBeInvalidated once a
// collected signature commits to the list being extended. See
// psbt.Packet.Modifiable for the exact rule.
type Constructor struct {
	packet *psbt.Packet
	net    *network.Params
}

// NewConstructor returns a Constructor for p. Addresses and scripts are
// interpreted for net.
func NewConstructor(p *psbt.Packet, net *network.Params) *Constructor {
	if net == nil {
		net = network.Bitcoin
	}
	return &Constructor{packet: p, net: net}
}

// AddInput appends the input described by spec and returns its index.
//
// Returns an error if:
//   - Inputs are no longer modifiable
//   - The outpoint is already spent by this transaction
//   - NonWitnessUtxo does not hash to spec.Hash or lacks output spec.Index
//   - WitnessUtxo and NonWitnessUtxo disagree
//   - The scripts do not match the spent output or the declared type
func (c *Constructor) AddInput(spec *InputSpec) (int, error) {
	p := c.packet
	if inputs, _ := p.Modifiable(); !inputs {
		return 0, stateErr(psbt.ErrSignaturesWouldBeInvalidated,
			"cannot add an input after signatures committing to all "+
				"inputs were collected")
	}

	for i, in := range p.UnsignedTx.Inputs {
		if in.Hash == spec.Hash && in.Index == spec.Index {
			return 0, stateErr(psbt.ErrInvalidInput,
				"outpoint %v:%d already spent by input %d", spec.Hash,
				spec.Index, i)
		}
	}

	input, err := c.newInput(spec)
	if err != nil {
		return 0, err
	}

	sequence := transaction.DefaultSequence
	if spec.Sequence != nil {
		sequence = *spec.Sequence
	}
	index := p.UnsignedTx.AddInput(spec.Hash, spec.Index, sequence, nil)
	p.Inputs = append(p.Inputs, input)

	log.Debugf("Added input %d spending %v:%d (%s)", index, spec.Hash,
		spec.Index, input.ScriptType)

	return index, nil
}

// newInput validates spec and converts it to an input record.
func (c *Constructor) newInput(spec *InputSpec) (*psbt.Input, error) {
	if spec.SighashType != 0 && !spec.SighashType.IsDefined() {
		return nil, stateErr(psbt.ErrInvalidInput,
			"undefined sighash type 0x%x", uint32(spec.SighashType))
	}

	in := psbt.NewInput()
	in.SighashType = spec.SighashType
	in.RedeemScript = cloneScript(spec.RedeemScript)
	in.WitnessScript = cloneScript(spec.WitnessScript)
	in.ScriptType = spec.ScriptType

	err := attachUtxo(in, spec.Hash, spec.Index, spec.NonWitnessUtxo,
		spec.WitnessUtxo)
	if err != nil {
		return nil, err
	}
	if err := resolveScriptType(in, spec.Index, c.net); err != nil {
		return nil, err
	}
	return in, nil
}

// AddOutput appends an output paying value satoshis to pkScript and returns
// its index.
func (c *Constructor) AddOutput(pkScript []byte, value int64) (int, error) {
	p := c.packet
	if value < 0 || value > btcutil.MaxSatoshi {
		return 0, stateErr(psbt.ErrInvalidOutput,
			"value %d outside [0, %d]", value, int64(btcutil.MaxSatoshi))
	}

	if _, outputs := p.Modifiable(); !outputs {
		return 0, stateErr(psbt.ErrSignaturesWouldBeInvalidated,
			"cannot add an output after SIGHASH_ALL signatures were "+
				"collected")
	}
	if err := checkSingleCommitment(p, len(p.Outputs)); err != nil {
		return 0, err
	}

	index := p.UnsignedTx.AddOutput(append([]byte{}, pkScript...), value)
	p.Outputs = append(p.Outputs, &psbt.Output{})

	log.Debugf("Added output %d of %d sat", index, value)

	return index, nil
}

// AddOutputAddress is AddOutput with the script derived from address.
func (c *Constructor) AddOutputAddress(address string, value int64) (int,
	error) {

	pkScript, err := payments.ToOutputScript(address, c.net)
	if err != nil {
		return 0, &psbt.StateError{
			Code:    psbt.ErrInvalidOutput,
			Message: fmt.Sprintf("address %q", address),
			Cause:   err,
		}
	}
	return c.AddOutput(pkScript, value)
}

// checkSingleCommitment refuses a new output at index when input index
// holds a SIGHASH_SINGLE signature. That signature was made over the
// missing-output digest, which the new output would change.
func checkSingleCommitment(p *psbt.Packet, index int) error {
	if index >= len(p.Inputs) {
		return nil
	}
	for _, sig := range p.Inputs[index].PartialSigs {
		if len(sig) == 0 {
			continue
		}
		hashType := script.SigHashType(sig[len(sig)-1])
		if hashType.Base() == script.SigHashSingle {
			return stateErr(psbt.ErrSignaturesWouldBeInvalidated,
				"input %d has a SIGHASH_SINGLE signature without a "+
					"matching output", index)
		}
	}
	return nil
}

// Finish returns the packet with the added inputs and outputs.
func (c *Constructor) Finish() *psbt.Packet {
	return c.packet
}

func cloneScript(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
