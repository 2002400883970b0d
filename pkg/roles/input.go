package roles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

func stateErr(code psbt.ErrorCode, format string, args ...interface{}) error {
	return &psbt.StateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func checkInputIndex(p *psbt.Packet, index int) error {
	if index < 0 || index >= len(p.Inputs) {
		return stateErr(psbt.ErrIndexOutOfRange,
			"input %d out of range (have %d)", index, len(p.Inputs))
	}
	return nil
}

// resolveInput decodes the output spent by input index together with its
// redeem and witness scripts, checked against the declared script type.
func resolveInput(p *psbt.Packet, index int,
	net *network.Params) (*payments.Payment, *transaction.TxOut, error) {

	prevOut, err := p.PrevOut(index)
	if err != nil {
		return nil, nil, err
	}

	in := p.Inputs[index]
	pay, err := payments.ResolveNamed(in.ScriptType, prevOut.Script,
		in.RedeemScript, in.WitnessScript, net)
	if err != nil {
		return nil, nil, &psbt.StateError{
			Code:    psbt.ErrInvalidInput,
			Message: fmt.Sprintf("input %d scripts", index),
			Cause:   err,
		}
	}
	return pay, prevOut, nil
}

// sigHashInput describes the digest a signature for input index commits to.
func sigHashInput(p *psbt.Packet, index int, hashType script.SigHashType,
	net *network.Params) (transaction.SigHashInput, *payments.Payment, error) {

	pay, prevOut, err := resolveInput(p, index, net)
	switch {
	case errors.Is(err, psbt.ErrMissingUtxo) && declaresWitness(p.Inputs[index]):
		return transaction.SigHashInput{}, nil, &psbt.StateError{
			Code:    psbt.ErrMissingUtxo,
			Message: fmt.Sprintf("no previous output recorded for "+
				"input %d", index),
			Cause: &transaction.SighashError{
				Code:       transaction.ErrMissingPrevoutValue,
				InputIndex: index,
				Message:    "segwit signature requires the spent output value",
			},
		}
	case err != nil:
		return transaction.SigHashInput{}, nil, err
	}

	scriptCode, witness, err := pay.ScriptCode()
	if err != nil {
		return transaction.SigHashInput{}, nil, &psbt.StateError{
			Code:    psbt.ErrInvalidInput,
			Message: fmt.Sprintf("input %d cannot be signed", index),
			Cause:   err,
		}
	}

	value := prevOut.Value
	return transaction.SigHashInput{
		Index:      index,
		ScriptCode: scriptCode,
		Value:      &value,
		Witness:    witness,
		HashType:   hashType,
	}, pay, nil
}

// declaresWitness reports whether the input's scripts or declared type
// put its unlocking data in the witness.
func declaresWitness(in *psbt.Input) bool {
	if len(in.WitnessScript) > 0 {
		return true
	}
	for _, part := range strings.Split(in.ScriptType, "-") {
		switch payments.Type(part) {
		case payments.P2WPKH, payments.P2WSH:
			return true
		}
	}
	return false
}
