// Package api provides the high-level workflow functions used by the
// btc-psbt command line tool.
//
// Every function takes and returns packets as base64 text, so each step
// can run in a different process or on a different machine:
//
//  1. CreatePSBT - Builds a packet from inputs, outputs and payment URIs
//  2. SignPSBT - Adds the signatures a WIF key can make
//  3. CombinePSBTs - Merges copies signed by different parties
//  4. FinalizePSBT - Assembles final scriptSigs and witnesses
//  5. ExtractTransaction - Produces the raw network transaction
//  6. DecodePSBT - Summarizes a packet for review before signing
//  7. NewKey - Generates a key with its addresses
package api

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/suffix-labs/btc-psbt/pkg/bip21"
	"github.com/suffix-labs/btc-psbt/pkg/builder"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/roles"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Input is an output to spend.
type Input struct {
	TxID     string  // Transaction ID in display (reversed) hex
	Vout     uint32  // Output index
	Sequence *uint32 // Sequence number (nil = 0xFFFFFFFF)

	// The spent output, either as the full previous transaction (raw hex)
	// or as value and script. At least one is needed for signing.
	PrevTx       string
	Value        btcutil.Amount
	ScriptPubKey []byte

	RedeemScript  []byte             // P2SH redeem script
	WitnessScript []byte             // P2WSH witness script
	ScriptType    string             // Declared template, e.g. "p2sh-p2wpkh"
	SighashType   script.SigHashType // Required hash type, 0 = any
}

// Output is a payment to create. Exactly one of Address and ScriptPubKey
// is set.
type Output struct {
	Address      string
	ScriptPubKey []byte
	Value        btcutil.Amount
}

// Proposal describes a transaction to build.
type Proposal struct {
	Inputs  []Input
	Outputs []Output

	// PaymentURIs are BIP 21 requests, each adding one output. A request
	// without an amount is rejected.
	PaymentURIs []string

	Version  int32  // Transaction version (0 = 2)
	LockTime uint32 // nLockTime
}

// ============================================================================
// CreatePSBT
// ============================================================================

// CreatePSBT builds an unsigned packet from a proposal.
//
// Parameters:
//   - proposal: Inputs, outputs and transaction fields
//   - net: Network for addresses and URIs
//
// Returns:
//   - Base64 packet, ready to hand to signers
//   - Error if any input or output is invalid
func CreatePSBT(proposal *Proposal, net *network.Params) (string, error) {
	opts := []builder.Option{
		builder.WithNetwork(net),
		builder.WithLockTime(proposal.LockTime),
	}
	if proposal.Version != 0 {
		opts = append(opts, builder.WithVersion(proposal.Version))
	}
	b := builder.New(opts...)

	for i, in := range proposal.Inputs {
		spec, err := inputSpec(&in)
		if err != nil {
			return "", fmt.Errorf("input %d: %w", i, err)
		}
		if _, err := b.AddInput(spec); err != nil {
			return "", fmt.Errorf("failed to add input %d: %w", i, err)
		}
	}

	for i, out := range proposal.Outputs {
		var err error
		switch {
		case out.Address != "" && out.ScriptPubKey != nil:
			err = fmt.Errorf("both address and script given")
		case out.Address != "":
			_, err = b.AddOutputAddress(out.Address, int64(out.Value))
		default:
			_, err = b.AddOutput(out.ScriptPubKey, int64(out.Value))
		}
		if err != nil {
			return "", fmt.Errorf("failed to add output %d: %w", i, err)
		}
	}

	for _, uri := range proposal.PaymentURIs {
		req, err := bip21.Parse(uri, net)
		if err != nil {
			return "", err
		}
		if req.Amount == nil {
			return "", fmt.Errorf("payment request %q has no amount", uri)
		}
		_, err = b.AddOutputAddress(req.Address, int64(*req.Amount))
		if err != nil {
			return "", fmt.Errorf("failed to add output for %q: %w", uri,
				err)
		}
	}

	return b.ToBase64()
}

// inputSpec converts the text form of an input.
func inputSpec(in *Input) (*roles.InputSpec, error) {
	hash, err := chainhash.NewHashFromStr(in.TxID)
	if err != nil {
		return nil, fmt.Errorf("invalid txid: %w", err)
	}

	spec := &roles.InputSpec{
		Hash:          *hash,
		Index:         in.Vout,
		Sequence:      in.Sequence,
		RedeemScript:  in.RedeemScript,
		WitnessScript: in.WitnessScript,
		ScriptType:    in.ScriptType,
		SighashType:   in.SighashType,
	}

	if in.PrevTx != "" {
		prevTx, err := transaction.FromHex(in.PrevTx)
		if err != nil {
			return nil, fmt.Errorf("invalid previous transaction: %w", err)
		}
		spec.NonWitnessUtxo = prevTx
	}
	if in.ScriptPubKey != nil {
		spec.WitnessUtxo = &transaction.TxOut{
			Value:  int64(in.Value),
			Script: in.ScriptPubKey,
		}
	}
	return spec, nil
}

// ============================================================================
// SignPSBT
// ============================================================================

// SignPSBT signs every input the key can spend.
//
// Parameters:
//   - psbtB64: Base64 packet
//   - wif: Private key in wallet import format for net
//   - hashType: Hash type, 0 for each input's declared type or ALL
//   - lowR: Grind for low-R signatures
//
// Returns:
//   - Base64 packet with the new signatures
//   - Indexes of the signed inputs
//   - Error if the key matches no input or a signature fails. Signatures
//     made before the failure are kept in the returned packet.
func SignPSBT(psbtB64, wif string, hashType script.SigHashType, lowR bool,
	net *network.Params) (string, []int, error) {

	key, err := crypto.FromWIF(wif, net)
	if err != nil {
		return "", nil, fmt.Errorf("invalid key: %w", err)
	}
	defer key.Zero()

	b, err := builder.FromBase64(psbtB64, builder.WithNetwork(net),
		builder.WithLowR(lowR))
	if err != nil {
		return "", nil, fmt.Errorf("invalid PSBT: %w", err)
	}

	signed, signErr := b.SignAllInputs(key, hashType)
	if len(signed) == 0 {
		return "", nil, fmt.Errorf("signing failed: %w", signErr)
	}

	encoded, err := b.ToBase64()
	if err != nil {
		return "", nil, err
	}
	return encoded, signed, signErr
}

// ============================================================================
// CombinePSBTs
// ============================================================================

// CombinePSBTs merges packets for the same unsigned transaction. The order
// of the packets does not affect the result.
func CombinePSBTs(psbts []string) (string, error) {
	if len(psbts) == 0 {
		return "", fmt.Errorf("no PSBTs to combine")
	}

	builders := make([]*builder.Builder, len(psbts))
	for i, encoded := range psbts {
		b, err := builder.FromBase64(encoded)
		if err != nil {
			return "", fmt.Errorf("invalid PSBT %d: %w", i, err)
		}
		builders[i] = b
	}

	if err := builders[0].Combine(builders[1:]...); err != nil {
		return "", fmt.Errorf("combination failed: %w", err)
	}
	return builders[0].ToBase64()
}

// ============================================================================
// FinalizePSBT / ExtractTransaction
// ============================================================================

// FinalizeResult is the outcome of FinalizePSBT.
type FinalizeResult struct {
	PSBT     string // Base64 packet with every finalizable input finalized
	Complete bool   // Whether every input is now final

	// Pending holds, per input left unfinalized, the reason it could not
	// be finalized: payments.ErrInsufficientSignatures when signatures are
	// still missing, another psbt.ErrCannotFinalize cause (for example a
	// signature that does not verify) otherwise.
	Pending map[int]error
}

// FinalizePSBT finalizes every input that has enough signatures.
//
// An input that cannot be finalized yet is not an error; it is listed in
// Pending with the reason and left as it was, so the caller can collect
// more signatures and try again.
func FinalizePSBT(psbtB64 string, net *network.Params) (*FinalizeResult,
	error) {

	b, err := builder.FromBase64(psbtB64, builder.WithNetwork(net))
	if err != nil {
		return nil, fmt.Errorf("invalid PSBT: %w", err)
	}

	pending := make(map[int]error)
	for i := 0; i < b.InputCount(); i++ {
		if err := b.FinalizeInput(i); err != nil {
			pending[i] = err
		}
	}

	encoded, err := b.ToBase64()
	if err != nil {
		return nil, err
	}
	return &FinalizeResult{
		PSBT:     encoded,
		Complete: b.State() == builder.Finalized,
		Pending:  pending,
	}, nil
}

// ExtractTransaction finalizes the packet and returns the raw transaction
// hex, ready to broadcast.
//
// With allowIncomplete set, unfinalized inputs are left empty and the
// result is for inspection only.
func ExtractTransaction(psbtB64 string, allowIncomplete bool,
	net *network.Params) (string, error) {

	b, err := builder.FromBase64(psbtB64, builder.WithNetwork(net))
	if err != nil {
		return "", fmt.Errorf("invalid PSBT: %w", err)
	}

	if err := b.FinalizeAllInputs(); err != nil && !allowIncomplete {
		return "", fmt.Errorf("finalization failed: %w", err)
	}

	tx, err := b.Extract(allowIncomplete)
	if err != nil {
		return "", fmt.Errorf("transaction extraction failed: %w", err)
	}
	return tx.ToHex(), nil
}

// ============================================================================
// DecodePSBT
// ============================================================================

// Summary describes a packet for review.
type Summary struct {
	TxID     string          `json:"txid"`
	Version  int32           `json:"version"`
	LockTime uint32          `json:"locktime"`
	State    string          `json:"state"`
	Inputs   []InputSummary  `json:"inputs"`
	Outputs  []OutputSummary `json:"outputs"`

	// Fee is nil when a spent output is unknown.
	Fee *btcutil.Amount `json:"fee,omitempty"`
}

// InputSummary describes one input.
type InputSummary struct {
	Outpoint   string          `json:"outpoint"`
	Value      *btcutil.Amount `json:"value,omitempty"`
	ScriptType string          `json:"script_type,omitempty"`
	Signatures int             `json:"signatures"`
	Finalized  bool            `json:"finalized"`
}

// OutputSummary describes one output. Address is empty for scripts
// without an address form.
type OutputSummary struct {
	Value   btcutil.Amount `json:"value"`
	Address string         `json:"address,omitempty"`
	Script  string         `json:"script"`
}

// DecodePSBT summarizes a packet.
func DecodePSBT(psbtB64 string, net *network.Params) (*Summary, error) {
	b, err := builder.FromBase64(psbtB64, builder.WithNetwork(net))
	if err != nil {
		return nil, fmt.Errorf("invalid PSBT: %w", err)
	}

	p := b.Packet()
	tx := p.UnsignedTx
	summary := &Summary{
		TxID:     tx.TxID(),
		Version:  tx.Version,
		LockTime: tx.Locktime,
		State:    b.State().String(),
		Inputs:   make([]InputSummary, len(p.Inputs)),
		Outputs:  make([]OutputSummary, len(p.Outputs)),
	}

	for i, in := range p.Inputs {
		txIn := tx.Inputs[i]
		s := InputSummary{
			Outpoint:   fmt.Sprintf("%v:%d", txIn.Hash, txIn.Index),
			ScriptType: in.ScriptType,
			Signatures: len(in.PartialSigs),
			Finalized:  in.IsFinalized(),
		}
		if prevOut, err := p.PrevOut(i); err == nil {
			value := btcutil.Amount(prevOut.Value)
			s.Value = &value
		}
		summary.Inputs[i] = s
	}

	for i, out := range tx.Outputs {
		address, _ := payments.FromOutputScript(out.Script, net)
		summary.Outputs[i] = OutputSummary{
			Value:   btcutil.Amount(out.Value),
			Address: address,
			Script:  hex.EncodeToString(out.Script),
		}
	}

	if fee, err := b.Fee(); err == nil {
		amount := btcutil.Amount(fee)
		summary.Fee = &amount
	}
	return summary, nil
}

// ============================================================================
// NewKey
// ============================================================================

// KeyInfo is a generated key with the addresses it controls.
type KeyInfo struct {
	WIF        string `json:"wif"`
	PublicKey  string `json:"public_key"`
	P2PKH      string `json:"p2pkh"`
	P2WPKH     string `json:"p2wpkh,omitempty"`
	P2SHP2WPKH string `json:"p2sh_p2wpkh,omitempty"`
}

// NewKey generates a random key for net. Segwit addresses are only listed
// for compressed keys.
func NewKey(net *network.Params, compressed bool) (*KeyInfo, error) {
	key, err := crypto.MakeRandom(crypto.WithNetwork(net),
		crypto.WithCompressed(compressed))
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	wif, err := key.ToWIF()
	if err != nil {
		return nil, err
	}
	info := &KeyInfo{
		WIF:       wif,
		PublicKey: hex.EncodeToString(key.PublicKey()),
	}

	p2pkh, err := payments.NewP2PKH(key.PublicKey(), net)
	if err != nil {
		return nil, err
	}
	if info.P2PKH, err = p2pkh.Address(); err != nil {
		return nil, err
	}
	if !compressed {
		return info, nil
	}

	p2wpkh, err := payments.NewP2WPKH(key.PublicKey(), net)
	if err != nil {
		return nil, err
	}
	if info.P2WPKH, err = p2wpkh.Address(); err != nil {
		return nil, err
	}
	nested, err := payments.NewP2SH(p2wpkh, net)
	if err != nil {
		return nil, err
	}
	if info.P2SHP2WPKH, err = nested.Address(); err != nil {
		return nil, err
	}
	return info, nil
}

// ParsePaymentRequest parses a BIP 21 payment request URI for net.
func ParsePaymentRequest(uri string, net *network.Params) (
	*bip21.PaymentRequest, error) {

	return bip21.Parse(uri, net)
}
