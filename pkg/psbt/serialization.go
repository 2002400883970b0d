package psbt

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/suffix-labs/btc-psbt/pkg/codec"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// MagicBytes prefixes every serialized packet.
var MagicBytes = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

// Record types.
const (
	globalUnsignedTx byte = 0x00

	inputNonWitnessUtxo     byte = 0x00
	inputWitnessUtxo        byte = 0x01
	inputPartialSig         byte = 0x02
	inputSighashType        byte = 0x03
	inputRedeemScript       byte = 0x04
	inputWitnessScript      byte = 0x05
	inputFinalScriptSig     byte = 0x07
	inputFinalScriptWitness byte = 0x08

	outputRedeemScript  byte = 0x00
	outputWitnessScript byte = 0x01

	proprietaryType byte = 0xfc
)

// ProprietaryIdentifier prefixes the proprietary records written by this
// package.
const ProprietaryIdentifier = "btcpsbt"

// Proprietary subtypes under ProprietaryIdentifier.
const (
	subtypeScriptType = 0x00
)

// Serialize encodes p. Records are written in type order, partial
// signatures by ascending public key, so equal packets encode to equal
// bytes.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Inputs) != len(p.UnsignedTx.Inputs) ||
		len(p.Outputs) != len(p.UnsignedTx.Outputs) {

		return nil, stateErr(ErrInvalidState,
			"packet has %d/%d input/output records for a %d/%d transaction",
			len(p.Inputs), len(p.Outputs), len(p.UnsignedTx.Inputs),
			len(p.UnsignedTx.Outputs))
	}
	if err := checkUnsigned(p.UnsignedTx); err != nil {
		return nil, err
	}

	w := codec.NewWriter(0)
	w.WriteSlice(MagicBytes)

	writeRecord(w, []byte{globalUnsignedTx}, p.UnsignedTx.SerializeNoWitness())
	writeUnknowns(w, p.Unknowns)
	w.WriteUint8(0x00)

	for _, in := range p.Inputs {
		encodeInput(w, in)
	}
	for _, out := range p.Outputs {
		encodeOutput(w, out)
	}

	return w.Bytes(), nil
}

// B64Encode returns the base64 form of Serialize.
func (p *Packet) B64Encode() (string, error) {
	b, err := p.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func writeRecord(w *codec.Writer, key, value []byte) {
	w.WriteVarBytes(key)
	w.WriteVarBytes(value)
}

func writeUnknowns(w *codec.Writer, unknowns []*Unknown) {
	for _, kv := range unknowns {
		writeRecord(w, kv.Key, kv.Value)
	}
}

func encodeTxOut(out *transaction.TxOut) []byte {
	w := codec.NewWriter(8 + codec.VarBytesSize(out.Script))
	w.WriteUint64(uint64(out.Value))
	w.WriteVarBytes(out.Script)
	return w.Bytes()
}

func proprietaryKey(subtype uint64, keyData []byte) []byte {
	w := codec.NewWriter(0)
	w.WriteUint8(proprietaryType)
	w.WriteVarBytes([]byte(ProprietaryIdentifier))
	w.WriteVarInt(subtype)
	w.WriteSlice(keyData)
	return w.Bytes()
}

func encodeInput(w *codec.Writer, in *Input) {
	if in.NonWitnessUtxo != nil {
		writeRecord(w, []byte{inputNonWitnessUtxo},
			in.NonWitnessUtxo.Serialize())
	}
	if in.WitnessUtxo != nil {
		writeRecord(w, []byte{inputWitnessUtxo}, encodeTxOut(in.WitnessUtxo))
	}

	for _, pubKey := range in.SortedPubKeys() {
		sig, _ := in.PartialSigs.Get(pubKey)
		key := append([]byte{inputPartialSig}, pubKey...)
		writeRecord(w, key, sig)
	}

	if in.SighashType != 0 {
		v := codec.NewWriter(4)
		v.WriteUint32(uint32(in.SighashType))
		writeRecord(w, []byte{inputSighashType}, v.Bytes())
	}
	if in.RedeemScript != nil {
		writeRecord(w, []byte{inputRedeemScript}, in.RedeemScript)
	}
	if in.WitnessScript != nil {
		writeRecord(w, []byte{inputWitnessScript}, in.WitnessScript)
	}
	if in.FinalScriptSig != nil {
		writeRecord(w, []byte{inputFinalScriptSig}, in.FinalScriptSig)
	}
	if in.FinalScriptWitness != nil {
		v := codec.NewWriter(codec.VectorSize(in.FinalScriptWitness))
		v.WriteVector(in.FinalScriptWitness)
		writeRecord(w, []byte{inputFinalScriptWitness}, v.Bytes())
	}
	if in.ScriptType != "" {
		writeRecord(w, proprietaryKey(subtypeScriptType, nil),
			[]byte(in.ScriptType))
	}

	writeUnknowns(w, in.Unknowns)
	w.WriteUint8(0x00)
}

func encodeOutput(w *codec.Writer, out *Output) {
	if out.RedeemScript != nil {
		writeRecord(w, []byte{outputRedeemScript}, out.RedeemScript)
	}
	if out.WitnessScript != nil {
		writeRecord(w, []byte{outputWitnessScript}, out.WitnessScript)
	}
	writeUnknowns(w, out.Unknowns)
	w.WriteUint8(0x00)
}

// NewFromBase64 decodes a base64 packet.
func NewFromBase64(s string, opts ...codec.Option) (*Packet, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &ParseError{Message: "invalid base64", Cause: err}
	}
	return Parse(b, opts...)
}

// Parse decodes a serialized packet.
//
// Returns a *ParseError (matching ErrInvalidFormat) for bad magic bytes,
// duplicate keys, malformed records, a missing or signed unsigned
// transaction, a previous transaction that does not hash to the spent
// txid, and trailing bytes. Codec failures are wrapped and stay reachable
// through errors.Is.
func Parse(b []byte, opts ...codec.Option) (*Packet, error) {
	if !bytes.HasPrefix(b, MagicBytes) {
		return nil, &ParseError{Message: "invalid magic bytes"}
	}

	r := codec.NewReader(b[len(MagicBytes):], opts...)
	p, err := decodePacket(r, opts)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, &ParseError{
			Message: fmt.Sprintf("%d trailing bytes", r.Remaining()),
		}
	}

	log.Tracef("Decoded packet: %v", newLogClosure(func() string {
		return spew.Sdump(p)
	}))
	return p, nil
}

type record struct {
	key   []byte
	value []byte
}

// readMap reads records up to the 0x00 separator, rejecting repeated keys.
func readMap(r *codec.Reader, what string) ([]record, error) {
	var (
		records []record
		seen    = make(map[string]struct{})
	)
	for {
		key, err := r.ReadVarBytes()
		if err != nil {
			return nil, &ParseError{
				Message: fmt.Sprintf("reading %s key", what),
				Cause:   err,
			}
		}
		if len(key) == 0 {
			return records, nil
		}

		if _, dup := seen[string(key)]; dup {
			return nil, &ParseError{
				Message: fmt.Sprintf("duplicate %s key %x", what, key),
			}
		}
		seen[string(key)] = struct{}{}

		value, err := r.ReadVarBytes()
		if err != nil {
			return nil, &ParseError{
				Message: fmt.Sprintf("reading %s value for key %x", what,
					key),
				Cause: err,
			}
		}
		records = append(records, record{key: key, value: value})
	}
}

func decodePacket(r *codec.Reader, opts []codec.Option) (*Packet, error) {
	globals, err := readMap(r, "global")
	if err != nil {
		return nil, err
	}

	p := &Packet{}
	for _, rec := range globals {
		if rec.key[0] == globalUnsignedTx && len(rec.key) == 1 {
			tx, err := transaction.ParseNoWitness(rec.value, opts...)
			if err != nil {
				return nil, &ParseError{
					Message: "invalid unsigned transaction",
					Cause:   err,
				}
			}
			p.UnsignedTx = tx
			continue
		}
		p.Unknowns = append(p.Unknowns, &Unknown{
			Key:   rec.key,
			Value: rec.value,
		})
	}

	if p.UnsignedTx == nil {
		return nil, &ParseError{Message: "missing unsigned transaction"}
	}
	if err := checkUnsigned(p.UnsignedTx); err != nil {
		return nil, err
	}

	p.Inputs = make([]*Input, len(p.UnsignedTx.Inputs))
	for i := range p.Inputs {
		records, err := readMap(r, fmt.Sprintf("input %d", i))
		if err != nil {
			return nil, err
		}
		in, err := decodeInput(records, opts)
		if err != nil {
			return nil, &ParseError{
				Message: fmt.Sprintf("input %d", i),
				Cause:   err,
			}
		}

		if in.NonWitnessUtxo != nil &&
			in.NonWitnessUtxo.TxHash() != p.UnsignedTx.Inputs[i].Hash {

			return nil, &ParseError{
				Message: fmt.Sprintf("input %d: previous transaction "+
					"does not match outpoint", i),
			}
		}
		p.Inputs[i] = in
	}

	p.Outputs = make([]*Output, len(p.UnsignedTx.Outputs))
	for i := range p.Outputs {
		records, err := readMap(r, fmt.Sprintf("output %d", i))
		if err != nil {
			return nil, err
		}
		p.Outputs[i] = decodeOutput(records)
	}

	return p, nil
}

func decodeInput(records []record, opts []codec.Option) (*Input, error) {
	in := NewInput()

	for _, rec := range records {
		keyType, keyData := rec.key[0], rec.key[1:]

		switch {
		case keyType == inputNonWitnessUtxo && len(keyData) == 0:
			tx, err := transaction.Parse(rec.value, opts...)
			if err != nil {
				return nil, err
			}
			in.NonWitnessUtxo = tx

		case keyType == inputWitnessUtxo && len(keyData) == 0:
			vr := codec.NewReader(rec.value, opts...)
			value, err := vr.ReadUint64()
			if err != nil {
				return nil, err
			}
			pkScript, err := vr.ReadVarBytes()
			if err != nil {
				return nil, err
			}
			if vr.Remaining() != 0 {
				return nil, fmt.Errorf("witness utxo has trailing bytes")
			}
			in.WitnessUtxo = &transaction.TxOut{
				Value:  int64(value),
				Script: pkScript,
			}

		case keyType == inputPartialSig:
			if !script.IsCanonicalPubKey(keyData) {
				return nil, fmt.Errorf("partial signature key %x is not "+
					"a public key", keyData)
			}
			if !script.IsCanonicalScriptSignature(rec.value) {
				return nil, fmt.Errorf("partial signature for %x is not "+
					"a DER signature with hash type", keyData)
			}
			in.PartialSigs[fmt.Sprintf("%x", keyData)] = rec.value

		case keyType == inputSighashType && len(keyData) == 0:
			vr := codec.NewReader(rec.value)
			v, err := vr.ReadUint32()
			if err != nil || vr.Remaining() != 0 {
				return nil, fmt.Errorf("sighash type must be 4 bytes")
			}
			in.SighashType = script.SigHashType(v)

		case keyType == inputRedeemScript && len(keyData) == 0:
			in.RedeemScript = rec.value

		case keyType == inputWitnessScript && len(keyData) == 0:
			in.WitnessScript = rec.value

		case keyType == inputFinalScriptSig && len(keyData) == 0:
			in.FinalScriptSig = rec.value

		case keyType == inputFinalScriptWitness && len(keyData) == 0:
			vr := codec.NewReader(rec.value, opts...)
			items, err := vr.ReadVector()
			if err != nil {
				return nil, err
			}
			if vr.Remaining() != 0 {
				return nil, fmt.Errorf("final witness has trailing bytes")
			}
			in.FinalScriptWitness = items

		case keyType == proprietaryType && isScriptTypeKey(keyData):
			in.ScriptType = string(rec.value)

		default:
			in.Unknowns = append(in.Unknowns, &Unknown{
				Key:   rec.key,
				Value: rec.value,
			})
		}
	}

	return in, nil
}

// isScriptTypeKey reports whether a proprietary key carries our identifier
// and the script type subtype with no further key data.
func isScriptTypeKey(keyData []byte) bool {
	r := codec.NewReader(keyData)
	id, err := r.ReadVarBytes()
	if err != nil || string(id) != ProprietaryIdentifier {
		return false
	}
	subtype, err := r.ReadVarInt()
	return err == nil && subtype == subtypeScriptType && r.Remaining() == 0
}

func decodeOutput(records []record) *Output {
	out := &Output{}
	for _, rec := range records {
		switch {
		case rec.key[0] == outputRedeemScript && len(rec.key) == 1:
			out.RedeemScript = rec.value
		case rec.key[0] == outputWitnessScript && len(rec.key) == 1:
			out.WitnessScript = rec.value
		default:
			out.Unknowns = append(out.Unknowns, &Unknown{
				Key:   rec.key,
				Value: rec.value,
			})
		}
	}
	return out
}
