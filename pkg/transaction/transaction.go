// Package transaction implements the Bitcoin transaction model, its legacy
// and segregated-witness serializations, and the signature hash algorithms.
//
// Byte layout (all integers little-endian):
//
//	version      int32
//	[marker 0x00, flag 0x01]    only when some input has a witness
//	inputs       compact-size count, then per input:
//	               prev hash (32) | prev index (4) | var-bytes script | sequence (4)
//	outputs      compact-size count, then per output:
//	               value (8) | var-bytes script
//	[witnesses]  per input: compact-size item count, then var-bytes items
//	locktime     uint32
//
// The txid is the double SHA-256 of the serialization without marker, flag
// and witnesses. The wtxid covers the full serialization.
package transaction

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/suffix-labs/btc-psbt/pkg/codec"
)

const (
	// DefaultSequence disables relative lock-time and replace-by-fee.
	DefaultSequence uint32 = 0xffffffff

	// witnessScaleFactor weighs base bytes against witness bytes.
	witnessScaleFactor = 4

	witnessMarker byte = 0x00
	witnessFlag   byte = 0x01
)

// TxIn spends a previous output. Script is never nil; Witness is nil when
// the input has no witness items.
type TxIn struct {
	Hash     chainhash.Hash // Previous txid in internal byte order
	Index    uint32
	Script   []byte
	Sequence uint32
	Witness  [][]byte
}

// TxOut locks Value satoshis to Script.
type TxOut struct {
	Value  int64
	Script []byte
}

// Transaction is a mutable Bitcoin transaction. The builder and the PSBT
// roles own their transactions exclusively; values handed to callers are
// clones.
type Transaction struct {
	Version  int32
	Inputs   []*TxIn
	Outputs  []*TxOut
	Locktime uint32
}

// New returns an empty version 2 transaction.
func New() *Transaction {
	return &Transaction{Version: 2}
}

// AddInput appends an input spending hash:index and returns its position.
// A nil script becomes the empty script.
func (tx *Transaction) AddInput(hash chainhash.Hash, index uint32,
	sequence uint32, script []byte) int {

	if script == nil {
		script = []byte{}
	}
	tx.Inputs = append(tx.Inputs, &TxIn{
		Hash:     hash,
		Index:    index,
		Script:   script,
		Sequence: sequence,
	})
	return len(tx.Inputs) - 1
}

// AddOutput appends an output and returns its position.
func (tx *Transaction) AddOutput(script []byte, value int64) int {
	if script == nil {
		script = []byte{}
	}
	tx.Outputs = append(tx.Outputs, &TxOut{Value: value, Script: script})
	return len(tx.Outputs) - 1
}

// HasWitnesses reports whether any input carries witness data, which
// selects the segwit serialization.
func (tx *Transaction) HasWitnesses() bool {
	for _, in := range tx.Inputs {
		if len(in.Witness) != 0 {
			return true
		}
	}
	return false
}

// IsCoinbase reports whether tx has the single null-outpoint input of a
// coinbase transaction.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Index == 0xffffffff &&
		tx.Inputs[0].Hash == chainhash.Hash{}
}

func (tx *Transaction) byteLength(allowWitness bool) int {
	n := 8 + codec.VarIntSize(uint64(len(tx.Inputs))) +
		codec.VarIntSize(uint64(len(tx.Outputs)))

	for _, in := range tx.Inputs {
		n += 40 + codec.VarBytesSize(in.Script)
	}
	for _, out := range tx.Outputs {
		n += 8 + codec.VarBytesSize(out.Script)
	}

	if allowWitness && tx.HasWitnesses() {
		n += 2
		for _, in := range tx.Inputs {
			n += codec.VectorSize(in.Witness)
		}
	}
	return n
}

// ByteLength returns the size of the full serialization.
func (tx *Transaction) ByteLength() int {
	return tx.byteLength(true)
}

// Weight returns the BIP141 weight: base size times three plus total size.
func (tx *Transaction) Weight() int {
	base := tx.byteLength(false)
	total := tx.byteLength(true)
	return base*(witnessScaleFactor-1) + total
}

// VirtualSize returns the weight divided by four, rounded up.
func (tx *Transaction) VirtualSize() int {
	return (tx.Weight() + witnessScaleFactor - 1) / witnessScaleFactor
}

// Serialize returns the network serialization, using the segwit form when
// any input has witness data.
func (tx *Transaction) Serialize() []byte {
	return tx.serialize(true)
}

// SerializeNoWitness returns the legacy serialization that the txid
// commits to.
func (tx *Transaction) SerializeNoWitness() []byte {
	return tx.serialize(false)
}

func (tx *Transaction) serialize(allowWitness bool) []byte {
	withWitness := allowWitness && tx.HasWitnesses()

	w := codec.NewWriter(tx.byteLength(allowWitness))
	w.WriteInt32(tx.Version)
	if withWitness {
		w.WriteUint8(witnessMarker)
		w.WriteUint8(witnessFlag)
	}

	w.WriteVarInt(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		w.WriteSlice(in.Hash[:])
		w.WriteUint32(in.Index)
		w.WriteVarBytes(in.Script)
		w.WriteUint32(in.Sequence)
	}

	w.WriteVarInt(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		w.WriteUint64(uint64(out.Value))
		w.WriteVarBytes(out.Script)
	}

	if withWitness {
		for _, in := range tx.Inputs {
			w.WriteVector(in.Witness)
		}
	}

	w.WriteUint32(tx.Locktime)
	return w.Bytes()
}

// ToHex returns the hex encoding of Serialize.
func (tx *Transaction) ToHex() string {
	return hex.EncodeToString(tx.Serialize())
}

// TxHash returns the txid in internal byte order.
func (tx *Transaction) TxHash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.serialize(false))
}

// WitnessHash returns the wtxid. It equals TxHash for transactions without
// witness data.
func (tx *Transaction) WitnessHash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.serialize(true))
}

// TxID returns the txid in the reversed hex form used by block explorers
// and RPC interfaces.
func (tx *Transaction) TxID() string {
	return tx.TxHash().String()
}

// Clone returns a deep copy of tx.
func (tx *Transaction) Clone() *Transaction {
	c := &Transaction{
		Version:  tx.Version,
		Locktime: tx.Locktime,
	}
	if tx.Inputs != nil {
		c.Inputs = make([]*TxIn, len(tx.Inputs))
	}
	if tx.Outputs != nil {
		c.Outputs = make([]*TxOut, len(tx.Outputs))
	}
	for i, in := range tx.Inputs {
		c.Inputs[i] = &TxIn{
			Hash:     in.Hash,
			Index:    in.Index,
			Script:   append([]byte{}, in.Script...),
			Sequence: in.Sequence,
			Witness:  cloneWitness(in.Witness),
		}
	}
	for i, out := range tx.Outputs {
		c.Outputs[i] = &TxOut{
			Value:  out.Value,
			Script: append([]byte{}, out.Script...),
		}
	}
	return c
}

func cloneWitness(w [][]byte) [][]byte {
	if len(w) == 0 {
		return nil
	}
	c := make([][]byte, len(w))
	for i, item := range w {
		c[i] = append([]byte{}, item...)
	}
	return c
}

// FromHex parses a hex-encoded transaction.
func FromHex(s string, opts ...codec.Option) (*Transaction, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Message: fmt.Sprintf("invalid hex: %v", err),
		}
	}
	return Parse(b, opts...)
}

// Parse decodes a serialized transaction in either form. The whole buffer
// must be consumed.
//
// Returns a *codec.EncodingError with code ErrTruncatedInput when the
// bytes end early, and ErrInvalidEncoding for trailing bytes, an unknown
// segwit flag, or a segwit serialization whose witnesses are all empty.
func Parse(b []byte, opts ...codec.Option) (*Transaction, error) {
	return parseAll(b, true, opts)
}

// ParseNoWitness decodes a legacy serialization. A zero input count is read
// as such rather than as the segwit marker, which is how unsigned
// transactions without inputs are exchanged.
func ParseNoWitness(b []byte, opts ...codec.Option) (*Transaction, error) {
	return parseAll(b, false, opts)
}

func parseAll(b []byte, allowWitness bool,
	opts []codec.Option) (*Transaction, error) {

	r := codec.NewReader(b, opts...)
	tx, err := parse(r, allowWitness)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Offset:  r.Offset(),
			Message: fmt.Sprintf("%d trailing bytes", r.Remaining()),
		}
	}
	return tx, nil
}

func parse(r *codec.Reader, allowWitness bool) (*Transaction, error) {
	tx := &Transaction{}

	var err error
	if tx.Version, err = r.ReadInt32(); err != nil {
		return nil, err
	}

	inCount, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}

	// A zero input count is the segwit marker; the flag follows.
	segwit := false
	if allowWitness && inCount == 0 && r.Remaining() > 0 {
		flagOffset := r.Offset()
		flag, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		if flag != witnessFlag {
			return nil, &codec.EncodingError{
				Code:    codec.ErrInvalidEncoding,
				Offset:  flagOffset,
				Message: fmt.Sprintf("unknown segwit flag 0x%02x", flag),
			}
		}
		segwit = true
		if inCount, err = r.ReadVarInt(); err != nil {
			return nil, err
		}
	}

	// Every input needs at least 41 bytes and every output 9, which caps
	// the counts before any allocation.
	if inCount > uint64(r.Remaining()/41) {
		return nil, &codec.EncodingError{
			Code:    codec.ErrTruncatedInput,
			Offset:  r.Offset(),
			Message: fmt.Sprintf("input count %d exceeds remaining data", inCount),
		}
	}
	// Empty lists stay nil, matching New.
	if inCount > 0 {
		tx.Inputs = make([]*TxIn, 0, inCount)
	}
	for i := uint64(0); i < inCount; i++ {
		in, err := parseInput(r)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	outCount, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if outCount > uint64(r.Remaining()/9) {
		return nil, &codec.EncodingError{
			Code:    codec.ErrTruncatedInput,
			Offset:  r.Offset(),
			Message: fmt.Sprintf("output count %d exceeds remaining data", outCount),
		}
	}
	if outCount > 0 {
		tx.Outputs = make([]*TxOut, 0, outCount)
	}
	for i := uint64(0); i < outCount; i++ {
		value, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		script, err := r.ReadVarBytes()
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, &TxOut{
			Value:  int64(value),
			Script: script,
		})
	}

	if segwit {
		witnessOffset := r.Offset()
		for _, in := range tx.Inputs {
			items, err := r.ReadVector()
			if err != nil {
				return nil, err
			}
			if len(items) > 0 {
				in.Witness = items
			}
		}
		if !tx.HasWitnesses() {
			return nil, &codec.EncodingError{
				Code:    codec.ErrInvalidEncoding,
				Offset:  witnessOffset,
				Message: "superfluous witness record",
			}
		}
	}

	if tx.Locktime, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	return tx, nil
}

func parseInput(r *codec.Reader) (*TxIn, error) {
	in := &TxIn{}

	hash, err := r.ReadSlice(chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	copy(in.Hash[:], hash)

	if in.Index, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if in.Script, err = r.ReadVarBytes(); err != nil {
		return nil, err
	}
	if in.Sequence, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	return in, nil
}
