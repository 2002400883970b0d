// Package script holds the script-level primitives shared by the payment
// templates and the signature hash engine: data pushes, decompilation,
// signature hash types and script signatures.
//
// Opcode values, canonical push selection and tokenization come from btcd's
// txscript package.
package script

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/suffix-labs/btc-psbt/pkg/codec"
)

// Chunk is one decompiled script element. Data is nil for non-push opcodes
// and non-nil (possibly empty) for pushes.
type Chunk struct {
	Op   byte
	Data []byte
}

// IsPush reports whether the chunk pushes data, including OP_0.
func (c Chunk) IsPush() bool {
	return c.Data != nil
}

// Builder assembles scripts from opcodes and minimal data pushes.
type Builder struct {
	b *txscript.ScriptBuilder
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{b: txscript.NewScriptBuilder()}
}

// AddOp appends a single opcode.
func (b *Builder) AddOp(op byte) *Builder {
	b.b.AddOp(op)
	return b
}

// AddData appends a minimal push of data. Empty data becomes OP_0 and single
// bytes 1..16 and 0x81 become their small-integer opcodes. A single zero byte
// is pushed as data so that it stays distinct from the empty vector.
func (b *Builder) AddData(data []byte) *Builder {
	if len(data) == 1 && data[0] == 0 {
		b.b.AddOps([]byte{txscript.OP_DATA_1, 0x00})
		return b
	}
	b.b.AddData(data)
	return b
}

// AddInt appends a small integer 0..16 as its opcode.
func (b *Builder) AddInt(n int) *Builder {
	b.b.AddInt64(int64(n))
	return b
}

// Script returns the assembled script or the first error hit while adding to
// it, such as a push larger than the script element limit.
func (b *Builder) Script() ([]byte, error) {
	return b.b.Script()
}

// PushAll compiles a stack of data items into a push-only script.
func PushAll(items [][]byte) ([]byte, error) {
	b := NewBuilder()
	for _, item := range items {
		b.AddData(item)
	}
	return b.Script()
}

// Decompile splits a script into chunks.
//
// Returns an error with code codec.ErrInvalidEncoding if a push runs past
// the end of the script.
func Decompile(script []byte) ([]Chunk, error) {
	var chunks []Chunk
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		chunk := Chunk{Op: op}
		if op <= txscript.OP_PUSHDATA4 {
			chunk.Data = append([]byte{}, tokenizer.Data()...)
		}
		chunks = append(chunks, chunk)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Offset:  int(tokenizer.ByteIndex()),
			Message: fmt.Sprintf("malformed script: %v", err),
		}
	}
	return chunks, nil
}

// IsPushOnly reports whether script parses and contains only pushes
// (including the small-integer opcodes).
func IsPushOnly(script []byte) bool {
	chunks, err := Decompile(script)
	if err != nil {
		return false
	}
	for _, c := range chunks {
		if c.Op > txscript.OP_16 {
			return false
		}
	}
	return true
}

// PushedData returns the data items of a push-only script, mapping
// OP_1NEGATE and OP_1..OP_16 to their single-byte values.
func PushedData(script []byte) ([][]byte, error) {
	chunks, err := Decompile(script)
	if err != nil {
		return nil, err
	}

	items := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		switch {
		case c.IsPush():
			items = append(items, c.Data)
		case c.Op == txscript.OP_1NEGATE:
			items = append(items, []byte{0x81})
		case c.Op >= txscript.OP_1 && c.Op <= txscript.OP_16:
			items = append(items, []byte{c.Op - txscript.OP_1 + 1})
		default:
			return nil, &codec.EncodingError{
				Code:    codec.ErrInvalidEncoding,
				Message: fmt.Sprintf("opcode 0x%02x is not a push", c.Op),
			}
		}
	}
	return items, nil
}

// RemoveOpcode returns script with every occurrence of op removed. Other
// elements keep their original encoding.
func RemoveOpcode(script []byte, op byte) ([]byte, error) {
	out := make([]byte, 0, len(script))
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	prev := int32(0)
	for tokenizer.Next() {
		end := tokenizer.ByteIndex()
		if tokenizer.Opcode() != op {
			out = append(out, script[prev:end]...)
		}
		prev = end
	}
	if err := tokenizer.Err(); err != nil {
		return nil, &codec.EncodingError{
			Code:    codec.ErrInvalidEncoding,
			Offset:  int(prev),
			Message: fmt.Sprintf("malformed script: %v", err),
		}
	}
	return out, nil
}

// SmallInt decodes OP_0 and OP_1..OP_16 to their integer value.
func SmallInt(op byte) (int, bool) {
	switch {
	case op == txscript.OP_0:
		return 0, true
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return int(op-txscript.OP_1) + 1, true
	}
	return 0, false
}

// Disasm renders script in the one-line assembly form used by bitcoind.
func Disasm(script []byte) string {
	s, err := txscript.DisasmString(script)
	if err != nil {
		return s + " [error]"
	}
	return s
}
