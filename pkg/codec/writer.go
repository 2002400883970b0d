// Package codec implements the fixed-width and variable-length encodings
// shared by transactions and partially signed transactions.
//
// All integers are little-endian. Variable-length integers use Bitcoin's
// compact-size form:
//
//	n < 0xfd          1 byte
//	n <= 0xffff       0xfd || uint16
//	n <= 0xffffffff   0xfe || uint32
//	otherwise         0xff || uint64
package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/wire"
)

// Writer accumulates an encoding in memory. Writes to the underlying buffer
// cannot fail, so the methods return nothing.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns a Writer with capacity for sizeHint bytes.
func NewWriter(sizeHint int) *Writer {
	w := &Writer{}
	w.buf.Grow(sizeHint)
	return w
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteSlice writes b with no length prefix.
func (w *Writer) WriteSlice(b []byte) {
	w.buf.Write(b)
}

// WriteVarInt writes n in compact-size form.
func (w *Writer) WriteVarInt(n uint64) {
	// A bytes.Buffer never returns a write error.
	_ = wire.WriteVarInt(&w.buf, 0, n)
}

// WriteVarBytes writes b prefixed with its compact-size length.
func (w *Writer) WriteVarBytes(b []byte) {
	_ = wire.WriteVarBytes(&w.buf, 0, b)
}

// WriteVector writes a count-prefixed list of var-bytes items, the layout
// used for witness stacks.
func (w *Writer) WriteVector(items [][]byte) {
	w.WriteVarInt(uint64(len(items)))
	for _, item := range items {
		w.WriteVarBytes(item)
	}
}

// VarIntSize returns the encoded length of n in compact-size form.
func VarIntSize(n uint64) int {
	return wire.VarIntSerializeSize(n)
}

// VarBytesSize returns the encoded length of b including its prefix.
func VarBytesSize(b []byte) int {
	return VarIntSize(uint64(len(b))) + len(b)
}

// VectorSize returns the encoded length of items as written by WriteVector.
func VectorSize(items [][]byte) int {
	size := VarIntSize(uint64(len(items)))
	for _, item := range items {
		size += VarBytesSize(item)
	}
	return size
}

// EncodeVarInt returns n in compact-size form.
func EncodeVarInt(n uint64) []byte {
	w := NewWriter(9)
	w.WriteVarInt(n)
	return w.Bytes()
}
