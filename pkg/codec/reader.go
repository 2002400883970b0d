package codec

import (
	"encoding/binary"
	"fmt"
)

// Option configures a Reader.
type Option func(*Reader)

// WithStrictVarInt makes the Reader reject compact-size values that are not
// minimally encoded.
func WithStrictVarInt() Option {
	return func(r *Reader) {
		r.strictVarInt = true
	}
}

// Reader decodes values from a byte slice, tracking its offset. Every read
// fails with ErrTruncatedInput when too few bytes remain and leaves the
// offset unchanged.
type Reader struct {
	data         []byte
	offset       int
	strictVarInt bool
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte, opts ...Option) *Reader {
	r := &Reader{data: data}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.offset
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Strict reports whether minimal compact-size encoding is enforced.
func (r *Reader) Strict() bool {
	return r.strictVarInt
}

func (r *Reader) truncated(field string, need int) error {
	return &EncodingError{
		Code:   ErrTruncatedInput,
		Offset: r.offset,
		Message: fmt.Sprintf("%s needs %d bytes, %d remain", field, need,
			r.Remaining()),
	}
}

// ReadSlice returns the next n bytes. The result aliases the input.
func (r *Reader) ReadSlice(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, r.truncated("slice", n)
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.ReadSlice(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadSlice(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadSlice(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadSlice(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadVarInt reads a compact-size integer.
func (r *Reader) ReadVarInt() (uint64, error) {
	start := r.offset
	prefix, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}

	var (
		n     uint64
		floor uint64
	)
	switch prefix {
	case 0xfd:
		v, err := r.ReadUint16()
		if err != nil {
			r.offset = start
			return 0, err
		}
		n, floor = uint64(v), 0xfd
	case 0xfe:
		v, err := r.ReadUint32()
		if err != nil {
			r.offset = start
			return 0, err
		}
		n, floor = uint64(v), 0x10000
	case 0xff:
		v, err := r.ReadUint64()
		if err != nil {
			r.offset = start
			return 0, err
		}
		n, floor = v, 0x100000000
	default:
		return uint64(prefix), nil
	}

	if r.strictVarInt && n < floor {
		r.offset = start
		return 0, &EncodingError{
			Code:   ErrInvalidEncoding,
			Offset: start,
			Message: fmt.Sprintf("non-minimal varint prefix 0x%x for %d",
				prefix, n),
		}
	}
	return n, nil
}

// ReadVarBytes reads a compact-size length followed by that many bytes. The
// returned slice is a copy, never nil.
func (r *Reader) ReadVarBytes() ([]byte, error) {
	start := r.offset
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		err := r.truncated("var bytes", int(min(n, uint64(1<<31-1))))
		r.offset = start
		return nil, err
	}
	b, _ := r.ReadSlice(int(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadVector reads a count-prefixed list of var-bytes items. Each item needs
// at least one byte, which bounds the count before anything is allocated.
func (r *Reader) ReadVector() ([][]byte, error) {
	start := r.offset
	count, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Remaining()) {
		err := r.truncated("vector", int(min(count, uint64(1<<31-1))))
		r.offset = start
		return nil, err
	}

	items := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := r.ReadVarBytes()
		if err != nil {
			r.offset = start
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
