package codec

import "fmt"

// ErrorCode identifies a class of encoding failure. It implements error so
// callers can match with errors.Is against the exported codes.
type ErrorCode string

func (c ErrorCode) Error() string {
	return string(c)
}

const (
	ErrTruncatedInput  = ErrorCode("TRUNCATED_INPUT")  // Fewer bytes remain than a field requires
	ErrInvalidEncoding = ErrorCode("INVALID_ENCODING") // Bytes are present but malformed
)

// EncodingError is returned when bytes cannot be decoded.
type EncodingError struct {
	Code    ErrorCode // ErrTruncatedInput or ErrInvalidEncoding
	Offset  int       // Byte offset at which decoding failed
	Message string    // Human-readable error message
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error [%s] at offset %d: %s", e.Code, e.Offset,
		e.Message)
}

// Is reports whether target is the code carried by this error.
func (e *EncodingError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}
