package psbt

import "fmt"

// ErrorCode identifies a class of packet failure. It implements error so
// callers can match with errors.Is.
type ErrorCode string

func (c ErrorCode) Error() string {
	return string(c)
}

// Error codes used throughout the packet roles and builder.
const (
	ErrInvalidFormat                = ErrorCode("INVALID_PSBT_FORMAT")             // Bytes are not a valid packet
	ErrInvalidState                 = ErrorCode("INVALID_STATE")                   // Operation not legal in the current state
	ErrIndexOutOfRange              = ErrorCode("INDEX_OUT_OF_RANGE")              // Input or output index does not exist
	ErrMissingUtxo                  = ErrorCode("MISSING_UTXO")                    // Spent output unknown for an input
	ErrInvalidInput                 = ErrorCode("INVALID_INPUT")                   // Input metadata is inconsistent
	ErrInvalidOutput                = ErrorCode("INVALID_OUTPUT")                  // Output value or script is invalid
	ErrSignaturesWouldBeInvalidated = ErrorCode("SIGNATURES_WOULD_BE_INVALIDATED") // Mutation conflicts with collected signatures
	ErrIncompatibleTransactions     = ErrorCode("INCOMPATIBLE_TRANSACTIONS")       // Combining packets for different transactions
	ErrConflictingData              = ErrorCode("CONFLICTING_DATA")                // Combining packets with contradicting records
	ErrCannotFinalize               = ErrorCode("CANNOT_FINALIZE")                 // Signatures do not satisfy the template
	ErrNotFullyFinalized            = ErrorCode("NOT_FULLY_FINALIZED")             // Extracting before every input is final
	ErrNoMatchingInput              = ErrorCode("NO_MATCHING_INPUT")               // No input can be signed by the given key
)

// StateError is returned when an operation is not legal for the packet's
// current contents.
type StateError struct {
	Code    ErrorCode // Error code (e.g., ErrCannotFinalize)
	Message string    // Human-readable error message
	Cause   error     // Underlying error (if any)
}

func (e *StateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("psbt error [%s]: %s: %v", e.Code, e.Message,
			e.Cause)
	}
	return fmt.Sprintf("psbt error [%s]: %s", e.Code, e.Message)
}

func (e *StateError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the code carried by this error.
func (e *StateError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

func stateErr(code ErrorCode, format string, args ...interface{}) error {
	return &StateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func inputRangeErr(i, n int) error {
	return stateErr(ErrIndexOutOfRange, "input %d out of range (have %d)",
		i, n)
}

// SignatureError is returned when signing one input fails. Signatures
// already collected for other inputs are unaffected.
type SignatureError struct {
	InputIndex int    // Index of the input being signed
	Message    string // Human-readable error message
	Cause      error  // Underlying signer, sighash or verification error
}

func (e *SignatureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signature error at input %d: %s: %v",
			e.InputIndex, e.Message, e.Cause)
	}
	return fmt.Sprintf("signature error at input %d: %s", e.InputIndex,
		e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// ParseError is returned when packet bytes cannot be decoded. It matches
// ErrInvalidFormat and unwraps to the codec error, if any.
type ParseError struct {
	Message string // Human-readable error message
	Cause   error  // Underlying decode error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrInvalidFormat.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidFormat
}
