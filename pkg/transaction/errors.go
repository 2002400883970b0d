package transaction

import "fmt"

// ErrorCode identifies a class of signature hash failure. It implements
// error so callers can match with errors.Is.
type ErrorCode string

func (c ErrorCode) Error() string {
	return string(c)
}

const (
	ErrMissingPrevoutValue = ErrorCode("MISSING_PREVOUT_VALUE") // Witness input signed without its spent value
	ErrInputOutOfRange     = ErrorCode("INPUT_OUT_OF_RANGE")    // Input index beyond the input list
	ErrInvalidHashType     = ErrorCode("INVALID_HASH_TYPE")     // Hash type outside ALL/NONE/SINGLE(|ANYONECANPAY)
)

// SighashError is returned when a signature digest cannot be computed.
type SighashError struct {
	Code       ErrorCode // Error code (e.g., ErrMissingPrevoutValue)
	InputIndex int       // Index of the input being hashed
	Message    string    // Human-readable error message
}

func (e *SighashError) Error() string {
	return fmt.Sprintf("sighash error [%s] for input %d: %s", e.Code,
		e.InputIndex, e.Message)
}

// Is reports whether target is the code carried by this error.
func (e *SighashError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}
