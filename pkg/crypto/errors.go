package crypto

import "fmt"

// ErrorCode identifies a class of key or signature failure. It implements
// error so callers can match with errors.Is.
type ErrorCode string

func (c ErrorCode) Error() string {
	return string(c)
}

const (
	ErrInvalidPrivateKey           = ErrorCode("INVALID_PRIVATE_KEY")           // Scalar is zero or not below the curve order
	ErrInvalidPublicKey            = ErrorCode("INVALID_PUBLIC_KEY")            // Bytes are not a point on the curve
	ErrInvalidWIF                  = ErrorCode("INVALID_WIF")                   // Bad checksum, length or suffix
	ErrInvalidEntropyLength        = ErrorCode("INVALID_ENTROPY_LENGTH")        // Custom random source returned the wrong size
	ErrMissingPrivateKey           = ErrorCode("MISSING_PRIVATE_KEY")           // Signing with a public-key-only pair
	ErrInvalidSignature            = ErrorCode("INVALID_SIGNATURE")             // Signature bytes are malformed
	ErrSignatureVerificationFailed = ErrorCode("SIGNATURE_VERIFICATION_FAILED") // Signature does not verify
	ErrNetworkMismatch             = ErrorCode("NETWORK_MISMATCH")              // Version byte matches no candidate network
)

// CryptoError is returned for invalid keys, entropy and signatures.
type CryptoError struct {
	Code    ErrorCode // Error code (e.g., ErrInvalidPrivateKey)
	Message string    // Human-readable error message
	Cause   error     // Underlying error (if any)
}

func (e *CryptoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("crypto error [%s]: %s: %v", e.Code, e.Message,
			e.Cause)
	}
	return fmt.Sprintf("crypto error [%s]: %s", e.Code, e.Message)
}

func (e *CryptoError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the code carried by this error.
func (e *CryptoError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

// NetworkMismatchError is returned when a decoded version byte or address
// prefix belongs to none of the candidate networks.
type NetworkMismatchError struct {
	Version    byte     // Version byte found in the encoding
	Prefix     string   // Bech32 human-readable part, when that was checked
	Candidates []string // Names of the networks that were tried
}

func (e *NetworkMismatchError) Error() string {
	if e.Prefix != "" {
		return fmt.Sprintf("network mismatch: prefix %q matches none of %v",
			e.Prefix, e.Candidates)
	}
	return fmt.Sprintf("network mismatch: version 0x%02x matches none of %v",
		e.Version, e.Candidates)
}

// Is matches ErrNetworkMismatch.
func (e *NetworkMismatchError) Is(target error) bool {
	return target == ErrNetworkMismatch
}

func cryptoErr(code ErrorCode, format string, args ...interface{}) error {
	return &CryptoError{Code: code, Message: fmt.Sprintf(format, args...)}
}
