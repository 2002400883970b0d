package payments

import "fmt"

// ErrorCode identifies a class of template failure. It implements error so
// callers can match with errors.Is.
type ErrorCode string

func (c ErrorCode) Error() string {
	return string(c)
}

const (
	ErrInvalidParameters      = ErrorCode("INVALID_PARAMETERS")      // Semantically invalid template construction
	ErrUnknownTemplate        = ErrorCode("UNKNOWN_TEMPLATE")        // Script bytes match no known template
	ErrInsufficientSignatures = ErrorCode("INSUFFICIENT_SIGNATURES") // Fewer signatures than the template requires
)

// TemplateError is returned when a payment cannot be built, recognized or
// spent.
type TemplateError struct {
	Code     ErrorCode // Error code (e.g., ErrInvalidParameters)
	Template Type      // Template involved, empty if unknown
	Message  string    // Human-readable error message
}

func (e *TemplateError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("template error [%s] %s: %s", e.Code, e.Template,
			e.Message)
	}
	return fmt.Sprintf("template error [%s]: %s", e.Code, e.Message)
}

// Is reports whether target is the code carried by this error.
func (e *TemplateError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

func invalidParams(t Type, format string, args ...interface{}) error {
	return &TemplateError{
		Code:     ErrInvalidParameters,
		Template: t,
		Message:  fmt.Sprintf(format, args...),
	}
}
