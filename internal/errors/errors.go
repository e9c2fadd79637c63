package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeRetrieval     ErrorType = "Retrieval"
	ErrorTypeFilter        ErrorType = "Filter"
	ErrorTypeNotModified   ErrorType = "NotModified"
	ErrorTypeJobPolicy     ErrorType = "JobPolicy"
	ErrorTypeIO            ErrorType = "IO"
	ErrorTypeProcess       ErrorType = "Process"
	ErrorTypeConfiguration ErrorType = "Configuration"
	ErrorTypeValidation    ErrorType = "Validation"
	ErrorTypeStorage       ErrorType = "Storage"
)

// VahtiError is an error with a category and optional guidance for the user
type VahtiError struct {
	Type      ErrorType
	Message   string
	Cause     string
	Solutions []string
	Help      string
	Err       error
}

// Error implements the error interface
func (e *VahtiError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

// Unwrap returns the wrapped error
func (e *VahtiError) Unwrap() error {
	return e.Err
}

// Detail renders the error with its cause and guidance on separate lines
func (e *VahtiError) Detail() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Error()))

	if e.Cause != "" {
		sb.WriteString(fmt.Sprintf("Cause: %s\n", e.Cause))
	}

	if len(e.Solutions) > 0 {
		sb.WriteString("\nSolutions:\n")
		for _, solution := range e.Solutions {
			sb.WriteString(fmt.Sprintf("  %s\n", solution))
		}
	}

	if e.Help != "" {
		sb.WriteString(fmt.Sprintf("Help: %s\n", e.Help))
	}

	return sb.String()
}

// Format implements fmt.Formatter for custom formatting
func (e *VahtiError) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprintf(f, "%s", e.Error())
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "[%s] %s", e.Type, e.Error())
		} else {
			fmt.Fprintf(f, "%s", e.Error())
		}
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}

// New creates a new VahtiError
func New(errType ErrorType, message string) *VahtiError {
	return &VahtiError{
		Type:    errType,
		Message: message,
	}
}

// Wrap creates a VahtiError around an existing error
func Wrap(errType ErrorType, err error, message string) *VahtiError {
	return &VahtiError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// WithCause adds cause information
func (e *VahtiError) WithCause(cause string) *VahtiError {
	e.Cause = cause
	return e
}

// WithSolutions adds solution steps
func (e *VahtiError) WithSolutions(solutions ...string) *VahtiError {
	e.Solutions = append(e.Solutions, solutions...)
	return e
}

// WithHelp adds help command
func (e *VahtiError) WithHelp(help string) *VahtiError {
	e.Help = help
	return e
}

// TypeOf returns the category of the first VahtiError in the chain, or "" if there is none
func TypeOf(err error) ErrorType {
	var vErr *VahtiError
	if stderrors.As(err, &vErr) {
		return vErr.Type
	}
	return ""
}

// Is checks whether err carries a VahtiError of the given category
func Is(err error, errType ErrorType) bool {
	for err != nil {
		var vErr *VahtiError
		if !stderrors.As(err, &vErr) {
			return false
		}
		if vErr.Type == errType {
			return true
		}
		err = vErr.Err
	}
	return false
}

// IsNotModified checks whether err signals that the source confirmed its content is unchanged
func IsNotModified(err error) bool {
	return Is(err, ErrorTypeNotModified)
}

// IsUserError checks if error requires user action
func IsUserError(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConfiguration, ErrorTypeValidation:
		return true
	default:
		return false
	}
}

// GetExitCode returns appropriate exit code for error type
func GetExitCode(err error) int {
	switch TypeOf(err) {
	case ErrorTypeConfiguration:
		return 78 // EX_CONFIG
	case ErrorTypeValidation:
		return 65 // EX_DATAERR
	case ErrorTypeIO:
		return 74 // EX_IOERR
	case ErrorTypeStorage:
		return 73 // EX_CANTCREAT
	case ErrorTypeRetrieval:
		return 69 // EX_UNAVAILABLE
	case ErrorTypeProcess:
		return 71 // EX_OSERR
	default:
		return 1
	}
}
