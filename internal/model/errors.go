package model

import "errors"

// ErrorCode classifies input and pipeline failures.
type ErrorCode string

const (
	CodeInvalidFormat   ErrorCode = "InvalidFormat"
	CodeNoTextContent   ErrorCode = "NoTextContent"
	CodeCorruptInput    ErrorCode = "CorruptInput"
	CodeNoSheets        ErrorCode = "NoSheets"
	CodeUnsupportedType ErrorCode = "UnsupportedType"
	CodeEmptyUpload     ErrorCode = "EmptyUpload"
	CodeTooLarge        ErrorCode = "TooLarge"
	CodeAIUnavailable   ErrorCode = "AIUnavailable"
	CodeAIRejected      ErrorCode = "AIRejected"
	CodeInternal        ErrorCode = "Internal"
)

// CodedError carries an ErrorCode alongside an optional cause.
type CodedError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// NewCodedError creates a CodedError without a cause.
func NewCodedError(code ErrorCode, msg string) *CodedError {
	return &CodedError{Code: code, Message: msg}
}

// WrapCoded creates a CodedError around err.
func WrapCoded(err error, code ErrorCode, msg string) *CodedError {
	return &CodedError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first CodedError in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
