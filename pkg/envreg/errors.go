package envreg

import (
	"errors"
	"net/http"
)

// ErrorCode classifies user-facing registry errors.
type ErrorCode string

const (
	CodeAuthenticationFailed    ErrorCode = "AUTHENTICATION_FAILED"
	CodeNamespaceNotRegistered  ErrorCode = "NAMESPACE_NOT_REGISTERED"
	CodeAlreadyRegistered       ErrorCode = "ALREADY_REGISTERED"
	CodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	CodeMalformedVersion        ErrorCode = "MALFORMED_VERSION"
	CodeDependenciesMissing     ErrorCode = "DEPENDENCIES_MISSING"
	CodeInvalidDependencyPrefix ErrorCode = "INVALID_DEPENDENCY_PREFIX"
	CodeVersionAlreadyExists    ErrorCode = "VERSION_ALREADY_EXISTS"
	CodeDuplicateBundleType     ErrorCode = "DUPLICATE_BUNDLE_TYPE"
	CodeNotFound                ErrorCode = "NOT_FOUND"
	CodeConcurrentRegistration  ErrorCode = "CONCURRENT_REGISTRATION"
	CodeNotImplemented          ErrorCode = "NOT_IMPLEMENTED"
)

// RegistryError is a caller-caused failure. Its message is safe to return
// to clients. Any error that is not a RegistryError is a system error.
type RegistryError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *RegistryError) Error() string {
	return e.Message
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Is matches any RegistryError with the same code, so errors.Is(err,
// ErrNotFound) works for errors carrying custom messages.
func (e *RegistryError) Is(target error) bool {
	var t *RegistryError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrAuthenticationFailed    = &RegistryError{Code: CodeAuthenticationFailed, Message: "authentication failed"}
	ErrNamespaceNotRegistered  = &RegistryError{Code: CodeNamespaceNotRegistered, Message: "namespace not registered"}
	ErrAlreadyRegistered       = &RegistryError{Code: CodeAlreadyRegistered, Message: "namespace already registered"}
	ErrValidationFailed        = &RegistryError{Code: CodeValidationFailed, Message: "validation failed"}
	ErrMalformedVersion        = &RegistryError{Code: CodeMalformedVersion, Message: "malformed version"}
	ErrDependenciesMissing     = &RegistryError{Code: CodeDependenciesMissing, Message: "dependencies missing"}
	ErrInvalidDependencyPrefix = &RegistryError{Code: CodeInvalidDependencyPrefix, Message: "invalid dependency prefix"}
	ErrVersionAlreadyExists    = &RegistryError{Code: CodeVersionAlreadyExists, Message: "version already exists"}
	ErrDuplicateBundleType     = &RegistryError{Code: CodeDuplicateBundleType, Message: "duplicate bundle type"}
	ErrNotFound                = &RegistryError{Code: CodeNotFound, Message: "not found"}
	ErrConcurrentRegistration  = &RegistryError{Code: CodeConcurrentRegistration, Message: "concurrent registration"}
	ErrNotImplemented          = &RegistryError{Code: CodeNotImplemented, Message: "not implemented"}
)

func newError(code ErrorCode, message string, cause error) *RegistryError {
	return &RegistryError{Code: code, Message: message, Err: cause}
}

func validationError(message string) *RegistryError {
	return newError(CodeValidationFailed, message, nil)
}

// AsRegistryError returns the RegistryError in err's chain, if any.
func AsRegistryError(err error) (*RegistryError, bool) {
	var re *RegistryError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeNotFound, CodeNamespaceNotRegistered:
		return http.StatusNotFound
	case CodeAlreadyRegistered, CodeVersionAlreadyExists, CodeConcurrentRegistration:
		return http.StatusConflict
	case CodeNotImplemented:
		return http.StatusNotImplemented
	case CodeValidationFailed, CodeMalformedVersion, CodeDependenciesMissing,
		CodeInvalidDependencyPrefix, CodeDuplicateBundleType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
