package api

import (
	"errors"

	apperrors "github.com/alexjbarnes/budget-client/internal/errors"
)

// CodeTransport is the APIError code for failures where no HTTP status
// was received (DNS, connection, read errors).
const CodeTransport = -1

const (
	msgMissingToken     = "Missing access token"
	msgValidationFailed = "Response validation failed"
)

// ErrorKind classifies an APIError.
type ErrorKind int

const (
	// KindNetwork is a transport failure. Code is -1.
	KindNetwork ErrorKind = iota
	// KindUnauthorized is a 401 from the server.
	KindUnauthorized
	// KindValidation is a 2xx response whose body did not parse or
	// did not match the expected shape.
	KindValidation
	// KindServer is any other unsuccessful status.
	KindServer
	// KindNoCredential is the local short-circuit taken when no access
	// token is held. Code is 401 and nothing was sent.
	KindNoCredential
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindNoCredential:
		return "no_credential"
	}

	return "unknown"
}

// APIError is returned for every failed request. Message is suitable
// for display; Code is the HTTP status or CodeTransport.
type APIError struct {
	Message string
	Code    int
	Kind    ErrorKind
	// Err is the underlying cause, when there is one.
	Err error
}

func (e *APIError) Error() string { return e.Message }

// Unwrap exposes the sentinel for the error kind and the cause, so
// errors.Is works against both.
func (e *APIError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

func (e *APIError) sentinel() error {
	switch e.Kind {
	case KindNetwork:
		return apperrors.ErrNetwork
	case KindUnauthorized:
		return apperrors.ErrUnauthorized
	case KindValidation:
		return apperrors.ErrValidation
	case KindNoCredential:
		return apperrors.ErrMissingToken
	}

	return apperrors.ErrAPIResponse
}

// kindForStatus classifies an unsuccessful HTTP status.
func kindForStatus(code int) ErrorKind {
	if code == 401 {
		return KindUnauthorized
	}

	return KindServer
}

func missingTokenError() *APIError {
	return &APIError{Message: msgMissingToken, Code: 401, Kind: KindNoCredential}
}

// IsUnauthorized reports whether err is an APIError with code 401,
// including the local missing-token short-circuit.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == 401
}

// Code returns the APIError code in err's chain, or 0 when err is not
// an APIError.
func Code(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	return 0
}
