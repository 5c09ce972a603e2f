package errors

import "errors"

// Client-side errors.
var (
	ErrMissingToken  = errors.New("missing access token")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidTier   = errors.New("invalid persistence tier")
	ErrNotLoggedIn   = errors.New("not logged in")
	ErrMissingSecret = errors.New("email and password are required")
)

// Server/transport errors.
var (
	ErrNetwork     = errors.New("network request failed")
	ErrValidation  = errors.New("response validation failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
