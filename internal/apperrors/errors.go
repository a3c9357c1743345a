package apperrors

import "errors"

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// Request-path authentication failures. The auth middleware recovers all of
// these into a 401 response; they never reach downstream handlers.
var (
	// ErrMissingHeader indicates the request carried no Authorization header.
	ErrMissingHeader = errors.New("missing authorization header")

	// ErrMalformedHeader indicates the Authorization header is not "Bearer <token>".
	ErrMalformedHeader = errors.New("malformed authorization header")

	// ErrInvalidToken indicates the presented token was never issued.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")

	// ErrRevokedToken indicates the token has been revoked.
	ErrRevokedToken = errors.New("token revoked")
)

// Storage failures.
var (
	// ErrStoreIO indicates the durable token store could not be read or written.
	ErrStoreIO = errors.New("token store i/o error")

	// ErrCorruptStore indicates the durable state exists but cannot be decoded.
	// It is fatal at startup.
	ErrCorruptStore = errors.New("token store is corrupt")

	// ErrStoreClosed indicates a mutation was attempted after Close.
	ErrStoreClosed = errors.New("token store closed")
)

// IsAuthFailure reports whether err is one of the request-path failures.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrMissingHeader) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrRevokedToken)
}
