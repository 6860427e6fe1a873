package auth

import "errors"

// Sentinel errors for WS-upgrade token verification (spec §7 "Auth" kind).
// Callers should use errors.Is for comparison.
var (
	// ErrTokenExpired is returned when a token's exp claim is in the past.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed, is signed
	// with an unexpected algorithm, or fails signature verification.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrUIDUnparsable is returned when the uid claim is present but is
	// not a valid string-decimal 64-bit integer.
	ErrUIDUnparsable = errors.New("auth: uid claim unparsable")
)
