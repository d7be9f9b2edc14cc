package fyk

import (
	"errors"
	"fmt"
)

// Code classifies a client failure. Codes are stable strings so callers
// can switch on them and log them without string matching on messages.
type Code string

const (
	// CodeMissingCredential means no API key was supplied at construction.
	CodeMissingCredential Code = "MISSING_CREDENTIAL"

	// CodeInvalidCredential means the supplied API key is implausibly short.
	CodeInvalidCredential Code = "INVALID_CREDENTIAL"

	// CodeUnauthorized means the service rejected the API key (HTTP 401).
	// Terminal for the client instance.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeForbidden means the API key is valid but not allowed (HTTP 403).
	// Terminal for the client instance.
	CodeForbidden Code = "FORBIDDEN"

	// CodeNetworkError covers transport failures, unusable responses and
	// non-auth HTTP errors. Recoverable via cached data or Refresh.
	CodeNetworkError Code = "NETWORK_ERROR"

	// CodeCacheInvalid means the cache failed its ownership check at read
	// time and was discarded.
	CodeCacheInvalid Code = "CACHE_INVALID"

	// CodeKeyNotFound means the requested label is not in the cache.
	CodeKeyNotFound Code = "KEY_NOT_FOUND"

	// CodeCacheError is a storage failure underneath the cache.
	CodeCacheError Code = "CACHE_ERROR"

	// CodeSecurityError is a cryptographic failure in the cache layer.
	CodeSecurityError Code = "SECURITY_ERROR"
)

// Error is the structured failure returned by every client operation.
// Message is human-readable, Suggestion is actionable, Details carries
// machine-readable diagnostics. The raw credential never appears in any
// field; only its masked form does.
type Error struct {
	Code       Code
	Message    string
	Suggestion string
	Details    map[string]any

	cause error
	// transport marks a NETWORK_ERROR where no usable response arrived at
	// all, as opposed to a response that could not be trusted.
	transport bool
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Suggestion)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is comparisons by code: errors.Is(err, &Error{Code: c}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf extracts the failure code from err, or "" when err is nil or not
// a client error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTerminal reports whether err is an auth failure that no retry or
// refresh can fix; only a new client with a corrected credential can.
func IsTerminal(err error) bool {
	switch CodeOf(err) {
	case CodeUnauthorized, CodeForbidden:
		return true
	}
	return false
}

func errMissingCredential() *Error {
	return &Error{
		Code:       CodeMissingCredential,
		Message:    "no API key provided",
		Suggestion: "pass Config.APIKey or set the " + EnvAPIKey + " environment variable",
	}
}

func errInvalidCredential(masked string) *Error {
	return &Error{
		Code:       CodeInvalidCredential,
		Message:    fmt.Sprintf("API key %s is too short", masked),
		Suggestion: "check the key copied from your FetchYourKeys dashboard",
		Details:    map[string]any{"minLength": minAPIKeyLen},
	}
}
