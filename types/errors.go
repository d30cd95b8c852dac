package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stable categories surfaced on the
// wire. The string form is the documented "type" field of the error body and
// must not change between releases.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindDuplicate      Kind = "duplicate"
	KindRateLimited    Kind = "rate_limited"
	KindConfiguration  Kind = "configuration_error"

	KindDatabase     Kind = "database_error"
	KindDBConnection Kind = "database_connection_error"

	KindChainConnection   Kind = "blockchain_connection_error"
	KindChainTimeout      Kind = "timeout"
	KindChainRPC          Kind = "blockchain_error"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidSignature  Kind = "invalid_signature"
	KindTransactionFailed Kind = "transaction_failed"

	KindServiceUnavailable Kind = "external_service_error"
	KindServiceTimeout     Kind = "external_service_timeout"
	KindServiceRateLimited Kind = "external_service_rate_limited"
	KindServiceParse       Kind = "external_service_parse_error"

	KindSerialization   Kind = "serialization_error"
	KindDeserialization Kind = "deserialization_error"
	KindNotSupported    Kind = "not_supported"
	KindInternal        Kind = "internal_error"
)

// Error is the application error carried across component boundaries. It
// wraps an optional cause so callers can use errors.Is/As on the chain.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an error of the given kind around a cause.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryableChainError reports whether a submission failure should be
// re-queued with backoff. Insufficient funds needs operator intervention and
// is never retried.
func RetryableChainError(err error) bool {
	switch KindOf(err) {
	case KindChainConnection, KindChainTimeout, KindChainRPC, KindTransactionFailed:
		return true
	default:
		return false
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable error type and a human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RateLimitResponse extends the error envelope with a retry hint in seconds.
type RateLimitResponse struct {
	Error      ErrorDetail `json:"error"`
	RetryAfter uint64      `json:"retry_after"`
}
