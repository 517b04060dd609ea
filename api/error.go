package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies vaultd errors into the retry taxonomy shared by every
// transport component.
type Kind string

const (
	// KindConfig marks fatal configuration mismatches (bad token/port on disk).
	KindConfig Kind = "config"
	// KindAuth marks requests rejected before dispatch for a bad bearer token.
	KindAuth Kind = "auth"
	// KindOwnershipLost marks relay failures caused by the owner process vanishing.
	KindOwnershipLost Kind = "ownership_lost"
	// KindConnectivity marks vault host unreachability; retryable with backoff.
	KindConnectivity Kind = "connectivity"
	// KindValidation marks operation arguments rejected before dispatch.
	KindValidation Kind = "validation"
	// KindOperation marks errors returned by the vault host itself (e.g. note not found).
	KindOperation Kind = "operation"
)

// Error is the wire and in-process error representation. The relay endpoint
// serializes it verbatim inside the response envelope.
type Error struct {
	// Kind selects the taxonomy bucket and drives retry policy.
	Kind Kind `json:"kind"`
	// Message is a human-readable description, surfaced unchanged to callers.
	Message string `json:"message"`
	// Op names the operation that produced the error, when known.
	Op string `json:"operation,omitempty"`
	// RetryAfterSeconds hints when a retryable error is worth retrying.
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the caller may retry without changing the request.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindConnectivity, KindOwnershipLost:
		return true
	default:
		return false
	}
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrorf builds a KindValidation error tagged with the operation name.
func ValidationErrorf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy bucket from err, or "" when err carries none.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err belongs to the given taxonomy bucket.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the relay endpoint status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindConnectivity:
		return http.StatusServiceUnavailable
	case KindOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
