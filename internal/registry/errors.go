package registry

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a registry failure. The set is closed: every error the
// client surfaces carries exactly one of these, derived from the transport
// outcome by KindFromStatus.
type Kind int

const (
	// KindConnectivity means no response reached the registry (DNS,
	// connection reset, deadline exceeded).
	KindConnectivity Kind = iota

	// KindThrottled means the registry signalled overload (HTTP 429).
	KindThrottled

	// KindServerFault means a registry-side internal error (HTTP 5xx).
	KindServerFault

	// KindBadRequest means malformed input. Not retryable.
	KindBadRequest

	// KindUnauthorized means the credential is invalid or expired.
	// Not retryable here; surfaced to the credential collaborator.
	KindUnauthorized

	// KindConflict means a conditional write collided with an existing
	// entry. Callers treat this as success per the idempotency contract.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindThrottled:
		return "throttled"
	case KindServerFault:
		return "server_fault"
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt could succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectivity, KindThrottled, KindServerFault:
		return true
	default:
		return false
	}
}

// Error is the one error type the registry client returns. FingerprintPrefix
// carries only a truncated digest so the error can be logged as-is.
type Error struct {
	Op                string
	Kind              Kind
	Status            int // HTTP status, 0 for transport-level failures
	FingerprintPrefix string
	Err               error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("registry %s failed (HTTP %d): %s", e.Op, e.Status, e.Kind)
	}

	return fmt.Sprintf("registry %s failed: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error chain. Errors that did not come
// from the registry client count as connectivity: nothing reached the
// registry on their behalf.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	return KindConnectivity
}

// KindFromStatus maps an HTTP response status to an error kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindThrottled
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServerFault
	default:
		return KindBadRequest
	}
}
