// Package gate implements the content-fingerprint gates sitting in front
// of the outgoing-message and attachment pipelines. Both gates check the
// device-local blocklist first, then the remote registry, and fail open on
// registry errors: infrastructure trouble never blocks legitimate content,
// while a positive registry hit always denies.
package gate

import "fmt"

// BlockReason says which check produced a denial.
type BlockReason string

const (
	ReasonNone   BlockReason = ""
	ReasonLocal  BlockReason = "local"
	ReasonGlobal BlockReason = "global"
)

// Decision is a gate outcome.
type Decision struct {
	Allow  bool
	Reason BlockReason
}

var (
	allowed     = Decision{Allow: true}
	blockLocal  = Decision{Reason: ReasonLocal}
	blockGlobal = Decision{Reason: ReasonGlobal}
)

// BlockedError is the user-facing denial. It deliberately carries no
// fingerprint, error code or registry detail: diagnostics live in logs,
// keyed by truncated digest prefixes.
type BlockedError struct {
	Action string // "sent" or "downloaded"
	Reason BlockReason
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("this content could not be %s", e.Action)
}

// Err converts a denial into a BlockedError; an allowed decision yields
// nil.
func (d Decision) Err(action string) error {
	if d.Allow {
		return nil
	}

	return &BlockedError{Action: action, Reason: d.Reason}
}
