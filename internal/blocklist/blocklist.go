// Package blocklist holds the device-owned block state: fingerprints the
// device decided to block on its own, and downloads blocked by the remote
// registry that are waiting for re-evaluation. None of it is ever
// transmitted to the registry.
package blocklist

import (
	"errors"
	"time"

	"github.com/avasconcelos114/hashgate/internal/fingerprint"
)

// ErrNotFound is returned when a fingerprint has no record.
var ErrNotFound = errors.New("fingerprint not tracked")

// BlockRecord is a locally blocked fingerprint.
type BlockRecord struct {
	Fingerprint fingerprint.Digest
	Reason      string
	BlockedAt   time.Time
}

// RetryItem statuses. Pending items are polled by the retry runner;
// permanently blocked items have exhausted their attempts and are kept
// only for manual review.
const (
	RetryPending            = "pending"
	RetryPermanentlyBlocked = "permanently_blocked"
)

// RetryItem is a download blocked by the registry, queued for periodic
// re-evaluation. NextCheckAt implements the per-item backoff schedule.
type RetryItem struct {
	Fingerprint   fingerprint.Digest
	AttachmentRef string
	AttemptCount  int
	LastCheckedAt time.Time
	NextCheckAt   time.Time
	Status        string
}

// BlockRepository stores local block records keyed by fingerprint.
// Contains must be cheap: it sits on the critical path of every send and
// download, before any network call.
type BlockRepository interface {
	Contains(d fingerprint.Digest) (bool, error)
	Get(d fingerprint.Digest) (*BlockRecord, error)
	Put(rec BlockRecord) error
	Delete(d fingerprint.Digest) error
	List() ([]BlockRecord, error)
}

// RetryRepository stores pending retry items keyed by fingerprint.
type RetryRepository interface {
	// Upsert creates the item, or refreshes the attachment reference of
	// an existing one without resetting its attempt count.
	Upsert(item RetryItem) error

	// Due returns pending items whose next check time has passed.
	Due(now time.Time, limit int) ([]RetryItem, error)

	// Reschedule persists a re-check outcome for an item that stays
	// pending.
	Reschedule(d fingerprint.Digest, attemptCount int, lastCheckedAt, nextCheckAt time.Time) error

	// MarkPermanentlyBlocked moves an item to the terminal state,
	// removing it from the polling set.
	MarkPermanentlyBlocked(d fingerprint.Digest, lastCheckedAt time.Time) error

	Delete(d fingerprint.Digest) error
	ListPermanentlyBlocked() ([]RetryItem, error)
}
