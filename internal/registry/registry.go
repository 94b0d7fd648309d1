package registry

import (
	"context"
	"time"

	"github.com/avasconcelos114/hashgate/internal/fingerprint"
)

// Entry is a registry record for a single fingerprint. ExpiresAt is owned
// by the registry's TTL eviction; the client writes it on store but never
// reads it back for local decisions.
type Entry struct {
	Fingerprint fingerprint.Digest `json:"fingerprint"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   int64              `json:"expires_at"` // epoch seconds
}

// NewEntry builds an entry expiring ttl from now.
func NewEntry(d fingerprint.Digest, ttl time.Duration) Entry {
	now := time.Now().UTC()

	return Entry{
		Fingerprint: d,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl).Unix(),
	}
}

// ImportFormat selects the manifest encoding for a bulk import submission.
type ImportFormat string

const (
	ImportFormatJSON ImportFormat = "json"
	ImportFormatCSV  ImportFormat = "csv"
)

// BatchResult reports the per-fingerprint outcome of a batch write. A nil
// value means the single-item contract was satisfied for that fingerprint
// (including conflict-as-success and delete-absent-as-success).
type BatchResult map[fingerprint.Digest]error

// Failed returns the fingerprints whose batch operation failed.
func (r BatchResult) Failed() []fingerprint.Digest {
	var failed []fingerprint.Digest

	for d, err := range r {
		if err != nil {
			failed = append(failed, d)
		}
	}

	return failed
}

// Client is the resilient request layer in front of the remote fingerprint
// registry. Implementations own retries, backoff and the error taxonomy;
// they never decide allow/deny semantics, which belong to the gates.
type Client interface {
	// Contains reports whether an unexpired entry exists for d.
	Contains(ctx context.Context, d fingerprint.Digest) (bool, error)

	// Store inserts an entry for d with a fresh TTL. Storing an already
	// registered fingerprint is success, not an error.
	Store(ctx context.Context, d fingerprint.Digest) error

	// Delete removes the entry for d if present. Deleting an absent
	// fingerprint is success.
	Delete(ctx context.Context, d fingerprint.Digest) error

	BatchContains(ctx context.Context, ds []fingerprint.Digest) (map[fingerprint.Digest]bool, error)
	BatchStore(ctx context.Context, ds []fingerprint.Digest) (BatchResult, error)
	BatchDelete(ctx context.Context, ds []fingerprint.Digest) (BatchResult, error)

	// SubmitBulkImport hands the fingerprints to the out-of-band bulk
	// loader and returns a job id for polling.
	SubmitBulkImport(ctx context.Context, ds []fingerprint.Digest, format ImportFormat) (string, error)

	JobStatus(ctx context.Context, jobID string) (*BatchJob, error)
	CancelJob(ctx context.Context, jobID string) error
}
