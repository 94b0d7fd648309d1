package sqlite

import (
	"database/sql"
	"time"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
)

// RetryRepository implements blocklist.RetryRepository on SQLite.
type RetryRepository struct {
	db *sql.DB
}

func NewRetryRepository(dbConn *sql.DB) *RetryRepository {
	return &RetryRepository{db: dbConn}
}

// Upsert creates a pending retry item, or refreshes the attachment
// reference of an existing one. The attempt count and schedule of an
// existing item survive: a re-blocked download must not reset its backoff.
func (r *RetryRepository) Upsert(item blocklist.RetryItem) error {
	now := time.Now()

	lastChecked := item.LastCheckedAt
	if lastChecked.IsZero() {
		lastChecked = now
	}

	nextCheck := item.NextCheckAt
	if nextCheck.IsZero() {
		nextCheck = now
	}

	_, err := r.db.Exec(`
		INSERT INTO retry_items (fingerprint, attachment_ref, attempt_count, last_checked_at, next_check_at, status)
		VALUES (?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(fingerprint) DO UPDATE SET
			attachment_ref = excluded.attachment_ref
		WHERE retry_items.status = 'pending'
	`, string(item.Fingerprint), item.AttachmentRef, item.AttemptCount,
		lastChecked.Format(time.RFC3339), nextCheck.Format(time.RFC3339))

	return err
}

// Due returns pending items whose next check time has passed, oldest first.
func (r *RetryRepository) Due(now time.Time, limit int) ([]blocklist.RetryItem, error) {
	rows, err := r.db.Query(`
		SELECT fingerprint, attachment_ref, attempt_count, last_checked_at, next_check_at, status
		FROM retry_items
		WHERE status = 'pending' AND next_check_at <= ?
		ORDER BY next_check_at
		LIMIT ?
	`, now.Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

// Reschedule persists a re-check outcome for an item that stays pending.
func (r *RetryRepository) Reschedule(d fingerprint.Digest, attemptCount int, lastCheckedAt, nextCheckAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE retry_items
		SET attempt_count = ?, last_checked_at = ?, next_check_at = ?
		WHERE fingerprint = ? AND status = 'pending'
	`, attemptCount, lastCheckedAt.Format(time.RFC3339), nextCheckAt.Format(time.RFC3339), string(d))

	return err
}

// MarkPermanentlyBlocked moves an item to the terminal state. It stays in
// the table for manual review but leaves the polling set.
func (r *RetryRepository) MarkPermanentlyBlocked(d fingerprint.Digest, lastCheckedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE retry_items
		SET status = 'permanently_blocked', last_checked_at = ?
		WHERE fingerprint = ?
	`, lastCheckedAt.Format(time.RFC3339), string(d))

	return err
}

func (r *RetryRepository) Delete(d fingerprint.Digest) error {
	_, err := r.db.Exec(`DELETE FROM retry_items WHERE fingerprint = ?`, string(d))

	return err
}

func (r *RetryRepository) ListPermanentlyBlocked() ([]blocklist.RetryItem, error) {
	rows, err := r.db.Query(`
		SELECT fingerprint, attachment_ref, attempt_count, last_checked_at, next_check_at, status
		FROM retry_items
		WHERE status = 'permanently_blocked'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]blocklist.RetryItem, error) {
	var items []blocklist.RetryItem

	for rows.Next() {
		var (
			item        blocklist.RetryItem
			fp          string
			lastChecked string
			nextCheck   string
		)

		if err := rows.Scan(&fp, &item.AttachmentRef, &item.AttemptCount, &lastChecked, &nextCheck, &item.Status); err != nil {
			return nil, err
		}

		item.Fingerprint = fingerprint.Digest(fp)
		item.LastCheckedAt, _ = time.Parse(time.RFC3339, lastChecked)
		item.NextCheckAt, _ = time.Parse(time.RFC3339, nextCheck)

		items = append(items, item)
	}

	return items, rows.Err()
}
