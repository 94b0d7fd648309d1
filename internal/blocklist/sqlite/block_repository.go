package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
)

// BlockRepository implements blocklist.BlockRepository on SQLite.
type BlockRepository struct {
	db *sql.DB
}

func NewBlockRepository(dbConn *sql.DB) *BlockRepository {
	return &BlockRepository{db: dbConn}
}

func (r *BlockRepository) Contains(d fingerprint.Digest) (bool, error) {
	var one int

	err := r.db.QueryRow(`SELECT 1 FROM local_blocks WHERE fingerprint = ?`, string(d)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *BlockRepository) Get(d fingerprint.Digest) (*blocklist.BlockRecord, error) {
	var (
		rec       blocklist.BlockRecord
		fp        string
		blockedAt string
	)

	err := r.db.QueryRow(
		`SELECT fingerprint, reason, blocked_at FROM local_blocks WHERE fingerprint = ?`, string(d),
	).Scan(&fp, &rec.Reason, &blockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blocklist.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	rec.Fingerprint = fingerprint.Digest(fp)
	rec.BlockedAt, _ = time.Parse(time.RFC3339, blockedAt)

	return &rec, nil
}

// Put inserts or refreshes a block record. Re-blocking an already blocked
// fingerprint just updates the reason.
func (r *BlockRepository) Put(rec blocklist.BlockRecord) error {
	blockedAt := rec.BlockedAt
	if blockedAt.IsZero() {
		blockedAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO local_blocks (fingerprint, reason, blocked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			reason = excluded.reason
	`, string(rec.Fingerprint), rec.Reason, blockedAt.Format(time.RFC3339))

	return err
}

func (r *BlockRepository) Delete(d fingerprint.Digest) error {
	_, err := r.db.Exec(`DELETE FROM local_blocks WHERE fingerprint = ?`, string(d))

	return err
}

func (r *BlockRepository) List() ([]blocklist.BlockRecord, error) {
	rows, err := r.db.Query(`SELECT fingerprint, reason, blocked_at FROM local_blocks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []blocklist.BlockRecord

	for rows.Next() {
		var (
			rec       blocklist.BlockRecord
			fp        string
			blockedAt string
		)

		if err := rows.Scan(&fp, &rec.Reason, &blockedAt); err != nil {
			return nil, err
		}

		rec.Fingerprint = fingerprint.Digest(fp)
		rec.BlockedAt, _ = time.Parse(time.RFC3339, blockedAt)

		records = append(records, rec)
	}

	return records, rows.Err()
}
