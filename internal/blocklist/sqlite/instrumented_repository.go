package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

// InstrumentedBlockRepository wraps BlockRepository with telemetry.
type InstrumentedBlockRepository struct {
	repo      *BlockRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBlockRepository creates a new instrumented block
// repository.
func NewInstrumentedBlockRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedBlockRepository {
	return &InstrumentedBlockRepository{
		repo:      NewBlockRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedBlockRepository) Contains(d fingerprint.Digest) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "block_contains", func(context.Context) error {
		result, err = r.repo.Contains(d)

		return err
	})
	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedBlockRepository) Get(d fingerprint.Digest) (*blocklist.BlockRecord, error) {
	var result *blocklist.BlockRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "block_get", func(context.Context) error {
		result, err = r.repo.Get(d)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedBlockRepository) Put(rec blocklist.BlockRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "block_put", func(context.Context) error {
		return r.repo.Put(rec)
	})
}

func (r *InstrumentedBlockRepository) Delete(d fingerprint.Digest) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "block_delete", func(context.Context) error {
		return r.repo.Delete(d)
	})
}

func (r *InstrumentedBlockRepository) List() ([]blocklist.BlockRecord, error) {
	var result []blocklist.BlockRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "block_list", func(context.Context) error {
		result, err = r.repo.List()

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// InstrumentedRetryRepository wraps RetryRepository with telemetry.
type InstrumentedRetryRepository struct {
	repo      *RetryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRetryRepository creates a new instrumented retry
// repository.
func NewInstrumentedRetryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRetryRepository {
	return &InstrumentedRetryRepository{
		repo:      NewRetryRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedRetryRepository) Upsert(item blocklist.RetryItem) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "retry_upsert", func(context.Context) error {
		return r.repo.Upsert(item)
	})
}

func (r *InstrumentedRetryRepository) Due(now time.Time, limit int) ([]blocklist.RetryItem, error) {
	var result []blocklist.RetryItem

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "retry_due", func(context.Context) error {
		result, err = r.repo.Due(now, limit)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedRetryRepository) Reschedule(d fingerprint.Digest, attemptCount int, lastCheckedAt, nextCheckAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "retry_reschedule", func(context.Context) error {
		return r.repo.Reschedule(d, attemptCount, lastCheckedAt, nextCheckAt)
	})
}

func (r *InstrumentedRetryRepository) MarkPermanentlyBlocked(d fingerprint.Digest, lastCheckedAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "retry_mark_blocked", func(context.Context) error {
		return r.repo.MarkPermanentlyBlocked(d, lastCheckedAt)
	})
}

func (r *InstrumentedRetryRepository) Delete(d fingerprint.Digest) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "retry_delete", func(context.Context) error {
		return r.repo.Delete(d)
	})
}

func (r *InstrumentedRetryRepository) ListPermanentlyBlocked() ([]blocklist.RetryItem, error) {
	var result []blocklist.RetryItem

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "retry_list_blocked", func(context.Context) error {
		result, err = r.repo.ListPermanentlyBlocked()

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
