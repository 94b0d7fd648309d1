// Package retry re-evaluates downloads that were blocked by the registry.
// A single background loop sweeps the pending items, re-checks each
// fingerprint, reactivates downloads that are no longer blocked and backs
// the rest off individually.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/logctx"
	"github.com/avasconcelos114/hashgate/internal/registry"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

// Checker is the slice of the registry client the runner consumes.
type Checker interface {
	Contains(ctx context.Context, d fingerprint.Digest) (bool, error)
}

// Runner periodically re-checks pending retry items against the registry.
type Runner struct {
	retries       blocklist.RetryRepository
	reg           Checker
	policy        registry.BackoffPolicy
	sweepInterval time.Duration
	batchSize     int
	maxAttempts   int
	telemetry     *telemetry.Telemetry

	// OnReactivated delivers items whose fingerprint left the registry;
	// the attachment pipeline resumes the referenced download. Run owns
	// the channel and closes it when it exits.
	OnReactivated chan blocklist.RetryItem
}

func NewRunner(
	retries blocklist.RetryRepository,
	reg Checker,
	policy registry.BackoffPolicy,
	sweepInterval time.Duration,
	batchSize int,
	maxAttempts int,
	tel *telemetry.Telemetry,
) *Runner {
	return &Runner{
		retries:       retries,
		reg:           reg,
		policy:        policy,
		sweepInterval: sweepInterval,
		batchSize:     batchSize,
		maxAttempts:   maxAttempts,
		telemetry:     tel,

		OnReactivated: make(chan blocklist.RetryItem),
	}
}

// Run sweeps until ctx is cancelled. Cancellation is cooperative: the
// in-flight registry call finishes, no new one starts, and the loop
// exits. OnReactivated is closed on the way out, after the last sweep
// finished, so no sweep can race the close.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.OnReactivated)

	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "retry runner started",
		"sweep_interval", r.sweepInterval.String(),
		"max_attempts", r.maxAttempts)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "retry runner shutting down")

			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logger.ErrorContext(ctx, "retry sweep failed", "err", err)
			}
		}
	}
}

// Sweep re-checks every pending item whose per-item schedule is due.
func (r *Runner) Sweep(ctx context.Context) error {
	items, err := r.retries.Due(time.Now(), r.batchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.recheck(ctx, item)
	}

	return nil
}

func (r *Runner) recheck(ctx context.Context, item blocklist.RetryItem) {
	logger := logctx.LoggerFromContext(ctx).With(
		"fingerprint_prefix", item.Fingerprint.Prefix(),
		"attempt_count", item.AttemptCount)

	blocked, err := r.reg.Contains(ctx, item.Fingerprint)

	if err == nil && !blocked {
		r.reactivate(ctx, item, logger)

		return
	}

	if err != nil {
		logger.WarnContext(ctx, "re-check failed",
			"operation", "recheck",
			"error_kind", registry.KindOf(err).String())
	}

	// Still blocked, or the registry was unreachable: both consume an
	// attempt so a flapping registry cannot keep an item alive forever.
	now := time.Now()
	attempt := item.AttemptCount + 1

	if attempt >= r.maxAttempts {
		if err := r.retries.MarkPermanentlyBlocked(item.Fingerprint, now); err != nil {
			logger.ErrorContext(ctx, "failed to mark item permanently blocked", "err", err)

			return
		}

		r.telemetry.RecordPermanentBlock()
		logger.WarnContext(ctx, "retry budget exhausted, item permanently blocked")

		return
	}

	next := now.Add(r.policy.Delay(attempt))

	if err := r.retries.Reschedule(item.Fingerprint, attempt, now, next); err != nil {
		logger.ErrorContext(ctx, "failed to reschedule retry item", "err", err)
	}
}

func (r *Runner) reactivate(ctx context.Context, item blocklist.RetryItem, logger *slog.Logger) {
	if err := r.retries.Delete(item.Fingerprint); err != nil {
		logger.ErrorContext(ctx, "failed to delete reactivated item", "err", err)

		return
	}

	r.telemetry.RecordReactivation()
	logger.InfoContext(ctx, "fingerprint unblocked, reactivating download")

	select {
	case r.OnReactivated <- item:
	case <-ctx.Done():
	}
}
