package gate

import (
	"context"
	"time"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/logctx"
	"github.com/avasconcelos114/hashgate/internal/registry"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

// DownloadGate is consulted by the attachment pipeline before downloaded
// bytes are materialized. A registry hit parks the attachment as a pending
// retry item so the retry runner can re-evaluate it later.
type DownloadGate struct {
	blocks    blocklist.BlockRepository
	retries   blocklist.RetryRepository
	reg       Registry
	policy    registry.BackoffPolicy
	telemetry *telemetry.Telemetry
}

func NewDownloadGate(
	blocks blocklist.BlockRepository,
	retries blocklist.RetryRepository,
	reg Registry,
	policy registry.BackoffPolicy,
	tel *telemetry.Telemetry,
) *DownloadGate {
	return &DownloadGate{
		blocks:    blocks,
		retries:   retries,
		reg:       reg,
		policy:    policy,
		telemetry: tel,
	}
}

// CheckBytes digests raw attachment bytes locally and gates on the result.
// The bytes never leave the process.
func (g *DownloadGate) CheckBytes(ctx context.Context, content []byte, attachmentRef string) (fingerprint.Digest, Decision) {
	d := fingerprint.Compute(content)

	return d, g.Check(ctx, d, attachmentRef)
}

// Check decides whether the attachment with fingerprint d may be
// materialized. Registry errors allow the download; a registry hit blocks
// it and records a pending retry item for attachmentRef.
func (g *DownloadGate) Check(ctx context.Context, d fingerprint.Digest, attachmentRef string) Decision {
	logger := logctx.LoggerFromContext(ctx).With("gate", "download", "fingerprint_prefix", d.Prefix())

	locallyBlocked, err := g.blocks.Contains(d)
	if err != nil {
		logger.ErrorContext(ctx, "local blocklist check failed", "err", err)
	}

	if locallyBlocked {
		logger.InfoContext(ctx, "download denied by local blocklist")
		g.telemetry.RecordGateDecision("download", "block_local")

		return blockLocal
	}

	registered, err := g.reg.Contains(ctx, d)
	if err != nil {
		logger.WarnContext(ctx, "registry check failed, allowing download",
			"error_kind", registry.KindOf(err).String())
		g.telemetry.RecordGateDecision("download", "allow")

		return allowed
	}

	if registered {
		g.parkForRetry(ctx, d, attachmentRef)
		g.telemetry.RecordGateDecision("download", "block_global")

		return blockGlobal
	}

	g.telemetry.RecordGateDecision("download", "allow")

	return allowed
}

// parkForRetry records the blocked download for periodic re-evaluation.
// The first re-check is scheduled one backoff step out.
func (g *DownloadGate) parkForRetry(ctx context.Context, d fingerprint.Digest, attachmentRef string) {
	logger := logctx.LoggerFromContext(ctx).With("gate", "download", "fingerprint_prefix", d.Prefix())

	now := time.Now()

	err := g.retries.Upsert(blocklist.RetryItem{
		Fingerprint:   d,
		AttachmentRef: attachmentRef,
		LastCheckedAt: now,
		NextCheckAt:   now.Add(g.policy.Delay(0)),
		Status:        blocklist.RetryPending,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to record pending retry item", "err", err)

		return
	}

	logger.InfoContext(ctx, "download denied by registry, queued for re-evaluation")
}
