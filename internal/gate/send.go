package gate

import (
	"context"
	"sync"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/logctx"
	"github.com/avasconcelos114/hashgate/internal/registry"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

// Registry is the slice of the registry client the gates consume.
type Registry interface {
	Contains(ctx context.Context, d fingerprint.Digest) (bool, error)
	Store(ctx context.Context, d fingerprint.Digest) error
}

// SendGate is consulted by the outgoing-message pipeline before
// transmission, and notified after a successful send so the fingerprint
// can be contributed to the registry off the critical path.
type SendGate struct {
	blocks    blocklist.BlockRepository
	reg       Registry
	telemetry *telemetry.Telemetry

	contributions sync.WaitGroup
}

func NewSendGate(blocks blocklist.BlockRepository, reg Registry, tel *telemetry.Telemetry) *SendGate {
	return &SendGate{
		blocks:    blocks,
		reg:       reg,
		telemetry: tel,
	}
}

// Check decides whether content with fingerprint d may be transmitted.
// Local check first, no network involved; then the registry. Registry
// errors count as "not blocked".
func (g *SendGate) Check(ctx context.Context, d fingerprint.Digest) Decision {
	logger := logctx.LoggerFromContext(ctx).With("gate", "send", "fingerprint_prefix", d.Prefix())

	locallyBlocked, err := g.blocks.Contains(d)
	if err != nil {
		logger.ErrorContext(ctx, "local blocklist check failed", "err", err)
	}

	if locallyBlocked {
		logger.InfoContext(ctx, "send denied by local blocklist")
		g.telemetry.RecordGateDecision("send", "block_local")

		return blockLocal
	}

	registered, err := g.reg.Contains(ctx, d)
	if err != nil {
		logger.WarnContext(ctx, "registry check failed, allowing send",
			"error_kind", registry.KindOf(err).String())
		g.telemetry.RecordGateDecision("send", "allow")

		return allowed
	}

	if registered {
		logger.InfoContext(ctx, "send denied by registry")
		g.telemetry.RecordGateDecision("send", "block_global")

		return blockGlobal
	}

	g.telemetry.RecordGateDecision("send", "allow")

	return allowed
}

// RecordSent contributes the fingerprint of a successfully transmitted
// message to the registry. It returns immediately; the store runs in the
// background with the registry client's own retry budget and its failure
// is logged, never surfaced — the send has already succeeded.
func (g *SendGate) RecordSent(ctx context.Context, d fingerprint.Digest) {
	// Detach from the send's cancellation but keep the logger.
	ctx = context.WithoutCancel(ctx)

	g.contributions.Add(1)

	go func() {
		defer g.contributions.Done()

		logger := logctx.LoggerFromContext(ctx).With("gate", "send", "fingerprint_prefix", d.Prefix())

		if err := g.reg.Store(ctx, d); err != nil {
			logger.ErrorContext(ctx, "failed to contribute fingerprint",
				"error_kind", registry.KindOf(err).String(),
				"err", err)

			return
		}

		logger.DebugContext(ctx, "fingerprint contributed")
	}()
}

// Wait blocks until all in-flight contributions finish. Used on shutdown
// and in tests.
func (g *SendGate) Wait() {
	g.contributions.Wait()
}
