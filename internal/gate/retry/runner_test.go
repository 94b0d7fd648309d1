package retry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/gate/retry"
	"github.com/avasconcelos114/hashgate/internal/registry"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

func noopTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()

	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	return tel
}

// fakeChecker answers Contains from a fixed map, or fails.
type fakeChecker struct {
	mu      sync.Mutex
	blocked map[fingerprint.Digest]bool
	err     error
}

func (f *fakeChecker) Contains(_ context.Context, d fingerprint.Digest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return false, f.err
	}

	return f.blocked[d], nil
}

// fakeRetries records the bookkeeping the runner performs.
type fakeRetries struct {
	mu          sync.Mutex
	due         []blocklist.RetryItem
	rescheduled []rescheduleCall
	blocked     []fingerprint.Digest
	deleted     []fingerprint.Digest
}

type rescheduleCall struct {
	fingerprint  fingerprint.Digest
	attemptCount int
	nextCheckAt  time.Time
}

func (f *fakeRetries) Upsert(blocklist.RetryItem) error { return nil }

func (f *fakeRetries) Due(time.Time, int) ([]blocklist.RetryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.due, nil
}

func (f *fakeRetries) Reschedule(d fingerprint.Digest, attemptCount int, _, nextCheckAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rescheduled = append(f.rescheduled, rescheduleCall{d, attemptCount, nextCheckAt})

	return nil
}

func (f *fakeRetries) MarkPermanentlyBlocked(d fingerprint.Digest, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blocked = append(f.blocked, d)

	return nil
}

func (f *fakeRetries) Delete(d fingerprint.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, d)

	return nil
}

func (f *fakeRetries) ListPermanentlyBlocked() ([]blocklist.RetryItem, error) { return nil, nil }

func newRunner(retries *fakeRetries, checker *fakeChecker, maxAttempts int, tel *telemetry.Telemetry) *retry.Runner {
	policy := registry.BackoffPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  3,
	}

	return retry.NewRunner(retries, checker, policy, time.Millisecond, 100, maxAttempts, tel)
}

func TestSweep_ReactivatesUnblockedItem(t *testing.T) {
	d := fingerprint.Compute([]byte("no longer blocked"))

	retries := &fakeRetries{due: []blocklist.RetryItem{{
		Fingerprint:   d,
		AttachmentRef: "msg-1/att-1",
		AttemptCount:  2,
		Status:        blocklist.RetryPending,
	}}}
	checker := &fakeChecker{blocked: map[fingerprint.Digest]bool{}}

	runner := newRunner(retries, checker, 8, noopTelemetry(t))

	done := make(chan error, 1)

	go func() { done <- runner.Sweep(context.Background()) }()

	select {
	case item := <-runner.OnReactivated:
		assert.Equal(t, d, item.Fingerprint)
		assert.Equal(t, "msg-1/att-1", item.AttachmentRef)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reactivation event")
	}

	require.NoError(t, <-done)
	assert.Equal(t, []fingerprint.Digest{d}, retries.deleted)
	assert.Empty(t, retries.rescheduled)
	assert.Empty(t, retries.blocked)
}

func TestSweep_ReschedulesStillBlockedItem(t *testing.T) {
	d := fingerprint.Compute([]byte("still blocked"))

	retries := &fakeRetries{due: []blocklist.RetryItem{{
		Fingerprint:  d,
		AttemptCount: 2,
		Status:       blocklist.RetryPending,
	}}}
	checker := &fakeChecker{blocked: map[fingerprint.Digest]bool{d: true}}

	runner := newRunner(retries, checker, 8, noopTelemetry(t))

	before := time.Now()
	require.NoError(t, runner.Sweep(context.Background()))

	require.Len(t, retries.rescheduled, 1)
	call := retries.rescheduled[0]
	assert.Equal(t, d, call.fingerprint)
	assert.Equal(t, 3, call.attemptCount)
	assert.True(t, call.nextCheckAt.After(before))
	assert.Empty(t, retries.deleted)
	assert.Empty(t, retries.blocked)
}

func TestSweep_RegistryErrorConsumesAttempt(t *testing.T) {
	d := fingerprint.Compute([]byte("unreachable"))

	retries := &fakeRetries{due: []blocklist.RetryItem{{
		Fingerprint: d,
		Status:      blocklist.RetryPending,
	}}}
	checker := &fakeChecker{err: &registry.Error{Op: "contains", Kind: registry.KindConnectivity}}

	runner := newRunner(retries, checker, 8, noopTelemetry(t))

	require.NoError(t, runner.Sweep(context.Background()))

	require.Len(t, retries.rescheduled, 1)
	assert.Equal(t, 1, retries.rescheduled[0].attemptCount)
	assert.Empty(t, retries.deleted)
}

func TestSweep_ExhaustedItemIsPermanentlyBlocked(t *testing.T) {
	d := fingerprint.Compute([]byte("hopeless"))

	retries := &fakeRetries{due: []blocklist.RetryItem{{
		Fingerprint:  d,
		AttemptCount: 7,
		Status:       blocklist.RetryPending,
	}}}
	checker := &fakeChecker{blocked: map[fingerprint.Digest]bool{d: true}}

	runner := newRunner(retries, checker, 8, noopTelemetry(t))

	require.NoError(t, runner.Sweep(context.Background()))

	assert.Equal(t, []fingerprint.Digest{d}, retries.blocked)
	assert.Empty(t, retries.rescheduled)
	assert.Empty(t, retries.deleted)
}

func TestRun_StopsOnCancel(t *testing.T) {
	retries := &fakeRetries{}
	checker := &fakeChecker{}

	runner := newRunner(retries, checker, 8, noopTelemetry(t))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		runner.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop on cancellation")
	}
}

// TestRun_ClosesEventChannelAfterLastSweep stops the runner while an item
// is mid-reactivation. The event channel must not be closed until the
// sweep in flight has finished with it, and must be closed once Run
// returns so consumers ranging over it terminate.
func TestRun_ClosesEventChannelAfterLastSweep(t *testing.T) {
	d := fingerprint.Compute([]byte("reactivated during shutdown"))

	retries := &fakeRetries{due: []blocklist.RetryItem{{
		Fingerprint:   d,
		AttachmentRef: "msg-1/att-1",
		Status:        blocklist.RetryPending,
	}}}
	checker := &fakeChecker{blocked: map[fingerprint.Digest]bool{}}

	runner := newRunner(retries, checker, 8, noopTelemetry(t))

	ctx, cancel := context.WithCancel(context.Background())

	go runner.Run(ctx)

	// A sweep reaches reactivate and blocks on the unconsumed send.
	item, ok := <-runner.OnReactivated
	require.True(t, ok)
	assert.Equal(t, d, item.Fingerprint)

	cancel()

	// Only Run closes the channel, and only after its loop exited; every
	// receive until then either delivers an item or reports the close.
	deadline := time.After(time.Second)

	for {
		select {
		case _, ok := <-runner.OnReactivated:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel was not closed after the runner stopped")
		}
	}
}
