package gate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/gate"
	"github.com/avasconcelos114/hashgate/internal/registry"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

func noopTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()

	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	return tel
}

// fakeBlocks is an in-memory blocklist.BlockRepository.
type fakeBlocks struct {
	mu      sync.Mutex
	records map[fingerprint.Digest]blocklist.BlockRecord
	err     error
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{records: make(map[fingerprint.Digest]blocklist.BlockRecord)}
}

func (f *fakeBlocks) Contains(d fingerprint.Digest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return false, f.err
	}

	_, ok := f.records[d]

	return ok, nil
}

func (f *fakeBlocks) Get(d fingerprint.Digest) (*blocklist.BlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[d]
	if !ok {
		return nil, blocklist.ErrNotFound
	}

	return &rec, nil
}

func (f *fakeBlocks) Put(rec blocklist.BlockRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[rec.Fingerprint] = rec

	return nil
}

func (f *fakeBlocks) Delete(d fingerprint.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, d)

	return nil
}

func (f *fakeBlocks) List() ([]blocklist.BlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := make([]blocklist.BlockRecord, 0, len(f.records))
	for _, rec := range f.records {
		records = append(records, rec)
	}

	return records, nil
}

// fakeRegistry is an in-memory gate.Registry.
type fakeRegistry struct {
	mu            sync.Mutex
	registered    map[fingerprint.Digest]bool
	containsErr   error
	storeErr      error
	containsCalls int
	storeCalls    int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{registered: make(map[fingerprint.Digest]bool)}
}

func (f *fakeRegistry) Contains(_ context.Context, d fingerprint.Digest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.containsCalls++

	if f.containsErr != nil {
		return false, f.containsErr
	}

	return f.registered[d], nil
}

func (f *fakeRegistry) Store(_ context.Context, d fingerprint.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.storeCalls++

	if f.storeErr != nil {
		return f.storeErr
	}

	f.registered[d] = true

	return nil
}

// fakeRetries records retry bookkeeping calls.
type fakeRetries struct {
	mu       sync.Mutex
	upserted []blocklist.RetryItem
}

func (f *fakeRetries) Upsert(item blocklist.RetryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.upserted = append(f.upserted, item)

	return nil
}

func (f *fakeRetries) Due(time.Time, int) ([]blocklist.RetryItem, error) { return nil, nil }

func (f *fakeRetries) Reschedule(fingerprint.Digest, int, time.Time, time.Time) error { return nil }

func (f *fakeRetries) MarkPermanentlyBlocked(fingerprint.Digest, time.Time) error { return nil }

func (f *fakeRetries) Delete(fingerprint.Digest) error { return nil }

func (f *fakeRetries) ListPermanentlyBlocked() ([]blocklist.RetryItem, error) { return nil, nil }

func TestSendGate_Allows(t *testing.T) {
	g := gate.NewSendGate(newFakeBlocks(), newFakeRegistry(), noopTelemetry(t))

	decision := g.Check(context.Background(), fingerprint.Compute([]byte("hello")))

	assert.True(t, decision.Allow)
	assert.NoError(t, decision.Err("sent"))
}

func TestSendGate_LocalBlockSkipsRegistry(t *testing.T) {
	d := fingerprint.Compute([]byte("locally blocked"))

	blocks := newFakeBlocks()
	require.NoError(t, blocks.Put(blocklist.BlockRecord{Fingerprint: d, Reason: "user choice"}))

	reg := newFakeRegistry()
	g := gate.NewSendGate(blocks, reg, noopTelemetry(t))

	decision := g.Check(context.Background(), d)

	assert.False(t, decision.Allow)
	assert.Equal(t, gate.ReasonLocal, decision.Reason)
	assert.Zero(t, reg.containsCalls)
}

func TestSendGate_RegistryHitBlocks(t *testing.T) {
	d := fingerprint.Compute([]byte("globally blocked"))

	reg := newFakeRegistry()
	reg.registered[d] = true

	g := gate.NewSendGate(newFakeBlocks(), reg, noopTelemetry(t))

	decision := g.Check(context.Background(), d)

	assert.False(t, decision.Allow)
	assert.Equal(t, gate.ReasonGlobal, decision.Reason)
}

func TestSendGate_FailsOpenOnRegistryError(t *testing.T) {
	reg := newFakeRegistry()
	reg.containsErr = &registry.Error{Op: "contains", Kind: registry.KindConnectivity}

	g := gate.NewSendGate(newFakeBlocks(), reg, noopTelemetry(t))

	decision := g.Check(context.Background(), fingerprint.Compute([]byte("unreachable registry")))

	assert.True(t, decision.Allow)
}

func TestSendGate_DenialNeverCarriesFingerprint(t *testing.T) {
	d := fingerprint.Compute([]byte("sensitive"))

	reg := newFakeRegistry()
	reg.registered[d] = true

	g := gate.NewSendGate(newFakeBlocks(), reg, noopTelemetry(t))

	err := g.Check(context.Background(), d).Err("sent")
	require.Error(t, err)

	assert.Equal(t, "this content could not be sent", err.Error())
	assert.NotContains(t, err.Error(), d.String())
	assert.NotContains(t, err.Error(), d.Prefix())
}

func TestSendGate_RecordSentContributes(t *testing.T) {
	d := fingerprint.Compute([]byte("sent message"))

	reg := newFakeRegistry()
	g := gate.NewSendGate(newFakeBlocks(), reg, noopTelemetry(t))

	ctx, cancel := context.WithCancel(context.Background())
	g.RecordSent(ctx, d)

	// The contribution survives the send's own cancellation.
	cancel()
	g.Wait()

	assert.Equal(t, 1, reg.storeCalls)
	assert.True(t, reg.registered[d])
}

// TestSendGate_ContributionBlocksRepeatSend walks the full contribution
// round trip: the first send is allowed, its fingerprint is contributed
// after transmission, and a repeat send of the same content is denied by
// the registry.
func TestSendGate_ContributionBlocksRepeatSend(t *testing.T) {
	d := fingerprint.Compute([]byte("forwarded content"))

	reg := newFakeRegistry()
	g := gate.NewSendGate(newFakeBlocks(), reg, noopTelemetry(t))

	first := g.Check(context.Background(), d)
	require.True(t, first.Allow)

	g.RecordSent(context.Background(), d)
	g.Wait()

	second := g.Check(context.Background(), d)
	assert.False(t, second.Allow)
	assert.Equal(t, gate.ReasonGlobal, second.Reason)
}

func TestSendGate_RecordSentFailureIsSilent(t *testing.T) {
	reg := newFakeRegistry()
	reg.storeErr = errors.New("registry down")

	g := gate.NewSendGate(newFakeBlocks(), reg, noopTelemetry(t))

	g.RecordSent(context.Background(), fingerprint.Compute([]byte("sent anyway")))
	g.Wait()

	assert.Equal(t, 1, reg.storeCalls)
}

func TestDownloadGate_CheckBytes(t *testing.T) {
	content := []byte("attachment body")

	g := gate.NewDownloadGate(newFakeBlocks(), &fakeRetries{}, newFakeRegistry(),
		registry.DefaultBackoffPolicy(), noopTelemetry(t))

	d, decision := g.CheckBytes(context.Background(), content, "msg-1/att-1")

	assert.Equal(t, fingerprint.Compute(content), d)
	assert.True(t, decision.Allow)
}

func TestDownloadGate_RegistryHitParksRetry(t *testing.T) {
	d := fingerprint.Compute([]byte("blocked attachment"))

	reg := newFakeRegistry()
	reg.registered[d] = true

	retries := &fakeRetries{}
	g := gate.NewDownloadGate(newFakeBlocks(), retries, reg,
		registry.DefaultBackoffPolicy(), noopTelemetry(t))

	before := time.Now()
	decision := g.Check(context.Background(), d, "msg-1/att-1")

	assert.False(t, decision.Allow)
	assert.Equal(t, gate.ReasonGlobal, decision.Reason)

	require.Len(t, retries.upserted, 1)
	item := retries.upserted[0]
	assert.Equal(t, d, item.Fingerprint)
	assert.Equal(t, "msg-1/att-1", item.AttachmentRef)
	assert.Equal(t, blocklist.RetryPending, item.Status)
	assert.Zero(t, item.AttemptCount)
	assert.True(t, item.NextCheckAt.After(before))
}

func TestDownloadGate_FailsOpenOnRegistryError(t *testing.T) {
	reg := newFakeRegistry()
	reg.containsErr = &registry.Error{Op: "contains", Kind: registry.KindServerFault, Status: 503}

	retries := &fakeRetries{}
	g := gate.NewDownloadGate(newFakeBlocks(), retries, reg,
		registry.DefaultBackoffPolicy(), noopTelemetry(t))

	decision := g.Check(context.Background(), fingerprint.Compute([]byte("flaky registry")), "msg-1/att-1")

	assert.True(t, decision.Allow)
	assert.Empty(t, retries.upserted)
}

func TestDownloadGate_LocalBlockWins(t *testing.T) {
	d := fingerprint.Compute([]byte("locally blocked attachment"))

	blocks := newFakeBlocks()
	require.NoError(t, blocks.Put(blocklist.BlockRecord{Fingerprint: d}))

	reg := newFakeRegistry()
	retries := &fakeRetries{}

	g := gate.NewDownloadGate(blocks, retries, reg,
		registry.DefaultBackoffPolicy(), noopTelemetry(t))

	decision := g.Check(context.Background(), d, "msg-1/att-1")

	assert.False(t, decision.Allow)
	assert.Equal(t, gate.ReasonLocal, decision.Reason)
	assert.Zero(t, reg.containsCalls)
	assert.Empty(t, retries.upserted)
}
