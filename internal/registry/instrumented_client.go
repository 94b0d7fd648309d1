package registry

import (
	"context"

	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

// InstrumentedClient wraps a Client with telemetry.
type InstrumentedClient struct {
	client    Client
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented registry client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

func (c *InstrumentedClient) instrument(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.telemetry.InstrumentRegistryOperation(ctx, op, fn)
	if err != nil {
		c.telemetry.RecordRegistryError(op, KindOf(err).String())
	}

	return err
}

// Contains checks a fingerprint with telemetry.
func (c *InstrumentedClient) Contains(ctx context.Context, d fingerprint.Digest) (bool, error) {
	var result bool

	var err error

	instrumentedErr := c.instrument(ctx, "contains", func(ctx context.Context) error {
		result, err = c.client.Contains(ctx, d)

		return err
	})
	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// Store registers a fingerprint with telemetry.
func (c *InstrumentedClient) Store(ctx context.Context, d fingerprint.Digest) error {
	return c.instrument(ctx, "store", func(ctx context.Context) error {
		return c.client.Store(ctx, d)
	})
}

// Delete removes a fingerprint with telemetry.
func (c *InstrumentedClient) Delete(ctx context.Context, d fingerprint.Digest) error {
	return c.instrument(ctx, "delete", func(ctx context.Context) error {
		return c.client.Delete(ctx, d)
	})
}

// BatchContains checks fingerprints with telemetry.
func (c *InstrumentedClient) BatchContains(ctx context.Context, ds []fingerprint.Digest) (map[fingerprint.Digest]bool, error) {
	var result map[fingerprint.Digest]bool

	var err error

	instrumentedErr := c.instrument(ctx, "batch_contains", func(ctx context.Context) error {
		result, err = c.client.BatchContains(ctx, ds)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// BatchStore registers fingerprints with telemetry.
func (c *InstrumentedClient) BatchStore(ctx context.Context, ds []fingerprint.Digest) (BatchResult, error) {
	var result BatchResult

	var err error

	instrumentedErr := c.instrument(ctx, "batch_store", func(ctx context.Context) error {
		result, err = c.client.BatchStore(ctx, ds)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// BatchDelete removes fingerprints with telemetry.
func (c *InstrumentedClient) BatchDelete(ctx context.Context, ds []fingerprint.Digest) (BatchResult, error) {
	var result BatchResult

	var err error

	instrumentedErr := c.instrument(ctx, "batch_delete", func(ctx context.Context) error {
		result, err = c.client.BatchDelete(ctx, ds)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// SubmitBulkImport submits a bulk import with telemetry.
func (c *InstrumentedClient) SubmitBulkImport(ctx context.Context, ds []fingerprint.Digest, format ImportFormat) (string, error) {
	var jobID string

	var err error

	instrumentedErr := c.instrument(ctx, "submit_bulk_import", func(ctx context.Context) error {
		jobID, err = c.client.SubmitBulkImport(ctx, ds, format)

		return err
	})
	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return jobID, nil
}

// JobStatus fetches job state with telemetry.
func (c *InstrumentedClient) JobStatus(ctx context.Context, jobID string) (*BatchJob, error) {
	var job *BatchJob

	var err error

	instrumentedErr := c.instrument(ctx, "job_status", func(ctx context.Context) error {
		job, err = c.client.JobStatus(ctx, jobID)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return job, nil
}

// CancelJob requests job cancellation with telemetry.
func (c *InstrumentedClient) CancelJob(ctx context.Context, jobID string) error {
	return c.instrument(ctx, "cancel_job", func(ctx context.Context) error {
		return c.client.CancelJob(ctx, jobID)
	})
}
