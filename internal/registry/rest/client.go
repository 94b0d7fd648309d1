// Package rest implements the canonical HTTP client for the remote
// fingerprint registry: fingerprint-keyed resources with conditional
// creation, TTL-bounded entries, batched variants and a bulk-import
// submission path.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/logctx"
	"github.com/avasconcelos114/hashgate/internal/registry"
)

const (
	// batchChunkSize caps how many fingerprints travel in one batch
	// request; larger inputs are chunked and fanned out.
	batchChunkSize = 100

	// batchParallelism bounds concurrent chunk requests per batch call.
	batchParallelism = 4
)

// Client talks to the remote registry over HTTP. It is stateless per call
// except for the job tracker, which is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	timeout time.Duration
	policy  registry.BackoffPolicy
	jobs    *registry.JobTracker
}

// Option customizes a Client.
type Option func(*Client)

// WithTTL overrides the expiry the client writes on store.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBackoffPolicy overrides the retry schedule.
func WithBackoffPolicy(p registry.BackoffPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHTTPClient replaces the underlying HTTP client, dropping the oauth2
// transport. Meant for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds a registry client. Credentials come from the token
// source; the client never manages credential issuance itself.
func NewClient(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	httpClient := oauth2.NewClient(context.Background(), tokens)
	httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)

	c := &Client{
		baseURL: baseURL,
		http:    httpClient,
		ttl:     30 * 24 * time.Hour,
		timeout: 10 * time.Second,
		policy:  registry.DefaultBackoffPolicy(),
		jobs:    registry.NewJobTracker(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Jobs exposes the tracker holding the last observed bulk-import states.
func (c *Client) Jobs() *registry.JobTracker {
	return c.jobs
}

// Contains reports whether an unexpired entry exists for d.
func (c *Client) Contains(ctx context.Context, d fingerprint.Digest) (bool, error) {
	status, err := c.call(ctx, "contains", d.Prefix(),
		http.MethodGet, "/v1/fingerprints/"+d.String(), nil, nil,
		http.StatusOK, http.StatusNotFound)
	if err != nil {
		return false, err
	}

	return status == http.StatusOK, nil
}

// Store registers d with a fresh TTL. The write is conditional on the
// server: HTTP 409 means another store already created the entry, which
// counts as success so repeated stores never error and never double-count.
func (c *Client) Store(ctx context.Context, d fingerprint.Digest) error {
	entry := registry.NewEntry(d, c.ttl)

	status, err := c.call(ctx, "store", d.Prefix(),
		http.MethodPut, "/v1/fingerprints/"+d.String(), entry, nil,
		http.StatusCreated, http.StatusConflict)
	if err != nil {
		return err
	}

	if status == http.StatusConflict {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "fingerprint already registered",
			"operation", "store", "fingerprint_prefix", d.Prefix())
	}

	return nil
}

// Delete removes the entry for d. Deleting an absent fingerprint succeeds.
func (c *Client) Delete(ctx context.Context, d fingerprint.Digest) error {
	_, err := c.call(ctx, "delete", d.Prefix(),
		http.MethodDelete, "/v1/fingerprints/"+d.String(), nil, nil,
		http.StatusNoContent, http.StatusNotFound)

	return err
}

type batchCheckRequest struct {
	Fingerprints []fingerprint.Digest `json:"fingerprints"`
}

type batchCheckResponse struct {
	Results map[fingerprint.Digest]bool `json:"results"`
}

// BatchContains checks many fingerprints at once. Inputs beyond the chunk
// size fan out as parallel requests; a failed chunk fails the whole call
// since a partial existence map would be indistinguishable from absence.
func (c *Client) BatchContains(ctx context.Context, ds []fingerprint.Digest) (map[fingerprint.Digest]bool, error) {
	results := make(map[fingerprint.Digest]bool, len(ds))

	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)

	for chunk := range slices.Chunk(ds, batchChunkSize) {
		g.Go(func() error {
			var resp batchCheckResponse

			_, err := c.call(ctx, "batch_contains", "",
				http.MethodPost, "/v1/fingerprints/batch/check",
				batchCheckRequest{Fingerprints: chunk}, &resp,
				http.StatusOK)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()

			for d, exists := range resp.Results {
				results[d] = exists
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

type batchStoreRequest struct {
	Entries []registry.Entry `json:"entries"`
}

type batchWriteResponse struct {
	Results map[fingerprint.Digest]string `json:"results"`
}

// BatchStore applies the single-item store contract per element. Partial
// failure is reported per fingerprint in the result, never as one error
// for the whole batch.
func (c *Client) BatchStore(ctx context.Context, ds []fingerprint.Digest) (registry.BatchResult, error) {
	return c.batchWrite(ctx, "batch_store", ds, func(chunk []fingerprint.Digest) (string, any) {
		entries := make([]registry.Entry, 0, len(chunk))
		for _, d := range chunk {
			entries = append(entries, registry.NewEntry(d, c.ttl))
		}

		return "/v1/fingerprints/batch/store", batchStoreRequest{Entries: entries}
	})
}

// BatchDelete applies the single-item delete contract per element.
func (c *Client) BatchDelete(ctx context.Context, ds []fingerprint.Digest) (registry.BatchResult, error) {
	return c.batchWrite(ctx, "batch_delete", ds, func(chunk []fingerprint.Digest) (string, any) {
		return "/v1/fingerprints/batch/delete", batchCheckRequest{Fingerprints: chunk}
	})
}

func (c *Client) batchWrite(
	ctx context.Context, op string, ds []fingerprint.Digest,
	build func(chunk []fingerprint.Digest) (string, any),
) (registry.BatchResult, error) {
	result := make(registry.BatchResult, len(ds))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)

	for chunk := range slices.Chunk(ds, batchChunkSize) {
		g.Go(func() error {
			path, body := build(chunk)

			var resp batchWriteResponse

			_, err := c.call(gctx, op, "", http.MethodPost, path, body, &resp, http.StatusOK)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// The chunk never reached the registry; report the
				// same outcome for each of its fingerprints.
				for _, d := range chunk {
					result[d] = err
				}

				return nil
			}

			for d, outcome := range resp.Results {
				result[d] = outcomeError(op, d, outcome)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// outcomeError translates a per-item batch outcome into the single-item
// contract: created/exists/deleted/absent all satisfy idempotency.
func outcomeError(op string, d fingerprint.Digest, outcome string) error {
	switch outcome {
	case "created", "exists", "deleted", "absent":
		return nil
	default:
		return &registry.Error{
			Op:                op,
			Kind:              registry.KindServerFault,
			FingerprintPrefix: d.Prefix(),
		}
	}
}

type importRequest struct {
	Format       registry.ImportFormat `json:"format"`
	Fingerprints []fingerprint.Digest  `json:"fingerprints"`
}

type importResponse struct {
	JobID string `json:"job_id"`
}

// SubmitBulkImport hands the fingerprints to the out-of-band bulk loader
// and returns a job id for polling. The submission carries a request id so
// a retried POST cannot create a second job.
func (c *Client) SubmitBulkImport(ctx context.Context, ds []fingerprint.Digest, format registry.ImportFormat) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	body, err := json.Marshal(importRequest{Format: format, Fingerprints: ds})
	if err != nil {
		return "", fmt.Errorf("failed to encode import manifest: %w", err)
	}

	requestID := uuid.New().String()

	logger.InfoContext(ctx, "submitting bulk import",
		"format", string(format),
		"item_count", len(ds),
		"manifest_size", humanize.Bytes(uint64(len(body))),
		"request_id", requestID)

	var resp importResponse

	_, err = c.callRaw(ctx, "submit_bulk_import", "",
		http.MethodPost, "/v1/imports", body, &resp,
		map[string]string{"X-Request-ID": requestID},
		http.StatusAccepted)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	c.jobs.Record(registry.BatchJob{
		ID:         resp.JobID,
		Status:     registry.JobPending,
		TotalItems: len(ds),
		CreatedAt:  now,
		UpdatedAt:  now,
	})

	return resp.JobID, nil
}

// JobStatus fetches the current state of a bulk-import job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*registry.BatchJob, error) {
	var job registry.BatchJob

	_, err := c.call(ctx, "job_status", "",
		http.MethodGet, "/v1/imports/"+jobID, nil, &job,
		http.StatusOK)
	if err != nil {
		return nil, err
	}

	c.jobs.Record(job)

	return &job, nil
}

// CancelJob requests cancellation. A job already in a terminal state
// (HTTP 409) cannot regress, so the request is a no-op, not an error.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	status, err := c.call(ctx, "cancel_job", "",
		http.MethodPost, "/v1/imports/"+jobID+"/cancel", nil, nil,
		http.StatusOK, http.StatusConflict)
	if err != nil {
		return err
	}

	if status == http.StatusOK {
		if job, ok := c.jobs.Get(jobID); ok {
			job.Status = registry.JobCancelled
			job.UpdatedAt = time.Now().UTC()
			c.jobs.Record(job)
		}
	}

	return nil
}

// call JSON-encodes body (when non-nil) and runs callRaw.
func (c *Client) call(
	ctx context.Context, op, prefix, method, path string,
	body, out any, okStatuses ...int,
) (int, error) {
	var encoded []byte

	if body != nil {
		var err error

		encoded, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	return c.callRaw(ctx, op, prefix, method, path, encoded, out, nil, okStatuses...)
}

// callRaw performs one logical registry operation: per-attempt timeout,
// status-to-kind mapping, and bounded retries with jittered exponential
// backoff for the retryable kinds. No lock is held across the request or
// the backoff sleeps.
func (c *Client) callRaw(
	ctx context.Context, op, prefix, method, path string,
	body []byte, out any, headers map[string]string, okStatuses ...int,
) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	status, err := backoff.Retry(ctx, func() (int, error) {
		status, err := c.once(ctx, op, prefix, method, path, body, out, headers, okStatuses)
		if err != nil {
			if !registry.KindOf(err).Retryable() {
				return 0, backoff.Permanent(err)
			}

			logger.DebugContext(ctx, "registry attempt failed, will retry",
				"operation", op,
				"fingerprint_prefix", prefix,
				"error_kind", registry.KindOf(err).String())

			return 0, err
		}

		return status, nil
	},
		backoff.WithBackOff(c.policy.NewBackOff()),
		backoff.WithMaxTries(c.policy.Tries()),
	)
	if err != nil {
		logger.ErrorContext(ctx, "registry operation failed",
			"operation", op,
			"fingerprint_prefix", prefix,
			"error_kind", registry.KindOf(err).String(),
			"err", err)

		return 0, err
	}

	return status, nil
}

func (c *Client) once(
	ctx context.Context, op, prefix, method, path string,
	body []byte, out any, headers map[string]string, okStatuses []int,
) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &registry.Error{
			Op:                op,
			Kind:              transportKind(err),
			FingerprintPrefix: prefix,
			Err:               err,
		}
	}
	defer resp.Body.Close()

	if !slices.Contains(okStatuses, resp.StatusCode) {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return 0, &registry.Error{
			Op:                op,
			Kind:              registry.KindFromStatus(resp.StatusCode),
			Status:            resp.StatusCode,
			FingerprintPrefix: prefix,
		}
	}

	if out != nil && resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, &registry.Error{
				Op:                op,
				Kind:              registry.KindServerFault,
				Status:            resp.StatusCode,
				FingerprintPrefix: prefix,
				Err:               fmt.Errorf("failed to decode response: %w", err),
			}
		}
	}

	return resp.StatusCode, nil
}

// transportKind classifies request failures that produced no response.
// A failing token source surfaces through the oauth2 transport and means
// the credential collaborator must refresh; everything else is
// connectivity, including per-attempt timeouts.
func transportKind(err error) registry.Kind {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return registry.KindUnauthorized
	}

	return registry.KindConnectivity
}
