package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// JobStatus is the lifecycle state of a bulk-import job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// BatchJob tracks a bulk-import submission.
type BatchJob struct {
	ID             string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	FailedItems    int       `json:"failed_items"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobTracker caches the last observed state of submitted jobs. Transitions
// are monotonic: once a job is terminal, later observations claiming
// otherwise are discarded.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]BatchJob
}

func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]BatchJob)}
}

// Record stores the observed job state. It returns false when the update
// was rejected because the tracked state is already terminal.
func (t *JobTracker) Record(job BatchJob) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if known, ok := t.jobs[job.ID]; ok && known.Status.Terminal() && known.Status != job.Status {
		return false
	}

	t.jobs[job.ID] = job

	return true
}

// Get returns the last observed state of a job.
func (t *JobTracker) Get(jobID string) (BatchJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[jobID]

	return job, ok
}

// WaitForJob polls the registry until the job reaches a terminal state or
// the context is cancelled. The current network call finishes before the
// cancellation takes effect; no new call is started after it.
func WaitForJob(ctx context.Context, c Client, jobID string, interval time.Duration) (*BatchJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.JobStatus(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll job %s: %w", jobID, err)
		}

		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
