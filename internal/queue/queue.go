// Package queue holds delivery jobs between publish and send. A job is
// keyed by its delivery id: it exists from Enqueue until Complete or Fail,
// and enqueueing an id that already exists is a no-op.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClaimLost is returned by Complete, Retry and Fail when the caller's
// lease expired and the job was released or claimed again.
var ErrClaimLost = errors.New("queue: job claim lost")

// Job references a delivery row. The payload is never carried on the job;
// the worker reads it from the delivery row.
type Job struct {
	ID          string
	DeliveryID  string
	WebhookID   string
	Attempt     int
	MaxAttempts int
	// BaseAttempt offsets attempt numbering for manually retried deliveries.
	BaseAttempt int
	LastError   string
	EnqueuedAt  time.Time
	// Claim identifies one Dequeue of the job. Transitions made with a stale
	// claim are rejected.
	Claim string
}

// NewJob returns a job for a delivery with a fresh attempt budget.
func NewJob(deliveryID, webhookID string, maxAttempts, baseAttempt int, now time.Time) Job {
	return Job{
		ID:          deliveryID,
		DeliveryID:  deliveryID,
		WebhookID:   webhookID,
		MaxAttempts: maxAttempts,
		BaseAttempt: baseAttempt,
		EnqueuedAt:  now,
	}
}

// Exhausted reports whether the current attempt is the last one allowed.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// AttemptNumber is the attempt number recorded on the delivery row.
func (j *Job) AttemptNumber() int {
	return j.BaseAttempt + j.Attempt
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

type Queue interface {
	// Enqueue adds a job. It returns false without error when a job with the
	// same id is already queued.
	Enqueue(ctx context.Context, job Job) (bool, error)
	// Dequeue claims the next ready job, incrementing its attempt. It returns
	// nil when nothing is ready or the queue is paused.
	Dequeue(ctx context.Context) (*Job, error)
	// Complete, Retry and Fail act on a claimed job. They return
	// ErrClaimLost when job.Claim is no longer the current claim, and nil
	// when the job has already been finished.
	Complete(ctx context.Context, job *Job) error
	// Retry releases a claimed job to run again after delay. The job's
	// Attempt is stored as given.
	Retry(ctx context.Context, job *Job, delay time.Duration, reason string) error
	Fail(ctx context.Context, job *Job, reason string) error
	Counts(ctx context.Context) (Counts, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Drain removes waiting and delayed jobs. Claimed jobs are untouched.
	Drain(ctx context.Context) error
}

// DefaultLeaseTimeout bounds how long a claimed job stays invisible before
// it is handed to another worker. It must exceed the delivery timeout.
const DefaultLeaseTimeout = 60 * time.Second
