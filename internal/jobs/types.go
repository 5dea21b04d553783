package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeEnhanceReceipt represents a background receipt-enhancement job.
	JobTypeEnhanceReceipt JobType = "enhance_receipt"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// EnhanceReceiptJob asks the background path to run AI categorization for an
// archived receipt and apply the result to the persisted record and, when the
// receipt was attached to an expense report, to its line item and report.
type EnhanceReceiptJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ReceiptID is the id of the raw receipt record to enhance.
	ReceiptID string `json:"receipt_id"`

	// ItemID is the expense line item to re-categorize, if one was created.
	ItemID string `json:"item_id,omitempty"`

	// ReportID is the parent report whose total is recomputed, if any.
	ReportID string `json:"report_id,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`

	// done is closed when the job reaches a terminal status. It lets the
	// synchronous pipeline, and tests, await the background enhancement
	// deterministically instead of sleeping.
	done chan struct{}
}

// Done returns a channel that is closed once the job reaches a terminal
// status. It is safe to call before the job is published.
func (j *EnhanceReceiptJob) Done() <-chan struct{} {
	j.initDone()
	return j.done
}

func (j *EnhanceReceiptJob) initDone() {
	if j.done == nil {
		j.done = make(chan struct{})
	}
}

// MarkDone closes the completion channel. Queue implementations call it once
// the job reaches a terminal status; calling it again is a no-op.
func (j *EnhanceReceiptJob) MarkDone() {
	j.initDone()
	select {
	case <-j.done:
	default:
		close(j.done)
	}
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *EnhanceReceiptJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *EnhanceReceiptJob) GetType() JobType {
	return JobTypeEnhanceReceipt
}

// GetStatus implements the Job interface.
func (j *EnhanceReceiptJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishEnhanceReceipt publishes a receipt enhancement job.
	PublishEnhanceReceipt(ctx context.Context, job *EnhanceReceiptJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
// This allows tracking job execution across service restarts.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *EnhanceReceiptJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*EnhanceReceiptJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*EnhanceReceiptJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// ReceiptID filters jobs by receipt ID.
	ReceiptID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
