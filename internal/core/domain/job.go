package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobID string

// Job is one text-filtering request. It is never mutated after creation.
type Job struct {
	ID          JobID     `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewJob creates a job with a fresh UUID.
func NewJob(text string, now time.Time) Job {
	return Job{
		ID:          JobID(uuid.New().String()),
		Text:        text,
		SubmittedAt: now,
	}
}

// Result is an entry of the result log. Seq is the 1-based completion index.
type Result struct {
	Seq         int64         `json:"seq"`
	JobID       JobID         `json:"job_id"`
	Original    string        `json:"original"`
	Filtered    string        `json:"filtered"`
	ProcessedBy WorkerAddress `json:"processed_by"`
	SubmittedAt time.Time     `json:"submitted_at"`
	CompletedAt time.Time     `json:"completed_at"`
}
