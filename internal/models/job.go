package models

import "time"

// JobType selects which worker loop executes a job.
type JobType string

const (
	JobTypeProcessing JobType = "processing"
	JobTypeDiscovery  JobType = "discovery"
)

// JobStatus is the queue-level state of a job.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job priorities. Higher dequeues first when both are eligible.
const (
	PriorityDiscovery  = 0
	PriorityProcessing = 5
	PriorityRetry      = 10
)

// Job is one unit of queued work. A repeating job carries a non-empty
// RepeatKey (one active repeating instance per key) and a positive
// RepeatInterval; it re-arms instead of completing.
type Job struct {
	ID             string        `json:"id"`
	Type           JobType       `json:"type"`
	UserID         string        `json:"user_id"`
	MessageID      string        `json:"message_id,omitempty"`
	Priority       int           `json:"priority"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"max_attempts"`
	Status         JobStatus     `json:"status"`
	ScheduledAt    time.Time     `json:"scheduled_at"`
	RepeatKey      string        `json:"repeat_key,omitempty"`
	RepeatInterval time.Duration `json:"repeat_interval,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsRepeating reports whether the job re-arms after each run.
func (j *Job) IsRepeating() bool {
	return j.RepeatKey != "" && j.RepeatInterval > 0
}

// QueueStats is a snapshot of job counts by status.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
