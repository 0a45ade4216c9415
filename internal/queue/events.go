package queue

import "github.com/makaronz/stillontime/internal/models"

// EventKind marks the outcome of one job execution.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRetried   EventKind = "retried"
)

// Event is published on the queue's event channel when a job completes,
// fails for good, or is rescheduled for retry. Observers (push
// notifications, metrics) consume it; no state transition ever happens in an
// event consumer.
type Event struct {
	Kind   EventKind
	Job    models.Job
	ErrMsg string
}
