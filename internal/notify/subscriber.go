package notify

import (
	"encoding/json"
	"log"
	"time"

	"github.com/makaronz/stillontime/internal/metrics"
	"github.com/makaronz/stillontime/internal/queue"
)

// Sender is the push capability the subscriber writes to. *Hub implements it.
type Sender interface {
	Send(userID string, msg []byte)
}

// JobUpdate is the wire format pushed to clients for one job outcome.
type JobUpdate struct {
	Type      string    `json:"type"`
	JobID     string    `json:"jobId"`
	JobType   string    `json:"jobType"`
	Outcome   string    `json:"outcome"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber forwards queue events to the hub and records queue metrics.
// It holds no pipeline logic: every event is serialize-and-send.
type Subscriber struct {
	sender  Sender
	metrics metrics.Recorder
}

func NewSubscriber(sender Sender, recorder metrics.Recorder) *Subscriber {
	return &Subscriber{sender: sender, metrics: recorder}
}

// Run consumes events until the channel is closed. Call it in its own
// goroutine; it returns when the queue stops.
func (s *Subscriber) Run(events <-chan queue.Event) {
	for event := range events {
		if event.Kind == queue.EventRetried {
			s.metrics.RecordJobRetry()
			continue
		}

		update := JobUpdate{
			Type:      "job_update",
			JobID:     event.Job.ID,
			JobType:   string(event.Job.Type),
			Outcome:   string(event.Kind),
			MessageID: event.Job.MessageID,
			Error:     event.ErrMsg,
			Timestamp: time.Now().UTC(),
		}

		payload, err := json.Marshal(update)
		if err != nil {
			log.Printf("Warning: notify: could not encode job update for %s: %v", event.Job.ID, err)
			continue
		}
		s.sender.Send(event.Job.UserID, payload)
	}
}
