package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaronz/stillontime/internal/metrics"
	"github.com/makaronz/stillontime/internal/models"
	"github.com/makaronz/stillontime/internal/queue"
)

type captureSender struct {
	userIDs  []string
	payloads [][]byte
}

func (c *captureSender) Send(userID string, msg []byte) {
	c.userIDs = append(c.userIDs, userID)
	c.payloads = append(c.payloads, msg)
}

func TestSubscriberForwardsTerminalEvents(t *testing.T) {
	sender := &captureSender{}
	sub := NewSubscriber(sender, metrics.Noop{})

	events := make(chan queue.Event, 3)
	events <- queue.Event{
		Kind: queue.EventCompleted,
		Job:  models.Job{ID: "job-1", Type: models.JobTypeProcessing, UserID: "user-1", MessageID: "msg-1"},
	}
	events <- queue.Event{
		Kind:   queue.EventFailed,
		Job:    models.Job{ID: "job-2", Type: models.JobTypeDiscovery, UserID: "user-2"},
		ErrMsg: "mailbox unreachable",
	}
	// Retries are metrics-only, nothing is pushed.
	events <- queue.Event{
		Kind: queue.EventRetried,
		Job:  models.Job{ID: "job-3", Type: models.JobTypeProcessing, UserID: "user-1"},
	}
	close(events)

	sub.Run(events)

	require.Len(t, sender.payloads, 2)
	assert.Equal(t, []string{"user-1", "user-2"}, sender.userIDs)

	var first JobUpdate
	require.NoError(t, json.Unmarshal(sender.payloads[0], &first))
	assert.Equal(t, "job_update", first.Type)
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, "completed", first.Outcome)
	assert.Equal(t, "msg-1", first.MessageID)

	var second JobUpdate
	require.NoError(t, json.Unmarshal(sender.payloads[1], &second))
	assert.Equal(t, "failed", second.Outcome)
	assert.Equal(t, "mailbox unreachable", second.Error)
}
