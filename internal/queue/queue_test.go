package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaronz/stillontime/internal/models"
)

// memJobStore is an in-memory Store for exercising the worker loop without
// a database. Claim semantics mirror the SQL store: highest priority first,
// attempts incremented on claim, future jobs ineligible.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.Job)}
}

func (s *memJobStore) Enqueue(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.ID = uuid.New().String()
	job.Status = models.JobStatusWaiting
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now().UTC()
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memJobStore) EnqueueRepeating(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	for id, existing := range s.jobs {
		if existing.RepeatKey == job.RepeatKey {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()
	return s.Enqueue(ctx, job)
}

func (s *memJobStore) CancelRepeating(_ context.Context, repeatKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.RepeatKey == repeatKey {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *memJobStore) ClaimNext(_ context.Context, jobType models.JobType) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var best *models.Job
	for _, job := range s.jobs {
		if job.Type != jobType || job.Status != models.JobStatusWaiting || job.ScheduledAt.After(now) {
			continue
		}
		if best == nil || job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.ScheduledAt.Before(best.ScheduledAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, false, nil
	}

	best.Status = models.JobStatusActive
	best.Attempts++
	clone := *best
	return &clone, true, nil
}

func (s *memJobStore) MarkCompleted(_ context.Context, id string) error {
	return s.setStatus(id, models.JobStatusCompleted, "")
}

func (s *memJobStore) MarkFailed(_ context.Context, id, lastError string) error {
	return s.setStatus(id, models.JobStatusFailed, lastError)
}

func (s *memJobStore) RetryLater(_ context.Context, id, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = models.JobStatusWaiting
	job.LastError = lastError
	job.ScheduledAt = at
	return nil
}

func (s *memJobStore) Rearm(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = models.JobStatusWaiting
	job.Attempts = 0
	job.ScheduledAt = at
	return nil
}

func (s *memJobStore) RequeueStale(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (s *memJobStore) Stats(context.Context) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.QueueStats
	for _, job := range s.jobs {
		switch job.Status {
		case models.JobStatusWaiting:
			stats.Waiting++
		case models.JobStatusActive:
			stats.Active++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *memJobStore) setStatus(id string, status models.JobStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	if lastError != "" {
		job.LastError = lastError
	}
	return nil
}

func (s *memJobStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func testConfig() Config {
	return Config{
		Concurrency: map[models.JobType]int{models.JobTypeProcessing: 1},
		IdleDelay:   5 * time.Millisecond,
		JobTimeout:  time.Second,
		Backoff:     BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case event, ok := <-events:
		require.True(t, ok, "event channel closed before expected event")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue event")
		return Event{}
	}
}

func TestQueueRunsJobToCompletion(t *testing.T) {
	store := newMemJobStore()
	q := New(store, testConfig())

	var handled []string
	var mu sync.Mutex
	q.RegisterHandler(models.JobTypeProcessing, func(_ context.Context, job *models.Job) error {
		mu.Lock()
		handled = append(handled, job.MessageID)
		mu.Unlock()
		return nil
	})

	job := &models.Job{
		Type:        models.JobTypeProcessing,
		UserID:      "user-1",
		MessageID:   "msg-1",
		Priority:    models.PriorityProcessing,
		MaxAttempts: 3,
	}
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Start())
	defer q.Stop()

	event := waitEvent(t, q.Events())
	assert.Equal(t, EventCompleted, event.Kind)
	assert.Equal(t, "msg-1", event.Job.MessageID)

	mu.Lock()
	assert.Equal(t, []string{"msg-1"}, handled)
	mu.Unlock()

	assert.Equal(t, models.JobStatusCompleted, store.get(job.ID).Status)
}

func TestQueueRetriesThenFails(t *testing.T) {
	store := newMemJobStore()
	q := New(store, testConfig())

	var attempts int
	var mu sync.Mutex
	q.RegisterHandler(models.JobTypeProcessing, func(context.Context, *models.Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("mailbox unreachable")
	})

	job := &models.Job{
		Type:        models.JobTypeProcessing,
		UserID:      "user-1",
		MessageID:   "msg-flaky",
		Priority:    models.PriorityProcessing,
		MaxAttempts: 2,
	}
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Start())
	defer q.Stop()

	first := waitEvent(t, q.Events())
	assert.Equal(t, EventRetried, first.Kind)
	assert.Equal(t, "mailbox unreachable", first.ErrMsg)
	assert.Equal(t, 1, first.Job.Attempts)

	second := waitEvent(t, q.Events())
	assert.Equal(t, EventFailed, second.Kind)
	assert.Equal(t, 2, second.Job.Attempts)

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()

	stored := store.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, "mailbox unreachable", stored.LastError)
}

func TestQueueClaimsHigherPriorityFirst(t *testing.T) {
	store := newMemJobStore()
	q := New(store, testConfig())

	var order []string
	var mu sync.Mutex
	q.RegisterHandler(models.JobTypeProcessing, func(_ context.Context, job *models.Job) error {
		mu.Lock()
		order = append(order, job.MessageID)
		mu.Unlock()
		return nil
	})

	low := &models.Job{Type: models.JobTypeProcessing, UserID: "user-1", MessageID: "msg-low", Priority: models.PriorityProcessing, MaxAttempts: 3}
	high := &models.Job{Type: models.JobTypeProcessing, UserID: "user-1", MessageID: "msg-retry", Priority: models.PriorityRetry, MaxAttempts: 3}
	require.NoError(t, q.Enqueue(context.Background(), low))
	require.NoError(t, q.Enqueue(context.Background(), high))

	require.NoError(t, q.Start())
	defer q.Stop()

	waitEvent(t, q.Events())
	waitEvent(t, q.Events())

	mu.Lock()
	assert.Equal(t, []string{"msg-retry", "msg-low"}, order)
	mu.Unlock()
}

func TestQueueRearmsRepeatingJobAfterError(t *testing.T) {
	store := newMemJobStore()
	q := New(store, testConfig())

	runs := make(chan struct{}, 8)
	q.RegisterHandler(models.JobTypeProcessing, func(context.Context, *models.Job) error {
		runs <- struct{}{}
		return errors.New("scan failed")
	})

	job := &models.Job{
		Type:           models.JobTypeProcessing,
		UserID:         "user-1",
		Priority:       models.PriorityDiscovery,
		MaxAttempts:    1,
		RepeatKey:      "discovery:user-1",
		RepeatInterval: time.Millisecond,
	}
	require.NoError(t, q.EnqueueRepeating(context.Background(), job))
	require.NoError(t, q.Start())

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatal("repeating job did not run again after a handler error")
		}
	}

	q.Stop()

	// Repeating jobs never settle as failed and publish no outcome events.
	for event := range q.Events() {
		t.Fatalf("unexpected event %s for repeating job", event.Kind)
	}
	stored := store.get(job.ID)
	assert.Equal(t, 0, stored.Attempts)
	assert.NotEqual(t, models.JobStatusFailed, stored.Status)
}

func TestQueueStartRequiresHandlers(t *testing.T) {
	q := New(newMemJobStore(), testConfig())
	assert.Error(t, q.Start())
}
