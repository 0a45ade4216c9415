// Package queue runs durable jobs stored in PostgreSQL. Delivery is
// at-least-once: a claimed job that never reports back is requeued by the
// stale sweep once its execution timeout has passed.
package queue

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/makaronz/stillontime/internal/models"
)

// Store is the persistence the queue runtime needs. *db.JobStore implements it.
type Store interface {
	Enqueue(ctx context.Context, job *models.Job) error
	EnqueueRepeating(ctx context.Context, job *models.Job) error
	CancelRepeating(ctx context.Context, repeatKey string) error
	ClaimNext(ctx context.Context, jobType models.JobType) (*models.Job, bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, lastError string) error
	RetryLater(ctx context.Context, id, lastError string, at time.Time) error
	Rearm(ctx context.Context, id string, at time.Time) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (models.QueueStats, error)
}

// Handler executes one job. A returned error triggers the retry policy for
// one-shot jobs and is logged and swallowed for repeating jobs.
type Handler func(ctx context.Context, job *models.Job) error

// Config tunes the queue runtime.
type Config struct {
	// Concurrency is the number of worker goroutines per job type.
	// Types without an entry get one worker.
	Concurrency map[models.JobType]int
	// IdleDelay is how long a worker sleeps when no job is due.
	IdleDelay time.Duration
	// JobTimeout bounds one handler execution.
	JobTimeout time.Duration
	Backoff    BackoffConfig
}

// DefaultConfig returns the runtime defaults: parallel processing, a single
// discovery worker so two scans never race over the same mailbox.
func DefaultConfig() Config {
	return Config{
		Concurrency: map[models.JobType]int{
			models.JobTypeProcessing: 4,
			models.JobTypeDiscovery:  1,
		},
		IdleDelay:  time.Second,
		JobTimeout: 2 * time.Minute,
		Backoff:    DefaultBackoff(),
	}
}

// Queue is an explicitly constructed queue handle: register handlers, Start,
// then Stop to drain. No package-level state.
type Queue struct {
	store    Store
	cfg      Config
	handlers map[models.JobType]Handler
	events   chan Event
	rng      *rand.Rand
	rngMu    sync.Mutex

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New creates a queue over the given store.
func New(store Store, cfg Config) *Queue {
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	return &Queue{
		store:    store,
		cfg:      cfg,
		handlers: make(map[models.JobType]Handler),
		events:   make(chan Event, 64),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RegisterHandler sets the handler for a job type. Must be called before Start.
func (q *Queue) RegisterHandler(jobType models.JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		panic("queue: RegisterHandler called after Start")
	}
	q.handlers[jobType] = handler
}

// Events returns the job outcome event channel. It is closed by Stop.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue adds a one-shot job.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	return q.store.Enqueue(ctx, job)
}

// EnqueueRepeating adds or replaces the repeating job for job.RepeatKey.
func (q *Queue) EnqueueRepeating(ctx context.Context, job *models.Job) error {
	return q.store.EnqueueRepeating(ctx, job)
}

// CancelRepeating removes the repeating job with the given key, if any.
func (q *Queue) CancelRepeating(ctx context.Context, repeatKey string) error {
	return q.store.CancelRepeating(ctx, repeatKey)
}

// Stats returns a snapshot of job counts by status.
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	return q.store.Stats(ctx)
}

// Start launches the worker goroutines and the stale-job sweep.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}
	if len(q.handlers) == 0 {
		return fmt.Errorf("queue has no registered handlers")
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.started = true

	for jobType := range q.handlers {
		workers := q.cfg.Concurrency[jobType]
		if workers <= 0 {
			workers = 1
		}

		for i := 0; i < workers; i++ {
			q.wg.Add(1)
			go q.workerLoop(ctx, jobType)
		}

		log.Printf("queue: started %d worker(s) for %s jobs", workers, jobType)
	}

	q.wg.Add(1)
	go q.staleSweepLoop(ctx)

	return nil
}

// Stop cancels the workers, waits for in-flight jobs, and closes the event
// channel.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	close(q.events)
	log.Println("queue: stopped")
}

func (q *Queue) workerLoop(ctx context.Context, jobType models.JobType) {
	defer q.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, claimed, err := q.store.ClaimNext(ctx, jobType)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Warning: queue: failed to claim %s job: %v", jobType, err)
			q.sleep(ctx, q.cfg.IdleDelay)
			continue
		}

		if !claimed {
			q.sleep(ctx, q.cfg.IdleDelay)
			continue
		}

		q.runJob(ctx, job)
	}
}

// runJob executes one claimed job and settles its queue state. Repeating
// jobs never fail the schedule: errors are logged and the job re-arms.
func (q *Queue) runJob(ctx context.Context, job *models.Job) {
	handler := q.handlers[job.Type]

	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	err := handler(jobCtx, job)
	cancel()

	// Settling uses a fresh context so a drained worker can still record
	// the outcome.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer settleCancel()

	if job.IsRepeating() {
		if err != nil {
			log.Printf("Warning: queue: repeating job %s (%s) failed, will run again: %v", job.ID, job.Type, err)
		}
		if rearmErr := q.store.Rearm(settleCtx, job.ID, time.Now().UTC().Add(job.RepeatInterval)); rearmErr != nil {
			log.Printf("Warning: queue: failed to rearm job %s: %v", job.ID, rearmErr)
		}
		return
	}

	if err == nil {
		if markErr := q.store.MarkCompleted(settleCtx, job.ID); markErr != nil {
			log.Printf("Warning: queue: failed to mark job %s completed: %v", job.ID, markErr)
		}
		q.publish(Event{Kind: EventCompleted, Job: *job})
		return
	}

	if job.Attempts >= job.MaxAttempts {
		log.Printf("queue: job %s (%s) failed after %d attempt(s): %v", job.ID, job.Type, job.Attempts, err)
		if markErr := q.store.MarkFailed(settleCtx, job.ID, err.Error()); markErr != nil {
			log.Printf("Warning: queue: failed to mark job %s failed: %v", job.ID, markErr)
		}
		q.publish(Event{Kind: EventFailed, Job: *job, ErrMsg: err.Error()})
		return
	}

	retryAt := q.retryAt(job.Attempts)
	log.Printf("queue: job %s (%s) attempt %d/%d failed, retrying at %s: %v",
		job.ID, job.Type, job.Attempts, job.MaxAttempts, retryAt.Format(time.RFC3339), err)
	if retryErr := q.store.RetryLater(settleCtx, job.ID, err.Error(), retryAt); retryErr != nil {
		log.Printf("Warning: queue: failed to schedule retry for job %s: %v", job.ID, retryErr)
	}
	q.publish(Event{Kind: EventRetried, Job: *job, ErrMsg: err.Error()})
}

func (q *Queue) staleSweepLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.JobTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Grace on top of the timeout so the sweep never races a
			// worker that is about to settle.
			requeued, err := q.store.RequeueStale(ctx, q.cfg.JobTimeout+30*time.Second)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Warning: queue: stale sweep failed: %v", err)
				}
				continue
			}
			if requeued > 0 {
				log.Printf("queue: requeued %d stale job(s)", requeued)
			}
		}
	}
}

// publish delivers an event without ever blocking a worker.
func (q *Queue) publish(event Event) {
	select {
	case q.events <- event:
	default:
		log.Printf("Warning: queue: event channel full, dropping %s event for job %s", event.Kind, event.Job.ID)
	}
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// retryAt computes the next retry time. The shared jitter source is guarded
// because rand.Rand is not safe for concurrent use.
func (q *Queue) retryAt(attempt int) time.Time {
	q.rngMu.Lock()
	defer q.rngMu.Unlock()
	return NextRetryAt(time.Now().UTC(), attempt, q.cfg.Backoff, q.rng)
}
