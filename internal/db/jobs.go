package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makaronz/stillontime/internal/models"
)

// ErrJobNotFound is returned when a requested job cannot be found.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists queue jobs. The queue runtime in internal/queue is the
// only writer besides tests.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `
	id,
	type,
	user_id,
	message_id,
	priority,
	attempts,
	max_attempts,
	status,
	scheduled_at,
	COALESCE(repeat_key, ''),
	repeat_interval_ms,
	last_error,
	created_at,
	updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var intervalMs int64
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.UserID,
		&job.MessageID,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Status,
		&job.ScheduledAt,
		&job.RepeatKey,
		&intervalMs,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.RepeatInterval = time.Duration(intervalMs) * time.Millisecond
	return &job, nil
}

// Enqueue inserts a one-shot job in waiting state.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusWaiting
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now().UTC()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, type, user_id, message_id, priority, max_attempts, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`,
		job.ID,
		job.Type,
		job.UserID,
		job.MessageID,
		job.Priority,
		job.MaxAttempts,
		job.Status,
		job.ScheduledAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// EnqueueRepeating inserts or replaces the repeating job for job.RepeatKey.
// A second call with the same key re-arms the existing row with the new
// interval instead of creating a second repeating job.
func (s *JobStore) EnqueueRepeating(ctx context.Context, job *models.Job) error {
	if job.RepeatKey == "" || job.RepeatInterval <= 0 {
		return fmt.Errorf("repeating job requires a repeat key and a positive interval")
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now().UTC()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, type, user_id, message_id, priority, max_attempts, status, scheduled_at, repeat_key, repeat_interval_ms)
		VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7, $8, $9)
		ON CONFLICT (repeat_key) WHERE repeat_key IS NOT NULL DO UPDATE SET
			priority = EXCLUDED.priority,
			max_attempts = EXCLUDED.max_attempts,
			status = 'waiting',
			attempts = 0,
			scheduled_at = EXCLUDED.scheduled_at,
			repeat_interval_ms = EXCLUDED.repeat_interval_ms,
			last_error = '',
			updated_at = now()
		RETURNING id, created_at, updated_at
	`,
		job.ID,
		job.Type,
		job.UserID,
		job.MessageID,
		job.Priority,
		job.MaxAttempts,
		job.ScheduledAt,
		job.RepeatKey,
		job.RepeatInterval.Milliseconds(),
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to enqueue repeating job: %w", err)
	}

	job.Status = models.JobStatusWaiting
	return nil
}

// CancelRepeating removes the repeating job with the given key. Removing a
// key that has no job is a no-op. An in-flight execution is not interrupted;
// it simply has no row left to re-arm.
func (s *JobStore) CancelRepeating(ctx context.Context, repeatKey string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE repeat_key = $1
	`, repeatKey)

	if err != nil {
		return fmt.Errorf("failed to cancel repeating job: %w", err)
	}

	return nil
}

// ClaimNext atomically claims the next due job of the given type: highest
// priority first, then oldest schedule. SKIP LOCKED keeps concurrent workers
// from claiming the same row. Returns (nil, false, nil) when nothing is due.
func (s *JobStore) ClaimNext(ctx context.Context, jobType models.JobType) (*models.Job, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'active', attempts = attempts + 1, started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE type = $1 AND status = 'waiting' AND scheduled_at <= now()
			ORDER BY priority DESC, scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns+`
	`, jobType))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, true, nil
}

// MarkCompleted moves an active job to its terminal completed state.
func (s *JobStore) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = now(), last_error = '', updated_at = now()
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return nil
}

// MarkFailed moves a job to its terminal failed state for operator visibility.
func (s *JobStore) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)

	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

// RetryLater puts a job back in waiting state with a new due time, keeping
// the attempt count accumulated by ClaimNext.
func (s *JobStore) RetryLater(ctx context.Context, id, lastError string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'waiting', last_error = $2, scheduled_at = $3, updated_at = now()
		WHERE id = $1
	`, id, lastError, at.UTC())

	if err != nil {
		return fmt.Errorf("failed to schedule job retry: %w", err)
	}

	return nil
}

// Rearm resets a repeating job for its next tick: waiting state, zeroed
// attempts, due at the given time.
func (s *JobStore) Rearm(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'waiting', attempts = 0, scheduled_at = $2, updated_at = now()
		WHERE id = $1
	`, id, at.UTC())

	if err != nil {
		return fmt.Errorf("failed to rearm job: %w", err)
	}

	return nil
}

// RequeueStale returns to waiting state any job that has been active longer
// than the execution timeout, e.g. after a worker crash. Returns the number
// of requeued jobs.
func (s *JobStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'waiting', last_error = 'execution timed out', updated_at = now()
		WHERE status = 'active' AND started_at < now() - $1::interval
	`, fmt.Sprintf("%d milliseconds", olderThan.Milliseconds()))

	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// GetByID returns a job by id.
func (s *JobStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// Stats returns job counts grouped by status.
func (s *JobStore) Stats(ctx context.Context) (models.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*)
		FROM jobs
		GROUP BY status
	`)

	if err != nil {
		return models.QueueStats{}, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.QueueStats{}, fmt.Errorf("failed to scan queue stats: %w", err)
		}

		switch status {
		case models.JobStatusWaiting:
			stats.Waiting = count
		case models.JobStatusActive:
			stats.Active = count
		case models.JobStatusCompleted:
			stats.Completed = count
		case models.JobStatusFailed:
			stats.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return models.QueueStats{}, fmt.Errorf("error iterating queue stats: %w", err)
	}

	return stats, nil
}
