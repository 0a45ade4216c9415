// Package scheduler manages per-user periodic mailbox discovery. Each
// enabled user holds exactly one repeating discovery job in the queue;
// enabling again replaces the existing one.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/makaronz/stillontime/internal/models"
)

// RepeatingQueue is the queue capability the scheduler needs.
type RepeatingQueue interface {
	EnqueueRepeating(ctx context.Context, job *models.Job) error
	CancelRepeating(ctx context.Context, repeatKey string) error
	Stats(ctx context.Context) (models.QueueStats, error)
}

// Scheduler turns user-facing discovery settings into repeating queue jobs.
type Scheduler struct {
	queue       RepeatingQueue
	minInterval time.Duration
	maxAttempts int
}

func New(queue RepeatingQueue, minInterval time.Duration, maxAttempts int) *Scheduler {
	if minInterval <= 0 {
		minInterval = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Scheduler{queue: queue, minInterval: minInterval, maxAttempts: maxAttempts}
}

// discoveryKey is the repeat key binding one user to one repeating job.
func discoveryKey(userID string) string {
	return "discovery:" + userID
}

// Enable starts (or replaces) periodic discovery for the user. Intervals
// below the floor are clamped up, never rejected.
func (s *Scheduler) Enable(ctx context.Context, userID string, interval time.Duration) error {
	if interval < s.minInterval {
		log.Printf("discovery interval %s for user %s below floor, clamping to %s", interval, userID, s.minInterval)
		interval = s.minInterval
	}

	err := s.queue.EnqueueRepeating(ctx, &models.Job{
		Type:           models.JobTypeDiscovery,
		UserID:         userID,
		Priority:       models.PriorityDiscovery,
		MaxAttempts:    s.maxAttempts,
		RepeatKey:      discoveryKey(userID),
		RepeatInterval: interval,
	})
	if err != nil {
		return fmt.Errorf("failed to enable discovery for user %s: %w", userID, err)
	}
	return nil
}

// Disable stops periodic discovery for the user. Disabling a user who was
// never enabled is a no-op.
func (s *Scheduler) Disable(ctx context.Context, userID string) error {
	if err := s.queue.CancelRepeating(ctx, discoveryKey(userID)); err != nil {
		return fmt.Errorf("failed to disable discovery for user %s: %w", userID, err)
	}
	return nil
}

// Stats reports queue counts for monitoring.
func (s *Scheduler) Stats(ctx context.Context) (models.QueueStats, error) {
	return s.queue.Stats(ctx)
}
