package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makaronz/stillontime/internal/models"
)

// ErrScheduleNotFound is returned when a requested schedule cannot be found.
var ErrScheduleNotFound = errors.New("schedule not found")

// ScheduleStore persists derived shoot schedules.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore creates a new ScheduleStore.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

// Create inserts a schedule for a processed item. The item_id unique
// constraint keeps it at exactly one schedule per item.
func (s *ScheduleStore) Create(ctx context.Context, schedule *models.Schedule) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schedules (
			item_id,
			user_id,
			shoot_date,
			call_time,
			location,
			scenes,
			safety_notes,
			equipment,
			contacts,
			confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`,
		schedule.ItemID,
		schedule.UserID,
		schedule.ShootDate,
		schedule.CallTime,
		schedule.Location,
		schedule.Scenes,
		schedule.SafetyNotes,
		schedule.Equipment,
		schedule.Contacts,
		schedule.Confidence,
	).Scan(&schedule.ID, &schedule.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// GetByItemID returns the schedule derived from the given inbound item.
func (s *ScheduleStore) GetByItemID(ctx context.Context, itemID string) (*models.Schedule, error) {
	var schedule models.Schedule
	err := s.pool.QueryRow(ctx, `
		SELECT
			id,
			item_id,
			user_id,
			shoot_date,
			call_time,
			location,
			scenes,
			safety_notes,
			equipment,
			contacts,
			confidence,
			created_at
		FROM schedules
		WHERE item_id = $1
	`, itemID).Scan(
		&schedule.ID,
		&schedule.ItemID,
		&schedule.UserID,
		&schedule.ShootDate,
		&schedule.CallTime,
		&schedule.Location,
		&schedule.Scenes,
		&schedule.SafetyNotes,
		&schedule.Equipment,
		&schedule.Contacts,
		&schedule.Confidence,
		&schedule.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return &schedule, nil
}
