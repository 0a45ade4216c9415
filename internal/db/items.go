package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makaronz/stillontime/internal/models"
)

// ErrItemNotFound is returned when a requested inbound item cannot be found.
var ErrItemNotFound = errors.New("inbound item not found")

// ErrDuplicateItem is returned when creating an item would violate either
// uniqueness invariant: same (user, external message id), or same attachment
// fingerprint for the user. Callers treat this as "already handled".
var ErrDuplicateItem = errors.New("duplicate inbound item")

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ItemStore persists inbound items.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemColumns = `
	id,
	user_id,
	external_message_id,
	thread_id,
	subject,
	sender,
	received_at,
	COALESCE(content_fingerprint, ''),
	status,
	error_reason,
	created_at,
	updated_at`

func scanItem(row pgx.Row) (*models.InboundItem, error) {
	var item models.InboundItem
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.ExternalMessageID,
		&item.ThreadID,
		&item.Subject,
		&item.Sender,
		&item.ReceivedAt,
		&item.ContentFingerprint,
		&item.Status,
		&item.ErrorReason,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Create inserts a new inbound item in pending state. Returns ErrDuplicateItem
// when the (user, external message id) or (user, fingerprint) constraint is
// already taken; that is an expected condition, not a failure.
func (s *ItemStore) Create(ctx context.Context, item *models.InboundItem) error {
	if item.Status == "" {
		item.Status = models.ItemStatusPending
	}

	var fingerprint *string
	if item.ContentFingerprint != "" {
		fingerprint = &item.ContentFingerprint
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO inbound_items (
			user_id,
			external_message_id,
			thread_id,
			subject,
			sender,
			received_at,
			content_fingerprint,
			status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`,
		item.UserID,
		item.ExternalMessageID,
		item.ThreadID,
		item.Subject,
		item.Sender,
		item.ReceivedAt,
		fingerprint,
		item.Status,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateItem
	}

	if err != nil {
		return fmt.Errorf("failed to create inbound item: %w", err)
	}

	return nil
}

// GetByID returns an inbound item by id.
func (s *ItemStore) GetByID(ctx context.Context, id string) (*models.InboundItem, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM inbound_items
		WHERE id = $1
	`, id))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get inbound item: %w", err)
	}

	return item, nil
}

// ExistsByExternalID reports whether the user already has an item for the
// given mailbox message id.
func (s *ItemStore) ExistsByExternalID(ctx context.Context, userID, externalMessageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbound_items
			WHERE user_id = $1 AND external_message_id = $2
		)
	`, userID, externalMessageID).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check external id: %w", err)
	}

	return exists, nil
}

// ExistsByFingerprint reports whether the user already has an item carrying a
// byte-identical primary attachment.
func (s *ItemStore) ExistsByFingerprint(ctx context.Context, userID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbound_items
			WHERE user_id = $1 AND content_fingerprint = $2
		)
	`, userID, fingerprint).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}

	return exists, nil
}

// SetFingerprint records the attachment fingerprint once it is known.
// Returns ErrDuplicateItem when another item of the user already carries the
// same fingerprint.
func (s *ItemStore) SetFingerprint(ctx context.Context, id, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_items
		SET content_fingerprint = $2, updated_at = now()
		WHERE id = $1
	`, id, fingerprint)

	if isUniqueViolation(err) {
		return ErrDuplicateItem
	}

	if err != nil {
		return fmt.Errorf("failed to set fingerprint: %w", err)
	}

	return nil
}

// FindPending returns up to limit pending items for the user, oldest first.
func (s *ItemStore) FindPending(ctx context.Context, userID string, limit int) ([]*models.InboundItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM inbound_items
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2
	`, userID, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to find pending items: %w", err)
	}
	defer rows.Close()

	var items []*models.InboundItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbound item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inbound items: %w", err)
	}

	return items, nil
}

// ListByUser returns the user's items, newest first.
func (s *ItemStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.InboundItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM inbound_items
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to list inbound items: %w", err)
	}
	defer rows.Close()

	var items []*models.InboundItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbound item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inbound items: %w", err)
	}

	return items, nil
}

// ClaimProcessing atomically moves a pending item to processing. Returns
// false when the item is not pending anymore, so two concurrent jobs cannot
// both claim it and re-processing a processed item stays a no-op.
func (s *ItemStore) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_items
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)

	if err != nil {
		return false, fmt.Errorf("failed to claim item: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkProcessed moves a processing item to its terminal processed state and
// clears any stale error reason.
func (s *ItemStore) MarkProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_items
		SET status = 'processed', error_reason = '', updated_at = now()
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to mark item processed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}

	return nil
}

// MarkFailed moves an item to failed and records the reason.
func (s *ItemStore) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_items
		SET status = 'failed', error_reason = $2, updated_at = now()
		WHERE id = $1
	`, id, reason)

	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}

	return nil
}

// ResetForRetry moves a failed item back to pending and clears its error
// reason. Returns false when the item is not in failed state.
func (s *ItemStore) ResetForRetry(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_items
		SET status = 'pending', error_reason = '', updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`, id)

	if err != nil {
		return false, fmt.Errorf("failed to reset item for retry: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
