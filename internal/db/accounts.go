package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makaronz/stillontime/internal/models"
)

// ErrAccountNotFound is returned when a user has no mail account configured.
var ErrAccountNotFound = errors.New("mail account not found")

// AccountStore persists per-user mailbox connection settings.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Save inserts or updates the user's mail account. Saving fresh credentials
// clears the auth-expired flag.
func (s *AccountStore) Save(ctx context.Context, account *models.MailAccount) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mail_accounts (user_id, imap_server, imap_username, encrypted_password, folder_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			imap_server = EXCLUDED.imap_server,
			imap_username = EXCLUDED.imap_username,
			encrypted_password = EXCLUDED.encrypted_password,
			folder_name = EXCLUDED.folder_name,
			auth_expired = FALSE,
			updated_at = now()
		RETURNING created_at, updated_at
	`,
		account.UserID,
		account.IMAPServer,
		account.IMAPUsername,
		account.EncryptedPassword,
		account.FolderName,
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save mail account: %w", err)
	}

	account.AuthExpired = false
	return nil
}

// Get returns the user's mail account.
func (s *AccountStore) Get(ctx context.Context, userID string) (*models.MailAccount, error) {
	var account models.MailAccount
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, imap_server, imap_username, encrypted_password, folder_name, auth_expired, created_at, updated_at
		FROM mail_accounts
		WHERE user_id = $1
	`, userID).Scan(
		&account.UserID,
		&account.IMAPServer,
		&account.IMAPUsername,
		&account.EncryptedPassword,
		&account.FolderName,
		&account.AuthExpired,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get mail account: %w", err)
	}

	return &account, nil
}

// MarkAuthExpired flags the account as needing re-authentication.
func (s *AccountStore) MarkAuthExpired(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE mail_accounts
		SET auth_expired = TRUE, updated_at = now()
		WHERE user_id = $1
	`, userID)

	if err != nil {
		return fmt.Errorf("failed to mark account auth expired: %w", err)
	}

	return nil
}

// ListUserIDs returns every user with a configured mail account.
func (s *AccountStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM mail_accounts ORDER BY user_id
	`)

	if err != nil {
		return nil, fmt.Errorf("failed to list mail accounts: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mail accounts: %w", err)
	}

	return userIDs, nil
}
