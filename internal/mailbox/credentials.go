package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/makaronz/stillontime/internal/crypto"
	"github.com/makaronz/stillontime/internal/db"
)

// ErrAuthExpired signals that the user's mailbox credentials are missing,
// expired, or rejected, and re-authentication is required before any further
// mailbox work for that user.
var ErrAuthExpired = errors.New("mailbox credentials expired")

// Credential is a ready-to-use set of mailbox connection parameters.
type Credential struct {
	Server   string
	Username string
	Password string
	Folder   string
}

// CredentialProvider yields valid credentials for a user, or ErrAuthExpired.
type CredentialProvider interface {
	GetValidCredential(ctx context.Context, userID string) (*Credential, error)
}

// StoreCredentialProvider reads mail accounts from the database and decrypts
// the stored password.
type StoreCredentialProvider struct {
	accounts  *db.AccountStore
	encryptor *crypto.Encryptor
}

// NewStoreCredentialProvider creates a database-backed credential provider.
func NewStoreCredentialProvider(accounts *db.AccountStore, encryptor *crypto.Encryptor) *StoreCredentialProvider {
	return &StoreCredentialProvider{accounts: accounts, encryptor: encryptor}
}

// GetValidCredential returns the user's mailbox credential. A missing account
// and an account flagged auth-expired both map to ErrAuthExpired.
func (p *StoreCredentialProvider) GetValidCredential(ctx context.Context, userID string) (*Credential, error) {
	account, err := p.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, fmt.Errorf("no mail account for user %s: %w", userID, ErrAuthExpired)
		}
		return nil, fmt.Errorf("failed to load mail account: %w", err)
	}

	if account.AuthExpired {
		return nil, fmt.Errorf("mail account for user %s needs re-authentication: %w", userID, ErrAuthExpired)
	}

	password, err := p.encryptor.Decrypt(account.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt mailbox password: %w", err)
	}

	folder := account.FolderName
	if folder == "" {
		folder = "INBOX"
	}

	return &Credential{
		Server:   account.IMAPServer,
		Username: account.IMAPUsername,
		Password: password,
		Folder:   folder,
	}, nil
}
