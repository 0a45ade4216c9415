package models

import "time"

// MailAccount holds a user's mailbox connection settings. The password is
// stored encrypted and never serialized.
type MailAccount struct {
	UserID            string    `json:"user_id"`
	IMAPServer        string    `json:"imap_server"`
	IMAPUsername      string    `json:"imap_username"`
	EncryptedPassword []byte    `json:"-"`
	FolderName        string    `json:"folder_name"`
	AuthExpired       bool      `json:"auth_expired"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
