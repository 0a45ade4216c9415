package models

import "time"

// ItemStatus is the lifecycle state of an inbound item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusProcessed  ItemStatus = "processed"
	ItemStatusFailed     ItemStatus = "failed"
)

// InboundItem is one pipeline attempt for a (user, mailbox message) pair.
// Discovery creates it in pending; the processing worker drives it to
// processed or failed. Items are never hard-deleted by the pipeline.
type InboundItem struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ExternalMessageID  string     `json:"external_message_id"`
	ThreadID           string     `json:"thread_id,omitempty"`
	Subject            string     `json:"subject"`
	Sender             string     `json:"sender"`
	ReceivedAt         *time.Time `json:"received_at"`
	ContentFingerprint string     `json:"content_fingerprint,omitempty"`
	Status             ItemStatus `json:"status"`
	ErrorReason        string     `json:"error_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
