// Package mailbox is the pipeline's only view of a user's mail account:
// search candidate messages, fetch one message with its MIME part tree, and
// download a single attachment. Everything else the mail server offers is
// out of reach on purpose.
package mailbox

import (
	"context"
	"time"
)

// MessageRef identifies one mailbox message found by a search.
type MessageRef struct {
	ID       string
	ThreadID string
}

// Part is one node of a message's MIME tree. Multipart containers carry
// Children and no body; leaf parts with a downloadable body carry a non-empty
// AttachmentID usable with Gateway.DownloadAttachment.
type Part struct {
	AttachmentID string
	MimeType     string
	Filename     string
	Size         int64
	Children     []Part
}

// Message is one fetched mailbox message with its MIME structure.
type Message struct {
	ID         string
	ThreadID   string
	Subject    string
	Sender     string
	ReceivedAt time.Time
	BodyText   string
	Parts      []Part
}

// Query selects candidate messages. Keywords are OR-ed; an empty Since means
// no date restriction.
type Query struct {
	Keywords []string
	Since    time.Time
}

// Gateway is the mail transport capability the pipeline consumes.
type Gateway interface {
	Search(ctx context.Context, query Query) ([]MessageRef, error)
	Fetch(ctx context.Context, id string) (*Message, error)
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	Close() error
}

// Factory opens a gateway for one user's account. It fails with
// ErrAuthExpired when the user needs to re-authenticate.
type Factory interface {
	ForUser(ctx context.Context, userID string) (Gateway, error)
}
