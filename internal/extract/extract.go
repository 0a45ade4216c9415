// Package extract pulls parseable attachments out of a fetched message.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/makaronz/stillontime/internal/filter"
	"github.com/makaronz/stillontime/internal/mailbox"
)

// Attachment is one downloaded attachment body.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Fingerprint returns the hex SHA-256 of the attachment bytes. It identifies
// the document itself, so the same PDF forwarded under a different message
// id still collides.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Extractor downloads every allowed attachment of a message.
type Extractor struct {
	filter *filter.Filter
}

// New creates an Extractor sharing the pipeline's MIME allow-list.
func New(f *filter.Filter) *Extractor {
	return &Extractor{filter: f}
}

// Extract walks the message's MIME tree with an explicit stack and downloads
// every leaf part with an allowed type. A failed download is logged and
// skipped; it never aborts the remaining parts. The returned slice preserves
// document order; failed is the number of parts that could not be fetched.
func (e *Extractor) Extract(ctx context.Context, gateway mailbox.Gateway, msg *mailbox.Message) (attachments []Attachment, failed int) {
	var matched []mailbox.Part

	stack := make([]mailbox.Part, 0, len(msg.Parts))
	for i := len(msg.Parts) - 1; i >= 0; i-- {
		stack = append(stack, msg.Parts[i])
	}

	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(part.Children) > 0 {
			// Push in reverse so siblings pop in document order.
			for i := len(part.Children) - 1; i >= 0; i-- {
				stack = append(stack, part.Children[i])
			}
			continue
		}

		if part.AttachmentID != "" && e.filter.AllowsMIME(part.MimeType, part.Filename) {
			matched = append(matched, part)
		}
	}

	attachments = make([]Attachment, 0, len(matched))
	for _, part := range matched {
		data, err := gateway.DownloadAttachment(ctx, msg.ID, part.AttachmentID)
		if err != nil {
			log.Printf("Warning: failed to download part %s of message %s, skipping: %v", part.AttachmentID, msg.ID, err)
			failed++
			continue
		}

		attachments = append(attachments, Attachment{
			Filename: part.Filename,
			MimeType: part.MimeType,
			Data:     data,
		})
	}

	return attachments, failed
}
