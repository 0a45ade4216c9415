package filter

import (
	"testing"

	"github.com/makaronz/stillontime/internal/mailbox"
	"github.com/stretchr/testify/assert"
)

func pdfPart(id string) mailbox.Part {
	return mailbox.Part{AttachmentID: id, MimeType: "application/pdf", Filename: "callsheet.pdf"}
}

func TestIsCandidate(t *testing.T) {
	f := New(Config{})

	tests := []struct {
		name     string
		msg      *mailbox.Message
		expected bool
	}{
		{
			name: "subject keyword with pdf attachment",
			msg: &mailbox.Message{
				ID:      "1",
				Subject: "Call Sheet – Day 3",
				Parts:   []mailbox.Part{pdfPart("2")},
			},
			expected: true,
		},
		{
			name: "body keyword with pdf attachment",
			msg: &mailbox.Message{
				ID:       "2",
				Subject:  "Tomorrow",
				BodyText: "Attached is the shooting schedule for tomorrow.",
				Parts:    []mailbox.Part{pdfPart("2")},
			},
			expected: true,
		},
		{
			name: "german keyword",
			msg: &mailbox.Message{
				ID:      "3",
				Subject: "Tagesdispo Tag 12",
				Parts:   []mailbox.Part{pdfPart("2")},
			},
			expected: true,
		},
		{
			name: "polish keyword",
			msg: &mailbox.Message{
				ID:      "4",
				Subject: "Plan zdjęciowy — dzień 5",
				Parts:   []mailbox.Part{pdfPart("2")},
			},
			expected: true,
		},
		{
			name: "keyword but no attachment",
			msg: &mailbox.Message{
				ID:      "5",
				Subject: "Call sheet coming later",
			},
			expected: false,
		},
		{
			name: "keyword but only image attachment",
			msg: &mailbox.Message{
				ID:      "6",
				Subject: "Call sheet",
				Parts: []mailbox.Part{
					{AttachmentID: "2", MimeType: "image/png", Filename: "set.png"},
				},
			},
			expected: false,
		},
		{
			name: "attachment but no keyword",
			msg: &mailbox.Message{
				ID:      "7",
				Subject: "Lunch plans",
				Parts:   []mailbox.Part{pdfPart("2")},
			},
			expected: false,
		},
		{
			name: "pdf nested in multipart containers",
			msg: &mailbox.Message{
				ID:      "8",
				Subject: "CALLSHEET day 9",
				Parts: []mailbox.Part{
					{
						MimeType: "multipart/mixed",
						Children: []mailbox.Part{
							{
								MimeType: "multipart/alternative",
								Children: []mailbox.Part{
									{AttachmentID: "1.1", MimeType: "text/plain"},
									{AttachmentID: "1.2", MimeType: "text/html"},
								},
							},
							pdfPart("2"),
						},
					},
				},
			},
			expected: true,
		},
		{
			name:     "nil message",
			msg:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.IsCandidate(tt.msg))
		})
	}
}

func TestUntrustedSenderIsAdvisoryOnly(t *testing.T) {
	f := New(Config{TrustedDomains: []string{"production.example.com"}})

	msg := &mailbox.Message{
		ID:      "1",
		Subject: "Call Sheet – Day 3",
		Sender:  "AD Department <ad@random-personal-mail.net>",
		Parts:   []mailbox.Part{pdfPart("2")},
	}

	// Untrusted domain is logged, not blocked.
	assert.True(t, f.IsCandidate(msg))
}

func TestAllowsMIME(t *testing.T) {
	f := New(Config{})

	tests := []struct {
		mimeType string
		filename string
		expected bool
	}{
		{"application/pdf", "a.pdf", true},
		{"APPLICATION/PDF", "a.pdf", true},
		{"application/pdf; name=\"a.pdf\"", "a.pdf", true},
		{"application/x-pdf", "a.pdf", true},
		{"application/octet-stream", "callsheet.PDF", true},
		{"application/octet-stream", "callsheet.docx", false},
		{"text/plain", "a.pdf", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, f.AllowsMIME(tt.mimeType, tt.filename), "%s / %s", tt.mimeType, tt.filename)
	}
}
