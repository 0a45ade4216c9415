package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaronz/stillontime/internal/filter"
	"github.com/makaronz/stillontime/internal/mailbox"
)

type fakeGateway struct {
	content map[string][]byte
	fail    map[string]bool
	calls   []string
}

func (g *fakeGateway) Search(ctx context.Context, q mailbox.Query) ([]mailbox.MessageRef, error) {
	return nil, nil
}

func (g *fakeGateway) Fetch(ctx context.Context, id string) (*mailbox.Message, error) {
	return nil, nil
}

func (g *fakeGateway) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	g.calls = append(g.calls, attachmentID)
	if g.fail[attachmentID] {
		return nil, errors.New("connection reset")
	}
	data, ok := g.content[attachmentID]
	if !ok {
		return nil, errors.New("no such part")
	}
	return data, nil
}

func (g *fakeGateway) Close() error { return nil }

func pdfPart(id, name string) mailbox.Part {
	return mailbox.Part{AttachmentID: id, MimeType: "application/pdf", Filename: name, Size: 100}
}

func TestExtractCollectsAllowedLeavesInOrder(t *testing.T) {
	msg := &mailbox.Message{
		ID: "msg-1",
		Parts: []mailbox.Part{
			{MimeType: "multipart/mixed", Children: []mailbox.Part{
				{MimeType: "text/plain"},
				pdfPart("att-1", "callsheet_day4.pdf"),
				{AttachmentID: "att-2", MimeType: "image/png", Filename: "logo.png"},
				{MimeType: "multipart/alternative", Children: []mailbox.Part{
					pdfPart("att-3", "schedule.pdf"),
				}},
			}},
		},
	}

	gw := &fakeGateway{content: map[string][]byte{
		"att-1": []byte("pdf one"),
		"att-3": []byte("pdf two"),
	}}

	e := New(filter.New(filter.DefaultConfig()))
	attachments, failed := e.Extract(context.Background(), gw, msg)

	require.Len(t, attachments, 2)
	assert.Zero(t, failed)
	assert.Equal(t, "callsheet_day4.pdf", attachments[0].Filename)
	assert.Equal(t, []byte("pdf one"), attachments[0].Data)
	assert.Equal(t, "schedule.pdf", attachments[1].Filename)
	assert.NotContains(t, gw.calls, "att-2")
}

func TestExtractSkipsFailedDownloads(t *testing.T) {
	msg := &mailbox.Message{
		ID: "msg-2",
		Parts: []mailbox.Part{
			pdfPart("att-1", "a.pdf"),
			pdfPart("att-2", "b.pdf"),
			pdfPart("att-3", "c.pdf"),
		},
	}

	gw := &fakeGateway{
		content: map[string][]byte{
			"att-1": []byte("first"),
			"att-3": []byte("third"),
		},
		fail: map[string]bool{"att-2": true},
	}

	e := New(filter.New(filter.DefaultConfig()))
	attachments, failed := e.Extract(context.Background(), gw, msg)

	require.Len(t, attachments, 2)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "a.pdf", attachments[0].Filename)
	assert.Equal(t, "c.pdf", attachments[1].Filename)
	assert.Equal(t, []string{"att-1", "att-2", "att-3"}, gw.calls)
}

func TestExtractNoAttachments(t *testing.T) {
	msg := &mailbox.Message{
		ID:    "msg-3",
		Parts: []mailbox.Part{{MimeType: "text/plain"}},
	}

	e := New(filter.New(filter.DefaultConfig()))
	attachments, failed := e.Extract(context.Background(), &fakeGateway{}, msg)
	assert.Empty(t, attachments)
	assert.Zero(t, failed)
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint([]byte("same document"))
	b := Fingerprint([]byte("same document"))
	c := Fingerprint([]byte("other document"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
