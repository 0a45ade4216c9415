package mailbox

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
)

// IMAPFactory opens per-user IMAP gateways using stored credentials.
type IMAPFactory struct {
	credentials CredentialProvider
	useTLS      bool
}

// NewIMAPFactory creates a gateway factory. useTLS is false only in tests
// against a local server.
func NewIMAPFactory(credentials CredentialProvider, useTLS bool) *IMAPFactory {
	return &IMAPFactory{credentials: credentials, useTLS: useTLS}
}

// ForUser connects and authenticates a gateway for the user's account.
// A server-side login rejection maps to ErrAuthExpired.
func (f *IMAPFactory) ForUser(ctx context.Context, userID string) (Gateway, error) {
	credential, err := f.credentials.GetValidCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	c, err := connect(credential.Server, f.useTLS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", credential.Server, err)
	}

	if err := c.Login(credential.Username, credential.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login rejected for user %s: %w", userID, ErrAuthExpired)
	}

	if _, err := c.Select(credential.Folder, true); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select folder %s: %w", credential.Folder, err)
	}

	return &imapGateway{
		client:  c,
		content: make(map[string]map[string][]byte),
	}, nil
}

// connect dials the IMAP server with a 5-second timeout.
func connect(server string, useTLS bool) (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	if useTLS {
		c, err := imapclient.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := imapclient.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// imapGateway adapts one authenticated IMAP connection to the Gateway
// contract. It is not safe for concurrent use; each job opens its own.
type imapGateway struct {
	client *imapclient.Client
	// content caches decoded part bodies per fetched message, so
	// DownloadAttachment after Fetch does not hit the server again.
	content map[string]map[string][]byte
}

// Search returns refs for messages matching any of the query keywords.
func (g *imapGateway) Search(ctx context.Context, query Query) ([]MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uids, err := g.client.UidSearch(searchCriteria(query))
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}

	refs := make([]MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, MessageRef{ID: strconv.FormatUint(uint64(uid), 10)})
	}

	return refs, nil
}

// searchCriteria translates a Query into IMAP search criteria. Keywords fold
// into a chain of OR nodes; Since is ANDed on top.
func searchCriteria(query Query) *imap.SearchCriteria {
	var keywords *imap.SearchCriteria
	for _, keyword := range query.Keywords {
		criteria := imap.NewSearchCriteria()
		criteria.Text = []string{keyword}

		if keywords == nil {
			keywords = criteria
			continue
		}

		or := imap.NewSearchCriteria()
		or.Or = [][2]*imap.SearchCriteria{{keywords, criteria}}
		keywords = or
	}

	result := imap.NewSearchCriteria()
	if !query.Since.IsZero() {
		result.Since = query.Since
	}
	if keywords != nil {
		result.Text = keywords.Text
		result.Or = keywords.Or
	}

	return result
}

// Fetch downloads one full message, parses its MIME envelope, and builds the
// part tree. Decoded part bodies are cached for DownloadAttachment.
func (g *imapGateway) Fetch(ctx context.Context, id string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- g.client.UidFetch(seqSet, items, messages)
	}()

	imapMsg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	if imapMsg == nil {
		return nil, fmt.Errorf("server did not return message %s", id)
	}

	msg := &Message{
		ID:         id,
		ReceivedAt: imapMsg.InternalDate,
	}

	if imapMsg.Envelope != nil {
		msg.Subject = imapMsg.Envelope.Subject
		msg.ThreadID = imapMsg.Envelope.MessageId
		if len(imapMsg.Envelope.From) > 0 {
			msg.Sender = formatAddress(imapMsg.Envelope.From[0])
		}
	}

	bodyReader := imapMsg.GetBody(section)
	if bodyReader == nil {
		return msg, nil
	}

	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		// Headers are still usable; the message just has no parts.
		log.Printf("Warning: failed to parse MIME body of message %s: %v", id, err)
		return msg, nil
	}

	msg.BodyText = envelope.Text
	msg.Parts, g.content[id] = buildParts(envelope.Root)

	return msg, nil
}

// buildParts converts an enmime part tree into the gateway's Part tree with
// an explicit stack walk (mail in the wild nests multiparts arbitrarily, so
// no recursion), collecting decoded leaf content along the way.
func buildParts(root *enmime.Part) ([]Part, map[string][]byte) {
	content := make(map[string][]byte)
	if root == nil {
		return nil, content
	}

	type frame struct {
		src *enmime.Part
		dst *Part
	}

	result := make([]Part, 1)
	stack := []frame{{src: root, dst: &result[0]}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		f.dst.MimeType = f.src.ContentType
		f.dst.Filename = f.src.FileName

		if f.src.FirstChild == nil {
			f.dst.AttachmentID = f.src.PartID
			f.dst.Size = int64(len(f.src.Content))
			content[f.src.PartID] = f.src.Content
			continue
		}

		childCount := 0
		for child := f.src.FirstChild; child != nil; child = child.NextSibling {
			childCount++
		}

		// Preallocate so &Children[i] stays valid while frames are pending.
		f.dst.Children = make([]Part, childCount)
		i := 0
		for child := f.src.FirstChild; child != nil; child = child.NextSibling {
			stack = append(stack, frame{src: child, dst: &f.dst.Children[i]})
			i++
		}
	}

	return result, content
}

// DownloadAttachment returns the decoded bytes of one leaf part. The part
// must belong to a message this gateway has fetched; unknown ids re-fetch
// the message once.
func (g *imapGateway) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	parts, ok := g.content[messageID]
	if !ok {
		if _, err := g.Fetch(ctx, messageID); err != nil {
			return nil, err
		}
		parts = g.content[messageID]
	}

	data, ok := parts[attachmentID]
	if !ok {
		return nil, fmt.Errorf("message %s has no part %s", messageID, attachmentID)
	}

	return data, nil
}

// Close logs out the IMAP session.
func (g *imapGateway) Close() error {
	return g.client.Logout()
}

// formatAddress renders an IMAP address as "Name <box@host>".
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	email := address.MailboxName + "@" + address.HostName
	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", address.PersonalName, email)
	}

	return email
}

// SenderDomain extracts the domain of a formatted sender address, lowercased.
func SenderDomain(sender string) string {
	addr := sender
	if start := strings.LastIndex(sender, "<"); start != -1 {
		end := strings.LastIndex(sender, ">")
		if end > start {
			addr = sender[start+1 : end]
		}
	}

	at := strings.LastIndex(addr, "@")
	if at == -1 {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
