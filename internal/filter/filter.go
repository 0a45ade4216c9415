// Package filter decides whether a mailbox message is a call sheet
// candidate. The predicate is pure: it inspects message metadata only and
// performs no I/O, so discovery can run it over a whole search result cheaply.
package filter

import (
	"log"
	"strings"

	"github.com/makaronz/stillontime/internal/mailbox"
)

// Config tunes the candidate predicate.
type Config struct {
	// Keywords are matched case-insensitively as substrings of the subject
	// or body. Productions are multilingual; the default list covers the
	// locales crews actually send call sheets in.
	Keywords []string
	// AllowedMIMETypes is the set of attachment types the pipeline parses.
	AllowedMIMETypes []string
	// TrustedDomains is advisory only: an untrusted sender is logged, never
	// rejected. Productions routinely send call sheets from personal and
	// one-off addresses, so blocking on domain would silently drop real
	// sheets.
	TrustedDomains []string
}

// DefaultConfig returns the stock keyword, MIME, and trust lists.
func DefaultConfig() Config {
	return Config{
		Keywords: []string{
			"call sheet",
			"callsheet",
			"shooting schedule",
			"drehplan",
			"dispo",
			"tagesdispo",
			"feuille de service",
			"plan de travail",
			"hoja de llamado",
			"orden del día",
			"plan zdjęciowy",
			"dyspozycja",
		},
		AllowedMIMETypes: []string{
			"application/pdf",
			"application/x-pdf",
		},
		TrustedDomains: nil,
	}
}

// Filter is the candidate predicate over message metadata.
type Filter struct {
	keywords []string
	mimes    map[string]struct{}
	trusted  map[string]struct{}
}

// New builds a Filter from cfg, falling back to defaults for empty lists.
func New(cfg Config) *Filter {
	defaults := DefaultConfig()
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = defaults.Keywords
	}
	if len(cfg.AllowedMIMETypes) == 0 {
		cfg.AllowedMIMETypes = defaults.AllowedMIMETypes
	}

	f := &Filter{
		keywords: make([]string, 0, len(cfg.Keywords)),
		mimes:    make(map[string]struct{}, len(cfg.AllowedMIMETypes)),
		trusted:  make(map[string]struct{}, len(cfg.TrustedDomains)),
	}

	for _, keyword := range cfg.Keywords {
		f.keywords = append(f.keywords, strings.ToLower(keyword))
	}
	for _, mime := range cfg.AllowedMIMETypes {
		f.mimes[strings.ToLower(mime)] = struct{}{}
	}
	for _, domain := range cfg.TrustedDomains {
		f.trusted[strings.ToLower(domain)] = struct{}{}
	}

	return f
}

// Keywords returns the lowercased keyword list, usable as a mailbox search
// query.
func (f *Filter) Keywords() []string {
	out := make([]string, len(f.keywords))
	copy(out, f.keywords)
	return out
}

// IsCandidate reports whether the message should enter the pipeline: at
// least one keyword in subject or body, and at least one attachment with an
// allowed MIME type. Sender trust is evaluated but advisory.
func (f *Filter) IsCandidate(msg *mailbox.Message) bool {
	if msg == nil {
		return false
	}

	if !f.matchesKeyword(msg.Subject, msg.BodyText) {
		return false
	}

	if !f.hasAllowedAttachment(msg.Parts) {
		return false
	}

	if len(f.trusted) > 0 {
		domain := mailbox.SenderDomain(msg.Sender)
		if _, ok := f.trusted[domain]; !ok {
			log.Printf("filter: message %s from untrusted domain %q accepted anyway (advisory trust list)", msg.ID, domain)
		}
	}

	return true
}

// AllowsMIME reports whether the declared attachment type is parseable. An
// octet-stream part with a .pdf filename counts: mailers mislabel PDFs all
// the time.
func (f *Filter) AllowsMIME(mimeType, filename string) bool {
	mime := strings.ToLower(mimeType)
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}

	if _, ok := f.mimes[mime]; ok {
		return true
	}

	if mime == "application/octet-stream" && strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return true
	}

	return false
}

func (f *Filter) matchesKeyword(subject, body string) bool {
	subject = strings.ToLower(subject)
	body = strings.ToLower(body)

	for _, keyword := range f.keywords {
		if strings.Contains(subject, keyword) || strings.Contains(body, keyword) {
			return true
		}
	}

	return false
}

// hasAllowedAttachment walks the part tree iteratively looking for a leaf
// with an allowed type and a downloadable body.
func (f *Filter) hasAllowedAttachment(parts []mailbox.Part) bool {
	stack := make([]mailbox.Part, len(parts))
	copy(stack, parts)

	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(part.Children) > 0 {
			stack = append(stack, part.Children...)
			continue
		}

		if part.AttachmentID != "" && f.AllowsMIME(part.MimeType, part.Filename) {
			return true
		}
	}

	return false
}
