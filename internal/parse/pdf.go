package parse

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// PDFParser is the default DocumentParser. It extracts the text layer of a
// PDF and scans it for labeled call sheet fields.
type PDFParser struct{}

func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

func (p *PDFParser) Parse(ctx context.Context, data []byte, filename string) (*Extraction, error) {
	if len(data) < 4 || !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, fmt.Errorf("%s is not a PDF file: invalid header", filename)
	}

	text, err := extractText(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text content found in %s", filename)
	}

	fields, found := scanFields(text)
	return &Extraction{
		Fields:     fields,
		Confidence: float64(found) / float64(fieldCount),
	}, nil
}

func extractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		for _, text := range content.Text {
			builder.WriteString(text.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// fieldCount is the number of fields scanFields looks for; confidence is the
// fraction found.
const fieldCount = 7

var (
	dateRe     = regexp.MustCompile(`(?i)(?:shoot(?:ing)?\s*date|date)\s*[:\-]\s*(\d{4}-\d{2}-\d{2}|\d{1,2}[./]\d{1,2}[./]\d{4})`)
	callTimeRe = regexp.MustCompile(`(?i)(?:general\s+)?(?:crew\s+)?call(?:\s*time)?\s*[:\-]\s*(\d{1,2}:\d{2}(?:\s*[AP]M)?)`)
	locationRe = regexp.MustCompile(`(?i)location\s*[:\-]\s*([^\n]+)`)
	scenesRe   = regexp.MustCompile(`(?i)scenes?\s*[:\-]\s*([^\n]+)`)
	safetyRe   = regexp.MustCompile(`(?i)safety(?:\s*notes?)?\s*[:\-]\s*([^\n]+)`)
	equipRe    = regexp.MustCompile(`(?i)equipment\s*[:\-]\s*([^\n]+)`)
	contactRe  = regexp.MustCompile(`(?i)contacts?\s*[:\-]\s*([^\n]+)`)
)

var dateLayouts = []string{"2006-01-02", "2.1.2006", "02.01.2006", "2/1/2006", "02/01/2006"}

func scanFields(text string) (CallSheetFields, int) {
	var fields CallSheetFields
	found := 0

	if m := dateRe.FindStringSubmatch(text); m != nil {
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, m[1]); err == nil {
				fields.ShootDate = d
				found++
				break
			}
		}
	}
	if m := callTimeRe.FindStringSubmatch(text); m != nil {
		fields.CallTime = strings.TrimSpace(m[1])
		found++
	}
	if m := locationRe.FindStringSubmatch(text); m != nil {
		fields.Location = trimField(m[1])
		found++
	}
	if m := scenesRe.FindStringSubmatch(text); m != nil {
		fields.Scenes = splitList(m[1])
		found++
	}
	if m := safetyRe.FindStringSubmatch(text); m != nil {
		fields.SafetyNotes = trimField(m[1])
		found++
	}
	if m := equipRe.FindStringSubmatch(text); m != nil {
		fields.Equipment = splitList(m[1])
		found++
	}
	if m := contactRe.FindStringSubmatch(text); m != nil {
		fields.Contacts = splitList(m[1])
		found++
	}

	return fields, found
}

func trimField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "|"))
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = trimField(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
