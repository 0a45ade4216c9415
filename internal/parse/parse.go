// Package parse turns call sheet documents into structured shoot data.
package parse

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CallSheetFields is the structured data pulled out of one call sheet.
type CallSheetFields struct {
	ShootDate   time.Time `json:"shootDate"`
	CallTime    string    `json:"callTime"`
	Location    string    `json:"location"`
	Scenes      []string  `json:"scenes"`
	SafetyNotes string    `json:"safetyNotes"`
	Equipment   []string  `json:"equipment"`
	Contacts    []string  `json:"contacts"`
}

// Extraction is one parse attempt: the fields found plus a confidence score
// in [0, 1].
type Extraction struct {
	Fields     CallSheetFields `json:"fields"`
	Confidence float64         `json:"confidence"`
}

// ValidationResult reports whether an extraction is usable downstream.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// DocumentParser extracts call sheet fields from a raw document.
type DocumentParser interface {
	Parse(ctx context.Context, data []byte, filename string) (*Extraction, error)
}

// Validator decides whether an extraction carries enough data to build a
// schedule from.
type Validator interface {
	Validate(extraction *Extraction) ValidationResult
}

// ThresholdValidator requires a minimum confidence plus the fields every
// schedule needs: shoot date, call time and location.
type ThresholdValidator struct {
	MinConfidence float64
}

// NewValidator returns a ThresholdValidator with the given confidence floor.
func NewValidator(minConfidence float64) *ThresholdValidator {
	return &ThresholdValidator{MinConfidence: minConfidence}
}

func (v *ThresholdValidator) Validate(extraction *Extraction) ValidationResult {
	var errs []string

	if extraction == nil {
		return ValidationResult{IsValid: false, Errors: []string{"no extraction result"}}
	}
	if extraction.Confidence < v.MinConfidence {
		errs = append(errs, fmt.Sprintf("confidence %.2f below threshold %.2f", extraction.Confidence, v.MinConfidence))
	}
	if extraction.Fields.ShootDate.IsZero() {
		errs = append(errs, "missing shootingDate")
	}
	if strings.TrimSpace(extraction.Fields.CallTime) == "" {
		errs = append(errs, "missing callTime")
	}
	if strings.TrimSpace(extraction.Fields.Location) == "" {
		errs = append(errs, "missing location")
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}
