package triage

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

// StatusFilter selects records by validation state.
type StatusFilter string

const (
	// StatusAll matches every record
	StatusAll StatusFilter = "all"

	// StatusPending matches records awaiting review
	StatusPending StatusFilter = "pending"

	// StatusValidated matches reviewed records
	StatusValidated StatusFilter = "validated"
)

// ParseStatusFilter parses a filter name. The empty string means StatusAll.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch StatusFilter(s) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusPending:
		return StatusPending, nil
	case StatusValidated:
		return StatusValidated, nil
	default:
		return "", fmt.Errorf("unknown status filter %q (want all, pending or validated)", s)
	}
}

// Matches reports whether r passes the filter.
func (f StatusFilter) Matches(r *Record) bool {
	switch f {
	case StatusPending:
		return !r.Validated
	case StatusValidated:
		return r.Validated
	default:
		return true
	}
}

// Record is a triage submitted for review.
// Validated is true iff ValidatedBy and ValidatedAt are set.
type Record struct {
	ID          string     `json:"id"`
	Symptoms    string     `json:"symptoms"`
	Response    string     `json:"response"`
	CreatedAt   time.Time  `json:"created_at"`
	Validated   bool       `json:"validated"`
	Feedback    string     `json:"feedback,omitempty"`
	ValidatedBy string     `json:"validated_by,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// Stats aggregates the workflow table.
type Stats struct {
	Total          int     `json:"total" yaml:"total"`
	Validated      int     `json:"validated" yaml:"validated"`
	Pending        int     `json:"pending" yaml:"pending"`
	Reviewers      int     `json:"reviewers" yaml:"reviewers"`
	ValidationRate float64 `json:"validation_rate" yaml:"validation_rate"`
}

// NewStats derives pending count and validation rate from the raw counts.
func NewStats(total, validated, reviewers int) Stats {
	return Stats{
		Total:          total,
		Validated:      validated,
		Pending:        total - validated,
		Reviewers:      reviewers,
		ValidationRate: ValidationRate(validated, total),
	}
}

// ValidationRate is validated/total*100, or 0 when total is 0.
func ValidationRate(validated, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(validated) / float64(total) * 100
}

// Diagnosis is the per-request result of Pipeline.Diagnose. Nothing is
// persisted until the caller submits it for review.
type Diagnosis struct {
	ID           string           `json:"id"`
	Symptoms     string           `json:"symptoms"`
	Response     string           `json:"response"`
	Sections     Sections         `json:"sections"`
	Color        Color            `json:"color"`
	SimilarCases []casebase.Match `json:"similar_cases"`
	Model        string           `json:"model,omitempty"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
	Duration     float64          `json:"duration_seconds"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ValidationResult describes the outcome of Service.Validate.
// Linked is false when the case-base append failed; the record is validated regardless.
type ValidationResult struct {
	Record    *Record `json:"record"`
	CaseID    string  `json:"case_id,omitempty"`
	Linked    bool    `json:"linked"`
	LinkError string  `json:"link_error,omitempty"`
	Color     Color   `json:"color"`
}
