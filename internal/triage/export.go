package triage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// CSVHeader is the column order of ExportCSV.
var CSVHeader = []string{"id", "symptoms", "response", "created_at", "validated", "feedback", "validated_by", "validated_at"}

// ExportCSV writes records matching filter as CSV with a header row, newest first.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filter StatusFilter) (int, error) {
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := WriteCSV(w, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// WriteCSV serializes records in CSVHeader order.
func WriteCSV(w io.Writer, records []*Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		validated, validatedAt := "0", ""
		if r.Validated {
			validated = "1"
		}
		if r.ValidatedAt != nil {
			validatedAt = r.ValidatedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			r.ID,
			r.Symptoms,
			r.Response,
			r.CreatedAt.UTC().Format(time.RFC3339),
			validated,
			r.Feedback,
			r.ValidatedBy,
			validatedAt,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename names an export file for filter at t.
func ExportFilename(filter StatusFilter, t time.Time) string {
	prefix := "triagens_exportadas_"
	switch filter {
	case StatusValidated:
		prefix = "triagens_validadas_"
	case StatusPending:
		prefix = "triagens_pendentes_"
	}
	return prefix + t.Format("20060102_150405") + ".csv"
}
