package triage

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

// Validate moves a pending record to validated and appends the confirmed case
// to the case base.
//
// The two stores are not updated atomically. If the case-base append fails the
// record is still validated, without the cross-reference, and the result
// reports Linked=false. Deleting a record later never removes its case.
func (s *Service) Validate(ctx context.Context, id, reviewer, feedback string) (*ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "triage.validate", trace.WithAttributes(
		attribute.String("triagem.triage.id", id),
	))
	defer span.End()

	fail := func(err error) (*ValidationResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return fail(ErrEmptyReviewer)
	}
	feedback = strings.TrimSpace(feedback)

	r, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(ErrNotFound)
	}
	if r.Validated {
		return fail(ErrAlreadyValidated)
	}

	L := s.logger.With("triage_id", id, "reviewer", reviewer)

	res := &ValidationResult{Color: ClassifyResponse(r.Response)}
	text := caseText(r.Symptoms, res.Color, feedback)

	caseID, linkErr := s.appendCase(ctx, text)
	finalFeedback := feedback
	if linkErr != nil {
		res.LinkError = linkErr.Error()
		L.Warn(ctx, "case base append failed, validating without cross-reference", "error", linkErr)
	} else {
		res.CaseID = caseID
		res.Linked = true
		finalFeedback = annotateFeedback(feedback, caseID)
	}

	at := s.now()
	if err := s.store.MarkValidated(ctx, id, finalFeedback, reviewer, at); err != nil {
		return fail(err)
	}

	r.Validated = true
	r.Feedback = finalFeedback
	r.ValidatedBy = reviewer
	r.ValidatedAt = &at
	res.Record = r

	span.SetAttributes(
		attribute.Bool("triagem.validation.linked", res.Linked),
		attribute.String("triagem.case.id", res.CaseID),
		attribute.String("triagem.risk.color", string(res.Color)),
	)
	if s.hooks.OnValidate != nil {
		s.hooks.OnValidate(res.Linked)
	}

	L.Info(ctx, "triage validated", "case_id", res.CaseID, "linked", res.Linked, "color", res.Color)

	if s.notifier != nil {
		rc, resc := *r, *res
		resc.Record = &rc
		go s.notifyValidated(context.WithoutCancel(ctx), &rc, &resc)
	}
	return res, nil
}

// appendCase embeds text and stores it as a new validated case.
func (s *Service) appendCase(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "casebase.append")
	defer span.End()

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEmbedding, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	id := casebase.NewValidatedID()
	span.SetAttributes(attribute.String("triagem.case.id", id))
	if err := s.cases.Upsert(ctx, casebase.Entry{
		ID:     id,
		Text:   text,
		Vector: vec,
		Origin: casebase.OriginValidated,
	}); err != nil {
		err = fmt.Errorf("%w: %w", ErrRetrieval, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return id, nil
}
