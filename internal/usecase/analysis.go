package usecase

import (
	"context"
	"strings"

	"legal-agent/internal/domain"
)

// Summarize produces a short business summary of the session's contract.
func (s *Service) Summarize(ctx context.Context, sessionID string) (domain.SummaryResult, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.SummaryResult{}, err
	}
	if err := requireContract(sess); err != nil {
		return domain.SummaryResult{}, err
	}

	summary, err := s.summarize(ctx, *sess.Contract)
	if err != nil {
		return domain.SummaryResult{}, err
	}
	sess.Summary = &summary
	if err := s.saveSession(ctx, &sess); err != nil {
		return domain.SummaryResult{}, err
	}
	return summary, nil
}

func (s *Service) summarize(ctx context.Context, contract domain.Document) (domain.SummaryResult, error) {
	p, err := s.prompts.Summarize(contract.Text)
	if err != nil {
		return domain.SummaryResult{}, modelError(err)
	}
	text, err := s.model.Complete(ctx, p)
	if err != nil {
		return domain.SummaryResult{}, modelError(err)
	}
	return domain.SummaryResult{
		DocumentID:  contract.ID,
		Text:        strings.TrimSpace(text),
		GeneratedAt: s.now().UTC(),
	}, nil
}

// Validate compares the session's contract with its checklist.
func (s *Service) Validate(ctx context.Context, sessionID string) (domain.ComplianceReport, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	if err := requireContract(sess); err != nil {
		return domain.ComplianceReport{}, err
	}
	if err := requireChecklist(sess); err != nil {
		return domain.ComplianceReport{}, err
	}

	report, err := s.comparator.Compare(ctx, *sess.Contract, *sess.Checklist)
	if err != nil {
		return domain.ComplianceReport{}, modelError(err)
	}
	sess.Report = &report
	if err := s.saveSession(ctx, &sess); err != nil {
		return domain.ComplianceReport{}, err
	}
	return report, nil
}

// Review runs the full contract review: summary, clause extraction,
// compliance check and negotiation follow-ups. The first failure stops it and
// nothing is stored.
func (s *Service) Review(ctx context.Context, sessionID string) (domain.ReviewReport, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.ReviewReport{}, err
	}
	if err := requireContract(sess); err != nil {
		return domain.ReviewReport{}, err
	}
	if err := requireChecklist(sess); err != nil {
		return domain.ReviewReport{}, err
	}

	summary, err := s.summarize(ctx, *sess.Contract)
	if err != nil {
		return domain.ReviewReport{}, err
	}
	clauses, err := s.comparator.ExtractClauses(ctx, *sess.Contract)
	if err != nil {
		return domain.ReviewReport{}, modelError(err)
	}
	report, err := s.comparator.Compare(ctx, *sess.Contract, *sess.Checklist)
	if err != nil {
		return domain.ReviewReport{}, modelError(err)
	}
	followups, err := s.comparator.Followups(ctx, report, clauses)
	if err != nil {
		return domain.ReviewReport{}, modelError(err)
	}

	review := domain.ReviewReport{
		Summary:     summary,
		Clauses:     clauses,
		Compliance:  report,
		Followups:   followups,
		GeneratedAt: s.now().UTC(),
	}
	sess.Summary = &review.Summary
	sess.Report = &review.Compliance
	sess.Review = &review
	if err := s.saveSession(ctx, &sess); err != nil {
		return domain.ReviewReport{}, err
	}
	return review, nil
}
