package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"legal-agent/internal/domain"
	"legal-agent/internal/prompt"
)

// Completer sends one assembled prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, p domain.Prompt) (string, error)
}

// Comparator checks contracts against checklists with one model call per
// action and reconciles whatever comes back into a complete report.
type Comparator struct {
	model   Completer
	prompts *prompt.Assembler
	now     func() time.Time
}

func New(model Completer, prompts *prompt.Assembler) (*Comparator, error) {
	if model == nil {
		return nil, errors.New("compliance: model must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("compliance: prompt assembler must not be nil")
	}
	return &Comparator{model: model, prompts: prompts, now: time.Now}, nil
}

// Compare returns exactly one finding per checklist item, in checklist order.
// Prompt and model failures are returned unchanged in meaning; an unreadable
// reply is not a failure and yields keyword-based findings instead.
func (c *Comparator) Compare(ctx context.Context, contract domain.Document, checklist domain.Checklist) (domain.ComplianceReport, error) {
	p, err := c.prompts.Validate(contract.Text, checklist.Items)
	if err != nil {
		return domain.ComplianceReport{}, fmt.Errorf("compliance: assemble prompt: %w", err)
	}
	reply, err := c.model.Complete(ctx, p)
	if err != nil {
		return domain.ComplianceReport{}, fmt.Errorf("compliance: model call: %w", err)
	}

	parsed, err := decodeFindings(reply)
	if err != nil {
		slog.WarnContext(ctx, "compliance reply not parseable, using keyword fallback",
			"contractId", contract.ID, "err", err)
	}

	return domain.ComplianceReport{
		ContractID:  contract.ID,
		ChecklistID: checklist.DocumentID,
		Findings:    reconcile(checklist.Items, parsed, strings.ToLower(contract.Text)),
		GeneratedAt: c.now().UTC(),
	}, nil
}

// reconcile maps model findings onto checklist items. Unknown ids are
// ignored, the first verdict for an id wins, and items without a valid
// verdict fall back to the keyword check. Ids match case-insensitively unless
// two items of the checklist share the same key, which then match exactly.
func reconcile(items []domain.ChecklistItem, parsed []modelFinding, contractLower string) []domain.Finding {
	byKey := make(map[string]modelFinding, len(parsed))
	exact := make(map[string]modelFinding, len(parsed))
	for _, f := range parsed {
		if _, ok := normalizeStatus(f.Status); !ok {
			continue
		}
		id := strings.TrimSpace(string(f.ID))
		if _, dup := exact[id]; !dup && id != "" {
			exact[id] = f
		}
		key := domain.ItemKey(id)
		if _, dup := byKey[key]; !dup && key != "" {
			byKey[key] = f
		}
	}
	shared := make(map[string]int, len(items))
	for _, item := range items {
		shared[domain.ItemKey(item.ID)]++
	}

	findings := make([]domain.Finding, 0, len(items))
	for _, item := range items {
		var (
			mf modelFinding
			ok bool
		)
		if key := domain.ItemKey(item.ID); shared[key] > 1 {
			mf, ok = exact[strings.TrimSpace(item.ID)]
		} else {
			mf, ok = byKey[key]
		}
		if !ok {
			findings = append(findings, fallbackFinding(item, contractLower))
			continue
		}
		status, _ := normalizeStatus(mf.Status)
		rationale := strings.TrimSpace(mf.Rationale)
		if rationale == "" {
			rationale = strings.TrimSpace(mf.Reason)
		}
		findings = append(findings, domain.Finding{
			ItemID:       item.ID,
			Description:  item.Description,
			Status:       status,
			Rationale:    rationale,
			Excerpt:      strings.TrimSpace(mf.Excerpt),
			SuggestedFix: strings.TrimSpace(mf.SuggestedFix),
			Severity:     normalizeSeverity(mf.Severity, status),
			Source:       domain.SourceModel,
		})
	}
	return findings
}
