package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"legal-agent/internal/domain"
)

const (
	maxQuestions = 5
	maxRewrites  = 3
	snippetRunes = 500
)

// clauseLabels are searched in free-text replies, in order.
var clauseLabels = []struct {
	label string
	set   func(*domain.ClauseSet, string)
}{
	{"liability", func(c *domain.ClauseSet, s string) { c.Liability = s }},
	{"termination", func(c *domain.ClauseSet, s string) { c.Termination = s }},
	{"payment terms", func(c *domain.ClauseSet, s string) { c.PaymentTerms = s }},
	{"confidentiality", func(c *domain.ClauseSet, s string) { c.Confidentiality = s }},
}

// ExtractClauses pulls the liability, termination, payment and
// confidentiality clauses out of a contract.
func (c *Comparator) ExtractClauses(ctx context.Context, doc domain.Document) (domain.ClauseSet, error) {
	p, err := c.prompts.ExtractClauses(doc.Text)
	if err != nil {
		return domain.ClauseSet{}, fmt.Errorf("compliance: assemble prompt: %w", err)
	}
	reply, err := c.model.Complete(ctx, p)
	if err != nil {
		return domain.ClauseSet{}, fmt.Errorf("compliance: model call: %w", err)
	}
	if set, ok := parseClauses(reply); ok {
		return set, nil
	}
	return scanClauses(reply), nil
}

func compactKey(k string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, k)
}

func parseClauses(reply string) (domain.ClauseSet, bool) {
	raw, err := jsonObject(reply)
	if err != nil {
		return domain.ClauseSet{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.ClauseSet{}, false
	}

	var set domain.ClauseSet
	for k, v := range fields {
		text := clauseText(v)
		switch compactKey(k) {
		case "liability":
			set.Liability = text
		case "termination":
			set.Termination = text
		case "paymentterms", "payment":
			set.PaymentTerms = text
		case "confidentiality":
			set.Confidentiality = text
		}
	}
	return set, true
}

func clauseText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(v) == "null" {
		return ""
	}
	return strings.TrimSpace(string(v))
}

// scanClauses takes a snippet after each clause label found in a prose reply.
func scanClauses(reply string) domain.ClauseSet {
	var set domain.ClauseSet
	lower := strings.ToLower(reply)
	for _, cl := range clauseLabels {
		idx := strings.Index(lower, cl.label)
		if idx == -1 && cl.label == "payment terms" {
			idx = strings.Index(lower, "paymentterms")
		}
		if idx == -1 {
			continue
		}
		snippet := []rune(reply[idx:])
		if len(snippet) > snippetRunes {
			snippet = snippet[:snippetRunes]
		}
		cl.set(&set, strings.TrimSpace(string(snippet)))
	}
	return set
}

// Followups proposes negotiation questions and clause rewrites from a report.
func (c *Comparator) Followups(ctx context.Context, report domain.ComplianceReport, clauses domain.ClauseSet) (domain.Followups, error) {
	p, err := c.prompts.Followups(report, clauses)
	if err != nil {
		return domain.Followups{}, fmt.Errorf("compliance: assemble prompt: %w", err)
	}
	reply, err := c.model.Complete(ctx, p)
	if err != nil {
		return domain.Followups{}, fmt.Errorf("compliance: model call: %w", err)
	}
	return parseFollowups(reply), nil
}

func parseFollowups(reply string) domain.Followups {
	raw, err := jsonObject(reply)
	if err != nil {
		return domain.Followups{Raw: strings.TrimSpace(reply)}
	}
	var out struct {
		FollowUpQuestions []string `json:"follow_up_questions"`
		Questions         []string `json:"questions"`
		SuggestedRewrites []string `json:"suggested_rewrites"`
		Rewrites          []string `json:"rewrites"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Followups{Raw: strings.TrimSpace(reply)}
	}
	questions := out.FollowUpQuestions
	if len(questions) == 0 {
		questions = out.Questions
	}
	rewrites := out.SuggestedRewrites
	if len(rewrites) == 0 {
		rewrites = out.Rewrites
	}
	return domain.Followups{
		Questions: limit(questions, maxQuestions),
		Rewrites:  limit(rewrites, maxRewrites),
	}
}

func limit(items []string, n int) []string {
	out := make([]string, 0, n)
	for _, s := range items {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, s)
	}
	return out
}
