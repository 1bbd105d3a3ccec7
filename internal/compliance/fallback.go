package compliance

import (
	"fmt"
	"strings"
	"unicode"

	"legal-agent/internal/domain"
)

// genericWords never count as evidence that a checklist item is covered.
var genericWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "any": true, "all": true,
	"must": true, "shall": true, "should": true, "will": true, "may": true,
	"clause": true, "clauses": true, "present": true, "included": true, "include": true,
	"contract": true, "agreement": true, "party": true, "parties": true,
	"least": true, "than": true, "more": true, "less": true, "within": true,
	"each": true, "other": true, "this": true, "that": true, "are": true, "has": true, "have": true,
}

// keywords returns the significant lower-cased words of an item description.
func keywords(desc string) []string {
	words := strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if len([]rune(w)) < 3 || genericWords[w] || seen[w] || isNumber(w) {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// fallbackFinding decides an item locally when the model gave no usable
// verdict for it. It never reports ADDRESSED.
func fallbackFinding(item domain.ChecklistItem, contractLower string) domain.Finding {
	f := domain.Finding{
		ItemID:      item.ID,
		Description: item.Description,
		Source:      domain.SourceFallback,
	}

	var found []string
	kws := keywords(item.Description)
	for _, kw := range kws {
		if strings.Contains(contractLower, kw) {
			found = append(found, kw)
		}
	}

	if len(kws) > 0 && len(found) == 0 {
		f.Status = domain.StatusMissing
		f.Severity = domain.SeverityHigh
		f.Rationale = "Clause not found: the contract never mentions " + strings.Join(kws, ", ") + "."
		f.SuggestedFix = "Add a clause covering: " + item.Description
		return f
	}

	f.Status = domain.StatusAtRisk
	f.Severity = domain.SeverityMedium
	if len(found) > 0 {
		f.Rationale = fmt.Sprintf("Related terms (%s) appear in the contract but were not assessed; review manually.", strings.Join(found, ", "))
	} else {
		f.Rationale = "The item could not be checked automatically; review manually."
	}
	f.SuggestedFix = "Clarify specifics per checklist: " + item.Description
	return f
}
