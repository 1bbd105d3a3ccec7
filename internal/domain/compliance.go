package domain

import "time"

type ComplianceStatus string

const (
	StatusAddressed ComplianceStatus = "ADDRESSED"
	StatusMissing   ComplianceStatus = "MISSING"
	StatusAtRisk    ComplianceStatus = "AT_RISK"
)

// Valid reports whether s is one of the three report statuses.
func (s ComplianceStatus) Valid() bool {
	switch s {
	case StatusAddressed, StatusMissing, StatusAtRisk:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FindingSource records whether a status came from the model or from the
// local keyword fallback.
type FindingSource string

const (
	SourceModel    FindingSource = "model"
	SourceFallback FindingSource = "fallback"
)

type Finding struct {
	ItemID       string           `json:"itemId"`
	Description  string           `json:"description"`
	Status       ComplianceStatus `json:"status"`
	Rationale    string           `json:"rationale"`
	Excerpt      string           `json:"excerpt,omitempty"`
	SuggestedFix string           `json:"suggestedFix,omitempty"`
	Severity     Severity         `json:"severity"`
	Source       FindingSource    `json:"source"`
}

// ComplianceReport holds exactly one Finding per checklist item, in checklist order.
type ComplianceReport struct {
	ContractID  string    `json:"contractId"`
	ChecklistID string    `json:"checklistId"`
	Findings    []Finding `json:"findings"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type SummaryResult struct {
	DocumentID  string    `json:"documentId"`
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// ClauseSet holds the clause texts pulled out of a contract. Empty means absent.
type ClauseSet struct {
	Liability       string `json:"liability"`
	Termination     string `json:"termination"`
	PaymentTerms    string `json:"paymentTerms"`
	Confidentiality string `json:"confidentiality"`
}

// Followups are negotiation suggestions derived from a compliance report.
// Raw holds the model reply when it could not be read as JSON.
type Followups struct {
	Questions []string `json:"questions"`
	Rewrites  []string `json:"rewrites"`
	Raw       string   `json:"raw,omitempty"`
}

// ReviewReport is the full contract review: summary, clauses, compliance and
// follow-ups produced in one action.
type ReviewReport struct {
	Summary     SummaryResult    `json:"summary"`
	Clauses     ClauseSet        `json:"clauses"`
	Compliance  ComplianceReport `json:"compliance"`
	Followups   Followups        `json:"followups"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

func (r ComplianceReport) clone() ComplianceReport {
	r.Findings = append([]Finding(nil), r.Findings...)
	return r
}
