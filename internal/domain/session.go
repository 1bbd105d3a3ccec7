package domain

import "time"

// Session is the state of one user's interaction. It is passed explicitly to
// every operation and discarded when the session ends.
type Session struct {
	ID           string            `json:"id"`
	Contract     *Document         `json:"contract,omitempty"`
	ChecklistDoc *Document         `json:"checklistDocument,omitempty"`
	Checklist    *Checklist        `json:"checklist,omitempty"`
	Conversation Conversation      `json:"conversation"`
	Summary      *SummaryResult    `json:"summary,omitempty"`
	Report       *ComplianceReport `json:"report,omitempty"`
	Review       *ReviewReport     `json:"review,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
}

// SetContract replaces the contract and drops every artifact derived from the
// previous one.
func (s *Session) SetContract(doc Document) {
	s.Contract = &doc
	s.Summary = nil
	s.Report = nil
	s.Review = nil
}

// SetChecklist replaces the checklist and drops artifacts that depended on it.
func (s *Session) SetChecklist(doc Document, cl Checklist) {
	s.ChecklistDoc = &doc
	s.Checklist = &cl
	s.Report = nil
	s.Review = nil
}

// Clone returns a deep copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	if s.Contract != nil {
		doc := s.Contract.clone()
		out.Contract = &doc
	}
	if s.ChecklistDoc != nil {
		doc := s.ChecklistDoc.clone()
		out.ChecklistDoc = &doc
	}
	if s.Checklist != nil {
		cl := *s.Checklist
		cl.Items = append([]ChecklistItem(nil), s.Checklist.Items...)
		out.Checklist = &cl
	}
	out.Conversation = s.Conversation.Clone()
	if s.Summary != nil {
		sum := *s.Summary
		out.Summary = &sum
	}
	if s.Report != nil {
		r := s.Report.clone()
		out.Report = &r
	}
	if s.Review != nil {
		rv := *s.Review
		rv.Compliance = s.Review.Compliance.clone()
		rv.Followups.Questions = append([]string(nil), s.Review.Followups.Questions...)
		rv.Followups.Rewrites = append([]string(nil), s.Review.Followups.Rewrites...)
		out.Review = &rv
	}
	return out
}
