// Package prompt builds size-bounded model prompts for each task mode.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"legal-agent/internal/domain"
)

// DefaultMaxChars bounds a prompt when no limit is configured.
const DefaultMaxChars = 16000

const truncationMarker = "\n[... truncated ...]"

var ErrPromptTooLarge = errors.New("prompt too large")

// ChatContext carries the session documents a chat answer may draw on.
type ChatContext struct {
	Contract  string
	Checklist string
}

// Assembler turns document text into prompts no larger than maxChars runes.
// Instructions, questions and checklist items are never cut; contract text
// keeps its leading portion and chat history keeps its most recent turns.
type Assembler struct {
	maxChars int
}

func NewAssembler(maxChars int) *Assembler {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Assembler{maxChars: maxChars}
}

func (a *Assembler) MaxChars() int { return a.maxChars }

func (a *Assembler) Summarize(text string) (domain.Prompt, error) {
	render := func(doc string) string {
		return fmt.Sprintf("%s\n\nContract:\n\n%s", summaryInstructions(), doc)
	}
	return a.single(domain.ModeSummarize, render, text, false)
}

func (a *Assembler) Validate(contract string, items []domain.ChecklistItem) (domain.Prompt, error) {
	if len(items) == 0 {
		return domain.Prompt{}, errors.New("prompt: validate requires at least one checklist item")
	}
	checklist := formatItems(items)
	render := func(doc string) string {
		return fmt.Sprintf("%s\n\nChecklist:\n%s\n\nContract:\n\n%s", validateInstructions(), checklist, doc)
	}
	return a.single(domain.ModeValidate, render, contract, true)
}

func (a *Assembler) ExtractClauses(text string) (domain.Prompt, error) {
	render := func(doc string) string {
		return fmt.Sprintf("%s\n\nContract:\n\n%s", clauseInstructions(), doc)
	}
	return a.single(domain.ModeExtractClauses, render, text, true)
}

func (a *Assembler) Followups(report domain.ComplianceReport, clauses domain.ClauseSet) (domain.Prompt, error) {
	findings := formatFindings(report.Findings)
	clauseJSON, err := json.MarshalIndent(clauses, "", "  ")
	if err != nil {
		return domain.Prompt{}, fmt.Errorf("prompt: marshal clauses: %w", err)
	}
	render := func(c string) string {
		return fmt.Sprintf("%s\n\nCompliance Findings:\n%s\n\nExtracted Clauses:\n%s", followupInstructions(), findings, c)
	}
	return a.single(domain.ModeFollowups, render, string(clauseJSON), true)
}

// Chat replays history as alternating user/assistant messages and appends the
// question with the session documents as the final user message.
func (a *Assembler) Chat(docs ChatContext, history []domain.ConversationTurn, question string) (domain.Prompt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Prompt{}, errors.New("prompt: chat question must not be empty")
	}
	system := chatSystemPrompt()
	fixed := runes(system) + runes(renderChat("", "", question))
	if fixed > a.maxChars {
		return domain.Prompt{}, tooLarge(domain.ModeChat, fixed, a.maxChars)
	}
	remaining := a.maxChars - fixed

	replay := recentTurns(history, remaining/4)
	messages := make([]domain.ChatMessage, 0, len(replay)+1)
	for _, t := range replay {
		messages = append(messages, domain.ChatMessage{Role: string(t.Role), Content: t.Text})
		remaining -= runes(t.Text)
	}

	checklist := truncateHead(docs.Checklist, min(runes(docs.Checklist), remaining/2))
	remaining -= runes(checklist)
	contract := truncateHead(docs.Contract, remaining)

	messages = append(messages, domain.ChatMessage{
		Role:    domain.ChatRoleUser,
		Content: renderChat(contract, checklist, question),
	})
	return a.check(domain.Prompt{Mode: domain.ModeChat, System: system, Messages: messages})
}

func renderChat(contract, checklist, question string) string {
	return fmt.Sprintf("Contract:\n%s\n\nChecklist:\n%s\n\nUser question: %s", contract, checklist, question)
}

// single builds a one-message prompt whose only truncatable part is source.
func (a *Assembler) single(mode domain.PromptMode, render func(string) string, source string, wantJSON bool) (domain.Prompt, error) {
	system := systemPrompt()
	fixed := runes(system) + runes(render(""))
	if fixed >= a.maxChars {
		return domain.Prompt{}, tooLarge(mode, fixed, a.maxChars)
	}
	return a.check(domain.Prompt{
		Mode:     mode,
		System:   system,
		Messages: []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: render(truncateHead(source, a.maxChars-fixed))}},
		JSON:     wantJSON,
	})
}

func (a *Assembler) check(p domain.Prompt) (domain.Prompt, error) {
	if size := p.Size(); size > a.maxChars {
		return domain.Prompt{}, tooLarge(p.Mode, size, a.maxChars)
	}
	return p, nil
}

func tooLarge(mode domain.PromptMode, size, limit int) error {
	return fmt.Errorf("prompt: %s needs %d chars, limit %d: %w", mode, size, limit, ErrPromptTooLarge)
}

// recentTurns returns the longest suffix of history that fits in budget runes,
// starting on a user turn.
func recentTurns(history []domain.ConversationTurn, budget int) []domain.ConversationTurn {
	start, used := len(history), 0
	for i := len(history) - 1; i >= 0; i-- {
		n := runes(history[i].Text)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	for start < len(history) && history[start].Role != domain.RoleUser {
		start++
	}
	return history[start:]
}

func truncateHead(s string, limit int) string {
	if runes(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	marker := runes(truncationMarker)
	if limit <= marker {
		return string(r[:limit])
	}
	return string(r[:limit-marker]) + truncationMarker
}

func formatItems(items []domain.ChecklistItem) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("- [%s] %s", item.ID, item.Description)
	}
	return strings.Join(lines, "\n")
}

func formatFindings(findings []domain.Finding) string {
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = fmt.Sprintf("- [%s] %s: %s (%s)", f.ItemID, f.Status, f.Rationale, f.Severity)
	}
	return strings.Join(lines, "\n")
}

func runes(s string) int { return utf8.RuneCountInString(s) }
