package domain

import "unicode/utf8"

// ChatMessage is the provider-agnostic chat message shape used by the prompt
// assembler and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// PromptMode names the task a prompt was assembled for.
type PromptMode string

const (
	ModeSummarize      PromptMode = "summarize"
	ModeValidate       PromptMode = "validate"
	ModeChat           PromptMode = "chat"
	ModeExtractClauses PromptMode = "extract_clauses"
	ModeFollowups      PromptMode = "followups"
)

// Prompt is a fully assembled model request. Messages are ordered and the last
// one is always the user instruction for the current action.
type Prompt struct {
	Mode     PromptMode
	System   string
	Messages []ChatMessage
	// JSON asks the backend for a JSON object reply when it supports it.
	JSON bool
}

// Size is the prompt length in runes across the system text and all messages.
func (p Prompt) Size() int {
	n := utf8.RuneCountInString(p.System)
	for _, m := range p.Messages {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}
