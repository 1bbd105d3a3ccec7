package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of the session dialogue.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the ordered dialogue history of a session. Insertion order is
// the order replayed to the model.
type Conversation []ConversationTurn

// Append returns a new Conversation with turns added after every existing turn.
// The receiver's backing array is never shared with the result.
func (c Conversation) Append(turns ...ConversationTurn) Conversation {
	out := make(Conversation, 0, len(c)+len(turns))
	out = append(out, c...)
	return append(out, turns...)
}

// Clone returns an independent copy.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}
