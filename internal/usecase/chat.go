package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"legal-agent/internal/domain"
	"legal-agent/internal/prompt"
)

type ChatInput struct {
	SessionID string
	Question  string
}

type ChatOutput struct {
	SessionID string
	Answer    string
	// Turns is the number of answered questions in the session so far.
	Turns int
}

// Chat answers a question about the session's documents. The question and
// the answer are recorded only when the model call succeeds.
func (s *Service) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(question) > s.limits.MaxQuestionLength {
		return ChatOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	sess, err := s.loadSession(ctx, in.SessionID)
	if err != nil {
		return ChatOutput{}, err
	}
	if err := requireContract(sess); err != nil {
		return ChatOutput{}, err
	}
	asked := userTurns(sess.Conversation)
	if asked >= s.limits.MaxConversationTurns {
		return ChatOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
	}

	p, err := s.prompts.Chat(chatContext(sess), sess.Conversation, question)
	if err != nil {
		if errors.Is(err, prompt.ErrPromptTooLarge) {
			return ChatOutput{}, modelError(err)
		}
		return ChatOutput{}, newError(ErrorInvalidInput, "invalid_question", err)
	}
	answer, err := s.model.Complete(ctx, p)
	if err != nil {
		return ChatOutput{}, modelError(err)
	}
	answer = strings.TrimSpace(answer)

	now := s.now().UTC()
	if err := s.appendTurns(ctx, sess.ID,
		domain.ConversationTurn{Role: domain.RoleUser, Text: question, CreatedAt: now},
		domain.ConversationTurn{Role: domain.RoleAssistant, Text: answer, CreatedAt: now},
	); err != nil {
		return ChatOutput{}, err
	}

	return ChatOutput{SessionID: sess.ID, Answer: answer, Turns: asked + 1}, nil
}

func chatContext(sess domain.Session) prompt.ChatContext {
	var docs prompt.ChatContext
	if sess.Contract != nil {
		docs.Contract = sess.Contract.Text
	}
	if sess.ChecklistDoc != nil {
		docs.Checklist = sess.ChecklistDoc.Text
	}
	return docs
}

func userTurns(c domain.Conversation) int {
	n := 0
	for _, t := range c {
		if t.Role == domain.RoleUser {
			n++
		}
	}
	return n
}
