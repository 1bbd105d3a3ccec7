package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"legal-agent/internal/domain"
	"legal-agent/internal/integrations/openai"
	"legal-agent/internal/repository"
)

func TestChat_RecordsTurnsInOrder(t *testing.T) {
	llm := &mockLLM{responses: []llmResponse{
		{answer: "Acme Corp and Globex Ltd."},
		{answer: " Yes, on 60 days written notice. "},
	}}
	svc, _ := newTestService(t, llm)
	sid := seedSession(t, svc, true)
	ctx := context.Background()

	out, err := svc.Chat(ctx, ChatInput{SessionID: sid, Question: "Who are the parties?"})
	require.NoError(t, err)
	require.Equal(t, "Acme Corp and Globex Ltd.", out.Answer)
	require.Equal(t, 1, out.Turns)

	out, err = svc.Chat(ctx, ChatInput{SessionID: sid, Question: "  Can Acme terminate early?  "})
	require.NoError(t, err)
	require.Equal(t, "Yes, on 60 days written notice.", out.Answer)
	require.Equal(t, 2, out.Turns)

	second := llm.prompts[1]
	require.Equal(t, domain.ModeChat, second.Mode)
	require.Equal(t, "Who are the parties?", second.Messages[0].Content)
	require.Equal(t, domain.ChatRoleAssistant, second.Messages[1].Role)
	last := second.Messages[len(second.Messages)-1].Content
	require.Contains(t, last, "Either party may terminate")
	require.Contains(t, last, "Confidentiality clause present")
	require.True(t, strings.HasSuffix(last, "User question: Can Acme terminate early?"))

	sess, err := svc.GetSession(ctx, sid)
	require.NoError(t, err)
	texts := make([]string, len(sess.Conversation))
	for i, turn := range sess.Conversation {
		texts[i] = turn.Text
	}
	require.Equal(t, []string{
		"Who are the parties?", "Acme Corp and Globex Ltd.",
		"Can Acme terminate early?", "Yes, on 60 days written notice.",
	}, texts)
	require.Equal(t, testNow, sess.Conversation[0].CreatedAt)
}

func TestChat_FailedCallRecordsNothing(t *testing.T) {
	llm := &mockLLM{responses: []llmResponse{{err: &openai.HTTPStatusError{StatusCode: 503}}}}
	svc, _ := newTestService(t, llm)
	sid := seedSession(t, svc, false)

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: "Who pays?"})
	requireCode(t, err, ErrorUpstream, "model_error")

	sess, err := svc.GetSession(context.Background(), sid)
	require.NoError(t, err)
	require.Empty(t, sess.Conversation)
}

func TestChat_QuestionValidation(t *testing.T) {
	llm := &mockLLM{}
	svc, _ := newTestService(t, llm)
	sid := seedSession(t, svc, false)

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: "   "})
	requireCode(t, err, ErrorInvalidInput, "empty_question")

	_, err = svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: strings.Repeat("é", 201)})
	requireCode(t, err, ErrorInvalidInput, "question_too_long")

	_, err = svc.Chat(context.Background(), ChatInput{Question: "Who?"})
	requireCode(t, err, ErrorInvalidInput, "missing_session_id")
	require.Empty(t, llm.prompts)
}

func TestChat_RequiresContract(t *testing.T) {
	svc, _ := newTestService(t, &mockLLM{})
	sess, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: sess.ID, Question: "Who?"})
	requireCode(t, err, ErrorInvalidInput, "contract_missing")
}

func TestChat_TurnLimit(t *testing.T) {
	llm := &mockLLM{responses: []llmResponse{{answer: "ok"}}}
	svc, _ := newTestService(t, llm)
	sid := seedSession(t, svc, false)

	for i := 0; i < 3; i++ {
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: "Again?"})
		require.NoError(t, err)
	}
	_, err := svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: "One more?"})
	requireCode(t, err, ErrorInvalidInput, "conversation_turn_limit")
	require.Len(t, llm.prompts, 3)
}

func TestChat_StoreFailures(t *testing.T) {
	llm := &mockLLM{responses: []llmResponse{{answer: "ok"}}}
	svc, store := newTestService(t, llm)
	sid := seedSession(t, svc, false)

	store.appendErr = errors.New("TransactionCanceledException")
	_, err := svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: "Who?"})
	requireCode(t, err, ErrorInternal, "session_store_error")

	store.appendErr = repository.ErrSessionNotFound
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: "Who?"})
	requireCode(t, err, ErrorNotFound, "session_not_found")
}

func TestChat_PromptTooLarge(t *testing.T) {
	llm := &mockLLM{}
	svc, _ := newTestService(t, llm)
	svc.limits.MaxQuestionLength = 100000
	sid := seedSession(t, svc, false)

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: sid, Question: strings.Repeat("why ", 5000)})
	requireCode(t, err, ErrorPromptTooLarge, "")
	require.Empty(t, llm.prompts)
}
