package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"legal-agent/internal/domain"
	"legal-agent/internal/usecase"
)

type stubUseCase struct {
	err error

	session   domain.Session
	upload    usecase.UploadOutput
	summary   domain.SummaryResult
	report    domain.ComplianceReport
	chat      usecase.ChatOutput
	review    domain.ReviewReport
	uploadIn  usecase.UploadInput
	chatIn    usecase.ChatInput
	sessionID string
	calls     []string
}

func (s *stubUseCase) record(name, sessionID string) {
	s.calls = append(s.calls, name)
	s.sessionID = sessionID
}

func (s *stubUseCase) CreateSession(context.Context) (domain.Session, error) {
	s.record("create", "")
	return s.session, s.err
}

func (s *stubUseCase) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.record("get", id)
	return s.session, s.err
}

func (s *stubUseCase) EndSession(_ context.Context, id string) error {
	s.record("end", id)
	return s.err
}

func (s *stubUseCase) Upload(_ context.Context, in usecase.UploadInput) (usecase.UploadOutput, error) {
	s.record("upload", in.SessionID)
	s.uploadIn = in
	return s.upload, s.err
}

func (s *stubUseCase) Summarize(_ context.Context, id string) (domain.SummaryResult, error) {
	s.record("summarize", id)
	return s.summary, s.err
}

func (s *stubUseCase) Validate(_ context.Context, id string) (domain.ComplianceReport, error) {
	s.record("validate", id)
	return s.report, s.err
}

func (s *stubUseCase) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.record("chat", in.SessionID)
	s.chatIn = in
	return s.chat, s.err
}

func (s *stubUseCase) Review(_ context.Context, id string) (domain.ReviewReport, error) {
	s.record("review", id)
	return s.review, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, uc *stubUseCase) *Handler {
	t.Helper()
	h, err := NewHandler(uc)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_CreateSession(t *testing.T) {
	uc := &stubUseCase{session: domain.Session{ID: "sess-1"}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := parseBody[sessionResponse](t, resp.Body)
	require.Equal(t, "sess-1", out.SessionID)
	require.NotNil(t, out.Conversation)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_GetAndDeleteSession(t *testing.T) {
	uc := &stubUseCase{session: domain.Session{
		ID:       "sess-1",
		Contract: &domain.Document{ID: "doc-1", Name: "msa.pdf", Format: domain.FormatPDF, Text: "Agreement", Pages: 2, Size: 900},
		Conversation: domain.Conversation{
			{Role: domain.RoleUser, Text: "Who?"},
			{Role: domain.RoleAssistant, Text: "Acme."},
		},
	}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/sess-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[sessionResponse](t, resp.Body)
	require.Equal(t, "doc-1", out.Contract.ID)
	require.Equal(t, 9, out.Contract.Chars)
	require.Len(t, out.Conversation, 2)
	require.Equal(t, "sess-1", uc.sessionID)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodDelete, "/sessions/sess-1/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, resp.Body)
	require.Equal(t, []string{"get", "end"}, uc.calls)
}

func TestHandle_UploadDecodesContent(t *testing.T) {
	uc := &stubUseCase{upload: usecase.UploadOutput{
		SessionID: "sess-1",
		Document:  domain.Document{ID: "doc-2", Name: "rules.json", Format: domain.FormatJSON, Text: "1: NDA"},
		Checklist: &domain.Checklist{Items: []domain.ChecklistItem{{ID: "1", Description: "NDA"}}},
	}}
	h := newTestHandler(t, uc)

	content := base64.StdEncoding.EncodeToString([]byte(`["NDA"]`))
	body := `{"kind":"checklist","filename":"rules.json","content":"` + content + `"}`
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/sess-1/documents", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.UploadInput{
		SessionID: "sess-1",
		Kind:      domain.KindChecklist,
		Filename:  "rules.json",
		Content:   []byte(`["NDA"]`),
	}, uc.uploadIn)

	out := parseBody[uploadResponse](t, resp.Body)
	require.Equal(t, "doc-2", out.Document.ID)
	require.Len(t, out.Checklist, 1)
}

func TestHandle_Base64EncodedEventBody(t *testing.T) {
	uc := &stubUseCase{chat: usecase.ChatOutput{SessionID: "sess-1", Answer: "60 days", Turns: 1}}
	h := newTestHandler(t, uc)

	event := makeEvent(http.MethodPost, "/sessions/sess-1/chat", base64.StdEncoding.EncodeToString([]byte(`{"question":"Notice period?"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{SessionID: "sess-1", Question: "Notice period?"}, uc.chatIn)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "60 days", out.Answer)
	require.Equal(t, 1, out.Turns)
}

func TestHandle_AnalysisRoutes(t *testing.T) {
	uc := &stubUseCase{
		summary: domain.SummaryResult{Text: "- Parties: Acme"},
		report:  domain.ComplianceReport{Findings: []domain.Finding{{ItemID: "1", Status: domain.StatusMissing}}},
		review:  domain.ReviewReport{Followups: domain.Followups{Questions: []string{"NDA?"}}},
	}
	h := newTestHandler(t, uc)
	ctx := context.Background()

	resp, err := h.Handle(ctx, makeEvent(http.MethodPost, "/sessions/s/summary", ""))
	require.NoError(t, err)
	require.Equal(t, "- Parties: Acme", parseBody[domain.SummaryResult](t, resp.Body).Text)

	resp, err = h.Handle(ctx, makeEvent(http.MethodPost, "/sessions/s/validation", ""))
	require.NoError(t, err)
	require.Equal(t, domain.StatusMissing, parseBody[domain.ComplianceReport](t, resp.Body).Findings[0].Status)

	resp, err = h.Handle(ctx, makeEvent(http.MethodPost, "/sessions/s/review", ""))
	require.NoError(t, err)
	require.Equal(t, []string{"NDA?"}, parseBody[domain.ReviewReport](t, resp.Body).Followups.Questions)

	require.Equal(t, []string{"summarize", "validate", "review"}, uc.calls)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s/chat", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Empty(t, uc.calls)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s/documents", `{"kind":"contract","content":"%%%"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, uc.calls)
}

func TestHandle_UnknownRouteAndMethod(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})
	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodPost, "/ask", http.StatusNotFound},
		{http.MethodPost, "/sessions/s/unknown", http.StatusNotFound},
		{http.MethodPost, "/sessions/s/chat/extra", http.StatusNotFound},
		{http.MethodGet, "/sessions", http.StatusMethodNotAllowed},
		{http.MethodPut, "/sessions/s", http.StatusMethodNotAllowed},
		{http.MethodGet, "/sessions/s/summary", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, ""))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, "%s %s", tc.method, tc.path)
		require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	}
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "session_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "unsupported format", err: &usecase.Error{Code: usecase.ErrorUnsupportedFormat, Reason: "unsupported_format"}, status: http.StatusUnsupportedMediaType, code: string(usecase.ErrorUnsupportedFormat)},
		{name: "corrupt input", err: &usecase.Error{Code: usecase.ErrorCorruptInput, Reason: "corrupt_input"}, status: http.StatusUnprocessableEntity, code: string(usecase.ErrorCorruptInput)},
		{name: "prompt too large", err: &usecase.Error{Code: usecase.ErrorPromptTooLarge, Reason: "prompt_too_large"}, status: http.StatusRequestEntityTooLarge, code: string(usecase.ErrorPromptTooLarge)},
		{name: "auth", err: &usecase.Error{Code: usecase.ErrorAuth, Reason: "model_auth_error"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorAuth)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "model_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "model_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "timeout", err: &usecase.Error{Code: usecase.ErrorTimeout, Reason: "model_timeout"}, status: http.StatusGatewayTimeout, code: string(usecase.ErrorTimeout)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_store_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubUseCase{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s/summary", ""))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{session: domain.Session{ID: "sess-1"}})

	event := makeEvent(http.MethodGet, "/sessions/sess-1", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
