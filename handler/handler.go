package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"legal-agent/internal/domain"
	"legal-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type UseCase interface {
	CreateSession(ctx context.Context) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	Upload(ctx context.Context, in usecase.UploadInput) (usecase.UploadOutput, error)
	Summarize(ctx context.Context, sessionID string) (domain.SummaryResult, error)
	Validate(ctx context.Context, sessionID string) (domain.ComplianceReport, error)
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Review(ctx context.Context, sessionID string) (domain.ReviewReport, error)
}

type Handler struct {
	uc UseCase
}

func NewHandler(uc UseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

type uploadRequest struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	// Content is base64 in the JSON body.
	Content []byte `json:"content"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type documentView struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Format     domain.Format `json:"format"`
	Pages      int           `json:"pages,omitempty"`
	Size       int           `json:"size"`
	Chars      int           `json:"chars"`
	UploadedAt time.Time     `json:"uploadedAt"`
}

type sessionResponse struct {
	SessionID    string                    `json:"sessionId"`
	Contract     *documentView             `json:"contract,omitempty"`
	Checklist    []domain.ChecklistItem    `json:"checklist,omitempty"`
	Conversation []domain.ConversationTurn `json:"conversation"`
	Summary      *domain.SummaryResult     `json:"summary,omitempty"`
	Report       *domain.ComplianceReport  `json:"report,omitempty"`
	Review       *domain.ReviewReport      `json:"review,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
	LastActivity time.Time                 `json:"lastActivity"`
}

type uploadResponse struct {
	SessionID string                 `json:"sessionId"`
	Document  documentView           `json:"document"`
	Checklist []domain.ChecklistItem `json:"checklist,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	Turns     int    `json:"turns"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// route is a parsed request path: /sessions[/{id}[/{action}]].
type route struct {
	sessionID string
	action    string
}

func parseRoute(path string) (route, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] != "sessions" || len(parts) > 3 {
		return route{}, false
	}
	var r route
	if len(parts) >= 2 {
		r.sessionID = parts[1]
		if r.sessionID == "" {
			return route{}, false
		}
	}
	if len(parts) == 3 {
		r.action = parts[2]
	}
	return r, true
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	start := time.Now()

	r, ok := parseRoute(event.Path)
	if !ok {
		return h.fail(ctx, correlationID, event, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "unknown_route"}), nil
	}

	status, payload, err := h.dispatch(ctx, event, r)
	if err != nil {
		var routeErr *routeError
		if errors.As(err, &routeErr) {
			return h.fail(ctx, correlationID, event, routeErr.status, errorResponse{Error: routeErr.code, Reason: routeErr.reason}), nil
		}
		code, reason := errorCode(err)
		slog.ErrorContext(ctx, "request failed",
			"correlationId", correlationID, "method", event.HTTPMethod, "path", event.Path,
			"code", code, "reason", reason, "err", err)
		return jsonResponse(statusFor(code), errorResponse{Error: string(code), Reason: reason}, correlationID), nil
	}

	slog.InfoContext(ctx, "request handled",
		"correlationId", correlationID, "method", event.HTTPMethod, "path", event.Path,
		"status", status, "latencyMs", time.Since(start).Milliseconds())
	if payload == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: map[string]string{correlationHeader: correlationID}}, nil
	}
	return jsonResponse(status, payload, correlationID), nil
}

// routeError is a request rejected before it reached the use case.
type routeError struct {
	status int
	code   string
	reason string
}

func (e *routeError) Error() string { return e.code + ": " + e.reason }

func methodNotAllowed() error {
	return &routeError{status: http.StatusMethodNotAllowed, code: "METHOD_NOT_ALLOWED", reason: "method_not_allowed"}
}

func badBody(reason string) error {
	return &routeError{status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput), reason: reason}
}

func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest, r route) (int, any, error) {
	method := strings.ToUpper(event.HTTPMethod)

	if r.sessionID == "" {
		if method != http.MethodPost {
			return 0, nil, methodNotAllowed()
		}
		sess, err := h.uc.CreateSession(ctx)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toSessionResponse(sess), nil
	}

	if r.action == "" {
		switch method {
		case http.MethodGet:
			sess, err := h.uc.GetSession(ctx, r.sessionID)
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, toSessionResponse(sess), nil
		case http.MethodDelete:
			if err := h.uc.EndSession(ctx, r.sessionID); err != nil {
				return 0, nil, err
			}
			return http.StatusNoContent, nil, nil
		}
		return 0, nil, methodNotAllowed()
	}

	switch r.action {
	case "documents", "summary", "validation", "chat", "review":
	default:
		return 0, nil, &routeError{status: http.StatusNotFound, code: "NOT_FOUND", reason: "unknown_route"}
	}
	if method != http.MethodPost {
		return 0, nil, methodNotAllowed()
	}

	switch r.action {
	case "documents":
		var req uploadRequest
		if err := decodeBody(event, &req); err != nil {
			return 0, nil, err
		}
		out, err := h.uc.Upload(ctx, usecase.UploadInput{
			SessionID: r.sessionID,
			Kind:      domain.DocumentKind(req.Kind),
			Filename:  req.Filename,
			Format:    req.Format,
			Content:   req.Content,
		})
		if err != nil {
			return 0, nil, err
		}
		resp := uploadResponse{SessionID: out.SessionID, Document: toDocumentView(out.Document)}
		if out.Checklist != nil {
			resp.Checklist = out.Checklist.Items
		}
		return http.StatusOK, resp, nil
	case "summary":
		out, err := h.uc.Summarize(ctx, r.sessionID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, out, nil
	case "validation":
		out, err := h.uc.Validate(ctx, r.sessionID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, out, nil
	case "chat":
		var req chatRequest
		if err := decodeBody(event, &req); err != nil {
			return 0, nil, err
		}
		out, err := h.uc.Chat(ctx, usecase.ChatInput{SessionID: r.sessionID, Question: req.Question})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, chatResponse{SessionID: out.SessionID, Answer: out.Answer, Turns: out.Turns}, nil
	default:
		out, err := h.uc.Review(ctx, r.sessionID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, out, nil
	}
}

func decodeBody(event events.APIGatewayProxyRequest, v any) error {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return badBody("invalid_body_encoding")
		}
		body = decoded
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badBody("invalid_json")
	}
	return nil
}

func (h *Handler) fail(ctx context.Context, correlationID string, event events.APIGatewayProxyRequest, status int, body errorResponse) events.APIGatewayProxyResponse {
	slog.WarnContext(ctx, "request rejected",
		"correlationId", correlationID, "method", event.HTTPMethod, "path", event.Path,
		"status", status, "reason", body.Reason)
	return jsonResponse(status, body, correlationID)
}

func errorCode(err error) (usecase.ErrorCode, string) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Code, ucErr.Reason
	}
	return usecase.ErrorInternal, "unexpected_error"
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case usecase.ErrorCorruptInput:
		return http.StatusUnprocessableEntity
	case usecase.ErrorPromptTooLarge:
		return http.StatusRequestEntityTooLarge
	case usecase.ErrorAuth:
		return http.StatusServiceUnavailable
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal response", "correlationId", correlationID, "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"INTERNAL_ERROR","reason":"marshal_error"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func toDocumentView(doc domain.Document) documentView {
	return documentView{
		ID:         doc.ID,
		Name:       doc.Name,
		Format:     doc.Format,
		Pages:      doc.Pages,
		Size:       doc.Size,
		Chars:      len([]rune(doc.Text)),
		UploadedAt: doc.UploadedAt,
	}
}

func toSessionResponse(sess domain.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:    sess.ID,
		Conversation: sess.Conversation,
		Summary:      sess.Summary,
		Report:       sess.Report,
		Review:       sess.Review,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}
	if resp.Conversation == nil {
		resp.Conversation = []domain.ConversationTurn{}
	}
	if sess.Contract != nil {
		view := toDocumentView(*sess.Contract)
		resp.Contract = &view
	}
	if sess.Checklist != nil {
		resp.Checklist = sess.Checklist.Items
	}
	return resp
}
