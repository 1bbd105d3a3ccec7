package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"legal-agent/internal/compliance"
	"legal-agent/internal/domain"
	"legal-agent/internal/prompt"
	"legal-agent/internal/repository"
)

const (
	DefaultMaxQuestionLength    = 2000
	DefaultMaxConversationTurns = 20
	DefaultMaxUploadBytes       = 5 << 20
)

// Completer sends one assembled prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, p domain.Prompt) (string, error)
}

// SessionStore persists session state between user actions.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error
	Delete(ctx context.Context, sessionID string) error
}

// BlobStore keeps raw upload bytes for the lifetime of a session.
type BlobStore interface {
	Put(ctx context.Context, sessionID string, doc domain.Document) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Limits struct {
	MaxQuestionLength    int
	MaxConversationTurns int
	MaxUploadBytes       int
}

// Service runs one user action per call. Every action makes at most one model
// call at a time; Review runs its four calls one after another.
type Service struct {
	model      Completer
	prompts    *prompt.Assembler
	comparator *compliance.Comparator
	sessions   SessionStore
	blobs      BlobStore
	limits     Limits
	now        func() time.Time
}

type Option func(*Service)

// WithBlobStore keeps a copy of every upload until the session ends.
func WithBlobStore(b BlobStore) Option {
	return func(s *Service) {
		s.blobs = b
	}
}

func NewService(model Completer, prompts *prompt.Assembler, sessions SessionStore, limits Limits, opts ...Option) (*Service, error) {
	if model == nil {
		return nil, errors.New("usecase: model client must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("usecase: prompt assembler must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	comparator, err := compliance.New(model, prompts)
	if err != nil {
		return nil, err
	}
	if limits.MaxQuestionLength <= 0 {
		limits.MaxQuestionLength = DefaultMaxQuestionLength
	}
	if limits.MaxConversationTurns <= 0 {
		limits.MaxConversationTurns = DefaultMaxConversationTurns
	}
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Service{
		model:      model,
		prompts:    prompts,
		comparator: comparator,
		sessions:   sessions,
		limits:     limits,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return domain.Session{}, newError(ErrorNotFound, "session_not_found", err)
	}
	if err != nil {
		return domain.Session{}, newError(ErrorInternal, "session_store_error", err)
	}
	return sess, nil
}

func (s *Service) saveSession(ctx context.Context, sess *domain.Session) error {
	sess.LastActivity = s.now().UTC()
	if err := s.sessions.Save(ctx, *sess); err != nil {
		return newError(ErrorInternal, "session_store_error", err)
	}
	return nil
}

func requireContract(sess domain.Session) error {
	if sess.Contract == nil {
		return newError(ErrorInvalidInput, "contract_missing", nil)
	}
	return nil
}

func requireChecklist(sess domain.Session) error {
	if sess.Checklist == nil || len(sess.Checklist.Items) == 0 {
		return newError(ErrorInvalidInput, "checklist_missing", nil)
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
