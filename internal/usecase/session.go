package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"legal-agent/internal/domain"
	"legal-agent/internal/intake"
	"legal-agent/internal/repository"
)

type UploadInput struct {
	SessionID string
	Kind      domain.DocumentKind
	Filename  string
	// Format is optional; the filename extension decides when it is empty.
	Format  string
	Content []byte
}

type UploadOutput struct {
	SessionID string
	Document  domain.Document
	Checklist *domain.Checklist
}

func (s *Service) CreateSession(ctx context.Context) (domain.Session, error) {
	now := s.now().UTC()
	sess := domain.Session{ID: newUUID(), CreatedAt: now}
	if err := s.saveSession(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.loadSession(ctx, sessionID)
}

// EndSession discards all session state, including stored uploads.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.blobs != nil {
		if err := s.blobs.DeleteSession(ctx, sess.ID); err != nil {
			return newError(ErrorInternal, "blob_store_error", err)
		}
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return newError(ErrorInternal, "session_store_error", err)
	}
	return nil
}

// Upload normalizes a document into the session's contract or checklist slot.
// A new upload replaces the previous document of that kind and every result
// derived from it. An empty SessionID starts a new session.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadOutput, error) {
	kind := domain.DocumentKind(strings.ToLower(strings.TrimSpace(string(in.Kind))))
	if kind != domain.KindContract && kind != domain.KindChecklist {
		return UploadOutput{}, newError(ErrorInvalidInput, "invalid_document_kind", nil)
	}
	if len(in.Content) > s.limits.MaxUploadBytes {
		return UploadOutput{}, newError(ErrorInvalidInput, "upload_too_large", nil)
	}

	var (
		format domain.Format
		err    error
	)
	if strings.TrimSpace(in.Format) != "" {
		format, err = intake.ParseFormat(in.Format)
	} else {
		format, err = intake.DetectFormat(in.Filename)
	}
	if err != nil {
		return UploadOutput{}, intakeError(err)
	}

	var sess domain.Session
	if strings.TrimSpace(in.SessionID) == "" {
		sess = domain.Session{ID: newUUID(), CreatedAt: s.now().UTC()}
	} else if sess, err = s.loadSession(ctx, in.SessionID); err != nil {
		return UploadOutput{}, err
	}

	doc, err := intake.Normalize(in.Filename, format, in.Content)
	if err != nil {
		return UploadOutput{}, intakeError(err)
	}

	var checklist *domain.Checklist
	if kind == domain.KindChecklist {
		cl, err := intake.ParseChecklist(doc)
		if err != nil {
			return UploadOutput{}, intakeError(err)
		}
		checklist = &cl
	}

	if s.blobs != nil {
		key, err := s.blobs.Put(ctx, sess.ID, doc)
		if err != nil {
			return UploadOutput{}, newError(ErrorInternal, "blob_store_error", err)
		}
		doc.BlobKey = key
	}

	if checklist != nil {
		sess.SetChecklist(doc, *checklist)
	} else {
		sess.SetContract(doc)
	}
	if err := s.saveSession(ctx, &sess); err != nil {
		return UploadOutput{}, err
	}

	slog.InfoContext(ctx, "document uploaded",
		"sessionId", sess.ID, "kind", string(kind), "format", string(doc.Format),
		"bytes", doc.Size, "pages", doc.Pages, "chars", len([]rune(doc.Text)))
	return UploadOutput{SessionID: sess.ID, Document: doc, Checklist: checklist}, nil
}

// appendTurns maps store failures after a successful model call.
func (s *Service) appendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	err := s.sessions.AppendTurns(ctx, sessionID, turns...)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return newError(ErrorNotFound, "session_not_found", err)
	}
	if err != nil {
		return newError(ErrorInternal, "session_store_error", err)
	}
	return nil
}
