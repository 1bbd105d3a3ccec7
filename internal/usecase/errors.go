package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"

	"legal-agent/internal/integrations/secrets"
	"legal-agent/internal/intake"
	"legal-agent/internal/prompt"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorCorruptInput      ErrorCode = "CORRUPT_INPUT"
	ErrorPromptTooLarge    ErrorCode = "PROMPT_TOO_LARGE"
	ErrorAuth              ErrorCode = "AUTH_ERROR"
	ErrorRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorTimeout           ErrorCode = "TIMEOUT"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// modelError classifies a failed prompt assembly or model call.
func modelError(err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, prompt.ErrPromptTooLarge):
		return newError(ErrorPromptTooLarge, "prompt_too_large", err)
	case errors.Is(err, secrets.ErrMissingCredential):
		return newError(ErrorAuth, "model_credential_missing", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTimeout, "model_timeout", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(ErrorTimeout, "model_timeout", err)
	}

	if status, ok := upstreamStatusCode(err); ok {
		switch status {
		case 401, 403:
			return newError(ErrorAuth, "model_auth_error", err)
		case 429:
			return newError(ErrorRateLimited, "model_rate_limited", err)
		}
	}
	return newError(ErrorUpstream, "model_error", err)
}

// intakeError classifies a failed normalization or checklist parse.
func intakeError(err error) *Error {
	switch {
	case errors.Is(err, intake.ErrUnsupportedFormat):
		return newError(ErrorUnsupportedFormat, "unsupported_format", err)
	case errors.Is(err, intake.ErrCorruptInput):
		return newError(ErrorCorruptInput, "corrupt_input", err)
	}
	return newError(ErrorInternal, "intake_error", err)
}
