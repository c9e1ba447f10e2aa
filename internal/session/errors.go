package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/retry"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// ClassifyAgentError wraps an agent/LLM invocation failure into a
// SessionError with the matching domain code.
func ClassifyAgentError(err error, sessionID string) *types.SessionError {
	if se, ok := types.AsSessionError(err); ok {
		return se
	}

	msg := strings.ToLower(err.Error())
	var code types.SessionErrorCode
	switch {
	case strings.Contains(msg, "content filter") || strings.Contains(msg, "content_filter") || strings.Contains(msg, "filtered"):
		code = types.ErrLLMContentFilter
	case strings.Contains(msg, "token limit") || strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens"):
		code = types.ErrLLMTokenLimit
	default:
		switch retry.Classify(err) {
		case retry.KindTimeout:
			code = types.ErrLLMTimeout
		case retry.KindRateLimit:
			code = types.ErrLLMRateLimit
		case retry.KindConnection, retry.KindServiceUnavailable, retry.KindTemporary:
			code = types.ErrAgentNotAvailable
		case retry.KindAuth, retry.KindConfiguration:
			code = types.ErrAgentConfigError
		case retry.KindCancelled:
			code = types.ErrInternal
		default:
			code = types.ErrLLMAPIError
		}
	}

	return types.NewSessionError(code, err.Error()).
		WithSession(sessionID).
		WithCause(err)
}

// ClassifyToolError wraps a tool execution failure into a SessionError.
func ClassifyToolError(err error, sessionID, toolName string) *types.SessionError {
	if se, ok := types.AsSessionError(err); ok {
		return se
	}

	var code types.SessionErrorCode
	switch {
	case errors.Is(err, tool.ErrToolNotFound):
		code = types.ErrToolNotFound
	case errors.Is(err, tool.ErrPermissionDenied):
		code = types.ErrToolPermissionDenied
	case errors.Is(err, tool.ErrValidation):
		code = types.ErrToolValidationError
	case retry.Classify(err) == retry.KindTimeout:
		code = types.ErrToolTimeout
	default:
		code = types.ErrToolExecutionError
	}

	return types.NewSessionError(code, err.Error()).
		WithSession(sessionID).
		WithDetail("tool", toolName).
		WithCause(err)
}

// Handler retries session-scoped operations, re-raising immediately on
// non-recoverable SessionErrors. It shares the backoff formula with the
// generic retry policy but speaks the domain taxonomy.
type Handler struct {
	policy retry.Policy
	log    zerolog.Logger
}

// NewHandler creates a session error handler with the given policy.
func NewHandler(policy retry.Policy, log zerolog.Logger) *Handler {
	return &Handler{policy: policy, log: log}
}

// WithRetry runs op up to MaxRetries+1 times. Each failure is passed
// through classify; a non-recoverable result stops immediately. onRetry
// runs between attempts, before the backoff sleep, so callers can
// refresh a checkpoint first.
func (h *Handler) WithRetry(
	ctx context.Context,
	op func(ctx context.Context) error,
	classify func(err error) *types.SessionError,
	onRetry func(attempt int, se *types.SessionError),
) error {
	var last *types.SessionError
	for attempt := 0; attempt <= h.policy.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		last = classify(err)
		if !last.Recoverable {
			return last
		}
		if attempt == h.policy.MaxRetries {
			break
		}

		if onRetry != nil {
			onRetry(attempt, last)
		}

		delay := h.policy.Delay(attempt)
		h.log.Warn().
			Err(last).
			Str("sessionID", last.SessionID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("retrying after recoverable failure")

		select {
		case <-ctx.Done():
			return types.NewSessionError(types.ErrInternal, "operation cancelled").
				WithSession(last.SessionID).
				WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}
	return last
}
