package types

import (
	"errors"
	"fmt"
	"net/http"
)

// SessionErrorCode identifies a domain failure surfaced by the engine.
type SessionErrorCode string

const (
	ErrSessionNotFound  SessionErrorCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive SessionErrorCode = "SESSION_NOT_ACTIVE"
	ErrSessionExpired   SessionErrorCode = "SESSION_EXPIRED"
	ErrSessionSuspended SessionErrorCode = "SESSION_SUSPENDED"

	ErrAgentNotFound     SessionErrorCode = "AGENT_NOT_FOUND"
	ErrAgentConfigError  SessionErrorCode = "AGENT_CONFIG_ERROR"
	ErrAgentNotAvailable SessionErrorCode = "AGENT_NOT_AVAILABLE"

	ErrLLMTimeout       SessionErrorCode = "LLM_TIMEOUT"
	ErrLLMRateLimit     SessionErrorCode = "LLM_RATE_LIMIT"
	ErrLLMAPIError      SessionErrorCode = "LLM_API_ERROR"
	ErrLLMContentFilter SessionErrorCode = "LLM_CONTENT_FILTER"
	ErrLLMTokenLimit    SessionErrorCode = "LLM_TOKEN_LIMIT"

	ErrToolNotFound         SessionErrorCode = "TOOL_NOT_FOUND"
	ErrToolExecutionError   SessionErrorCode = "TOOL_EXECUTION_ERROR"
	ErrToolTimeout          SessionErrorCode = "TOOL_TIMEOUT"
	ErrToolPermissionDenied SessionErrorCode = "TOOL_PERMISSION_DENIED"
	ErrToolValidationError  SessionErrorCode = "TOOL_VALIDATION_ERROR"

	ErrApprovalNotFound         SessionErrorCode = "APPROVAL_NOT_FOUND"
	ErrApprovalExpired          SessionErrorCode = "APPROVAL_EXPIRED"
	ErrApprovalAlreadyProcessed SessionErrorCode = "APPROVAL_ALREADY_PROCESSED"

	ErrInternal           SessionErrorCode = "INTERNAL_ERROR"
	ErrRateLimitExceeded  SessionErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrServiceUnavailable SessionErrorCode = "SERVICE_UNAVAILABLE"
	ErrInvalidRequest     SessionErrorCode = "INVALID_REQUEST"
)

// HTTPStatus maps the code to its HTTP-equivalent status.
func (c SessionErrorCode) HTTPStatus() int {
	switch c {
	case ErrSessionNotFound, ErrAgentNotFound, ErrToolNotFound, ErrApprovalNotFound:
		return http.StatusNotFound
	case ErrSessionNotActive, ErrSessionSuspended:
		return http.StatusConflict
	case ErrSessionExpired, ErrApprovalExpired:
		return http.StatusGone
	case ErrApprovalAlreadyProcessed:
		return http.StatusConflict
	case ErrAgentConfigError, ErrInvalidRequest, ErrToolValidationError:
		return http.StatusBadRequest
	case ErrToolPermissionDenied, ErrLLMContentFilter:
		return http.StatusForbidden
	case ErrLLMTimeout, ErrToolTimeout:
		return http.StatusGatewayTimeout
	case ErrLLMRateLimit, ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrLLMTokenLimit:
		return http.StatusRequestEntityTooLarge
	case ErrAgentNotAvailable, ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrLLMAPIError:
		return http.StatusBadGateway
	case ErrInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Recoverable reports whether a failure with this code is safe to retry
// without external intervention.
func (c SessionErrorCode) Recoverable() bool {
	switch c {
	case ErrLLMTimeout, ErrLLMRateLimit, ErrLLMAPIError, ErrToolTimeout,
		ErrAgentNotAvailable, ErrServiceUnavailable, ErrRateLimitExceeded:
		return true
	}
	return false
}

// SessionError is a structured, classified failure carrying enough
// context for the API boundary to map it to a status and message.
type SessionError struct {
	Code        SessionErrorCode `json:"code"`
	Message     string           `json:"message"`
	Details     map[string]any   `json:"details,omitempty"`
	Recoverable bool             `json:"recoverable"`
	SessionID   string           `json:"sessionID,omitempty"`
	ExecutionID string           `json:"executionID,omitempty"`
	cause       error
}

// NewSessionError builds a SessionError with the code's default
// recoverability.
func NewSessionError(code SessionErrorCode, message string) *SessionError {
	return &SessionError{
		Code:        code,
		Message:     message,
		Recoverable: code.Recoverable(),
	}
}

// WithSession attaches session context to the error.
func (e *SessionError) WithSession(sessionID string) *SessionError {
	e.SessionID = sessionID
	return e
}

// WithExecution attaches execution context to the error.
func (e *SessionError) WithExecution(executionID string) *SessionError {
	e.ExecutionID = executionID
	return e
}

// WithDetail attaches a single detail field to the error.
func (e *SessionError) WithDetail(key string, value any) *SessionError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error for unwrapping.
func (e *SessionError) WithCause(err error) *SessionError {
	e.cause = err
	return e
}

func (e *SessionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.cause
}

// AsSessionError extracts a *SessionError from an error chain.
func AsSessionError(err error) (*SessionError, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
