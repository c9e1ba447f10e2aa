// Package types provides the core data types for the session execution engine.
package types

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionActive    SessionStatus = "active"
	SessionSuspended SessionStatus = "suspended"
	SessionEnded     SessionStatus = "ended"
	SessionExpired   SessionStatus = "expired"
)

// Valid reports whether the status is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionCreated, SessionActive, SessionSuspended, SessionEnded, SessionExpired:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionExpired
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Transitions are monotonic except for the active/suspended cycle.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionCreated:
		return next == SessionActive || next == SessionEnded
	case SessionActive:
		return next == SessionSuspended || next == SessionEnded || next == SessionExpired
	case SessionSuspended:
		return next == SessionActive || next == SessionEnded || next == SessionExpired
	}
	return false
}

// SessionConfig holds per-session limits and capabilities.
type SessionConfig struct {
	MaxMessages    int           `json:"maxMessages,omitempty"`
	MaxAttachments int           `json:"maxAttachments,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	Capabilities   []string      `json:"capabilities,omitempty"`
	AllowedTools   []string      `json:"allowedTools,omitempty"`
	BlockedTools   []string      `json:"blockedTools,omitempty"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created   int64  `json:"created"`
	Updated   int64  `json:"updated"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	EndedAt   *int64 `json:"endedAt,omitempty"`
}

// Session represents a multi-turn conversation between a user and an agent.
// Sessions are soft-ended, never physically destroyed.
type Session struct {
	ID       string         `json:"id"`
	UserID   string         `json:"userID"`
	AgentID  string         `json:"agentID"`
	Status   SessionStatus  `json:"status"`
	Config   SessionConfig  `json:"config"`
	Time     SessionTime    `json:"time"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsExpired reports whether the session's expiry deadline has passed.
func (s *Session) IsExpired(now time.Time) bool {
	return s.Time.ExpiresAt != nil && *s.Time.ExpiresAt <= now.UnixMilli()
}
