package types

import (
	"encoding/json"
	"time"
)

// CheckpointType identifies the point in a turn a checkpoint was taken.
type CheckpointType string

const (
	CheckpointExecutionStart    CheckpointType = "execution-start"
	CheckpointToolCall          CheckpointType = "tool-call"
	CheckpointApprovalPending   CheckpointType = "approval-pending"
	CheckpointPartialContent    CheckpointType = "partial-content"
	CheckpointExecutionComplete CheckpointType = "execution-complete"
)

// Valid reports whether the type is a known checkpoint type.
func (t CheckpointType) Valid() bool {
	switch t {
	case CheckpointExecutionStart, CheckpointToolCall, CheckpointApprovalPending,
		CheckpointPartialContent, CheckpointExecutionComplete:
		return true
	}
	return false
}

// SessionCheckpoint is a durable snapshot of in-flight session state.
// At most one live checkpoint exists per session; saving overwrites.
type SessionCheckpoint struct {
	SessionID   string          `json:"sessionID"`
	Type        CheckpointType  `json:"type"`
	ExecutionID string          `json:"executionID,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	ExpiresAt   int64           `json:"expiresAt"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Expired reports whether the checkpoint's TTL has elapsed.
func (c *SessionCheckpoint) Expired(now time.Time) bool {
	return c.ExpiresAt > 0 && c.ExpiresAt <= now.UnixMilli()
}
