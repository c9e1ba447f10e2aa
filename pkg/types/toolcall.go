package types

import "encoding/json"

// ToolCallStatus represents the lifecycle state of a tool invocation.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallApproved  ToolCallStatus = "approved"
	ToolCallRejected  ToolCallStatus = "rejected"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// Valid reports whether the status is a known tool-call status.
func (s ToolCallStatus) Valid() bool {
	switch s {
	case ToolCallPending, ToolCallApproved, ToolCallRejected, ToolCallRunning,
		ToolCallCompleted, ToolCallFailed, ToolCallCancelled:
		return true
	}
	return false
}

// ToolCall represents one requested tool invocation. The approval gate
// owns the pending->approved/rejected transition; the orchestrator owns
// approved->running->completed/failed.
type ToolCall struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"sessionID"`
	MessageID        string          `json:"messageID,omitempty"`
	Name             string          `json:"name"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Status           ToolCallStatus  `json:"status"`
	RequiresApproval bool            `json:"requiresApproval"`
	ApprovedBy       string          `json:"approvedBy,omitempty"`
	ApprovedAt       *int64          `json:"approvedAt,omitempty"`
	ExecutedAt       *int64          `json:"executedAt,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        int64           `json:"createdAt"`
}

// Decided reports whether the call has already left the pending state.
// A decided call must never be approved or rejected again.
func (t *ToolCall) Decided() bool {
	return t.Status != ToolCallPending
}
