package event

// EventType represents the type of event.
type EventType string

const (
	SessionCreated   EventType = "session.created"
	SessionUpdated   EventType = "session.updated"
	SessionActivated EventType = "session.activated"
	SessionSuspended EventType = "session.suspended"
	SessionResumed   EventType = "session.resumed"
	SessionEnded     EventType = "session.ended"
	SessionExpired   EventType = "session.expired"

	MessageSent     EventType = "message.sent"
	MessageReceived EventType = "message.received"

	ToolCallRequested EventType = "toolcall.requested"
	ToolCallApproved  EventType = "toolcall.approved"
	ToolCallRejected  EventType = "toolcall.rejected"
	ToolCallStarted   EventType = "toolcall.started"
	ToolCallCompleted EventType = "toolcall.completed"
	ToolCallFailed    EventType = "toolcall.failed"

	AttachmentAdded EventType = "attachment.added"

	ErrorOccurred EventType = "error.occurred"
)

// SessionEvent is a single published event. Durability, if any, comes
// from the recovery manager's event buffer, never from the bus.
type SessionEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionID"`
	UserID    string         `json:"userID,omitempty"`
	AgentID   string         `json:"agentID,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
