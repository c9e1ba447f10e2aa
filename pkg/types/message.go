package types

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is a known message role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// AttachmentType categorizes an attachment.
type AttachmentType string

const (
	AttachmentFile  AttachmentType = "file"
	AttachmentImage AttachmentType = "image"
)

// Attachment represents a file referenced by a message. It is owned by
// the message that references it.
type Attachment struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"contentType"`
	Size        int64          `json:"size"`
	Type        AttachmentType `json:"type"`
	UploadedAt  int64          `json:"uploadedAt"`
}

// Message is a single entry in a session's conversation. Messages are
// immutable once persisted; ParentID supports branching from an earlier
// point in the conversation.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionID"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []string     `json:"toolCalls,omitempty"`
	ParentID    *string      `json:"parentID,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
}
