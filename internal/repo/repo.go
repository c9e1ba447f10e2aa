// Package repo defines durable storage for sessions, messages, and tool
// calls, with in-memory and file-backed implementations.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the durable store consumed by the orchestrator. All
// operations are session-scoped; message order is insertion order.
type Repository interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, s *types.Session) error
	// DeleteSession physically removes a session and everything owned
	// by it. Normal shutdown is a soft end; this is for purging.
	DeleteSession(ctx context.Context, id string) error
	// ListByUser returns a user's sessions, optionally filtered by
	// status, paged by limit and offset.
	ListByUser(ctx context.Context, userID string, status *types.SessionStatus, limit, offset int) ([]*types.Session, error)

	AddMessage(ctx context.Context, sessionID string, m *types.Message) error
	// GetMessages returns up to limit messages in insertion order. A
	// non-empty beforeID restricts the page to messages strictly before
	// that message; the page is the most recent messages in range.
	GetMessages(ctx context.Context, sessionID string, limit int, beforeID string) ([]*types.Message, error)

	SaveToolCall(ctx context.Context, tc *types.ToolCall) error
	GetToolCall(ctx context.Context, id string) (*types.ToolCall, error)
	UpdateToolCall(ctx context.Context, tc *types.ToolCall) error

	// ExpiredSessions returns non-terminal sessions whose expiry
	// deadline has passed.
	ExpiredSessions(ctx context.Context, now time.Time) ([]*types.Session, error)
	// CleanupExpired marks every such session expired and returns the
	// count.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// pageMessages applies the beforeID/limit paging rule to an ordered
// message list.
func pageMessages(ordered []*types.Message, limit int, beforeID string) []*types.Message {
	msgs := ordered
	if beforeID != "" {
		cut := len(msgs)
		for i, m := range msgs {
			if m.ID == beforeID {
				cut = i
				break
			}
		}
		msgs = msgs[:cut]
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*types.Message, len(msgs))
	copy(out, msgs)
	return out
}
