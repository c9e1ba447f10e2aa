package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// Memory is a mutex-guarded in-memory Repository for tests and headless
// runs.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]*types.Session
	messages  map[string][]*types.Message // sessionID -> ordered
	toolCalls map[string]*types.ToolCall
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*types.Session),
		messages:  make(map[string][]*types.Message),
		toolCalls: make(map[string]*types.ToolCall),
	}
}

func (r *Memory) CreateSession(ctx context.Context, s *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *Memory) GetSession(ctx context.Context, id string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *Memory) UpdateSession(ctx context.Context, s *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *Memory) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	for _, m := range r.messages[id] {
		for _, callID := range m.ToolCalls {
			delete(r.toolCalls, callID)
		}
	}
	delete(r.messages, id)
	for callID, tc := range r.toolCalls {
		if tc.SessionID == id {
			delete(r.toolCalls, callID)
		}
	}
	return nil
}

func (r *Memory) ListByUser(ctx context.Context, userID string, status *types.SessionStatus, limit, offset int) ([]*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Session
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if status != nil && s.Status != *status {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Created < out[j].Time.Created
	})

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Memory) AddMessage(ctx context.Context, sessionID string, m *types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	cp := *m
	r.messages[sessionID] = append(r.messages[sessionID], &cp)
	return nil
}

func (r *Memory) GetMessages(ctx context.Context, sessionID string, limit int, beforeID string) ([]*types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pageMessages(r.messages[sessionID], limit, beforeID), nil
}

func (r *Memory) SaveToolCall(ctx context.Context, tc *types.ToolCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tc
	r.toolCalls[tc.ID] = &cp
	return nil
}

func (r *Memory) GetToolCall(ctx context.Context, id string) (*types.ToolCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.toolCalls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (r *Memory) UpdateToolCall(ctx context.Context, tc *types.ToolCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.toolCalls[tc.ID]; !ok {
		return ErrNotFound
	}
	cp := *tc
	r.toolCalls[tc.ID] = &cp
	return nil
}

func (r *Memory) ExpiredSessions(ctx context.Context, now time.Time) ([]*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Session
	for _, s := range r.sessions {
		if !s.Status.Terminal() && s.IsExpired(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Created < out[j].Time.Created
	})
	return out, nil
}

func (r *Memory) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, s := range r.sessions {
		if !s.Status.Terminal() && s.IsExpired(now) {
			s.Status = types.SessionExpired
			s.Time.Updated = now.UnixMilli()
			count++
		}
	}
	return count, nil
}
