package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// File is a file-backed Repository storing one JSON document per
// entity. Writes go to a temp file and are renamed into place; message
// files carry a zero-padded sequence prefix so directory order is
// insertion order.
type File struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*fileLock
	seq   map[string]int // sessionID -> next message sequence
}

// NewFile creates a file-backed repository rooted at basePath.
func NewFile(basePath string) *File {
	return &File{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
		seq:      make(map[string]int),
	}
}

func (r *File) sessionPath(id string) string {
	return filepath.Join(r.basePath, "session", id+".json")
}

func (r *File) messageDir(sessionID string) string {
	return filepath.Join(r.basePath, "message", sessionID)
}

func (r *File) toolCallPath(id string) string {
	return filepath.Join(r.basePath, "toolcall", id+".json")
}

func (r *File) getLock(path string) *fileLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[path]
	if !ok {
		lock = newFileLock(path)
		r.locks[path] = lock
	}
	return lock
}

// put writes v as JSON atomically under a file lock.
func (r *File) put(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := r.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (r *File) get(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

func (r *File) CreateSession(ctx context.Context, s *types.Session) error {
	return r.put(r.sessionPath(s.ID), s)
}

func (r *File) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var s types.Session
	if err := r.get(r.sessionPath(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *File) UpdateSession(ctx context.Context, s *types.Session) error {
	if _, err := r.GetSession(ctx, s.ID); err != nil {
		return err
	}
	return r.put(r.sessionPath(s.ID), s)
}

func (r *File) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}

	msgs, err := r.GetMessages(ctx, id, 0, "")
	if err != nil {
		return err
	}
	for _, m := range msgs {
		for _, callID := range m.ToolCalls {
			os.Remove(r.toolCallPath(callID))
		}
	}
	if err := os.RemoveAll(r.messageDir(id)); err != nil {
		return fmt.Errorf("failed to remove messages: %w", err)
	}

	r.mu.Lock()
	delete(r.seq, id)
	r.mu.Unlock()

	if err := os.Remove(r.sessionPath(id)); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func (r *File) scanSessions(fn func(s *types.Session)) error {
	dir := filepath.Join(r.basePath, "session")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // skip files that can't be read
		}
		var s types.Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		fn(&s)
	}
	return nil
}

func (r *File) ListByUser(ctx context.Context, userID string, status *types.SessionStatus, limit, offset int) ([]*types.Session, error) {
	var out []*types.Session
	err := r.scanSessions(func(s *types.Session) {
		if s.UserID != userID {
			return
		}
		if status != nil && s.Status != *status {
			return
		}
		out = append(out, s)
	})
	if err != nil {
		return nil, err
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

func (r *File) AddMessage(ctx context.Context, sessionID string, m *types.Message) error {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return err
	}

	r.mu.Lock()
	seq := r.seq[sessionID]
	if seq == 0 {
		// Recover the sequence from directory contents after a restart.
		// Only message documents count; a crash can leave .tmp or .lock
		// files behind.
		if entries, err := os.ReadDir(r.messageDir(sessionID)); err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
					seq++
				}
			}
		}
	}
	r.seq[sessionID] = seq + 1
	r.mu.Unlock()

	name := fmt.Sprintf("%08d-%s.json", seq, m.ID)
	return r.put(filepath.Join(r.messageDir(sessionID), name), m)
}

func (r *File) GetMessages(ctx context.Context, sessionID string, limit int, beforeID string) ([]*types.Message, error) {
	dir := r.messageDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var ordered []*types.Message
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var m types.Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		ordered = append(ordered, &m)
	}
	return pageMessages(ordered, limit, beforeID), nil
}

func (r *File) SaveToolCall(ctx context.Context, tc *types.ToolCall) error {
	return r.put(r.toolCallPath(tc.ID), tc)
}

func (r *File) GetToolCall(ctx context.Context, id string) (*types.ToolCall, error) {
	var tc types.ToolCall
	if err := r.get(r.toolCallPath(id), &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (r *File) UpdateToolCall(ctx context.Context, tc *types.ToolCall) error {
	if _, err := r.GetToolCall(ctx, tc.ID); err != nil {
		return err
	}
	return r.put(r.toolCallPath(tc.ID), tc)
}

func (r *File) ExpiredSessions(ctx context.Context, now time.Time) ([]*types.Session, error) {
	var out []*types.Session
	err := r.scanSessions(func(s *types.Session) {
		if !s.Status.Terminal() && s.IsExpired(now) {
			out = append(out, s)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Created < out[j].Time.Created
	})
	return out, nil
}

func (r *File) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := r.ExpiredSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range expired {
		s.Status = types.SessionExpired
		s.Time.Updated = now.UnixMilli()
		if err := r.put(r.sessionPath(s.ID), s); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
