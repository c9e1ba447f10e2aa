// Package recovery provides checkpointing and event replay so a session
// can resume after a crash or client reconnect. Everything here is
// best-effort: an unreachable cache degrades to "no recovery available"
// and never fails the primary request path.
package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/cache"
	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

const (
	checkpointKeyPrefix = "checkpoint:"
	eventsKeyPrefix     = "events:"
	reconnectKeyPrefix  = "reconnect:"

	// DefaultCheckpointTTL bounds how long a checkpoint stays live.
	DefaultCheckpointTTL = time.Hour
	// DefaultBufferTTL bounds the replay window for buffered events.
	DefaultBufferTTL = 30 * time.Minute
	// DefaultBufferCap caps buffered events per session.
	DefaultBufferCap = 100
	// DefaultReconnectTTL bounds connection metadata retention.
	DefaultReconnectTTL = 15 * time.Minute
)

// Config tunes checkpoint and buffer retention.
type Config struct {
	CheckpointTTL time.Duration
	BufferTTL     time.Duration
	BufferCap     int
	ReconnectTTL  time.Duration
}

// DefaultConfig returns the default retention settings.
func DefaultConfig() Config {
	return Config{
		CheckpointTTL: DefaultCheckpointTTL,
		BufferTTL:     DefaultBufferTTL,
		BufferCap:     DefaultBufferCap,
		ReconnectTTL:  DefaultReconnectTTL,
	}
}

// ReconnectInfo is transport-level connection metadata tracked across
// reconnects.
type ReconnectInfo struct {
	ConnectionID string         `json:"connectionID"`
	ClientInfo   map[string]any `json:"clientInfo,omitempty"`
	ConnectedAt  int64          `json:"connectedAt"`
}

// ReconnectState is what a reconnecting observer receives: the live
// checkpoint, if any, plus every buffered event it has not yet seen.
type ReconnectState struct {
	PendingState *types.SessionCheckpoint `json:"pendingState,omitempty"`
	Events       []event.SessionEvent     `json:"events"`
}

// Manager saves and loads checkpoints and buffers events for replay.
type Manager struct {
	cache cache.Cache
	cfg   Config
	log   zerolog.Logger

	// bufMu serializes the read-append-write cycle of BufferEvent.
	// Concurrent publishes from this process cannot drop each other's
	// events; writers in another process sharing the same cache still
	// can, so each session's events must be published by the engine
	// that owns it.
	bufMu sync.Mutex
}

// NewManager creates a recovery manager over the given cache.
func NewManager(c cache.Cache, cfg Config, log zerolog.Logger) *Manager {
	if cfg.CheckpointTTL <= 0 {
		cfg.CheckpointTTL = DefaultCheckpointTTL
	}
	if cfg.BufferTTL <= 0 {
		cfg.BufferTTL = DefaultBufferTTL
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = DefaultBufferCap
	}
	if cfg.ReconnectTTL <= 0 {
		cfg.ReconnectTTL = DefaultReconnectTTL
	}
	return &Manager{cache: c, cfg: cfg, log: log}
}

// SaveCheckpoint overwrites the single checkpoint for the session. The
// checkpoint expires after ttl (cfg.CheckpointTTL when ttl is zero).
func (m *Manager) SaveCheckpoint(ctx context.Context, sessionID string, cpType types.CheckpointType, state json.RawMessage, executionID string, ttl time.Duration) *types.SessionCheckpoint {
	if ttl <= 0 {
		ttl = m.cfg.CheckpointTTL
	}
	now := time.Now()
	cp := &types.SessionCheckpoint{
		SessionID:   sessionID,
		Type:        cpType,
		ExecutionID: executionID,
		State:       state,
		CreatedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(ttl).UnixMilli(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		m.warn(sessionID, err, "checkpoint not serializable")
		return cp
	}
	if err := m.cache.Set(ctx, checkpointKeyPrefix+sessionID, data, ttl); err != nil {
		m.warn(sessionID, err, "checkpoint not saved")
	}
	return cp
}

// GetCheckpoint returns the live checkpoint for the session, or nil.
// An expired checkpoint is deleted on read (lazy expiry).
func (m *Manager) GetCheckpoint(ctx context.Context, sessionID string) *types.SessionCheckpoint {
	data, err := m.cache.Get(ctx, checkpointKeyPrefix+sessionID)
	if err != nil {
		if err != cache.ErrNotFound {
			m.warn(sessionID, err, "checkpoint not readable")
		}
		return nil
	}

	var cp types.SessionCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		m.warn(sessionID, err, "checkpoint corrupt, discarding")
		m.DeleteCheckpoint(ctx, sessionID)
		return nil
	}

	if cp.Expired(time.Now()) {
		m.DeleteCheckpoint(ctx, sessionID)
		return nil
	}
	return &cp
}

// DeleteCheckpoint removes the session's checkpoint.
func (m *Manager) DeleteCheckpoint(ctx context.Context, sessionID string) {
	if err := m.cache.Delete(ctx, checkpointKeyPrefix+sessionID); err != nil {
		m.warn(sessionID, err, "checkpoint not deleted")
	}
}

// BufferEvent appends an event to the session's replay buffer. The
// buffer is a capped ring: when full, the oldest entries are evicted.
func (m *Manager) BufferEvent(ctx context.Context, e event.SessionEvent) {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()

	key := eventsKeyPrefix + e.SessionID

	events := m.readBuffer(ctx, e.SessionID)
	events = append(events, e)
	if len(events) > m.cfg.BufferCap {
		events = events[len(events)-m.cfg.BufferCap:]
	}

	data, err := json.Marshal(events)
	if err != nil {
		m.warn(e.SessionID, err, "event buffer not serializable")
		return
	}
	if err := m.cache.Set(ctx, key, data, m.cfg.BufferTTL); err != nil {
		m.warn(e.SessionID, err, "event not buffered")
	}
}

// BufferedEvents returns buffered events strictly after sinceEventID in
// insertion order. An empty or unknown id returns the whole buffer;
// the transport de-duplicates with last_event_id.
func (m *Manager) BufferedEvents(ctx context.Context, sessionID, sinceEventID string) []event.SessionEvent {
	events := m.readBuffer(ctx, sessionID)
	if sinceEventID == "" {
		return events
	}
	for i, e := range events {
		if e.ID == sinceEventID {
			return events[i+1:]
		}
	}
	return events
}

// HandleReconnect serves a reconnecting observer: the live checkpoint
// as pending state plus every buffered event it missed.
func (m *Manager) HandleReconnect(ctx context.Context, sessionID, lastEventID string) *ReconnectState {
	return &ReconnectState{
		PendingState: m.GetCheckpoint(ctx, sessionID),
		Events:       m.BufferedEvents(ctx, sessionID, lastEventID),
	}
}

// SaveReconnectInfo records transport-level connection metadata.
func (m *Manager) SaveReconnectInfo(ctx context.Context, sessionID string, info ReconnectInfo) {
	if info.ConnectedAt == 0 {
		info.ConnectedAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(info)
	if err != nil {
		m.warn(sessionID, err, "reconnect info not serializable")
		return
	}
	if err := m.cache.Set(ctx, reconnectKeyPrefix+sessionID, data, m.cfg.ReconnectTTL); err != nil {
		m.warn(sessionID, err, "reconnect info not saved")
	}
}

// GetReconnectInfo returns the recorded connection metadata, or nil.
func (m *Manager) GetReconnectInfo(ctx context.Context, sessionID string) *ReconnectInfo {
	data, err := m.cache.Get(ctx, reconnectKeyPrefix+sessionID)
	if err != nil {
		if err != cache.ErrNotFound {
			m.warn(sessionID, err, "reconnect info not readable")
		}
		return nil
	}
	var info ReconnectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		m.warn(sessionID, err, "reconnect info corrupt")
		return nil
	}
	return &info
}

func (m *Manager) readBuffer(ctx context.Context, sessionID string) []event.SessionEvent {
	data, err := m.cache.Get(ctx, eventsKeyPrefix+sessionID)
	if err != nil {
		if err != cache.ErrNotFound {
			m.warn(sessionID, err, "event buffer not readable")
		}
		return nil
	}
	var events []event.SessionEvent
	if err := json.Unmarshal(data, &events); err != nil {
		m.warn(sessionID, err, "event buffer corrupt, discarding")
		_ = m.cache.Delete(ctx, eventsKeyPrefix+sessionID)
		return nil
	}
	return events
}

func (m *Manager) warn(sessionID string, err error, msg string) {
	m.log.Warn().Err(err).Str("sessionID", sessionID).Msg(msg)
}
