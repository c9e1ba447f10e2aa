// Package session is the engine orchestrator. It owns the session
// lifecycle, runs the agentic turn loop, and ties storage, events,
// recovery, approval, tools, and the agent provider together.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/approval"
	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/recovery"
	"github.com/agentcore-ai/agentcore/internal/repo"
	"github.com/agentcore-ai/agentcore/internal/retry"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// Defaults applied when a session or the caller leaves them unset.
const (
	DefaultTimeout     = 30 * time.Minute
	DefaultMaxMessages = 1000
	DefaultMaxSteps    = 10
)

// Options tunes the orchestrator.
type Options struct {
	// DefaultConfig fills unset fields on new sessions.
	DefaultConfig types.SessionConfig
	// MaxSteps caps provider round-trips within one turn.
	MaxSteps int
	// AgentRetry drives retries of provider invocations.
	AgentRetry retry.Policy
	// ToolRetry drives retries of tool executions.
	ToolRetry retry.Policy
}

// DefaultOptions returns the stock orchestrator tuning.
func DefaultOptions() Options {
	return Options{
		DefaultConfig: types.SessionConfig{
			MaxMessages: DefaultMaxMessages,
			Timeout:     DefaultTimeout,
		},
		MaxSteps:   DefaultMaxSteps,
		AgentRetry: retry.DefaultPolicy(),
		ToolRetry:  retry.DefaultPolicy(),
	}
}

// Service orchestrates session execution.
type Service struct {
	repo     repo.Repository
	bus      *event.Bus
	recovery *recovery.Manager
	gate     *approval.Gate
	tools    *tool.Registry
	provider provider.Provider
	handler  *Handler
	guard    *executionGuard
	opts     Options
	log      zerolog.Logger

	unsubscribe func()
}

// NewService wires the orchestrator. Every published event is mirrored
// into the recovery buffer so reconnecting clients can replay it.
func NewService(
	r repo.Repository,
	bus *event.Bus,
	rec *recovery.Manager,
	gate *approval.Gate,
	tools *tool.Registry,
	p provider.Provider,
	opts Options,
	log zerolog.Logger,
) *Service {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	s := &Service{
		repo:     r,
		bus:      bus,
		recovery: rec,
		gate:     gate,
		tools:    tools,
		provider: p,
		handler:  NewHandler(opts.AgentRetry, log),
		guard:    newExecutionGuard(),
		opts:     opts,
		log:      log,
	}
	s.unsubscribe = bus.SubscribeAll(func(ctx context.Context, e event.SessionEvent) error {
		rec.BufferEvent(ctx, e)
		return nil
	})
	return s
}

// Close detaches the service from the bus.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Create makes a new session in the created state. Unset config fields
// inherit the service defaults; a positive timeout sets the expiry
// deadline.
func (s *Service) Create(ctx context.Context, userID, agentID, title string, cfg types.SessionConfig) (*types.Session, error) {
	if userID == "" || agentID == "" {
		return nil, types.NewSessionError(types.ErrInvalidRequest, "userID and agentID are required")
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = s.opts.DefaultConfig.MaxMessages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = s.opts.DefaultConfig.Timeout
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = s.opts.DefaultConfig.Capabilities
	}

	now := time.Now()
	sess := &types.Session{
		ID:      ulid.Make().String(),
		UserID:  userID,
		AgentID: agentID,
		Status:  types.SessionCreated,
		Config:  cfg,
		Title:   title,
		Time: types.SessionTime{
			Created: now.UnixMilli(),
			Updated: now.UnixMilli(),
		},
	}
	if cfg.Timeout > 0 {
		exp := now.Add(cfg.Timeout).UnixMilli()
		sess.Time.ExpiresAt = &exp
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, types.NewSessionError(types.ErrInternal, "create session").WithCause(err)
	}

	s.publish(ctx, event.SessionCreated, sess, map[string]any{"title": title})
	s.log.Info().Str("sessionID", sess.ID).Str("userID", userID).Str("agentID", agentID).Msg("session created")
	return sess, nil
}

// Get returns the session or SESSION_NOT_FOUND.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, types.NewSessionError(types.ErrSessionNotFound, fmt.Sprintf("session %s not found", id)).WithSession(id)
	}
	return sess, nil
}

// List returns a user's sessions, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status *types.SessionStatus, limit, offset int) ([]*types.Session, error) {
	return s.repo.ListByUser(ctx, userID, status, limit, offset)
}

// Messages returns a page of the session's conversation history.
func (s *Service) Messages(ctx context.Context, sessionID string, limit int, beforeID string) ([]*types.Message, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.GetMessages(ctx, sessionID, limit, beforeID)
}

// Activate moves a created session into the active state.
func (s *Service) Activate(ctx context.Context, id string) (*types.Session, error) {
	return s.transition(ctx, id, types.SessionActive, event.SessionActivated, nil)
}

// Suspend pauses an active session. A partial-content checkpoint is
// taken first so the conversation position survives.
func (s *Service) Suspend(ctx context.Context, id string, reason string) (*types.Session, error) {
	data := map[string]any{}
	if reason != "" {
		data["reason"] = reason
	}
	return s.transition(ctx, id, types.SessionSuspended, event.SessionSuspended, data)
}

// Resume reactivates a suspended session.
func (s *Service) Resume(ctx context.Context, id string) (*types.Session, error) {
	return s.transition(ctx, id, types.SessionActive, event.SessionResumed, nil)
}

// End soft-ends the session. Ended sessions keep their history but
// accept no further work.
func (s *Service) End(ctx context.Context, id string) (*types.Session, error) {
	return s.transition(ctx, id, types.SessionEnded, event.SessionEnded, nil)
}

// Purge physically removes a session, its history, and its recovery
// state. Only terminal sessions may be purged; ongoing ones must be
// ended first.
func (s *Service) Purge(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Status.Terminal() {
		return types.NewSessionError(types.ErrSessionNotActive,
			fmt.Sprintf("cannot purge %s session", sess.Status)).WithSession(id)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return types.NewSessionError(types.ErrInternal, "delete session").WithSession(id).WithCause(err)
	}
	s.recovery.DeleteCheckpoint(ctx, id)
	s.log.Info().Str("sessionID", id).Msg("session purged")
	return nil
}

// transition applies a validated status change and publishes the
// matching event.
func (s *Service) transition(ctx context.Context, id string, next types.SessionStatus, evt event.EventType, data map[string]any) (*types.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == next {
		return sess, nil
	}
	if !sess.Status.CanTransitionTo(next) {
		code := types.ErrSessionNotActive
		if sess.Status == types.SessionExpired {
			code = types.ErrSessionExpired
		}
		return nil, types.NewSessionError(code,
			fmt.Sprintf("cannot transition session from %s to %s", sess.Status, next)).
			WithSession(id)
	}

	switch {
	case next == types.SessionSuspended,
		next == types.SessionActive && sess.Status == types.SessionSuspended:
		s.checkpointPosition(ctx, sess)
	}

	now := time.Now()
	sess.Status = next
	sess.Time.Updated = now.UnixMilli()
	if next.Terminal() {
		ended := now.UnixMilli()
		sess.Time.EndedAt = &ended
	}
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		return nil, types.NewSessionError(types.ErrInternal, "update session").WithSession(id).WithCause(err)
	}

	s.publish(ctx, evt, sess, data)
	return sess, nil
}

// checkpointPosition snapshots the conversation position around a
// suspend/resume boundary. Best effort.
func (s *Service) checkpointPosition(ctx context.Context, sess *types.Session) {
	if cp := s.recovery.GetCheckpoint(ctx, sess.ID); cp != nil && cp.Type == types.CheckpointApprovalPending {
		return
	}
	msgs, err := s.repo.GetMessages(ctx, sess.ID, 1, "")
	lastID := ""
	if err == nil && len(msgs) > 0 {
		lastID = msgs[len(msgs)-1].ID
	}
	state := mustJSON(map[string]any{"lastMessageID": lastID, "status": sess.Status})
	s.recovery.SaveCheckpoint(ctx, sess.ID, types.CheckpointPartialContent, state, "", 0)
}

// SweepExpired expires every session past its deadline and publishes a
// session.expired event for each. It returns the number expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := s.repo.ExpiredSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, sess := range expired {
		if !sess.Status.CanTransitionTo(types.SessionExpired) {
			continue
		}
		// A session mid-turn is left for the next sweep. Expiring it
		// underneath a running execution would let the turn write back
		// a stale active status over the terminal one.
		if !s.guard.TryAcquire(sess.ID) {
			s.log.Debug().Str("sessionID", sess.ID).Msg("expiry deferred, execution in progress")
			continue
		}
		sess.Status = types.SessionExpired
		sess.Time.Updated = now.UnixMilli()
		ended := now.UnixMilli()
		sess.Time.EndedAt = &ended
		err := s.repo.UpdateSession(ctx, sess)
		s.guard.Release(sess.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("sessionID", sess.ID).Msg("expiry update failed")
			continue
		}
		s.publish(ctx, event.SessionExpired, sess, nil)
		count++
	}
	if count > 0 {
		s.log.Info().Int("expired", count).Msg("expiry sweep")
	}
	return count, nil
}

// Reconnect replays buffered events missed since lastEventID and
// reports any pending checkpoint, so a client can resume mid-turn.
func (s *Service) Reconnect(ctx context.Context, sessionID, lastEventID string) (*recovery.ReconnectState, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.recovery.HandleReconnect(ctx, sessionID, lastEventID), nil
}

// publish emits a session-scoped event on the bus.
func (s *Service) publish(ctx context.Context, t event.EventType, sess *types.Session, data map[string]any) {
	s.bus.Publish(ctx, event.SessionEvent{
		Type:      t,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		AgentID:   sess.AgentID,
		Data:      data,
	})
}

// publishError mirrors a failure onto the bus for observers.
func (s *Service) publishError(ctx context.Context, sessionID string, se *types.SessionError) {
	s.bus.Publish(ctx, event.SessionEvent{
		Type:      event.ErrorOccurred,
		SessionID: sessionID,
		Data: map[string]any{
			"code":        string(se.Code),
			"message":     se.Message,
			"recoverable": se.Recoverable,
		},
	})
}
