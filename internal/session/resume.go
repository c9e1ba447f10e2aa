package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// ResumeToolCall continues a turn that suspended for approval. The call
// must already be approved; the session is reactivated, the call
// executed, and the agent loop resumed to a final reply.
func (s *Service) ResumeToolCall(ctx context.Context, sessionID, callID string) (*TurnResult, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	call, err := s.repo.GetToolCall(ctx, callID)
	if err != nil {
		return nil, types.NewSessionError(types.ErrApprovalNotFound,
			fmt.Sprintf("tool call %s not found", callID)).WithSession(sessionID)
	}
	if call.SessionID != sessionID {
		return nil, types.NewSessionError(types.ErrInvalidRequest, "tool call belongs to another session").WithSession(sessionID)
	}
	if call.Status != types.ToolCallApproved {
		return nil, types.NewSessionError(types.ErrInvalidRequest,
			fmt.Sprintf("tool call is %s, not approved", call.Status)).WithSession(sessionID)
	}

	if !s.guard.TryAcquire(sessionID) {
		return nil, types.NewSessionError(types.ErrSessionNotActive, "execution already in progress").WithSession(sessionID)
	}
	defer s.guard.Release(sessionID)

	if sess.Status == types.SessionSuspended {
		if sess, err = s.Resume(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	if sess.Status != types.SessionActive {
		code := types.ErrSessionNotActive
		if sess.Status == types.SessionExpired {
			code = types.ErrSessionExpired
		}
		return nil, types.NewSessionError(code,
			fmt.Sprintf("session is %s", sess.Status)).WithSession(sessionID)
	}

	t, err := s.tools.Get(call.Name)
	if err != nil {
		se := ClassifyToolError(err, sessionID, call.Name)
		call.Status = types.ToolCallFailed
		call.Error = se.Message
		if uerr := s.repo.UpdateToolCall(ctx, call); uerr != nil {
			s.log.Warn().Err(uerr).Str("toolCallID", call.ID).Msg("persist failed call failed")
		}
		s.publishError(ctx, sessionID, se)
		return nil, se
	}

	executionID := resumeExecutionID(s, ctx, sessionID, call.ID)
	s.executeToolCall(ctx, sess, executionID, call, t)
	s.recovery.DeleteCheckpoint(ctx, sessionID)

	result, err := s.runLoop(ctx, sess, executionID, call.MessageID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RejectToolCall rejects a pending call and resumes the turn so the
// agent can react to the refusal.
func (s *Service) RejectToolCall(ctx context.Context, sessionID, callID, approver, reason string) (*TurnResult, error) {
	call, err := s.gate.Reject(ctx, callID, approver, reason)
	if err != nil {
		return nil, err
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !s.guard.TryAcquire(sessionID) {
		return nil, types.NewSessionError(types.ErrSessionNotActive, "execution already in progress").WithSession(sessionID)
	}
	defer s.guard.Release(sessionID)

	if sess.Status == types.SessionSuspended {
		if sess, err = s.Resume(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	if reason == "" {
		reason = "rejected by approver"
	}
	executionID := resumeExecutionID(s, ctx, sessionID, call.ID)
	s.recordToolResult(ctx, sess, call, fmt.Sprintf("tool %s rejected: %s", call.Name, reason))
	s.recovery.DeleteCheckpoint(ctx, sessionID)

	return s.runLoop(ctx, sess, executionID, call.MessageID)
}

// resumeExecutionID recovers the execution ID from the pending
// checkpoint, falling back to the call ID.
func resumeExecutionID(s *Service, ctx context.Context, sessionID, callID string) string {
	if cp := s.recovery.GetCheckpoint(ctx, sessionID); cp != nil && cp.ExecutionID != "" {
		return cp.ExecutionID
	}
	return callID
}

// PendingToolCalls lists the session's calls still awaiting a decision,
// derived from the approval checkpoint.
func (s *Service) PendingToolCalls(ctx context.Context, sessionID string) ([]*types.ToolCall, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	cp := s.recovery.GetCheckpoint(ctx, sessionID)
	if cp == nil || cp.Type != types.CheckpointApprovalPending {
		return nil, nil
	}
	var state struct {
		ToolCallID string `json:"toolCallID"`
	}
	if err := json.Unmarshal(cp.State, &state); err != nil || state.ToolCallID == "" {
		return nil, nil
	}
	call, err := s.repo.GetToolCall(ctx, state.ToolCallID)
	if err != nil || call.Decided() {
		return nil, nil
	}
	deadline := call.CreatedAt + s.gate.DecisionTTL().Milliseconds()
	if time.Now().UnixMilli() > deadline {
		return nil, nil
	}
	return []*types.ToolCall{call}, nil
}

// RepublishPending re-emits the request event for any undecided call
// after a reconnect so the client sees the pending decision again.
func (s *Service) RepublishPending(ctx context.Context, sessionID string) {
	calls, err := s.PendingToolCalls(ctx, sessionID)
	if err != nil {
		return
	}
	for _, call := range calls {
		s.bus.Publish(ctx, event.SessionEvent{
			Type:      event.ToolCallRequested,
			SessionID: sessionID,
			Data:      map[string]any{"toolCallID": call.ID, "tool": call.Name},
		})
	}
}
