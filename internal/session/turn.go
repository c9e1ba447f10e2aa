package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentcore-ai/agentcore/internal/approval"
	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// TurnResult is the outcome of one SendMessage turn.
type TurnResult struct {
	UserMessage      *types.Message
	AssistantMessage *types.Message
	// PendingToolCalls are calls waiting for a human decision. When
	// non-empty the session is suspended and the turn resumes through
	// ResumeToolCall.
	PendingToolCalls []*types.ToolCall
	Suspended        bool
}

// SendMessage runs one conversational turn: persist the user message,
// invoke the agent, execute requested tools, and persist the final
// assistant reply. If a tool needs approval the turn suspends and the
// result reports the pending calls.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string, attachments []types.Attachment) (*TurnResult, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.IsExpired(time.Now()) {
		if sess.Status.CanTransitionTo(types.SessionExpired) {
			if _, terr := s.transition(ctx, sessionID, types.SessionExpired, event.SessionExpired, nil); terr != nil {
				s.log.Warn().Err(terr).Str("sessionID", sessionID).Msg("expiry transition failed")
			}
		}
		se := types.NewSessionError(types.ErrSessionExpired, "session has expired").WithSession(sessionID)
		s.publishError(ctx, sessionID, se)
		return nil, se
	}

	if sess.Status == types.SessionCreated {
		if sess, err = s.Activate(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	if sess.Status != types.SessionActive {
		code := types.ErrSessionNotActive
		if sess.Status == types.SessionSuspended {
			code = types.ErrSessionSuspended
		}
		se := types.NewSessionError(code,
			fmt.Sprintf("session is %s", sess.Status)).WithSession(sessionID)
		s.publishError(ctx, sessionID, se)
		return nil, se
	}

	if !s.guard.TryAcquire(sessionID) {
		se := types.NewSessionError(types.ErrSessionNotActive, "execution already in progress").WithSession(sessionID)
		s.publishError(ctx, sessionID, se)
		return nil, se
	}
	defer s.guard.Release(sessionID)

	if max := sess.Config.MaxMessages; max > 0 {
		msgs, merr := s.repo.GetMessages(ctx, sessionID, 0, "")
		if merr == nil && len(msgs) >= max {
			se := types.NewSessionError(types.ErrInvalidRequest,
				fmt.Sprintf("session message limit %d reached", max)).WithSession(sessionID)
			s.publishError(ctx, sessionID, se)
			return nil, se
		}
	}
	if max := sess.Config.MaxAttachments; max > 0 && len(attachments) > max {
		se := types.NewSessionError(types.ErrInvalidRequest,
			fmt.Sprintf("attachment limit %d exceeded", max)).WithSession(sessionID)
		s.publishError(ctx, sessionID, se)
		return nil, se
	}

	executionID := ulid.Make().String()
	userMsg := &types.Message{
		ID:          ulid.Make().String(),
		SessionID:   sessionID,
		Role:        types.RoleUser,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now().UnixMilli(),
	}

	s.recovery.SaveCheckpoint(ctx, sessionID, types.CheckpointExecutionStart,
		mustJSON(map[string]any{"userMessageID": userMsg.ID}), executionID, 0)

	if err := s.repo.AddMessage(ctx, sessionID, userMsg); err != nil {
		se := types.NewSessionError(types.ErrInternal, "persist user message").WithSession(sessionID).WithCause(err)
		s.publishError(ctx, sessionID, se)
		return nil, se
	}
	s.bus.Publish(ctx, event.SessionEvent{
		Type:      event.MessageSent,
		SessionID: sessionID,
		UserID:    sess.UserID,
		AgentID:   sess.AgentID,
		Data:      map[string]any{"messageID": userMsg.ID},
	})
	for _, a := range attachments {
		s.bus.Publish(ctx, event.SessionEvent{
			Type:      event.AttachmentAdded,
			SessionID: sessionID,
			Data:      map[string]any{"messageID": userMsg.ID, "attachment": a.Filename, "attachmentType": string(a.Type)},
		})
	}

	result, err := s.runLoop(ctx, sess, executionID, userMsg.ID)
	if err != nil {
		return nil, err
	}
	result.UserMessage = userMsg
	return result, nil
}

// runLoop drives the agent until it stops, requests approval, or the
// step cap is hit.
func (s *Service) runLoop(ctx context.Context, sess *types.Session, executionID, parentID string) (*TurnResult, error) {
	for step := 0; step < s.opts.MaxSteps; step++ {
		resp, err := s.invokeAgent(ctx, sess, executionID)
		if err != nil {
			se, _ := types.AsSessionError(err)
			if se == nil {
				se = types.NewSessionError(types.ErrInternal, err.Error()).WithSession(sess.ID)
			}
			s.publishError(ctx, sess.ID, se)
			return nil, se
		}

		if len(resp.ToolRequests) == 0 {
			return s.finishTurn(ctx, sess, executionID, parentID, resp)
		}

		pending, terr := s.handleToolRequests(ctx, sess, executionID, parentID, resp.ToolRequests)
		if terr != nil {
			return nil, terr
		}
		if len(pending) > 0 {
			if _, serr := s.Suspend(ctx, sess.ID, "awaiting tool approval"); serr != nil {
				s.log.Warn().Err(serr).Str("sessionID", sess.ID).Msg("suspend for approval failed")
			}
			return &TurnResult{PendingToolCalls: pending, Suspended: true}, nil
		}
	}

	se := types.NewSessionError(types.ErrInternal,
		fmt.Sprintf("turn exceeded %d agent steps", s.opts.MaxSteps)).
		WithSession(sess.ID).WithExecution(executionID)
	s.publishError(ctx, sess.ID, se)
	return nil, se
}

// invokeAgent calls the provider with recoverable-error retries. Each
// retry refreshes the partial-content checkpoint first.
func (s *Service) invokeAgent(ctx context.Context, sess *types.Session, executionID string) (*provider.Response, error) {
	msgs, err := s.repo.GetMessages(ctx, sess.ID, 0, "")
	if err != nil {
		return nil, types.NewSessionError(types.ErrInternal, "load conversation").WithSession(sess.ID).WithCause(err)
	}

	req := &provider.Request{
		SessionID: sess.ID,
		AgentID:   sess.AgentID,
		Messages:  msgs,
		Tools:     s.allowedTools(sess),
	}

	var resp *provider.Response
	err = s.handler.WithRetry(ctx,
		func(ctx context.Context) error {
			r, ierr := s.provider.Invoke(ctx, req)
			if ierr != nil {
				return ierr
			}
			resp = r
			return nil
		},
		func(err error) *types.SessionError {
			return ClassifyAgentError(err, sess.ID).WithExecution(executionID)
		},
		func(attempt int, se *types.SessionError) {
			s.recovery.SaveCheckpoint(ctx, sess.ID, types.CheckpointPartialContent,
				mustJSON(map[string]any{"attempt": attempt + 1, "lastError": string(se.Code)}),
				executionID, 0)
		},
	)
	if err != nil {
		return nil, err
	}

	if resp.FinishReason == provider.FinishFiltered {
		return nil, types.NewSessionError(types.ErrLLMContentFilter, "response blocked by content filter").
			WithSession(sess.ID).WithExecution(executionID)
	}
	return resp, nil
}

// allowedTools resolves the tool names this session may invoke.
func (s *Service) allowedTools(sess *types.Session) []string {
	names := s.tools.List()
	if len(sess.Config.AllowedTools) > 0 {
		names = sess.Config.AllowedTools
	}
	blocked := make(map[string]struct{}, len(sess.Config.BlockedTools))
	for _, b := range sess.Config.BlockedTools {
		blocked[b] = struct{}{}
	}
	out := names[:0:0]
	for _, n := range names {
		if _, ok := blocked[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// handleToolRequests routes each request through the approval gate and
// executes the allowed ones. It returns calls left pending approval.
func (s *Service) handleToolRequests(ctx context.Context, sess *types.Session, executionID, messageID string, reqs []provider.ToolRequest) ([]*types.ToolCall, error) {
	var pending []*types.ToolCall
	for _, tr := range reqs {
		call := &types.ToolCall{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			MessageID: messageID,
			Name:      tr.Name,
			Arguments: tr.Arguments,
			CreatedAt: time.Now().UnixMilli(),
		}

		switch d := s.gate.Evaluate(ctx, sess, call); d.Kind {
		case approval.DecisionReject:
			call.Status = types.ToolCallRejected
			call.Error = d.Reason
			if err := s.repo.SaveToolCall(ctx, call); err != nil {
				s.log.Warn().Err(err).Str("toolCallID", call.ID).Msg("persist rejected call failed")
			}
			s.bus.Publish(ctx, event.SessionEvent{
				Type:      event.ToolCallRejected,
				SessionID: sess.ID,
				Data:      map[string]any{"toolCallID": call.ID, "tool": call.Name, "reason": d.Reason},
			})
			s.recordToolResult(ctx, sess, call, fmt.Sprintf("tool %s rejected by policy: %s", call.Name, d.Reason))
			continue
		}

		t, err := s.tools.Get(call.Name)
		if err != nil {
			se := ClassifyToolError(err, sess.ID, call.Name).WithExecution(executionID)
			call.Status = types.ToolCallFailed
			call.Error = se.Message
			if perr := s.repo.SaveToolCall(ctx, call); perr != nil {
				s.log.Warn().Err(perr).Str("toolCallID", call.ID).Msg("persist failed call failed")
			}
			s.publishError(ctx, sess.ID, se)
			s.recordToolResult(ctx, sess, call, fmt.Sprintf("tool error: %s", se.Message))
			continue
		}

		if t.RequiresApproval() {
			call.RequiresApproval = true
			if err := s.gate.Request(ctx, sess, call); err != nil {
				return nil, types.NewSessionError(types.ErrInternal, "request approval").
					WithSession(sess.ID).WithCause(err)
			}
			pending = append(pending, call)
			continue
		}

		s.executeToolCall(ctx, sess, executionID, call, t)
	}
	return pending, nil
}

// executeToolCall runs one call with retries and records the outcome as
// a tool-role message so the next agent step sees it.
func (s *Service) executeToolCall(ctx context.Context, sess *types.Session, executionID string, call *types.ToolCall, t tool.Tool) {
	ctx = tool.WithInvocation(ctx, tool.Context{
		SessionID: sess.ID,
		MessageID: call.MessageID,
		CallID:    call.ID,
	})
	call.Status = types.ToolCallRunning
	started := time.Now().UnixMilli()
	call.ExecutedAt = &started
	if err := s.repo.SaveToolCall(ctx, call); err != nil {
		s.log.Warn().Err(err).Str("toolCallID", call.ID).Msg("persist running call failed")
	}
	s.bus.Publish(ctx, event.SessionEvent{
		Type:      event.ToolCallStarted,
		SessionID: sess.ID,
		Data:      map[string]any{"toolCallID": call.ID, "tool": call.Name},
	})
	s.recovery.SaveCheckpoint(ctx, sess.ID, types.CheckpointToolCall,
		mustJSON(map[string]any{"toolCallID": call.ID, "tool": call.Name}), executionID, 0)

	var result json.RawMessage
	err := s.opts.ToolRetry.Execute(ctx, func(ctx context.Context) error {
		r, terr := t.Execute(ctx, call.Arguments)
		if terr != nil {
			return terr
		}
		result = r
		return nil
	})

	if err != nil {
		se := ClassifyToolError(err, sess.ID, call.Name).WithExecution(executionID)
		call.Status = types.ToolCallFailed
		call.Error = se.Message
		if uerr := s.repo.UpdateToolCall(ctx, call); uerr != nil {
			s.log.Warn().Err(uerr).Str("toolCallID", call.ID).Msg("persist failed call failed")
		}
		s.bus.Publish(ctx, event.SessionEvent{
			Type:      event.ToolCallFailed,
			SessionID: sess.ID,
			Data:      map[string]any{"toolCallID": call.ID, "tool": call.Name, "error": se.Message},
		})
		s.publishError(ctx, sess.ID, se)
		s.recordToolResult(ctx, sess, call, fmt.Sprintf("tool error: %s", se.Message))
		return
	}

	call.Status = types.ToolCallCompleted
	call.Result = result
	if uerr := s.repo.UpdateToolCall(ctx, call); uerr != nil {
		s.log.Warn().Err(uerr).Str("toolCallID", call.ID).Msg("persist completed call failed")
	}
	s.bus.Publish(ctx, event.SessionEvent{
		Type:      event.ToolCallCompleted,
		SessionID: sess.ID,
		Data:      map[string]any{"toolCallID": call.ID, "tool": call.Name},
	})
	s.recordToolResult(ctx, sess, call, string(result))
}

// recordToolResult appends the call outcome to the conversation.
func (s *Service) recordToolResult(ctx context.Context, sess *types.Session, call *types.ToolCall, content string) {
	msg := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: sess.ID,
		Role:      types.RoleTool,
		Content:   content,
		ToolCalls: []string{call.ID},
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := s.repo.AddMessage(ctx, sess.ID, msg); err != nil {
		s.log.Warn().Err(err).Str("sessionID", sess.ID).Msg("persist tool message failed")
	}
}

// finishTurn persists the assistant reply and completes the execution.
func (s *Service) finishTurn(ctx context.Context, sess *types.Session, executionID, parentID string, resp *provider.Response) (*TurnResult, error) {
	assistant := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: sess.ID,
		Role:      types.RoleAssistant,
		Content:   resp.Content,
		ParentID:  &parentID,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := s.repo.AddMessage(ctx, sess.ID, assistant); err != nil {
		se := types.NewSessionError(types.ErrInternal, "persist assistant message").WithSession(sess.ID).WithCause(err)
		s.publishError(ctx, sess.ID, se)
		return nil, se
	}

	// Touch the persisted session, not the copy this turn started from.
	// The session may have been expired or ended while the turn ran, and
	// a terminal status must never be written over.
	if cur, gerr := s.repo.GetSession(ctx, sess.ID); gerr == nil && !cur.Status.Terminal() {
		cur.Time.Updated = time.Now().UnixMilli()
		if err := s.repo.UpdateSession(ctx, cur); err != nil {
			s.log.Warn().Err(err).Str("sessionID", sess.ID).Msg("touch session failed")
		}
	}

	s.bus.Publish(ctx, event.SessionEvent{
		Type:      event.MessageReceived,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		AgentID:   sess.AgentID,
		Data: map[string]any{
			"messageID":    assistant.ID,
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
		},
	})

	s.recovery.SaveCheckpoint(ctx, sess.ID, types.CheckpointExecutionComplete,
		mustJSON(map[string]any{"assistantMessageID": assistant.ID}), executionID, 0)

	return &TurnResult{AssistantMessage: assistant}, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
