package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/internal/recovery"
	"github.com/agentcore-ai/agentcore/internal/repo"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// DefaultDecisionTTL bounds how long a pending call accepts a decision.
const DefaultDecisionTTL = 10 * time.Minute

// Gate decides whether a tool call executes immediately, is rejected,
// or waits for a human decision.
type Gate struct {
	repo        repo.Repository
	bus         *event.Bus
	recovery    *recovery.Manager
	policies    []Policy
	decisionTTL time.Duration
	log         zerolog.Logger
}

// NewGate creates an approval gate with the given policy chain.
func NewGate(r repo.Repository, bus *event.Bus, rec *recovery.Manager, policies []Policy, decisionTTL time.Duration, log zerolog.Logger) *Gate {
	if decisionTTL <= 0 {
		decisionTTL = DefaultDecisionTTL
	}
	return &Gate{
		repo:        r,
		bus:         bus,
		recovery:    rec,
		policies:    policies,
		decisionTTL: decisionTTL,
		log:         log,
	}
}

// DecisionTTL reports how long a pending call accepts a decision.
func (g *Gate) DecisionTTL() time.Duration { return g.decisionTTL }

// Evaluate runs the policy chain for a proposed call, applying any
// argument modification in place.
func (g *Gate) Evaluate(ctx context.Context, sess *types.Session, call *types.ToolCall) Decision {
	d := EvaluateChain(ctx, g.policies, sess, call)
	if d.Kind == DecisionModify {
		call.Arguments = d.Arguments
	}
	return d
}

// Request persists the call as pending, publishes the request event,
// and checkpoints the pending decision synchronously so it survives a
// crash or disconnect. The checkpoint write precedes the event.
func (g *Gate) Request(ctx context.Context, sess *types.Session, call *types.ToolCall) error {
	call.Status = types.ToolCallPending
	if call.CreatedAt == 0 {
		call.CreatedAt = time.Now().UnixMilli()
	}
	if err := g.repo.SaveToolCall(ctx, call); err != nil {
		return types.NewSessionError(types.ErrInternal, "failed to persist pending tool call").
			WithSession(sess.ID).WithCause(err)
	}

	state, _ := json.Marshal(map[string]any{
		"toolCallID": call.ID,
		"tool":       call.Name,
	})
	g.recovery.SaveCheckpoint(ctx, sess.ID, types.CheckpointApprovalPending, state, call.ID, g.decisionTTL)

	g.bus.Publish(ctx, event.SessionEvent{
		Type:      event.ToolCallRequested,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		AgentID:   sess.AgentID,
		Data: map[string]any{
			"toolCallID":       call.ID,
			"tool":             call.Name,
			"requiresApproval": true,
		},
	})
	return nil
}

// Approve transitions a pending call to approved. A call that has
// already been decided fails with APPROVAL_ALREADY_PROCESSED; a call
// whose decision window has elapsed fails with APPROVAL_EXPIRED.
func (g *Gate) Approve(ctx context.Context, callID, approver string) (*types.ToolCall, error) {
	return g.decide(ctx, callID, approver, "", true)
}

// Reject transitions a pending call to rejected, with the same
// exactly-once and expiry guards as Approve.
func (g *Gate) Reject(ctx context.Context, callID, approver, reason string) (*types.ToolCall, error) {
	return g.decide(ctx, callID, approver, reason, false)
}

func (g *Gate) decide(ctx context.Context, callID, approver, reason string, approve bool) (*types.ToolCall, error) {
	call, err := g.repo.GetToolCall(ctx, callID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, types.NewSessionError(types.ErrApprovalNotFound, "no pending approval for tool call "+callID)
		}
		return nil, types.NewSessionError(types.ErrInternal, "failed to load tool call").WithCause(err)
	}

	if call.Decided() {
		se := types.NewSessionError(types.ErrApprovalAlreadyProcessed,
			"tool call already "+string(call.Status)).
			WithSession(call.SessionID).
			WithDetail("status", string(call.Status))
		g.publishError(ctx, call.SessionID, se)
		return nil, se
	}

	now := time.Now()
	if now.UnixMilli() > call.CreatedAt+g.decisionTTL.Milliseconds() {
		call.Status = types.ToolCallCancelled
		call.Error = "approval window expired"
		if err := g.repo.UpdateToolCall(ctx, call); err != nil {
			g.log.Warn().Err(err).Str("toolCallID", callID).Msg("expired call not persisted")
		}
		g.recovery.DeleteCheckpoint(ctx, call.SessionID)
		se := types.NewSessionError(types.ErrApprovalExpired, "approval window expired").
			WithSession(call.SessionID)
		g.publishError(ctx, call.SessionID, se)
		return nil, se
	}

	ts := now.UnixMilli()
	call.ApprovedBy = approver
	call.ApprovedAt = &ts
	eventType := event.ToolCallApproved
	if approve {
		call.Status = types.ToolCallApproved
	} else {
		call.Status = types.ToolCallRejected
		call.Error = reason
		eventType = event.ToolCallRejected
	}

	if err := g.repo.UpdateToolCall(ctx, call); err != nil {
		se := types.NewSessionError(types.ErrInternal, "failed to persist decision").
			WithSession(call.SessionID).WithCause(err)
		g.publishError(ctx, call.SessionID, se)
		return nil, se
	}

	g.bus.Publish(ctx, event.SessionEvent{
		Type:      eventType,
		SessionID: call.SessionID,
		Data: map[string]any{
			"toolCallID": call.ID,
			"tool":       call.Name,
			"approver":   approver,
			"reason":     reason,
		},
	})
	return call, nil
}

// publishError mirrors a failed decision onto the bus for observers.
func (g *Gate) publishError(ctx context.Context, sessionID string, se *types.SessionError) {
	g.bus.Publish(ctx, event.SessionEvent{
		Type:      event.ErrorOccurred,
		SessionID: sessionID,
		Data: map[string]any{
			"code":        string(se.Code),
			"message":     se.Message,
			"recoverable": se.Recoverable,
		},
	})
}
