// Package approval gates tool invocations behind an ordered policy
// chain and a human decision state machine.
package approval

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// DecisionKind is the outcome of a policy evaluation.
type DecisionKind string

const (
	DecisionAllow  DecisionKind = "allow"
	DecisionReject DecisionKind = "reject"
	DecisionModify DecisionKind = "modify"
)

// Decision is a tagged policy verdict. Modify carries replacement
// arguments for the call.
type Decision struct {
	Kind      DecisionKind
	Reason    string
	Arguments json.RawMessage
}

// Allow approves the call unchanged.
func Allow() Decision { return Decision{Kind: DecisionAllow} }

// Reject blocks the call with a reason.
func Reject(reason string) Decision {
	return Decision{Kind: DecisionReject, Reason: reason}
}

// Modify approves the call with replacement arguments.
func Modify(args json.RawMessage) Decision {
	return Decision{Kind: DecisionModify, Arguments: args}
}

// Policy evaluates a proposed tool call. Policies run in descending
// priority order; the first reject short-circuits the chain.
type Policy interface {
	Name() string
	Priority() int
	Evaluate(ctx context.Context, sess *types.Session, call *types.ToolCall) Decision
}

// EvaluateChain folds the policy chain over the call. Modifications
// accumulate: later policies see earlier replacements. The returned
// decision is the first reject, or an allow carrying the final
// arguments.
func EvaluateChain(ctx context.Context, policies []Policy, sess *types.Session, call *types.ToolCall) Decision {
	sorted := make([]Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	effective := *call
	modified := false
	for _, p := range sorted {
		d := p.Evaluate(ctx, sess, &effective)
		switch d.Kind {
		case DecisionReject:
			return d
		case DecisionModify:
			effective.Arguments = d.Arguments
			modified = true
		}
	}

	if modified {
		return Modify(effective.Arguments)
	}
	return Allow()
}

// matchPattern reports whether a tool name matches a pattern. A bare
// "*" matches everything; a trailing ".*" or "*" matches by prefix;
// anything else matches exactly.
func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// BlocklistPolicy rejects calls whose tool name matches any blocked
// pattern from the session config.
type BlocklistPolicy struct{}

func (BlocklistPolicy) Name() string  { return "blocklist" }
func (BlocklistPolicy) Priority() int { return 100 }

func (BlocklistPolicy) Evaluate(ctx context.Context, sess *types.Session, call *types.ToolCall) Decision {
	for _, pattern := range sess.Config.BlockedTools {
		if matchPattern(pattern, call.Name) {
			return Reject("tool blocked by session policy: " + pattern)
		}
	}
	return Allow()
}

// AllowlistPolicy rejects calls not matching any allowed pattern. An
// empty allowlist allows everything.
type AllowlistPolicy struct{}

func (AllowlistPolicy) Name() string  { return "allowlist" }
func (AllowlistPolicy) Priority() int { return 50 }

func (AllowlistPolicy) Evaluate(ctx context.Context, sess *types.Session, call *types.ToolCall) Decision {
	if len(sess.Config.AllowedTools) == 0 {
		return Allow()
	}
	for _, pattern := range sess.Config.AllowedTools {
		if matchPattern(pattern, call.Name) {
			return Allow()
		}
	}
	return Reject("tool not in session allowlist")
}
