// Package provider defines the agent/LLM invocation contract. Vendor
// backends live outside the engine; a scripted provider is included for
// tests and headless runs.
package provider

import (
	"context"
	"encoding/json"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// FinishReason reports how an invocation terminated.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishFiltered  FinishReason = "content_filter"
)

// ToolRequest is a tool invocation the agent asks for.
type ToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Usage reports token consumption for one invocation.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Request is one agent invocation: the conversation so far plus the
// tool names the session has enabled.
type Request struct {
	SessionID string
	AgentID   string
	Messages  []*types.Message
	Tools     []string
}

// Response is the agent's reply for one invocation.
type Response struct {
	Content      string
	ToolRequests []ToolRequest
	Usage        Usage
	FinishReason FinishReason
}

// Provider invokes the external agent/LLM service. Implementations may
// fail with any transient or permanent error; the engine classifies
// and retries.
type Provider interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}
