package provider

import (
	"context"
	"sync"
)

// Step is one scripted invocation outcome: either an error or a
// response.
type Step struct {
	Response *Response
	Err      error
}

// Scripted is a Provider that replays a fixed sequence of outcomes.
// When the script is exhausted it repeats the last step.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls int
}

// NewScripted creates a scripted provider.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Calls returns how many times Invoke has been called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	s.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Reply is a convenience step producing a plain assistant reply.
func Reply(content string) Step {
	return Step{Response: &Response{
		Content:      content,
		Usage:        Usage{InputTokens: 10, OutputTokens: len(content) / 4},
		FinishReason: FinishStop,
	}}
}

// RequestTools is a convenience step asking for tool invocations.
func RequestTools(reqs ...ToolRequest) Step {
	return Step{Response: &Response{
		ToolRequests: reqs,
		Usage:        Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: FinishToolCalls,
	}}
}

// Fail is a convenience step producing an error.
func Fail(err error) Step {
	return Step{Err: err}
}
