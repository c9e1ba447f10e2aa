// Package tool provides the tool framework the engine executes against.
// Concrete tool backends are external; this package defines the
// contract and the registry that resolves calls to them.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when no tool matches the requested name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrPermissionDenied is returned when a backend refuses the call.
	ErrPermissionDenied = errors.New("tool permission denied")
	// ErrValidation is returned for malformed tool arguments.
	ErrValidation = errors.New("tool argument validation failed")
)

// Tool defines the interface for all executable tools.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Description returns the tool description.
	Description() string

	// RequiresApproval reports whether a human decision must gate
	// every invocation of this tool.
	RequiresApproval() bool

	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Context carries per-invocation execution context.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
}

type invocationKey struct{}

// WithInvocation attaches the invocation details to ctx. The engine sets
// this before every Execute call.
func WithInvocation(ctx context.Context, inv Context) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// Invocation returns the invocation details attached to ctx, if any.
func Invocation(ctx context.Context) (Context, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Context)
	return inv, ok
}

// EchoTool returns its arguments unchanged. Used by tests and the
// headless runner.
type EchoTool struct{}

func (EchoTool) Name() string            { return "echo" }
func (EchoTool) Description() string     { return "Returns its arguments unchanged." }
func (EchoTool) RequiresApproval() bool  { return false }

func (EchoTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(args) {
		return nil, fmt.Errorf("%w: arguments are not valid JSON", ErrValidation)
	}
	return args, nil
}
