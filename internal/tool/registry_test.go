package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(EchoTool{})

	got, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name())
	assert.False(t, got.RequiresApproval())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)

	assert.Equal(t, []string{"echo"}, r.List())
}

func TestInvocationContext(t *testing.T) {
	ctx := context.Background()

	_, ok := Invocation(ctx)
	assert.False(t, ok, "bare context carries no invocation")

	want := Context{SessionID: "sess-1", MessageID: "msg-1", CallID: "call-1"}
	got, ok := Invocation(WithInvocation(ctx, want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestEchoTool(t *testing.T) {
	ctx := context.Background()

	out, err := EchoTool{}.Execute(ctx, json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(out))

	out, err = EchoTool{}.Execute(ctx, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))

	_, err = EchoTool{}.Execute(ctx, json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrValidation)
}
