package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

var (
	demoUser  string
	demoAgent string
	demoTitle string
	demoTool  bool
)

var demoCmd = &cobra.Command{
	Use:   "demo [message...]",
	Short: "Run one scripted turn through the engine",
	Long: `Drive a full turn end to end with a scripted agent: create a
session, send a message, optionally route it through the echo tool, and
print every event the engine publishes.

Examples:
  agentcore demo "hello there"
  agentcore demo --tool "bounce this off the echo tool"`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoUser, "user", "demo-user", "User ID for the session")
	demoCmd.Flags().StringVar(&demoAgent, "agent", "demo-agent", "Agent ID for the session")
	demoCmd.Flags().StringVar(&demoTitle, "title", "demo session", "Session title")
	demoCmd.Flags().BoolVar(&demoTool, "tool", false, "Route the message through the echo tool first")
}

func runDemo(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")
	if content == "" {
		content = "hello"
	}

	steps := []provider.Step{provider.Reply(fmt.Sprintf("you said: %s", content))}
	if demoTool {
		echoArgs, _ := json.Marshal(map[string]string{"text": content})
		steps = []provider.Step{
			provider.RequestTools(provider.ToolRequest{Name: "echo", Arguments: echoArgs}),
			provider.Reply(fmt.Sprintf("the echo tool returned your message: %s", content)),
		}
	}

	a, err := buildApp(cfg, provider.NewScripted(steps...))
	if err != nil {
		return err
	}
	defer a.Close()

	a.bus.SubscribeAll(func(ctx context.Context, e event.SessionEvent) error {
		fmt.Printf("event  %-20s %s\n", e.Type, eventSummary(e))
		return nil
	})

	ctx := cmd.Context()
	sess, err := a.svc.Create(ctx, demoUser, demoAgent, demoTitle, types.SessionConfig{})
	if err != nil {
		return err
	}
	fmt.Printf("session %s\n", sess.ID)

	res, err := a.svc.SendMessage(ctx, sess.ID, content, nil)
	if err != nil {
		return err
	}
	if res.Suspended {
		fmt.Println("turn suspended awaiting approval")
		return nil
	}
	fmt.Printf("assistant: %s\n", res.AssistantMessage.Content)

	if _, err := a.svc.End(ctx, sess.ID); err != nil {
		return err
	}
	return nil
}

func eventSummary(e event.SessionEvent) string {
	if len(e.Data) == 0 {
		return ""
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return ""
	}
	return string(b)
}
