package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/session"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// deployTool stands in for a privileged tool that always needs a human
// decision.
type deployTool struct{}

func (deployTool) Name() string           { return "deploy" }
func (deployTool) Description() string    { return "Deploys a release." }
func (deployTool) RequiresApproval() bool { return true }
func (deployTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"release":"v1.2.3","status":"deployed"}`), nil
}

var _ = Describe("Conversation turns", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("persists a full turn and publishes lifecycle events", func() {
		eng := startEngine(GinkgoT().TempDir(), provider.NewScripted(provider.Reply("hello to you")), nil)
		defer eng.stop()
		rec := eng.record()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "greeting", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Status).To(Equal(types.SessionCreated))

		res, err := eng.svc.SendMessage(ctx, sess.ID, "hello", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AssistantMessage.Content).To(Equal("hello to you"))

		msgs, err := eng.svc.Messages(ctx, sess.ID, 0, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Role).To(Equal(types.RoleUser))
		Expect(msgs[1].Role).To(Equal(types.RoleAssistant))

		Expect(rec.count(event.SessionCreated)).To(Equal(1))
		Expect(rec.count(event.SessionActivated)).To(Equal(1))
		Expect(rec.count(event.MessageSent)).To(Equal(1))
		Expect(rec.count(event.MessageReceived)).To(Equal(1))
	})

	It("routes tool requests through execution and feeds results back", func() {
		p := provider.NewScripted(
			provider.RequestTools(provider.ToolRequest{Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)}),
			provider.Reply("echo came back"),
		)
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()
		rec := eng.record()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())

		res, err := eng.svc.SendMessage(ctx, sess.ID, "use echo", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AssistantMessage.Content).To(Equal("echo came back"))
		Expect(p.Calls()).To(Equal(2))

		Expect(rec.count(event.ToolCallStarted)).To(Equal(1))
		Expect(rec.count(event.ToolCallCompleted)).To(Equal(1))

		msgs, err := eng.svc.Messages(ctx, sess.ID, 0, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(3))
		Expect(msgs[1].Role).To(Equal(types.RoleTool))
	})

	It("survives a restart of the storage backend", func() {
		dir := GinkgoT().TempDir()
		eng := startEngine(dir, provider.NewScripted(provider.Reply("first reply")), nil)

		sess, err := eng.svc.Create(ctx, "alice", "helper", "durable", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.svc.SendMessage(ctx, sess.ID, "hello", nil)
		Expect(err).NotTo(HaveOccurred())
		eng.stop()

		// Same directory, fresh process state.
		eng2 := startEngine(dir, provider.NewScripted(provider.Reply("second reply")), nil)
		defer eng2.stop()

		got, err := eng2.svc.Get(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Title).To(Equal("durable"))

		res, err := eng2.svc.SendMessage(ctx, sess.ID, "still there?", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AssistantMessage.Content).To(Equal("second reply"))

		msgs, err := eng2.svc.Messages(ctx, sess.ID, 0, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(4))
	})
})

var _ = Describe("Approval workflow", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("suspends for approval, replays on reconnect, and completes after approve", func() {
		p := provider.NewScripted(
			provider.RequestTools(provider.ToolRequest{Name: "deploy", Arguments: json.RawMessage(`{"release":"v1.2.3"}`)}),
			provider.Reply("release is out"),
		)
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())

		res, err := eng.svc.SendMessage(ctx, sess.ID, "ship it", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Suspended).To(BeTrue())
		Expect(res.PendingToolCalls).To(HaveLen(1))
		callID := res.PendingToolCalls[0].ID

		got, err := eng.svc.Get(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(types.SessionSuspended))

		// A client reconnecting now sees the pending decision.
		state, err := eng.svc.Reconnect(ctx, sess.ID, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.PendingState).NotTo(BeNil())
		Expect(state.PendingState.Type).To(Equal(types.CheckpointApprovalPending))

		requested := false
		for _, e := range state.Events {
			if e.Type == event.ToolCallRequested {
				requested = true
			}
		}
		Expect(requested).To(BeTrue())

		rec := eng.record()
		_, err = eng.gate.Approve(ctx, callID, "bob")
		Expect(err).NotTo(HaveOccurred())

		res, err = eng.svc.ResumeToolCall(ctx, sess.ID, callID)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AssistantMessage.Content).To(Equal("release is out"))

		// The approval decision precedes execution on the bus.
		Expect(indexOf(rec.types, event.ToolCallApproved)).To(BeNumerically("<", indexOf(rec.types, event.ToolCallStarted)))
		Expect(indexOf(rec.types, event.ToolCallStarted)).To(BeNumerically("<", indexOf(rec.types, event.ToolCallCompleted)))

		call, err := eng.repo.GetToolCall(ctx, callID)
		Expect(err).NotTo(HaveOccurred())
		Expect(call.Status).To(Equal(types.ToolCallCompleted))
		Expect(call.ApprovedBy).To(Equal("bob"))
	})

	It("refuses a second decision on the same call", func() {
		p := provider.NewScripted(
			provider.RequestTools(provider.ToolRequest{Name: "deploy"}),
			provider.Reply("done"),
		)
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())
		res, err := eng.svc.SendMessage(ctx, sess.ID, "ship it", nil)
		Expect(err).NotTo(HaveOccurred())
		callID := res.PendingToolCalls[0].ID

		_, err = eng.gate.Approve(ctx, callID, "bob")
		Expect(err).NotTo(HaveOccurred())

		_, err = eng.gate.Reject(ctx, callID, "carol", "changed my mind")
		Expect(err).To(HaveOccurred())
		se, ok := types.AsSessionError(err)
		Expect(ok).To(BeTrue())
		Expect(se.Code).To(Equal(types.ErrApprovalAlreadyProcessed))

		call, err := eng.repo.GetToolCall(ctx, callID)
		Expect(err).NotTo(HaveOccurred())
		Expect(call.Status).To(Equal(types.ToolCallApproved))
		Expect(call.ApprovedBy).To(Equal("bob"))
	})

	It("lets the agent react to a rejection", func() {
		p := provider.NewScripted(
			provider.RequestTools(provider.ToolRequest{Name: "deploy"}),
			provider.Reply("understood, holding the release"),
		)
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())
		res, err := eng.svc.SendMessage(ctx, sess.ID, "ship it", nil)
		Expect(err).NotTo(HaveOccurred())
		callID := res.PendingToolCalls[0].ID

		res, err = eng.svc.RejectToolCall(ctx, sess.ID, callID, "bob", "not during the freeze")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AssistantMessage.Content).To(Equal("understood, holding the release"))

		call, err := eng.repo.GetToolCall(ctx, callID)
		Expect(err).NotTo(HaveOccurred())
		Expect(call.Status).To(Equal(types.ToolCallRejected))
	})
})

var _ = Describe("Failure handling", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("retries transient provider failures and then succeeds", func() {
		p := provider.NewScripted(
			provider.Fail(errors.New("503 service unavailable")),
			provider.Fail(errors.New("request timed out")),
			provider.Reply("recovered"),
		)
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())

		res, err := eng.svc.SendMessage(ctx, sess.ID, "hello", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AssistantMessage.Content).To(Equal("recovered"))
		Expect(p.Calls()).To(Equal(3))
	})

	It("gives up after max retries plus the initial attempt", func() {
		p := provider.NewScripted(provider.Fail(errors.New("connection refused")))
		eng := startEngine(GinkgoT().TempDir(), p, func(o *session.Options) {
			o.AgentRetry.MaxRetries = 2
		})
		defer eng.stop()
		rec := eng.record()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())

		_, err = eng.svc.SendMessage(ctx, sess.ID, "hello", nil)
		Expect(err).To(HaveOccurred())
		se, ok := types.AsSessionError(err)
		Expect(ok).To(BeTrue())
		Expect(se.Code).To(Equal(types.ErrAgentNotAvailable))
		Expect(p.Calls()).To(Equal(3))
		Expect(rec.count(event.ErrorOccurred)).To(Equal(1))
	})

	It("fails fast on non-recoverable provider errors", func() {
		p := provider.NewScripted(provider.Fail(errors.New("401 invalid api key")))
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())

		_, err = eng.svc.SendMessage(ctx, sess.ID, "hello", nil)
		Expect(err).To(HaveOccurred())
		se, _ := types.AsSessionError(err)
		Expect(se.Code).To(Equal(types.ErrAgentConfigError))
		Expect(se.Recoverable).To(BeFalse())
		Expect(p.Calls()).To(Equal(1))
	})
})

var _ = Describe("Expiry", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("sweeps expired sessions and rejects further turns with 410", func() {
		p := provider.NewScripted(provider.Reply("hi"))
		eng := startEngine(GinkgoT().TempDir(), p, nil)
		defer eng.stop()
		rec := eng.record()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{Timeout: 5 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.svc.Activate(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() (int, error) {
			return eng.svc.SweepExpired(ctx)
		}, time.Second, 10*time.Millisecond).Should(Equal(1))
		Expect(rec.count(event.SessionExpired)).To(Equal(1))

		_, err = eng.svc.SendMessage(ctx, sess.ID, "hello", nil)
		Expect(err).To(HaveOccurred())
		se, ok := types.AsSessionError(err)
		Expect(ok).To(BeTrue())
		Expect(se.Code).To(Equal(types.ErrSessionExpired))
		Expect(se.Code.HTTPStatus()).To(Equal(410))
	})
})

var _ = Describe("Reconnect replay", func() {
	It("replays only events after the client's last seen ID", func() {
		ctx := context.Background()
		eng := startEngine(GinkgoT().TempDir(), provider.NewScripted(provider.Reply("one"), provider.Reply("two")), nil)
		defer eng.stop()

		sess, err := eng.svc.Create(ctx, "alice", "helper", "", types.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.svc.SendMessage(ctx, sess.ID, "first", nil)
		Expect(err).NotTo(HaveOccurred())

		state, err := eng.svc.Reconnect(ctx, sess.ID, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Events).NotTo(BeEmpty())
		last := state.Events[len(state.Events)-1].ID

		_, err = eng.svc.SendMessage(ctx, sess.ID, "second", nil)
		Expect(err).NotTo(HaveOccurred())

		state, err = eng.svc.Reconnect(ctx, sess.ID, last)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Events).NotTo(BeEmpty())
		for _, e := range state.Events {
			Expect(e.ID).NotTo(Equal(last))
		}

		// An unknown cursor falls back to the full buffer.
		full, err := eng.svc.Reconnect(ctx, sess.ID, "no-such-event")
		Expect(err).NotTo(HaveOccurred())
		Expect(len(full.Events)).To(BeNumerically(">", len(state.Events)))
	})
})
