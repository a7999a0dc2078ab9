package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/outdial/internal/dialogue"
	"github.com/haasonsaas/outdial/internal/prompts"
	"github.com/haasonsaas/outdial/internal/session"
)

// Registry holds the tools offered to the generator on each turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]dialogue.Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]dialogue.Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tool dialogue.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns the named tool.
func (r *Registry) Get(name string) (dialogue.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []dialogue.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]dialogue.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// executeTool resolves and runs one requested tool call. Failures come back
// as error results for the model rather than aborting the turn.
func (c *Controller) executeTool(ctx context.Context, call dialogue.ToolCall) dialogue.ToolResult {
	toolCtx, span := c.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	tool, ok := c.tools.Get(call.Name)
	if !ok {
		c.metrics.RecordToolInvocation(call.Name, "unknown")
		c.log.Warn(ctx, "model requested unknown tool", "tool", call.Name)
		return dialogue.ToolResult{ToolCallID: call.ID, Content: "tool not found: " + call.Name, IsError: true}
	}

	content, err := tool.Execute(toolCtx, call.Input)
	if err != nil {
		c.metrics.RecordToolInvocation(call.Name, "error")
		c.tracer.RecordError(span, err)
		c.log.Warn(ctx, "tool execution failed", "tool", call.Name, "error", err)
		return dialogue.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	c.metrics.RecordToolInvocation(call.Name, "success")
	return dialogue.ToolResult{ToolCallID: call.ID, Content: content}
}

type endCallArgs struct{}

type endCallTool struct {
	c *Controller
}

func (t *endCallTool) Name() string { return "end_call" }

func (t *endCallTool) Description() string {
	return "End the call politely. Use after you have said goodbye, when the conversation reached its natural conclusion or the callee asked to stop."
}

func (t *endCallTool) Schema() json.RawMessage { return dialogue.SchemaFor(endCallArgs{}) }

func (t *endCallTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	return t.c.executeEndCall(ctx)
}

// executeEndCall lets the closing line play out, holds the line briefly so
// the callee hears it, then tears the call down.
func (c *Controller) executeEndCall(ctx context.Context) (string, error) {
	if !c.sess.BeginHangup() {
		return "the call is already ending", nil
	}
	c.log.Info(ctx, "ending call")

	waitCtx, cancel := context.WithTimeout(ctx, playoutWait)
	if err := c.audio.WaitForPlayout(waitCtx, c.sess.Room()); err != nil {
		c.log.Debug(ctx, "playout wait ended early", "error", err)
	}
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(c.call.EndCallDelay):
	}

	if err := c.terminateOwned(ctx, session.EndReasonUserRequest); err != nil {
		return "", err
	}
	return "call ended", nil
}

type voicemailArgs struct{}

type voicemailTool struct {
	c *Controller
}

func (t *voicemailTool) Name() string { return "detected_answering_machine" }

func (t *voicemailTool) Description() string {
	return "Report that an answering machine or voicemail greeting answered instead of a person. The call hangs up immediately; do not leave a message."
}

func (t *voicemailTool) Schema() json.RawMessage { return dialogue.SchemaFor(voicemailArgs{}) }

func (t *voicemailTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	return t.c.executeVoicemail(ctx)
}

func (c *Controller) executeVoicemail(ctx context.Context) (string, error) {
	c.log.Info(ctx, "answering machine detected, hanging up")
	if err := c.Terminate(ctx, session.EndReasonVoicemail); err != nil {
		return "", err
	}
	return "voicemail detected, call ended", nil
}

type transferArgs struct {
	Reason string `json:"reason,omitempty" jsonschema:"description=Why the callee asked to be transferred"`
}

type transferTool struct {
	c *Controller
}

func (t *transferTool) Name() string { return "transfer_call" }

func (t *transferTool) Description() string {
	return "Transfer the callee to a human counselor. Use when the callee explicitly asks for a person or has questions you cannot answer."
}

func (t *transferTool) Schema() json.RawMessage { return dialogue.SchemaFor(transferArgs{}) }

func (t *transferTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args transferArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid transfer arguments: %w", err)
		}
	}
	return t.c.executeTransfer(ctx, args.Reason)
}

// executeTransfer hands the callee off via SIP REFER. Failure is spoken to
// the callee and ends the call; success leaves the session to terminate
// naturally when the callee's leg leaves the room.
func (c *Controller) executeTransfer(ctx context.Context, reason string) (string, error) {
	target := c.sess.TransferTarget()
	if target == "" {
		return "", fmt.Errorf("no transfer target is configured for this call")
	}
	c.log.Info(ctx, "transferring call", "target", target, "reason", reason)

	c.sayAndWait(ctx, prompts.TransferNotice)

	identity := c.sess.Snapshot().ParticipantID
	if identity == "" {
		identity = c.call.CalleeIdentity
	}
	if err := c.gateway.TransferSIPParticipant(ctx, c.sess.Room(), identity, "tel:"+target); err != nil {
		c.log.Error(ctx, "transfer failed", "target", target, "error", err)
		c.sayAndWait(ctx, prompts.TransferApology)
		_ = c.Terminate(ctx, session.EndReasonTransferFailed)
		return "", fmt.Errorf("transfer to %s failed: %w", target, err)
	}

	c.handedOff = true
	c.mon.Stop()
	c.log.Info(ctx, "call transferred", "target", target)
	return "transfer initiated, the callee is being connected to a counselor", nil
}
