// Package dialogue generates the agent's spoken replies.
//
// A Generator wraps one model vendor behind a uniform request/reply surface.
// Chain stacks generators so a failing primary falls back to the next vendor
// instead of leaving the callee hanging. Replies are returned whole, not
// streamed: the media bridge synthesizes complete utterances.
package dialogue

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of an executed tool call, fed back to the model
// on the next turn.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn of conversation history.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the spoken text of the turn. May be empty for tool-only
	// messages.
	Content string `json:"content,omitempty"`

	// ToolCalls carries tool invocations requested by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults carries outcomes of previously requested tool calls.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Tool is a capability the model may invoke mid-call.
type Tool interface {
	// Name returns the function name shown to the model.
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// Schema returns the JSON schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Input matches Schema. The returned string is
	// handed back to the model as the tool result.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Request carries everything one generation needs.
type Request struct {
	// Model overrides the generator's configured model when non-empty.
	Model string

	// System is the instruction prompt.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools the model may call this turn.
	Tools []Tool

	// MaxTokens caps the reply length. Zero uses the generator default.
	MaxTokens int

	// Temperature controls sampling. Zero uses the provider default.
	Temperature float32
}

// Reply is a complete model response.
type Reply struct {
	// Text is the utterance to speak. May be empty when the model only
	// requested tools.
	Text string

	// ToolCalls the model wants executed, in request order.
	ToolCalls []ToolCall

	InputTokens  int
	OutputTokens int
}

// Generator produces replies from one model vendor.
type Generator interface {
	// Generate sends one request and returns the full reply.
	Generate(ctx context.Context, req *Request) (*Reply, error)

	// Name returns the vendor identifier used in logs and metrics.
	Name() string
}

// SchemaFor reflects a JSON schema from a tool's argument struct. The schema
// is inlined rather than referenced so it can be sent to a model as-is.
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}
