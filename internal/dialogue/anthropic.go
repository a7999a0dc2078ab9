package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/outdial/internal/config"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicGenerator produces replies through the Anthropic messages API.
//
// The messages endpoint is consumed as a stream and accumulated into a whole
// reply: text deltas concatenate, and tool input arrives as partial JSON
// fragments that are only valid once the content block closes.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
	cfg    config.ProviderConfig
}

// NewAnthropicGenerator creates an Anthropic-backed generator.
func NewAnthropicGenerator(cfg config.ProviderConfig) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("dialogue: anthropic api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicGenerator{
		client: anthropic.NewClient(options...),
		model:  model,
		cfg:    cfg,
	}, nil
}

// Name returns "anthropic".
func (g *AnthropicGenerator) Name() string {
	return "anthropic"
}

// Generate sends one messages request and accumulates the stream into a
// full reply.
func (g *AnthropicGenerator) Generate(ctx context.Context, req *Request) (*Reply, error) {
	params, err := g.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := g.client.Messages.NewStreaming(ctx, params)

	var (
		reply     Reply
		text      strings.Builder
		toolCall  *ToolCall
		toolInput strings.Builder
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				reply.InputTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				toolCall = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if toolCall != nil {
				input := toolInput.String()
				if input == "" {
					// Tools without arguments stream no input delta at all.
					input = "{}"
				}
				toolCall.Input = json.RawMessage(input)
				reply.ToolCalls = append(reply.ToolCalls, *toolCall)
				toolCall = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				reply.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "error":
			return nil, errors.New("dialogue: anthropic: stream error")
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("dialogue: anthropic: %w", err)
	}

	reply.Text = text.String()
	return &reply, nil
}

func (g *AnthropicGenerator) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = g.cfg.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(float64(temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertAnthropicMessages maps conversation history to the Anthropic format.
// System turns are skipped here since the API carries the system prompt
// separately, and tool results become content blocks on a user message.
func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("dialogue: invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("dialogue: invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("dialogue: invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())

		result = append(result, toolParam)
	}

	return result, nil
}
