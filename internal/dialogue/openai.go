package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/outdial/internal/config"
)

// defaultOpenAIModel favors latency over depth: replies land in a live phone
// call where every second of dead air is audible.
const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator produces replies through the OpenAI chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	cfg    config.ProviderConfig
}

// NewOpenAIGenerator creates an OpenAI-backed generator.
func NewOpenAIGenerator(cfg config.ProviderConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("dialogue: openai api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		cfg:    cfg,
	}, nil
}

// Name returns "openai".
func (g *OpenAIGenerator) Name() string {
	return "openai"
}

// Generate sends one chat completion request and returns the full reply,
// including any tool calls the model requested.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *Request) (*Reply, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
	}
	if req.Model != "" {
		chatReq.Model = req.Model
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else if g.cfg.MaxTokens > 0 {
		chatReq.MaxTokens = g.cfg.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	} else if g.cfg.Temperature > 0 {
		chatReq.Temperature = g.cfg.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("dialogue: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("dialogue: openai: response has no choices")
	}

	choice := resp.Choices[0]
	reply := &Reply{
		Text:         choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return reply, nil
}

// convertOpenAIMessages maps conversation history to the OpenAI format. The
// system prompt is injected as the first message, and each tool result
// becomes its own role "tool" message.
func convertOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		result = append(result, oaiMsg)
	}

	return result
}

func convertOpenAITools(tools []Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			// A bad schema disables that one tool's parameters, not the call.
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
