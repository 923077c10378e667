package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	baseContextTokens = 200
	minContextTokens  = 4096
)

type conversation struct {
	client  *GraphOllamaClient
	options ai.GenerateOptions

	tools      api.Tools
	msgs       []api.Message
	transcript []ai.ChatMessage
	calls      int
}

// StartConversation opens a tool-enabled chat with the extraction model.
// Tool calls are returned to the caller from Send; nothing is executed here.
func (c *GraphOllamaClient) StartConversation(tools []ai.Tool, opts ...ai.GenerateOption) ai.Conversation {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.2,
	}, opts...)

	cv := &conversation{
		client:  c,
		options: options,
		tools:   convertTools(tools),
	}
	for _, sys := range options.SystemPrompts {
		cv.msgs = append(cv.msgs, api.Message{Role: "system", Content: sys})
		cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "system", Message: sys})
	}
	return cv
}

// convertTools maps JSON Schema tool parameters onto Ollama's flat property
// model. Nested array and object schemas cannot be expressed there, so they
// are appended to the property description as JSON.
func convertTools(tools []ai.Tool) api.Tools {
	ollamaTools := make(api.Tools, len(tools))
	for i, tool := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Required:   []string{},
			Properties: api.NewToolPropertiesMap(),
		}

		if tool.Parameters != nil {
			if props, ok := tool.Parameters["properties"].(map[string]any); ok {
				for name, prop := range props {
					propMap, ok := prop.(map[string]any)
					if !ok {
						continue
					}
					tp := api.ToolProperty{}
					t, _ := propMap["type"].(string)
					if t != "" {
						tp.Type = api.PropertyType([]string{t})
					}
					if desc, ok := propMap["description"].(string); ok {
						tp.Description = desc
					}
					switch enum := propMap["enum"].(type) {
					case []any:
						tp.Enum = enum
					case []string:
						for _, e := range enum {
							tp.Enum = append(tp.Enum, e)
						}
					}
					if t == "array" || t == "object" {
						if nested, err := json.Marshal(propMap); err == nil {
							tp.Description = strings.TrimSpace(tp.Description + " JSON Schema: " + string(nested))
						}
					}
					params.Properties.Set(name, tp)
				}
			}
			if reqInterface, ok := tool.Parameters["required"].([]any); ok {
				params.Required = make([]string, 0, len(reqInterface))
				for _, v := range reqInterface {
					if s, ok := v.(string); ok {
						params.Required = append(params.Required, s)
					}
				}
			} else if req, ok := tool.Parameters["required"].([]string); ok {
				params.Required = slices.Clone(req)
			}
		}

		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return ollamaTools
}

func (cv *conversation) AddUser(message string) {
	cv.msgs = append(cv.msgs, api.Message{Role: "user", Content: message})
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "user", Message: message})
}

func (cv *conversation) AddAssistant(message string) {
	cv.msgs = append(cv.msgs, api.Message{Role: "assistant", Content: message})
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "assistant", Message: message})
}

func (cv *conversation) AddToolResult(call ai.ToolCall, result string) {
	cv.msgs = append(cv.msgs, api.Message{Role: "tool", Content: result})
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "tool", Tool: call.Name, Message: result})
}

func (cv *conversation) Transcript() []ai.ChatMessage {
	return slices.Clone(cv.transcript)
}

// contextTokens estimates the prompt size so num_ctx can be raised above
// Ollama's default window when the conversation grows.
func (cv *conversation) contextTokens() (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	var chatString strings.Builder
	for _, m := range cv.msgs {
		chatString.WriteString(m.Content)
	}
	return baseContextTokens + len(enc.Encode(chatString.String(), nil, nil)), nil
}

func (cv *conversation) Send(ctx context.Context) (*ai.Response, error) {
	c := cv.client

	stream := false
	req := &api.ChatRequest{
		Model:    cv.options.Model,
		Messages: cv.msgs,
		Tools:    cv.tools,
		Stream:   &stream,
		Options:  map[string]any{"temperature": cv.options.Temperature},
	}

	if cv.options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: cv.options.Thinking,
		}
	}

	tokens, err := cv.contextTokens()
	if err != nil {
		return nil, err
	}
	if tokens > minContextTokens {
		req.Options["num_ctx"] = tokens
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Role = cr.Message.Role
		final.Message.Content += cr.Message.Content
		final.Message.ToolCalls = append(final.Message.ToolCalls, cr.Message.ToolCalls...)
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var status api.StatusError
		if errors.As(err, &status) {
			return nil, ai.ClassifyStatus(status.StatusCode, err)
		}
		return nil, ai.Classify(err)
	}

	metrics := ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	}
	c.Record(metrics)

	if final.Message.Role == "" {
		final.Message.Role = "assistant"
	}
	cv.msgs = append(cv.msgs, final.Message)
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "assistant", Message: final.Message.Content})

	out := &ai.Response{
		Content: final.Message.Content,
		Metrics: metrics,
	}
	for _, tc := range final.Message.ToolCalls {
		argsBytes, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
		}
		cv.calls++
		out.ToolCalls = append(out.ToolCalls, ai.ToolCall{
			ID:        fmt.Sprintf("call_%d", cv.calls),
			Name:      tc.Function.Name,
			Arguments: string(argsBytes),
		})
	}
	return out, nil
}
