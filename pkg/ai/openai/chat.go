package openai

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

type conversation struct {
	client  *GraphOpenAIClient
	options ai.GenerateOptions

	tools      []openai.ChatCompletionToolUnionParam
	msgs       []openai.ChatCompletionMessageParamUnion
	transcript []ai.ChatMessage
}

// StartConversation opens a tool-enabled chat with the extraction model.
// Tool calls are returned to the caller from Send; nothing is executed here.
//
// Example:
//
//	conv := client.StartConversation(tools, ai.WithSystemPrompts(prompt))
//	conv.AddUser("Event: 'sshd[42]: Failed password for alice'")
//	resp, err := conv.Send(ctx)
func (c *GraphOpenAIClient) StartConversation(tools []ai.Tool, opts ...ai.GenerateOption) ai.Conversation {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.2,
	}, opts...)

	cv := &conversation{
		client:  c,
		options: options,
		tools:   make([]openai.ChatCompletionToolUnionParam, len(tools)),
	}
	for i, tool := range tools {
		cv.tools[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  tool.Parameters,
		})
	}
	for _, sp := range options.SystemPrompts {
		cv.msgs = append(cv.msgs, openai.SystemMessage(sp))
		cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "system", Message: sp})
	}
	return cv
}

func (cv *conversation) AddUser(message string) {
	cv.msgs = append(cv.msgs, openai.UserMessage(message))
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "user", Message: message})
}

func (cv *conversation) AddAssistant(message string) {
	cv.msgs = append(cv.msgs, openai.AssistantMessage(message))
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "assistant", Message: message})
}

func (cv *conversation) AddToolResult(call ai.ToolCall, result string) {
	cv.msgs = append(cv.msgs, openai.ToolMessage(result, call.ID))
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "tool", Tool: call.Name, Message: result})
}

func (cv *conversation) Transcript() []ai.ChatMessage {
	out := make([]ai.ChatMessage, len(cv.transcript))
	copy(out, cv.transcript)
	return out
}

func (cv *conversation) Send(ctx context.Context) (*ai.Response, error) {
	c := cv.client
	if c.ChatClient == nil {
		return nil, ai.ErrNoChatClient
	}

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(cv.options.Model),
		Messages:    cv.msgs,
		Temperature: openai.Float(cv.options.Temperature),
	}
	if len(cv.tools) > 0 {
		body.Tools = cv.tools
	}

	if cv.options.Thinking != "" {
		// Needed fix for gpt-5 models as they dont support temperature other than 1.0 when reasoning is enabled
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(cv.options.Thinking)
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, ai.ClassifyStatus(apiErr.StatusCode, err)
		}
		return nil, ai.Classify(err)
	}
	duration := time.Since(start).Milliseconds()

	metrics := ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	}
	c.Record(metrics)

	if len(response.Choices) == 0 {
		return nil, ai.ErrNoChoices
	}

	message := response.Choices[0].Message
	cv.msgs = append(cv.msgs, message.ToParam())
	cv.transcript = append(cv.transcript, ai.ChatMessage{Role: "assistant", Message: message.Content})

	out := &ai.Response{
		Content: message.Content,
		Metrics: metrics,
	}
	for _, tc := range message.ToolCalls {
		ftc := tc.AsFunction()
		out.ToolCalls = append(out.ToolCalls, ai.ToolCall{
			ID:        ftc.ID,
			Name:      ftc.Function.Name,
			Arguments: ftc.Function.Arguments,
		})
	}
	return out, nil
}
