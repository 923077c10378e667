package ai

import (
	"context"
)

// ToolHandler is a function that executes a tool call and returns its result.
// The arguments parameter contains the JSON-encoded arguments from the AI model.
type ToolHandler func(ctx context.Context, arguments string) (string, error)

// Tool defines a function that can be called by an AI model during generation.
type Tool struct {
	Name        string         // Unique identifier for the tool
	Description string         // Human-readable description of what the tool does
	Parameters  map[string]any // JSON Schema defining the tool's input parameters
	Handler     ToolHandler    // Function to execute when the tool is called
	Execution   ToolExecution  // Whether the result goes back to the model or to the caller
}

// ToolCall represents a request from the AI model to invoke a specific tool.
type ToolCall struct {
	ID        string // Unique identifier for this tool call
	Name      string // Name of the tool to invoke
	Arguments string // JSON-encoded arguments for the tool
}

// ChatMessage represents a single message in a chat conversation.
//
// Role must be one of:
//   - "system"    → instructions for the model
//   - "user"      → a user-provided message
//   - "assistant" → a message from the AI assistant
//   - "tool"      → the result of a tool call
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
	Tool    string `json:"tool,omitempty"`
}

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add returns the sum of two metric sets. TokenPerSecond is recomputed.
func (m ModelMetrics) Add(o ModelMetrics) ModelMetrics {
	sum := ModelMetrics{
		InputTokens:  m.InputTokens + o.InputTokens,
		OutputTokens: m.OutputTokens + o.OutputTokens,
		TotalTokens:  m.TotalTokens + o.TotalTokens,
		DurationMs:   m.DurationMs + o.DurationMs,
	}
	if sum.DurationMs > 0 {
		sum.TokenPerSecond = float32(float64(sum.TotalTokens) * 1000.0 / float64(sum.DurationMs))
	}
	return sum
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		if model != "" {
			o.Model = model
		}
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
// The thinking parameter specifies the thinking budget or mode configuration.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// ApplyOptions resolves opts on top of defaults.
func ApplyOptions(defaults GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&defaults)
	}
	return defaults
}

// Response is one turn of the model: either tool calls, a final answer in
// Content, or (rarely) both.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Metrics   ModelMetrics
}

// HasToolCalls reports whether the model asked for at least one tool.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Conversation is a stateful, turn-based exchange with a model. The caller
// appends messages and decides what to do with every response; tool calls
// are never executed by the provider. A Conversation is not safe for
// concurrent use.
type Conversation interface {
	// AddUser appends a user message.
	AddUser(message string)
	// AddAssistant appends an assistant message, e.g. for few-shot examples.
	AddAssistant(message string)
	// AddToolResult answers a tool call from the last response.
	AddToolResult(call ToolCall, result string)
	// Send asks the model for its next turn. The response is appended to the
	// conversation before it is returned.
	Send(ctx context.Context) (*Response, error)
	// Transcript returns the provider-neutral history of the conversation.
	Transcript() []ChatMessage
}

// GraphAIClient defines the interface for AI operations used in graph extraction.
// Implementations must be safe for concurrent use; every conversation they
// start belongs to a single caller.
type GraphAIClient interface {
	StartConversation(tools []Tool, opts ...GenerateOption) Conversation
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}
