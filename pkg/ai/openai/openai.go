package openai

import (
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 1024
	defaultTimeout    = 2 * time.Minute
)

// GraphOpenAIClient talks to any OpenAI compatible API. It keeps separate
// clients for chat (the extraction oracle) and embeddings (few-shot example
// retrieval).
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	extractionModel string
	embeddingDim    int

	chatURL string
	timeout time.Duration

	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// ExtractionModel is the chat model driven through the extraction loop.
// EmbeddingModel and EmbeddingDimensions configure event embeddings.
// MaxConcurrentRequests bounds in-flight requests across all sessions.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel      string
	ExtractionModel     string
	EmbeddingDimensions int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
	RequestTimeout        time.Duration
}

// NewGraphOpenAIClient creates a client from params. A client without a
// chat key can still embed, and vice versa; calling an unconfigured side
// fails with ai.ErrNoChatClient or ai.ErrNoEmbedClient.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
//	conv := client.StartConversation(tools)
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 1
	}
	dim := params.EmbeddingDimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	timeout := params.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		embeddingDim:    dim,

		chatURL: params.ChatURL,
		timeout: timeout,

		reqLock: semaphore.NewWeighted(maxReq),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
