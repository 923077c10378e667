package ollama

import (
	"net/http"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 1024
	defaultTimeout    = 5 * time.Minute
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
// It supports tool-calling conversations and embeddings via locally-hosted models.
type GraphOllamaClient struct {
	embeddingModel  string
	extractionModel string
	embeddingDim    int
	timeout         time.Duration

	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel      string
	ExtractionModel     string
	EmbeddingDimensions int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	RequestTimeout        time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL, or the one named by
// OLLAMA_HOST when BaseURL is empty.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var cli *api.Client
	if params.BaseURL != "" {
		u, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}

		transport := http.DefaultTransport
		if params.ApiKey != "" {
			transport = &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.ApiKey,
				},
				rt: http.DefaultTransport,
			}
		}
		cli = api.NewClient(u, &http.Client{Transport: transport})
	} else {
		var err error
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

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

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		embeddingDim:    dim,
		timeout:         timeout,

		reqLock: semaphore.NewWeighted(maxReq),

		Client: cli,
	}, nil
}
